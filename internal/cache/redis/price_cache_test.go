package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coinfolio/internal/domain"
)

// tick keeps the zero pair for unparsable input so invalid ticks can be built.
func tick(pair string, ts time.Time, value string) domain.PriceTick {
	p, _ := domain.ParsePair(pair)
	return domain.PriceTick{
		Pair:      p,
		Timestamp: ts,
		Value:     decimal.RequireFromString(value),
	}
}

func mustPair(t *testing.T, s string) domain.PricePair {
	t.Helper()
	p, err := domain.ParsePair(s)
	require.NoError(t, err)
	return p
}

func TestPriceCache_StoreAndGet(t *testing.T) {
	c, _ := newTestClient(t)
	pc := NewPriceCache(c, discardLogger())
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	n, err := pc.Store(ctx, []domain.PriceTick{
		tick("BTC/USD", t0, "65000.5"),
		tick("eth/usd", t0, "3200"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := pc.Get(ctx, []domain.PricePair{
		mustPair(t, "  btc / USD "),
		mustPair(t, "sol/usd"),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)

	btc := got[mustPair(t, "btc/usd")]
	assert.True(t, btc.Value.Equal(decimal.RequireFromString("65000.5")))
	assert.True(t, btc.Timestamp.Equal(t0))
}

func TestPriceCache_FreshnessMonotonic(t *testing.T) {
	c, _ := newTestClient(t)
	pc := NewPriceCache(c, discardLogger())
	ctx := context.Background()
	pair := mustPair(t, "btc/usd")
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := pc.Store(ctx, []domain.PriceTick{tick("btc/usd", t0.Add(time.Minute), "200")})
	require.NoError(t, err)

	n, err := pc.Store(ctx, []domain.PriceTick{tick("btc/usd", t0, "100")})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "older tick must be dropped")

	got, err := pc.Get(ctx, []domain.PricePair{pair})
	require.NoError(t, err)
	assert.True(t, got[pair].Value.Equal(decimal.NewFromInt(200)))

	n, err = pc.Store(ctx, []domain.PriceTick{tick("btc/usd", t0.Add(time.Minute), "210")})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "equal timestamp overwrites")

	got, err = pc.Get(ctx, []domain.PricePair{pair})
	require.NoError(t, err)
	assert.True(t, got[pair].Value.Equal(decimal.NewFromInt(210)))
}

func TestPriceCache_ConcurrentWritersKeepNewest(t *testing.T) {
	c, _ := newTestClient(t)
	pc := NewPriceCache(c, discardLogger())
	ctx := context.Background()
	pair := mustPair(t, "btc/usd")
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ts := t0.Add(time.Duration(i) * time.Second)
			_, err := pc.Store(ctx, []domain.PriceTick{tick("btc/usd", ts, decimal.NewFromInt(int64(i)).String())})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := pc.Get(ctx, []domain.PricePair{pair})
	require.NoError(t, err)
	assert.True(t, got[pair].Value.Equal(decimal.NewFromInt(19)))
	assert.True(t, got[pair].Timestamp.Equal(t0.Add(19*time.Second)))
}

func TestPriceCache_SkipsInvalidPairs(t *testing.T) {
	c, mr := newTestClient(t)
	pc := NewPriceCache(c, discardLogger())
	ctx := context.Background()

	n, err := pc.Store(ctx, []domain.PriceTick{tick("BTCUSD", time.Now(), "1")})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, mr.Keys())

	got, err := pc.Get(ctx, []domain.PricePair{{}})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPriceCache_RejectsUnusableTimestamps(t *testing.T) {
	c, mr := newTestClient(t)
	pc := NewPriceCache(c, discardLogger())
	ctx := context.Background()
	pair := mustPair(t, "btc/usd")
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	n, err := pc.Store(ctx, []domain.PriceTick{
		tick("btc/usd", time.Time{}, "1"),
		tick("eth/usd", time.Date(5000, 1, 1, 0, 0, 0, 0, time.UTC), "1"),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, mr.Keys())

	_, err = pc.Store(ctx, []domain.PriceTick{tick("btc/usd", t0, "100")})
	require.NoError(t, err)
	n, err = pc.Store(ctx, []domain.PriceTick{tick("btc/usd", time.Time{}, "1")})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := pc.Get(ctx, []domain.PricePair{pair})
	require.NoError(t, err)
	assert.True(t, got[pair].Value.Equal(decimal.NewFromInt(100)))
}

func TestLatestPerPair(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := latestPerPair([]domain.PriceTick{
		tick("btc/usd", t0.Add(time.Second), "2"),
		tick("btc/usd", t0, "1"),
		tick("eth/usd", t0, "3"),
		tick("btc/usd", t0.Add(time.Second), "4"),
	})

	require.Len(t, out, 2)
	assert.True(t, out[0].Value.Equal(decimal.NewFromInt(4)))
	assert.True(t, out[1].Value.Equal(decimal.NewFromInt(3)))
}
