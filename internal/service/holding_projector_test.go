package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coinfolio/internal/domain"
)

var btcKey = domain.HoldingKey{WalletID: "w1", AssetID: "btc"}

func buy(id string, qty, price int64) domain.Transaction {
	return domain.Transaction{
		ID: id, WalletID: "w1", AssetID: "btc",
		Date:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Kind:      domain.TransactionKindBuyOrSell,
		Qty:       decimal.NewFromInt(qty),
		BuyOrSell: &domain.BuyOrSell{Side: domain.TradeSideBuy, Price: decimal.NewFromInt(price), CurrencyID: "c-usd"},
	}
}

func sell(id string, qty, price int64) domain.Transaction {
	t := buy(id, qty, price)
	t.BuyOrSell.Side = domain.TradeSideSell
	return t
}

func transferTx(id string, dir domain.TransferDirection, qty int64) domain.Transaction {
	return domain.Transaction{
		ID: id, WalletID: "w1", AssetID: "btc",
		Kind:     domain.TransactionKindTransfer,
		Qty:      decimal.NewFromInt(qty),
		Transfer: &domain.Transfer{Direction: dir},
	}
}

func newTestProjector(ledger *memLedger, requests *streamRecorder) *HoldingProjector {
	return newTestProjectorWithPrices(ledger, requests, newMemPrices())
}

func newTestProjectorWithPrices(ledger *memLedger, requests *streamRecorder, prices *memPrices) *HoldingProjector {
	wallets := &mockWalletStore{}
	wallets.On("GetByID", mock.Anything, "w1").
		Return(domain.Wallet{ID: "w1", UserID: "u1", CurrencyID: "c-usd"}, nil).Maybe()
	refs := testRefData()
	return NewHoldingProjector(ledger, ledger, wallets, refs, prices, newKeyedLocks(), requests, time.Minute, discardLogger())
}

func buyIn(id string, qty, price int64, currencyID string) domain.Transaction {
	t := buy(id, qty, price)
	t.BuyOrSell.CurrencyID = currencyID
	return t
}

func TestHoldingProjector_SignConvention(t *testing.T) {
	ledger := newMemLedger()
	ledger.put(buy("t1", 2, 100))
	ledger.put(sell("t2", 1, 150))
	requests := newStreamRecorder()
	p := newTestProjector(ledger, requests)

	h, err := p.Recompute(context.Background(), btcKey, false)
	require.NoError(t, err)
	assert.True(t, h.Qty.Equal(decimal.NewFromInt(1)), "qty = %s", h.Qty)
	assert.True(t, h.InitialValue.Equal(decimal.NewFromInt(200)), "initial = %s", h.InitialValue)

	reqs := decodeAll[domain.ComputeWalletBalance](requests, domain.StreamComputeWalletBalance)
	require.Len(t, reqs, 1)
	assert.Equal(t, "w1", reqs[0].WalletID)
	assert.NotEmpty(t, reqs[0].RequestID)
}

func TestHoldingProjector_Transfers(t *testing.T) {
	ledger := newMemLedger()
	ledger.put(buy("t1", 1, 100))
	ledger.put(transferTx("t2", domain.TransferIn, 3))
	ledger.put(transferTx("t3", domain.TransferOut, 2))
	p := newTestProjector(ledger, newStreamRecorder())

	h, err := p.Recompute(context.Background(), btcKey, false)
	require.NoError(t, err)
	assert.True(t, h.Qty.Equal(decimal.NewFromInt(2)))
	assert.True(t, h.InitialValue.Equal(decimal.NewFromInt(100)))
}

func TestHoldingProjector_NegativeFlooredAtZero(t *testing.T) {
	ledger := newMemLedger()
	ledger.put(buy("t1", 1, 100))
	ledger.put(sell("t2", 3, 100))
	p := newTestProjector(ledger, newStreamRecorder())

	h, err := p.Recompute(context.Background(), btcKey, false)
	require.NoError(t, err)
	assert.True(t, h.Qty.IsZero())
	assert.True(t, h.InitialValue.IsZero())
}

func TestHoldingProjector_Idempotent(t *testing.T) {
	ledger := newMemLedger()
	ledger.put(buy("t1", 2, 100))
	ledger.put(sell("t2", 1, 150))
	p := newTestProjector(ledger, newStreamRecorder())
	ctx := context.Background()
	ev := domain.TransactionEvent{EventHeader: domain.EventHeader{ID: "e1"}, Transaction: buy("t1", 2, 100)}

	require.NoError(t, p.HandleTransactionCreated(ctx, ev))
	first, err := ledger.Get(ctx, btcKey)
	require.NoError(t, err)

	require.NoError(t, p.HandleTransactionCreated(ctx, ev))
	second, err := ledger.Get(ctx, btcKey)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.Qty.Equal(second.Qty))
	assert.True(t, first.InitialValue.Equal(second.InitialValue))
}

func TestHoldingProjector_Lifecycle(t *testing.T) {
	ledger := newMemLedger()
	p := newTestProjector(ledger, newStreamRecorder())
	ctx := context.Background()

	t1 := buy("t1", 2, 100)
	t2 := buy("t2", 1, 50)
	ledger.put(t1)
	require.NoError(t, p.HandleTransactionCreated(ctx, domain.TransactionEvent{Transaction: t1}))
	ledger.put(t2)
	require.NoError(t, p.HandleTransactionCreated(ctx, domain.TransactionEvent{Transaction: t2}))

	h, err := ledger.Get(ctx, btcKey)
	require.NoError(t, err)
	assert.True(t, h.Qty.Equal(decimal.NewFromInt(3)))

	ledger.remove("t1")
	require.NoError(t, p.HandleTransactionDeleted(ctx, domain.TransactionEvent{Transaction: t1}))
	h, err = ledger.Get(ctx, btcKey)
	require.NoError(t, err, "holding survives while a transaction remains")
	assert.True(t, h.Qty.Equal(decimal.NewFromInt(1)))
	assert.True(t, h.InitialValue.Equal(decimal.NewFromInt(50)))

	ledger.remove("t2")
	require.NoError(t, p.HandleTransactionDeleted(ctx, domain.TransactionEvent{Transaction: t2}))
	_, err = ledger.Get(ctx, btcKey)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHoldingProjector_EmptyLedgerWithoutDeleteWritesNothing(t *testing.T) {
	ledger := newMemLedger()
	requests := newStreamRecorder()
	p := newTestProjector(ledger, requests)

	h, err := p.Recompute(context.Background(), btcKey, false)
	require.NoError(t, err)
	assert.Equal(t, domain.Holding{}, h)
	assert.Empty(t, ledger.holdings)
	assert.Zero(t, requests.count(domain.StreamComputeWalletBalance))
}

func TestHoldingProjector_RejectsMalformedEvents(t *testing.T) {
	p := newTestProjector(newMemLedger(), newStreamRecorder())
	ctx := context.Background()

	bad := buy("t1", 0, 100)
	err := p.HandleTransactionCreated(ctx, domain.TransactionEvent{Transaction: bad})
	assert.ErrorIs(t, err, domain.ErrMalformedInput)

	moved := buy("t1", 1, 100)
	prev := moved
	prev.WalletID = "w2"
	err = p.HandleTransactionUpdated(ctx, domain.TransactionEvent{Transaction: moved, Previous: &prev})
	assert.ErrorIs(t, err, domain.ErrUnsupportedUpdate)
	assert.ErrorIs(t, err, domain.ErrMalformedInput)

	err = p.HandleTransactionDeleted(ctx, domain.TransactionEvent{Transaction: domain.Transaction{ID: "t9"}})
	assert.ErrorIs(t, err, domain.ErrMalformedInput)
}

func TestHoldingProjector_TransientRequestFailure(t *testing.T) {
	ledger := newMemLedger()
	ledger.put(buy("t1", 1, 100))
	requests := newStreamRecorder()
	requests.err = errors.New("connection reset")
	p := newTestProjector(ledger, requests)

	_, err := p.Recompute(context.Background(), btcKey, false)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrMalformedInput)
}

func TestHoldingProjector_ConcurrentRecomputesConverge(t *testing.T) {
	ledger := newMemLedger()
	for i, qty := range []int64{1, 2, 3, 4} {
		ledger.put(buy(string(rune('a'+i)), qty, 10))
	}
	p := newTestProjector(ledger, newStreamRecorder())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Recompute(ctx, btcKey, false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	h, err := ledger.Get(ctx, btcKey)
	require.NoError(t, err)
	assert.True(t, h.Qty.Equal(decimal.NewFromInt(10)))
	assert.True(t, h.InitialValue.Equal(decimal.NewFromInt(100)))
}

func TestHoldingProjector_ConvertsForeignCurrencyBuys(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		ticks []domain.PriceTick
		want  string
	}{
		{
			name:  "direct rate",
			ticks: []domain.PriceTick{{Pair: mustPair(t, "eur/usd"), Timestamp: ts, Value: decimal.RequireFromString("1.1")}},
			want:  "210",
		},
		{
			name:  "inverse rate",
			ticks: []domain.PriceTick{{Pair: mustPair(t, "usd/eur"), Timestamp: ts, Value: decimal.RequireFromString("0.5")}},
			want:  "300",
		},
		{
			name: "no rate excludes the foreign buy",
			want: "100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newMemLedger()
			ledger.put(buy("t1", 1, 100))
			ledger.put(buyIn("t2", 1, 100, "c-eur"))
			prices := newMemPrices()
			_, err := prices.Store(ctx, tt.ticks)
			require.NoError(t, err)
			p := newTestProjectorWithPrices(ledger, newStreamRecorder(), prices)

			h, err := p.Recompute(ctx, btcKey, false)
			require.NoError(t, err)
			assert.True(t, h.Qty.Equal(decimal.NewFromInt(2)), "qty = %s", h.Qty)
			assert.True(t, h.InitialValue.Equal(decimal.RequireFromString(tt.want)), "initial = %s", h.InitialValue)
		})
	}
}

func TestHoldingProjector_WalletLoadFailure(t *testing.T) {
	ledger := newMemLedger()
	ledger.put(buy("t1", 1, 100))
	wallets := &mockWalletStore{}
	wallets.On("GetByID", mock.Anything, "w1").Return(domain.Wallet{}, errors.New("connection reset"))
	p := NewHoldingProjector(ledger, ledger, wallets, testRefData(), newMemPrices(), newKeyedLocks(),
		newStreamRecorder(), time.Minute, discardLogger())

	_, err := p.Recompute(context.Background(), btcKey, false)
	require.Error(t, err)
	_, getErr := ledger.Get(context.Background(), btcKey)
	assert.ErrorIs(t, getErr, domain.ErrNotFound)
}
