package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coinfolio/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memLedger implements TransactionStore and HoldingStore in memory.
type memLedger struct {
	mu       sync.Mutex
	txs      map[string]domain.Transaction
	holdings map[domain.HoldingKey]domain.Holding
}

func newMemLedger() *memLedger {
	return &memLedger{
		txs:      make(map[string]domain.Transaction),
		holdings: make(map[domain.HoldingKey]domain.Holding),
	}
}

func (m *memLedger) put(t domain.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[t.ID] = t
}

func (m *memLedger) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.txs, id)
}

func (m *memLedger) ListByHolding(_ context.Context, key domain.HoldingKey) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transaction
	for _, t := range m.txs {
		if t.HoldingKey() == key {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memLedger) Get(_ context.Context, key domain.HoldingKey) (domain.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holdings[key]
	if !ok {
		return domain.Holding{}, domain.ErrNotFound
	}
	return h, nil
}

func (m *memLedger) Upsert(_ context.Context, h domain.Holding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := domain.HoldingKey{WalletID: h.WalletID, AssetID: h.AssetID}
	if cur, ok := m.holdings[key]; ok {
		h.ID = cur.ID
	}
	m.holdings[key] = h
	return nil
}

func (m *memLedger) Delete(_ context.Context, key domain.HoldingKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.holdings, key)
	return nil
}

func (m *memLedger) ListByWallet(_ context.Context, walletID string) ([]domain.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Holding
	for _, h := range m.holdings {
		if h.WalletID == walletID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}

// keyedLocks implements LockManager with in-process mutexes.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	var once sync.Once
	return func() { once.Do(l.Unlock) }, nil
}

// streamRecorder implements StreamWriter and keeps appended payloads.
type streamRecorder struct {
	mu      sync.Mutex
	entries map[string][][]byte
	err     error
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{entries: make(map[string][][]byte)}
}

func (s *streamRecorder) StreamAppend(_ context.Context, stream string, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.entries[stream] = append(s.entries[stream], payload)
	return "0-1", nil
}

func (s *streamRecorder) count(stream string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries[stream])
}

func decodeAll[T any](s *streamRecorder, stream string) []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, 0, len(s.entries[stream]))
	for _, p := range s.entries[stream] {
		var v T
		if err := json.Unmarshal(p, &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// memPrices implements PriceCache with the same compare-and-write rule as
// the Redis cache.
type memPrices struct {
	mu    sync.Mutex
	ticks map[domain.PricePair]domain.PriceTick
}

func newMemPrices() *memPrices {
	return &memPrices{ticks: make(map[domain.PricePair]domain.PriceTick)}
}

func (m *memPrices) Store(_ context.Context, ticks []domain.PriceTick) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range ticks {
		if t.Validate() != nil {
			continue
		}
		if cur, ok := m.ticks[t.Pair]; ok && cur.Timestamp.After(t.Timestamp) {
			continue
		}
		m.ticks[t.Pair] = t
		n++
	}
	return n, nil
}

func (m *memPrices) Get(_ context.Context, pairs []domain.PricePair) (map[domain.PricePair]domain.PriceTick, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.PricePair]domain.PriceTick)
	for _, p := range pairs {
		if t, ok := m.ticks[p]; ok {
			out[p] = t
		}
	}
	return out, nil
}

// refData implements AssetStore and CurrencyStore.
type refData struct {
	assets     []domain.Asset
	currencies []domain.Currency
}

func (r *refData) ListByIDs(_ context.Context, ids []string) ([]domain.Asset, error) {
	var out []domain.Asset
	for _, a := range r.assets {
		for _, id := range ids {
			if a.ID == id {
				out = append(out, a)
				break
			}
		}
	}
	return out, nil
}

func (r *refData) ListBySymbols(_ context.Context, symbols []string) ([]domain.Asset, error) {
	var out []domain.Asset
	for _, a := range r.assets {
		for _, s := range symbols {
			if strings.EqualFold(a.Symbol, strings.TrimSpace(s)) {
				out = append(out, a)
				break
			}
		}
	}
	return out, nil
}

func (r *refData) GetByID(_ context.Context, id string) (domain.Currency, error) {
	for _, c := range r.currencies {
		if c.ID == id {
			return c, nil
		}
	}
	return domain.Currency{}, domain.ErrNotFound
}

func (r *refData) ListByCodes(_ context.Context, codes []string) ([]domain.Currency, error) {
	var out []domain.Currency
	for _, c := range r.currencies {
		for _, code := range codes {
			if strings.EqualFold(c.Code, strings.TrimSpace(code)) {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

// mockWalletStore is a testify mock of domain.WalletStore.
type mockWalletStore struct {
	mock.Mock
}

func (m *mockWalletStore) GetByID(ctx context.Context, id string) (domain.Wallet, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Wallet), args.Error(1)
}

func (m *mockWalletStore) ListAffected(ctx context.Context, assetIDs, currencyIDs []string, afterID string, limit int) ([]string, error) {
	args := m.Called(ctx, assetIDs, currencyIDs, afterID, limit)
	return args.Get(0).([]string), args.Error(1)
}

// publishRecorder implements Publisher.
type publishRecorder struct {
	mu   sync.Mutex
	msgs []domain.Signal
}

func (p *publishRecorder) Publish(_ context.Context, channel string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, domain.Signal{Channel: channel, Payload: payload})
	return nil
}

func (p *publishRecorder) sent() []domain.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Signal(nil), p.msgs...)
}

func mustPair(t *testing.T, s string) domain.PricePair {
	t.Helper()
	p, err := domain.ParsePair(s)
	require.NoError(t, err)
	return p
}

// memGuard implements domain.DeliveryGuard in memory.
type memGuard struct {
	mu    sync.Mutex
	state map[string]string
}

func newMemGuard() *memGuard {
	return &memGuard{state: make(map[string]string)}
}

func (g *memGuard) Reserve(_ context.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state[id] {
	case "sent":
		return false, nil
	case "pending":
		return false, domain.ErrDeliveryInFlight
	}
	g.state[id] = "pending"
	return true, nil
}

func (g *memGuard) Confirm(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state[id] = "sent"
	return nil
}

func (g *memGuard) Release(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state[id] == "pending" {
		delete(g.state, id)
	}
	return nil
}
