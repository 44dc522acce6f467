package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/coinfolio/internal/domain"
)

// HoldingProjector rebuilds a holding from the complete ledger of its
// (wallet, asset) key. Recomputation never applies deltas, so replaying an
// event converges on the same holding. Cost basis is expressed in the
// wallet's currency.
type HoldingProjector struct {
	txs        domain.TransactionStore
	holdings   domain.HoldingStore
	wallets    domain.WalletStore
	currencies domain.CurrencyStore
	prices     domain.PriceCache
	locks      domain.LockManager
	requests domain.StreamWriter
	lockTTL  time.Duration
	logger   *slog.Logger
}

// NewHoldingProjector creates a HoldingProjector. lockTTL bounds how long a
// crashed recompute can block its key.
func NewHoldingProjector(
	txs domain.TransactionStore,
	holdings domain.HoldingStore,
	wallets domain.WalletStore,
	currencies domain.CurrencyStore,
	prices domain.PriceCache,
	locks domain.LockManager,
	requests domain.StreamWriter,
	lockTTL time.Duration,
	logger *slog.Logger,
) *HoldingProjector {
	return &HoldingProjector{
		txs:        txs,
		holdings:   holdings,
		wallets:    wallets,
		currencies: currencies,
		prices:     prices,
		locks:      locks,
		requests:   requests,
		lockTTL:    lockTTL,
		logger:     logger.With(slog.String("component", "holding_projector")),
	}
}

// HandleTransactionCreated recomputes the holding the new transaction belongs to.
func (p *HoldingProjector) HandleTransactionCreated(ctx context.Context, ev domain.TransactionEvent) error {
	if err := ev.Transaction.Validate(); err != nil {
		return err
	}
	_, err := p.Recompute(ctx, ev.Transaction.HoldingKey(), false)
	return err
}

// HandleTransactionUpdated recomputes the holding of the updated transaction.
// Updates that move the transaction to another wallet or asset are rejected.
func (p *HoldingProjector) HandleTransactionUpdated(ctx context.Context, ev domain.TransactionEvent) error {
	if err := ev.Transaction.Validate(); err != nil {
		return err
	}
	if ev.Previous != nil && ev.Previous.HoldingKey() != ev.Transaction.HoldingKey() {
		return fmt.Errorf("holding_projector: transaction %s from %s to %s: %w",
			ev.Transaction.ID, ev.Previous.HoldingKey(), ev.Transaction.HoldingKey(), domain.ErrUnsupportedUpdate)
	}
	_, err := p.Recompute(ctx, ev.Transaction.HoldingKey(), false)
	return err
}

// HandleTransactionDeleted recomputes the holding and removes it when no
// transactions remain.
func (p *HoldingProjector) HandleTransactionDeleted(ctx context.Context, ev domain.TransactionEvent) error {
	key := ev.Transaction.HoldingKey()
	if key.WalletID == "" || key.AssetID == "" {
		return fmt.Errorf("%w: deleted transaction %s missing wallet or asset", domain.ErrMalformedInput, ev.Transaction.ID)
	}
	_, err := p.Recompute(ctx, key, true)
	return err
}

// Recompute derives the holding for key from the ledger and persists it. When
// the ledger has no transactions for key and remove is set, the holding is
// deleted and (Holding{}, nil) is returned. Recomputes of the same key are
// serialized through the lock manager. A ComputeWalletBalance request for
// the wallet is emitted after every change.
func (p *HoldingProjector) Recompute(ctx context.Context, key domain.HoldingKey, remove bool) (domain.Holding, error) {
	unlock, err := p.locks.Acquire(ctx, "holding:"+key.String(), p.lockTTL)
	if err != nil {
		return domain.Holding{}, fmt.Errorf("holding_projector: lock %s: %w", key, err)
	}
	defer unlock()

	existing, err := p.holdings.Get(ctx, key)
	found := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Holding{}, fmt.Errorf("holding_projector: load holding %s: %w", key, err)
	}

	txs, err := p.txs.ListByHolding(ctx, key)
	if err != nil {
		return domain.Holding{}, fmt.Errorf("holding_projector: load ledger %s: %w", key, err)
	}

	if len(txs) == 0 {
		if !remove {
			p.logger.WarnContext(ctx, "no transactions for holding, nothing to project",
				slog.String("wallet_id", key.WalletID),
				slog.String("asset_id", key.AssetID),
			)
			return domain.Holding{}, nil
		}
		if found {
			if err := p.holdings.Delete(ctx, key); err != nil {
				return domain.Holding{}, fmt.Errorf("holding_projector: delete holding %s: %w", key, err)
			}
			p.logger.InfoContext(ctx, "holding removed",
				slog.String("wallet_id", key.WalletID),
				slog.String("asset_id", key.AssetID),
			)
		}
		return domain.Holding{}, p.requestBalance(ctx, key.WalletID)
	}

	rates, err := p.conversionRates(ctx, key.WalletID, txs)
	if err != nil {
		return domain.Holding{}, err
	}
	h := p.project(ctx, key, txs, rates)
	h.ID = existing.ID
	if !found {
		h.ID = uuid.NewString()
	}
	if err := p.holdings.Upsert(ctx, h); err != nil {
		return domain.Holding{}, fmt.Errorf("holding_projector: save holding %s: %w", key, err)
	}
	p.logger.DebugContext(ctx, "holding recomputed",
		slog.String("wallet_id", key.WalletID),
		slog.String("asset_id", key.AssetID),
		slog.String("qty", h.Qty.String()),
		slog.String("initial_value", h.InitialValue.String()),
		slog.Int("transactions", len(txs)),
	)
	return h, p.requestBalance(ctx, key.WalletID)
}

// project folds the ledger into a holding. A net short position is floored
// at zero, and a flat position carries no cost basis. Buys priced in another
// currency are converted with rates; a buy with no rate adds no cost.
func (p *HoldingProjector) project(ctx context.Context, key domain.HoldingKey, txs []domain.Transaction, rates conversion) domain.Holding {
	qty := decimal.Zero
	cost := decimal.Zero
	for _, t := range txs {
		if err := t.Validate(); err != nil {
			p.logger.WarnContext(ctx, "skipping invalid ledger entry",
				slog.String("transaction_id", t.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		qty = qty.Add(t.SignedQty())

		basis := t.CostBasis()
		if basis.IsZero() {
			continue
		}
		rate, ok := rates.rate(t.BuyOrSell.CurrencyID)
		if !ok {
			p.logger.WarnContext(ctx, "no conversion rate, buy excluded from cost basis",
				slog.String("transaction_id", t.ID),
				slog.String("currency_id", t.BuyOrSell.CurrencyID),
				slog.String("wallet_currency_id", rates.walletCurrencyID),
			)
			continue
		}
		cost = cost.Add(basis.Mul(rate))
	}

	if qty.IsNegative() {
		p.logger.WarnContext(ctx, "negative holding quantity floored at zero",
			slog.String("wallet_id", key.WalletID),
			slog.String("asset_id", key.AssetID),
			slog.String("qty", qty.String()),
		)
		qty = decimal.Zero
	}
	if qty.IsZero() {
		cost = decimal.Zero
	}

	return domain.Holding{
		WalletID:     key.WalletID,
		AssetID:      key.AssetID,
		Qty:          qty,
		InitialValue: cost,
	}
}

// conversion maps transaction currencies to the wallet's currency.
type conversion struct {
	walletCurrencyID string
	rates            map[string]decimal.Decimal
}

// rate returns the multiplier into the wallet currency. A buy without a
// currency is taken to be priced in the wallet currency.
func (c conversion) rate(currencyID string) (decimal.Decimal, bool) {
	if currencyID == "" || currencyID == c.walletCurrencyID {
		return decimal.NewFromInt(1), true
	}
	r, ok := c.rates[currencyID]
	return r, ok
}

// conversionRates resolves the latest cached rate from every foreign buy
// currency in txs to the wallet currency. The direct pair is preferred and
// the inverse pair is used when only that one is cached. Currencies with
// neither are left out.
func (p *HoldingProjector) conversionRates(ctx context.Context, walletID string, txs []domain.Transaction) (conversion, error) {
	wallet, err := p.wallets.GetByID(ctx, walletID)
	if err != nil {
		return conversion{}, fmt.Errorf("holding_projector: load wallet %s: %w", walletID, err)
	}
	conv := conversion{walletCurrencyID: wallet.CurrencyID, rates: make(map[string]decimal.Decimal)}

	var foreign []string
	seen := make(map[string]bool)
	for _, t := range txs {
		if t.BuyOrSell == nil || t.BuyOrSell.Side != domain.TradeSideBuy {
			continue
		}
		id := t.BuyOrSell.CurrencyID
		if id == "" || id == wallet.CurrencyID || seen[id] {
			continue
		}
		seen[id] = true
		foreign = append(foreign, id)
	}
	if len(foreign) == 0 {
		return conv, nil
	}

	walletCurrency, err := p.currencies.GetByID(ctx, wallet.CurrencyID)
	if err != nil {
		return conversion{}, fmt.Errorf("holding_projector: load currency %s of wallet %s: %w", wallet.CurrencyID, walletID, err)
	}

	type pairs struct{ direct, inverse domain.PricePair }
	wanted := make(map[string]pairs, len(foreign))
	lookup := make([]domain.PricePair, 0, 2*len(foreign))
	for _, id := range foreign {
		c, err := p.currencies.GetByID(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return conversion{}, fmt.Errorf("holding_projector: load currency %s: %w", id, err)
		}
		direct, err := domain.NewPair(c.Code, walletCurrency.Code)
		if err != nil {
			continue
		}
		inverse, _ := domain.NewPair(walletCurrency.Code, c.Code)
		wanted[id] = pairs{direct: direct, inverse: inverse}
		lookup = append(lookup, direct, inverse)
	}
	if len(lookup) == 0 {
		return conv, nil
	}

	ticks, err := p.prices.Get(ctx, lookup)
	if err != nil {
		return conversion{}, fmt.Errorf("holding_projector: load rates of wallet %s: %w", walletID, err)
	}
	for id, pp := range wanted {
		if t, ok := ticks[pp.direct]; ok && t.Value.IsPositive() {
			conv.rates[id] = t.Value
			continue
		}
		if t, ok := ticks[pp.inverse]; ok && t.Value.IsPositive() {
			conv.rates[id] = decimal.NewFromInt(1).DivRound(t.Value, 18)
		}
	}
	return conv, nil
}

func (p *HoldingProjector) requestBalance(ctx context.Context, walletID string) error {
	payload, err := json.Marshal(domain.ComputeWalletBalance{
		RequestID: uuid.NewString(),
		WalletID:  walletID,
	})
	if err != nil {
		return fmt.Errorf("holding_projector: marshal balance request: %w", err)
	}
	if _, err := p.requests.StreamAppend(ctx, domain.StreamComputeWalletBalance, payload); err != nil {
		return fmt.Errorf("holding_projector: request balance %s: %w", walletID, err)
	}
	return nil
}
