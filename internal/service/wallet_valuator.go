package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/coinfolio/internal/domain"
)

// WalletValuator marks a wallet's holdings to market using the price cache.
// Holdings without a cached tick are valued at zero.
type WalletValuator struct {
	wallets    domain.WalletStore
	holdings   domain.HoldingStore
	assets     domain.AssetStore
	currencies domain.CurrencyStore
	prices     domain.PriceCache
	logger     *slog.Logger
	now        func() time.Time
}

// NewWalletValuator creates a WalletValuator.
func NewWalletValuator(
	wallets domain.WalletStore,
	holdings domain.HoldingStore,
	assets domain.AssetStore,
	currencies domain.CurrencyStore,
	prices domain.PriceCache,
	logger *slog.Logger,
) *WalletValuator {
	return &WalletValuator{
		wallets:    wallets,
		holdings:   holdings,
		assets:     assets,
		currencies: currencies,
		prices:     prices,
		logger:     logger.With(slog.String("component", "wallet_valuator")),
		now:        time.Now,
	}
}

// Value computes the valuation of a wallet in its settlement currency. It
// returns an error wrapping domain.ErrNotFound when the wallet does not exist.
func (v *WalletValuator) Value(ctx context.Context, walletID string) (domain.WalletValuation, error) {
	wallet, err := v.wallets.GetByID(ctx, walletID)
	if err != nil {
		return domain.WalletValuation{}, fmt.Errorf("wallet_valuator: load wallet %s: %w", walletID, err)
	}
	currency, err := v.currencies.GetByID(ctx, wallet.CurrencyID)
	if err != nil {
		return domain.WalletValuation{}, fmt.Errorf("wallet_valuator: load currency %s of wallet %s: %w", wallet.CurrencyID, walletID, err)
	}
	holdings, err := v.holdings.ListByWallet(ctx, walletID)
	if err != nil {
		return domain.WalletValuation{}, fmt.Errorf("wallet_valuator: load holdings %s: %w", walletID, err)
	}

	symbols, err := v.assetSymbols(ctx, holdings)
	if err != nil {
		return domain.WalletValuation{}, fmt.Errorf("wallet_valuator: load assets of wallet %s: %w", walletID, err)
	}

	pairs := make([]domain.PricePair, 0, len(holdings))
	pairByAsset := make(map[string]domain.PricePair, len(holdings))
	for _, h := range holdings {
		sym, ok := symbols[h.AssetID]
		if !ok {
			continue
		}
		pair, err := domain.NewPair(sym, currency.Code)
		if err != nil {
			v.logger.WarnContext(ctx, "holding cannot be priced",
				slog.String("holding_id", h.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		pairByAsset[h.AssetID] = pair
		pairs = append(pairs, pair)
	}
	ticks, err := v.prices.Get(ctx, pairs)
	if err != nil {
		return domain.WalletValuation{}, fmt.Errorf("wallet_valuator: load prices of wallet %s: %w", walletID, err)
	}

	val := domain.WalletValuation{
		WalletID:     wallet.ID,
		UserID:       wallet.UserID,
		Currency:     currency.Code,
		Holdings:     make([]domain.HoldingValuation, 0, len(holdings)),
		CurrentValue: decimal.Zero,
		InitialValue: decimal.Zero,
		ComputedAt:   v.now().UTC(),
	}
	for _, h := range holdings {
		hv := domain.HoldingValuation{
			HoldingID:    h.ID,
			AssetID:      h.AssetID,
			AssetSymbol:  symbols[h.AssetID],
			Qty:          h.Qty,
			Price:        decimal.Zero,
			CurrentValue: decimal.Zero,
			InitialValue: h.InitialValue,
		}
		if tick, ok := ticks[pairByAsset[h.AssetID]]; ok {
			hv.Price = tick.Value
			hv.Priced = true
			hv.CurrentValue = h.Qty.Mul(tick.Value)
		}
		hv.Delta = hv.CurrentValue.Sub(hv.InitialValue)
		hv.ChangePercent = domain.ChangePercent(hv.CurrentValue, hv.InitialValue)

		val.CurrentValue = val.CurrentValue.Add(hv.CurrentValue)
		val.InitialValue = val.InitialValue.Add(hv.InitialValue)
		val.Holdings = append(val.Holdings, hv)
	}
	val.Delta = val.CurrentValue.Sub(val.InitialValue)
	val.ChangePercent = domain.ChangePercent(val.CurrentValue, val.InitialValue)

	return val, nil
}

// Holdings returns an existing wallet with its holdings.
func (v *WalletValuator) Holdings(ctx context.Context, walletID string) (domain.Wallet, []domain.Holding, error) {
	wallet, err := v.wallets.GetByID(ctx, walletID)
	if err != nil {
		return domain.Wallet{}, nil, fmt.Errorf("wallet_valuator: load wallet %s: %w", walletID, err)
	}
	holdings, err := v.holdings.ListByWallet(ctx, walletID)
	if err != nil {
		return domain.Wallet{}, nil, fmt.Errorf("wallet_valuator: load holdings %s: %w", walletID, err)
	}
	return wallet, holdings, nil
}

func (v *WalletValuator) assetSymbols(ctx context.Context, holdings []domain.Holding) (map[string]string, error) {
	ids := make([]string, 0, len(holdings))
	for _, h := range holdings {
		ids = append(ids, h.AssetID)
	}
	assets, err := v.assets.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	symbols := make(map[string]string, len(assets))
	for _, a := range assets {
		symbols[a.ID] = a.Symbol
	}
	for _, id := range ids {
		if _, ok := symbols[id]; !ok {
			v.logger.WarnContext(ctx, "holding references unknown asset", slog.String("asset_id", id))
		}
	}
	return symbols, nil
}
