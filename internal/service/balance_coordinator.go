package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/alanyoungcy/coinfolio/internal/domain"
)

// defaultBulkBatchSize is used when the configured page size is not positive.
const defaultBulkBatchSize = 500

// BalanceRecomputeCoordinator turns price updates into wallet recompute
// requests. Tick batches are stored in the price cache and answered with a
// single coalesced bulk request, and bulk requests fan out to one
// ComputeWalletBalance per affected wallet.
type BalanceRecomputeCoordinator struct {
	prices     domain.PriceCache
	assets     domain.AssetStore
	currencies domain.CurrencyStore
	wallets    domain.WalletStore
	requests   domain.StreamWriter
	batchSize  int
	logger     *slog.Logger
}

// NewBalanceRecomputeCoordinator creates a BalanceRecomputeCoordinator that
// pages affected wallets batchSize at a time.
func NewBalanceRecomputeCoordinator(
	prices domain.PriceCache,
	assets domain.AssetStore,
	currencies domain.CurrencyStore,
	wallets domain.WalletStore,
	requests domain.StreamWriter,
	batchSize int,
	logger *slog.Logger,
) *BalanceRecomputeCoordinator {
	if batchSize <= 0 {
		batchSize = defaultBulkBatchSize
	}
	return &BalanceRecomputeCoordinator{
		prices:     prices,
		assets:     assets,
		currencies: currencies,
		wallets:    wallets,
		requests:   requests,
		batchSize:  batchSize,
		logger:     logger.With(slog.String("component", "balance_coordinator")),
	}
}

// HandleAssetPriceTicks caches the ticks and requests recomputation of wallets
// holding the quoted assets or settling in the quote currencies.
func (c *BalanceRecomputeCoordinator) HandleAssetPriceTicks(ctx context.Context, ev domain.AssetPriceTicksUpserted) error {
	if len(ev.Ticks) == 0 {
		return nil
	}

	ticks := make([]domain.PriceTick, 0, len(ev.Ticks))
	symbols := make([]string, 0, len(ev.Ticks))
	codes := make([]string, 0, len(ev.Ticks))
	for _, t := range ev.Ticks {
		tick, err := t.PriceTick()
		if err != nil {
			c.skipTick(ctx, ev.ID, err)
			continue
		}
		ticks = append(ticks, tick)
		symbols = append(symbols, t.AssetSymbol)
		codes = append(codes, t.VsCurrencyCode)
	}
	if len(ticks) == 0 {
		return fmt.Errorf("balance_coordinator: event %s: %w: no valid ticks", ev.ID, domain.ErrMalformedInput)
	}
	if err := c.storeTicks(ctx, ev.ID, ticks); err != nil {
		return err
	}

	assets, err := c.assets.ListBySymbols(ctx, distinct(symbols))
	if err != nil {
		return fmt.Errorf("balance_coordinator: resolve assets: %w", err)
	}
	currencies, err := c.currencies.ListByCodes(ctx, distinct(codes))
	if err != nil {
		return fmt.Errorf("balance_coordinator: resolve currencies: %w", err)
	}

	assetIDs := make([]string, 0, len(assets))
	for _, a := range assets {
		assetIDs = append(assetIDs, a.ID)
	}
	return c.requestBulk(ctx, ev.ID, assetIDs, currencyIDs(currencies))
}

// HandleCurrencyPriceTicks caches the rates and requests recomputation of
// wallets settling in either currency of any quoted pair.
func (c *BalanceRecomputeCoordinator) HandleCurrencyPriceTicks(ctx context.Context, ev domain.CurrencyPriceTicksUpserted) error {
	if len(ev.Ticks) == 0 {
		return nil
	}

	ticks := make([]domain.PriceTick, 0, len(ev.Ticks))
	codes := make([]string, 0, 2*len(ev.Ticks))
	for _, t := range ev.Ticks {
		tick, err := t.PriceTick()
		if err != nil {
			c.skipTick(ctx, ev.ID, err)
			continue
		}
		ticks = append(ticks, tick)
		codes = append(codes, t.CurrencyCode, t.VsCurrencyCode)
	}
	if len(ticks) == 0 {
		return fmt.Errorf("balance_coordinator: event %s: %w: no valid ticks", ev.ID, domain.ErrMalformedInput)
	}
	if err := c.storeTicks(ctx, ev.ID, ticks); err != nil {
		return err
	}

	currencies, err := c.currencies.ListByCodes(ctx, distinct(codes))
	if err != nil {
		return fmt.Errorf("balance_coordinator: resolve currencies: %w", err)
	}
	return c.requestBulk(ctx, ev.ID, nil, currencyIDs(currencies))
}

// HandleBulkCompute emits one ComputeWalletBalance per affected wallet. The
// per-wallet request ids derive from the bulk request id so that a
// redelivered bulk request produces the same requests.
func (c *BalanceRecomputeCoordinator) HandleBulkCompute(ctx context.Context, req domain.BulkComputeWalletBalance) error {
	if len(req.AssetIDs) == 0 && len(req.CurrencyIDs) == 0 {
		return nil
	}

	total := 0
	after := ""
	for {
		ids, err := c.wallets.ListAffected(ctx, req.AssetIDs, req.CurrencyIDs, after, c.batchSize)
		if err != nil {
			return fmt.Errorf("balance_coordinator: list affected wallets after %q: %w", after, err)
		}
		for _, id := range ids {
			if err := c.requestWallet(ctx, req.RequestID, id); err != nil {
				return err
			}
		}
		total += len(ids)
		if len(ids) < c.batchSize {
			break
		}
		after = ids[len(ids)-1]
	}

	c.logger.InfoContext(ctx, "bulk balance request fanned out",
		slog.String("request_id", req.RequestID),
		slog.Int("assets", len(req.AssetIDs)),
		slog.Int("currencies", len(req.CurrencyIDs)),
		slog.Int("wallets", total),
	)
	return nil
}

func (c *BalanceRecomputeCoordinator) skipTick(ctx context.Context, eventID string, err error) {
	c.logger.WarnContext(ctx, "skipping malformed tick",
		slog.String("event_id", eventID),
		slog.String("error", err.Error()),
	)
}

func (c *BalanceRecomputeCoordinator) storeTicks(ctx context.Context, eventID string, ticks []domain.PriceTick) error {
	applied, err := c.prices.Store(ctx, ticks)
	if err != nil {
		return fmt.Errorf("balance_coordinator: store ticks: %w", err)
	}
	c.logger.DebugContext(ctx, "ticks cached",
		slog.String("event_id", eventID),
		slog.Int("received", len(ticks)),
		slog.Int("applied", applied),
	)
	return nil
}

func (c *BalanceRecomputeCoordinator) requestBulk(ctx context.Context, eventID string, assetIDs, currencyIDs []string) error {
	if len(assetIDs) == 0 && len(currencyIDs) == 0 {
		c.logger.DebugContext(ctx, "ticks reference no known assets or currencies",
			slog.String("event_id", eventID))
		return nil
	}

	requestID := eventID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	payload, err := json.Marshal(domain.BulkComputeWalletBalance{
		RequestID:   requestID,
		AssetIDs:    distinct(assetIDs),
		CurrencyIDs: distinct(currencyIDs),
	})
	if err != nil {
		return fmt.Errorf("balance_coordinator: marshal bulk request: %w", err)
	}
	if _, err := c.requests.StreamAppend(ctx, domain.StreamBulkComputeBalance, payload); err != nil {
		return fmt.Errorf("balance_coordinator: request bulk compute: %w", err)
	}
	return nil
}

func (c *BalanceRecomputeCoordinator) requestWallet(ctx context.Context, bulkID, walletID string) error {
	requestID := uuid.NewString()
	if bulkID != "" {
		requestID = bulkID + ":" + walletID
	}
	payload, err := json.Marshal(domain.ComputeWalletBalance{RequestID: requestID, WalletID: walletID})
	if err != nil {
		return fmt.Errorf("balance_coordinator: marshal balance request: %w", err)
	}
	if _, err := c.requests.StreamAppend(ctx, domain.StreamComputeWalletBalance, payload); err != nil {
		return fmt.Errorf("balance_coordinator: request balance %s: %w", walletID, err)
	}
	return nil
}

func currencyIDs(currencies []domain.Currency) []string {
	ids := make([]string, 0, len(currencies))
	for _, c := range currencies {
		ids = append(ids, c.ID)
	}
	return ids
}

// distinct returns the sorted unique non-empty values of in.
func distinct(in []string) []string {
	set := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := set[s]; ok {
			continue
		}
		set[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
