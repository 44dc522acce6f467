package domain

import (
	"context"
	"time"
)

// TransactionStore reads the ledger.
type TransactionStore interface {
	ListByHolding(ctx context.Context, key HoldingKey) ([]Transaction, error)
}

// HoldingStore persists derived holdings.
type HoldingStore interface {
	Get(ctx context.Context, key HoldingKey) (Holding, error)
	Upsert(ctx context.Context, h Holding) error
	Delete(ctx context.Context, key HoldingKey) error
	ListByWallet(ctx context.Context, walletID string) ([]Holding, error)
}

// WalletStore reads wallets.
type WalletStore interface {
	GetByID(ctx context.Context, id string) (Wallet, error)
	// ListAffected returns ids of wallets holding one of assetIDs or settling
	// in one of currencyIDs, ordered by id and strictly after afterID.
	ListAffected(ctx context.Context, assetIDs, currencyIDs []string, afterID string, limit int) ([]string, error)
}

// AssetStore reads asset reference data.
type AssetStore interface {
	ListByIDs(ctx context.Context, ids []string) ([]Asset, error)
	ListBySymbols(ctx context.Context, symbols []string) ([]Asset, error)
}

// CurrencyStore reads currency reference data.
type CurrencyStore interface {
	GetByID(ctx context.Context, id string) (Currency, error)
	ListByCodes(ctx context.Context, codes []string) ([]Currency, error)
}

// EventTraceStore keeps a copy of every inbound message.
type EventTraceStore interface {
	Record(ctx context.Context, trace EventTrace) error
	ListBefore(ctx context.Context, before time.Time, limit int) ([]EventTrace, error)
	DeleteArchived(ctx context.Context, before time.Time, maxID int64) (int64, error)
}
