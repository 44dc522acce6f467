package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/coinfolio/internal/domain"
)

// WalletStore implements domain.WalletStore using PostgreSQL.
type WalletStore struct {
	pool *pgxpool.Pool
}

// NewWalletStore creates a new WalletStore backed by the given connection pool.
func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

// GetByID returns the wallet or domain.ErrNotFound.
func (s *WalletStore) GetByID(ctx context.Context, id string) (domain.Wallet, error) {
	var w domain.Wallet
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, name, currency_id, created_at FROM wallets WHERE id = $1`, id,
	).Scan(&w.ID, &w.UserID, &w.Name, &w.CurrencyID, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Wallet{}, domain.ErrNotFound
		}
		return domain.Wallet{}, fmt.Errorf("postgres: get wallet %s: %w", id, err)
	}
	return w, nil
}

// ListAffected pages through the ids of wallets that hold one of assetIDs or
// settle in one of currencyIDs.
func (s *WalletStore) ListAffected(ctx context.Context, assetIDs, currencyIDs []string, afterID string, limit int) ([]string, error) {
	const query = `
		SELECT id FROM (
			SELECT wallet_id AS id FROM holdings WHERE asset_id = ANY($1)
			UNION
			SELECT id FROM wallets WHERE currency_id = ANY($2)
		) affected
		WHERE id > $3
		ORDER BY id
		LIMIT $4`

	if assetIDs == nil {
		assetIDs = []string{}
	}
	if currencyIDs == nil {
		currencyIDs = []string{}
	}
	rows, err := s.pool.Query(ctx, query, assetIDs, currencyIDs, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list affected wallets: %w", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: collect affected wallets: %w", err)
	}
	return ids, nil
}

// Compile-time interface check.
var _ domain.WalletStore = (*WalletStore)(nil)
