package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/coinfolio/internal/domain"
)

// HoldingStore implements domain.HoldingStore using PostgreSQL.
type HoldingStore struct {
	pool *pgxpool.Pool
}

// NewHoldingStore creates a new HoldingStore backed by the given connection pool.
func NewHoldingStore(pool *pgxpool.Pool) *HoldingStore {
	return &HoldingStore{pool: pool}
}

const holdingSelectCols = `id, wallet_id, asset_id, qty, initial_value, updated_at`

func scanHolding(row pgx.Row) (domain.Holding, error) {
	var h domain.Holding
	err := row.Scan(&h.ID, &h.WalletID, &h.AssetID, &h.Qty, &h.InitialValue, &h.UpdatedAt)
	return h, err
}

// Get returns the holding for key or domain.ErrNotFound.
func (s *HoldingStore) Get(ctx context.Context, key domain.HoldingKey) (domain.Holding, error) {
	h, err := scanHolding(s.pool.QueryRow(ctx,
		`SELECT `+holdingSelectCols+` FROM holdings WHERE wallet_id = $1 AND asset_id = $2`,
		key.WalletID, key.AssetID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Holding{}, domain.ErrNotFound
		}
		return domain.Holding{}, fmt.Errorf("postgres: get holding %s: %w", key, err)
	}
	return h, nil
}

// Upsert inserts the holding or overwrites the quantity and initial value of
// the existing row for the same (wallet, asset). The row id is kept.
func (s *HoldingStore) Upsert(ctx context.Context, h domain.Holding) error {
	const query = `
		INSERT INTO holdings (id, wallet_id, asset_id, qty, initial_value, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (wallet_id, asset_id) DO UPDATE SET
			qty           = EXCLUDED.qty,
			initial_value = EXCLUDED.initial_value,
			updated_at    = NOW()`
	_, err := s.pool.Exec(ctx, query,
		h.ID, h.WalletID, h.AssetID, h.Qty.String(), h.InitialValue.String())
	if err != nil {
		return fmt.Errorf("postgres: upsert holding %s:%s: %w", h.WalletID, h.AssetID, err)
	}
	return nil
}

// Delete removes the holding for key. Deleting a missing holding is a no-op.
func (s *HoldingStore) Delete(ctx context.Context, key domain.HoldingKey) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM holdings WHERE wallet_id = $1 AND asset_id = $2`,
		key.WalletID, key.AssetID)
	if err != nil {
		return fmt.Errorf("postgres: delete holding %s: %w", key, err)
	}
	return nil
}

// ListByWallet returns all holdings of a wallet.
func (s *HoldingStore) ListByWallet(ctx context.Context, walletID string) ([]domain.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+holdingSelectCols+` FROM holdings WHERE wallet_id = $1 ORDER BY asset_id`,
		walletID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list holdings %s: %w", walletID, err)
	}
	defer rows.Close()

	var holdings []domain.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan holding %s: %w", walletID, err)
		}
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list holdings %s rows: %w", walletID, err)
	}
	return holdings, nil
}

// Compile-time interface check.
var _ domain.HoldingStore = (*HoldingStore)(nil)
