package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/coinfolio/internal/domain"
)

// AssetStore implements domain.AssetStore using PostgreSQL.
type AssetStore struct {
	pool *pgxpool.Pool
}

// NewAssetStore creates a new AssetStore backed by the given connection pool.
func NewAssetStore(pool *pgxpool.Pool) *AssetStore {
	return &AssetStore{pool: pool}
}

func (s *AssetStore) list(ctx context.Context, where string, arg []string) ([]domain.Asset, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, symbol, name FROM assets WHERE `+where, arg)
	if err != nil {
		return nil, fmt.Errorf("postgres: list assets: %w", err)
	}
	assets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Asset, error) {
		var a domain.Asset
		err := row.Scan(&a.ID, &a.Symbol, &a.Name)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan assets: %w", err)
	}
	return assets, nil
}

// ListByIDs returns the assets with the given ids. Unknown ids are skipped.
func (s *AssetStore) ListByIDs(ctx context.Context, ids []string) ([]domain.Asset, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.list(ctx, `id = ANY($1)`, ids)
}

// ListBySymbols matches symbols case-insensitively.
func (s *AssetStore) ListBySymbols(ctx context.Context, symbols []string) ([]domain.Asset, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	return s.list(ctx, `lower(symbol) = ANY($1)`, lowerAll(symbols))
}

// CurrencyStore implements domain.CurrencyStore using PostgreSQL.
type CurrencyStore struct {
	pool *pgxpool.Pool
}

// NewCurrencyStore creates a new CurrencyStore backed by the given connection pool.
func NewCurrencyStore(pool *pgxpool.Pool) *CurrencyStore {
	return &CurrencyStore{pool: pool}
}

// GetByID returns the currency or domain.ErrNotFound.
func (s *CurrencyStore) GetByID(ctx context.Context, id string) (domain.Currency, error) {
	var c domain.Currency
	err := s.pool.QueryRow(ctx, `SELECT id, code, name FROM currencies WHERE id = $1`, id).
		Scan(&c.ID, &c.Code, &c.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Currency{}, domain.ErrNotFound
		}
		return domain.Currency{}, fmt.Errorf("postgres: get currency %s: %w", id, err)
	}
	return c, nil
}

// ListByCodes matches codes case-insensitively.
func (s *CurrencyStore) ListByCodes(ctx context.Context, codes []string) ([]domain.Currency, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, code, name FROM currencies WHERE lower(code) = ANY($1)`, lowerAll(codes))
	if err != nil {
		return nil, fmt.Errorf("postgres: list currencies: %w", err)
	}
	currencies, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Currency, error) {
		var c domain.Currency
		err := row.Scan(&c.ID, &c.Code, &c.Name)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan currencies: %w", err)
	}
	return currencies, nil
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

// Compile-time interface checks.
var (
	_ domain.AssetStore    = (*AssetStore)(nil)
	_ domain.CurrencyStore = (*CurrencyStore)(nil)
)
