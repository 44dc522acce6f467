package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/coinfolio/internal/domain"
)

// TransactionStore implements domain.TransactionStore using PostgreSQL.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a new TransactionStore backed by the given connection pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

const transactionSelectCols = `id, wallet_id, asset_id, kind, qty,
	side, price, currency_id, direction, source, target, note, date`

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var (
		t                           domain.Transaction
		kind                        string
		side, currencyID, direction *string
		price                       decimal.NullDecimal
		source, target              string
	)
	if err := row.Scan(
		&t.ID, &t.WalletID, &t.AssetID, &kind, &t.Qty,
		&side, &price, &currencyID, &direction, &source, &target, &t.Note, &t.Date,
	); err != nil {
		return domain.Transaction{}, err
	}

	t.Kind = domain.TransactionKind(kind)
	switch t.Kind {
	case domain.TransactionKindBuyOrSell:
		bs := &domain.BuyOrSell{Price: price.Decimal}
		if side != nil {
			bs.Side = domain.TradeSide(*side)
		}
		if currencyID != nil {
			bs.CurrencyID = *currencyID
		}
		t.BuyOrSell = bs
	case domain.TransactionKindTransfer:
		tr := &domain.Transfer{Source: source, Target: target}
		if direction != nil {
			tr.Direction = domain.TransferDirection(*direction)
		}
		t.Transfer = tr
	}
	return t, nil
}

// ListByHolding returns every transaction of one asset in one wallet, oldest
// first.
func (s *TransactionStore) ListByHolding(ctx context.Context, key domain.HoldingKey) ([]domain.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+transactionSelectCols+` FROM transactions
		 WHERE wallet_id = $1 AND asset_id = $2
		 ORDER BY date, id`,
		key.WalletID, key.AssetID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions %s: %w", key, err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan transaction %s: %w", key, err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list transactions %s rows: %w", key, err)
	}
	return txs, nil
}

// Compile-time interface check.
var _ domain.TransactionStore = (*TransactionStore)(nil)
