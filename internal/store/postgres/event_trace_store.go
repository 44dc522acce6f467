package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/coinfolio/internal/domain"
)

// EventTraceStore implements domain.EventTraceStore using PostgreSQL.
type EventTraceStore struct {
	pool *pgxpool.Pool
}

// NewEventTraceStore creates a new EventTraceStore backed by the given connection pool.
func NewEventTraceStore(pool *pgxpool.Pool) *EventTraceStore {
	return &EventTraceStore{pool: pool}
}

// Record appends a trace. Payloads that are not valid JSON are stored as a
// JSON string.
func (s *EventTraceStore) Record(ctx context.Context, trace domain.EventTrace) error {
	payload := trace.Payload
	if !json.Valid(payload) {
		quoted, err := json.Marshal(string(payload))
		if err != nil {
			return fmt.Errorf("postgres: marshal trace payload %s: %w", trace.MessageID, err)
		}
		payload = quoted
	}

	const query = `INSERT INTO event_traces (message_id, stream, payload) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, trace.MessageID, trace.Stream, payload); err != nil {
		return fmt.Errorf("postgres: record trace %s/%s: %w", trace.Stream, trace.MessageID, err)
	}
	return nil
}

// ListBefore returns up to limit traces created before the cutoff, oldest
// first.
func (s *EventTraceStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.EventTrace, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, message_id, stream, payload, created_at FROM event_traces
		 WHERE created_at < $1 ORDER BY id LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list traces: %w", err)
	}

	traces, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.EventTrace, error) {
		var t domain.EventTrace
		err := row.Scan(&t.ID, &t.MessageID, &t.Stream, &t.Payload, &t.CreatedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan traces: %w", err)
	}
	return traces, nil
}

// DeleteArchived removes traces created before the cutoff whose id is at
// most maxID, and returns how many rows were deleted.
func (s *EventTraceStore) DeleteArchived(ctx context.Context, before time.Time, maxID int64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM event_traces WHERE created_at < $1 AND id <= $2`, before, maxID)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete traces: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.EventTraceStore = (*EventTraceStore)(nil)
