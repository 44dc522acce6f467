package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/coinfolio/internal/domain"
)

const defaultPageSize = 5000

// TraceArchiver implements domain.Archiver for event traces. Each page of
// old traces is written to object storage as JSONL and only then removed from
// the primary store, so a failed upload never loses data.
type TraceArchiver struct {
	writer   domain.BlobWriter
	traces   domain.EventTraceStore
	pageSize int
	logger   *slog.Logger
	now      func() time.Time
}

// NewArchiver creates a TraceArchiver. pageSize <= 0 uses the default.
func NewArchiver(writer domain.BlobWriter, traces domain.EventTraceStore, pageSize int, logger *slog.Logger) *TraceArchiver {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &TraceArchiver{
		writer:   writer,
		traces:   traces,
		pageSize: pageSize,
		logger:   logger.With(slog.String("component", "trace_archiver")),
		now:      time.Now,
	}
}

// ArchiveEventTraces moves every trace created before the cutoff to object
// storage and returns how many were archived.
func (a *TraceArchiver) ArchiveEventTraces(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		page, err := a.traces.ListBefore(ctx, before, a.pageSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive traces query: %w", err)
		}
		if len(page) == 0 {
			return total, nil
		}

		buf, err := marshalJSONL(page)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive traces marshal: %w", err)
		}

		first, last := page[0].ID, page[len(page)-1].ID
		path := archivePath(a.now().UTC(), first)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: archive traces upload: %w", err)
		}

		deleted, err := a.traces.DeleteArchived(ctx, before, last)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive traces delete through %d: %w", last, err)
		}
		total += int64(len(page))

		a.logger.InfoContext(ctx, "archived trace page",
			slog.String("path", path),
			slog.Int("count", len(page)),
			slog.Int64("deleted", deleted),
		)

		if len(page) < a.pageSize {
			return total, nil
		}
	}
}

// archivePath builds the object key for one page of traces, partitioned by
// the day of the run.
//
//	event-traces/2026/01/31/1769817600-42.jsonl
func archivePath(at time.Time, firstID int64) string {
	return fmt.Sprintf("event-traces/%s/%d-%d.jsonl", at.Format("2006/01/02"), at.Unix(), firstID)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*TraceArchiver)(nil)
