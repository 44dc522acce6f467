package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver moves old event traces from the database to cold storage.
type Archiver interface {
	ArchiveEventTraces(ctx context.Context, before time.Time) (int64, error)
}

// Alerter delivers operator notifications.
type Alerter interface {
	Alert(ctx context.Context, message string)
}
