package domain

import (
	"context"
	"time"
)

// PriceCache holds the latest tick per pair. Writes are per-pair
// compare-and-write: a tick replaces the cached one only when its timestamp
// is at least as new.
type PriceCache interface {
	// Store writes ticks and returns how many were applied. Stale and
	// invalid ticks are dropped without error.
	Store(ctx context.Context, ticks []PriceTick) (int, error)
	// Get returns the cached ticks for the given pairs; absent pairs are
	// omitted from the result.
	Get(ctx context.Context, pairs []PricePair) (map[PricePair]PriceTick, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// DeliveryGuard claims request ids so that each is delivered at most once
// across all consumers. Reserve returns false when id was already delivered
// and ErrDeliveryInFlight while another consumer holds it. A successful
// delivery is made permanent with Confirm; a failed one is handed back with
// Release.
type DeliveryGuard interface {
	Reserve(ctx context.Context, id string) (bool, error)
	Confirm(ctx context.Context, id string) error
	Release(ctx context.Context, id string) error
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID         string
	Stream     string
	Payload    []byte
	Deliveries int64
}

// Signal is a message received from a pub/sub channel.
type Signal struct {
	Channel string
	Payload []byte
}

// Publisher sends ephemeral messages to pub/sub channels.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Subscriber receives ephemeral messages from pub/sub channels. Channel may
// be a glob pattern.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan Signal, error)
}

// StreamWriter appends to durable streams.
type StreamWriter interface {
	StreamAppend(ctx context.Context, stream string, payload []byte) (string, error)
}

// StreamGroupReader consumes durable streams through consumer groups.
// Messages stay pending until acknowledged.
type StreamGroupReader interface {
	EnsureGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]StreamMessage, error)
	ClaimStale(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]StreamMessage, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publisher
	Subscriber
	StreamWriter
	StreamGroupReader
}
