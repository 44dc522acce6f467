package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/coinfolio/internal/domain"
	"github.com/redis/go-redis/v9"
)

// payloadField is the stream entry field holding the message body.
const payloadField = "payload"

// SignalBus implements domain.SignalBus using Redis Pub/Sub for live pushes
// and Redis Streams with consumer groups for durable delivery.
type SignalBus struct {
	rdb    *redis.Client
	maxLen int64
}

// NewSignalBus creates a SignalBus backed by the given Client. Streams are
// trimmed to approximately maxLen entries; zero disables trimming.
func NewSignalBus(c *Client, maxLen int64) *SignalBus {
	return &SignalBus{rdb: c.Underlying(), maxLen: maxLen}
}

// Publish sends a raw byte payload to a Redis Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe creates a Pub/Sub subscription, using PSUBSCRIBE for glob
// patterns. The returned channel is closed when ctx is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan domain.Signal, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan domain.Signal, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- domain.Signal{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// StreamAppend appends a payload to a stream and returns the entry id.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) (string, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{payloadField: payload},
	}
	if sb.maxLen > 0 {
		args.MaxLen = sb.maxLen
		args.Approx = true
	}
	id, err := sb.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return id, nil
}

// EnsureGroup creates the consumer group, and the stream if needed. An
// existing group is not an error.
func (sb *SignalBus) EnsureGroup(ctx context.Context, stream, group string) error {
	err := sb.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redis: create group %s on %s: %w", group, stream, err)
	}
	return nil
}

// ReadGroup reads up to count new messages for consumer, blocking for at most
// block. It returns an empty slice when nothing arrived.
func (sb *SignalBus) ReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]domain.StreamMessage, error) {
	res, err := sb.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: read group %s on %s: %w", group, stream, err)
	}

	var out []domain.StreamMessage
	for _, s := range res {
		for _, msg := range s.Messages {
			out = append(out, toStreamMessage(s.Stream, msg, 1))
		}
	}
	return out, nil
}

// ClaimStale takes over messages that other consumers left pending for at
// least minIdle. Deliveries reports the delivery attempt the claim starts.
func (sb *SignalBus) ClaimStale(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]domain.StreamMessage, error) {
	pending, err := sb.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  int64(count),
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: pending %s on %s: %w", group, stream, err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(pending))
	retries := make(map[string]int64, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
		retries[p.ID] = p.RetryCount
	}

	claimed, err := sb.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: claim %s on %s: %w", group, stream, err)
	}

	out := make([]domain.StreamMessage, 0, len(claimed))
	for _, msg := range claimed {
		out = append(out, toStreamMessage(stream, msg, retries[msg.ID]+1))
	}
	return out, nil
}

// Ack acknowledges processed messages.
func (sb *SignalBus) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := sb.rdb.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("redis: ack %s on %s: %w", group, stream, err)
	}
	return nil
}

// toStreamMessage leaves Payload nil when the entry has no payload field so
// that consumers can reject it.
func toStreamMessage(stream string, msg redis.XMessage, deliveries int64) domain.StreamMessage {
	var data []byte
	switch v := msg.Values[payloadField].(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	}
	return domain.StreamMessage{
		ID:         msg.ID,
		Stream:     stream,
		Payload:    data,
		Deliveries: deliveries,
	}
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
