// Package feed consumes durable event streams and dispatches each message to
// a handler with at-least-once semantics.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/coinfolio/internal/domain"
)

// Handler processes one stream message. Returning nil acknowledges the
// message, an error wrapping domain.ErrMalformedInput dead-letters it, and
// any other error leaves it pending for redelivery.
type Handler func(ctx context.Context, msg domain.StreamMessage) error

// Decode adapts a typed handler to a Handler by decoding the JSON payload.
// Undecodable payloads are reported as malformed input.
func Decode[T any](fn func(context.Context, T) error) Handler {
	return func(ctx context.Context, msg domain.StreamMessage) error {
		if len(msg.Payload) == 0 {
			return fmt.Errorf("%w: empty payload on %s/%s", domain.ErrMalformedInput, msg.Stream, msg.ID)
		}
		var v T
		if err := json.Unmarshal(msg.Payload, &v); err != nil {
			return fmt.Errorf("%w: decode %s/%s: %v", domain.ErrMalformedInput, msg.Stream, msg.ID, err)
		}
		return fn(ctx, v)
	}
}

// Bus is the subset of domain.SignalBus a Consumer needs.
type Bus interface {
	domain.StreamWriter
	domain.StreamGroupReader
}

// ConsumerConfig controls consumer-group reads.
type ConsumerConfig struct {
	Group         string
	Name          string
	BatchSize     int
	Block         time.Duration
	ClaimIdle     time.Duration
	MaxDeliveries int64
	Workers       int
}

// Consumer reads streams through a consumer group. Messages in a batch are
// handled concurrently, bounded by Workers. Messages left pending by a
// crashed consumer are reclaimed after ClaimIdle.
type Consumer struct {
	bus    Bus
	traces domain.EventTraceStore
	alerts domain.Alerter
	cfg    ConsumerConfig
	logger *slog.Logger
}

// NewConsumer creates a Consumer. traces and alerts may be nil.
func NewConsumer(bus Bus, traces domain.EventTraceStore, alerts domain.Alerter, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	return &Consumer{
		bus:    bus,
		traces: traces,
		alerts: alerts,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "feed_consumer")),
	}
}

// Run consumes stream until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, stream string, h Handler) error {
	if err := c.bus.EnsureGroup(ctx, stream, c.cfg.Group); err != nil {
		return err
	}
	logger := c.logger.With(slog.String("stream", stream))
	logger.Info("consumer started", slog.String("group", c.cfg.Group), slog.String("name", c.cfg.Name))
	defer logger.Info("consumer stopped")

	var lastClaim time.Time
	for {
		if ctx.Err() != nil {
			return nil
		}

		if c.cfg.ClaimIdle > 0 && time.Since(lastClaim) >= c.cfg.ClaimIdle {
			lastClaim = time.Now()
			stale, err := c.bus.ClaimStale(ctx, stream, c.cfg.Group, c.cfg.Name, c.cfg.ClaimIdle, c.cfg.BatchSize)
			if err != nil {
				logger.WarnContext(ctx, "claim stale messages failed", slog.String("error", err.Error()))
			} else if len(stale) > 0 {
				logger.InfoContext(ctx, "reclaimed stale messages", slog.Int("count", len(stale)))
				c.process(ctx, h, stale)
			}
		}

		msgs, err := c.bus.ReadGroup(ctx, stream, c.cfg.Group, c.cfg.Name, c.cfg.BatchSize, c.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.WarnContext(ctx, "read group failed", slog.String("error", err.Error()))
			if !sleepCtx(ctx, time.Second) {
				return nil
			}
			continue
		}
		c.process(ctx, h, msgs)
	}
}

func (c *Consumer) process(ctx context.Context, h Handler, msgs []domain.StreamMessage) {
	if len(msgs) == 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for _, m := range msgs {
		g.Go(func() error {
			c.handle(gctx, h, m)
			return nil
		})
	}
	_ = g.Wait()
}

// handle runs one message through tracing, the handler, and acknowledgement.
func (c *Consumer) handle(ctx context.Context, h Handler, m domain.StreamMessage) {
	logger := c.logger.With(slog.String("stream", m.Stream), slog.String("message_id", m.ID))

	if c.cfg.MaxDeliveries > 0 && m.Deliveries > c.cfg.MaxDeliveries {
		c.deadLetter(ctx, m, fmt.Sprintf("exceeded %d deliveries", c.cfg.MaxDeliveries))
		return
	}

	if c.traces != nil {
		trace := domain.EventTrace{MessageID: m.ID, Stream: m.Stream, Payload: m.Payload}
		if err := c.traces.Record(ctx, trace); err != nil {
			logger.WarnContext(ctx, "event trace failed, leaving message pending", slog.String("error", err.Error()))
			return
		}
	}

	err := h(ctx, m)
	switch {
	case err == nil:
		if ackErr := c.bus.Ack(ctx, m.Stream, c.cfg.Group, m.ID); ackErr != nil {
			logger.WarnContext(ctx, "ack failed", slog.String("error", ackErr.Error()))
		}
	case errors.Is(err, domain.ErrMalformedInput):
		c.deadLetter(ctx, m, err.Error())
	case ctx.Err() != nil:
		logger.DebugContext(ctx, "handler interrupted by shutdown")
	default:
		logger.WarnContext(ctx, "handler failed, message will be redelivered",
			slog.Int64("deliveries", m.Deliveries),
			slog.String("error", err.Error()),
		)
	}
}

type deadLetter struct {
	Stream     string          `json:"stream"`
	MessageID  string          `json:"message_id"`
	Reason     string          `json:"reason"`
	Deliveries int64           `json:"deliveries"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Raw        string          `json:"raw,omitempty"`
	FailedAt   time.Time       `json:"failed_at"`
}

func (c *Consumer) deadLetter(ctx context.Context, m domain.StreamMessage, reason string) {
	logger := c.logger.With(slog.String("stream", m.Stream), slog.String("message_id", m.ID))

	dl := deadLetter{
		Stream:     m.Stream,
		MessageID:  m.ID,
		Reason:     reason,
		Deliveries: m.Deliveries,
		FailedAt:   time.Now().UTC(),
	}
	if json.Valid(m.Payload) {
		dl.Payload = m.Payload
	} else {
		dl.Raw = string(m.Payload)
	}
	body, err := json.Marshal(dl)
	if err != nil {
		logger.ErrorContext(ctx, "marshal dead letter failed", slog.String("error", err.Error()))
		return
	}
	if _, err := c.bus.StreamAppend(ctx, domain.DeadLetterStream(m.Stream), body); err != nil {
		logger.ErrorContext(ctx, "dead letter append failed, leaving message pending", slog.String("error", err.Error()))
		return
	}
	if err := c.bus.Ack(ctx, m.Stream, c.cfg.Group, m.ID); err != nil {
		logger.WarnContext(ctx, "ack dead-lettered message failed", slog.String("error", err.Error()))
	}

	logger.ErrorContext(ctx, "message dead-lettered", slog.String("reason", reason))
	if c.alerts != nil {
		c.alerts.Alert(ctx, fmt.Sprintf("dead-lettered %s/%s: %s", m.Stream, m.ID, reason))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
