// Package notify delivers operator alerts to chat channels such as Telegram
// and Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/coinfolio/internal/domain"
)

// Sender is one alert channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to every sender. Identical messages are
// suppressed for the cooldown period so a poisoned stream cannot flood the
// channels.
type Notifier struct {
	senders  []Sender
	title    string
	cooldown time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewNotifier creates a Notifier. title prefixes every alert.
func NewNotifier(senders []Sender, title string, cooldown time.Duration, logger *slog.Logger) *Notifier {
	return &Notifier{
		senders:  senders,
		title:    title,
		cooldown: cooldown,
		logger:   logger.With(slog.String("component", "notifier")),
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Alert implements domain.Alerter. Delivery failures are logged.
func (n *Notifier) Alert(ctx context.Context, message string) {
	if len(n.senders) == 0 || n.suppressed(message) {
		return
	}
	if err := n.Send(ctx, message); err != nil {
		n.logger.WarnContext(ctx, "alert delivery failed", slog.String("error", err.Error()))
	}
}

// Send delivers message to every sender and joins their errors. A failing
// sender does not stop delivery to the others.
func (n *Notifier) Send(ctx context.Context, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, n.title, message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert sent", slog.String("sender", s.Name()))
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func (n *Notifier) suppressed(message string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if at, ok := n.last[message]; ok && now.Sub(at) < n.cooldown {
		return true
	}
	n.last[message] = now
	for m, at := range n.last {
		if now.Sub(at) >= n.cooldown {
			delete(n.last, m)
		}
	}
	return false
}

// Compile-time interface check.
var _ domain.Alerter = (*Notifier)(nil)
