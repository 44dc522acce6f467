package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/coinfolio/internal/domain"
)

// Valuer computes wallet valuations.
type Valuer interface {
	Value(ctx context.Context, walletID string) (domain.WalletValuation, error)
}

// BalanceChangeNotifier values a wallet on request and pushes the result to
// the wallet owner's live channel. Each request id is pushed at most once
// while the guard remembers it.
type BalanceChangeNotifier struct {
	valuer Valuer
	pub    domain.Publisher
	guard  domain.DeliveryGuard
	logger *slog.Logger
}

// NewBalanceChangeNotifier creates a BalanceChangeNotifier. guard may be nil
// to disable duplicate suppression.
func NewBalanceChangeNotifier(valuer Valuer, pub domain.Publisher, guard domain.DeliveryGuard, logger *slog.Logger) *BalanceChangeNotifier {
	return &BalanceChangeNotifier{
		valuer: valuer,
		pub:    pub,
		guard:  guard,
		logger: logger.With(slog.String("component", "balance_notifier")),
	}
}

// HandleComputeWalletBalance values the wallet and pushes WalletBalanceChanged
// to its owner. A wallet that no longer exists is logged and skipped. While
// another consumer is delivering the same request id, ErrDeliveryInFlight is
// returned and the request stays pending.
func (n *BalanceChangeNotifier) HandleComputeWalletBalance(ctx context.Context, req domain.ComputeWalletBalance) error {
	if req.WalletID == "" {
		return fmt.Errorf("%w: balance request %s has no wallet id", domain.ErrMalformedInput, req.RequestID)
	}

	guarded := n.guard != nil && req.RequestID != ""
	if guarded {
		ok, err := n.guard.Reserve(ctx, req.RequestID)
		if err != nil {
			return fmt.Errorf("balance_notifier: reserve %s: %w", req.RequestID, err)
		}
		if !ok {
			n.logger.DebugContext(ctx, "balance request already notified",
				slog.String("request_id", req.RequestID),
				slog.String("wallet_id", req.WalletID),
			)
			return nil
		}
	}

	val, pushed, err := n.push(ctx, req)
	if err != nil || !pushed {
		if guarded {
			n.release(ctx, req.RequestID)
		}
		return err
	}

	if guarded {
		if err := n.guard.Confirm(context.WithoutCancel(ctx), req.RequestID); err != nil {
			n.logger.WarnContext(ctx, "failed to confirm delivery",
				slog.String("request_id", req.RequestID),
				slog.String("error", err.Error()),
			)
		}
	}
	n.logger.DebugContext(ctx, "wallet balance pushed",
		slog.String("request_id", req.RequestID),
		slog.String("wallet_id", val.WalletID),
		slog.String("user_id", val.UserID),
		slog.String("current_value", val.CurrentValue.String()),
	)
	return nil
}

// push values and publishes. pushed is false when the wallet is gone.
func (n *BalanceChangeNotifier) push(ctx context.Context, req domain.ComputeWalletBalance) (val domain.WalletValuation, pushed bool, err error) {
	val, err = n.valuer.Value(ctx, req.WalletID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			n.logger.WarnContext(ctx, "wallet not found, skipping balance notification",
				slog.String("request_id", req.RequestID),
				slog.String("wallet_id", req.WalletID),
			)
			return val, false, nil
		}
		return val, false, err
	}

	payload, err := json.Marshal(domain.WalletBalanceChanged{Type: domain.BalanceChangedType, Payload: val})
	if err != nil {
		return val, false, fmt.Errorf("balance_notifier: marshal valuation %s: %w", req.WalletID, err)
	}
	if err := n.pub.Publish(ctx, domain.UserBalanceChannel(val.UserID), payload); err != nil {
		return val, false, fmt.Errorf("balance_notifier: push valuation %s: %w", req.WalletID, err)
	}
	return val, true, nil
}

func (n *BalanceChangeNotifier) release(ctx context.Context, id string) {
	if err := n.guard.Release(context.WithoutCancel(ctx), id); err != nil {
		n.logger.WarnContext(ctx, "failed to release delivery claim",
			slog.String("request_id", id),
			slog.String("error", err.Error()),
		)
	}
}
