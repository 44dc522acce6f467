package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/coinfolio/internal/domain"
)

const (
	deliveryPending = "pending"
	deliverySent    = "sent"
)

// reserveLua claims KEYS[1] for ARGV[2] ms. Returns 1 when claimed, 0 when the
// id was already delivered and -1 while another claim is pending.
const reserveLua = `
local cur = redis.call('GET', KEYS[1])
if cur == ARGV[1] then
    return 0
end
if cur then
    return -1
end
redis.call('SET', KEYS[1], 'pending', 'PX', ARGV[2])
return 1
`

// releaseLua drops a pending claim. Confirmed deliveries are kept.
const releaseLua = `
if redis.call('GET', KEYS[1]) == 'pending' then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// DeliveryGuard implements domain.DeliveryGuard with one key per request id.
// A claim expires after hold so a crashed consumer cannot block redelivery;
// a confirmed delivery is remembered for ttl.
type DeliveryGuard struct {
	rdb       *redis.Client
	reserveSc *redis.Script
	releaseSc *redis.Script
	hold      time.Duration
	ttl       time.Duration
}

// NewDeliveryGuard creates a DeliveryGuard backed by the given Client.
func NewDeliveryGuard(c *Client, hold, ttl time.Duration) *DeliveryGuard {
	return &DeliveryGuard{
		rdb:       c.Underlying(),
		reserveSc: redis.NewScript(reserveLua),
		releaseSc: redis.NewScript(releaseLua),
		hold:      hold,
		ttl:       ttl,
	}
}

func deliveryKey(id string) string {
	return "sent:" + id
}

// Reserve claims id for delivery.
func (g *DeliveryGuard) Reserve(ctx context.Context, id string) (bool, error) {
	res, err := g.reserveSc.Run(ctx, g.rdb, []string{deliveryKey(id)}, deliverySent, g.hold.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis: reserve delivery %s: %w", id, err)
	}
	switch res {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, fmt.Errorf("redis: reserve delivery %s: %w", id, domain.ErrDeliveryInFlight)
	}
}

// Confirm records id as delivered for the guard's ttl.
func (g *DeliveryGuard) Confirm(ctx context.Context, id string) error {
	if err := g.rdb.Set(ctx, deliveryKey(id), deliverySent, g.ttl).Err(); err != nil {
		return fmt.Errorf("redis: confirm delivery %s: %w", id, err)
	}
	return nil
}

// Release drops a pending claim on id so a redelivery can retry it.
func (g *DeliveryGuard) Release(ctx context.Context, id string) error {
	if err := g.releaseSc.Run(ctx, g.rdb, []string{deliveryKey(id)}).Err(); err != nil {
		return fmt.Errorf("redis: release delivery %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.DeliveryGuard = (*DeliveryGuard)(nil)
