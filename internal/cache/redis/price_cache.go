package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/coinfolio/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// storeTickLua writes a tick only when no newer tick is cached for the pair.
// Timestamps are Unix microseconds so they compare exactly as Lua numbers.
const storeTickLua = `
local cur = redis.call('HGET', KEYS[1], 'ts')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
    return 0
end
redis.call('HSET', KEYS[1], 'ts', ARGV[1], 'value', ARGV[2])
return 1
`

// PriceCache implements domain.PriceCache using one Redis hash per pair at
// "tick:{left}/{right}" with fields "ts" and "value".
type PriceCache struct {
	rdb    *redis.Client
	store  *redis.Script
	logger *slog.Logger
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client, logger *slog.Logger) *PriceCache {
	return &PriceCache{
		rdb:    c.Underlying(),
		store:  redis.NewScript(storeTickLua),
		logger: logger.With(slog.String("component", "price_cache")),
	}
}

func tickKey(p domain.PricePair) string {
	return "tick:" + p.String()
}

// Store applies each tick with an atomic compare-and-write. Invalid pairs and
// ticks older than the cached one are skipped.
func (pc *PriceCache) Store(ctx context.Context, ticks []domain.PriceTick) (int, error) {
	applied := 0
	for _, t := range latestPerPair(ticks) {
		if err := t.Validate(); err != nil {
			pc.logger.WarnContext(ctx, "dropping malformed tick",
				slog.String("left", t.Pair.Left),
				slog.String("right", t.Pair.Right),
				slog.String("error", err.Error()),
			)
			continue
		}
		err := pc.storeOne(ctx, t)
		switch {
		case err == nil:
			applied++
		case errors.Is(err, domain.ErrStaleWrite):
			pc.logger.DebugContext(ctx, "stale tick dropped",
				slog.String("pair", t.Pair.String()),
				slog.Time("ts", t.Timestamp),
			)
		default:
			return applied, err
		}
	}
	return applied, nil
}

func (pc *PriceCache) storeOne(ctx context.Context, t domain.PriceTick) error {
	ok, err := pc.store.Run(ctx, pc.rdb, []string{tickKey(t.Pair)},
		t.Timestamp.UnixMicro(),
		t.Value.String(),
	).Int()
	if err != nil {
		return fmt.Errorf("redis: store tick %s: %w", t.Pair, err)
	}
	if ok == 0 {
		return domain.ErrStaleWrite
	}
	return nil
}

// latestPerPair keeps only the newest tick for each pair in a batch, with
// later entries winning ties.
func latestPerPair(ticks []domain.PriceTick) []domain.PriceTick {
	idx := make(map[domain.PricePair]int, len(ticks))
	out := make([]domain.PriceTick, 0, len(ticks))
	for _, t := range ticks {
		i, seen := idx[t.Pair]
		if !seen {
			idx[t.Pair] = len(out)
			out = append(out, t)
			continue
		}
		if !t.Timestamp.Before(out[i].Timestamp) {
			out[i] = t
		}
	}
	return out
}

// Get retrieves cached ticks for multiple pairs using a pipeline. Pairs that
// are invalid or not cached are omitted from the result.
func (pc *PriceCache) Get(ctx context.Context, pairs []domain.PricePair) (map[domain.PricePair]domain.PriceTick, error) {
	result := make(map[domain.PricePair]domain.PriceTick, len(pairs))
	if len(pairs) == 0 {
		return result, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[domain.PricePair]*redis.MapStringStringCmd, len(pairs))
	for _, p := range pairs {
		if !p.Valid() {
			continue
		}
		cmds[p] = pipe.HGetAll(ctx, tickKey(p))
	}
	if len(cmds) == 0 {
		return result, nil
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get ticks pipeline: %w", err)
	}

	for p, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		tick, err := parseTick(p, vals)
		if err != nil {
			pc.logger.WarnContext(ctx, "corrupt tick in cache",
				slog.String("pair", p.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		result[p] = tick
	}
	return result, nil
}

func parseTick(p domain.PricePair, vals map[string]string) (domain.PriceTick, error) {
	value, err := decimal.NewFromString(vals["value"])
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("parse value: %w", err)
	}
	us, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("parse ts: %w", err)
	}
	return domain.PriceTick{Pair: p, Timestamp: time.UnixMicro(us).UTC(), Value: value}, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
