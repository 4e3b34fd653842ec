package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"etf_dashboard/logger"

	"github.com/rs/zerolog"
)

// DefaultBackfillTTL bounds how long an L2 hit lives in L1.
const DefaultBackfillTTL = 30 * time.Second

// Layered reads memory first, then the shared L2 store. L2 failures are
// logged and treated as misses so a Redis outage only costs latency.
type Layered struct {
	l1          *MemoryCache
	l2          Cache
	backfillTTL time.Duration
	log         zerolog.Logger
}

// NewLayered builds a two-level cache. l2 may be nil, which yields a
// memory-only cache.
func NewLayered(l1 *MemoryCache, l2 Cache) *Layered {
	return &Layered{
		l1:          l1,
		l2:          l2,
		backfillTTL: DefaultBackfillTTL,
		log:         logger.With("cache"),
	}
}

func (c *Layered) Get(ctx context.Context, key string, dest any) error {
	if err := c.l1.Get(ctx, key, dest); err == nil {
		return nil
	}
	if c.l2 == nil {
		return ErrMiss
	}

	var raw json.RawMessage
	if err := c.l2.Get(ctx, key, &raw); err != nil {
		if !errors.Is(err, ErrMiss) {
			c.log.Warn().Err(err).Str("key", key).Msg("L2 cache read failed")
		}
		return ErrMiss
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return ErrMiss
	}
	_ = c.l1.Set(ctx, key, raw, c.backfillTTL)
	return nil
}

func (c *Layered) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if c.l2 != nil {
		if err := c.l2.Set(ctx, key, value, ttl); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("L2 cache write failed")
		}
	}
	return nil
}

func (c *Layered) Delete(ctx context.Context, keys ...string) error {
	_ = c.l1.Delete(ctx, keys...)
	if c.l2 != nil {
		if err := c.l2.Delete(ctx, keys...); err != nil {
			c.log.Warn().Err(err).Strs("keys", keys).Msg("L2 cache delete failed")
		}
	}
	return nil
}
