// Package cache provides the tiered artifact cache: a small in-memory LRU
// in front of an optional Redis tier. Redis failures degrade to misses.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/marketmind-ai/marketmind/internal/metrics"
)

// Key builds the canonical cache key {kind}:{symbol?}:{bucket}.
// Symbol-independent kinds (macro, policy news) pass an empty symbol.
func Key(kind, symbol, bucket string) string {
	if symbol == "" {
		return fmt.Sprintf("%s:%s", kind, bucket)
	}
	return fmt.Sprintf("%s:%s:%s", kind, symbol, bucket)
}

// DateBucket formats a time as the daily key bucket
func DateBucket(t time.Time) string {
	return t.Format("2006-01-02")
}

// KindOf extracts the kind prefix from a cache key
func KindOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}

// TTLPolicy maps artifact kinds to their time-to-live
type TTLPolicy struct {
	Default time.Duration
	ByKind  map[string]time.Duration
}

// DefaultTTLPolicy returns the standard per-kind lifetimes
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Default: time.Hour,
		ByKind: map[string]time.Duration{
			"macro":     24 * time.Hour,
			"policy":    6 * time.Hour,
			"sector":    time.Hour,
			"intl_news": 6 * time.Hour,
			"technical": time.Hour,
			"strategy":  time.Hour,
			"snapshot":  5 * time.Minute,
		},
	}
}

// For resolves the TTL for a cache key by its kind prefix
func (p TTLPolicy) For(key string) time.Duration {
	if ttl, ok := p.ByKind[KindOf(key)]; ok {
		return ttl
	}
	if p.Default > 0 {
		return p.Default
	}
	return time.Hour
}

// Options configures the tiered cache
type Options struct {
	Memory      *Memory
	Redis       *RedisTier
	TTL         TTLPolicy
	WaitTimeout time.Duration
}

// Tiered checks the memory tier first, then Redis. Writes go through both.
// GetOrCompute coalesces identical concurrent computes with a bounded wait.
type Tiered struct {
	memory      *Memory
	redis       *RedisTier
	ttl         TTLPolicy
	waitTimeout time.Duration
	group       singleflight.Group
	log         zerolog.Logger
}

// New creates a tiered cache. The Redis tier may be nil (memory only).
func New(opts Options) *Tiered {
	if opts.Memory == nil {
		opts.Memory = NewMemory(DefaultMaxEntries, DefaultSweepInterval)
	}
	if opts.TTL.ByKind == nil {
		opts.TTL = DefaultTTLPolicy()
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 10 * time.Second
	}
	return &Tiered{
		memory:      opts.Memory,
		redis:       opts.Redis,
		ttl:         opts.TTL,
		waitTimeout: opts.WaitTimeout,
		log:         log.With().Str("component", "cache").Logger(),
	}
}

// Get returns the cached payload and its age. A Redis hit is promoted
// into the memory tier for the remainder of its lifetime.
func (c *Tiered) Get(ctx context.Context, key string) ([]byte, time.Duration, bool) {
	if payload, age, ok := c.memory.Get(key); ok {
		metrics.RecordCacheHit("memory")
		return payload, age, true
	}
	metrics.RecordCacheMiss("memory")

	if c.redis == nil {
		return nil, 0, false
	}

	payload, age, ok := c.redis.Get(ctx, key)
	if !ok {
		return nil, 0, false
	}

	if remaining := c.ttl.For(key) - age; remaining > 0 {
		c.memory.PutWithAge(key, payload, remaining, age)
	}
	return payload, age, true
}

// Put stores the payload in both tiers with the kind's TTL. Idempotent.
func (c *Tiered) Put(ctx context.Context, key string, payload []byte) {
	ttl := c.ttl.For(key)
	c.memory.Put(key, payload, ttl)
	if c.redis != nil {
		if err := c.redis.Put(ctx, key, payload, ttl); err != nil {
			c.log.Debug().Err(err).Str("key", key).Msg("Redis put failed, memory tier only")
		}
	}
}

// Invalidate removes the key from both tiers
func (c *Tiered) Invalidate(ctx context.Context, key string) {
	c.memory.Invalidate(key)
	if c.redis != nil {
		if err := c.redis.Invalidate(ctx, key); err != nil {
			c.log.Debug().Err(err).Str("key", key).Msg("Redis invalidate failed")
		}
	}
}

// Degraded reports whether the persistent tier is unavailable
func (c *Tiered) Degraded() bool {
	return c.redis != nil && c.redis.Degraded()
}

type computeResult struct {
	payload []byte
}

// GetOrCompute returns the cached payload or computes it. Identical
// concurrent keys share one in-flight compute; a caller that waits longer
// than the wait timeout falls through to an independent compute so a stuck
// leader cannot wedge every caller.
func (c *Tiered) GetOrCompute(ctx context.Context, key string, compute func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if payload, _, ok := c.Get(ctx, key); ok {
		return payload, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		payload, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(ctx, key, payload)
		return computeResult{payload: payload}, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			metrics.SingleflightShared.Inc()
		}
		return res.Val.(computeResult).payload, nil
	case <-time.After(c.waitTimeout):
		c.log.Warn().Str("key", key).Dur("wait_timeout", c.waitTimeout).
			Msg("Shared compute wait timed out, computing independently")
		c.group.Forget(key)
		payload, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(ctx, key, payload)
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
