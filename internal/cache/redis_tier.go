package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/marketmind-ai/marketmind/internal/metrics"
)

// Redis tier breaker thresholds
const (
	redisOpTimeout       = 500 * time.Millisecond
	breakerMinRequests   = 5
	breakerFailureRatio  = 0.6
	breakerOpenTimeout   = 30 * time.Second
	breakerHalfOpenReqs  = 3
	breakerCountInterval = 10 * time.Second
)

// redisEntry wraps the payload with its write time so age survives the round trip
type redisEntry struct {
	StoredAt time.Time `json:"stored_at"`
	Payload  []byte    `json:"payload"`
}

// RedisTier is the persistent cache tier. Every operation is guarded by a
// circuit breaker; failures and open-circuit rejections degrade to misses.
type RedisTier struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
}

// NewRedisTier creates the persistent tier. Returns nil for a nil client
// so a memory-only deployment stays nil-safe.
func NewRedisTier(client *redis.Client) *RedisTier {
	if client == nil {
		return nil
	}

	t := &RedisTier{client: client}
	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis_cache",
		MaxRequests: breakerHalfOpenReqs,
		Interval:    breakerCountInterval,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= breakerMinRequests && failureRatio >= breakerFailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			degraded := 0.0
			if to != gobreaker.StateClosed {
				degraded = 1.0
			}
			metrics.CacheDegraded.Set(degraded)
			log.Warn().
				Str("component", "cache").
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Redis cache breaker state changed")
		},
	})
	return t
}

// Get returns the payload and its age. Misses, Redis errors and open-circuit
// rejections all report ok=false; the caller cannot tell them apart and
// should not need to.
func (t *RedisTier) Get(ctx context.Context, key string) ([]byte, time.Duration, bool) {
	if t == nil || t.client == nil {
		return nil, 0, false
	}

	metrics.RecordRedisOperation("get")

	result, err := t.breaker.Execute(func() (interface{}, error) {
		opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
		defer cancel()

		raw, err := t.client.Get(opCtx, key).Result()
		if err == redis.Nil {
			// A miss is a successful operation as far as the breaker goes
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []byte(raw), nil
	})
	if err != nil {
		metrics.RecordCacheError("redis")
		log.Debug().Err(err).Str("key", key).Msg("Redis get error - treating as cache miss")
		return nil, 0, false
	}
	if result == nil {
		metrics.RecordCacheMiss("redis")
		return nil, 0, false
	}

	var entry redisEntry
	if err := json.Unmarshal(result.([]byte), &entry); err != nil {
		metrics.RecordCacheError("redis")
		log.Warn().Err(err).Str("key", key).Msg("Failed to unmarshal cache entry")
		return nil, 0, false
	}

	metrics.RecordCacheHit("redis")
	return entry.Payload, time.Since(entry.StoredAt), true
}

// Put stores the payload with the given TTL. Failures are non-fatal.
func (t *RedisTier) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if t == nil || t.client == nil {
		return fmt.Errorf("redis tier not initialized")
	}

	metrics.RecordRedisOperation("set")

	data, err := json.Marshal(redisEntry{StoredAt: time.Now(), Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	_, err = t.breaker.Execute(func() (interface{}, error) {
		opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
		defer cancel()
		return nil, t.client.Set(opCtx, key, data, ttl).Err()
	})
	if err != nil {
		metrics.RecordCacheError("redis")
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Invalidate removes the key
func (t *RedisTier) Invalidate(ctx context.Context, key string) error {
	if t == nil || t.client == nil {
		return fmt.Errorf("redis tier not initialized")
	}

	metrics.RecordRedisOperation("del")

	_, err := t.breaker.Execute(func() (interface{}, error) {
		opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
		defer cancel()
		return nil, t.client.Del(opCtx, key).Err()
	})
	if err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Degraded reports whether the breaker is rejecting operations
func (t *RedisTier) Degraded() bool {
	if t == nil || t.breaker == nil {
		return false
	}
	return t.breaker.State() != gobreaker.StateClosed
}

// Health pings Redis
func (t *RedisTier) Health(ctx context.Context) error {
	if t == nil || t.client == nil {
		return fmt.Errorf("redis tier not initialized")
	}

	opCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := t.client.Ping(opCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
