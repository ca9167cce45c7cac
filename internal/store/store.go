// Package store is the hash-tagged key-value cluster accessor every
// component coordinates through. It exposes a deliberately thin capability
// set; anything needing cross-tag atomicity must go through the idempotency
// layer instead. All transport failures are converted here, behind the
// circuit breaker, into state_store_unavailable — callers never see raw
// transport errors.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNil marks an absent key or field. It is a domain outcome, not a
// transport failure, and never trips the breaker.
var ErrNil = errors.New("store: nil")

// Store is the capability surface of the state store.
type Store interface {
	HGet(ctx context.Context, key, field string) (string, error)
	HMGet(ctx context.Context, key string, fields ...string) (map[string]string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZRem returns the number of members actually removed; a caller that
	// needs an atomic claim checks for 1.
	ZRem(ctx context.Context, key string, members ...string) (int64, error)
	// ZRangeByScore returns members inside [min,max] (redis score syntax,
	// "-inf"/"+inf"/"(x" allowed), score-ascending, or descending when rev.
	ZRangeByScore(ctx context.Context, key, min, max string, rev bool) ([]string, error)

	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Pipeline queues writes that share a hash-tag and applies them in one
	// round-trip counted as a single breaker op.
	Pipeline() Pipe
}

// Subscription is a live pub/sub registration. C() closes when the
// subscription is closed or the connection is lost for good.
type Subscription interface {
	C() <-chan string
	Close() error
}

// Pipe is a queued multi-op. Exec applies everything queued; a Pipe is
// single-use.
type Pipe interface {
	HSet(key string, fields map[string]string) Pipe
	SAdd(key string, members ...string) Pipe
	SRem(key string, members ...string) Pipe
	ZAdd(key string, score float64, member string) Pipe
	ZRem(key string, members ...string) Pipe
	Set(key, value string, ttl time.Duration) Pipe
	Del(keys ...string) Pipe
	Expire(key string, ttl time.Duration) Pipe
	Exec(ctx context.Context) error
}

// IsNil reports whether err is the absent-key outcome.
func IsNil(err error) bool { return errors.Is(err, ErrNil) }
