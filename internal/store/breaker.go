package store

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"fxcore/internal/reason"
)

// Breaker wraps every store call. Only transport failures (connection
// refused, pool exhausted, timeout) count toward tripping; absent keys and
// other domain outcomes pass through as successes. While open, calls fail
// fast with state_store_unavailable and never touch the transport; the first
// call after the recovery window is the half-open probe.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// BreakerConfig carries per-cluster thresholds.
type BreakerConfig struct {
	Name             string
	ConsecutiveFails uint32
	RecoveryWindow   time.Duration
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	fails := cfg.ConsecutiveFails
	if fails == 0 {
		fails = 5
	}
	window := cfg.RecoveryWindow
	if window <= 0 {
		window = 5 * time.Second
	}
	return &Breaker{
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: 1,
			Timeout:     window,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= fails
			},
			IsSuccessful: func(err error) bool {
				return !isTransportErr(err)
			},
		}),
	}
}

// Do runs op behind the breaker. Transport failures and open-state rejections
// come back as state_store_unavailable; every other error is returned as-is.
func (b *Breaker) Do(ctx context.Context, name string, op func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, op()
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return reason.Wrap(reason.StateStoreUnavailable, err, "%s: circuit open", name)
	}
	if isTransportErr(err) {
		return reason.Wrap(reason.StateStoreUnavailable, err, "%s", name)
	}
	return err
}

// State exposes the breaker state for health reporting.
func (b *Breaker) State() string { return b.cb.State().String() }

func isTransportErr(err error) bool {
	if err == nil || errors.Is(err, ErrNil) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection pool timeout") ||
		strings.Contains(msg, "i/o timeout")
}
