package store

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxcore/internal/reason"
)

func TestMemHashAndSetOps(t *testing.T) {
	m := NewMem()
	ctx := context.Background()

	require.NoError(t, m.HSet(ctx, "order_data:{live:1}:9", map[string]string{"status": "OPEN", "symbol": "EURUSD"}))

	v, err := m.HGet(ctx, "order_data:{live:1}:9", "status")
	require.NoError(t, err)
	assert.Equal(t, "OPEN", v)

	_, err = m.HGet(ctx, "order_data:{live:1}:9", "nope")
	assert.True(t, IsNil(err))

	_, err = m.HGet(ctx, "missing", "f")
	assert.True(t, IsNil(err))

	partial, err := m.HMGet(ctx, "order_data:{live:1}:9", "status", "nope")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"status": "OPEN"}, partial)

	require.NoError(t, m.SAdd(ctx, "symbol_holders:EURUSD:live", "live:1", "live:2"))
	require.NoError(t, m.SRem(ctx, "symbol_holders:EURUSD:live", "live:2"))
	members, err := m.SMembers(ctx, "symbol_holders:EURUSD:live")
	require.NoError(t, err)
	assert.Equal(t, []string{"live:1"}, members)
}

func TestMemZRangeByScoreBoundsAndOrder(t *testing.T) {
	m := NewMem()
	ctx := context.Background()
	key := "sl_index:{EURUSD}:BUY"

	require.NoError(t, m.ZAdd(ctx, key, 1.1990, "a"))
	require.NoError(t, m.ZAdd(ctx, key, 1.1995, "b"))
	require.NoError(t, m.ZAdd(ctx, key, 1.2000, "c"))

	asc, err := m.ZRangeByScore(ctx, key, "1.1995", "+inf", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, asc)

	desc, err := m.ZRangeByScore(ctx, key, "-inf", "+inf", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, desc)

	excl, err := m.ZRangeByScore(ctx, key, "(1.1990", "(1.2000", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, excl)

	removed, err := m.ZRem(ctx, key, "b", "b-gone")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestMemSetNXIsOnlyCreator(t *testing.T) {
	m := NewMem()
	ctx := context.Background()

	ok, err := m.SetNX(ctx, "idempotency:live:1:k", "pending", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.SetNX(ctx, "idempotency:live:1:k", "other", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// Reservation becomes available again once the TTL passes.
	at := time.Now()
	m.nowFunc = func() time.Time { return at.Add(2 * time.Minute) }
	ok, err = m.SetNX(ctx, "idempotency:live:1:k", "again", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemIncrStartsAtOne(t *testing.T) {
	m := NewMem()
	ctx := context.Background()

	n, err := m.Incr(ctx, "ids:close_seq:20260824")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = m.Incr(ctx, "ids:close_seq:20260824")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemPipelineAppliesEverything(t *testing.T) {
	m := NewMem()
	ctx := context.Background()

	err := m.Pipeline().
		HSet("order_data:{live:1}:9", map[string]string{"status": "CLOSED"}).
		SRem("symbol_holders:EURUSD:live", "live:1").
		ZRem("sl_index:{EURUSD}:BUY", "9").
		Del("user_holdings:{live:1}:9").
		Exec(ctx)
	require.NoError(t, err)

	v, err := m.HGet(ctx, "order_data:{live:1}:9", "status")
	require.NoError(t, err)
	assert.Equal(t, "CLOSED", v)
}

func TestMemPubSubDelivers(t *testing.T) {
	m := NewMem()
	ctx := context.Background()

	sub, err := m.Subscribe(ctx, "market_updates")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, m.Publish(ctx, "market_updates", "EURUSD"))

	select {
	case got := <-sub.C():
		assert.Equal(t, "EURUSD", got)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
}

// After N consecutive transport failures the breaker opens and calls fail
// fast without touching the transport; exactly the first call after the
// recovery window is let through.
func TestBreakerOpensAndRecovers(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", ConsecutiveFails: 3, RecoveryWindow: 50 * time.Millisecond})
	ctx := context.Background()

	calls := 0
	failing := func() error {
		calls++
		return &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	}

	for i := 0; i < 3; i++ {
		err := b.Do(ctx, "op", failing)
		require.Error(t, err)
	}
	assert.Equal(t, 3, calls)
	assert.Equal(t, "open", b.State())

	// Open: fail fast, transport untouched.
	err := b.Do(ctx, "op", failing)
	require.Error(t, err)
	assert.Equal(t, reason.StateStoreUnavailable, reason.CodeOf(err))
	assert.Equal(t, 3, calls)

	time.Sleep(60 * time.Millisecond)

	// Half-open: the probe goes through; success closes.
	err = b.Do(ctx, "op", func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, "closed", b.State())
}

func TestBreakerIgnoresDomainOutcomes(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", ConsecutiveFails: 2, RecoveryWindow: time.Second})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		err := b.Do(ctx, "hget", func() error { return ErrNil })
		assert.True(t, IsNil(err))
	}
	assert.Equal(t, "closed", b.State())
}

func TestTransportErrorClassification(t *testing.T) {
	assert.False(t, isTransportErr(nil))
	assert.False(t, isTransportErr(ErrNil))
	assert.False(t, isTransportErr(errors.New("WRONGTYPE operation")))
	assert.True(t, isTransportErr(context.DeadlineExceeded))
	assert.True(t, isTransportErr(&net.OpError{Op: "dial", Err: errors.New("connection refused")}))
	assert.True(t, isTransportErr(errors.New("redis: connection pool timeout")))
}
