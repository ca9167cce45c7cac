package trigger

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxcore/internal/keys"
	"fxcore/internal/model"
	"fxcore/internal/pricing"
	"fxcore/internal/queue"
	"fxcore/internal/store"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func seedSpec(t *testing.T, st store.Store, spec *model.GroupConfig) {
	t.Helper()
	require.NoError(t, st.HSet(context.Background(), keys.GroupSymbolKey(spec.Group, spec.Symbol), spec.ToHash()))
}

func seedUser(t *testing.T, st store.Store, u *model.UserConfig) {
	t.Helper()
	require.NoError(t, st.HSet(context.Background(), keys.UserConfigKey(u.UserType.String(), u.UserID), u.ToHash()))
}

func seedOrder(t *testing.T, st store.Store, o *model.Order) {
	t.Helper()
	require.NoError(t, st.HSet(context.Background(), keys.OrderDataKey(o.UserType.String(), o.UserID, o.OrderID), o.ToHash()))
}

func seedTick(t *testing.T, st store.Store, symbol, bid, ask, source string) {
	t.Helper()
	tick := model.MarketTick{Symbol: symbol, Bid: dec(bid), Ask: dec(ask), TsMs: 1720000000000, Source: source}
	require.NoError(t, st.HSet(context.Background(), keys.MarketKey(symbol), tick.ToHash()))
}

// Standard EURUSD: spread 2, pip 0.00001 → half-spread 0.00001.
func eurusdFixture(t *testing.T, st store.Store) {
	t.Helper()
	seedSpec(t, st, model.NewGroupConfig("Standard", "EURUSD", model.GroupTypeForex, dec("1000"), "USD", 2, dec("0.00001")))
	seedUser(t, st, &model.UserConfig{UserType: model.UserLive, UserID: 42, Group: "Standard", Leverage: 100, WalletBalance: dec("10000"), Status: model.UserStatusEnabled})
}

func testOrder(id string, side model.Side, status model.OrderStatus, route string) *model.Order {
	return &model.Order{
		OrderID:    id,
		UserType:   model.UserLive,
		UserID:     42,
		Symbol:     "EURUSD",
		Side:       side,
		Quantity:   dec("1"),
		EntryPrice: dec("1.20001"),
		MarginUSD:  dec("12.0001"),
		Status:     status,
		Route:      route,
		CreatedTs:  1,
	}
}

func testParts(st store.Store, bus queue.Bus) (*Registrar, *Engine) {
	pr := pricing.NewResolver(st, pricing.NewGroups(st, nil))
	reg := NewRegistrar(st, pr)
	return reg, NewEngine(st, bus, pr, reg, Options{})
}

func indexMembers(t *testing.T, st store.Store, key string) []string {
	t.Helper()
	ids, err := st.ZRangeByScore(context.Background(), key, "-inf", "+inf", false)
	require.NoError(t, err)
	return ids
}

func TestScores(t *testing.T) {
	hs := dec("0.00001")
	assert.True(t, CloseScore(model.SideBuy, dec("1.19900"), hs).Equal(dec("1.19901")))
	assert.True(t, CloseScore(model.SideSell, dec("1.19900"), hs).Equal(dec("1.19899")))
	assert.True(t, ActivationScore(model.SideBuy, dec("1.19000"), hs).Equal(dec("1.18999")))
	assert.True(t, ActivationScore(model.SideSell, dec("1.19000"), hs).Equal(dec("1.19001")))
}

func TestRegistrar_RegisterOpenOrder(t *testing.T) {
	st := store.NewMem()
	eurusdFixture(t, st)
	reg, _ := testParts(st, queue.NewMemBus())

	o := testOrder("ORD1", model.SideBuy, model.StatusOpen, "sim")
	o.StopLoss = dec("1.19900")
	o.TakeProfit = dec("1.21000")
	require.NoError(t, reg.Register(context.Background(), o, "Standard"))

	// SL indexed at level+half, TP likewise; nothing pending.
	ids, err := st.ZRangeByScore(context.Background(), keys.SLIndexKey("EURUSD", "BUY"), "1.19901", "1.19901", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"ORD1"}, ids)
	ids, err = st.ZRangeByScore(context.Background(), keys.TPIndexKey("EURUSD", "BUY"), "1.21001", "1.21001", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"ORD1"}, ids)
	assert.Empty(t, indexMembers(t, st, keys.PendingIndexKey("EURUSD", "BUY")))

	m, err := st.HGetAll(context.Background(), keys.OrderTriggersKey("ORD1"))
	require.NoError(t, err)
	meta, err := model.OrderTriggersFromHash(m)
	require.NoError(t, err)
	assert.Equal(t, model.UserLive, meta.UserType)
	assert.Equal(t, int64(42), meta.UserID)
	assert.True(t, meta.StopLoss.Equal(dec("1.19900")))
	assert.True(t, meta.TakeProfit.Equal(dec("1.21000")))
}

func TestRegistrar_PendingIndexesOnlyActivation(t *testing.T) {
	st := store.NewMem()
	eurusdFixture(t, st)
	reg, _ := testParts(st, queue.NewMemBus())

	o := testOrder("ORD2", model.SideBuy, model.StatusPending, "sim")
	o.ActivationPrice = dec("1.19000")
	o.StopLoss = dec("1.18000")
	o.TakeProfit = dec("1.21000")
	require.NoError(t, reg.Register(context.Background(), o, "Standard"))

	assert.Equal(t, []string{"ORD2"}, indexMembers(t, st, keys.PendingIndexKey("EURUSD", "BUY")))
	assert.Empty(t, indexMembers(t, st, keys.SLIndexKey("EURUSD", "BUY")), "SL must not arm before activation")
	assert.Empty(t, indexMembers(t, st, keys.TPIndexKey("EURUSD", "BUY")))

	m, err := st.HGetAll(context.Background(), keys.OrderTriggersKey("ORD2"))
	require.NoError(t, err)
	assert.Equal(t, "1.18", m["stop_loss"], "levels recorded for the activation applier")
	assert.Equal(t, "1.19", m["pending_price"])
}

func TestRegistrar_DeregisterRemovesEverything(t *testing.T) {
	st := store.NewMem()
	eurusdFixture(t, st)
	reg, _ := testParts(st, queue.NewMemBus())
	ctx := context.Background()

	o := testOrder("ORD3", model.SideSell, model.StatusOpen, "sim")
	o.StopLoss = dec("1.21000")
	o.TakeProfit = dec("1.19000")
	require.NoError(t, reg.Register(ctx, o, "Standard"))
	require.NoError(t, reg.Deregister(ctx, "ORD3", "EURUSD", model.SideSell))

	assert.Empty(t, indexMembers(t, st, keys.SLIndexKey("EURUSD", "SELL")))
	assert.Empty(t, indexMembers(t, st, keys.TPIndexKey("EURUSD", "SELL")))
	m, err := st.HGetAll(ctx, keys.OrderTriggersKey("ORD3"))
	require.NoError(t, err)
	assert.Empty(t, m)

	// Idempotent on an unknown order.
	require.NoError(t, reg.Deregister(ctx, "NOPE", "EURUSD", model.SideSell))
}

func TestRegistrar_RemoveStopLossKeepsTakeProfit(t *testing.T) {
	st := store.NewMem()
	eurusdFixture(t, st)
	reg, _ := testParts(st, queue.NewMemBus())
	ctx := context.Background()

	o := testOrder("ORD4", model.SideBuy, model.StatusOpen, "sim")
	o.StopLoss = dec("1.19900")
	o.TakeProfit = dec("1.21000")
	require.NoError(t, reg.Register(ctx, o, "Standard"))
	require.NoError(t, reg.RemoveStopLoss(ctx, "ORD4", "EURUSD", model.SideBuy))

	assert.Empty(t, indexMembers(t, st, keys.SLIndexKey("EURUSD", "BUY")))
	assert.Equal(t, []string{"ORD4"}, indexMembers(t, st, keys.TPIndexKey("EURUSD", "BUY")))

	m, err := st.HGetAll(ctx, keys.OrderTriggersKey("ORD4"))
	require.NoError(t, err)
	assert.Equal(t, "", m["stop_loss"])
	assert.Equal(t, "1.21", m["take_profit"])
}

func TestRegistrar_SetStopLossRescores(t *testing.T) {
	st := store.NewMem()
	eurusdFixture(t, st)
	reg, _ := testParts(st, queue.NewMemBus())
	ctx := context.Background()

	o := testOrder("ORD5", model.SideBuy, model.StatusOpen, "sim")
	o.StopLoss = dec("1.19900")
	require.NoError(t, reg.Register(ctx, o, "Standard"))
	require.NoError(t, reg.SetStopLoss(ctx, o, "Standard", dec("1.19950")))

	ids, err := st.ZRangeByScore(ctx, keys.SLIndexKey("EURUSD", "BUY"), "1.19951", "1.19951", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"ORD5"}, ids, "member rescored, not duplicated")
	assert.Len(t, indexMembers(t, st, keys.SLIndexKey("EURUSD", "BUY")), 1)
}

func TestRegistrar_SetStopLossBackfillsMeta(t *testing.T) {
	st := store.NewMem()
	eurusdFixture(t, st)
	reg, _ := testParts(st, queue.NewMemBus())
	ctx := context.Background()

	// Opened without any trigger: Register was a no-op, so no inversion hash.
	o := testOrder("ORD6", model.SideSell, model.StatusOpen, "sim")
	require.NoError(t, reg.Register(ctx, o, "Standard"))
	require.NoError(t, reg.SetStopLoss(ctx, o, "Standard", dec("1.21000")))

	assert.Equal(t, []string{"ORD6"}, indexMembers(t, st, keys.SLIndexKey("EURUSD", "SELL")))
	m, err := st.HGetAll(ctx, keys.OrderTriggersKey("ORD6"))
	require.NoError(t, err)
	assert.Equal(t, "live", m["user_type"])
	assert.Equal(t, "1.21", m["stop_loss"])
}

// A BUY with SL 1.19900 under a 2-point spread scores at 1.19901; the first
// bid at or below it fires, the close fills at bid minus half-spread, and the
// index entry is consumed exactly once.
func TestEngine_StopLossFires(t *testing.T) {
	st := store.NewMem()
	bus := queue.NewMemBus()
	eurusdFixture(t, st)
	reg, eng := testParts(st, bus)
	ctx := context.Background()

	o := testOrder("ORD10", model.SideBuy, model.StatusOpen, "sim")
	o.StopLoss = dec("1.19900")
	seedOrder(t, st, o)
	require.NoError(t, reg.Register(ctx, o, "Standard"))

	seedTick(t, st, "EURUSD", "1.19899", "1.19901", model.SourceFeed)
	eng.ScanSymbol(ctx, "EURUSD")

	require.Equal(t, 1, bus.Len(queue.Close))
	rpt, err := model.DecodeExecReport(bus.Messages(queue.Close)[0])
	require.NoError(t, err)
	assert.Equal(t, "ORD10", rpt.OrderID)
	assert.Equal(t, model.OrdExecuted, rpt.OrdStatus)
	assert.True(t, rpt.AvgPx.Equal(dec("1.19898")), "bid 1.19899 - half 0.00001, got %s", rpt.AvgPx)
	assert.True(t, rpt.CumQty.Equal(dec("1")))
	assert.Equal(t, model.UserLive, rpt.UserType)
	assert.Equal(t, int64(42), rpt.UserID)
	assert.True(t, strings.HasPrefix(rpt.ExecID, "TRG-"))

	cc, ok := model.CloseContextFromHash(mustHGetAll(t, st, keys.CloseContextKey("ORD10")))
	require.True(t, ok)
	assert.Equal(t, model.CloseStopLossHit, cc.Context)
	assert.Equal(t, model.InitiatorTrigger, cc.Initiator)

	assert.Empty(t, indexMembers(t, st, keys.SLIndexKey("EURUSD", "BUY")), "entry consumed by the claim")

	// Replaying the same tick must not fire twice.
	eng.ScanSymbol(ctx, "EURUSD")
	assert.Equal(t, 1, bus.Len(queue.Close))
}

func TestEngine_FiresOnExactTouch(t *testing.T) {
	st := store.NewMem()
	bus := queue.NewMemBus()
	eurusdFixture(t, st)
	reg, eng := testParts(st, bus)
	ctx := context.Background()

	o := testOrder("ORD11", model.SideBuy, model.StatusOpen, "sim")
	o.StopLoss = dec("1.19900")
	seedOrder(t, st, o)
	require.NoError(t, reg.Register(ctx, o, "Standard"))

	seedTick(t, st, "EURUSD", "1.19901", "1.19903", model.SourceFeed)
	eng.ScanSymbol(ctx, "EURUSD")
	assert.Equal(t, 1, bus.Len(queue.Close), "touch is a trigger")
}

func TestEngine_NoFireBeforeCross(t *testing.T) {
	st := store.NewMem()
	bus := queue.NewMemBus()
	eurusdFixture(t, st)
	reg, eng := testParts(st, bus)
	ctx := context.Background()

	o := testOrder("ORD12", model.SideBuy, model.StatusOpen, "sim")
	o.StopLoss = dec("1.19900")
	seedOrder(t, st, o)
	require.NoError(t, reg.Register(ctx, o, "Standard"))

	seedTick(t, st, "EURUSD", "1.19902", "1.19904", model.SourceFeed)
	eng.ScanSymbol(ctx, "EURUSD")

	assert.Zero(t, bus.Len(queue.Close))
	assert.Equal(t, []string{"ORD12"}, indexMembers(t, st, keys.SLIndexKey("EURUSD", "BUY")), "entry stays until crossed")
}

func TestEngine_TakeProfitFiresForSell(t *testing.T) {
	st := store.NewMem()
	bus := queue.NewMemBus()
	eurusdFixture(t, st)
	reg, eng := testParts(st, bus)
	ctx := context.Background()

	o := testOrder("ORD13", model.SideSell, model.StatusOpen, "sim")
	o.EntryPrice = dec("1.20100")
	o.TakeProfit = dec("1.20000")
	seedOrder(t, st, o)
	require.NoError(t, reg.Register(ctx, o, "Standard"))

	// Score 1.19999; ask at the score fires and the close lands exactly on TP.
	seedTick(t, st, "EURUSD", "1.19997", "1.19999", model.SourceFeed)
	eng.ScanSymbol(ctx, "EURUSD")

	require.Equal(t, 1, bus.Len(queue.Close))
	rpt, err := model.DecodeExecReport(bus.Messages(queue.Close)[0])
	require.NoError(t, err)
	assert.True(t, rpt.AvgPx.Equal(dec("1.20000")), "ask 1.19999 + half 0.00001, got %s", rpt.AvgPx)

	cc, ok := model.CloseContextFromHash(mustHGetAll(t, st, keys.CloseContextKey("ORD13")))
	require.True(t, ok)
	assert.Equal(t, model.CloseTakeProfitHit, cc.Context)
}

func TestEngine_PendingActivationGapFires(t *testing.T) {
	st := store.NewMem()
	bus := queue.NewMemBus()
	eurusdFixture(t, st)
	reg, eng := testParts(st, bus)
	ctx := context.Background()

	o := testOrder("ORD14", model.SideBuy, model.StatusPending, "sim")
	o.ActivationPrice = dec("1.19000")
	o.StopLoss = dec("1.18000")
	seedOrder(t, st, o)
	require.NoError(t, reg.Register(ctx, o, "Standard"))

	// Gap straight through the level: still one activation, no close even
	// though the print is beyond the (unarmed) stop.
	seedTick(t, st, "EURUSD", "1.18498", "1.18500", model.SourceFeed)
	eng.ScanSymbol(ctx, "EURUSD")

	require.Equal(t, 1, bus.Len(queue.Open))
	assert.Zero(t, bus.Len(queue.Close))
	rpt, err := model.DecodeExecReport(bus.Messages(queue.Open)[0])
	require.NoError(t, err)
	assert.Equal(t, "ORD14", rpt.OrderID)
	assert.True(t, rpt.AvgPx.Equal(dec("1.18501")), "ask 1.18500 + half, got %s", rpt.AvgPx)

	assert.Empty(t, indexMembers(t, st, keys.PendingIndexKey("EURUSD", "BUY")))
	_, ok := model.CloseContextFromHash(mustHGetAll(t, st, keys.CloseContextKey("ORD14")))
	assert.False(t, ok, "activation writes no close context")
}

type fakeApplier struct {
	closes []*model.ExecReport
	opens  []*model.ExecReport
	err    error
}

func (f *fakeApplier) ApplyClose(ctx context.Context, rpt *model.ExecReport) error {
	f.closes = append(f.closes, rpt)
	return f.err
}

func (f *fakeApplier) ApplyOpen(ctx context.Context, rpt *model.ExecReport) error {
	f.opens = append(f.opens, rpt)
	return f.err
}

func TestEngine_LocalRouteAppliesDirectly(t *testing.T) {
	st := store.NewMem()
	bus := queue.NewMemBus()
	eurusdFixture(t, st)
	reg, eng := testParts(st, bus)
	applier := &fakeApplier{}
	eng.SetLocalAppliers(applier, applier)
	ctx := context.Background()

	o := testOrder("ORD15", model.SideBuy, model.StatusOpen, model.RouteLocal)
	o.StopLoss = dec("1.19900")
	seedOrder(t, st, o)
	require.NoError(t, reg.Register(ctx, o, "Standard"))

	seedTick(t, st, "EURUSD", "1.19899", "1.19901", model.SourceFeed)
	eng.ScanSymbol(ctx, "EURUSD")

	require.Len(t, applier.closes, 1)
	assert.Equal(t, "ORD15", applier.closes[0].OrderID)
	assert.Zero(t, bus.Len(queue.Close), "local fires skip the queue")

	// The context is written before the apply so attribution is in place.
	cc, ok := model.CloseContextFromHash(mustHGetAll(t, st, keys.CloseContextKey("ORD15")))
	require.True(t, ok)
	assert.Equal(t, model.CloseStopLossHit, cc.Context)
}

func TestEngine_LocalApplyFailureFallsBackToQueue(t *testing.T) {
	st := store.NewMem()
	bus := queue.NewMemBus()
	eurusdFixture(t, st)
	reg, eng := testParts(st, bus)
	applier := &fakeApplier{err: context.DeadlineExceeded}
	eng.SetLocalAppliers(applier, applier)
	ctx := context.Background()

	o := testOrder("ORD16", model.SideBuy, model.StatusOpen, model.RouteLocal)
	o.StopLoss = dec("1.19900")
	seedOrder(t, st, o)
	require.NoError(t, reg.Register(ctx, o, "Standard"))

	seedTick(t, st, "EURUSD", "1.19899", "1.19901", model.SourceFeed)
	eng.ScanSymbol(ctx, "EURUSD")

	require.Len(t, applier.closes, 1)
	assert.Equal(t, 1, bus.Len(queue.Close), "failed direct apply still reaches the worker")
}

func TestEngine_FallbackSnapshotNeverFires(t *testing.T) {
	st := store.NewMem()
	bus := queue.NewMemBus()
	eurusdFixture(t, st)
	reg, eng := testParts(st, bus)
	ctx := context.Background()

	o := testOrder("ORD17", model.SideBuy, model.StatusOpen, "sim")
	o.StopLoss = dec("1.19900")
	seedOrder(t, st, o)
	require.NoError(t, reg.Register(ctx, o, "Standard"))

	seedTick(t, st, "EURUSD", "1.19000", "1.19002", model.SourceWarmupFallback)
	eng.ScanSymbol(ctx, "EURUSD")

	assert.Zero(t, bus.Len(queue.Close))
	assert.Equal(t, []string{"ORD17"}, indexMembers(t, st, keys.SLIndexKey("EURUSD", "BUY")))
}

func TestEngine_TerminalOrderCleansUpIndexes(t *testing.T) {
	st := store.NewMem()
	bus := queue.NewMemBus()
	eurusdFixture(t, st)
	reg, eng := testParts(st, bus)
	ctx := context.Background()

	o := testOrder("ORD18", model.SideBuy, model.StatusOpen, "sim")
	o.StopLoss = dec("1.19900")
	o.TakeProfit = dec("1.21000")
	seedOrder(t, st, o)
	require.NoError(t, reg.Register(ctx, o, "Standard"))

	// Closed elsewhere; the index entries survived a crashed teardown.
	require.NoError(t, st.HSet(ctx, keys.OrderDataKey("live", 42, "ORD18"), map[string]string{"status": string(model.StatusClosed)}))

	seedTick(t, st, "EURUSD", "1.19899", "1.19901", model.SourceFeed)
	eng.ScanSymbol(ctx, "EURUSD")

	assert.Zero(t, bus.Len(queue.Close))
	assert.Empty(t, indexMembers(t, st, keys.SLIndexKey("EURUSD", "BUY")))
	assert.Empty(t, indexMembers(t, st, keys.TPIndexKey("EURUSD", "BUY")))
	m, err := st.HGetAll(ctx, keys.OrderTriggersKey("ORD18"))
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestEngine_RunFiresOnMarketUpdate(t *testing.T) {
	st := store.NewMem()
	bus := queue.NewMemBus()
	eurusdFixture(t, st)
	reg, eng := testParts(st, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := testOrder("ORD19", model.SideBuy, model.StatusOpen, "sim")
	o.StopLoss = dec("1.19900")
	seedOrder(t, st, o)
	require.NoError(t, reg.Register(ctx, o, "Standard"))
	seedTick(t, st, "EURUSD", "1.19899", "1.19901", model.SourceFeed)

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	require.Eventually(t, func() bool {
		v, err := st.Get(context.Background(), keys.TriggerLeaseKey("0"))
		return err == nil && v != ""
	}, 2*time.Second, 10*time.Millisecond, "lease acquired on startup")

	require.NoError(t, st.Publish(ctx, keys.ChannelMarketUpdates, "EURUSD"))
	require.Eventually(t, func() bool { return bus.Len(queue.Close) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}

	_, err := st.Get(context.Background(), keys.TriggerLeaseKey("0"))
	assert.True(t, store.IsNil(err), "lease released on shutdown")
}

func TestLease_Exclusive(t *testing.T) {
	st := store.NewMem()
	ctx := context.Background()

	l1 := NewLease(st, "0", time.Minute)
	l2 := NewLease(st, "0", time.Minute)

	held, err := l1.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, held)

	held, err = l2.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, held, "second holder must wait")
	assert.False(t, l2.Held())

	// Re-acquire by the owner is a renewal.
	held, err = l1.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, l1.Release(ctx))
	held, err = l2.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, held, "released lease is up for grabs")
}

func TestLease_TakeoverAfterExpiry(t *testing.T) {
	st := store.NewMem()
	ctx := context.Background()

	l1 := NewLease(st, "0", 30*time.Millisecond)
	l2 := NewLease(st, "0", 30*time.Millisecond)

	held, err := l1.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, held)

	time.Sleep(60 * time.Millisecond)

	held, err = l2.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, held, "expired lease is claimable")
}

func TestPartitionOf(t *testing.T) {
	assert.Equal(t, "0", PartitionOf("EURUSD", 1))
	assert.Equal(t, PartitionOf("EURUSD", 8), PartitionOf("EURUSD", 8), "stable")
	for _, sym := range []string{"EURUSD", "GBPUSD", "USDJPY", "XAUUSD"} {
		i := partitionIndex(sym, 8)
		assert.GreaterOrEqual(t, i, 0)
		assert.Less(t, i, 8)
	}
}

func mustHGetAll(t *testing.T, st store.Store, key string) map[string]string {
	t.Helper()
	m, err := st.HGetAll(context.Background(), key)
	require.NoError(t, err)
	return m
}
