package logic_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxcore/internal/config"
	"fxcore/internal/keys"
	"fxcore/internal/logic"
	"fxcore/internal/model"
	"fxcore/internal/reason"
	"fxcore/internal/svc"
	"fxcore/internal/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func memConfig() config.Config {
	c := config.Config{}
	c.Env = "test"
	c.Feed.FreshnessMs = 15000
	c.Portfolio.FlushMs = 100
	return c
}

// newTestContext provisions an in-memory core with one group, one live user
// and a fresh EURUSD tick (spread 2 pips of 0.00001, so half-spread 0.00001).
func newTestContext(t *testing.T) *svc.ServiceContext {
	t.Helper()
	ctx := context.Background()
	sc := svc.NewServiceContext(memConfig())

	spec := model.NewGroupConfig("Standard", "EURUSD", model.GroupTypeForex, dec("1000"), "USD", 2, dec("0.00001"))
	require.NoError(t, sc.Store.HSet(ctx, keys.GroupSymbolKey("Standard", "EURUSD"), spec.ToHash()))
	user := &model.UserConfig{
		UserType: model.UserLive, UserID: 42, Group: "Standard",
		Leverage: 100, WalletBalance: dec("10000"), Status: model.UserStatusEnabled,
	}
	require.NoError(t, sc.Store.HSet(ctx, keys.UserConfigKey("live", 42), user.ToHash()))
	seedTick(t, sc, "EURUSD", "1.20000", "1.20002")
	return sc
}

func seedTick(t *testing.T, sc *svc.ServiceContext, symbol, bid, ask string) {
	t.Helper()
	tick := &model.MarketTick{
		Symbol: symbol, Bid: dec(bid), Ask: dec(ask),
		TsMs: time.Now().UnixMilli(), Source: model.SourceFeed,
	}
	require.NoError(t, sc.Store.HSet(context.Background(), keys.MarketKey(symbol), tick.ToHash()))
}

func instantReq() *types.InstantOrderReq {
	return &types.InstantOrderReq{
		Symbol:        "EURUSD",
		OrderType:     "BUY",
		OrderQuantity: "1",
		UserID:        42,
		UserType:      "live",
	}
}

func TestInstantOrder_LocalFill(t *testing.T) {
	sc := newTestContext(t)
	l := logic.NewInstantOrderLogic(context.Background(), sc)

	resp, err := l.InstantOrder(instantReq())
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, "OPEN", resp.OrderStatus)
	assert.Equal(t, "local", resp.Flow)
	assert.Equal(t, "1.20003", resp.ExecPrice)
	assert.Equal(t, "12.0003", resp.MarginUSD)
	assert.False(t, resp.Replayed)
	assert.NotEmpty(t, resp.OrderID)
}

func TestInstantOrder_RejectsMalformedFields(t *testing.T) {
	sc := newTestContext(t)
	l := logic.NewInstantOrderLogic(context.Background(), sc)

	cases := []struct {
		name   string
		mutate func(*types.InstantOrderReq)
		code   reason.Code
	}{
		{"quantity not a number", func(r *types.InstantOrderReq) { r.OrderQuantity = "abc" }, reason.InvalidQuantity},
		{"quantity missing", func(r *types.InstantOrderReq) { r.OrderQuantity = "" }, reason.InvalidQuantity},
		{"unknown order type", func(r *types.InstantOrderReq) { r.OrderType = "HOLD" }, reason.InvalidOrderType},
		{"unknown user type", func(r *types.InstantOrderReq) { r.UserType = "corporate" }, reason.InvalidRequest},
		{"stop loss not a number", func(r *types.InstantOrderReq) { r.StopLoss = "low" }, reason.InvalidRequest},
		{"price not a number", func(r *types.InstantOrderReq) { r.OrderPrice = "1,2" }, reason.InvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := instantReq()
			tc.mutate(req)
			_, err := l.InstantOrder(req)
			require.Error(t, err)
			assert.Equal(t, tc.code, reason.CodeOf(err))
		})
	}
}

func TestInstantOrder_ReplaysIdempotentRetry(t *testing.T) {
	sc := newTestContext(t)
	l := logic.NewInstantOrderLogic(context.Background(), sc)

	req := instantReq()
	req.IdempotencyKey = "checkout-77"
	first, err := l.InstantOrder(req)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	second, err := l.InstantOrder(req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.ExecPrice, second.ExecPrice)
}

func TestPendingOrder_PlacesAndRequiresActivation(t *testing.T) {
	sc := newTestContext(t)
	l := logic.NewPendingOrderLogic(context.Background(), sc)

	resp, err := l.PendingOrder(&types.PendingOrderReq{
		Symbol: "EURUSD", OrderType: "BUY", OrderPrice: "1.19000",
		OrderQuantity: "1", UserID: 42, UserType: "live",
	})
	require.NoError(t, err)
	assert.Equal(t, "PENDING", resp.OrderStatus)
	assert.Equal(t, "1.19", resp.ExecPrice)
	assert.Equal(t, "11.9", resp.MarginUSD)

	_, err = l.PendingOrder(&types.PendingOrderReq{
		Symbol: "EURUSD", OrderType: "BUY", OrderPrice: "",
		OrderQuantity: "1", UserID: 42, UserType: "live",
	})
	require.Error(t, err)
	assert.Equal(t, reason.InvalidRequest, reason.CodeOf(err))
}

func TestCloseOrder_LocalFillsAtOppositeSide(t *testing.T) {
	sc := newTestContext(t)
	ctx := context.Background()
	opened, err := logic.NewInstantOrderLogic(ctx, sc).InstantOrder(instantReq())
	require.NoError(t, err)

	resp, err := logic.NewCloseOrderLogic(ctx, sc).CloseOrder(&types.CloseOrderReq{
		UserID: 42, UserType: "live", OrderID: opened.OrderID,
	})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, "CLOSED", resp.OrderStatus)
	assert.Equal(t, "local", resp.Flow)
	// Closing a BUY executes a SELL: bid minus the half-spread.
	assert.Equal(t, "1.19999", resp.ClosePrice)
}

func TestCloseOrder_AdminInitiatorRecorded(t *testing.T) {
	sc := newTestContext(t)
	ctx := context.Background()
	opened, err := logic.NewInstantOrderLogic(ctx, sc).InstantOrder(instantReq())
	require.NoError(t, err)

	_, err = logic.NewCloseOrderLogic(ctx, sc).CloseOrder(&types.CloseOrderReq{
		UserID: 42, UserType: "live", OrderID: opened.OrderID, Admin: true,
	})
	require.NoError(t, err)

	snap, err := logic.NewGetOrderLogic(ctx, sc).GetOrder(&types.GetOrderReq{
		OrderID: opened.OrderID, UserID: 42, UserType: "live",
	})
	require.NoError(t, err)
	assert.Equal(t, string(model.CloseAdminClosed), snap.CloseReason)
}

func TestModifySLTP_SetThenClear(t *testing.T) {
	sc := newTestContext(t)
	ctx := context.Background()
	opened, err := logic.NewInstantOrderLogic(ctx, sc).InstantOrder(instantReq())
	require.NoError(t, err)

	ml := logic.NewModifySLTPLogic(ctx, sc)
	resp, err := ml.ModifySLTP(&types.ModifySLTPReq{
		UserID: 42, UserType: "live", OrderID: opened.OrderID,
		StopLoss: "1.19000", TakeProfit: "1.21000",
	})
	require.NoError(t, err)
	assert.Equal(t, "OPEN", resp.OrderStatus)

	gl := logic.NewGetOrderLogic(ctx, sc)
	snap, err := gl.GetOrder(&types.GetOrderReq{OrderID: opened.OrderID, UserID: 42, UserType: "live"})
	require.NoError(t, err)
	assert.Equal(t, "1.19", snap.StopLoss)
	assert.Equal(t, "1.21", snap.TakeProfit)

	// "0" clears a level; an absent field leaves it alone.
	_, err = ml.ModifySLTP(&types.ModifySLTPReq{
		UserID: 42, UserType: "live", OrderID: opened.OrderID, StopLoss: "0",
	})
	require.NoError(t, err)
	snap, err = gl.GetOrder(&types.GetOrderReq{OrderID: opened.OrderID, UserID: 42, UserType: "live"})
	require.NoError(t, err)
	assert.Empty(t, snap.StopLoss)
	assert.Equal(t, "1.21", snap.TakeProfit)
}

func TestGetOrder_NotFound(t *testing.T) {
	sc := newTestContext(t)
	_, err := logic.NewGetOrderLogic(context.Background(), sc).GetOrder(&types.GetOrderReq{
		OrderID: "ORD-missing", UserID: 42, UserType: "live",
	})
	require.Error(t, err)
	assert.Equal(t, reason.OrderNotFound, reason.CodeOf(err))
}

func TestPortfolio_LiveFallbackThenSnapshot(t *testing.T) {
	sc := newTestContext(t)
	ctx := context.Background()
	pl := logic.NewPortfolioLogic(ctx, sc)

	resp, err := pl.Portfolio(&types.PortfolioReq{UserID: 42, UserType: "live"})
	require.NoError(t, err)
	assert.True(t, resp.Live)
	assert.Equal(t, "10000", resp.Equity)
	assert.Equal(t, "0", resp.UsedMarginUSD)

	snap := &model.PortfolioSnapshot{
		UserType: model.UserLive, UserID: 42,
		UsedMarginUSD: dec("12.0003"), UnrealizedPL: dec("-0.03"),
		Equity: dec("9999.97"), FreeMargin: dec("9987.9697"),
		MarginLevel: dec("833.31"), UpdatedMs: time.Now().UnixMilli(),
	}
	require.NoError(t, sc.Store.HSet(ctx, keys.PortfolioKey("live", 42), snap.ToHash()))

	resp, err = pl.Portfolio(&types.PortfolioReq{UserID: 42, UserType: "live"})
	require.NoError(t, err)
	assert.False(t, resp.Live)
	assert.Equal(t, "9999.97", resp.Equity)
	assert.Equal(t, "12.0003", resp.UsedMarginUSD)
}

func TestHealthz_ReportsFeedAge(t *testing.T) {
	sc := newTestContext(t)
	ctx := context.Background()
	hl := logic.NewHealthzLogic(ctx, sc)

	// No symbols configured: feed age is unknown, not a failure.
	resp, err := hl.Healthz()
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "in-memory", resp.Store)
	assert.Equal(t, "in-memory", resp.Queue)
	assert.Equal(t, int64(-1), resp.FeedAgeMs)

	sc.Config.Feed.Symbols = []string{"EURUSD"}
	resp, err = hl.Healthz()
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.GreaterOrEqual(t, resp.FeedAgeMs, int64(0))
	assert.Less(t, resp.FeedAgeMs, int64(15000))
}

func TestHealthz_DegradedOnStaleOrMissingFeed(t *testing.T) {
	sc := newTestContext(t)
	ctx := context.Background()
	hl := logic.NewHealthzLogic(ctx, sc)

	sc.Config.Feed.Symbols = []string{"GBPUSD"} // never ticked
	resp, err := hl.Healthz()
	require.NoError(t, err)
	assert.Equal(t, "degraded", resp.Status)

	stale := &model.MarketTick{
		Symbol: "GBPUSD", Bid: dec("1.27"), Ask: dec("1.2702"),
		TsMs: time.Now().Add(-time.Minute).UnixMilli(), Source: model.SourceFeed,
	}
	require.NoError(t, sc.Store.HSet(ctx, keys.MarketKey("GBPUSD"), stale.ToHash()))
	resp, err = hl.Healthz()
	require.NoError(t, err)
	assert.Equal(t, "degraded", resp.Status)
	assert.Greater(t, resp.FeedAgeMs, int64(15000))
}
