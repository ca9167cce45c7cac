package margin

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxcore/internal/keys"
	"fxcore/internal/model"
	"fxcore/internal/pricing"
	"fxcore/internal/reason"
	"fxcore/internal/store"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func eurusdSpec() *model.GroupConfig {
	return model.NewGroupConfig("Standard", "EURUSD", model.GroupTypeForex, dec("1000"), "USD", 2, dec("0.00001"))
}

func TestPerOrderMargin(t *testing.T) {
	// 1000 * 1 * 1.20001 / 100 = 12.0001
	m, err := PerOrderMargin(eurusdSpec(), dec("1"), dec("1.20001"), 100)
	require.NoError(t, err)
	assert.True(t, m.Equal(dec("12.0001")), "got %s", m)
}

func TestPerOrderMargin_CryptoFactor(t *testing.T) {
	spec := model.NewGroupConfig("Standard", "BTCUSD", model.GroupTypeCrypto, dec("1"), "USD", 10, dec("0.01")).
		WithCryptoFactor(dec("2"))
	m, err := PerOrderMargin(spec, dec("0.5"), dec("40000"), 10)
	require.NoError(t, err)
	// 1 * 0.5 * 40000 / 10 = 2000, ×2 crypto factor = 4000
	assert.True(t, m.Equal(dec("4000")), "got %s", m)
}

func TestPerOrderMargin_Guards(t *testing.T) {
	_, err := PerOrderMargin(eurusdSpec(), dec("1"), dec("1.2"), 0)
	assert.Equal(t, reason.InvalidLeverage, reason.CodeOf(err))

	incomplete, err2 := model.GroupConfigFromHash("Standard", "EURUSD", map[string]string{"spread": "2", "spread_pip": "0.00001"})
	require.NoError(t, err2)
	_, err = PerOrderMargin(incomplete, dec("1"), dec("1.2"), 100)
	assert.Equal(t, reason.MissingGroupConfig, reason.CodeOf(err))
}

func TestCommission_PerLot(t *testing.T) {
	spec := eurusdSpec().WithCommission(dec("3"), model.CommissionEvery, model.CommissionPerLot)
	assert.True(t, EntryCommission(spec, dec("2"), dec("1.2")).Equal(dec("6")), "2 lots * 3/lot")
	assert.True(t, ExitCommission(spec, dec("2"), dec("1.2")).Equal(dec("6")))
}

func TestCommission_Percent(t *testing.T) {
	spec := eurusdSpec().WithCommission(dec("0.1"), model.CommissionEvery, model.CommissionPercent)
	// 0.1/100 * 1000 * 2 * 1.2 = 2.4
	assert.True(t, EntryCommission(spec, dec("2"), dec("1.2")).Equal(dec("2.4")))
}

func TestCommission_StageFiltering(t *testing.T) {
	entryOnly := eurusdSpec().WithCommission(dec("3"), model.CommissionEntry, model.CommissionPerLot)
	assert.True(t, EntryCommission(entryOnly, dec("1"), dec("1.2")).Equal(dec("3")))
	assert.True(t, ExitCommission(entryOnly, dec("1"), dec("1.2")).IsZero())

	exitOnly := eurusdSpec().WithCommission(dec("3"), model.CommissionExit, model.CommissionPerLot)
	assert.True(t, EntryCommission(exitOnly, dec("1"), dec("1.2")).IsZero())
	assert.True(t, ExitCommission(exitOnly, dec("1"), dec("1.2")).Equal(dec("3")))
}

func holding(id, symbol string, side model.Side, qty, marginUSD string, status model.OrderStatus) *model.Holding {
	return &model.Holding{
		OrderID:    id,
		Symbol:     symbol,
		Side:       side,
		Quantity:   dec(qty),
		EntryPrice: dec("1.2"),
		MarginUSD:  dec(marginUSD),
		Status:     status,
	}
}

func TestHedgedSymbolMargin_NettingAndWorstPerLot(t *testing.T) {
	// BUY 3 lots at 10/lot, SELL 2 lots at 14/lot → net 3 lots, worst 14/lot = 42.
	contribution := HedgedSymbolMargin([]*model.Holding{
		holding("1", "EURUSD", model.SideBuy, "3", "30", model.StatusOpen),
		holding("2", "EURUSD", model.SideSell, "2", "28", model.StatusOpen),
	})
	assert.True(t, contribution.Equal(dec("42")), "got %s", contribution)
}

func TestHedgedSymbolMargin_FullyHedged(t *testing.T) {
	// Equal sides: net = the common qty, not zero.
	contribution := HedgedSymbolMargin([]*model.Holding{
		holding("1", "EURUSD", model.SideBuy, "2", "24", model.StatusOpen),
		holding("2", "EURUSD", model.SideSell, "2", "24", model.StatusOpen),
	})
	assert.True(t, contribution.Equal(dec("24")), "got %s", contribution)
}

func TestHedgedSymbolMargin_SingleOrderIsItsOwnMargin(t *testing.T) {
	contribution := HedgedSymbolMargin([]*model.Holding{
		holding("1", "EURUSD", model.SideBuy, "1", "12.0001", model.StatusOpen),
	})
	assert.True(t, contribution.Equal(dec("12.0001")))
}

func TestUnrealizedPL_Directions(t *testing.T) {
	spec := eurusdSpec()
	tick := &model.MarketTick{Symbol: "EURUSD", Bid: dec("1.21"), Ask: dec("1.22"), TsMs: 1, Source: model.SourceFeed}

	buy := holding("1", "EURUSD", model.SideBuy, "1", "12", model.StatusOpen)
	buy.EntryPrice = dec("1.20")
	// (1.21-1.20) * 1000 * 1 = 10
	assert.True(t, UnrealizedPL(buy, spec, tick).Equal(dec("10")))

	sell := holding("2", "EURUSD", model.SideSell, "1", "12", model.StatusOpen)
	sell.EntryPrice = dec("1.20")
	// (1.20-1.22) * 1000 * 1 = -20
	assert.True(t, UnrealizedPL(sell, spec, tick).Equal(dec("-20")))
}

func TestUnrealizedPL_PendingHasNoExposure(t *testing.T) {
	spec := eurusdSpec()
	tick := &model.MarketTick{Symbol: "EURUSD", Bid: dec("1.21"), Ask: dec("1.22"), TsMs: 1}
	pend := holding("1", "EURUSD", model.SideBuy, "1", "12", model.StatusPending)
	assert.True(t, UnrealizedPL(pend, spec, tick).IsZero())
}

func TestRealizedPL(t *testing.T) {
	assert.True(t, RealizedPL(model.SideBuy, dec("1.20"), dec("1.25"), dec("1000"), dec("1")).Equal(dec("50")))
	assert.True(t, RealizedPL(model.SideSell, dec("1.20"), dec("1.25"), dec("1000"), dec("1")).Equal(dec("-50")))
}

// --- portfolio over the mem store ------------------------------------------------

func seedUser(t *testing.T, st store.Store, u *model.UserConfig) {
	t.Helper()
	require.NoError(t, st.HSet(context.Background(), keys.UserConfigKey(u.UserType.String(), u.UserID), u.ToHash()))
}

func seedHolding(t *testing.T, st store.Store, ut model.UserType, uid int64, h *model.Holding) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.HSet(ctx, keys.UserHoldingKey(ut.String(), uid, h.OrderID), h.ToHash()))
	require.NoError(t, st.SAdd(ctx, keys.HoldingsIndexKey(ut.String(), uid), h.OrderID))
}

func seedSpec(t *testing.T, st store.Store, spec *model.GroupConfig) {
	t.Helper()
	require.NoError(t, st.HSet(context.Background(), keys.GroupSymbolKey(spec.Group, spec.Symbol), spec.ToHash()))
}

func seedTick(t *testing.T, st store.Store, symbol, bid, ask string) {
	t.Helper()
	tick := model.MarketTick{Symbol: symbol, Bid: dec(bid), Ask: dec(ask), TsMs: 1720000000000, Source: model.SourceFeed}
	require.NoError(t, st.HSet(context.Background(), keys.MarketKey(symbol), tick.ToHash()))
}

func newEngine(st store.Store) *Engine {
	return NewEngine(st, pricing.NewResolver(st, pricing.NewGroups(st, nil)))
}

func TestPortfolio_EmptyAccount(t *testing.T) {
	st := store.NewMem()
	user := &model.UserConfig{UserType: model.UserLive, UserID: 42, Group: "Standard", Leverage: 100, WalletBalance: dec("10000"), Status: model.UserStatusEnabled}
	seedUser(t, st, user)

	snap, err := newEngine(st).Portfolio(context.Background(), user, 1720000000000)
	require.NoError(t, err)
	assert.True(t, snap.UsedMarginUSD.IsZero())
	assert.True(t, snap.Equity.Equal(dec("10000")))
	assert.True(t, snap.FreeMargin.Equal(dec("10000")))
	assert.True(t, snap.MarginLevel.IsZero(), "no used margin, level undefined → 0")
}

func TestPortfolio_SinglePosition(t *testing.T) {
	st := store.NewMem()
	user := &model.UserConfig{UserType: model.UserLive, UserID: 42, Group: "Standard", Leverage: 100, WalletBalance: dec("10000"), Status: model.UserStatusEnabled}
	seedUser(t, st, user)
	seedSpec(t, st, eurusdSpec())
	seedTick(t, st, "EURUSD", "1.21", "1.22")

	h := holding("1000000000000001", "EURUSD", model.SideBuy, "1", "12.0001", model.StatusOpen)
	h.EntryPrice = dec("1.20001")
	seedHolding(t, st, model.UserLive, 42, h)

	snap, err := newEngine(st).Portfolio(context.Background(), user, 1720000000000)
	require.NoError(t, err)
	assert.True(t, snap.UsedMarginUSD.Equal(dec("12.0001")), "used=%s", snap.UsedMarginUSD)
	// (1.21 - 1.20001) * 1000 = 9.99 USD
	assert.True(t, snap.UnrealizedPL.Equal(dec("9.99")), "upl=%s", snap.UnrealizedPL)
	assert.True(t, snap.Equity.Equal(dec("10009.99")))
	assert.True(t, snap.FreeMargin.Equal(dec("9997.9899")))
	assert.True(t, snap.MarginLevel.GreaterThan(dec("800")), "level=%s", snap.MarginLevel)
}

func TestPortfolio_SimulatedAdmission(t *testing.T) {
	st := store.NewMem()
	user := &model.UserConfig{UserType: model.UserLive, UserID: 7, Group: "Standard", Leverage: 100, WalletBalance: dec("20"), Status: model.UserStatusEnabled}
	seedUser(t, st, user)
	seedSpec(t, st, eurusdSpec())
	seedTick(t, st, "EURUSD", "1.19990", "1.20000")

	candidate := holding("cand", "EURUSD", model.SideBuy, "1", "12.0001", model.StatusOpen)
	candidate.EntryPrice = dec("1.20001")

	eng := newEngine(st)
	snap, err := eng.Portfolio(context.Background(), user, 1, candidate)
	require.NoError(t, err)
	assert.True(t, snap.FreeMargin.IsPositive(), "20 wallet supports 12.0001 margin")

	// A second identical order would need 24.0002 > 20 + small negative upl.
	second := holding("cand2", "EURUSD", model.SideBuy, "1", "12.0001", model.StatusOpen)
	second.EntryPrice = dec("1.20001")
	seedHolding(t, st, model.UserLive, 7, candidate)
	snap, err = eng.Portfolio(context.Background(), user, 1, second)
	require.NoError(t, err)
	assert.True(t, snap.FreeMargin.IsNegative(), "free=%s", snap.FreeMargin)
}

func TestPortfolio_ProfitCurrencyConversion(t *testing.T) {
	st := store.NewMem()
	user := &model.UserConfig{UserType: model.UserLive, UserID: 9, Group: "Standard", Leverage: 100, WalletBalance: dec("10000"), Status: model.UserStatusEnabled}
	seedUser(t, st, user)

	// EURGBP profits in GBP; GBPUSD provides the conversion.
	spec := model.NewGroupConfig("Standard", "EURGBP", model.GroupTypeForex, dec("1000"), "GBP", 2, dec("0.00001"))
	seedSpec(t, st, spec)
	seedTick(t, st, "EURGBP", "0.8600", "0.8602")
	seedTick(t, st, "GBPUSD", "1.2999", "1.3000")

	h := holding("1", "EURGBP", model.SideBuy, "1", "11", model.StatusOpen)
	h.EntryPrice = dec("0.8500")
	seedHolding(t, st, model.UserLive, 9, h)

	snap, err := newEngine(st).Portfolio(context.Background(), user, 1)
	require.NoError(t, err)
	// (0.8600-0.8500)*1000 = 10 GBP → ×1.3000 ask = 13 USD
	assert.True(t, snap.UnrealizedPL.Equal(dec("13")), "upl=%s", snap.UnrealizedPL)
}

func TestLoadHoldings_SkipsDanglingIndexEntries(t *testing.T) {
	st := store.NewMem()
	ctx := context.Background()
	require.NoError(t, st.SAdd(ctx, keys.HoldingsIndexKey("live", 5), "ghost"))

	eng := newEngine(st)
	holdings, err := eng.LoadHoldings(ctx, model.UserLive, 5)
	require.NoError(t, err)
	assert.Empty(t, holdings)
}

func TestLoadUser_Missing(t *testing.T) {
	st := store.NewMem()
	_, err := newEngine(st).LoadUser(context.Background(), model.UserLive, 404)
	assert.Equal(t, reason.InvalidUserStatus, reason.CodeOf(err))
}
