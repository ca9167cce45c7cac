package pricing

import (
	"context"

	"github.com/shopspring/decimal"

	"fxcore/internal/keys"
	"fxcore/internal/model"
	"fxcore/internal/reason"
	"fxcore/internal/store"
)

var two = decimal.NewFromInt(2)

// Quote is a resolved execution price.
type Quote struct {
	ExecPrice  decimal.Decimal
	RawPrice   decimal.Decimal
	HalfSpread decimal.Decimal
	GroupUsed  string
}

// RateCache is a caller-supplied snapshot of market ticks keyed by symbol
// (e.g. "EURUSD"). The portfolio recalculator builds one per flush cycle so
// a thousand conversions do not mean a thousand store reads.
type RateCache map[string]*model.MarketTick

// Resolver prices orders and converts currencies against the market cache.
type Resolver struct {
	store  store.Store
	groups *Groups
}

func NewResolver(st store.Store, groups *Groups) *Resolver {
	return &Resolver{store: st, groups: groups}
}

// Groups exposes the underlying spec loader for callers that need the raw
// group row (margin, triggers).
func (r *Resolver) Groups() *Groups { return r.groups }

// HalfSpread resolves the group's half-spread for symbol, falling back to
// the Standard group. Missing or incomplete spread data is
// invalid_spread_data.
func (r *Resolver) HalfSpread(ctx context.Context, userGroup, symbol string) (decimal.Decimal, string, error) {
	spec, err := r.groups.Load(ctx, userGroup, symbol)
	if err != nil {
		if reason.CodeOf(err) == reason.MissingGroupConfig {
			return decimal.Zero, "", reason.New(reason.InvalidSpreadData, "no spread data for (%s, %s)", userGroup, symbol)
		}
		return decimal.Zero, "", err
	}
	if !spec.SpreadComplete() {
		return decimal.Zero, "", reason.New(reason.InvalidSpreadData, "incomplete spread data for (%s, %s)", spec.Group, symbol)
	}
	half := decimal.NewFromInt(spec.Spread).Mul(spec.SpreadPip).Div(two)
	return half, spec.Group, nil
}

// ExecutionPrice resolves the price a (group, symbol, side) order executes
// at: raw ask for BUY / raw bid for SELL, shifted outward by the group's
// half-spread. Snapshots marked warmup_fallback are not executable and
// surface as missing_market_price.
func (r *Resolver) ExecutionPrice(ctx context.Context, userGroup, symbol string, side model.Side) (*Quote, error) {
	half, groupUsed, err := r.HalfSpread(ctx, userGroup, symbol)
	if err != nil {
		return nil, err
	}

	tick, err := r.readTick(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if tick == nil || !tick.Tradable() {
		return nil, reason.New(reason.MissingMarketPrice, "no executable market price for %s", symbol)
	}

	var raw, exec decimal.Decimal
	switch side {
	case model.SideBuy:
		raw = tick.Ask
		exec = raw.Add(half)
	case model.SideSell:
		raw = tick.Bid
		exec = raw.Sub(half)
	default:
		return nil, reason.New(reason.InvalidOrderType, "unknown side %q", side)
	}

	return &Quote{
		ExecPrice:  exec,
		RawPrice:   raw,
		HalfSpread: half,
		GroupUsed:  groupUsed,
	}, nil
}

// ConvertToUSD converts amount from a profit currency into USD using the
// direct pair's ask, then the inverse pair's ask, first in the supplied
// cache and then in the live market store. Ask (not mid) over-estimates the
// USD amount a margin check needs, which is the safe direction. In strict
// mode a missing rate is conversion_rate_missing; otherwise the unconverted
// amount is returned.
func (r *Resolver) ConvertToUSD(ctx context.Context, amount decimal.Decimal, from string, cache RateCache, strict bool) (decimal.Decimal, error) {
	if from == "" || from == "USD" {
		return amount, nil
	}
	direct := from + "USD"
	inverse := "USD" + from

	if tick, ok := cache[direct]; ok && tick != nil && tick.Ask.IsPositive() {
		return amount.Mul(tick.Ask), nil
	}
	if tick, ok := cache[inverse]; ok && tick != nil && tick.Ask.IsPositive() {
		return amount.Div(tick.Ask), nil
	}

	tick, err := r.readTick(ctx, direct)
	if err != nil {
		return decimal.Zero, err
	}
	if tick != nil && tick.Ask.IsPositive() {
		return amount.Mul(tick.Ask), nil
	}
	tick, err = r.readTick(ctx, inverse)
	if err != nil {
		return decimal.Zero, err
	}
	if tick != nil && tick.Ask.IsPositive() {
		return amount.Div(tick.Ask), nil
	}

	if strict {
		return decimal.Zero, reason.New(reason.ConversionRateMissing, "no %s→USD rate", from)
	}
	return amount, nil
}

func (r *Resolver) readTick(ctx context.Context, symbol string) (*model.MarketTick, error) {
	m, err := r.store.HGetAll(ctx, keys.MarketKey(symbol))
	if err != nil {
		return nil, err
	}
	tick, ok := model.MarketTickFromHash(symbol, m)
	if !ok {
		return nil, nil
	}
	return tick, nil
}
