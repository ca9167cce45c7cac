// Package margin computes per-order margin, commission, hedged per-symbol
// aggregation and the live portfolio state (used margin, unrealized P&L,
// equity, free margin, margin level) for one account.
package margin

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"fxcore/internal/keys"
	"fxcore/internal/model"
	"fxcore/internal/pricing"
	"fxcore/internal/reason"
	"fxcore/internal/store"
)

var hundred = decimal.NewFromInt(100)

// PerOrderMargin is the single-order margin in the group's profit currency:
// contract_size * qty * price / leverage, times the crypto factor for crypto
// instruments.
func PerOrderMargin(spec *model.GroupConfig, qty, price decimal.Decimal, leverage int64) (decimal.Decimal, error) {
	if leverage <= 0 {
		return decimal.Zero, reason.New(reason.InvalidLeverage, "leverage %d", leverage)
	}
	if !spec.CoreComplete() {
		return decimal.Zero, reason.New(reason.MissingGroupConfig, "(%s, %s) lacks contract_size/profit/type", spec.Group, spec.Symbol)
	}
	m := spec.ContractSize.Mul(qty).Mul(price).Div(decimal.NewFromInt(leverage))
	return m.Mul(spec.MarginFactor()), nil
}

func commissionAmount(spec *model.GroupConfig, qty, price decimal.Decimal) decimal.Decimal {
	if spec.CommissionRate.IsZero() {
		return decimal.Zero
	}
	if spec.CommissionValueType == model.CommissionPercent {
		return spec.CommissionRate.Div(hundred).Mul(spec.ContractSize).Mul(qty).Mul(price)
	}
	return qty.Mul(spec.CommissionRate)
}

// EntryCommission is charged when the schedule covers entry (every or
// entry-only).
func EntryCommission(spec *model.GroupConfig, qty, price decimal.Decimal) decimal.Decimal {
	if spec.CommissionType != model.CommissionEvery && spec.CommissionType != model.CommissionEntry {
		return decimal.Zero
	}
	return commissionAmount(spec, qty, price)
}

// ExitCommission is charged when the schedule covers exit (every or
// exit-only).
func ExitCommission(spec *model.GroupConfig, qty, price decimal.Decimal) decimal.Decimal {
	if spec.CommissionType != model.CommissionEvery && spec.CommissionType != model.CommissionExit {
		return decimal.Zero
	}
	return commissionAmount(spec, qty, price)
}

// HedgedSymbolMargin is one symbol's USD contribution to used margin.
// Opposing lots net out up to the smaller side; the surviving side carries
// the worst-case per-lot margin observed across the symbol's orders.
func HedgedSymbolMargin(holdings []*model.Holding) decimal.Decimal {
	var buyQty, sellQty, perLotMax decimal.Decimal
	for _, h := range holdings {
		if !h.Status.MarginActive() || !h.Quantity.IsPositive() {
			continue
		}
		perLot := h.MarginUSD.Div(h.Quantity)
		if perLot.GreaterThan(perLotMax) {
			perLotMax = perLot
		}
		if h.Side == model.SideBuy {
			buyQty = buyQty.Add(h.Quantity)
		} else {
			sellQty = sellQty.Add(h.Quantity)
		}
	}
	netQty := buyQty
	if sellQty.GreaterThan(netQty) {
		netQty = sellQty
	}
	return perLotMax.Mul(netQty)
}

// UnrealizedPL is one position's floating P&L in the profit currency: a BUY
// marks against the bid, a SELL against the ask. Pending activations carry
// margin but no exposure, so they contribute nothing.
func UnrealizedPL(h *model.Holding, spec *model.GroupConfig, tick *model.MarketTick) decimal.Decimal {
	if h == nil || tick == nil || !h.Status.OpenLike() {
		return decimal.Zero
	}
	var diff decimal.Decimal
	if h.Side == model.SideBuy {
		if !tick.Bid.IsPositive() {
			return decimal.Zero
		}
		diff = tick.Bid.Sub(h.EntryPrice)
	} else {
		if !tick.Ask.IsPositive() {
			return decimal.Zero
		}
		diff = h.EntryPrice.Sub(tick.Ask)
	}
	return diff.Mul(spec.ContractSize).Mul(h.Quantity)
}

// RealizedPL is the closed-position price P&L in the profit currency.
// Commissions are accounted separately on the order record.
func RealizedPL(side model.Side, entry, close, contractSize, qty decimal.Decimal) decimal.Decimal {
	var diff decimal.Decimal
	if side == model.SideBuy {
		diff = close.Sub(entry)
	} else {
		diff = entry.Sub(close)
	}
	return diff.Mul(contractSize).Mul(qty)
}

// Engine aggregates holdings into portfolio state.
type Engine struct {
	store   store.Store
	pricing *pricing.Resolver
}

func NewEngine(st store.Store, pr *pricing.Resolver) *Engine {
	return &Engine{store: st, pricing: pr}
}

// LoadUser reads the provisioned account record.
func (e *Engine) LoadUser(ctx context.Context, ut model.UserType, uid int64) (*model.UserConfig, error) {
	m, err := e.store.HGetAll(ctx, keys.UserConfigKey(ut.String(), uid))
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, reason.New(reason.InvalidUserStatus, "no config for %s:%d", ut, uid)
	}
	return model.UserConfigFromHash(ut, uid, m)
}

// LoadHoldings enumerates the holdings index and loads each mirror. An index
// member without a mirror is skipped: the pipelined teardown deletes the
// mirror and the index entry together, so drift here means a concurrent
// close, not corruption.
func (e *Engine) LoadHoldings(ctx context.Context, ut model.UserType, uid int64) ([]*model.Holding, error) {
	ids, err := e.store.SMembers(ctx, keys.HoldingsIndexKey(ut.String(), uid))
	if err != nil {
		return nil, err
	}
	holdings := make([]*model.Holding, 0, len(ids))
	for _, id := range ids {
		m, err := e.store.HGetAll(ctx, keys.UserHoldingKey(ut.String(), uid, id))
		if err != nil {
			return nil, err
		}
		h, err := model.HoldingFromHash(m)
		if err != nil {
			continue
		}
		holdings = append(holdings, h)
	}
	return holdings, nil
}

// Portfolio computes the account's margin state from its holdings. Extra
// holdings are simulated as if already booked, which is how an admission
// check previews the account after a new order.
//
// Used margin sums the stored USD per-order margins through the hedged
// aggregation, so it never needs a conversion at recompute time. Unrealized
// P&L converts non-strictly: a missing rate keeps the profit-currency amount
// rather than blocking the snapshot.
func (e *Engine) Portfolio(ctx context.Context, user *model.UserConfig, nowMs int64, extra ...*model.Holding) (*model.PortfolioSnapshot, error) {
	holdings, err := e.LoadHoldings(ctx, user.UserType, user.UserID)
	if err != nil {
		return nil, err
	}
	for _, h := range extra {
		if h != nil {
			holdings = append(holdings, h)
		}
	}

	bySymbol := make(map[string][]*model.Holding)
	for _, h := range holdings {
		bySymbol[h.Symbol] = append(bySymbol[h.Symbol], h)
	}

	used := decimal.Zero
	uplUSD := decimal.Zero
	rates := pricing.RateCache{}

	for symbol, group := range bySymbol {
		used = used.Add(HedgedSymbolMargin(group))

		spec, err := e.pricing.Groups().Load(ctx, user.Group, symbol)
		if err != nil {
			if reason.CodeOf(err) == reason.MissingGroupConfig {
				logx.Errorf("portfolio %s:%d: no group config for %s, skipping its P&L", user.UserType, user.UserID, symbol)
				continue
			}
			return nil, err
		}
		tick, err := e.readTick(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if tick == nil {
			continue
		}
		rates[symbol] = tick

		for _, h := range group {
			pl := UnrealizedPL(h, spec, tick)
			if pl.IsZero() {
				continue
			}
			usd, err := e.pricing.ConvertToUSD(ctx, pl, spec.Profit, rates, false)
			if err != nil {
				return nil, err
			}
			uplUSD = uplUSD.Add(usd)
		}
	}

	equity := user.WalletBalance.Add(uplUSD)
	level := decimal.Zero
	if used.IsPositive() {
		level = equity.Div(used)
	}
	return &model.PortfolioSnapshot{
		UserType:      user.UserType,
		UserID:        user.UserID,
		UsedMarginUSD: used,
		UnrealizedPL:  uplUSD,
		Equity:        equity,
		FreeMargin:    equity.Sub(used),
		MarginLevel:   level,
		UpdatedMs:     nowMs,
	}, nil
}

func (e *Engine) readTick(ctx context.Context, symbol string) (*model.MarketTick, error) {
	m, err := e.store.HGetAll(ctx, keys.MarketKey(symbol))
	if err != nil {
		return nil, err
	}
	tick, ok := model.MarketTickFromHash(symbol, m)
	if !ok {
		return nil, nil
	}
	return tick, nil
}
