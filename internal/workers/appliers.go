// Package workers applies order lifecycle transitions. One applier per
// transition kind, each fed by its own queue; the trigger engine and the
// executor call the same appliers directly for local-routing accounts, so a
// transition behaves identically whether a provider reported it or the core
// synthesized it.
//
// Every applier is idempotent through the status guard: a report whose
// order already sits at (or past) the transition's target is acked as a
// replay, never reapplied.
package workers

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"fxcore/internal/keys"
	"fxcore/internal/margin"
	"fxcore/internal/model"
	"fxcore/internal/pricing"
	"fxcore/internal/queue"
	"fxcore/internal/reason"
	"fxcore/internal/store"
	"fxcore/internal/trigger"
)

// Appliers holds the shared collaborators of all transition handlers.
type Appliers struct {
	store   store.Store
	bus     queue.Bus
	pricing *pricing.Resolver
	margin  *margin.Engine
	reg     *trigger.Registrar
	now     func() time.Time
}

func NewAppliers(st store.Store, bus queue.Bus, pr *pricing.Resolver, me *margin.Engine, reg *trigger.Registrar) *Appliers {
	return &Appliers{store: st, bus: bus, pricing: pr, margin: me, reg: reg, now: time.Now}
}

// ApplyOpen confirms a fill: QUEUED (provider ack) or PENDING (activation)
// becomes OPEN. Margin and entry commission are recomputed at the actual
// fill price, the holdings mirror materializes, and protection levels arm
// for locally-watched orders.
func (a *Appliers) ApplyOpen(ctx context.Context, rpt *model.ExecReport) error {
	o, err := a.loadOrder(ctx, rpt)
	if err != nil {
		return err
	}
	switch {
	case o == nil:
		return nil
	case o.Status == model.StatusOpen:
		return nil // replay
	case o.Status.Terminal():
		logx.Errorf("workers: fill %s for terminal order %s (%s), dropping", rpt.ExecID, o.OrderID, o.Status)
		return nil
	case o.Status != model.StatusQueued && o.Status != model.StatusPending:
		logx.Errorf("workers: fill %s for order %s in %s, dropping", rpt.ExecID, o.OrderID, o.Status)
		return nil
	}
	wasPending := o.Status == model.StatusPending

	user, err := a.margin.LoadUser(ctx, o.UserType, o.UserID)
	if err != nil {
		return err
	}
	spec, err := a.pricing.Groups().Load(ctx, user.Group, o.Symbol)
	if err != nil {
		return err
	}

	px := o.EntryPrice
	if rpt.AvgPx.IsPositive() {
		px = rpt.AvgPx
	}
	qty := o.Quantity
	if rpt.CumQty.IsPositive() {
		qty = rpt.CumQty
	}

	// The position exists at the venue whatever our conversion table says,
	// so the recompute converts non-strictly and books what it can.
	m, err := margin.PerOrderMargin(spec, qty, px, user.Leverage)
	if err != nil {
		return err
	}
	marginUSD, err := a.pricing.ConvertToUSD(ctx, m, spec.Profit, pricing.RateCache{}, false)
	if err != nil {
		return err
	}
	commission, err := a.pricing.ConvertToUSD(ctx, margin.EntryCommission(spec, qty, px), spec.Profit, pricing.RateCache{}, false)
	if err != nil {
		return err
	}

	o.Status = model.StatusOpen
	o.EntryPrice = px
	o.Quantity = qty
	o.MarginUSD = marginUSD
	o.CommissionEntry = commission

	ut, uid := o.UserType.String(), o.UserID
	pipe := a.store.Pipeline()
	pipe.HSet(keys.OrderDataKey(ut, uid, o.OrderID), o.ToHash())
	pipe.HSet(keys.UserHoldingKey(ut, uid, o.OrderID), model.HoldingOf(o).ToHash())
	pipe.SAdd(keys.HoldingsIndexKey(ut, uid), o.OrderID)
	if err := pipe.Exec(ctx); err != nil {
		return err
	}
	if err := a.store.SAdd(ctx, keys.SymbolHoldersKey(o.Symbol, ut), keys.UserTag(ut, uid)); err != nil {
		return err
	}

	if wasPending {
		if err := a.reg.RemoveActivation(ctx, o.OrderID, o.Symbol, o.Side); err != nil {
			logx.Errorf("workers: remove activation %s: %v", o.OrderID, err)
		}
	}
	// Provider-routed orders carry SL/TP at the venue; arming them locally
	// as well would fire closes the venue never sees.
	if o.RoutesLocal() {
		if err := a.reg.Register(ctx, o, user.Group); err != nil {
			logx.Errorf("workers: arm triggers %s: %v", o.OrderID, err)
		}
	}

	a.publishEvent(ctx, model.EventOrderOpened, o)
	logx.Infof("workers: open order=%s px=%s qty=%s margin=%s pending=%t", o.OrderID, px, qty, marginUSD, wasPending)
	return nil
}

// ApplyClose settles a filled close: realized P&L and exit commission at the
// fill price, margin teardown, trigger removal, close attribution from the
// CloseContext (or inferred from the order's own levels for unsolicited
// venue closes).
func (a *Appliers) ApplyClose(ctx context.Context, rpt *model.ExecReport) error {
	o, err := a.loadOrder(ctx, rpt)
	if err != nil {
		return err
	}
	switch {
	case o == nil:
		return nil
	case o.Status == model.StatusClosed:
		return nil // replay
	case o.Status.Terminal():
		logx.Errorf("workers: close %s for terminal order %s (%s), dropping", rpt.ExecID, o.OrderID, o.Status)
		return nil
	case !o.Status.OpenLike():
		logx.Errorf("workers: close %s for order %s in %s, dropping", rpt.ExecID, o.OrderID, o.Status)
		return nil
	}
	if !rpt.AvgPx.IsPositive() {
		return reason.New(reason.InvalidRequest, "close report %s for %s carries no fill price", rpt.ExecID, o.OrderID)
	}

	user, err := a.margin.LoadUser(ctx, o.UserType, o.UserID)
	if err != nil {
		return err
	}
	spec, err := a.pricing.Groups().Load(ctx, user.Group, o.Symbol)
	if err != nil {
		return err
	}

	closePx := rpt.AvgPx
	closeReason := a.attributeClose(ctx, o, closePx)

	pl := margin.RealizedPL(o.Side, o.EntryPrice, closePx, spec.ContractSize, o.Quantity)
	plUSD, err := a.pricing.ConvertToUSD(ctx, pl, spec.Profit, pricing.RateCache{}, false)
	if err != nil {
		return err
	}
	commission, err := a.pricing.ConvertToUSD(ctx, margin.ExitCommission(spec, o.Quantity, closePx), spec.Profit, pricing.RateCache{}, false)
	if err != nil {
		return err
	}

	o.Status = model.StatusClosed
	o.ClosePrice = closePx
	o.CloseReason = closeReason
	o.RealizedPL = plUSD
	o.CommissionExit = commission
	o.ClosedTs = rpt.TsMs
	if o.ClosedTs == 0 {
		o.ClosedTs = a.now().UnixMilli()
	}

	if err := a.teardown(ctx, o); err != nil {
		return err
	}
	if err := a.store.Del(ctx, keys.CloseContextKey(o.OrderID)); err != nil {
		logx.Errorf("workers: drop close context %s: %v", o.OrderID, err)
	}

	a.publishEvent(ctx, model.EventOrderClosed, o)
	logx.Infof("workers: close order=%s px=%s reason=%s pl=%s", o.OrderID, closePx, closeReason, plUSD)
	return nil
}

// ApplyCancel finalizes a venue cancellation of a QUEUED or PENDING order.
func (a *Appliers) ApplyCancel(ctx context.Context, rpt *model.ExecReport) error {
	o, err := a.loadOrder(ctx, rpt)
	if err != nil {
		return err
	}
	switch {
	case o == nil:
		return nil
	case o.Status == model.StatusCancelled:
		return nil // replay
	case o.Status.Terminal():
		logx.Errorf("workers: cancel %s for terminal order %s (%s), dropping", rpt.ExecID, o.OrderID, o.Status)
		return nil
	case o.Status != model.StatusQueued && o.Status != model.StatusPending:
		logx.Errorf("workers: cancel %s for order %s in %s, dropping", rpt.ExecID, o.OrderID, o.Status)
		return nil
	}

	o.Status = model.StatusCancelled
	o.ClosedTs = rpt.TsMs
	if o.ClosedTs == 0 {
		o.ClosedTs = a.now().UnixMilli()
	}
	if err := a.teardown(ctx, o); err != nil {
		return err
	}

	a.publishEvent(ctx, model.EventOrderCancelled, o)
	logx.Infof("workers: cancel order=%s", o.OrderID)
	return nil
}

// ApplyReject finalizes a provider rejection of a QUEUED order. A queued
// order never materialized a holdings mirror, so the teardown only has the
// record itself to finish.
func (a *Appliers) ApplyReject(ctx context.Context, rpt *model.ExecReport) error {
	o, err := a.loadOrder(ctx, rpt)
	if err != nil {
		return err
	}
	switch {
	case o == nil:
		return nil
	case o.Status == model.StatusRejected:
		return nil // replay
	case o.Status.Terminal():
		logx.Errorf("workers: reject %s for terminal order %s (%s), dropping", rpt.ExecID, o.OrderID, o.Status)
		return nil
	case o.Status != model.StatusQueued:
		logx.Errorf("workers: reject %s for order %s in %s, dropping", rpt.ExecID, o.OrderID, o.Status)
		return nil
	}

	o.Status = model.StatusRejected
	o.ClosedTs = rpt.TsMs
	if o.ClosedTs == 0 {
		o.ClosedTs = a.now().UnixMilli()
	}
	if err := a.teardown(ctx, o); err != nil {
		return err
	}

	a.publishEvent(ctx, model.EventOrderRejected, o)
	logx.Infof("workers: reject order=%s", o.OrderID)
	return nil
}

// ApplyStopLossCancel promotes an acknowledged stop-loss cancel-replace:
// SL_PENDING returns to OPEN with the replacement level (empty NewValue
// clears it). Only the SL half of the trigger state moves.
func (a *Appliers) ApplyStopLossCancel(ctx context.Context, rpt *model.ExecReport) error {
	return a.applyLevelCancel(ctx, rpt, model.StatusSLPending)
}

// ApplyTakeProfitCancel mirrors ApplyStopLossCancel for the TP half.
func (a *Appliers) ApplyTakeProfitCancel(ctx context.Context, rpt *model.ExecReport) error {
	return a.applyLevelCancel(ctx, rpt, model.StatusTPPending)
}

func (a *Appliers) applyLevelCancel(ctx context.Context, rpt *model.ExecReport, waiting model.OrderStatus) error {
	o, err := a.loadOrder(ctx, rpt)
	if err != nil {
		return err
	}
	switch {
	case o == nil:
		return nil
	case o.Status == model.StatusOpen:
		return nil // replay, already promoted
	case o.Status.Terminal():
		logx.Errorf("workers: level cancel %s for terminal order %s (%s), dropping", rpt.ExecID, o.OrderID, o.Status)
		return nil
	case o.Status != waiting:
		logx.Errorf("workers: level cancel %s for order %s in %s (want %s), dropping", rpt.ExecID, o.OrderID, o.Status, waiting)
		return nil
	}

	level := decimal.Zero
	if rpt.NewValue != "" {
		level, err = decimal.NewFromString(rpt.NewValue)
		if err != nil {
			return reason.New(reason.InvalidRequest, "level cancel %s for %s: bad new value %q", rpt.ExecID, o.OrderID, rpt.NewValue)
		}
	}

	var field string
	if waiting == model.StatusSLPending {
		o.StopLoss, field = level, "stop_loss"
	} else {
		o.TakeProfit, field = level, "take_profit"
	}
	o.Status = model.StatusOpen

	ut, uid := o.UserType.String(), o.UserID
	fieldVal := ""
	if level.IsPositive() {
		fieldVal = level.String()
	}
	pipe := a.store.Pipeline()
	pipe.HSet(keys.OrderDataKey(ut, uid, o.OrderID), map[string]string{"status": string(o.Status), field: fieldVal})
	pipe.HSet(keys.UserHoldingKey(ut, uid, o.OrderID), map[string]string{"status": string(o.Status)})
	if err := pipe.Exec(ctx); err != nil {
		return err
	}

	if o.RoutesLocal() {
		user, err := a.margin.LoadUser(ctx, o.UserType, o.UserID)
		if err != nil {
			return err
		}
		if waiting == model.StatusSLPending {
			err = a.reg.SetStopLoss(ctx, o, user.Group, level)
		} else {
			err = a.reg.SetTakeProfit(ctx, o, user.Group, level)
		}
		if err != nil {
			logx.Errorf("workers: rearm %s for %s: %v", field, o.OrderID, err)
		}
	}

	a.publishEvent(ctx, model.EventOrderModified, o)
	logx.Infof("workers: %s promoted order=%s value=%q", field, o.OrderID, fieldVal)
	return nil
}

// loadOrder resolves the report's order. nil,nil means the record is gone
// (TTL'd or manually repaired): the report is stale and acked.
func (a *Appliers) loadOrder(ctx context.Context, rpt *model.ExecReport) (*model.Order, error) {
	if rpt.UserType == "" {
		return nil, reason.New(reason.InvalidRequest, "report %s for %s lacks user addressing", rpt.ExecID, rpt.OrderID)
	}
	m, err := a.store.HGetAll(ctx, keys.OrderDataKey(rpt.UserType.String(), rpt.UserID, rpt.OrderID))
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		logx.Errorf("workers: report %s for unknown order %s, dropping", rpt.ExecID, rpt.OrderID)
		return nil, nil
	}
	return model.OrderFromHash(m)
}

// attributeClose resolves why the position closed. The initiating path
// (user, admin, trigger, autocutoff) leaves a CloseContext; without one the
// venue closed on its own, so the fill price against the stored protection
// levels decides between a venue-side SL/TP fire and a plain provider close.
func (a *Appliers) attributeClose(ctx context.Context, o *model.Order, closePx decimal.Decimal) model.CloseReason {
	m, err := a.store.HGetAll(ctx, keys.CloseContextKey(o.OrderID))
	if err != nil {
		logx.Errorf("workers: read close context %s: %v", o.OrderID, err)
	}
	if cc, ok := model.CloseContextFromHash(m); ok {
		return cc.Context
	}

	if o.HasStopLoss() {
		if (o.Side == model.SideBuy && closePx.LessThanOrEqual(o.StopLoss)) ||
			(o.Side == model.SideSell && closePx.GreaterThanOrEqual(o.StopLoss)) {
			return model.CloseStopLossHit
		}
	}
	if o.HasTakeProfit() {
		if (o.Side == model.SideBuy && closePx.GreaterThanOrEqual(o.TakeProfit)) ||
			(o.Side == model.SideSell && closePx.LessThanOrEqual(o.TakeProfit)) {
			return model.CloseTakeProfitHit
		}
	}
	return model.CloseProviderClosed
}

// teardown writes the terminal record and removes every piece of live state
// the order owned: mirror, index membership, trigger entries, and the
// symbol-holders membership when this was the user's last order on the
// symbol.
func (a *Appliers) teardown(ctx context.Context, o *model.Order) error {
	ut, uid := o.UserType.String(), o.UserID
	pipe := a.store.Pipeline()
	pipe.HSet(keys.OrderDataKey(ut, uid, o.OrderID), o.ToHash())
	pipe.Del(keys.UserHoldingKey(ut, uid, o.OrderID))
	pipe.SRem(keys.HoldingsIndexKey(ut, uid), o.OrderID)
	if err := pipe.Exec(ctx); err != nil {
		return err
	}

	if err := a.reg.Deregister(ctx, o.OrderID, o.Symbol, o.Side); err != nil {
		logx.Errorf("workers: deregister triggers %s: %v", o.OrderID, err)
	}

	remaining, err := a.margin.LoadHoldings(ctx, o.UserType, o.UserID)
	if err != nil {
		logx.Errorf("workers: load holdings for symbol cleanup %s:%d: %v", ut, uid, err)
		return nil
	}
	for _, h := range remaining {
		if h.Symbol == o.Symbol {
			return nil
		}
	}
	if err := a.store.SRem(ctx, keys.SymbolHoldersKey(o.Symbol, ut), keys.UserTag(ut, uid)); err != nil {
		logx.Errorf("workers: leave symbol holders %s %s:%d: %v", o.Symbol, ut, uid, err)
	}
	return nil
}

func (a *Appliers) publishEvent(ctx context.Context, event string, o *model.Order) {
	body, err := (&model.PersistenceEvent{Event: event, Order: o, TsMs: a.now().UnixMilli()}).Encode()
	if err != nil {
		logx.Errorf("workers: encode %s for %s: %v", event, o.OrderID, err)
		return
	}
	if err := a.bus.Publish(ctx, queue.OrderDBUpdate, body); err != nil {
		logx.Errorf("workers: publish %s for %s: %v", event, o.OrderID, err)
	}
}
