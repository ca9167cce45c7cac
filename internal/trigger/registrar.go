// Package trigger maintains the price-crossing indexes (stop-loss,
// take-profit, pending activation) and fires orders whose stored score the
// market has crossed. Index scores live in raw bid/ask price space with the
// group's half-spread baked in at registration time, so the scan compares
// raw quotes against scores directly.
package trigger

import (
	"context"

	"github.com/shopspring/decimal"

	"fxcore/internal/keys"
	"fxcore/internal/model"
	"fxcore/internal/pricing"
	"fxcore/internal/store"
)

// CloseScore is the index score for a level that closes the position
// (SL/TP). Closing a BUY executes at bid-half_spread, so the raw bid must
// reach level+half_spread; a SELL symmetrically on the ask.
func CloseScore(side model.Side, level, halfSpread decimal.Decimal) decimal.Decimal {
	if side == model.SideBuy {
		return level.Add(halfSpread)
	}
	return level.Sub(halfSpread)
}

// ActivationScore is the index score for a pending order's entry level. A
// pending BUY fills at ask+half_spread, so the raw ask must come down to
// level-half_spread; a SELL symmetrically on the bid.
func ActivationScore(side model.Side, level, halfSpread decimal.Decimal) decimal.Decimal {
	if side == model.SideBuy {
		return level.Sub(halfSpread)
	}
	return level.Add(halfSpread)
}

// Registrar writes and removes trigger state. The order_triggers inversion
// hash is written before any index entry and deleted after the last one, so
// an index hit can always be inverted back to its owner.
type Registrar struct {
	store   store.Store
	pricing *pricing.Resolver
}

func NewRegistrar(st store.Store, pr *pricing.Resolver) *Registrar {
	return &Registrar{store: st, pricing: pr}
}

// Register indexes the triggers the order is currently eligible for: SL and
// TP once the position is open-like, the activation level while it is
// PENDING. A pending order's SL/TP values are recorded in the inversion hash
// but not indexed until activation, so a swing through the SL level cannot
// close a position that does not exist yet. group is the owning user's group
// (half-spread source). Orders with nothing to index write nothing.
func (r *Registrar) Register(ctx context.Context, o *model.Order, group string) error {
	hasSL := o.Status.OpenLike() && o.HasStopLoss()
	hasTP := o.Status.OpenLike() && o.HasTakeProfit()
	hasActivation := o.Status == model.StatusPending && o.ActivationPrice.IsPositive()
	if !hasSL && !hasTP && !hasActivation {
		return nil
	}

	half, _, err := r.pricing.HalfSpread(ctx, group, o.Symbol)
	if err != nil {
		return err
	}

	meta := &model.OrderTriggers{
		UserType:   o.UserType,
		UserID:     o.UserID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		StopLoss:   o.StopLoss,
		TakeProfit: o.TakeProfit,
	}
	if hasActivation {
		meta.PendingPrice = o.ActivationPrice
	}
	if err := r.store.HSet(ctx, keys.OrderTriggersKey(o.OrderID), meta.ToHash()); err != nil {
		return err
	}

	pipe := r.store.Pipeline()
	if hasSL {
		score, _ := CloseScore(o.Side, o.StopLoss, half).Float64()
		pipe.ZAdd(keys.SLIndexKey(o.Symbol, o.Side.String()), score, o.OrderID)
	}
	if hasTP {
		score, _ := CloseScore(o.Side, o.TakeProfit, half).Float64()
		pipe.ZAdd(keys.TPIndexKey(o.Symbol, o.Side.String()), score, o.OrderID)
	}
	if hasActivation {
		score, _ := ActivationScore(o.Side, o.ActivationPrice, half).Float64()
		pipe.ZAdd(keys.PendingIndexKey(o.Symbol, o.Side.String()), score, o.OrderID)
	}
	return pipe.Exec(ctx)
}

// Deregister removes every index entry and the inversion hash. Idempotent:
// removing an unregistered order is a no-op.
func (r *Registrar) Deregister(ctx context.Context, orderID, symbol string, side model.Side) error {
	pipe := r.store.Pipeline()
	pipe.ZRem(keys.SLIndexKey(symbol, side.String()), orderID)
	pipe.ZRem(keys.TPIndexKey(symbol, side.String()), orderID)
	pipe.ZRem(keys.PendingIndexKey(symbol, side.String()), orderID)
	if err := pipe.Exec(ctx); err != nil {
		return err
	}
	return r.store.Del(ctx, keys.OrderTriggersKey(orderID))
}

// SetStopLoss re-scores (or creates) the SL half of the trigger state,
// leaving TP untouched. A zero level removes the half instead.
func (r *Registrar) SetStopLoss(ctx context.Context, o *model.Order, group string, level decimal.Decimal) error {
	if level.IsZero() {
		return r.RemoveStopLoss(ctx, o.OrderID, o.Symbol, o.Side)
	}
	half, _, err := r.pricing.HalfSpread(ctx, group, o.Symbol)
	if err != nil {
		return err
	}
	if err := r.ensureMeta(ctx, o); err != nil {
		return err
	}
	if err := r.store.HSet(ctx, keys.OrderTriggersKey(o.OrderID), map[string]string{"stop_loss": level.String()}); err != nil {
		return err
	}
	score, _ := CloseScore(o.Side, level, half).Float64()
	return r.store.ZAdd(ctx, keys.SLIndexKey(o.Symbol, o.Side.String()), score, o.OrderID)
}

// SetTakeProfit mirrors SetStopLoss for the TP half.
func (r *Registrar) SetTakeProfit(ctx context.Context, o *model.Order, group string, level decimal.Decimal) error {
	if level.IsZero() {
		return r.RemoveTakeProfit(ctx, o.OrderID, o.Symbol, o.Side)
	}
	half, _, err := r.pricing.HalfSpread(ctx, group, o.Symbol)
	if err != nil {
		return err
	}
	if err := r.ensureMeta(ctx, o); err != nil {
		return err
	}
	if err := r.store.HSet(ctx, keys.OrderTriggersKey(o.OrderID), map[string]string{"take_profit": level.String()}); err != nil {
		return err
	}
	score, _ := CloseScore(o.Side, level, half).Float64()
	return r.store.ZAdd(ctx, keys.TPIndexKey(o.Symbol, o.Side.String()), score, o.OrderID)
}

// RemoveStopLoss removes only the SL half of the trigger state.
func (r *Registrar) RemoveStopLoss(ctx context.Context, orderID, symbol string, side model.Side) error {
	if _, err := r.store.ZRem(ctx, keys.SLIndexKey(symbol, side.String()), orderID); err != nil {
		return err
	}
	return r.store.HSet(ctx, keys.OrderTriggersKey(orderID), map[string]string{"stop_loss": ""})
}

// RemoveTakeProfit removes only the TP half of the trigger state.
func (r *Registrar) RemoveTakeProfit(ctx context.Context, orderID, symbol string, side model.Side) error {
	if _, err := r.store.ZRem(ctx, keys.TPIndexKey(symbol, side.String()), orderID); err != nil {
		return err
	}
	return r.store.HSet(ctx, keys.OrderTriggersKey(orderID), map[string]string{"take_profit": ""})
}

// RemoveActivation removes the pending-activation entry once an order leaves
// PENDING.
func (r *Registrar) RemoveActivation(ctx context.Context, orderID, symbol string, side model.Side) error {
	_, err := r.store.ZRem(ctx, keys.PendingIndexKey(symbol, side.String()), orderID)
	return err
}

// ensureMeta backfills the inversion hash for orders registered before they
// had any trigger (SetStopLoss on an order that opened without one).
func (r *Registrar) ensureMeta(ctx context.Context, o *model.Order) error {
	m, err := r.store.HGetAll(ctx, keys.OrderTriggersKey(o.OrderID))
	if err != nil {
		return err
	}
	if len(m) > 0 {
		return nil
	}
	meta := &model.OrderTriggers{
		UserType: o.UserType,
		UserID:   o.UserID,
		Symbol:   o.Symbol,
		Side:     o.Side,
	}
	return r.store.HSet(ctx, keys.OrderTriggersKey(o.OrderID), meta.ToHash())
}
