// Package executor is the only birthplace of orders. Every public operation
// is a chain of failure gates (idempotency, account, pricing, margin
// admission) followed by at most one durable multi-key write; anything that
// fails before the write leaves no order behind, anything after it succeeds
// from the caller's point of view because the store is ground truth.
package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"fxcore/internal/ident"
	"fxcore/internal/keys"
	"fxcore/internal/margin"
	"fxcore/internal/model"
	"fxcore/internal/pricing"
	"fxcore/internal/queue"
	"fxcore/internal/reason"
	"fxcore/internal/store"
	"fxcore/internal/trigger"
)

// idemPending marks a reservation whose final response is not in yet.
const idemPending = "__pending__"

// CloseApplier applies a synthetic close in-process for local-routing
// accounts. The lifecycle workers implement it.
type CloseApplier interface {
	ApplyClose(ctx context.Context, rpt *model.ExecReport) error
}

// Executor owns order intake: instant and pending placement, user/admin
// closes, SL/TP modification. It never talks to a provider itself; provider
// requests are returned as payloads the caller dispatches off the critical
// path.
type Executor struct {
	store   store.Store
	bus     queue.Bus
	pricing *pricing.Resolver
	margin  *margin.Engine
	reg     *trigger.Registrar
	ids     *ident.Generator
	closer  CloseApplier
	now     func() time.Time
}

func New(st store.Store, bus queue.Bus, pr *pricing.Resolver, me *margin.Engine, reg *trigger.Registrar, ids *ident.Generator) *Executor {
	return &Executor{
		store:   st,
		bus:     bus,
		pricing: pr,
		margin:  me,
		reg:     reg,
		ids:     ids,
		now:     time.Now,
	}
}

// SetCloseApplier wires the direct-apply path for local closes.
func (e *Executor) SetCloseApplier(c CloseApplier) { e.closer = c }

// InstantOrderRequest places a market order.
type InstantOrderRequest struct {
	UserType       model.UserType
	UserID         int64
	Symbol         string
	Side           model.Side
	RequestedPrice decimal.Decimal
	Quantity       decimal.Decimal
	StopLoss       decimal.Decimal
	TakeProfit     decimal.Decimal
	IdemKey        string
}

// PendingOrderRequest places an order that activates when the market reaches
// ActivationPrice.
type PendingOrderRequest struct {
	UserType        model.UserType
	UserID          int64
	Symbol          string
	Side            model.Side
	ActivationPrice decimal.Decimal
	Quantity        decimal.Decimal
	StopLoss        decimal.Decimal
	TakeProfit      decimal.Decimal
	IdemKey         string
}

// OrderResult is the canonical operation response. Dispatch carries the
// provider payload for background sending; it is json-invisible so neither
// clients nor the idempotency record ever see it.
type OrderResult struct {
	OrderID     string               `json:"order_id"`
	OrderStatus model.OrderStatus    `json:"order_status"`
	Flow        string               `json:"flow"`
	ExecPrice   decimal.Decimal      `json:"exec_price"`
	MarginUSD   decimal.Decimal      `json:"margin_usd"`
	Replayed    bool                 `json:"-"`
	Dispatch    *model.ProviderOrder `json:"-"`
}

const (
	FlowLocal    = "local"
	FlowProvider = "provider"
)

// ExecuteInstantOrder validates, prices, admits and books a market order.
// Local accounts fill synchronously at the engine price; provider accounts
// get a QUEUED record and a payload for background dispatch.
func (e *Executor) ExecuteInstantOrder(ctx context.Context, req InstantOrderRequest) (*OrderResult, error) {
	if err := validateCommon(req.Symbol, req.Side, req.Quantity); err != nil {
		return nil, err
	}

	done, res, err := e.reserveIdem(ctx, req.UserType, req.UserID, req.IdemKey)
	if done || err != nil {
		return res, err
	}

	res, err = e.executeInstant(ctx, req)
	e.settleIdem(ctx, req.UserType, req.UserID, req.IdemKey, res, err)
	return res, err
}

func (e *Executor) executeInstant(ctx context.Context, req InstantOrderRequest) (*OrderResult, error) {
	user, err := e.gateUser(ctx, req.UserType, req.UserID)
	if err != nil {
		return nil, err
	}

	if user.Route() == model.RouteLocal {
		return e.instantLocal(ctx, user, req)
	}
	return e.instantProvider(ctx, user, req)
}

func (e *Executor) instantLocal(ctx context.Context, user *model.UserConfig, req InstantOrderRequest) (*OrderResult, error) {
	quote, err := e.pricing.ExecutionPrice(ctx, user.Group, req.Symbol, req.Side)
	if err != nil {
		return nil, err
	}
	if err := validateBracket(req.Side, quote.ExecPrice, req.StopLoss, req.TakeProfit); err != nil {
		return nil, err
	}
	spec, err := e.pricing.Groups().Load(ctx, user.Group, req.Symbol)
	if err != nil {
		return nil, err
	}

	marginUSD, err := e.orderMarginUSD(ctx, spec, req.Quantity, quote.ExecPrice, user.Leverage)
	if err != nil {
		return nil, err
	}

	nowMs := e.now().UnixMilli()
	o := &model.Order{
		OrderID:         e.ids.Next(),
		UserType:        user.UserType,
		UserID:          user.UserID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Quantity:        req.Quantity,
		EntryPrice:      quote.ExecPrice,
		MarginUSD:       marginUSD,
		CommissionEntry: e.commissionUSD(ctx, margin.EntryCommission(spec, req.Quantity, quote.ExecPrice), spec.Profit),
		StopLoss:        req.StopLoss,
		TakeProfit:      req.TakeProfit,
		Status:          model.StatusOpen,
		Route:           model.RouteLocal,
		CreatedTs:       nowMs,
	}

	if err := e.admit(ctx, user, o, nowMs); err != nil {
		return nil, err
	}
	if err := e.bookActive(ctx, o); err != nil {
		return nil, err
	}
	if err := e.reg.Register(ctx, o, user.Group); err != nil {
		// The position is booked; a failed arm is repairable, a rolled-back
		// fill is not. Surface loudly and keep the order.
		logx.Errorf("executor: register triggers for %s: %v", o.OrderID, err)
	}
	e.publishEvent(ctx, model.EventOrderOpened, o)

	logx.Infof("executor: local open order=%s %s %s %s@%s margin=%s", o.OrderID, o.UserType, o.Side, o.Symbol, o.EntryPrice, o.MarginUSD)
	return &OrderResult{
		OrderID:     o.OrderID,
		OrderStatus: o.Status,
		Flow:        FlowLocal,
		ExecPrice:   o.EntryPrice,
		MarginUSD:   o.MarginUSD,
	}, nil
}

func (e *Executor) instantProvider(ctx context.Context, user *model.UserConfig, req InstantOrderRequest) (*OrderResult, error) {
	if !req.RequestedPrice.IsPositive() {
		return nil, reason.New(reason.InvalidRequest, "requested_price required for provider routing")
	}
	if err := validateBracket(req.Side, req.RequestedPrice, req.StopLoss, req.TakeProfit); err != nil {
		return nil, err
	}
	spec, err := e.pricing.Groups().Load(ctx, user.Group, req.Symbol)
	if err != nil {
		return nil, err
	}

	// Preliminary margin at the requested price; the open worker recomputes
	// at the actual fill.
	marginUSD, err := e.orderMarginUSD(ctx, spec, req.Quantity, req.RequestedPrice, user.Leverage)
	if err != nil {
		return nil, err
	}

	nowMs := e.now().UnixMilli()
	o := &model.Order{
		OrderID:    e.ids.Next(),
		UserType:   user.UserType,
		UserID:     user.UserID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Quantity:   req.Quantity,
		EntryPrice: req.RequestedPrice,
		MarginUSD:  marginUSD,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Status:     model.StatusQueued,
		Route:      user.Route(),
		CreatedTs:  nowMs,
	}

	if err := e.admit(ctx, user, o, nowMs); err != nil {
		return nil, err
	}

	// QUEUED holds no margin: just the record and the wire-id inversion. The
	// holdings mirror appears when the fill confirms.
	pipe := e.store.Pipeline()
	pipe.HSet(keys.OrderDataKey(o.UserType.String(), o.UserID, o.OrderID), o.ToHash())
	if err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	if err := e.writeRef(ctx, o.OrderID, &model.OrderRef{
		UserType: o.UserType,
		UserID:   o.UserID,
		OrderID:  o.OrderID,
		Kind:     model.ProviderReqNew,
	}); err != nil {
		return nil, err
	}
	e.publishEvent(ctx, model.EventOrderCreated, o)

	logx.Infof("executor: queued order=%s provider=%s %s %s@%s", o.OrderID, o.Route, o.Side, o.Symbol, o.EntryPrice)
	return &OrderResult{
		OrderID:     o.OrderID,
		OrderStatus: o.Status,
		Flow:        FlowProvider,
		ExecPrice:   o.EntryPrice,
		MarginUSD:   o.MarginUSD,
		Dispatch: &model.ProviderOrder{
			Kind:       model.ProviderReqNew,
			Provider:   o.Route,
			ClOrdID:    o.OrderID,
			UserType:   o.UserType,
			UserID:     o.UserID,
			Symbol:     o.Symbol,
			Side:       o.Side,
			Quantity:   o.Quantity,
			Price:      o.EntryPrice,
			StopLoss:   o.StopLoss,
			TakeProfit: o.TakeProfit,
			IdemKey:    req.IdemKey,
			TsMs:       nowMs,
		},
	}, nil
}

// PlacePendingOrder books an order that waits for the market to reach its
// activation level. Pending orders reserve margin at the activation price on
// both routes; local ones arm the activation index, provider ones wait for
// the venue's EXECUTED report.
func (e *Executor) PlacePendingOrder(ctx context.Context, req PendingOrderRequest) (*OrderResult, error) {
	if err := validateCommon(req.Symbol, req.Side, req.Quantity); err != nil {
		return nil, err
	}
	if !req.ActivationPrice.IsPositive() {
		return nil, reason.New(reason.InvalidRequest, "activation_price must be positive")
	}
	if err := validateBracket(req.Side, req.ActivationPrice, req.StopLoss, req.TakeProfit); err != nil {
		return nil, err
	}

	done, res, err := e.reserveIdem(ctx, req.UserType, req.UserID, req.IdemKey)
	if done || err != nil {
		return res, err
	}

	res, err = e.placePending(ctx, req)
	e.settleIdem(ctx, req.UserType, req.UserID, req.IdemKey, res, err)
	return res, err
}

func (e *Executor) placePending(ctx context.Context, req PendingOrderRequest) (*OrderResult, error) {
	user, err := e.gateUser(ctx, req.UserType, req.UserID)
	if err != nil {
		return nil, err
	}
	spec, err := e.pricing.Groups().Load(ctx, user.Group, req.Symbol)
	if err != nil {
		return nil, err
	}
	marginUSD, err := e.orderMarginUSD(ctx, spec, req.Quantity, req.ActivationPrice, user.Leverage)
	if err != nil {
		return nil, err
	}

	nowMs := e.now().UnixMilli()
	o := &model.Order{
		OrderID:         e.ids.Next(),
		UserType:        user.UserType,
		UserID:          user.UserID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Quantity:        req.Quantity,
		EntryPrice:      req.ActivationPrice,
		ActivationPrice: req.ActivationPrice,
		MarginUSD:       marginUSD,
		StopLoss:        req.StopLoss,
		TakeProfit:      req.TakeProfit,
		Status:          model.StatusPending,
		Route:           user.Route(),
		CreatedTs:       nowMs,
	}

	if err := e.admit(ctx, user, o, nowMs); err != nil {
		return nil, err
	}
	if err := e.bookActive(ctx, o); err != nil {
		return nil, err
	}

	res := &OrderResult{
		OrderID:     o.OrderID,
		OrderStatus: o.Status,
		Flow:        FlowLocal,
		ExecPrice:   o.ActivationPrice,
		MarginUSD:   o.MarginUSD,
	}

	if o.RoutesLocal() {
		if err := e.reg.Register(ctx, o, user.Group); err != nil {
			logx.Errorf("executor: register activation for %s: %v", o.OrderID, err)
		}
	} else {
		res.Flow = FlowProvider
		if err := e.writeRef(ctx, o.OrderID, &model.OrderRef{
			UserType: o.UserType,
			UserID:   o.UserID,
			OrderID:  o.OrderID,
			Kind:     model.ProviderReqPending,
		}); err != nil {
			return nil, err
		}
		res.Dispatch = &model.ProviderOrder{
			Kind:       model.ProviderReqPending,
			Provider:   o.Route,
			ClOrdID:    o.OrderID,
			UserType:   o.UserType,
			UserID:     o.UserID,
			Symbol:     o.Symbol,
			Side:       o.Side,
			Quantity:   o.Quantity,
			Price:      o.ActivationPrice,
			StopLoss:   o.StopLoss,
			TakeProfit: o.TakeProfit,
			IdemKey:    req.IdemKey,
			TsMs:       nowMs,
		}
	}

	e.publishEvent(ctx, model.EventOrderCreated, o)
	logx.Infof("executor: pending order=%s route=%s %s %s@%s", o.OrderID, o.Route, o.Side, o.Symbol, o.ActivationPrice)
	return res, nil
}

// CloseOrder closes an OPEN order on behalf of a user or admin. Local
// accounts close synchronously; provider accounts transition to CLOSING and
// return a close request payload keyed by a fresh CLS id.
func (e *Executor) CloseOrder(ctx context.Context, ut model.UserType, uid int64, orderID, initiator string) (*OrderResult, error) {
	o, err := e.LoadOrder(ctx, ut, uid, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != model.StatusOpen {
		return nil, reason.New(reason.OrderNotOpen, "order %s is %s", orderID, o.Status)
	}

	closeReason := model.CloseUserClosed
	if initiator == model.InitiatorAdmin {
		closeReason = model.CloseAdminClosed
	}
	nowMs := e.now().UnixMilli()
	if err := e.writeCloseContext(ctx, orderID, closeReason, initiator, nowMs); err != nil {
		return nil, err
	}

	if o.RoutesLocal() {
		return e.closeLocal(ctx, o, nowMs)
	}
	return e.closeProvider(ctx, o, nowMs)
}

func (e *Executor) closeLocal(ctx context.Context, o *model.Order, nowMs int64) (*OrderResult, error) {
	user, err := e.margin.LoadUser(ctx, o.UserType, o.UserID)
	if err != nil {
		return nil, err
	}
	quote, err := e.pricing.ExecutionPrice(ctx, user.Group, o.Symbol, o.Side.Opposite())
	if err != nil {
		return nil, err
	}
	rpt := &model.ExecReport{
		OrderID:   o.OrderID,
		RefID:     o.OrderID,
		ExecID:    "LOC-" + uuid.NewString(),
		OrdStatus: model.OrdExecuted,
		AvgPx:     quote.ExecPrice,
		CumQty:    o.Quantity,
		TsMs:      nowMs,
		UserType:  o.UserType,
		UserID:    o.UserID,
	}
	if e.closer != nil {
		if err := e.closer.ApplyClose(ctx, rpt); err != nil {
			return nil, err
		}
	} else {
		body, err := rpt.Encode()
		if err != nil {
			return nil, err
		}
		if err := e.bus.Publish(ctx, queue.Close, body); err != nil {
			return nil, err
		}
	}
	logx.Infof("executor: local close order=%s px=%s", o.OrderID, quote.ExecPrice)
	return &OrderResult{
		OrderID:     o.OrderID,
		OrderStatus: model.StatusClosed,
		Flow:        FlowLocal,
		ExecPrice:   quote.ExecPrice,
		MarginUSD:   o.MarginUSD,
	}, nil
}

func (e *Executor) closeProvider(ctx context.Context, o *model.Order, nowMs int64) (*OrderResult, error) {
	clsID, err := ident.CloseID(ctx, e.store, ident.PrefixClose, e.now())
	if err != nil {
		return nil, err
	}
	if err := e.writeRef(ctx, clsID, &model.OrderRef{
		UserType: o.UserType,
		UserID:   o.UserID,
		OrderID:  o.OrderID,
		Kind:     model.ProviderReqClose,
	}); err != nil {
		return nil, err
	}
	if err := e.setStatus(ctx, o, model.StatusClosing); err != nil {
		return nil, err
	}
	e.publishEvent(ctx, model.EventOrderModified, o)

	logx.Infof("executor: closing order=%s cls=%s provider=%s", o.OrderID, clsID, o.Route)
	return &OrderResult{
		OrderID:     o.OrderID,
		OrderStatus: model.StatusClosing,
		Flow:        FlowProvider,
		ExecPrice:   o.EntryPrice,
		MarginUSD:   o.MarginUSD,
		Dispatch: &model.ProviderOrder{
			Kind:        model.ProviderReqClose,
			Provider:    o.Route,
			ClOrdID:     clsID,
			OrigOrderID: o.OrderID,
			UserType:    o.UserType,
			UserID:      o.UserID,
			Symbol:      o.Symbol,
			Side:        o.Side.Opposite(),
			Quantity:    o.Quantity,
			TsMs:        nowMs,
		},
	}, nil
}

// ModifySLTP replaces or clears an open order's stop-loss/take-profit. A nil
// level leaves that half unchanged; a zero level clears it. Local accounts
// re-arm the index halves immediately; provider accounts accept one half per
// call, transition to SL_PENDING/TP_PENDING and return the cancel-replace
// payload — the confirm worker promotes the new level.
func (e *Executor) ModifySLTP(ctx context.Context, ut model.UserType, uid int64, orderID string, sl, tp *decimal.Decimal) (*OrderResult, error) {
	if sl == nil && tp == nil {
		return nil, reason.New(reason.InvalidRequest, "nothing to modify")
	}
	o, err := e.LoadOrder(ctx, ut, uid, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != model.StatusOpen {
		return nil, reason.New(reason.OrderNotOpen, "order %s is %s", orderID, o.Status)
	}
	if err := validateBracket(o.Side, o.EntryPrice, deref(sl), deref(tp)); err != nil {
		return nil, err
	}

	if o.RoutesLocal() {
		return e.modifyLocal(ctx, o, sl, tp)
	}
	return e.modifyProvider(ctx, o, sl, tp)
}

func (e *Executor) modifyLocal(ctx context.Context, o *model.Order, sl, tp *decimal.Decimal) (*OrderResult, error) {
	user, err := e.margin.LoadUser(ctx, o.UserType, o.UserID)
	if err != nil {
		return nil, err
	}

	fields := map[string]string{}
	if sl != nil {
		if err := e.reg.SetStopLoss(ctx, o, user.Group, *sl); err != nil {
			return nil, err
		}
		o.StopLoss = *sl
		fields["stop_loss"] = decField(*sl)
	}
	if tp != nil {
		if err := e.reg.SetTakeProfit(ctx, o, user.Group, *tp); err != nil {
			return nil, err
		}
		o.TakeProfit = *tp
		fields["take_profit"] = decField(*tp)
	}
	if err := e.store.HSet(ctx, keys.OrderDataKey(o.UserType.String(), o.UserID, o.OrderID), fields); err != nil {
		return nil, err
	}
	e.publishEvent(ctx, model.EventOrderModified, o)

	return &OrderResult{
		OrderID:     o.OrderID,
		OrderStatus: o.Status,
		Flow:        FlowLocal,
		ExecPrice:   o.EntryPrice,
		MarginUSD:   o.MarginUSD,
	}, nil
}

func (e *Executor) modifyProvider(ctx context.Context, o *model.Order, sl, tp *decimal.Decimal) (*OrderResult, error) {
	if sl != nil && tp != nil {
		return nil, reason.New(reason.InvalidRequest, "provider accounts modify one of stop_loss/take_profit per request")
	}

	var (
		prefix    ident.ClosePrefix
		kind      model.ProviderReqKind
		status    model.OrderStatus
		newValue  string
		submitted decimal.Decimal
	)
	if sl != nil {
		prefix, kind, status = ident.PrefixCancelSL, model.ProviderReqCancelSL, model.StatusSLPending
		newValue, submitted = decField(*sl), *sl
	} else {
		prefix, kind, status = ident.PrefixCancelTP, model.ProviderReqCancelTP, model.StatusTPPending
		newValue, submitted = decField(*tp), *tp
	}

	reqID, err := ident.CloseID(ctx, e.store, prefix, e.now())
	if err != nil {
		return nil, err
	}
	if err := e.writeRef(ctx, reqID, &model.OrderRef{
		UserType: o.UserType,
		UserID:   o.UserID,
		OrderID:  o.OrderID,
		Kind:     kind,
		NewValue: newValue,
	}); err != nil {
		return nil, err
	}
	if err := e.setStatus(ctx, o, status); err != nil {
		return nil, err
	}
	e.publishEvent(ctx, model.EventOrderModified, o)

	sub := &model.ProviderOrder{
		Kind:        kind,
		Provider:    o.Route,
		ClOrdID:     reqID,
		OrigOrderID: o.OrderID,
		UserType:    o.UserType,
		UserID:      o.UserID,
		Symbol:      o.Symbol,
		Side:        o.Side,
		Quantity:    o.Quantity,
		TsMs:        e.now().UnixMilli(),
	}
	if kind == model.ProviderReqCancelSL {
		sub.StopLoss = submitted
	} else {
		sub.TakeProfit = submitted
	}

	logx.Infof("executor: %s order=%s req=%s new=%q", kind, o.OrderID, reqID, newValue)
	return &OrderResult{
		OrderID:     o.OrderID,
		OrderStatus: status,
		Flow:        FlowProvider,
		ExecPrice:   o.EntryPrice,
		MarginUSD:   o.MarginUSD,
		Dispatch:    sub,
	}, nil
}

// LoadOrder reads one order record.
func (e *Executor) LoadOrder(ctx context.Context, ut model.UserType, uid int64, orderID string) (*model.Order, error) {
	m, err := e.store.HGetAll(ctx, keys.OrderDataKey(ut.String(), uid, orderID))
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, reason.New(reason.OrderNotFound, "order %s", orderID)
	}
	return model.OrderFromHash(m)
}

// --- gates and shared steps ----------------------------------------------------

func (e *Executor) gateUser(ctx context.Context, ut model.UserType, uid int64) (*model.UserConfig, error) {
	user, err := e.margin.LoadUser(ctx, ut, uid)
	if err != nil {
		return nil, err
	}
	if !user.Enabled() {
		return nil, reason.New(reason.InvalidUserStatus, "account %s:%d is %s", ut, uid, user.Status)
	}
	if user.Leverage <= 0 {
		return nil, reason.New(reason.InvalidLeverage, "leverage %d", user.Leverage)
	}
	return user, nil
}

// orderMarginUSD converts the profit-currency per-order margin strictly: an
// admission check on an unconvertible amount must reject, not undercount.
func (e *Executor) orderMarginUSD(ctx context.Context, spec *model.GroupConfig, qty, price decimal.Decimal, leverage int64) (decimal.Decimal, error) {
	m, err := margin.PerOrderMargin(spec, qty, price, leverage)
	if err != nil {
		return decimal.Zero, err
	}
	return e.pricing.ConvertToUSD(ctx, m, spec.Profit, pricing.RateCache{}, true)
}

// commissionUSD is bookkeeping, not a gate: an unconvertible commission is
// kept in the profit currency rather than blocking the order.
func (e *Executor) commissionUSD(ctx context.Context, amount decimal.Decimal, profit string) decimal.Decimal {
	usd, err := e.pricing.ConvertToUSD(ctx, amount, profit, pricing.RateCache{}, false)
	if err != nil {
		return amount
	}
	return usd
}

// admit simulates the account with the candidate booked and requires
// free_margin ≥ 0. The preview holding is forced OPEN so a QUEUED candidate
// still weighs in.
func (e *Executor) admit(ctx context.Context, user *model.UserConfig, o *model.Order, nowMs int64) error {
	preview := model.HoldingOf(o)
	preview.Status = model.StatusOpen
	snap, err := e.margin.Portfolio(ctx, user, nowMs, preview)
	if err != nil {
		return err
	}
	if snap.FreeMargin.IsNegative() {
		return reason.New(reason.InsufficientMargin, "free margin %s after %s", snap.FreeMargin, o.MarginUSD)
	}
	return nil
}

// bookActive writes an order that holds margin: record + holdings mirror in
// one user-tagged pipeline, then the symbol membership.
func (e *Executor) bookActive(ctx context.Context, o *model.Order) error {
	ut, uid := o.UserType.String(), o.UserID
	pipe := e.store.Pipeline()
	pipe.HSet(keys.OrderDataKey(ut, uid, o.OrderID), o.ToHash())
	pipe.HSet(keys.UserHoldingKey(ut, uid, o.OrderID), model.HoldingOf(o).ToHash())
	pipe.SAdd(keys.HoldingsIndexKey(ut, uid), o.OrderID)
	if err := pipe.Exec(ctx); err != nil {
		return err
	}
	return e.store.SAdd(ctx, keys.SymbolHoldersKey(o.Symbol, ut), keys.UserTag(ut, uid))
}

// setStatus writes the in-flight status to the record and its holdings
// mirror in one pipeline.
func (e *Executor) setStatus(ctx context.Context, o *model.Order, status model.OrderStatus) error {
	ut, uid := o.UserType.String(), o.UserID
	pipe := e.store.Pipeline()
	pipe.HSet(keys.OrderDataKey(ut, uid, o.OrderID), map[string]string{"status": string(status)})
	pipe.HSet(keys.UserHoldingKey(ut, uid, o.OrderID), map[string]string{"status": string(status)})
	if err := pipe.Exec(ctx); err != nil {
		return err
	}
	o.Status = status
	return nil
}

func (e *Executor) writeRef(ctx context.Context, refID string, ref *model.OrderRef) error {
	pipe := e.store.Pipeline()
	pipe.HSet(keys.OrderRefKey(refID), ref.ToHash())
	pipe.Expire(keys.OrderRefKey(refID), keys.OrderRefTTL)
	return pipe.Exec(ctx)
}

func (e *Executor) writeCloseContext(ctx context.Context, orderID string, closeReason model.CloseReason, initiator string, nowMs int64) error {
	cc := &model.CloseContext{Context: closeReason, Initiator: initiator, Ts: nowMs}
	pipe := e.store.Pipeline()
	pipe.HSet(keys.CloseContextKey(orderID), cc.ToHash())
	pipe.Expire(keys.CloseContextKey(orderID), keys.CloseContextTTL)
	return pipe.Exec(ctx)
}

// publishEvent ships the canonical post-image. The store already holds the
// truth; a publish failure is logged, never bubbled into the caller's result.
func (e *Executor) publishEvent(ctx context.Context, event string, o *model.Order) {
	body, err := (&model.PersistenceEvent{Event: event, Order: o, TsMs: e.now().UnixMilli()}).Encode()
	if err != nil {
		logx.Errorf("executor: encode %s for %s: %v", event, o.OrderID, err)
		return
	}
	if err := e.bus.Publish(ctx, queue.OrderDBUpdate, body); err != nil {
		logx.Errorf("executor: publish %s for %s: %v", event, o.OrderID, err)
	}
}

// --- idempotency ---------------------------------------------------------------

// reserveIdem claims the client key. done=true short-circuits the operation:
// either a replay (res set) or a conflicting in-flight call (err set).
func (e *Executor) reserveIdem(ctx context.Context, ut model.UserType, uid int64, key string) (done bool, res *OrderResult, err error) {
	if key == "" {
		return false, nil, nil
	}
	idemKey := keys.IdempotencyKey(ut.String(), uid, key)
	ok, err := e.store.SetNX(ctx, idemKey, idemPending, keys.IdempotencyTTL)
	if err != nil {
		return true, nil, err
	}
	if ok {
		return false, nil, nil
	}
	cur, err := e.store.Get(ctx, idemKey)
	if err != nil {
		if store.IsNil(err) {
			// Expired between the SetNX and the Get; treat as in-flight and
			// let the client retry.
			return true, nil, reason.New(reason.IdempotencyInProgress, "key %s", key)
		}
		return true, nil, err
	}
	if cur == idemPending {
		return true, nil, reason.New(reason.IdempotencyInProgress, "key %s", key)
	}
	var prior OrderResult
	if err := json.Unmarshal([]byte(cur), &prior); err != nil {
		return true, nil, reason.New(reason.IdempotencyInProgress, "key %s holds an unreadable record", key)
	}
	prior.Replayed = true
	return true, &prior, nil
}

// settleIdem records the final response, or releases the reservation on a
// pre-commit failure so the client may retry with the same key.
func (e *Executor) settleIdem(ctx context.Context, ut model.UserType, uid int64, key string, res *OrderResult, opErr error) {
	if key == "" {
		return
	}
	idemKey := keys.IdempotencyKey(ut.String(), uid, key)
	if opErr != nil || res == nil {
		if err := e.store.Del(ctx, idemKey); err != nil {
			logx.Errorf("executor: release idempotency %s: %v", key, err)
		}
		return
	}
	body, err := json.Marshal(res)
	if err != nil {
		logx.Errorf("executor: marshal idempotency record %s: %v", key, err)
		return
	}
	if err := e.store.Set(ctx, idemKey, string(body), keys.IdempotencyTTL); err != nil {
		logx.Errorf("executor: store idempotency record %s: %v", key, err)
	}
}

// --- validation ------------------------------------------------------------------

func validateCommon(symbol string, side model.Side, qty decimal.Decimal) error {
	if symbol == "" {
		return reason.New(reason.InvalidRequest, "symbol required")
	}
	if side != model.SideBuy && side != model.SideSell {
		return reason.New(reason.InvalidOrderType, "side %q", side)
	}
	if !qty.IsPositive() {
		return reason.New(reason.InvalidQuantity, "quantity %s", qty)
	}
	return nil
}

// validateBracket rejects protection levels on the wrong side of the entry:
// they would fire on the first tick.
func validateBracket(side model.Side, entry, sl, tp decimal.Decimal) error {
	if entry.IsZero() {
		return nil
	}
	if side == model.SideBuy {
		if !sl.IsZero() && sl.GreaterThanOrEqual(entry) {
			return reason.New(reason.InvalidRequest, "stop_loss %s above entry %s for BUY", sl, entry)
		}
		if !tp.IsZero() && tp.LessThanOrEqual(entry) {
			return reason.New(reason.InvalidRequest, "take_profit %s below entry %s for BUY", tp, entry)
		}
		return nil
	}
	if !sl.IsZero() && sl.LessThanOrEqual(entry) {
		return reason.New(reason.InvalidRequest, "stop_loss %s below entry %s for SELL", sl, entry)
	}
	if !tp.IsZero() && tp.GreaterThanOrEqual(entry) {
		return reason.New(reason.InvalidRequest, "take_profit %s above entry %s for SELL", tp, entry)
	}
	return nil
}

func deref(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func decField(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}
