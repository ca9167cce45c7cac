package model

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Order is the canonical order record, stored as the hash
// order_data:{ut:uid}:ORDID. It is born in the executor and transitioned
// only by the lifecycle appliers; once terminal it is immutable except for a
// single finalized_ts write.
type Order struct {
	OrderID         string          `json:"order_id"`
	UserType        UserType        `json:"user_type"`
	UserID          int64           `json:"user_id"`
	Symbol          string          `json:"symbol"`
	Side            Side            `json:"side"`
	Quantity        decimal.Decimal `json:"quantity"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	ActivationPrice decimal.Decimal `json:"activation_price,omitempty"`
	MarginUSD       decimal.Decimal `json:"margin_usd"`
	CommissionEntry decimal.Decimal `json:"commission_entry"`
	CommissionExit  decimal.Decimal `json:"commission_exit"`
	StopLoss        decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit      decimal.Decimal `json:"take_profit,omitempty"`
	Status          OrderStatus     `json:"status"`
	Route           string          `json:"route"`
	ClosePrice      decimal.Decimal `json:"close_price,omitempty"`
	CloseReason     CloseReason     `json:"close_reason,omitempty"`
	RealizedPL      decimal.Decimal `json:"realized_pl,omitempty"`
	CreatedTs       int64           `json:"created_ts"`
	ClosedTs        int64           `json:"closed_ts,omitempty"`
	FinalizedTs     int64           `json:"finalized_ts,omitempty"`
}

// HasStopLoss reports a non-zero SL level; zero means unset.
func (o *Order) HasStopLoss() bool { return !o.StopLoss.IsZero() }

func (o *Order) HasTakeProfit() bool { return !o.TakeProfit.IsZero() }

func (o *Order) RoutesLocal() bool { return o.Route == RouteLocal }

// ToHash renders the record for a pipelined HSET. Zero-valued optionals are
// written as empty strings so a replayed write clears stale values.
func (o *Order) ToHash() map[string]string {
	return map[string]string{
		"order_id":         o.OrderID,
		"user_type":        string(o.UserType),
		"user_id":          strconv.FormatInt(o.UserID, 10),
		"symbol":           o.Symbol,
		"side":             string(o.Side),
		"quantity":         o.Quantity.String(),
		"entry_price":      o.EntryPrice.String(),
		"activation_price": decStr(o.ActivationPrice),
		"margin_usd":       o.MarginUSD.String(),
		"commission_entry": o.CommissionEntry.String(),
		"commission_exit":  o.CommissionExit.String(),
		"stop_loss":        decStr(o.StopLoss),
		"take_profit":      decStr(o.TakeProfit),
		"status":           string(o.Status),
		"route":            o.Route,
		"close_price":      decStr(o.ClosePrice),
		"close_reason":     string(o.CloseReason),
		"realized_pl":      decStr(o.RealizedPL),
		"created_ts":       strconv.FormatInt(o.CreatedTs, 10),
		"closed_ts":        intStr(o.ClosedTs),
		"finalized_ts":     intStr(o.FinalizedTs),
	}
}

// OrderFromHash decodes an order hash. An empty map means the key is absent.
func OrderFromHash(m map[string]string) (*Order, error) {
	if len(m) == 0 {
		return nil, fmt.Errorf("model: empty order hash")
	}
	for _, f := range []string{"order_id", "user_type", "user_id", "symbol", "side", "status"} {
		if m[f] == "" {
			return nil, fmt.Errorf("model: order hash missing %s", f)
		}
	}
	uid, err := strconv.ParseInt(m["user_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("model: order user_id: %w", err)
	}
	o := &Order{
		OrderID:     m["order_id"],
		UserType:    UserType(m["user_type"]),
		UserID:      uid,
		Symbol:      m["symbol"],
		Side:        Side(m["side"]),
		Status:      OrderStatus(m["status"]),
		Route:       m["route"],
		CloseReason: CloseReason(m["close_reason"]),
	}
	o.Quantity = decOr(m["quantity"], decimal.Zero)
	o.EntryPrice = decOr(m["entry_price"], decimal.Zero)
	o.ActivationPrice = decOr(m["activation_price"], decimal.Zero)
	o.MarginUSD = decOr(m["margin_usd"], decimal.Zero)
	o.CommissionEntry = decOr(m["commission_entry"], decimal.Zero)
	o.CommissionExit = decOr(m["commission_exit"], decimal.Zero)
	o.StopLoss = decOr(m["stop_loss"], decimal.Zero)
	o.TakeProfit = decOr(m["take_profit"], decimal.Zero)
	o.ClosePrice = decOr(m["close_price"], decimal.Zero)
	o.RealizedPL = decOr(m["realized_pl"], decimal.Zero)
	o.CreatedTs = intOr(m["created_ts"])
	o.ClosedTs = intOr(m["closed_ts"])
	o.FinalizedTs = intOr(m["finalized_ts"])
	return o, nil
}

// Holding is the open-subset mirror kept under user_holdings:{ut:uid}:ORDID.
// It carries exactly what the margin engine needs per order.
type Holding struct {
	OrderID    string
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	MarginUSD  decimal.Decimal
	Status     OrderStatus
}

func (h *Holding) ToHash() map[string]string {
	return map[string]string{
		"order_id":    h.OrderID,
		"symbol":      h.Symbol,
		"side":        string(h.Side),
		"quantity":    h.Quantity.String(),
		"entry_price": h.EntryPrice.String(),
		"margin_usd":  h.MarginUSD.String(),
		"status":      string(h.Status),
	}
}

func HoldingFromHash(m map[string]string) (*Holding, error) {
	if len(m) == 0 || m["order_id"] == "" {
		return nil, fmt.Errorf("model: empty holding hash")
	}
	return &Holding{
		OrderID:    m["order_id"],
		Symbol:     m["symbol"],
		Side:       Side(m["side"]),
		Quantity:   decOr(m["quantity"], decimal.Zero),
		EntryPrice: decOr(m["entry_price"], decimal.Zero),
		MarginUSD:  decOr(m["margin_usd"], decimal.Zero),
		Status:     OrderStatus(m["status"]),
	}, nil
}

// HoldingOf derives the mirror from an order.
func HoldingOf(o *Order) *Holding {
	return &Holding{
		OrderID:    o.OrderID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Quantity:   o.Quantity,
		EntryPrice: o.EntryPrice,
		MarginUSD:  o.MarginUSD,
		Status:     o.Status,
	}
}

// OrderTriggers inverts a trigger-index hit back to the owning user and the
// user-facing SL/TP/activation values.
type OrderTriggers struct {
	UserType     UserType
	UserID       int64
	Symbol       string
	Side         Side
	StopLoss     decimal.Decimal
	TakeProfit   decimal.Decimal
	PendingPrice decimal.Decimal
}

func (t *OrderTriggers) ToHash() map[string]string {
	return map[string]string{
		"user_type":     string(t.UserType),
		"user_id":       strconv.FormatInt(t.UserID, 10),
		"symbol":        t.Symbol,
		"side":          string(t.Side),
		"stop_loss":     decStr(t.StopLoss),
		"take_profit":   decStr(t.TakeProfit),
		"pending_price": decStr(t.PendingPrice),
	}
}

func OrderTriggersFromHash(m map[string]string) (*OrderTriggers, error) {
	if len(m) == 0 || m["user_type"] == "" {
		return nil, fmt.Errorf("model: empty order triggers hash")
	}
	uid, err := strconv.ParseInt(m["user_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("model: order triggers user_id: %w", err)
	}
	return &OrderTriggers{
		UserType:     UserType(m["user_type"]),
		UserID:       uid,
		Symbol:       m["symbol"],
		Side:         Side(m["side"]),
		StopLoss:     decOr(m["stop_loss"], decimal.Zero),
		TakeProfit:   decOr(m["take_profit"], decimal.Zero),
		PendingPrice: decOr(m["pending_price"], decimal.Zero),
	}, nil
}

// CloseContext attributes a close before the confirming report lands. The
// close-confirm applier consumes and deletes it; the 5 minute TTL bounds
// orphaned contexts.
type CloseContext struct {
	Context   CloseReason
	Initiator string
	Ts        int64
}

func (c *CloseContext) ToHash() map[string]string {
	return map[string]string{
		"context":   string(c.Context),
		"initiator": c.Initiator,
		"ts":        strconv.FormatInt(c.Ts, 10),
	}
}

func CloseContextFromHash(m map[string]string) (*CloseContext, bool) {
	if len(m) == 0 || m["context"] == "" {
		return nil, false
	}
	return &CloseContext{
		Context:   CloseReason(m["context"]),
		Initiator: m["initiator"],
		Ts:        intOr(m["ts"]),
	}, true
}

// OrderRef maps a wire-visible id (the order's own id or a CLS/SLC/TPC id)
// back to the owning order, since order keys are user-tagged and a bare exec
// report only carries the id. For SL/TP cancel-replace requests the ref also
// carries the requested replacement level, which the confirm applier promotes
// once the provider acknowledges; an empty NewValue clears the level.
type OrderRef struct {
	UserType UserType
	UserID   int64
	OrderID  string
	Kind     ProviderReqKind
	NewValue string
}

func (r *OrderRef) ToHash() map[string]string {
	return map[string]string{
		"user_type": string(r.UserType),
		"user_id":   strconv.FormatInt(r.UserID, 10),
		"order_id":  r.OrderID,
		"kind":      string(r.Kind),
		"new_value": r.NewValue,
	}
}

func OrderRefFromHash(m map[string]string) (*OrderRef, error) {
	if len(m) == 0 || m["order_id"] == "" {
		return nil, fmt.Errorf("model: empty order ref hash")
	}
	uid, err := strconv.ParseInt(m["user_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("model: order ref user_id: %w", err)
	}
	return &OrderRef{
		UserType: UserType(m["user_type"]),
		UserID:   uid,
		OrderID:  m["order_id"],
		Kind:     ProviderReqKind(m["kind"]),
		NewValue: m["new_value"],
	}, nil
}

// --- hash codec helpers -------------------------------------------------------

func decStr(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func intStr(v int64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}

func decOr(s string, fallback decimal.Decimal) decimal.Decimal {
	if s == "" {
		return fallback
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fallback
	}
	return d
}

func intOr(s string) int64 {
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
