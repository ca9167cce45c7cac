package model

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ExecReport is the normalized execution report flowing over
// confirmation_queue and the per-transition worker queues. The trigger
// engine and the autocutoff watcher emit synthetic reports in the same
// shape, so workers never care who produced one.
//
// OrderID always carries the canonical order id once the dispatcher has
// resolved it; the wire-visible id that actually arrived (which may be a
// CLS/SLC/TPC id) is kept in RefID. UserType/UserID are filled during
// resolution so workers can address user-tagged keys directly. NewValue
// carries the replacement level on SL/TP cancel-replace confirmations,
// empty meaning "clear the level".
type ExecReport struct {
	OrderID   string            `json:"order_id"`
	RefID     string            `json:"ref_id,omitempty"`
	ExecID    string            `json:"exec_id"`
	OrdStatus OrdStatus         `json:"ord_status"`
	AvgPx     decimal.Decimal   `json:"avg_px"`
	CumQty    decimal.Decimal   `json:"cum_qty"`
	TsMs      int64             `json:"ts_ms"`
	UserType  UserType          `json:"user_type,omitempty"`
	UserID    int64             `json:"user_id,omitempty"`
	NewValue  string            `json:"new_value,omitempty"`
	Raw       map[string]string `json:"raw,omitempty"`
}

func (r *ExecReport) Encode() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("model: encode exec report: %w", err)
	}
	return b, nil
}

func DecodeExecReport(b []byte) (*ExecReport, error) {
	var r ExecReport
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("model: decode exec report: %w", err)
	}
	if r.OrderID == "" {
		return nil, fmt.Errorf("model: exec report without order_id")
	}
	return &r, nil
}

// Persistence event kinds, one per transition the relational store must see.
const (
	EventOrderCreated   = "order_created"
	EventOrderOpened    = "order_opened"
	EventOrderClosed    = "order_closed"
	EventOrderCancelled = "order_cancelled"
	EventOrderRejected  = "order_rejected"
	EventOrderModified  = "order_modified"
)

// PersistenceEvent is the canonical post-image published to
// order_db_update_queue after every transition.
type PersistenceEvent struct {
	Event string `json:"event"`
	Order *Order `json:"order"`
	TsMs  int64  `json:"ts_ms"`
}

func (e *PersistenceEvent) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("model: encode persistence event: %w", err)
	}
	return b, nil
}

func DecodePersistenceEvent(b []byte) (*PersistenceEvent, error) {
	var e PersistenceEvent
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("model: decode persistence event: %w", err)
	}
	return &e, nil
}

// Provider request kinds.
type ProviderReqKind string

const (
	ProviderReqNew      ProviderReqKind = "new"
	ProviderReqPending  ProviderReqKind = "pending"
	ProviderReqClose    ProviderReqKind = "close"
	ProviderReqCancelSL ProviderReqKind = "cancel_sl"
	ProviderReqCancelTP ProviderReqKind = "cancel_tp"
)

// ProviderOrder is the payload handed to a liquidity provider. For close and
// SL/TP-cancel requests ClOrdID carries the derived CLS/SLC/TPC id while
// OrigOrderID keeps the source order.
type ProviderOrder struct {
	Kind        ProviderReqKind `json:"kind"`
	Provider    string          `json:"provider"`
	ClOrdID     string          `json:"cl_ord_id"`
	OrigOrderID string          `json:"orig_order_id,omitempty"`
	UserType    UserType        `json:"user_type"`
	UserID      int64           `json:"user_id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	StopLoss    decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit  decimal.Decimal `json:"take_profit,omitempty"`
	IdemKey     string          `json:"idem_key,omitempty"`
	TsMs        int64           `json:"ts_ms"`
}
