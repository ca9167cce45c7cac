// Code scaffolded by goctl. Safe to edit.
// goctl 1.9.2

package types

// Decimal-valued fields travel as strings end to end so client JSON parsers
// never round prices or quantities.

type InstantOrderReq struct {
	Symbol         string `json:"symbol"`
	OrderType      string `json:"order_type,options=BUY|SELL"`
	OrderPrice     string `json:"order_price,optional"`
	OrderQuantity  string `json:"order_quantity"`
	UserID         int64  `json:"user_id"`
	UserType       string `json:"user_type,options=live|demo"`
	IdempotencyKey string `json:"idempotency_key,optional"`
	StopLoss       string `json:"stop_loss,optional"`
	TakeProfit     string `json:"take_profit,optional"`
}

type PendingOrderReq struct {
	Symbol         string `json:"symbol"`
	OrderType      string `json:"order_type,options=BUY|SELL"`
	OrderPrice     string `json:"order_price"`
	OrderQuantity  string `json:"order_quantity"`
	UserID         int64  `json:"user_id"`
	UserType       string `json:"user_type,options=live|demo"`
	IdempotencyKey string `json:"idempotency_key,optional"`
	StopLoss       string `json:"stop_loss,optional"`
	TakeProfit     string `json:"take_profit,optional"`
}

type OrderResp struct {
	OK          bool   `json:"ok"`
	OrderID     string `json:"order_id"`
	OrderStatus string `json:"order_status"`
	Flow        string `json:"flow"`
	ExecPrice   string `json:"exec_price"`
	MarginUSD   string `json:"margin_usd"`
	Replayed    bool   `json:"replayed,omitempty"`
}

type CloseOrderReq struct {
	UserID   int64  `json:"user_id"`
	UserType string `json:"user_type,options=live|demo"`
	OrderID  string `json:"order_id"`
	Admin    bool   `json:"admin,optional"`
}

type CloseOrderResp struct {
	OK          bool   `json:"ok"`
	OrderID     string `json:"order_id"`
	OrderStatus string `json:"order_status"`
	Flow        string `json:"flow"`
	ClosePrice  string `json:"close_price,omitempty"`
}

type ModifySLTPReq struct {
	UserID   int64  `json:"user_id"`
	UserType string `json:"user_type,options=live|demo"`
	OrderID  string `json:"order_id"`
	// Absent field: leave the level unchanged. "0": clear it.
	StopLoss   string `json:"stop_loss,optional"`
	TakeProfit string `json:"take_profit,optional"`
}

type ModifySLTPResp struct {
	OK          bool   `json:"ok"`
	OrderID     string `json:"order_id"`
	OrderStatus string `json:"order_status"`
	Flow        string `json:"flow"`
}

type GetOrderReq struct {
	OrderID  string `path:"order_id"`
	UserID   int64  `form:"user_id"`
	UserType string `form:"user_type,options=live|demo"`
}

type OrderSnapshotResp struct {
	OK              bool   `json:"ok"`
	OrderID         string `json:"order_id"`
	UserID          int64  `json:"user_id"`
	UserType        string `json:"user_type"`
	Symbol          string `json:"symbol"`
	Side            string `json:"side"`
	Quantity        string `json:"quantity"`
	EntryPrice      string `json:"entry_price"`
	ActivationPrice string `json:"activation_price,omitempty"`
	MarginUSD       string `json:"margin_usd"`
	CommissionEntry string `json:"commission_entry"`
	CommissionExit  string `json:"commission_exit"`
	StopLoss        string `json:"stop_loss,omitempty"`
	TakeProfit      string `json:"take_profit,omitempty"`
	Status          string `json:"status"`
	Route           string `json:"route"`
	ClosePrice      string `json:"close_price,omitempty"`
	CloseReason     string `json:"close_reason,omitempty"`
	RealizedPL      string `json:"realized_pl,omitempty"`
	CreatedTs       int64  `json:"created_ts"`
	ClosedTs        int64  `json:"closed_ts,omitempty"`
}

type PortfolioReq struct {
	UserID   int64  `form:"user_id"`
	UserType string `form:"user_type,options=live|demo"`
}

type PortfolioResp struct {
	OK            bool   `json:"ok"`
	UserID        int64  `json:"user_id"`
	UserType      string `json:"user_type"`
	UsedMarginUSD string `json:"used_margin_usd"`
	UnrealizedPL  string `json:"unrealized_pl"`
	Equity        string `json:"equity"`
	FreeMargin    string `json:"free_margin"`
	MarginLevel   string `json:"margin_level"`
	UpdatedMs     int64  `json:"updated_ms"`
	// Live marks an on-demand computation; false means the flushed snapshot.
	Live bool `json:"live,omitempty"`
}

type HealthResp struct {
	Status    string `json:"status"` // ok | degraded
	Store     string `json:"store"`  // breaker state, or "in-memory"
	Queue     string `json:"queue"`  // "amqp" | "in-memory"
	FeedAgeMs int64  `json:"feed_age_ms"`
}

// ErrorResp is the uniform error body; Error is a stable reason code.
type ErrorResp struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
