// Package provider abstracts the external liquidity venues orders are
// forwarded to. Providers are looked up by the id carried in a user's
// sending_orders flag; each speaks the length-prefixed FIX-tag frame
// protocol defined in wire.go, or simulates it in-process (sim).
package provider

import "context"

// SubmissionKind names the request families a provider accepts.
type SubmissionKind string

const (
	KindNew      SubmissionKind = "new"
	KindPending  SubmissionKind = "pending"
	KindClose    SubmissionKind = "close"
	KindCancelSL SubmissionKind = "cancel_sl"
	KindCancelTP SubmissionKind = "cancel_tp"
)

// Submission is a normalized order request toward a venue. Prices and
// quantities travel as strings to avoid precision loss on the wire.
type Submission struct {
	Kind        SubmissionKind
	ClOrdID     string // tag 11; CLS/SLC/TPC id for derived requests
	OrigOrderID string // tag 41; the source order for derived requests
	Symbol      string // tag 55
	Side        string // tag 54; BUY or SELL
	Quantity    string // tag 38, lots
	Price       string // tag 44
	StopLoss    string // tag 99, optional
	TakeProfit  string // tag 9001, optional
	IdemKey     string // tag 9002, optional client idempotency token
	TsMs        int64  // tag 60
}

// Report is a decoded execution report from a venue.
type Report struct {
	ClOrdID   string // tag 11
	ExecID    string // tag 17
	OrdStatus string // tag 39, normalized to EXECUTED|REJECTED|CANCELLED
	AvgPx     string // tag 6
	CumQty    string // tag 14
	TsMs      int64  // tag 60
	Raw       map[string]string
}

// Provider sends submissions toward one venue. Sends are fire-and-forget:
// the outcome arrives later as an execution report on the provider socket
// (or, for the sim, on its Reports channel).
type Provider interface {
	Name() string
	Send(ctx context.Context, sub Submission) error
	Close() error
}

// ReportSource is implemented by providers that deliver execution reports
// in-process instead of over the report socket. The bridge pumps these onto
// the confirmation queue exactly like socket frames.
type ReportSource interface {
	Reports() <-chan Report
}
