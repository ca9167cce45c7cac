// Package queue carries every durable message flow: execution-report
// confirmation, the per-transition worker queues, persistence post-images
// and the dead-letter catch-all. Delivery is durable and persistent, acks
// are manual, retries are bounded by a header counter, and exhausted or
// unroutable messages land on the dlq with the reason attached.
package queue

import (
	"context"
)

// Queue names are an external contract; the persistence service and
// operational tooling consume them by name.
const (
	Confirmation     = "confirmation_queue"
	Open             = "open_queue"
	Close            = "close_queue"
	Cancel           = "cancel_queue"
	StopLossCancel   = "stoploss_cancel_queue"
	TakeProfitCancel = "takeprofit_cancel_queue"
	Reject           = "reject_queue"
	OrderDBUpdate    = "order_db_update_queue"
	DLQ              = "dlq"
)

// AllQueues is the declared topology.
var AllQueues = []string{
	Confirmation,
	Open,
	Close,
	Cancel,
	StopLossCancel,
	TakeProfitCancel,
	Reject,
	OrderDBUpdate,
	DLQ,
}

// Message headers.
const (
	HeaderRetries = "x-retries"
	HeaderReason  = "x-reason"
	HeaderOrigin  = "x-origin-queue"
)

// Delivery is one consumed message.
type Delivery struct {
	Body    []byte
	Headers map[string]any
	Retries int
}

// HandlerFunc processes one delivery. A nil return acks; an error requeues
// with the retry header bumped until MaxRetries, then dead-letters.
type HandlerFunc func(ctx context.Context, d Delivery) error

// ConsumeOpts tunes one consumer.
type ConsumeOpts struct {
	Prefetch   int
	MaxRetries int
}

func (o ConsumeOpts) withDefaults() ConsumeOpts {
	if o.Prefetch <= 0 {
		o.Prefetch = 16
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	return o
}

// Bus is the durable queue transport.
type Bus interface {
	// Publish sends with persistent delivery.
	Publish(ctx context.Context, queue string, body []byte) error
	// PublishWithHeaders additionally attaches headers (retry counters,
	// dead-letter reasons).
	PublishWithHeaders(ctx context.Context, queue string, body []byte, headers map[string]any) error
	// Consume blocks, feeding deliveries to fn until ctx is done.
	Consume(ctx context.Context, queue string, opts ConsumeOpts, fn HandlerFunc) error
	Close() error
}

// DeadLetter publishes body to the dlq recording where it came from and why.
func DeadLetter(ctx context.Context, bus Bus, origin string, body []byte, reasonCode string) error {
	return bus.PublishWithHeaders(ctx, DLQ, body, map[string]any{
		HeaderOrigin: origin,
		HeaderReason: reasonCode,
	})
}

func retriesFrom(headers map[string]any) int {
	v, ok := headers[HeaderRetries]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
