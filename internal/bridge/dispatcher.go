package bridge

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"

	"fxcore/internal/keys"
	"fxcore/internal/model"
	"fxcore/internal/queue"
	"fxcore/internal/store"
)

// Dispatcher consumes the confirmation queue and fans each execution report
// out to the transition queue that owns it. Routing is a pure function of
// (current order status, report ord_status); anything outside the table is
// operator territory and goes to the dlq rather than being guessed at.
type Dispatcher struct {
	store store.Store
	bus   queue.Bus
	opts  queue.ConsumeOpts
}

func NewDispatcher(st store.Store, bus queue.Bus, opts queue.ConsumeOpts) *Dispatcher {
	return &Dispatcher{store: st, bus: bus, opts: opts}
}

// Run consumes until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	return d.bus.Consume(ctx, queue.Confirmation, d.opts, d.handle)
}

func (d *Dispatcher) handle(ctx context.Context, msg queue.Delivery) error {
	rpt, err := model.DecodeExecReport(msg.Body)
	if err != nil {
		logx.Errorf("dispatcher: undecodable confirmation: %v", err)
		return queue.DeadLetter(ctx, d.bus, queue.Confirmation, msg.Body, "undecodable_report")
	}

	// The wire id travels in OrderID until the ref is resolved.
	wireID := rpt.OrderID
	ref, err := d.resolveRef(ctx, wireID)
	if err != nil {
		return err
	}
	if ref == nil {
		logx.Errorf("dispatcher: no order ref for %s (exec %s)", wireID, rpt.ExecID)
		return queue.DeadLetter(ctx, d.bus, queue.Confirmation, msg.Body, "unknown_routing_state")
	}
	rpt.OrderID = ref.OrderID
	rpt.RefID = wireID
	rpt.UserType = ref.UserType
	rpt.UserID = ref.UserID
	rpt.NewValue = ref.NewValue

	status, err := d.orderStatus(ctx, ref)
	if err != nil {
		return err
	}
	if status == "" {
		logx.Errorf("dispatcher: ref %s names unknown order %s", wireID, ref.OrderID)
		return queue.DeadLetter(ctx, d.bus, queue.Confirmation, msg.Body, "unknown_routing_state")
	}

	target, ok := routeFor(status, rpt.OrdStatus)
	if !ok {
		logx.Errorf("dispatcher: no route for order %s in %s with report %s (exec %s)",
			ref.OrderID, status, rpt.OrdStatus, rpt.ExecID)
		return queue.DeadLetter(ctx, d.bus, queue.Confirmation, msg.Body, "unknown_routing_state")
	}

	// Claim the exec id before forwarding. The routing decision above reads
	// mutable order state, so a retransmitted fill re-routed after the
	// transition applied would be misread as a brand-new event; the claim
	// makes replays die here instead.
	idemKey := keys.ProviderIdemKey(rpt.ExecID)
	fresh, err := d.store.SetNX(ctx, idemKey, "1", keys.ProviderIdemTTL)
	if err != nil {
		return err
	}
	if !fresh {
		logx.Infof("dispatcher: duplicate exec report %s for order %s, dropping", rpt.ExecID, ref.OrderID)
		return nil
	}

	body, err := rpt.Encode()
	if err != nil {
		d.releaseClaim(ctx, idemKey)
		return err
	}
	if err := d.bus.Publish(ctx, target, body); err != nil {
		// Release so the redelivery is not mistaken for a venue replay.
		d.releaseClaim(ctx, idemKey)
		return err
	}
	return nil
}

func (d *Dispatcher) resolveRef(ctx context.Context, wireID string) (*model.OrderRef, error) {
	h, err := d.store.HGetAll(ctx, keys.OrderRefKey(wireID))
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, nil
	}
	ref, err := model.OrderRefFromHash(h)
	if err != nil {
		logx.Errorf("dispatcher: corrupt order ref %s: %v", wireID, err)
		return nil, nil
	}
	return ref, nil
}

func (d *Dispatcher) orderStatus(ctx context.Context, ref *model.OrderRef) (model.OrderStatus, error) {
	v, err := d.store.HGet(ctx, keys.OrderDataKey(ref.UserType.String(), ref.UserID, ref.OrderID), "status")
	if err != nil {
		if store.IsNil(err) {
			return "", nil
		}
		return "", err
	}
	return model.OrderStatus(v), nil
}

func (d *Dispatcher) releaseClaim(ctx context.Context, key string) {
	if err := d.store.Del(ctx, key); err != nil {
		logx.Errorf("dispatcher: release idempotency claim %s: %v", key, err)
	}
}

// routeFor maps (order status, report status) to the owning worker queue.
func routeFor(status model.OrderStatus, ord model.OrdStatus) (string, bool) {
	switch status {
	case model.StatusQueued:
		switch ord {
		case model.OrdExecuted:
			return queue.Open, true
		case model.OrdRejected:
			return queue.Reject, true
		case model.OrdCancelled:
			return queue.Cancel, true
		}
	case model.StatusPending:
		switch ord {
		case model.OrdExecuted:
			return queue.Open, true
		case model.OrdCancelled:
			return queue.Cancel, true
		}
	case model.StatusOpen, model.StatusClosing:
		if ord == model.OrdExecuted {
			return queue.Close, true
		}
	case model.StatusSLPending:
		if ord == model.OrdCancelled {
			return queue.StopLossCancel, true
		}
	case model.StatusTPPending:
		if ord == model.OrdCancelled {
			return queue.TakeProfitCancel, true
		}
	}
	return "", false
}
