package workers

import (
	"context"
	"errors"
	"sync"

	"github.com/zeromicro/go-zero/core/logx"

	"fxcore/internal/model"
	"fxcore/internal/queue"
)

type applyFunc func(ctx context.Context, rpt *model.ExecReport) error

// Runner consumes the six transition queues, one consumer each, decoding
// reports and handing them to the matching applier. Applier errors bubble
// into the bus's bounded-retry/dead-letter handling; undecodable bodies go
// straight to the dlq since no retry can fix them.
type Runner struct {
	bus  queue.Bus
	ap   *Appliers
	opts queue.ConsumeOpts
}

func NewRunner(bus queue.Bus, ap *Appliers, opts queue.ConsumeOpts) *Runner {
	return &Runner{bus: bus, ap: ap, opts: opts}
}

// Run blocks until ctx is done or a consumer fails for good. The first hard
// failure tears the rest down: a worker set missing one transition kind
// would strand orders mid-lifecycle.
func (r *Runner) Run(ctx context.Context) error {
	routes := []struct {
		queue string
		fn    applyFunc
	}{
		{queue.Open, r.ap.ApplyOpen},
		{queue.Close, r.ap.ApplyClose},
		{queue.Cancel, r.ap.ApplyCancel},
		{queue.StopLossCancel, r.ap.ApplyStopLossCancel},
		{queue.TakeProfitCancel, r.ap.ApplyTakeProfitCancel},
		{queue.Reject, r.ap.ApplyReject},
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, rt := range routes {
		wg.Add(1)
		go func(qname string, fn applyFunc) {
			defer wg.Done()
			err := r.consume(ctx, qname, fn)
			if err == nil || errors.Is(err, context.Canceled) {
				return
			}
			logx.Errorf("workers: consumer %s stopped: %v", qname, err)
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			cancel()
		}(rt.queue, rt.fn)
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func (r *Runner) consume(ctx context.Context, qname string, fn applyFunc) error {
	return r.bus.Consume(ctx, qname, r.opts, func(ctx context.Context, d queue.Delivery) error {
		rpt, err := model.DecodeExecReport(d.Body)
		if err != nil {
			logx.Errorf("workers: %s: undecodable report: %v", qname, err)
			return queue.DeadLetter(ctx, r.bus, qname, d.Body, "undecodable_report")
		}
		return fn(ctx, rpt)
	})
}
