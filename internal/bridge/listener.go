// Package bridge owns the provider boundary: the listener pulls execution
// report frames off the venue socket and normalizes them onto the
// confirmation queue; the dispatcher resolves each report against the order
// book and routes it to the worker queue that owns the transition.
package bridge

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"fxcore/internal/model"
	"fxcore/internal/queue"
	"fxcore/pkg/provider"
)

const (
	listenerDialTimeout = 5 * time.Second
	listenerReadTimeout = 90 * time.Second
	listenerBackoffCap  = 30 * time.Second
)

// Listener maintains a single connection to the venue's report socket and
// publishes every decoded frame to the confirmation queue. Exactly one
// listener runs per transport; replication would double-deliver (the
// dispatcher's idempotency guard would drop the copies, but they still cost
// a round-trip each).
type Listener struct {
	network     string
	address     string
	tcpFallback string
	bus         queue.Bus
}

// NewListener builds a report listener. network is "unix" or "tcp";
// tcpFallback, when set, is tried after a failed unix dial.
func NewListener(network, address, tcpFallback string, bus queue.Bus) *Listener {
	if network == "" {
		network = "unix"
	}
	return &Listener{network: network, address: address, tcpFallback: tcpFallback, bus: bus}
}

// Run dials and reads until ctx is cancelled, reconnecting with capped
// exponential backoff.
func (l *Listener) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		start := time.Now()
		err := l.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logx.Errorf("bridge listener disconnected: %v (reconnecting in %s)", err, backoff)

		// A connection that held for a while earns a fresh backoff.
		if time.Since(start) > time.Minute {
			backoff = time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > listenerBackoffCap {
			backoff = listenerBackoffCap
		}
	}
}

func (l *Listener) connectAndRead(ctx context.Context) error {
	conn, err := l.dial(ctx)
	if err != nil {
		return err
	}
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go func() {
		// Unblocks a pending read when the run context ends.
		<-watchCtx.Done()
		conn.Close()
	}()
	logx.Infof("bridge listener connected: %s %s", l.network, l.address)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = conn.SetReadDeadline(time.Now().Add(listenerReadTimeout))
		payload, err := provider.ReadFrame(conn)
		if err != nil {
			// Venues go quiet between fills; an idle deadline is not a
			// broken connection.
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if len(payload) == 0 {
			continue // keepalive
		}
		rpt, err := provider.DecodeReport(payload)
		if err != nil {
			logx.Errorf("bridge listener: dropping undecodable frame: %v", err)
			continue
		}
		if err := l.publish(ctx, rpt); err != nil {
			return err
		}
	}
}

func (l *Listener) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: listenerDialTimeout}
	conn, err := d.DialContext(ctx, l.network, l.address)
	if err == nil {
		return conn, nil
	}
	if l.network == "unix" && l.tcpFallback != "" {
		if tcpConn, tcpErr := d.DialContext(ctx, "tcp", l.tcpFallback); tcpErr == nil {
			return tcpConn, nil
		}
	}
	return nil, fmt.Errorf("dial %s %s: %w", l.network, l.address, err)
}

func (l *Listener) publish(ctx context.Context, rpt *provider.Report) error {
	exec, err := normalizeReport(rpt)
	if err != nil {
		logx.Errorf("bridge listener: dropping report %s: %v", rpt.ClOrdID, err)
		return nil
	}
	body, err := exec.Encode()
	if err != nil {
		logx.Errorf("bridge listener: dropping report %s: %v", rpt.ClOrdID, err)
		return nil
	}
	return l.bus.Publish(ctx, queue.Confirmation, body)
}

// PumpReports forwards an in-process provider's reports onto the
// confirmation queue, so sim-backed venues travel the exact path socket
// frames do. Returns when ctx ends or the source closes its channel.
func PumpReports(ctx context.Context, bus queue.Bus, src provider.ReportSource) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rpt, ok := <-src.Reports():
			if !ok {
				return nil
			}
			exec, err := normalizeReport(&rpt)
			if err != nil {
				logx.Errorf("bridge pump: dropping report %s: %v", rpt.ClOrdID, err)
				continue
			}
			body, err := exec.Encode()
			if err != nil {
				logx.Errorf("bridge pump: dropping report %s: %v", rpt.ClOrdID, err)
				continue
			}
			if err := bus.Publish(ctx, queue.Confirmation, body); err != nil {
				return err
			}
		}
	}
}

// normalizeReport lifts a wire report into the canonical exec-report shape.
// OrderID starts as the wire id; the dispatcher rewrites it to the canonical
// order id after ref resolution.
func normalizeReport(rpt *provider.Report) (*model.ExecReport, error) {
	if rpt.ExecID == "" {
		return nil, fmt.Errorf("report without exec id")
	}
	avgPx, err := decOrZero(rpt.AvgPx)
	if err != nil {
		return nil, fmt.Errorf("bad avg_px %q", rpt.AvgPx)
	}
	cumQty, err := decOrZero(rpt.CumQty)
	if err != nil {
		return nil, fmt.Errorf("bad cum_qty %q", rpt.CumQty)
	}
	return &model.ExecReport{
		OrderID:   rpt.ClOrdID,
		RefID:     rpt.ClOrdID,
		ExecID:    rpt.ExecID,
		OrdStatus: model.OrdStatus(rpt.OrdStatus),
		AvgPx:     avgPx,
		CumQty:    cumQty,
		TsMs:      rpt.TsMs,
		Raw:       rpt.Raw,
	}, nil
}

func decOrZero(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
