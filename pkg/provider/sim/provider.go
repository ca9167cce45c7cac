// Package sim is a loop-back liquidity provider for development and tests:
// every submission is acknowledged in-process with a synthetic execution
// report, so the whole confirmation path can run without a venue.
package sim

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fxcore/pkg/provider"
)

func init() {
	provider.Register("sim", func(name string, cfg *provider.ProviderConfig) (provider.Provider, error) {
		return New(name, cfg)
	})
}

const reportBuffer = 256

// Provider simulates a venue. Fills happen at the submitted price after an
// optional delay; submissions above MaxQuantity are rejected, which gives
// tests a deterministic reject path.
type Provider struct {
	name      string
	fillDelay time.Duration
	maxQty    float64

	mu      sync.Mutex
	closed  bool
	reports chan provider.Report
}

var _ provider.ReportSource = (*Provider)(nil)

// New constructs a sim provider from registry configuration.
func New(name string, cfg *provider.ProviderConfig) (*Provider, error) {
	p := &Provider{
		name:    name,
		reports: make(chan provider.Report, reportBuffer),
	}
	if cfg != nil {
		p.fillDelay = cfg.FillDelay
		if cfg.MaxQuantity != "" {
			maxQty, err := strconv.ParseFloat(strings.TrimSpace(cfg.MaxQuantity), 64)
			if err != nil || maxQty <= 0 {
				return nil, fmt.Errorf("sim %s: invalid max_quantity %q", name, cfg.MaxQuantity)
			}
			p.maxQty = maxQty
		}
	}
	return p, nil
}

func (p *Provider) Name() string { return p.name }

// Reports delivers the synthetic execution reports.
func (p *Provider) Reports() <-chan provider.Report { return p.reports }

// Send acknowledges the submission with a synthetic report. New, pending and
// close requests fill at the submitted price; SL/TP cancel-replace requests
// come back CANCELLED, matching how a venue confirms a working-order cancel.
func (p *Provider) Send(ctx context.Context, sub provider.Submission) error {
	if sub.ClOrdID == "" {
		return fmt.Errorf("sim %s: submission without ClOrdID", p.name)
	}
	status := "EXECUTED"
	switch sub.Kind {
	case provider.KindCancelSL, provider.KindCancelTP:
		status = "CANCELLED"
	}
	if p.maxQty > 0 {
		if qty, err := strconv.ParseFloat(sub.Quantity, 64); err == nil && qty > p.maxQty {
			status = "REJECTED"
		}
	}
	rpt := provider.Report{
		ClOrdID:   sub.ClOrdID,
		ExecID:    uuid.NewString(),
		OrdStatus: status,
		AvgPx:     sub.Price,
		CumQty:    sub.Quantity,
		TsMs:      time.Now().UnixMilli(),
		Raw:       map[string]string{provider.TagOrdType: string(sub.Kind)},
	}
	if status == "REJECTED" {
		rpt.AvgPx = ""
		rpt.CumQty = "0"
	}

	if p.fillDelay > 0 {
		time.AfterFunc(p.fillDelay, func() { p.emit(rpt) })
		return nil
	}
	p.emit(rpt)
	return nil
}

func (p *Provider) emit(rpt provider.Report) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.reports <- rpt:
	default:
		// Buffer full: drop the oldest so the newest report always lands.
		select {
		case <-p.reports:
		default:
		}
		p.reports <- rpt
	}
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.reports)
	}
	return nil
}
