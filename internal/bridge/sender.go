package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"fxcore/internal/model"
	"fxcore/internal/queue"
	"fxcore/pkg/provider"
)

const (
	senderBuffer      = 1024
	senderSendTimeout = 5 * time.Second
)

// Sender ships executor dispatch payloads to the venue clients off the
// request path. The order record is durable before a payload gets here, so
// a failed send parks the payload on the dlq for operator replay instead of
// failing anyone's request; the order simply stays in its in-flight status
// until the replayed send draws a report.
type Sender struct {
	bus       queue.Bus
	providers map[string]provider.Provider
	def       string
	ch        chan *model.ProviderOrder
}

func NewSender(bus queue.Bus, providers map[string]provider.Provider, defaultProvider string) *Sender {
	return &Sender{
		bus:       bus,
		providers: providers,
		def:       defaultProvider,
		ch:        make(chan *model.ProviderOrder, senderBuffer),
	}
}

// Enqueue hands off a payload without blocking the caller. nil is accepted
// so local-flow results can be enqueued unconditionally.
func (s *Sender) Enqueue(po *model.ProviderOrder) {
	if po == nil {
		return
	}
	select {
	case s.ch <- po:
	default:
		logx.Errorf("bridge: sender backlog full, parking %s %s", po.Kind, po.ClOrdID)
		s.park(context.Background(), po, "sender_backlog_full")
	}
}

// Run drains the send channel until ctx is done.
func (s *Sender) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case po := <-s.ch:
			s.send(ctx, po)
		}
	}
}

func (s *Sender) send(ctx context.Context, po *model.ProviderOrder) {
	p, ok := s.providers[po.Provider]
	if !ok && s.def != "" {
		p, ok = s.providers[s.def]
	}
	if !ok {
		logx.Errorf("bridge: no provider %q for %s %s", po.Provider, po.Kind, po.ClOrdID)
		s.park(ctx, po, "unknown_provider")
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, senderSendTimeout)
	defer cancel()
	if err := p.Send(sendCtx, submissionOf(po)); err != nil {
		logx.Errorf("bridge: send %s %s via %s: %v", po.Kind, po.ClOrdID, p.Name(), err)
		s.park(ctx, po, "provider_send_failed")
		return
	}
	logx.Infof("bridge: sent %s %s via %s", po.Kind, po.ClOrdID, p.Name())
}

func (s *Sender) park(ctx context.Context, po *model.ProviderOrder, reasonCode string) {
	body, err := json.Marshal(po)
	if err != nil {
		logx.Errorf("bridge: encode parked payload %s: %v", po.ClOrdID, err)
		return
	}
	if err := queue.DeadLetter(ctx, s.bus, "provider_send", body, reasonCode); err != nil {
		logx.Errorf("bridge: park payload %s: %v", po.ClOrdID, err)
	}
}

// submissionOf maps the internal payload onto the wire shape. Request kinds
// share their names across both types. Zero prices and levels travel as
// empty strings; the frame codec drops empty tags.
func submissionOf(po *model.ProviderOrder) provider.Submission {
	sub := provider.Submission{
		Kind:        provider.SubmissionKind(po.Kind),
		ClOrdID:     po.ClOrdID,
		OrigOrderID: po.OrigOrderID,
		Symbol:      po.Symbol,
		Side:        string(po.Side),
		IdemKey:     po.IdemKey,
		TsMs:        po.TsMs,
	}
	if po.Quantity.IsPositive() {
		sub.Quantity = po.Quantity.String()
	}
	if po.Price.IsPositive() {
		sub.Price = po.Price.String()
	}
	if po.StopLoss.IsPositive() {
		sub.StopLoss = po.StopLoss.String()
	}
	if po.TakeProfit.IsPositive() {
		sub.TakeProfit = po.TakeProfit.String()
	}
	return sub
}
