package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxcore/internal/model"
	"fxcore/internal/queue"
	"fxcore/pkg/provider"
)

type captureProvider struct {
	name string
	err  error

	mu   sync.Mutex
	subs []provider.Submission
}

func (p *captureProvider) Name() string { return p.name }

func (p *captureProvider) Send(_ context.Context, sub provider.Submission) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subs = append(p.subs, sub)
	return nil
}

func (p *captureProvider) Close() error { return nil }

func (p *captureProvider) sent() []provider.Submission {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]provider.Submission, len(p.subs))
	copy(out, p.subs)
	return out
}

func runSender(t *testing.T, s *Sender) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestSender_DeliversToNamedProvider(t *testing.T) {
	bus := queue.NewMemBus()
	alpha := &captureProvider{name: "alpha"}
	s := NewSender(bus, map[string]provider.Provider{"alpha": alpha}, "")
	runSender(t, s)

	s.Enqueue(nil) // local-flow results carry no payload
	s.Enqueue(&model.ProviderOrder{
		Kind:       model.ProviderReqNew,
		Provider:   "alpha",
		ClOrdID:    "4210000000000001",
		UserType:   model.UserLive,
		UserID:     42,
		Symbol:     "EURUSD",
		Side:       model.SideBuy,
		Quantity:   dec("1"),
		Price:      dec("1.20010"),
		StopLoss:   dec("1.19500"),
		TakeProfit: dec("1.21000"),
		IdemKey:    "idem-1",
		TsMs:       1720000000000,
	})

	require.Eventually(t, func() bool { return len(alpha.sent()) == 1 }, time.Second, 5*time.Millisecond)
	sub := alpha.sent()[0]
	assert.Equal(t, provider.KindNew, sub.Kind)
	assert.Equal(t, "4210000000000001", sub.ClOrdID)
	assert.Equal(t, "EURUSD", sub.Symbol)
	assert.Equal(t, "BUY", sub.Side)
	assert.Equal(t, "1", sub.Quantity)
	assert.Equal(t, "1.2001", sub.Price)
	assert.Equal(t, "1.195", sub.StopLoss)
	assert.Equal(t, "1.21", sub.TakeProfit)
	assert.Equal(t, "idem-1", sub.IdemKey)
	assert.Zero(t, bus.Len(queue.DLQ))
}

func TestSender_CloseRequestOmitsEmptyTags(t *testing.T) {
	bus := queue.NewMemBus()
	alpha := &captureProvider{name: "alpha"}
	s := NewSender(bus, map[string]provider.Provider{"alpha": alpha}, "alpha")
	runSender(t, s)

	// A payload naming an unconfigured provider falls back to the default.
	s.Enqueue(&model.ProviderOrder{
		Kind:        model.ProviderReqClose,
		Provider:    "decommissioned",
		ClOrdID:     "CLS20240703000001",
		OrigOrderID: "4210000000000001",
		UserType:    model.UserLive,
		UserID:      42,
		Symbol:      "EURUSD",
		Side:        model.SideSell,
		Quantity:    dec("1"),
	})

	require.Eventually(t, func() bool { return len(alpha.sent()) == 1 }, time.Second, 5*time.Millisecond)
	sub := alpha.sent()[0]
	assert.Equal(t, provider.KindClose, sub.Kind)
	assert.Equal(t, "CLS20240703000001", sub.ClOrdID)
	assert.Equal(t, "4210000000000001", sub.OrigOrderID)
	assert.Empty(t, sub.Price)
	assert.Empty(t, sub.StopLoss)
	assert.Empty(t, sub.TakeProfit)
}

func TestSender_ParksWhenNoProviderResolves(t *testing.T) {
	bus := queue.NewMemBus()
	s := NewSender(bus, nil, "")
	runSender(t, s)

	s.Enqueue(&model.ProviderOrder{
		Kind:     model.ProviderReqNew,
		Provider: "ghost",
		ClOrdID:  "4210000000000002",
		Symbol:   "EURUSD",
		Side:     model.SideBuy,
		Quantity: dec("1"),
		Price:    dec("1.2"),
	})

	require.Eventually(t, func() bool { return bus.Len(queue.DLQ) == 1 }, time.Second, 5*time.Millisecond)
	hdr := bus.Headers(queue.DLQ, 0)
	assert.Equal(t, "unknown_provider", hdr[queue.HeaderReason])
	assert.Equal(t, "provider_send", hdr[queue.HeaderOrigin])

	var parked model.ProviderOrder
	require.NoError(t, json.Unmarshal(bus.Messages(queue.DLQ)[0], &parked))
	assert.Equal(t, "4210000000000002", parked.ClOrdID)
}

func TestSender_ParksFailedSend(t *testing.T) {
	bus := queue.NewMemBus()
	broken := &captureProvider{name: "alpha", err: errors.New("venue unreachable")}
	s := NewSender(bus, map[string]provider.Provider{"alpha": broken}, "")
	runSender(t, s)

	s.Enqueue(&model.ProviderOrder{
		Kind:     model.ProviderReqNew,
		Provider: "alpha",
		ClOrdID:  "4210000000000003",
		Symbol:   "EURUSD",
		Side:     model.SideBuy,
		Quantity: dec("1"),
		Price:    dec("1.2"),
	})

	require.Eventually(t, func() bool { return bus.Len(queue.DLQ) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "provider_send_failed", bus.Headers(queue.DLQ, 0)[queue.HeaderReason])
}
