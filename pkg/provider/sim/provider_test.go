package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxcore/pkg/provider"
)

func nextReport(t *testing.T, p *Provider) provider.Report {
	t.Helper()
	select {
	case rpt, ok := <-p.Reports():
		require.True(t, ok, "report channel should stay open")
		return rpt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sim report")
	}
	return provider.Report{}
}

func TestSimProvider_FillsAtSubmittedPrice(t *testing.T) {
	p, err := New("sim", nil)
	require.NoError(t, err)
	defer p.Close()

	err = p.Send(context.Background(), provider.Submission{
		Kind:     provider.KindNew,
		ClOrdID:  "1000000000000001",
		Symbol:   "EURUSD",
		Side:     "BUY",
		Quantity: "0.50",
		Price:    "1.10005",
	})
	require.NoError(t, err, "Send should not error")

	rpt := nextReport(t, p)
	assert.Equal(t, "1000000000000001", rpt.ClOrdID, "report should echo ClOrdID")
	assert.Equal(t, "EXECUTED", rpt.OrdStatus)
	assert.Equal(t, "1.10005", rpt.AvgPx, "sim fills at the submitted price")
	assert.Equal(t, "0.50", rpt.CumQty)
	assert.NotEmpty(t, rpt.ExecID, "ExecID should be generated")
	assert.NotZero(t, rpt.TsMs)
}

func TestSimProvider_RejectsAboveMaxQuantity(t *testing.T) {
	p, err := New("sim", &provider.ProviderConfig{MaxQuantity: "10"})
	require.NoError(t, err)
	defer p.Close()

	err = p.Send(context.Background(), provider.Submission{
		Kind:     provider.KindNew,
		ClOrdID:  "1000000000000002",
		Symbol:   "XAUUSD",
		Side:     "SELL",
		Quantity: "25",
		Price:    "2411.30",
	})
	require.NoError(t, err, "rejects are reported, not returned")

	rpt := nextReport(t, p)
	assert.Equal(t, "REJECTED", rpt.OrdStatus)
	assert.Empty(t, rpt.AvgPx, "rejected report carries no fill price")
	assert.Equal(t, "0", rpt.CumQty)
}

func TestSimProvider_CancelReplaceComesBackCancelled(t *testing.T) {
	p, err := New("sim", nil)
	require.NoError(t, err)
	defer p.Close()

	err = p.Send(context.Background(), provider.Submission{
		Kind:        provider.KindCancelSL,
		ClOrdID:     "SLC20240101000001",
		OrigOrderID: "1000000000000003",
		Symbol:      "GBPUSD",
	})
	require.NoError(t, err)

	rpt := nextReport(t, p)
	assert.Equal(t, "SLC20240101000001", rpt.ClOrdID)
	assert.Equal(t, "CANCELLED", rpt.OrdStatus)
}

func TestSimProvider_FillDelayDefersTheReport(t *testing.T) {
	p, err := New("sim", &provider.ProviderConfig{FillDelay: 30 * time.Millisecond})
	require.NoError(t, err)
	defer p.Close()

	start := time.Now()
	require.NoError(t, p.Send(context.Background(), provider.Submission{
		Kind:     provider.KindNew,
		ClOrdID:  "1000000000000004",
		Symbol:   "EURUSD",
		Side:     "BUY",
		Quantity: "1",
		Price:    "1.1",
	}))

	select {
	case <-p.Reports():
		t.Fatal("report arrived before the fill delay elapsed")
	case <-time.After(10 * time.Millisecond):
	}

	rpt := nextReport(t, p)
	assert.Equal(t, "1000000000000004", rpt.ClOrdID)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestSimProvider_RejectsMissingClOrdID(t *testing.T) {
	p, err := New("sim", nil)
	require.NoError(t, err)
	defer p.Close()

	err = p.Send(context.Background(), provider.Submission{Kind: provider.KindNew})
	assert.Error(t, err, "submission without ClOrdID must fail fast")
}

func TestSimProvider_InvalidMaxQuantity(t *testing.T) {
	_, err := New("sim", &provider.ProviderConfig{MaxQuantity: "lots"})
	assert.Error(t, err)
}

func TestSimProvider_RegisteredInRegistry(t *testing.T) {
	cfg := &provider.Config{
		Default: "paper",
		Providers: map[string]*provider.ProviderConfig{
			"paper": {Type: "sim"},
		},
	}
	require.NoError(t, cfg.Validate())

	built, err := cfg.BuildProviders()
	require.NoError(t, err)
	require.Contains(t, built, "paper")
	assert.Equal(t, "paper", built["paper"].Name())
	for _, p := range built {
		_ = p.Close()
	}
}
