package model

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// Tick sources. Fallback snapshots are visible to readers but blocked from
// pricing.
const (
	SourceFeed           = "feed"
	SourceWarmupFallback = "warmup_fallback"
)

// TickUpdate is a decoded feed tick. Bid/Ask are optional: one-sided updates
// are legal and merge against the stored snapshot.
type TickUpdate struct {
	Symbol   string           `json:"symbol"`
	Bid      *decimal.Decimal `json:"bid,omitempty"`
	Ask      *decimal.Decimal `json:"ask,omitempty"`
	SourceTs int64            `json:"ts"`
}

// MarketTick is the stored per-symbol snapshot under market:SYMBOL, written
// only by the market cache.
type MarketTick struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	TsMs   int64
	Source string
}

// Tradable reports whether pricing may execute against this snapshot.
func (t *MarketTick) Tradable() bool {
	return t.Source != SourceWarmupFallback && t.Bid.IsPositive() && t.Ask.IsPositive()
}

func (t *MarketTick) ToHash() map[string]string {
	src := t.Source
	if src == "" {
		src = SourceFeed
	}
	return map[string]string{
		"bid":    t.Bid.String(),
		"ask":    t.Ask.String(),
		"ts_ms":  strconv.FormatInt(t.TsMs, 10),
		"source": src,
	}
}

// MarketTickFromHash decodes a snapshot; ok is false when the key is absent.
func MarketTickFromHash(symbol string, m map[string]string) (*MarketTick, bool) {
	if len(m) == 0 {
		return nil, false
	}
	t := &MarketTick{
		Symbol: symbol,
		Bid:    decOr(m["bid"], decimal.Zero),
		Ask:    decOr(m["ask"], decimal.Zero),
		TsMs:   intOr(m["ts_ms"]),
		Source: m["source"],
	}
	if t.Source == "" {
		t.Source = SourceFeed
	}
	return t, true
}

// PortfolioSnapshot is the flushed margin state under user_portfolio:{ut:uid}.
type PortfolioSnapshot struct {
	UserType      UserType
	UserID        int64
	UsedMarginUSD decimal.Decimal
	UnrealizedPL  decimal.Decimal
	Equity        decimal.Decimal
	FreeMargin    decimal.Decimal
	MarginLevel   decimal.Decimal
	UpdatedMs     int64
}

func (p *PortfolioSnapshot) ToHash() map[string]string {
	return map[string]string{
		"used_margin_usd": p.UsedMarginUSD.String(),
		"unrealized_pl":   p.UnrealizedPL.String(),
		"equity":          p.Equity.String(),
		"free_margin":     p.FreeMargin.String(),
		"margin_level":    p.MarginLevel.String(),
		"updated_ms":      strconv.FormatInt(p.UpdatedMs, 10),
	}
}

func PortfolioSnapshotFromHash(ut UserType, uid int64, m map[string]string) (*PortfolioSnapshot, bool) {
	if len(m) == 0 {
		return nil, false
	}
	return &PortfolioSnapshot{
		UserType:      ut,
		UserID:        uid,
		UsedMarginUSD: decOr(m["used_margin_usd"], decimal.Zero),
		UnrealizedPL:  decOr(m["unrealized_pl"], decimal.Zero),
		Equity:        decOr(m["equity"], decimal.Zero),
		FreeMargin:    decOr(m["free_margin"], decimal.Zero),
		MarginLevel:   decOr(m["margin_level"], decimal.Zero),
		UpdatedMs:     intOr(m["updated_ms"]),
	}, true
}
