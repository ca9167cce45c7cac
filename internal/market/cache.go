// Package market owns the per-symbol bid/ask snapshots. The cache is the
// only writer of market:SYMBOL keys; everything downstream (pricing, the
// trigger engine, the portfolio recalculator) reads the snapshots and reacts
// to the symbol names fanned out on the market_updates channel.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"fxcore/internal/keys"
	"fxcore/internal/model"
	"fxcore/internal/store"
)

// DefaultFreshness is how old a stored snapshot may be before warmup
// rewrites it as a fallback.
const DefaultFreshness = 30 * time.Second

// Cache maintains market:SYMBOL snapshots. Run exactly one instance per
// price transport: the write path assumes a single writer and does not
// guard against concurrent merges of the same symbol.
type Cache struct {
	store     store.Store
	symbols   []string
	freshness time.Duration
	now       func() time.Time
}

// NewCache builds the cache over the known symbol set. The symbol set drives
// warmup and emergency populate; ticks for unknown symbols are still applied.
func NewCache(st store.Store, symbols []string, freshness time.Duration) *Cache {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	return &Cache{
		store:     st,
		symbols:   symbols,
		freshness: freshness,
		now:       time.Now,
	}
}

// Apply merges one decoded tick into the stored snapshot and fans out the
// symbol name. The publish happens strictly after the write commits, so a
// subscriber reading on notification always observes at least this tick.
func (c *Cache) Apply(ctx context.Context, tick model.TickUpdate) error {
	if tick.Symbol == "" {
		return fmt.Errorf("market: tick without symbol")
	}
	if tick.Bid == nil && tick.Ask == nil {
		return fmt.Errorf("market: tick for %s has neither side", tick.Symbol)
	}

	prev, _, err := c.Read(ctx, tick.Symbol)
	if err != nil {
		return err
	}

	next := model.MarketTick{Symbol: tick.Symbol, Source: model.SourceFeed}
	if prev != nil {
		next.Bid = prev.Bid
		next.Ask = prev.Ask
	}
	if tick.Bid != nil {
		next.Bid = *tick.Bid
	}
	if tick.Ask != nil {
		next.Ask = *tick.Ask
	}
	next.TsMs = tick.SourceTs
	if next.TsMs <= 0 {
		next.TsMs = c.now().UnixMilli()
	}

	if err := c.store.HSet(ctx, keys.MarketKey(tick.Symbol), next.ToHash()); err != nil {
		return err
	}
	return c.store.Publish(ctx, keys.ChannelMarketUpdates, tick.Symbol)
}

// Read returns the stored snapshot for symbol; ok is false when none exists.
func (c *Cache) Read(ctx context.Context, symbol string) (*model.MarketTick, bool, error) {
	m, err := c.store.HGetAll(ctx, keys.MarketKey(symbol))
	if err != nil {
		return nil, false, err
	}
	tick, ok := model.MarketTickFromHash(symbol, m)
	return tick, ok, nil
}

// Warmup runs after a transport (re)connect: every known symbol whose
// snapshot is missing or older than the freshness threshold is rewritten as
// a warmup_fallback tick. Fallbacks keep the last known bid/ask so readers
// still see a shape, but carry the source marker that blocks execution.
// No notification is published for fallbacks.
func (c *Cache) Warmup(ctx context.Context) error {
	cutoff := c.now().Add(-c.freshness).UnixMilli()
	var rewritten int
	for _, symbol := range c.symbols {
		prev, ok, err := c.Read(ctx, symbol)
		if err != nil {
			return fmt.Errorf("market warmup %s: %w", symbol, err)
		}
		if ok && prev.TsMs >= cutoff && prev.Source == model.SourceFeed {
			continue
		}
		if err := c.writeFallback(ctx, symbol, prev); err != nil {
			return fmt.Errorf("market warmup %s: %w", symbol, err)
		}
		rewritten++
	}
	if rewritten > 0 {
		logx.Infof("market warmup: %d/%d symbols rewritten as fallback", rewritten, len(c.symbols))
	}
	return nil
}

// EmergencyPopulate rewrites every known symbol as a fallback unconditionally.
// Invoked when the transport has been down past the grace period: whatever
// the store holds is too old to execute against.
func (c *Cache) EmergencyPopulate(ctx context.Context) error {
	for _, symbol := range c.symbols {
		prev, _, err := c.Read(ctx, symbol)
		if err != nil {
			return fmt.Errorf("market emergency populate %s: %w", symbol, err)
		}
		if err := c.writeFallback(ctx, symbol, prev); err != nil {
			return fmt.Errorf("market emergency populate %s: %w", symbol, err)
		}
	}
	logx.Infof("market emergency populate: %d symbols rewritten as fallback", len(c.symbols))
	return nil
}

func (c *Cache) writeFallback(ctx context.Context, symbol string, prev *model.MarketTick) error {
	fallback := model.MarketTick{
		Symbol: symbol,
		TsMs:   c.now().UnixMilli(),
		Source: model.SourceWarmupFallback,
	}
	if prev != nil {
		fallback.Bid = prev.Bid
		fallback.Ask = prev.Ask
	}
	return c.store.HSet(ctx, keys.MarketKey(symbol), fallback.ToHash())
}
