// Package portfolio keeps per-user margin snapshots current and enforces the
// liquidation floor. The recalculator turns "symbol moved" events into a
// dirty-user set and flushes it on a short interval, so a burst of ticks on a
// crowded symbol costs one recomputation per user per flush, not one per tick.
package portfolio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"fxcore/internal/keys"
	"fxcore/internal/margin"
	"fxcore/internal/model"
	"fxcore/internal/store"
)

// DefaultFlushInterval batches tick bursts without letting snapshots go
// visibly stale.
const DefaultFlushInterval = 100 * time.Millisecond

// Options tunes one recalculator instance.
type Options struct {
	FlushInterval time.Duration
}

// Recalculator maintains the dirty-user set and writes portfolio snapshots.
type Recalculator struct {
	store  store.Store
	margin *margin.Engine
	cutoff *Cutoff
	flush  time.Duration
	now    func() time.Time

	mu    sync.Mutex
	dirty map[string]struct{}
}

func NewRecalculator(st store.Store, me *margin.Engine, opt Options) *Recalculator {
	if opt.FlushInterval <= 0 {
		opt.FlushInterval = DefaultFlushInterval
	}
	return &Recalculator{
		store:  st,
		margin: me,
		flush:  opt.FlushInterval,
		now:    time.Now,
		dirty:  make(map[string]struct{}),
	}
}

// SetCutoff wires the liquidation watcher into the flush path. Without it
// snapshots are still written; nothing is ever force-closed.
func (r *Recalculator) SetCutoff(c *Cutoff) { r.cutoff = c }

// Run subscribes to market updates and flushes until ctx is done.
func (r *Recalculator) Run(ctx context.Context) error {
	sub, err := r.store.Subscribe(ctx, keys.ChannelMarketUpdates)
	if err != nil {
		return fmt.Errorf("portfolio: subscribe market updates: %w", err)
	}
	defer sub.Close()

	ticker := time.NewTicker(r.flush)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case symbol, ok := <-sub.C():
			if !ok {
				return fmt.Errorf("portfolio: market updates subscription closed")
			}
			r.MarkSymbol(ctx, symbol)
		case <-ticker.C:
			r.Flush(ctx)
		}
	}
}

// MarkSymbol unions everyone holding the symbol into the dirty set.
func (r *Recalculator) MarkSymbol(ctx context.Context, symbol string) {
	var tags []string
	for _, ut := range model.UserTypes {
		members, err := r.store.SMembers(ctx, keys.SymbolHoldersKey(symbol, ut.String()))
		if err != nil {
			logx.Errorf("portfolio: holders of %s %s: %v", symbol, ut, err)
			continue
		}
		tags = append(tags, members...)
	}
	if len(tags) == 0 {
		return
	}
	r.mu.Lock()
	for _, tag := range tags {
		r.dirty[tag] = struct{}{}
	}
	r.mu.Unlock()
}

// Flush drains the dirty set and recomputes each drained user once. Per-user
// failures are logged and re-marked so the next flush retries them.
func (r *Recalculator) Flush(ctx context.Context) {
	r.mu.Lock()
	drained := r.dirty
	r.dirty = make(map[string]struct{})
	r.mu.Unlock()

	for tag := range drained {
		if err := r.refresh(ctx, tag); err != nil {
			logx.Errorf("portfolio: refresh %s: %v", tag, err)
			r.mu.Lock()
			r.dirty[tag] = struct{}{}
			r.mu.Unlock()
		}
	}
}

func (r *Recalculator) refresh(ctx context.Context, tag string) error {
	ut, uid, err := keys.ParseUserTag(tag)
	if err != nil {
		// Unparseable members never become parseable; drop, don't re-mark.
		logx.Errorf("portfolio: dropping malformed holder tag %q", tag)
		return nil
	}
	user, err := r.margin.LoadUser(ctx, model.UserType(ut), uid)
	if err != nil {
		return err
	}
	snap, err := r.margin.Portfolio(ctx, user, r.now().UnixMilli())
	if err != nil {
		return err
	}
	if err := r.store.HSet(ctx, keys.PortfolioKey(ut, uid), snap.ToHash()); err != nil {
		return err
	}
	if r.cutoff != nil {
		if err := r.cutoff.Inspect(ctx, user, snap); err != nil {
			logx.Errorf("portfolio: autocutoff %s: %v", tag, err)
		}
	}
	return nil
}
