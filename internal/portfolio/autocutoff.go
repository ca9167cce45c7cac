package portfolio

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"fxcore/internal/keys"
	"fxcore/internal/margin"
	"fxcore/internal/model"
	"fxcore/internal/pricing"
	"fxcore/internal/queue"
	"fxcore/internal/store"
)

// CloseApplier applies a liquidation in-process for local-routing orders; the
// lifecycle workers implement it.
type CloseApplier interface {
	ApplyClose(ctx context.Context, rpt *model.ExecReport) error
}

// Cutoff is the liquidation watcher. When a flushed snapshot's margin level
// sits below the floor it force-closes the user's biggest drag, one position
// per flush: the close changes the arithmetic, so the level is re-judged on
// fresh numbers before a second liquidation fires.
type Cutoff struct {
	store   store.Store
	bus     queue.Bus
	margin  *margin.Engine
	pricing *pricing.Resolver
	closer  CloseApplier
	floor   decimal.Decimal
	now     func() time.Time
}

// NewCutoff builds a watcher with the given margin-level floor. A zero floor
// disables liquidation.
func NewCutoff(st store.Store, bus queue.Bus, me *margin.Engine, pr *pricing.Resolver, floor decimal.Decimal) *Cutoff {
	return &Cutoff{
		store:   st,
		bus:     bus,
		margin:  me,
		pricing: pr,
		floor:   floor,
		now:     time.Now,
	}
}

// SetCloseApplier wires the direct-apply path for local-routing orders.
func (c *Cutoff) SetCloseApplier(a CloseApplier) { c.closer = a }

// Inspect judges one flushed snapshot and, when the level is below the
// floor, makes exactly one liquidation durable. The CloseContext and the
// enqueued close survive a crash between here and the close worker; at worst
// the same order is claimed again and the close worker treats the duplicate
// as a replay.
func (c *Cutoff) Inspect(ctx context.Context, user *model.UserConfig, snap *model.PortfolioSnapshot) error {
	if c.floor.IsZero() || !snap.UsedMarginUSD.IsPositive() {
		return nil
	}
	if snap.MarginLevel.GreaterThanOrEqual(c.floor) {
		return nil
	}

	o, err := c.candidate(ctx, user)
	if err != nil {
		return err
	}
	if o == nil {
		return nil
	}

	half, _, err := c.pricing.HalfSpread(ctx, user.Group, o.Symbol)
	if err != nil {
		return err
	}
	tick, err := c.readTick(ctx, o.Symbol)
	if err != nil {
		return err
	}
	if tick == nil {
		// A fallback snapshot must not liquidate real positions.
		return nil
	}
	px := tick.Ask.Add(half)
	if o.Side == model.SideBuy {
		px = tick.Bid.Sub(half)
	}

	nowMs := c.now().UnixMilli()
	cc := &model.CloseContext{Context: model.CloseAutocutoff, Initiator: model.InitiatorAutocutoff, Ts: nowMs}
	pipe := c.store.Pipeline()
	pipe.HSet(keys.CloseContextKey(o.OrderID), cc.ToHash())
	pipe.Expire(keys.CloseContextKey(o.OrderID), keys.CloseContextTTL)
	if err := pipe.Exec(ctx); err != nil {
		return err
	}

	rpt := &model.ExecReport{
		OrderID:   o.OrderID,
		RefID:     o.OrderID,
		ExecID:    "CUT-" + uuid.NewString(),
		OrdStatus: model.OrdExecuted,
		AvgPx:     px,
		CumQty:    o.Quantity,
		TsMs:      nowMs,
		UserType:  o.UserType,
		UserID:    o.UserID,
	}

	if o.RoutesLocal() && c.closer != nil {
		err := c.closer.ApplyClose(ctx, rpt)
		if err == nil {
			logx.Infof("autocutoff: liquidated order=%s user=%s level=%s px=%s",
				o.OrderID, keys.UserTag(user.UserType.String(), user.UserID), snap.MarginLevel, px)
			return nil
		}
		logx.Errorf("autocutoff: local close %s failed, falling back to queue: %v", o.OrderID, err)
	}

	body, err := rpt.Encode()
	if err != nil {
		return err
	}
	if err := c.bus.Publish(ctx, queue.Close, body); err != nil {
		return err
	}
	logx.Infof("autocutoff: liquidation queued order=%s user=%s level=%s px=%s",
		o.OrderID, keys.UserTag(user.UserType.String(), user.UserID), snap.MarginLevel, px)
	return nil
}

// candidate picks the open order with the largest unrealized loss in USD.
// Positions already on their way out (CLOSING and friends) are skipped, as is
// anything whose price or group data is unavailable right now.
func (c *Cutoff) candidate(ctx context.Context, user *model.UserConfig) (*model.Order, error) {
	holdings, err := c.margin.LoadHoldings(ctx, user.UserType, user.UserID)
	if err != nil {
		return nil, err
	}

	cache := make(pricing.RateCache)
	var worst *model.Holding
	var worstUPL decimal.Decimal
	for _, h := range holdings {
		if h.Status != model.StatusOpen {
			continue
		}
		spec, err := c.pricing.Groups().Load(ctx, user.Group, h.Symbol)
		if err != nil {
			logx.Errorf("autocutoff: group config %s/%s: %v", user.Group, h.Symbol, err)
			continue
		}
		tick, err := c.readTick(ctx, h.Symbol)
		if err != nil || tick == nil {
			continue
		}
		upl := margin.UnrealizedPL(h, spec, tick)
		uplUSD, err := c.pricing.ConvertToUSD(ctx, upl, spec.Profit, cache, false)
		if err != nil {
			uplUSD = upl
		}
		if worst == nil || uplUSD.LessThan(worstUPL) {
			worst, worstUPL = h, uplUSD
		}
	}
	if worst == nil {
		return nil, nil
	}

	// Re-read the order record: the holding mirror can lag a close that
	// landed since the snapshot was computed.
	m, err := c.store.HGetAll(ctx, keys.OrderDataKey(user.UserType.String(), user.UserID, worst.OrderID))
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	o, err := model.OrderFromHash(m)
	if err != nil {
		return nil, fmt.Errorf("autocutoff: order %s: %w", worst.OrderID, err)
	}
	if o.Status != model.StatusOpen {
		return nil, nil
	}
	return o, nil
}

func (c *Cutoff) readTick(ctx context.Context, symbol string) (*model.MarketTick, error) {
	m, err := c.store.HGetAll(ctx, keys.MarketKey(symbol))
	if err != nil {
		return nil, err
	}
	tick, ok := model.MarketTickFromHash(symbol, m)
	if !ok || !tick.Tradable() {
		return nil, nil
	}
	return tick, nil
}
