package trigger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"fxcore/internal/keys"
	"fxcore/internal/model"
	"fxcore/internal/pricing"
	"fxcore/internal/queue"
	"fxcore/internal/store"
)

// CloseApplier applies a trigger close in-process for local-routing orders,
// skipping the queue round-trip. The lifecycle workers implement it; the
// engine only sees the interface.
type CloseApplier interface {
	ApplyClose(ctx context.Context, rpt *model.ExecReport) error
}

// OpenApplier is the activation counterpart of CloseApplier.
type OpenApplier interface {
	ApplyOpen(ctx context.Context, rpt *model.ExecReport) error
}

type fireKind int

const (
	fireStopLoss fireKind = iota
	fireTakeProfit
	fireActivation
)

func (k fireKind) String() string {
	switch k {
	case fireStopLoss:
		return "stop_loss"
	case fireTakeProfit:
		return "take_profit"
	case fireActivation:
		return "activation"
	}
	return "unknown"
}

// Options tunes one engine instance.
type Options struct {
	// Partitions is the symbol partition count; every instance in the fleet
	// must agree on it. Zero means a single partition.
	Partitions int
	// LeaseTTL bounds how long a crashed instance blocks its partitions.
	LeaseTTL time.Duration
}

// Engine turns market moves into order transitions. It subscribes to
// market_updates, scans the six trigger indexes of each moved symbol it
// leads, claims crossed entries by removing them, and hands each claimed
// order to the lifecycle machinery: a CloseContext plus a synthetic
// execution report on the close queue for SL/TP, a synthetic report on the
// open queue for pending activation. Local-routing orders are applied
// directly through the appliers when wired.
type Engine struct {
	store      store.Store
	bus        queue.Bus
	pricing    *pricing.Resolver
	reg        *Registrar
	closer     CloseApplier
	opener     OpenApplier
	partitions int
	leases     []*Lease
	leaseTTL   time.Duration
	now        func() time.Time
}

func NewEngine(st store.Store, bus queue.Bus, pr *pricing.Resolver, reg *Registrar, opt Options) *Engine {
	if opt.Partitions <= 0 {
		opt.Partitions = 1
	}
	if opt.LeaseTTL <= 0 {
		opt.LeaseTTL = DefaultLeaseTTL
	}
	leases := make([]*Lease, opt.Partitions)
	for i := range leases {
		leases[i] = NewLease(st, strconv.Itoa(i), opt.LeaseTTL)
	}
	return &Engine{
		store:      st,
		bus:        bus,
		pricing:    pr,
		reg:        reg,
		partitions: opt.Partitions,
		leases:     leases,
		leaseTTL:   opt.LeaseTTL,
		now:        time.Now,
	}
}

// SetLocalAppliers wires the direct-apply path for local-routing orders.
// Without it every fire goes through the queues, which is still correct,
// just a round-trip slower.
func (e *Engine) SetLocalAppliers(closer CloseApplier, opener OpenApplier) {
	e.closer = closer
	e.opener = opener
}

// Run blocks, scanning moved symbols until ctx is done. Leases are acquired
// eagerly, renewed on a sub-TTL ticker and released on the way out.
func (e *Engine) Run(ctx context.Context) error {
	e.renewLeases(ctx)
	defer e.releaseLeases()

	sub, err := e.store.Subscribe(ctx, keys.ChannelMarketUpdates)
	if err != nil {
		return fmt.Errorf("trigger: subscribe market updates: %w", err)
	}
	defer sub.Close()

	renew := time.NewTicker(e.leaseTTL / 3)
	defer renew.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-renew.C:
			e.renewLeases(ctx)
		case symbol, ok := <-sub.C():
			if !ok {
				return fmt.Errorf("trigger: market updates subscription closed")
			}
			if !e.leads(symbol) {
				continue
			}
			e.ScanSymbol(ctx, symbol)
		}
	}
}

func (e *Engine) renewLeases(ctx context.Context) {
	for i, l := range e.leases {
		if _, err := l.TryAcquire(ctx); err != nil {
			logx.Errorf("trigger: lease partition %d: %v", i, err)
		}
	}
}

func (e *Engine) releaseLeases() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i, l := range e.leases {
		if !l.Held() {
			continue
		}
		if err := l.Release(ctx); err != nil {
			logx.Errorf("trigger: release partition %d: %v", i, err)
		}
	}
}

func (e *Engine) leads(symbol string) bool {
	return e.leases[partitionIndex(symbol, e.partitions)].Held()
}

// ScanSymbol runs one crossing pass over all six indexes of a symbol against
// its current snapshot. Fallback snapshots never fire: a synthetic price must
// not close real positions.
func (e *Engine) ScanSymbol(ctx context.Context, symbol string) {
	m, err := e.store.HGetAll(ctx, keys.MarketKey(symbol))
	if err != nil {
		logx.Errorf("trigger: read market %s: %v", symbol, err)
		return
	}
	tick, ok := model.MarketTickFromHash(symbol, m)
	if !ok || !tick.Tradable() {
		return
	}

	bid, ask := tick.Bid.String(), tick.Ask.String()
	halves := make(map[string]decimal.Decimal)

	// Closest-to-market first: ascending where the crossing band is
	// [price,+inf), descending where it is (-inf,price].
	buy, sell := model.SideBuy.String(), model.SideSell.String()
	e.scan(ctx, tick, halves, keys.SLIndexKey(symbol, buy), bid, "+inf", false, fireStopLoss)
	e.scan(ctx, tick, halves, keys.SLIndexKey(symbol, sell), "-inf", ask, true, fireStopLoss)
	e.scan(ctx, tick, halves, keys.TPIndexKey(symbol, buy), "-inf", bid, true, fireTakeProfit)
	e.scan(ctx, tick, halves, keys.TPIndexKey(symbol, sell), ask, "+inf", false, fireTakeProfit)
	e.scan(ctx, tick, halves, keys.PendingIndexKey(symbol, buy), ask, "+inf", false, fireActivation)
	e.scan(ctx, tick, halves, keys.PendingIndexKey(symbol, sell), "-inf", bid, true, fireActivation)
}

func (e *Engine) scan(ctx context.Context, tick *model.MarketTick, halves map[string]decimal.Decimal, indexKey, min, max string, rev bool, kind fireKind) {
	ids, err := e.store.ZRangeByScore(ctx, indexKey, min, max, rev)
	if err != nil {
		logx.Errorf("trigger: scan %s: %v", indexKey, err)
		return
	}
	for _, id := range ids {
		if err := e.fire(ctx, tick, halves, indexKey, id, kind); err != nil {
			logx.Errorf("trigger: fire %s order %s: %v", kind, id, err)
		}
	}
}

// fire takes one crossed index member through claim and hand-off. Everything
// that can fail without side effects runs before the ZREM claim; after the
// claim any failure restores the entry so the next tick retries.
func (e *Engine) fire(ctx context.Context, tick *model.MarketTick, halves map[string]decimal.Decimal, indexKey, orderID string, kind fireKind) error {
	metaHash, err := e.store.HGetAll(ctx, keys.OrderTriggersKey(orderID))
	if err != nil {
		return err
	}
	meta, err := model.OrderTriggersFromHash(metaHash)
	if err != nil {
		// Index entry with no inversion hash cannot be acted on; drop it.
		logx.Errorf("trigger: orphan index entry %s in %s", orderID, indexKey)
		_, zerr := e.store.ZRem(ctx, indexKey, orderID)
		return zerr
	}

	o, err := e.loadOrder(ctx, meta, orderID)
	if err != nil {
		return err
	}
	if o == nil {
		return e.reg.Deregister(ctx, orderID, meta.Symbol, meta.Side)
	}
	if done, err := e.guardStatus(ctx, indexKey, o, meta, kind); done {
		return err
	}

	ucfgHash, err := e.store.HGetAll(ctx, keys.UserConfigKey(o.UserType.String(), o.UserID))
	if err != nil {
		return err
	}
	ucfg, err := model.UserConfigFromHash(o.UserType, o.UserID, ucfgHash)
	if err != nil {
		return fmt.Errorf("trigger: user config for %s: %w", orderID, err)
	}

	half, ok := halves[ucfg.Group]
	if !ok {
		half, _, err = e.pricing.HalfSpread(ctx, ucfg.Group, o.Symbol)
		if err != nil {
			return err
		}
		halves[ucfg.Group] = half
	}

	// The claim. Exactly one scanner wins; losers stop here.
	n, err := e.store.ZRem(ctx, indexKey, orderID)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	nowMs := e.now().UnixMilli()
	px, queueName, reason := e.fireOutcome(tick, o, half, kind)

	if queueName == queue.Close {
		cc := &model.CloseContext{Context: reason, Initiator: model.InitiatorTrigger, Ts: nowMs}
		pipe := e.store.Pipeline()
		pipe.HSet(keys.CloseContextKey(o.OrderID), cc.ToHash())
		pipe.Expire(keys.CloseContextKey(o.OrderID), keys.CloseContextTTL)
		if err := pipe.Exec(ctx); err != nil {
			e.restore(ctx, indexKey, o, kind, half)
			return err
		}
	}

	rpt := &model.ExecReport{
		OrderID:   o.OrderID,
		RefID:     o.OrderID,
		ExecID:    "TRG-" + uuid.NewString(),
		OrdStatus: model.OrdExecuted,
		AvgPx:     px,
		CumQty:    o.Quantity,
		TsMs:      nowMs,
		UserType:  o.UserType,
		UserID:    o.UserID,
	}

	if o.RoutesLocal() {
		if applied := e.applyLocal(ctx, rpt, kind); applied {
			logx.Infof("trigger: %s fired order=%s px=%s applied locally", kind, o.OrderID, px)
			return nil
		}
	}

	body, err := rpt.Encode()
	if err != nil {
		e.restore(ctx, indexKey, o, kind, half)
		return err
	}
	if err := e.bus.Publish(ctx, queueName, body); err != nil {
		e.restore(ctx, indexKey, o, kind, half)
		return err
	}
	logx.Infof("trigger: %s fired order=%s px=%s queued=%s", kind, o.OrderID, px, queueName)
	return nil
}

// loadOrder resolves the claimed id to its order record; nil means the
// record is gone and the trigger state is orphaned.
func (e *Engine) loadOrder(ctx context.Context, meta *model.OrderTriggers, orderID string) (*model.Order, error) {
	m, err := e.store.HGetAll(ctx, keys.OrderDataKey(meta.UserType.String(), meta.UserID, orderID))
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		logx.Errorf("trigger: order %s vanished, dropping trigger state", orderID)
		return nil, nil
	}
	return model.OrderFromHash(m)
}

// guardStatus filters candidates the current status makes ineligible and
// cleans up entries that can never fire again. done=true means fire must not
// proceed.
func (e *Engine) guardStatus(ctx context.Context, indexKey string, o *model.Order, meta *model.OrderTriggers, kind fireKind) (bool, error) {
	switch kind {
	case fireActivation:
		if o.Status == model.StatusPending {
			return false, nil
		}
		if o.Status.Terminal() {
			return true, e.reg.Deregister(ctx, o.OrderID, meta.Symbol, meta.Side)
		}
		// Already activated; only the activation entry is stale.
		return true, e.reg.RemoveActivation(ctx, o.OrderID, meta.Symbol, meta.Side)
	default:
		if o.Status.OpenLike() {
			return false, nil
		}
		if o.Status.Terminal() {
			return true, e.reg.Deregister(ctx, o.OrderID, meta.Symbol, meta.Side)
		}
		// QUEUED/PENDING never index SL/TP; a member here survived a crash
		// mid-write. Drop just this entry.
		_, err := e.store.ZRem(ctx, indexKey, o.OrderID)
		return true, err
	}
}

// fireOutcome computes the synthetic fill price and the destination. SL/TP
// close on the side opposite entry at the crossing tick; activation opens on
// the entry side.
func (e *Engine) fireOutcome(tick *model.MarketTick, o *model.Order, half decimal.Decimal, kind fireKind) (decimal.Decimal, string, model.CloseReason) {
	switch kind {
	case fireActivation:
		if o.Side == model.SideBuy {
			return tick.Ask.Add(half), queue.Open, ""
		}
		return tick.Bid.Sub(half), queue.Open, ""
	case fireTakeProfit:
		return e.closePx(tick, o, half), queue.Close, model.CloseTakeProfitHit
	default:
		return e.closePx(tick, o, half), queue.Close, model.CloseStopLossHit
	}
}

func (e *Engine) closePx(tick *model.MarketTick, o *model.Order, half decimal.Decimal) decimal.Decimal {
	if o.Side == model.SideBuy {
		return tick.Bid.Sub(half)
	}
	return tick.Ask.Add(half)
}

func (e *Engine) applyLocal(ctx context.Context, rpt *model.ExecReport, kind fireKind) bool {
	switch kind {
	case fireActivation:
		if e.opener == nil {
			return false
		}
		if err := e.opener.ApplyOpen(ctx, rpt); err != nil {
			logx.Errorf("trigger: local activation %s failed, falling back to queue: %v", rpt.OrderID, err)
			return false
		}
	default:
		if e.closer == nil {
			return false
		}
		if err := e.closer.ApplyClose(ctx, rpt); err != nil {
			logx.Errorf("trigger: local close %s failed, falling back to queue: %v", rpt.OrderID, err)
			return false
		}
	}
	return true
}

// restore re-indexes a claimed entry after a failed hand-off so the next
// tick retries it.
func (e *Engine) restore(ctx context.Context, indexKey string, o *model.Order, kind fireKind, half decimal.Decimal) {
	var score decimal.Decimal
	switch kind {
	case fireStopLoss:
		score = CloseScore(o.Side, o.StopLoss, half)
	case fireTakeProfit:
		score = CloseScore(o.Side, o.TakeProfit, half)
	case fireActivation:
		score = ActivationScore(o.Side, o.ActivationPrice, half)
	}
	f, _ := score.Float64()
	if err := e.store.ZAdd(ctx, indexKey, f, o.OrderID); err != nil {
		logx.Errorf("trigger: restore %s into %s: %v", o.OrderID, indexKey, err)
	}
}
