// marketd is the market-facing daemon: it keeps the per-symbol price
// snapshots current from the feed websocket, scans trigger indexes on every
// move, and maintains per-user portfolio snapshots with the liquidation
// watcher. Run exactly one instance per environment: the cache write path
// and the trigger leases both assume a single writer fleet-wide unless the
// partition count says otherwise.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"fxcore/internal/cli"
	"fxcore/internal/config"
	"fxcore/internal/market"
	"fxcore/internal/portfolio"
	"fxcore/internal/svc"
	"fxcore/internal/trigger"
)

const shutdownTimeout = 10 * time.Second

var configFile = flag.String("f", "etc/fxcore.yaml", "the config file")

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("[main] Starting market daemon...")

	cfg := config.MustLoad(*configFile)
	log.Println("[main] Configuration loaded:")
	for _, line := range cli.ConfigSummaryLines(cfg) {
		log.Printf("  - %s", line)
	}
	if cfg.Feed.URL == "" {
		log.Fatalf("[main] feed.url is required: marketd is the price transport")
	}
	if len(cfg.Feed.Symbols) == 0 {
		log.Fatalf("[main] feed.symbols is empty: nothing to maintain")
	}
	if cfg.Store.InMemory() {
		log.Println("[main] Warning: in-memory state store, snapshots are process-local")
	}

	svcCtx := svc.NewServiceContext(*cfg)
	defer svcCtx.Bus.Close()

	cache := market.NewCache(svcCtx.Store, cfg.Feed.Symbols, cfg.Feed.Freshness())
	feed := market.NewFeed(cfg.Feed.URL, cfg.Feed.Symbols)

	engine := trigger.NewEngine(svcCtx.Store, svcCtx.Bus, svcCtx.Pricing, svcCtx.Registrar, trigger.Options{
		Partitions: cfg.Trigger.Partitions,
		LeaseTTL:   cfg.Trigger.LeaseTTL(),
	})
	engine.SetLocalAppliers(svcCtx.Appliers, svcCtx.Appliers)

	recalc := portfolio.NewRecalculator(svcCtx.Store, svcCtx.Margin, portfolio.Options{
		FlushInterval: cfg.Portfolio.FlushInterval(),
	})
	if floor := cfg.Portfolio.Cutoff(); floor.IsPositive() {
		cutoff := portfolio.NewCutoff(svcCtx.Store, svcCtx.Bus, svcCtx.Margin, svcCtx.Pricing, floor)
		cutoff.SetCloseApplier(svcCtx.Appliers)
		recalc.SetCutoff(cutoff)
	} else {
		log.Println("[main] portfolio.cutoffLevel is zero: autocutoff disabled")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithCancel(rootCtx)
	defer cancel()

	// Mark anything stale as non-tradable before the feed delivers its first
	// tick; executions against pre-outage prices are worse than rejections.
	if err := cache.Warmup(runCtx); err != nil {
		log.Fatalf("[main] startup warmup: %v", err)
	}

	var wg sync.WaitGroup
	spawn(&wg, cancel, "feed", func() error { return feed.Run(runCtx) })
	spawn(&wg, cancel, "ticks", func() error { return applyTicks(runCtx, feed, cache) })
	spawn(&wg, cancel, "cache", func() error { return superviseCache(runCtx, feed, cache, cfg.Feed.Freshness()) })
	spawn(&wg, cancel, "trigger", func() error { return engine.Run(runCtx) })
	spawn(&wg, cancel, "portfolio", func() error { return recalc.Run(runCtx) })

	log.Println("[main] Market daemon started. Press Ctrl+C to stop.")
	<-runCtx.Done()
	log.Println("[main] Shutdown signal received, stopping tasks...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Println("[main] All tasks stopped cleanly")
	case <-shutdownCtx.Done():
		log.Println("[main] Shutdown timeout exceeded, forcing exit")
	}
	log.Println("[main] Market daemon stopped")
}

// spawn runs fn until it returns; any exit besides a context cancel tears the
// daemon down. The loops are co-dependent: a dead trigger engine under a live
// feed would strand protections while prices keep moving.
func spawn(wg *sync.WaitGroup, cancel context.CancelFunc, name string, fn func() error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[%s] stopped: %v", name, err)
			cancel()
		}
	}()
}

func applyTicks(ctx context.Context, feed *market.Feed, cache *market.Cache) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick := <-feed.Ticks():
			if err := cache.Apply(ctx, tick); err != nil {
				log.Printf("[ticks] apply %s: %v", tick.Symbol, err)
			}
		}
	}
}

// superviseCache reacts to transport state: warmup on every (re)connect, and
// an unconditional fallback rewrite once an outage outlives the freshness
// window, so readers see the non-tradable marker instead of a plausible
// stale price.
func superviseCache(ctx context.Context, feed *market.Feed, cache *market.Cache, grace time.Duration) error {
	var down <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-feed.Events():
			switch ev.Kind {
			case market.FeedConnected:
				down = nil
				if err := cache.Warmup(ctx); err != nil {
					log.Printf("[cache] warmup after reconnect: %v", err)
				}
			case market.FeedDisconnected:
				if down == nil {
					down = time.After(grace)
				}
			}
		case <-down:
			down = nil
			if err := cache.EmergencyPopulate(ctx); err != nil {
				log.Printf("[cache] emergency populate: %v", err)
			}
		}
	}
}
