// tickprobe subscribes to the configured price feed and prints every decoded
// tick, bypassing the store entirely. Use it to verify feed connectivity and
// frame shape before pointing marketd at a new venue.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fxcore/internal/config"
	"fxcore/internal/market"
)

var (
	configFile = flag.String("f", "etc/fxcore.yaml", "the config file")
	listenFor  = flag.Duration("t", 30*time.Second, "how long to listen (0 = until interrupted)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Printf("load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Feed.URL == "" {
		fmt.Println("feed.url is not configured")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *listenFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *listenFor)
		defer cancel()
	}

	feed := market.NewFeed(cfg.Feed.URL, cfg.Feed.Symbols)
	go func() { _ = feed.Run(ctx) }()

	fmt.Printf("probing %s (%d symbols)\n", cfg.Feed.URL, len(cfg.Feed.Symbols))
	var ticks int
	for {
		select {
		case <-ctx.Done():
			fmt.Printf("done: %d ticks\n", ticks)
			return
		case ev := <-feed.Events():
			fmt.Printf("%s feed %s\n", ev.At.Format(time.TimeOnly), ev.Kind)
		case tick := <-feed.Ticks():
			ticks++
			bid, ask := "-", "-"
			if tick.Bid != nil {
				bid = tick.Bid.String()
			}
			if tick.Ask != nil {
				ask = tick.Ask.String()
			}
			fmt.Printf("%s %-10s bid=%-12s ask=%-12s ts=%d\n",
				time.Now().Format(time.TimeOnly), tick.Symbol, bid, ask, tick.SourceTs)
		}
	}
}
