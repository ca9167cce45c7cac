// bridged is the provider-facing daemon: the listener pulls execution report
// frames off the venue socket, the dispatcher resolves and routes each
// report, and the lifecycle workers apply the resulting transitions. In-process
// providers (the sim venue) have their report channels pumped onto the same
// confirmation path, so every report travels one pipeline regardless of
// origin. Run exactly one instance per venue transport.
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

	"fxcore/internal/bridge"
	"fxcore/internal/cli"
	"fxcore/internal/config"
	"fxcore/internal/svc"
	"fxcore/internal/workers"
	"fxcore/pkg/provider"
)

const shutdownTimeout = 10 * time.Second

var configFile = flag.String("f", "etc/fxcore.yaml", "the config file")

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("[main] Starting bridge daemon...")

	cfg := config.MustLoad(*configFile)
	log.Println("[main] Configuration loaded:")
	for _, line := range cli.ConfigSummaryLines(cfg) {
		log.Printf("  - %s", line)
	}
	if cfg.Queue.InMemory() {
		log.Println("[main] Warning: in-memory queue, reports published by other processes will not arrive")
	}

	svcCtx := svc.NewServiceContext(*cfg)
	defer svcCtx.Bus.Close()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithCancel(rootCtx)
	defer cancel()

	var wg sync.WaitGroup
	spawn(&wg, cancel, "dispatcher", func() error {
		return bridge.NewDispatcher(svcCtx.Store, svcCtx.Bus, cfg.Queue.ConsumeOpts()).Run(runCtx)
	})
	spawn(&wg, cancel, "workers", func() error {
		return workers.NewRunner(svcCtx.Bus, svcCtx.Appliers, cfg.Queue.ConsumeOpts()).Run(runCtx)
	})

	if cfg.Listener.Enabled() {
		l := bridge.NewListener(cfg.Listener.Network, cfg.Listener.Address, cfg.Listener.TCPFallback, svcCtx.Bus)
		spawn(&wg, cancel, "listener", func() error { return l.Run(runCtx) })
	} else {
		log.Println("[main] listener.address is empty: socket reports disabled")
	}

	pumps := 0
	for name, p := range svcCtx.Providers {
		src, ok := p.(provider.ReportSource)
		if !ok {
			continue
		}
		pumps++
		spawn(&wg, cancel, "pump:"+name, func() error {
			return bridge.PumpReports(runCtx, svcCtx.Bus, src)
		})
	}
	if !cfg.Listener.Enabled() && pumps == 0 {
		log.Println("[main] Warning: no report source wired; confirmations must arrive from another producer")
	}

	log.Println("[main] Bridge daemon started. Press Ctrl+C to stop.")
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
	log.Println("[main] Bridge daemon stopped")
}

// spawn runs fn until it returns; any exit besides a context cancel tears the
// daemon down, since a bridge with half its pipeline dead silently strands
// in-flight orders.
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
