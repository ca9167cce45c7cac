// Code scaffolded by goctl. Safe to edit.
// goctl 1.9.2

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"fxcore/internal/bridge"
	"fxcore/internal/cli"
	"fxcore/internal/config"
	"fxcore/internal/handler"
	"fxcore/internal/svc"
	"fxcore/internal/workers"
	"fxcore/pkg/provider"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/rest"
	"github.com/zeromicro/go-zero/rest/httpx"
)

var configFile = flag.String("f", "etc/fxcore.yaml", "the config file")

func main() {
	flag.Parse()

	cfg := config.MustLoad(*configFile)
	cli.LogConfigSummary(cfg)

	server := rest.MustNewServer(cfg.RestConf)
	defer server.Stop()

	svcCtx := svc.NewServiceContext(*cfg)
	handler.RegisterHandlers(server, svcCtx)
	httpx.SetErrorHandlerCtx(handler.ErrorMapper)

	bg, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := svcCtx.Sender.Run(bg); err != nil && !errors.Is(err, context.Canceled) {
			logx.Errorf("bridge sender stopped: %v", err)
		}
	}()
	if cfg.Queue.InMemory() {
		runInProcessBridge(bg, svcCtx, cfg)
	}

	fmt.Printf("Starting server at %s:%d...\n", cfg.Host, cfg.Port)
	server.Start()
}

// runInProcessBridge consumes the report path inside the API process. An
// in-memory queue has no broker for bridged to share, so without these loops
// a provider round-trip would never complete in single-binary setups.
func runInProcessBridge(ctx context.Context, svcCtx *svc.ServiceContext, cfg *config.Config) {
	opts := cfg.Queue.ConsumeOpts()
	go func() {
		if err := bridge.NewDispatcher(svcCtx.Store, svcCtx.Bus, opts).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logx.Errorf("dispatcher stopped: %v", err)
		}
	}()
	go func() {
		if err := workers.NewRunner(svcCtx.Bus, svcCtx.Appliers, opts).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logx.Errorf("worker runner stopped: %v", err)
		}
	}()
	for name, p := range svcCtx.Providers {
		src, ok := p.(provider.ReportSource)
		if !ok {
			continue
		}
		go func(name string, src provider.ReportSource) {
			if err := bridge.PumpReports(ctx, svcCtx.Bus, src); err != nil && !errors.Is(err, context.Canceled) {
				logx.Errorf("report pump %s stopped: %v", name, err)
			}
		}(name, src)
	}
}
