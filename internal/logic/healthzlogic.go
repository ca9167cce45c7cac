// Code scaffolded by goctl. Safe to edit.
// goctl 1.9.2

package logic

import (
	"context"
	"time"

	"fxcore/internal/keys"
	"fxcore/internal/model"
	"fxcore/internal/store"
	"fxcore/internal/svc"
	"fxcore/internal/types"

	"github.com/zeromicro/go-zero/core/logx"
)

type HealthzLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewHealthzLogic(ctx context.Context, svcCtx *svc.ServiceContext) *HealthzLogic {
	return &HealthzLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// Healthz reports store reachability, the breaker state, the queue transport
// and the age of the freshest configured symbol. Degraded means the process
// is up but some dependency is not serving.
func (l *HealthzLogic) Healthz() (*types.HealthResp, error) {
	resp := &types.HealthResp{
		Status:    "ok",
		Store:     "in-memory",
		Queue:     "in-memory",
		FeedAgeMs: -1,
	}

	if r, ok := l.svcCtx.Store.(*store.Redis); ok {
		resp.Store = r.BreakerState()
		if err := r.Ping(l.ctx); err != nil {
			l.Errorf("healthz: store ping: %v", err)
			resp.Status = "degraded"
		}
	}
	if !l.svcCtx.Config.Queue.InMemory() {
		resp.Queue = "amqp"
	}

	symbols := l.svcCtx.Config.Feed.Symbols
	if len(symbols) == 0 {
		return resp, nil
	}
	var newest int64
	for _, sym := range symbols {
		m, err := l.svcCtx.Store.HGetAll(l.ctx, keys.MarketKey(sym))
		if err != nil {
			resp.Status = "degraded"
			return resp, nil
		}
		if tick, ok := model.MarketTickFromHash(sym, m); ok && tick.TsMs > newest {
			newest = tick.TsMs
		}
	}
	if newest == 0 {
		// No symbol has ever ticked; the market daemon is not running.
		resp.Status = "degraded"
		return resp, nil
	}
	resp.FeedAgeMs = time.Now().UnixMilli() - newest
	if resp.FeedAgeMs > l.svcCtx.Config.Feed.Freshness().Milliseconds() {
		resp.Status = "degraded"
	}
	return resp, nil
}
