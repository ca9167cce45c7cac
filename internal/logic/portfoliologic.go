// Code scaffolded by goctl. Safe to edit.
// goctl 1.9.2

package logic

import (
	"context"
	"time"

	"fxcore/internal/keys"
	"fxcore/internal/model"
	"fxcore/internal/svc"
	"fxcore/internal/types"

	"github.com/zeromicro/go-zero/core/logx"
)

type PortfolioLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewPortfolioLogic(ctx context.Context, svcCtx *svc.ServiceContext) *PortfolioLogic {
	return &PortfolioLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// Portfolio serves the flushed snapshot when the recalculator has produced
// one, and computes a live one otherwise (fresh account, or no market daemon
// tracking this user yet).
func (l *PortfolioLogic) Portfolio(req *types.PortfolioReq) (*types.PortfolioResp, error) {
	ut, err := userTypeOf(req.UserType)
	if err != nil {
		return nil, err
	}

	m, err := l.svcCtx.Store.HGetAll(l.ctx, keys.PortfolioKey(ut.String(), req.UserID))
	if err != nil {
		return nil, err
	}
	if snap, ok := model.PortfolioSnapshotFromHash(ut, req.UserID, m); ok {
		return portfolioResp(snap, false), nil
	}

	user, err := l.svcCtx.Margin.LoadUser(l.ctx, ut, req.UserID)
	if err != nil {
		return nil, err
	}
	snap, err := l.svcCtx.Margin.Portfolio(l.ctx, user, time.Now().UnixMilli())
	if err != nil {
		return nil, err
	}
	return portfolioResp(snap, true), nil
}

func portfolioResp(snap *model.PortfolioSnapshot, live bool) *types.PortfolioResp {
	return &types.PortfolioResp{
		OK:            true,
		UserID:        snap.UserID,
		UserType:      snap.UserType.String(),
		UsedMarginUSD: snap.UsedMarginUSD.String(),
		UnrealizedPL:  snap.UnrealizedPL.String(),
		Equity:        snap.Equity.String(),
		FreeMargin:    snap.FreeMargin.String(),
		MarginLevel:   snap.MarginLevel.String(),
		UpdatedMs:     snap.UpdatedMs,
		Live:          live,
	}
}
