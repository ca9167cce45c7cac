// Code scaffolded by goctl. Safe to edit.
// goctl 1.9.2

package logic

import (
	"context"

	"fxcore/internal/svc"
	"fxcore/internal/types"

	"github.com/zeromicro/go-zero/core/logx"
)

type ModifySLTPLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewModifySLTPLogic(ctx context.Context, svcCtx *svc.ServiceContext) *ModifySLTPLogic {
	return &ModifySLTPLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *ModifySLTPLogic) ModifySLTP(req *types.ModifySLTPReq) (*types.ModifySLTPResp, error) {
	ut, err := userTypeOf(req.UserType)
	if err != nil {
		return nil, err
	}
	sl, err := optionalDecPtr("stop_loss", req.StopLoss)
	if err != nil {
		return nil, err
	}
	tp, err := optionalDecPtr("take_profit", req.TakeProfit)
	if err != nil {
		return nil, err
	}

	res, err := l.svcCtx.Executor.ModifySLTP(l.ctx, ut, req.UserID, req.OrderID, sl, tp)
	if err != nil {
		return nil, err
	}
	l.svcCtx.Sender.Enqueue(res.Dispatch)

	return &types.ModifySLTPResp{
		OK:          true,
		OrderID:     res.OrderID,
		OrderStatus: string(res.OrderStatus),
		Flow:        res.Flow,
	}, nil
}
