// Code scaffolded by goctl. Safe to edit.
// goctl 1.9.2

package logic

import (
	"context"

	"fxcore/internal/model"
	"fxcore/internal/svc"
	"fxcore/internal/types"

	"github.com/zeromicro/go-zero/core/logx"
)

type CloseOrderLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewCloseOrderLogic(ctx context.Context, svcCtx *svc.ServiceContext) *CloseOrderLogic {
	return &CloseOrderLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *CloseOrderLogic) CloseOrder(req *types.CloseOrderReq) (*types.CloseOrderResp, error) {
	ut, err := userTypeOf(req.UserType)
	if err != nil {
		return nil, err
	}
	initiator := model.InitiatorUser
	if req.Admin {
		initiator = model.InitiatorAdmin
	}

	res, err := l.svcCtx.Executor.CloseOrder(l.ctx, ut, req.UserID, req.OrderID, initiator)
	if err != nil {
		return nil, err
	}
	l.svcCtx.Sender.Enqueue(res.Dispatch)

	resp := &types.CloseOrderResp{
		OK:          true,
		OrderID:     res.OrderID,
		OrderStatus: string(res.OrderStatus),
		Flow:        res.Flow,
	}
	// A provider close is still in flight; the close price exists only once
	// the order is CLOSED.
	if res.OrderStatus == model.StatusClosed {
		resp.ClosePrice = res.ExecPrice.String()
	}
	return resp, nil
}
