// Code scaffolded by goctl. Safe to edit.
// goctl 1.9.2

package logic

import (
	"context"

	"fxcore/internal/executor"
	"fxcore/internal/svc"
	"fxcore/internal/types"

	"github.com/zeromicro/go-zero/core/logx"
)

type PendingOrderLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewPendingOrderLogic(ctx context.Context, svcCtx *svc.ServiceContext) *PendingOrderLogic {
	return &PendingOrderLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *PendingOrderLogic) PendingOrder(req *types.PendingOrderReq) (*types.OrderResp, error) {
	ut, err := userTypeOf(req.UserType)
	if err != nil {
		return nil, err
	}
	side, err := sideOf(req.OrderType)
	if err != nil {
		return nil, err
	}
	qty, err := quantityDec(req.OrderQuantity)
	if err != nil {
		return nil, err
	}
	activation, err := requiredDec("order_price", req.OrderPrice)
	if err != nil {
		return nil, err
	}
	sl, err := optionalDec("stop_loss", req.StopLoss)
	if err != nil {
		return nil, err
	}
	tp, err := optionalDec("take_profit", req.TakeProfit)
	if err != nil {
		return nil, err
	}

	res, err := l.svcCtx.Executor.PlacePendingOrder(l.ctx, executor.PendingOrderRequest{
		UserType:        ut,
		UserID:          req.UserID,
		Symbol:          req.Symbol,
		Side:            side,
		ActivationPrice: activation,
		Quantity:        qty,
		StopLoss:        sl,
		TakeProfit:      tp,
		IdemKey:         req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	l.svcCtx.Sender.Enqueue(res.Dispatch)
	return orderResp(res), nil
}
