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

type GetOrderLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewGetOrderLogic(ctx context.Context, svcCtx *svc.ServiceContext) *GetOrderLogic {
	return &GetOrderLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *GetOrderLogic) GetOrder(req *types.GetOrderReq) (*types.OrderSnapshotResp, error) {
	ut, err := userTypeOf(req.UserType)
	if err != nil {
		return nil, err
	}
	o, err := l.svcCtx.Executor.LoadOrder(l.ctx, ut, req.UserID, req.OrderID)
	if err != nil {
		return nil, err
	}
	return snapshotOf(o), nil
}

func snapshotOf(o *model.Order) *types.OrderSnapshotResp {
	return &types.OrderSnapshotResp{
		OK:              true,
		OrderID:         o.OrderID,
		UserID:          o.UserID,
		UserType:        string(o.UserType),
		Symbol:          o.Symbol,
		Side:            string(o.Side),
		Quantity:        o.Quantity.String(),
		EntryPrice:      o.EntryPrice.String(),
		ActivationPrice: emptyIfZero(o.ActivationPrice),
		MarginUSD:       o.MarginUSD.String(),
		CommissionEntry: o.CommissionEntry.String(),
		CommissionExit:  o.CommissionExit.String(),
		StopLoss:        emptyIfZero(o.StopLoss),
		TakeProfit:      emptyIfZero(o.TakeProfit),
		Status:          string(o.Status),
		Route:           o.Route,
		ClosePrice:      emptyIfZero(o.ClosePrice),
		CloseReason:     string(o.CloseReason),
		RealizedPL:      emptyIfZero(o.RealizedPL),
		CreatedTs:       o.CreatedTs,
		ClosedTs:        o.ClosedTs,
	}
}
