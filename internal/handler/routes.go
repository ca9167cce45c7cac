// Code scaffolded by goctl. Safe to edit.
// goctl 1.9.2

package handler

import (
	"net/http"

	"fxcore/internal/svc"

	"github.com/zeromicro/go-zero/rest"
)

func RegisterHandlers(server *rest.Server, serverCtx *svc.ServiceContext) {
	server.AddRoutes(
		[]rest.Route{
			{
				Method:  http.MethodPost,
				Path:    "/orders/instant",
				Handler: InstantOrderHandler(serverCtx),
			},
			{
				Method:  http.MethodPost,
				Path:    "/orders/pending",
				Handler: PendingOrderHandler(serverCtx),
			},
			{
				Method:  http.MethodPost,
				Path:    "/orders/close",
				Handler: CloseOrderHandler(serverCtx),
			},
			{
				Method:  http.MethodPost,
				Path:    "/orders/sltp",
				Handler: ModifySLTPHandler(serverCtx),
			},
			{
				Method:  http.MethodGet,
				Path:    "/orders/:order_id",
				Handler: GetOrderHandler(serverCtx),
			},
			{
				Method:  http.MethodGet,
				Path:    "/portfolio",
				Handler: PortfolioHandler(serverCtx),
			},
			{
				Method:  http.MethodGet,
				Path:    "/healthz",
				Handler: HealthzHandler(serverCtx),
			},
		},
	)
}
