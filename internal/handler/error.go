package handler

import (
	"context"
	"errors"
	"net/http"

	"fxcore/internal/reason"
	"fxcore/internal/types"
)

// ErrorMapper renders every handler error as the uniform JSON error body,
// with the HTTP status derived from the reason code. Install it once at
// startup via httpx.SetErrorHandlerCtx.
//
// Uncoded errors only reach here from request parsing; everything the core
// raises carries a reason code, so those map to a plain bad request.
func ErrorMapper(ctx context.Context, err error) (int, any) {
	var re *reason.Error
	if errors.As(err, &re) {
		return reason.HTTPStatus(re.Code), types.ErrorResp{
			Error:   string(re.Code),
			Message: re.Msg,
		}
	}
	return http.StatusBadRequest, types.ErrorResp{
		Error:   string(reason.InvalidRequest),
		Message: err.Error(),
	}
}
