// Package reason defines the machine-readable rejection codes the core
// returns to callers and writes into dead-letter headers. Codes are stable:
// clients and operational tooling match on them.
package reason

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	InvalidOrderType      Code = "invalid_order_type"
	InvalidSpreadData     Code = "invalid_spread_data"
	MissingMarketPrice    Code = "missing_market_price"
	InvalidUserStatus     Code = "invalid_user_status"
	InvalidLeverage       Code = "invalid_leverage"
	MissingGroupConfig    Code = "missing_group_config"
	InsufficientMargin    Code = "insufficient_margin"
	IdempotencyInProgress Code = "idempotency_in_progress"
	ConversionRateMissing Code = "conversion_rate_missing"
	StateStoreUnavailable Code = "state_store_unavailable"
	ProviderUnreachable   Code = "provider_unreachable"
	DuplicateExecReport   Code = "duplicate_exec_report"
	UnknownRoutingState   Code = "unknown_routing_state"
	InvalidQuantity       Code = "invalid_quantity"
	OrderNotFound         Code = "order_not_found"
	OrderNotOpen          Code = "order_not_open"
	InvalidRequest        Code = "invalid_request"
)

// Error carries a stable code plus a human message. The wrapped cause, when
// present, is for logs only and never serialized to clients.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a transport-level cause to a domain code. The store layer is
// the only caller allowed to wrap raw transport errors.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the code from err, or "" when err carries none.
func CodeOf(err error) Code {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// Is lets errors.Is match a bare *Error carrying only a code.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Code == e.Code
	}
	return false
}

// HTTPStatus maps a code to the status the HTTP surface returns for it.
func HTTPStatus(code Code) int {
	switch code {
	case InsufficientMargin:
		return http.StatusUnprocessableEntity
	case IdempotencyInProgress:
		return http.StatusConflict
	case StateStoreUnavailable, ProviderUnreachable:
		return http.StatusServiceUnavailable
	case OrderNotFound:
		return http.StatusNotFound
	case "":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
