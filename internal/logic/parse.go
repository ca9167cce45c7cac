package logic

import (
	"strings"

	"github.com/shopspring/decimal"

	"fxcore/internal/executor"
	"fxcore/internal/model"
	"fxcore/internal/reason"
	"fxcore/internal/types"
)

// Field parsing shared by the order endpoints. httpx.Parse already enforces
// presence and the enum options; these translate the string payloads into
// engine values and put a stable reason code on anything malformed.

func userTypeOf(s string) (model.UserType, error) {
	ut, ok := model.ParseUserType(s)
	if !ok {
		return "", reason.New(reason.InvalidRequest, "user_type %q", s)
	}
	return ut, nil
}

func sideOf(s string) (model.Side, error) {
	side, ok := model.ParseSide(s)
	if !ok {
		return "", reason.New(reason.InvalidOrderType, "order_type %q", s)
	}
	return side, nil
}

func requiredDec(name, s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Decimal{}, reason.New(reason.InvalidRequest, "%s is required", name)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, reason.New(reason.InvalidRequest, "%s %q is not a number", name, s)
	}
	return d, nil
}

// optionalDec reads an optional decimal field; absent means zero, which the
// engine treats as unset.
func optionalDec(name, s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, reason.New(reason.InvalidRequest, "%s %q is not a number", name, s)
	}
	return d, nil
}

// optionalDecPtr distinguishes an absent field (nil, leave unchanged) from an
// explicit "0" (zero pointer, clear the level).
func optionalDecPtr(name, s string) (*decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, reason.New(reason.InvalidRequest, "%s %q is not a number", name, s)
	}
	return &d, nil
}

func quantityDec(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Decimal{}, reason.New(reason.InvalidQuantity, "order_quantity is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, reason.New(reason.InvalidQuantity, "order_quantity %q is not a number", s)
	}
	return d, nil
}

func orderResp(res *executor.OrderResult) *types.OrderResp {
	return &types.OrderResp{
		OK:          true,
		OrderID:     res.OrderID,
		OrderStatus: string(res.OrderStatus),
		Flow:        res.Flow,
		ExecPrice:   res.ExecPrice.String(),
		MarginUSD:   res.MarginUSD.String(),
		Replayed:    res.Replayed,
	}
}

func emptyIfZero(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}
