package model

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// UserConfig is the provisioned account record under user:{ut:uid}:config.
// It is created and mutated by the external persistence service; the core
// only reads it.
type UserConfig struct {
	UserType      UserType
	UserID        int64
	Group         string
	Leverage      int64
	WalletBalance decimal.Decimal
	Status        string
	SendingOrders string
}

const UserStatusEnabled = "enabled"

func (u *UserConfig) Enabled() bool { return u.Status == UserStatusEnabled }

// Route returns the routing decision for new orders: RouteLocal or a
// provider id.
func (u *UserConfig) Route() string {
	if u.SendingOrders == "" || u.SendingOrders == RouteLocal {
		return RouteLocal
	}
	return u.SendingOrders
}

func UserConfigFromHash(ut UserType, uid int64, m map[string]string) (*UserConfig, error) {
	if len(m) == 0 {
		return nil, fmt.Errorf("model: empty user config hash")
	}
	lev, err := strconv.ParseInt(m["leverage"], 10, 64)
	if err != nil {
		lev = 0
	}
	return &UserConfig{
		UserType:      ut,
		UserID:        uid,
		Group:         m["group"],
		Leverage:      lev,
		WalletBalance: decOr(m["wallet_balance"], decimal.Zero),
		Status:        m["status"],
		SendingOrders: m["sending_orders"],
	}, nil
}

// ToHash exists for tests and provisioning tooling; the core never writes
// user config.
func (u *UserConfig) ToHash() map[string]string {
	return map[string]string{
		"group":          u.Group,
		"leverage":       strconv.FormatInt(u.Leverage, 10),
		"wallet_balance": u.WalletBalance.String(),
		"status":         u.Status,
		"sending_orders": u.SendingOrders,
	}
}
