package model

// Side is the order entry side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide validates a client-supplied order type.
func ParseSide(s string) (Side, bool) {
	switch Side(s) {
	case SideBuy, SideSell:
		return Side(s), true
	}
	return "", false
}

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) String() string { return string(s) }

// UserType partitions the account universe; it is part of every user key.
type UserType string

const (
	UserLive UserType = "live"
	UserDemo UserType = "demo"
)

func ParseUserType(s string) (UserType, bool) {
	switch UserType(s) {
	case UserLive, UserDemo:
		return UserType(s), true
	}
	return "", false
}

func (u UserType) String() string { return string(u) }

// UserTypes enumerates the partitions workers fan over.
var UserTypes = []UserType{UserLive, UserDemo}

// OrderStatus is the order state machine. QUEUED/PENDING wait on the
// provider or on activation; CLOSING, SL_PENDING and TP_PENDING wait on a
// provider confirmation while the position itself is still open.
type OrderStatus string

const (
	StatusQueued    OrderStatus = "QUEUED"
	StatusOpen      OrderStatus = "OPEN"
	StatusPending   OrderStatus = "PENDING"
	StatusClosing   OrderStatus = "CLOSING"
	StatusSLPending OrderStatus = "SL_PENDING"
	StatusTPPending OrderStatus = "TP_PENDING"
	StatusClosed    OrderStatus = "CLOSED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// Terminal reports whether no further transition is legal.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusClosed, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// MarginActive reports whether the order holds margin: the holdings mirror
// exists exactly while this is true.
func (s OrderStatus) MarginActive() bool {
	switch s {
	case StatusOpen, StatusPending, StatusClosing, StatusSLPending, StatusTPPending:
		return true
	}
	return false
}

// OpenLike reports whether the position is live in the market (a pending
// order holds margin but has no exposure yet).
func (s OrderStatus) OpenLike() bool {
	switch s {
	case StatusOpen, StatusClosing, StatusSLPending, StatusTPPending:
		return true
	}
	return false
}

// CloseReason attributes why a position left the book.
type CloseReason string

const (
	CloseUserClosed    CloseReason = "USER_CLOSED"
	CloseAdminClosed   CloseReason = "ADMIN_CLOSED"
	CloseAutocutoff    CloseReason = "AUTOCUTOFF"
	CloseStopLossHit   CloseReason = "STOPLOSS_HIT"
	CloseTakeProfitHit CloseReason = "TAKEPROFIT_HIT"
	// CloseProviderClosed marks an unsolicited venue-side close that matched
	// none of the order's protection levels.
	CloseProviderClosed CloseReason = "PROVIDER_CLOSED"
)

// Close initiators, recorded in CloseContext.
const (
	InitiatorUser       = "user"
	InitiatorAdmin      = "admin"
	InitiatorAutocutoff = "autocutoff"
	InitiatorTrigger    = "trigger"
)

// OrdStatus is the provider-reported execution outcome (FIX tag 39,
// normalized).
type OrdStatus string

const (
	OrdExecuted  OrdStatus = "EXECUTED"
	OrdRejected  OrdStatus = "REJECTED"
	OrdCancelled OrdStatus = "CANCELLED"
)

// RouteLocal marks orders executed on the book instead of a provider; any
// other route value names a provider id from the registry.
const RouteLocal = "local"

// Group instrument classes.
const (
	GroupTypeForex     = 1
	GroupTypeCommodity = 2
	GroupTypeIndex     = 3
	GroupTypeCrypto    = 4
)

// Commission charging policy.
const (
	CommissionEvery = 0
	CommissionEntry = 1
	CommissionExit  = 2
)

// Commission value interpretation.
const (
	CommissionPerLot  = 0
	CommissionPercent = 1
)
