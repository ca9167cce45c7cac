package keys

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// The key space below is a public contract: off-core tooling reads these keys
// directly, so shapes must not drift. Keys that participate in multi-key
// pipelines carry a hash-tag ({...}) so they land on one cluster slot: user
// keys tag on {user_type:user_id}, symbol indexes on {symbol}, group rows on
// {group}.

// ChannelMarketUpdates is the pub/sub channel carrying moved symbol names.
const ChannelMarketUpdates = "market_updates"

// Fixed TTLs. CloseContextTTL bounds how long a close initiator's attribution
// survives without a confirming report. IdempotencyTTL must exceed the
// provider round-trip budget so a replay inside the window finds the final
// response.
const (
	CloseContextTTL = 5 * time.Minute
	ProviderIdemTTL = 7 * 24 * time.Hour
	OrderRefTTL     = 7 * 24 * time.Hour
	CloseSeqTTL     = 48 * time.Hour
	IdempotencyTTL  = 24 * time.Hour
)

// UserTag renders the {user_type:user_id} hash-tag body, e.g. "live:42".
func UserTag(userType string, userID int64) string {
	return userType + ":" + strconv.FormatInt(userID, 10)
}

// ParseUserTag inverts UserTag, for set members shaped like "live:42".
func ParseUserTag(tag string) (userType string, userID int64, err error) {
	idx := strings.LastIndex(tag, ":")
	if idx <= 0 || idx == len(tag)-1 {
		return "", 0, fmt.Errorf("keys: malformed user tag %q", tag)
	}
	userID, err = strconv.ParseInt(tag[idx+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("keys: malformed user tag %q: %w", tag, err)
	}
	return tag[:idx], userID, nil
}

func formatKey(parts ...string) string {
	return strings.Join(parts, ":")
}

// --- User & Group Keys --------------------------------------------------------

// UserConfigKey holds the provisioned account record (read-only here).
func UserConfigKey(userType string, userID int64) string {
	return formatKey("user", "{"+UserTag(userType, userID)+"}", "config")
}

// GroupSymbolKey holds the per-group symbol trading spec (read-through cache).
func GroupSymbolKey(group, symbol string) string {
	return formatKey("groups", "{"+group+"}", symbol)
}

// --- Order Keys ---------------------------------------------------------------

func OrderDataKey(userType string, userID int64, orderID string) string {
	return formatKey("order_data", "{"+UserTag(userType, userID)+"}", orderID)
}

// UserHoldingKey mirrors the open subset of an order for margin recomputation.
func UserHoldingKey(userType string, userID int64, orderID string) string {
	return formatKey("user_holdings", "{"+UserTag(userType, userID)+"}", orderID)
}

// HoldingsIndexKey is the set of order ids currently mirrored in holdings;
// it is what lets the margin engine enumerate without scanning the key space.
func HoldingsIndexKey(userType string, userID int64) string {
	return formatKey("user_holdings_index", "{"+UserTag(userType, userID)+"}")
}

// SymbolHoldersKey is the set of "ut:uid" members holding the symbol.
func SymbolHoldersKey(symbol, userType string) string {
	return formatKey("symbol_holders", symbol, userType)
}

// OrderRefKey maps any wire-visible id (order id, CLS/SLC/TPC id) back to the
// owning (user_type, user_id, order_id).
func OrderRefKey(refID string) string {
	return formatKey("order_ref", refID)
}

// --- Trigger Keys -------------------------------------------------------------

// SLIndexKey scores stop-loss trigger prices for one symbol and entry side.
func SLIndexKey(symbol, side string) string {
	return formatKey("sl_index", "{"+symbol+"}", side)
}

func TPIndexKey(symbol, side string) string {
	return formatKey("tp_index", "{"+symbol+"}", side)
}

// PendingIndexKey scores pending-order activation prices.
func PendingIndexKey(symbol, side string) string {
	return formatKey("pending_index", "{"+symbol+"}", side)
}

// OrderTriggersKey inverts an index hit back to the owning user and the
// user-facing SL/TP values.
func OrderTriggersKey(orderID string) string {
	return formatKey("order_triggers", orderID)
}

// TriggerLeaseKey is the leader lease for one trigger-engine partition.
func TriggerLeaseKey(partition string) string {
	return formatKey("lease", "trigger", partition)
}

// --- Close & Idempotency Keys ---------------------------------------------------

// CloseContextKey carries {context, initiator, ts} from the close initiator to
// the close-confirm worker.
func CloseContextKey(orderID string) string {
	return formatKey("close_context", orderID)
}

// IdempotencyKey reserves a client-supplied key; SET NX is the only creator.
func IdempotencyKey(userType string, userID int64, key string) string {
	return formatKey("idempotency", UserTag(userType, userID), key)
}

// ProviderIdemKey guards against replayed execution reports, keyed by ExecID.
func ProviderIdemKey(execID string) string {
	return formatKey("provider_idem", "{"+execID+"}")
}

// CloseSeqKey backs the zero-padded daily sequence of CLS/SLC/TPC ids.
func CloseSeqKey(day string) string {
	return formatKey("ids", "close_seq", day)
}

// --- Market & Portfolio Keys -----------------------------------------------------

// MarketKey holds the latest per-symbol bid/ask snapshot, written only by the
// market cache.
func MarketKey(symbol string) string {
	return formatKey("market", symbol)
}

// PortfolioKey holds the last flushed margin snapshot for one user.
func PortfolioKey(userType string, userID int64) string {
	return formatKey("user_portfolio", "{"+UserTag(userType, userID)+"}")
}
