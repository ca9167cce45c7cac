package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

var _ GroupSymbolsModel = (*defaultGroupSymbolsModel)(nil)

// GroupSymbols is a row of the group_symbols table, the source of truth
// behind the groups:{group}:SYMBOL cache. Numeric columns scan as strings to
// keep decimal precision.
type GroupSymbols struct {
	GroupName           string         `db:"group_name"`
	Symbol              string         `db:"symbol"`
	Type                int            `db:"type"`
	ContractSize        sql.NullString `db:"contract_size"`
	ProfitCurrency      sql.NullString `db:"profit_currency"`
	Spread              sql.NullInt64  `db:"spread"`
	SpreadPip           sql.NullString `db:"spread_pip"`
	CommissionRate      sql.NullString `db:"commission_rate"`
	CommissionType      sql.NullInt64  `db:"commission_type"`
	CommissionValueType sql.NullInt64  `db:"commission_value_type"`
	CryptoMarginFactor  sql.NullString `db:"crypto_margin_factor"`
}

type (
	// GroupSymbolsModel reads group trading specs for the read-through cache.
	GroupSymbolsModel interface {
		FindOne(ctx context.Context, group, symbol string) (*GroupSymbols, error)
		FindBySymbols(ctx context.Context, group string, symbols []string) ([]GroupSymbols, error)
	}

	defaultGroupSymbolsModel struct {
		conn sqlx.SqlConn
	}
)

// NewGroupSymbolsModel returns a model for the group_symbols table.
func NewGroupSymbolsModel(conn sqlx.SqlConn) GroupSymbolsModel {
	return &defaultGroupSymbolsModel{conn: conn}
}

const groupSymbolsColumns = `
    group_name,
    symbol,
    type,
    contract_size,
    profit_currency,
    spread,
    spread_pip,
    commission_rate,
    commission_type,
    commission_value_type,
    crypto_margin_factor`

func (m *defaultGroupSymbolsModel) FindOne(ctx context.Context, group, symbol string) (*GroupSymbols, error) {
	query := fmt.Sprintf(`SELECT %s FROM public.group_symbols WHERE group_name = $1 AND symbol = $2 LIMIT 1`, groupSymbolsColumns)
	var row GroupSymbols
	err := m.conn.QueryRowCtx(ctx, &row, query, group, symbol)
	switch {
	case err == nil:
		return &row, nil
	case errors.Is(err, sqlx.ErrNotFound):
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("group_symbols.FindOne query: %w", err)
	}
}

// FindBySymbols bulk-loads one group's specs, used by cache warm loads. An
// empty symbols slice returns the whole group.
func (m *defaultGroupSymbolsModel) FindBySymbols(ctx context.Context, group string, symbols []string) ([]GroupSymbols, error) {
	const baseQuery = `SELECT %s FROM public.group_symbols WHERE group_name = $1 %s ORDER BY symbol`

	var (
		clause string
		args   = []any{group}
	)
	if len(symbols) > 0 {
		clause = "AND symbol = ANY($2)"
		args = append(args, pq.Array(symbols))
	}

	finalQuery := fmt.Sprintf(baseQuery, groupSymbolsColumns, clause)

	var rows []GroupSymbols
	if err := m.conn.QueryRowsCtx(ctx, &rows, finalQuery, args...); err != nil {
		return nil, fmt.Errorf("group_symbols.FindBySymbols query: %w", err)
	}
	return rows, nil
}

// CacheHash renders the row exactly as the read-through cache stores it;
// null columns stay absent so presence checks downstream keep working.
func (r *GroupSymbols) CacheHash() map[string]string {
	m := map[string]string{
		"type": strconv.Itoa(r.Type),
	}
	if r.ContractSize.Valid {
		m["contract_size"] = r.ContractSize.String
	}
	if r.ProfitCurrency.Valid {
		m["profit"] = r.ProfitCurrency.String
	}
	if r.Spread.Valid {
		m["spread"] = strconv.FormatInt(r.Spread.Int64, 10)
	}
	if r.SpreadPip.Valid {
		m["spread_pip"] = r.SpreadPip.String
	}
	if r.CommissionRate.Valid {
		m["commission_rate"] = r.CommissionRate.String
	}
	if r.CommissionType.Valid {
		m["commission_type"] = strconv.FormatInt(r.CommissionType.Int64, 10)
	}
	if r.CommissionValueType.Valid {
		m["commission_value_type"] = strconv.FormatInt(r.CommissionValueType.Int64, 10)
	}
	if r.CryptoMarginFactor.Valid {
		m["crypto_margin_factor"] = r.CryptoMarginFactor.String
	}
	return m
}

// ToGroupConfig converts a row through the cache codec so presence semantics
// match what a cache read would produce.
func (r *GroupSymbols) ToGroupConfig() (*GroupConfig, error) {
	return GroupConfigFromHash(r.GroupName, r.Symbol, r.CacheHash())
}
