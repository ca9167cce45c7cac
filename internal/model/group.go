package model

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// GroupConfig is the per-(group, symbol) trading spec cached under
// groups:{group}:SYMBOL. The relational store is the source of truth; the
// hash is a read-through copy. Field presence matters: a row without spread
// data prices nothing, a row without contract_size/profit/type margins
// nothing.
type GroupConfig struct {
	Group               string
	Symbol              string
	Type                int
	ContractSize        decimal.Decimal
	Profit              string
	Spread              int64
	SpreadPip           decimal.Decimal
	CommissionRate      decimal.Decimal
	CommissionType      int
	CommissionValueType int
	CryptoMarginFactor  decimal.Decimal

	hasSpread       bool
	hasSpreadPip    bool
	hasContractSize bool
	hasProfit       bool
	hasType         bool
}

// SpreadComplete reports whether the fields pricing needs are present.
func (g *GroupConfig) SpreadComplete() bool { return g.hasSpread && g.hasSpreadPip }

// CoreComplete reports whether the fields the margin engine needs are present.
func (g *GroupConfig) CoreComplete() bool { return g.hasContractSize && g.hasProfit && g.hasType }

// MarginFactor is the crypto multiplier, defaulting to 1 when unset.
func (g *GroupConfig) MarginFactor() decimal.Decimal {
	if g.Type == GroupTypeCrypto && !g.CryptoMarginFactor.IsZero() {
		return g.CryptoMarginFactor
	}
	return decimal.NewFromInt(1)
}

func (g *GroupConfig) ToHash() map[string]string {
	m := map[string]string{
		"commission_rate":       g.CommissionRate.String(),
		"commission_type":       strconv.Itoa(g.CommissionType),
		"commission_value_type": strconv.Itoa(g.CommissionValueType),
	}
	if g.hasType {
		m["type"] = strconv.Itoa(g.Type)
	}
	if g.hasContractSize {
		m["contract_size"] = g.ContractSize.String()
	}
	if g.hasProfit {
		m["profit"] = g.Profit
	}
	if g.hasSpread {
		m["spread"] = strconv.FormatInt(g.Spread, 10)
	}
	if g.hasSpreadPip {
		m["spread_pip"] = g.SpreadPip.String()
	}
	if !g.CryptoMarginFactor.IsZero() {
		m["crypto_margin_factor"] = g.CryptoMarginFactor.String()
	}
	return m
}

func GroupConfigFromHash(group, symbol string, m map[string]string) (*GroupConfig, error) {
	if len(m) == 0 {
		return nil, fmt.Errorf("model: empty group config hash")
	}
	g := &GroupConfig{Group: group, Symbol: symbol}
	if v, ok := m["type"]; ok && v != "" {
		t, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("model: group type: %w", err)
		}
		g.Type = t
		g.hasType = true
	}
	if v, ok := m["contract_size"]; ok && v != "" {
		g.ContractSize = decOr(v, decimal.Zero)
		g.hasContractSize = true
	}
	if v, ok := m["profit"]; ok && v != "" {
		g.Profit = v
		g.hasProfit = true
	}
	if v, ok := m["spread"]; ok && v != "" {
		s, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("model: group spread: %w", err)
		}
		g.Spread = s
		g.hasSpread = true
	}
	if v, ok := m["spread_pip"]; ok && v != "" {
		g.SpreadPip = decOr(v, decimal.Zero)
		g.hasSpreadPip = true
	}
	g.CommissionRate = decOr(m["commission_rate"], decimal.Zero)
	if v, ok := m["commission_type"]; ok && v != "" {
		g.CommissionType, _ = strconv.Atoi(v)
	}
	if v, ok := m["commission_value_type"]; ok && v != "" {
		g.CommissionValueType, _ = strconv.Atoi(v)
	}
	g.CryptoMarginFactor = decOr(m["crypto_margin_factor"], decimal.Zero)
	return g, nil
}

// NewGroupConfig builds a fully-populated spec; tests and the read-through
// loader use it.
func NewGroupConfig(group, symbol string, typ int, contractSize decimal.Decimal, profit string, spread int64, spreadPip decimal.Decimal) *GroupConfig {
	return &GroupConfig{
		Group:           group,
		Symbol:          symbol,
		Type:            typ,
		ContractSize:    contractSize,
		Profit:          profit,
		Spread:          spread,
		SpreadPip:       spreadPip,
		hasType:         true,
		hasContractSize: true,
		hasProfit:       true,
		hasSpread:       true,
		hasSpreadPip:    true,
	}
}

// WithCommission sets the commission schedule on a spec built by
// NewGroupConfig.
func (g *GroupConfig) WithCommission(rate decimal.Decimal, commissionType, valueType int) *GroupConfig {
	g.CommissionRate = rate
	g.CommissionType = commissionType
	g.CommissionValueType = valueType
	return g
}

// WithCryptoFactor sets the crypto margin multiplier.
func (g *GroupConfig) WithCryptoFactor(f decimal.Decimal) *GroupConfig {
	g.CryptoMarginFactor = f
	return g
}
