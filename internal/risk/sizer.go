// Package risk sizes entries from account equity.
package risk

import (
	"github.com/shopspring/decimal"
	"github.com/tathienbao/position-engine/internal/types"
)

// MaxRiskPerTrade is the largest equity fraction a single stop-out may
// cost.
var MaxRiskPerTrade = decimal.RequireFromString("0.1")

// PositionSizer sizes entries so that a stop-out costs at most a fixed
// fraction of equity.
type PositionSizer struct {
	tickValue decimal.Decimal
}

// NewPositionSizer creates a sizer for spec.
func NewPositionSizer(spec types.InstrumentSpec) *PositionSizer {
	return &PositionSizer{tickValue: spec.TickValue}
}

// Contracts returns how many contracts fit the risk budget:
//
//	floor(equity * riskPerTrade / (stopTicks * tickValue))
//
// It returns 0 when any input is non-positive or the budget does not cover
// one contract.
func (p *PositionSizer) Contracts(equity, riskPerTrade decimal.Decimal, stopTicks int) int64 {
	if stopTicks <= 0 || !equity.IsPositive() || !riskPerTrade.IsPositive() {
		return 0
	}
	tickRisk := decimal.NewFromInt(int64(stopTicks)).Mul(p.tickValue)
	if !tickRisk.IsPositive() {
		return 0
	}
	n := equity.Mul(riskPerTrade).Div(tickRisk).Floor().IntPart()
	if n < 0 {
		return 0
	}
	return n
}

// RiskAmount is the loss of n contracts stopped out stopTicks away.
func (p *PositionSizer) RiskAmount(n int64, stopTicks int) decimal.Decimal {
	return decimal.NewFromInt(int64(stopTicks)).Mul(p.tickValue).Mul(decimal.NewFromInt(n))
}
