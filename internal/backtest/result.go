// Package backtest summarizes the trades of a replay.
package backtest

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/position-engine/internal/position"
	"github.com/tathienbao/position-engine/internal/types"
)

// Result holds replay results.
type Result struct {
	StartEquity       decimal.Decimal
	EndEquity         decimal.Decimal
	GrossPnL          decimal.Decimal
	NetPnL            decimal.Decimal
	TotalFees         decimal.Decimal
	TotalSlippage     decimal.Decimal
	TotalReturn       decimal.Decimal // As ratio (0.15 = 15%)
	MaxDrawdown       decimal.Decimal // As ratio
	MaxDrawdownAmount decimal.Decimal
	TotalTrades       int
	WinningTrades     int
	LosingTrades      int
	WinRate           decimal.Decimal // As ratio
	ProfitFactor      decimal.Decimal // Gross profit / Gross loss
	AverageWin        decimal.Decimal
	AverageLoss       decimal.Decimal
	Expectancy        decimal.Decimal
	SharpeRatio       decimal.Decimal
	AverageHold       time.Duration
	LosingStreak      int // longest run of consecutive losses
	ExitReasons       map[types.ExitReason]int
	Trades            []position.Trade
	EquityCurve       []EquityPoint
}

// EquityPoint represents equity after a trade closed.
type EquityPoint struct {
	Timestamp time.Time
	Equity    decimal.Decimal
	Drawdown  decimal.Decimal
}

// NewResult builds the equity curve from trades in close order, starting at
// startEquity, and computes the summary statistics.
func NewResult(trades []position.Trade, startEquity decimal.Decimal) *Result {
	sorted := make([]position.Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ClosedAt.Before(sorted[j].ClosedAt)
	})

	r := &Result{
		StartEquity: startEquity,
		EndEquity:   startEquity,
		GrossPnL:    decimal.Zero,
		NetPnL:      decimal.Zero,
		ExitReasons: make(map[types.ExitReason]int),
		Trades:      sorted,
	}

	equity := startEquity
	hwm := startEquity
	if len(sorted) > 0 {
		r.EquityCurve = append(r.EquityCurve, EquityPoint{
			Timestamp: sorted[0].OpenedAt,
			Equity:    startEquity,
			Drawdown:  decimal.Zero,
		})
	}
	for _, trade := range sorted {
		equity = equity.Add(trade.NetPnL)
		hwm = decimal.Max(hwm, equity)
		drawdown := decimal.Zero
		if hwm.IsPositive() {
			drawdown = hwm.Sub(equity).Div(hwm)
		}
		r.EquityCurve = append(r.EquityCurve, EquityPoint{
			Timestamp: trade.ClosedAt,
			Equity:    equity,
			Drawdown:  drawdown,
		})

		r.GrossPnL = r.GrossPnL.Add(trade.GrossPnL)
		r.NetPnL = r.NetPnL.Add(trade.NetPnL)
		r.ExitReasons[trade.ExitReason]++
		switch {
		case trade.NetPnL.IsPositive():
			r.WinningTrades++
		case trade.NetPnL.IsNegative():
			r.LosingTrades++
		}
	}
	r.EndEquity = equity
	r.TotalTrades = len(sorted)

	if startEquity.IsPositive() {
		r.TotalReturn = equity.Sub(startEquity).Div(startEquity)
	}

	m := NewMetrics(r, decimal.Zero)
	r.TotalFees = m.TotalFees()
	r.TotalSlippage = m.TotalSlippage()
	r.MaxDrawdown = m.MaxDrawdown()
	r.MaxDrawdownAmount = m.MaxDrawdownAmount()
	r.WinRate = m.WinRate()
	r.ProfitFactor = m.ProfitFactor()
	r.AverageWin = m.AverageWin()
	r.AverageLoss = m.AverageLoss()
	r.Expectancy = m.Expectancy()
	r.SharpeRatio = m.SharpeRatio()
	r.AverageHold = m.AverageHold()
	r.LosingStreak = m.LongestLosingStreak()

	return r
}
