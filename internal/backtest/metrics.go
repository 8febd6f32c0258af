package backtest

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/position-engine/internal/position"
)

// periodsPerYear scales per-trade ratios as if one trade closed per session.
const periodsPerYear = 252

// Metrics derives performance statistics from finalized trades and the
// equity curve they produce. Trade aggregates are computed once up front.
type Metrics struct {
	curve        []EquityPoint
	riskFreeRate decimal.Decimal // annual, 0.05 = 5%
	t            tally
}

// tally is a single pass over the trades.
type tally struct {
	count     int
	wins      int
	losses    int
	grossWin  decimal.Decimal
	grossLoss decimal.Decimal // <= 0
	net       decimal.Decimal
	fees      decimal.Decimal
	slippage  decimal.Decimal
	held      time.Duration

	streak        int
	longestStreak int
}

func (t *tally) add(tr position.Trade) {
	t.count++
	t.net = t.net.Add(tr.NetPnL)
	t.fees = t.fees.Add(tr.Fees)
	t.slippage = t.slippage.Add(tr.Slippage)
	t.held += tr.Duration()

	switch {
	case tr.NetPnL.IsPositive():
		t.wins++
		t.grossWin = t.grossWin.Add(tr.NetPnL)
		t.streak = 0
	case tr.NetPnL.IsNegative():
		t.losses++
		t.grossLoss = t.grossLoss.Add(tr.NetPnL)
		t.streak++
		if t.streak > t.longestStreak {
			t.longestStreak = t.streak
		}
	default:
		t.streak = 0
	}
}

// NewMetrics creates a metrics calculator over result's trades and curve.
func NewMetrics(result *Result, riskFreeRate decimal.Decimal) *Metrics {
	m := &Metrics{curve: result.EquityCurve, riskFreeRate: riskFreeRate}
	for _, tr := range result.Trades {
		m.t.add(tr)
	}
	return m
}

// WinRate returns the share of trades that made money after fees.
func (m *Metrics) WinRate() decimal.Decimal {
	return ratio(decimal.NewFromInt(int64(m.t.wins)), m.t.count)
}

// ProfitFactor returns gross winnings over gross losses, or zero when
// nothing was lost.
func (m *Metrics) ProfitFactor() decimal.Decimal {
	if m.t.grossLoss.IsZero() {
		return decimal.Zero
	}
	return m.t.grossWin.Div(m.t.grossLoss.Neg())
}

// AverageWin returns the mean net P&L of winning trades.
func (m *Metrics) AverageWin() decimal.Decimal {
	return ratio(m.t.grossWin, m.t.wins)
}

// AverageLoss returns the mean net P&L of losing trades. It is negative.
func (m *Metrics) AverageLoss() decimal.Decimal {
	return ratio(m.t.grossLoss, m.t.losses)
}

// Expectancy returns the mean net P&L per trade.
func (m *Metrics) Expectancy() decimal.Decimal {
	return ratio(m.t.net, m.t.count)
}

// TotalFees sums commissions over all trades.
func (m *Metrics) TotalFees() decimal.Decimal { return m.t.fees }

// TotalSlippage sums entry slippage in currency over all trades.
func (m *Metrics) TotalSlippage() decimal.Decimal { return m.t.slippage }

// AverageHold returns the mean time from first fill to flat.
func (m *Metrics) AverageHold() time.Duration {
	if m.t.count == 0 {
		return 0
	}
	return m.t.held / time.Duration(m.t.count)
}

// LongestLosingStreak returns the most consecutive losing trades.
func (m *Metrics) LongestLosingStreak() int { return m.t.longestStreak }

// MaxDrawdownAmount returns the largest peak-to-trough fall of the curve in
// currency.
func (m *Metrics) MaxDrawdownAmount() decimal.Decimal {
	amount, _ := m.drawdown()
	return amount
}

// MaxDrawdown returns the largest fall as a fraction of the peak it fell
// from. Peaks at or below zero are not counted.
func (m *Metrics) MaxDrawdown() decimal.Decimal {
	_, frac := m.drawdown()
	return frac
}

func (m *Metrics) drawdown() (amount, frac decimal.Decimal) {
	if len(m.curve) == 0 {
		return decimal.Zero, decimal.Zero
	}
	peak := m.curve[0].Equity
	for _, p := range m.curve {
		peak = decimal.Max(peak, p.Equity)
		fall := peak.Sub(p.Equity)
		amount = decimal.Max(amount, fall)
		if peak.IsPositive() {
			frac = decimal.Max(frac, fall.Div(peak))
		}
	}
	return amount, frac
}

// SharpeRatio returns the annualized Sharpe ratio of per-trade returns.
func (m *Metrics) SharpeRatio() decimal.Decimal {
	returns := m.returns()
	if len(returns) < 2 {
		return decimal.Zero
	}
	mu, sd := meanStd(returns)
	return annualize(mu-m.periodRiskFree(), sd)
}

// SortinoRatio is SharpeRatio with only losing returns counted as risk.
func (m *Metrics) SortinoRatio() decimal.Decimal {
	returns := m.returns()
	if len(returns) < 2 {
		return decimal.Zero
	}
	mu, _ := meanStd(returns)
	var sq float64
	for _, r := range returns {
		if r < 0 {
			sq += r * r
		}
	}
	return annualize(mu-m.periodRiskFree(), math.Sqrt(sq/float64(len(returns))))
}

// CalmarRatio returns the annualized return over the max drawdown.
func (m *Metrics) CalmarRatio() decimal.Decimal {
	dd := m.MaxDrawdown()
	if dd.IsZero() {
		return decimal.Zero
	}
	return m.AnnualizedReturn().Div(dd)
}

// AnnualizedReturn compounds the curve's total return to a yearly rate.
// Spans under a few days are returned unscaled.
func (m *Metrics) AnnualizedReturn() decimal.Decimal {
	if len(m.curve) < 2 {
		return decimal.Zero
	}
	first, last := m.curve[0], m.curve[len(m.curve)-1]
	if !first.Equity.IsPositive() {
		return decimal.Zero
	}
	total := last.Equity.Sub(first.Equity).Div(first.Equity)

	years := last.Timestamp.Sub(first.Timestamp).Hours() / (24 * 365)
	if years < 0.01 {
		return total
	}
	return fromFloat(math.Pow(1+total.InexactFloat64(), 1/years) - 1)
}

// returns lists the fractional change between consecutive curve points.
// Points following non-positive equity are skipped.
func (m *Metrics) returns() []float64 {
	if len(m.curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(m.curve)-1)
	for i := 1; i < len(m.curve); i++ {
		prev := m.curve[i-1].Equity
		if !prev.IsPositive() {
			continue
		}
		out = append(out, m.curve[i].Equity.Sub(prev).Div(prev).InexactFloat64())
	}
	return out
}

func (m *Metrics) periodRiskFree() float64 {
	return m.riskFreeRate.InexactFloat64() / periodsPerYear
}

func ratio(sum decimal.Decimal, n int) decimal.Decimal {
	if n == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}

// meanStd returns the mean and sample standard deviation.
func meanStd(xs []float64) (mean, std float64) {
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(sq / float64(len(xs)-1))
}

func annualize(excess, risk float64) decimal.Decimal {
	if risk == 0 {
		return decimal.Zero
	}
	return fromFloat(excess / risk * math.Sqrt(periodsPerYear))
}

func fromFloat(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}
