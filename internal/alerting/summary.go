package alerting

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/position-engine/internal/position"
)

// SessionSummary contains the statistics of one trading session.
type SessionSummary struct {
	Date          time.Time
	Symbol        string
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       decimal.Decimal
	GrossPnL      decimal.Decimal
	Fees          decimal.Decimal
	NetPnL        decimal.Decimal
	Slippage      decimal.Decimal
	OpenPosition  bool
}

// NewSessionSummary summarizes the trades closed in a session.
func NewSessionSummary(date time.Time, symbol string, trades []position.Trade, openPosition bool) SessionSummary {
	s := SessionSummary{
		Date:         date,
		Symbol:       symbol,
		TotalTrades:  len(trades),
		OpenPosition: openPosition,
	}

	for _, t := range trades {
		if t.IsWin() {
			s.WinningTrades++
		} else {
			s.LosingTrades++
		}
		s.GrossPnL = s.GrossPnL.Add(t.GrossPnL)
		s.Fees = s.Fees.Add(t.Fees)
		s.NetPnL = s.NetPnL.Add(t.NetPnL)
		s.Slippage = s.Slippage.Add(t.Slippage)
	}

	if s.TotalTrades > 0 {
		s.WinRate = decimal.NewFromInt(int64(s.WinningTrades)).
			Div(decimal.NewFromInt(int64(s.TotalTrades))).
			Mul(decimal.NewFromInt(100))
	}

	return s
}

// Fields returns the summary as alert key/value pairs.
func (s SessionSummary) Fields() []any {
	return []any{
		"date", s.Date.Format("2006-01-02"),
		"symbol", s.Symbol,
		"trades", s.TotalTrades,
		"wins", s.WinningTrades,
		"losses", s.LosingTrades,
		"win_rate", s.WinRate.StringFixed(1) + "%",
		"net_pnl", s.NetPnL.StringFixed(2),
		"fees", s.Fees.StringFixed(2),
		"slippage", s.Slippage.StringFixed(2),
		"open_position", s.OpenPosition,
	}
}
