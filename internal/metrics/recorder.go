package metrics

import (
	"time"

	"github.com/tathienbao/position-engine/internal/position"
)

// Recorder writes to the package collectors. It holds no state; every
// Recorder shares the same series.
type Recorder struct{}

// NewRecorder returns a recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordOrder counts an order reaching status.
func (r *Recorder) RecordOrder(symbol, role, status string) {
	OrdersTotal.WithLabelValues(symbol, role, status).Inc()
}

// RecordFill records one execution.
func (r *Recorder) RecordFill(symbol string, f position.Fill) {
	role := f.Role.String()
	FillsTotal.WithLabelValues(symbol, role).Inc()
	ContractsFilled.WithLabelValues(symbol, role).Add(float64(f.Quantity))
	FeesTotal.WithLabelValues(symbol).Add(f.Fee.InexactFloat64())
}

// RecordPosition records the state and exposure of a position view.
func (r *Recorder) RecordPosition(v position.PositionView) {
	PositionState.WithLabelValues(v.Symbol).Set(float64(v.State))
	OpenQuantity.WithLabelValues(v.Symbol).Set(float64(v.OpenQuantity))
}

// RecordTrade records a finalized trade.
func (r *Recorder) RecordTrade(t position.Trade) {
	outcome := "loss"
	if t.IsWin() {
		outcome = "win"
	}
	TradesTotal.WithLabelValues(t.Symbol, t.Side.String(), outcome, t.ExitReason.String()).Inc()
	NetPnL.WithLabelValues(t.Symbol).Add(t.NetPnL.InexactFloat64())
	SlippageTicks.WithLabelValues(t.Symbol).Observe(t.SlippageTicks.InexactFloat64())
	TradeDuration.WithLabelValues(t.Symbol).Observe(t.Duration().Seconds())
}

// RecordDiagnostic records a diagnostic.
func (r *Recorder) RecordDiagnostic(d position.Diagnostic) {
	DiagnosticsTotal.WithLabelValues(d.Code, d.Severity.String()).Inc()
}

// RecordBar records a processed market event.
func (r *Recorder) RecordBar(symbol string) {
	BarsProcessed.WithLabelValues(symbol).Inc()
}

// RecordMarketTime records the bar time the engine advanced to.
func (r *Recorder) RecordMarketTime(t time.Time) {
	MarketTime.Set(float64(t.Unix()))
}

// RecordBarLatency records how long handling one bar took.
func (r *Recorder) RecordBarLatency(symbol string, d time.Duration) {
	BarLatency.WithLabelValues(symbol).Observe(d.Seconds())
}

// RecordError records an error.
func (r *Recorder) RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}
