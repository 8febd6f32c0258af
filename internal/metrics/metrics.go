// Package metrics exposes position lifecycle metrics to Prometheus and
// streams manager events to websocket clients.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "posengine"

var (
	// OrdersTotal counts order status transitions.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_total",
		Help:      "Order lifecycle transitions by symbol, role and status.",
	}, []string{"symbol", "role", "status"})

	// FillsTotal counts executions.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fills_total",
		Help:      "Executions by symbol and order role.",
	}, []string{"symbol", "role"})

	// ContractsFilled counts executed contracts.
	ContractsFilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "contracts_filled_total",
		Help:      "Executed contracts by symbol and order role.",
	}, []string{"symbol", "role"})

	// FeesTotal accumulates commissions.
	FeesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fees_total",
		Help:      "Commissions paid, in account currency.",
	}, []string{"symbol"})

	// TradesTotal counts finalized trades.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trades_total",
		Help:      "Finalized trades by symbol, side, outcome and exit reason.",
	}, []string{"symbol", "side", "outcome", "exit_reason"})

	// NetPnL is the running net P&L of finalized trades.
	NetPnL = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "net_pnl",
		Help:      "Cumulative net P&L of finalized trades.",
	}, []string{"symbol"})

	// PositionState is the numeric lifecycle state of the current position.
	PositionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "position_state",
		Help:      "Lifecycle state: 0 flat, 1 pending entry, 2 open, 3 pending exit, 4 closing, 5 closed.",
	}, []string{"symbol"})

	// OpenQuantity is the signed open quantity.
	OpenQuantity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "open_quantity",
		Help:      "Signed open quantity; negative is short.",
	}, []string{"symbol"})

	// SlippageTicks observes entry slippage per trade.
	SlippageTicks = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "entry_slippage_ticks",
		Help:      "Entry slippage against the intended price, in ticks.",
		Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
	}, []string{"symbol"})

	// TradeDuration observes how long positions are held.
	TradeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "trade_duration_seconds",
		Help:      "Time from first entry fill to close.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{"symbol"})

	// DiagnosticsTotal counts diagnostics.
	DiagnosticsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "diagnostics_total",
		Help:      "Diagnostics by code and severity.",
	}, []string{"code", "severity"})

	// EventsStreamed counts events written to websocket clients.
	EventsStreamed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_streamed_total",
		Help:      "Events broadcast to websocket clients.",
	})

	// EventsDropped counts events not delivered to a slow client.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Events dropped because a websocket client was too slow.",
	})

	// StreamClients is the number of connected websocket clients.
	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stream_clients",
		Help:      "Connected websocket event clients.",
	})

	// BarsProcessed counts market events fed through the engine.
	BarsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bars_processed_total",
		Help:      "Market events processed by symbol.",
	}, []string{"symbol"})

	// MarketTime is the bar time the engine last advanced to. During a
	// replay it trails wall time.
	MarketTime = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "market_time_seconds",
		Help:      "Unix time of the last processed bar.",
	})

	// ErrorsTotal counts errors by type.
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Errors by type.",
	}, []string{"type"})

	BarLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "bar_processing_seconds",
		Help:      "Wall time spent handling one bar.",
		Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
	}, []string{"symbol"})

	// BuildInfo carries version labels with a constant value of 1.
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information.",
	}, []string{"version", "commit", "date"})
)

// SetBuildInfo publishes build information.
func SetBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
}
