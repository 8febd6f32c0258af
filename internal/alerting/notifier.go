package alerting

import (
	"context"
	"log/slog"
	"time"

	"github.com/tathienbao/position-engine/internal/position"
)

// Notifier turns manager diagnostics and lifecycle events into alerts. It
// serves as both the manager's DiagnosticSink and a Listener.
type Notifier struct {
	alerter     Alerter
	log         position.LogSink
	logger      *slog.Logger
	minSeverity position.Severity
	timeout     time.Duration
	enabled     func(AlertEvent) bool
}

// NewNotifier creates a notifier. Diagnostics below minSeverity are logged
// but not alerted.
func NewNotifier(alerter Alerter, minSeverity position.Severity, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		alerter:     alerter,
		log:         position.LogSink{Logger: logger},
		logger:      logger.With("component", "notifier"),
		minSeverity: minSeverity,
		timeout:     10 * time.Second,
	}
}

// Report implements position.DiagnosticSink.
func (n *Notifier) Report(d position.Diagnostic) {
	n.log.Report(d)
	if d.Severity < n.minSeverity {
		return
	}

	event := EventDiagnosticWarning
	if d.Severity >= position.SeverityError {
		event = EventDiagnosticError
	}

	fields := []any{
		"code", d.Code,
		"position_id", d.PositionID,
	}
	if d.ClientOrderID != "" {
		fields = append(fields, "order_id", d.ClientOrderID)
	}
	fields = append(fields, d.Fields...)
	n.send(event, d.Message, fields...)
}

// OnEvent implements position.Listener. Diagnostics arrive through Report
// and are ignored here.
func (n *Notifier) OnEvent(ev position.Event) {
	switch ev.Kind {
	case position.EventOrderRejected:
		if ev.Order == nil {
			return
		}
		event := EventOrderRejected
		if ev.Order.Spec.Role == position.RoleFlatten {
			event = EventFlattenFailed
		}
		n.send(event, "order rejected",
			"position_id", ev.PositionID,
			"order_id", ev.Order.Spec.ClientOrderID,
			"role", ev.Order.Spec.Role.String(),
			"reason", ev.Order.Reason,
		)

	case position.EventPositionOpened:
		if ev.Position == nil {
			return
		}
		n.send(EventPositionOpened, "position opened",
			"position_id", ev.PositionID,
			"symbol", ev.Position.Symbol,
			"side", ev.Position.Side.String(),
			"quantity", ev.Position.OpenQuantity,
			"avg_entry", ev.Position.AvgEntryPrice.String(),
		)

	case position.EventPositionClosing:
		n.send(EventPositionClosing, "position closing",
			"position_id", ev.PositionID,
			"reason", ev.Reason,
		)

	case position.EventTradeFinalized:
		if ev.Trade == nil {
			return
		}
		t := ev.Trade
		n.send(EventTradeFinalized, "trade finalized",
			"position_id", t.PositionID,
			"symbol", t.Symbol,
			"side", t.Side.String(),
			"quantity", t.Quantity,
			"entry", t.AvgEntryPrice.String(),
			"exit", t.AvgExitPrice.String(),
			"net_pnl", t.NetPnL.StringFixed(2),
			"exit_reason", t.ExitReason.String(),
		)
	}
}

// SetEventFilter restricts the events that are alerted. A nil filter
// alerts everything.
func (n *Notifier) SetEventFilter(enabled func(AlertEvent) bool) {
	n.enabled = enabled
}

// Send alerts a predefined event with its default severity.
func (n *Notifier) Send(event AlertEvent, message string, fields ...any) {
	n.send(event, message, fields...)
}

func (n *Notifier) send(event AlertEvent, message string, fields ...any) {
	if n.enabled != nil && !n.enabled(event) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if err := n.alerter.Alert(ctx, EventSeverity(event), message, fields...); err != nil {
		n.logger.Error("alert failed",
			"alerter", n.alerter.Name(),
			"event", string(event),
			"error", err,
		)
	}
}
