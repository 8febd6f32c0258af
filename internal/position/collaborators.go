package position

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IDGenerator assigns identifiers. Client order ids must be unique.
type IDGenerator interface {
	NewOrderID() string
	NewGroupID() string
	NewPositionID() string
	NewTradeID() string
}

// UUIDGenerator generates time-prefixed uuid identifiers.
type UUIDGenerator struct{}

// NewOrderID creates a unique client order ID for idempotency.
func (UUIDGenerator) NewOrderID() string {
	return fmt.Sprintf("%s-%s",
		time.Now().UTC().Format("20060102-150405"),
		uuid.New().String()[:8],
	)
}

// NewGroupID creates an OCO group id.
func (UUIDGenerator) NewGroupID() string {
	return "oco-" + uuid.New().String()
}

// NewPositionID creates a position id.
func (UUIDGenerator) NewPositionID() string {
	return "pos-" + uuid.New().String()
}

// NewTradeID creates a trade id.
func (UUIDGenerator) NewTradeID() string {
	return uuid.New().String()
}

// FeeModel prices one fill.
type FeeModel interface {
	Fee(spec OrderSpec, price decimal.Decimal, quantity int64) decimal.Decimal
}

// PerContractFee charges a flat commission per contract per side.
type PerContractFee struct {
	PerSide decimal.Decimal
}

// Fee implements FeeModel.
func (f PerContractFee) Fee(_ OrderSpec, _ decimal.Decimal, quantity int64) decimal.Decimal {
	return f.PerSide.Mul(decimal.NewFromInt(quantity))
}

// SessionCalendar returns the end of the trading session containing t.
type SessionCalendar interface {
	SessionEnd(t time.Time) time.Time
}

// SessionCalendarFunc adapts a function to SessionCalendar.
type SessionCalendarFunc func(t time.Time) time.Time

// SessionEnd implements SessionCalendar.
func (f SessionCalendarFunc) SessionEnd(t time.Time) time.Time { return f(t) }

// endOfUTCDay is the fallback calendar: sessions end at UTC midnight.
func endOfUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// Severity grades a diagnostic.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Diagnostic codes.
const (
	DiagUnknownOrder           = "unknown_order"
	DiagDuplicateOrder         = "duplicate_order"
	DiagInvalidFill            = "invalid_fill"
	DiagFOKPartialFill         = "fok_partial_fill"
	DiagFillAfterClose         = "fill_after_close"
	DiagFillOnTerminalOrder    = "fill_on_terminal_order"
	DiagLateEntryFill          = "late_entry_fill"
	DiagExitOverfill           = "exit_overfill"
	DiagEntryTerminatedPartial = "entry_terminated_partial"
	DiagExitLegTerminated      = "exit_leg_terminated"
	DiagFlattenTerminated      = "flatten_terminated"
	DiagLateStatus             = "late_status"
	DiagSlippageTolerance      = "slippage_tolerance"
	DiagListenerPanic          = "listener_panic"
)

// Diagnostic is a non-fatal condition surfaced to operators.
type Diagnostic struct {
	Code          string
	Severity      Severity
	Message       string
	PositionID    string
	ClientOrderID string
	Fields        []any // slog-style key/value pairs
	Time          time.Time
}

// DiagnosticSink receives every diagnostic raised by a manager.
type DiagnosticSink interface {
	Report(d Diagnostic)
}

// LogSink writes diagnostics to a slog logger.
type LogSink struct {
	Logger *slog.Logger
}

// Report implements DiagnosticSink.
func (s LogSink) Report(d Diagnostic) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := make([]any, 0, len(d.Fields)+6)
	attrs = append(attrs,
		"code", d.Code,
		"position_id", d.PositionID,
		"client_order_id", d.ClientOrderID,
	)
	attrs = append(attrs, d.Fields...)

	switch d.Severity {
	case SeverityError:
		logger.Error(d.Message, attrs...)
	case SeverityWarning:
		logger.Warn(d.Message, attrs...)
	default:
		logger.Info(d.Message, attrs...)
	}
}
