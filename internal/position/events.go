package position

import "time"

// EventKind identifies an outbound notification.
type EventKind int

const (
	EventOrderSubmitted EventKind = iota
	EventCancelRequested
	EventOrderAccepted
	EventOrderWorking
	EventOrderRejected
	EventOrderCanceled
	EventOrderExpired
	EventOrderPartiallyFilled
	EventOrderFilled
	EventPositionOpened
	EventExitArmed
	EventExitReplaced
	EventPositionUpdated
	EventPositionClosing
	EventPositionClosed
	EventTradeFinalized
	EventPositionReset
	EventDiagnostic
)

func (k EventKind) String() string {
	switch k {
	case EventOrderSubmitted:
		return "order_submitted"
	case EventCancelRequested:
		return "cancel_requested"
	case EventOrderAccepted:
		return "order_accepted"
	case EventOrderWorking:
		return "order_working"
	case EventOrderRejected:
		return "order_rejected"
	case EventOrderCanceled:
		return "order_canceled"
	case EventOrderExpired:
		return "order_expired"
	case EventOrderPartiallyFilled:
		return "order_partially_filled"
	case EventOrderFilled:
		return "order_filled"
	case EventPositionOpened:
		return "position_opened"
	case EventExitArmed:
		return "exit_armed"
	case EventExitReplaced:
		return "exit_replaced"
	case EventPositionUpdated:
		return "position_updated"
	case EventPositionClosing:
		return "position_closing"
	case EventPositionClosed:
		return "position_closed"
	case EventTradeFinalized:
		return "trade_finalized"
	case EventPositionReset:
		return "position_reset"
	case EventDiagnostic:
		return "diagnostic"
	default:
		return "unknown"
	}
}

// Event is one notification. Only the fields relevant to Kind are set:
// Order for order events, Fill for fills, Position for position events,
// Trade for trade-finalized, Diagnostic for diagnostics.
type Event struct {
	Kind       EventKind
	PositionID string
	Time       time.Time
	Reason     string
	Order      *OrderSnapshot
	Fill       *Fill
	Position   *PositionView
	Trade      *Trade
	Diagnostic *Diagnostic
}

// Listener receives manager notifications in emission order.
type Listener interface {
	OnEvent(ev Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev Event)

// OnEvent implements Listener.
func (f ListenerFunc) OnEvent(ev Event) { f(ev) }

type subscription struct {
	id       int
	listener Listener
}
