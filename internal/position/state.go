package position

// State is the lifecycle state of a position.
type State int

const (
	StateFlat State = iota
	StatePendingEntry
	StateOpen
	StatePendingExit
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateFlat:
		return "FLAT"
	case StatePendingEntry:
		return "PENDING_ENTRY"
	case StateOpen:
		return "OPEN"
	case StatePendingExit:
		return "PENDING_EXIT"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// HasExposure reports whether the state may carry a non-zero quantity.
func (s State) HasExposure() bool {
	switch s {
	case StateOpen, StatePendingExit, StateClosing:
		return true
	default:
		return false
	}
}

// canExit reports whether exit commands (go flat, replace exits) apply.
func (s State) canExit() bool {
	return s == StateOpen || s == StatePendingExit
}

// SessionEndPolicy selects how the forced exit is placed at session end.
type SessionEndPolicy int

const (
	// SessionEndFlatten cancels protective orders and submits a market exit.
	SessionEndFlatten SessionEndPolicy = iota
	// SessionEndLeaveWorking leaves good-till-date exits to work and only
	// flattens once they have all terminated without closing the position.
	SessionEndLeaveWorking
)

func (p SessionEndPolicy) String() string {
	switch p {
	case SessionEndLeaveWorking:
		return "leave_working"
	default:
		return "flatten"
	}
}

// ParseSessionEndPolicy parses flatten|leave_working.
func ParseSessionEndPolicy(s string) (SessionEndPolicy, bool) {
	switch s {
	case "", "flatten":
		return SessionEndFlatten, true
	case "leave_working":
		return SessionEndLeaveWorking, true
	default:
		return SessionEndFlatten, false
	}
}
