package types

import "errors"

// Sentinel errors for the position engine.
var (
	// Command errors
	ErrInvalidState      = errors.New("command not allowed in current state")
	ErrInvalidOrderSize  = errors.New("invalid order size")
	ErrInvalidSide       = errors.New("invalid side")
	ErrInvalidOrderKind  = errors.New("invalid order kind")
	ErrMissingLimitPrice = errors.New("limit price required for order kind")
	ErrMissingStopPrice  = errors.New("stop price required for order kind")
	ErrUnexpectedPrice   = errors.New("price not allowed for order kind")
	ErrNoExitsArmed      = errors.New("no stop-loss or take-profit given")
	ErrInvalidExitPrices = errors.New("stop-loss and take-profit on wrong sides")

	// Order errors
	ErrDuplicateOrder    = errors.New("duplicate order id")
	ErrUnknownOrder      = errors.New("unknown order id")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// Data errors
	ErrInvalidPrice = errors.New("invalid price value")
	ErrInvalidData  = errors.New("invalid market data")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidSymbol = errors.New("invalid symbol")
)
