// Package execution provides venue adapters that execute the orders a
// position manager submits and report back through its callbacks.
package execution

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/position-engine/internal/position"
)

// Callbacks is the venue-facing side of a position manager.
type Callbacks interface {
	OnOrderAccepted(clientOrderID, venueOrderID string)
	OnOrderWorking(clientOrderID string)
	OnOrderRejected(clientOrderID, reason string)
	OnOrderCanceled(clientOrderID, reason string)
	OnOrderExpired(clientOrderID, reason string)
	OnOrderPartiallyFilled(clientOrderID, fillID string, price decimal.Decimal, quantity int64, ts time.Time)
	OnOrderFilled(clientOrderID, fillID string, price decimal.Decimal, quantity int64, ts time.Time)
}

var _ Callbacks = (*position.Manager)(nil)

// Execution is one fill produced by a venue.
type Execution struct {
	ClientOrderID string
	VenueOrderID  string
	FillID        string
	Role          position.OrderRole
	Price         decimal.Decimal
	Quantity      int64
	Final         bool
	Time          time.Time
}
