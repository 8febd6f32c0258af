package position

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/position-engine/internal/types"
)

// PositionView is an immutable snapshot of a position for readers.
type PositionView struct {
	ID              string
	Symbol          string
	State           State
	Side            types.Side
	OpenQuantity    int64 // signed: positive long, negative short
	AvgEntryPrice   decimal.Decimal
	RealizedPnL     decimal.Decimal
	Fees            decimal.Decimal
	OpenedAt        time.Time
	ClosedAt        time.Time
	SessionEnd      time.Time
	ArmedStopLoss   types.OptionalPrice
	ArmedTakeProfit types.OptionalPrice
	EntryOrder      *OrderSnapshot
	Exits           *ExitPairView
	FlattenOrder    *OrderSnapshot
	ExitReason      types.ExitReason
	LastTrade       *Trade
}

// ExitPairView shows the live protective pair.
type ExitPairView struct {
	GroupID    string
	StopLoss   *OrderSnapshot
	TakeProfit *OrderSnapshot
}

// IsFlat reports whether no quantity is held.
func (v PositionView) IsFlat() bool {
	return v.OpenQuantity == 0
}

// Trade is the finalized round trip of one position.
type Trade struct {
	ID                 string
	PositionID         string
	Symbol             string
	Side               types.Side
	Quantity           int64
	EntryFills         []Fill
	ExitFills          []Fill
	IntendedEntryPrice decimal.Decimal
	AvgEntryPrice      decimal.Decimal
	AvgExitPrice       decimal.Decimal
	OpenedAt           time.Time
	ClosedAt           time.Time
	GrossPnL           decimal.Decimal // before any fee
	Fees               decimal.Decimal // entry + exit
	RealizedPnL        decimal.Decimal // gross minus exit fees
	NetPnL             decimal.Decimal // gross minus all fees
	Slippage           decimal.Decimal // currency
	SlippageTicks      decimal.Decimal
	ExitReason         types.ExitReason
}

// IsWin reports whether the trade made money after fees.
func (t Trade) IsWin() bool {
	return t.NetPnL.IsPositive()
}

// Duration returns how long the position was held.
func (t Trade) Duration() time.Duration {
	return t.ClosedAt.Sub(t.OpenedAt)
}
