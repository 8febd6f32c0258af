// Package types defines shared types used across the position engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of a position or order.
// SideFlat doubles as "no side".
type Side int

const (
	SideFlat Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "LONG"
	case SideShort:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideFlat
	}
}

// Sign returns +1 for long, -1 for short and 0 for flat.
func (s Side) Sign() int64 {
	switch s {
	case SideLong:
		return 1
	case SideShort:
		return -1
	default:
		return 0
	}
}

// ParseSide parses "long"/"short" (any case).
func ParseSide(s string) (Side, bool) {
	switch s {
	case "long", "LONG", "buy", "BUY":
		return SideLong, true
	case "short", "SHORT", "sell", "SELL":
		return SideShort, true
	default:
		return SideFlat, false
	}
}

// OrderKind is the order type sent to the venue.
type OrderKind int

const (
	OrderKindMarket OrderKind = iota
	OrderKindLimit
	OrderKindStop
	OrderKindStopLimit
)

func (k OrderKind) String() string {
	switch k {
	case OrderKindMarket:
		return "MKT"
	case OrderKindLimit:
		return "LMT"
	case OrderKindStop:
		return "STP"
	case OrderKindStopLimit:
		return "STP LMT"
	default:
		return "UNKNOWN"
	}
}

// NeedsLimitPrice reports whether the kind carries a limit price.
func (k OrderKind) NeedsLimitPrice() bool {
	return k == OrderKindLimit || k == OrderKindStopLimit
}

// NeedsStopPrice reports whether the kind carries a stop price.
func (k OrderKind) NeedsStopPrice() bool {
	return k == OrderKindStop || k == OrderKindStopLimit
}

// ParseOrderKind parses market|limit|stop|stop_limit.
func ParseOrderKind(s string) (OrderKind, bool) {
	switch s {
	case "market", "MKT":
		return OrderKindMarket, true
	case "limit", "LMT":
		return OrderKindLimit, true
	case "stop", "STP":
		return OrderKindStop, true
	case "stop_limit", "STP LMT":
		return OrderKindStopLimit, true
	default:
		return OrderKindMarket, false
	}
}

// TimeInForce controls how long an order stays live at the venue.
type TimeInForce int

const (
	TIFDay TimeInForce = iota
	TIFGTC
	TIFGTD
	TIFIOC
	TIFFOK
)

func (t TimeInForce) String() string {
	switch t {
	case TIFDay:
		return "DAY"
	case TIFGTC:
		return "GTC"
	case TIFGTD:
		return "GTD"
	case TIFIOC:
		return "IOC"
	case TIFFOK:
		return "FOK"
	default:
		return "UNKNOWN"
	}
}

// OrderStatus represents the lifecycle state of an order.
type OrderStatus int

const (
	OrderStatusNew OrderStatus = iota
	OrderStatusAccepted
	OrderStatusWorking
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusRejected
	OrderStatusCanceled
	OrderStatusExpired
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusNew:
		return "NEW"
	case OrderStatusAccepted:
		return "ACCEPTED"
	case OrderStatusWorking:
		return "WORKING"
	case OrderStatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusRejected:
		return "REJECTED"
	case OrderStatusCanceled:
		return "CANCELED"
	case OrderStatusExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// IsFinal returns true if the order is in a terminal state.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCanceled, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// ExitReason explains why a position was closed.
type ExitReason int

const (
	ExitReasonNone ExitReason = iota
	ExitReasonStopLoss
	ExitReasonTakeProfit
	ExitReasonManual
	ExitReasonEndOfSession
)

func (r ExitReason) String() string {
	switch r {
	case ExitReasonStopLoss:
		return "STOP_LOSS"
	case ExitReasonTakeProfit:
		return "TAKE_PROFIT"
	case ExitReasonManual:
		return "MANUAL"
	case ExitReasonEndOfSession:
		return "END_OF_SESSION"
	default:
		return "NONE"
	}
}

// MarketEvent represents a market data bar.
type MarketEvent struct {
	Symbol    string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
}

// InstrumentSpec defines the specifications of a trading instrument.
type InstrumentSpec struct {
	Symbol     string
	TickSize   decimal.Decimal // Minimum price movement
	TickValue  decimal.Decimal // Dollar value per tick per contract
	PointValue decimal.Decimal // Dollar value per point
}

// RoundToTick rounds price to the nearest valid tick, half away from zero.
func (s InstrumentSpec) RoundToTick(price decimal.Decimal) decimal.Decimal {
	if s.TickSize.IsZero() {
		return price
	}
	return price.Div(s.TickSize).Round(0).Mul(s.TickSize)
}

// Ticks converts a price distance to a (fractional) number of ticks.
func (s InstrumentSpec) Ticks(distance decimal.Decimal) decimal.Decimal {
	if s.TickSize.IsZero() {
		return decimal.Zero
	}
	return distance.Div(s.TickSize)
}

// TickOffset returns n ticks as a price distance.
func (s InstrumentSpec) TickOffset(n int) decimal.Decimal {
	return s.TickSize.Mul(decimal.NewFromInt(int64(n)))
}

// Common instrument specifications.
var (
	InstrumentMES = InstrumentSpec{
		Symbol:     "MES",
		TickSize:   decimal.RequireFromString("0.25"),
		TickValue:  decimal.RequireFromString("1.25"),
		PointValue: decimal.RequireFromString("5.00"),
	}

	InstrumentMGC = InstrumentSpec{
		Symbol:     "MGC",
		TickSize:   decimal.RequireFromString("0.10"),
		TickValue:  decimal.RequireFromString("1.00"),
		PointValue: decimal.RequireFromString("10.00"),
	}
)

// GetInstrumentSpec returns the specification for a symbol.
func GetInstrumentSpec(symbol string) (InstrumentSpec, bool) {
	switch symbol {
	case "MES":
		return InstrumentMES, true
	case "MGC":
		return InstrumentMGC, true
	default:
		return InstrumentSpec{}, false
	}
}
