package position

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/position-engine/internal/types"
)

// OrderRole is the part an order plays in the position lifecycle.
type OrderRole int

const (
	RoleEntry OrderRole = iota
	RoleStopLoss
	RoleTakeProfit
	RoleFlatten
)

func (r OrderRole) String() string {
	switch r {
	case RoleEntry:
		return "entry"
	case RoleStopLoss:
		return "stop_loss"
	case RoleTakeProfit:
		return "take_profit"
	case RoleFlatten:
		return "flatten"
	default:
		return "unknown"
	}
}

// OrderSpec is the immutable intent of an order.
type OrderSpec struct {
	ClientOrderID string
	PositionID    string
	Symbol        string
	Role          OrderRole
	Side          types.Side
	Kind          types.OrderKind
	Quantity      int64
	TimeInForce   types.TimeInForce
	LimitPrice    types.OptionalPrice
	StopPrice     types.OptionalPrice
	GoodTill      time.Time // set only for GTD
	OCOGroupID    string
	CreatedAt     time.Time
}

// IsEntry reports whether the order opens the position.
func (s OrderSpec) IsEntry() bool { return s.Role == RoleEntry }

// IsExit reports whether the order reduces the position.
func (s OrderSpec) IsExit() bool { return s.Role != RoleEntry }

// OrderSnapshot is the lifecycle projection of one order. Snapshots are
// values: every status change produces a new snapshot.
type OrderSnapshot struct {
	Spec            OrderSpec
	Status          types.OrderStatus
	VenueOrderID    string
	FilledQuantity  int64
	AvgFillPrice    decimal.Decimal
	Fees            decimal.Decimal
	Reason          string
	CancelRequested bool
	UpdatedAt       time.Time
}

func newSnapshot(spec OrderSpec) OrderSnapshot {
	return OrderSnapshot{
		Spec:      spec,
		Status:    types.OrderStatusNew,
		UpdatedAt: spec.CreatedAt,
	}
}

// IsLive reports whether the order is not yet terminal.
func (o OrderSnapshot) IsLive() bool {
	return !o.Status.IsFinal()
}

// Remaining returns the unfilled quantity.
func (o OrderSnapshot) Remaining() int64 {
	if r := o.Spec.Quantity - o.FilledQuantity; r > 0 {
		return r
	}
	return 0
}

func (o OrderSnapshot) withStatus(status types.OrderStatus, reason string, at time.Time) OrderSnapshot {
	o.Status = status
	if reason != "" {
		o.Reason = reason
	}
	o.UpdatedAt = at
	return o
}

func (o OrderSnapshot) withCancelRequested(at time.Time) OrderSnapshot {
	o.CancelRequested = true
	o.UpdatedAt = at
	return o
}

// withFill accumulates a fill. A final fill, or one that completes the
// order quantity, moves the order to Filled.
func (o OrderSnapshot) withFill(f Fill, final bool) OrderSnapshot {
	o.AvgFillPrice = WeightedAverage(o.AvgFillPrice, o.FilledQuantity, f.Price, f.Quantity)
	o.FilledQuantity += f.Quantity
	o.Fees = o.Fees.Add(f.Fee)
	o.UpdatedAt = f.Timestamp

	if o.Status.IsFinal() {
		// Late execution on an order the venue already closed: keep the
		// terminal status, the quantities still count.
		return o
	}
	if final || o.FilledQuantity >= o.Spec.Quantity {
		o.Status = types.OrderStatusFilled
	} else {
		o.Status = types.OrderStatusPartiallyFilled
	}
	return o
}

// Fill is one execution report.
type Fill struct {
	ClientOrderID string
	FillID        string
	Role          OrderRole
	Side          types.Side
	Price         decimal.Decimal
	Quantity      int64
	Fee           decimal.Decimal
	Timestamp     time.Time
}

// AvgPriceScale is the number of decimal places average prices are
// rounded to. Averages are for display; P&L is settled from fill values.
const AvgPriceScale = 8

// WeightedAverage folds a new fill into a volume-weighted average, rounded
// to AvgPriceScale places. Returns p when the combined quantity is not
// positive.
func WeightedAverage(a decimal.Decimal, q int64, p decimal.Decimal, n int64) decimal.Decimal {
	total := q + n
	if total <= 0 {
		return p
	}
	num := a.Mul(decimal.NewFromInt(q)).Add(p.Mul(decimal.NewFromInt(n)))
	return num.DivRound(decimal.NewFromInt(total), AvgPriceScale)
}

// averageOf divides a summed fill value by its quantity.
func averageOf(value decimal.Decimal, qty int64) decimal.Decimal {
	if qty == 0 {
		return decimal.Zero
	}
	return value.DivRound(decimal.NewFromInt(qty), AvgPriceScale)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
