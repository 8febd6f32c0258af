package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/position-engine/internal/risk"
	"github.com/tathienbao/position-engine/internal/types"
)

// Plan scripts one entry per flat period: an order of Kind placed
// EntryOffsetTicks away from the bar close, protected by exits a fixed
// number of ticks from the entry reference. Zero exit ticks leave that leg
// unarmed.
type Plan struct {
	Side             types.Side
	Kind             types.OrderKind
	Quantity         int64
	EntryOffsetTicks int
	StopLossTicks    int
	TakeProfitTicks  int
	// MaxTrades caps entries per run. Zero means unlimited.
	MaxTrades int
	// RiskPerTrade, when positive, sizes each entry so a stop-out costs at
	// most this fraction of equity. Quantity is then the cap.
	RiskPerTrade decimal.Decimal
}

// DefaultPlan returns a one-lot long market plan.
func DefaultPlan() Plan {
	return Plan{
		Side:            types.SideLong,
		Kind:            types.OrderKindMarket,
		Quantity:        1,
		StopLossTicks:   8,
		TakeProfitTicks: 16,
	}
}

// Enabled reports whether the plan places entries.
func (p Plan) Enabled() bool {
	return p.Quantity > 0 && p.Side != types.SideFlat
}

func (p Plan) String() string {
	s := fmt.Sprintf("%s %s x%d sl=%d tp=%d", p.Side, p.Kind, p.Quantity, p.StopLossTicks, p.TakeProfitTicks)
	if p.RiskPerTrade.IsPositive() {
		s += " risk=" + p.RiskPerTrade.String()
	}
	return s
}

// Size returns the entry quantity at equity.
func (p Plan) Size(sizer *risk.PositionSizer, equity decimal.Decimal) int64 {
	if !p.RiskPerTrade.IsPositive() {
		return p.Quantity
	}
	return min(sizer.Contracts(equity, p.RiskPerTrade, p.StopLossTicks), p.Quantity)
}

// EntryOrder is the priced entry for one bar.
type EntryOrder struct {
	Kind  types.OrderKind
	Limit types.OptionalPrice
	Stop  types.OptionalPrice
	// Reference anchors the exit distances.
	Reference decimal.Decimal
}

// Entry prices the entry off last. Limits rest below a long (above a
// short); stops sit on the breakout side.
func (p Plan) Entry(spec types.InstrumentSpec, last decimal.Decimal) EntryOrder {
	offset := spec.TickOffset(p.EntryOffsetTicks)
	below := spec.RoundToTick(last.Sub(offset))
	above := spec.RoundToTick(last.Add(offset))

	order := EntryOrder{
		Kind:      p.Kind,
		Limit:     types.NoPrice(),
		Stop:      types.NoPrice(),
		Reference: spec.RoundToTick(last),
	}
	switch p.Kind {
	case types.OrderKindLimit:
		order.Reference = above
		if p.Side == types.SideLong {
			order.Reference = below
		}
		order.Limit = types.PriceOf(order.Reference)
	case types.OrderKindStop:
		order.Reference = below
		if p.Side == types.SideLong {
			order.Reference = above
		}
		order.Stop = types.PriceOf(order.Reference)
	}
	return order
}

// Exits returns stop-loss and take-profit prices around ref.
func (p Plan) Exits(spec types.InstrumentSpec, ref decimal.Decimal) (types.OptionalPrice, types.OptionalPrice) {
	sl, tp := types.NoPrice(), types.NoPrice()
	sign := decimal.NewFromInt(p.Side.Sign())
	if p.StopLossTicks > 0 {
		sl = types.PriceOf(ref.Sub(spec.TickOffset(p.StopLossTicks).Mul(sign)))
	}
	if p.TakeProfitTicks > 0 {
		tp = types.PriceOf(ref.Add(spec.TickOffset(p.TakeProfitTicks).Mul(sign)))
	}
	return sl, tp
}
