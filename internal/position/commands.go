package position

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/position-engine/internal/types"
)

// SubmitEntry creates the fill-or-kill entry order and returns its client
// order id. Only allowed while Flat.
func (m *Manager) SubmitEntry(kind types.OrderKind, side types.Side, quantity int64, limit, stop types.OptionalPrice) (string, error) {
	defer m.flush()
	m.mu.Lock()
	defer m.mu.Unlock()

	p := &m.pos
	if p.state != StateFlat {
		return "", fmt.Errorf("%w: submit entry in %s", types.ErrInvalidState, p.state)
	}
	if side != types.SideLong && side != types.SideShort {
		return "", fmt.Errorf("%w: %s", types.ErrInvalidSide, side)
	}
	if quantity < m.cfg.MinQuantity {
		return "", fmt.Errorf("%w: %d below minimum %d", types.ErrInvalidOrderSize, quantity, m.cfg.MinQuantity)
	}
	limit, stop, err := m.checkOrderPrices(kind, limit, stop)
	if err != nil {
		return "", err
	}

	now := m.now()
	spec := OrderSpec{
		ClientOrderID: m.deps.IDs.NewOrderID(),
		PositionID:    p.id,
		Symbol:        m.cfg.Instrument.Symbol,
		Role:          RoleEntry,
		Side:          side,
		Kind:          kind,
		Quantity:      quantity,
		TimeInForce:   types.TIFFOK,
		LimitPrice:    limit,
		StopPrice:     stop,
		CreatedAt:     now,
	}
	snap := newSnapshot(spec)
	if err := p.orders.add(snap); err != nil {
		return "", err
	}

	intended := types.NoPrice()
	switch kind {
	case types.OrderKindLimit, types.OrderKindStopLimit:
		intended = limit
	case types.OrderKindStop:
		intended = stop
	}

	p.entry = &pendingEntry{orderID: spec.ClientOrderID, side: side, intended: intended}
	p.trip = &roundTrip{intended: intended}
	p.sessionEnd = m.deps.Calendar.SessionEnd(now)
	p.state = StatePendingEntry

	m.logger.Info("entry submitted",
		"position_id", p.id,
		"order_id", spec.ClientOrderID,
		"kind", kind.String(),
		"side", side.String(),
		"quantity", quantity,
		"limit", limit.String(),
		"stop", stop.String(),
	)

	m.emitOrder(EventOrderSubmitted, snap, "")
	m.emitPosition(EventPositionUpdated, "entry_submitted")
	return spec.ClientOrderID, nil
}

// CancelEntry requests cancellation of the working entry order.
func (m *Manager) CancelEntry() error {
	defer m.flush()
	m.mu.Lock()
	defer m.mu.Unlock()

	p := &m.pos
	if p.state != StatePendingEntry || p.entry == nil {
		return fmt.Errorf("%w: cancel entry in %s", types.ErrInvalidState, p.state)
	}
	m.requestCancel(p.entry.orderID, "entry canceled by request")
	return nil
}

// ArmExits records stop-loss and take-profit prices. An absent price
// disarms that leg. Once the position is open the OCO pair is submitted,
// replacing any live pair.
func (m *Manager) ArmExits(stopLoss, takeProfit types.OptionalPrice) error {
	defer m.flush()
	m.mu.Lock()
	defer m.mu.Unlock()

	p := &m.pos
	switch p.state {
	case StatePendingEntry, StateOpen, StatePendingExit:
	default:
		return fmt.Errorf("%w: arm exits in %s", types.ErrInvalidState, p.state)
	}

	sl, tp, err := m.checkExitPrices(stopLoss, takeProfit)
	if err != nil {
		return err
	}

	p.armedSL, p.armedTP = sl, tp
	m.logger.Info("exits armed",
		"position_id", p.id,
		"stop_loss", sl.String(),
		"take_profit", tp.String(),
	)
	m.emitPosition(EventExitArmed, "")

	if p.state == StatePendingEntry {
		return nil
	}
	if p.exits != nil {
		m.cancelExits("exits re-armed")
	}
	m.submitExits()
	return nil
}

// ReplaceExits cancels the live exit pair and resubmits it with new
// prices. An absent price keeps the currently armed one.
func (m *Manager) ReplaceExits(stopLoss, takeProfit types.OptionalPrice) error {
	defer m.flush()
	m.mu.Lock()
	defer m.mu.Unlock()

	p := &m.pos
	if !p.state.canExit() {
		return fmt.Errorf("%w: replace exits in %s", types.ErrInvalidState, p.state)
	}
	if !stopLoss.IsSet() && !takeProfit.IsSet() {
		return types.ErrNoExitsArmed
	}

	sl, tp, err := m.checkExitPrices(stopLoss.Or(p.armedSL), takeProfit.Or(p.armedTP))
	if err != nil {
		return err
	}

	m.cancelExits("exits replaced")
	p.armedSL, p.armedTP = sl, tp
	m.logger.Info("exits replaced",
		"position_id", p.id,
		"stop_loss", sl.String(),
		"take_profit", tp.String(),
	)
	m.emitPosition(EventExitReplaced, "")
	m.submitExits()
	return nil
}

// GoFlat cancels protective orders and submits a market exit for the whole
// open quantity. From Closing it is only allowed when no flatten order is
// live, which retries a flatten the venue refused.
func (m *Manager) GoFlat() error {
	defer m.flush()
	m.mu.Lock()
	defer m.mu.Unlock()

	p := &m.pos
	switch {
	case p.state.canExit():
		m.beginFlatten(types.ExitReasonManual)
		return nil
	case p.state == StateClosing && !m.flattenLive():
		if p.closeReason == types.ExitReasonNone {
			p.closeReason = types.ExitReasonManual
		}
		m.cancelExits("flatten retry")
		m.submitFlatten()
		return nil
	default:
		return fmt.Errorf("%w: go flat in %s", types.ErrInvalidState, p.state)
	}
}

// Reset discards the finished position and starts a fresh Flat one.
func (m *Manager) Reset() error {
	defer m.flush()
	m.mu.Lock()
	defer m.mu.Unlock()

	p := &m.pos
	if p.state != StateFlat && p.state != StateClosed {
		return fmt.Errorf("%w: reset in %s", types.ErrInvalidState, p.state)
	}

	old := p.id
	m.pos = newPosition(m.deps.IDs.NewPositionID())
	m.logger.Info("position reset", "previous_id", old, "position_id", m.pos.id)
	m.emitPosition(EventPositionReset, old)
	return nil
}

// OnClock drives session-end handling. A tick at or after the session end
// moves an open position to Closing once; a pending entry is canceled.
func (m *Manager) OnClock(ts time.Time) {
	defer m.flush()
	m.mu.Lock()
	defer m.mu.Unlock()

	p := &m.pos
	if p.sessionEnd.IsZero() || ts.Before(p.sessionEnd) {
		return
	}

	switch p.state {
	case StatePendingEntry:
		if snap, ok := p.orders.get(p.entry.orderID); ok && snap.IsLive() && !snap.CancelRequested {
			m.requestCancel(snap.Spec.ClientOrderID, "session end")
		}
	case StateOpen, StatePendingExit:
		m.logger.Info("session end reached",
			"position_id", p.id,
			"session_end", p.sessionEnd,
			"policy", m.cfg.SessionEndPolicy.String(),
		)
		switch m.cfg.SessionEndPolicy {
		case SessionEndLeaveWorking:
			p.closeReason = types.ExitReasonEndOfSession
			p.state = StateClosing
			m.emitPosition(EventPositionClosing, types.ExitReasonEndOfSession.String())
			if !m.exitsLive() {
				m.submitFlatten()
			}
		default:
			m.beginFlatten(types.ExitReasonEndOfSession)
		}
	}
}

// checkOrderPrices validates the price fields required by kind and rounds
// them to the instrument tick.
func (m *Manager) checkOrderPrices(kind types.OrderKind, limit, stop types.OptionalPrice) (types.OptionalPrice, types.OptionalPrice, error) {
	switch kind {
	case types.OrderKindMarket, types.OrderKindLimit, types.OrderKindStop, types.OrderKindStopLimit:
	default:
		return limit, stop, fmt.Errorf("%w: %d", types.ErrInvalidOrderKind, kind)
	}

	if kind.NeedsLimitPrice() && !limit.IsSet() {
		return limit, stop, fmt.Errorf("%w: %s", types.ErrMissingLimitPrice, kind)
	}
	if !kind.NeedsLimitPrice() && limit.IsSet() {
		return limit, stop, fmt.Errorf("%w: limit price on %s", types.ErrUnexpectedPrice, kind)
	}
	if kind.NeedsStopPrice() && !stop.IsSet() {
		return limit, stop, fmt.Errorf("%w: %s", types.ErrMissingStopPrice, kind)
	}
	if !kind.NeedsStopPrice() && stop.IsSet() {
		return limit, stop, fmt.Errorf("%w: stop price on %s", types.ErrUnexpectedPrice, kind)
	}

	var err error
	if limit, err = m.roundPrice(limit, "limit"); err != nil {
		return limit, stop, err
	}
	if stop, err = m.roundPrice(stop, "stop"); err != nil {
		return limit, stop, err
	}
	return limit, stop, nil
}

// checkExitPrices validates stop-loss and take-profit against the side of
// the position (or of the pending entry).
func (m *Manager) checkExitPrices(sl, tp types.OptionalPrice) (types.OptionalPrice, types.OptionalPrice, error) {
	if !sl.IsSet() && !tp.IsSet() {
		return sl, tp, types.ErrNoExitsArmed
	}

	var err error
	if sl, err = m.roundPrice(sl, "stop loss"); err != nil {
		return sl, tp, err
	}
	if tp, err = m.roundPrice(tp, "take profit"); err != nil {
		return sl, tp, err
	}

	if sl.IsSet() && tp.IsSet() {
		s, t := sl.Value(), tp.Value()
		switch m.side() {
		case types.SideLong:
			if !s.LessThan(t) {
				return sl, tp, fmt.Errorf("%w: long needs stop %s below target %s", types.ErrInvalidExitPrices, s, t)
			}
		case types.SideShort:
			if !s.GreaterThan(t) {
				return sl, tp, fmt.Errorf("%w: short needs stop %s above target %s", types.ErrInvalidExitPrices, s, t)
			}
		}
	}
	return sl, tp, nil
}

func (m *Manager) roundPrice(p types.OptionalPrice, name string) (types.OptionalPrice, error) {
	v, ok := p.Get()
	if !ok {
		return p, nil
	}
	if !v.IsPositive() {
		return p, fmt.Errorf("%w: %s price %s", types.ErrInvalidPrice, name, v)
	}
	return types.PriceOf(m.cfg.Instrument.RoundToTick(v)), nil
}

// side is the direction of the exposure, or of the pending entry.
func (m *Manager) side() types.Side {
	switch {
	case m.pos.held != nil:
		return m.pos.held.side
	case m.pos.entry != nil:
		return m.pos.entry.side
	default:
		return types.SideFlat
	}
}

// pnlPerUnit is the currency P&L of one contract closed at price.
func (m *Manager) pnlPerUnit(side types.Side, entry, exit decimal.Decimal) decimal.Decimal {
	diff := exit.Sub(entry)
	if side == types.SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(m.cfg.Instrument.PointValue)
}
