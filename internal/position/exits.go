package position

import (
	"github.com/tathienbao/position-engine/internal/types"
)

// Exit coordination. The pair record is the only owner of protective leg
// ids; replaced or canceled legs leave the record at once and linger in the
// registry until the venue confirms their terminal status.

// submitExits sends the armed legs as one OCO group. Every leg is in the
// registry before the first submitted notification is queued.
func (m *Manager) submitExits() {
	p := &m.pos
	if p.held == nil || p.exits != nil {
		return
	}
	if !p.armedSL.IsSet() && !p.armedTP.IsSet() {
		return
	}

	now := m.now()
	qty := abs64(p.held.qty)
	exitSide := p.held.side.Opposite()
	pair := &exitPair{groupID: m.deps.IDs.NewGroupID()}

	base := OrderSpec{
		PositionID:  p.id,
		Symbol:      m.cfg.Instrument.Symbol,
		Side:        exitSide,
		Quantity:    qty,
		TimeInForce: types.TIFGTD,
		GoodTill:    p.sessionEnd,
		OCOGroupID:  pair.groupID,
		CreatedAt:   now,
	}

	var legs []OrderSnapshot
	if stop, ok := p.armedSL.Get(); ok {
		spec := base
		spec.ClientOrderID = m.deps.IDs.NewOrderID()
		spec.Role = RoleStopLoss
		spec.Kind = types.OrderKindStop
		spec.StopPrice = p.armedSL
		if m.cfg.StopLimitOffsetTicks > 0 {
			offset := m.cfg.Instrument.TickOffset(m.cfg.StopLimitOffsetTicks)
			limit := stop.Sub(offset)
			if exitSide == types.SideLong {
				limit = stop.Add(offset)
			}
			spec.Kind = types.OrderKindStopLimit
			spec.LimitPrice = types.PriceOf(limit)
		}
		pair.stopID = spec.ClientOrderID
		legs = append(legs, newSnapshot(spec))
	}
	if p.armedTP.IsSet() {
		spec := base
		spec.ClientOrderID = m.deps.IDs.NewOrderID()
		spec.Role = RoleTakeProfit
		spec.Kind = types.OrderKindLimit
		spec.LimitPrice = p.armedTP
		pair.targetID = spec.ClientOrderID
		legs = append(legs, newSnapshot(spec))
	}

	for _, leg := range legs {
		if err := p.orders.add(leg); err != nil {
			// Ids come from the generator; a collision means it is broken.
			m.diagnose(SeverityError, DiagDuplicateOrder, leg.Spec.ClientOrderID, "exit order id collision", "err", err)
			return
		}
	}
	p.exits = pair

	m.logger.Info("exit pair submitted",
		"position_id", p.id,
		"group_id", pair.groupID,
		"quantity", qty,
		"stop_loss", p.armedSL.String(),
		"take_profit", p.armedTP.String(),
	)
	for _, leg := range legs {
		m.emitOrder(EventOrderSubmitted, leg, "")
	}
}

// cancelExits requests cancellation of every live leg and drops the pair.
func (m *Manager) cancelExits(reason string) {
	p := &m.pos
	if p.exits == nil {
		return
	}
	for _, id := range []string{p.exits.stopID, p.exits.targetID} {
		if id != "" {
			m.requestCancel(id, reason)
		}
	}
	p.exits = nil
}

// exitsLive reports whether any leg of the pair is still live.
func (m *Manager) exitsLive() bool {
	p := &m.pos
	if p.exits == nil {
		return false
	}
	for _, id := range []string{p.exits.stopID, p.exits.targetID} {
		if snap, ok := p.orders.get(id); ok && snap.IsLive() {
			return true
		}
	}
	return false
}

// dropLeg removes a terminated leg from the pair and asks the venue to
// cancel its sibling. Reports whether id was a member.
func (m *Manager) dropLeg(id string) bool {
	p := &m.pos
	if p.exits == nil {
		return false
	}

	var sibling string
	switch id {
	case p.exits.stopID:
		p.exits.stopID = ""
		sibling = p.exits.targetID
	case p.exits.targetID:
		p.exits.targetID = ""
		sibling = p.exits.stopID
	default:
		return false
	}

	// The sibling stays in the pair until its own terminal callback.
	if sibling != "" {
		m.requestCancel(sibling, "oco sibling terminated")
	}
	if p.exits.empty() {
		p.exits = nil
	}
	return true
}

// requestCancel marks a live order cancel-requested and notifies the venue
// adapter. Status changes only when the terminal callback arrives.
func (m *Manager) requestCancel(id, reason string) {
	p := &m.pos
	snap, ok := p.orders.get(id)
	if !ok || !snap.IsLive() || snap.CancelRequested {
		return
	}
	snap = snap.withCancelRequested(m.now())
	p.orders.replace(snap)
	m.emitOrder(EventCancelRequested, snap, reason)
}

// beginFlatten cancels protective orders, submits the market exit and moves
// to Closing.
func (m *Manager) beginFlatten(reason types.ExitReason) {
	p := &m.pos
	p.closeReason = reason
	m.cancelExits("flatten")
	p.state = StateClosing
	m.logger.Info("position closing",
		"position_id", p.id,
		"reason", reason.String(),
	)
	m.emitPosition(EventPositionClosing, reason.String())
	m.submitFlatten()
}

// submitFlatten sends a market order offsetting the whole open quantity.
func (m *Manager) submitFlatten() {
	p := &m.pos
	if p.held == nil || m.flattenLive() {
		return
	}

	spec := OrderSpec{
		ClientOrderID: m.deps.IDs.NewOrderID(),
		PositionID:    p.id,
		Symbol:        m.cfg.Instrument.Symbol,
		Role:          RoleFlatten,
		Side:          p.held.side.Opposite(),
		Kind:          types.OrderKindMarket,
		Quantity:      abs64(p.held.qty),
		TimeInForce:   types.TIFGTC,
		CreatedAt:     m.now(),
	}
	snap := newSnapshot(spec)
	if err := p.orders.add(snap); err != nil {
		m.diagnose(SeverityError, DiagDuplicateOrder, spec.ClientOrderID, "flatten order id collision", "err", err)
		return
	}
	p.flattenID = spec.ClientOrderID
	m.emitOrder(EventOrderSubmitted, snap, p.closeReason.String())
}

func (m *Manager) flattenLive() bool {
	snap, ok := m.pos.orders.get(m.pos.flattenID)
	return ok && snap.IsLive()
}
