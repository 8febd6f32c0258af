package position

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/position-engine/internal/types"
)

// Venue callbacks never fail. Unknown ids and anomalies become diagnostics.

// OnOrderAccepted records venue acceptance.
func (m *Manager) OnOrderAccepted(clientOrderID, venueOrderID string) {
	defer m.flush()
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.known(clientOrderID, "accepted")
	if !ok {
		return
	}
	if venueOrderID != "" {
		snap.VenueOrderID = venueOrderID
	}
	if snap.Status == types.OrderStatusNew {
		snap = snap.withStatus(types.OrderStatusAccepted, "", m.now())
	}
	m.pos.orders.replace(snap)
	m.emitOrder(EventOrderAccepted, snap, "")
}

// OnOrderWorking records that the order rests at the venue.
func (m *Manager) OnOrderWorking(clientOrderID string) {
	defer m.flush()
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.known(clientOrderID, "working")
	if !ok {
		return
	}
	if snap.Status == types.OrderStatusNew || snap.Status == types.OrderStatusAccepted {
		snap = snap.withStatus(types.OrderStatusWorking, "", m.now())
		m.pos.orders.replace(snap)
	}
	m.emitOrder(EventOrderWorking, snap, "")
}

// OnOrderRejected records a venue rejection.
func (m *Manager) OnOrderRejected(clientOrderID, reason string) {
	m.terminate(clientOrderID, types.OrderStatusRejected, EventOrderRejected, reason)
}

// OnOrderCanceled records a cancellation.
func (m *Manager) OnOrderCanceled(clientOrderID, reason string) {
	m.terminate(clientOrderID, types.OrderStatusCanceled, EventOrderCanceled, reason)
}

// OnOrderExpired records expiry of a time-limited order.
func (m *Manager) OnOrderExpired(clientOrderID, reason string) {
	m.terminate(clientOrderID, types.OrderStatusExpired, EventOrderExpired, reason)
}

// OnOrderPartiallyFilled records an execution that leaves the order live.
func (m *Manager) OnOrderPartiallyFilled(clientOrderID, fillID string, price decimal.Decimal, quantity int64, ts time.Time) {
	m.fill(clientOrderID, fillID, price, quantity, ts, false)
}

// OnOrderFilled records the execution that completes the order.
func (m *Manager) OnOrderFilled(clientOrderID, fillID string, price decimal.Decimal, quantity int64, ts time.Time) {
	m.fill(clientOrderID, fillID, price, quantity, ts, true)
}

// known looks up an order for a status callback. Unknown ids and updates
// to orders already terminal are diagnosed and reported as not ok.
func (m *Manager) known(id, what string) (OrderSnapshot, bool) {
	snap, ok := m.pos.orders.get(id)
	if !ok {
		m.diagnose(SeverityWarning, DiagUnknownOrder, id, "callback for unknown order", "callback", what)
		return snap, false
	}
	if snap.Status.IsFinal() {
		m.diagnose(SeverityInfo, DiagLateStatus, id, "status update for terminal order",
			"callback", what,
			"status", snap.Status.String(),
		)
		return snap, false
	}
	return snap, true
}

func (m *Manager) terminate(id string, status types.OrderStatus, kind EventKind, reason string) {
	defer m.flush()
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.known(id, status.String())
	if !ok {
		return
	}
	expected := status == types.OrderStatusCanceled && snap.CancelRequested
	snap = snap.withStatus(status, reason, m.now())
	m.pos.orders.replace(snap)
	m.emitOrder(kind, snap, reason)

	p := &m.pos
	switch snap.Spec.Role {
	case RoleEntry:
		if p.entry == nil || p.entry.orderID != id || p.state != StatePendingEntry {
			return
		}
		if p.held == nil {
			m.abandonEntry(snap)
			return
		}
		m.diagnose(SeverityWarning, DiagEntryTerminatedPartial, id, "entry terminated after partial fill",
			"filled", snap.FilledQuantity,
			"unfilled", snap.Remaining(),
			"status", status.String(),
		)
		m.promoteOpen()

	case RoleStopLoss, RoleTakeProfit:
		if !m.dropLeg(id) {
			return
		}
		if !expected {
			m.diagnose(SeverityWarning, DiagExitLegTerminated, id, "protective order terminated",
				"role", snap.Spec.Role.String(),
				"status", status.String(),
				"reason", reason,
			)
		}
		if p.state == StateClosing && !m.exitsLive() {
			// Session end under leave_working: the legs are gone and the
			// position is still exposed.
			m.submitFlatten()
		}

	case RoleFlatten:
		if id != p.flattenID || p.held == nil {
			return
		}
		m.diagnose(SeverityError, DiagFlattenTerminated, id, "flatten order terminated with exposure open",
			"status", status.String(),
			"reason", reason,
			"open_quantity", p.held.qty,
		)
	}
}

// abandonEntry returns to Flat after an entry that never filled.
func (m *Manager) abandonEntry(snap OrderSnapshot) {
	p := &m.pos
	p.entry = nil
	p.trip = nil
	p.armedSL = types.NoPrice()
	p.armedTP = types.NoPrice()
	p.sessionEnd = time.Time{}
	p.state = StateFlat

	m.logger.Info("entry terminated",
		"position_id", p.id,
		"order_id", snap.Spec.ClientOrderID,
		"status", snap.Status.String(),
		"reason", snap.Reason,
	)
	m.emitPosition(EventPositionUpdated, snap.Status.String())
}

// promoteOpen moves PendingEntry to Open and submits armed exits.
func (m *Manager) promoteOpen() {
	p := &m.pos
	p.state = StateOpen
	m.logger.Info("position opened",
		"position_id", p.id,
		"side", p.held.side.String(),
		"quantity", p.held.qty,
		"avg_entry", p.held.avgEntry.String(),
	)
	m.emitPosition(EventPositionOpened, "")
	m.submitExits()
}

func (m *Manager) fill(id, fillID string, price decimal.Decimal, quantity int64, ts time.Time, final bool) {
	defer m.flush()
	m.mu.Lock()
	defer m.mu.Unlock()

	p := &m.pos
	snap, ok := p.orders.get(id)
	if !ok {
		m.diagnose(SeverityWarning, DiagUnknownOrder, id, "fill for unknown order", "fill_id", fillID)
		return
	}
	if quantity <= 0 || !price.IsPositive() {
		m.diagnose(SeverityError, DiagInvalidFill, id, "fill with non-positive price or quantity",
			"fill_id", fillID,
			"price", price.String(),
			"quantity", quantity,
		)
		return
	}

	price = m.cfg.Instrument.RoundToTick(price)
	f := Fill{
		ClientOrderID: id,
		FillID:        fillID,
		Role:          snap.Spec.Role,
		Side:          snap.Spec.Side,
		Price:         price,
		Quantity:      quantity,
		Fee:           m.deps.Fees.Fee(snap.Spec, price, quantity),
		Timestamp:     ts,
	}

	wasFinal := snap.Status.IsFinal()
	snap = snap.withFill(f, final)
	p.orders.replace(snap)

	kind := EventOrderPartiallyFilled
	if final || snap.Status == types.OrderStatusFilled {
		kind = EventOrderFilled
	}
	ff := f
	s := snap
	m.emit(Event{Kind: kind, Order: &s, Fill: &ff, Time: ts})

	if wasFinal {
		m.diagnose(SeverityWarning, DiagFillOnTerminalOrder, id, "fill on terminal order",
			"fill_id", fillID,
			"quantity", quantity,
		)
	}

	if p.state == StateFlat || p.state == StateClosed {
		m.diagnose(SeverityWarning, DiagFillAfterClose, id, "fill after position closed",
			"fill_id", fillID,
			"state", p.state.String(),
			"quantity", quantity,
		)
		return
	}

	if snap.Spec.IsEntry() {
		m.applyEntryFill(snap, f)
		return
	}
	m.applyExitFill(snap, f)
}

func (m *Manager) applyEntryFill(snap OrderSnapshot, f Fill) {
	p := &m.pos

	if snap.Spec.TimeInForce == types.TIFFOK && snap.Status != types.OrderStatusFilled {
		m.diagnose(SeverityWarning, DiagFOKPartialFill, f.ClientOrderID, "partial fill on fill-or-kill entry",
			"fill_id", f.FillID,
			"filled", snap.FilledQuantity,
			"unfilled", snap.Remaining(),
		)
	}
	if p.state != StatePendingEntry {
		m.diagnose(SeverityWarning, DiagLateEntryFill, f.ClientOrderID, "entry fill after position opened",
			"fill_id", f.FillID,
			"state", p.state.String(),
		)
	}

	if p.held == nil {
		p.held = &holding{side: snap.Spec.Side, openedAt: f.Timestamp}
	}
	h := p.held
	h.avgEntry = WeightedAverage(h.avgEntry, abs64(h.qty), f.Price, f.Quantity)
	h.qty += h.side.Sign() * f.Quantity

	if p.trip == nil {
		p.trip = &roundTrip{}
	}
	if !p.trip.intended.IsSet() {
		p.trip.intended = types.PriceOf(f.Price)
	}
	p.trip.entryFills = append(p.trip.entryFills, f)
	p.trip.entryValue = p.trip.entryValue.Add(f.Price.Mul(decimal.NewFromInt(f.Quantity)))
	p.trip.entryQty += f.Quantity
	p.trip.entryFees = p.trip.entryFees.Add(f.Fee)
	p.fees = p.fees.Add(f.Fee)

	if p.state == StatePendingEntry && snap.Status == types.OrderStatusFilled {
		m.promoteOpen()
		return
	}
	m.emitPosition(EventPositionUpdated, "entry_fill")
}

func (m *Manager) applyExitFill(snap OrderSnapshot, f Fill) {
	p := &m.pos
	h := p.held
	if h == nil || p.state == StatePendingEntry {
		m.diagnose(SeverityWarning, DiagFillAfterClose, f.ClientOrderID, "exit fill without exposure",
			"fill_id", f.FillID,
			"state", p.state.String(),
		)
		return
	}

	closeQty := min(abs64(h.qty), f.Quantity)
	if excess := f.Quantity - closeQty; excess > 0 {
		m.diagnose(SeverityError, DiagExitOverfill, f.ClientOrderID, "exit fill exceeds open quantity",
			"fill_id", f.FillID,
			"open_quantity", h.qty,
			"fill_quantity", f.Quantity,
			"excess", excess,
		)
	}

	gross := m.pnlPerUnit(h.side, h.avgEntry, f.Price).Mul(decimal.NewFromInt(closeQty))
	p.realized = p.realized.Add(gross).Sub(f.Fee)
	p.fees = p.fees.Add(f.Fee)
	h.qty -= h.side.Sign() * closeQty

	recorded := f
	recorded.Quantity = closeQty
	p.trip.exitFills = append(p.trip.exitFills, recorded)
	p.trip.exitValue = p.trip.exitValue.Add(f.Price.Mul(decimal.NewFromInt(closeQty)))
	p.trip.exitQty += closeQty
	p.trip.grossPnL = p.trip.grossPnL.Add(gross)
	p.trip.exitFees = p.trip.exitFees.Add(f.Fee)

	if snap.Status == types.OrderStatusFilled {
		m.dropLeg(snap.Spec.ClientOrderID)
	}

	if h.qty == 0 {
		m.closePosition(m.reasonFor(snap.Spec.Role), f.Timestamp)
		return
	}
	if p.state == StateOpen {
		p.state = StatePendingExit
	}
	m.emitPosition(EventPositionUpdated, "exit_fill")
}

func (m *Manager) reasonFor(role OrderRole) types.ExitReason {
	switch role {
	case RoleStopLoss:
		return types.ExitReasonStopLoss
	case RoleTakeProfit:
		return types.ExitReasonTakeProfit
	default:
		if m.pos.closeReason != types.ExitReasonNone {
			return m.pos.closeReason
		}
		return types.ExitReasonManual
	}
}

// closePosition finalizes the round trip once quantity is back to zero.
func (m *Manager) closePosition(reason types.ExitReason, ts time.Time) {
	p := &m.pos
	h := p.held
	m.settle(h.side)

	for _, snap := range p.orders.live() {
		m.requestCancel(snap.Spec.ClientOrderID, "position closed")
	}
	p.exits = nil

	p.state = StateClosed
	p.closedAt = ts
	p.exitReason = reason
	p.held = nil

	trade := m.buildTrade(h, reason, ts)
	p.lastTrade = &trade

	m.logger.Info("position closed",
		"position_id", p.id,
		"side", trade.Side.String(),
		"quantity", trade.Quantity,
		"avg_entry", trade.AvgEntryPrice.String(),
		"avg_exit", trade.AvgExitPrice.String(),
		"realized_pnl", trade.RealizedPnL.String(),
		"reason", reason.String(),
	)
	m.emitPosition(EventPositionClosed, reason.String())
	t := trade
	m.emit(Event{Kind: EventTradeFinalized, Trade: &t, Reason: reason.String(), Time: ts})

	if tol := m.cfg.SlippageToleranceTicks; tol >= 0 && trade.SlippageTicks.GreaterThan(decimal.NewFromInt(int64(tol))) {
		m.diagnose(SeverityWarning, DiagSlippageTolerance, "", "entry slippage beyond tolerance",
			"slippage_ticks", trade.SlippageTicks.String(),
			"tolerance_ticks", tol,
			"slippage", trade.Slippage.String(),
		)
	}
}

// settle replaces the per-fill gross P&L, which is taken against the
// rounded average entry, with the exact value of the fills. Entry and exit
// quantities are equal once the position is back to zero.
func (m *Manager) settle(side types.Side) {
	p := &m.pos
	trip := p.trip
	exact := m.pnlPerUnit(side, trip.entryValue, trip.exitValue)
	if residual := exact.Sub(trip.grossPnL); !residual.IsZero() {
		p.realized = p.realized.Add(residual)
		trip.grossPnL = exact
	}
}

func (m *Manager) buildTrade(h *holding, reason types.ExitReason, ts time.Time) Trade {
	p := &m.pos
	trip := p.trip

	entryQty := trip.entryQty
	avgEntry := averageOf(trip.entryValue, entryQty)
	avgExit := averageOf(trip.exitValue, trip.exitQty)

	intended := trip.intended.Or(types.PriceOf(avgEntry)).Value()
	// |avgEntry - intended| * qty, from the exact entry value.
	deviation := trip.entryValue.Sub(intended.Mul(decimal.NewFromInt(entryQty))).Abs()
	fees := trip.entryFees.Add(trip.exitFees)

	return Trade{
		ID:                 m.deps.IDs.NewTradeID(),
		PositionID:         p.id,
		Symbol:             m.cfg.Instrument.Symbol,
		Side:               h.side,
		Quantity:           entryQty,
		EntryFills:         append([]Fill(nil), trip.entryFills...),
		ExitFills:          append([]Fill(nil), trip.exitFills...),
		IntendedEntryPrice: intended,
		AvgEntryPrice:      avgEntry,
		AvgExitPrice:       avgExit,
		OpenedAt:           h.openedAt,
		ClosedAt:           ts,
		GrossPnL:           trip.grossPnL,
		Fees:               fees,
		RealizedPnL:        trip.grossPnL.Sub(trip.exitFees),
		NetPnL:             trip.grossPnL.Sub(fees),
		Slippage:           deviation.Mul(m.cfg.Instrument.PointValue),
		SlippageTicks:      m.cfg.Instrument.Ticks(averageOf(deviation, entryQty)),
		ExitReason:         reason,
	}
}
