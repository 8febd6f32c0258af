// Package position implements the lifecycle state machine of a single
// trading position: entry, protective OCO exits, forced liquidation and
// the finalized trade record.
package position

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/position-engine/internal/types"
)

// Config holds manager configuration.
type Config struct {
	Instrument types.InstrumentSpec
	// MinQuantity is the smallest entry size accepted.
	MinQuantity int64
	// SlippageToleranceTicks raises a warning when entry slippage exceeds
	// it. Negative disables the check.
	SlippageToleranceTicks int
	SessionEndPolicy       SessionEndPolicy
	// StopLimitOffsetTicks turns the stop-loss leg into a stop-limit order
	// with its limit this many ticks beyond the stop. Zero sends a plain stop.
	StopLimitOffsetTicks int
}

// DefaultConfig returns default manager config.
func DefaultConfig() Config {
	return Config{
		Instrument:             types.InstrumentMES,
		MinQuantity:            1,
		SlippageToleranceTicks: 4,
		SessionEndPolicy:       SessionEndFlatten,
		StopLimitOffsetTicks:   0,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	switch {
	case !c.Instrument.TickSize.IsPositive():
		return fmt.Errorf("%w: tick size must be positive", types.ErrInvalidConfig)
	case !c.Instrument.PointValue.IsPositive():
		return fmt.Errorf("%w: point value must be positive", types.ErrInvalidConfig)
	case c.MinQuantity < 1:
		return fmt.Errorf("%w: min quantity must be at least 1", types.ErrInvalidConfig)
	case c.StopLimitOffsetTicks < 0:
		return fmt.Errorf("%w: stop limit offset must not be negative", types.ErrInvalidConfig)
	}
	return nil
}

// Dependencies are the collaborators a manager consumes. Nil fields get
// defaults.
type Dependencies struct {
	IDs      IDGenerator
	Fees     FeeModel
	Calendar SessionCalendar
	Sink     DiagnosticSink
	Clock    func() time.Time
}

// holding is present exactly while the position carries quantity.
type holding struct {
	side     types.Side
	qty      int64 // signed
	avgEntry decimal.Decimal
	openedAt time.Time
}

// pendingEntry tracks the entry order of the current position.
type pendingEntry struct {
	orderID  string
	side     types.Side
	intended types.OptionalPrice
}

// exitPair is the live protective OCO pair. A leg id is empty once that
// leg has terminated.
type exitPair struct {
	groupID  string
	stopID   string
	targetID string
}

func (p *exitPair) empty() bool {
	return p.stopID == "" && p.targetID == ""
}

// roundTrip accumulates what the finalized trade reports. entryValue and
// exitValue are the exact sums of price times quantity.
type roundTrip struct {
	entryFills []Fill
	exitFills  []Fill
	intended   types.OptionalPrice
	entryValue decimal.Decimal
	entryQty   int64
	exitValue  decimal.Decimal
	exitQty    int64
	grossPnL   decimal.Decimal
	entryFees  decimal.Decimal
	exitFees   decimal.Decimal
}

type position struct {
	id         string
	state      State
	held       *holding
	entry      *pendingEntry
	exits      *exitPair
	trip       *roundTrip
	flattenID  string
	realized   decimal.Decimal
	fees       decimal.Decimal
	closedAt   time.Time
	sessionEnd time.Time
	armedSL    types.OptionalPrice
	armedTP    types.OptionalPrice
	// closeReason applies to the flatten order; legs carry their own.
	closeReason types.ExitReason
	exitReason  types.ExitReason
	lastTrade   *Trade
	orders      *orderRegistry
}

func newPosition(id string) position {
	return position{
		id:     id,
		state:  StateFlat,
		orders: newOrderRegistry(),
	}
}

// Manager owns one position. All public methods are safe for concurrent
// use; they serialize on one mutex and deliver notifications to listeners
// after the mutex is released, in registration order.
type Manager struct {
	cfg    Config
	deps   Dependencies
	logger *slog.Logger

	mu  sync.Mutex
	pos position

	listeners   []subscription
	nextSubID   int
	outbox      []Event
	dispatching bool
}

// NewManager creates a manager holding a fresh Flat position.
func NewManager(cfg Config, deps Dependencies, logger *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.IDs == nil {
		deps.IDs = UUIDGenerator{}
	}
	if deps.Fees == nil {
		deps.Fees = PerContractFee{}
	}
	if deps.Calendar == nil {
		deps.Calendar = SessionCalendarFunc(endOfUTCDay)
	}
	if deps.Sink == nil {
		deps.Sink = LogSink{Logger: logger}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	return &Manager{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "position"),
		pos:    newPosition(deps.IDs.NewPositionID()),
	}, nil
}

// Config returns the manager configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Subscribe registers a listener and returns a function removing it.
func (m *Manager) Subscribe(l Listener) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSubID++
	id := m.nextSubID
	m.listeners = append(m.listeners, subscription{id: id, listener: l})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.listeners {
			if s.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// GetView returns an immutable snapshot of the position.
func (m *Manager) GetView() PositionView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view()
}

// Orders returns every order snapshot of the current position in creation
// order.
func (m *Manager) Orders() []OrderSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos.orders.all()
}

// Order returns one order snapshot.
func (m *Manager) Order(clientOrderID string) (OrderSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos.orders.get(clientOrderID)
}

// flush delivers queued events with the mutex released. A listener that
// calls back into the manager only queues more events; the outermost flush
// delivers them after the current batch, so ordering stays deterministic.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.dispatching {
		m.mu.Unlock()
		return
	}
	m.dispatching = true

	for len(m.outbox) > 0 {
		batch := m.outbox
		m.outbox = nil
		listeners := make([]subscription, len(m.listeners))
		copy(listeners, m.listeners)
		m.mu.Unlock()

		for _, ev := range batch {
			if ev.Kind == EventDiagnostic && ev.Diagnostic != nil {
				m.deps.Sink.Report(*ev.Diagnostic)
			}
			for _, s := range listeners {
				m.deliver(s.listener, ev)
			}
		}

		m.mu.Lock()
	}

	m.dispatching = false
	m.mu.Unlock()
}

func (m *Manager) deliver(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.deps.Sink.Report(Diagnostic{
				Code:       DiagListenerPanic,
				Severity:   SeverityError,
				Message:    "listener panicked",
				PositionID: ev.PositionID,
				Fields:     []any{"event", ev.Kind.String(), "panic", fmt.Sprint(r)},
				Time:       ev.Time,
			})
		}
	}()
	l.OnEvent(ev)
}

// --- emission helpers; callers hold m.mu ---

func (m *Manager) now() time.Time {
	return m.deps.Clock()
}

func (m *Manager) emit(ev Event) {
	ev.PositionID = m.pos.id
	if ev.Time.IsZero() {
		ev.Time = m.now()
	}
	m.outbox = append(m.outbox, ev)
}

func (m *Manager) emitOrder(kind EventKind, snap OrderSnapshot, reason string) {
	s := snap
	m.emit(Event{Kind: kind, Order: &s, Reason: reason, Time: snap.UpdatedAt})
}

func (m *Manager) emitPosition(kind EventKind, reason string) {
	v := m.view()
	m.emit(Event{Kind: kind, Position: &v, Reason: reason})
}

func (m *Manager) diagnose(sev Severity, code, orderID, msg string, fields ...any) {
	d := Diagnostic{
		Code:          code,
		Severity:      sev,
		Message:       msg,
		PositionID:    m.pos.id,
		ClientOrderID: orderID,
		Fields:        fields,
		Time:          m.now(),
	}
	m.emit(Event{Kind: EventDiagnostic, Diagnostic: &d, Reason: code, Time: d.Time})
}

func (m *Manager) view() PositionView {
	p := &m.pos
	v := PositionView{
		ID:              p.id,
		Symbol:          m.cfg.Instrument.Symbol,
		State:           p.state,
		Side:            types.SideFlat,
		AvgEntryPrice:   decimal.Zero,
		RealizedPnL:     p.realized,
		Fees:            p.fees,
		ClosedAt:        p.closedAt,
		SessionEnd:      p.sessionEnd,
		ArmedStopLoss:   p.armedSL,
		ArmedTakeProfit: p.armedTP,
		FlattenOrder:    p.orders.lookup(p.flattenID),
		ExitReason:      p.exitReason,
	}
	if p.held != nil {
		v.Side = p.held.side
		v.OpenQuantity = p.held.qty
		v.AvgEntryPrice = p.held.avgEntry
	}
	if p.trip != nil && len(p.trip.entryFills) > 0 {
		v.OpenedAt = p.trip.entryFills[0].Timestamp
	}
	if p.entry != nil {
		v.EntryOrder = p.orders.lookup(p.entry.orderID)
	}
	if p.exits != nil {
		v.Exits = &ExitPairView{
			GroupID:    p.exits.groupID,
			StopLoss:   p.orders.lookup(p.exits.stopID),
			TakeProfit: p.orders.lookup(p.exits.targetID),
		}
	}
	if p.lastTrade != nil {
		t := *p.lastTrade
		v.LastTrade = &t
	}
	return v
}
