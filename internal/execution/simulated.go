package execution

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/position-engine/internal/position"
	"github.com/tathienbao/position-engine/internal/types"
	"golang.org/x/time/rate"
)

// SimulatedConfig holds configuration for the simulated venue.
type SimulatedConfig struct {
	Instrument    types.InstrumentSpec
	SlippageTicks int // adverse slippage on market and stop fills
	// OrdersPerSecond throttles order submission in market time. Orders over
	// the limit are rejected. Zero disables throttling.
	OrdersPerSecond int
	Burst           int
	// MaxFillQuantity splits fills of non fill-or-kill orders into chunks,
	// one chunk per bar. Zero fills the whole remainder at once.
	MaxFillQuantity int64
}

// DefaultSimulatedConfig returns sensible defaults.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		Instrument:      types.InstrumentMES,
		SlippageTicks:   1,
		OrdersPerSecond: 10,
		Burst:           10,
	}
}

type bookedOrder struct {
	spec      position.OrderSpec
	venueID   string
	filled    int64
	triggered bool
	evaluated bool
}

// SimulatedVenue books orders from manager notifications and fills them
// against bars. Callbacks run without the venue lock held, one order at a
// time, so OCO cancellations triggered by a fill land before the sibling is
// evaluated.
type SimulatedVenue struct {
	cfg     SimulatedConfig
	logger  *slog.Logger
	limiter *rate.Limiter

	mu         sync.Mutex
	callbacks  Callbacks
	book       map[string]*bookedOrder
	queue      []string // booking order
	executions []Execution
	seq        int64
	now        time.Time
}

// NewSimulatedVenue creates a simulated venue.
func NewSimulatedVenue(cfg SimulatedConfig, logger *slog.Logger) *SimulatedVenue {
	if logger == nil {
		logger = slog.Default()
	}
	v := &SimulatedVenue{
		cfg:    cfg,
		logger: logger.With("component", "venue"),
		book:   make(map[string]*bookedOrder),
	}
	if cfg.OrdersPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.OrdersPerSecond
		}
		v.limiter = rate.NewLimiter(rate.Limit(cfg.OrdersPerSecond), burst)
	}
	return v
}

// Bind sets where order updates are reported.
func (s *SimulatedVenue) Bind(cb Callbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = cb
}

// OnEvent implements position.Listener.
func (s *SimulatedVenue) OnEvent(ev position.Event) {
	switch ev.Kind {
	case position.EventOrderSubmitted:
		s.run(s.place(*ev.Order))
	case position.EventCancelRequested:
		s.run(s.cancel(ev.Order.Spec.ClientOrderID, ev.Reason))
	}
}

func (s *SimulatedVenue) place(snap position.OrderSnapshot) []func(Callbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec := snap.Spec
	id := spec.ClientOrderID
	if _, exists := s.book[id]; exists {
		return []func(Callbacks){func(cb Callbacks) {
			cb.OnOrderRejected(id, types.ErrDuplicateOrder.Error())
		}}
	}

	at := spec.CreatedAt
	if at.IsZero() {
		at = s.now
	}
	if s.limiter != nil && !s.limiter.AllowN(at, 1) {
		s.logger.Warn("order throttled", "order_id", id)
		return []func(Callbacks){func(cb Callbacks) {
			cb.OnOrderRejected(id, types.ErrRateLimitExceeded.Error())
		}}
	}

	s.seq++
	venueID := fmt.Sprintf("SIM-%d", s.seq)
	s.book[id] = &bookedOrder{spec: spec, venueID: venueID}
	s.queue = append(s.queue, id)

	s.logger.Debug("order booked",
		"order_id", id,
		"venue_id", venueID,
		"role", spec.Role.String(),
		"kind", spec.Kind.String(),
		"side", spec.Side.String(),
		"quantity", spec.Quantity,
	)

	return []func(Callbacks){
		func(cb Callbacks) { cb.OnOrderAccepted(id, venueID) },
		func(cb Callbacks) { cb.OnOrderWorking(id) },
	}
}

func (s *SimulatedVenue) cancel(id, reason string) []func(Callbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.book[id]; !ok {
		return nil
	}
	s.remove(id)
	if reason == "" {
		reason = "canceled"
	}
	return []func(Callbacks){func(cb Callbacks) { cb.OnOrderCanceled(id, reason) }}
}

func (s *SimulatedVenue) run(actions []func(Callbacks)) {
	if len(actions) == 0 {
		return
	}
	s.mu.Lock()
	cb := s.callbacks
	s.mu.Unlock()
	if cb == nil {
		return
	}
	for _, a := range actions {
		a(cb)
	}
}

// UpdateMarket works every booked order against the bar.
func (s *SimulatedVenue) UpdateMarket(bar types.MarketEvent) {
	s.mu.Lock()
	s.now = bar.Timestamp
	ids := make([]string, len(s.queue))
	copy(ids, s.queue)
	s.mu.Unlock()

	for _, id := range ids {
		s.run(s.evaluate(id, bar))
	}
}

func (s *SimulatedVenue) evaluate(id string, bar types.MarketEvent) []func(Callbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.book[id]
	if !ok {
		return nil
	}
	spec := o.spec
	first := !o.evaluated
	o.evaluated = true

	if spec.TimeInForce == types.TIFGTD && !spec.GoodTill.IsZero() && !bar.Timestamp.Before(spec.GoodTill) {
		s.remove(id)
		return []func(Callbacks){func(cb Callbacks) { cb.OnOrderExpired(id, "good-till time reached") }}
	}

	price, ok := s.fillPrice(o, bar)
	if !ok {
		if spec.TimeInForce == types.TIFFOK && first {
			s.remove(id)
			return []func(Callbacks){func(cb Callbacks) { cb.OnOrderCanceled(id, "fill-or-kill not filled") }}
		}
		return nil
	}

	remaining := spec.Quantity - o.filled
	qty := remaining
	if s.cfg.MaxFillQuantity > 0 && spec.TimeInForce != types.TIFFOK && qty > s.cfg.MaxFillQuantity {
		qty = s.cfg.MaxFillQuantity
	}
	o.filled += qty
	final := o.filled >= spec.Quantity
	if final {
		s.remove(id)
	}

	s.seq++
	fillID := fmt.Sprintf("SIMF-%d", s.seq)
	price = s.cfg.Instrument.RoundToTick(price)
	ts := bar.Timestamp
	s.executions = append(s.executions, Execution{
		ClientOrderID: id,
		VenueOrderID:  o.venueID,
		FillID:        fillID,
		Role:          spec.Role,
		Price:         price,
		Quantity:      qty,
		Final:         final,
		Time:          ts,
	})

	if final {
		return []func(Callbacks){func(cb Callbacks) { cb.OnOrderFilled(id, fillID, price, qty, ts) }}
	}
	return []func(Callbacks){func(cb Callbacks) { cb.OnOrderPartiallyFilled(id, fillID, price, qty, ts) }}
}

// fillPrice decides whether the order trades on this bar and at what price.
func (s *SimulatedVenue) fillPrice(o *bookedOrder, bar types.MarketEvent) (decimal.Decimal, bool) {
	spec := o.spec
	buy := spec.Side == types.SideLong
	slip := s.cfg.Instrument.TickOffset(s.cfg.SlippageTicks)

	switch spec.Kind {
	case types.OrderKindMarket:
		return adverse(bar.Open, slip, buy), true

	case types.OrderKindLimit:
		return limitFill(spec.LimitPrice.Value(), bar, buy)

	case types.OrderKindStop:
		stop := spec.StopPrice.Value()
		if !stopTouched(stop, bar, buy) {
			return decimal.Zero, false
		}
		return adverse(gapPrice(stop, bar.Open, buy), slip, buy), true

	case types.OrderKindStopLimit:
		stop := spec.StopPrice.Value()
		if !o.triggered {
			if !stopTouched(stop, bar, buy) {
				return decimal.Zero, false
			}
			o.triggered = true
		}
		limit := spec.LimitPrice.Value()
		p, ok := limitFill(limit, bar, buy)
		if !ok {
			return decimal.Zero, false
		}
		// Once triggered the order trades no better than the stop.
		if buy {
			return decimal.Min(limit, decimal.Max(p, stop)), true
		}
		return decimal.Max(limit, decimal.Min(p, stop)), true
	}
	return decimal.Zero, false
}

func adverse(p, slip decimal.Decimal, buy bool) decimal.Decimal {
	if buy {
		return p.Add(slip) // Buy higher
	}
	return p.Sub(slip) // Sell lower
}

func stopTouched(stop decimal.Decimal, bar types.MarketEvent, buy bool) bool {
	if buy {
		return bar.High.GreaterThanOrEqual(stop)
	}
	return bar.Low.LessThanOrEqual(stop)
}

// gapPrice is the stop, or the open when the bar gapped through it.
func gapPrice(stop, open decimal.Decimal, buy bool) decimal.Decimal {
	if buy {
		return decimal.Max(stop, open)
	}
	return decimal.Min(stop, open)
}

func limitFill(limit decimal.Decimal, bar types.MarketEvent, buy bool) (decimal.Decimal, bool) {
	if buy {
		if bar.Low.GreaterThan(limit) {
			return decimal.Zero, false
		}
		return decimal.Min(limit, bar.Open), true
	}
	if bar.High.LessThan(limit) {
		return decimal.Zero, false
	}
	return decimal.Max(limit, bar.Open), true
}

// remove drops an order from the book. Caller holds s.mu.
func (s *SimulatedVenue) remove(id string) {
	delete(s.book, id)
	for i, q := range s.queue {
		if q == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
}

// WorkingOrders returns the client ids of booked orders in booking order.
func (s *SimulatedVenue) WorkingOrders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.queue))
	copy(out, s.queue)
	return out
}

// Executions returns every fill produced so far.
func (s *SimulatedVenue) Executions() []Execution {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Execution, len(s.executions))
	copy(out, s.executions)
	return out
}

// Reset clears all state.
func (s *SimulatedVenue) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.book = make(map[string]*bookedOrder)
	s.queue = nil
	s.executions = nil
}
