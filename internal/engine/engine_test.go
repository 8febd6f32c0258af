package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/position-engine/internal/alerting"
	"github.com/tathienbao/position-engine/internal/execution"
	"github.com/tathienbao/position-engine/internal/observer"
	"github.com/tathienbao/position-engine/internal/position"
	"github.com/tathienbao/position-engine/internal/session"
	"github.com/tathienbao/position-engine/internal/types"
)

// Monday 2024-01-15, well inside a UTC session closing at 21:00.
var t0 = time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)

type harness struct {
	engine  *Engine
	manager *position.Manager
	venue   *execution.SimulatedVenue
	alerter *alerting.MockAlerter
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Test helpers
func newHarness(t *testing.T, plan Plan) *harness {
	t.Helper()

	clock := NewMarketClock(t0)
	mgr := newManager(t, clock)

	venueCfg := execution.DefaultSimulatedConfig()
	venueCfg.SlippageTicks = 0
	venueCfg.OrdersPerSecond = 0
	venue := execution.NewSimulatedVenue(venueCfg, quietLogger())
	venue.Bind(mgr)
	mgr.Subscribe(venue)

	mockAlerter := alerting.NewMockAlerter()
	cfg := Config{Symbol: "MES", Plan: plan, FlattenOnStop: true}

	return &harness{
		engine:  NewEngine(cfg, mgr, venue, clock, mockAlerter, quietLogger()),
		manager: mgr,
		venue:   venue,
		alerter: mockAlerter,
	}
}

func newManager(t *testing.T, clock *MarketClock) *position.Manager {
	t.Helper()

	cal, err := session.NewCalendar("UTC", "21:00", 0)
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	mgr, err := position.NewManager(position.DefaultConfig(), position.Dependencies{
		Fees:     position.PerContractFee{PerSide: decimal.RequireFromString("0.62")},
		Calendar: cal,
		Clock:    clock.Now,
	}, quietLogger())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return mgr
}

func bar(at time.Time, open, high, low, last string) types.MarketEvent {
	return types.MarketEvent{
		Symbol:    "MES",
		Timestamp: at,
		Open:      decimal.RequireFromString(open),
		High:      decimal.RequireFromString(high),
		Low:       decimal.RequireFromString(low),
		Close:     decimal.RequireFromString(last),
		Volume:    1000,
	}
}

func minutes(n int) time.Time {
	return t0.Add(time.Duration(n) * time.Minute)
}

func (h *harness) feed(t *testing.T, bars ...types.MarketEvent) {
	t.Helper()
	for _, b := range bars {
		if err := h.engine.ProcessBar(b); err != nil {
			t.Fatalf("process bar %s: %v", b.Timestamp, err)
		}
	}
}

func oneLot(side types.Side) Plan {
	return Plan{
		Side:            side,
		Kind:            types.OrderKindMarket,
		Quantity:        1,
		StopLossTicks:   8,
		TakeProfitTicks: 16,
		MaxTrades:       1,
	}
}

// TestNewEngine tests engine constructor.
func TestNewEngine(t *testing.T) {
	h := newHarness(t, oneLot(types.SideLong))

	if h.engine.IsRunning() {
		t.Error("expected engine to not be running initially")
	}
	if h.engine.cfg.Symbol != "MES" {
		t.Errorf("expected symbol MES, got %s", h.engine.cfg.Symbol)
	}
	if !h.engine.GetLastEvent().Timestamp.IsZero() {
		t.Error("expected empty last event initially")
	}
}

func TestEngine_TakeProfitRoundTrip(t *testing.T) {
	h := newHarness(t, oneLot(types.SideLong))

	h.feed(t, bar(minutes(0), "5000", "5001", "4999", "5000"))

	view := h.manager.GetView()
	if view.State != position.StatePendingEntry {
		t.Fatalf("state = %s, want PENDING_ENTRY", view.State)
	}
	if !view.ArmedStopLoss.Equal(types.PriceOf(decimal.NewFromInt(4998))) ||
		!view.ArmedTakeProfit.Equal(types.PriceOf(decimal.NewFromInt(5004))) {
		t.Errorf("armed exits = %s/%s, want 4998/5004", view.ArmedStopLoss, view.ArmedTakeProfit)
	}

	h.feed(t, bar(minutes(5), "5000", "5002", "4999", "5001"))

	view = h.manager.GetView()
	if view.State != position.StateOpen || view.OpenQuantity != 1 {
		t.Fatalf("state = %s qty %d, want OPEN 1", view.State, view.OpenQuantity)
	}
	if view.Exits == nil || view.Exits.StopLoss == nil || view.Exits.TakeProfit == nil {
		t.Fatal("expected both exit legs")
	}

	h.feed(t, bar(minutes(10), "5001", "5005", "5000", "5004"))

	trades := h.engine.Trades()
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	tr := trades[0]
	if tr.ExitReason != types.ExitReasonTakeProfit {
		t.Errorf("exit reason = %s, want TAKE_PROFIT", tr.ExitReason)
	}
	if !tr.GrossPnL.Equal(decimal.NewFromInt(20)) {
		t.Errorf("gross = %s, want 20", tr.GrossPnL)
	}
	if !tr.NetPnL.Equal(decimal.RequireFromString("18.76")) {
		t.Errorf("net = %s, want 18.76", tr.NetPnL)
	}
	if !h.engine.NetPnL().Equal(tr.NetPnL) {
		t.Errorf("engine net = %s, want %s", h.engine.NetPnL(), tr.NetPnL)
	}

	// MaxTrades reached: the closed position is reset and left flat.
	if got := h.manager.GetView().State; got != position.StateFlat {
		t.Errorf("state = %s, want FLAT", got)
	}
	if working := h.venue.WorkingOrders(); len(working) != 0 {
		t.Errorf("expected no working orders, got %v", working)
	}
	if h.engine.BarsProcessed() != 3 {
		t.Errorf("bars = %d, want 3", h.engine.BarsProcessed())
	}
}

func TestEngine_StopLossShort(t *testing.T) {
	h := newHarness(t, oneLot(types.SideShort))

	h.feed(t,
		bar(minutes(0), "5000", "5001", "4999", "5000"),
		bar(minutes(5), "5000", "5001", "4999", "5000"),
		bar(minutes(10), "5001", "5003", "5000", "5002"),
	)

	trades := h.engine.Trades()
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	tr := trades[0]
	if tr.Side != types.SideShort {
		t.Errorf("side = %s, want SHORT", tr.Side)
	}
	if tr.ExitReason != types.ExitReasonStopLoss {
		t.Errorf("exit reason = %s, want STOP_LOSS", tr.ExitReason)
	}
	if !tr.AvgExitPrice.Equal(decimal.NewFromInt(5002)) {
		t.Errorf("exit price = %s, want 5002", tr.AvgExitPrice)
	}
	if !tr.NetPnL.Equal(decimal.RequireFromString("-11.24")) {
		t.Errorf("net = %s, want -11.24", tr.NetPnL)
	}
}

func TestEngine_SessionEndFlattens(t *testing.T) {
	plan := oneLot(types.SideLong)
	plan.StopLossTicks, plan.TakeProfitTicks = 40, 80
	h := newHarness(t, plan)

	end := time.Date(2024, 1, 15, 21, 0, 0, 0, time.UTC)
	h.feed(t,
		bar(end.Add(-10*time.Minute), "5000", "5001", "4999", "5000"),
		bar(end.Add(-5*time.Minute), "5000", "5002", "4999", "5001"),
	)
	if got := h.manager.GetView().State; got != position.StateOpen {
		t.Fatalf("state = %s, want OPEN", got)
	}

	h.feed(t, bar(end, "5001", "5002", "5000", "5001"))

	trades := h.engine.Trades()
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if trades[0].ExitReason != types.ExitReasonEndOfSession {
		t.Errorf("exit reason = %s, want END_OF_SESSION", trades[0].ExitReason)
	}
	if !trades[0].AvgExitPrice.Equal(decimal.NewFromInt(5001)) {
		t.Errorf("exit price = %s, want 5001", trades[0].AvgExitPrice)
	}

	// The protective legs were canceled before they could expire.
	for _, o := range h.manager.Orders() {
		if o.Status == types.OrderStatusExpired {
			t.Errorf("order %s expired, want canceled", o.Spec.ClientOrderID)
		}
	}
}

func TestEngine_LimitEntryRetriesAfterKill(t *testing.T) {
	plan := oneLot(types.SideLong)
	plan.Kind = types.OrderKindLimit
	plan.EntryOffsetTicks = 4
	plan.MaxTrades = 2
	h := newHarness(t, plan)

	h.feed(t,
		bar(minutes(0), "5000", "5001", "4999", "5000"),   // limit 4999
		bar(minutes(5), "5000", "5001", "4999.5", "5000"), // not touched, killed, resubmitted at 4999
		bar(minutes(10), "5000", "5000", "4998", "4999"),  // fills
	)

	if h.engine.entries != 2 {
		t.Errorf("entries = %d, want 2", h.engine.entries)
	}
	view := h.manager.GetView()
	if view.State != position.StateOpen {
		t.Fatalf("state = %s, want OPEN", view.State)
	}
	if !view.AvgEntryPrice.Equal(decimal.NewFromInt(4999)) {
		t.Errorf("avg entry = %s, want 4999", view.AvgEntryPrice)
	}
	if !view.ArmedStopLoss.Equal(types.PriceOf(decimal.NewFromInt(4997))) {
		t.Errorf("stop loss = %s, want 4997", view.ArmedStopLoss)
	}
}

// TestEngine_Start_Success tests a full run over a memory feed.
func TestEngine_Start_Success(t *testing.T) {
	h := newHarness(t, oneLot(types.SideLong))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := observer.NewMemoryFeed([]types.MarketEvent{
		bar(minutes(0), "5000", "5001", "4999", "5000"),
		bar(minutes(5), "5000", "5002", "4999", "5001"),
		bar(minutes(10), "5001", "5005", "5000", "5004"),
	}, "MES")

	if err := h.engine.Start(ctx, feed); err != nil {
		t.Fatalf("failed to start engine: %v", err)
	}
	if !h.engine.IsRunning() {
		t.Error("expected engine to be running")
	}

	select {
	case <-h.engine.Finished():
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not finish the feed")
	}

	if err := h.engine.Stop(ctx); err != nil {
		t.Errorf("failed to stop engine: %v", err)
	}
	if h.engine.IsRunning() {
		t.Error("expected engine to be stopped")
	}
	if len(h.engine.Trades()) != 1 {
		t.Errorf("expected 1 trade, got %d", len(h.engine.Trades()))
	}
	if !h.alerter.HasAlertContaining("started") || !h.alerter.HasAlertContaining("stopped") {
		t.Error("expected start and stop alerts")
	}
	if got := h.engine.GetLastEvent().Timestamp; !got.Equal(minutes(10)) {
		t.Errorf("last event = %s, want %s", got, minutes(10))
	}
}

// TestEngine_Start_AlreadyRunning tests double start prevention.
func TestEngine_Start_AlreadyRunning(t *testing.T) {
	h := newHarness(t, oneLot(types.SideLong))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := observer.NewMemoryFeed(nil, "MES")
	if err := h.engine.Start(ctx, feed); err != nil {
		t.Fatalf("failed to start engine: %v", err)
	}
	defer h.engine.Stop(ctx)

	if err := h.engine.Start(ctx, feed); err == nil {
		t.Error("expected error when starting already running engine")
	}
}

// TestEngine_Stop_NotRunning tests stopping non-running engine.
func TestEngine_Stop_NotRunning(t *testing.T) {
	h := newHarness(t, oneLot(types.SideLong))

	if err := h.engine.Stop(context.Background()); err != nil {
		t.Errorf("unexpected error stopping non-running engine: %v", err)
	}
}

func TestEngine_Stop_FlattensOpenPosition(t *testing.T) {
	h := newHarness(t, oneLot(types.SideLong))
	ctx := context.Background()

	feed := observer.NewMemoryFeed([]types.MarketEvent{
		bar(minutes(0), "5000", "5001", "4999", "5000"),
		bar(minutes(5), "5000", "5002", "4999", "5001"),
	}, "MES")
	if err := h.engine.Start(ctx, feed); err != nil {
		t.Fatalf("failed to start engine: %v", err)
	}
	<-h.engine.Finished()

	if err := h.engine.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	view := h.manager.GetView()
	if view.State != position.StateClosing {
		t.Fatalf("state = %s, want CLOSING", view.State)
	}
	if view.FlattenOrder == nil || view.FlattenOrder.Status != types.OrderStatusWorking {
		t.Errorf("expected a working flatten order, got %+v", view.FlattenOrder)
	}
	if view.Exits != nil {
		t.Error("expected protective legs to be canceled")
	}
}

// TestEngine_ContextCancelled tests context cancellation handling.
func TestEngine_ContextCancelled(t *testing.T) {
	h := newHarness(t, oneLot(types.SideLong))
	ctx, cancel := context.WithCancel(context.Background())

	// An unbuffered, never-closed source keeps the loop waiting.
	src := sourceFunc(func(context.Context, string) (<-chan types.MarketEvent, error) {
		return make(chan types.MarketEvent), nil
	})
	if err := h.engine.Start(ctx, src); err != nil {
		t.Fatalf("failed to start engine: %v", err)
	}

	cancel()

	select {
	case <-h.engine.Finished():
	case <-time.After(5 * time.Second):
		t.Fatal("event loop did not exit on cancellation")
	}
	if err := h.engine.Stop(context.Background()); err != nil {
		t.Errorf("stop: %v", err)
	}
}

func TestMarketClock(t *testing.T) {
	c := NewMarketClock(t0)

	c.Set(t0.Add(time.Minute))
	c.Set(t0) // never backwards

	if got := c.Now(); !got.Equal(t0.Add(time.Minute)) {
		t.Errorf("now = %s, want %s", got, t0.Add(time.Minute))
	}
}

type sourceFunc func(ctx context.Context, symbol string) (<-chan types.MarketEvent, error)

func (f sourceFunc) Subscribe(ctx context.Context, symbol string) (<-chan types.MarketEvent, error) {
	return f(ctx, symbol)
}

type recordingObserver struct {
	states []position.State
}

func (r *recordingObserver) OnBar(_ types.MarketEvent, view position.PositionView) {
	r.states = append(r.states, view.State)
}

func TestEngine_BarObserverSeesPostBarState(t *testing.T) {
	h := newHarness(t, oneLot(types.SideLong))
	obs := &recordingObserver{}
	h.engine.AddBarObserver(obs)

	h.feed(t,
		bar(minutes(0), "5000", "5001", "4999", "5000"),
		bar(minutes(5), "5000", "5002", "4999", "5001"),
	)

	want := []position.State{position.StatePendingEntry, position.StateOpen}
	if len(obs.states) != len(want) {
		t.Fatalf("observer saw %d bars, want %d", len(obs.states), len(want))
	}
	for i, s := range want {
		if obs.states[i] != s {
			t.Errorf("bar %d state = %s, want %s", i, obs.states[i], s)
		}
	}
}
