// Package engine drives a position manager from a bar feed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/position-engine/internal/alerting"
	"github.com/tathienbao/position-engine/internal/metrics"
	"github.com/tathienbao/position-engine/internal/position"
	"github.com/tathienbao/position-engine/internal/risk"
	"github.com/tathienbao/position-engine/internal/types"
)

// Config holds engine configuration.
type Config struct {
	Symbol string
	Plan   Plan
	// StartEquity is the account size risk-based plans are sized from.
	// Finalized trades move it.
	StartEquity decimal.Decimal
	// FlattenOnStop sends a market exit for any open quantity when the
	// engine stops.
	FlattenOnStop bool
}

// DefaultConfig returns default engine config.
func DefaultConfig() Config {
	return Config{
		Symbol:        "MES",
		Plan:          DefaultPlan(),
		FlattenOnStop: true,
	}
}

// Source delivers bars for a symbol.
type Source interface {
	Subscribe(ctx context.Context, symbol string) (<-chan types.MarketEvent, error)
}

// Venue works booked orders against each bar.
type Venue interface {
	UpdateMarket(bar types.MarketEvent)
}

// BarObserver is told about each processed bar and the position it left.
type BarObserver interface {
	OnBar(bar types.MarketEvent, view position.PositionView)
}

// MarketClock is the time source of a replay: the timestamp of the bar
// being processed.
type MarketClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewMarketClock creates a clock set to start.
func NewMarketClock(start time.Time) *MarketClock {
	return &MarketClock{now: start}
}

// Now returns the current market time.
func (c *MarketClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Set moves the clock. Time never runs backwards.
func (c *MarketClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

// Engine feeds bars to one position manager and its venue, and runs the
// entry plan between bars.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	manager  *position.Manager
	venue    Venue
	clock    *MarketClock
	alerter  alerting.Alerter
	recorder *metrics.Recorder
	sizer    *risk.PositionSizer

	observers   []BarObserver
	unsubscribe func()

	// State
	mu        sync.RWMutex
	running   bool
	lastEvent types.MarketEvent
	bars      int64
	entries   int
	trades    []position.Trade

	// Channels
	done     chan struct{}
	finished chan struct{}
	wg       sync.WaitGroup
}

// NewEngine creates a new engine. The manager's clock should read clock.
func NewEngine(
	cfg Config,
	manager *position.Manager,
	venue Venue,
	clock *MarketClock,
	alerter alerting.Alerter,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = NewMarketClock(time.Time{})
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger.With("component", "engine"),
		manager:  manager,
		venue:    venue,
		clock:    clock,
		alerter:  alerter,
		recorder: metrics.NewRecorder(),
		sizer:    risk.NewPositionSizer(manager.Config().Instrument),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	e.unsubscribe = manager.Subscribe(e)
	return e
}

// AddBarObserver registers o. Call before Start.
func (e *Engine) AddBarObserver(o BarObserver) {
	e.observers = append(e.observers, o)
}

// Start subscribes to the source and starts the event loop.
func (e *Engine) Start(ctx context.Context, src Source) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.mu.Unlock()

	e.logger.Info("starting position engine",
		"symbol", e.cfg.Symbol,
		"plan", e.cfg.Plan.String(),
	)

	bars, err := src.Subscribe(ctx, e.cfg.Symbol)
	if err != nil {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return fmt.Errorf("subscribe market data: %w", err)
	}

	e.wg.Add(1)
	go e.eventLoop(ctx, bars)

	if e.alerter != nil {
		if err := e.alerter.Alert(ctx, alerting.SeverityInfo, "Position engine started",
			"symbol", e.cfg.Symbol,
			"plan", e.cfg.Plan.String(),
		); err != nil {
			e.logger.Warn("failed to send start alert", "err", err)
		}
	}

	return nil
}

// eventLoop processes bars until the feed ends or the engine stops.
func (e *Engine) eventLoop(ctx context.Context, bars <-chan types.MarketEvent) {
	defer e.wg.Done()
	defer close(e.finished)

	e.logger.Info("event loop started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("event loop stopped: context cancelled")
			return
		case <-e.done:
			e.logger.Info("event loop stopped: shutdown requested")
			return
		case bar, ok := <-bars:
			if !ok {
				e.logger.Info("market data exhausted", "bars", e.BarsProcessed())
				return
			}

			if err := e.ProcessBar(bar); err != nil {
				e.logger.Error("failed to process bar", "ts", bar.Timestamp, "err", err)
				e.recorder.RecordError("process_bar")
			}
		}
	}
}

// Finished is closed when the event loop has exited.
func (e *Engine) Finished() <-chan struct{} {
	return e.finished
}

// ProcessBar advances the market clock to the bar, applies session-end
// handling, lets the venue work orders and then runs the plan.
func (e *Engine) ProcessBar(bar types.MarketEvent) error {
	started := time.Now()

	e.mu.Lock()
	e.lastEvent = bar
	e.bars++
	e.mu.Unlock()

	e.clock.Set(bar.Timestamp)
	e.manager.OnClock(bar.Timestamp)
	if e.venue != nil {
		e.venue.UpdateMarket(bar)
	}

	e.recorder.RecordBar(e.cfg.Symbol)
	e.recorder.RecordMarketTime(bar.Timestamp)

	err := e.runPlan(bar)

	view := e.manager.GetView()
	for _, o := range e.observers {
		o.OnBar(bar, view)
	}

	elapsed := time.Since(started)
	e.recorder.RecordBarLatency(e.cfg.Symbol, elapsed)
	e.logger.Debug("bar processed",
		"ts", bar.Timestamp,
		"close", bar.Close.String(),
		"state", view.State.String(),
		"elapsed", elapsed,
	)
	return err
}

// runPlan submits the scripted entry while Flat and resets a Closed
// position so the next entry can follow.
func (e *Engine) runPlan(bar types.MarketEvent) error {
	plan := e.cfg.Plan
	if !plan.Enabled() {
		return nil
	}

	view := e.manager.GetView()
	if view.State == position.StateClosed {
		if err := e.manager.Reset(); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		view = e.manager.GetView()
	}
	if view.State != position.StateFlat {
		return nil
	}

	equity := e.cfg.StartEquity.Add(e.NetPnL())
	qty := plan.Size(e.sizer, equity)
	if qty < max(e.manager.Config().MinQuantity, 1) {
		e.logger.Debug("equity too small for an entry", "equity", equity.String(), "quantity", qty)
		return nil
	}

	e.mu.Lock()
	if plan.MaxTrades > 0 && e.entries >= plan.MaxTrades {
		e.mu.Unlock()
		return nil
	}
	e.entries++
	e.mu.Unlock()

	spec := e.manager.Config().Instrument
	order := plan.Entry(spec, bar.Close)
	id, err := e.manager.SubmitEntry(order.Kind, plan.Side, qty, order.Limit, order.Stop)
	if err != nil {
		return fmt.Errorf("submit entry: %w", err)
	}

	sl, tp := plan.Exits(spec, order.Reference)
	if !sl.IsSet() && !tp.IsSet() {
		return nil
	}
	if err := e.manager.ArmExits(sl, tp); err != nil {
		// The venue can refuse the entry before exits are armed.
		if errors.Is(err, types.ErrInvalidState) {
			e.logger.Info("entry ended before exits were armed", "order_id", id)
			return nil
		}
		return fmt.Errorf("arm exits: %w", err)
	}
	return nil
}

// OnEvent implements position.Listener.
func (e *Engine) OnEvent(ev position.Event) {
	if ev.Kind != position.EventTradeFinalized || ev.Trade == nil {
		return
	}

	e.mu.Lock()
	e.trades = append(e.trades, *ev.Trade)
	e.mu.Unlock()

	e.logger.Info("trade finalized",
		"trade_id", ev.Trade.ID,
		"side", ev.Trade.Side.String(),
		"quantity", ev.Trade.Quantity,
		"net_pnl", ev.Trade.NetPnL.StringFixed(2),
		"exit_reason", ev.Trade.ExitReason.String(),
	)
}

// Stop stops the engine. With FlattenOnStop an open position is sent a
// market exit.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	e.logger.Info("stopping position engine")

	close(e.done)
	e.wg.Wait()

	view := e.manager.GetView()
	if e.cfg.FlattenOnStop && view.State.HasExposure() && view.State != position.StateClosing {
		e.logger.Warn("flattening open position on shutdown",
			"position_id", view.ID,
			"quantity", view.OpenQuantity,
		)
		if err := e.manager.GoFlat(); err != nil {
			e.logger.Error("failed to flatten on shutdown", "err", err)
		}
	}
	if view.State == position.StatePendingEntry {
		if err := e.manager.CancelEntry(); err != nil {
			e.logger.Warn("failed to cancel entry on shutdown", "err", err)
		}
	}

	if e.alerter != nil {
		if err := e.alerter.Alert(ctx, alerting.SeverityInfo, "Position engine stopped",
			"bars", e.BarsProcessed(),
			"trades", len(e.Trades()),
		); err != nil {
			e.logger.Warn("failed to send stop alert", "err", err)
		}
	}

	e.unsubscribe()
	e.logger.Info("position engine stopped")
	return nil
}

// IsRunning returns true if engine is running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// GetLastEvent returns the last processed bar.
func (e *Engine) GetLastEvent() types.MarketEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastEvent
}

// BarsProcessed returns the number of bars seen.
func (e *Engine) BarsProcessed() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bars
}

// Trades returns the finalized trades in order.
func (e *Engine) Trades() []position.Trade {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]position.Trade, len(e.trades))
	copy(out, e.trades)
	return out
}

// NetPnL sums the net P&L of all finalized trades.
func (e *Engine) NetPnL() decimal.Decimal {
	total := decimal.Zero
	for _, t := range e.Trades() {
		total = total.Add(t.NetPnL)
	}
	return total
}
