// Package observer handles market data feeds and bar sanitizing.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tathienbao/position-engine/internal/types"
)

// MarketDataFeed defines the interface for market data sources.
type MarketDataFeed interface {
	// Subscribe starts receiving bars for a symbol. The channel is closed
	// when the context is cancelled or the feed ends.
	Subscribe(ctx context.Context, symbol string) (<-chan types.MarketEvent, error)

	// Close shuts down the feed and releases resources.
	Close() error

	// Name returns the feed identifier (e.g., "csv", "memory").
	Name() string
}

// BarChecker validates and normalizes bars before they reach the engine.
type BarChecker interface {
	Check(bar types.MarketEvent) (types.MarketEvent, error)
	Reset()
}

// Sanitizer rejects malformed or out-of-order bars and rounds prices to the
// instrument tick.
type Sanitizer struct {
	Instrument types.InstrumentSpec
	last       time.Time
}

// NewSanitizer creates a sanitizer for one instrument.
func NewSanitizer(spec types.InstrumentSpec) *Sanitizer {
	return &Sanitizer{Instrument: spec}
}

// Check implements BarChecker.
func (s *Sanitizer) Check(bar types.MarketEvent) (types.MarketEvent, error) {
	if bar.Timestamp.IsZero() {
		return bar, fmt.Errorf("%w: missing timestamp", types.ErrInvalidData)
	}
	if !s.last.IsZero() && !bar.Timestamp.After(s.last) {
		return bar, fmt.Errorf("%w: bar at %s not after %s", types.ErrInvalidData, bar.Timestamp, s.last)
	}
	if !bar.Open.IsPositive() || !bar.High.IsPositive() || !bar.Low.IsPositive() || !bar.Close.IsPositive() {
		return bar, fmt.Errorf("%w: non-positive price", types.ErrInvalidData)
	}
	if bar.High.LessThan(bar.Low) ||
		bar.Open.GreaterThan(bar.High) || bar.Open.LessThan(bar.Low) ||
		bar.Close.GreaterThan(bar.High) || bar.Close.LessThan(bar.Low) {
		return bar, fmt.Errorf("%w: inconsistent OHLC %s/%s/%s/%s", types.ErrInvalidData, bar.Open, bar.High, bar.Low, bar.Close)
	}

	if s.Instrument.TickSize.IsPositive() {
		bar.Open = s.Instrument.RoundToTick(bar.Open)
		bar.High = s.Instrument.RoundToTick(bar.High)
		bar.Low = s.Instrument.RoundToTick(bar.Low)
		bar.Close = s.Instrument.RoundToTick(bar.Close)
	}
	s.last = bar.Timestamp
	return bar, nil
}

// Reset forgets the last accepted timestamp.
func (s *Sanitizer) Reset() {
	s.last = time.Time{}
}

// Observer combines a data feed with bar checks. Bars failing the check are
// dropped and logged.
type Observer struct {
	feed    MarketDataFeed
	checker BarChecker
	logger  *slog.Logger
	dropped atomic.Int64
}

// NewObserver creates a new observer with the given feed and checker.
func NewObserver(feed MarketDataFeed, checker BarChecker, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{
		feed:    feed,
		checker: checker,
		logger:  logger.With("component", "observer", "feed", feed.Name()),
	}
}

// Subscribe starts observing market data for a symbol.
func (o *Observer) Subscribe(ctx context.Context, symbol string) (<-chan types.MarketEvent, error) {
	rawEvents, err := o.feed.Subscribe(ctx, symbol)
	if err != nil {
		return nil, err
	}

	checked := make(chan types.MarketEvent, 100)

	go func() {
		defer close(checked)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-rawEvents:
				if !ok {
					return
				}
				bar, err := o.checker.Check(event)
				if err != nil {
					o.dropped.Add(1)
					o.logger.Warn("bar dropped", "ts", event.Timestamp, "err", err)
					continue
				}
				select {
				case checked <- bar:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return checked, nil
}

// Dropped returns how many bars failed the check.
func (o *Observer) Dropped() int64 {
	return o.dropped.Load()
}

// Close shuts down the observer.
func (o *Observer) Close() error {
	return o.feed.Close()
}

// Reset resets the checker state.
func (o *Observer) Reset() {
	o.checker.Reset()
}
