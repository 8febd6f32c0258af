package observer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/position-engine/internal/types"
)

// mockFeed implements MarketDataFeed for testing.
type mockFeed struct {
	events []types.MarketEvent
	closed bool
}

func newMockFeed(events []types.MarketEvent) *mockFeed {
	return &mockFeed{events: events}
}

func (m *mockFeed) Subscribe(ctx context.Context, symbol string) (<-chan types.MarketEvent, error) {
	ch := make(chan types.MarketEvent, len(m.events))
	go func() {
		defer close(ch)
		for _, event := range m.events {
			if event.Symbol != symbol {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case ch <- event:
			}
		}
	}()
	return ch, nil
}

func (m *mockFeed) Close() error {
	m.closed = true
	return nil
}

func (m *mockFeed) Name() string {
	return "mock"
}

var barStart = time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)

func bar(i int, open, high, low, close string) types.MarketEvent {
	return types.MarketEvent{
		Symbol:    "MES",
		Timestamp: barStart.Add(time.Duration(i) * 5 * time.Minute),
		Open:      decimal.RequireFromString(open),
		High:      decimal.RequireFromString(high),
		Low:       decimal.RequireFromString(low),
		Close:     decimal.RequireFromString(close),
		Volume:    1000,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collect(t *testing.T, ch <-chan types.MarketEvent) []types.MarketEvent {
	t.Helper()
	var out []types.MarketEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out waiting for feed to close")
			return out
		}
	}
}

func TestSanitizer_Check(t *testing.T) {
	tests := []struct {
		name    string
		bar     types.MarketEvent
		wantErr bool
	}{
		{"valid", bar(0, "5000", "5010", "4990", "5005"), false},
		{"high below low", bar(0, "5000", "4980", "4990", "4985"), true},
		{"open above high", bar(0, "5020", "5010", "4990", "5005"), true},
		{"close below low", bar(0, "5000", "5010", "4990", "4980"), true},
		{"zero price", bar(0, "0", "5010", "0", "5005"), true},
		{"missing timestamp", types.MarketEvent{Open: decimal.NewFromInt(1), High: decimal.NewFromInt(1), Low: decimal.NewFromInt(1), Close: decimal.NewFromInt(1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSanitizer(types.InstrumentMES)
			_, err := s.Check(tt.bar)
			if tt.wantErr {
				if !errors.Is(err, types.ErrInvalidData) {
					t.Errorf("expected ErrInvalidData, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestSanitizer_RoundsToTick(t *testing.T) {
	s := NewSanitizer(types.InstrumentMES)

	got, err := s.Check(bar(0, "5000.10", "5010.40", "4990.13", "5005.88"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"5000", "5010.5", "4990.25", "5006"}
	for i, p := range []decimal.Decimal{got.Open, got.High, got.Low, got.Close} {
		if !p.Equal(decimal.RequireFromString(want[i])) {
			t.Errorf("price %d = %s, want %s", i, p, want[i])
		}
	}
}

func TestSanitizer_OutOfOrder(t *testing.T) {
	s := NewSanitizer(types.InstrumentMES)

	if _, err := s.Check(bar(1, "5000", "5010", "4990", "5005")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Check(bar(1, "5000", "5010", "4990", "5005")); err == nil {
		t.Error("expected duplicate timestamp to fail")
	}
	if _, err := s.Check(bar(0, "5000", "5010", "4990", "5005")); err == nil {
		t.Error("expected earlier timestamp to fail")
	}

	s.Reset()
	if _, err := s.Check(bar(0, "5000", "5010", "4990", "5005")); err != nil {
		t.Errorf("expected reset to accept earlier bar: %v", err)
	}
}

func TestObserver_Subscribe(t *testing.T) {
	events := []types.MarketEvent{
		bar(0, "5000", "5010", "4990", "5005"),
		bar(1, "5005", "5015", "5000", "5010"),
		bar(1, "5010", "5012", "5008", "5011"), // duplicate timestamp
		bar(2, "5010", "5000", "5020", "5010"), // high below low
		bar(3, "5010", "5020", "5005", "5015"),
	}

	feed := newMockFeed(events)
	obs := NewObserver(feed, NewSanitizer(types.InstrumentMES), quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := obs.Subscribe(ctx, "MES")
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	got := collect(t, ch)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if obs.Dropped() != 2 {
		t.Errorf("expected 2 dropped bars, got %d", obs.Dropped())
	}
	if !got[2].Timestamp.Equal(events[4].Timestamp) {
		t.Errorf("last bar = %s, want %s", got[2].Timestamp, events[4].Timestamp)
	}
}

func TestObserver_Subscribe_ContextCancelled(t *testing.T) {
	events := make([]types.MarketEvent, 100)
	for i := range events {
		events[i] = bar(i, "5000", "5010", "4990", "5005")
	}

	obs := NewObserver(newMockFeed(events), NewSanitizer(types.InstrumentMES), quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := obs.Subscribe(ctx, "MES")
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	received := 0
	for range ch {
		received++
		if received >= 5 {
			cancel()
			break
		}
	}

	// Drain remaining events
	for range ch {
	}

	if received < 5 {
		t.Errorf("expected at least 5 events, got %d", received)
	}
}

func TestObserver_CloseAndReset(t *testing.T) {
	feed := newMockFeed(nil)
	s := NewSanitizer(types.InstrumentMES)
	obs := NewObserver(feed, s, quietLogger())

	if _, err := s.Check(bar(5, "5000", "5010", "4990", "5005")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obs.Reset()
	if !s.last.IsZero() {
		t.Error("expected sanitizer to be reset")
	}

	if err := obs.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !feed.closed {
		t.Error("expected feed to be closed")
	}
}

func TestMemoryFeed_Subscribe(t *testing.T) {
	events := []types.MarketEvent{
		bar(0, "5000", "5010", "4990", "5005"),
		bar(1, "5005", "5015", "5000", "5010"),
	}
	events[1].Symbol = "OTHER"

	feed := NewMemoryFeed(events, "MES")
	feed.AddEvent(bar(2, "5010", "5020", "5005", "5015"))

	ch, err := feed.Subscribe(context.Background(), "MES")
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	got := collect(t, ch)
	if len(got) != 3 {
		t.Fatalf("expected fixed symbol to stamp all 3 events, got %d", len(got))
	}
	for _, ev := range got {
		if ev.Symbol != "MES" {
			t.Errorf("symbol = %s, want MES", ev.Symbol)
		}
	}

	if feed.Name() != "memory" {
		t.Errorf("expected name 'memory', got '%s'", feed.Name())
	}
}

func TestMemoryFeed_FiltersSymbol(t *testing.T) {
	events := []types.MarketEvent{
		bar(0, "5000", "5010", "4990", "5005"),
		bar(1, "5005", "5015", "5000", "5010"),
	}
	events[1].Symbol = "MGC"

	ch, err := NewMemoryFeed(events, "").Subscribe(context.Background(), "MGC")
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	got := collect(t, ch)
	if len(got) != 1 || got[0].Symbol != "MGC" {
		t.Errorf("expected only the MGC bar, got %+v", got)
	}
}
