package observer

import (
	"context"
	"sync"

	"github.com/tathienbao/position-engine/internal/types"
)

// MemoryFeed replays bars held in memory. Tests drive the engine with it.
type MemoryFeed struct {
	mu     sync.Mutex
	bars   []types.MarketEvent
	symbol string
}

// NewMemoryFeed creates a feed over bars. A non-empty symbol is stamped on
// every bar.
func NewMemoryFeed(bars []types.MarketEvent, symbol string) *MemoryFeed {
	f := &MemoryFeed{symbol: symbol}
	for _, b := range bars {
		f.AddEvent(b)
	}
	return f
}

// Name returns the feed identifier.
func (f *MemoryFeed) Name() string { return "memory" }

// AddEvent appends a bar. Bars added after Subscribe are not streamed.
func (f *MemoryFeed) AddEvent(bar types.MarketEvent) {
	if f.symbol != "" {
		bar.Symbol = f.symbol
	}
	f.mu.Lock()
	f.bars = append(f.bars, bar)
	f.mu.Unlock()
}

// Subscribe streams a snapshot of the bars for symbol.
func (f *MemoryFeed) Subscribe(ctx context.Context, symbol string) (<-chan types.MarketEvent, error) {
	f.mu.Lock()
	bars := append([]types.MarketEvent(nil), f.bars...)
	f.mu.Unlock()
	return stream(ctx, bars, symbol, len(bars)), nil
}

// Close is a no-op.
func (f *MemoryFeed) Close() error { return nil }

// stream sends the bars matching symbol in order and closes the channel
// when done or when ctx is cancelled.
func stream(ctx context.Context, bars []types.MarketEvent, symbol string, buffer int) <-chan types.MarketEvent {
	ch := make(chan types.MarketEvent, buffer)
	go func() {
		defer close(ch)
		for _, bar := range bars {
			if bar.Symbol != symbol {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case ch <- bar:
			}
		}
	}()
	return ch
}
