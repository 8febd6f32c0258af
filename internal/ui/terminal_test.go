package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/position-engine/internal/position"
	"github.com/tathienbao/position-engine/internal/types"
)

var t0 = time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)

func bar(i int, open, high, low, last string) types.MarketEvent {
	return types.MarketEvent{
		Symbol:    "MES",
		Timestamp: t0.Add(time.Duration(i) * 5 * time.Minute),
		Open:      decimal.RequireFromString(open),
		High:      decimal.RequireFromString(high),
		Low:       decimal.RequireFromString(low),
		Close:     decimal.RequireFromString(last),
	}
}

func TestReplayView_DrawsPositionAndStats(t *testing.T) {
	var buf bytes.Buffer
	v := NewReplayView(&buf, 4, decimal.NewFromInt(10000))

	if v.width != 80 {
		t.Errorf("width = %d, want 80 for a non-terminal writer", v.width)
	}

	v.OnBar(bar(0, "5000", "5001", "4999", "5000"), position.PositionView{State: position.StateFlat})
	v.OnBar(bar(1, "5000", "5002", "4999", "5001"), position.PositionView{
		State:           position.StateOpen,
		Side:            types.SideLong,
		OpenQuantity:    1,
		AvgEntryPrice:   decimal.RequireFromString("4998.5"),
		ArmedStopLoss:   types.PriceOf(decimal.NewFromInt(4998)),
		ArmedTakeProfit: types.PriceOf(decimal.NewFromInt(5004)),
	})

	out := buf.String()
	for _, want := range []string{"[2/4]", "LONG 1 @ 4998.50", "4998.00", "5004.00", "┄"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestReplayView_CountsTrades(t *testing.T) {
	var buf bytes.Buffer
	v := NewReplayView(&buf, 10, decimal.NewFromInt(10000))

	v.OnEvent(position.Event{Kind: position.EventTradeFinalized, Trade: &position.Trade{NetPnL: decimal.RequireFromString("18.76")}})
	v.OnEvent(position.Event{Kind: position.EventTradeFinalized, Trade: &position.Trade{NetPnL: decimal.RequireFromString("-11.24")}})
	v.OnEvent(position.Event{Kind: position.EventPositionOpened})

	if v.trades != 2 || v.wins != 1 {
		t.Errorf("trades = %d wins = %d, want 2 and 1", v.trades, v.wins)
	}
	if !v.equity.Equal(decimal.RequireFromString("10007.52")) {
		t.Errorf("equity = %s, want 10007.52", v.equity)
	}

	v.Render()
	if !strings.Contains(buf.String(), "Win:\033[0m 50.0%") {
		t.Errorf("expected 50%% win rate in %q", buf.String())
	}
}

func TestPriceToY(t *testing.T) {
	min := decimal.NewFromInt(100)
	rng := decimal.NewFromInt(10)

	if y := priceToY(decimal.NewFromInt(110), min, rng, 11); y != 0 {
		t.Errorf("top price y = %d, want 0", y)
	}
	if y := priceToY(decimal.NewFromInt(100), min, rng, 11); y != 10 {
		t.Errorf("bottom price y = %d, want 10", y)
	}
	if p := yToPrice(5, min, rng, 11); !p.Equal(decimal.NewFromInt(105)) {
		t.Errorf("mid row price = %s, want 105", p)
	}
}
