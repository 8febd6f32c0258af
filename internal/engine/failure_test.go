package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/tathienbao/position-engine/internal/position"
	"github.com/tathienbao/position-engine/internal/types"
)

var errFeedDown = errors.New("feed down")

// rejectingVenue refuses every order it is sent.
type rejectingVenue struct {
	manager  *position.Manager
	rejected int
}

func (v *rejectingVenue) OnEvent(ev position.Event) {
	if ev.Kind == position.EventOrderSubmitted {
		v.rejected++
		v.manager.OnOrderRejected(ev.Order.Spec.ClientOrderID, "no liquidity")
	}
}

func (v *rejectingVenue) UpdateMarket(types.MarketEvent) {}

func TestEngine_Failure_SourceError(t *testing.T) {
	h := newHarness(t, oneLot(types.SideLong))

	src := sourceFunc(func(context.Context, string) (<-chan types.MarketEvent, error) {
		return nil, errFeedDown
	})

	err := h.engine.Start(context.Background(), src)
	if !errors.Is(err, errFeedDown) {
		t.Fatalf("expected feed error, got %v", err)
	}
	if h.engine.IsRunning() {
		t.Error("engine must not be running after a failed start")
	}
}

func TestEngine_Failure_EntryRejected(t *testing.T) {
	clock := NewMarketClock(t0)
	mgr := newManager(t, clock)
	venue := &rejectingVenue{manager: mgr}
	mgr.Subscribe(venue)

	plan := oneLot(types.SideLong)
	plan.MaxTrades = 0
	eng := NewEngine(Config{Symbol: "MES", Plan: plan}, mgr, venue, clock, nil, quietLogger())

	for _, b := range []types.MarketEvent{
		bar(minutes(0), "5000", "5001", "4999", "5000"),
		bar(minutes(5), "5000", "5001", "4999", "5000"),
	} {
		// The rejection lands before exits are armed; that is not an error.
		if err := eng.ProcessBar(b); err != nil {
			t.Fatalf("process bar: %v", err)
		}
	}

	if venue.rejected != 2 {
		t.Errorf("rejected = %d, want 2", venue.rejected)
	}
	if got := mgr.GetView().State; got != position.StateFlat {
		t.Errorf("state = %s, want FLAT", got)
	}
	if len(eng.Trades()) != 0 {
		t.Error("expected no trades")
	}
}

func TestEngine_Failure_InvalidPlanQuantity(t *testing.T) {
	plan := oneLot(types.SideLong)
	plan.Quantity = 0
	h := newHarness(t, plan)

	h.feed(t, bar(minutes(0), "5000", "5001", "4999", "5000"))

	if got := h.manager.GetView().State; got != position.StateFlat {
		t.Errorf("disabled plan must not trade, state = %s", got)
	}
}
