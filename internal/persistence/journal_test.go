package persistence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/position-engine/internal/position"
	"github.com/tathienbao/position-engine/internal/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJournal_RoundTrip(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := t0
	clock := func() time.Time { return now }

	mgr, err := position.NewManager(position.DefaultConfig(), position.Dependencies{Clock: clock}, quietLogger())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	journal := NewJournal(repo, quietLogger())
	mgr.Subscribe(journal)

	entryID, err := mgr.SubmitEntry(types.OrderKindMarket, types.SideLong, 2, types.NoPrice(), types.NoPrice())
	if err != nil {
		t.Fatalf("submit entry: %v", err)
	}
	positionID := mgr.GetView().ID

	if err := mgr.ArmExits(types.PriceOf(decimal.NewFromInt(4990)), types.PriceOf(decimal.NewFromInt(5010))); err != nil {
		t.Fatalf("arm exits: %v", err)
	}

	mgr.OnOrderAccepted(entryID, "v-1")
	now = t0.Add(time.Second)
	mgr.OnOrderFilled(entryID, "f-1", decimal.NewFromInt(5000), 2, now)

	view := mgr.GetView()
	if view.Exits == nil || view.Exits.StopLoss == nil || view.Exits.TakeProfit == nil {
		t.Fatalf("expected armed exit pair, got %+v", view.Exits)
	}
	stopID := view.Exits.StopLoss.Spec.ClientOrderID
	targetID := view.Exits.TakeProfit.Spec.ClientOrderID

	now = t0.Add(time.Minute)
	mgr.OnOrderFilled(targetID, "f-2", decimal.NewFromInt(5010), 2, now)
	mgr.OnOrderCanceled(stopID, "oco")

	if journal.Errors() != 0 {
		t.Fatalf("journal errors = %d", journal.Errors())
	}
	if journal.Writes() == 0 {
		t.Fatal("journal wrote nothing")
	}

	orders, err := repo.GetOrdersByPosition(ctx, positionID)
	if err != nil {
		t.Fatalf("get orders: %v", err)
	}
	if len(orders) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(orders))
	}
	statuses := map[string]types.OrderStatus{}
	for _, o := range orders {
		statuses[o.ClientOrderID] = o.Status
	}
	if statuses[entryID] != types.OrderStatusFilled {
		t.Errorf("entry status = %v", statuses[entryID])
	}
	if statuses[targetID] != types.OrderStatusFilled {
		t.Errorf("target status = %v", statuses[targetID])
	}
	if statuses[stopID] != types.OrderStatusCanceled {
		t.Errorf("stop status = %v", statuses[stopID])
	}

	fills, err := repo.GetFills(ctx, positionID)
	if err != nil {
		t.Fatalf("get fills: %v", err)
	}
	if len(fills) != 2 {
		t.Errorf("expected 2 fills, got %d", len(fills))
	}

	pos, err := repo.GetPosition(ctx, positionID)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos == nil || pos.State != position.StateClosed {
		t.Fatalf("expected closed position, got %+v", pos)
	}

	trades, err := repo.GetTradesBySymbol(ctx, "MES", 10)
	if err != nil {
		t.Fatalf("get trades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	// 10 points * $5 * 2 contracts, no fees configured
	if !trades[0].RealizedPnL.Equal(decimal.NewFromInt(100)) {
		t.Errorf("realized = %s, want 100", trades[0].RealizedPnL)
	}
	if trades[0].ExitReason != types.ExitReasonTakeProfit {
		t.Errorf("exit reason = %v", trades[0].ExitReason)
	}

	report, err := Recover(ctx, repo)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !report.Clean() {
		t.Errorf("expected clean recovery, got %+v", report)
	}
}

func TestJournal_Diagnostics(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	mgr, err := position.NewManager(position.DefaultConfig(), position.Dependencies{
		Clock: func() time.Time { return t0 },
	}, quietLogger())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	mgr.Subscribe(NewJournal(repo, quietLogger()))

	mgr.OnOrderAccepted("ghost", "v-9")

	diags, err := repo.GetDiagnostics(context.Background(), mgr.GetView().ID)
	if err != nil {
		t.Fatalf("get diagnostics: %v", err)
	}
	if len(diags) != 1 || diags[0].Code != position.DiagUnknownOrder {
		t.Errorf("diagnostics = %+v", diags)
	}
}

type failingRepo struct {
	Repository
}

var errWrite = errors.New("disk full")

func (failingRepo) SaveOrder(context.Context, OrderRecord) error       { return errWrite }
func (failingRepo) SaveFill(context.Context, FillRecord) error         { return errWrite }
func (failingRepo) SavePosition(context.Context, PositionRecord) error { return errWrite }
func (failingRepo) SaveTrade(context.Context, TradeRecord) error       { return errWrite }
func (failingRepo) SaveDiagnostic(context.Context, DiagnosticRecord) error {
	return errWrite
}

func TestJournal_WriteErrorsCounted(t *testing.T) {
	journal := NewJournal(failingRepo{}, quietLogger())

	snap := position.OrderSnapshot{
		Spec:   position.OrderSpec{ClientOrderID: "ord-1", CreatedAt: t0},
		Status: types.OrderStatusNew,
	}
	journal.OnEvent(position.Event{Kind: position.EventOrderSubmitted, Order: &snap, Time: t0})
	journal.OnEvent(position.Event{Kind: position.EventPositionUpdated, Position: &position.PositionView{ID: "pos-1"}, Time: t0})

	if journal.Errors() != 2 {
		t.Errorf("errors = %d, want 2", journal.Errors())
	}
	if journal.Writes() != 0 {
		t.Errorf("writes = %d, want 0", journal.Writes())
	}
}
