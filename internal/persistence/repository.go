// Package persistence stores the order, fill, position and trade history of
// position managers.
package persistence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/position-engine/internal/position"
	"github.com/tathienbao/position-engine/internal/types"
)

// Repository defines the interface for state persistence.
type Repository interface {
	// Order operations
	SaveOrder(ctx context.Context, order OrderRecord) error
	GetOrder(ctx context.Context, clientOrderID string) (*OrderRecord, error)
	GetOrdersByPosition(ctx context.Context, positionID string) ([]OrderRecord, error)
	GetLiveOrders(ctx context.Context) ([]OrderRecord, error)

	// Fill operations
	SaveFill(ctx context.Context, fill FillRecord) error
	GetFills(ctx context.Context, positionID string) ([]FillRecord, error)

	// Position operations
	SavePosition(ctx context.Context, pos PositionRecord) error
	GetPosition(ctx context.Context, id string) (*PositionRecord, error)
	GetOpenPositions(ctx context.Context) ([]PositionRecord, error)

	// Trade operations
	SaveTrade(ctx context.Context, trade TradeRecord) error
	GetTrades(ctx context.Context, from, to time.Time) ([]TradeRecord, error)
	GetTradesBySymbol(ctx context.Context, symbol string, limit int) ([]TradeRecord, error)

	// Diagnostics
	SaveDiagnostic(ctx context.Context, d DiagnosticRecord) error
	GetDiagnostics(ctx context.Context, positionID string) ([]DiagnosticRecord, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// OrderRecord represents a persisted order snapshot.
type OrderRecord struct {
	ClientOrderID   string
	PositionID      string
	Symbol          string
	Role            position.OrderRole
	Side            types.Side
	Kind            types.OrderKind
	Quantity        int64
	TimeInForce     types.TimeInForce
	LimitPrice      types.OptionalPrice
	StopPrice       types.OptionalPrice
	GoodTill        *time.Time
	OCOGroupID      string
	Status          types.OrderStatus
	VenueOrderID    string
	FilledQuantity  int64
	AvgFillPrice    decimal.Decimal
	Fees            decimal.Decimal
	Reason          string
	CancelRequested bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FillRecord represents a persisted execution.
type FillRecord struct {
	ClientOrderID string
	FillID        string
	PositionID    string
	Role          position.OrderRole
	Side          types.Side
	Price         decimal.Decimal
	Quantity      int64
	Fee           decimal.Decimal
	Timestamp     time.Time
}

// PositionRecord represents the latest persisted view of a position.
type PositionRecord struct {
	ID              string
	Symbol          string
	State           position.State
	Side            types.Side
	OpenQuantity    int64
	AvgEntryPrice   decimal.Decimal
	RealizedPnL     decimal.Decimal
	Fees            decimal.Decimal
	ArmedStopLoss   types.OptionalPrice
	ArmedTakeProfit types.OptionalPrice
	ExitReason      types.ExitReason
	OpenedAt        *time.Time
	ClosedAt        *time.Time
	UpdatedAt       time.Time
}

// TradeRecord represents a finalized round trip.
type TradeRecord struct {
	ID                 string
	PositionID         string
	Symbol             string
	Side               types.Side
	Quantity           int64
	IntendedEntryPrice decimal.Decimal
	AvgEntryPrice      decimal.Decimal
	AvgExitPrice       decimal.Decimal
	OpenedAt           time.Time
	ClosedAt           time.Time
	GrossPnL           decimal.Decimal
	Fees               decimal.Decimal
	RealizedPnL        decimal.Decimal
	NetPnL             decimal.Decimal
	Slippage           decimal.Decimal
	SlippageTicks      decimal.Decimal
	ExitReason         types.ExitReason
}

// DiagnosticRecord represents a persisted diagnostic.
type DiagnosticRecord struct {
	ID            int64
	PositionID    string
	ClientOrderID string
	Code          string
	Severity      position.Severity
	Message       string
	Timestamp     time.Time
}

// OrderRecordFrom converts a snapshot.
func OrderRecordFrom(s position.OrderSnapshot) OrderRecord {
	r := OrderRecord{
		ClientOrderID:   s.Spec.ClientOrderID,
		PositionID:      s.Spec.PositionID,
		Symbol:          s.Spec.Symbol,
		Role:            s.Spec.Role,
		Side:            s.Spec.Side,
		Kind:            s.Spec.Kind,
		Quantity:        s.Spec.Quantity,
		TimeInForce:     s.Spec.TimeInForce,
		LimitPrice:      s.Spec.LimitPrice,
		StopPrice:       s.Spec.StopPrice,
		OCOGroupID:      s.Spec.OCOGroupID,
		Status:          s.Status,
		VenueOrderID:    s.VenueOrderID,
		FilledQuantity:  s.FilledQuantity,
		AvgFillPrice:    s.AvgFillPrice,
		Fees:            s.Fees,
		Reason:          s.Reason,
		CancelRequested: s.CancelRequested,
		CreatedAt:       s.Spec.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if !s.Spec.GoodTill.IsZero() {
		gt := s.Spec.GoodTill
		r.GoodTill = &gt
	}
	return r
}

// FillRecordFrom converts a fill.
func FillRecordFrom(positionID string, f position.Fill) FillRecord {
	return FillRecord{
		ClientOrderID: f.ClientOrderID,
		FillID:        f.FillID,
		PositionID:    positionID,
		Role:          f.Role,
		Side:          f.Side,
		Price:         f.Price,
		Quantity:      f.Quantity,
		Fee:           f.Fee,
		Timestamp:     f.Timestamp,
	}
}

// PositionRecordFrom converts a view.
func PositionRecordFrom(v position.PositionView, at time.Time) PositionRecord {
	return PositionRecord{
		ID:              v.ID,
		Symbol:          v.Symbol,
		State:           v.State,
		Side:            v.Side,
		OpenQuantity:    v.OpenQuantity,
		AvgEntryPrice:   v.AvgEntryPrice,
		RealizedPnL:     v.RealizedPnL,
		Fees:            v.Fees,
		ArmedStopLoss:   v.ArmedStopLoss,
		ArmedTakeProfit: v.ArmedTakeProfit,
		ExitReason:      v.ExitReason,
		OpenedAt:        timePtr(v.OpenedAt),
		ClosedAt:        timePtr(v.ClosedAt),
		UpdatedAt:       at,
	}
}

// TradeRecordFrom converts a trade.
func TradeRecordFrom(t position.Trade) TradeRecord {
	return TradeRecord{
		ID:                 t.ID,
		PositionID:         t.PositionID,
		Symbol:             t.Symbol,
		Side:               t.Side,
		Quantity:           t.Quantity,
		IntendedEntryPrice: t.IntendedEntryPrice,
		AvgEntryPrice:      t.AvgEntryPrice,
		AvgExitPrice:       t.AvgExitPrice,
		OpenedAt:           t.OpenedAt,
		ClosedAt:           t.ClosedAt,
		GrossPnL:           t.GrossPnL,
		Fees:               t.Fees,
		RealizedPnL:        t.RealizedPnL,
		NetPnL:             t.NetPnL,
		Slippage:           t.Slippage,
		SlippageTicks:      t.SlippageTicks,
		ExitReason:         t.ExitReason,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// priceText encodes an optional price as a nullable string.
func priceText(p types.OptionalPrice) *string {
	v, ok := p.Get()
	if !ok {
		return nil
	}
	s := v.String()
	return &s
}

// parsePrice decodes a nullable price column.
func parsePrice(s *string) types.OptionalPrice {
	if s == nil {
		return types.NoPrice()
	}
	v, err := decimal.NewFromString(*s)
	if err != nil {
		return types.NoPrice()
	}
	return types.PriceOf(v)
}

func parseDecimal(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

// liveStatuses are the order statuses GetLiveOrders returns.
var liveStatuses = []types.OrderStatus{
	types.OrderStatusNew,
	types.OrderStatusAccepted,
	types.OrderStatusWorking,
	types.OrderStatusPartiallyFilled,
}

// openStates are the position states GetOpenPositions returns.
var openStates = []position.State{
	position.StatePendingEntry,
	position.StateOpen,
	position.StatePendingExit,
	position.StateClosing,
}
