package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tathienbao/position-engine/internal/position"
)

// Journal is a position listener that writes every order, fill, position
// and trade notification to a Repository. Write errors are logged and
// counted; they never reach the manager.
type Journal struct {
	repo    Repository
	logger  *slog.Logger
	timeout time.Duration
	errors  atomic.Int64
	writes  atomic.Int64
}

// NewJournal creates a journal writing to repo.
func NewJournal(repo Repository, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		repo:    repo,
		logger:  logger.With("component", "journal"),
		timeout: 5 * time.Second,
	}
}

// OnEvent implements position.Listener.
func (j *Journal) OnEvent(ev position.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if err := j.record(ctx, ev); err != nil {
		j.errors.Add(1)
		j.logger.Error("journal write failed",
			"event", ev.Kind.String(),
			"position_id", ev.PositionID,
			"error", err,
		)
	}
}

func (j *Journal) record(ctx context.Context, ev position.Event) error {
	if ev.Order != nil {
		if err := j.save("order", func() error {
			return j.repo.SaveOrder(ctx, OrderRecordFrom(*ev.Order))
		}); err != nil {
			return err
		}
	}
	if ev.Fill != nil {
		if err := j.save("fill", func() error {
			return j.repo.SaveFill(ctx, FillRecordFrom(ev.PositionID, *ev.Fill))
		}); err != nil {
			return err
		}
	}
	if ev.Position != nil {
		if err := j.save("position", func() error {
			return j.repo.SavePosition(ctx, PositionRecordFrom(*ev.Position, ev.Time))
		}); err != nil {
			return err
		}
	}
	if ev.Trade != nil {
		if err := j.save("trade", func() error {
			return j.repo.SaveTrade(ctx, TradeRecordFrom(*ev.Trade))
		}); err != nil {
			return err
		}
	}
	if ev.Diagnostic != nil {
		d := ev.Diagnostic
		return j.save("diagnostic", func() error {
			return j.repo.SaveDiagnostic(ctx, DiagnosticRecord{
				PositionID:    d.PositionID,
				ClientOrderID: d.ClientOrderID,
				Code:          d.Code,
				Severity:      d.Severity,
				Message:       d.Message,
				Timestamp:     d.Time,
			})
		})
	}
	return nil
}

func (j *Journal) save(what string, f func() error) error {
	if err := f(); err != nil {
		return fmt.Errorf("save %s: %w", what, err)
	}
	j.writes.Add(1)
	return nil
}

// Errors returns the number of failed writes.
func (j *Journal) Errors() int64 {
	return j.errors.Load()
}

// Writes returns the number of successful writes.
func (j *Journal) Writes() int64 {
	return j.writes.Load()
}

// RecoveryReport describes what a previous run left behind.
type RecoveryReport struct {
	OpenPositions []PositionRecord
	LiveOrders    []OrderRecord
}

// Clean reports whether the previous run ended flat with nothing working.
func (r RecoveryReport) Clean() bool {
	return len(r.OpenPositions) == 0 && len(r.LiveOrders) == 0
}

// Recover reads the positions and orders a previous run did not finish.
// Positions are not rebuilt into managers; the report is for the operator
// to reconcile against the venue.
func Recover(ctx context.Context, repo Repository) (RecoveryReport, error) {
	positions, err := repo.GetOpenPositions(ctx)
	if err != nil {
		return RecoveryReport{}, fmt.Errorf("load open positions: %w", err)
	}
	orders, err := repo.GetLiveOrders(ctx)
	if err != nil {
		return RecoveryReport{}, fmt.Errorf("load live orders: %w", err)
	}
	return RecoveryReport{OpenPositions: positions, LiveOrders: orders}, nil
}
