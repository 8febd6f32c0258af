package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository on a pgx connection pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects to dsn and runs migrations.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &PostgresRepository{pool: pool}
	if err := repo.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// inTx runs f in a read-committed transaction, rolling back on error or
// panic.
func (r *PostgresRepository) inTx(ctx context.Context, f func(tx pgx.Tx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	return f(tx)
}

// Migrate runs database migrations in one transaction.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			client_order_id TEXT PRIMARY KEY,
			position_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			role INTEGER NOT NULL,
			side INTEGER NOT NULL,
			kind INTEGER NOT NULL,
			quantity BIGINT NOT NULL,
			time_in_force INTEGER NOT NULL,
			limit_price TEXT,
			stop_price TEXT,
			good_till TIMESTAMPTZ,
			oco_group_id TEXT NOT NULL DEFAULT '',
			status INTEGER NOT NULL,
			venue_order_id TEXT NOT NULL DEFAULT '',
			filled_quantity BIGINT NOT NULL DEFAULT 0,
			avg_fill_price TEXT NOT NULL DEFAULT '0',
			fees TEXT NOT NULL DEFAULT '0',
			reason TEXT NOT NULL DEFAULT '',
			cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			seq BIGSERIAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_position ON orders(position_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,

		`CREATE TABLE IF NOT EXISTS fills (
			client_order_id TEXT NOT NULL,
			fill_id TEXT NOT NULL,
			position_id TEXT NOT NULL,
			role INTEGER NOT NULL,
			side INTEGER NOT NULL,
			price TEXT NOT NULL,
			quantity BIGINT NOT NULL,
			fee TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			seq BIGSERIAL,
			PRIMARY KEY (client_order_id, fill_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fills_position ON fills(position_id)`,

		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			state INTEGER NOT NULL,
			side INTEGER NOT NULL,
			open_quantity BIGINT NOT NULL,
			avg_entry_price TEXT NOT NULL,
			realized_pnl TEXT NOT NULL,
			fees TEXT NOT NULL,
			armed_stop_loss TEXT,
			armed_take_profit TEXT,
			exit_reason INTEGER NOT NULL DEFAULT 0,
			opened_at TIMESTAMPTZ,
			closed_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_state ON positions(state)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			position_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side INTEGER NOT NULL,
			quantity BIGINT NOT NULL,
			intended_entry_price TEXT NOT NULL,
			avg_entry_price TEXT NOT NULL,
			avg_exit_price TEXT NOT NULL,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ NOT NULL,
			gross_pnl TEXT NOT NULL,
			fees TEXT NOT NULL,
			realized_pnl TEXT NOT NULL,
			net_pnl TEXT NOT NULL,
			slippage TEXT NOT NULL,
			slippage_ticks TEXT NOT NULL,
			exit_reason INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades(closed_at)`,

		`CREATE TABLE IF NOT EXISTS diagnostics (
			id BIGSERIAL PRIMARY KEY,
			position_id TEXT NOT NULL,
			client_order_id TEXT NOT NULL DEFAULT '',
			code TEXT NOT NULL,
			severity INTEGER NOT NULL,
			message TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_diagnostics_position ON diagnostics(position_id)`,
	}

	return r.inTx(ctx, func(tx pgx.Tx) error {
		for _, migration := range migrations {
			if _, err := tx.Exec(ctx, migration); err != nil {
				return fmt.Errorf("execute migration: %w", err)
			}
		}
		return nil
	})
}

// SaveOrder inserts or updates an order snapshot.
func (r *PostgresRepository) SaveOrder(ctx context.Context, o OrderRecord) error {
	query := `INSERT INTO orders
		(client_order_id, position_id, symbol, role, side, kind, quantity, time_in_force,
		 limit_price, stop_price, good_till, oco_group_id, status, venue_order_id,
		 filled_quantity, avg_fill_price, fees, reason, cancel_requested, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (client_order_id) DO UPDATE SET
			status = EXCLUDED.status,
			venue_order_id = EXCLUDED.venue_order_id,
			filled_quantity = EXCLUDED.filled_quantity,
			avg_fill_price = EXCLUDED.avg_fill_price,
			fees = EXCLUDED.fees,
			reason = EXCLUDED.reason,
			cancel_requested = EXCLUDED.cancel_requested,
			updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, query,
		o.ClientOrderID,
		o.PositionID,
		o.Symbol,
		int(o.Role),
		int(o.Side),
		int(o.Kind),
		o.Quantity,
		int(o.TimeInForce),
		priceText(o.LimitPrice),
		priceText(o.StopPrice),
		o.GoodTill,
		o.OCOGroupID,
		int(o.Status),
		o.VenueOrderID,
		o.FilledQuantity,
		o.AvgFillPrice.String(),
		o.Fees.String(),
		o.Reason,
		o.CancelRequested,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}

	return nil
}

// GetOrder returns one order, or nil when it does not exist.
func (r *PostgresRepository) GetOrder(ctx context.Context, clientOrderID string) (*OrderRecord, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE client_order_id = $1`

	o, err := scanOrder(r.pool.QueryRow(ctx, query, clientOrderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return &o, nil
}

// GetOrdersByPosition returns the orders of one position in creation order.
func (r *PostgresRepository) GetOrdersByPosition(ctx context.Context, positionID string) ([]OrderRecord, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE position_id = $1 ORDER BY created_at, seq`
	return r.queryOrders(ctx, query, positionID)
}

// GetLiveOrders returns every order not yet in a terminal status.
func (r *PostgresRepository) GetLiveOrders(ctx context.Context) ([]OrderRecord, error) {
	statuses := make([]int32, len(liveStatuses))
	for i, s := range liveStatuses {
		statuses[i] = int32(s)
	}
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status = ANY($1) ORDER BY created_at, seq`
	return r.queryOrders(ctx, query, statuses)
}

func (r *PostgresRepository) queryOrders(ctx context.Context, query string, args ...any) ([]OrderRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []OrderRecord
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		orders = append(orders, o)
	}

	return orders, rows.Err()
}

// SaveFill records an execution. Replayed fills with a known id are ignored.
func (r *PostgresRepository) SaveFill(ctx context.Context, f FillRecord) error {
	query := `INSERT INTO fills
		(client_order_id, fill_id, position_id, role, side, price, quantity, fee, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (client_order_id, fill_id) DO NOTHING`

	_, err := r.pool.Exec(ctx, query,
		f.ClientOrderID,
		f.FillID,
		f.PositionID,
		int(f.Role),
		int(f.Side),
		f.Price.String(),
		f.Quantity,
		f.Fee.String(),
		f.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}

	return nil
}

// GetFills returns the fills of a position in time order.
func (r *PostgresRepository) GetFills(ctx context.Context, positionID string) ([]FillRecord, error) {
	query := `SELECT client_order_id, fill_id, position_id, role, side, price, quantity, fee, timestamp
		FROM fills WHERE position_id = $1 ORDER BY timestamp, seq`

	rows, err := r.pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var fills []FillRecord
	for rows.Next() {
		var f FillRecord
		var price, fee string
		if err := rows.Scan(&f.ClientOrderID, &f.FillID, &f.PositionID, &f.Role, &f.Side, &price, &f.Quantity, &fee, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		f.Price = parseDecimal(price)
		f.Fee = parseDecimal(fee)
		fills = append(fills, f)
	}

	return fills, rows.Err()
}

// SavePosition inserts or replaces the latest view of a position.
func (r *PostgresRepository) SavePosition(ctx context.Context, p PositionRecord) error {
	query := `INSERT INTO positions
		(id, symbol, state, side, open_quantity, avg_entry_price, realized_pnl, fees,
		 armed_stop_loss, armed_take_profit, exit_reason, opened_at, closed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			side = EXCLUDED.side,
			open_quantity = EXCLUDED.open_quantity,
			avg_entry_price = EXCLUDED.avg_entry_price,
			realized_pnl = EXCLUDED.realized_pnl,
			fees = EXCLUDED.fees,
			armed_stop_loss = EXCLUDED.armed_stop_loss,
			armed_take_profit = EXCLUDED.armed_take_profit,
			exit_reason = EXCLUDED.exit_reason,
			opened_at = EXCLUDED.opened_at,
			closed_at = EXCLUDED.closed_at,
			updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, query,
		p.ID,
		p.Symbol,
		int(p.State),
		int(p.Side),
		p.OpenQuantity,
		p.AvgEntryPrice.String(),
		p.RealizedPnL.String(),
		p.Fees.String(),
		priceText(p.ArmedStopLoss),
		priceText(p.ArmedTakeProfit),
		int(p.ExitReason),
		p.OpenedAt,
		p.ClosedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}

	return nil
}

// GetPosition returns one position, or nil when it does not exist.
func (r *PostgresRepository) GetPosition(ctx context.Context, id string) (*PositionRecord, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`

	p, err := scanPosition(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query position: %w", err)
	}
	return &p, nil
}

// GetOpenPositions returns positions that were left with exposure or a
// pending entry.
func (r *PostgresRepository) GetOpenPositions(ctx context.Context) ([]PositionRecord, error) {
	states := make([]int32, len(openStates))
	for i, s := range openStates {
		states[i] = int32(s)
	}
	query := `SELECT ` + positionColumns + ` FROM positions WHERE state = ANY($1) ORDER BY updated_at`

	rows, err := r.pool.Query(ctx, query, states)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []PositionRecord
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// SaveTrade saves a finalized trade.
func (r *PostgresRepository) SaveTrade(ctx context.Context, t TradeRecord) error {
	query := `INSERT INTO trades
		(id, position_id, symbol, side, quantity, intended_entry_price, avg_entry_price, avg_exit_price,
		 opened_at, closed_at, gross_pnl, fees, realized_pnl, net_pnl, slippage, slippage_ticks, exit_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.pool.Exec(ctx, query,
		t.ID,
		t.PositionID,
		t.Symbol,
		int(t.Side),
		t.Quantity,
		t.IntendedEntryPrice.String(),
		t.AvgEntryPrice.String(),
		t.AvgExitPrice.String(),
		t.OpenedAt,
		t.ClosedAt,
		t.GrossPnL.String(),
		t.Fees.String(),
		t.RealizedPnL.String(),
		t.NetPnL.String(),
		t.Slippage.String(),
		t.SlippageTicks.String(),
		int(t.ExitReason),
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	return nil
}

// GetTrades returns trades closed in a time range.
func (r *PostgresRepository) GetTrades(ctx context.Context, from, to time.Time) ([]TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE closed_at BETWEEN $1 AND $2 ORDER BY closed_at`
	return r.queryTrades(ctx, query, from, to)
}

// GetTradesBySymbol returns the most recent trades for a symbol.
func (r *PostgresRepository) GetTradesBySymbol(ctx context.Context, symbol string, limit int) ([]TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE symbol = $1 ORDER BY closed_at DESC LIMIT $2`
	return r.queryTrades(ctx, query, symbol, limit)
}

func (r *PostgresRepository) queryTrades(ctx context.Context, query string, args ...any) ([]TradeRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// SaveDiagnostic appends a diagnostic.
func (r *PostgresRepository) SaveDiagnostic(ctx context.Context, d DiagnosticRecord) error {
	query := `INSERT INTO diagnostics (position_id, client_order_id, code, severity, message, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query, d.PositionID, d.ClientOrderID, d.Code, int(d.Severity), d.Message, d.Timestamp)
	if err != nil {
		return fmt.Errorf("insert diagnostic: %w", err)
	}

	return nil
}

// GetDiagnostics returns the diagnostics of a position in insertion order.
func (r *PostgresRepository) GetDiagnostics(ctx context.Context, positionID string) ([]DiagnosticRecord, error) {
	query := `SELECT id, position_id, client_order_id, code, severity, message, timestamp
		FROM diagnostics WHERE position_id = $1 ORDER BY id`

	rows, err := r.pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("query diagnostics: %w", err)
	}
	defer rows.Close()

	var out []DiagnosticRecord
	for rows.Next() {
		var d DiagnosticRecord
		if err := rows.Scan(&d.ID, &d.PositionID, &d.ClientOrderID, &d.Code, &d.Severity, &d.Message, &d.Timestamp); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, d)
	}

	return out, rows.Err()
}

// Close closes the pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// RedactDSN hides the password of a connection string for logging.
func RedactDSN(dsn string) string {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil || cfg.Password == "" {
		return dsn
	}
	return strings.Replace(dsn, cfg.Password, "****", 1)
}

var _ Repository = (*PostgresRepository)(nil)
