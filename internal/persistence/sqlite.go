package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite repository.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}

	// Run migrations
	if err := repo.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			client_order_id TEXT PRIMARY KEY,
			position_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			role INTEGER NOT NULL,
			side INTEGER NOT NULL,
			kind INTEGER NOT NULL,
			quantity INTEGER NOT NULL,
			time_in_force INTEGER NOT NULL,
			limit_price TEXT,
			stop_price TEXT,
			good_till DATETIME,
			oco_group_id TEXT NOT NULL DEFAULT '',
			status INTEGER NOT NULL,
			venue_order_id TEXT NOT NULL DEFAULT '',
			filled_quantity INTEGER NOT NULL DEFAULT 0,
			avg_fill_price TEXT NOT NULL DEFAULT '0',
			fees TEXT NOT NULL DEFAULT '0',
			reason TEXT NOT NULL DEFAULT '',
			cancel_requested INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
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
			quantity INTEGER NOT NULL,
			fee TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			PRIMARY KEY (client_order_id, fill_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fills_position ON fills(position_id)`,

		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			state INTEGER NOT NULL,
			side INTEGER NOT NULL,
			open_quantity INTEGER NOT NULL,
			avg_entry_price TEXT NOT NULL,
			realized_pnl TEXT NOT NULL,
			fees TEXT NOT NULL,
			armed_stop_loss TEXT,
			armed_take_profit TEXT,
			exit_reason INTEGER NOT NULL DEFAULT 0,
			opened_at DATETIME,
			closed_at DATETIME,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_state ON positions(state)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			position_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side INTEGER NOT NULL,
			quantity INTEGER NOT NULL,
			intended_entry_price TEXT NOT NULL,
			avg_entry_price TEXT NOT NULL,
			avg_exit_price TEXT NOT NULL,
			opened_at DATETIME NOT NULL,
			closed_at DATETIME NOT NULL,
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
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			position_id TEXT NOT NULL,
			client_order_id TEXT NOT NULL DEFAULT '',
			code TEXT NOT NULL,
			severity INTEGER NOT NULL,
			message TEXT NOT NULL,
			timestamp DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_diagnostics_position ON diagnostics(position_id)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// SaveOrder inserts or updates an order snapshot.
func (r *SQLiteRepository) SaveOrder(ctx context.Context, o OrderRecord) error {
	query := `INSERT INTO orders
		(client_order_id, position_id, symbol, role, side, kind, quantity, time_in_force,
		 limit_price, stop_price, good_till, oco_group_id, status, venue_order_id,
		 filled_quantity, avg_fill_price, fees, reason, cancel_requested, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_order_id) DO UPDATE SET
			status = excluded.status,
			venue_order_id = excluded.venue_order_id,
			filled_quantity = excluded.filled_quantity,
			avg_fill_price = excluded.avg_fill_price,
			fees = excluded.fees,
			reason = excluded.reason,
			cancel_requested = excluded.cancel_requested,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		o.ClientOrderID,
		o.PositionID,
		o.Symbol,
		o.Role,
		o.Side,
		o.Kind,
		o.Quantity,
		o.TimeInForce,
		priceText(o.LimitPrice),
		priceText(o.StopPrice),
		o.GoodTill,
		o.OCOGroupID,
		o.Status,
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

const orderColumns = `client_order_id, position_id, symbol, role, side, kind, quantity, time_in_force,
	limit_price, stop_price, good_till, oco_group_id, status, venue_order_id,
	filled_quantity, avg_fill_price, fees, reason, cancel_requested, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (OrderRecord, error) {
	var o OrderRecord
	var limit, stop *string
	var avg, fees string

	err := row.Scan(
		&o.ClientOrderID, &o.PositionID, &o.Symbol, &o.Role, &o.Side, &o.Kind, &o.Quantity, &o.TimeInForce,
		&limit, &stop, &o.GoodTill, &o.OCOGroupID, &o.Status, &o.VenueOrderID,
		&o.FilledQuantity, &avg, &fees, &o.Reason, &o.CancelRequested, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}

	o.LimitPrice = parsePrice(limit)
	o.StopPrice = parsePrice(stop)
	o.AvgFillPrice = parseDecimal(avg)
	o.Fees = parseDecimal(fees)
	return o, nil
}

// GetOrder returns one order, or nil when it does not exist.
func (r *SQLiteRepository) GetOrder(ctx context.Context, clientOrderID string) (*OrderRecord, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE client_order_id = ?`

	o, err := scanOrder(r.db.QueryRowContext(ctx, query, clientOrderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return &o, nil
}

// GetOrdersByPosition returns the orders of one position in creation order.
func (r *SQLiteRepository) GetOrdersByPosition(ctx context.Context, positionID string) ([]OrderRecord, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE position_id = ? ORDER BY created_at, rowid`
	return r.queryOrders(ctx, query, positionID)
}

// GetLiveOrders returns every order not yet in a terminal status.
func (r *SQLiteRepository) GetLiveOrders(ctx context.Context) ([]OrderRecord, error) {
	args := make([]any, len(liveStatuses))
	for i, s := range liveStatuses {
		args[i] = s
	}
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status IN (` + placeholders(len(args)) + `) ORDER BY created_at, rowid`
	return r.queryOrders(ctx, query, args...)
}

func (r *SQLiteRepository) queryOrders(ctx context.Context, query string, args ...any) ([]OrderRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
func (r *SQLiteRepository) SaveFill(ctx context.Context, f FillRecord) error {
	query := `INSERT OR IGNORE INTO fills
		(client_order_id, fill_id, position_id, role, side, price, quantity, fee, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		f.ClientOrderID,
		f.FillID,
		f.PositionID,
		f.Role,
		f.Side,
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
func (r *SQLiteRepository) GetFills(ctx context.Context, positionID string) ([]FillRecord, error) {
	query := `SELECT client_order_id, fill_id, position_id, role, side, price, quantity, fee, timestamp
		FROM fills WHERE position_id = ? ORDER BY timestamp, rowid`

	rows, err := r.db.QueryContext(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
func (r *SQLiteRepository) SavePosition(ctx context.Context, p PositionRecord) error {
	query := `INSERT OR REPLACE INTO positions
		(id, symbol, state, side, open_quantity, avg_entry_price, realized_pnl, fees,
		 armed_stop_loss, armed_take_profit, exit_reason, opened_at, closed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.Symbol,
		p.State,
		p.Side,
		p.OpenQuantity,
		p.AvgEntryPrice.String(),
		p.RealizedPnL.String(),
		p.Fees.String(),
		priceText(p.ArmedStopLoss),
		priceText(p.ArmedTakeProfit),
		p.ExitReason,
		p.OpenedAt,
		p.ClosedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}

	return nil
}

const positionColumns = `id, symbol, state, side, open_quantity, avg_entry_price, realized_pnl, fees,
	armed_stop_loss, armed_take_profit, exit_reason, opened_at, closed_at, updated_at`

func scanPosition(row rowScanner) (PositionRecord, error) {
	var p PositionRecord
	var avg, realized, fees string
	var sl, tp *string

	err := row.Scan(&p.ID, &p.Symbol, &p.State, &p.Side, &p.OpenQuantity, &avg, &realized, &fees,
		&sl, &tp, &p.ExitReason, &p.OpenedAt, &p.ClosedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}

	p.AvgEntryPrice = parseDecimal(avg)
	p.RealizedPnL = parseDecimal(realized)
	p.Fees = parseDecimal(fees)
	p.ArmedStopLoss = parsePrice(sl)
	p.ArmedTakeProfit = parsePrice(tp)
	return p, nil
}

// GetPosition returns one position, or nil when it does not exist.
func (r *SQLiteRepository) GetPosition(ctx context.Context, id string) (*PositionRecord, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = ?`

	p, err := scanPosition(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query position: %w", err)
	}
	return &p, nil
}

// GetOpenPositions returns positions that were left with exposure or a
// pending entry.
func (r *SQLiteRepository) GetOpenPositions(ctx context.Context) ([]PositionRecord, error) {
	args := make([]any, len(openStates))
	for i, s := range openStates {
		args[i] = s
	}
	query := `SELECT ` + positionColumns + ` FROM positions WHERE state IN (` + placeholders(len(args)) + `) ORDER BY updated_at`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
func (r *SQLiteRepository) SaveTrade(ctx context.Context, t TradeRecord) error {
	query := `INSERT OR REPLACE INTO trades
		(id, position_id, symbol, side, quantity, intended_entry_price, avg_entry_price, avg_exit_price,
		 opened_at, closed_at, gross_pnl, fees, realized_pnl, net_pnl, slippage, slippage_ticks, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		t.ID,
		t.PositionID,
		t.Symbol,
		t.Side,
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
		t.ExitReason,
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	return nil
}

const tradeColumns = `id, position_id, symbol, side, quantity, intended_entry_price, avg_entry_price, avg_exit_price,
	opened_at, closed_at, gross_pnl, fees, realized_pnl, net_pnl, slippage, slippage_ticks, exit_reason`

func scanTrade(row rowScanner) (TradeRecord, error) {
	var t TradeRecord
	var intended, entry, exit, gross, fees, realized, net, slip, slipTicks string

	err := row.Scan(&t.ID, &t.PositionID, &t.Symbol, &t.Side, &t.Quantity, &intended, &entry, &exit,
		&t.OpenedAt, &t.ClosedAt, &gross, &fees, &realized, &net, &slip, &slipTicks, &t.ExitReason)
	if err != nil {
		return t, err
	}

	t.IntendedEntryPrice = parseDecimal(intended)
	t.AvgEntryPrice = parseDecimal(entry)
	t.AvgExitPrice = parseDecimal(exit)
	t.GrossPnL = parseDecimal(gross)
	t.Fees = parseDecimal(fees)
	t.RealizedPnL = parseDecimal(realized)
	t.NetPnL = parseDecimal(net)
	t.Slippage = parseDecimal(slip)
	t.SlippageTicks = parseDecimal(slipTicks)
	return t, nil
}

// GetTrades returns trades closed in a time range.
func (r *SQLiteRepository) GetTrades(ctx context.Context, from, to time.Time) ([]TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE closed_at BETWEEN ? AND ? ORDER BY closed_at`
	return r.queryTrades(ctx, query, from, to)
}

// GetTradesBySymbol returns the most recent trades for a symbol.
func (r *SQLiteRepository) GetTradesBySymbol(ctx context.Context, symbol string, limit int) ([]TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE symbol = ? ORDER BY closed_at DESC LIMIT ?`
	return r.queryTrades(ctx, query, symbol, limit)
}

func (r *SQLiteRepository) queryTrades(ctx context.Context, query string, args ...any) ([]TradeRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
func (r *SQLiteRepository) SaveDiagnostic(ctx context.Context, d DiagnosticRecord) error {
	query := `INSERT INTO diagnostics (position_id, client_order_id, code, severity, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query, d.PositionID, d.ClientOrderID, d.Code, d.Severity, d.Message, d.Timestamp)
	if err != nil {
		return fmt.Errorf("insert diagnostic: %w", err)
	}

	return nil
}

// GetDiagnostics returns the diagnostics of a position in insertion order.
func (r *SQLiteRepository) GetDiagnostics(ctx context.Context, positionID string) ([]DiagnosticRecord, error) {
	query := `SELECT id, position_id, client_order_id, code, severity, message, timestamp
		FROM diagnostics WHERE position_id = ? ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("query diagnostics: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

var _ Repository = (*SQLiteRepository)(nil)
