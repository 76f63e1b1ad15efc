package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3" // SQLite driver

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
	"autoTrader/internal/utils"
)

// Repository implements ports.Persistence using SQLite.
// Timestamps are stored as UTC unix nanoseconds so range queries compare integers.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/auto_trader.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// one writer; the driver serialises the rest
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS signals (
		id TEXT PRIMARY KEY,
		instrument TEXT NOT NULL,
		strategy_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		strength REAL NOT NULL,
		generated_at INTEGER NOT NULL,
		rationale TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS order_outcomes (
		client_reference TEXT PRIMARY KEY,
		instrument TEXT NOT NULL,
		side TEXT NOT NULL,
		status TEXT NOT NULL,
		filled_quantity REAL NOT NULL,
		filled_price REAL NOT NULL,
		error_detail TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL,
		recorded_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		client_reference TEXT NOT NULL UNIQUE,
		market TEXT NOT NULL,
		instrument TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		price REAL NOT NULL,
		realized_pnl REAL NOT NULL,
		strategy_id TEXT NOT NULL,
		executed_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS market_snapshots (
		id TEXT PRIMARY KEY,
		market TEXT NOT NULL,
		instrument TEXT NOT NULL,
		bar_time INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		UNIQUE (instrument, bar_time)
	);

	CREATE TABLE IF NOT EXISTS daily_summaries (
		market TEXT NOT NULL,
		date TEXT NOT NULL,
		trades INTEGER NOT NULL,
		wins INTEGER NOT NULL,
		losses INTEGER NOT NULL,
		realized_pnl REAL NOT NULL,
		win_rate REAL NOT NULL,
		profit_factor REAL NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (market, date)
	);

	CREATE TABLE IF NOT EXISTS strategy_performance (
		market TEXT NOT NULL,
		date TEXT NOT NULL,
		strategy_id TEXT NOT NULL,
		trades INTEGER NOT NULL,
		wins INTEGER NOT NULL,
		losses INTEGER NOT NULL,
		realized_pnl REAL NOT NULL,
		PRIMARY KEY (market, date, strategy_id)
	);

	CREATE INDEX IF NOT EXISTS idx_signals_instrument_time ON signals (instrument, generated_at);
	CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades (executed_at);
	CREATE INDEX IF NOT EXISTS idx_signals_generated_at ON signals (generated_at);
	CREATE INDEX IF NOT EXISTS idx_snapshots_bar_time ON market_snapshots (bar_time);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- TradeRepository Implementation ---

// AppendTrade saves a fill. A second trade for the same client reference
// fails with ports.ErrDuplicateEntry.
func (r *Repository) AppendTrade(ctx context.Context, trade domain.TradeRecord) error {
	const query = `
	INSERT INTO trades (id, client_reference, market, instrument, side, quantity, price,
	                    realized_pnl, strategy_id, executed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if trade.ID == "" {
		trade.ID = utils.NewID(trade.ExecutedAt)
	}
	_, err := r.db.ExecContext(ctx, query,
		trade.ID, trade.ClientReference, trade.Market, trade.Instrument, string(trade.Side),
		trade.Quantity, trade.Price, trade.RealizedPnL, trade.StrategyID, toNanos(trade.ExecutedAt))
	if err != nil {
		return fmt.Errorf("failed to insert trade for %s: %w", trade.ClientReference, mapError(err))
	}
	r.logger.Debug(ctx, "Trade recorded", map[string]interface{}{
		"tradeID": trade.ID, "instrument": trade.Instrument, "side": trade.Side, "quantity": trade.Quantity,
	})
	return nil
}

// AppendOutcome saves the outcome of an order, replacing an earlier outcome
// for the same client reference.
func (r *Repository) AppendOutcome(ctx context.Context, o domain.OrderOutcome) error {
	const query = `
	INSERT INTO order_outcomes (client_reference, instrument, side, status, filled_quantity,
	                            filled_price, error_detail, attempts, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(client_reference) DO UPDATE SET
		status = excluded.status,
		filled_quantity = excluded.filled_quantity,
		filled_price = excluded.filled_price,
		error_detail = excluded.error_detail,
		attempts = excluded.attempts,
		recorded_at = excluded.recorded_at`

	_, err := r.db.ExecContext(ctx, query,
		o.ClientReference, o.Instrument, string(o.Side), string(o.Status), o.FilledQuantity,
		o.FilledPrice, o.ErrorDetail, o.Attempts, toNanos(o.RecordedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert outcome for %s: %w", o.ClientReference, mapError(err))
	}
	return nil
}

// FindOutcome retrieves the outcome recorded for a client reference, if any.
func (r *Repository) FindOutcome(ctx context.Context, clientRef string) (*domain.OrderOutcome, error) {
	const query = `
	SELECT client_reference, instrument, side, status, filled_quantity, filled_price,
	       error_detail, attempts, recorded_at
	FROM order_outcomes
	WHERE client_reference = ?`

	o, err := scanOutcome(r.db.QueryRowContext(ctx, query, clientRef))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query outcome %s: %w: %w", clientRef, ports.ErrQueryFailed, err)
	}
	return o, nil
}

// TradesBetween returns trades executed in [from, to), oldest first.
func (r *Repository) TradesBetween(ctx context.Context, from, to time.Time) ([]domain.TradeRecord, error) {
	const query = `
	SELECT id, client_reference, market, instrument, side, quantity, price,
	       realized_pnl, strategy_id, executed_at
	FROM trades
	WHERE executed_at >= ? AND executed_at < ?
	ORDER BY executed_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, toNanos(from), toNanos(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]domain.TradeRecord, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade during TradesBetween: %w", err)
		}
		trades = append(trades, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// --- SignalRepository Implementation ---

// AppendSignal saves one signal, actionable or not.
func (r *Repository) AppendSignal(ctx context.Context, sig domain.Signal) error {
	const query = `
	INSERT INTO signals (id, instrument, strategy_id, direction, strength, generated_at, rationale)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		utils.NewID(sig.GeneratedAt), sig.Instrument, sig.StrategyID, string(sig.Direction),
		sig.Strength, toNanos(sig.GeneratedAt), sig.Rationale)
	if err != nil {
		return fmt.Errorf("failed to insert signal for %s: %w", sig.Instrument, mapError(err))
	}
	return nil
}

// AppendMarketSnapshot stores a bar; a bar already stored is left unchanged.
func (r *Repository) AppendMarketSnapshot(ctx context.Context, snap domain.MarketSnapshot) error {
	const query = `
	INSERT INTO market_snapshots (id, market, instrument, bar_time, open, high, low, close, volume)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(instrument, bar_time) DO NOTHING`

	b := snap.Bar
	_, err := r.db.ExecContext(ctx, query,
		utils.NewID(b.Timestamp), snap.Market, b.Instrument, toNanos(b.Timestamp),
		b.Open, b.High, b.Low, b.Close, b.Volume)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot for %s: %w", b.Instrument, mapError(err))
	}
	return nil
}

// --- SummaryRepository Implementation ---

// SaveDailySummary stores the settlement summary and its per-strategy rows;
// settling the same market and date again replaces both.
func (r *Repository) SaveDailySummary(ctx context.Context, s domain.DailySummary) error {
	const upsertSummary = `
	INSERT INTO daily_summaries (market, date, trades, wins, losses, realized_pnl,
	                             win_rate, profit_factor, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(market, date) DO UPDATE SET
		trades = excluded.trades,
		wins = excluded.wins,
		losses = excluded.losses,
		realized_pnl = excluded.realized_pnl,
		win_rate = excluded.win_rate,
		profit_factor = excluded.profit_factor,
		created_at = excluded.created_at`
	const insertStrategy = `
	INSERT INTO strategy_performance (market, date, strategy_id, trades, wins, losses, realized_pnl)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin summary transaction: %w", mapError(err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upsertSummary,
		s.Market, s.Date, s.Trades, s.Wins, s.Losses, s.RealizedPnL, s.WinRate, s.ProfitFactor, toNanos(s.CreatedAt)); err != nil {
		return fmt.Errorf("failed to save daily summary %s/%s: %w", s.Market, s.Date, mapError(err))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM strategy_performance WHERE market = ? AND date = ?`, s.Market, s.Date); err != nil {
		return fmt.Errorf("failed to clear strategy results %s/%s: %w", s.Market, s.Date, mapError(err))
	}
	for _, sr := range s.Strategies {
		if _, err := tx.ExecContext(ctx, insertStrategy,
			s.Market, s.Date, sr.StrategyID, sr.Trades, sr.Wins, sr.Losses, sr.RealizedPnL); err != nil {
			return fmt.Errorf("failed to save strategy result %s for %s/%s: %w", sr.StrategyID, s.Market, s.Date, mapError(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit daily summary %s/%s: %w", s.Market, s.Date, mapError(err))
	}
	r.logger.Debug(ctx, "Daily summary saved", map[string]interface{}{
		"market": s.Market, "date": s.Date, "strategies": len(s.Strategies),
	})
	return nil
}

// PurgeBefore deletes signals, market snapshots and rejected order outcomes
// older than cutoff. Trades, fill outcomes and summaries are kept.
func (r *Repository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	for _, q := range []string{
		`DELETE FROM signals WHERE generated_at < ?`,
		`DELETE FROM market_snapshots WHERE bar_time < ?`,
		`DELETE FROM order_outcomes WHERE recorded_at < ? AND status = '` + string(domain.StatusRejected) + `'`,
	} {
		res, err := r.db.ExecContext(ctx, q, toNanos(cutoff))
		if err != nil {
			return removed, fmt.Errorf("failed to purge old rows: %w", mapError(err))
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	r.logger.Info(ctx, "Old rows purged", map[string]interface{}{
		"cutoff": cutoff.UTC().Format(time.RFC3339), "rows": removed,
	})
	return removed, nil
}

// --- Helper Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOutcome(s scanner) (*domain.OrderOutcome, error) {
	o := &domain.OrderOutcome{}
	var side, status string
	var recorded int64
	err := s.Scan(&o.ClientReference, &o.Instrument, &side, &status, &o.FilledQuantity,
		&o.FilledPrice, &o.ErrorDetail, &o.Attempts, &recorded)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)
	o.RecordedAt = fromNanos(recorded)
	return o, nil
}

func scanTrade(s scanner) (domain.TradeRecord, error) {
	var t domain.TradeRecord
	var side string
	var executed int64
	err := s.Scan(&t.ID, &t.ClientReference, &t.Market, &t.Instrument, &side, &t.Quantity,
		&t.Price, &t.RealizedPnL, &t.StrategyID, &executed)
	if err != nil {
		return t, err
	}
	t.Side = domain.OrderSide(side)
	t.ExecutedAt = fromNanos(executed)
	return t, nil
}

// mapError translates driver errors into the ports error set.
func mapError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %w", ports.ErrDuplicateEntry, err)
	}
	return fmt.Errorf("%w: %w", ports.ErrQueryFailed, err)
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
