// Package postgres implements ports.Persistence on PostgreSQL through gorm.
// It is selected with DB_DRIVER=postgres and mirrors the SQLite schema.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
	"autoTrader/internal/utils"
)

const (
	defaultHost    = "localhost"
	defaultPort    = 5432
	defaultSSLMode = "disable"
)

// Config holds connection settings. DSN wins over the individual fields.
type Config struct {
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Logger   ports.Logger
}

// Repository implements ports.Persistence using gorm.
type Repository struct {
	db     *gorm.DB
	logger ports.Logger
}

// NewRepository connects, migrates the schema and returns the repository.
func NewRepository(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for postgres repository")
	}
	dsn := cfg.dsn()
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		err = fmt.Errorf("failed to open postgres: %w: %w", ports.ErrDBConnection, err)
		cfg.Logger.Error(ctx, err, "Postgres repository initialization failed")
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get postgres pool: %w: %w", ports.ErrDBConnection, err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.WithContext(ctx).AutoMigrate(
		&signalModel{}, &outcomeModel{}, &tradeModel{}, &snapshotModel{}, &summaryModel{}, &strategyResultModel{},
	); err != nil {
		sqlDB.Close()
		err = fmt.Errorf("failed to migrate postgres schema: %w", err)
		cfg.Logger.Error(ctx, err, "Postgres repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(ctx, "Postgres database connection established", map[string]interface{}{"host": cfg.Host, "database": cfg.Database})
	return &Repository{db: db, logger: cfg.Logger}, nil
}

// Close closes the underlying connection pool.
func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	r.logger.Info(context.Background(), "Closing postgres connection")
	return sqlDB.Close()
}

// AppendTrade saves a fill; a second fill for one client reference fails
// with ports.ErrDuplicateEntry.
func (r *Repository) AppendTrade(ctx context.Context, trade domain.TradeRecord) error {
	if trade.ID == "" {
		trade.ID = utils.NewID(trade.ExecutedAt)
	}
	m := toTradeModel(trade)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to insert trade for %s: %w", trade.ClientReference, mapError(err))
	}
	return nil
}

// AppendOutcome upserts the outcome keyed by client reference.
func (r *Repository) AppendOutcome(ctx context.Context, o domain.OrderOutcome) error {
	m := toOutcomeModel(o)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "client_reference"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "filled_quantity", "filled_price", "error_detail", "attempts", "recorded_at",
		}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("failed to upsert outcome for %s: %w", o.ClientReference, mapError(err))
	}
	return nil
}

// FindOutcome returns nil, nil when nothing was recorded for clientRef.
func (r *Repository) FindOutcome(ctx context.Context, clientRef string) (*domain.OrderOutcome, error) {
	var m outcomeModel
	err := r.db.WithContext(ctx).Where("client_reference = ?", clientRef).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query outcome %s: %w", clientRef, mapError(err))
	}
	o := m.toDomain()
	return &o, nil
}

// TradesBetween returns trades executed in [from, to), oldest first.
func (r *Repository) TradesBetween(ctx context.Context, from, to time.Time) ([]domain.TradeRecord, error) {
	var rows []tradeModel
	err := r.db.WithContext(ctx).
		Where("executed_at >= ? AND executed_at < ?", from.UTC(), to.UTC()).
		Order("executed_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", mapError(err))
	}
	trades := make([]domain.TradeRecord, len(rows))
	for i, m := range rows {
		trades[i] = m.toDomain()
	}
	return trades, nil
}

// AppendSignal saves one signal.
func (r *Repository) AppendSignal(ctx context.Context, sig domain.Signal) error {
	m := toSignalModel(utils.NewID(sig.GeneratedAt), sig)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to insert signal for %s: %w", sig.Instrument, mapError(err))
	}
	return nil
}

// AppendMarketSnapshot stores a bar once per instrument and bar time.
func (r *Repository) AppendMarketSnapshot(ctx context.Context, snap domain.MarketSnapshot) error {
	m := toSnapshotModel(utils.NewID(snap.Bar.Timestamp), snap)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "instrument"}, {Name: "bar_time"}},
		DoNothing: true,
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("failed to insert snapshot for %s: %w", snap.Bar.Instrument, mapError(err))
	}
	return nil
}

// SaveDailySummary upserts the summary for its market and date and replaces
// its per-strategy rows in the same transaction.
func (r *Repository) SaveDailySummary(ctx context.Context, s domain.DailySummary) error {
	m := toSummaryModel(s)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "market"}, {Name: "date"}},
			UpdateAll: true,
		}).Create(&m).Error
		if err != nil {
			return err
		}
		if err := tx.Where("market = ? AND date = ?", s.Market, s.Date).Delete(&strategyResultModel{}).Error; err != nil {
			return err
		}
		if rows := toStrategyResultModels(s); len(rows) > 0 {
			return tx.Create(&rows).Error
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save daily summary %s/%s: %w", s.Market, s.Date, mapError(err))
	}
	return nil
}

// PurgeBefore deletes signals, market snapshots and rejected order outcomes
// older than cutoff.
func (r *Repository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	db := r.db.WithContext(ctx)
	cutoff = cutoff.UTC()
	var removed int64
	for _, purge := range []struct {
		model interface{}
		where string
		args  []interface{}
	}{
		{&signalModel{}, "generated_at < ?", []interface{}{cutoff}},
		{&snapshotModel{}, "bar_time < ?", []interface{}{cutoff}},
		{&outcomeModel{}, "recorded_at < ? AND status = ?", []interface{}{cutoff, string(domain.StatusRejected)}},
	} {
		res := db.Where(purge.where, purge.args...).Delete(purge.model)
		if res.Error != nil {
			return removed, fmt.Errorf("failed to purge old rows: %w", mapError(res.Error))
		}
		removed += res.RowsAffected
	}
	r.logger.Info(ctx, "Old rows purged", map[string]interface{}{
		"cutoff": cutoff.Format(time.RFC3339), "rows": removed,
	})
	return removed, nil
}

func mapError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %w", ports.ErrDuplicateEntry, err)
	}
	return fmt.Errorf("%w: %w", ports.ErrQueryFailed, err)
}

func (c Config) dsn() string {
	if c.DSN != "" {
		return c.DSN
	}
	host := c.Host
	if host == "" {
		host = defaultHost
	}
	port := c.Port
	if port == 0 {
		port = defaultPort
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}

	u := &url.URL{Scheme: "postgres", Host: fmt.Sprintf("%s:%d", host, port)}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	if c.Database != "" {
		u.Path = "/" + c.Database
	}
	u.RawQuery = url.Values{"sslmode": []string{sslMode}}.Encode()
	return u.String()
}
