package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
)

var _ ports.Persistence = (*Repository)(nil)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type statement struct {
	sql  string
	vars []interface{}
}

// dryRunRepository builds statements against the postgres dialect without
// a server and records each one.
func dryRunRepository(t *testing.T) (*Repository, *[]statement) {
	t.Helper()
	db, err := gorm.Open(postgres.Open("postgres://localhost:5432/trader?sslmode=disable"), &gorm.Config{
		DryRun:                 true,
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
	})
	require.NoError(t, err)

	var seen []statement
	record := func(tx *gorm.DB) {
		seen = append(seen, statement{sql: tx.Statement.SQL.String(), vars: tx.Statement.Vars})
	}
	require.NoError(t, db.Callback().Create().After("gorm:create").Register("test:record", record))
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("test:record", record))
	require.NoError(t, db.Callback().Delete().After("gorm:delete").Register("test:record", record))
	return &Repository{db: db, logger: &mockLogger{}}, &seen
}

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "defaults", cfg: Config{}, want: "postgres://localhost:5432?sslmode=disable"},
		{
			name: "full",
			cfg:  Config{Host: "db", Port: 6543, User: "bot", Password: "p@ss", Database: "trader", SSLMode: "require"},
			want: "postgres://bot:p%40ss@db:6543/trader?sslmode=require",
		},
		{name: "explicit dsn", cfg: Config{DSN: "host=x", Host: "ignored"}, want: "host=x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.dsn())
		})
	}
}

func TestNewRepository_RequiresLogger(t *testing.T) {
	_, err := NewRepository(context.Background(), Config{})
	assert.Error(t, err)
}

func TestMapError(t *testing.T) {
	assert.ErrorIs(t, mapError(gorm.ErrDuplicatedKey), ports.ErrDuplicateEntry)
	assert.ErrorIs(t, mapError(errors.New("boom")), ports.ErrQueryFailed)
}

func TestModelRoundTrip(t *testing.T) {
	kst := time.FixedZone("KST", 9*3600)
	at := time.Date(2026, 3, 2, 9, 15, 0, 0, kst)

	trade := domain.TradeRecord{
		ID: "01J", ClientReference: "ref", Market: "KR", Instrument: "A", Side: domain.Sell,
		Quantity: 3, Price: 99.5, RealizedPnL: -1.5, StrategyID: "RSI", ExecutedAt: at,
	}
	got := toTradeModel(trade).toDomain()
	assert.True(t, got.ExecutedAt.Equal(at))
	assert.Equal(t, time.UTC, got.ExecutedAt.Location())
	got.ExecutedAt = trade.ExecutedAt
	assert.Equal(t, trade, got)

	outcome := domain.OrderOutcome{ClientReference: "ref", Instrument: "A", Side: domain.Buy, Status: domain.StatusRejected, ErrorDetail: "lot size", Attempts: 1, RecordedAt: at.UTC()}
	assert.Equal(t, outcome, toOutcomeModel(outcome).toDomain())
}

func TestRepository_OutcomeUpsertStatements(t *testing.T) {
	repo, seen := dryRunRepository(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

	require.NoError(t, repo.AppendOutcome(ctx, domain.OrderOutcome{
		ClientReference: "ref-1", Instrument: "A", Side: domain.Buy, Status: domain.StatusFilled,
		FilledQuantity: 2, FilledPrice: 101, Attempts: 2, RecordedAt: at,
	}))
	_, err := repo.FindOutcome(ctx, "ref-1")
	require.NoError(t, err)
	require.Len(t, *seen, 2)

	upsert := (*seen)[0]
	assert.Contains(t, upsert.sql, `INSERT INTO "order_outcomes"`)
	assert.Contains(t, upsert.sql, `ON CONFLICT ("client_reference") DO UPDATE SET`)
	for _, col := range []string{"status", "filled_quantity", "filled_price", "error_detail", "attempts", "recorded_at"} {
		assert.Contains(t, upsert.sql, `"`+col+`"="excluded"."`+col+`"`, col)
	}
	assert.NotContains(t, upsert.sql, `"instrument"="excluded"`, "the order identity is never rewritten")
	assert.NotContains(t, upsert.sql, `"side"="excluded"`)
	assert.Contains(t, upsert.vars, "ref-1")
	assert.Contains(t, upsert.vars, string(domain.StatusFilled))

	find := (*seen)[1]
	assert.Contains(t, find.sql, `FROM "order_outcomes" WHERE client_reference = $1`)
	assert.Equal(t, "ref-1", find.vars[0])
}

func TestRepository_PurgeBeforeStatements(t *testing.T) {
	repo, seen := dryRunRepository(t)
	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.FixedZone("KST", 9*3600))

	_, err := repo.PurgeBefore(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, *seen, 3)
	assert.Contains(t, (*seen)[0].sql, `DELETE FROM "signals" WHERE generated_at < $1`)
	assert.Contains(t, (*seen)[1].sql, `DELETE FROM "market_snapshots" WHERE bar_time < $1`)
	assert.Contains(t, (*seen)[2].sql, `DELETE FROM "order_outcomes" WHERE recorded_at < $1 AND status = $2`)
	assert.Equal(t, cutoff.UTC(), (*seen)[0].vars[0])
	assert.Equal(t, []interface{}{cutoff.UTC(), "REJECTED"}, (*seen)[2].vars)
}

func TestStrategyResultModels(t *testing.T) {
	s := domain.DailySummary{Market: "US", Date: "2026-03-02", Strategies: []domain.StrategyResult{
		{StrategyID: "RSI", Trades: 2, Wins: 1, RealizedPnL: 30},
	}}
	rows := toStrategyResultModels(s)
	require.Len(t, rows, 1)
	assert.Equal(t, strategyResultModel{Market: "US", Date: "2026-03-02", StrategyID: "RSI", Trades: 2, Wins: 1, RealizedPnL: 30}, rows[0])
}

// TestRepository_Live runs against a real server when POSTGRES_TEST_DSN is set.
func TestRepository_Live(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	repo, err := NewRepository(ctx, Config{DSN: dsn, Logger: &mockLogger{}})
	require.NoError(t, err)
	defer repo.Close()

	ref := "live-" + time.Now().Format("150405.000000000")
	o := domain.OrderOutcome{ClientReference: ref, Instrument: "A", Side: domain.Buy, Status: domain.StatusRejected, Attempts: 1, RecordedAt: time.Now().UTC()}
	require.NoError(t, repo.AppendOutcome(ctx, o))
	o.Status, o.FilledQuantity, o.Attempts = domain.StatusFilled, 3, 2
	require.NoError(t, repo.AppendOutcome(ctx, o))

	got, err := repo.FindOutcome(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.StatusFilled, got.Status)
	assert.Equal(t, 3.0, got.FilledQuantity)
	assert.Equal(t, 2, got.Attempts)

	missing, err := repo.FindOutcome(ctx, ref+"-none")
	require.NoError(t, err)
	assert.Nil(t, missing)

	summary := domain.DailySummary{Market: ref, Date: "2026-03-02", Trades: 1, CreatedAt: time.Now().UTC(),
		Strategies: []domain.StrategyResult{{StrategyID: "RSI", Trades: 1}, {StrategyID: "MACD", Trades: 1}}}
	require.NoError(t, repo.SaveDailySummary(ctx, summary))
	summary.Strategies = summary.Strategies[:1]
	require.NoError(t, repo.SaveDailySummary(ctx, summary))
	var n int64
	require.NoError(t, repo.db.Model(&strategyResultModel{}).Where("market = ?", ref).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}
