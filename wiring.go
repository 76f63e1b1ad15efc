package main

import (
	"context"
	"fmt"
	"time"

	"autoTrader/config"
	"autoTrader/internal/adapters/binanceclient"
	"autoTrader/internal/adapters/logger"
	"autoTrader/internal/adapters/notify"
	"autoTrader/internal/adapters/postgres"
	"autoTrader/internal/adapters/sqlite"
	"autoTrader/internal/adapters/throttle"
	"autoTrader/internal/app"
	"autoTrader/internal/execution"
	"autoTrader/internal/metrics"
	"autoTrader/internal/ports"
	"autoTrader/internal/risk"
	"autoTrader/internal/scheduler"
	"autoTrader/internal/strategy"
	"autoTrader/internal/strategy/strategies"
)

// daemon is the wired trading process.
type daemon struct {
	store         ports.Persistence
	notifier      *notify.Dispatcher
	service       *app.TradingService
	coordinator   *scheduler.Coordinator
	metricsServer *metrics.Server // nil when disabled
	drainTimeout  time.Duration
}

// openStore opens the configured persistence backend.
func openStore(ctx context.Context, cfg *config.Config, appLogger ports.Logger) (ports.Persistence, error) {
	if cfg.DBDriver == "postgres" {
		repo, err := postgres.NewRepository(ctx, postgres.Config{DSN: cfg.PostgresDSN, Logger: appLogger})
		if err != nil {
			return nil, err
		}
		return repo, nil
	}
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// newVenue builds the rate-limited Binance client.
func newVenue(cfg *config.Config, appLogger ports.Logger) (*throttle.Limited, error) {
	client, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Interval:   cfg.Interval,
		QuoteAsset: cfg.QuoteAsset,
		Logger:     appLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Binance client: %w", err)
	}
	return throttle.New(client, cfg.RateLimitPerSecond, cfg.RateLimitBurst), nil
}

// wire builds every component of the daemon in dependency order.
func wire(ctx context.Context, cfg *config.Config, appLogger *logger.ZapLogger) (d *daemon, err error) {
	if err := cfg.RequireBrokerCredentials(); err != nil {
		return nil, err
	}
	d = &daemon{drainTimeout: cfg.ShutdownTimeout}
	defer func() {
		if err != nil {
			d.close(appLogger)
		}
	}()

	d.store, err = openStore(ctx, cfg, appLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database repository: %w", err)
	}
	appLogger.Info(ctx, "Database repository initialized", map[string]interface{}{"driver": cfg.DBDriver})

	venue, err := newVenue(cfg, appLogger)
	if err != nil {
		return nil, err
	}
	appLogger.Info(ctx, "Binance client initialized", map[string]interface{}{"testnet": cfg.IsTestnet})

	channels := []notify.Channel{notify.NewLogChannel(appLogger)}
	if cfg.TelegramBotToken != "" {
		channels = append(channels, notify.NewTelegramChannel(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	d.notifier, err = notify.NewDispatcher(notify.Config{Logger: appLogger}, channels...)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New()
		if d.metricsServer, err = metrics.NewServer(cfg.MetricsAddr, m, appLogger); err != nil {
			return nil, err
		}
	}

	riskMgr, err := risk.NewRiskManager(cfg.Risk, appLogger, time.Now())
	if err != nil {
		return nil, err
	}
	engine, err := strategy.NewEngine(strategy.Config{Weights: cfg.StrategyWeights, MaxGap: cfg.MaxGap}, appLogger)
	if err != nil {
		return nil, err
	}
	set, err := strategies.Build(cfg.Strategies, cfg.StrategyParams)
	if err != nil {
		return nil, err
	}
	appLogger.Info(ctx, "Trading strategies initialized", map[string]interface{}{
		"strategies": cfg.Strategies, "requiredBars": strategy.RequiredDataPoints(set),
	})

	execCfg := execution.Config{
		MaxRetries:  cfg.MaxRetries,
		BaseDelay:   cfg.RetryBaseDelay,
		CallTimeout: cfg.CallTimeout,
		Logger:      appLogger,
		Metrics:     m,
	}
	executor, err := execution.NewExecutor(execCfg, venue, d.store, riskMgr, d.notifier)
	if err != nil {
		return nil, err
	}

	d.service, err = app.NewTradingService(app.Config{
		Strategies:        set,
		Lookback:          cfg.Lookback,
		MinSignalStrength: cfg.MinSignalStrength,
		CallTimeout:       cfg.CallTimeout,
		Location:          cfg.Timezone,
		Retention:         cfg.Retention,
		Logger:            appLogger,
		Metrics:           m,
	}, venue, venue, d.store, riskMgr, engine, executor, d.notifier)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize trading service: %w", err)
	}

	d.coordinator, err = scheduler.NewCoordinator(scheduler.Config{
		Markets:      cfg.Markets,
		TickInterval: cfg.TickInterval,
		MaxWorkers:   cfg.MaxWorkers,
		Logger:       appLogger,
		Metrics:      m,
	}, d.service, d.notifier)
	if err != nil {
		return nil, err
	}
	appLogger.Info(ctx, "Trading service initialized")
	return d, nil
}

// restore brings the risk budget and positions up to date before the first
// cycle, so a start or restart mid-day keeps the day's trade count and loss.
// A store failure is fatal; a broker failure leaves entries blocked until
// the opening equity is known.
func (d *daemon) restore(ctx context.Context, cfg *config.Config, appLogger ports.Logger) error {
	budget, err := d.service.RestoreBudget(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to restore risk budget: %w", err)
	}
	seen := make(map[string]bool)
	var instruments []string
	for _, m := range cfg.Markets {
		for _, inst := range m.Instruments {
			if !seen[inst] {
				seen[inst] = true
				instruments = append(instruments, inst)
			}
		}
	}
	if err := d.service.SyncPortfolio(ctx, instruments); err != nil {
		appLogger.Warn(ctx, "Startup portfolio sync incomplete", map[string]interface{}{"error": err.Error()})
	}
	appLogger.Info(ctx, "Risk budget ready", map[string]interface{}{
		"date": budget.Date, "tradesUsed": budget.TradesUsed, "pnl": budget.RealizedPnL,
	})
	return nil
}

// close flushes notifications and releases the store.
func (d *daemon) close(appLogger ports.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), d.drainTimeout)
	defer cancel()
	if d.notifier != nil {
		if err := d.notifier.Close(ctx); err != nil {
			appLogger.Error(ctx, err, "Error flushing notifications")
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}
}
