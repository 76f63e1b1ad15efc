package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"autoTrader/internal/adapters/logger" // Import the logger package for LogLevel
	"autoTrader/internal/risk"
	"autoTrader/internal/scheduler"
	"autoTrader/internal/strategy/strategies"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey     string
	SecretKey  string
	IsTestnet  bool
	Interval   string // kline interval of the price history
	QuoteAsset string

	// Broker rate limit
	RateLimitPerSecond float64
	RateLimitBurst     int

	// Strategy
	Strategies        []string
	StrategyParams    strategies.Params
	StrategyWeights   map[string]float64 // composite vote confidence per strategy
	MinSignalStrength float64
	Lookback          int
	MaxGap            time.Duration // largest tolerated gap between bars; 0 disables

	// Risk
	Risk     risk.RiskConfig
	Timezone *time.Location // portfolio trading-day zone

	// Execution
	MaxRetries     int
	RetryBaseDelay time.Duration
	CallTimeout    time.Duration

	// Scheduling
	MarketsFile     string
	Markets         []scheduler.MarketRules
	TickInterval    time.Duration
	MaxWorkers      int
	ShutdownTimeout time.Duration

	// Database
	DBDriver    string // sqlite or postgres
	DBPath      string
	PostgresDSN string
	Retention   time.Duration // signals, snapshots and rejected outcomes older than this are purged at settlement; 0 keeps all

	// Notifications
	TelegramBotToken string
	TelegramChatID   string

	// Observability
	MetricsAddr string // empty disables the metrics server
	LogLevel    logger.LogLevel
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	cfg.Interval = getEnv("KLINE_INTERVAL", "15m")
	cfg.QuoteAsset = getEnv("QUOTE_ASSET", "USDT")

	cfg.RateLimitPerSecond, err = getEnvAsFloatRequired("BROKER_RATE_LIMIT", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BROKER_RATE_LIMIT: %v", err))
	} else if cfg.RateLimitPerSecond < 0 {
		errs = append(errs, "BROKER_RATE_LIMIT cannot be negative")
	}
	cfg.RateLimitBurst = getEnvAsInt("BROKER_RATE_BURST", 5)

	// Strategy
	cfg.Strategies = getEnvAsList("STRATEGIES", []string{
		strategies.NameMACross, strategies.NameRSI, strategies.NameMACD, strategies.NameBollingerATR,
	})
	if len(cfg.Strategies) == 0 {
		errs = append(errs, "STRATEGIES must name at least one strategy")
	}
	known := strategies.Names()
	for _, name := range cfg.Strategies {
		if !slices.Contains(known, name) {
			errs = append(errs, fmt.Sprintf("unknown strategy %q in STRATEGIES (known: %s)", name, strings.Join(known, ",")))
		}
	}

	p := strategies.DefaultParams()
	p.MAShort = getEnvAsInt("STRATEGY_SHORT_MA_PERIOD", p.MAShort)
	p.MALong = getEnvAsInt("STRATEGY_LONG_MA_PERIOD", p.MALong)
	p.RSIPeriod = getEnvAsInt("STRATEGY_RSI_PERIOD", p.RSIPeriod)
	p.RSIOverbought = getEnvAsFloat("STRATEGY_RSI_OVERBOUGHT", p.RSIOverbought)
	p.RSIOversold = getEnvAsFloat("STRATEGY_RSI_OVERSOLD", p.RSIOversold)
	p.MACDFast = getEnvAsInt("STRATEGY_MACD_FAST", p.MACDFast)
	p.MACDSlow = getEnvAsInt("STRATEGY_MACD_SLOW", p.MACDSlow)
	p.MACDSignal = getEnvAsInt("STRATEGY_MACD_SIGNAL", p.MACDSignal)
	p.BBPeriod = getEnvAsInt("STRATEGY_BB_PERIOD", p.BBPeriod)
	p.BBStdDev = getEnvAsFloat("STRATEGY_BB_STDDEV", p.BBStdDev)
	p.ATRPeriod = getEnvAsInt("STRATEGY_ATR_PERIOD", p.ATRPeriod)
	p.TailRatio = getEnvAsFloat("STRATEGY_TAIL_RATIO", p.TailRatio)
	p.TailVolumeRatio = getEnvAsFloat("STRATEGY_TAIL_VOLUME_RATIO", p.TailVolumeRatio)
	p.TailRecovery = getEnvAsFloat("STRATEGY_TAIL_RECOVERY", p.TailRecovery)
	p.TailCooldown = getEnvAsDuration("STRATEGY_TAIL_COOLDOWN", p.TailCooldown)
	cfg.StrategyParams = p

	// Validate strategy periods
	if p.MAShort <= 0 || p.MALong <= 0 || p.RSIPeriod <= 0 || p.MACDFast <= 0 || p.BBPeriod <= 0 || p.ATRPeriod <= 0 {
		errs = append(errs, "strategy periods (MA, RSI, MACD, BB, ATR) must be positive")
	}
	if p.MAShort >= p.MALong {
		errs = append(errs, "STRATEGY_SHORT_MA_PERIOD must be less than STRATEGY_LONG_MA_PERIOD")
	}
	if p.MACDFast >= p.MACDSlow {
		errs = append(errs, "STRATEGY_MACD_FAST must be less than STRATEGY_MACD_SLOW")
	}
	if p.RSIOverbought <= p.RSIOversold || p.RSIOverbought > 100 || p.RSIOversold < 0 {
		errs = append(errs, "invalid RSI thresholds (Overbought must be > Oversold, between 0-100)")
	}
	if p.TailRatio <= 0 || p.TailVolumeRatio <= 0 || p.TailRecovery <= 0 || p.TailRecovery > 1 || p.TailCooldown < 0 {
		errs = append(errs, "invalid tail settings (ratios positive, STRATEGY_TAIL_RECOVERY within (0,1], cooldown not negative)")
	}

	cfg.MinSignalStrength, err = getEnvAsFloatRequired("MIN_SIGNAL_STRENGTH", 0.5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_SIGNAL_STRENGTH: %v", err))
	} else if cfg.MinSignalStrength < 0 || cfg.MinSignalStrength > 1 {
		errs = append(errs, "MIN_SIGNAL_STRENGTH must be between 0.0 and 1.0")
	}
	cfg.Lookback = getEnvAsInt("HISTORY_LOOKBACK", 200)
	if cfg.Lookback <= 0 {
		errs = append(errs, "HISTORY_LOOKBACK must be positive")
	}

	cfg.StrategyWeights, err = parseWeights(getEnv("STRATEGY_WEIGHTS", ""), known)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STRATEGY_WEIGHTS: %v", err))
	}
	// bars come every KLINE_INTERVAL; by default three missing bars in a row
	// mark the history as broken
	barEvery, _ := time.ParseDuration(cfg.Interval)
	cfg.MaxGap = getEnvAsDuration("HISTORY_MAX_GAP", 3*barEvery)
	switch {
	case cfg.MaxGap < 0:
		errs = append(errs, "HISTORY_MAX_GAP cannot be negative")
	case cfg.MaxGap > 0 && cfg.MaxGap < barEvery:
		errs = append(errs, fmt.Sprintf("HISTORY_MAX_GAP %s is shorter than KLINE_INTERVAL %s", cfg.MaxGap, cfg.Interval))
	}

	// Risk
	tz := getEnv("PORTFOLIO_TIMEZONE", "Asia/Seoul")
	cfg.Timezone, err = time.LoadLocation(tz)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PORTFOLIO_TIMEZONE %q: %v", tz, err))
		cfg.Timezone = time.UTC
	}
	rc := risk.DefaultRiskConfig()
	rc.Location = cfg.Timezone
	rc.MaxDailyTrades, err = getEnvAsIntRequired("MAX_DAILY_TRADES", rc.MaxDailyTrades)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_DAILY_TRADES: %v", err))
	} else if rc.MaxDailyTrades < 0 {
		errs = append(errs, "MAX_DAILY_TRADES cannot be negative")
	}
	rc.MaxPortfolioLossPct, err = getEnvAsFloatRequired("MAX_PORTFOLIO_LOSS_PCT", rc.MaxPortfolioLossPct)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_PORTFOLIO_LOSS_PCT: %v", err))
	} else if rc.MaxPortfolioLossPct <= 0 || rc.MaxPortfolioLossPct >= 100 {
		errs = append(errs, "MAX_PORTFOLIO_LOSS_PCT must be between 0 and 100 (exclusive)")
	}
	rc.MaxPositionRatio, err = getEnvAsFloatRequired("MAX_POSITION_RATIO", rc.MaxPositionRatio)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_POSITION_RATIO: %v", err))
	} else if rc.MaxPositionRatio <= 0 || rc.MaxPositionRatio > 1 {
		errs = append(errs, "MAX_POSITION_RATIO must be within (0,1]")
	}
	rc.StopLossPct = getEnvAsFloat("STOP_LOSS_PCT", rc.StopLossPct)
	rc.TakeProfitPct = getEnvAsFloat("TAKE_PROFIT_PCT", rc.TakeProfitPct)
	if rc.StopLossPct < 0 || rc.TakeProfitPct < 0 {
		errs = append(errs, "STOP_LOSS_PCT and TAKE_PROFIT_PCT cannot be negative")
	}
	rc.CashBuffer = getEnvAsFloat("CASH_BUFFER", rc.CashBuffer)
	if rc.CashBuffer <= 0 || rc.CashBuffer > 1 {
		errs = append(errs, "CASH_BUFFER must be within (0,1]")
	}
	rc.LotSize = getEnvAsFloat("LOT_SIZE", rc.LotSize)
	if rc.LotSize <= 0 {
		errs = append(errs, "LOT_SIZE must be positive")
	}
	rc.DefaultMaxPositionQty = getEnvAsFloat("MAX_POSITION_QTY", 0)
	cfg.Risk = rc

	// Execution
	cfg.MaxRetries = getEnvAsInt("ORDER_MAX_RETRIES", 3)
	if cfg.MaxRetries < 0 {
		errs = append(errs, "ORDER_MAX_RETRIES cannot be negative")
	}
	cfg.RetryBaseDelay = getEnvAsDuration("ORDER_RETRY_BASE_DELAY", time.Second)
	cfg.CallTimeout = getEnvAsDuration("BROKER_CALL_TIMEOUT", 5*time.Second)
	if cfg.RetryBaseDelay <= 0 || cfg.CallTimeout <= 0 {
		errs = append(errs, "ORDER_RETRY_BASE_DELAY and BROKER_CALL_TIMEOUT must be positive")
	}

	// Scheduling
	cfg.MarketsFile = getEnv("MARKETS_FILE", "./config/markets.yaml")
	cfg.Markets, err = LoadMarkets(cfg.MarketsFile,
		getEnvAsList("KR_INSTRUMENTS", []string{"BTCUSDT"}),
		getEnvAsList("US_INSTRUMENTS", []string{"ETHUSDT"}))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid markets: %v", err))
	}
	if getEnvAsBool("ALLOW_SHORT", false) {
		cfg.Risk.Instruments = make(map[string]risk.InstrumentLimits)
		for inst := range cfg.Instruments() {
			cfg.Risk.Instruments[inst] = risk.InstrumentLimits{AllowShort: true}
		}
	}
	cfg.TickInterval = getEnvAsDuration("TICK_INTERVAL", 10*time.Second)
	cfg.MaxWorkers = getEnvAsInt("MAX_WORKERS", 8)
	cfg.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second)
	if cfg.TickInterval <= 0 || cfg.MaxWorkers <= 0 || cfg.ShutdownTimeout <= 0 {
		errs = append(errs, "TICK_INTERVAL, MAX_WORKERS and SHUTDOWN_TIMEOUT must be positive")
	}

	// Database
	cfg.DBDriver = strings.ToLower(getEnv("DB_DRIVER", "sqlite"))
	cfg.DBPath = getEnv("DB_PATH", "./data/auto_trader.db")
	cfg.PostgresDSN = getEnv("POSTGRES_DSN", "")
	switch cfg.DBDriver {
	case "sqlite":
		if cfg.DBPath == "" {
			errs = append(errs, "DB_PATH must be set")
		}
	case "postgres":
	default:
		errs = append(errs, fmt.Sprintf("DB_DRIVER must be sqlite or postgres, got %q", cfg.DBDriver))
	}
	retentionDays := getEnvAsInt("DATA_RETENTION_DAYS", 90)
	if retentionDays < 0 {
		errs = append(errs, "DATA_RETENTION_DAYS cannot be negative")
	}
	cfg.Retention = time.Duration(retentionDays) * 24 * time.Hour

	// Notifications
	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	cfg.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", "")
	if (cfg.TelegramBotToken == "") != (cfg.TelegramChatID == "") {
		errs = append(errs, "TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}

	// Observability
	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9090")
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// RequireBrokerCredentials reports missing API keys. Commands that only read
// local data do not need them.
func (c *Config) RequireBrokerCredentials() error {
	var errs []error
	if c.APIKey == "" {
		errs = append(errs, errors.New("BINANCE_API_KEY must be set"))
	}
	if c.SecretKey == "" {
		errs = append(errs, errors.New("BINANCE_API_SECRET must be set"))
	}
	return errors.Join(errs...)
}

// Instruments returns every configured instrument with its market.
func (c *Config) Instruments() map[string]string {
	out := make(map[string]string)
	for _, m := range c.Markets {
		for _, inst := range m.Instruments {
			out[inst] = m.Name
		}
	}
	return out
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("1500ms") or whole seconds ("5").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	return splitList(valueStr)
}

// parseWeights reads "NAME=weight,..." over the default weights.
func parseWeights(s string, known []string) (map[string]float64, error) {
	weights := strategies.DefaultWeights()
	for _, pair := range splitList(s) {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%q is not NAME=weight", pair)
		}
		name = strings.TrimSpace(name)
		if !slices.Contains(known, name) {
			return nil, fmt.Errorf("unknown strategy %q", name)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("weight of %s: %w", name, err)
		}
		if w <= 0 {
			return nil, fmt.Errorf("weight of %s must be positive", name)
		}
		weights[name] = w
	}
	return weights, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
