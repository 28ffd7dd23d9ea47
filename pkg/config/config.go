package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"trade-gateway/internal/risk"
)

// Config holds environment-driven settings for the trade gateway.
type Config struct {
	Port string

	// AsterDEX futures
	AsterAPIKey         string
	AsterAPISecret      string
	AsterTestnet        bool
	AsterBaseURL        string
	RecvWindowMs        int64
	HTTPTimeout         time.Duration
	RequestsPerSecond   float64
	ClockResyncInterval time.Duration // 0 disables periodic re-sync

	// Balance
	QuoteAsset          string
	BalanceMaxAge       time.Duration // 0 reads the exchange on every check
	BalanceSyncInterval time.Duration

	// Risk limits; RISK_LIMITS_FILE overrides the env values
	Risk           risk.Config
	RiskLimitsFile string

	// Database
	DBPath            string
	ReconcileInterval time.Duration // 0 disables journal status refresh

	// HTTP API
	JWTSecret      string // empty disables auth
	RequestTimeout time.Duration
	APIRateLimit   float64
	APIRateBurst   int

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	defaults := risk.DefaultConfig()
	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		AsterAPIKey:         os.Getenv("ASTER_API_KEY"),
		AsterAPISecret:      os.Getenv("ASTER_API_SECRET"),
		AsterTestnet:        getEnv("ASTER_TESTNET", "false") == "true",
		AsterBaseURL:        getEnv("ASTER_BASE_URL", ""),
		RecvWindowMs:        int64(getEnvInt("ASTER_RECV_WINDOW_MS", 5000)),
		HTTPTimeout:         getEnvDuration("ASTER_HTTP_TIMEOUT", 10*time.Second),
		RequestsPerSecond:   getEnvFloat("ASTER_REQUESTS_PER_SECOND", 10),
		ClockResyncInterval: getEnvDuration("CLOCK_RESYNC_INTERVAL", 30*time.Minute),
		QuoteAsset:          strings.ToUpper(getEnv("QUOTE_ASSET", "USDT")),
		BalanceMaxAge:       getEnvDuration("BALANCE_MAX_AGE", 0),
		BalanceSyncInterval: getEnvDuration("BALANCE_SYNC_INTERVAL", 0),
		Risk: risk.Config{
			MaxSingleTrade:   getEnvDecimal("MAX_SINGLE_TRADE", defaults.MaxSingleTrade),
			MaxLeverage:      getEnvInt("MAX_LEVERAGE", defaults.MaxLeverage),
			ConfirmThreshold: getEnvDecimal("CONFIRM_THRESHOLD", defaults.ConfirmThreshold),
			MaxDailyTrades:   getEnvInt("MAX_DAILY_TRADES", defaults.MaxDailyTrades),
			MaxDailyLoss:     getEnvDecimal("MAX_DAILY_LOSS", defaults.MaxDailyLoss),
		},
		RiskLimitsFile:    getEnv("RISK_LIMITS_FILE", ""),
		DBPath:            getEnv("DB_PATH", "./data/trade_gateway.db"),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", time.Minute),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		RequestTimeout:    getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		APIRateLimit:      getEnvFloat("API_RATE_LIMIT", 20),
		APIRateBurst:      getEnvInt("API_RATE_BURST", 50),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
	}

	if cfg.RiskLimitsFile != "" {
		if err := applyRiskFile(&cfg.Risk, cfg.RiskLimitsFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects limits the risk gate cannot enforce.
func (c *Config) Validate() error {
	r := c.Risk
	switch {
	case !r.MaxSingleTrade.IsPositive():
		return fmt.Errorf("max single trade must be positive, got %s", r.MaxSingleTrade)
	case r.MaxLeverage < 1:
		return fmt.Errorf("max leverage must be at least 1, got %d", r.MaxLeverage)
	case r.ConfirmThreshold.IsNegative():
		return fmt.Errorf("confirm threshold must not be negative, got %s", r.ConfirmThreshold)
	case r.MaxDailyTrades < 0:
		return fmt.Errorf("max daily trades must not be negative, got %d", r.MaxDailyTrades)
	case r.MaxDailyLoss.IsNegative():
		return fmt.Errorf("max daily loss must not be negative, got %s", r.MaxDailyLoss)
	case c.ClockResyncInterval < 0:
		return fmt.Errorf("clock resync interval must not be negative, got %s", c.ClockResyncInterval)
	}
	return nil
}

// riskFile is the YAML layout of RISK_LIMITS_FILE. Absent keys keep the
// env/default value.
type riskFile struct {
	MaxSingleTrade   *float64 `yaml:"max_single_trade"`
	MaxLeverage      *int     `yaml:"max_leverage"`
	ConfirmThreshold *float64 `yaml:"confirm_threshold"`
	MaxDailyTrades   *int     `yaml:"max_daily_trades"`
	MaxDailyLoss     *float64 `yaml:"max_daily_loss"`
}

func applyRiskFile(dst *risk.Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read risk limits %s: %w", path, err)
	}
	var f riskFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse risk limits %s: %w", path, err)
	}
	if f.MaxSingleTrade != nil {
		dst.MaxSingleTrade = decimal.NewFromFloat(*f.MaxSingleTrade)
	}
	if f.MaxLeverage != nil {
		dst.MaxLeverage = *f.MaxLeverage
	}
	if f.ConfirmThreshold != nil {
		dst.ConfirmThreshold = decimal.NewFromFloat(*f.ConfirmThreshold)
	}
	if f.MaxDailyTrades != nil {
		dst.MaxDailyTrades = *f.MaxDailyTrades
	}
	if f.MaxDailyLoss != nil {
		dst.MaxDailyLoss = decimal.NewFromFloat(*f.MaxDailyLoss)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("30m") or plain seconds ("1800").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

func getEnvDecimal(key string, def decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return def
}
