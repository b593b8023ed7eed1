// Package config
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vnquant/signalbot/internal/indicator"
	"github.com/vnquant/signalbot/internal/perf"
	"github.com/vnquant/signalbot/internal/risk"
	"github.com/vnquant/signalbot/internal/strategy"
	"github.com/vnquant/signalbot/internal/tfutils"
)

/*
YAML config example:
mode: "scan"
symbols: ["BTC-USDT", "ETH-USDT"]
timeframe: "1d"
initial_capital: 10000
max_open_positions: 5
max_holding_bars: 20
db_conn_str: "..."
wallex_api_key: "..."
telegram_token: "..."
telegram_chat_id: "..."
indicators:
  ma_long_period: 200
  ema_short_period: 20
scorer:
  weights: { trend: 0.30, momentum: 0.30, volume: 0.20, entry: 0.20 }
risk:
  stop_loss_pct: 5.0
  use_atr_stop: false
filter:
  min_trades: 5
  cooldown_days: 7
*/

type Config struct {
	Mode      string   `yaml:"mode"`
	Symbols   []string `yaml:"symbols"`
	Timeframe string   `yaml:"timeframe"`

	InitialCapital   float64 `yaml:"initial_capital"`
	MaxOpenPositions int     `yaml:"max_open_positions"`
	MaxHoldingBars   int     `yaml:"max_holding_bars"`
	MaxHoldingDays   int     `yaml:"max_holding_days"`

	BacktestFrom time.Time `yaml:"backtest_from"`
	BacktestTo   time.Time `yaml:"backtest_to"`

	DBConnStr    string `yaml:"db_conn_str"`
	DBMaxOpen    int    `yaml:"db_max_open"`
	DBMaxIdle    int    `yaml:"db_max_idle"`
	RunMigration bool   `yaml:"run_migration"`

	WallexAPIKey   string `yaml:"wallex_api_key"`
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`

	NotificationRetries int           `yaml:"notification_retries"`
	NotificationDelay   time.Duration `yaml:"notification_delay"`

	ProxyURL            string        `yaml:"proxy_url"`
	APIRetryMaxAttempts int           `yaml:"api_retry_max_attempts"`
	APIRetryBaseDelay   time.Duration `yaml:"api_retry_base_delay"`
	APIRetryMaxDelay    time.Duration `yaml:"api_retry_max_delay"`

	PollInterval time.Duration `yaml:"poll_interval"`
	ShowProgress bool          `yaml:"show_progress"`

	Indicators indicator.BuilderConfig `yaml:"indicators"`
	Scorer     strategy.ScorerConfig   `yaml:"scorer"`
	Risk       risk.Config             `yaml:"risk"`
	Filter     perf.Config             `yaml:"filter"`
}

// Defaults returns a Config with every knob at its default value.
func Defaults() Config {
	return Config{
		Mode:                "scan",
		Symbols:             []string{"BTC-USDT"},
		Timeframe:           "1d",
		InitialCapital:      10000,
		MaxOpenPositions:    5,
		MaxHoldingBars:      20,
		MaxHoldingDays:      20,
		DBMaxOpen:           10,
		DBMaxIdle:           5,
		NotificationRetries: 3,
		NotificationDelay:   5 * time.Second,
		APIRetryMaxAttempts: 3,
		APIRetryBaseDelay:   2 * time.Second,
		APIRetryMaxDelay:    30 * time.Second,
		PollInterval:        time.Minute,
		ShowProgress:        true,
		Indicators:          indicator.DefaultBuilderConfig(),
		Scorer:              strategy.DefaultScorerConfig(),
		Risk:                risk.DefaultConfig(),
		Filter:              perf.DefaultConfig(),
	}
}

// Load builds the configuration from flags, an optional YAML file and
// environment variables. Precedence: env for secrets, then YAML, then flags.
func Load() (Config, error) {
	mode := flag.String("mode", "scan", "Mode: scan, track or backtest")
	symbolsFlag := flag.String("symbols", "BTC-USDT", "Comma-separated list of symbols")
	timeframe := flag.String("timeframe", "1d", "Candle timeframe")
	from := flag.String("from", time.Now().AddDate(-1, 0, 0).Format("2006-01-02"), "Backtest start date (YYYY-MM-DD)")
	to := flag.String("to", time.Now().Format("2006-01-02"), "Backtest end date (YYYY-MM-DD)")
	initialCapital := flag.Float64("capital", 10000, "Total capital for position sizing")
	maxOpenPositions := flag.Int("max-open-positions", 5, "Maximum concurrent open positions")
	maxHoldingBars := flag.Int("max-holding-bars", 20, "Maximum bars to hold a simulated position")
	maxHoldingDays := flag.Int("max-holding-days", 20, "Maximum days to hold a tracked position")
	telegramToken := flag.String("telegram-token", "", "Telegram bot token for notifications")
	telegramChatID := flag.String("telegram-chat", "", "Telegram chat ID for notifications")
	notificationRetries := flag.Int("notification-retries", 3, "Number of notification send attempts")
	notificationDelay := flag.Duration("notification-delay", 5*time.Second, "Delay between notification retries (e.g., 5s)")
	proxyURL := flag.String("proxy-url", "", "HTTP proxy URL for public API downloads")
	runMigration := flag.Bool("migrate", false, "Run database migrations on startup")
	pollInterval := flag.Duration("poll-interval", time.Minute, "Position tracker poll interval")
	showProgress := flag.Bool("progress", true, "Show a progress bar during simulation")
	configFile := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg := Defaults()

	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		cfg.Mode = *mode
		cfg.Symbols = strings.Split(*symbolsFlag, ",")
		cfg.Timeframe = *timeframe
		cfg.InitialCapital = *initialCapital
		cfg.MaxOpenPositions = *maxOpenPositions
		cfg.MaxHoldingBars = *maxHoldingBars
		cfg.MaxHoldingDays = *maxHoldingDays
		cfg.TelegramToken = *telegramToken
		cfg.TelegramChatID = *telegramChatID
		cfg.NotificationRetries = *notificationRetries
		cfg.NotificationDelay = *notificationDelay
		cfg.ProxyURL = *proxyURL
		cfg.RunMigration = *runMigration
		cfg.PollInterval = *pollInterval
		cfg.ShowProgress = *showProgress

		fromTime, err := time.Parse("2006-01-02", *from)
		if err != nil {
			return Config{}, fmt.Errorf("parsing -from: %w", err)
		}
		toTime, err := time.Parse("2006-01-02", *to)
		if err != nil {
			return Config{}, fmt.Errorf("parsing -to: %w", err)
		}
		cfg.BacktestFrom = fromTime
		cfg.BacktestTo = toTime
	}

	// Secrets always come from the environment when set.
	if v := os.Getenv("WALLEX_API_KEY"); v != "" {
		cfg.WallexAPIKey = v
	}
	if v := os.Getenv("DB_CONN_STR"); v != "" {
		cfg.DBConnStr = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.TelegramToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.TelegramChatID = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the cross-field constraints that yaml parsing cannot.
func (c Config) Validate() error {
	switch c.Mode {
	case "scan", "track", "backtest":
	default:
		return fmt.Errorf("unsupported mode: %s", c.Mode)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if !tfutils.IsValidTimeframe(c.Timeframe) {
		return fmt.Errorf("unsupported timeframe %q, supported: %s",
			c.Timeframe, strings.Join(tfutils.GetSupportedTimeframes(), ", "))
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive")
	}
	if c.Mode == "backtest" && !c.BacktestFrom.Before(c.BacktestTo) {
		return fmt.Errorf("backtest range must satisfy from < to")
	}
	return nil
}
