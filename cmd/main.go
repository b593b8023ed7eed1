package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lib/pq"

	"github.com/vnquant/signalbot/internal/backtest"
	"github.com/vnquant/signalbot/internal/candle"
	"github.com/vnquant/signalbot/internal/config"
	"github.com/vnquant/signalbot/internal/db"
	"github.com/vnquant/signalbot/internal/engine"
	"github.com/vnquant/signalbot/internal/exchange"
	"github.com/vnquant/signalbot/internal/indicator"
	"github.com/vnquant/signalbot/internal/notifier"
	"github.com/vnquant/signalbot/internal/perf"
	"github.com/vnquant/signalbot/internal/position"
	"github.com/vnquant/signalbot/internal/risk"
	"github.com/vnquant/signalbot/internal/signal"
	"github.com/vnquant/signalbot/internal/strategy"
)

func main() {
	// Local .env files hold secrets during development; absence is fine.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Error loading .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Println("Starting Signalbot in mode:", cfg.Mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	if cfg.RunMigration && cfg.DBConnStr != "" {
		if err := runMigrations(ctx, cfg.DBConnStr); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	storage, err := openStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}

	builder := indicator.NewBuilder(cfg.Indicators)
	scorer, err := strategy.NewScorer(cfg.Scorer)
	if err != nil {
		log.Fatalf("Invalid scorer configuration: %v", err)
	}
	filter := perf.NewFilter(cfg.Filter, storage)
	riskManager := risk.NewManager(cfg.Risk)
	eng := engine.New(scorer, filter, riskManager)

	notif := buildNotifier(cfg)

	switch cfg.Mode {
	case "scan":
		runScan(ctx, cfg, storage, builder, eng, notif)
	case "track":
		runTrack(ctx, cfg, storage, notif)
	case "backtest":
		runBacktest(ctx, cfg, storage, builder, eng)
	default:
		log.Fatalf("Unsupported mode: %s", cfg.Mode)
	}
}

// runMigrations creates the database if it doesn't exist and runs the schema.sql script
func runMigrations(ctx context.Context, connStr string) error {
	log.Println("Running database migrations...")

	u, err := url.Parse(connStr)
	if err != nil {
		return fmt.Errorf("failed to parse connection string: %w", err)
	}

	dbName := strings.TrimPrefix(u.Path, "/")
	if dbName == "" {
		return fmt.Errorf("database name not found in connection string")
	}

	// Connect to the postgres database to create ours if needed
	baseConnStr := fmt.Sprintf("postgres://%s:%s@%s/postgres%s",
		u.User.Username(),
		func() string {
			p, _ := u.User.Password()
			return p
		}(),
		u.Host,
		func() string {
			if u.RawQuery != "" {
				return "?" + u.RawQuery
			}
			return ""
		}())

	baseDB, err := sql.Open("postgres", baseConnStr)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer baseDB.Close()

	var exists bool
	err = baseDB.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", dbName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check if database exists: %w", err)
	}

	if !exists {
		log.Printf("Creating database %s...", dbName)
		_, err = baseDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName)))
		if err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
	}

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	schemaSQL, err := os.ReadFile("scripts/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}

	_, err = conn.ExecContext(ctx, string(schemaSQL))
	if err != nil {
		return fmt.Errorf("failed to execute schema.sql: %w", err)
	}

	log.Println("Database migrations completed successfully")
	return nil
}

func openStorage(cfg config.Config) (db.Storage, error) {
	if cfg.DBConnStr == "" {
		log.Println("openStorage | No DB_CONN_STR configured, using in-memory storage")
		return db.NewMemory(), nil
	}
	return db.Open(cfg.DBConnStr, cfg.DBMaxOpen, cfg.DBMaxIdle)
}

func buildNotifier(cfg config.Config) notifier.Notifier {
	if cfg.TelegramToken == "" || cfg.TelegramChatID == "" {
		log.Println("buildNotifier | Telegram not configured, notifications disabled")
		return notifier.NewNop()
	}
	return notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, cfg.NotificationRetries, cfg.NotificationDelay)
}

// runScan evaluates every configured symbol once against fresh market data and
// notifies the actionable signals, best first.
func runScan(
	ctx context.Context,
	cfg config.Config,
	storage db.Storage,
	builder *indicator.Builder,
	eng *engine.Engine,
	notif notifier.Notifier,
) {
	ex := exchange.NewWallexExchange(cfg.WallexAPIKey)

	var signals []signal.Signal
	for _, sym := range cfg.Symbols {
		select {
		case <-ctx.Done():
			log.Printf("runScan | Cancelled: %v", ctx.Err())
			return
		default:
		}

		candles, err := ex.FetchLatestCandles(ctx, sym, cfg.Timeframe, builder.MinBars())
		if err != nil {
			log.Printf("runScan | Error fetching candles for %s: %v", sym, err)
			continue
		}

		// Drop the currently forming bar; only complete candles feed indicators.
		complete := candles[:0]
		for _, c := range candles {
			if c.IsComplete() {
				complete = append(complete, c)
			}
		}
		if len(complete) == 0 {
			log.Printf("runScan | No complete candles for %s", sym)
			continue
		}

		if err := storage.SaveCandles(ctx, complete); err != nil {
			log.Printf("runScan | Error saving candles for %s: %v", sym, err)
		}

		snap, err := builder.Compute(complete)
		if err != nil {
			log.Printf("runScan | Error computing indicators for %s: %v", sym, err)
			continue
		}

		last := complete[len(complete)-1]
		sig, skipped, err := eng.Evaluate(ctx, sym, cfg.Timeframe, last.Timestamp, last.Close, snap, cfg.InitialCapital)
		if err != nil {
			if errors.Is(err, indicator.ErrUnavailable) {
				log.Printf("runScan | Indicators unavailable for %s, skipping", sym)
				continue
			}
			log.Printf("runScan | Error evaluating %s: %v", sym, err)
			continue
		}
		if skipped != nil {
			log.Printf("runScan | %s skipped: %s", sym, skipped.Reason)
			continue
		}

		if err := storage.SaveSignal(ctx, *sig); err != nil {
			log.Printf("runScan | Error saving signal for %s: %v", sym, err)
		}
		log.Printf("runScan | %s: %s (confidence %.1f)", sym, sig.Type, sig.Confidence)
		signals = append(signals, *sig)
	}

	actionable := signal.FilterActionable(signals)
	signal.RankByConfidence(actionable)
	if len(actionable) == 0 {
		log.Println("runScan | No actionable signals this scan")
		return
	}

	for _, s := range actionable {
		if err := notif.SendWithRetry(notifier.FormatSignal(s)); err != nil {
			log.Printf("runScan | Error notifying signal for %s: %v", s.Symbol, err)
		}
	}
	log.Printf("runScan | %d actionable signals, best: %s %s (%.1f)",
		len(actionable), actionable[0].Type, actionable[0].Symbol, actionable[0].Confidence)
}

// runTrack watches executed signals until the context ends.
func runTrack(ctx context.Context, cfg config.Config, storage db.Storage, notif notifier.Notifier) {
	ex := exchange.NewWallexExchange(cfg.WallexAPIKey)
	tracker := position.NewTracker(storage, ex, notif, cfg.MaxHoldingDays)
	tracker.Run(ctx, cfg.PollInterval)
}

// runBacktest simulates the signal lifecycle over historical candles.
func runBacktest(
	ctx context.Context,
	cfg config.Config,
	storage db.Storage,
	builder *indicator.Builder,
	eng *engine.Engine,
) {
	dcfg := backtest.DownloadConfig{
		ProxyURL:         cfg.ProxyURL,
		RetryMaxAttempts: cfg.APIRetryMaxAttempts,
		RetryBaseDelay:   cfg.APIRetryBaseDelay,
		RetryMaxDelay:    cfg.APIRetryMaxDelay,
	}

	series := make(map[string][]candle.Candle, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		candles, err := backtest.LoadCandles(ctx, storage, sym, cfg.Timeframe, cfg.BacktestFrom, cfg.BacktestTo, dcfg)
		if err != nil {
			log.Fatalf("runBacktest | Error loading candles for %s: %v", sym, err)
		}
		log.Printf("runBacktest | Loaded %d candles for %s", len(candles), sym)
		series[sym] = candles
	}

	sim := backtest.NewSimulator(backtest.Config{
		InitialCapital:   cfg.InitialCapital,
		MaxOpenPositions: cfg.MaxOpenPositions,
		MaxHoldingBars:   cfg.MaxHoldingBars,
		Timeframe:        cfg.Timeframe,
		ShowProgress:     cfg.ShowProgress,
	}, eng, builder, storage)

	results, err := sim.Run(ctx, series)
	if err != nil {
		log.Fatalf("runBacktest | Simulation failed: %v", err)
	}

	results.PrintSummary()
	results.SaveCSV("backtest_trades.csv", "backtest_equity.csv")
}
