// Package db
package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/vnquant/signalbot/internal/candle"
	"github.com/vnquant/signalbot/internal/journal"
	"github.com/vnquant/signalbot/internal/signal"
)

// SignalStore persists signals across their lifecycle: created, executed,
// closed. Closed signals feed the performance filter.
type SignalStore interface {
	SaveSignal(ctx context.Context, s signal.Signal) error
	GetSignal(ctx context.Context, id string) (*signal.Signal, error)
	MarkExecuted(ctx context.Context, id string, executionPrice float64) error
	CloseSignal(ctx context.Context, id string, closePrice float64, reason string, profitLossPct float64, holdingDays int, closedAt time.Time) error
	GetOpenSignals(ctx context.Context) ([]signal.Signal, error)
	GetClosedSignals(ctx context.Context, symbol string) ([]signal.Signal, error)
	GetRecentSignals(ctx context.Context, symbol string, limit int) ([]signal.Signal, error)
}

// CandleStore persists price bars.
type CandleStore interface {
	SaveCandles(ctx context.Context, candles []candle.Candle) error
	GetCandles(ctx context.Context, symbol, timeframe, source string, start, end time.Time) ([]candle.Candle, error)
	GetLatestCandle(ctx context.Context, symbol, timeframe string) (*candle.Candle, error)
}

// Storage is the interface for all persistent storage.
type Storage interface {
	GetDB() *sql.DB
	SignalStore
	CandleStore
	journal.Journaler
}
