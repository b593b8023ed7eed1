// Package exchange
package exchange

import (
	"context"
	"strings"
	"time"

	"github.com/vnquant/signalbot/internal/candle"
)

// Exchange provides market data for signal generation and position tracking.
type Exchange interface {
	Name() string
	FetchCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]candle.Candle, error)
	FetchLatestCandles(ctx context.Context, symbol, timeframe string, count int) ([]candle.Candle, error)
	FetchLatestPrice(ctx context.Context, symbol string) (float64, error)
}

// NormalizeSymbol converts a symbol like "btc-usdt" to the exchange form "BTCUSDT".
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
}

// NormalizedTimeframe converts a timeframe like "60m" to the exchange form "60".
func NormalizedTimeframe(timeframe string) string {
	return strings.TrimSuffix(timeframe, "m")
}
