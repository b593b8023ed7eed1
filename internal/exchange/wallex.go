package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	wallex "github.com/wallexchange/wallex-go"

	"github.com/vnquant/signalbot/internal/candle"
	"github.com/vnquant/signalbot/internal/tfutils"
	"github.com/vnquant/signalbot/internal/utils"
)

type WallexExchange struct {
	client *wallex.Client
}

func NewWallexExchange(apiKey string) Exchange {
	return &WallexExchange{
		client: wallex.New(wallex.ClientOptions{APIKey: apiKey}),
	}
}

func (w *WallexExchange) Name() string {
	return "wallex"
}

// retry wraps a function with retry logic for transient errors, using exponential backoff and error logging.
func retry(attempts int, delay time.Duration, fn func() error) error {
	backoff := delay
	for i := 1; i <= attempts; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		utils.GetLogger().Printf("Exchange | Wallex Retry attempt %d/%d failed: %v. Backing off for %v", i, attempts, err, backoff)
		time.Sleep(backoff)
		// Exponential backoff, but cap at 5 minutes
		if backoff < 5*time.Minute {
			backoff *= 2
			if backoff > 5*time.Minute {
				backoff = 5 * time.Minute
			}
		}
	}
	return errors.New("all retry attempts failed")
}

func (w *WallexExchange) FetchCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]candle.Candle, error) {
	if !tfutils.IsValidTimeframe(timeframe) {
		return nil, fmt.Errorf("unsupported timeframe: %s", timeframe)
	}

	normalizedTimeframe := NormalizedTimeframe(timeframe)
	normalizedSymbol := NormalizeSymbol(symbol)

	var wallexCandles []*wallex.Candle

	select {
	case <-ctx.Done():
		utils.GetLogger().Printf("Exchange | %s FetchCandles timeout", w.Name())
		return nil, ctx.Err()

	default:
		err := retry(3, 2*time.Second, func() error {
			var err error
			wallexCandles, err = w.client.Candles(normalizedSymbol, normalizedTimeframe, start, end)
			if err != nil {
				return fmt.Errorf("fetching candles: %w", err)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("FetchCandles failed: %w", err)
		}
	}

	var candles []candle.Candle
	for _, wc := range wallexCandles {
		open, _ := strconv.ParseFloat(string(wc.Open), 64)
		high, _ := strconv.ParseFloat(string(wc.High), 64)
		low, _ := strconv.ParseFloat(string(wc.Low), 64)
		close, _ := strconv.ParseFloat(string(wc.Close), 64)
		volume, _ := strconv.ParseFloat(string(wc.Volume), 64)

		c := candle.Candle{
			Timestamp: wc.Timestamp.UTC().Truncate(time.Minute),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    volume,
			Symbol:    symbol,
			Timeframe: timeframe,
			Source:    w.Name(),
		}

		// Skip invalid candles
		if err := c.Validate(); err != nil {
			continue
		}

		candles = append(candles, c)
	}

	return candles, nil
}

// FetchLatestCandles fetches the most recent candles for a symbol and timeframe
func (w *WallexExchange) FetchLatestCandles(ctx context.Context, symbol, timeframe string, count int) ([]candle.Candle, error) {
	end := time.Now().UTC()
	duration := tfutils.GetTimeframeDuration(timeframe)
	if duration == 0 {
		return nil, fmt.Errorf("invalid timeframe: %s", timeframe)
	}

	start := end.Add(-duration * time.Duration(count))

	return w.FetchCandles(ctx, symbol, timeframe, start, end)
}

// FetchLatestPrice fetches the last traded price for a symbol.
func (w *WallexExchange) FetchLatestPrice(ctx context.Context, symbol string) (float64, error) {
	select {
	case <-ctx.Done():
		utils.GetLogger().Printf("Exchange | %s FetchLatestPrice timeout", w.Name())
		return 0, ctx.Err()

	default:
		var trades []*wallex.MarketTrade
		err := retry(3, 2*time.Second, func() error {
			var err error
			normalizedSymbol := NormalizeSymbol(symbol)
			trades, err = w.client.MarketTrades(normalizedSymbol)
			if err != nil {
				return fmt.Errorf("fetching latest trades: %w", err)
			}
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("latest price failed: %w", err)
		}

		if len(trades) == 0 {
			return 0, fmt.Errorf("no trades found for symbol: %s", symbol)
		}

		price, err := strconv.ParseFloat(string(trades[0].Price), 64)
		if err != nil {
			return 0, fmt.Errorf("parsing trade price: %w", err)
		}
		if price <= 0 {
			return 0, fmt.Errorf("non-positive trade price for %s", symbol)
		}
		return price, nil
	}
}
