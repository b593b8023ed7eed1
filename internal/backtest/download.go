package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vnquant/signalbot/internal/candle"
	"github.com/vnquant/signalbot/internal/db"
	"github.com/vnquant/signalbot/internal/tfutils"
)

// DownloadConfig holds the knobs for fetching historical candles.
type DownloadConfig struct {
	ProxyURL         string
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
}

func DefaultDownloadConfig() DownloadConfig {
	return DownloadConfig{
		RetryMaxAttempts: 3,
		RetryBaseDelay:   2 * time.Second,
		RetryMaxDelay:    30 * time.Second,
	}
}

// LoadCandles loads candles for simulation, downloading from the public API
// when the database has none for the range.
func LoadCandles(
	ctx context.Context,
	storage db.Storage,
	symbol, timeframe string,
	from, to time.Time,
	dcfg DownloadConfig,
) ([]candle.Candle, error) {
	// Try the database first
	candles, err := storage.GetCandles(ctx, symbol, timeframe, "", from, to.Add(-time.Nanosecond)) // ensure exclusive upper bound
	if err != nil {
		return nil, fmt.Errorf("LoadCandles | error loading candles from database: %w", err)
	}

	// If no candles found in database, download from public API
	if len(candles) == 0 {
		log.Printf("LoadCandles | No historical candles found in DB for %s, downloading from public API...", symbol)

		// Download candles in chunks to avoid hitting API limits
		currTime := from
		maxChunkDays := 14 // Download two weeks at a time
		allDownloadedCandles := make([]candle.Candle, 0)

		// Rate limiter to stay clear of public API limits
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		for currTime.Before(to) {
			next := currTime.Add(time.Duration(maxChunkDays) * 24 * time.Hour)
			if next.After(to) {
				next = to
			}

			// Wait for rate limiter
			<-ticker.C

			downloadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			downloadedCandles, err := downloadCandlesWithRetry(
				downloadCtx,
				symbol,
				timeframe,
				currTime,
				next,
				dcfg,
			)
			cancel()

			if err != nil {
				return nil, fmt.Errorf("error fetching candles from %s to %s: %w",
					currTime.Format(time.RFC3339), next.Format(time.RFC3339), err)
			}

			log.Printf("LoadCandles | Downloaded %d candles for %s from %s to %s",
				len(downloadedCandles), symbol, currTime.Format("2006-01-02"), next.Format("2006-01-02"))

			allDownloadedCandles = append(allDownloadedCandles, downloadedCandles...)

			currTime = next
		}

		if len(allDownloadedCandles) == 0 {
			return nil, fmt.Errorf("no candles available for %s from %s to %s",
				symbol, from.Format(time.RFC3339), to.Format(time.RFC3339))
		}

		// Sort, trim, fill gaps and eliminate duplicates
		processedCandles := processCandles(allDownloadedCandles, symbol, timeframe, from, to)

		if len(processedCandles) > 0 {
			saveCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err = storage.SaveCandles(saveCtx, processedCandles)
			cancel()

			if err != nil {
				return nil, fmt.Errorf("error saving candles to database: %w", err)
			}

			log.Printf("LoadCandles | Saved %d processed candles to database", len(processedCandles))
		}

		candles, err = storage.GetCandles(ctx, symbol, timeframe, "", from, to.Add(-time.Nanosecond))
		if err != nil {
			return nil, fmt.Errorf("LoadCandles | error loading downloaded candles: %w", err)
		}
	}

	// Filter out any candle with timestamp >= to (exclusive upper bound)
	var filtered []candle.Candle
	for _, c := range candles {
		if c.Timestamp.Before(to) {
			filtered = append(filtered, c)
		}
	}

	return filtered, nil
}

// downloadCandlesWithRetry downloads candles with exponential backoff retries.
func downloadCandlesWithRetry(ctx context.Context, symbol, timeframe string, start, end time.Time, dcfg DownloadConfig) ([]candle.Candle, error) {
	const (
		backoffFactor = 2.0
		jitterRange   = 0.1 // ±10% jitter
	)

	if !tfutils.IsValidTimeframe(timeframe) {
		return nil, fmt.Errorf("unsupported timeframe: %s", timeframe)
	}

	// Convert symbol to uppercase and format for API
	apiSymbol := strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))

	startMs := start.UnixNano() / int64(time.Millisecond)
	endMs := end.UnixNano() / int64(time.Millisecond)

	apiURL := fmt.Sprintf(
		"https://api.binance.com/api/v3/klines?symbol=%s&interval=%s&startTime=%d&endTime=%d",
		apiSymbol, timeframe, startMs, endMs,
	)

	log.Printf("downloadCandlesWithRetry | API URL: %s", apiURL)

	// HTTP client with timeout and optional proxy
	transport := &http.Transport{}
	if dcfg.ProxyURL != "" {
		proxyParsed, err := url.Parse(dcfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyParsed)
		log.Printf("downloadCandlesWithRetry | Using proxy: %s", dcfg.ProxyURL)
	}

	client := &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
	}

	maxRetries := dcfg.RetryMaxAttempts
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "GET", apiURL, nil)
		if err != nil {
			return nil, fmt.Errorf("error creating request: %w", err)
		}

		req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36")
		req.Header.Set("Accept", "application/json")

		log.Printf("downloadCandlesWithRetry | Attempt %d/%d for %s", attempt+1, maxRetries, symbol)

		resp, err := client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("network error on attempt %d: %w", attempt+1, err)
			log.Printf("downloadCandlesWithRetry | %v", lastErr)

			if attempt < maxRetries-1 {
				delay := calculateRetryDelay(attempt, dcfg.RetryBaseDelay, dcfg.RetryMaxDelay, backoffFactor, jitterRange)
				log.Printf("downloadCandlesWithRetry | Retrying in %v...", delay)

				select {
				case <-ctx.Done():
					return nil, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
				case <-time.After(delay):
					continue
				}
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()

			lastErr = fmt.Errorf("API error (status %d) on attempt %d: %s", resp.StatusCode, attempt+1, string(body))
			log.Printf("downloadCandlesWithRetry | %v", lastErr)

			if isRetryableHTTPStatus(resp.StatusCode) && attempt < maxRetries-1 {
				delay := calculateRetryDelay(attempt, dcfg.RetryBaseDelay, dcfg.RetryMaxDelay, backoffFactor, jitterRange)
				log.Printf("downloadCandlesWithRetry | Retrying in %v...", delay)

				select {
				case <-ctx.Done():
					return nil, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
				case <-time.After(delay):
					continue
				}
			}
			continue
		}

		bodyBytes, err := io.ReadAll(resp.Body)
		resp.Body.Close()

		if err != nil {
			lastErr = fmt.Errorf("error reading response body on attempt %d: %w", attempt+1, err)
			log.Printf("downloadCandlesWithRetry | %v", lastErr)

			if attempt < maxRetries-1 {
				delay := calculateRetryDelay(attempt, dcfg.RetryBaseDelay, dcfg.RetryMaxDelay, backoffFactor, jitterRange)
				log.Printf("downloadCandlesWithRetry | Retrying in %v...", delay)

				select {
				case <-ctx.Done():
					return nil, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
				case <-time.After(delay):
					continue
				}
			}
			continue
		}

		var rawCandles [][]any
		if err := json.Unmarshal(bodyBytes, &rawCandles); err != nil {
			lastErr = fmt.Errorf("JSON decode error on attempt %d: %w", attempt+1, err)
			log.Printf("downloadCandlesWithRetry | %v", lastErr)

			if attempt < maxRetries-1 {
				delay := calculateRetryDelay(attempt, dcfg.RetryBaseDelay, dcfg.RetryMaxDelay, backoffFactor, jitterRange)
				log.Printf("downloadCandlesWithRetry | Retrying in %v...", delay)

				select {
				case <-ctx.Done():
					return nil, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
				case <-time.After(delay):
					continue
				}
			}
			continue
		}

		candles := make([]candle.Candle, 0, len(rawCandles))
		for _, raw := range rawCandles {
			if len(raw) < 6 {
				continue // Skip invalid entries
			}

			var timestamp int64
			switch v := raw[0].(type) {
			case float64:
				timestamp = int64(v)
			case string:
				timestamp, err = strconv.ParseInt(v, 10, 64)
				if err != nil {
					log.Printf("downloadCandlesWithRetry | Error parsing timestamp string: %v", err)
					continue
				}
			default:
				log.Printf("downloadCandlesWithRetry | Unexpected timestamp type: %T", v)
				continue
			}

			parseNum := func(val any) float64 {
				switch n := val.(type) {
				case float64:
					return n
				case string:
					f, err := strconv.ParseFloat(n, 64)
					if err != nil {
						log.Printf("downloadCandlesWithRetry | Error parsing float string: %v", err)
						return 0
					}
					return f
				default:
					log.Printf("downloadCandlesWithRetry | Unexpected number type: %T", n)
					return 0
				}
			}

			c := candle.Candle{
				Timestamp: time.Unix(timestamp/1000, 0).UTC(),
				Open:      parseNum(raw[1]),
				High:      parseNum(raw[2]),
				Low:       parseNum(raw[3]),
				Close:     parseNum(raw[4]),
				Volume:    parseNum(raw[5]),
				Symbol:    symbol,
				Timeframe: timeframe,
				Source:    "binance",
			}

			candles = append(candles, c)
		}

		log.Printf("downloadCandlesWithRetry | Successfully downloaded %d candles for %s on attempt %d", len(candles), symbol, attempt+1)
		return candles, nil
	}

	return nil, fmt.Errorf("failed to download candles after %d attempts, last error: %w", maxRetries, lastErr)
}

// calculateRetryDelay calculates the delay for the next retry attempt with exponential backoff and jitter
func calculateRetryDelay(attempt int, baseDelay, maxDelay time.Duration, backoffFactor, jitterRange float64) time.Duration {
	delay := float64(baseDelay) * math.Pow(backoffFactor, float64(attempt))

	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	// Jitter avoids the thundering herd problem
	jitter := delay * jitterRange * (2*rand.Float64() - 1)
	delay += jitter

	if delay < 0 {
		delay = float64(baseDelay)
	}

	return time.Duration(delay)
}

// isRetryableHTTPStatus determines if an HTTP status code indicates a retryable error
func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// processCandles sorts, trims, fills missing bars and eliminates duplicates.
func processCandles(candles []candle.Candle, symbol, timeframe string, start, to time.Time) []candle.Candle {
	if len(candles) == 0 {
		return candles
	}

	candle.SortByTime(candles)

	duration := tfutils.GetTimeframeDuration(timeframe)

	// Eliminate duplicates, keeping the first occurrence per truncated timestamp
	candleMap := make(map[time.Time]candle.Candle)
	for _, c := range candles {
		c.Timestamp = c.Timestamp.Truncate(duration)
		if _, exists := candleMap[c.Timestamp]; !exists {
			candleMap[c.Timestamp] = c
		}
	}

	// Trim to the requested time range (exclusive upper bound)
	var trimmed []candle.Candle
	for ts, c := range candleMap {
		if (ts.Equal(start) || ts.After(start)) && ts.Before(to) {
			trimmed = append(trimmed, c)
		}
	}
	candle.SortByTime(trimmed)

	if len(trimmed) == 0 {
		return trimmed
	}

	// Fill gaps with flat synthetic bars at the previous close
	var complete []candle.Candle
	currentTime := trimmed[0].Timestamp
	lastTime := trimmed[len(trimmed)-1].Timestamp
	basePrice := trimmed[0].Close

	i := 0
	for !currentTime.After(lastTime) && currentTime.Before(to) {
		if i < len(trimmed) && trimmed[i].Timestamp.Equal(currentTime) {
			complete = append(complete, trimmed[i])
			basePrice = trimmed[i].Close
			i++
		} else {
			complete = append(complete, candle.Candle{
				Timestamp: currentTime,
				Open:      basePrice,
				High:      basePrice,
				Low:       basePrice,
				Close:     basePrice,
				Volume:    0, // Synthetic candles have zero volume
				Symbol:    symbol,
				Timeframe: timeframe,
				Source:    "synthetic",
			})
		}

		currentTime = currentTime.Add(duration)
	}

	return complete
}
