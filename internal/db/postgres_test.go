package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnquant/signalbot/internal/candle"
	"github.com/vnquant/signalbot/internal/db/conf"
	"github.com/vnquant/signalbot/internal/journal"
	"github.com/vnquant/signalbot/internal/signal"
)

// Integration tests against a throwaway Postgres database. They are skipped
// automatically when no local Postgres is reachable.

func newTestStorage(t *testing.T) (Storage, func()) {
	t.Helper()
	cfg, cleanup := conf.NewTestConfig(t)
	store, err := New(*cfg)
	require.NoError(t, err)
	return store, cleanup
}

func TestPostgres_SignalLifecycle(t *testing.T) {
	store, cleanup := newTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	ts := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	s := signal.New("BTC-USDT", "1d", ts, signal.StrongBuy, 86000, 85)
	s.AddReason("trend", 100, "price above both averages")
	s.StopLoss = 81700
	s.TakeProfit = 94600
	s.RiskReward = 2.0
	s.PositionSizePct = 8.5
	require.NoError(t, store.SaveSignal(ctx, s))

	got, err := store.GetSignal(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s.Symbol, got.Symbol)
	assert.Equal(t, signal.StrongBuy, got.Type)
	assert.InDelta(t, 85, got.Confidence, 0.001)
	require.Len(t, got.Reasoning, 1)
	assert.Equal(t, "trend", got.Reasoning[0].Layer)
	assert.True(t, got.Timestamp.Equal(ts))

	require.NoError(t, store.MarkExecuted(ctx, s.ID, 86100))

	closedAt := ts.AddDate(0, 0, 4)
	require.NoError(t, store.CloseSignal(ctx, s.ID, 94600, signal.ClosedTakeProfit, 9.87, 4, closedAt))

	got, err = store.GetSignal(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.IsClosed)
	assert.Equal(t, signal.ClosedTakeProfit, got.CloseReason)
	assert.True(t, got.CloseTime.Equal(closedAt))

	// Double close is rejected.
	assert.Error(t, store.CloseSignal(ctx, s.ID, 95000, signal.ClosedManual, 10, 5, closedAt))

	closed, err := store.GetClosedSignals(ctx, "BTC-USDT")
	require.NoError(t, err)
	assert.Len(t, closed, 1)

	open, err := store.GetOpenSignals(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestPostgres_SaveSignalUpsert(t *testing.T) {
	store, cleanup := newTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	s := signal.New("ETH-USDT", "1d", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), signal.WeakBuy, 2500, 65)
	require.NoError(t, store.SaveSignal(ctx, s))

	s.Type = signal.StrongBuy
	s.Confidence = 82
	require.NoError(t, store.SaveSignal(ctx, s))

	got, err := store.GetSignal(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, signal.StrongBuy, got.Type)
	assert.InDelta(t, 82, got.Confidence, 0.001)

	recent, err := store.GetRecentSignals(ctx, "ETH-USDT", 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestPostgres_CandlesRoundTrip(t *testing.T) {
	store, cleanup := newTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	mk := func(day int, source string, close float64) candle.Candle {
		return candle.Candle{
			Timestamp: base.AddDate(0, 0, day),
			Open:      close * 0.99,
			High:      close * 1.01,
			Low:       close * 0.98,
			Close:     close,
			Volume:    1000,
			Symbol:    "BTC-USDT",
			Timeframe: "1d",
			Source:    source,
		}
	}

	candles := []candle.Candle{mk(0, "binance", 100), mk(1, "binance", 101), mk(1, "synthetic", 101)}
	require.NoError(t, store.SaveCandles(ctx, candles))

	got, err := store.GetCandles(ctx, "BTC-USDT", "1d", "binance", base, base.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Timestamp.Equal(base))

	// Empty source matches all sources.
	got, err = store.GetCandles(ctx, "BTC-USDT", "1d", "", base, base.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Len(t, got, 3)

	// Conflict on (symbol, timeframe, timestamp, source) updates in place.
	require.NoError(t, store.SaveCandles(ctx, []candle.Candle{mk(0, "binance", 105)}))
	got, err = store.GetCandles(ctx, "BTC-USDT", "1d", "binance", base, base.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 105, got[0].Close, 0.001)

	latest, err := store.GetLatestCandle(ctx, "BTC-USDT", "1d")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.Timestamp.Equal(base.AddDate(0, 0, 1)))

	missing, err := store.GetLatestCandle(ctx, "ADA-USDT", "1d")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPostgres_Events(t *testing.T) {
	store, cleanup := newTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.LogEvent(ctx, journal.Event{
		Time:        base,
		Type:        journal.TypeSignal,
		Description: "signal generated",
		Data:        map[string]any{"symbol": "BTC-USDT"},
	}))
	require.NoError(t, store.LogEvent(ctx, journal.Event{
		Time:        base.AddDate(0, 0, 1),
		Type:        journal.TypeDataIntegrity,
		Description: "non-positive close",
	}))

	events, err := store.GetEvents(ctx, journal.TypeSignal, base, base.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "BTC-USDT", events[0].Data["symbol"])
}
