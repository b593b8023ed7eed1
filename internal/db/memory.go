package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vnquant/signalbot/internal/candle"
	"github.com/vnquant/signalbot/internal/journal"
	"github.com/vnquant/signalbot/internal/signal"
)

// MemoryStorage is an in-memory Storage used by the simulator and tests.
type MemoryStorage struct {
	mu sync.RWMutex

	// Signals by ID
	signals map[string]signal.Signal

	// Candles keyed by symbol|timeframe|timestamp|source
	candles map[string]candle.Candle

	// Events (append-only)
	events []journal.Event
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		signals: make(map[string]signal.Signal),
		candles: make(map[string]candle.Candle),
		events:  make([]journal.Event, 0, 1024),
	}
}

// GetDB returns nil for in-memory storage (no SQL database)
func (m *MemoryStorage) GetDB() *sql.DB { return nil }

// -------- SignalStore --------

func (m *MemoryStorage) SaveSignal(ctx context.Context, s signal.Signal) error {
	if s.ID == "" {
		return errors.New("signal ID cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals[s.ID] = s
	return nil
}

func (m *MemoryStorage) GetSignal(ctx context.Context, id string) (*signal.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.signals[id]; ok {
		ss := s
		return &ss, nil
	}
	return nil, nil
}

func (m *MemoryStorage) MarkExecuted(ctx context.Context, id string, executionPrice float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signals[id]
	if !ok {
		return fmt.Errorf("signal %s not found", id)
	}
	if s.IsClosed {
		return fmt.Errorf("signal %s already closed", id)
	}
	s.IsExecuted = true
	s.ExecutionPrice = executionPrice
	m.signals[id] = s
	return nil
}

func (m *MemoryStorage) CloseSignal(ctx context.Context, id string, closePrice float64, reason string, profitLossPct float64, holdingDays int, closedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signals[id]
	if !ok {
		return fmt.Errorf("signal %s not found", id)
	}
	if s.IsClosed {
		return fmt.Errorf("signal %s already closed", id)
	}
	s.IsClosed = true
	s.ClosePrice = closePrice
	s.CloseReason = reason
	s.ProfitLossPct = profitLossPct
	s.HoldingDays = holdingDays
	s.CloseTime = closedAt.UTC()
	m.signals[id] = s
	return nil
}

func (m *MemoryStorage) GetOpenSignals(ctx context.Context) ([]signal.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []signal.Signal
	for _, s := range m.signals {
		if s.IsExecuted && !s.IsClosed {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol == out[j].Symbol {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

func (m *MemoryStorage) GetClosedSignals(ctx context.Context, symbol string) ([]signal.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []signal.Signal
	for _, s := range m.signals {
		if s.IsClosed && strings.EqualFold(s.Symbol, symbol) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CloseTime.Before(out[j].CloseTime) })
	return out, nil
}

func (m *MemoryStorage) GetRecentSignals(ctx context.Context, symbol string, limit int) ([]signal.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []signal.Signal
	for _, s := range m.signals {
		if strings.EqualFold(s.Symbol, symbol) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// -------- CandleStore --------

func candleKey(symbol, timeframe string, ts time.Time, source string) string {
	return strings.ToUpper(symbol) + "|" + timeframe + "|" + ts.UTC().Format(time.RFC3339Nano) + "|" + source
}

func (m *MemoryStorage) SaveCandles(ctx context.Context, candles []candle.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range candles {
		if err := candles[i].Validate(); err != nil {
			return err
		}
		candles[i].Timestamp = candles[i].Timestamp.UTC()
		m.candles[candleKey(candles[i].Symbol, candles[i].Timeframe, candles[i].Timestamp, candles[i].Source)] = candles[i]
	}
	return nil
}

func (m *MemoryStorage) GetCandles(ctx context.Context, symbol, timeframe, source string, start, end time.Time) ([]candle.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start = start.UTC()
	end = end.UTC()
	var out []candle.Candle
	for _, c := range m.candles {
		if !strings.EqualFold(c.Symbol, symbol) || c.Timeframe != timeframe {
			continue
		}
		if source != "" && c.Source != source {
			continue
		}
		if (c.Timestamp.Equal(start) || c.Timestamp.After(start)) && c.Timestamp.Before(end) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryStorage) GetLatestCandle(ctx context.Context, symbol, timeframe string) (*candle.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *candle.Candle
	for _, c := range m.candles {
		if !strings.EqualFold(c.Symbol, symbol) || c.Timeframe != timeframe {
			continue
		}
		if latest == nil || c.Timestamp.After(latest.Timestamp) {
			cc := c
			latest = &cc
		}
	}
	return latest, nil
}

// -------- Journaler --------

func (m *MemoryStorage) LogEvent(ctx context.Context, event journal.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Time = event.Time.UTC()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryStorage) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start = start.UTC()
	end = end.UTC()
	var out []journal.Event
	for _, e := range m.events {
		if e.Type == eventType && (e.Time.Equal(start) || e.Time.After(start)) && e.Time.Before(end) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}
