// Package backtest
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/vnquant/signalbot/internal/candle"
	"github.com/vnquant/signalbot/internal/db"
	"github.com/vnquant/signalbot/internal/engine"
	"github.com/vnquant/signalbot/internal/indicator"
	"github.com/vnquant/signalbot/internal/journal"
	"github.com/vnquant/signalbot/internal/signal"
)

// Evaluator produces a signal or a skip result for one symbol at one bar.
type Evaluator interface {
	Evaluate(ctx context.Context, symbol, timeframe string, ts time.Time, price float64, snap indicator.Snapshot, totalCapital float64) (*signal.Signal, *engine.Skipped, error)
}

// SnapshotBuilder computes the indicator snapshot for the last bar of a series.
type SnapshotBuilder interface {
	Compute(candles []candle.Candle) (indicator.Snapshot, error)
}

// Config holds the simulator knobs.
type Config struct {
	InitialCapital   float64
	MaxOpenPositions int
	MaxHoldingBars   int
	Timeframe        string
	ShowProgress     bool
}

func DefaultConfig() Config {
	return Config{
		InitialCapital:   10000,
		MaxOpenPositions: 5,
		MaxHoldingBars:   20,
		Timeframe:        "1d",
		ShowProgress:     true,
	}
}

// openPosition wraps an executed signal with simulation bookkeeping.
type openPosition struct {
	sig              signal.Signal
	entryIndex       int
	capitalCommitted float64
}

// Simulator advances positions bar-by-bar across symbols, opening on
// actionable signals under a shared capital budget and closing on stop-loss,
// take-profit or timeout. All state transitions are strictly ordered by
// simulated time; symbols share a single capital ledger.
type Simulator struct {
	cfg     Config
	eval    Evaluator
	builder SnapshotBuilder
	store   db.Storage

	available float64
	committed float64
	realized  float64

	open map[string][]*openPosition

	results *Results
}

func NewSimulator(cfg Config, eval Evaluator, builder SnapshotBuilder, store db.Storage) *Simulator {
	return &Simulator{
		cfg:     cfg,
		eval:    eval,
		builder: builder,
		store:   store,
	}
}

// Run simulates the given candle series, one per symbol. Candles must share
// the simulator's timeframe; series are sorted internally. Symbols are
// processed in lexicographic order each bar so runs are reproducible.
func (s *Simulator) Run(ctx context.Context, series map[string][]candle.Candle) (*Results, error) {
	if len(series) == 0 {
		return nil, errors.New("no candle series to simulate")
	}

	symbols := make([]string, 0, len(series))
	for sym := range series {
		candle.SortByTime(series[sym])
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	timeline := buildTimeline(series)
	if len(timeline) == 0 {
		return nil, errors.New("no candle series to simulate")
	}
	log.Printf("Run | Simulating %d bars across %d symbols", len(timeline), len(symbols))

	s.available = s.cfg.InitialCapital
	s.committed = 0
	s.realized = 0
	s.open = make(map[string][]*openPosition)
	s.results = newResults(s.cfg.InitialCapital, symbols)

	// Per-symbol cursor into its candle series and last known good close,
	// used to unwind positions when a symbol halts.
	cursor := make(map[string]int, len(symbols))
	lastClose := make(map[string]float64, len(symbols))
	halted := make(map[string]bool, len(symbols))

	var bar *progressbar.ProgressBar
	if s.cfg.ShowProgress {
		bar = progressbar.NewOptions(len(timeline),
			progressbar.OptionSetDescription("simulating"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	for _, ts := range timeline {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		for _, sym := range symbols {
			if halted[sym] {
				continue
			}
			candles := series[sym]
			i := cursor[sym]
			if i >= len(candles) {
				continue
			}
			// A cursor lagging the timeline means the series repeated a
			// timestamp: the bar order for this symbol is corrupt.
			if candles[i].Timestamp.Before(ts) {
				s.haltSymbol(ctx, sym, ts, fmt.Sprintf("non-increasing timestamp at %s", candles[i].Timestamp.Format(time.RFC3339)), lastClose[sym], i)
				halted[sym] = true
				continue
			}
			if !candles[i].Timestamp.Equal(ts) {
				continue
			}
			cursor[sym] = i + 1

			c := candles[i]
			if c.Close <= 0 || c.Low <= 0 {
				s.haltSymbol(ctx, sym, ts, fmt.Sprintf("non-positive price at %s", ts.Format(time.RFC3339)), lastClose[sym], i)
				halted[sym] = true
				continue
			}
			lastClose[sym] = c.Close

			s.advancePositions(ctx, sym, i, c)

			if err := s.tryOpen(ctx, sym, i, candles[:i+1], c); err != nil {
				if errors.Is(err, engine.ErrDataIntegrity) {
					s.haltSymbol(ctx, sym, ts, err.Error(), c.Close, i)
					halted[sym] = true
					continue
				}
				return nil, err
			}
		}

		s.results.EquityCurve = append(s.results.EquityCurve, s.cfg.InitialCapital+s.realized)
		if bar != nil {
			bar.Add(1)
		}
	}

	// Close whatever is still open at the last seen price.
	for _, sym := range symbols {
		for _, pos := range s.open[sym] {
			s.closePosition(ctx, pos, lastClose[sym], signal.ClosedManual, cursor[sym]-1, timeline[len(timeline)-1])
		}
		s.open[sym] = nil
	}

	s.results.finish(s.available)
	return s.results, nil
}

// advancePositions checks every open position on the symbol against the bar.
// When stop-loss and take-profit are both crossed within the bar (gap
// scenario), stop-loss wins: protect capital first.
func (s *Simulator) advancePositions(ctx context.Context, sym string, barIndex int, c candle.Candle) {
	remaining := s.open[sym][:0]
	for _, pos := range s.open[sym] {
		switch {
		case c.Low <= pos.sig.StopLoss:
			s.closePosition(ctx, pos, pos.sig.StopLoss, signal.ClosedStopLoss, barIndex, c.Timestamp)
		case c.High >= pos.sig.TakeProfit:
			s.closePosition(ctx, pos, pos.sig.TakeProfit, signal.ClosedTakeProfit, barIndex, c.Timestamp)
		case barIndex-pos.entryIndex >= s.cfg.MaxHoldingBars:
			s.closePosition(ctx, pos, c.Close, signal.ClosedTimeout, barIndex, c.Timestamp)
		default:
			remaining = append(remaining, pos)
		}
	}
	s.open[sym] = remaining
}

func (s *Simulator) tryOpen(ctx context.Context, sym string, barIndex int, window []candle.Candle, c candle.Candle) error {
	if s.openCount() >= s.cfg.MaxOpenPositions || s.available <= 0 {
		return nil
	}

	snap, err := s.builder.Compute(window)
	if err != nil {
		if errors.Is(err, indicator.ErrUnavailable) {
			s.results.SkippedBars++
			return nil
		}
		return err
	}

	sig, skipped, err := s.eval.Evaluate(ctx, sym, s.cfg.Timeframe, c.Timestamp, c.Close, snap, s.cfg.InitialCapital)
	if err != nil {
		if errors.Is(err, indicator.ErrUnavailable) {
			s.results.SkippedBars++
			return nil
		}
		return err
	}
	if skipped != nil {
		s.results.FilteredBars++
		return nil
	}
	if !sig.IsBuy() || sig.PositionSizePct <= 0 {
		return nil
	}

	commit := sig.PositionSizePct / 100 * s.cfg.InitialCapital
	if commit > s.available {
		// Expected outcome under a tight budget, not an error.
		s.results.InsufficientCapital++
		return nil
	}

	if err := s.store.SaveSignal(ctx, *sig); err != nil {
		log.Printf("tryOpen | Error saving signal for %s: %v", sym, err)
	}
	if err := s.store.MarkExecuted(ctx, sig.ID, c.Close); err != nil {
		log.Printf("tryOpen | Error marking signal executed for %s: %v", sym, err)
	}
	sig.IsExecuted = true
	sig.ExecutionPrice = c.Close

	s.available -= commit
	s.committed += commit
	s.open[sym] = append(s.open[sym], &openPosition{
		sig:              *sig,
		entryIndex:       barIndex,
		capitalCommitted: commit,
	})
	return nil
}

func (s *Simulator) closePosition(ctx context.Context, pos *openPosition, exitPrice float64, reason string, barIndex int, ts time.Time) {
	entry := pos.sig.ExecutionPrice
	plPct := (exitPrice - entry) / entry * 100
	holdingBars := barIndex - pos.entryIndex

	credit := pos.capitalCommitted * (1 + plPct/100)
	s.available += credit
	s.committed -= pos.capitalCommitted
	s.realized += credit - pos.capitalCommitted

	if err := s.store.CloseSignal(ctx, pos.sig.ID, exitPrice, reason, plPct, holdingBars, ts); err != nil {
		log.Printf("closePosition | Error closing signal %s: %v", pos.sig.ID, err)
	}

	s.results.record(TradeLogEntry{
		Symbol:      pos.sig.Symbol,
		Entry:       entry,
		Exit:        exitPrice,
		EntryTime:   pos.sig.Timestamp,
		ExitTime:    ts,
		PnL:         credit - pos.capitalCommitted,
		PnLPct:      plPct,
		Reason:      reason,
		Confidence:  pos.sig.Confidence,
		HoldingBars: holdingBars,
	})
}

func (s *Simulator) haltSymbol(ctx context.Context, sym string, ts time.Time, reason string, lastGoodClose float64, barIndex int) {
	log.Printf("haltSymbol | %s halted: %s", sym, reason)
	s.results.Halted[sym] = reason

	if err := s.store.LogEvent(ctx, journal.Event{
		Time:        ts,
		Type:        journal.TypeDataIntegrity,
		Description: fmt.Sprintf("simulation halted for %s", sym),
		Data:        map[string]any{"symbol": sym, "reason": reason},
	}); err != nil {
		log.Printf("haltSymbol | Error journaling halt for %s: %v", sym, err)
	}

	// Unwind open positions at the last known good price so the ledger
	// stays consistent.
	if lastGoodClose > 0 {
		for _, pos := range s.open[sym] {
			s.closePosition(ctx, pos, lastGoodClose, signal.ClosedManual, barIndex, ts)
		}
		s.open[sym] = nil
	}
}

func (s *Simulator) openCount() int {
	n := 0
	for _, positions := range s.open {
		n += len(positions)
	}
	return n
}

// AvailableCapital exposes the ledger balance for invariant checks.
func (s *Simulator) AvailableCapital() float64 { return s.available }

// CommittedCapital exposes the committed sum for invariant checks.
func (s *Simulator) CommittedCapital() float64 { return s.committed }

// buildTimeline returns the sorted union of all bar timestamps.
func buildTimeline(series map[string][]candle.Candle) []time.Time {
	seen := make(map[time.Time]bool)
	var timeline []time.Time
	for _, candles := range series {
		for _, c := range candles {
			ts := c.Timestamp.UTC()
			if !seen[ts] {
				seen[ts] = true
				timeline = append(timeline, ts)
			}
		}
	}
	sort.Slice(timeline, func(i, j int) bool { return timeline[i].Before(timeline[j]) })
	return timeline
}
