// Package perf
package perf

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vnquant/signalbot/internal/signal"
)

// SignalHistory provides read access to closed signals for one symbol,
// ordered by close time.
type SignalHistory interface {
	GetClosedSignals(ctx context.Context, symbol string) ([]signal.Signal, error)
}

// Config holds the filter thresholds. Win rates and profits are whole-number
// percentages.
type Config struct {
	MinTrades        int     `yaml:"min_trades"`
	MinWinRate       float64 `yaml:"min_win_rate"`
	GoodWinRate      float64 `yaml:"good_win_rate"`
	MinAvgProfitPct  float64 `yaml:"min_avg_profit_pct"`
	GoodAvgProfitPct float64 `yaml:"good_avg_profit_pct"`
	MaxLossStreak    int     `yaml:"max_loss_streak"`
	CooldownDays     int     `yaml:"cooldown_days"`
	RecentWindow     int     `yaml:"recent_window"`
	RecentHighRate   float64 `yaml:"recent_high_rate"`
	RecentLowRate    float64 `yaml:"recent_low_rate"`
}

func DefaultConfig() Config {
	return Config{
		MinTrades:        5,
		MinWinRate:       40,
		GoodWinRate:      70,
		MinAvgProfitPct:  -2,
		GoodAvgProfitPct: 5,
		MaxLossStreak:    3,
		CooldownDays:     7,
		RecentWindow:     5,
		RecentHighRate:   80,
		RecentLowRate:    20,
	}
}

// Stats aggregates a symbol's closed-trade history. The closed-signal store
// stays authoritative; stats are recomputed on demand.
type Stats struct {
	TradeCount        int
	Wins              int
	WinRate           float64
	AvgProfitPct      float64
	RecentWinRate     float64
	ConsecutiveLosses int
	LastTradeAt       time.Time
}

// Decision is the outcome of the skip policy for a symbol.
type Decision struct {
	Skip                  bool
	Reason                string
	CooldownRemainingDays int
}

// Filter suppresses signals for chronically losing symbols and nudges
// confidence based on per-symbol history.
type Filter struct {
	cfg   Config
	store SignalHistory
	now   func() time.Time
}

func NewFilter(cfg Config, store SignalHistory) *Filter {
	return &Filter{cfg: cfg, store: store, now: time.Now}
}

// Stats computes the per-symbol aggregate from the closed-signal store.
func (f *Filter) Stats(ctx context.Context, symbol string) (Stats, error) {
	closed, err := f.store.GetClosedSignals(ctx, symbol)
	if err != nil {
		return Stats{}, fmt.Errorf("loading closed signals for %s: %w", symbol, err)
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].CloseTime.Before(closed[j].CloseTime) })

	var st Stats
	st.TradeCount = len(closed)
	if st.TradeCount == 0 {
		return st, nil
	}

	var totalProfit float64
	for i := range closed {
		totalProfit += closed[i].ProfitLossPct
		if closed[i].ProfitLossPct > 0 {
			st.Wins++
		}
	}
	st.WinRate = float64(st.Wins) / float64(st.TradeCount) * 100
	st.AvgProfitPct = totalProfit / float64(st.TradeCount)
	st.LastTradeAt = closed[st.TradeCount-1].CloseTime

	// Loss streak counted from the most recent trade backward, reset by any win.
	for i := st.TradeCount - 1; i >= 0; i-- {
		if closed[i].ProfitLossPct > 0 {
			break
		}
		st.ConsecutiveLosses++
	}

	window := f.cfg.RecentWindow
	if window > st.TradeCount {
		window = st.TradeCount
	}
	recentWins := 0
	for i := st.TradeCount - window; i < st.TradeCount; i++ {
		if closed[i].ProfitLossPct > 0 {
			recentWins++
		}
	}
	st.RecentWinRate = float64(recentWins) / float64(window) * 100

	return st, nil
}

// Evaluate applies the skip policy in priority order: insufficient history
// never skips, then loss-streak cooldown, then chronic win-rate and average
// profit checks.
func (f *Filter) Evaluate(ctx context.Context, symbol string) (Decision, error) {
	st, err := f.Stats(ctx, symbol)
	if err != nil {
		return Decision{}, err
	}

	if st.TradeCount < f.cfg.MinTrades {
		return Decision{
			Skip:   false,
			Reason: fmt.Sprintf("only %d closed trades, below %d required for filtering", st.TradeCount, f.cfg.MinTrades),
		}, nil
	}

	if st.ConsecutiveLosses >= f.cfg.MaxLossStreak {
		elapsedDays := int(f.now().Sub(st.LastTradeAt).Hours() / 24)
		remaining := f.cfg.CooldownDays - elapsedDays
		if remaining > 0 {
			return Decision{
				Skip:                  true,
				Reason:                fmt.Sprintf("%d consecutive losses, cooling down for %d more days", st.ConsecutiveLosses, remaining),
				CooldownRemainingDays: remaining,
			}, nil
		}
	}

	if st.WinRate < f.cfg.MinWinRate {
		return Decision{
			Skip:   true,
			Reason: fmt.Sprintf("win rate %.1f%% below minimum %.1f%%", st.WinRate, f.cfg.MinWinRate),
		}, nil
	}

	if st.AvgProfitPct < f.cfg.MinAvgProfitPct {
		return Decision{
			Skip:   true,
			Reason: fmt.Sprintf("average profit %.2f%% below minimum %.2f%%", st.AvgProfitPct, f.cfg.MinAvgProfitPct),
		}, nil
	}

	return Decision{Skip: false, Reason: "performance acceptable"}, nil
}

// Adjust nudges the base confidence by up to ±20 points based on the symbol's
// history. Insufficient history passes the base through unchanged, with a
// reason distinct from a neutral-stats zero adjustment.
func (f *Filter) Adjust(ctx context.Context, symbol string, base float64) (float64, string, error) {
	st, err := f.Stats(ctx, symbol)
	if err != nil {
		return 0, "", err
	}

	if st.TradeCount < f.cfg.MinTrades {
		return clamp(base, 0, 100),
			fmt.Sprintf("insufficient history (%d trades), no adjustment", st.TradeCount),
			nil
	}

	// Win-rate component scales linearly between the minimum and good win
	// rates across the full range, so the adjustment is a reproducible float.
	span := f.cfg.GoodWinRate - f.cfg.MinWinRate
	winAdj := clamp((st.WinRate-f.cfg.MinWinRate)/span*20-10, -10, 10)

	var profitAdj float64
	switch {
	case st.AvgProfitPct >= f.cfg.GoodAvgProfitPct:
		profitAdj = 5
	case st.AvgProfitPct <= 0:
		profitAdj = -5
	}

	var recentAdj float64
	switch {
	case st.RecentWinRate >= f.cfg.RecentHighRate:
		recentAdj = 5
	case st.RecentWinRate <= f.cfg.RecentLowRate:
		recentAdj = -5
	}

	total := clamp(winAdj+profitAdj+recentAdj, -20, 20)
	adjusted := clamp(base+total, 0, 100)
	reason := fmt.Sprintf("history adjustment %+.1f (win rate %.1f%% %+.1f, avg profit %.2f%% %+.1f, recent %.1f%% %+.1f)",
		total, st.WinRate, winAdj, st.AvgProfitPct, profitAdj, st.RecentWinRate, recentAdj)
	return adjusted, reason, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
