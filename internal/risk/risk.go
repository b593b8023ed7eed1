// Package risk
package risk

import (
	"errors"
	"fmt"

	"github.com/vnquant/signalbot/internal/indicator"
)

// ErrInvalidRiskInput reports a malformed price/stop relationship or a
// risk/reward below the configured minimum. Callers downgrade the signal to
// NO_ACTION instead of propagating it.
var ErrInvalidRiskInput = errors.New("invalid risk input")

// Config holds all risk thresholds. Percentages are expressed as whole
// numbers (5.0 means 5%).
type Config struct {
	StopLossPct          float64 `yaml:"stop_loss_pct"`
	UseATRStop           bool    `yaml:"use_atr_stop"`
	ATRMultiplier        float64 `yaml:"atr_multiplier"`
	SupportBandMinPct    float64 `yaml:"support_band_min_pct"`
	SupportBandMaxPct    float64 `yaml:"support_band_max_pct"`
	MinStopDistancePct   float64 `yaml:"min_stop_distance_pct"`
	MaxStopDistancePct   float64 `yaml:"max_stop_distance_pct"`
	TakeProfitPct        float64 `yaml:"take_profit_pct"`
	TargetRiskReward     float64 `yaml:"target_risk_reward"`
	ResistanceBandMinPct float64 `yaml:"resistance_band_min_pct"`
	ResistanceBandMaxPct float64 `yaml:"resistance_band_max_pct"`
	MinRiskReward        float64 `yaml:"min_risk_reward"`
	MaxRiskPerTradePct   float64 `yaml:"max_risk_per_trade_pct"`
	MaxPositionSizePct   float64 `yaml:"max_position_size_pct"`
}

func DefaultConfig() Config {
	return Config{
		StopLossPct:          5.0,
		UseATRStop:           false,
		ATRMultiplier:        2.0,
		SupportBandMinPct:    2.0,
		SupportBandMaxPct:    8.0,
		MinStopDistancePct:   1.0,
		MaxStopDistancePct:   15.0,
		TakeProfitPct:        10.0,
		TargetRiskReward:     2.0,
		ResistanceBandMinPct: 5.0,
		ResistanceBandMaxPct: 15.0,
		MinRiskReward:        1.5,
		MaxRiskPerTradePct:   2.0,
		MaxPositionSizePct:   10.0,
	}
}

// Plan is the computed risk envelope for an entry.
type Plan struct {
	StopLoss   float64
	TakeProfit float64
	RiskReward float64
}

// Manager computes stop-loss, take-profit and position size for an entry.
type Manager struct {
	cfg Config
}

func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Compute builds the risk plan for an entry price. Support, resistance and
// ATR are optional; nil means unavailable.
func (m *Manager) Compute(entry float64, support, resistance, atr *float64) (Plan, error) {
	if entry <= 0 {
		return Plan{}, fmt.Errorf("%w: entry price %.4f must be positive", ErrInvalidRiskInput, entry)
	}

	stop := m.stopLoss(entry, support, atr)
	tp := m.takeProfit(entry, stop, resistance)

	rr := (tp - entry) / (entry - stop)
	if rr < m.cfg.MinRiskReward {
		return Plan{}, fmt.Errorf("%w: risk/reward %.2f below minimum %.2f", ErrInvalidRiskInput, rr, m.cfg.MinRiskReward)
	}

	return Plan{StopLoss: stop, TakeProfit: tp, RiskReward: rr}, nil
}

func (m *Manager) stopLoss(entry float64, support, atr *float64) float64 {
	stop := entry * (1 - m.cfg.StopLossPct/100)
	if m.cfg.UseATRStop {
		if a, ok := indicator.Value(atr); ok && a > 0 {
			stop = entry - a*m.cfg.ATRMultiplier
		}
	}

	// A support level sitting in the configured band below entry makes a
	// structurally justified stop; never loosen an already tighter stop.
	if s, ok := indicator.Value(support); ok && s > 0 && s < entry {
		distPct := (entry - s) / entry * 100
		if distPct >= m.cfg.SupportBandMinPct && distPct <= m.cfg.SupportBandMaxPct {
			if adjusted := s * 0.99; adjusted > stop {
				stop = adjusted
			}
		}
	}

	// Clamp the stop distance regardless of source.
	minStop := entry * (1 - m.cfg.MaxStopDistancePct/100)
	maxStop := entry * (1 - m.cfg.MinStopDistancePct/100)
	if stop < minStop {
		stop = minStop
	}
	if stop > maxStop {
		stop = maxStop
	}
	return stop
}

func (m *Manager) takeProfit(entry, stop float64, resistance *float64) float64 {
	byRR := entry + (entry-stop)*m.cfg.TargetRiskReward
	byPct := entry * (1 + m.cfg.TakeProfitPct/100)

	tp := byRR
	if byPct < tp {
		tp = byPct
	}

	// A resistance level in the configured band above entry overrides the
	// target only when it lies between the two computed candidates.
	if r, ok := indicator.Value(resistance); ok && r > entry {
		abovePct := (r - entry) / entry * 100
		if abovePct >= m.cfg.ResistanceBandMinPct && abovePct <= m.cfg.ResistanceBandMaxPct {
			adjusted := r * 0.99
			lo, hi := byRR, byPct
			if lo > hi {
				lo, hi = hi, lo
			}
			if adjusted >= lo && adjusted <= hi {
				tp = adjusted
			}
		}
	}
	return tp
}

// SizePosition returns the percentage of total capital to commit. Confidence
// scales the capped size, so a 50%-confidence signal commits half the capital
// of a 100%-confidence one.
func (m *Manager) SizePosition(entry, stop, confidence, totalCapital float64) (float64, error) {
	if entry <= 0 {
		return 0, fmt.Errorf("%w: entry price %.4f must be positive", ErrInvalidRiskInput, entry)
	}
	if stop >= entry {
		return 0, fmt.Errorf("%w: stop-loss %.4f must be below entry %.4f", ErrInvalidRiskInput, stop, entry)
	}
	if totalCapital <= 0 {
		return 0, fmt.Errorf("%w: total capital %.4f must be positive", ErrInvalidRiskInput, totalCapital)
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}

	riskPerShare := entry - stop
	maxRiskCapital := totalCapital * m.cfg.MaxRiskPerTradePct / 100
	rawQuantity := maxRiskCapital / riskPerShare

	sizePct := rawQuantity * entry / totalCapital * 100
	if sizePct > m.cfg.MaxPositionSizePct {
		sizePct = m.cfg.MaxPositionSizePct
	}
	return sizePct * confidence / 100, nil
}
