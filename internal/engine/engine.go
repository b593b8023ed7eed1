// Package engine
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vnquant/signalbot/internal/indicator"
	"github.com/vnquant/signalbot/internal/perf"
	"github.com/vnquant/signalbot/internal/risk"
	"github.com/vnquant/signalbot/internal/signal"
	"github.com/vnquant/signalbot/internal/strategy"
)

// ErrDataIntegrity reports corrupt input data (non-positive price). Callers
// halt evaluation for the affected symbol only.
var ErrDataIntegrity = errors.New("data integrity error")

// Scorer is the decision-tree collaborator.
type Scorer interface {
	Score(price float64, snap indicator.Snapshot) (strategy.ScoreResult, error)
	Classify(confidence float64) signal.Type
}

// Filter is the performance-history collaborator.
type Filter interface {
	Evaluate(ctx context.Context, symbol string) (perf.Decision, error)
	Adjust(ctx context.Context, symbol string, base float64) (float64, string, error)
}

// RiskManager is the risk-plan collaborator.
type RiskManager interface {
	Compute(entry float64, support, resistance, atr *float64) (risk.Plan, error)
	SizePosition(entry, stop, confidence, totalCapital float64) (float64, error)
}

// Skipped reports that the performance filter suppressed evaluation for a
// symbol before any scoring took place.
type Skipped struct {
	Symbol                string
	Reason                string
	CooldownRemainingDays int
}

// Engine composes the scorer, the performance filter and the risk manager
// into a single evaluation call. It holds no state of its own and is
// re-entrant.
type Engine struct {
	scorer Scorer
	filter Filter
	risk   RiskManager
}

func New(scorer Scorer, filter Filter, riskManager RiskManager) *Engine {
	return &Engine{scorer: scorer, filter: filter, risk: riskManager}
}

// Evaluate scores one symbol at one bar. Exactly one of the signal and the
// skip result is non-nil on success. A wrapped indicator.ErrUnavailable means
// the symbol cannot be evaluated this bar; a wrapped ErrDataIntegrity means
// the input stream for the symbol is corrupt.
func (e *Engine) Evaluate(
	ctx context.Context,
	symbol, timeframe string,
	ts time.Time,
	price float64,
	snap indicator.Snapshot,
	totalCapital float64,
) (*signal.Signal, *Skipped, error) {
	if price <= 0 {
		return nil, nil, fmt.Errorf("%w: non-positive price %.4f for %s", ErrDataIntegrity, price, symbol)
	}

	decision, err := e.filter.Evaluate(ctx, symbol)
	if err != nil {
		return nil, nil, fmt.Errorf("performance filter for %s: %w", symbol, err)
	}
	if decision.Skip {
		return nil, &Skipped{
			Symbol:                symbol,
			Reason:                decision.Reason,
			CooldownRemainingDays: decision.CooldownRemainingDays,
		}, nil
	}

	score, err := e.scorer.Score(price, snap)
	if err != nil {
		return nil, nil, err
	}

	sig := signal.New(symbol, timeframe, ts, score.Type, price, score.Confidence)
	sig.Reasoning = append(sig.Reasoning, score.Reasoning...)

	// Adjustment is meaningless for non-actionable signals.
	if score.Type == signal.NoAction {
		return &sig, nil, nil
	}

	adjusted, adjReason, err := e.filter.Adjust(ctx, symbol, score.Confidence)
	if err != nil {
		return nil, nil, fmt.Errorf("confidence adjustment for %s: %w", symbol, err)
	}
	sig.Confidence = adjusted
	sig.Type = e.scorer.Classify(adjusted)
	sig.AddReason("performance", adjusted-score.Confidence, adjReason)

	plan, err := e.risk.Compute(price, snap.Support, snap.Resistance, snap.ATR)
	if err != nil {
		if errors.Is(err, risk.ErrInvalidRiskInput) {
			sig.Type = signal.NoAction
			sig.AddReason("risk", 0, err.Error())
			return &sig, nil, nil
		}
		return nil, nil, fmt.Errorf("risk plan for %s: %w", symbol, err)
	}

	sizePct, err := e.risk.SizePosition(price, plan.StopLoss, sig.Confidence, totalCapital)
	if err != nil {
		if errors.Is(err, risk.ErrInvalidRiskInput) {
			sig.Type = signal.NoAction
			sig.AddReason("risk", 0, err.Error())
			return &sig, nil, nil
		}
		return nil, nil, fmt.Errorf("position sizing for %s: %w", symbol, err)
	}

	sig.StopLoss = plan.StopLoss
	sig.TakeProfit = plan.TakeProfit
	sig.RiskReward = plan.RiskReward
	sig.PositionSizePct = sizePct
	return &sig, nil, nil
}
