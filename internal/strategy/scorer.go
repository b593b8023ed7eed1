// Package strategy
package strategy

import (
	"fmt"
	"math"

	"github.com/vnquant/signalbot/internal/indicator"
	"github.com/vnquant/signalbot/internal/signal"
)

// Weights for the four decision layers. Must sum to 1.0.
type Weights struct {
	Trend    float64 `yaml:"trend"`
	Momentum float64 `yaml:"momentum"`
	Volume   float64 `yaml:"volume"`
	Entry    float64 `yaml:"entry"`
}

// Thresholds for signal classification and the RSI sweet spot.
type Thresholds struct {
	StrongBuy    float64 `yaml:"strong_buy"`
	WeakBuy      float64 `yaml:"weak_buy"`
	Watch        float64 `yaml:"watch"`
	RSISweetLow  float64 `yaml:"rsi_sweet_low"`
	RSISweetHigh float64 `yaml:"rsi_sweet_high"`
}

type ScorerConfig struct {
	Weights    Weights    `yaml:"weights"`
	Thresholds Thresholds `yaml:"thresholds"`
}

func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		Weights: Weights{
			Trend:    0.30,
			Momentum: 0.30,
			Volume:   0.20,
			Entry:    0.20,
		},
		Thresholds: Thresholds{
			StrongBuy:    80,
			WeakBuy:      60,
			Watch:        40,
			RSISweetLow:  40,
			RSISweetHigh: 60,
		},
	}
}

// LayerResult is the outcome of one scored layer.
type LayerResult struct {
	Score  float64
	Passed bool
	Reason string
}

// ScoreResult is the full decision-tree outcome for one evaluation.
type ScoreResult struct {
	Trend    LayerResult
	Momentum LayerResult
	Volume   LayerResult
	Entry    LayerResult

	Confidence float64
	Type       signal.Type
	Reasoning  []signal.LayerScore
}

// Scorer implements the four-layer decision tree: trend, momentum, volume and
// entry timing, combined into a weighted confidence. A downtrend is a gating
// condition, not merely weighted: it forces NO_ACTION with zero confidence.
type Scorer struct {
	cfg ScorerConfig
}

func NewScorer(cfg ScorerConfig) (*Scorer, error) {
	sum := cfg.Weights.Trend + cfg.Weights.Momentum + cfg.Weights.Volume + cfg.Weights.Entry
	if math.Abs(sum-1.0) > 0.01 {
		return nil, fmt.Errorf("layer weights must sum to 1.0, got %.4f", sum)
	}
	return &Scorer{cfg: cfg}, nil
}

// Score evaluates the decision tree against a snapshot. It returns
// indicator.ErrUnavailable when a required field is missing.
func (s *Scorer) Score(price float64, snap indicator.Snapshot) (ScoreResult, error) {
	if err := snap.Validate(); err != nil {
		return ScoreResult{}, err
	}

	var res ScoreResult
	res.Trend = s.scoreTrend(price, snap)
	res.Momentum = s.scoreMomentum(snap)
	res.Volume = s.scoreVolume(snap)
	res.Entry = s.scoreEntry(snap)

	res.Reasoning = []signal.LayerScore{
		{Layer: "trend", Score: res.Trend.Score, Reason: res.Trend.Reason},
		{Layer: "momentum", Score: res.Momentum.Score, Reason: res.Momentum.Reason},
		{Layer: "volume", Score: res.Volume.Score, Reason: res.Volume.Reason},
		{Layer: "entry", Score: res.Entry.Score, Reason: res.Entry.Reason},
	}

	if snap.TrendDirection == indicator.TrendDown {
		res.Confidence = 0
		res.Type = signal.NoAction
		return res, nil
	}

	w := s.cfg.Weights
	confidence := res.Trend.Score*w.Trend +
		res.Momentum.Score*w.Momentum +
		res.Volume.Score*w.Volume +
		res.Entry.Score*w.Entry
	res.Confidence = math.Round(confidence*100) / 100
	res.Type = s.Classify(res.Confidence)
	return res, nil
}

// Classify maps a confidence score to a signal type using the configured
// thresholds.
func (s *Scorer) Classify(confidence float64) signal.Type {
	t := s.cfg.Thresholds
	switch {
	case confidence >= t.StrongBuy:
		return signal.StrongBuy
	case confidence >= t.WeakBuy:
		return signal.WeakBuy
	case confidence >= t.Watch:
		return signal.Watch
	default:
		return signal.NoAction
	}
}

func (s *Scorer) scoreTrend(price float64, snap indicator.Snapshot) LayerResult {
	maLong, _ := indicator.Value(snap.MALong)
	emaShort, _ := indicator.Value(snap.EMAShort)

	switch snap.TrendDirection {
	case indicator.TrendUp:
		if price > maLong && price > emaShort {
			return LayerResult{Score: 100, Passed: true, Reason: "strong uptrend, price above both moving averages"}
		}
		return LayerResult{Score: 60, Passed: true, Reason: "uptrend but price below short-period average"}
	case indicator.TrendSideways:
		return LayerResult{Score: 50, Passed: false, Reason: "sideways trend, no clear direction"}
	default:
		return LayerResult{Score: 0, Passed: false, Reason: "downtrend, avoid buying"}
	}
}

func (s *Scorer) scoreMomentum(snap indicator.Snapshot) LayerResult {
	rsi, _ := indicator.Value(snap.RSI)
	t := s.cfg.Thresholds

	switch {
	case snap.MACDTrend == indicator.MACDBearish:
		return LayerResult{Score: 0, Passed: false, Reason: "weak momentum, MACD bearish"}
	case snap.RSISignal == indicator.RSIOverbought:
		return LayerResult{Score: 20, Passed: false, Reason: "RSI overbought, risk of reversal"}
	case snap.MACDTrend == indicator.MACDBullish && rsi >= t.RSISweetLow && rsi <= t.RSISweetHigh:
		return LayerResult{Score: 100, Passed: true, Reason: "MACD bullish, RSI in sweet spot"}
	case snap.MACDTrend == indicator.MACDBullish && snap.RSISignal == indicator.RSIOversold:
		return LayerResult{Score: 60, Passed: true, Reason: "MACD bullish, RSI oversold, potential reversal"}
	case snap.MACDTrend == indicator.MACDBullish:
		return LayerResult{Score: 80, Passed: true, Reason: "MACD bullish, RSI neutral"}
	default:
		return LayerResult{Score: 40, Passed: false, Reason: "no clear momentum"}
	}
}

func (s *Scorer) scoreVolume(snap indicator.Snapshot) LayerResult {
	ratio, _ := indicator.Value(snap.VolumeRatio)

	switch snap.VolumeSignal {
	case indicator.VolumeHigh:
		return LayerResult{Score: 100, Passed: true, Reason: fmt.Sprintf("high volume (%.2fx average) confirms buying interest", ratio)}
	case indicator.VolumeNormal:
		return LayerResult{Score: 70, Passed: true, Reason: fmt.Sprintf("normal volume (%.2fx average), adequate confirmation", ratio)}
	default:
		return LayerResult{Score: 30, Passed: false, Reason: fmt.Sprintf("low volume (%.2fx average), weak confirmation", ratio)}
	}
}

func (s *Scorer) scoreEntry(snap indicator.Snapshot) LayerResult {
	pos, _ := indicator.Value(snap.BandPosition)

	switch {
	case pos < 0.3:
		return LayerResult{Score: 100, Passed: true, Reason: "excellent entry, near lower band"}
	case pos < 0.5:
		return LayerResult{Score: 80, Passed: true, Reason: "good entry, below middle band"}
	case pos < 0.7:
		return LayerResult{Score: 50, Passed: false, Reason: "okay entry, around middle band"}
	case pos < 0.9:
		return LayerResult{Score: 30, Passed: false, Reason: "risky entry, above middle band"}
	default:
		return LayerResult{Score: 10, Passed: false, Reason: "very risky entry, near upper band"}
	}
}
