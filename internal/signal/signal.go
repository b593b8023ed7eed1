// Package signal
package signal

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Type classifies a signal by decreasing confidence threshold.
type Type string

const (
	StrongBuy Type = "STRONG_BUY"
	WeakBuy   Type = "WEAK_BUY"
	Watch     Type = "WATCH"
	NoAction  Type = "NO_ACTION"
	Sell      Type = "SELL"
)

// Close reasons recorded when a signal's position is closed.
const (
	ClosedStopLoss   = "CLOSED_STOP_LOSS"
	ClosedTakeProfit = "CLOSED_TAKE_PROFIT"
	ClosedTimeout    = "CLOSED_TIMEOUT"
	ClosedManual     = "CLOSED_MANUAL"
)

// LayerScore records one scored decision layer for auditability.
type LayerScore struct {
	Layer  string  `json:"layer"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// Signal is the engine's scored recommendation for one symbol at one point in time.
type Signal struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Timestamp time.Time `json:"timestamp"`

	Type  Type    `json:"type"`
	Price float64 `json:"price"`

	// Confidence is the post-adjustment value; OriginalConfidence keeps the
	// pre-adjustment score for traceability.
	Confidence         float64      `json:"confidence"`
	OriginalConfidence float64      `json:"original_confidence"`
	Reasoning          []LayerScore `json:"reasoning"`

	StopLoss        float64 `json:"stop_loss"`
	TakeProfit      float64 `json:"take_profit"`
	PositionSizePct float64 `json:"position_size_pct"`
	RiskReward      float64 `json:"risk_reward"`

	IsExecuted     bool    `json:"is_executed"`
	ExecutionPrice float64 `json:"execution_price"`

	IsClosed      bool      `json:"is_closed"`
	ClosePrice    float64   `json:"close_price"`
	CloseReason   string    `json:"close_reason"`
	CloseTime     time.Time `json:"close_time"`
	ProfitLossPct float64   `json:"profit_loss_pct"`
	HoldingDays   int       `json:"holding_days"`

	CreatedAt time.Time `json:"created_at"`
}

// New creates a signal with a fresh ID.
func New(symbol, timeframe string, ts time.Time, typ Type, price, confidence float64) Signal {
	return Signal{
		ID:                 uuid.NewString(),
		Symbol:             symbol,
		Timeframe:          timeframe,
		Timestamp:          ts,
		Type:               typ,
		Price:              price,
		Confidence:         confidence,
		OriginalConfidence: confidence,
		CreatedAt:          time.Now().UTC(),
	}
}

// AddReason appends a layer score to the ordered reasoning list.
func (s *Signal) AddReason(layer string, score float64, reason string) {
	s.Reasoning = append(s.Reasoning, LayerScore{Layer: layer, Score: score, Reason: reason})
}

// IsBuy reports whether the signal recommends opening a position.
func (s *Signal) IsBuy() bool {
	return s.Type == StrongBuy || s.Type == WeakBuy
}

// IsActionable reports whether the signal should trigger any action.
func (s *Signal) IsActionable() bool {
	return s.IsBuy() || s.Type == Sell
}

// PotentialProfitPct returns the distance to take-profit as a percentage of price.
func (s *Signal) PotentialProfitPct() float64 {
	if s.Price <= 0 || s.TakeProfit <= 0 {
		return 0
	}
	return (s.TakeProfit - s.Price) / s.Price * 100
}

// PotentialLossPct returns the distance to stop-loss as a percentage of price.
func (s *Signal) PotentialLossPct() float64 {
	if s.Price <= 0 || s.StopLoss <= 0 {
		return 0
	}
	return (s.Price - s.StopLoss) / s.Price * 100
}

// FilterActionable returns only the buy/sell signals from a batch.
func FilterActionable(signals []Signal) []Signal {
	var out []Signal
	for i := range signals {
		if signals[i].IsActionable() {
			out = append(out, signals[i])
		}
	}
	return out
}

// RankByConfidence sorts signals by descending confidence; ties break on symbol
// so scan output is deterministic.
func RankByConfidence(signals []Signal) {
	sort.Slice(signals, func(i, j int) bool {
		if signals[i].Confidence == signals[j].Confidence {
			return signals[i].Symbol < signals[j].Symbol
		}
		return signals[i].Confidence > signals[j].Confidence
	})
}
