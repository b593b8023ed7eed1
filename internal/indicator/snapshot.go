// Package indicator
package indicator

import (
	"errors"
	"fmt"
	"math"
)

// Trend direction labels.
const (
	TrendUp       = "UP"
	TrendDown     = "DOWN"
	TrendSideways = "SIDEWAYS"
)

// Oscillator zone labels.
const (
	RSIOversold   = "OVERSOLD"
	RSINeutral    = "NEUTRAL"
	RSIOverbought = "OVERBOUGHT"
)

// Momentum trend labels.
const (
	MACDBullish = "BULLISH"
	MACDNeutral = "NEUTRAL"
	MACDBearish = "BEARISH"
)

// Volume labels.
const (
	VolumeHigh   = "HIGH"
	VolumeNormal = "NORMAL"
	VolumeLow    = "LOW"
)

// ErrUnavailable is returned when a required indicator value is missing or NaN
// for a bar. Callers skip that symbol for the bar rather than treating the
// value as zero.
var ErrUnavailable = errors.New("indicator unavailable")

// Snapshot holds the computed indicator values for one symbol at one bar.
// Nil pointer fields and empty labels mean "unavailable", never zero.
type Snapshot struct {
	TrendDirection string

	MALong   *float64
	EMAShort *float64

	RSI       *float64
	RSISignal string

	MACDTrend     string
	MACDHistogram *float64

	VolumeRatio  *float64
	VolumeSignal string

	BandPosition *float64

	Support    *float64
	Resistance *float64
	ATR        *float64
}

// Value dereferences an optional field, reporting false for nil or NaN.
func Value(p *float64) (float64, bool) {
	if p == nil || math.IsNaN(*p) {
		return 0, false
	}
	return *p, true
}

// Float returns a pointer for an optional field, or nil when v is NaN.
func Float(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// Validate checks that every field required for scoring is present.
func (s *Snapshot) Validate() error {
	if s.TrendDirection == "" {
		return fmt.Errorf("%w: trend_direction", ErrUnavailable)
	}
	if _, ok := Value(s.MALong); !ok {
		return fmt.Errorf("%w: ma_long", ErrUnavailable)
	}
	if _, ok := Value(s.EMAShort); !ok {
		return fmt.Errorf("%w: ema_short", ErrUnavailable)
	}
	if _, ok := Value(s.RSI); !ok {
		return fmt.Errorf("%w: rsi", ErrUnavailable)
	}
	if s.MACDTrend == "" {
		return fmt.Errorf("%w: macd_trend", ErrUnavailable)
	}
	if _, ok := Value(s.VolumeRatio); !ok {
		return fmt.Errorf("%w: volume_ratio", ErrUnavailable)
	}
	if _, ok := Value(s.BandPosition); !ok {
		return fmt.Errorf("%w: band_position", ErrUnavailable)
	}
	return nil
}
