// Package strategy
package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnquant/signalbot/internal/indicator"
	"github.com/vnquant/signalbot/internal/signal"
)

// idealSnapshot returns a snapshot where every layer scores 100 for a price
// just above both moving averages.
func idealSnapshot() indicator.Snapshot {
	return indicator.Snapshot{
		TrendDirection: indicator.TrendUp,
		MALong:         indicator.Float(90),
		EMAShort:       indicator.Float(95),
		RSI:            indicator.Float(50),
		RSISignal:      indicator.RSINeutral,
		MACDHistogram:  indicator.Float(1.5),
		MACDTrend:      indicator.MACDBullish,
		VolumeRatio:    indicator.Float(2.0),
		VolumeSignal:   indicator.VolumeHigh,
		BandPosition:   indicator.Float(0.2),
	}
}

func TestNewScorer_WeightValidation(t *testing.T) {
	cfg := DefaultScorerConfig()
	cfg.Weights.Trend = 0.5 // sum now 1.2

	_, err := NewScorer(cfg)
	require.Error(t, err)

	_, err = NewScorer(DefaultScorerConfig())
	require.NoError(t, err)
}

func TestScore_AllLayersPerfect(t *testing.T) {
	s, err := NewScorer(DefaultScorerConfig())
	require.NoError(t, err)

	res, err := s.Score(100, idealSnapshot())
	require.NoError(t, err)

	assert.InDelta(t, 100, res.Confidence, 0.001)
	assert.Equal(t, signal.StrongBuy, res.Type)
	assert.Len(t, res.Reasoning, 4)
	assert.Equal(t, "trend", res.Reasoning[0].Layer)
	assert.Equal(t, "momentum", res.Reasoning[1].Layer)
	assert.Equal(t, "volume", res.Reasoning[2].Layer)
	assert.Equal(t, "entry", res.Reasoning[3].Layer)
}

func TestScore_DowntrendGatesEverything(t *testing.T) {
	s, err := NewScorer(DefaultScorerConfig())
	require.NoError(t, err)

	snap := idealSnapshot()
	snap.TrendDirection = indicator.TrendDown

	res, err := s.Score(100, snap)
	require.NoError(t, err)

	// Perfect momentum, volume and entry cannot rescue a downtrend.
	assert.Equal(t, float64(0), res.Confidence)
	assert.Equal(t, signal.NoAction, res.Type)
	assert.Len(t, res.Reasoning, 4)
	assert.Equal(t, float64(0), res.Trend.Score)
}

func TestScore_MissingFieldsUnavailable(t *testing.T) {
	s, err := NewScorer(DefaultScorerConfig())
	require.NoError(t, err)

	snap := idealSnapshot()
	snap.RSI = nil

	_, err = s.Score(100, snap)
	assert.ErrorIs(t, err, indicator.ErrUnavailable)
}

func TestScoreTrend(t *testing.T) {
	s, _ := NewScorer(DefaultScorerConfig())

	tests := []struct {
		name     string
		price    float64
		trend    string
		expected float64
	}{
		{"uptrend above both averages", 100, indicator.TrendUp, 100},
		{"uptrend below short average", 92, indicator.TrendUp, 60},
		{"sideways", 100, indicator.TrendSideways, 50},
		{"downtrend", 100, indicator.TrendDown, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := idealSnapshot()
			snap.TrendDirection = tt.trend
			res := s.scoreTrend(tt.price, snap)
			assert.Equal(t, tt.expected, res.Score)
		})
	}
}

func TestScoreMomentum(t *testing.T) {
	s, _ := NewScorer(DefaultScorerConfig())

	tests := []struct {
		name      string
		macd      string
		rsi       float64
		rsiSignal string
		expected  float64
	}{
		{"bearish MACD fails regardless of RSI", indicator.MACDBearish, 50, indicator.RSINeutral, 0},
		{"overbought RSI caps momentum", indicator.MACDBullish, 75, indicator.RSIOverbought, 20},
		{"bullish MACD with RSI in sweet spot", indicator.MACDBullish, 50, indicator.RSINeutral, 100},
		{"bullish MACD with oversold RSI", indicator.MACDBullish, 25, indicator.RSIOversold, 60},
		{"bullish MACD with RSI outside sweet spot", indicator.MACDBullish, 65, indicator.RSINeutral, 80},
		{"neutral MACD", indicator.MACDNeutral, 50, indicator.RSINeutral, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := idealSnapshot()
			snap.MACDTrend = tt.macd
			snap.RSI = indicator.Float(tt.rsi)
			snap.RSISignal = tt.rsiSignal
			res := s.scoreMomentum(snap)
			assert.Equal(t, tt.expected, res.Score)
		})
	}
}

func TestScoreVolume(t *testing.T) {
	s, _ := NewScorer(DefaultScorerConfig())

	tests := []struct {
		name     string
		signal   string
		expected float64
	}{
		{"high volume", indicator.VolumeHigh, 100},
		{"normal volume", indicator.VolumeNormal, 70},
		{"low volume", indicator.VolumeLow, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := idealSnapshot()
			snap.VolumeSignal = tt.signal
			res := s.scoreVolume(snap)
			assert.Equal(t, tt.expected, res.Score)
		})
	}
}

func TestScoreEntry(t *testing.T) {
	s, _ := NewScorer(DefaultScorerConfig())

	tests := []struct {
		name     string
		pos      float64
		expected float64
	}{
		{"near lower band", 0.1, 100},
		{"below middle band", 0.4, 80},
		{"around middle band", 0.6, 50},
		{"above middle band", 0.8, 30},
		{"near upper band", 0.95, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := idealSnapshot()
			snap.BandPosition = indicator.Float(tt.pos)
			res := s.scoreEntry(snap)
			assert.Equal(t, tt.expected, res.Score)
		})
	}
}

func TestClassify(t *testing.T) {
	s, _ := NewScorer(DefaultScorerConfig())

	tests := []struct {
		confidence float64
		expected   signal.Type
	}{
		{100, signal.StrongBuy},
		{80, signal.StrongBuy},
		{79.99, signal.WeakBuy},
		{60, signal.WeakBuy},
		{59.99, signal.Watch},
		{40, signal.Watch},
		{39.99, signal.NoAction},
		{0, signal.NoAction},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, s.Classify(tt.confidence), "confidence %.2f", tt.confidence)
	}
}

func TestScore_WeightedCombination(t *testing.T) {
	s, _ := NewScorer(DefaultScorerConfig())

	// Trend 60, momentum 80, volume 70, entry 50
	snap := idealSnapshot()
	snap.RSI = indicator.Float(65)
	snap.VolumeSignal = indicator.VolumeNormal
	snap.VolumeRatio = indicator.Float(1.0)
	snap.BandPosition = indicator.Float(0.6)

	res, err := s.Score(92, snap) // below EMAShort, above MALong
	require.NoError(t, err)

	// 60*0.3 + 80*0.3 + 70*0.2 + 50*0.2 = 66
	assert.InDelta(t, 66, res.Confidence, 0.001)
	assert.Equal(t, signal.WeakBuy, res.Type)
}
