// Package risk
package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fptr(v float64) *float64 { return &v }

func TestCompute_DefaultStopAndTarget(t *testing.T) {
	m := NewManager(DefaultConfig())

	plan, err := m.Compute(86000, nil, nil, nil)
	require.NoError(t, err)

	// 5% stop, 2R target capped at +10%
	assert.InDelta(t, 81700, plan.StopLoss, 0.01)
	assert.InDelta(t, 94600, plan.TakeProfit, 0.01)
	assert.InDelta(t, 2.0, plan.RiskReward, 0.001)
}

func TestCompute_SupportAdjustedStop(t *testing.T) {
	m := NewManager(DefaultConfig())

	tests := []struct {
		name     string
		support  *float64
		expected float64
	}{
		{
			name:     "support below the percent stop does not loosen it",
			support:  fptr(81700), // 5% below entry, adjusted 80883 < 81700
			expected: 81700,
		},
		{
			name:     "support inside the band tightens the stop",
			support:  fptr(84000), // 2.33% below entry
			expected: 84000 * 0.99,
		},
		{
			name:     "support too close to entry is ignored",
			support:  fptr(85500), // 0.58% below entry, outside the 2-8% band
			expected: 81700,
		},
		{
			name:     "support too far below entry is ignored",
			support:  fptr(77000), // 10.5% below entry
			expected: 81700,
		},
		{
			name:     "no support keeps the percent stop",
			support:  nil,
			expected: 81700,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := m.Compute(86000, tt.support, nil, nil)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, plan.StopLoss, 0.01)
		})
	}
}

func TestCompute_ATRStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UseATRStop = true
	m := NewManager(cfg)

	plan, err := m.Compute(86000, nil, nil, fptr(1000))
	require.NoError(t, err)
	assert.InDelta(t, 84000, plan.StopLoss, 0.01) // entry - 2*ATR

	// Missing ATR falls back to the percent stop.
	plan, err = m.Compute(86000, nil, nil, nil)
	require.NoError(t, err)
	assert.InDelta(t, 81700, plan.StopLoss, 0.01)
}

func TestCompute_StopDistanceClamp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StopLossPct = 20.0
	cfg.MinRiskReward = 0 // the wide stop drops the ratio below the default floor
	m := NewManager(cfg)

	plan, err := m.Compute(100, nil, nil, nil)
	require.NoError(t, err)
	// Clamped to the 15% maximum distance.
	assert.InDelta(t, 85, plan.StopLoss, 0.001)

	cfg = DefaultConfig()
	cfg.UseATRStop = true
	m = NewManager(cfg)
	plan, err = m.Compute(100, nil, nil, fptr(0.1)) // 0.2% distance
	require.NoError(t, err)
	// Clamped to the 1% minimum distance.
	assert.InDelta(t, 99, plan.StopLoss, 0.001)
}

func TestCompute_ResistanceAdjustedTarget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetRiskReward = 3.0 // 3R candidate 98900, percent cap 94600
	m := NewManager(cfg)

	// adjusted = 96000*0.99 = 95040, between 94600 and 98900
	plan, err := m.Compute(86000, nil, fptr(96000), nil)
	require.NoError(t, err)
	assert.InDelta(t, 95040, plan.TakeProfit, 0.01)

	// Resistance outside the 5-15% band is ignored.
	plan, err = m.Compute(86000, nil, fptr(89000), nil) // 3.5% above
	require.NoError(t, err)
	assert.InDelta(t, 94600, plan.TakeProfit, 0.01)

	// Adjusted value outside the candidate range is ignored.
	plan, err = m.Compute(86000, nil, fptr(94000), nil) // adjusted 93060 < 94600
	require.NoError(t, err)
	assert.InDelta(t, 94600, plan.TakeProfit, 0.01)
}

func TestCompute_RejectsPoorRiskReward(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TakeProfitPct = 5.0 // caps reward at 1R against a 5% stop
	m := NewManager(cfg)

	_, err := m.Compute(100, nil, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRiskInput)
}

func TestCompute_RejectsNonPositiveEntry(t *testing.T) {
	m := NewManager(DefaultConfig())

	_, err := m.Compute(0, nil, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidRiskInput)

	_, err = m.Compute(-10, nil, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidRiskInput)
}

func TestSizePosition(t *testing.T) {
	m := NewManager(DefaultConfig())

	tests := []struct {
		name       string
		entry      float64
		stop       float64
		confidence float64
		capital    float64
		expected   float64
	}{
		{
			// 2% risk on 10000 = 200, risk/share 5 -> 40 shares -> 40% of
			// capital, capped at 10%, full confidence.
			name:  "size capped at max position",
			entry: 100, stop: 95, confidence: 100, capital: 10000,
			expected: 10,
		},
		{
			name:  "confidence scales the capped size",
			entry: 100, stop: 95, confidence: 50, capital: 10000,
			expected: 5,
		},
		{
			// Risk/share 20 -> 10 shares -> 10% of capital, below the cap.
			name:  "wide stop stays under the cap",
			entry: 100, stop: 80, confidence: 100, capital: 10000,
			expected: 10,
		},
		{
			name:  "zero confidence commits nothing",
			entry: 100, stop: 95, confidence: 0, capital: 10000,
			expected: 0,
		},
		{
			name:  "confidence above 100 is clamped",
			entry: 100, stop: 95, confidence: 150, capital: 10000,
			expected: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pct, err := m.SizePosition(tt.entry, tt.stop, tt.confidence, tt.capital)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, pct, 0.001)
		})
	}
}

func TestSizePosition_InvalidInputs(t *testing.T) {
	m := NewManager(DefaultConfig())

	_, err := m.SizePosition(0, 95, 100, 10000)
	assert.ErrorIs(t, err, ErrInvalidRiskInput)

	_, err = m.SizePosition(100, 100, 100, 10000)
	assert.ErrorIs(t, err, ErrInvalidRiskInput)

	_, err = m.SizePosition(100, 105, 100, 10000)
	assert.ErrorIs(t, err, ErrInvalidRiskInput)

	_, err = m.SizePosition(100, 95, 100, 0)
	assert.ErrorIs(t, err, ErrInvalidRiskInput)
}
