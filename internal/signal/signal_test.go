// Package signal
package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	ts := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := New("BTC-USDT", "1d", ts, StrongBuy, 86000, 85)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "BTC-USDT", s.Symbol)
	assert.Equal(t, StrongBuy, s.Type)
	assert.Equal(t, 85.0, s.Confidence)
	assert.Equal(t, 85.0, s.OriginalConfidence)
	assert.False(t, s.CreatedAt.IsZero())

	// IDs are unique per signal.
	other := New("BTC-USDT", "1d", ts, StrongBuy, 86000, 85)
	assert.NotEqual(t, s.ID, other.ID)
}

func TestAddReason(t *testing.T) {
	s := New("BTC-USDT", "1d", time.Now(), WeakBuy, 100, 65)
	s.AddReason("trend", 60, "uptrend but price below short average")
	s.AddReason("performance", 5, "history adjustment")

	require.Len(t, s.Reasoning, 2)
	assert.Equal(t, "trend", s.Reasoning[0].Layer)
	assert.Equal(t, "performance", s.Reasoning[1].Layer)
}

func TestTypePredicates(t *testing.T) {
	tests := []struct {
		typ        Type
		isBuy      bool
		actionable bool
	}{
		{StrongBuy, true, true},
		{WeakBuy, true, true},
		{Watch, false, false},
		{NoAction, false, false},
		{Sell, false, true},
	}

	for _, tt := range tests {
		s := Signal{Type: tt.typ}
		assert.Equal(t, tt.isBuy, s.IsBuy(), "IsBuy for %s", tt.typ)
		assert.Equal(t, tt.actionable, s.IsActionable(), "IsActionable for %s", tt.typ)
	}
}

func TestPotentialPcts(t *testing.T) {
	s := Signal{Price: 100, StopLoss: 95, TakeProfit: 110}
	assert.InDelta(t, 10, s.PotentialProfitPct(), 0.001)
	assert.InDelta(t, 5, s.PotentialLossPct(), 0.001)

	empty := Signal{Price: 100}
	assert.Equal(t, 0.0, empty.PotentialProfitPct())
	assert.Equal(t, 0.0, empty.PotentialLossPct())
}

func TestFilterActionable(t *testing.T) {
	signals := []Signal{
		{Symbol: "A", Type: StrongBuy},
		{Symbol: "B", Type: Watch},
		{Symbol: "C", Type: WeakBuy},
		{Symbol: "D", Type: NoAction},
	}

	out := FilterActionable(signals)
	require.Len(t, out, 2)
	assert.Equal(t, "A", out[0].Symbol)
	assert.Equal(t, "C", out[1].Symbol)
}

func TestRankByConfidence(t *testing.T) {
	signals := []Signal{
		{Symbol: "B", Confidence: 70},
		{Symbol: "A", Confidence: 70},
		{Symbol: "C", Confidence: 90},
	}

	RankByConfidence(signals)
	assert.Equal(t, "C", signals[0].Symbol)
	// Equal confidence breaks ties on symbol.
	assert.Equal(t, "A", signals[1].Symbol)
	assert.Equal(t, "B", signals[2].Symbol)
}
