// Package perf
package perf

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnquant/signalbot/internal/signal"
)

// stubHistory serves a fixed closed-trade history for one symbol.
type stubHistory struct {
	closed []signal.Signal
}

func (s *stubHistory) GetClosedSignals(ctx context.Context, symbol string) ([]signal.Signal, error) {
	return s.closed, nil
}

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// history builds closed signals from profit percentages, one trade per day
// ending the given number of days before testNow.
func history(profits []float64, lastTradeDaysAgo int) []signal.Signal {
	out := make([]signal.Signal, len(profits))
	for i, p := range profits {
		closeTime := testNow.AddDate(0, 0, -(lastTradeDaysAgo + len(profits) - 1 - i))
		out[i] = signal.Signal{
			Symbol:        "BTC-USDT",
			ProfitLossPct: p,
			IsClosed:      true,
			CloseTime:     closeTime,
		}
	}
	return out
}

func newTestFilter(profits []float64, lastTradeDaysAgo int) *Filter {
	f := NewFilter(DefaultConfig(), &stubHistory{closed: history(profits, lastTradeDaysAgo)})
	f.now = func() time.Time { return testNow }
	return f
}

func TestEvaluate_InsufficientHistoryNeverSkips(t *testing.T) {
	// Four straight losses would trip every other rule.
	f := newTestFilter([]float64{-5, -4, -3, -2}, 1)

	d, err := f.Evaluate(context.Background(), "BTC-USDT")
	require.NoError(t, err)
	assert.False(t, d.Skip)
	assert.Contains(t, d.Reason, "below 5 required")
}

func TestEvaluate_LossStreakCooldown(t *testing.T) {
	// Three consecutive losses, last trade 2 days ago: 5 cooldown days left.
	f := newTestFilter([]float64{3, 2, -1, -2, -3}, 2)

	d, err := f.Evaluate(context.Background(), "BTC-USDT")
	require.NoError(t, err)
	assert.True(t, d.Skip)
	assert.Equal(t, 5, d.CooldownRemainingDays)
	assert.Contains(t, d.Reason, "consecutive losses")
}

func TestEvaluate_CooldownExpired(t *testing.T) {
	// Same streak but 8 days old: cooldown no longer applies. Win rate 40%
	// and avg profit above -2 keep the symbol eligible.
	f := newTestFilter([]float64{3, 2, -1, -1, -1}, 8)

	d, err := f.Evaluate(context.Background(), "BTC-USDT")
	require.NoError(t, err)
	assert.False(t, d.Skip)
}

func TestEvaluate_LowWinRateSkips(t *testing.T) {
	// 1 win out of 5 = 20%, below the 40% minimum. A win last keeps the
	// streak rule out of the way.
	f := newTestFilter([]float64{-1, -1, -1, -1, 3}, 1)

	d, err := f.Evaluate(context.Background(), "BTC-USDT")
	require.NoError(t, err)
	assert.True(t, d.Skip)
	assert.Contains(t, d.Reason, "win rate")
}

func TestEvaluate_PoorAvgProfitSkips(t *testing.T) {
	// Win rate 60% but average profit (-3.2%) below the -2% floor.
	f := newTestFilter([]float64{1, 1, 1, -10, -9}, 8)

	d, err := f.Evaluate(context.Background(), "BTC-USDT")
	require.NoError(t, err)
	assert.True(t, d.Skip)
	assert.Contains(t, d.Reason, "average profit")
}

func TestStats(t *testing.T) {
	f := newTestFilter([]float64{5, -2, 3, -1, -4}, 2)

	st, err := f.Stats(context.Background(), "BTC-USDT")
	require.NoError(t, err)

	assert.Equal(t, 5, st.TradeCount)
	assert.Equal(t, 2, st.Wins)
	assert.InDelta(t, 40, st.WinRate, 0.001)
	assert.InDelta(t, 0.2, st.AvgProfitPct, 0.001)
	assert.Equal(t, 2, st.ConsecutiveLosses)
	assert.InDelta(t, 40, st.RecentWinRate, 0.001)
}

func TestAdjust_InsufficientHistoryPassesThrough(t *testing.T) {
	f := newTestFilter([]float64{5, 5}, 1)

	adjusted, reason, err := f.Adjust(context.Background(), "BTC-USDT", 72.5)
	require.NoError(t, err)
	assert.InDelta(t, 72.5, adjusted, 0.001)
	assert.Contains(t, reason, "insufficient history")
}

func TestAdjust_StrongHistoryBoosts(t *testing.T) {
	// 7 wins of 10 (70% -> +10), avg profit well above 5% (+5), last five
	// all wins (100% -> +5): total +20.
	profits := []float64{-1, -1, -2, 8, 9, 8, 9, 8, 9, 8}
	f := newTestFilter(profits, 1)

	adjusted, reason, err := f.Adjust(context.Background(), "BTC-USDT", 60)
	require.NoError(t, err)
	assert.InDelta(t, 80, adjusted, 0.001)
	assert.Contains(t, reason, "+20.0")
}

func TestAdjust_WeakHistoryPenalizes(t *testing.T) {
	// 1 win of 10 (10% -> clamped -10), avg profit negative (-5), last five
	// with one win (20% -> -5): total -20.
	profits := []float64{5, -2, -2, -2, -2, -2, -2, -2, -2, -2}
	f := newTestFilter(profits, 1)

	adjusted, _, err := f.Adjust(context.Background(), "BTC-USDT", 60)
	require.NoError(t, err)
	assert.InDelta(t, 40, adjusted, 0.001)
}

func TestAdjust_LinearWinRateComponent(t *testing.T) {
	// Win rate 55% sits halfway between the 40% minimum and 70% good rate,
	// so its component is exactly 0.
	// 11 wins of 20 with a mixed tail so the recent window lands at 40%.
	profits := []float64{2, 2, 2, 2, 2, 2, 2, 2, 2, -2.5, -2.5, -2.5, -2.5, -2.5, -2.5, -2.5, 2, -2.5, 2, -2.5}

	f := newTestFilter(profits, 1)

	st, err := f.Stats(context.Background(), "BTC-USDT")
	require.NoError(t, err)
	assert.InDelta(t, 55, st.WinRate, 0.001)
	assert.InDelta(t, 40, st.RecentWinRate, 0.001)

	// winAdj 0, profitAdj -5 (avg -0.025 <= 0), recentAdj 0: total -5.
	adjusted, _, err := f.Adjust(context.Background(), "BTC-USDT", 60)
	require.NoError(t, err)
	assert.InDelta(t, 55, adjusted, 0.001)
}

func TestAdjust_ClampsToValidRange(t *testing.T) {
	profits := []float64{-1, -1, -2, 8, 9, 8, 9, 8, 9, 8} // +20 history
	f := newTestFilter(profits, 1)

	adjusted, _, err := f.Adjust(context.Background(), "BTC-USDT", 95)
	require.NoError(t, err)
	assert.InDelta(t, 100, adjusted, 0.001)

	weak := []float64{5, -2, -2, -2, -2, -2, -2, -2, -2, -2} // -20 history
	f = newTestFilter(weak, 1)

	adjusted, _, err = f.Adjust(context.Background(), "BTC-USDT", 10)
	require.NoError(t, err)
	assert.InDelta(t, 0, adjusted, 0.001)
}

func TestAdjust_IsDeterministic(t *testing.T) {
	profits := []float64{5, -2, 3, -1, -4, 2, 6, -3, 1, 2}
	f := newTestFilter(profits, 1)

	first, _, err := f.Adjust(context.Background(), "BTC-USDT", 60)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, _, err := f.Adjust(context.Background(), "BTC-USDT", 60)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
