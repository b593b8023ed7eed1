// Package candle
package candle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func valid() Candle {
	return Candle{
		Timestamp: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Open:      100,
		High:      105,
		Low:       95,
		Close:     102,
		Volume:    1000,
		Symbol:    "BTC-USDT",
		Timeframe: "1d",
		Source:    "binance",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Candle)
		wantErr bool
	}{
		{"valid candle", func(c *Candle) {}, false},
		{"zero timestamp", func(c *Candle) { c.Timestamp = time.Time{} }, true},
		{"zero open", func(c *Candle) { c.Open = 0 }, true},
		{"negative close", func(c *Candle) { c.Close = -1 }, true},
		{"high below low", func(c *Candle) { c.High = 90 }, true},
		{"open above high", func(c *Candle) { c.Open = 110 }, true},
		{"close below low", func(c *Candle) { c.Close = 90 }, true},
		{"negative volume", func(c *Candle) { c.Volume = -1 }, true},
		{"zero volume ok", func(c *Candle) { c.Volume = 0 }, false},
		{"missing symbol", func(c *Candle) { c.Symbol = "" }, true},
		{"missing timeframe", func(c *Candle) { c.Timeframe = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsComplete(t *testing.T) {
	closed := valid()
	closed.Timestamp = time.Now().UTC().AddDate(0, 0, -2)
	assert.True(t, closed.IsComplete())

	forming := valid()
	forming.Timestamp = time.Now().UTC().Add(-time.Hour)
	assert.False(t, forming.IsComplete())
}

func TestSortByTime(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := []Candle{
		{Timestamp: base.AddDate(0, 0, 2)},
		{Timestamp: base},
		{Timestamp: base.AddDate(0, 0, 1)},
	}

	SortByTime(candles)
	assert.Equal(t, base, candles[0].Timestamp)
	assert.Equal(t, base.AddDate(0, 0, 1), candles[1].Timestamp)
	assert.Equal(t, base.AddDate(0, 0, 2), candles[2].Timestamp)
}

func TestSeriesExtractors(t *testing.T) {
	candles := []Candle{
		{Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Open: 3, High: 4, Low: 2.5, Close: 3.5, Volume: 20},
	}

	assert.Equal(t, []float64{1, 3}, Opens(candles))
	assert.Equal(t, []float64{2, 4}, Highs(candles))
	assert.Equal(t, []float64{0.5, 2.5}, Lows(candles))
	assert.Equal(t, []float64{1.5, 3.5}, Closes(candles))
	assert.Equal(t, []float64{10, 20}, Volumes(candles))

	require.Empty(t, Closes(nil))
}
