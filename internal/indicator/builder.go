package indicator

import (
	"fmt"

	talib "github.com/markcheno/go-talib"

	"github.com/vnquant/signalbot/internal/candle"
)

// BuilderConfig holds the periods used to compute a snapshot from candles.
type BuilderConfig struct {
	MALongPeriod   int     `yaml:"ma_long_period"`
	EMAShortPeriod int     `yaml:"ema_short_period"`
	RSIPeriod      int     `yaml:"rsi_period"`
	RSIOversold    float64 `yaml:"rsi_oversold"`
	RSIOverbought  float64 `yaml:"rsi_overbought"`
	MACDFast       int     `yaml:"macd_fast"`
	MACDSlow       int     `yaml:"macd_slow"`
	MACDSignal     int     `yaml:"macd_signal"`
	BBPeriod       int     `yaml:"bb_period"`
	BBStdDev       float64 `yaml:"bb_std_dev"`
	VolumePeriod   int     `yaml:"volume_period"`
	VolumeHigh     float64 `yaml:"volume_high"`
	VolumeLow      float64 `yaml:"volume_low"`
	ATRPeriod      int     `yaml:"atr_period"`
	SwingLookback  int     `yaml:"swing_lookback"`
}

func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		MALongPeriod:   200,
		EMAShortPeriod: 20,
		RSIPeriod:      14,
		RSIOversold:    30,
		RSIOverbought:  70,
		MACDFast:       12,
		MACDSlow:       26,
		MACDSignal:     9,
		BBPeriod:       20,
		BBStdDev:       2.0,
		VolumePeriod:   20,
		VolumeHigh:     1.5,
		VolumeLow:      0.7,
		ATRPeriod:      14,
		SwingLookback:  20,
	}
}

// Builder computes indicator snapshots from candle series.
type Builder struct {
	cfg BuilderConfig
}

func NewBuilder(cfg BuilderConfig) *Builder {
	return &Builder{cfg: cfg}
}

// MinBars returns how many candles the builder needs before every snapshot
// field is populated.
func (b *Builder) MinBars() int {
	bars := b.cfg.MALongPeriod
	if n := b.cfg.MACDSlow + b.cfg.MACDSignal; n > bars {
		bars = n
	}
	return bars + 1
}

// Compute builds the snapshot for the last candle of the series. Fields whose
// lookback exceeds the available history are left unavailable; the snapshot is
// only fully populated once len(candles) >= MinBars().
func (b *Builder) Compute(candles []candle.Candle) (Snapshot, error) {
	if len(candles) == 0 {
		return Snapshot{}, fmt.Errorf("%w: empty candle series", ErrUnavailable)
	}

	last := len(candles) - 1
	closes := candle.Closes(candles)
	highs := candle.Highs(candles)
	lows := candle.Lows(candles)
	volumes := candle.Volumes(candles)
	price := closes[last]

	var snap Snapshot

	if len(closes) >= b.cfg.MALongPeriod {
		maLong := talib.Sma(closes, b.cfg.MALongPeriod)
		snap.MALong = Float(maLong[last])
	}
	if len(closes) >= b.cfg.EMAShortPeriod {
		emaShort := talib.Ema(closes, b.cfg.EMAShortPeriod)
		snap.EMAShort = Float(emaShort[last])
	}

	if maLong, ok := Value(snap.MALong); ok {
		emaShort, _ := Value(snap.EMAShort)
		switch {
		case price > maLong && price > emaShort:
			snap.TrendDirection = TrendUp
		case price < maLong && price < emaShort:
			snap.TrendDirection = TrendDown
		default:
			snap.TrendDirection = TrendSideways
		}
	}

	if len(closes) > b.cfg.RSIPeriod {
		rsi := talib.Rsi(closes, b.cfg.RSIPeriod)
		v := rsi[last]
		snap.RSI = Float(v)
		switch {
		case v < b.cfg.RSIOversold:
			snap.RSISignal = RSIOversold
		case v > b.cfg.RSIOverbought:
			snap.RSISignal = RSIOverbought
		default:
			snap.RSISignal = RSINeutral
		}
	}

	if len(closes) >= b.cfg.MACDSlow+b.cfg.MACDSignal {
		_, _, hist := talib.Macd(closes, b.cfg.MACDFast, b.cfg.MACDSlow, b.cfg.MACDSignal)
		h := hist[last]
		snap.MACDHistogram = Float(h)
		switch {
		case h > 0:
			snap.MACDTrend = MACDBullish
		case h < 0:
			snap.MACDTrend = MACDBearish
		default:
			snap.MACDTrend = MACDNeutral
		}
	}

	if len(volumes) >= b.cfg.VolumePeriod {
		volMA := talib.Sma(volumes, b.cfg.VolumePeriod)
		if avg := volMA[last]; avg > 0 {
			ratio := volumes[last] / avg
			snap.VolumeRatio = Float(ratio)
			switch {
			case ratio >= b.cfg.VolumeHigh:
				snap.VolumeSignal = VolumeHigh
			case ratio >= b.cfg.VolumeLow:
				snap.VolumeSignal = VolumeNormal
			default:
				snap.VolumeSignal = VolumeLow
			}
		}
	}

	if len(closes) >= b.cfg.BBPeriod {
		upper, _, lower := talib.BBands(closes, b.cfg.BBPeriod, b.cfg.BBStdDev, b.cfg.BBStdDev, talib.SMA)
		if width := upper[last] - lower[last]; width > 0 {
			pos := (price - lower[last]) / width
			if pos < 0 {
				pos = 0
			}
			if pos > 1 {
				pos = 1
			}
			snap.BandPosition = Float(pos)
		}
	}

	// Swing support/resistance over the recent lookback, excluding the
	// current bar so a new high does not become its own resistance.
	if last >= b.cfg.SwingLookback {
		support := lows[last-b.cfg.SwingLookback]
		resistance := highs[last-b.cfg.SwingLookback]
		for i := last - b.cfg.SwingLookback + 1; i < last; i++ {
			if lows[i] < support {
				support = lows[i]
			}
			if highs[i] > resistance {
				resistance = highs[i]
			}
		}
		snap.Support = Float(support)
		snap.Resistance = Float(resistance)
	}

	if len(closes) > b.cfg.ATRPeriod {
		atr := talib.Atr(highs, lows, closes, b.cfg.ATRPeriod)
		if v := atr[last]; v > 0 {
			snap.ATR = Float(v)
		}
	}

	return snap, nil
}
