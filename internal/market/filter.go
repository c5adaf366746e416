package market

import (
	"math"

	"spot-cycle-trader/internal/model"
)

// Minimum observations before a predicate will say yes.
const (
	MinSafeCandles  = 10
	MinTrendCandles = 20
)

// Filter holds the thresholds of the liquidity and trend gates. Its methods are pure.
type Filter struct {
	MinAvgQuoteVolume float64
	MaxCloseMove      float64
	ADXPeriod         int
	ADXThreshold      float64
	RSIPeriod         int
	RSILow            float64
	RSIHigh           float64
}

func DefaultFilter() Filter {
	return Filter{
		MinAvgQuoteVolume: 5000,
		MaxCloseMove:      0.05,
		ADXPeriod:         14,
		ADXThreshold:      20,
		RSIPeriod:         14,
		RSILow:            35,
		RSIHigh:           65,
	}
}

// IsSafe checks the last MinSafeCandles candles. With volume data it requires the average
// quote volume to reach MinAvgQuoteVolume. Without it, no close-to-close move may exceed
// MaxCloseMove.
func (f Filter) IsSafe(candles []model.Candle) bool {
	if len(candles) < MinSafeCandles {
		return false
	}
	window := candles[len(candles)-MinSafeCandles:]

	hasVolume := false
	for _, c := range window {
		if !c.Close.IsPositive() {
			return false
		}
		if c.Volume.IsPositive() {
			hasVolume = true
		}
	}

	if hasVolume {
		var total float64
		for _, c := range window {
			total += c.Volume.Mul(c.Close).InexactFloat64()
		}
		return total/float64(len(window)) >= f.MinAvgQuoteVolume
	}

	for i := 1; i < len(window); i++ {
		prev := window[i-1].Close.InexactFloat64()
		move := math.Abs(window[i].Close.InexactFloat64()/prev - 1)
		if move > f.MaxCloseMove {
			return false
		}
	}
	return true
}

// IsTrending requires a directional trend (ADX above threshold) with RSI strictly inside
// the neutral band.
func (f Filter) IsTrending(candles []model.Candle) bool {
	if len(candles) < MinTrendCandles || len(candles) <= f.ADXPeriod || len(candles) <= f.RSIPeriod {
		return false
	}
	highs, lows, closes := series(candles)

	adx := ADX(highs, lows, closes, f.ADXPeriod)
	if math.IsNaN(adx) || adx <= f.ADXThreshold {
		return false
	}
	rsi := RSI(closes, f.RSIPeriod)
	return rsi > f.RSILow && rsi < f.RSIHigh
}
