package market

import (
	"math"

	"spot-cycle-trader/internal/model"
)

// LogReturnStdDev is the population standard deviation of close-to-close log returns.
// Non-positive closes are skipped. Fewer than two usable returns give 0.
func LogReturnStdDev(candles []model.Candle) float64 {
	returns := make([]float64, 0, len(candles))
	prev := 0.0
	for _, c := range candles {
		cl := c.Close.InexactFloat64()
		if cl <= 0 {
			continue
		}
		if prev > 0 {
			returns = append(returns, math.Log(cl/prev))
		}
		prev = cl
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	return math.Sqrt(variance / float64(len(returns)))
}

// GarmanKlass estimates per-candle volatility from OHLC data:
// sigma^2 = 0.5 * ln(H/L)^2 - (2ln2 - 1) * ln(C/O)^2
// Close-only candles carry no range and are skipped.
func GarmanKlass(candles []model.Candle) float64 {
	cons := 2.0*math.Log(2.0) - 1.0

	var sum float64
	count := 0
	for _, k := range candles {
		if k.CloseOnly() {
			continue
		}
		o := k.Open.InexactFloat64()
		h := k.High.InexactFloat64()
		l := k.Low.InexactFloat64()
		c := k.Close.InexactFloat64()
		if o <= 0 || l <= 0 {
			continue
		}

		sigmaSq := 0.5*math.Pow(math.Log(h/l), 2) - cons*math.Pow(math.Log(c/o), 2)
		sum += sigmaSq
		count++
	}

	if count == 0 || sum <= 0 {
		return 0
	}
	return math.Sqrt(sum / float64(count))
}
