package market

import (
	"math"

	"spot-cycle-trader/internal/model"
)

// series splits candles into float slices. Close-only candles use the close for high and low.
func series(candles []model.Candle) (highs, lows, closes []float64) {
	highs = make([]float64, len(candles))
	lows = make([]float64, len(candles))
	closes = make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close.InexactFloat64()
		if c.CloseOnly() {
			highs[i], lows[i] = closes[i], closes[i]
			continue
		}
		highs[i] = c.High.InexactFloat64()
		lows[i] = c.Low.InexactFloat64()
	}
	return highs, lows, closes
}

// ADX returns the latest Wilder average directional index. The first ADX value is the mean
// of the first period DX values, or of all DX values when fewer exist. It needs at least
// period+1 observations and returns 0 otherwise.
func ADX(highs, lows, closes []float64, period int) float64 {
	n := len(closes)
	if period <= 0 || n < period+1 || len(highs) != n || len(lows) != n {
		return 0
	}

	tr := make([]float64, 0, n-1)
	plusDM := make([]float64, 0, n-1)
	minusDM := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]
		p, m := 0.0, 0.0
		if up > down && up > 0 {
			p = up
		}
		if down > up && down > 0 {
			m = down
		}
		plusDM = append(plusDM, p)
		minusDM = append(minusDM, m)
		tr = append(tr, math.Max(highs[i]-lows[i], math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1]))))
	}

	var sTR, sPlus, sMinus float64
	for i := 0; i < period; i++ {
		sTR += tr[i]
		sPlus += plusDM[i]
		sMinus += minusDM[i]
	}

	dx := []float64{directional(sPlus, sMinus, sTR)}
	for i := period; i < len(tr); i++ {
		p := float64(period)
		sTR = sTR - sTR/p + tr[i]
		sPlus = sPlus - sPlus/p + plusDM[i]
		sMinus = sMinus - sMinus/p + minusDM[i]
		dx = append(dx, directional(sPlus, sMinus, sTR))
	}

	seed := period
	if len(dx) < seed {
		seed = len(dx)
	}
	var adx float64
	for _, v := range dx[:seed] {
		adx += v
	}
	adx /= float64(seed)
	for _, v := range dx[seed:] {
		adx = (adx*float64(period-1) + v) / float64(period)
	}
	return adx
}

func directional(plus, minus, tr float64) float64 {
	if tr == 0 {
		return 0
	}
	pdi := 100 * plus / tr
	mdi := 100 * minus / tr
	if pdi+mdi == 0 {
		return 0
	}
	return 100 * math.Abs(pdi-mdi) / (pdi + mdi)
}

// RSI returns the latest Wilder relative strength index, or 50 when there are not enough
// closes. A series with no losses reads 100; a flat series reads 50.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return 50
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		ch := closes[i] - closes[i-1]
		if ch > 0 {
			gain += ch
		} else {
			loss -= ch
		}
	}
	gain /= float64(period)
	loss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		ch := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if ch > 0 {
			g = ch
		} else {
			l = -ch
		}
		gain = (gain*float64(period-1) + g) / float64(period)
		loss = (loss*float64(period-1) + l) / float64(period)
	}

	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+gain/loss)
}
