package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"spot-cycle-trader/internal/model"
)

func closeOnly(closes ...float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = model.Candle{OpenTime: t0.Add(time.Duration(i) * time.Hour), Close: decimal.NewFromFloat(c)}
	}
	return out
}

func withVolume(n int, price, volume float64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		p := decimal.NewFromFloat(price)
		out[i] = model.Candle{Open: p, High: p, Low: p, Close: p, Volume: decimal.NewFromFloat(volume)}
	}
	return out
}

// zigzag rises 3 and falls 2 in turn.
func zigzag(n int) []float64 {
	out := make([]float64, n)
	out[0] = 100
	for i := 1; i < n; i++ {
		if i%2 == 1 {
			out[i] = out[i-1] + 3
		} else {
			out[i] = out[i-1] - 2
		}
	}
	return out
}

func ramp(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)
	}
	return out
}

func TestShortSequencesNeverPass(t *testing.T) {
	f := DefaultFilter()
	for n := 0; n < MinSafeCandles; n++ {
		assert.False(t, f.IsSafe(withVolume(n, 10, 1e6)), "n=%d", n)
	}
	for n := 0; n < MinTrendCandles; n++ {
		assert.False(t, f.IsTrending(closeOnly(zigzag(n + 1)[:n]...)), "n=%d", n)
	}
	assert.False(t, f.IsSafe(nil))
	assert.False(t, f.IsTrending(nil))
}

func TestIsSafeVolume(t *testing.T) {
	f := DefaultFilter()
	assert.True(t, f.IsSafe(withVolume(10, 10, 500)))
	assert.False(t, f.IsSafe(withVolume(10, 10, 499)))

	// only the last ten count
	c := append(withVolume(30, 10, 1), withVolume(10, 10, 1000)...)
	assert.True(t, f.IsSafe(c))
}

func TestIsSafeCloseOnly(t *testing.T) {
	f := DefaultFilter()
	assert.True(t, f.IsSafe(closeOnly(ramp(12)...)))

	jumpy := ramp(12)
	jumpy[11] = jumpy[10] * 1.1
	assert.False(t, f.IsSafe(closeOnly(jumpy...)))

	zero := ramp(12)
	zero[5] = 0
	assert.False(t, f.IsSafe(closeOnly(zero...)))
}

func TestIsTrending(t *testing.T) {
	f := DefaultFilter()
	f.ADXThreshold = 10

	assert.True(t, f.IsTrending(closeOnly(zigzag(40)...)))

	// a straight ramp has a strong trend but RSI pinned at 100
	assert.False(t, f.IsTrending(closeOnly(ramp(40)...)))

	flat := make([]float64, 40)
	for i := range flat {
		flat[i] = 5
	}
	assert.False(t, f.IsTrending(closeOnly(flat...)))
}

func TestIsTrendingDeterministic(t *testing.T) {
	f := DefaultFilter()
	c := closeOnly(zigzag(60)...)
	first := f.IsTrending(c)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, f.IsTrending(c))
	}
}

func TestIndicators(t *testing.T) {
	r := ramp(30)
	assert.InDelta(t, 100, ADX(r, r, r, 14), 1e-9)
	assert.InDelta(t, 100, RSI(r, 14), 1e-9)

	z := zigzag(30)
	assert.InDelta(t, 60, RSI(z, 14), 5)
	assert.InDelta(t, 20, ADX(z, z, z, 14), 6)

	assert.Equal(t, 0.0, ADX(r[:10], r[:10], r[:10], 14))
	assert.Equal(t, 50.0, RSI(r[:10], 14))
}

func TestLogReturnStdDev(t *testing.T) {
	assert.Equal(t, 0.0, LogReturnStdDev(nil))
	assert.Equal(t, 0.0, LogReturnStdDev(closeOnly(1, 1, 1, 1)))

	// constant growth has identical returns
	assert.InDelta(t, 0, LogReturnStdDev(closeOnly(1, 2, 4, 8)), 1e-12)

	calm := LogReturnStdDev(closeOnly(100, 101, 100, 101, 100))
	wild := LogReturnStdDev(closeOnly(100, 110, 100, 110, 100))
	assert.Greater(t, wild, calm)
}

func TestGarmanKlass(t *testing.T) {
	assert.Equal(t, 0.0, GarmanKlass(closeOnly(1, 2, 3)))

	c := []model.Candle{{
		Open:  decimal.NewFromInt(100),
		High:  decimal.NewFromInt(110),
		Low:   decimal.NewFromInt(95),
		Close: decimal.NewFromInt(100),
	}}
	assert.Greater(t, GarmanKlass(c), 0.0)
}
