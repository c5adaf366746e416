package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"spot-cycle-trader/internal/exchange"
	"spot-cycle-trader/internal/market"
	"spot-cycle-trader/internal/model"
)

func TestExchangeSelectorPicksLargestBalance(t *testing.T) {
	inactive := newMockAdapter("A")
	inactive.On("IsActive").Return(false)

	first := newMockAdapter("B")
	first.On("IsActive").Return(true)
	first.On("Balance", "USDT").Return(d("50"), nil)

	tied := newMockAdapter("C")
	tied.On("IsActive").Return(true)
	tied.On("Balance", "USDT").Return(d("50"), nil)

	poor := newMockAdapter("D")
	poor.On("IsActive").Return(true)
	poor.On("Balance", "USDT").Return(d("4.99"), nil)

	obs := &balanceLog{}
	s := &ExchangeSelector{QuoteAsset: "USDT", MinBalance: d("5"), Retry: testPolicy(), Observer: obs}
	got, ok := s.SelectBest(context.Background(), []exchange.Adapter{inactive, first, tied, poor})
	require.True(t, ok)
	assert.Len(t, obs.seen, 3)
	assert.Equal(t, "B", got.Adapter.Name())
	assert.True(t, got.Balance.Equal(d("50")))
	inactive.AssertNotCalled(t, "Balance", mock.Anything)

	richer := newMockAdapter("E")
	richer.On("IsActive").Return(true)
	richer.On("Balance", "USDT").Return(d("50.01"), nil)
	got, ok = s.SelectBest(context.Background(), []exchange.Adapter{first, tied, richer})
	require.True(t, ok)
	assert.Equal(t, "E", got.Adapter.Name())
}

func TestExchangeSelectorNone(t *testing.T) {
	broken := newMockAdapter("A")
	broken.On("IsActive").Return(true)
	broken.On("Balance", "USDT").Return(d("0"), model.NewVenueError(model.ErrAuth, "A", "balance", "bad signature"))

	poor := newMockAdapter("B")
	poor.On("IsActive").Return(true)
	poor.On("Balance", "USDT").Return(d("1"), nil)

	n := &recordingNotifier{}
	s := &ExchangeSelector{QuoteAsset: "USDT", MinBalance: d("5"), Retry: testPolicy(), Notifier: n}
	_, ok := s.SelectBest(context.Background(), []exchange.Adapter{broken, poor})
	assert.False(t, ok)
	broken.AssertNumberOfCalls(t, "Balance", 1)
	require.Len(t, n.messages(), 1)
	assert.Contains(t, n.messages()[0], "A balance error")

	_, ok = s.SelectBest(context.Background(), nil)
	assert.False(t, ok)
}

func zigzagCandles(base float64, n int) []model.Candle {
	out := make([]model.Candle, n)
	c := base
	for i := range out {
		if i > 0 {
			if i%2 == 1 {
				c += 3
			} else {
				c -= 2
			}
		}
		out[i] = model.Candle{Close: decimalFloat(c), Volume: d("1000")}
	}
	return out
}

func testFilter() market.Filter {
	f := market.DefaultFilter()
	f.ADXThreshold = 10
	return f
}

func TestSymbolSelectorScoresVolatility(t *testing.T) {
	a := newMockAdapter("X")
	a.On("Klines", "BTC/USDT", "1h", 100).Return(zigzagCandles(100, 40), nil)
	a.On("Klines", "ETH/USDT", "1h", 100).Return(zigzagCandles(50, 40), nil)
	a.On("Klines", "DOGE/USDT", "1h", 100).Return(zigzagCandles(50, 15), nil)
	a.On("Klines", "SOL/USDT", "1h", 100).Return([]model.Candle(nil), model.NewVenueError(model.ErrMarketData, "X", "klines", "unknown symbol"))

	s := &SymbolSelector{Filter: testFilter(), Interval: "1h", Limit: 100, Retry: testPolicy()}
	got, ok := s.SelectBest(context.Background(), a, []string{"SOL/USDT", "BTC/USDT", "ETH/USDT", "DOGE/USDT"})
	require.True(t, ok)
	assert.Equal(t, "ETH/USDT", got)
}

func TestSymbolSelectorSkipsWhenNothingQualifies(t *testing.T) {
	a := newMockAdapter("X")
	a.On("Klines", mock.Anything, "1h", 100).Return([]model.Candle{}, nil)

	s := &SymbolSelector{Filter: testFilter(), Interval: "1h", Limit: 100, Retry: testPolicy()}
	_, ok := s.SelectBest(context.Background(), a, []string{"BTC/USDT", "ETH/USDT"})
	assert.False(t, ok)

	s.ForceFallback = true
	got, ok := s.SelectBest(context.Background(), a, []string{"BTC/USDT", "ETH/USDT"})
	require.True(t, ok)
	assert.Equal(t, "BTC/USDT", got)

	_, ok = s.SelectBest(context.Background(), a, nil)
	assert.False(t, ok)
}

type balanceLog struct{ seen []model.Balance }

func (b *balanceLog) ObserveBalance(bal model.Balance) { b.seen = append(b.seen, bal) }
