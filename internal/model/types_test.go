package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAggregateFills(t *testing.T) {
	sum := AggregateFills([]Fill{
		{Quantity: d("2"), QuoteAmount: d("20")},
		{Quantity: d("3"), QuoteAmount: d("30")},
	})
	assert.True(t, sum.Quantity.Equal(d("5")))
	assert.True(t, sum.Quote.Equal(d("50")))
	assert.True(t, sum.AvgPrice.Equal(d("10")))
	assert.Equal(t, 2, sum.FillCount)

	reversed := AggregateFills([]Fill{
		{Quantity: d("3"), QuoteAmount: d("30")},
		{Quantity: d("2"), QuoteAmount: d("20")},
	})
	assert.True(t, reversed.AvgPrice.Equal(sum.AvgPrice))
}

func TestAggregateFillsEmpty(t *testing.T) {
	sum := AggregateFills(nil)
	assert.True(t, sum.Quantity.IsZero())
	assert.True(t, sum.AvgPrice.IsZero())
}

func TestTickerSpread(t *testing.T) {
	assert.True(t, Ticker{Bid: d("2"), Ask: d("2.01")}.Spread().Equal(d("0.01")))
	assert.True(t, Ticker{Bid: d("2"), Ask: d("1.99")}.Spread().IsZero(), "crossed book")
	assert.True(t, Ticker{Bid: d("2")}.Spread().IsZero(), "missing ask")
}

func TestVenueErrorMatchesKind(t *testing.T) {
	err := fmt.Errorf("place buy: %w", NewVenueError(ErrOrderRejected, "MEXC", "placeOrder", "below min notional"))
	assert.True(t, errors.Is(err, ErrOrderRejected))
	assert.False(t, errors.Is(err, ErrTransport))
	assert.Contains(t, err.Error(), "below min notional")

	var ve *VenueError
	assert.True(t, errors.As(err, &ve))
	assert.Equal(t, "MEXC", ve.Venue)

	cause := errors.New("i/o timeout")
	terr := TransportErr("KuCoin", "getBalance", cause)
	assert.True(t, errors.Is(terr, ErrTransport))
	assert.True(t, errors.Is(terr, cause))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(TransportErr("x", "op", errors.New("reset"))))
	assert.False(t, IsRetryable(NewVenueError(ErrAuth, "x", "op", "bad key")))
	assert.False(t, IsRetryable(NewVenueError(ErrOrderRejected, "x", "op", "")))
	assert.False(t, IsRetryable(nil))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab...", Truncate("abcdef", 2))
	assert.Equal(t, "abcdef", Truncate("abcdef", 0))
}
