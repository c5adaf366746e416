package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Ticker struct {
	Symbol string          `json:"symbol"`
	Bid    decimal.Decimal `json:"bid"` // Best Bid Price
	Ask    decimal.Decimal `json:"ask"` // Best Ask Price
	Time   time.Time       `json:"time"`
}

// Spread is ask minus bid, or zero when the book is crossed or one side is missing.
func (t Ticker) Spread() decimal.Decimal {
	if !t.Bid.IsPositive() || !t.Ask.IsPositive() || t.Ask.LessThan(t.Bid) {
		return decimal.Zero
	}
	return t.Ask.Sub(t.Bid)
}

// Candle is one kline, oldest first in any sequence. Venues that only report closes leave
// Open/High/Low/Volume zero.
type Candle struct {
	OpenTime time.Time       `json:"openTime"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
}

// CloseOnly reports whether the candle lacks the high/low range.
func (c Candle) CloseOnly() bool {
	return c.High.IsZero() && c.Low.IsZero()
}

// SymbolInfo carries the precision rules of one symbol on one venue.
type SymbolInfo struct {
	Symbol            string          `json:"symbol"`
	MinQuantity       decimal.Decimal `json:"minQuantity"`
	QuantityPrecision int32           `json:"quantityPrecision"`
	PricePrecision    int32           `json:"pricePrecision"`
	// Authoritative is false when the values are a fallback rather than venue filters.
	Authoritative bool `json:"authoritative"`
}
