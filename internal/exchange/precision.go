package exchange

import (
	"strings"

	"github.com/shopspring/decimal"

	"spot-cycle-trader/internal/model"
)

// DefaultSymbolInfo is the conservative fallback used when a venue has no filters for a symbol.
func DefaultSymbolInfo(symbol string) model.SymbolInfo {
	return model.SymbolInfo{
		Symbol:            symbol,
		MinQuantity:       decimal.RequireFromString("0.01"),
		QuantityPrecision: 2,
		PricePrecision:    4,
		Authoritative:     false,
	}
}

// PrecisionFromStep turns a step/tick size such as "0.00100000" into a decimal place count (3).
func PrecisionFromStep(step string) int32 {
	step = strings.TrimSpace(step)
	d, err := decimal.NewFromString(step)
	if err != nil || !d.IsPositive() {
		return 0
	}
	s := d.String()
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return 0
	}
	return int32(len(strings.TrimRight(s[i+1:], "0")))
}

// RoundQuantity truncates toward zero so an order never exceeds the funds it was sized from.
func RoundQuantity(q decimal.Decimal, precision int32) decimal.Decimal {
	return q.RoundDown(clampPrecision(precision))
}

// RoundPriceDown is used for bids.
func RoundPriceDown(p decimal.Decimal, precision int32) decimal.Decimal {
	return p.RoundDown(clampPrecision(precision))
}

// RoundPriceUp is used for asks so the margin survives rounding.
func RoundPriceUp(p decimal.Decimal, precision int32) decimal.Decimal {
	return p.RoundUp(clampPrecision(precision))
}

// FormatDecimal renders a value with exactly precision places, as venues expect.
func FormatDecimal(v decimal.Decimal, precision int32) string {
	return v.StringFixed(clampPrecision(precision))
}

func clampPrecision(p int32) int32 {
	if p < 0 {
		return 0
	}
	return p
}

// SplitSymbol splits "BTC/USDT" into base and quote.
func SplitSymbol(symbol string) (string, string) {
	for _, sep := range []string{"/", "-", "_"} {
		if base, quote, ok := strings.Cut(symbol, sep); ok {
			return strings.ToUpper(base), strings.ToUpper(quote)
		}
	}
	return strings.ToUpper(symbol), ""
}

// JoinSymbol renders a BASE/QUOTE symbol with the venue separator.
func JoinSymbol(symbol, sep string) string {
	base, quote := SplitSymbol(symbol)
	if quote == "" {
		return base
	}
	return base + sep + quote
}
