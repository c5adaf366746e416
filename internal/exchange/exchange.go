package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"spot-cycle-trader/internal/model"
)

// Adapter is the uniform capability set every venue implements.
// Symbols are passed in BASE/QUOTE form; adapters translate to their own format.
type Adapter interface {
	Name() string
	MakerFee() decimal.Decimal

	// IsActive never fails; any error means the venue is unavailable.
	IsActive(ctx context.Context) bool
	// Balance returns zero when the asset is absent from the account.
	Balance(ctx context.Context, asset string) (decimal.Decimal, error)
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
	Ticker(ctx context.Context, symbol string) (model.Ticker, error)
	// SymbolInfo falls back to DefaultSymbolInfo when the venue exposes no filters.
	SymbolInfo(ctx context.Context, symbol string) (model.SymbolInfo, error)
	// Klines returns candles oldest first, or an empty slice when the venue has none.
	Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error)

	// PlaceOrder submits a limit GTC order. It is never retried blindly by callers.
	PlaceOrder(ctx context.Context, req model.OrderRequest) (model.Order, error)
	OrderStatus(ctx context.Context, symbol, orderID string) (model.OrderStatus, error)
	MyTrades(ctx context.Context, symbol, orderID string) ([]model.Fill, error)
	// OpenOrders lists resting orders; an empty symbol means every configured symbol.
	OpenOrders(ctx context.Context, symbol string) ([]model.OrderRef, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}
