package binance

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"

	"spot-cycle-trader/internal/exchange"
	"spot-cycle-trader/internal/logger"
	"spot-cycle-trader/internal/model"
)

const (
	Name = "Binance"

	maxStreamed = 1024
)

// Adapter wraps the go-binance spot client. Terminal order statuses pushed by the
// user-data stream are cached so polling can skip a REST round trip.
type Adapter struct {
	client   *gobinance.Client
	makerFee decimal.Decimal
	symbols  []string

	mu       sync.RWMutex
	streamed map[string]model.OrderStatus
}

func New(apiKey, secretKey string, symbols []string) *Adapter {
	return &Adapter{
		client:   gobinance.NewClient(apiKey, secretKey),
		makerFee: decimal.RequireFromString("0.001"),
		symbols:  symbols,
		streamed: make(map[string]model.OrderStatus),
	}
}

func (a *Adapter) SetBaseURL(u string) { a.client.BaseURL = u }

func (a *Adapter) Name() string              { return Name }
func (a *Adapter) MakerFee() decimal.Decimal { return a.makerFee }

// SyncFees replaces the default maker fee with the account's commission rate.
func (a *Adapter) SyncFees(ctx context.Context) error {
	acc, err := a.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return classify(exchange.OpBalance, err)
	}
	if acc.MakerCommission > 0 {
		// Binance reports commissions in basis points (10 => 0.0010).
		fee := decimal.NewFromInt(acc.MakerCommission).Div(decimal.NewFromInt(10000))
		if !fee.Equal(a.makerFee) {
			logger.Info("Maker fee updated from account", "exchange", Name, "old", a.makerFee, "new", fee)
			a.makerFee = fee
		}
	}
	return nil
}

func (a *Adapter) IsActive(ctx context.Context) bool {
	if err := a.client.NewPingService().Do(ctx); err != nil {
		logger.Debug("Binance ping failed", "error", err)
		return false
	}
	return true
}

func (a *Adapter) Balance(ctx context.Context, asset string) (decimal.Decimal, error) {
	acc, err := a.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return decimal.Zero, classify(exchange.OpBalance, err)
	}
	for _, b := range acc.Balances {
		if strings.EqualFold(b.Asset, asset) {
			return exchange.ParseDecimal(b.Free), nil
		}
	}
	return decimal.Zero, nil
}

func (a *Adapter) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	t, err := a.Ticker(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return t.Bid, nil
}

func (a *Adapter) Ticker(ctx context.Context, symbol string) (model.Ticker, error) {
	tickers, err := a.client.NewListBookTickersService().Symbol(venueSymbol(symbol)).Do(ctx)
	if err != nil {
		return model.Ticker{}, classify(exchange.OpTicker, err)
	}
	if len(tickers) == 0 {
		return model.Ticker{}, model.NewVenueError(model.ErrMarketData, Name, exchange.OpTicker, "unknown symbol "+symbol)
	}
	return model.Ticker{
		Symbol: symbol,
		Bid:    exchange.ParseDecimal(tickers[0].BidPrice),
		Ask:    exchange.ParseDecimal(tickers[0].AskPrice),
		Time:   time.Now(),
	}, nil
}

func (a *Adapter) SymbolInfo(ctx context.Context, symbol string) (model.SymbolInfo, error) {
	info, err := a.client.NewExchangeInfoService().Symbol(venueSymbol(symbol)).Do(ctx)
	if err != nil {
		err = classify(exchange.OpSymbolInfo, err)
		if errors.Is(err, model.ErrMarketData) {
			return exchange.DefaultSymbolInfo(symbol), nil
		}
		return model.SymbolInfo{}, err
	}
	if len(info.Symbols) == 0 {
		return exchange.DefaultSymbolInfo(symbol), nil
	}

	result := exchange.DefaultSymbolInfo(symbol)
	s := info.Symbols[0]
	if lot := s.LotSizeFilter(); lot != nil {
		result.MinQuantity = exchange.ParseDecimal(lot.MinQuantity)
		result.QuantityPrecision = exchange.PrecisionFromStep(lot.StepSize)
		result.Authoritative = true
	}
	if pf := s.PriceFilter(); pf != nil {
		result.PricePrecision = exchange.PrecisionFromStep(pf.TickSize)
	}
	if !result.MinQuantity.IsPositive() {
		result.MinQuantity = exchange.DefaultSymbolInfo(symbol).MinQuantity
	}
	return result, nil
}

func (a *Adapter) Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	klines, err := a.client.NewKlinesService().
		Symbol(venueSymbol(symbol)).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, classify(exchange.OpKlines, err)
	}
	candles := make([]model.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, model.Candle{
			OpenTime: time.UnixMilli(k.OpenTime),
			Open:     exchange.ParseDecimal(k.Open),
			High:     exchange.ParseDecimal(k.High),
			Low:      exchange.ParseDecimal(k.Low),
			Close:    exchange.ParseDecimal(k.Close),
			Volume:   exchange.ParseDecimal(k.Volume),
		})
	}
	return candles, nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	svc := a.client.NewCreateOrderService().
		Symbol(venueSymbol(req.Symbol)).
		Side(gobinance.SideType(req.Side)).
		Type(gobinance.OrderTypeLimit).
		TimeInForce(gobinance.TimeInForceTypeGTC).
		Quantity(req.Quantity.String()).
		Price(req.Price.String())
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return model.Order{}, classify(exchange.OpPlaceOrder, err)
	}
	return model.Order{
		ID:            strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Status:        mapStatus(resp.Status),
		CreatedAt:     time.Now(),
	}, nil
}

func (a *Adapter) OrderStatus(ctx context.Context, symbol, orderID string) (model.OrderStatus, error) {
	a.mu.RLock()
	status, ok := a.streamed[orderID]
	a.mu.RUnlock()
	if ok {
		return status, nil
	}

	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return model.StatusUnknown, model.NewVenueError(model.ErrMarketData, Name, exchange.OpOrderStatus, "invalid order id "+orderID)
	}
	order, err := a.client.NewGetOrderService().Symbol(venueSymbol(symbol)).OrderID(id).Do(ctx)
	if err != nil {
		return model.StatusUnknown, classify(exchange.OpOrderStatus, err)
	}
	return mapStatus(order.Status), nil
}

func (a *Adapter) MyTrades(ctx context.Context, symbol, orderID string) ([]model.Fill, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, model.NewVenueError(model.ErrMarketData, Name, exchange.OpMyTrades, "invalid order id "+orderID)
	}
	trades, err := a.client.NewListTradesService().Symbol(venueSymbol(symbol)).OrderId(id).Do(ctx)
	if err != nil {
		return nil, classify(exchange.OpMyTrades, err)
	}
	fills := make([]model.Fill, 0, len(trades))
	for _, t := range trades {
		fills = append(fills, model.Fill{
			Quantity:    exchange.ParseDecimal(t.Quantity),
			QuoteAmount: exchange.ParseDecimal(t.QuoteQuantity),
		})
	}
	return fills, nil
}

func (a *Adapter) OpenOrders(ctx context.Context, symbol string) ([]model.OrderRef, error) {
	svc := a.client.NewListOpenOrdersService()
	if symbol != "" {
		svc = svc.Symbol(venueSymbol(symbol))
	}
	orders, err := svc.Do(ctx)
	if err != nil {
		return nil, classify(exchange.OpOpenOrders, err)
	}
	refs := make([]model.OrderRef, 0, len(orders))
	for _, o := range orders {
		refs = append(refs, model.OrderRef{
			ID:            strconv.FormatInt(o.OrderID, 10),
			ClientOrderID: o.ClientOrderID,
			Symbol:        a.displaySymbol(o.Symbol),
			Side:          model.Side(o.Side),
			Price:         exchange.ParseDecimal(o.Price),
			Quantity:      exchange.ParseDecimal(o.OrigQuantity),
		})
	}
	return refs, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return model.NewVenueError(model.ErrMarketData, Name, exchange.OpCancelOrder, "invalid order id "+orderID)
	}
	if _, err := a.client.NewCancelOrderService().Symbol(venueSymbol(symbol)).OrderID(id).Do(ctx); err != nil {
		return classify(exchange.OpCancelOrder, err)
	}
	return nil
}

// ObserveExecution records an executionReport status from the user-data stream.
// Only terminal statuses are kept.
func (a *Adapter) ObserveExecution(orderID int64, status string) {
	s := mapStatus(gobinance.OrderStatusType(status))
	if !s.Terminal() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.streamed) >= maxStreamed {
		a.streamed = make(map[string]model.OrderStatus)
	}
	a.streamed[strconv.FormatInt(orderID, 10)] = s
}

// StartUserStream, KeepAliveUserStream and CloseUserStream manage the listen key.
func (a *Adapter) StartUserStream(ctx context.Context) (string, error) {
	key, err := a.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return "", classify("startUserStream", err)
	}
	return key, nil
}

func (a *Adapter) KeepAliveUserStream(ctx context.Context, listenKey string) error {
	if err := a.client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
		return classify("keepAliveUserStream", err)
	}
	return nil
}

func (a *Adapter) CloseUserStream(ctx context.Context, listenKey string) error {
	if err := a.client.NewCloseUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
		return classify("closeUserStream", err)
	}
	return nil
}

// displaySymbol maps BTCUSDT back to the configured BTC/USDT form when known.
func (a *Adapter) displaySymbol(venue string) string {
	for _, s := range a.symbols {
		if venueSymbol(s) == venue {
			return s
		}
	}
	return venue
}

func classify(op string, err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return model.TransportErr(Name, op, err)
	}
	ve := &model.VenueError{
		Kind:    exchange.ClassifyKind(op),
		Venue:   Name,
		Op:      op,
		Code:    strconv.FormatInt(apiErr.Code, 10),
		Message: apiErr.Message,
	}
	switch apiErr.Code {
	case -1002, -1021, -1022, -2014, -2015:
		ve.Kind = model.ErrAuth
	case -1003, -1001, -1007, -1015:
		ve.Kind = model.ErrTransport
	case -1121:
		ve.Kind = model.ErrMarketData
	}
	return ve
}

func venueSymbol(symbol string) string {
	return exchange.JoinSymbol(symbol, "")
}

func mapStatus(s gobinance.OrderStatusType) model.OrderStatus {
	switch s {
	case gobinance.OrderStatusTypeNew, gobinance.OrderStatusTypePartiallyFilled:
		return model.StatusOpen
	case gobinance.OrderStatusTypeFilled:
		return model.StatusFilled
	case gobinance.OrderStatusTypeCanceled, gobinance.OrderStatusTypeExpired, gobinance.OrderStatusTypePendingCancel:
		return model.StatusCanceled
	case gobinance.OrderStatusTypeRejected:
		return model.StatusRejected
	default:
		return model.StatusUnknown
	}
}
