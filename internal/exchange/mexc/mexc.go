package mexc

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"spot-cycle-trader/internal/exchange"
	"spot-cycle-trader/internal/logger"
	"spot-cycle-trader/internal/model"
)

const (
	Name    = "MEXC"
	BaseURL = "https://api.mexc.com"
)

// Adapter talks to the MEXC v3 spot API, which mirrors the Binance REST surface.
type Adapter struct {
	rest      *exchange.RESTClient
	apiKey    string
	secretKey string
	makerFee  decimal.Decimal
	symbols   []string
}

func New(apiKey, secretKey string, symbols []string) *Adapter {
	return &Adapter{
		rest:      exchange.NewRESTClient(Name, BaseURL),
		apiKey:    apiKey,
		secretKey: secretKey,
		makerFee:  decimal.RequireFromString("0.001"),
		symbols:   symbols,
	}
}

// SetBaseURL points the adapter at another host, used by tests.
func (a *Adapter) SetBaseURL(u string) { a.rest.BaseURL = u }

func (a *Adapter) Name() string              { return Name }
func (a *Adapter) MakerFee() decimal.Decimal { return a.makerFee }

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type balanceResponse struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

type accountResponse struct {
	Balances []balanceResponse `json:"balances"`
}

type bookTickerResponse struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
}

type filter struct {
	FilterType string `json:"filterType"`
	TickSize   string `json:"tickSize,omitempty"`
	StepSize   string `json:"stepSize,omitempty"`
	MinQty     string `json:"minQty,omitempty"`
}

type symbolResponse struct {
	Symbol            string   `json:"symbol"`
	QuotePrecision    int32    `json:"quotePrecision"`
	BaseSizePrecision string   `json:"baseSizePrecision"`
	Filters           []filter `json:"filters"`
}

type exchangeInfoResponse struct {
	Symbols []symbolResponse `json:"symbols"`
}

type orderResponse struct {
	Symbol        string              `json:"symbol"`
	OrderID       exchange.FlexString `json:"orderId"`
	ClientOrderID string              `json:"clientOrderId"`
	Price         string              `json:"price"`
	OrigQty       string              `json:"origQty"`
	Status        string              `json:"status"`
	Side          string              `json:"side"`
}

type tradeResponse struct {
	Qty      string `json:"qty"`
	QuoteQty string `json:"quoteQty"`
	Price    string `json:"price"`
}

func (a *Adapter) IsActive(ctx context.Context) bool {
	_, err := a.publicGet(ctx, "/api/v3/ping", nil, exchange.OpPing)
	if err != nil {
		logger.Debug("MEXC ping failed", "error", err)
		return false
	}
	return true
}

func (a *Adapter) Balance(ctx context.Context, asset string) (decimal.Decimal, error) {
	body, err := a.signed(ctx, http.MethodGet, "/api/v3/account", url.Values{}, exchange.OpBalance)
	if err != nil {
		return decimal.Zero, err
	}
	var acc accountResponse
	if err := json.Unmarshal(body, &acc); err != nil {
		return decimal.Zero, exchange.MalformedErr(Name, exchange.OpBalance, err)
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
	params := url.Values{}
	params.Set("symbol", venueSymbol(symbol))
	body, err := a.publicGet(ctx, "/api/v3/ticker/bookTicker", params, exchange.OpTicker)
	if err != nil {
		return model.Ticker{}, err
	}
	var bt bookTickerResponse
	if err := json.Unmarshal(body, &bt); err != nil {
		return model.Ticker{}, exchange.MalformedErr(Name, exchange.OpTicker, err)
	}
	t := model.Ticker{
		Symbol: symbol,
		Bid:    exchange.ParseDecimal(bt.BidPrice),
		Ask:    exchange.ParseDecimal(bt.AskPrice),
		Time:   time.Now(),
	}
	if !t.Bid.IsPositive() {
		return model.Ticker{}, model.NewVenueError(model.ErrMarketData, Name, exchange.OpTicker, "no bid for "+symbol)
	}
	return t, nil
}

func (a *Adapter) SymbolInfo(ctx context.Context, symbol string) (model.SymbolInfo, error) {
	params := url.Values{}
	params.Set("symbol", venueSymbol(symbol))
	body, err := a.publicGet(ctx, "/api/v3/exchangeInfo", params, exchange.OpSymbolInfo)
	if err != nil {
		return model.SymbolInfo{}, err
	}
	var info exchangeInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return model.SymbolInfo{}, exchange.MalformedErr(Name, exchange.OpSymbolInfo, err)
	}
	if len(info.Symbols) == 0 {
		return exchange.DefaultSymbolInfo(symbol), nil
	}

	s := info.Symbols[0]
	result := exchange.DefaultSymbolInfo(symbol)
	found := false
	for _, f := range s.Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			result.MinQuantity = exchange.ParseDecimal(f.MinQty)
			result.QuantityPrecision = exchange.PrecisionFromStep(f.StepSize)
			found = true
		case "PRICE_FILTER":
			result.PricePrecision = exchange.PrecisionFromStep(f.TickSize)
			found = true
		}
	}
	if !found && s.BaseSizePrecision != "" {
		step := exchange.ParseDecimal(s.BaseSizePrecision)
		if step.IsPositive() {
			result.MinQuantity = step
			result.QuantityPrecision = exchange.PrecisionFromStep(s.BaseSizePrecision)
			result.PricePrecision = s.QuotePrecision
			found = true
		}
	}
	if !result.MinQuantity.IsPositive() {
		result.MinQuantity = exchange.DefaultSymbolInfo(symbol).MinQuantity
	}
	result.Authoritative = found
	return result, nil
}

func (a *Adapter) Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	params := url.Values{}
	params.Set("symbol", venueSymbol(symbol))
	params.Set("interval", venueInterval(interval))
	params.Set("limit", strconv.Itoa(limit))
	body, err := a.publicGet(ctx, "/api/v3/klines", params, exchange.OpKlines)
	if err != nil {
		return nil, err
	}

	var raw [][]exchange.FlexString
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, exchange.MalformedErr(Name, exchange.OpKlines, err)
	}

	candles := make([]model.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		ms, _ := strconv.ParseInt(k[0].String(), 10, 64)
		candles = append(candles, model.Candle{
			OpenTime: time.UnixMilli(ms),
			Open:     k[1].Decimal(),
			High:     k[2].Decimal(),
			Low:      k[3].Decimal(),
			Close:    k[4].Decimal(),
			Volume:   k[5].Decimal(),
		})
	}
	return candles, nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	params := url.Values{}
	params.Set("symbol", venueSymbol(req.Symbol))
	params.Set("side", string(req.Side))
	params.Set("type", "LIMIT")
	params.Set("quantity", req.Quantity.String())
	params.Set("price", req.Price.String())
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}

	body, err := a.signed(ctx, http.MethodPost, "/api/v3/order", params, exchange.OpPlaceOrder)
	if err != nil {
		return model.Order{}, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.Order{}, exchange.MalformedErr(Name, exchange.OpPlaceOrder, err)
	}
	if resp.OrderID == "" {
		return model.Order{}, model.NewVenueError(model.ErrOrderRejected, Name, exchange.OpPlaceOrder, string(body))
	}

	return model.Order{
		ID:            resp.OrderID.String(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Status:        model.StatusOpen,
		CreatedAt:     time.Now(),
	}, nil
}

func (a *Adapter) OrderStatus(ctx context.Context, symbol, orderID string) (model.OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", venueSymbol(symbol))
	params.Set("orderId", orderID)
	body, err := a.signed(ctx, http.MethodGet, "/api/v3/order", params, exchange.OpOrderStatus)
	if err != nil {
		return model.StatusUnknown, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.StatusUnknown, exchange.MalformedErr(Name, exchange.OpOrderStatus, err)
	}
	return mapStatus(resp.Status), nil
}

func (a *Adapter) MyTrades(ctx context.Context, symbol, orderID string) ([]model.Fill, error) {
	params := url.Values{}
	params.Set("symbol", venueSymbol(symbol))
	params.Set("orderId", orderID)
	body, err := a.signed(ctx, http.MethodGet, "/api/v3/myTrades", params, exchange.OpMyTrades)
	if err != nil {
		return nil, err
	}
	var trades []tradeResponse
	if err := json.Unmarshal(body, &trades); err != nil {
		return nil, exchange.MalformedErr(Name, exchange.OpMyTrades, err)
	}
	fills := make([]model.Fill, 0, len(trades))
	for _, t := range trades {
		qty := exchange.ParseDecimal(t.Qty)
		quote := exchange.ParseDecimal(t.QuoteQty)
		if quote.IsZero() {
			quote = qty.Mul(exchange.ParseDecimal(t.Price))
		}
		fills = append(fills, model.Fill{Quantity: qty, QuoteAmount: quote})
	}
	return fills, nil
}

func (a *Adapter) OpenOrders(ctx context.Context, symbol string) ([]model.OrderRef, error) {
	symbols := []string{symbol}
	if symbol == "" {
		symbols = a.symbols
	}

	var refs []model.OrderRef
	var errs []error
	for _, sym := range symbols {
		params := url.Values{}
		params.Set("symbol", venueSymbol(sym))
		body, err := a.signed(ctx, http.MethodGet, "/api/v3/openOrders", params, exchange.OpOpenOrders)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		var orders []orderResponse
		if err := json.Unmarshal(body, &orders); err != nil {
			errs = append(errs, exchange.MalformedErr(Name, exchange.OpOpenOrders, err))
			continue
		}
		for _, o := range orders {
			refs = append(refs, model.OrderRef{
				ID:            o.OrderID.String(),
				ClientOrderID: o.ClientOrderID,
				Symbol:        sym,
				Side:          model.Side(o.Side),
				Price:         exchange.ParseDecimal(o.Price),
				Quantity:      exchange.ParseDecimal(o.OrigQty),
			})
		}
	}
	return refs, errors.Join(errs...)
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", venueSymbol(symbol))
	params.Set("orderId", orderID)
	_, err := a.signed(ctx, http.MethodDelete, "/api/v3/order", params, exchange.OpCancelOrder)
	return err
}

func (a *Adapter) publicGet(ctx context.Context, endpoint string, params url.Values, op string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.rest.BaseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if params != nil {
		req.URL.RawQuery = params.Encode()
	}
	body, err := a.rest.Do(req, op)
	if err != nil {
		return nil, refine(err, body)
	}
	return body, nil
}

// signed appends timestamp and signature; the signature must be the last query parameter.
func (a *Adapter) signed(ctx context.Context, method, endpoint string, params url.Values, op string) ([]byte, error) {
	if a.apiKey == "" || a.secretKey == "" {
		return nil, model.NewVenueError(model.ErrAuth, Name, op, "missing credentials")
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", "60000")
	query := params.Encode()

	req, err := http.NewRequestWithContext(ctx, method, a.rest.BaseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.URL.RawQuery = query + "&signature=" + a.sign(query)
	req.Header.Set("X-MEXC-APIKEY", a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	body, err := a.rest.Do(req, op)
	if err != nil {
		return nil, refine(err, body)
	}
	return body, nil
}

func (a *Adapter) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(a.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// refine upgrades a status-classified error using the MEXC error code in the body.
func refine(err error, body []byte) error {
	var ve *model.VenueError
	if len(body) == 0 || !errors.As(err, &ve) {
		return err
	}
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) != nil || apiErr.Code == 0 {
		return err
	}
	ve.Code = strconv.Itoa(apiErr.Code)
	ve.Message = apiErr.Msg
	switch {
	case apiErr.Code >= 700001 && apiErr.Code <= 700008, apiErr.Code == 10072:
		ve.Kind = model.ErrAuth
	case apiErr.Code == -1121, apiErr.Code == 10007:
		ve.Kind = model.ErrMarketData
	}
	return ve
}

func venueSymbol(symbol string) string {
	return exchange.JoinSymbol(symbol, "")
}

func venueInterval(interval string) string {
	switch interval {
	case "1h":
		return "60m"
	case "4h":
		return "4h"
	case "1d":
		return "1d"
	default:
		return interval
	}
}

func mapStatus(s string) model.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW", "PARTIALLY_FILLED":
		return model.StatusOpen
	case "FILLED":
		return model.StatusFilled
	case "CANCELED", "PARTIALLY_CANCELED", "EXPIRED":
		return model.StatusCanceled
	case "REJECTED":
		return model.StatusRejected
	default:
		return model.StatusUnknown
	}
}
