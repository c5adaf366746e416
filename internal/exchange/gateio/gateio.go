package gateio

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
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
	Name       = "Gate.io"
	BaseURL    = "https://api.gateio.ws"
	apiPrefix  = "/api/v4"
	textPrefix = "t-"
)

type Adapter struct {
	rest      *exchange.RESTClient
	apiKey    string
	secretKey string
	makerFee  decimal.Decimal
}

func New(apiKey, secretKey string) *Adapter {
	return &Adapter{
		rest:      exchange.NewRESTClient(Name, BaseURL),
		apiKey:    apiKey,
		secretKey: secretKey,
		makerFee:  decimal.RequireFromString("0.001"),
	}
}

func (a *Adapter) SetBaseURL(u string) { a.rest.BaseURL = u }

func (a *Adapter) Name() string              { return Name }
func (a *Adapter) MakerFee() decimal.Decimal { return a.makerFee }

type apiError struct {
	Label   string `json:"label"`
	Message string `json:"message"`
}

type account struct {
	Currency  string `json:"currency"`
	Available string `json:"available"`
}

type ticker struct {
	CurrencyPair string `json:"currency_pair"`
	Last         string `json:"last"`
	LowestAsk    string `json:"lowest_ask"`
	HighestBid   string `json:"highest_bid"`
}

type currencyPair struct {
	ID              string `json:"id"`
	MinBaseAmount   string `json:"min_base_amount"`
	AmountPrecision int32  `json:"amount_precision"`
	Precision       int32  `json:"precision"`
}

type order struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	CurrencyPair string `json:"currency_pair"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	Amount       string `json:"amount"`
	Status       string `json:"status"`
	FinishAs     string `json:"finish_as"`
}

type pairOrders struct {
	CurrencyPair string  `json:"currency_pair"`
	Orders       []order `json:"orders"`
}

type trade struct {
	Amount string `json:"amount"`
	Price  string `json:"price"`
}

func (a *Adapter) IsActive(ctx context.Context) bool {
	if _, err := a.request(ctx, http.MethodGet, "/spot/time", nil, nil, false, exchange.OpPing); err != nil {
		logger.Debug("Gate.io ping failed", "error", err)
		return false
	}
	return true
}

func (a *Adapter) Balance(ctx context.Context, asset string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("currency", strings.ToUpper(asset))
	body, err := a.request(ctx, http.MethodGet, "/spot/accounts", params, nil, true, exchange.OpBalance)
	if err != nil {
		return decimal.Zero, err
	}
	var accounts []account
	if err := json.Unmarshal(body, &accounts); err != nil {
		return decimal.Zero, exchange.MalformedErr(Name, exchange.OpBalance, err)
	}
	for _, acc := range accounts {
		if strings.EqualFold(acc.Currency, asset) {
			return exchange.ParseDecimal(acc.Available), nil
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
	params.Set("currency_pair", venueSymbol(symbol))
	body, err := a.request(ctx, http.MethodGet, "/spot/tickers", params, nil, false, exchange.OpTicker)
	if err != nil {
		return model.Ticker{}, err
	}
	var tickers []ticker
	if err := json.Unmarshal(body, &tickers); err != nil {
		return model.Ticker{}, exchange.MalformedErr(Name, exchange.OpTicker, err)
	}
	if len(tickers) == 0 {
		return model.Ticker{}, model.NewVenueError(model.ErrMarketData, Name, exchange.OpTicker, "unknown pair "+symbol)
	}
	return model.Ticker{
		Symbol: symbol,
		Bid:    exchange.ParseDecimal(tickers[0].HighestBid),
		Ask:    exchange.ParseDecimal(tickers[0].LowestAsk),
		Time:   time.Now(),
	}, nil
}

func (a *Adapter) SymbolInfo(ctx context.Context, symbol string) (model.SymbolInfo, error) {
	body, err := a.request(ctx, http.MethodGet, "/spot/currency_pairs/"+venueSymbol(symbol), nil, nil, false, exchange.OpSymbolInfo)
	if err != nil {
		if errors.Is(err, model.ErrMarketData) {
			return exchange.DefaultSymbolInfo(symbol), nil
		}
		return model.SymbolInfo{}, err
	}
	var pair currencyPair
	if err := json.Unmarshal(body, &pair); err != nil {
		return model.SymbolInfo{}, exchange.MalformedErr(Name, exchange.OpSymbolInfo, err)
	}
	info := model.SymbolInfo{
		Symbol:            symbol,
		MinQuantity:       exchange.ParseDecimal(pair.MinBaseAmount),
		QuantityPrecision: pair.AmountPrecision,
		PricePrecision:    pair.Precision,
		Authoritative:     true,
	}
	if !info.MinQuantity.IsPositive() {
		// Gate.io only enforces a quote minimum on some pairs; use the smallest step instead.
		info.MinQuantity = decimal.New(1, -info.QuantityPrecision)
	}
	return info, nil
}

// Klines reorders Gate.io's [t, quoteVol, close, high, low, open, baseVol, closed] rows.
func (a *Adapter) Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	params := url.Values{}
	params.Set("currency_pair", venueSymbol(symbol))
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))
	body, err := a.request(ctx, http.MethodGet, "/spot/candlesticks", params, nil, false, exchange.OpKlines)
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
		sec, _ := strconv.ParseInt(k[0].String(), 10, 64)
		c := model.Candle{
			OpenTime: time.Unix(sec, 0),
			Close:    k[2].Decimal(),
			High:     k[3].Decimal(),
			Low:      k[4].Decimal(),
			Open:     k[5].Decimal(),
		}
		if len(k) >= 7 {
			c.Volume = k[6].Decimal()
		} else if c.Close.IsPositive() {
			c.Volume = k[1].Decimal().Div(c.Close)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	payload := map[string]string{
		"currency_pair": venueSymbol(req.Symbol),
		"type":          "limit",
		"account":       "spot",
		"side":          strings.ToLower(string(req.Side)),
		"amount":        req.Quantity.String(),
		"price":         req.Price.String(),
		"time_in_force": "gtc",
	}
	if req.ClientOrderID != "" {
		payload["text"] = textPrefix + req.ClientOrderID
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return model.Order{}, fmt.Errorf("failed to marshal order: %w", err)
	}

	body, err := a.request(ctx, http.MethodPost, "/spot/orders", nil, raw, true, exchange.OpPlaceOrder)
	if err != nil {
		return model.Order{}, err
	}
	var o order
	if err := json.Unmarshal(body, &o); err != nil {
		return model.Order{}, exchange.MalformedErr(Name, exchange.OpPlaceOrder, err)
	}
	return model.Order{
		ID:            o.ID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Status:        mapStatus(o.Status, o.FinishAs),
		CreatedAt:     time.Now(),
	}, nil
}

func (a *Adapter) OrderStatus(ctx context.Context, symbol, orderID string) (model.OrderStatus, error) {
	params := url.Values{}
	params.Set("currency_pair", venueSymbol(symbol))
	body, err := a.request(ctx, http.MethodGet, "/spot/orders/"+orderID, params, nil, true, exchange.OpOrderStatus)
	if err != nil {
		return model.StatusUnknown, err
	}
	var o order
	if err := json.Unmarshal(body, &o); err != nil {
		return model.StatusUnknown, exchange.MalformedErr(Name, exchange.OpOrderStatus, err)
	}
	return mapStatus(o.Status, o.FinishAs), nil
}

func (a *Adapter) MyTrades(ctx context.Context, symbol, orderID string) ([]model.Fill, error) {
	params := url.Values{}
	params.Set("currency_pair", venueSymbol(symbol))
	params.Set("order_id", orderID)
	body, err := a.request(ctx, http.MethodGet, "/spot/my_trades", params, nil, true, exchange.OpMyTrades)
	if err != nil {
		return nil, err
	}
	var trades []trade
	if err := json.Unmarshal(body, &trades); err != nil {
		return nil, exchange.MalformedErr(Name, exchange.OpMyTrades, err)
	}
	fills := make([]model.Fill, 0, len(trades))
	for _, t := range trades {
		qty := exchange.ParseDecimal(t.Amount)
		fills = append(fills, model.Fill{Quantity: qty, QuoteAmount: qty.Mul(exchange.ParseDecimal(t.Price))})
	}
	return fills, nil
}

func (a *Adapter) OpenOrders(ctx context.Context, symbol string) ([]model.OrderRef, error) {
	var refs []model.OrderRef
	if symbol != "" {
		params := url.Values{}
		params.Set("currency_pair", venueSymbol(symbol))
		params.Set("status", "open")
		body, err := a.request(ctx, http.MethodGet, "/spot/orders", params, nil, true, exchange.OpOpenOrders)
		if err != nil {
			return nil, err
		}
		var orders []order
		if err := json.Unmarshal(body, &orders); err != nil {
			return nil, exchange.MalformedErr(Name, exchange.OpOpenOrders, err)
		}
		for _, o := range orders {
			refs = append(refs, toRef(symbol, o))
		}
		return refs, nil
	}

	body, err := a.request(ctx, http.MethodGet, "/spot/open_orders", nil, nil, true, exchange.OpOpenOrders)
	if err != nil {
		return nil, err
	}
	var groups []pairOrders
	if err := json.Unmarshal(body, &groups); err != nil {
		return nil, exchange.MalformedErr(Name, exchange.OpOpenOrders, err)
	}
	for _, g := range groups {
		sym := exchange.JoinSymbol(g.CurrencyPair, "/")
		for _, o := range g.Orders {
			refs = append(refs, toRef(sym, o))
		}
	}
	return refs, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("currency_pair", venueSymbol(symbol))
	_, err := a.request(ctx, http.MethodDelete, "/spot/orders/"+orderID, params, nil, true, exchange.OpCancelOrder)
	return err
}

func (a *Adapter) request(ctx context.Context, method, path string, params url.Values, body []byte, signed bool, op string) ([]byte, error) {
	query := ""
	if params != nil {
		query = params.Encode()
	}
	reqURL := a.rest.BaseURL + apiPrefix + path
	if query != "" {
		reqURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	if signed {
		if a.apiKey == "" || a.secretKey == "" {
			return nil, model.NewVenueError(model.ErrAuth, Name, op, "missing credentials")
		}
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set("KEY", a.apiKey)
		req.Header.Set("Timestamp", ts)
		req.Header.Set("SIGN", a.sign(method, apiPrefix+path, query, body, ts))
	}

	resp, err := a.rest.Do(req, op)
	if err != nil {
		return nil, refine(err, resp)
	}
	return resp, nil
}

// sign implements the APIv4 scheme: HMAC-SHA512 over method, path, query, body hash and timestamp.
func (a *Adapter) sign(method, path, query string, body []byte, ts string) string {
	bodyHash := sha512.Sum512(body)
	payload := strings.Join([]string{method, path, query, hex.EncodeToString(bodyHash[:]), ts}, "\n")
	mac := hmac.New(sha512.New, []byte(a.secretKey))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func refine(err error, body []byte) error {
	var ve *model.VenueError
	if len(body) == 0 || !errors.As(err, &ve) {
		return err
	}
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) != nil || apiErr.Label == "" {
		return err
	}
	ve.Code = apiErr.Label
	ve.Message = apiErr.Message
	switch apiErr.Label {
	case "INVALID_KEY", "INVALID_SIGNATURE", "MISSING_REQUIRED_HEADER", "REQUEST_EXPIRED", "FORBIDDEN":
		ve.Kind = model.ErrAuth
	case "INVALID_CURRENCY_PAIR", "INVALID_CURRENCY":
		ve.Kind = model.ErrMarketData
	}
	return ve
}

func toRef(symbol string, o order) model.OrderRef {
	return model.OrderRef{
		ID:            o.ID,
		ClientOrderID: strings.TrimPrefix(o.Text, textPrefix),
		Symbol:        symbol,
		Side:          model.Side(strings.ToUpper(o.Side)),
		Price:         exchange.ParseDecimal(o.Price),
		Quantity:      exchange.ParseDecimal(o.Amount),
	}
}

func venueSymbol(symbol string) string {
	return exchange.JoinSymbol(symbol, "_")
}

func mapStatus(status, finishAs string) model.OrderStatus {
	switch status {
	case "open":
		return model.StatusOpen
	case "closed":
		if finishAs == "" || finishAs == "filled" {
			return model.StatusFilled
		}
		return model.StatusCanceled
	case "cancelled":
		return model.StatusCanceled
	default:
		return model.StatusUnknown
	}
}
