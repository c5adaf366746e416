package kucoin

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"spot-cycle-trader/internal/exchange"
	"spot-cycle-trader/internal/logger"
	"spot-cycle-trader/internal/model"
)

const (
	Name       = "KuCoin"
	BaseURL    = "https://api.kucoin.com"
	codeOK     = "200000"
	keyVersion = "2"
)

type Adapter struct {
	rest       *exchange.RESTClient
	apiKey     string
	secretKey  string
	passphrase string
	makerFee   decimal.Decimal
	now        func() time.Time
}

func New(apiKey, secretKey, passphrase string) *Adapter {
	return &Adapter{
		rest:       exchange.NewRESTClient(Name, BaseURL),
		apiKey:     apiKey,
		secretKey:  secretKey,
		passphrase: passphrase,
		makerFee:   decimal.RequireFromString("0.0008"),
		now:        time.Now,
	}
}

func (a *Adapter) SetBaseURL(u string) { a.rest.BaseURL = u }

func (a *Adapter) Name() string              { return Name }
func (a *Adapter) MakerFee() decimal.Decimal { return a.makerFee }

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type account struct {
	Currency  string `json:"currency"`
	Available string `json:"available"`
}

type level1 struct {
	Price   string `json:"price"`
	BestBid string `json:"bestBid"`
	BestAsk string `json:"bestAsk"`
}

type symbolInfo struct {
	Symbol         string `json:"symbol"`
	BaseMinSize    string `json:"baseMinSize"`
	BaseIncrement  string `json:"baseIncrement"`
	PriceIncrement string `json:"priceIncrement"`
}

type orderDetail struct {
	ID          string `json:"id"`
	ClientOid   string `json:"clientOid"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	DealSize    string `json:"dealSize"`
	IsActive    bool   `json:"isActive"`
	CancelExist bool   `json:"cancelExist"`
}

type fill struct {
	Size  string `json:"size"`
	Funds string `json:"funds"`
	Price string `json:"price"`
}

type page[T any] struct {
	Items []T `json:"items"`
}

func (a *Adapter) IsActive(ctx context.Context) bool {
	if _, err := a.request(ctx, http.MethodGet, "/api/v1/timestamp", nil, nil, false, exchange.OpPing); err != nil {
		logger.Debug("KuCoin ping failed", "error", err)
		return false
	}
	return true
}

func (a *Adapter) Balance(ctx context.Context, asset string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("currency", strings.ToUpper(asset))
	params.Set("type", "trade")
	data, err := a.request(ctx, http.MethodGet, "/api/v1/accounts", params, nil, true, exchange.OpBalance)
	if err != nil {
		return decimal.Zero, err
	}
	var accounts []account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return decimal.Zero, exchange.MalformedErr(Name, exchange.OpBalance, err)
	}
	total := decimal.Zero
	for _, acc := range accounts {
		if strings.EqualFold(acc.Currency, asset) {
			total = total.Add(exchange.ParseDecimal(acc.Available))
		}
	}
	return total, nil
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
	data, err := a.request(ctx, http.MethodGet, "/api/v1/market/orderbook/level1", params, nil, false, exchange.OpTicker)
	if err != nil {
		return model.Ticker{}, err
	}
	var l1 *level1
	if err := json.Unmarshal(data, &l1); err != nil {
		return model.Ticker{}, exchange.MalformedErr(Name, exchange.OpTicker, err)
	}
	if l1 == nil {
		return model.Ticker{}, model.NewVenueError(model.ErrMarketData, Name, exchange.OpTicker, "unknown symbol "+symbol)
	}
	return model.Ticker{
		Symbol: symbol,
		Bid:    exchange.ParseDecimal(l1.BestBid),
		Ask:    exchange.ParseDecimal(l1.BestAsk),
		Time:   a.now(),
	}, nil
}

func (a *Adapter) SymbolInfo(ctx context.Context, symbol string) (model.SymbolInfo, error) {
	data, err := a.request(ctx, http.MethodGet, "/api/v2/symbols/"+venueSymbol(symbol), nil, nil, false, exchange.OpSymbolInfo)
	if err != nil {
		if errors.Is(err, model.ErrMarketData) {
			return exchange.DefaultSymbolInfo(symbol), nil
		}
		return model.SymbolInfo{}, err
	}
	var s *symbolInfo
	if err := json.Unmarshal(data, &s); err != nil {
		return model.SymbolInfo{}, exchange.MalformedErr(Name, exchange.OpSymbolInfo, err)
	}
	if s == nil || s.BaseIncrement == "" {
		return exchange.DefaultSymbolInfo(symbol), nil
	}
	return model.SymbolInfo{
		Symbol:            symbol,
		MinQuantity:       exchange.ParseDecimal(s.BaseMinSize),
		QuantityPrecision: exchange.PrecisionFromStep(s.BaseIncrement),
		PricePrecision:    exchange.PrecisionFromStep(s.PriceIncrement),
		Authoritative:     true,
	}, nil
}

// Klines converts KuCoin rows [t, open, close, high, low, volume, turnover], newest first.
func (a *Adapter) Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	step, kind := venueInterval(interval)
	end := a.now().Unix()
	params := url.Values{}
	params.Set("symbol", venueSymbol(symbol))
	params.Set("type", kind)
	params.Set("startAt", strconv.FormatInt(end-int64(limit)*int64(step.Seconds()), 10))
	params.Set("endAt", strconv.FormatInt(end, 10))

	data, err := a.request(ctx, http.MethodGet, "/api/v1/market/candles", params, nil, false, exchange.OpKlines)
	if err != nil {
		return nil, err
	}
	var raw [][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, exchange.MalformedErr(Name, exchange.OpKlines, err)
	}

	candles := make([]model.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		sec, _ := strconv.ParseInt(k[0], 10, 64)
		candles = append(candles, model.Candle{
			OpenTime: time.Unix(sec, 0),
			Open:     exchange.ParseDecimal(k[1]),
			Close:    exchange.ParseDecimal(k[2]),
			High:     exchange.ParseDecimal(k[3]),
			Low:      exchange.ParseDecimal(k[4]),
			Volume:   exchange.ParseDecimal(k[5]),
		})
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime.Before(candles[j].OpenTime) })
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	clientOid := req.ClientOrderID
	if clientOid == "" {
		clientOid = strconv.FormatInt(a.now().UnixMilli(), 10)
	}
	payload := map[string]string{
		"clientOid":   clientOid,
		"side":        strings.ToLower(string(req.Side)),
		"symbol":      venueSymbol(req.Symbol),
		"type":        "limit",
		"price":       req.Price.String(),
		"size":        req.Quantity.String(),
		"timeInForce": "GTC",
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return model.Order{}, fmt.Errorf("failed to marshal order: %w", err)
	}

	data, err := a.request(ctx, http.MethodPost, "/api/v1/orders", nil, raw, true, exchange.OpPlaceOrder)
	if err != nil {
		return model.Order{}, err
	}
	var resp struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return model.Order{}, exchange.MalformedErr(Name, exchange.OpPlaceOrder, err)
	}
	return model.Order{
		ID:            resp.OrderID,
		ClientOrderID: clientOid,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Status:        model.StatusOpen,
		CreatedAt:     a.now(),
	}, nil
}

func (a *Adapter) OrderStatus(ctx context.Context, symbol, orderID string) (model.OrderStatus, error) {
	data, err := a.request(ctx, http.MethodGet, "/api/v1/orders/"+orderID, nil, nil, true, exchange.OpOrderStatus)
	if err != nil {
		return model.StatusUnknown, err
	}
	var o orderDetail
	if err := json.Unmarshal(data, &o); err != nil {
		return model.StatusUnknown, exchange.MalformedErr(Name, exchange.OpOrderStatus, err)
	}
	return mapStatus(o), nil
}

func (a *Adapter) MyTrades(ctx context.Context, symbol, orderID string) ([]model.Fill, error) {
	params := url.Values{}
	params.Set("orderId", orderID)
	data, err := a.request(ctx, http.MethodGet, "/api/v1/fills", params, nil, true, exchange.OpMyTrades)
	if err != nil {
		return nil, err
	}
	var p page[fill]
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, exchange.MalformedErr(Name, exchange.OpMyTrades, err)
	}
	fills := make([]model.Fill, 0, len(p.Items))
	for _, f := range p.Items {
		qty := exchange.ParseDecimal(f.Size)
		quote := exchange.ParseDecimal(f.Funds)
		if quote.IsZero() {
			quote = qty.Mul(exchange.ParseDecimal(f.Price))
		}
		fills = append(fills, model.Fill{Quantity: qty, QuoteAmount: quote})
	}
	return fills, nil
}

func (a *Adapter) OpenOrders(ctx context.Context, symbol string) ([]model.OrderRef, error) {
	params := url.Values{}
	params.Set("status", "active")
	if symbol != "" {
		params.Set("symbol", venueSymbol(symbol))
	}
	data, err := a.request(ctx, http.MethodGet, "/api/v1/orders", params, nil, true, exchange.OpOpenOrders)
	if err != nil {
		return nil, err
	}
	var p page[orderDetail]
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, exchange.MalformedErr(Name, exchange.OpOpenOrders, err)
	}
	refs := make([]model.OrderRef, 0, len(p.Items))
	for _, o := range p.Items {
		refs = append(refs, model.OrderRef{
			ID:            o.ID,
			ClientOrderID: o.ClientOid,
			Symbol:        exchange.JoinSymbol(o.Symbol, "/"),
			Side:          model.Side(strings.ToUpper(o.Side)),
			Price:         exchange.ParseDecimal(o.Price),
			Quantity:      exchange.ParseDecimal(o.Size),
		})
	}
	return refs, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := a.request(ctx, http.MethodDelete, "/api/v1/orders/"+orderID, nil, nil, true, exchange.OpCancelOrder)
	return err
}

// request unwraps the {code, msg, data} envelope and returns data.
func (a *Adapter) request(ctx context.Context, method, endpoint string, params url.Values, body []byte, signed bool, op string) (json.RawMessage, error) {
	path := endpoint
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, a.rest.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		if a.apiKey == "" || a.secretKey == "" || a.passphrase == "" {
			return nil, model.NewVenueError(model.ErrAuth, Name, op, "missing credentials")
		}
		ts := strconv.FormatInt(a.now().UnixMilli(), 10)
		req.Header.Set("KC-API-KEY", a.apiKey)
		req.Header.Set("KC-API-TIMESTAMP", ts)
		req.Header.Set("KC-API-SIGN", a.sign(ts+method+path+string(body)))
		req.Header.Set("KC-API-PASSPHRASE", a.sign(a.passphrase))
		req.Header.Set("KC-API-KEY-VERSION", keyVersion)
	}

	raw, err := a.rest.Do(req, op)
	var env envelope
	if len(raw) > 0 {
		if jerr := json.Unmarshal(raw, &env); jerr != nil && err == nil {
			return nil, exchange.MalformedErr(Name, op, jerr)
		}
	}
	if err != nil {
		return nil, refine(err, env, op)
	}
	if env.Code != codeOK {
		return nil, refine(model.NewVenueError(exchange.ClassifyKind(op), Name, op, env.Msg), env, op)
	}
	return env.Data, nil
}

func (a *Adapter) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(a.secretKey))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func refine(err error, env envelope, op string) error {
	var ve *model.VenueError
	if env.Code == "" || !errors.As(err, &ve) {
		return err
	}
	ve.Code = env.Code
	if env.Msg != "" {
		ve.Message = env.Msg
	}
	switch {
	case strings.HasPrefix(env.Code, "4000") && env.Code <= "400007", env.Code == "411100":
		ve.Kind = model.ErrAuth
	case env.Code == "900001", env.Code == "400100" && op != exchange.OpPlaceOrder:
		ve.Kind = model.ErrMarketData
	case env.Code == "429000":
		ve.Kind = model.ErrTransport
	}
	return ve
}

func venueSymbol(symbol string) string {
	return exchange.JoinSymbol(symbol, "-")
}

func venueInterval(interval string) (time.Duration, string) {
	switch interval {
	case "1m":
		return time.Minute, "1min"
	case "15m":
		return 15 * time.Minute, "15min"
	case "4h":
		return 4 * time.Hour, "4hour"
	case "1d":
		return 24 * time.Hour, "1day"
	default:
		return time.Hour, "1hour"
	}
}

func mapStatus(o orderDetail) model.OrderStatus {
	if o.IsActive {
		return model.StatusOpen
	}
	size := exchange.ParseDecimal(o.Size)
	deal := exchange.ParseDecimal(o.DealSize)
	if size.IsPositive() && deal.GreaterThanOrEqual(size) {
		return model.StatusFilled
	}
	if o.CancelExist {
		return model.StatusCanceled
	}
	return model.StatusUnknown
}
