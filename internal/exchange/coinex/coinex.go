package coinex

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	simplejson "github.com/bitly/go-simplejson"
	"github.com/shopspring/decimal"

	"spot-cycle-trader/internal/exchange"
	"spot-cycle-trader/internal/logger"
	"spot-cycle-trader/internal/model"
)

const (
	Name    = "CoinEx"
	BaseURL = "https://api.coinex.com/v1"
)

// Adapter uses the CoinEx v1 API. Responses are wrapped in {code, data, message}
// and the balance payload is keyed by asset, so bodies are read with simplejson.
type Adapter struct {
	rest      *exchange.RESTClient
	accessID  string
	secretKey string
	makerFee  decimal.Decimal
	symbols   []string
	now       func() time.Time
}

func New(accessID, secretKey string, symbols []string) *Adapter {
	return &Adapter{
		rest:      exchange.NewRESTClient(Name, BaseURL),
		accessID:  accessID,
		secretKey: secretKey,
		makerFee:  decimal.RequireFromString("0.001"),
		symbols:   symbols,
		now:       time.Now,
	}
}

func (a *Adapter) SetBaseURL(u string) { a.rest.BaseURL = u }

func (a *Adapter) Name() string              { return Name }
func (a *Adapter) MakerFee() decimal.Decimal { return a.makerFee }

func (a *Adapter) IsActive(ctx context.Context) bool {
	params := url.Values{}
	params.Set("market", "BTCUSDT")
	if _, err := a.request(ctx, http.MethodGet, "/market/ticker", params, false, exchange.OpPing); err != nil {
		logger.Debug("CoinEx ping failed", "error", err)
		return false
	}
	return true
}

func (a *Adapter) Balance(ctx context.Context, asset string) (decimal.Decimal, error) {
	data, err := a.request(ctx, http.MethodGet, "/balance/info", url.Values{}, true, exchange.OpBalance)
	if err != nil {
		return decimal.Zero, err
	}
	entry, ok := data.CheckGet(strings.ToUpper(asset))
	if !ok {
		return decimal.Zero, nil
	}
	return exchange.ParseDecimal(str(entry.Get("available"))), nil
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
	params.Set("market", venueSymbol(symbol))
	data, err := a.request(ctx, http.MethodGet, "/market/ticker", params, false, exchange.OpTicker)
	if err != nil {
		return model.Ticker{}, err
	}
	t := data.Get("ticker")
	bid := exchange.ParseDecimal(str(t.Get("buy")))
	if !bid.IsPositive() {
		return model.Ticker{}, model.NewVenueError(model.ErrMarketData, Name, exchange.OpTicker, "no bid for "+symbol)
	}
	return model.Ticker{
		Symbol: symbol,
		Bid:    bid,
		Ask:    exchange.ParseDecimal(str(t.Get("sell"))),
		Time:   a.now(),
	}, nil
}

func (a *Adapter) SymbolInfo(ctx context.Context, symbol string) (model.SymbolInfo, error) {
	params := url.Values{}
	params.Set("market", venueSymbol(symbol))
	data, err := a.request(ctx, http.MethodGet, "/market/detail", params, false, exchange.OpSymbolInfo)
	if err != nil {
		if errors.Is(err, model.ErrMarketData) {
			return exchange.DefaultSymbolInfo(symbol), nil
		}
		return model.SymbolInfo{}, err
	}
	minAmount := exchange.ParseDecimal(str(data.Get("min_amount")))
	qtyPrec, qerr := strconv.Atoi(str(data.Get("trading_decimal")))
	pricePrec, perr := strconv.Atoi(str(data.Get("pricing_decimal")))
	if !minAmount.IsPositive() || qerr != nil || perr != nil {
		return exchange.DefaultSymbolInfo(symbol), nil
	}
	return model.SymbolInfo{
		Symbol:            symbol,
		MinQuantity:       minAmount,
		QuantityPrecision: int32(qtyPrec),
		PricePrecision:    int32(pricePrec),
		Authoritative:     true,
	}, nil
}

// Klines reads rows of [time, open, close, high, low, volume, amount, market].
func (a *Adapter) Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	params := url.Values{}
	params.Set("market", venueSymbol(symbol))
	params.Set("type", venueInterval(interval))
	params.Set("limit", strconv.Itoa(limit))
	data, err := a.request(ctx, http.MethodGet, "/market/kline", params, false, exchange.OpKlines)
	if err != nil {
		return nil, err
	}
	rows, err := data.Array()
	if err != nil {
		return []model.Candle{}, nil
	}
	candles := make([]model.Candle, 0, len(rows))
	for i := range rows {
		row := data.GetIndex(i)
		cols, err := row.Array()
		if err != nil || len(cols) < 3 {
			continue
		}
		sec, _ := strconv.ParseInt(str(row.GetIndex(0)), 10, 64)
		c := model.Candle{
			OpenTime: time.Unix(sec, 0),
			Close:    exchange.ParseDecimal(str(row.GetIndex(2))),
		}
		if len(cols) >= 6 {
			c.Open = exchange.ParseDecimal(str(row.GetIndex(1)))
			c.High = exchange.ParseDecimal(str(row.GetIndex(3)))
			c.Low = exchange.ParseDecimal(str(row.GetIndex(4)))
			c.Volume = exchange.ParseDecimal(str(row.GetIndex(5)))
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	params := url.Values{}
	params.Set("market", venueSymbol(req.Symbol))
	params.Set("type", strings.ToLower(string(req.Side)))
	params.Set("amount", req.Quantity.String())
	params.Set("price", req.Price.String())
	if req.ClientOrderID != "" {
		params.Set("client_id", req.ClientOrderID)
	}
	data, err := a.request(ctx, http.MethodPost, "/order/limit", params, true, exchange.OpPlaceOrder)
	if err != nil {
		return model.Order{}, err
	}
	id := str(data.Get("id"))
	if id == "" {
		return model.Order{}, model.NewVenueError(model.ErrOrderRejected, Name, exchange.OpPlaceOrder, "no order id in response")
	}
	return model.Order{
		ID:            id,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Status:        mapStatus(str(data.Get("status"))),
		CreatedAt:     a.now(),
	}, nil
}

func (a *Adapter) OrderStatus(ctx context.Context, symbol, orderID string) (model.OrderStatus, error) {
	params := url.Values{}
	params.Set("market", venueSymbol(symbol))
	params.Set("id", orderID)
	data, err := a.request(ctx, http.MethodGet, "/order/status", params, true, exchange.OpOrderStatus)
	if err != nil {
		return model.StatusUnknown, err
	}
	return mapStatus(str(data.Get("status"))), nil
}

func (a *Adapter) MyTrades(ctx context.Context, symbol, orderID string) ([]model.Fill, error) {
	params := url.Values{}
	params.Set("id", orderID)
	params.Set("page", "1")
	params.Set("limit", "100")
	data, err := a.request(ctx, http.MethodGet, "/order/deals", params, true, exchange.OpMyTrades)
	if err != nil {
		return nil, err
	}
	items := data.Get("data")
	rows, err := items.Array()
	if err != nil {
		return nil, exchange.MalformedErr(Name, exchange.OpMyTrades, err)
	}
	fills := make([]model.Fill, 0, len(rows))
	for i := range rows {
		deal := items.GetIndex(i)
		fills = append(fills, model.Fill{
			Quantity:    exchange.ParseDecimal(str(deal.Get("amount"))),
			QuoteAmount: exchange.ParseDecimal(str(deal.Get("deal_money"))),
		})
	}
	return fills, nil
}

// OpenOrders requires a market on CoinEx, so an empty symbol walks the configured list.
func (a *Adapter) OpenOrders(ctx context.Context, symbol string) ([]model.OrderRef, error) {
	symbols := []string{symbol}
	if symbol == "" {
		symbols = a.symbols
	}
	var refs []model.OrderRef
	var errs []error
	for _, sym := range symbols {
		params := url.Values{}
		params.Set("market", venueSymbol(sym))
		params.Set("page", "1")
		params.Set("limit", "100")
		data, err := a.request(ctx, http.MethodGet, "/order/pending", params, true, exchange.OpOpenOrders)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items := data.Get("data")
		rows, _ := items.Array()
		for i := range rows {
			o := items.GetIndex(i)
			refs = append(refs, model.OrderRef{
				ID:            str(o.Get("id")),
				ClientOrderID: str(o.Get("client_id")),
				Symbol:        sym,
				Side:          model.Side(strings.ToUpper(str(o.Get("type")))),
				Price:         exchange.ParseDecimal(str(o.Get("price"))),
				Quantity:      exchange.ParseDecimal(str(o.Get("amount"))),
			})
		}
	}
	return refs, errors.Join(errs...)
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("market", venueSymbol(symbol))
	params.Set("id", orderID)
	_, err := a.request(ctx, http.MethodDelete, "/order/pending", params, true, exchange.OpCancelOrder)
	return err
}

// request signs when asked and returns the "data" node of a successful envelope.
func (a *Adapter) request(ctx context.Context, method, endpoint string, params url.Values, signed bool, op string) (*simplejson.Json, error) {
	if params == nil {
		params = url.Values{}
	}
	var auth string
	if signed {
		if a.accessID == "" || a.secretKey == "" {
			return nil, model.NewVenueError(model.ErrAuth, Name, op, "missing credentials")
		}
		params.Set("access_id", a.accessID)
		params.Set("tonce", strconv.FormatInt(a.now().UnixMilli(), 10))
		auth = a.sign(params)
	}

	reqURL := a.rest.BaseURL + endpoint
	var body []byte
	if method == http.MethodPost {
		payload := make(map[string]string, len(params))
		for k := range params {
			payload[k] = params.Get(k)
		}
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	} else {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("authorization", auth)
	}

	raw, err := a.rest.Do(req, op)
	if err != nil {
		return nil, err
	}
	js, err := simplejson.NewJson(raw)
	if err != nil {
		return nil, exchange.MalformedErr(Name, op, err)
	}
	code, err := js.Get("code").Int()
	if err != nil {
		return nil, exchange.MalformedErr(Name, op, err)
	}
	if code != 0 {
		ve := model.NewVenueError(classifyCode(code, op), Name, op, js.Get("message").MustString())
		ve.Code = strconv.Itoa(code)
		return nil, ve
	}
	return js.Get("data"), nil
}

// sign is the v1 scheme: uppercase MD5 over the sorted query plus the secret.
func (a *Adapter) sign(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		parts = append(parts, k+"="+params.Get(k))
	}
	parts = append(parts, "secret_key="+a.secretKey)
	sum := md5.Sum([]byte(strings.Join(parts, "&")))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func classifyCode(code int, op string) error {
	switch code {
	case 23, 24, 25, 34, 227:
		return model.ErrAuth
	case 35, 36:
		return model.ErrTransport
	default:
		return exchange.ClassifyKind(op)
	}
}

// str reads a node that may hold a string or a json.Number.
func str(j *simplejson.Json) string {
	if j == nil {
		return ""
	}
	switch v := j.Interface().(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func venueSymbol(symbol string) string {
	return exchange.JoinSymbol(symbol, "")
}

func venueInterval(interval string) string {
	switch interval {
	case "1m":
		return "1min"
	case "15m":
		return "15min"
	case "4h":
		return "4hour"
	case "1d":
		return "1day"
	default:
		return "1hour"
	}
}

func mapStatus(s string) model.OrderStatus {
	switch s {
	case "not_deal", "part_deal":
		return model.StatusOpen
	case "done":
		return model.StatusFilled
	case "cancel":
		return model.StatusCanceled
	default:
		return model.StatusUnknown
	}
}
