package mexc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot-cycle-trader/internal/model"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a := New("key", "secret", []string{"BTC/USDT", "ETH/USDT"})
	a.SetBaseURL(srv.URL)
	return a
}

func TestBalance(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/account", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-MEXC-APIKEY"))
		assert.True(t, strings.Contains(r.URL.RawQuery, "&signature="))
		idx := strings.LastIndex(r.URL.RawQuery, "&signature=")
		assert.Equal(t, signFor("secret", r.URL.RawQuery[:idx]), r.URL.RawQuery[idx+len("&signature="):])
		w.Write([]byte(`{"balances":[{"asset":"USDT","free":"100.5","locked":"1"}]}`))
	})

	bal, err := a.Balance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("100.5")))

	bal, err = a.Balance(context.Background(), "DOGE")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func signFor(secret, query string) string {
	return (&Adapter{secretKey: secret}).sign(query)
}

func TestMissingCredentials(t *testing.T) {
	a := New("", "", nil)
	_, err := a.Balance(context.Background(), "USDT")
	assert.True(t, errors.Is(err, model.ErrAuth))
}

func TestKlines(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "60m", r.URL.Query().Get("interval"))
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`[[1700000000000,"1.0","1.2","0.9","1.1","500",1700003599999,"550"],
			[1700003600000,"1.1","1.3","1.0","1.2","600",1700007199999,"700"]]`))
	})

	candles, err := a.Klines(context.Background(), "BTC/USDT", "1h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.True(t, candles[0].Close.Equal(decimal.RequireFromString("1.1")))
	assert.True(t, candles[1].Volume.Equal(decimal.RequireFromString("600")))
	assert.True(t, candles[0].OpenTime.Before(candles[1].OpenTime))
}

func TestSymbolInfo(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("symbol") {
		case "BTCUSDT":
			w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","filters":[
				{"filterType":"LOT_SIZE","minQty":"0.0001","stepSize":"0.000100"},
				{"filterType":"PRICE_FILTER","tickSize":"0.01"}]}]}`))
		case "ETHUSDT":
			w.Write([]byte(`{"symbols":[{"symbol":"ETHUSDT","quotePrecision":2,"baseSizePrecision":"0.001","filters":[]}]}`))
		default:
			w.Write([]byte(`{"symbols":[]}`))
		}
	})

	info, err := a.SymbolInfo(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, info.Authoritative)
	assert.Equal(t, int32(4), info.QuantityPrecision)
	assert.Equal(t, int32(2), info.PricePrecision)
	assert.True(t, info.MinQuantity.Equal(decimal.RequireFromString("0.0001")))

	info, err = a.SymbolInfo(context.Background(), "ETH/USDT")
	require.NoError(t, err)
	assert.True(t, info.Authoritative)
	assert.Equal(t, int32(3), info.QuantityPrecision)
	assert.Equal(t, int32(2), info.PricePrecision)

	info, err = a.SymbolInfo(context.Background(), "XYZ/USDT")
	require.NoError(t, err)
	assert.False(t, info.Authoritative)
}

func TestPlaceOrderRejected(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "cid-1", r.URL.Query().Get("newClientOrderId"))
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":30002,"msg":"minimum transaction volume cannot be less than 5USDT"}`))
	})

	_, err := a.PlaceOrder(context.Background(), model.OrderRequest{
		Symbol: "BTC/USDT", Side: model.SideBuy,
		Price: decimal.RequireFromString("1"), Quantity: decimal.RequireFromString("1"),
		ClientOrderID: "cid-1",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrOrderRejected))
	assert.Contains(t, err.Error(), "minimum transaction volume")
}

func TestSignatureRejectedIsAuth(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":700002,"msg":"Signature for this request is not valid."}`))
	})
	_, err := a.Balance(context.Background(), "USDT")
	assert.True(t, errors.Is(err, model.ErrAuth))
}

func TestPlaceOrderAndStatus(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			assert.Equal(t, "5", r.URL.Query().Get("quantity"))
			assert.Equal(t, "1.996", r.URL.Query().Get("price"))
			w.Write([]byte(`{"symbol":"BTCUSDT","orderId":"C02__1","status":"NEW"}`))
		case http.MethodGet:
			assert.Equal(t, "C02__1", r.URL.Query().Get("orderId"))
			w.Write([]byte(`{"symbol":"BTCUSDT","orderId":"C02__1","status":"PARTIALLY_FILLED"}`))
		}
	})

	order, err := a.PlaceOrder(context.Background(), model.OrderRequest{
		Symbol: "BTC/USDT", Side: model.SideBuy,
		Price: decimal.RequireFromString("1.996"), Quantity: decimal.RequireFromString("5.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, "C02__1", order.ID)

	status, err := a.OrderStatus(context.Background(), "BTC/USDT", order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, status)
}

func TestMyTrades(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"qty":"2","quoteQty":"20","price":"10"},{"qty":"3","quoteQty":"","price":"10"}]`))
	})
	fills, err := a.MyTrades(context.Background(), "BTC/USDT", "1")
	require.NoError(t, err)
	sum := model.AggregateFills(fills)
	assert.True(t, sum.Quantity.Equal(decimal.NewFromInt(5)))
	assert.True(t, sum.Quote.Equal(decimal.NewFromInt(50)))
}

func TestOpenOrdersIteratesSymbols(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.Query().Get("symbol"))
		mu.Unlock()
		w.Write([]byte(`[{"symbol":"X","orderId":123,"clientOrderId":"c","side":"BUY","price":"1","origQty":"2"}]`))
	})

	refs, err := a.OpenOrders(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, seen)
	require.Len(t, refs, 2)
	assert.Equal(t, "123", refs[0].ID)
	assert.Equal(t, "BTC/USDT", refs[0].Symbol)
	assert.Equal(t, "ETH/USDT", refs[1].Symbol)
}

func TestOpenOrdersContinuesPastFailingSymbol(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") == "BTCUSDT" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
			return
		}
		w.Write([]byte(`[{"symbol":"ETHUSDT","orderId":7,"clientOrderId":"c","side":"SELL","price":"2","origQty":"1"}]`))
	})

	refs, err := a.OpenOrders(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid symbol")
	require.Len(t, refs, 1)
	assert.Equal(t, "7", refs[0].ID)
	assert.Equal(t, "ETH/USDT", refs[0].Symbol)
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, model.StatusFilled, mapStatus("FILLED"))
	assert.Equal(t, model.StatusCanceled, mapStatus("PARTIALLY_CANCELED"))
	assert.Equal(t, model.StatusRejected, mapStatus("REJECTED"))
	assert.Equal(t, model.StatusUnknown, mapStatus("???"))
}
