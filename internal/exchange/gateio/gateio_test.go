package gateio

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
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
	a := New("key", "secret")
	a.SetBaseURL(srv.URL)
	return a
}

func TestSignedRequestHeaders(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/spot/accounts", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("KEY"))
		ts := r.Header.Get("Timestamp")
		require.NotEmpty(t, ts)
		expected := (&Adapter{secretKey: "secret"}).sign(r.Method, r.URL.Path, r.URL.RawQuery, nil, ts)
		assert.Equal(t, expected, r.Header.Get("SIGN"))
		w.Write([]byte(`[{"currency":"USDT","available":"42.5","locked":"0"}]`))
	})

	bal, err := a.Balance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("42.5")))
}

func TestKlinesReordersColumns(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTC_USDT", r.URL.Query().Get("currency_pair"))
		w.Write([]byte(`[["1700000000","5500","11","12","9","10","500","true"]]`))
	})

	candles, err := a.Klines(context.Background(), "BTC/USDT", "1h", 1)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	c := candles[0]
	assert.True(t, c.Open.Equal(decimal.NewFromInt(10)))
	assert.True(t, c.High.Equal(decimal.NewFromInt(12)))
	assert.True(t, c.Low.Equal(decimal.NewFromInt(9)))
	assert.True(t, c.Close.Equal(decimal.NewFromInt(11)))
	assert.True(t, c.Volume.Equal(decimal.NewFromInt(500)))
}

func TestPlaceOrderSendsText(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var payload map[string]string
		require.NoError(t, json.Unmarshal(raw, &payload))
		assert.Equal(t, "t-abc", payload["text"])
		assert.Equal(t, "buy", payload["side"])
		assert.Equal(t, "gtc", payload["time_in_force"])
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"9001","text":"t-abc","status":"open"}`))
	})

	o, err := a.PlaceOrder(context.Background(), model.OrderRequest{
		Symbol: "ETH/USDT", Side: model.SideBuy,
		Price: decimal.RequireFromString("2000"), Quantity: decimal.RequireFromString("0.01"),
		ClientOrderID: "abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "9001", o.ID)
	assert.Equal(t, model.StatusOpen, o.Status)
}

func TestErrorLabels(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		if r.Method == http.MethodPost {
			w.Write([]byte(`{"label":"BALANCE_NOT_ENOUGH","message":"Not enough balance"}`))
			return
		}
		w.Write([]byte(`{"label":"INVALID_SIGNATURE","message":"Signature mismatch"}`))
	})

	_, err := a.Balance(context.Background(), "USDT")
	assert.True(t, errors.Is(err, model.ErrAuth))

	_, err = a.PlaceOrder(context.Background(), model.OrderRequest{Symbol: "BTC/USDT", Side: model.SideSell})
	assert.True(t, errors.Is(err, model.ErrOrderRejected))
	assert.Contains(t, err.Error(), "Not enough balance")
}

func TestOpenOrdersAllPairs(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/spot/open_orders", r.URL.Path)
		w.Write([]byte(`[{"currency_pair":"BTC_USDT","orders":[{"id":"1","text":"t-x","side":"buy","price":"1","amount":"2"}]},
			{"currency_pair":"ETH_USDT","orders":[{"id":"2","side":"sell","price":"3","amount":"4"}]}]`))
	})

	refs, err := a.OpenOrders(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "BTC/USDT", refs[0].Symbol)
	assert.Equal(t, "x", refs[0].ClientOrderID)
	assert.Equal(t, model.SideSell, refs[1].Side)
}

func TestSymbolInfo(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v4/spot/currency_pairs/BTC_USDT" {
			w.Write([]byte(`{"id":"BTC_USDT","min_base_amount":"0.0001","amount_precision":4,"precision":1}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"label":"INVALID_CURRENCY_PAIR","message":"unknown"}`))
	})

	info, err := a.SymbolInfo(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, info.Authoritative)
	assert.Equal(t, int32(4), info.QuantityPrecision)
	assert.Equal(t, int32(1), info.PricePrecision)

	info, err = a.SymbolInfo(context.Background(), "NOPE/USDT")
	require.NoError(t, err)
	assert.False(t, info.Authoritative)
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, model.StatusFilled, mapStatus("closed", "filled"))
	assert.Equal(t, model.StatusCanceled, mapStatus("closed", "ioc"))
	assert.Equal(t, model.StatusCanceled, mapStatus("cancelled", "cancelled"))
	assert.Equal(t, model.StatusOpen, mapStatus("open", "open"))
}
