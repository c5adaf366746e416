package kucoin

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot-cycle-trader/internal/model"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a := New("key", "secret", "pass")
	a.SetBaseURL(srv.URL)
	a.now = func() time.Time { return time.Unix(1700007200, 0) }
	return a
}

func TestSignedHeaders(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		ts := r.Header.Get("KC-API-TIMESTAMP")
		assert.Equal(t, "1700007200000", ts)
		signer := &Adapter{secretKey: "secret"}
		assert.Equal(t, signer.sign(ts+r.Method+r.URL.RequestURI()), r.Header.Get("KC-API-SIGN"))
		assert.Equal(t, signer.sign("pass"), r.Header.Get("KC-API-PASSPHRASE"))
		assert.Equal(t, "2", r.Header.Get("KC-API-KEY-VERSION"))
		w.Write([]byte(`{"code":"200000","data":[{"currency":"USDT","available":"12.34"}]}`))
	})

	bal, err := a.Balance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("12.34")))
}

func TestEnvelopeErrorOnOK(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"400005","msg":"Invalid KC-API-SIGN"}`))
	})
	_, err := a.Balance(context.Background(), "USDT")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrAuth))
	assert.Contains(t, err.Error(), "Invalid KC-API-SIGN")
}

func TestPlaceOrderRejected(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"clientOid":"cid"`)
		assert.Contains(t, string(body), `"symbol":"BTC-USDT"`)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"200004","msg":"Balance insufficient!"}`))
	})
	_, err := a.PlaceOrder(context.Background(), model.OrderRequest{
		Symbol: "BTC/USDT", Side: model.SideBuy, ClientOrderID: "cid",
		Price: decimal.NewFromInt(1), Quantity: decimal.NewFromInt(1),
	})
	assert.True(t, errors.Is(err, model.ErrOrderRejected))
}

func TestKlinesOldestFirst(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1hour", r.URL.Query().Get("type"))
		assert.Equal(t, "BTC-USDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"code":"200000","data":[
			["1700003600","2","3","4","1","10","20"],
			["1700000000","1","2","3","0.5","11","21"]]}`))
	})
	candles, err := a.Klines(context.Background(), "BTC/USDT", "1h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.True(t, candles[0].OpenTime.Before(candles[1].OpenTime))
	assert.True(t, candles[0].Close.Equal(decimal.NewFromInt(2)))
	assert.True(t, candles[0].High.Equal(decimal.NewFromInt(3)))
	assert.True(t, candles[1].Volume.Equal(decimal.NewFromInt(10)))
}

func TestTickerUnknownSymbol(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"200000","data":null}`))
	})
	_, err := a.Ticker(context.Background(), "NOPE/USDT")
	assert.True(t, errors.Is(err, model.ErrMarketData))
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, model.StatusOpen, mapStatus(orderDetail{IsActive: true}))
	assert.Equal(t, model.StatusFilled, mapStatus(orderDetail{Size: "1", DealSize: "1"}))
	assert.Equal(t, model.StatusCanceled, mapStatus(orderDetail{Size: "1", DealSize: "0.5", CancelExist: true}))
	assert.Equal(t, model.StatusUnknown, mapStatus(orderDetail{Size: "1", DealSize: "0"}))
}
