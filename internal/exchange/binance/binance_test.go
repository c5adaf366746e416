package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot-cycle-trader/internal/model"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a := New("key", "secret", []string{"BTC/USDT"})
	a.SetBaseURL(srv.URL)
	return a
}

func TestTicker(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/bookTicker", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"symbol":"BTCUSDT","bidPrice":"2.00","bidQty":"1","askPrice":"2.01","askQty":"1"}`))
	})

	tk, err := a.Ticker(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, tk.Bid.Equal(decimal.RequireFromString("2")))
	assert.True(t, tk.Spread().Equal(decimal.RequireFromString("0.01")))
}

func TestPlaceOrderRejected(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2010,"msg":"Account has insufficient balance for requested action."}`))
	})

	_, err := a.PlaceOrder(context.Background(), model.OrderRequest{
		Symbol: "BTC/USDT", Side: model.SideBuy,
		Price: decimal.NewFromInt(1), Quantity: decimal.NewFromInt(1),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrOrderRejected))
	assert.Contains(t, err.Error(), "insufficient balance")
}

func TestClassify(t *testing.T) {
	authErr := classify("getBalance", &common.APIError{Code: -2015, Message: "Invalid API-key"})
	assert.True(t, errors.Is(authErr, model.ErrAuth))

	symErr := classify("getTicker", &common.APIError{Code: -1121, Message: "Invalid symbol."})
	assert.True(t, errors.Is(symErr, model.ErrMarketData))

	netErr := classify("getTicker", fmt.Errorf("dial tcp: connection refused"))
	assert.True(t, errors.Is(netErr, model.ErrTransport))
}

func TestObserveExecutionShortCircuitsPolling(t *testing.T) {
	calls := 0
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":42,"status":"NEW"}`))
	})

	a.ObserveExecution(42, "PARTIALLY_FILLED")
	status, err := a.OrderStatus(context.Background(), "BTC/USDT", "42")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, status)
	assert.Equal(t, 1, calls)

	a.ObserveExecution(42, "FILLED")
	status, err = a.OrderStatus(context.Background(), "BTC/USDT", "42")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFilled, status)
	assert.Equal(t, 1, calls)
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, model.StatusOpen, mapStatus("PARTIALLY_FILLED"))
	assert.Equal(t, model.StatusCanceled, mapStatus("EXPIRED"))
	assert.Equal(t, model.StatusRejected, mapStatus("REJECTED"))
	assert.Equal(t, model.StatusUnknown, mapStatus("WHATEVER"))
}
