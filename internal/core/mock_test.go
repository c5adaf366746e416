package core

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"spot-cycle-trader/internal/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func instantSleep(context.Context, time.Duration) error { return nil }

// MockAdapter implements exchange.Adapter with testify expectations.
type MockAdapter struct {
	mock.Mock
	name string
}

func newMockAdapter(name string) *MockAdapter { return &MockAdapter{name: name} }

func (m *MockAdapter) Name() string              { return m.name }
func (m *MockAdapter) MakerFee() decimal.Decimal { return d("0.001") }

func (m *MockAdapter) IsActive(ctx context.Context) bool {
	return m.Called().Bool(0)
}

func (m *MockAdapter) Balance(ctx context.Context, asset string) (decimal.Decimal, error) {
	args := m.Called(asset)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockAdapter) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	args := m.Called(symbol)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockAdapter) Ticker(ctx context.Context, symbol string) (model.Ticker, error) {
	args := m.Called(symbol)
	return args.Get(0).(model.Ticker), args.Error(1)
}

func (m *MockAdapter) SymbolInfo(ctx context.Context, symbol string) (model.SymbolInfo, error) {
	args := m.Called(symbol)
	return args.Get(0).(model.SymbolInfo), args.Error(1)
}

func (m *MockAdapter) Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	args := m.Called(symbol, interval, limit)
	return args.Get(0).([]model.Candle), args.Error(1)
}

func (m *MockAdapter) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	args := m.Called(req)
	return args.Get(0).(model.Order), args.Error(1)
}

func (m *MockAdapter) OrderStatus(ctx context.Context, symbol, orderID string) (model.OrderStatus, error) {
	args := m.Called(symbol, orderID)
	return args.Get(0).(model.OrderStatus), args.Error(1)
}

func (m *MockAdapter) MyTrades(ctx context.Context, symbol, orderID string) ([]model.Fill, error) {
	args := m.Called(symbol, orderID)
	return args.Get(0).([]model.Fill), args.Error(1)
}

func (m *MockAdapter) OpenOrders(ctx context.Context, symbol string) ([]model.OrderRef, error) {
	args := m.Called(symbol)
	return args.Get(0).([]model.OrderRef), args.Error(1)
}

func (m *MockAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return m.Called(symbol, orderID).Error(0)
}

// fakeVenue is a scripted venue for executor scenarios. Buy and sell statuses are
// returned in order; the last one repeats.
type fakeVenue struct {
	mu sync.Mutex

	name     string
	fee      decimal.Decimal
	balances map[string]decimal.Decimal
	ticker   model.Ticker
	info     model.SymbolInfo

	buyStatuses  []model.OrderStatus
	sellStatuses []model.OrderStatus
	buyFills     []model.Fill
	sellFills    []model.Fill
	fillsErr     error
	placeErrs    []error
	open         []model.OrderRef

	placed   []model.OrderRequest
	canceled []string
	polls    map[string]int
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		name:     "Fake",
		fee:      d("0.001"),
		balances: map[string]decimal.Decimal{"USDT": d("100")},
		ticker:   model.Ticker{Symbol: "XRP/USDT", Bid: d("2.0"), Ask: d("2.01")},
		info:     model.SymbolInfo{Symbol: "XRP/USDT", MinQuantity: d("0.01"), QuantityPrecision: 2, PricePrecision: 4, Authoritative: true},
		polls:    make(map[string]int),
	}
}

func (f *fakeVenue) Name() string              { return f.name }
func (f *fakeVenue) MakerFee() decimal.Decimal { return f.fee }

func (f *fakeVenue) IsActive(context.Context) bool { return true }

func (f *fakeVenue) Balance(_ context.Context, asset string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[asset], nil
}

func (f *fakeVenue) Price(context.Context, string) (decimal.Decimal, error) {
	return f.ticker.Bid, nil
}

func (f *fakeVenue) Ticker(context.Context, string) (model.Ticker, error) { return f.ticker, nil }

func (f *fakeVenue) SymbolInfo(context.Context, string) (model.SymbolInfo, error) { return f.info, nil }

func (f *fakeVenue) Klines(context.Context, string, string, int) ([]model.Candle, error) {
	return nil, nil
}

func (f *fakeVenue) PlaceOrder(_ context.Context, req model.OrderRequest) (model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	if len(f.placeErrs) > 0 {
		err := f.placeErrs[0]
		f.placeErrs = f.placeErrs[1:]
		if err != nil {
			return model.Order{}, err
		}
	}
	if req.Side == model.SideBuy {
		// a filled buy lands in the base balance
		base := "XRP"
		f.balances[base] = f.balances[base].Add(req.Quantity)
	}
	return model.Order{
		ID:            string(req.Side) + "-1",
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Status:        model.StatusOpen,
	}, nil
}

func (f *fakeVenue) OrderStatus(_ context.Context, _ string, orderID string) (model.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := f.sellStatuses
	if orderID == "BUY-1" {
		seq = f.buyStatuses
	}
	i := f.polls[orderID]
	f.polls[orderID]++
	if len(seq) == 0 {
		return model.StatusFilled, nil
	}
	if i >= len(seq) {
		i = len(seq) - 1
	}
	return seq[i], nil
}

func (f *fakeVenue) MyTrades(_ context.Context, _ string, orderID string) ([]model.Fill, error) {
	if f.fillsErr != nil {
		return nil, f.fillsErr
	}
	if orderID == "BUY-1" {
		return f.buyFills, nil
	}
	return f.sellFills, nil
}

func (f *fakeVenue) OpenOrders(context.Context, string) ([]model.OrderRef, error) {
	return f.open, nil
}

func (f *fakeVenue) CancelOrder(_ context.Context, _ string, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, orderID)
	return nil
}

func (f *fakeVenue) placedSides() []model.Side {
	out := make([]model.Side, 0, len(f.placed))
	for _, p := range f.placed {
		out = append(out, p.Side)
	}
	return out
}

func decimalFloat(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Notify(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, text)
}

func (n *recordingNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}
