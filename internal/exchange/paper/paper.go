package paper

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"spot-cycle-trader/internal/exchange"
	"spot-cycle-trader/internal/model"
)

const Name = "Paper"

type order struct {
	model.Order
	polls int
}

// Adapter is an in-memory venue for dry runs. Orders rest until they have been polled
// FillAfterPolls times and then fill completely at their limit price.
type Adapter struct {
	FillAfterPolls int

	mu       sync.Mutex
	name     string
	makerFee decimal.Decimal
	balances map[string]decimal.Decimal
	tickers  map[string]model.Ticker
	candles  map[string][]model.Candle
	info     map[string]model.SymbolInfo
	orders   map[string]*order
	fills    map[string][]model.Fill
	active   bool
	now      func() time.Time
}

func New(quoteAsset string, quoteBalance decimal.Decimal) *Adapter {
	return &Adapter{
		FillAfterPolls: 1,
		name:           Name,
		makerFee:       decimal.RequireFromString("0.001"),
		balances:       map[string]decimal.Decimal{strings.ToUpper(quoteAsset): quoteBalance},
		tickers:        make(map[string]model.Ticker),
		candles:        make(map[string][]model.Candle),
		info:           make(map[string]model.SymbolInfo),
		orders:         make(map[string]*order),
		fills:          make(map[string][]model.Fill),
		active:         true,
		now:            time.Now,
	}
}

// WithName lets tests run several paper venues side by side.
func (a *Adapter) WithName(name string) *Adapter {
	a.name = name
	return a
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) MakerFee() decimal.Decimal { return a.makerFee }

func (a *Adapter) SetActive(active bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = active
}

func (a *Adapter) SetBalance(asset string, amount decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balances[strings.ToUpper(asset)] = amount
}

func (a *Adapter) SetTicker(symbol string, bid, ask decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tickers[symbol] = model.Ticker{Symbol: symbol, Bid: bid, Ask: ask, Time: a.now()}
}

func (a *Adapter) SetCandles(symbol string, candles []model.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.candles[symbol] = candles
}

func (a *Adapter) SetSymbolInfo(info model.SymbolInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.info[info.Symbol] = info
}

func (a *Adapter) IsActive(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active && ctx.Err() == nil
}

func (a *Adapter) Balance(ctx context.Context, asset string) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balances[strings.ToUpper(asset)], nil
}

func (a *Adapter) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	t, err := a.Ticker(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return t.Bid, nil
}

func (a *Adapter) Ticker(ctx context.Context, symbol string) (model.Ticker, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.tickers[symbol]; ok {
		return t, nil
	}
	series := a.series(symbol, syntheticWindow)
	if len(series) == 0 {
		return model.Ticker{}, model.NewVenueError(model.ErrMarketData, a.name, exchange.OpTicker, "unknown symbol "+symbol)
	}
	last := series[len(series)-1].Close
	return model.Ticker{
		Symbol: symbol,
		Bid:    last,
		Ask:    last.Mul(decimal.RequireFromString("1.001")),
		Time:   a.now(),
	}, nil
}

func (a *Adapter) SymbolInfo(ctx context.Context, symbol string) (model.SymbolInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if info, ok := a.info[symbol]; ok {
		return info, nil
	}
	return exchange.DefaultSymbolInfo(symbol), nil
}

func (a *Adapter) Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.series(symbol, limit), nil
}

// syntheticWindow is the candle count the synthetic ticker reads its last close from, so it
// agrees with a default kline request.
const syntheticWindow = 100

// series returns configured candles, or a deterministic synthetic walk seeded by the symbol.
func (a *Adapter) series(symbol string, limit int) []model.Candle {
	if c, ok := a.candles[symbol]; ok {
		if limit > 0 && len(c) > limit {
			return append([]model.Candle(nil), c[len(c)-limit:]...)
		}
		return append([]model.Candle(nil), c...)
	}
	if limit <= 0 {
		return []model.Candle{}
	}

	h := fnv.New32a()
	h.Write([]byte(symbol))
	seed := float64(h.Sum32()%1000) + 1
	start := a.now().Truncate(time.Hour).Add(-time.Duration(limit) * time.Hour)

	out := make([]model.Candle, 0, limit)
	prev := seed
	// A gentle uptrend with alternating pullbacks keeps ADX directional and RSI neutral,
	// so dry runs pass the default market filters.
	for i := 0; i < limit; i++ {
		x := float64(i)
		step := 0.005
		if i%2 == 1 {
			step = -step
		}
		closePx := seed * (1 + 0.002*x + 0.01*math.Sin(x/4+seed) + step)
		hi := math.Max(prev, closePx) * 1.004
		lo := math.Min(prev, closePx) * 0.996
		out = append(out, model.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Hour),
			Open:     decimal.NewFromFloat(prev).Round(6),
			High:     decimal.NewFromFloat(hi).Round(6),
			Low:      decimal.NewFromFloat(lo).Round(6),
			Close:    decimal.NewFromFloat(closePx).Round(6),
			Volume:   decimal.NewFromFloat(50000 / closePx).Round(6),
		})
		prev = closePx
	}
	return out
}

func (a *Adapter) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !req.Price.IsPositive() || !req.Quantity.IsPositive() {
		return model.Order{}, model.NewVenueError(model.ErrOrderRejected, a.name, exchange.OpPlaceOrder, "price and quantity must be positive")
	}
	base, quote := exchange.SplitSymbol(req.Symbol)
	notional := req.Price.Mul(req.Quantity)

	switch req.Side {
	case model.SideBuy:
		if a.balances[quote].LessThan(notional) {
			return model.Order{}, model.NewVenueError(model.ErrOrderRejected, a.name, exchange.OpPlaceOrder, "insufficient "+quote+" balance")
		}
		a.balances[quote] = a.balances[quote].Sub(notional)
	case model.SideSell:
		if a.balances[base].LessThan(req.Quantity) {
			return model.Order{}, model.NewVenueError(model.ErrOrderRejected, a.name, exchange.OpPlaceOrder, "insufficient "+base+" balance")
		}
		a.balances[base] = a.balances[base].Sub(req.Quantity)
	default:
		return model.Order{}, model.NewVenueError(model.ErrOrderRejected, a.name, exchange.OpPlaceOrder, "unknown side "+string(req.Side))
	}

	o := &order{Order: model.Order{
		ID:            uuid.NewString(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Status:        model.StatusOpen,
		CreatedAt:     a.now(),
	}}
	a.orders[o.ID] = o
	return o.Order, nil
}

func (a *Adapter) OrderStatus(ctx context.Context, symbol, orderID string) (model.OrderStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	o, ok := a.orders[orderID]
	if !ok {
		return model.StatusUnknown, model.NewVenueError(model.ErrMarketData, a.name, exchange.OpOrderStatus, "unknown order "+orderID)
	}
	if o.Status == model.StatusOpen {
		o.polls++
		if a.FillAfterPolls >= 0 && o.polls >= a.FillAfterPolls {
			a.fill(o)
		}
	}
	return o.Status, nil
}

func (a *Adapter) fill(o *order) {
	base, quote := exchange.SplitSymbol(o.Symbol)
	notional := o.Price.Mul(o.Quantity)
	fee := notional.Mul(a.makerFee)
	if o.Side == model.SideBuy {
		a.balances[base] = a.balances[base].Add(o.Quantity)
		a.balances[quote] = a.balances[quote].Sub(fee)
	} else {
		a.balances[quote] = a.balances[quote].Add(notional).Sub(fee)
	}
	o.Status = model.StatusFilled
	a.fills[o.ID] = append(a.fills[o.ID], model.Fill{Quantity: o.Quantity, QuoteAmount: notional})
}

func (a *Adapter) MyTrades(ctx context.Context, symbol, orderID string) ([]model.Fill, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.Fill(nil), a.fills[orderID]...), nil
}

func (a *Adapter) OpenOrders(ctx context.Context, symbol string) ([]model.OrderRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	refs := make([]model.OrderRef, 0)
	for _, o := range a.orders {
		if o.Status != model.StatusOpen || (symbol != "" && o.Symbol != symbol) {
			continue
		}
		refs = append(refs, model.OrderRef{
			ID:            o.ID,
			ClientOrderID: o.ClientOrderID,
			Symbol:        o.Symbol,
			Side:          o.Side,
			Price:         o.Price,
			Quantity:      o.Quantity,
		})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	o, ok := a.orders[orderID]
	if !ok || o.Status != model.StatusOpen {
		return model.NewVenueError(model.ErrMarketData, a.name, exchange.OpCancelOrder, "no open order "+orderID)
	}
	base, quote := exchange.SplitSymbol(o.Symbol)
	if o.Side == model.SideBuy {
		a.balances[quote] = a.balances[quote].Add(o.Price.Mul(o.Quantity))
	} else {
		a.balances[base] = a.balances[base].Add(o.Quantity)
	}
	o.Status = model.StatusCanceled
	return nil
}
