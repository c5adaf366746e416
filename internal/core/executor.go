package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"spot-cycle-trader/internal/breaker"
	"spot-cycle-trader/internal/exchange"
	"spot-cycle-trader/internal/logger"
	"spot-cycle-trader/internal/model"
	"spot-cycle-trader/internal/retry"
)

var errPollExhausted = errors.New("polling ceiling reached")

// ExecutorConfig carries the sizing, pricing and polling parameters of a trade cycle.
type ExecutorConfig struct {
	QuoteAsset     string
	MinTrade       decimal.Decimal
	RiskPercent    decimal.Decimal
	MaxRiskPercent decimal.Decimal
	ProfitTarget   decimal.Decimal
	MinProfit      decimal.Decimal
	ProfitFloor    decimal.Decimal
	FeeLegs        int
	BuyOffsetPct   decimal.Decimal
	SpreadMultiple decimal.Decimal

	PollInterval  time.Duration
	PollAttempts  int
	PlaceAttempts int
}

// Plan is the sized and priced order pair for one cycle.
type Plan struct {
	Info      model.SymbolInfo
	Notional  decimal.Decimal
	Quantity  decimal.Decimal
	BuyPrice  decimal.Decimal
	SellPrice decimal.Decimal
	Margin    decimal.Decimal
}

// Executor drives one buy-then-sell cycle on a venue. It never panics on venue errors
// and reports every externally caused failure to the breaker.
type Executor struct {
	cfg     ExecutorConfig
	retry   retry.Policy
	breaker *breaker.CircuitBreaker

	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	clientID func() string
}

func NewExecutor(cfg ExecutorConfig, policy retry.Policy, br *breaker.CircuitBreaker) *Executor {
	return &Executor{
		cfg:      cfg,
		retry:    policy,
		breaker:  br,
		now:      time.Now,
		sleep:    retry.Sleep,
		clientID: NewClientOrderID,
	}
}

// NewClientOrderID returns a 22 character id accepted by every supported venue.
func NewClientOrderID() string {
	return "sc" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

// Notional sizes a trade: balance times risk, at least the minimum, capped by max risk.
func (c ExecutorConfig) Notional(balance decimal.Decimal) decimal.Decimal {
	n := decimal.Max(c.MinTrade, balance.Mul(c.RiskPercent))
	ceiling := decimal.Max(c.MinTrade, balance.Mul(c.MaxRiskPercent))
	return decimal.Min(n, ceiling)
}

// Margin is the required markup over the buy price.
func (c ExecutorConfig) Margin(notional, makerFee decimal.Decimal) decimal.Decimal {
	m := c.ProfitTarget
	if notional.IsPositive() {
		need := c.MinProfit.Div(notional).Add(makerFee.Mul(decimal.NewFromInt(int64(c.FeeLegs))))
		m = decimal.Max(m, need)
	}
	return decimal.Max(m, c.ProfitFloor)
}

// BuyPrice discounts the bid by the fixed offset, or by SpreadMultiple spreads when that
// is smaller. A crossed or empty book uses the fixed offset.
func (c ExecutorConfig) BuyPrice(t model.Ticker) decimal.Decimal {
	discount := t.Bid.Mul(c.BuyOffsetPct)
	if spread := t.Spread(); spread.IsPositive() && c.SpreadMultiple.IsPositive() {
		discount = decimal.Min(discount, spread.Mul(c.SpreadMultiple))
	}
	return t.Bid.Sub(discount)
}

// Plan sizes and prices a cycle without touching account state.
func (e *Executor) Plan(ctx context.Context, a exchange.Adapter, symbol string, balance decimal.Decimal) (Plan, error) {
	info, err := retry.Do(ctx, e.retry, "symbol info", func(ctx context.Context) (model.SymbolInfo, error) {
		return a.SymbolInfo(ctx, symbol)
	})
	if err != nil {
		return Plan{}, err
	}
	ticker, err := retry.Do(ctx, e.retry, "ticker", func(ctx context.Context) (model.Ticker, error) {
		return a.Ticker(ctx, symbol)
	})
	if err != nil {
		return Plan{}, err
	}
	if !ticker.Bid.IsPositive() {
		return Plan{}, model.NewVenueError(model.ErrConfiguration, a.Name(), exchange.OpTicker, "bid price is not positive")
	}

	p := Plan{Info: info, Notional: e.cfg.Notional(balance)}
	p.Quantity = exchange.RoundQuantity(p.Notional.Div(ticker.Bid), info.QuantityPrecision)
	if !p.Quantity.IsPositive() || p.Quantity.LessThan(info.MinQuantity) {
		return p, model.NewVenueError(model.ErrConfiguration, a.Name(), "size",
			fmt.Sprintf("quantity %s below minimum %s", p.Quantity, info.MinQuantity))
	}

	p.Margin = e.cfg.Margin(p.Notional, a.MakerFee())
	p.BuyPrice = exchange.RoundPriceDown(e.cfg.BuyPrice(ticker), info.PricePrecision)
	p.SellPrice = exchange.RoundPriceUp(p.BuyPrice.Mul(decimal.NewFromInt(1).Add(p.Margin)), info.PricePrecision)
	if !p.BuyPrice.IsPositive() || !p.SellPrice.GreaterThan(p.BuyPrice) {
		return p, model.NewVenueError(model.ErrConfiguration, a.Name(), "price",
			fmt.Sprintf("invalid prices buy=%s sell=%s", p.BuyPrice, p.SellPrice))
	}
	return p, nil
}

// Execute runs a full cycle. The returned result is always populated.
func (e *Executor) Execute(ctx context.Context, a exchange.Adapter, symbol string, balance decimal.Decimal) (res model.TradeCycleResult) {
	res = model.TradeCycleResult{
		Exchange:       a.Name(),
		Symbol:         symbol,
		State:          model.StateSizing,
		RealizedProfit: decimal.Zero,
		StartedAt:      e.now(),
	}
	defer func() { res.FinishedAt = e.now() }()

	plan, err := e.Plan(ctx, a, symbol, balance)
	if err != nil {
		if errors.Is(err, model.ErrConfiguration) {
			logger.Info("Cycle aborted while sizing", "exchange", a.Name(), "symbol", symbol, "reason", err)
			return e.abort(res, err.Error())
		}
		return e.fail(ctx, res, err)
	}
	logger.Info("Cycle planned",
		"exchange", a.Name(),
		"symbol", symbol,
		"notional", plan.Notional.String(),
		"qty", plan.Quantity.String(),
		"buy", plan.BuyPrice.String(),
		"sell", plan.SellPrice.String(),
		"margin", plan.Margin.String(),
	)

	// Buy leg
	res.State = model.StateBuyPlaced
	buy, err := e.place(ctx, a, model.OrderRequest{
		Symbol:        symbol,
		Side:          model.SideBuy,
		Price:         plan.BuyPrice,
		Quantity:      plan.Quantity,
		ClientOrderID: e.clientID(),
	})
	if err != nil {
		return e.fail(ctx, res, err)
	}
	res.BuyOrder = &buy
	res.State = model.StateBuyPolling

	status, pollErr := e.poll(ctx, a, symbol, buy.ID)
	buyFills, fillsErr := e.fills(ctx, a, symbol, buy.ID, status)
	buySum := model.AggregateFills(buyFills)

	if status != model.StatusFilled {
		if ctx.Err() != nil {
			res.State = model.StateBuyAborted
			return e.abort(res, "interrupted while waiting for buy fill")
		}
		if !status.Terminal() {
			e.cancel(ctx, a, symbol, buy.ID)
			// The cancel may have raced a partial fill.
			buyFills, fillsErr = e.fills(ctx, a, symbol, buy.ID, model.StatusCanceled)
			buySum = model.AggregateFills(buyFills)
		}
		partial := exchange.RoundQuantity(buySum.Quantity, plan.Info.QuantityPrecision)
		if fillsErr != nil || !partial.IsPositive() || partial.LessThan(plan.Info.MinQuantity) {
			res.State = model.StateBuyAborted
			e.recordExternal(pollErr, status)
			return e.abort(res, fmt.Sprintf("buy order %s ended %s", buy.ID, endReason(status, pollErr)))
		}
		logger.Warn("Buy partially filled, selling what was filled", "exchange", a.Name(), "symbol", symbol, "filled", buySum.Quantity.String())
	}

	// Buy filled
	res.State = model.StateBuyFilled
	buyFromFills := fillsErr == nil && buySum.Quantity.IsPositive()
	if buyFromFills {
		res.FilledQuantity = buySum.Quantity
		res.FilledPrice = buySum.AvgPrice
	} else {
		logger.Warn("Buy fills unavailable, using order values", "exchange", a.Name(), "order", buy.ID, "error", fillsErr)
		res.FilledQuantity = buy.Quantity
		res.FilledPrice = buy.Price
	}

	sellQty := e.sellQuantity(ctx, a, symbol, res.FilledQuantity, plan.Info)
	if !sellQty.IsPositive() || sellQty.LessThan(plan.Info.MinQuantity) {
		res.State = model.StateSellAborted
		return e.abort(res, fmt.Sprintf("sell quantity %s below minimum %s", sellQty, plan.Info.MinQuantity))
	}

	// Sell leg
	res.State = model.StateSellPlaced
	sell, err := e.place(ctx, a, model.OrderRequest{
		Symbol:        symbol,
		Side:          model.SideSell,
		Price:         plan.SellPrice,
		Quantity:      sellQty,
		ClientOrderID: e.clientID(),
	})
	if err != nil {
		res.State = model.StateSellAborted
		return e.fail(ctx, res, err)
	}
	res.SellOrder = &sell
	res.State = model.StateSellPolling

	status, pollErr = e.poll(ctx, a, symbol, sell.ID)
	if status != model.StatusFilled {
		res.State = model.StateSellAborted
		if ctx.Err() != nil {
			return e.abort(res, "interrupted while waiting for sell fill")
		}
		e.recordExternal(pollErr, status)
		return e.abort(res, fmt.Sprintf("sell order %s ended %s, left on book", sell.ID, endReason(status, pollErr)))
	}

	// Settled
	res.State = model.StateSettled
	res.Outcome = model.OutcomeSuccess
	sellFills, err := e.fills(ctx, a, symbol, sell.ID, status)
	sellSum := model.AggregateFills(sellFills)
	if err == nil && buyFromFills && sellSum.Quantity.IsPositive() {
		res.RealizedProfit = sellSum.Quote.Sub(buySum.Quote)
		res.ProfitFromFills = true
	} else {
		res.RealizedProfit = plan.SellPrice.Sub(res.FilledPrice).Mul(res.FilledQuantity)
	}

	logger.Info("Cycle settled",
		"exchange", a.Name(),
		"symbol", symbol,
		"profit", res.RealizedProfit.String(),
		"from_fills", res.ProfitFromFills,
	)
	return res
}

func endReason(status model.OrderStatus, pollErr error) string {
	if errors.Is(pollErr, errPollExhausted) {
		return "unfilled after polling ceiling"
	}
	return string(status)
}

func (e *Executor) abort(res model.TradeCycleResult, reason string) model.TradeCycleResult {
	res.Outcome = model.OutcomeAborted
	res.Reason = reason
	res.RealizedProfit = decimal.Zero
	return res
}

func (e *Executor) fail(ctx context.Context, res model.TradeCycleResult, err error) model.TradeCycleResult {
	res.Outcome = model.OutcomeFailed
	res.Reason = err.Error()
	res.RealizedProfit = decimal.Zero
	if ctx.Err() == nil && e.breaker != nil {
		e.breaker.RecordError()
	}
	logger.Error("Cycle failed", "exchange", res.Exchange, "symbol", res.Symbol, "state", res.State, "error", err)
	return res
}

// recordExternal charges the breaker for a leg that timed out or was closed by the venue.
func (e *Executor) recordExternal(pollErr error, status model.OrderStatus) {
	if e.breaker == nil {
		return
	}
	if pollErr != nil || status == model.StatusRejected || status == model.StatusCanceled {
		e.breaker.RecordError()
	}
}

// place submits an order. A transport failure leaves the outcome unknown, so the open
// orders are checked for the client id before the same request is sent again.
func (e *Executor) place(ctx context.Context, a exchange.Adapter, req model.OrderRequest) (model.Order, error) {
	attempts := e.cfg.PlaceAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var o model.Order
		o, err = a.PlaceOrder(ctx, req)
		if err == nil {
			logger.Info("Order placed", "exchange", a.Name(), "symbol", req.Symbol, "side", req.Side,
				"id", o.ID, "price", req.Price.String(), "qty", req.Quantity.String())
			return o, nil
		}
		if !model.IsRetryable(err) || ctx.Err() != nil {
			return model.Order{}, err
		}

		logger.Warn("Order placement outcome unknown, reconciling", "exchange", a.Name(), "symbol", req.Symbol,
			"client_id", req.ClientOrderID, "attempt", attempt, "error", err)
		if o, ok := e.reconcile(ctx, a, req); ok {
			logger.Info("Adopted order found on book", "exchange", a.Name(), "id", o.ID)
			return o, nil
		}
		if attempt < attempts {
			if serr := e.sleep(ctx, e.retry.Delay); serr != nil {
				return model.Order{}, err
			}
		}
	}
	return model.Order{}, err
}

func (e *Executor) reconcile(ctx context.Context, a exchange.Adapter, req model.OrderRequest) (model.Order, bool) {
	refs, err := retry.Do(ctx, e.retry, "open orders", func(ctx context.Context) ([]model.OrderRef, error) {
		return a.OpenOrders(ctx, req.Symbol)
	})
	if err != nil {
		logger.Warn("Reconciliation failed", "exchange", a.Name(), "error", err)
		return model.Order{}, false
	}
	for _, r := range refs {
		byID := req.ClientOrderID != "" && r.ClientOrderID == req.ClientOrderID
		byShape := r.ClientOrderID == "" && r.Side == req.Side && r.Price.Equal(req.Price) && r.Quantity.Equal(req.Quantity)
		if byID || byShape {
			return model.Order{
				ID:            r.ID,
				ClientOrderID: req.ClientOrderID,
				Symbol:        req.Symbol,
				Side:          req.Side,
				Price:         req.Price,
				Quantity:      req.Quantity,
				Status:        model.StatusOpen,
				CreatedAt:     e.now(),
			}, true
		}
	}
	return model.Order{}, false
}

// poll waits PollInterval between status checks until the order is terminal or the
// attempt ceiling is reached. Failed checks use up an attempt.
func (e *Executor) poll(ctx context.Context, a exchange.Adapter, symbol, orderID string) (model.OrderStatus, error) {
	status := model.StatusUnknown
	for i := 0; i < e.cfg.PollAttempts; i++ {
		if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
			return status, err
		}
		st, err := retry.Do(ctx, e.retry, "order status", func(ctx context.Context) (model.OrderStatus, error) {
			return a.OrderStatus(ctx, symbol, orderID)
		})
		if err != nil {
			logger.Warn("Order status unavailable", "exchange", a.Name(), "order", orderID, "attempt", i+1, "error", err)
			continue
		}
		status = st
		if status.Terminal() {
			return status, nil
		}
		logger.Debug("Order still open", "exchange", a.Name(), "order", orderID, "attempt", i+1)
	}
	return status, errPollExhausted
}

// fills reads execution records. An order known to be untouched skips the call.
func (e *Executor) fills(ctx context.Context, a exchange.Adapter, symbol, orderID string, status model.OrderStatus) ([]model.Fill, error) {
	if status == model.StatusRejected {
		return nil, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return retry.Do(ctx, e.retry, "fills", func(ctx context.Context) ([]model.Fill, error) {
		return a.MyTrades(ctx, symbol, orderID)
	})
}

func (e *Executor) cancel(ctx context.Context, a exchange.Adapter, symbol, orderID string) {
	err := retry.Run(ctx, e.retry, "cancel", func(ctx context.Context) error {
		return a.CancelOrder(ctx, symbol, orderID)
	})
	if err != nil {
		logger.Warn("Cancel failed", "exchange", a.Name(), "order", orderID, "error", err)
		return
	}
	logger.Info("Order canceled", "exchange", a.Name(), "order", orderID)
}

// sellQuantity rounds the filled amount and trims it to the free base balance when the
// venue took its fee in the base asset.
func (e *Executor) sellQuantity(ctx context.Context, a exchange.Adapter, symbol string, filled decimal.Decimal, info model.SymbolInfo) decimal.Decimal {
	qty := exchange.RoundQuantity(filled, info.QuantityPrecision)
	base, _ := exchange.SplitSymbol(symbol)
	free, err := retry.Do(ctx, e.retry, "balance", func(ctx context.Context) (decimal.Decimal, error) {
		return a.Balance(ctx, base)
	})
	if err != nil {
		logger.Warn("Base balance unavailable, selling filled quantity", "exchange", a.Name(), "asset", base, "error", err)
		return qty
	}
	if free.LessThan(qty) {
		adjusted := exchange.RoundQuantity(free, info.QuantityPrecision)
		logger.Warn("Insufficient balance for full sell. Adjusting.", "exchange", a.Name(), "wanted", qty.String(), "have", free.String())
		return adjusted
	}
	return qty
}
