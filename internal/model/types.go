package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderStatus string

const (
	StatusOpen     OrderStatus = "open"
	StatusFilled   OrderStatus = "filled"
	StatusCanceled OrderStatus = "canceled"
	StatusRejected OrderStatus = "rejected"
	StatusUnknown  OrderStatus = "unknown"
)

// Terminal reports whether the venue will not change the order any further.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusRejected
}

// Balance is the free amount of one asset on one venue. It is read fresh every cycle.
type Balance struct {
	Exchange  string          `json:"exchange"`
	Asset     string          `json:"asset"`
	Available decimal.Decimal `json:"available"`
}

// OrderRequest is a limit GTC order the executor wants on the book.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	ClientOrderID string
}

type Order struct {
	ID            string          `json:"id"`
	ClientOrderID string          `json:"clientOrderId,omitempty"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	Status        OrderStatus     `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// OrderRef identifies a resting order as reported by the venue's open-order listing.
type OrderRef struct {
	ID            string          `json:"id"`
	ClientOrderID string          `json:"clientOrderId,omitempty"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
}

// Fill is one execution record tied to an order.
type Fill struct {
	Quantity    decimal.Decimal `json:"quantity"`
	QuoteAmount decimal.Decimal `json:"quoteAmount"`
}

// FillSummary aggregates the fills of a single order.
type FillSummary struct {
	Quantity  decimal.Decimal
	Quote     decimal.Decimal
	AvgPrice  decimal.Decimal
	FillCount int
}

// AggregateFills sums quantity and quote amount. AvgPrice is zero when nothing filled.
func AggregateFills(fills []Fill) FillSummary {
	sum := FillSummary{Quantity: decimal.Zero, Quote: decimal.Zero, AvgPrice: decimal.Zero}
	for _, f := range fills {
		sum.Quantity = sum.Quantity.Add(f.Quantity)
		sum.Quote = sum.Quote.Add(f.QuoteAmount)
		sum.FillCount++
	}
	if sum.Quantity.IsPositive() {
		sum.AvgPrice = sum.Quote.Div(sum.Quantity)
	}
	return sum
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeAborted Outcome = "aborted"
	OutcomeFailed  Outcome = "failed"
)

// CycleState is the last state the order executor reached in a cycle.
type CycleState string

const (
	StateSizing      CycleState = "sizing"
	StateBuyPlaced   CycleState = "buy_placed"
	StateBuyPolling  CycleState = "buy_polling"
	StateBuyFilled   CycleState = "buy_filled"
	StateBuyAborted  CycleState = "buy_aborted"
	StateSellPlaced  CycleState = "sell_placed"
	StateSellPolling CycleState = "sell_polling"
	StateSettled     CycleState = "settled"
	StateSellAborted CycleState = "sell_aborted"
)

type TradeCycleResult struct {
	Exchange        string          `json:"exchange"`
	Symbol          string          `json:"symbol"`
	BuyOrder        *Order          `json:"buyOrder,omitempty"`
	SellOrder       *Order          `json:"sellOrder,omitempty"`
	FilledQuantity  decimal.Decimal `json:"filledQuantity"`
	FilledPrice     decimal.Decimal `json:"filledPrice"`
	RealizedProfit  decimal.Decimal `json:"realizedProfit"`
	ProfitFromFills bool            `json:"profitFromFills"`
	Outcome         Outcome         `json:"outcome"`
	State           CycleState      `json:"state"`
	Reason          string          `json:"reason,omitempty"`
	StartedAt       time.Time       `json:"startedAt"`
	FinishedAt      time.Time       `json:"finishedAt"`
}

func (r TradeCycleResult) Success() bool {
	return r.Outcome == OutcomeSuccess
}
