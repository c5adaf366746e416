package core

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"spot-cycle-trader/internal/exchange"
	"spot-cycle-trader/internal/logger"
	"spot-cycle-trader/internal/market"
	"spot-cycle-trader/internal/model"
	"spot-cycle-trader/internal/retry"
)

// Candidate is a venue with its available quote balance at selection time.
type Candidate struct {
	Adapter exchange.Adapter
	Balance decimal.Decimal
}

// BalanceObserver receives every balance read during selection.
type BalanceObserver interface {
	ObserveBalance(b model.Balance)
}

// ExchangeSelector picks the live venue holding the most quote currency.
type ExchangeSelector struct {
	QuoteAsset string
	MinBalance decimal.Decimal
	Retry      retry.Policy
	Notifier   Notifier
	Observer   BalanceObserver
}

// SelectBest returns false when no venue is active with at least MinBalance. Balance
// errors only disqualify the venue for this round. Ties keep the first venue seen.
func (s *ExchangeSelector) SelectBest(ctx context.Context, adapters []exchange.Adapter) (Candidate, bool) {
	var (
		best  Candidate
		found bool
	)
	for _, a := range adapters {
		if ctx.Err() != nil {
			break
		}
		if !a.IsActive(ctx) {
			logger.Debug("Exchange inactive", "exchange", a.Name())
			continue
		}

		bal, err := retry.Do(ctx, s.Retry, "balance", func(ctx context.Context) (decimal.Decimal, error) {
			return a.Balance(ctx, s.QuoteAsset)
		})
		if err != nil {
			logger.Warn("Balance unavailable", "exchange", a.Name(), "error", err)
			if s.Notifier != nil {
				s.Notifier.Notify(fmt.Sprintf("⚠️ %s balance error: %s", a.Name(), model.Truncate(err.Error(), 100)))
			}
			continue
		}
		if s.Observer != nil {
			s.Observer.ObserveBalance(model.Balance{Exchange: a.Name(), Asset: s.QuoteAsset, Available: bal})
		}
		if bal.LessThan(s.MinBalance) {
			logger.Debug("Balance below minimum", "exchange", a.Name(), "balance", bal.String(), "min", s.MinBalance.String())
			continue
		}
		if !found || bal.GreaterThan(best.Balance) {
			best = Candidate{Adapter: a, Balance: bal}
			found = true
		}
	}
	return best, found
}

// SymbolSelector ranks symbols on a venue by log-return volatility among those passing
// the safety and trend gates.
type SymbolSelector struct {
	Filter   market.Filter
	Interval string
	Limit    int
	Retry    retry.Policy

	// ForceFallback trades the first symbol when none qualifies.
	ForceFallback bool
}

func (s *SymbolSelector) SelectBest(ctx context.Context, a exchange.Adapter, symbols []string) (string, bool) {
	var (
		best      string
		bestScore float64
		found     bool
	)
	for _, sym := range symbols {
		if ctx.Err() != nil {
			return "", false
		}
		candles, err := retry.Do(ctx, s.Retry, "klines", func(ctx context.Context) ([]model.Candle, error) {
			return a.Klines(ctx, sym, s.Interval, s.Limit)
		})
		if err != nil {
			logger.Warn("Klines unavailable", "exchange", a.Name(), "symbol", sym, "error", err)
			continue
		}
		if !s.Filter.IsSafe(candles) {
			logger.Info("Symbol not safe", "exchange", a.Name(), "symbol", sym, "candles", len(candles))
			continue
		}
		if !s.Filter.IsTrending(candles) {
			logger.Info("Symbol not trending", "exchange", a.Name(), "symbol", sym)
			continue
		}

		score := market.LogReturnStdDev(candles)
		logger.Debug("Symbol scored", "exchange", a.Name(), "symbol", sym, "score", score, "gk", market.GarmanKlass(candles))
		if !found || score > bestScore {
			best, bestScore, found = sym, score, true
		}
	}

	if found {
		logger.Info("Symbol selected", "exchange", a.Name(), "symbol", best, "score", bestScore)
		return best, true
	}
	if s.ForceFallback && len(symbols) > 0 {
		logger.Warn("No symbol passed the filters, trading fallback symbol", "exchange", a.Name(), "symbol", symbols[0])
		return symbols[0], true
	}
	return "", false
}
