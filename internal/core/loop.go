package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"spot-cycle-trader/internal/breaker"
	"spot-cycle-trader/internal/exchange"
	"spot-cycle-trader/internal/logger"
	"spot-cycle-trader/internal/metrics"
	"spot-cycle-trader/internal/model"
	"spot-cycle-trader/internal/retry"
)

// Notifier delivers operator messages. Implementations must not block or panic.
type Notifier interface {
	Notify(text string)
}

// StatsRecorder aggregates profit per cycle.
type StatsRecorder interface {
	RecordTrade(profit decimal.Decimal, success bool)
}

// CycleRecorder persists full cycle results.
type CycleRecorder interface {
	RecordCycle(res model.TradeCycleResult)
}

type LoopConfig struct {
	Symbols         []string
	CheckInterval   time.Duration
	NoExchangeWait  time.Duration
	SkipWait        time.Duration
	ErrorBackoff    time.Duration
	ShutdownTimeout time.Duration
}

// Status is what the loop exposes to the status API.
type Status struct {
	Running           bool                    `json:"running"`
	Phase             string                  `json:"phase"`
	Exchanges         []string                `json:"exchanges"`
	BreakerErrors     int                     `json:"breakerErrors"`
	BreakerTripped    bool                    `json:"breakerTripped"`
	CooldownRemaining string                  `json:"cooldownRemaining"`
	LastTrade         time.Time               `json:"lastTrade,omitempty"`
	LastResult        *model.TradeCycleResult `json:"lastResult,omitempty"`
	Cycles            metrics.Snapshot        `json:"cycles"`
}

// TradingLoop runs one trade cycle at a time until its context ends, then cancels every
// open order it can find.
type TradingLoop struct {
	cfg       LoopConfig
	adapters  []exchange.Adapter
	exchanges *ExchangeSelector
	symbols   *SymbolSelector
	executor  *Executor
	breaker   *breaker.CircuitBreaker
	cooldown  *breaker.CooldownGate
	notifier  Notifier
	stats     StatsRecorder
	recorders []CycleRecorder
	metrics   *metrics.Tracker
	retry     retry.Policy

	sleep func(ctx context.Context, d time.Duration) error

	mu         sync.RWMutex
	running    bool
	phase      string
	lastResult *model.TradeCycleResult
}

type LoopDeps struct {
	Adapters  []exchange.Adapter
	Exchanges *ExchangeSelector
	Symbols   *SymbolSelector
	Executor  *Executor
	Breaker   *breaker.CircuitBreaker
	Cooldown  *breaker.CooldownGate
	Notifier  Notifier
	Stats     StatsRecorder
	Recorders []CycleRecorder
	Metrics   *metrics.Tracker
	Retry     retry.Policy
}

func NewTradingLoop(cfg LoopConfig, deps LoopDeps) *TradingLoop {
	l := &TradingLoop{
		cfg:       cfg,
		adapters:  deps.Adapters,
		exchanges: deps.Exchanges,
		symbols:   deps.Symbols,
		executor:  deps.Executor,
		breaker:   deps.Breaker,
		cooldown:  deps.Cooldown,
		notifier:  deps.Notifier,
		stats:     deps.Stats,
		recorders: deps.Recorders,
		metrics:   deps.Metrics,
		retry:     deps.Retry,
		sleep:     retry.Sleep,
		phase:     "idle",
	}
	if l.notifier == nil {
		l.notifier = nopNotifier{}
	}
	if l.metrics == nil {
		l.metrics = metrics.NewTracker()
	}
	return l
}

type nopNotifier struct{}

func (nopNotifier) Notify(string) {}

// Run blocks until ctx is done. Shutdown always runs before it returns.
func (l *TradingLoop) Run(ctx context.Context) {
	l.setRunning(true)
	logger.Info("Trading loop started", "exchanges", len(l.adapters), "symbols", l.cfg.Symbols)
	l.notifier.Notify("🟢 Bot started. Ready to trade.")

	for ctx.Err() == nil {
		wait := l.RunOnce(ctx)
		if err := l.sleep(ctx, wait); err != nil {
			break
		}
	}

	timeout := l.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	l.Shutdown(cleanup)
	l.setRunning(false)
}

// RunOnce performs a single iteration and returns how long to wait before the next.
func (l *TradingLoop) RunOnce(ctx context.Context) (wait time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			l.breaker.RecordError()
			logger.Error("Panic in trading loop", "panic", r)
			l.notifier.Notify(model.Truncate(fmt.Sprintf("💥 Error in main loop: %v", r), 150))
			l.setPhase("error backoff")
			wait = l.cfg.ErrorBackoff
		}
	}()

	if l.breaker.TooManyErrors() {
		n := l.breaker.Count()
		logger.Warn("Circuit breaker tripped, pausing trading", "errors", n, "cooldown", l.breaker.Cooldown)
		l.notifier.Notify(fmt.Sprintf("⛔ Circuit breaker: %d errors in %s. Trading paused for %s.", n, l.breaker.Window, l.breaker.Cooldown))
		l.setPhase("breaker cooldown")
		return l.breaker.Cooldown
	}
	if !l.cooldown.Ready() {
		left := l.cooldown.Remaining()
		logger.Info("Waiting for trade cooldown", "remaining", left)
		l.setPhase("trade cooldown")
		return left
	}

	l.setPhase("selecting exchange")
	cand, ok := l.exchanges.SelectBest(ctx, l.adapters)
	if !ok {
		logger.Info("No exchange with sufficient balance")
		l.notifier.Notify("❌ No active exchange with sufficient balance")
		l.setPhase("waiting for balance")
		return l.cfg.NoExchangeWait
	}

	l.setPhase("selecting symbol")
	symbol, ok := l.symbols.SelectBest(ctx, cand.Adapter, l.cfg.Symbols)
	if !ok {
		logger.Info("No symbol qualifies, skipping cycle", "exchange", cand.Adapter.Name())
		l.setPhase("no symbol")
		return l.cfg.SkipWait
	}

	l.setPhase("trading " + symbol + " on " + cand.Adapter.Name())
	logger.Info("Starting cycle", "exchange", cand.Adapter.Name(), "symbol", symbol, "balance", cand.Balance.String())
	res := l.executor.Execute(ctx, cand.Adapter, symbol, cand.Balance)
	l.report(res)

	switch res.Outcome {
	case model.OutcomeSuccess:
		l.cooldown.Mark()
		l.setPhase("idle")
		return l.cfg.CheckInterval
	case model.OutcomeFailed:
		l.setPhase("error backoff")
		return l.cfg.ErrorBackoff
	default:
		l.setPhase("idle")
		return l.cfg.CheckInterval
	}
}

func (l *TradingLoop) report(res model.TradeCycleResult) {
	l.mu.Lock()
	l.lastResult = &res
	l.mu.Unlock()

	l.metrics.TrackCycle(res.FinishedAt.Sub(res.StartedAt), res.Outcome)
	if l.stats != nil {
		l.stats.RecordTrade(res.RealizedProfit, res.Success())
	}
	for _, r := range l.recorders {
		r.RecordCycle(res)
	}

	switch res.Outcome {
	case model.OutcomeSuccess:
		l.notifier.Notify(fmt.Sprintf("✅ Trade completed!\n%s | %s\nProfit: %s USDT",
			res.Exchange, res.Symbol, res.RealizedProfit.StringFixed(4)))
	case model.OutcomeFailed:
		l.notifier.Notify(fmt.Sprintf("❌ %s | %s failed: %s",
			res.Exchange, res.Symbol, model.Truncate(res.Reason, 200)))
	default:
		if res.BuyOrder != nil {
			l.notifier.Notify(fmt.Sprintf("⏸️ %s | %s aborted (%s): %s",
				res.Exchange, res.Symbol, res.State, model.Truncate(res.Reason, 200)))
		}
	}
}

// Shutdown cancels every open order on every venue once, ignoring individual failures,
// and returns the number of cancel requests sent.
func (l *TradingLoop) Shutdown(ctx context.Context) int {
	logger.Info("Shutting down, canceling open orders")
	l.setPhase("shutting down")

	sent := 0
	for _, a := range l.adapters {
		refs, err := retry.Do(ctx, l.retry, "open orders", func(ctx context.Context) ([]model.OrderRef, error) {
			return a.OpenOrders(ctx, "")
		})
		if err != nil {
			logger.Error("Could not list open orders", "exchange", a.Name(), "listed", len(refs), "error", err)
		}
		for _, ref := range refs {
			sent++
			if err := a.CancelOrder(ctx, ref.Symbol, ref.ID); err != nil {
				logger.Error("Cancel failed during shutdown", "exchange", a.Name(), "symbol", ref.Symbol, "order", ref.ID, "error", err)
				continue
			}
			logger.Info("Canceled during shutdown", "exchange", a.Name(), "symbol", ref.Symbol, "order", ref.ID)
		}
	}

	l.notifier.Notify(fmt.Sprintf("🔴 Bot stopped. Cancel sent for %d open orders.", sent))
	return sent
}

func (l *TradingLoop) setRunning(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = v
}

func (l *TradingLoop) setPhase(p string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.phase = p
}

func (l *TradingLoop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.adapters))
	for _, a := range l.adapters {
		names = append(names, a.Name())
	}
	return Status{
		Running:           l.running,
		Phase:             l.phase,
		Exchanges:         names,
		BreakerErrors:     l.breaker.Count(),
		BreakerTripped:    l.breaker.TooManyErrors(),
		CooldownRemaining: l.cooldown.Remaining().String(),
		LastTrade:         l.cooldown.LastTrade(),
		LastResult:        l.lastResult,
		Cycles:            l.metrics.Snapshot(),
	}
}
