package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"spot-cycle-trader/internal/api"
	"spot-cycle-trader/internal/breaker"
	"spot-cycle-trader/internal/config"
	"spot-cycle-trader/internal/core"
	"spot-cycle-trader/internal/exchange"
	"spot-cycle-trader/internal/exchange/binance"
	"spot-cycle-trader/internal/exchange/coinex"
	"spot-cycle-trader/internal/exchange/gateio"
	"spot-cycle-trader/internal/exchange/kucoin"
	"spot-cycle-trader/internal/exchange/mexc"
	"spot-cycle-trader/internal/exchange/paper"
	"spot-cycle-trader/internal/logger"
	"spot-cycle-trader/internal/market"
	"spot-cycle-trader/internal/metrics"
	"spot-cycle-trader/internal/model"
	"spot-cycle-trader/internal/repository"
	"spot-cycle-trader/internal/retry"
	"spot-cycle-trader/internal/service"
	"spot-cycle-trader/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.DataDir, cfg.LogLevel)
	logger.Info("Starting spot cycle trader...",
		"symbols", cfg.Symbols,
		"quote", cfg.QuoteAsset,
		"risk_pct", cfg.RiskPercent,
		"profit_target", cfg.ProfitTarget,
		"dry_run", cfg.DryRun,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Repositories
	storage := repository.NewStorage(cfg.DataDir)
	balanceRepo := repository.NewBalanceRepository()
	statsRepo := repository.NewStatsRepository(storage)
	tradeRepo := repository.NewTradeRepository(storage)
	if err := statsRepo.Load(); err != nil {
		logger.Error("Failed to load trade stats", "error", err)
	}
	if err := tradeRepo.Load(); err != nil {
		logger.Error("Failed to load trades", "error", err)
	}

	telegram, err := service.NewTelegramService(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		logger.Error("Telegram disabled", "error", err)
		telegram, _ = service.NewTelegramService("", "")
	}
	defer telegram.Close()

	policy := retry.Policy{
		MaxAttempts: cfg.RetryAttempts,
		Delay:       cfg.RetryDelay,
		Retryable:   model.IsRetryable,
	}

	var wg sync.WaitGroup
	adapters := buildAdapters(ctx, cfg, &wg)
	if len(adapters) == 0 {
		logger.Warn("⚠️ No exchange credentials configured, the bot will idle")
	}

	br := breaker.New(cfg.BreakerThreshold, cfg.BreakerWindow, cfg.BreakerCooldown)
	executor := core.NewExecutor(core.ExecutorConfig{
		QuoteAsset:     cfg.QuoteAsset,
		MinTrade:       cfg.MinTradeUSDT,
		RiskPercent:    cfg.RiskPercent,
		MaxRiskPercent: cfg.MaxRiskPercent,
		ProfitTarget:   cfg.ProfitTarget,
		MinProfit:      cfg.MinProfitUSDT,
		ProfitFloor:    cfg.ProfitFloor,
		FeeLegs:        cfg.FeeLegs,
		BuyOffsetPct:   cfg.BuyOffsetPct,
		SpreadMultiple: cfg.SpreadMultiple,
		PollInterval:   cfg.PollInterval,
		PollAttempts:   cfg.PollAttempts,
		PlaceAttempts:  cfg.PlaceAttempts,
	}, policy, br)

	loop := core.NewTradingLoop(core.LoopConfig{
		Symbols:         cfg.Symbols,
		CheckInterval:   cfg.CheckInterval,
		NoExchangeWait:  cfg.NoExchangeWait,
		SkipWait:        cfg.SkipWait,
		ErrorBackoff:    cfg.ErrorBackoff,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, core.LoopDeps{
		Adapters: adapters,
		Exchanges: &core.ExchangeSelector{
			QuoteAsset: cfg.QuoteAsset,
			MinBalance: cfg.MinTradeUSDT,
			Retry:      policy,
			Notifier:   telegram,
			Observer:   balanceRepo,
		},
		Symbols: &core.SymbolSelector{
			Filter: market.Filter{
				MinAvgQuoteVolume: cfg.MinAvgQuoteVolume,
				MaxCloseMove:      cfg.MaxCloseMove,
				ADXPeriod:         cfg.ADXPeriod,
				ADXThreshold:      cfg.ADXThreshold,
				RSIPeriod:         cfg.RSIPeriod,
				RSILow:            cfg.RSILow,
				RSIHigh:           cfg.RSIHigh,
			},
			Interval:      cfg.KlineInterval,
			Limit:         cfg.KlineLimit,
			Retry:         policy,
			ForceFallback: cfg.ForceFallbackSymbol,
		},
		Executor:  executor,
		Breaker:   br,
		Cooldown:  breaker.NewCooldownGate(cfg.TradeCooldown),
		Notifier:  telegram,
		Stats:     statsRepo,
		Recorders: []core.CycleRecorder{tradeRepo, service.NewCycleJournal(cfg.DataDir)},
		Metrics:   metrics.NewTracker(),
		Retry:     policy,
	})

	reporter := service.NewReporter(statsRepo, tradeRepo, telegram)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reporter.Run(ctx, cfg.SummaryInterval)
	}()

	if cfg.StatusAddr != "" {
		server := api.NewServer(cfg.StatusAddr, api.NewHandler(loop, balanceRepo, statsRepo, tradeRepo))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Run(ctx); err != nil {
				logger.Error("Status server stopped", "error", err)
			}
		}()
	}

	loop.Run(ctx)
	wg.Wait()
	logger.Info("Shutdown complete")
}

// buildAdapters enables every venue with credentials, or only the paper venue in dry-run mode.
func buildAdapters(ctx context.Context, cfg *config.Config, wg *sync.WaitGroup) []exchange.Adapter {
	if cfg.DryRun {
		logger.Info("🧪 Dry run: trading against the paper venue", "balance", cfg.PaperBalance)
		return []exchange.Adapter{paper.New(cfg.QuoteAsset, cfg.PaperBalance)}
	}

	var adapters []exchange.Adapter
	if cfg.Binance.Present() {
		b := binance.New(cfg.Binance.APIKey, cfg.Binance.SecretKey, cfg.Symbols)
		if err := b.SyncFees(ctx); err != nil {
			logger.Warn("⚠️ Failed to sync Binance fees, using default", "error", err)
		}
		if cfg.BinanceUserStream {
			us := stream.New(b, func(u stream.OrderUpdate) {
				b.ObserveExecution(u.OrderID, u.Status)
			})
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := us.Run(ctx); err != nil {
					logger.Error("❌ User data stream stopped", "error", err)
				}
			}()
		}
		adapters = append(adapters, b)
	}
	if cfg.MEXC.Present() {
		adapters = append(adapters, mexc.New(cfg.MEXC.APIKey, cfg.MEXC.SecretKey, cfg.Symbols))
	}
	if cfg.GateIO.Present() {
		adapters = append(adapters, gateio.New(cfg.GateIO.APIKey, cfg.GateIO.SecretKey))
	}
	if cfg.KuCoin.Present() && cfg.KuCoin.Passphrase != "" {
		adapters = append(adapters, kucoin.New(cfg.KuCoin.APIKey, cfg.KuCoin.SecretKey, cfg.KuCoin.Passphrase))
	}
	if cfg.CoinEx.Present() {
		adapters = append(adapters, coinex.New(cfg.CoinEx.APIKey, cfg.CoinEx.SecretKey, cfg.Symbols))
	}

	for _, a := range adapters {
		logger.Info("Exchange enabled", "exchange", a.Name())
	}
	return adapters
}
