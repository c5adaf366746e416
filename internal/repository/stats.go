package repository

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"spot-cycle-trader/internal/logger"
)

const statsFile = "trade_stats.json"

type DailyStats struct {
	Trades int             `json:"trades"`
	Profit decimal.Decimal `json:"profit"`
}

type TradeStats struct {
	TotalTrades      int                   `json:"total_trades"`
	SuccessfulTrades int                   `json:"successful_trades"`
	TotalProfit      decimal.Decimal       `json:"total_profit"`
	Daily            map[string]DailyStats `json:"daily"`
}

// DayStat is one entry of a trend, oldest first.
type DayStat struct {
	Date   string          `json:"date"`
	Trades int             `json:"trades"`
	Profit decimal.Decimal `json:"profit"`
}

// StatsRepository keeps running totals and per-day profit. Only successful trades add profit.
type StatsRepository struct {
	storage *Storage
	stats   TradeStats
	mu      sync.RWMutex
	now     func() time.Time
}

func NewStatsRepository(storage *Storage) *StatsRepository {
	return &StatsRepository{
		storage: storage,
		stats:   TradeStats{Daily: map[string]DailyStats{}},
		now:     time.Now,
	}
}

func (r *StatsRepository) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.storage.Read(statsFile, &r.stats); err != nil {
		return err
	}
	if r.stats.Daily == nil {
		r.stats.Daily = map[string]DailyStats{}
	}
	return nil
}

func (r *StatsRepository) RecordTrade(profit decimal.Decimal, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	today := r.now().Format(time.DateOnly)
	day := r.stats.Daily[today]

	r.stats.TotalTrades++
	day.Trades++
	if success {
		r.stats.SuccessfulTrades++
		r.stats.TotalProfit = r.stats.TotalProfit.Add(profit)
		day.Profit = day.Profit.Add(profit)
	}
	r.stats.Daily[today] = day

	if err := r.storage.Write(statsFile, r.stats); err != nil {
		logger.Error("Failed to save trade stats", "error", err)
	}
}

func (r *StatsRepository) Snapshot() TradeStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := r.stats
	out.Daily = make(map[string]DailyStats, len(r.stats.Daily))
	for k, v := range r.stats.Daily {
		out.Daily[k] = v
	}
	return out
}

// Today returns the entry for the current day.
func (r *StatsRepository) Today() DayStat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	today := r.now().Format(time.DateOnly)
	day := r.stats.Daily[today]
	return DayStat{Date: today, Trades: day.Trades, Profit: day.Profit}
}

// Trend returns the last days recorded days, oldest first.
func (r *StatsRepository) Trend(days int) []DayStat {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dates := make([]string, 0, len(r.stats.Daily))
	for k := range r.stats.Daily {
		dates = append(dates, k)
	}
	sort.Strings(dates)
	if days >= 0 && len(dates) > days {
		dates = dates[len(dates)-days:]
	}

	out := make([]DayStat, 0, len(dates))
	for _, d := range dates {
		v := r.stats.Daily[d]
		out = append(out, DayStat{Date: d, Trades: v.Trades, Profit: v.Profit})
	}
	return out
}
