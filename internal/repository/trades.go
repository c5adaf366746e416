package repository

import (
	"fmt"
	"sync"
	"time"

	"spot-cycle-trader/internal/logger"
	"spot-cycle-trader/internal/model"
)

const (
	tradesFile  = "trades.json"
	historyFile = "trades_history.json"

	defaultMaxActive = 500
)

// TradeRecord is a persisted cycle result.
type TradeRecord struct {
	ID string `json:"id"`
	model.TradeCycleResult
}

// TradeRepository keeps the most recent cycles in trades.json and moves older ones to
// trades_history.json.
type TradeRepository struct {
	storage   *Storage
	trades    []TradeRecord
	maxActive int
	mu        sync.RWMutex
}

func NewTradeRepository(storage *Storage) *TradeRepository {
	return &TradeRepository{
		storage:   storage,
		trades:    []TradeRecord{},
		maxActive: defaultMaxActive,
	}
}

func (r *TradeRepository) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.storage.Exists(tradesFile) {
		logger.Info("trades.json not found, creating empty")
		return r.storage.Write(tradesFile, []TradeRecord{})
	}
	if err := r.storage.Read(tradesFile, &r.trades); err != nil {
		return err
	}
	if n := r.archiveOverflow(); n > 0 {
		logger.Info("🧹 Archived old trades", "count", n)
	}
	return nil
}

// RecordCycle appends a result. Write failures are logged, the trading loop never sees them.
func (r *TradeRepository) RecordCycle(res model.TradeCycleResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := TradeRecord{
		ID:               fmt.Sprintf("%s-%d", res.Exchange, res.StartedAt.UnixNano()),
		TradeCycleResult: res,
	}
	r.trades = append(r.trades, rec)
	r.archiveOverflow()
	if err := r.storage.Write(tradesFile, r.trades); err != nil {
		logger.Error("Failed to save trade", "id", rec.ID, "error", err)
	}
}

// archiveOverflow moves the oldest records beyond maxActive to the history file.
// On a history failure the records stay active.
func (r *TradeRepository) archiveOverflow() int {
	extra := len(r.trades) - r.maxActive
	if extra <= 0 {
		return 0
	}

	var history []TradeRecord
	if err := r.storage.Read(historyFile, &history); err != nil {
		logger.Error("❌ Archive failed: could not read history file", "error", err)
		return 0
	}
	history = append(history, r.trades[:extra]...)
	if err := r.storage.Write(historyFile, history); err != nil {
		logger.Error("❌ Archive failed: could not write history file", "error", err)
		return 0
	}

	r.trades = append([]TradeRecord(nil), r.trades[extra:]...)
	return extra
}

// Recent returns up to limit records, newest first.
func (r *TradeRepository) Recent(limit int) []TradeRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.trades) {
		limit = len(r.trades)
	}
	out := make([]TradeRecord, 0, limit)
	for i := len(r.trades) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.trades[i])
	}
	return out
}

// Since returns active records finished after t, oldest first.
func (r *TradeRepository) Since(t time.Time) []TradeRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []TradeRecord
	for _, tr := range r.trades {
		if tr.FinishedAt.After(t) {
			out = append(out, tr)
		}
	}
	return out
}
