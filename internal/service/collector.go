package service

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"
	"time"

	"spot-cycle-trader/internal/logger"
	"spot-cycle-trader/internal/model"
)

var journalHeader = []string{
	"finished_at", "exchange", "symbol", "outcome", "state",
	"buy_order_id", "buy_price", "buy_qty",
	"sell_order_id", "sell_price", "sell_qty",
	"filled_qty", "filled_price", "realized_profit", "profit_from_fills",
	"duration_s", "reason",
}

// CycleJournal appends one CSV row per trade cycle.
type CycleJournal struct {
	path string
	mu   sync.Mutex
}

func NewCycleJournal(dir string) *CycleJournal {
	return &CycleJournal{path: filepath.Join(dir, "cycles.csv")}
}

func (c *CycleJournal) Path() string { return c.path }

func (c *CycleJournal) RecordCycle(res model.TradeCycleResult) {
	record := []string{
		res.FinishedAt.Format(time.RFC3339),
		res.Exchange,
		res.Symbol,
		string(res.Outcome),
		string(res.State),
	}
	record = append(record, orderColumns(res.BuyOrder)...)
	record = append(record, orderColumns(res.SellOrder)...)
	profitFromFills := "false"
	if res.ProfitFromFills {
		profitFromFills = "true"
	}
	record = append(record,
		res.FilledQuantity.String(),
		res.FilledPrice.String(),
		res.RealizedProfit.StringFixed(8),
		profitFromFills,
		res.FinishedAt.Sub(res.StartedAt).Truncate(time.Second).String(),
		res.Reason,
	)
	c.appendToCSV(record)
}

func orderColumns(o *model.Order) []string {
	if o == nil {
		return []string{"", "", ""}
	}
	return []string{o.ID, o.Price.String(), o.Quantity.String()}
}

func (c *CycleJournal) appendToCSV(record []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		logger.Error("Failed to create journal dir", "error", err)
		return
	}
	fileExists := false
	if _, err := os.Stat(c.path); err == nil {
		fileExists = true
	}

	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Error("Failed to open CSV", "error", err)
		return
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if !fileExists {
		if err := w.Write(journalHeader); err != nil {
			logger.Error("Failed to write CSV header", "error", err)
		}
	}
	if err := w.Write(record); err != nil {
		logger.Error("Failed to write CSV record", "error", err)
	}
}
