package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"spot-cycle-trader/internal/logger"
	"spot-cycle-trader/internal/model"
	"spot-cycle-trader/internal/repository"
)

type Notifier interface {
	Notify(text string)
}

type StatsSource interface {
	Snapshot() repository.TradeStats
	Today() repository.DayStat
	Trend(days int) []repository.DayStat
}

type TradeSource interface {
	Since(t time.Time) []repository.TradeRecord
}

// Reporter sends a periodic summary of trading results.
type Reporter struct {
	stats    StatsSource
	trades   TradeSource
	notifier Notifier
	now      func() time.Time
	last     time.Time
}

func NewReporter(stats StatsSource, trades TradeSource, notifier Notifier) *Reporter {
	r := &Reporter{stats: stats, trades: trades, notifier: notifier, now: time.Now}
	r.last = r.now()
	return r
}

// Run sends a summary every interval until ctx ends.
func (r *Reporter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Send()
		}
	}
}

func (r *Reporter) Send() {
	msg := r.Summary()
	logger.Info("📊 Sending summary")
	r.notifier.Notify(msg)
}

// Summary covers the cycles since the previous summary and moves the window forward.
func (r *Reporter) Summary() string {
	now := r.now()
	recent := r.trades.Since(r.last)
	r.last = now

	var ok, failed int
	profit := decimal.Zero
	for _, t := range recent {
		switch t.Outcome {
		case model.OutcomeSuccess:
			ok++
			profit = profit.Add(t.RealizedProfit)
		case model.OutcomeFailed:
			failed++
		}
	}

	st := r.stats.Snapshot()
	today := r.stats.Today()

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Summary\n🗓️ %s\n", now.Format(time.DateOnly))
	fmt.Fprintf(&b, "✅ Successful cycles: %d\n", ok)
	fmt.Fprintf(&b, "⚠️ Errors: %d\n", failed)
	fmt.Fprintf(&b, "💰 Profit: %s USDT\n", profit.StringFixed(4))
	fmt.Fprintf(&b, "📅 Today: %d trades, %s USDT\n", today.Trades, today.Profit.StringFixed(4))
	fmt.Fprintf(&b, "📦 All time: %d/%d successful, %s USDT\n\n", st.SuccessfulTrades, st.TotalTrades, st.TotalProfit.StringFixed(4))
	b.WriteString(TrendText(r.stats.Trend(7)))
	return b.String()
}

// TrendText renders daily results with an arrow per day.
func TrendText(days []repository.DayStat) string {
	if len(days) == 0 {
		return "No data for the last 7 days."
	}
	lines := []string{"📈 Trend (last 7 days):"}
	for _, d := range days {
		arrow := "➖"
		switch d.Profit.Sign() {
		case 1:
			arrow = "🔺"
		case -1:
			arrow = "🔻"
		}
		lines = append(lines, fmt.Sprintf("%s: %s $%s (%d trades)", d.Date, arrow, d.Profit.StringFixed(3), d.Trades))
	}
	return strings.Join(lines, "\n")
}
