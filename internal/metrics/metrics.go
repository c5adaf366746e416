package metrics

import (
	"sync"
	"time"

	"spot-cycle-trader/internal/logger"
	"spot-cycle-trader/internal/model"
)

// Tracker aggregates trade-cycle durations and outcomes for the status API.
type Tracker struct {
	mu sync.Mutex

	MinTime    time.Duration
	MaxTime    time.Duration
	TotalTime  time.Duration
	CycleCount int64
	BatchCount int
	Outcomes   map[model.Outcome]int64
	StartTime  time.Time

	batchSize int
}

// Snapshot is a point-in-time copy of the tracker, shaped for JSON.
type Snapshot struct {
	Cycles  int64  `json:"cycles"`
	Success int64  `json:"success"`
	Aborted int64  `json:"aborted"`
	Failed  int64  `json:"failed"`
	Min     string `json:"min"`
	Max     string `json:"max"`
	Avg     string `json:"avg"`
	Uptime  string `json:"uptime"`
}

func NewTracker() *Tracker {
	return &Tracker{
		MinTime:   time.Duration(1<<63 - 1),
		Outcomes:  make(map[model.Outcome]int64),
		StartTime: time.Now(),
		batchSize: 50,
	}
}

func (t *Tracker) TrackCycle(duration time.Duration, outcome model.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.CycleCount++
	t.BatchCount++
	t.TotalTime += duration
	t.Outcomes[outcome]++

	if duration < t.MinTime {
		t.MinTime = duration
	}
	if duration > t.MaxTime {
		t.MaxTime = duration
	}

	if t.BatchCount >= t.batchSize {
		logger.Info("Cycle Metrics",
			"cycles", t.CycleCount,
			"min", t.MinTime,
			"max", t.MaxTime,
			"avg", t.TotalTime/time.Duration(t.CycleCount),
			"success", t.Outcomes[model.OutcomeSuccess],
			"failed", t.Outcomes[model.OutcomeFailed],
		)
		t.BatchCount = 0
	}
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		Cycles:  t.CycleCount,
		Success: t.Outcomes[model.OutcomeSuccess],
		Aborted: t.Outcomes[model.OutcomeAborted],
		Failed:  t.Outcomes[model.OutcomeFailed],
		Uptime:  time.Since(t.StartTime).Truncate(time.Second).String(),
	}
	if t.CycleCount > 0 {
		s.Min = t.MinTime.String()
		s.Max = t.MaxTime.String()
		s.Avg = (t.TotalTime / time.Duration(t.CycleCount)).String()
	}
	return s
}
