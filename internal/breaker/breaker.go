package breaker

import (
	"sync"
	"time"
)

// CircuitBreaker counts failures in a trailing window. Once Threshold failures sit inside
// Window, trading pauses for Cooldown. It is global, not per venue.
type CircuitBreaker struct {
	Threshold int
	Window    time.Duration
	Cooldown  time.Duration

	mu     sync.Mutex
	errors []time.Time
	now    func() time.Time
}

func New(threshold int, window, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		Threshold: threshold,
		Window:    window,
		Cooldown:  cooldown,
		now:       time.Now,
	}
}

// WithClock replaces the time source.
func (b *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	b.now = now
	return b
}

func (b *CircuitBreaker) RecordError() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errors = append(b.errors, b.now())
}

// TooManyErrors prunes entries older than Window and reports whether the rest reach Threshold.
func (b *CircuitBreaker) TooManyErrors() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune()
	return len(b.errors) >= b.Threshold
}

// Count is the number of errors inside the window.
func (b *CircuitBreaker) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune()
	return len(b.errors)
}

func (b *CircuitBreaker) prune() {
	cutoff := b.now().Add(-b.Window)
	keep := b.errors[:0]
	for _, t := range b.errors {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	b.errors = keep
}

// CooldownGate enforces a minimum gap between completed trades.
type CooldownGate struct {
	Interval time.Duration

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewCooldownGate(interval time.Duration) *CooldownGate {
	return &CooldownGate{Interval: interval, now: time.Now}
}

func (g *CooldownGate) WithClock(now func() time.Time) *CooldownGate {
	g.now = now
	return g
}

// Mark records a trade at the current time.
func (g *CooldownGate) Mark() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = g.now()
}

func (g *CooldownGate) Ready() bool {
	return g.Remaining() <= 0
}

// Remaining is how long until the next trade is allowed.
func (g *CooldownGate) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last.IsZero() {
		return 0
	}
	left := g.Interval - g.now().Sub(g.last)
	if left < 0 {
		return 0
	}
	return left
}

// LastTrade is zero until the first Mark.
func (g *CooldownGate) LastTrade() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}
