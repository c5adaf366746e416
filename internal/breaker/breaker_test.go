package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }
func newClock() *clock                   { return &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)} }

func TestTripsOnThreeErrorsInWindow(t *testing.T) {
	c := newClock()
	b := New(3, 600*time.Second, 3600*time.Second).WithClock(c.now)

	b.RecordError()
	c.advance(100 * time.Second)
	b.RecordError()
	assert.False(t, b.TooManyErrors())

	c.advance(100 * time.Second)
	b.RecordError()
	assert.True(t, b.TooManyErrors())
	assert.Equal(t, 3, b.Count())
}

func TestSpreadOutErrorsDoNotTrip(t *testing.T) {
	c := newClock()
	b := New(3, 600*time.Second, 3600*time.Second).WithClock(c.now)

	for i := 0; i < 3; i++ {
		b.RecordError()
		assert.False(t, b.TooManyErrors())
		c.advance(601 * time.Second)
	}
	assert.Equal(t, 0, b.Count())
}

func TestPruneOnEveryCheck(t *testing.T) {
	c := newClock()
	b := New(3, 600*time.Second, time.Hour).WithClock(c.now)

	b.RecordError()
	b.RecordError()
	b.RecordError()
	assert.True(t, b.TooManyErrors())

	c.advance(600 * time.Second)
	assert.False(t, b.TooManyErrors())
	assert.Equal(t, 0, b.Count())
}

func TestCooldownGate(t *testing.T) {
	c := newClock()
	g := NewCooldownGate(time.Hour).WithClock(c.now)

	assert.True(t, g.Ready())
	assert.True(t, g.LastTrade().IsZero())

	g.Mark()
	assert.False(t, g.Ready())
	assert.Equal(t, time.Hour, g.Remaining())

	c.advance(45 * time.Minute)
	assert.Equal(t, 15*time.Minute, g.Remaining())

	c.advance(15 * time.Minute)
	assert.True(t, g.Ready())
	assert.Equal(t, time.Duration(0), g.Remaining())
}
