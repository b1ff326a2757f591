// Package timeutil provides a testable abstraction over the time operations
// used by the control loop and the command channel.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the time source used by loops that tick, sleep or back off.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	Sleep(d time.Duration)
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the part of time.Ticker that Clock users need.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration        { return time.Since(t) }
func (RealClock) Sleep(d time.Duration)                  { time.Sleep(d) }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NewTicker returns a ticker backed by time.Ticker.
func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time { return t.ticker.C }
func (t *realTicker) Stop()               { t.ticker.Stop() }

// MockClock is a manually controlled clock for testing. Channels returned by
// After and NewTicker fire only when Advance moves the clock past their
// deadline.
type MockClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	alarms []*alarm
}

// alarm is a pending After channel, or a ticker when period is non-zero.
type alarm struct {
	due     time.Time
	period  time.Duration
	ch      chan time.Time
	stopped bool
}

// NewMockClock creates a new MockClock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Sleep records d and advances the clock by it.
func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	c.Advance(d)
}

// Sleeps returns all recorded sleep durations.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// After returns a channel that receives the time once the clock has been
// advanced by at least d. A non-positive d fires immediately.
func (c *MockClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := &alarm{due: c.now.Add(d), ch: make(chan time.Time, 1)}
	if d <= 0 {
		a.ch <- c.now
		return a.ch
	}
	c.alarms = append(c.alarms, a)
	return a.ch
}

// Waiters reports how many After channels are still pending.
func (c *MockClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, a := range c.alarms {
		if a.period == 0 {
			n++
		}
	}
	return n
}

// NewTicker returns a *MockTicker. Like time.Ticker it drops ticks the
// reader has not taken.
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := &alarm{due: c.now.Add(d), period: d, ch: make(chan time.Time, 1)}
	c.alarms = append(c.alarms, a)
	return &MockTicker{clock: c, alarm: a}
}

// Advance moves the clock forward and fires every alarm that is due.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)

	kept := c.alarms[:0]
	for _, a := range c.alarms {
		if a.stopped {
			continue
		}
		if c.now.Before(a.due) {
			kept = append(kept, a)
			continue
		}
		select {
		case a.ch <- c.now:
		default:
		}
		if a.period > 0 {
			a.due = c.now.Add(a.period)
			kept = append(kept, a)
		}
	}
	clear(c.alarms[len(kept):])
	c.alarms = kept
}

// MockTicker is the Ticker returned by MockClock.NewTicker.
type MockTicker struct {
	clock *MockClock
	alarm *alarm
}

func (t *MockTicker) C() <-chan time.Time { return t.alarm.ch }

// Stop turns off the ticker. A tick already delivered stays readable.
func (t *MockTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.alarm.stopped = true
}

// Trigger delivers a tick at now unless one is already pending.
func (t *MockTicker) Trigger(now time.Time) {
	select {
	case t.alarm.ch <- now:
	default:
	}
}
