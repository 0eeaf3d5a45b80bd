// Package clock is the tick source for the polled loop: a monotonic now and a
// blocking sleep.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// System is the wall clock.
type System struct{}

func (System) Now() time.Time        { return time.Now() }
func (System) Sleep(d time.Duration) { time.Sleep(d) }

// Manual is a clock that only moves when told to. Sleep advances it
// immediately, so code under test never blocks.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	slept  time.Duration
	sleeps int
}

// NewManual returns a clock stopped at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Sleep(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d < 0 {
		d = 0
	}
	m.now = m.now.Add(d)
	m.slept += d
	m.sleeps++
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Slept returns the total time passed to Sleep and the number of calls.
func (m *Manual) Slept() (time.Duration, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slept, m.sleeps
}
