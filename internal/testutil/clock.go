package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant a StepClock reports.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// StepClock is a deterministic wall clock for tests. Each call to Now
// advances it by one second, so recorded timestamps are predictable and
// strictly increasing.
//
// Thread-safety: all methods are safe for concurrent use.
type StepClock struct {
	mu    sync.Mutex
	steps int64
}

// NewStepClock creates a clock whose first Now returns Epoch.
func NewStepClock() *StepClock {
	return &StepClock{}
}

// Now returns the current instant and advances the clock.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := Epoch.Add(time.Duration(c.steps) * time.Second)
	c.steps++
	return t
}

// Reset rewinds the clock so the next Now returns Epoch again.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = 0
}
