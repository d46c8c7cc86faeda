// Package clock abstracts time so that polling can be tested without sleeping.
package clock

import (
	"sync"
	"time"
)

// Clock is the subset of the time package the engine depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. If d <= 0, the channel receives immediately.
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// FakeClock is a deterministic Clock. Every After call advances the clock by
// d and fires immediately, so a polling loop runs to completion in virtual
// time without a driver goroutine.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waits   []time.Duration
}

// Fake returns a FakeClock starting at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now returns the virtual time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After advances the virtual time by d and returns an already-fired channel.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d > 0 {
		c.current = c.current.Add(d)
	}
	c.waits = append(c.waits, d)

	ch := make(chan time.Time, 1)
	ch <- c.current
	return ch
}

// Advance moves the virtual time forward without recording a wait.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Waits returns every duration passed to After, in call order.
func (c *FakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.waits))
	copy(out, c.waits)
	return out
}
