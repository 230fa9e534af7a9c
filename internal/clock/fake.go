package clock

import (
	"sync"
	"time"
)

// Fake is a deterministic Clock for tests. Time only moves when Advance
// or Set is called. Tickers created from a Fake never fire on their own;
// tests drive tick-handling code directly and use the Fake purely for
// Now-based logic (cooldowns, retention windows, timestamps).
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake clock starting at a fixed, arbitrary instant.
func NewFake() *Fake {
	return &Fake{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the fake's current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake's time forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set jumps the fake's time to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// NewTicker returns a ticker whose channel never fires. Tests exercising
// periodic behavior call the tick handlers directly instead of waiting
// on wall-clock ticks.
func (f *Fake) NewTicker(time.Duration) *Ticker {
	return &Ticker{C: make(chan time.Time), stop: func() {}}
}
