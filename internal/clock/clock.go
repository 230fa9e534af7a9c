// Package clock abstracts time for the orchestration core so that
// cooldown and retention logic can be tested deterministically.
// Production code injects Real(); tests inject NewFake() and advance it
// manually.
package clock

import "time"

// Clock is the time surface the orchestrator depends on. It covers
// reading the current time and periodic ticking; one-shot timers are
// not needed because all delayed work in the core is tick-driven.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NewTicker returns a ticker delivering on C every d. Callers must
	// Stop it when done.
	NewTicker(d time.Duration) *Ticker
}

// Ticker wraps a periodic timer. Read ticks from C; call Stop to
// release resources. Stop does not close C.
type Ticker struct {
	C    <-chan time.Time
	stop func()
}

// Stop turns off the ticker.
func (t *Ticker) Stop() { t.stop() }

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}
