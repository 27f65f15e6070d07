// Package throttle provides a coalescing rate limiter for asynchronous
// side-effecting actions.
package throttle

import (
	"sync"
	"time"
)

const (
	// DefaultFirstDelay is how long the first Invoke after an idle period
	// waits before the action runs, so a burst of calls lands in one run.
	DefaultFirstDelay = 10 * time.Millisecond

	// DefaultGap is the cooldown between the end of one run and the start
	// of a trailing run.
	DefaultGap = 200 * time.Millisecond
)

// Coalescer rate-limits an action. Any number of Invoke calls during one
// cycle collapse into at most one trailing run, and the action never runs
// concurrently with itself.
type Coalescer struct {
	mu         sync.Mutex
	action     func()
	firstDelay time.Duration
	gap        time.Duration

	busy     bool // a run or its cooldown is in flight
	runAgain bool
	timer    *time.Timer
	stopped  bool
}

// New creates a coalescer around action with the default delays
func New(action func()) *Coalescer {
	return NewWithDelays(action, DefaultFirstDelay, DefaultGap)
}

// NewWithDelays creates a coalescer with explicit delays
func NewWithDelays(action func(), firstDelay, gap time.Duration) *Coalescer {
	return &Coalescer{
		action:     action,
		firstDelay: firstDelay,
		gap:        gap,
	}
}

// Invoke requests a run of the action. From idle it schedules one after the
// first-delay; while a run or cooldown is pending it only sets a flag, so a
// burst of K calls produces at most one extra run, never K.
func (c *Coalescer) Invoke() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	if c.busy {
		c.runAgain = true
		return
	}
	c.busy = true
	c.timer = time.AfterFunc(c.firstDelay, c.run)
}

// Stop cancels any pending run. A run already executing finishes but no
// trailing run is scheduled afterwards.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	c.runAgain = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// run executes the action and then enters the cooldown period. Invokes that
// arrive while the action runs or while the cooldown is pending coalesce
// into at most one trailing run.
func (c *Coalescer) run() {
	// The deferred part must execute even if the action panics, otherwise
	// the coalescer wedges with busy set forever.
	defer func() {
		// Swallow the panic; the action is a rendering flush and must not
		// kill the process. Cooldown scheduling still happens.
		_ = recover()

		c.mu.Lock()
		defer c.mu.Unlock()

		if c.stopped {
			c.busy = false
			return
		}
		c.timer = time.AfterFunc(c.gap, c.cooldownDone)
	}()

	c.action()
}

// cooldownDone fires gap after a run completes: run once more if anything
// was coalesced during the cycle, otherwise go idle
func (c *Coalescer) cooldownDone() {
	c.mu.Lock()
	if c.stopped || !c.runAgain {
		c.busy = false
		c.runAgain = false
		c.timer = nil
		c.mu.Unlock()
		return
	}
	c.runAgain = false
	c.mu.Unlock()

	c.run()
}
