// Package calendar provides the simulated clock and the background runner
// that drives one lifecycle tick per in-world day.
package calendar

import (
	"log/slog"
	"sync"
	"time"

	"villagecore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.Calendar = (*Clock)(nil)

// Clock is the simulated calendar. It advances one day per tick, either
// manually or from the background runner. All methods are safe for
// concurrent use.
type Clock struct {
	mu      sync.Mutex
	date    domain.SimDate
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	log     *slog.Logger
}

// NewClock constructs a clock starting at the given date.
func NewClock(start domain.SimDate, log *slog.Logger) *Clock {
	if log == nil {
		log = slog.Default()
	}
	return &Clock{date: start, log: log}
}

// CurrentDate returns the current simulated date.
func (c *Clock) CurrentDate() domain.SimDate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.date
}

// Advance moves the calendar forward one day and returns the new date.
func (c *Clock) Advance() domain.SimDate {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.date = c.date.AddDays(1)
	return c.date
}

// SetDate forces the calendar to the given date. Used when restoring a
// world snapshot; never called while the runner is active.
func (c *Clock) SetDate(date domain.SimDate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.date = date
}

// Start launches the background runner, invoking fn once per interval with
// the freshly advanced date. Starting an already running clock is a no-op.
func (c *Clock) Start(interval time.Duration, fn func(domain.SimDate)) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.log.Warn("calendar runner already running")
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	stop := c.stopCh
	c.mu.Unlock()

	c.log.Info("starting calendar runner", "interval", interval)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				c.log.Info("calendar runner stopped")
				return
			case <-ticker.C:
				fn(c.Advance())
			}
		}
	}()
}

// Stop halts the background runner and waits for it to exit. Stopping a
// stopped clock is a no-op.
func (c *Clock) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()
	c.wg.Wait()
}

// Running reports whether the background runner is active.
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
