package timectrl

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SimClock gives read access to simulation time and the tick counter. The
// HTTP observer reads the run's clock through it.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
	// Ticks returns the number of completed ticks.
	Ticks() int
}

// Mode describes how the Controller paces ticks.
type Mode int

const (
	// RealTime waits one Tick of wall-clock time between ticks.
	RealTime Mode = iota
	// Accelerated fires ticks back to back while still advancing
	// simulation time by Tick each time.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts "realtime" / "real-time" and "accelerated".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "realtime", "real-time", "real_time":
		return RealTime, nil
	case "accelerated", "":
		return Accelerated, nil
	default:
		return 0, fmt.Errorf("unknown clock mode %q", s)
	}
}

// Listener is invoked once per tick. A non-nil error stops the controller.
type Listener func(tick int, simTime time.Time) error

// Controller drives simulation ticks and notifies registered listeners.
type Controller struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	ticks       int

	listeners []Listener
}

// NewController constructs a controller positioned at start.
func NewController(start time.Time, tick time.Duration, mode Mode) *Controller {
	return &Controller{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now implements SimClock.
func (c *Controller) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentTime
}

// Ticks implements SimClock.
func (c *Controller) Ticks() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ticks
}

// AddListener registers a callback invoked on every tick, in registration order.
func (c *Controller) AddListener(fn Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Run fires ticks synchronously until ticks have completed (ticks <= 0 means
// until ctx is done), a listener fails, or ctx is cancelled. Cancellation is
// reported as ctx.Err().
func (c *Controller) Run(ctx context.Context, ticks int) error {
	var wait <-chan time.Time
	if c.Mode == RealTime && c.Tick > 0 {
		ticker := time.NewTicker(c.Tick)
		defer ticker.Stop()
		wait = ticker.C
	}

	for n := 0; ticks <= 0 || n < ticks; n++ {
		if wait != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-wait:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		c.mu.Lock()
		c.currentTime = c.currentTime.Add(c.Tick)
		c.ticks++
		tick, simTime := c.ticks, c.currentTime
		listeners := append([]Listener(nil), c.listeners...)
		c.mu.Unlock()

		for _, fn := range listeners {
			if err := fn(tick, simTime); err != nil {
				return fmt.Errorf("tick %d: %w", tick, err)
			}
		}
	}
	return nil
}
