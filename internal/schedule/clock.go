package schedule

import "time"

// Clock is the time base handed to shaders. Time spent paused is excluded, so
// the animation resumes where it stopped.
type Clock struct {
	start    time.Time
	pausedAt time.Time
	paused   bool
	excluded time.Duration
}

// NewClock starts a clock at now.
func NewClock(now time.Time) *Clock {
	return &Clock{start: now}
}

// Reset restarts the time base at zero. A paused clock stays paused.
func (c *Clock) Reset(now time.Time) {
	c.start = now
	c.excluded = 0
	if c.paused {
		c.pausedAt = now
	}
}

// Pause freezes the clock. Pausing a paused clock is a no-op.
func (c *Clock) Pause(now time.Time) {
	if c.paused {
		return
	}
	c.paused = true
	c.pausedAt = now
}

// Resume continues a paused clock, discarding the time spent paused.
func (c *Clock) Resume(now time.Time) {
	if !c.paused {
		return
	}
	if d := now.Sub(c.pausedAt); d > 0 {
		c.excluded += d
	}
	c.paused = false
}

// Paused reports whether the clock is frozen.
func (c *Clock) Paused() bool { return c.paused }

// Elapsed is wall time since the last reset minus time spent paused.
func (c *Clock) Elapsed(now time.Time) time.Duration {
	if c.paused {
		now = c.pausedAt
	}
	d := now.Sub(c.start) - c.excluded
	if d < 0 {
		return 0
	}
	return d
}

// Seconds is Elapsed in seconds, as passed to iTime.
func (c *Clock) Seconds(now time.Time) float64 {
	return c.Elapsed(now).Seconds()
}
