package schedule

import "time"

// Transition records a state change applied by a Scheduler.
type Transition struct {
	From, To State
	Reason   Reason
	Interval time.Duration
}

// Scheduler tracks the cadence and time base of one display. It is owned by
// the render loop and is not safe for concurrent use.
type Scheduler struct {
	state    State
	reason   Reason
	interval time.Duration
	clock    *Clock
	next     time.Time

	pending bool
	// pendingAt holds back a pending frame after a deferral.
	pendingAt time.Time
}

// New returns a stopped scheduler with its clock paused at now.
func New(now time.Time) *Scheduler {
	c := NewClock(now)
	c.Pause(now)
	return &Scheduler{state: Stopped, clock: c, interval: Interval(DefaultFPS)}
}

func (s *Scheduler) State() State            { return s.state }
func (s *Scheduler) Reason() Reason          { return s.reason }
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Elapsed is the shader time base at now.
func (s *Scheduler) Elapsed(now time.Time) time.Duration { return s.clock.Elapsed(now) }

// Apply moves the scheduler to the decided state. Entering Paused or Stopped
// freezes the clock; entering Active or Throttled resumes it. A new interval
// takes effect from the last frame so cadence stays even.
func (s *Scheduler) Apply(now time.Time, d Decision) (Transition, bool) {
	if d.Interval <= 0 {
		d.Interval = s.interval
	}
	if d.State == s.state && d.Reason == s.reason && (!d.State.Running() || d.Interval == s.interval) {
		return Transition{}, false
	}

	t := Transition{From: s.state, To: d.State, Reason: d.Reason, Interval: d.Interval}
	wasRunning := s.state.Running()

	s.state = d.State
	s.reason = d.Reason

	if d.State.Running() {
		s.clock.Resume(now)
		if !wasRunning {
			s.next = now
		} else if d.Interval != s.interval {
			s.next = s.next.Add(d.Interval - s.interval)
			if s.next.Before(now) {
				s.next = now
			}
		}
		s.interval = d.Interval
	} else {
		s.clock.Pause(now)
	}
	return t, true
}

// Update decides and applies in one step.
func (s *Scheduler) Update(now time.Time, p Policy, sig Signals) (Transition, bool) {
	return s.Apply(now, Decide(p, sig))
}

// ResetClock restarts the time base at zero, as on shader (re)load.
func (s *Scheduler) ResetClock(now time.Time) {
	s.clock.Reset(now)
}

// Invalidate requests one frame regardless of state, for example after a
// resize or when static content changes. A request already held back by
// Defer keeps its time.
func (s *Scheduler) Invalidate() {
	if !s.pending {
		s.pending = true
		s.pendingAt = time.Time{}
	}
}

// Due reports whether the display should be rendered at now.
func (s *Scheduler) Due(now time.Time) bool {
	if s.pending && !now.Before(s.pendingAt) {
		return true
	}
	return s.state.Running() && !now.Before(s.next)
}

// Next returns when the display next wants a frame. ok is false when nothing
// is scheduled.
func (s *Scheduler) Next() (at time.Time, ok bool) {
	switch {
	case s.pending && s.state.Running():
		if s.next.Before(s.pendingAt) {
			return s.next, true
		}
		return s.pendingAt, true
	case s.pending:
		return s.pendingAt, true
	case s.state.Running():
		return s.next, true
	}
	return time.Time{}, false
}

// MarkRendered records a presented frame and schedules the next one. Missed
// frames are skipped rather than replayed.
func (s *Scheduler) MarkRendered(now time.Time) {
	s.pending = false
	s.pendingAt = time.Time{}
	if !s.state.Running() {
		return
	}
	s.next = s.next.Add(s.interval)
	if !s.next.After(now) {
		s.next = now.Add(s.interval)
	}
}

// Defer postpones the next frame by d without touching the time base, as
// after a surface acquire timeout. A pending redraw is kept but waits too.
func (s *Scheduler) Defer(now time.Time, d time.Duration) {
	s.next = now.Add(d)
	if s.pending {
		s.pendingAt = s.next
	}
}
