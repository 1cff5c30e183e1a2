package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestDecide(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		name   string
		policy func(*Policy)
		sig    Signals
		state  State
		reason Reason
	}{
		{"ac power", nil, Signals{}, Active, ReasonNone},
		{"static content", nil, Signals{Static: true, OnBattery: true}, Stopped, ReasonStatic},
		{"no wallpaper", nil, Signals{Empty: true}, Stopped, ReasonNoWallpaper},
		{"fullscreen", nil, Signals{Fullscreen: true}, Paused, ReasonFullscreen},
		{"fullscreen ignored", func(p *Policy) { p.PauseOnFullscreen = false }, Signals{Fullscreen: true}, Active, ReasonNone},
		{"occluded beats power", func(p *Policy) { p.OnBatteryAction = BatteryNone }, Signals{Occluded: true}, Paused, ReasonOccluded},
		{"lid closed", nil, Signals{LidClosed: true}, Paused, ReasonLidClosed},
		{"lid closed ignored", func(p *Policy) { p.PauseOnLidClosed = false }, Signals{LidClosed: true}, Active, ReasonNone},
		{"low battery", nil, Signals{OnBattery: true, HasBattery: true, BatteryPercent: 12}, Paused, ReasonLowBattery},
		{"low battery while charging", nil, Signals{HasBattery: true, BatteryPercent: 12}, Active, ReasonNone},
		{"battery above threshold", nil, Signals{OnBattery: true, HasBattery: true, BatteryPercent: 80}, Throttled, ReasonOnBattery},
		{"battery pause", func(p *Policy) { p.OnBatteryAction = BatteryPause }, Signals{OnBattery: true}, Paused, ReasonOnBattery},
		{"battery none", func(p *Policy) { p.OnBatteryAction = BatteryNone }, Signals{OnBattery: true}, Active, ReasonNone},
		{"battery fps not lower", func(p *Policy) { p.FPS = 10 }, Signals{OnBattery: true}, Active, ReasonNone},
		{"surface failure", nil, Signals{SurfaceFailed: true}, Paused, ReasonSurfaceFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pol := p
			if tt.policy != nil {
				tt.policy(&pol)
			}
			d := Decide(pol, tt.sig)
			assert.Equal(t, tt.state, d.State)
			assert.Equal(t, tt.reason, d.Reason)
			if d.State.Running() {
				assert.Positive(t, d.Interval)
			}
		})
	}
}

func TestPolicy_Validate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	bad := DefaultPolicy()
	bad.FPS = 0
	assert.Error(t, bad.Validate())

	bad = DefaultPolicy()
	bad.OnBatteryAction = "explode"
	assert.Error(t, bad.Validate())

	bad = DefaultPolicy()
	bad.LowBatteryThreshold = 101
	assert.Error(t, bad.Validate())
}

func TestClock_PauseExcludedFromElapsed(t *testing.T) {
	s := New(t0)
	_, changed := s.Apply(t0, Decide(DefaultPolicy(), Signals{}))
	require.True(t, changed)

	rendering := 5 * time.Second
	beforePause := s.Elapsed(t0.Add(rendering))
	assert.Equal(t, rendering, beforePause)

	pauseAt := t0.Add(rendering)
	_, changed = s.Update(pauseAt, DefaultPolicy(), Signals{Fullscreen: true})
	require.True(t, changed)
	assert.Equal(t, Paused, s.State())

	d := 10 * time.Minute
	assert.Equal(t, beforePause, s.Elapsed(pauseAt.Add(d/2)), "time frozen while paused")

	resumeAt := pauseAt.Add(d)
	_, changed = s.Update(resumeAt, DefaultPolicy(), Signals{})
	require.True(t, changed)
	assert.Equal(t, Active, s.State())
	assert.Equal(t, beforePause, s.Elapsed(resumeAt))

	more := 2 * time.Second
	assert.Equal(t, beforePause+more, s.Elapsed(resumeAt.Add(more)))
}

func TestClock_RepeatedPauses(t *testing.T) {
	c := NewClock(t0)
	now := t0
	var rendered time.Duration
	for i := 0; i < 5; i++ {
		now = now.Add(time.Second)
		rendered += time.Second
		c.Pause(now)
		c.Pause(now.Add(time.Second))
		now = now.Add(time.Duration(i+1) * time.Minute)
		c.Resume(now)
		c.Resume(now.Add(time.Second))
	}
	assert.Equal(t, rendered, c.Elapsed(now))
}

func TestClock_Reset(t *testing.T) {
	c := NewClock(t0)
	c.Pause(t0.Add(time.Second))
	c.Resume(t0.Add(time.Minute))
	c.Reset(t0.Add(2 * time.Minute))
	assert.Equal(t, time.Duration(0), c.Elapsed(t0.Add(2*time.Minute)))
	assert.Equal(t, 3*time.Second, c.Elapsed(t0.Add(2*time.Minute+3*time.Second)))
}

func TestScheduler_ThrottleOnBattery(t *testing.T) {
	p := DefaultPolicy()
	s := New(t0)
	s.Update(t0, p, Signals{})
	require.Equal(t, Active, s.State())
	assert.Equal(t, 16*time.Millisecond, s.Interval().Truncate(time.Millisecond))

	now := t0.Add(3 * time.Second)
	before := s.Elapsed(now)

	tr, changed := s.Update(now, p, Signals{OnBattery: true, HasBattery: true, BatteryPercent: 75})
	require.True(t, changed)
	assert.Equal(t, Active, tr.From)
	assert.Equal(t, Throttled, tr.To)
	assert.Equal(t, ReasonOnBattery, tr.Reason)
	assert.Equal(t, 66*time.Millisecond, s.Interval().Truncate(time.Millisecond))

	assert.Equal(t, before, s.Elapsed(now), "throttling does not reset time")
	assert.Equal(t, before+time.Second, s.Elapsed(now.Add(time.Second)))

	_, changed = s.Update(now.Add(time.Second), p, Signals{})
	require.True(t, changed)
	assert.Equal(t, Active, s.State())
	assert.Equal(t, before+time.Second, s.Elapsed(now.Add(time.Second)))
}

func TestScheduler_SameDecisionIsNoop(t *testing.T) {
	s := New(t0)
	s.Update(t0, DefaultPolicy(), Signals{})
	_, changed := s.Update(t0.Add(time.Second), DefaultPolicy(), Signals{})
	assert.False(t, changed)
}

func TestScheduler_Cadence(t *testing.T) {
	p := DefaultPolicy()
	p.FPS = 10
	s := New(t0)
	s.Update(t0, p, Signals{})

	assert.True(t, s.Due(t0))
	s.MarkRendered(t0)
	assert.False(t, s.Due(t0.Add(50*time.Millisecond)))
	next, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, t0.Add(100*time.Millisecond), next)

	// A late frame skips missed slots instead of bursting.
	late := t0.Add(450 * time.Millisecond)
	assert.True(t, s.Due(late))
	s.MarkRendered(late)
	next, _ = s.Next()
	assert.Equal(t, late.Add(100*time.Millisecond), next)
}

func TestScheduler_StoppedAndInvalidate(t *testing.T) {
	s := New(t0)
	s.Update(t0, DefaultPolicy(), Signals{Static: true})
	assert.Equal(t, Stopped, s.State())
	assert.False(t, s.Due(t0.Add(time.Hour)))
	_, ok := s.Next()
	assert.False(t, ok)

	s.Invalidate()
	assert.True(t, s.Due(t0))
	_, ok = s.Next()
	assert.True(t, ok)
	s.MarkRendered(t0)
	assert.False(t, s.Due(t0.Add(time.Hour)))
}

func TestScheduler_Defer(t *testing.T) {
	s := New(t0)
	s.Update(t0, DefaultPolicy(), Signals{})
	s.Defer(t0, 250*time.Millisecond)
	assert.False(t, s.Due(t0.Add(100*time.Millisecond)))
	assert.True(t, s.Due(t0.Add(250*time.Millisecond)))
}

func TestScheduler_DeferHoldsPendingRedraw(t *testing.T) {
	s := New(t0)
	s.Update(t0, DefaultPolicy(), Signals{Static: true})
	s.Invalidate()
	require.True(t, s.Due(t0))

	for i := 0; i < 3; i++ {
		s.Defer(t0, 100*time.Millisecond)
		assert.False(t, s.Due(t0), "a deferred redraw waits")
		next, ok := s.Next()
		require.True(t, ok)
		assert.Equal(t, t0.Add(100*time.Millisecond), next)
	}

	// Another request does not pull the deferred one forward.
	s.Invalidate()
	assert.False(t, s.Due(t0.Add(50*time.Millisecond)))
	assert.True(t, s.Due(t0.Add(100*time.Millisecond)))

	s.MarkRendered(t0.Add(100 * time.Millisecond))
	assert.False(t, s.Due(t0.Add(time.Hour)))
	s.Invalidate()
	assert.True(t, s.Due(t0.Add(100*time.Millisecond)))
}

func TestScheduler_DeferredRedrawWhileRunning(t *testing.T) {
	p := DefaultPolicy()
	p.FPS = 10
	s := New(t0)
	s.Update(t0, p, Signals{})
	s.Invalidate()
	s.Defer(t0, 30*time.Millisecond)

	assert.False(t, s.Due(t0))
	next, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, t0.Add(30*time.Millisecond), next)
}

func TestScheduler_IndependentDisplays(t *testing.T) {
	p := DefaultPolicy()
	a, b := New(t0), New(t0)
	a.Update(t0, p, Signals{OnBattery: true})
	b.Update(t0, p, Signals{})
	assert.Equal(t, Throttled, a.State())
	assert.Equal(t, Active, b.State())
	assert.NotEqual(t, a.Interval(), b.Interval())
}
