package schedule

import (
	"fmt"
	"time"
)

// BatteryAction is what happens to animated wallpapers on battery power.
type BatteryAction string

const (
	BatteryNone   BatteryAction = "none"
	BatteryReduce BatteryAction = "reduce"
	BatteryPause  BatteryAction = "pause"
)

const (
	DefaultFPS                 = 60
	DefaultBatteryFPS          = 15
	DefaultLowBatteryThreshold = 20
	maxFPS                     = 240
)

// Policy is the per-display power and cadence configuration.
type Policy struct {
	FPS                 int           `yaml:"fps"`
	PauseOnFullscreen   bool          `yaml:"pause_on_fullscreen"`
	PauseOnLidClosed    bool          `yaml:"pause_on_lid_closed"`
	PauseOnLowBattery   bool          `yaml:"pause_on_low_battery"`
	LowBatteryThreshold float64       `yaml:"low_battery_threshold"`
	OnBatteryAction     BatteryAction `yaml:"on_battery_action"`
	BatteryFPS          int           `yaml:"battery_fps"`
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		FPS:                 DefaultFPS,
		PauseOnFullscreen:   true,
		PauseOnLidClosed:    true,
		PauseOnLowBattery:   true,
		LowBatteryThreshold: DefaultLowBatteryThreshold,
		OnBatteryAction:     BatteryReduce,
		BatteryFPS:          DefaultBatteryFPS,
	}
}

// Validate checks value ranges.
func (p Policy) Validate() error {
	if p.FPS < 1 || p.FPS > maxFPS {
		return fmt.Errorf("fps must be within [1, %d], got %d", maxFPS, p.FPS)
	}
	if p.BatteryFPS < 1 || p.BatteryFPS > maxFPS {
		return fmt.Errorf("battery_fps must be within [1, %d], got %d", maxFPS, p.BatteryFPS)
	}
	if p.LowBatteryThreshold < 0 || p.LowBatteryThreshold > 100 {
		return fmt.Errorf("low_battery_threshold must be within [0, 100], got %v", p.LowBatteryThreshold)
	}
	switch p.OnBatteryAction {
	case BatteryNone, BatteryReduce, BatteryPause:
	default:
		return fmt.Errorf("on_battery_action must be none, reduce or pause, got %q", p.OnBatteryAction)
	}
	return nil
}

// Interval converts a frame rate into a frame interval.
func Interval(fps int) time.Duration {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return time.Second / time.Duration(fps)
}

// Signals are the inputs the governor decides on.
type Signals struct {
	// Static is set when the wallpaper is an image or a colour.
	Static bool
	// Empty is set when no wallpaper is assigned.
	Empty      bool
	Fullscreen bool
	Occluded   bool
	LidClosed  bool
	OnBattery  bool
	// BatteryPercent is only meaningful when HasBattery is set.
	BatteryPercent float64
	HasBattery     bool
	SurfaceFailed  bool
}

// Decision is the target state of a display.
type Decision struct {
	State    State
	Interval time.Duration
	Reason   Reason
}

// Decide maps a policy and the current signals to a target state. Occlusion
// and fullscreen pause regardless of power state; battery rules follow.
func Decide(p Policy, s Signals) Decision {
	paused := func(r Reason) Decision { return Decision{State: Paused, Reason: r} }

	switch {
	case s.Empty:
		return Decision{State: Stopped, Reason: ReasonNoWallpaper}
	case s.Static:
		return Decision{State: Stopped, Reason: ReasonStatic}
	case s.SurfaceFailed:
		return paused(ReasonSurfaceFailure)
	case s.Occluded:
		return paused(ReasonOccluded)
	case s.Fullscreen && p.PauseOnFullscreen:
		return paused(ReasonFullscreen)
	case s.LidClosed && p.PauseOnLidClosed:
		return paused(ReasonLidClosed)
	case s.OnBattery && s.HasBattery && p.PauseOnLowBattery && s.BatteryPercent <= p.LowBatteryThreshold:
		return paused(ReasonLowBattery)
	}

	if s.OnBattery {
		switch p.OnBatteryAction {
		case BatteryPause:
			return paused(ReasonOnBattery)
		case BatteryReduce:
			if p.BatteryFPS < p.FPS || p.FPS <= 0 {
				return Decision{State: Throttled, Interval: Interval(p.BatteryFPS), Reason: ReasonOnBattery}
			}
		}
	}
	return Decision{State: Active, Interval: Interval(p.FPS)}
}
