package schedule

// State is the render state of one display.
type State int

const (
	// Stopped displays have no running animation: static content, detached, or no wallpaper.
	Stopped State = iota
	// Active displays render at the configured frame rate.
	Active
	// Throttled displays render at the reduced battery frame rate.
	Throttled
	// Paused displays keep their last frame on screen and the time base is frozen.
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Active:
		return "active"
	case Throttled:
		return "throttled"
	case Paused:
		return "paused"
	}
	return "unknown"
}

// Running reports whether the state renders on a cadence.
func (s State) Running() bool { return s == Active || s == Throttled }

// Reason names why a display is not Active.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonStatic         Reason = "static"
	ReasonNoWallpaper    Reason = "no-wallpaper"
	ReasonFullscreen     Reason = "fullscreen"
	ReasonOccluded       Reason = "occluded"
	ReasonLidClosed      Reason = "lid-closed"
	ReasonLowBattery     Reason = "low-battery"
	ReasonOnBattery      Reason = "on-battery"
	ReasonSurfaceFailure Reason = "surface-failure"
)
