package render

import (
	"errors"
	"fmt"

	"linux-shaderpaper/internal/display"
)

// ErrUnknownDisplay is returned for operations on a display that is not attached.
var ErrUnknownDisplay = errors.New("display not attached")

// CompilationError is a shader compile or link failure. Line and Column refer
// to the shader file when they could be recovered, and are 0 otherwise.
type CompilationError struct {
	Path   string
	Line   int
	Column int
	Log    string
}

func (e *CompilationError) Error() string {
	where := e.Path
	if where == "" {
		where = "shader"
	}
	switch {
	case e.Line > 0 && e.Column > 0:
		where = fmt.Sprintf("%s:%d:%d", where, e.Line, e.Column)
	case e.Line > 0:
		where = fmt.Sprintf("%s:%d", where, e.Line)
	}
	return fmt.Sprintf("%s: compile failed: %s", where, e.Log)
}

// SurfaceError is a failure to acquire or present a display surface.
type SurfaceError struct {
	Display display.ID
	// Timeout means the surface was busy; the frame can be retried later.
	Timeout bool
	// Lost means the surface is unusable and must be recreated.
	Lost bool
	Err  error
}

func (e *SurfaceError) Error() string {
	kind := "failed"
	switch {
	case e.Timeout:
		kind = "timed out"
	case e.Lost:
		kind = "lost"
	}
	if e.Err != nil {
		return fmt.Sprintf("surface %s %s: %v", e.Display, kind, e.Err)
	}
	return fmt.Sprintf("surface %s %s", e.Display, kind)
}

func (e *SurfaceError) Unwrap() error { return e.Err }

// ResourceExhaustedError is an out-of-memory condition on the GPU.
type ResourceExhaustedError struct {
	Display  display.ID
	Resource string
	Err      error
}

func (e *ResourceExhaustedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: out of memory allocating %s: %v", e.Display, e.Resource, e.Err)
	}
	return fmt.Sprintf("%s: out of memory allocating %s", e.Display, e.Resource)
}

func (e *ResourceExhaustedError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a retryable surface timeout.
func IsTimeout(err error) bool {
	var se *SurfaceError
	return errors.As(err, &se) && se.Timeout
}

// IsLost reports whether err requires the surface to be recreated.
func IsLost(err error) bool {
	var se *SurfaceError
	return errors.As(err, &se) && se.Lost
}

// IsExhausted reports whether err is a resource exhaustion.
func IsExhausted(err error) bool {
	var re *ResourceExhaustedError
	return errors.As(err, &re)
}
