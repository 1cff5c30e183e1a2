// Package power reports the machine's power state: AC or battery, battery
// level and lid position.
package power

import (
	"fmt"
	"sync"
)

// State is a snapshot of the power situation.
type State struct {
	OnBattery bool
	LidClosed bool
	// HasBattery is false on desktops; Percentage is meaningless then.
	HasBattery bool
	Percentage float64
}

func (s State) String() string {
	src := "ac"
	if s.OnBattery {
		src = "battery"
	}
	lid := "open"
	if s.LidClosed {
		lid = "closed"
	}
	if !s.HasBattery {
		return fmt.Sprintf("%s, lid %s, no battery", src, lid)
	}
	return fmt.Sprintf("%s %.0f%%, lid %s", src, s.Percentage, lid)
}

// Source delivers power state changes.
type Source interface {
	Current() State
	// Changes delivers the latest state after each change. Intermediate
	// states may be dropped. It is closed by Close.
	Changes() <-chan State
	Close() error
}

// offer replaces any undelivered state in ch with s.
func offer(ch chan State, s State) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Static is a Source whose state only changes through Set. It stands in on
// machines without UPower and in tests.
type Static struct {
	mu      sync.Mutex
	state   State
	changes chan State
	closed  bool
}

func NewStatic(s State) *Static {
	return &Static{state: s, changes: make(chan State, 1)}
}

func (s *Static) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Static) Changes() <-chan State { return s.changes }

// Set changes the state and notifies the listener when it differs.
func (s *Static) Set(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || st == s.state {
		return
	}
	s.state = st
	offer(s.changes, st)
}

func (s *Static) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.changes)
	}
	return nil
}
