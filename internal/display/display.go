package display

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ID is the stable identity of a display, the output name where available.
type ID string

// Geometry is a display's position and size in the virtual screen.
type Geometry struct {
	X      int     `yaml:"x"`
	Y      int     `yaml:"y"`
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
	Scale  float64 `yaml:"scale"`
}

// Valid reports whether the geometry has a drawable area.
func (g Geometry) Valid() bool { return g.Width > 0 && g.Height > 0 }

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", g.Width, g.Height, g.X, g.Y)
}

// Info describes one connected display.
type Info struct {
	ID       ID
	Name     string
	Geometry Geometry
	Primary  bool
}

// EventKind classifies display events.
type EventKind int

const (
	Added EventKind = iota
	Removed
	Changed
	// Occlusion reports a fullscreen window covering a display, or it going away.
	Occlusion
)

func (k EventKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Changed:
		return "changed"
	case Occlusion:
		return "occlusion"
	}
	return "unknown"
}

// Event is a change in the display set or a display's visibility.
type Event struct {
	Kind       EventKind
	Display    Info
	Fullscreen bool
}

// Source enumerates displays and reports hotplug and occlusion events.
type Source interface {
	// Displays returns the connected displays ordered by ID.
	Displays(ctx context.Context) ([]Info, error)
	// Events is closed when the source is closed.
	Events() <-chan Event
	Close() error
}

// Diff returns the events that turn old into cur.
func Diff(old, cur []Info) []Event {
	before := make(map[ID]Info, len(old))
	for _, d := range old {
		before[d.ID] = d
	}
	var events []Event
	seen := make(map[ID]bool, len(cur))
	for _, d := range cur {
		seen[d.ID] = true
		prev, ok := before[d.ID]
		switch {
		case !ok:
			events = append(events, Event{Kind: Added, Display: d})
		case prev.Geometry != d.Geometry || prev.Primary != d.Primary:
			events = append(events, Event{Kind: Changed, Display: d})
		}
	}
	for _, d := range old {
		if !seen[d.ID] {
			events = append(events, Event{Kind: Removed, Display: d})
		}
	}
	return events
}

func sortInfos(ds []Info) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].ID < ds[j].ID })
}

// Static is a Source over a fixed list. Tests and headless runs feed it
// events with Push.
type Static struct {
	mu       sync.Mutex
	displays []Info
	events   chan Event
	closed   bool
}

// NewStatic creates a static source.
func NewStatic(displays ...Info) *Static {
	ds := append([]Info(nil), displays...)
	sortInfos(ds)
	return &Static{displays: ds, events: make(chan Event, 16)}
}

func (s *Static) Displays(ctx context.Context) ([]Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Info(nil), s.displays...), nil
}

func (s *Static) Events() <-chan Event { return s.events }

// Push applies ev to the list and delivers it.
func (s *Static) Push(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	switch ev.Kind {
	case Added:
		s.displays = append(s.displays, ev.Display)
		sortInfos(s.displays)
	case Removed:
		for i, d := range s.displays {
			if d.ID == ev.Display.ID {
				s.displays = append(s.displays[:i], s.displays[i+1:]...)
				break
			}
		}
	case Changed:
		for i, d := range s.displays {
			if d.ID == ev.Display.ID {
				s.displays[i] = ev.Display
			}
		}
	}
	s.events <- ev
	s.mu.Unlock()
}

func (s *Static) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}
