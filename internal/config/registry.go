package config

import (
	"sync"
	"sync/atomic"

	"linux-shaderpaper/internal/display"
	"linux-shaderpaper/internal/schedule"
	"linux-shaderpaper/internal/wallpaper"
)

// Snapshot is an immutable view of the configuration. Readers must not
// modify it.
type Snapshot struct {
	Config  *Config
	Version uint64
}

// Lookup is Config.Lookup on the snapshot.
func (s *Snapshot) Lookup(id display.ID) (wallpaper.Spec, schedule.Policy, bool) {
	return s.Config.Lookup(id)
}

// Registry serves the current configuration to the render loop and
// publishes replacements to subscribers. Reads never block.
type Registry struct {
	cur atomic.Pointer[Snapshot]

	mu   sync.Mutex
	subs map[int]chan *Snapshot
	next int
}

// NewRegistry starts with cfg, which must already be valid.
func NewRegistry(cfg *Config) *Registry {
	r := &Registry{subs: make(map[int]chan *Snapshot)}
	r.cur.Store(&Snapshot{Config: cfg, Version: 1})
	return r
}

// Snapshot returns the current configuration.
func (r *Registry) Snapshot() *Snapshot { return r.cur.Load() }

// Lookup returns the wallpaper and policy of a display in the current
// configuration.
func (r *Registry) Lookup(id display.ID) (wallpaper.Spec, schedule.Policy, bool) {
	return r.cur.Load().Lookup(id)
}

// Replace validates cfg and makes it current. An invalid configuration
// leaves the current one in place.
func (r *Registry) Replace(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publish(cfg)
	return nil
}

// Update applies fn to a copy of the current configuration and replaces it
// when fn succeeds and the result is valid.
func (r *Registry) Update(fn func(*Config) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg := r.cur.Load().Config.Clone()
	if err := fn(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.publish(cfg)
	return nil
}

// publish is called with mu held.
func (r *Registry) publish(cfg *Config) {
	snap := &Snapshot{Config: cfg, Version: r.cur.Load().Version + 1}
	r.cur.Store(snap)
	for _, ch := range r.subs {
		// Subscribers only need the latest snapshot.
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// Subscribe returns a channel receiving each new snapshot and a function
// that ends the subscription. Snapshots a slow subscriber missed are skipped.
func (r *Registry) Subscribe() (<-chan *Snapshot, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	ch := make(chan *Snapshot, 1)
	r.subs[id] = ch
	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Displays = make(map[string]DisplayConfig, len(c.Displays))
	for name, d := range c.Displays {
		out.Displays[name] = DisplayConfig{Spec: d.Spec.Clone(), Power: d.Power.clone()}
	}
	return &out
}

func (o *PolicyOverride) clone() *PolicyOverride {
	if o == nil {
		return nil
	}
	out := &PolicyOverride{}
	out.FPS = clonePtr(o.FPS)
	out.PauseOnFullscreen = clonePtr(o.PauseOnFullscreen)
	out.PauseOnLidClosed = clonePtr(o.PauseOnLidClosed)
	out.PauseOnLowBattery = clonePtr(o.PauseOnLowBattery)
	out.LowBatteryThreshold = clonePtr(o.LowBatteryThreshold)
	out.OnBatteryAction = clonePtr(o.OnBatteryAction)
	out.BatteryFPS = clonePtr(o.BatteryFPS)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
