package shader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// ErrUnknownParameter is a warning-class condition: the name is not in the
// schema and the write was ignored.
var ErrUnknownParameter = errors.New("unknown parameter")

// ErrNotANumber is returned when a NaN is written; the stored value is kept.
var ErrNotANumber = errors.New("value is NaN")

// maxWarnings caps the distinct warnings a Values keeps.
const maxWarnings = 32

// Values is the live value set of a descriptor's parameters. Every stored
// value lies within its spec's [Min, Max]. Safe for concurrent use.
type Values struct {
	mu       sync.RWMutex
	specs    []ParameterSpec
	index    map[string]int
	current  []float64
	warnings []string
	warned   map[string]bool
}

// NewValues creates a store initialised to the defaults.
func NewValues(d Descriptor) *Values {
	v := &Values{
		specs:   append([]ParameterSpec(nil), d.Parameters...),
		index:   make(map[string]int, len(d.Parameters)),
		current: make([]float64, len(d.Parameters)),
	}
	for i, p := range v.specs {
		v.index[p.Name] = i
		v.current[i] = p.Clamp(p.Default)
	}
	return v
}

// Specs returns the schema in declaration order.
func (v *Values) Specs() []ParameterSpec {
	return append([]ParameterSpec(nil), v.specs...)
}

// Len is the number of parameters.
func (v *Values) Len() int { return len(v.specs) }

// Reset restores every parameter to its default.
func (v *Values) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, p := range v.specs {
		v.current[i] = p.Clamp(p.Default)
	}
}

// Get returns the current value of name.
func (v *Values) Get(name string) (float64, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	i, ok := v.index[name]
	if !ok {
		return 0, false
	}
	return v.current[i], true
}

// Set clamps x into the parameter's range and stores it, returning the stored
// value. Unknown names are recorded as warnings and return ErrUnknownParameter.
func (v *Values) Set(name string, x float64) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.setLocked(name, x)
}

func (v *Values) setLocked(name string, x float64) (float64, error) {
	i, ok := v.index[name]
	if !ok {
		v.warn(fmt.Sprintf("unknown parameter %q ignored", name))
		return 0, fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	if math.IsNaN(x) {
		v.warn(fmt.Sprintf("NaN for parameter %q ignored", name))
		return v.current[i], fmt.Errorf("%w: %s", ErrNotANumber, name)
	}
	v.current[i] = v.specs[i].Clamp(x)
	return v.current[i], nil
}

// warn records msg once. Past maxWarnings new messages are dropped.
func (v *Values) warn(msg string) {
	if v.warned[msg] || len(v.warnings) >= maxWarnings {
		return
	}
	if v.warned == nil {
		v.warned = make(map[string]bool)
	}
	v.warned[msg] = true
	v.warnings = append(v.warnings, msg)
}

// Load applies an override mapping. Entries that do not apply are skipped and
// their names returned; the load itself never fails.
func (v *Values) Load(overrides map[string]float64) (ignored []string) {
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, name := range names {
		if _, err := v.setLocked(name, overrides[name]); err != nil {
			ignored = append(ignored, name)
		}
	}
	return ignored
}

// Warnings returns the distinct warning conditions recorded so far, oldest
// first.
func (v *Values) Warnings() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]string(nil), v.warnings...)
}

// Snapshot returns the current values keyed by name.
func (v *Values) Snapshot() map[string]float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]float64, len(v.specs))
	for i, p := range v.specs {
		out[p.Name] = v.current[i]
	}
	return out
}

// Pack returns the values in declaration order as float32. Int parameters use
// the same width as floats.
func (v *Values) Pack() []float32 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]float32, len(v.current))
	for i, x := range v.current {
		out[i] = float32(x)
	}
	return out
}

// Uniforms are the built-in inputs of every frame plus the packed parameters.
type Uniforms struct {
	Time       float32
	Resolution [2]float32
	Params     []float32
}

// Uniforms builds the per-frame inputs.
func (v *Values) Uniforms(elapsedSeconds float64, width, height int) Uniforms {
	return Uniforms{
		Time:       float32(elapsedSeconds),
		Resolution: [2]float32{float32(width), float32(height)},
		Params:     v.Pack(),
	}
}

// LayoutSize is the byte size of the uniform block for n parameters.
func LayoutSize(n int) int { return 4 * (3 + n) }

// Bytes encodes the uniforms as little-endian float32s:
// time, resolution.x, resolution.y, params...
func (u Uniforms) Bytes() []byte {
	buf := make([]byte, LayoutSize(len(u.Params)))
	put := func(i int, f float32) {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	put(0, u.Time)
	put(1, u.Resolution[0])
	put(2, u.Resolution[1])
	for i, p := range u.Params {
		put(3+i, p)
	}
	return buf
}
