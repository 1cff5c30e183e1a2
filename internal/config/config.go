// Package config loads the daemon configuration and serves per-display
// wallpaper and power settings to the render loop.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"linux-shaderpaper/internal/display"
	"linux-shaderpaper/internal/schedule"
	"linux-shaderpaper/internal/utils"
	"linux-shaderpaper/internal/wallpaper"
)

// DefaultDisplay is the key of the entry used for displays without their own.
const DefaultDisplay = "default"

const (
	EnvConfig   = "SHADERPAPER_CONFIG"
	EnvLogLevel = "SHADERPAPER_LOG_LEVEL"
)

// Config is the whole configuration file.
type Config struct {
	LogLevel     string `yaml:"log_level"`
	DebugOverlay bool   `yaml:"debug_overlay"`

	// FallbackColor is shown when a display has nothing to draw.
	FallbackColor wallpaper.Color `yaml:"fallback_color"`
	// SameOnAll shows the default wallpaper on every display.
	SameOnAll bool `yaml:"same_on_all"`
	// TextureCache holds PNGs converted from .tex images. Empty disables it.
	TextureCache string `yaml:"texture_cache"`
	// HotReload rebuilds shaders when their file changes.
	HotReload bool `yaml:"hot_reload"`

	Power    schedule.Policy           `yaml:"power"`
	Displays map[string]DisplayConfig `yaml:"displays"`
}

// DisplayConfig is the wallpaper of one display with optional power overrides.
type DisplayConfig struct {
	wallpaper.Spec `yaml:",inline"`
	Power          *PolicyOverride `yaml:"power,omitempty"`
}

// PolicyOverride replaces the fields it sets in the global power policy.
type PolicyOverride struct {
	FPS                 *int                    `yaml:"fps,omitempty"`
	PauseOnFullscreen   *bool                   `yaml:"pause_on_fullscreen,omitempty"`
	PauseOnLidClosed    *bool                   `yaml:"pause_on_lid_closed,omitempty"`
	PauseOnLowBattery   *bool                   `yaml:"pause_on_low_battery,omitempty"`
	LowBatteryThreshold *float64                `yaml:"low_battery_threshold,omitempty"`
	OnBatteryAction     *schedule.BatteryAction `yaml:"on_battery_action,omitempty"`
	BatteryFPS          *int                    `yaml:"battery_fps,omitempty"`
}

// Merge returns base with the override applied.
func (o *PolicyOverride) Merge(base schedule.Policy) schedule.Policy {
	if o == nil {
		return base
	}
	if o.FPS != nil {
		base.FPS = *o.FPS
	}
	if o.PauseOnFullscreen != nil {
		base.PauseOnFullscreen = *o.PauseOnFullscreen
	}
	if o.PauseOnLidClosed != nil {
		base.PauseOnLidClosed = *o.PauseOnLidClosed
	}
	if o.PauseOnLowBattery != nil {
		base.PauseOnLowBattery = *o.PauseOnLowBattery
	}
	if o.LowBatteryThreshold != nil {
		base.LowBatteryThreshold = *o.LowBatteryThreshold
	}
	if o.OnBatteryAction != nil {
		base.OnBatteryAction = *o.OnBatteryAction
	}
	if o.BatteryFPS != nil {
		base.BatteryFPS = *o.BatteryFPS
	}
	return base
}

// DefaultConfig returns the configuration used when no file exists: the
// first bundled shader on every display.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:      "info",
		FallbackColor: wallpaper.Color{R: 0x1e, G: 0x1e, B: 0x24, A: 0xff},
		HotReload:     true,
		Power:         schedule.DefaultPolicy(),
		Displays: map[string]DisplayConfig{
			DefaultDisplay: {Spec: wallpaper.ShaderSpec("rainbow_bar.frag", nil)},
		},
	}
}

// DefaultPath returns $SHADERPAPER_CONFIG or the file in the config directory.
func DefaultPath() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	return filepath.Join(utils.ConfigDir(), "config.yaml")
}

// Load reads a configuration file over the defaults. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Parse decodes YAML into cfg. An explicit displays section replaces the
// default one instead of merging into it.
func Parse(data []byte, cfg *Config) error {
	var probe struct {
		Displays yaml.Node `yaml:"displays"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if probe.Displays.Kind != 0 {
		cfg.Displays = nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		c.LogLevel = lvl
	}
}

// Validate checks the whole file and reports the first problem.
func (c *Config) Validate() error {
	if _, err := utils.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if err := c.Power.Validate(); err != nil {
		return fmt.Errorf("power: %w", err)
	}
	if len(c.Displays) == 0 {
		return errors.New("no displays configured")
	}
	if c.SameOnAll {
		if _, ok := c.Displays[DefaultDisplay]; !ok {
			return fmt.Errorf("same_on_all needs a %q display", DefaultDisplay)
		}
	}

	names := make([]string, 0, len(c.Displays))
	for name := range c.Displays {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		d := c.Displays[name]
		if err := d.Spec.Validate(); err != nil {
			return fmt.Errorf("displays.%s: %w", name, err)
		}
		if err := d.Power.Merge(c.Power).Validate(); err != nil {
			return fmt.Errorf("displays.%s.power: %w", name, err)
		}
	}
	return nil
}

// Lookup returns the wallpaper and power policy of a display. Displays
// without an entry, and every display when SameOnAll is set, use the
// default entry.
func (c *Config) Lookup(id display.ID) (wallpaper.Spec, schedule.Policy, bool) {
	d, ok := c.Displays[string(id)]
	if c.SameOnAll || !ok {
		d, ok = c.Displays[DefaultDisplay]
	}
	if !ok {
		return wallpaper.Spec{}, c.Power, false
	}
	return d.Spec, d.Power.Merge(c.Power), true
}
