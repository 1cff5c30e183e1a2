package config

import (
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"linux-shaderpaper/internal/display"
	"linux-shaderpaper/internal/render"
	"linux-shaderpaper/internal/schedule"
	"linux-shaderpaper/internal/wallpaper"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const sample = `
log_level: debug
fallback_color: "#000010"
power:
  fps: 30
  on_battery_action: pause
displays:
  default:
    shader:
      path: strange_wave.frag
      params:
        layers: 20
  DP-1:
    image:
      path: ~/Pictures/sky.png
      fit: fit
  HDMI-1:
    color: "#102030"
    power:
      fps: 10
      pause_on_fullscreen: false
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, sample)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, wallpaper.Color{B: 0x10, A: 0xff}, cfg.FallbackColor)
	assert.Equal(t, 30, cfg.Power.FPS)
	assert.Equal(t, schedule.BatteryPause, cfg.Power.OnBatteryAction)
	assert.True(t, cfg.Power.PauseOnLidClosed, "unset keys keep their defaults")
	assert.Equal(t, schedule.DefaultBatteryFPS, cfg.Power.BatteryFPS)
	assert.Len(t, cfg.Displays, 3)

	spec, policy, ok := cfg.Lookup("HDMI-1")
	require.True(t, ok)
	assert.Equal(t, wallpaper.KindColor, spec.Kind())
	assert.Equal(t, 10, policy.FPS)
	assert.False(t, policy.PauseOnFullscreen)
	assert.Equal(t, schedule.BatteryPause, policy.OnBatteryAction, "override merges over the global section")

	spec, policy, ok = cfg.Lookup("eDP-1")
	require.True(t, ok)
	assert.Equal(t, "strange_wave.frag", spec.Shader.Path)
	assert.Equal(t, 20.0, spec.Shader.Params["layers"])
	assert.Equal(t, cfg.Power, policy)

	cfg.SameOnAll = true
	spec, _, _ = cfg.Lookup("DP-1")
	assert.Equal(t, wallpaper.KindShader, spec.Kind())
}

func TestLoad_DisplaysReplaceDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "displays:\n  DP-1:\n    color: \"#fff\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Displays, 1)
	_, _, ok := cfg.Lookup("HDMI-1")
	assert.False(t, ok, "no default entry left")
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestDefaultPath(t *testing.T) {
	t.Setenv(EnvConfig, "/etc/shaderpaper.yaml")
	assert.Equal(t, "/etc/shaderpaper.yaml", DefaultPath())
	t.Setenv(EnvConfig, "")
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	assert.Equal(t, "/cfg/linux-shaderpaper/config.yaml", DefaultPath())
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "power: [1, 2")
	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log level"},
		{"fps", func(c *Config) { c.Power.FPS = 0 }, "power: fps"},
		{"no displays", func(c *Config) { c.Displays = nil }, "no displays"},
		{"empty wallpaper", func(c *Config) { c.Displays["DP-1"] = DisplayConfig{} }, "displays.DP-1"},
		{"override", func(c *Config) {
			fps := 1000
			d := c.Displays[DefaultDisplay]
			d.Power = &PolicyOverride{FPS: &fps}
			c.Displays[DefaultDisplay] = d
		}, "displays.default.power"},
		{"same on all", func(c *Config) {
			c.SameOnAll = true
			c.Displays = map[string]DisplayConfig{"DP-1": {Spec: wallpaper.ColorSpec(color.RGBA{A: 255})}}
		}, "same_on_all"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestSaveLoad(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	fps := 24
	cfg.Displays["DP-1"] = DisplayConfig{
		Spec:  wallpaper.ImageSpec("/w/scene.pkg#materials/sky.tex", wallpaper.FitCenter),
		Power: &PolicyOverride{FPS: &fps},
	}
	require.NoError(t, cfg.Save(path))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(DefaultConfig())
	first := r.Snapshot()
	ch, cancel := r.Subscribe()
	defer cancel()

	bad := DefaultConfig()
	bad.Power.FPS = -1
	require.Error(t, r.Replace(bad))
	assert.Same(t, first, r.Snapshot(), "invalid config is not published")

	require.NoError(t, r.Update(func(c *Config) error {
		c.Displays[DefaultDisplay] = DisplayConfig{Spec: wallpaper.ColorSpec(color.RGBA{R: 9, A: 255})}
		return nil
	}))
	require.NoError(t, r.Update(func(c *Config) error {
		c.Power.FPS = 30
		return nil
	}))
	assert.Equal(t, wallpaper.KindShader, first.Config.Displays[DefaultDisplay].Kind(), "snapshots are not mutated")

	snap := <-ch
	assert.Equal(t, uint64(3), snap.Version, "subscriber sees only the latest")
	spec, policy, _ := r.Lookup("any")
	assert.Equal(t, wallpaper.KindColor, spec.Kind())
	assert.Equal(t, 30, policy.FPS)

	boom := errors.New("boom")
	assert.ErrorIs(t, r.Update(func(*Config) error { return boom }), boom)
	assert.Equal(t, uint64(3), r.Snapshot().Version)
}

func TestWatchConfig(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, sample)
	cfg, err := Load(path)
	require.NoError(t, err)
	r := NewRegistry(cfg)
	ch, cancel := r.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	w, err := WatchConfig(ctx, r, path)
	require.NoError(t, err)
	defer w.Stop()

	// Invalid content is rejected and the old snapshot stays.
	writeFile(t, path, "power:\n  fps: 0\n")
	// A valid rewrite saved through a rename is picked up.
	next := cfg.Clone()
	next.Power.FPS = 12
	require.NoError(t, next.Save(path))

	select {
	case snap := <-ch:
		assert.Equal(t, 12, snap.Config.Power.FPS)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not delivered")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a.frag")
	writeFile(t, target, "x")

	got := make(chan []string, 4)
	w, err := NewWatcher(20*time.Millisecond, func(p []string) { got <- p })
	require.NoError(t, err)
	require.NoError(t, w.Add(target))
	w.Start(context.Background())
	defer w.Stop()

	writeFile(t, filepath.Join(dir, "b.frag"), "y")
	writeFile(t, target, "z")

	select {
	case paths := <-got:
		assert.Equal(t, []string{target}, paths)
	case <-time.After(5 * time.Second):
		t.Fatal("change not delivered")
	}

	w.Set(nil)
	writeFile(t, target, "w")
	select {
	case paths := <-got:
		t.Fatalf("unexpected change %v", paths)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStatusFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "status.yaml")
	f := NewStatusFile(path)
	f.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	f.Report(render.Status{Display: "DP-1", Session: "s1", Content: render.ContentShader, Wallpaper: "Rainbow Bar"})
	f.Scheduled("DP-1", schedule.Transition{From: schedule.Active, To: schedule.Paused, Reason: schedule.ReasonFullscreen})
	f.Report(render.Status{Display: "HDMI-1", Content: render.ContentColor, Degraded: true, Err: errors.New("surface lost")})

	got, err := ReadStatus(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, DisplayStatus{
		Display: "DP-1", Session: "s1", Content: "shader", Wallpaper: "Rainbow Bar",
		State: "paused", Reason: "fullscreen", Updated: f.now(),
	}, got[0])
	assert.True(t, got[1].Degraded)
	assert.Equal(t, "surface lost", got[1].Error)

	f.Forget(display.ID("HDMI-1"))
	got, err = ReadStatus(path)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
