package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linux-shaderpaper/internal/config"
	"linux-shaderpaper/internal/render"
	"linux-shaderpaper/internal/schedule"
	"linux-shaderpaper/internal/wallpaper"
)

var bundled = filepath.Join("..", "..", "assets", "shaders")

func testCmd() (*cobra.Command, *bytes.Buffer) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	return cmd, &out
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.frag")
	require.NoError(t, os.WriteFile(bad, []byte("// @shaderpaper\n// @params\n// x: float = 1 | step: 0\n// @end params\n// @end shaderpaper\nvoid mainImage(out vec4 c, in vec2 p) { c = vec4(1.0); }\n"), 0o644))
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, config.DefaultConfig().Save(cfgPath))

	cmd, out := testCmd()
	err := runValidate(cmd, []string{
		filepath.Join(bundled, "rainbow_bar.frag"),
		filepath.Join(bundled, "strange_wave.frag"),
		cfgPath,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "rainbow_bar.frag (5 parameters)")
	assert.Contains(t, out.String(), "config.yaml (1 displays)")

	cmd, out = testCmd()
	err = runValidate(cmd, []string{filepath.Join(bundled, "frosted_glass.frag"), bad})
	assert.EqualError(t, err, "1 of 2 files failed validation")
	assert.Contains(t, out.String(), "FAIL "+bad)
}

func TestInspect(t *testing.T) {
	cmd, out := testCmd()
	require.NoError(t, runInspect(cmd, []string{filepath.Join(bundled, "strange_wave.frag")}))
	s := out.String()
	assert.Contains(t, s, "name: Strange Wave")
	assert.Contains(t, s, "has_metadata: true")
	assert.Contains(t, s, "name: layers")
	assert.Contains(t, s, "kind: int")
	assert.Contains(t, s, "complexity:\n  level: high\n")
	assert.Contains(t, s, "  loops: 1\n")

	inspectSource = true
	defer func() { inspectSource = false }()
	cmd, out = testCmd()
	require.NoError(t, runInspect(cmd, []string{filepath.Join(bundled, "strange_wave.frag")}))
	assert.Contains(t, out.String(), "#version 330")

	assert.ErrorContains(t, runInspect(cmd, []string{"no_such_shader"}), "not found")
}

func resetSetFlags() {
	setShader, setImage, setColor, setFit, setParams = "", "", "", "", nil
}

func TestSet(t *testing.T) {
	t.Setenv(config.EnvLogLevel, "")
	configPath = filepath.Join(t.TempDir(), "config.yaml")
	defer func() { configPath = "" }()
	defer resetSetFlags()

	setShader, setParams = "strange_wave.frag", []string{"layers=20"}
	cmd, out := testCmd()
	require.NoError(t, runSet(cmd, []string{"DP-1"}))
	assert.Contains(t, out.String(), "DP-1: shader strange_wave.frag")

	resetSetFlags()
	setImage, setFit = "/w/scene.pkg#materials/sky.tex", "center"
	require.NoError(t, runSet(cmd, []string{"HDMI-1"}))

	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	spec, _, ok := cfg.Lookup("DP-1")
	require.True(t, ok)
	assert.Equal(t, 20.0, spec.Shader.Params["layers"])
	spec, _, _ = cfg.Lookup("HDMI-1")
	assert.Equal(t, wallpaper.FitCenter, spec.Image.Fit)
	spec, _, _ = cfg.Lookup("eDP-1")
	assert.Equal(t, "rainbow_bar.frag", spec.Shader.Path, "default entry kept")

	resetSetFlags()
	setColor, setParams = "#fff", []string{"a=1"}
	assert.ErrorContains(t, runSet(cmd, []string{"DP-1"}), "--param")

	resetSetFlags()
	setImage, setFit = "/x.png", "zoom"
	assert.ErrorContains(t, runSet(cmd, []string{"DP-1"}), "fit mode")
}

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"speed=2", " glow = 0.5 "})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"speed": 2, "glow": 0.5}, got)

	_, err = parseParams([]string{"speed"})
	assert.Error(t, err)
	_, err = parseParams([]string{"speed=fast"})
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	statusFile = filepath.Join(t.TempDir(), "status.yaml")
	defer func() { statusFile = "" }()

	cmd, _ := testCmd()
	assert.ErrorContains(t, runStatus(cmd, nil), "is the daemon running")

	f := config.NewStatusFile(statusFile)
	f.Report(render.Status{Display: "DP-1", Content: render.ContentShader, Wallpaper: "Rainbow Bar"})
	f.Scheduled("DP-1", schedule.Transition{To: schedule.Throttled, Reason: schedule.ReasonOnBattery})

	cmd, out := testCmd()
	require.NoError(t, runStatus(cmd, nil))
	assert.Contains(t, out.String(), "throttled (on-battery)")
	assert.Contains(t, out.String(), "Rainbow Bar")
}

func TestConvert(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.png")
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(1, 1, color.RGBA{G: 255, A: 255})
	f, err := os.Create(src)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	dst := filepath.Join(dir, "out.png")
	cmd, out := testCmd()
	require.NoError(t, runConvert(cmd, []string{src, dst}))
	assert.Contains(t, out.String(), "(3x2)")

	back, err := wallpaper.LoadImage(dst, "")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{G: 255, A: 255}, color.RGBAModel.Convert(back.At(1, 1)))
}
