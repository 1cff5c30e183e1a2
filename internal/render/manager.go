package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"linux-shaderpaper/internal/display"
	"linux-shaderpaper/internal/schedule"
	"linux-shaderpaper/internal/shader"
	"linux-shaderpaper/internal/utils"
)

// DefaultFallback is drawn when a display has nothing better to show.
var DefaultFallback = color.RGBA{R: 0x1e, G: 0x1e, B: 0x24, A: 0xff}

// Content is what a display is currently showing.
type Content int

const (
	ContentNone Content = iota
	ContentShader
	ContentImage
	ContentColor
)

func (c Content) String() string {
	switch c {
	case ContentShader:
		return "shader"
	case ContentImage:
		return "image"
	case ContentColor:
		return "color"
	}
	return "none"
}

// Status is what the manager reports about a display.
type Status struct {
	Display   display.ID
	Session   string
	Content   Content
	Wallpaper string
	Degraded  bool
	Err       error
}

// Reporter receives status changes. It is called on the render goroutine.
type Reporter interface {
	Report(Status)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Status)

func (f ReporterFunc) Report(s Status) { f(s) }

// Target is the per-display render state. It owns its surface and whatever
// content it shows.
type Target struct {
	ID       display.ID
	Geometry display.Geometry
	Sched    *schedule.Scheduler

	surface  Surface
	content  Content
	pipeline *Pipeline
	texture  Texture
	color    color.RGBA
	label    string
	session  string
	degraded bool
	lastErr  error
}

func (t *Target) Content() Content    { return t.content }
func (t *Target) Pipeline() *Pipeline { return t.pipeline }
func (t *Target) Degraded() bool      { return t.degraded }
func (t *Target) Err() error          { return t.lastErr }
func (t *Target) Session() string     { return t.session }
func (t *Target) Surface() Surface    { return t.surface }
func (t *Target) Static() bool        { return t.content == ContentImage || t.content == ContentColor }

// Manager owns one Target per attached display. It is confined to the render
// goroutine; only Build runs elsewhere.
type Manager struct {
	backend  Backend
	reporter Reporter
	fallback color.RGBA
	targets  map[display.ID]*Target
}

// NewManager creates a manager. A nil reporter discards status.
func NewManager(b Backend, r Reporter, fallback color.RGBA) *Manager {
	if r == nil {
		r = ReporterFunc(func(Status) {})
	}
	if fallback.A == 0 {
		fallback = DefaultFallback
	}
	return &Manager{
		backend:  b,
		reporter: r,
		fallback: fallback,
		targets:  make(map[display.ID]*Target),
	}
}

// SetFallback changes the colour used when a display has nothing to show.
func (m *Manager) SetFallback(c color.RGBA) {
	if c.A == 0 {
		c = DefaultFallback
	}
	if c == m.fallback {
		return
	}
	m.fallback = c
	for _, t := range m.targets {
		if t.degraded || t.content == ContentNone {
			t.Sched.Invalidate()
		}
	}
}

// Backend returns the backend the manager draws with.
func (m *Manager) Backend() Backend { return m.backend }

// Target returns the state of an attached display.
func (m *Manager) Target(id display.ID) (*Target, bool) {
	t, ok := m.targets[id]
	return t, ok
}

// Displays returns the attached display IDs in order.
func (m *Manager) Displays() []display.ID {
	ids := make([]display.ID, 0, len(m.targets))
	for id := range m.targets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Attach creates the surface for a display. Attaching a known display resizes it.
func (m *Manager) Attach(now time.Time, id display.ID, g display.Geometry) error {
	if _, ok := m.targets[id]; ok {
		return m.Resize(id, g)
	}
	s, err := m.backend.CreateSurface(id, g)
	if err != nil {
		return fmt.Errorf("attach %s: %w", id, err)
	}
	t := &Target{ID: id, Geometry: g, Sched: schedule.New(now), surface: s}
	t.Sched.Invalidate()
	m.targets[id] = t
	utils.L().Info("display attached", zap.String("display", string(id)), zap.Stringer("geometry", g))
	return nil
}

// Detach releases every resource of a display and forgets it.
func (m *Manager) Detach(id display.ID) {
	t, ok := m.targets[id]
	if !ok {
		return
	}
	m.clearContent(t)
	if t.surface != nil {
		m.backend.DestroySurface(t.surface)
		t.surface = nil
	}
	delete(m.targets, id)
	utils.L().Info("display detached", zap.String("display", string(id)))
}

// Close detaches every display.
func (m *Manager) Close() {
	for _, id := range m.Displays() {
		m.Detach(id)
	}
}

// Resize recreates a display's surface for new geometry. Frames in flight for
// the old size are dropped and one frame is requested at the new size.
func (m *Manager) Resize(id display.ID, g display.Geometry) error {
	t, ok := m.targets[id]
	if !ok {
		return fmt.Errorf("resize %s: %w", id, ErrUnknownDisplay)
	}
	if t.Geometry == g && t.surface != nil {
		return nil
	}
	s, err := m.backend.ResizeSurface(t.surface, g)
	if err != nil {
		return fmt.Errorf("resize %s: %w", id, err)
	}
	t.surface = s
	t.Geometry = g
	t.degraded = false
	t.Sched.Invalidate()
	return nil
}

func (m *Manager) clearContent(t *Target) {
	if t.pipeline != nil {
		m.backend.ReleaseProgram(t.pipeline.Program)
		t.pipeline = nil
	}
	if t.texture != nil {
		m.backend.ReleaseTexture(t.texture)
		t.texture = nil
	}
	t.content = ContentNone
}

func (m *Manager) begin(t *Target, c Content, label string) {
	t.content = c
	t.label = label
	t.session = uuid.NewString()
	t.degraded = false
	t.lastErr = nil
	t.Sched.Invalidate()
	utils.L().Info("wallpaper applied",
		zap.String("display", string(t.ID)),
		zap.Stringer("kind", c),
		zap.String("wallpaper", label),
		zap.String("session", t.session))
	m.report(t)
}

func (m *Manager) report(t *Target) {
	m.reporter.Report(Status{
		Display:   t.ID,
		Session:   t.session,
		Content:   t.content,
		Wallpaper: t.label,
		Degraded:  t.degraded,
		Err:       t.lastErr,
	})
}

// ApplyShader swaps a built pipeline in. The previous content is released
// only after the new pipeline is in place, and the time base restarts.
func (m *Manager) ApplyShader(now time.Time, id display.ID, p *Pipeline) error {
	t, ok := m.targets[id]
	if !ok {
		return fmt.Errorf("apply %s: %w", id, ErrUnknownDisplay)
	}
	oldPipeline, oldTexture := t.pipeline, t.texture
	t.pipeline, t.texture = p, nil
	if oldPipeline != nil && oldPipeline != p {
		m.backend.ReleaseProgram(oldPipeline.Program)
	}
	if oldTexture != nil {
		m.backend.ReleaseTexture(oldTexture)
	}
	t.Sched.ResetClock(now)
	m.begin(t, ContentShader, p.Name())
	return nil
}

// ApplyImage uploads img and shows it on a display.
func (m *Manager) ApplyImage(id display.ID, img image.Image, label string) error {
	t, ok := m.targets[id]
	if !ok {
		return fmt.Errorf("apply %s: %w", id, ErrUnknownDisplay)
	}
	tex, err := m.backend.UploadImage(img)
	if err != nil {
		if IsExhausted(err) {
			m.Fallback(id, err)
		}
		return fmt.Errorf("upload %s: %w", label, err)
	}
	m.clearContent(t)
	t.texture = tex
	m.begin(t, ContentImage, label)
	return nil
}

// ApplyColor fills a display with a solid colour.
func (m *Manager) ApplyColor(id display.ID, c color.RGBA) error {
	t, ok := m.targets[id]
	if !ok {
		return fmt.Errorf("apply %s: %w", id, ErrUnknownDisplay)
	}
	m.clearContent(t)
	t.color = c
	m.begin(t, ContentColor, fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B))
	return nil
}

// UpdateParams loads new parameter values into a display's running shader
// without rebuilding it. It returns the names that were ignored.
func (m *Manager) UpdateParams(id display.ID, values map[string]float64) ([]string, error) {
	t, ok := m.targets[id]
	if !ok {
		return nil, fmt.Errorf("update %s: %w", id, ErrUnknownDisplay)
	}
	if t.pipeline == nil {
		return nil, nil
	}
	t.pipeline.Values.Reset()
	ignored := t.pipeline.Values.Load(values)
	t.Sched.Invalidate()
	return ignored, nil
}

// BuildFailed records a failed build. The previous wallpaper stays; a display
// with nothing to show gets the fallback colour.
func (m *Manager) BuildFailed(id display.ID, err error) {
	t, ok := m.targets[id]
	if !ok {
		return
	}
	t.lastErr = err
	utils.L().Error("wallpaper build failed", zap.String("display", string(id)), zap.Error(err))
	if t.content == ContentNone {
		t.color = m.fallback
		t.content = ContentColor
		t.label = "fallback"
		t.Sched.Invalidate()
	}
	m.report(t)
}

// Fallback degrades a display to the fallback colour after an unrecoverable
// error. The scheduler sees the display as failed until new content arrives.
func (m *Manager) Fallback(id display.ID, err error) {
	t, ok := m.targets[id]
	if !ok {
		return
	}
	t.degraded = true
	t.lastErr = err
	t.Sched.Invalidate()
	utils.L().Warn("display degraded to fallback color", zap.String("display", string(id)), zap.Error(err))
	m.report(t)
}

// Render draws one frame of a display. It must be called between the
// backend's BeginFrame and EndFrame. A busy surface defers the display; a lost
// surface is recreated and the frame retried once before falling back.
func (m *Manager) Render(ctx context.Context, id display.ID, now time.Time) error {
	t, ok := m.targets[id]
	if !ok {
		return fmt.Errorf("render %s: %w", id, ErrUnknownDisplay)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := m.drawOnce(t, now)
	if err == nil {
		t.Sched.MarkRendered(now)
		return nil
	}

	switch {
	case IsTimeout(err):
		t.Sched.Defer(now, t.Sched.Interval())
		utils.L().Debug("surface busy, frame deferred", zap.String("display", string(id)))
		return nil
	case IsExhausted(err):
		m.Fallback(id, err)
		m.drawFallback(t, now)
		return err
	}

	utils.L().Warn("surface error, recreating", zap.String("display", string(id)), zap.Error(err))
	if rerr := m.recreate(t); rerr != nil {
		err = errors.Join(err, rerr)
	} else if err = m.drawOnce(t, now); err == nil {
		t.Sched.MarkRendered(now)
		return nil
	}

	m.Fallback(id, err)
	m.drawFallback(t, now)
	return err
}

func (m *Manager) recreate(t *Target) error {
	if t.surface != nil {
		m.backend.DestroySurface(t.surface)
		t.surface = nil
	}
	s, err := m.backend.CreateSurface(t.ID, t.Geometry)
	if err != nil {
		return err
	}
	t.surface = s
	return nil
}

func (m *Manager) drawOnce(t *Target, now time.Time) error {
	if t.surface == nil {
		return &SurfaceError{Display: t.ID, Lost: true}
	}
	if err := m.backend.Acquire(t.surface, AcquireTimeout); err != nil {
		return err
	}

	var err error
	switch {
	case t.degraded:
		err = m.backend.Fill(t.surface, m.fallback)
	case t.content == ContentShader:
		w, h := t.surface.Size()
		u := t.pipeline.Values.Uniforms(t.Sched.Elapsed(now).Seconds(), w, h)
		err = m.backend.DrawShader(t.surface, t.pipeline.Program, u)
	case t.content == ContentImage:
		err = m.backend.Blit(t.surface, t.texture)
	case t.content == ContentColor:
		err = m.backend.Fill(t.surface, t.color)
	default:
		err = m.backend.Fill(t.surface, m.fallback)
	}
	if err != nil {
		return err
	}
	return m.backend.Present(t.surface)
}

func (m *Manager) drawFallback(t *Target, now time.Time) {
	if t.surface == nil {
		return
	}
	if m.backend.Acquire(t.surface, AcquireTimeout) != nil {
		return
	}
	if m.backend.Fill(t.surface, m.fallback) == nil {
		_ = m.backend.Present(t.surface)
		t.Sched.MarkRendered(now)
	}
}

// Uniforms returns the inputs the next frame of a shader display would get.
func (m *Manager) Uniforms(id display.ID, now time.Time) (shader.Uniforms, bool) {
	t, ok := m.targets[id]
	if !ok || t.pipeline == nil || t.surface == nil {
		return shader.Uniforms{}, false
	}
	w, h := t.surface.Size()
	return t.pipeline.Values.Uniforms(t.Sched.Elapsed(now).Seconds(), w, h), true
}
