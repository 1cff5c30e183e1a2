// Package rlbackend renders wallpapers with raylib. One undecorated window
// covers the bounding box of every display; each display renders into its own
// render texture, and all textures are composited into the window at the end
// of a frame.
package rlbackend

import (
	"context"
	"image"
	"image/color"
	"sort"
	"sync"
	"time"

	rl "github.com/gen2brain/raylib-go/raylib"

	"linux-shaderpaper/internal/display"
	"linux-shaderpaper/internal/render"
	"linux-shaderpaper/internal/shader"
	"linux-shaderpaper/internal/utils"
)

// Options configure the window.
type Options struct {
	Title string
	// Bounds is the rectangle of the virtual screen the window covers.
	Bounds display.Geometry
	// Desktop, when set, is called once the window exists to turn it into a
	// desktop window below everything else.
	Desktop      func(title string) error
	DebugOverlay bool
}

type job struct {
	run  func()
	done chan struct{}
}

type surface struct {
	id       display.ID
	geometry display.Geometry
	target   rl.RenderTexture2D
	drawn    bool
}

func (s *surface) Display() display.ID { return s.id }
func (s *surface) Size() (int, int)    { return s.geometry.Width, s.geometry.Height }

type texture struct {
	tex rl.Texture2D
}

func (t *texture) Size() (int, int) { return int(t.tex.Width), int(t.tex.Height) }

// Backend is a render.Backend over a raylib window. It must be created and
// used on one OS-thread-locked goroutine; CompileProgram and ReleaseProgram
// queue work for that goroutine.
type Backend struct {
	opts     Options
	surfaces map[*surface]struct{}
	overlay  *overlay

	jobs chan job
	wake chan struct{}

	releaseMu sync.Mutex
	releases  []rl.Shader

	closeOnce sync.Once
}

var _ render.Backend = (*Backend)(nil)

// New opens the window.
func New(opts Options) (*Backend, error) {
	if opts.Title == "" {
		opts.Title = utils.AppName
	}
	if !opts.Bounds.Valid() {
		opts.Bounds = display.Geometry{Width: 1280, Height: 720, Scale: 1}
	}

	rl.SetTraceLogCallback(utils.RaylibLogCallback)
	rl.SetConfigFlags(rl.FlagWindowUndecorated | rl.FlagWindowUnfocused)
	rl.InitWindow(int32(opts.Bounds.Width), int32(opts.Bounds.Height), opts.Title)
	rl.SetWindowPosition(opts.Bounds.X, opts.Bounds.Y)
	rl.SetTargetFPS(0)

	b := &Backend{
		opts:     opts,
		surfaces: make(map[*surface]struct{}),
		jobs:     make(chan job, 16),
		wake:     make(chan struct{}, 1),
	}
	if opts.DebugOverlay {
		b.overlay = newOverlay()
	}
	if opts.Desktop != nil {
		if err := opts.Desktop(opts.Title); err != nil {
			utils.Warn("Window: could not mark window as desktop: %v", err)
		}
	}
	utils.Info("Window: %s at %s", opts.Title, opts.Bounds)
	return b, nil
}

func (b *Backend) CreateSurface(id display.ID, g display.Geometry) (render.Surface, error) {
	if !g.Valid() {
		return nil, &render.SurfaceError{Display: id, Lost: true}
	}
	rt := rl.LoadRenderTexture(int32(g.Width), int32(g.Height))
	if rt.ID == 0 {
		return nil, &render.ResourceExhaustedError{Display: id, Resource: "render texture"}
	}
	rl.SetTextureFilter(rt.Texture, rl.FilterBilinear)
	s := &surface{id: id, geometry: g, target: rt}
	b.surfaces[s] = struct{}{}
	return s, nil
}

func (b *Backend) ResizeSurface(s render.Surface, g display.Geometry) (render.Surface, error) {
	id := s.Display()
	b.DestroySurface(s)
	return b.CreateSurface(id, g)
}

func (b *Backend) DestroySurface(s render.Surface) {
	rs, ok := s.(*surface)
	if !ok {
		return
	}
	if _, live := b.surfaces[rs]; !live {
		return
	}
	rl.UnloadRenderTexture(rs.target)
	delete(b.surfaces, rs)
}

// do runs fn on the render goroutine and waits for it.
func (b *Backend) do(ctx context.Context, fn func()) error {
	j := job{run: fn, done: make(chan struct{})}
	select {
	case b.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case b.wake <- struct{}{}:
	default:
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		// The job still runs; its result is dropped by the caller.
		return ctx.Err()
	}
}

func (b *Backend) CompileProgram(ctx context.Context, src *shader.Program) (render.Program, error) {
	var (
		mu     sync.Mutex
		gaveUp bool
		prog   render.Program
		err    error
	)
	werr := b.do(ctx, func() {
		if ctx.Err() != nil {
			return
		}
		p, e := b.compile(src)
		mu.Lock()
		defer mu.Unlock()
		if gaveUp {
			if p != nil {
				b.ReleaseProgram(p)
			}
			return
		}
		prog, err = p, e
	})

	mu.Lock()
	defer mu.Unlock()
	if werr != nil {
		gaveUp = true
		if prog != nil {
			b.ReleaseProgram(prog)
		}
		return nil, werr
	}
	return prog, err
}

// ReleaseProgram queues the program for unloading on the next Poll.
func (b *Backend) ReleaseProgram(p render.Program) {
	rp, ok := p.(*program)
	if !ok || rp == nil {
		return
	}
	b.releaseMu.Lock()
	b.releases = append(b.releases, rp.shader)
	b.releaseMu.Unlock()
}

func (b *Backend) UploadImage(img image.Image) (render.Texture, error) {
	rimg := rl.NewImageFromImage(img)
	tex := rl.LoadTextureFromImage(rimg)
	rl.UnloadImage(rimg)
	if tex.ID == 0 {
		return nil, &render.ResourceExhaustedError{Resource: "texture"}
	}
	rl.SetTextureFilter(tex, rl.FilterBilinear)
	return &texture{tex: tex}, nil
}

func (b *Backend) ReleaseTexture(t render.Texture) {
	if rt, ok := t.(*texture); ok {
		rl.UnloadTexture(rt.tex)
	}
}

func (b *Backend) BeginFrame() error {
	b.Poll()
	return nil
}

// Acquire never blocks: raylib render textures are always ready unless the
// surface was destroyed.
func (b *Backend) Acquire(s render.Surface, timeout time.Duration) error {
	rs, ok := s.(*surface)
	if !ok {
		return &render.SurfaceError{Display: s.Display(), Lost: true}
	}
	if _, live := b.surfaces[rs]; !live || rs.target.ID == 0 {
		return &render.SurfaceError{Display: rs.id, Lost: true}
	}
	return nil
}

func (b *Backend) DrawShader(s render.Surface, p render.Program, u shader.Uniforms) error {
	rs := s.(*surface)
	prog := p.(*program)
	w, h := rs.Size()

	prog.apply(u)
	rl.BeginTextureMode(rs.target)
	rl.ClearBackground(rl.Black)
	rl.BeginShaderMode(prog.shader)
	rl.DrawRectangle(0, 0, int32(w), int32(h), rl.White)
	rl.EndShaderMode()
	rl.EndTextureMode()
	return nil
}

func (b *Backend) Fill(s render.Surface, c color.RGBA) error {
	rs := s.(*surface)
	rl.BeginTextureMode(rs.target)
	rl.ClearBackground(rl.NewColor(c.R, c.G, c.B, 255))
	rl.EndTextureMode()
	return nil
}

func (b *Backend) Blit(s render.Surface, t render.Texture) error {
	rs := s.(*surface)
	tex := t.(*texture).tex
	w, h := rs.Size()

	rl.BeginTextureMode(rs.target)
	rl.ClearBackground(rl.Black)
	rl.DrawTexturePro(tex,
		rl.NewRectangle(0, 0, float32(tex.Width), float32(tex.Height)),
		rl.NewRectangle(0, 0, float32(w), float32(h)),
		rl.NewVector2(0, 0), 0, rl.White)
	rl.EndTextureMode()
	return nil
}

func (b *Backend) Present(s render.Surface) error {
	s.(*surface).drawn = true
	return nil
}

// EndFrame composites every surface into the window and swaps buffers.
func (b *Backend) EndFrame() error {
	rl.BeginDrawing()
	rl.ClearBackground(rl.Black)

	for _, s := range b.ordered() {
		if !s.drawn {
			continue
		}
		w, h := float32(s.geometry.Width), float32(s.geometry.Height)
		x := float32(s.geometry.X - b.opts.Bounds.X)
		y := float32(s.geometry.Y - b.opts.Bounds.Y)
		// Render textures are stored upside down.
		rl.DrawTexturePro(s.target.Texture,
			rl.NewRectangle(0, 0, w, -h),
			rl.NewRectangle(x, y, w, h),
			rl.NewVector2(0, 0), 0, rl.White)
	}

	if b.overlay != nil {
		b.overlay.draw(b.ordered(), b.opts.Bounds)
	}
	rl.EndDrawing()
	return nil
}

func (b *Backend) ordered() []*surface {
	out := make([]*surface, 0, len(b.surfaces))
	for s := range b.surfaces {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Annotate sets the debug overlay text of a display.
func (b *Backend) Annotate(id display.ID, text string) {
	if b.overlay != nil {
		b.overlay.annotate(id, text)
	}
}

func (b *Backend) Wake() <-chan struct{} { return b.wake }

// Poll runs queued GPU work and processes window events.
func (b *Backend) Poll() {
	for {
		select {
		case j := <-b.jobs:
			j.run()
			close(j.done)
			continue
		default:
		}
		break
	}

	b.releaseMu.Lock()
	releases := b.releases
	b.releases = nil
	b.releaseMu.Unlock()
	for _, sh := range releases {
		rl.UnloadShader(sh)
	}

	rl.PollInputEvents()
}

func (b *Backend) Closed() bool { return rl.WindowShouldClose() }

// Close releases every surface and closes the window.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		b.Poll()
		for s := range b.surfaces {
			rl.UnloadRenderTexture(s.target)
		}
		b.surfaces = nil
		rl.CloseWindow()
	})
	return nil
}
