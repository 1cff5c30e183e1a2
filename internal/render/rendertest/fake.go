// Package rendertest provides an in-memory render backend with scriptable
// failures.
package rendertest

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"linux-shaderpaper/internal/display"
	"linux-shaderpaper/internal/render"
	"linux-shaderpaper/internal/shader"
)

// Surface is a fake surface.
type Surface struct {
	Serial   int
	ID       display.ID
	Geometry display.Geometry
}

func (s *Surface) Display() display.ID { return s.ID }
func (s *Surface) Size() (int, int)    { return s.Geometry.Width, s.Geometry.Height }

// Program is a fake compiled program.
type Program struct {
	Serial int
	Source *shader.Program
}

func (p *Program) Params() int { return p.Source.Params }

// Texture is a fake uploaded image.
type Texture struct {
	Serial int
	Bounds image.Rectangle
}

func (t *Texture) Size() (int, int) { return t.Bounds.Dx(), t.Bounds.Dy() }

// Draw is one recorded draw call.
type Draw struct {
	Display  display.ID
	Kind     string
	Color    color.RGBA
	Uniforms shader.Uniforms
	Program  int
}

// Backend records every call. Fields prefixed with Fail inject errors; each
// queued error is consumed by one call.
type Backend struct {
	mu sync.Mutex

	serial   int
	surfaces map[int]*Surface
	programs map[int]*Program
	textures map[int]*Texture

	Draws    []Draw
	Frames   int
	Compiles int

	// CompileErr, when set, is returned by every CompileProgram call.
	CompileErr error
	// CompileDelay blocks CompileProgram, honouring the context.
	CompileDelay time.Duration
	// FailAcquire queues errors returned by Acquire for a display.
	FailAcquire map[display.ID][]error
	// FailCreate queues errors returned by CreateSurface for a display.
	FailCreate map[display.ID][]error
	FailUpload []error

	closed bool
}

var _ render.Backend = (*Backend)(nil)

// New returns an empty fake backend.
func New() *Backend {
	return &Backend{
		surfaces:    make(map[int]*Surface),
		programs:    make(map[int]*Program),
		textures:    make(map[int]*Texture),
		FailAcquire: make(map[display.ID][]error),
		FailCreate:  make(map[display.ID][]error),
	}
}

func pop(q map[display.ID][]error, id display.ID) error {
	errs := q[id]
	if len(errs) == 0 {
		return nil
	}
	q[id] = errs[1:]
	return errs[0]
}

func (b *Backend) next() int {
	b.serial++
	return b.serial
}

// Lost returns a surface-lost error for id.
func Lost(id display.ID) error { return &render.SurfaceError{Display: id, Lost: true} }

// Timeout returns a surface-timeout error for id.
func Timeout(id display.ID) error { return &render.SurfaceError{Display: id, Timeout: true} }

// OutOfMemory returns a resource exhaustion error for id.
func OutOfMemory(id display.ID) error {
	return &render.ResourceExhaustedError{Display: id, Resource: "render target"}
}

func (b *Backend) CreateSurface(id display.ID, g display.Geometry) (render.Surface, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := pop(b.FailCreate, id); err != nil {
		return nil, err
	}
	s := &Surface{Serial: b.next(), ID: id, Geometry: g}
	b.surfaces[s.Serial] = s
	return s, nil
}

func (b *Backend) ResizeSurface(s render.Surface, g display.Geometry) (render.Surface, error) {
	b.mu.Lock()
	if old, ok := s.(*Surface); ok && old != nil {
		delete(b.surfaces, old.Serial)
	}
	b.mu.Unlock()
	return b.CreateSurface(s.Display(), g)
}

func (b *Backend) DestroySurface(s render.Surface) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.surfaces, s.(*Surface).Serial)
}

func (b *Backend) CompileProgram(ctx context.Context, p *shader.Program) (render.Program, error) {
	if b.CompileDelay > 0 {
		select {
		case <-time.After(b.CompileDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Compiles++
	if b.CompileErr != nil {
		return nil, b.CompileErr
	}
	prog := &Program{Serial: b.next(), Source: p}
	b.programs[prog.Serial] = prog
	return prog, nil
}

func (b *Backend) ReleaseProgram(p render.Program) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.programs, p.(*Program).Serial)
}

func (b *Backend) UploadImage(img image.Image) (render.Texture, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.FailUpload) > 0 {
		err := b.FailUpload[0]
		b.FailUpload = b.FailUpload[1:]
		return nil, err
	}
	t := &Texture{Serial: b.next(), Bounds: img.Bounds()}
	b.textures[t.Serial] = t
	return t, nil
}

func (b *Backend) ReleaseTexture(t render.Texture) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.textures, t.(*Texture).Serial)
}

func (b *Backend) BeginFrame() error { return nil }

func (b *Backend) Acquire(s render.Surface, timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	fs := s.(*Surface)
	if _, ok := b.surfaces[fs.Serial]; !ok {
		return &render.SurfaceError{Display: fs.ID, Lost: true, Err: fmt.Errorf("surface %d destroyed", fs.Serial)}
	}
	return pop(b.FailAcquire, fs.ID)
}

func (b *Backend) DrawShader(s render.Surface, p render.Program, u shader.Uniforms) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	prog := p.(*Program)
	if _, ok := b.programs[prog.Serial]; !ok {
		return fmt.Errorf("program %d used after release", prog.Serial)
	}
	b.Draws = append(b.Draws, Draw{Display: s.Display(), Kind: "shader", Uniforms: u, Program: prog.Serial})
	return nil
}

func (b *Backend) Fill(s render.Surface, c color.RGBA) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Draws = append(b.Draws, Draw{Display: s.Display(), Kind: "fill", Color: c})
	return nil
}

func (b *Backend) Blit(s render.Surface, t render.Texture) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Draws = append(b.Draws, Draw{Display: s.Display(), Kind: "image"})
	return nil
}

func (b *Backend) Present(s render.Surface) error { return nil }

func (b *Backend) EndFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Frames++
	return nil
}

func (b *Backend) Wake() <-chan struct{} { return nil }
func (b *Backend) Poll()                 {}

func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// SetClosed simulates the window being closed.
func (b *Backend) SetClosed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func (b *Backend) Close() error { return nil }

// Live returns the number of live surfaces, programs and textures.
func (b *Backend) Live() (surfaces, programs, textures int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.surfaces), len(b.programs), len(b.textures)
}

// CompileCount returns the number of CompileProgram calls.
func (b *Backend) CompileCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Compiles
}

// DrawsFor returns the recorded draws of one display.
func (b *Backend) DrawsFor(id display.ID) []Draw {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Draw
	for _, d := range b.Draws {
		if d.Display == id {
			out = append(out, d)
		}
	}
	return out
}

// Last returns the last draw of a display.
func (b *Backend) Last(id display.ID) (Draw, bool) {
	draws := b.DrawsFor(id)
	if len(draws) == 0 {
		return Draw{}, false
	}
	return draws[len(draws)-1], true
}

// QueueAcquire queues Acquire errors for a display.
func (b *Backend) QueueAcquire(id display.ID, errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.FailAcquire[id] = append(b.FailAcquire[id], errs...)
}

// QueueCreate queues CreateSurface errors for a display.
func (b *Backend) QueueCreate(id display.ID, errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.FailCreate[id] = append(b.FailCreate[id], errs...)
}

// SetCompileErr makes every later compile fail with err.
func (b *Backend) SetCompileErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CompileErr = err
}
