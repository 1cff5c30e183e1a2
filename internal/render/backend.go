package render

import (
	"context"
	"image"
	"image/color"
	"time"

	"linux-shaderpaper/internal/display"
	"linux-shaderpaper/internal/shader"
)

// AcquireTimeout bounds how long a frame waits for a surface.
const AcquireTimeout = 100 * time.Millisecond

// Surface is a backend-owned render target for one display.
type Surface interface {
	Display() display.ID
	Size() (width, height int)
}

// Program is a compiled shader program.
type Program interface {
	// Params is the length of the parameter uniform array.
	Params() int
}

// Texture is an uploaded image.
type Texture interface {
	Size() (width, height int)
}

// Backend is the GPU side of the renderer. Except for CompileProgram and
// ReleaseProgram, methods are called from the render goroutine only.
type Backend interface {
	CreateSurface(id display.ID, g display.Geometry) (Surface, error)
	ResizeSurface(s Surface, g display.Geometry) (Surface, error)
	DestroySurface(s Surface)

	// CompileProgram may be called from any goroutine. A failure is a
	// *CompilationError with compiler line numbers.
	CompileProgram(ctx context.Context, p *shader.Program) (Program, error)
	ReleaseProgram(p Program)

	UploadImage(img image.Image) (Texture, error)
	ReleaseTexture(t Texture)

	BeginFrame() error
	// Acquire readies s for drawing. A busy surface returns a timeout
	// *SurfaceError after at most timeout.
	Acquire(s Surface, timeout time.Duration) error
	DrawShader(s Surface, p Program, u shader.Uniforms) error
	Fill(s Surface, c color.RGBA) error
	Blit(s Surface, t Texture) error
	Present(s Surface) error
	EndFrame() error

	// Wake is signalled when work queued from other goroutines needs the
	// render goroutine; Poll runs it. Backends without such work return nil.
	Wake() <-chan struct{}
	Poll()
	// Closed reports that the backend's window was closed.
	Closed() bool
	Close() error
}
