package rlbackend

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	rl "github.com/gen2brain/raylib-go/raylib"

	"linux-shaderpaper/internal/render"
	"linux-shaderpaper/internal/shader"
	"linux-shaderpaper/internal/utils"
)

var (
	// Mesa: "0:15(19): error: ..."
	mesaLineRe = regexp.MustCompile(`\b\d+:(\d+)\((\d+)\)`)
	// NVIDIA: "0(15) : error C1008: ..."
	nvLineRe = regexp.MustCompile(`\b\d+\((\d+)\)\s*:`)
)

// parseCompilerLog returns the first line and column reported in a GLSL
// compiler log, 0 when absent.
func parseCompilerLog(log string) (line, col int) {
	if m := mesaLineRe.FindStringSubmatch(log); m != nil {
		line, _ = strconv.Atoi(m[1])
		col, _ = strconv.Atoi(m[2])
		return line, col
	}
	if m := nvLineRe.FindStringSubmatch(log); m != nil {
		line, _ = strconv.Atoi(m[1])
		return line, 0
	}
	return 0, 0
}

// logCapture collects raylib SHADER lines while a program is compiled.
type logCapture struct {
	mu    sync.Mutex
	lines []string
}

func (c *logCapture) hook(level int, text string) {
	if !strings.HasPrefix(text, "SHADER:") {
		return
	}
	c.mu.Lock()
	c.lines = append(c.lines, text)
	c.mu.Unlock()
}

// compilerLog returns the compile or link error text, if any.
func (c *logCapture) compilerLog() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []string
	failed := false
	for _, l := range c.lines {
		switch {
		case strings.Contains(l, "Compile error:"), strings.Contains(l, "Link error:"):
			_, msg, _ := strings.Cut(l, "error:")
			errs = append(errs, strings.TrimSpace(msg))
			failed = true
		case strings.Contains(l, "Failed to"):
			failed = true
		}
	}
	if !failed {
		return "", false
	}
	if len(errs) == 0 {
		return strings.Join(c.lines, "\n"), true
	}
	return strings.Join(errs, "\n"), true
}

// usedDefault reports that raylib substituted its default shader, which must
// not be unloaded.
func (c *logCapture) usedDefault() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.lines {
		if strings.Contains(l, "using default shader") {
			return true
		}
	}
	return false
}

type program struct {
	shader    rl.Shader
	params    int
	locTime   int32
	locRes    int32
	locParams int32
}

func (p *program) Params() int { return p.params }

// compile runs on the render thread.
func (b *Backend) compile(src *shader.Program) (prog render.Program, err error) {
	capture := &logCapture{}
	hook := capture.hook
	utils.RaylibLogHook.Store(&hook)
	defer utils.RaylibLogHook.Store(nil)

	var sh rl.Shader
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &render.CompilationError{Log: fmt.Sprint(r)}
			}
		}()
		sh = rl.LoadShaderFromMemory("", src.Fragment)
	}()
	if err != nil {
		return nil, err
	}

	if log, failed := capture.compilerLog(); failed || sh.ID == 0 {
		if sh.ID != 0 && !capture.usedDefault() {
			rl.UnloadShader(sh)
		}
		line, col := parseCompilerLog(log)
		return nil, &render.CompilationError{Line: line, Column: col, Log: log}
	}

	p := &program{
		shader:    sh,
		params:    src.Params,
		locTime:   rl.GetShaderLocation(sh, shader.UniformTime),
		locRes:    rl.GetShaderLocation(sh, shader.UniformResolution),
		locParams: -1,
	}
	if src.Params > 0 {
		// Array uniforms are looked up by their first element.
		p.locParams = rl.GetShaderLocation(sh, shader.UniformParams+"[0]")
		if p.locParams == -1 {
			p.locParams = rl.GetShaderLocation(sh, shader.UniformParams)
		}
	}
	utils.Debug("Shader: compiled program %d (%d params)", sh.ID, src.Params)
	return p, nil
}

// apply uploads the frame uniforms. Uniforms optimised out by the driver have
// location -1 and are skipped.
func (p *program) apply(u shader.Uniforms) {
	if p.locTime != -1 {
		rl.SetShaderValue(p.shader, p.locTime, []float32{u.Time}, rl.ShaderUniformFloat)
	}
	if p.locRes != -1 {
		rl.SetShaderValue(p.shader, p.locRes, u.Resolution[:], rl.ShaderUniformVec2)
	}
	if p.locParams != -1 && len(u.Params) > 0 {
		rl.SetShaderValueV(p.shader, p.locParams, u.Params, rl.ShaderUniformFloat, int32(len(u.Params)))
	}
}
