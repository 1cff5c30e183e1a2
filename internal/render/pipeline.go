package render

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"linux-shaderpaper/internal/shader"
	"linux-shaderpaper/internal/utils"
)

// Pipeline is a fully built shader wallpaper: parsed source, live values and
// the compiled program. It is immutable apart from its values.
type Pipeline struct {
	Path    string
	Shader  *shader.Shader
	Source  *shader.Program
	Program Program
	Values  *shader.Values
	// Ignored lists override names that are not in the schema.
	Ignored []string
}

// Name is the display name of the shader.
func (p *Pipeline) Name() string {
	if p.Shader != nil && p.Shader.Descriptor.Name != "" {
		return p.Shader.Descriptor.Name
	}
	return p.Path
}

// Build parses, preprocesses and compiles the shader at path and loads
// overrides into its values. It does not touch any display and may run on
// any goroutine.
func Build(ctx context.Context, b Backend, path string, overrides map[string]float64) (*Pipeline, error) {
	s, err := shader.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return BuildShader(ctx, b, s, overrides)
}

// BuildShader is Build for an already parsed shader.
func BuildShader(ctx context.Context, b Backend, s *shader.Shader, overrides map[string]float64) (*Pipeline, error) {
	src, err := shader.Preprocess(s)
	if err != nil {
		return nil, &CompilationError{Path: s.Path, Log: err.Error()}
	}

	values := shader.NewValues(s.Descriptor)
	ignored := values.Load(overrides)
	for _, name := range ignored {
		utils.L().Warn("ignoring override", zap.String("shader", s.Path), zap.String("parameter", name))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prog, err := b.CompileProgram(ctx, src)
	if err != nil {
		var ce *CompilationError
		if errors.As(err, &ce) {
			mapped := *ce
			mapped.Path = s.Path
			mapped.Line = src.SourceLine(ce.Line)
			return nil, &mapped
		}
		return nil, fmt.Errorf("compile %s: %w", s.Path, err)
	}

	return &Pipeline{
		Path:    s.Path,
		Shader:  s,
		Source:  src,
		Program: prog,
		Values:  values,
		Ignored: ignored,
	}, nil
}
