package shader

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// GLSLVersion is the language version every program is compiled against.
const GLSLVersion = "#version 330"

// Built-in uniform names shared by every program.
const (
	UniformTime       = "iTime"
	UniformResolution = "iResolution"
	UniformParams     = "iParams"
)

// ErrNoEntryPoint is returned when the body has neither mainImage nor main.
var ErrNoEntryPoint = errors.New("shader defines neither mainImage nor main")

// ErrConstDeclaration is returned when a parameter constant is not declared
// alone on one line, so it cannot be commented out without breaking the body.
var ErrConstDeclaration = errors.New("parameter constant must be a single one-line declaration")

var (
	versionRe    = regexp.MustCompile(`^\s*#version\b`)
	builtinRe    = regexp.MustCompile(`^\s*uniform\s+\w+\s+(iTime|iResolution)\s*;`)
	mainImageRe  = regexp.MustCompile(`\bvoid\s+mainImage\s*\(`)
	plainMainRe  = regexp.MustCompile(`\bvoid\s+main\s*\(\s*(void)?\s*\)`)
	constDeclFmt = `^\s*const\s+(float|int)\s+([^;/]*[,\s])?%s\s*=([^=]|$)`
	constLineRe  = regexp.MustCompile(`^\s*const\s+(float|int)\s+\w+\s*=([^;]*);\s*(//.*)?$`)
)

// singleConst reports whether line declares exactly one constant and nothing
// else, the only shape that can be commented out whole.
func singleConst(line string) bool {
	m := constLineRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
	if m == nil || strings.TrimSpace(m[2]) == "" {
		return false
	}
	depth := 0
	for _, r := range m[2] {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				return false
			}
		}
	}
	return depth == 0
}

// Program is the compilable fragment source derived from a shader.
type Program struct {
	Fragment string
	// LineOffset is the number of lines inserted before the body.
	LineOffset int
	// Params is the uniform array length; zero means no iParams uniform.
	Params int
}

// SourceLine maps a line reported by the compiler back to the shader file.
// Lines inside the generated preamble map to 0.
func (p *Program) SourceLine(compilerLine int) int {
	l := compilerLine - p.LineOffset
	if l < 1 {
		return 0
	}
	return l
}

// Preprocess builds the fragment program for s: the preamble declaring the
// built-in uniforms and the parameter array, one #define per parameter, the
// body with its parameter constants commented out, and a main() that calls
// mainImage when the body uses that entry point. Body line count is preserved.
//
// Each #define replaces every use of the parameter's name in the body,
// including struct fields and function arguments that share it.
func Preprocess(s *Shader) (*Program, error) {
	params := s.Descriptor.Parameters

	var pre strings.Builder
	pre.WriteString(GLSLVersion + "\n")
	pre.WriteString("in vec2 fragTexCoord;\n")
	pre.WriteString("in vec4 fragColor;\n")
	pre.WriteString("out vec4 finalColor;\n")
	pre.WriteString("uniform float " + UniformTime + ";\n")
	pre.WriteString("uniform vec2 " + UniformResolution + ";\n")
	if len(params) > 0 {
		fmt.Fprintf(&pre, "uniform float %s[%d];\n", UniformParams, len(params))
	}
	for i, p := range params {
		if p.Kind == KindInt {
			fmt.Fprintf(&pre, "#define %s int(%s[%d])\n", p.Name, UniformParams, i)
		} else {
			fmt.Fprintf(&pre, "#define %s %s[%d]\n", p.Name, UniformParams, i)
		}
	}

	constRes := make([]*regexp.Regexp, len(params))
	for i, p := range params {
		constRes[i] = regexp.MustCompile(fmt.Sprintf(constDeclFmt, regexp.QuoteMeta(p.Name)))
	}

	body := strings.TrimPrefix(s.Body, "\ufeff")
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		switch {
		case versionRe.MatchString(line), builtinRe.MatchString(line):
			lines[i] = "// " + line
			continue
		}
		for j, re := range constRes {
			if !re.MatchString(line) {
				continue
			}
			if !singleConst(line) {
				return nil, fmt.Errorf("line %d: %s: %w", i+1, params[j].Name, ErrConstDeclaration)
			}
			lines[i] = "// " + line
			break
		}
	}

	var out strings.Builder
	out.WriteString(pre.String())
	out.WriteString(strings.Join(lines, "\n"))
	if !strings.HasSuffix(body, "\n") {
		out.WriteByte('\n')
	}

	switch {
	case mainImageRe.MatchString(body):
		out.WriteString("void main() {\n")
		out.WriteString("    mainImage(finalColor, gl_FragCoord.xy);\n")
		out.WriteString("}\n")
	case plainMainRe.MatchString(body):
	default:
		return nil, ErrNoEntryPoint
	}

	return &Program{
		Fragment:   out.String(),
		LineOffset: strings.Count(pre.String(), "\n"),
		Params:     len(params),
	}, nil
}
