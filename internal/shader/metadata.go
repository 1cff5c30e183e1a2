package shader

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Sentinel lines delimiting the metadata block and its parameter sub-block.
// They are matched after stripping the leading "//" and surrounding space.
const (
	BlockOpen   = "@shaderpaper"
	BlockClose  = "@end shaderpaper"
	ParamsOpen  = "@params"
	ParamsClose = "@end params"
)

// Kind is the numeric type of a parameter.
type Kind int

const (
	KindFloat Kind = iota
	KindInt
)

func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	}
	return "unknown"
}

// MarshalYAML renders the kind as its directive token.
func (k Kind) MarshalYAML() (interface{}, error) { return k.String(), nil }

func parseKind(s string) (Kind, bool) {
	switch s {
	case "float":
		return KindFloat, true
	case "int":
		return KindInt, true
	}
	return 0, false
}

// ParameterSpec describes one tunable constant of a shader.
type ParameterSpec struct {
	Name    string  `yaml:"name"`
	Kind    Kind    `yaml:"kind"`
	Default float64 `yaml:"default"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	Step    float64 `yaml:"step"`
	Label   string  `yaml:"label"`
}

// Clamp limits v to [Min, Max]. Int parameters are rounded first.
func (p ParameterSpec) Clamp(v float64) float64 {
	if p.Kind == KindInt {
		v = math.Round(v)
	}
	return math.Max(p.Min, math.Min(p.Max, v))
}

// Descriptor is the metadata extracted from a shader's leading comment block.
type Descriptor struct {
	Name        string          `yaml:"name,omitempty"`
	Author      string          `yaml:"author,omitempty"`
	SourceURL   string          `yaml:"source,omitempty"`
	License     string          `yaml:"license,omitempty"`
	Description string          `yaml:"description,omitempty"`
	Parameters  []ParameterSpec `yaml:"parameters"`
}

// Parameter looks a parameter up by name.
func (d *Descriptor) Parameter(name string) (ParameterSpec, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterSpec{}, false
}

// Shader is a parsed shader file: its descriptor and the untouched source that
// is handed to the compiler.
type Shader struct {
	Path       string
	Descriptor Descriptor
	Body       string
	// HasMetadata reports whether a metadata block was found.
	HasMetadata bool
}

// MetadataParseError is returned for any malformed metadata. Line is 1-based.
type MetadataParseError struct {
	Path string
	Line int
	Msg  string
}

func (e *MetadataParseError) Error() string {
	where := e.Path
	if where == "" {
		where = "shader"
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: metadata: %s", where, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: metadata: %s", where, e.Msg)
}

var (
	identRe   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	decimalRe = regexp.MustCompile(`^[+-]?([0-9]+(\.[0-9]*)?|\.[0-9]+)([eE][+-]?[0-9]+)?$`)
	integerRe = regexp.MustCompile(`^[+-]?[0-9]+$`)
)

// MaxInt bounds int parameter values. They reach the shader as float32,
// which holds every integer up to 2^24 exactly.
const MaxInt = 1 << 24


func parseNumber(kind Kind, s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch kind {
	case KindInt:
		if !integerRe.MatchString(s) {
			return 0, fmt.Errorf("%q is not an integer", s)
		}
	default:
		if !decimalRe.MatchString(s) {
			return 0, fmt.Errorf("%q is not a decimal number", s)
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || (kind == KindInt && math.Abs(v) > MaxInt) {
		return 0, fmt.Errorf("%q is out of range", s)
	}
	return v, nil
}

// ParseFile reads and parses a shader file.
func ParseFile(path string) (*Shader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Parse(string(data))
	if err != nil {
		if mpe, ok := err.(*MetadataParseError); ok {
			mpe.Path = path
		}
		return nil, err
	}
	s.Path = path
	return s, nil
}

// commentText returns the text of a "//" line comment, or false for code.
func commentText(line string) (string, bool) {
	t := strings.TrimSpace(line)
	if !strings.HasPrefix(t, "//") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(t, "//")), true
}

// Parse extracts the descriptor from source. It is pure and safe for
// concurrent use. A shader without a metadata block parses to an empty
// descriptor.
func Parse(source string) (*Shader, error) {
	source = strings.TrimPrefix(source, "\ufeff")
	lines := strings.Split(source, "\n")

	shader := &Shader{Body: source}

	start := -1
	for i, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		text, ok := commentText(line)
		if !ok {
			break // first code line; no leading block
		}
		if text == BlockOpen {
			start = i
			break
		}
	}
	if start < 0 {
		return shader, nil
	}
	shader.HasMetadata = true

	inParams := false
	closed := false
	seenParams := false
	names := make(map[string]bool)

	for i := start + 1; i < len(lines); i++ {
		lineNo := i + 1
		text, ok := commentText(strings.TrimRight(lines[i], "\r"))
		if !ok {
			if strings.TrimSpace(lines[i]) == "" {
				continue
			}
			return nil, &MetadataParseError{Line: lineNo, Msg: "code line inside metadata block (missing " + BlockClose + ")"}
		}

		switch text {
		case BlockOpen:
			return nil, &MetadataParseError{Line: lineNo, Msg: "nested " + BlockOpen}
		case BlockClose:
			if inParams {
				return nil, &MetadataParseError{Line: lineNo, Msg: BlockClose + " before " + ParamsClose}
			}
			closed = true
		case ParamsOpen:
			if inParams || seenParams {
				return nil, &MetadataParseError{Line: lineNo, Msg: "duplicate " + ParamsOpen}
			}
			inParams, seenParams = true, true
			continue
		case ParamsClose:
			if !inParams {
				return nil, &MetadataParseError{Line: lineNo, Msg: ParamsClose + " without " + ParamsOpen}
			}
			inParams = false
			continue
		}
		if closed {
			break
		}
		if text == "" {
			continue
		}

		if inParams {
			spec, err := ParseDirective(text)
			if err != nil {
				return nil, &MetadataParseError{Line: lineNo, Msg: err.Error()}
			}
			if names[spec.Name] {
				return nil, &MetadataParseError{Line: lineNo, Msg: fmt.Sprintf("duplicate parameter %q", spec.Name)}
			}
			names[spec.Name] = true
			shader.Descriptor.Parameters = append(shader.Descriptor.Parameters, spec)
			continue
		}

		key, value, found := strings.Cut(text, ":")
		if !found {
			continue // free text
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "name":
			shader.Descriptor.Name = value
		case "author":
			shader.Descriptor.Author = value
		case "source", "source_url", "url":
			shader.Descriptor.SourceURL = value
		case "license":
			shader.Descriptor.License = value
		case "description":
			shader.Descriptor.Description = value
		}
	}

	if !closed {
		return nil, &MetadataParseError{Line: start + 1, Msg: "unterminated metadata block (missing " + BlockClose + ")"}
	}
	return shader, nil
}

// ParseDirective parses one "name: kind = default | key: value ..." line.
func ParseDirective(line string) (ParameterSpec, error) {
	fields := strings.Split(line, "|")

	head := strings.TrimSpace(fields[0])
	name, rest, ok := strings.Cut(head, ":")
	if !ok {
		return ParameterSpec{}, fmt.Errorf("directive %q: expected \"name: kind = default\"", head)
	}
	name = strings.TrimSpace(name)
	if !identRe.MatchString(name) {
		return ParameterSpec{}, fmt.Errorf("invalid parameter name %q", name)
	}
	if reservedName(name) {
		return ParameterSpec{}, fmt.Errorf("parameter name %q is reserved in GLSL", name)
	}

	kindTok, defTok, ok := strings.Cut(rest, "=")
	if !ok {
		return ParameterSpec{}, fmt.Errorf("parameter %s: missing \"= default\"", name)
	}
	kindTok = strings.TrimSpace(kindTok)
	if kindTok == "" {
		return ParameterSpec{}, fmt.Errorf("parameter %s: missing kind", name)
	}
	kind, ok := parseKind(kindTok)
	if !ok {
		return ParameterSpec{}, fmt.Errorf("parameter %s: unknown kind %q (want float or int)", name, kindTok)
	}
	if strings.TrimSpace(defTok) == "" {
		return ParameterSpec{}, fmt.Errorf("parameter %s: missing default", name)
	}
	def, err := parseNumber(kind, defTok)
	if err != nil {
		return ParameterSpec{}, fmt.Errorf("parameter %s: default: %w", name, err)
	}

	spec := ParameterSpec{Name: name, Kind: kind, Default: def, Label: name}
	var hasMin, hasMax, hasStep bool

	for _, f := range fields[1:] {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		key, value, ok := strings.Cut(f, ":")
		if !ok {
			return ParameterSpec{}, fmt.Errorf("parameter %s: malformed option %q", name, f)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "min", "max", "step":
			v, err := parseNumber(kind, value)
			if err != nil {
				return ParameterSpec{}, fmt.Errorf("parameter %s: %s: %w", name, key, err)
			}
			switch key {
			case "min":
				spec.Min, hasMin = v, true
			case "max":
				spec.Max, hasMax = v, true
			case "step":
				spec.Step, hasStep = v, true
			}
		case "label":
			if value != "" {
				spec.Label = value
			}
		}
	}

	limit := math.MaxFloat64
	if kind == KindInt {
		limit = MaxInt
	}
	if !hasMin {
		spec.Min = 0
		if def < 0 {
			spec.Min = math.Max(2*def, -limit)
		}
	}
	if !hasMax {
		spec.Max = 1
		if def > 0 {
			spec.Max = math.Min(2*def, limit)
		}
		if spec.Max < spec.Min {
			spec.Max = spec.Min
		}
	}
	if !hasStep {
		if kind == KindInt {
			spec.Step = 1
		} else {
			// Divided first so the span of a huge range cannot overflow.
			spec.Step = spec.Max/100 - spec.Min/100
			if spec.Step <= 0 {
				spec.Step = 0.01
			}
		}
	}

	if err := spec.Validate(); err != nil {
		return ParameterSpec{}, err
	}
	return spec, nil
}

// Validate checks the range invariants of a parameter and that it can be
// written back out as a directive.
func (p ParameterSpec) Validate() error {
	for _, v := range []float64{p.Default, p.Min, p.Max, p.Step} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("parameter %s: %v is not a finite number", p.Name, v)
		}
		if p.Kind == KindInt && math.Abs(v) > MaxInt {
			return fmt.Errorf("parameter %s: %v exceeds the int range of ±%d", p.Name, v, MaxInt)
		}
	}
	if strings.ContainsAny(p.Label, "|\r\n") {
		return fmt.Errorf("parameter %s: label %q may not contain '|' or a line break", p.Name, p.Label)
	}
	if p.Min > p.Max {
		return fmt.Errorf("parameter %s: min %v > max %v", p.Name, p.Min, p.Max)
	}
	if p.Default < p.Min || p.Default > p.Max {
		return fmt.Errorf("parameter %s: default %v outside [%v, %v]", p.Name, p.Default, p.Min, p.Max)
	}
	if !(p.Step > 0) {
		return fmt.Errorf("parameter %s: step must be > 0, got %v", p.Name, p.Step)
	}
	return nil
}
