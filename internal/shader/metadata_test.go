package shader

import (
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bundled = filepath.Join("..", "..", "assets", "shaders")

func TestParse_RainbowBar(t *testing.T) {
	s, err := ParseFile(filepath.Join(bundled, "rainbow_bar.frag"))
	require.NoError(t, err)
	require.True(t, s.HasMetadata)
	assert.Equal(t, "Rainbow Bar", s.Descriptor.Name)
	assert.Equal(t, "CC BY-NC-SA 3.0", s.Descriptor.License)

	want := []struct {
		name string
		def  float64
	}{
		{"speed", 1.0},
		{"height", 0.05},
		{"backlight", 0.6},
		{"brightness", 0.33},
		{"glow", 1.25},
	}
	require.Len(t, s.Descriptor.Parameters, len(want))
	for i, w := range want {
		p := s.Descriptor.Parameters[i]
		assert.Equal(t, w.name, p.Name)
		assert.Equal(t, w.def, p.Default, p.Name)
		assert.Equal(t, KindFloat, p.Kind, p.Name)
	}
}

func TestParse_StrangeWaveLayers(t *testing.T) {
	s, err := ParseFile(filepath.Join(bundled, "strange_wave.frag"))
	require.NoError(t, err)

	layers, ok := s.Descriptor.Parameter("layers")
	require.True(t, ok)
	assert.Equal(t, KindInt, layers.Kind)
	assert.Equal(t, 15.0, layers.Default)
	assert.Equal(t, 5.0, layers.Min)
	assert.Equal(t, 25.0, layers.Max)
	assert.Equal(t, 1.0, layers.Step)

	v := NewValues(s.Descriptor)
	got, err := v.Set("layers", 100)
	require.NoError(t, err)
	assert.Equal(t, 25.0, got)
	stored, _ := v.Get("layers")
	assert.Equal(t, 25.0, stored)
}

func TestParse_BundledShadersAllValid(t *testing.T) {
	for _, name := range []string{"rainbow_bar.frag", "strange_wave.frag", "frosted_glass.frag"} {
		t.Run(name, func(t *testing.T) {
			s, err := ParseFile(filepath.Join(bundled, name))
			require.NoError(t, err)
			for _, p := range s.Descriptor.Parameters {
				assert.NoError(t, p.Validate())
			}
			_, err = Preprocess(s)
			assert.NoError(t, err)
		})
	}
}

func TestParse_BodyIsUnmodified(t *testing.T) {
	src := "// @shaderpaper\n// name: x\n// @end shaderpaper\nvoid mainImage(out vec4 c, in vec2 p) { c = vec4(1.0); }\n"
	s, err := Parse(src)
	require.NoError(t, err)
	assert.Equal(t, src, s.Body)
}

func TestParse_NoMetadata(t *testing.T) {
	s, err := Parse("// just a comment\nvoid mainImage(out vec4 c, in vec2 p) {}\n")
	require.NoError(t, err)
	assert.False(t, s.HasMetadata)
	assert.Empty(t, s.Descriptor.Parameters)
}

func TestParse_BlockAfterCodeIsIgnored(t *testing.T) {
	src := "float x = 1.0;\n// @shaderpaper\n// @params\n// a: float = 1.0\n// @end params\n// @end shaderpaper\n"
	s, err := Parse(src)
	require.NoError(t, err)
	assert.False(t, s.HasMetadata)
	assert.Empty(t, s.Descriptor.Parameters)
}

func TestParse_RoundTrip(t *testing.T) {
	cases := []string{"rainbow_bar.frag", "strange_wave.frag", "frosted_glass.frag"}
	for _, name := range cases {
		t.Run(name, func(t *testing.T) {
			s, err := ParseFile(filepath.Join(bundled, name))
			require.NoError(t, err)

			again, err := Parse(FormatBlock(s.Descriptor))
			require.NoError(t, err)
			if diff := cmp.Diff(s.Descriptor, again.Descriptor); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}

	synthetic := Descriptor{Parameters: []ParameterSpec{
		{Name: "tiny", Kind: KindFloat, Default: 1e-7, Min: -3.5e-7, Max: 2e-6, Step: 1e-9, Label: "Tiny"},
		{Name: "neg", Kind: KindInt, Default: -3, Min: -10, Max: 10, Step: 2, Label: "neg"},
		{Name: "whole", Kind: KindFloat, Default: 2, Min: 0, Max: 100, Step: 1, Label: "Whole number"},
	}}
	again, err := Parse(FormatBlock(synthetic))
	require.NoError(t, err)
	if diff := cmp.Diff(synthetic, again.Descriptor); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDirective_DefaultRanges(t *testing.T) {
	tests := []struct {
		line string
		want ParameterSpec
	}{
		{
			line: "speed: float = 1.5",
			want: ParameterSpec{Name: "speed", Kind: KindFloat, Default: 1.5, Min: 0, Max: 3, Step: 0.03, Label: "speed"},
		},
		{
			line: "offset: float = -2.0",
			want: ParameterSpec{Name: "offset", Kind: KindFloat, Default: -2, Min: -4, Max: 1, Step: 0.05, Label: "offset"},
		},
		{
			line: "zero: float = 0.0",
			want: ParameterSpec{Name: "zero", Kind: KindFloat, Default: 0, Min: 0, Max: 1, Step: 0.01, Label: "zero"},
		},
		{
			line: "count: int = 4 | label: Count",
			want: ParameterSpec{Name: "count", Kind: KindInt, Default: 4, Min: 0, Max: 8, Step: 1, Label: "Count"},
		},
		{
			line: "blend: float = 0.5 | max: 0.75 | colour: red",
			want: ParameterSpec{Name: "blend", Kind: KindFloat, Default: 0.5, Min: 0, Max: 0.75, Step: 0.0075, Label: "blend"},
		},
		{
			line: "big: int = 10000000",
			want: ParameterSpec{Name: "big", Kind: KindInt, Default: 1e7, Min: 0, Max: MaxInt, Step: 1, Label: "big"},
		},
		{
			line: "low: int = -16777216",
			want: ParameterSpec{Name: "low", Kind: KindInt, Default: -MaxInt, Min: -MaxInt, Max: 1, Step: 1, Label: "low"},
		},
		{
			line: "label: float = 0.5 | label: Speed: fast (x2)",
			want: ParameterSpec{Name: "label", Kind: KindFloat, Default: 0.5, Min: 0, Max: 1, Step: 0.01, Label: "Speed: fast (x2)"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseDirective(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want.Name, got.Name)
			assert.Equal(t, tt.want.Kind, got.Kind)
			assert.Equal(t, tt.want.Label, got.Label)
			assert.InDelta(t, tt.want.Default, got.Default, 1e-12)
			assert.InDelta(t, tt.want.Min, got.Min, 1e-12)
			assert.InDelta(t, tt.want.Max, got.Max, 1e-12)
			assert.InDelta(t, tt.want.Step, got.Step, 1e-12)
		})
	}
}

func TestParseDirective_HugeFloatStaysFinite(t *testing.T) {
	got, err := ParseDirective("huge: float = 1e308")
	require.NoError(t, err)
	assert.Equal(t, math.MaxFloat64, got.Max)
	assert.False(t, math.IsInf(got.Step, 0))
	assert.Greater(t, got.Step, 0.0)

	again, err := ParseDirective(FormatParameter(got))
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestParameterSpec_ValidateRejectsUnwritable(t *testing.T) {
	ok := ParameterSpec{Name: "a", Kind: KindFloat, Default: 0.5, Min: 0, Max: 1, Step: 0.1, Label: "a"}
	require.NoError(t, ok.Validate())

	tests := []struct {
		name string
		edit func(*ParameterSpec)
	}{
		{"pipe in label", func(p *ParameterSpec) { p.Label = "fast | slow" }},
		{"newline in label", func(p *ParameterSpec) { p.Label = "fast\nslow" }},
		{"carriage return in label", func(p *ParameterSpec) { p.Label = "fast\rslow" }},
		{"int beyond float32", func(p *ParameterSpec) { p.Kind, p.Default, p.Min, p.Max, p.Step = KindInt, 0, 0, 1e19, 1 }},
		{"infinite max", func(p *ParameterSpec) { p.Max = math.Inf(1) }},
		{"nan default", func(p *ParameterSpec) { p.Default = math.NaN() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ok
			tt.edit(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestFormatParameter_LabelIsVerbatim(t *testing.T) {
	p := ParameterSpec{Name: "speed", Kind: KindFloat, Default: 1, Min: 0, Max: 2, Step: 0.5, Label: "Speed: a/b (x2)"}
	line := FormatParameter(p)
	assert.True(t, strings.HasSuffix(line, " | label: Speed: a/b (x2)"), line)

	again, err := ParseDirective(line)
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

func TestFormatParameter_IntBoundsRoundTrip(t *testing.T) {
	p := ParameterSpec{Name: "wide", Kind: KindInt, Default: MaxInt, Min: -MaxInt, Max: MaxInt, Step: 1, Label: "wide"}
	line := FormatParameter(p)
	assert.Contains(t, line, "max: 16777216")

	again, err := ParseDirective(line)
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

func block(paramLines ...string) string {
	var sb strings.Builder
	sb.WriteString("// @shaderpaper\n// name: broken\n// @params\n")
	for _, l := range paramLines {
		sb.WriteString("// " + l + "\n")
	}
	sb.WriteString("// @end params\n// @end shaderpaper\nvoid mainImage(out vec4 c, in vec2 p) {}\n")
	return sb.String()
}

func TestParse_FailsWholeParse(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
	}{
		{"unknown kind", block("a: double = 1.0"), 4},
		{"missing default", block("a: float"), 4},
		{"empty default", block("a: float = "), 4},
		{"missing kind", block("a: = 1.0"), 4},
		{"bad name", block("1a: float = 1.0"), 4},
		{"non decimal", block("a: float = 0x10"), 4},
		{"int with fraction", block("a: int = 1.5"), 4},
		{"int min with fraction", block("a: int = 1 | min: 0.5"), 4},
		{"min above max", block("a: float = 1.0 | min: 2.0 | max: 1.0"), 4},
		{"default out of range", block("a: float = 5.0 | min: 0.0 | max: 1.0"), 4},
		{"zero step", block("a: float = 0.5 | step: 0.0"), 4},
		{"negative step", block("a: float = 0.5 | step: -0.1"), 4},
		{"malformed option", block("a: float = 0.5 | wat"), 4},
		{"duplicate name", block("a: float = 0.5", "a: float = 0.2"), 5},
		{"builtin function name", block("sin: float = 1.0"), 4},
		{"glsl type name", block("vec2: float = 1.0"), 4},
		{"glsl keyword", block("for: int = 1"), 4},
		{"builtin uniform name", block("iTime: float = 1.0"), 4},
		{"gl prefix", block("gl_Speed: float = 1.0"), 4},
		{"double underscore", block("my__speed: float = 1.0"), 4},
		{"int default beyond float32", block("a: int = 16777217"), 4},
		{"int max beyond int64", block("a: int = 1 | max: 99999999999999999999"), 4},
		{"missing end", "// @shaderpaper\n// name: x\n", 1},
		{"code inside block", "// @shaderpaper\nfloat x;\n// @end shaderpaper\n", 2},
		{"nested open", "// @shaderpaper\n// @shaderpaper\n// @end shaderpaper\n", 2},
		{"close inside params", "// @shaderpaper\n// @params\n// @end shaderpaper\n", 3},
		{"stray params close", "// @shaderpaper\n// @end params\n// @end shaderpaper\n", 2},
		{"duplicate params", "// @shaderpaper\n// @params\n// @end params\n// @params\n// @end params\n// @end shaderpaper\n", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(tt.src)
			require.Error(t, err)
			assert.Nil(t, s)

			var mpe *MetadataParseError
			require.True(t, errors.As(err, &mpe), "got %T", err)
			assert.Equal(t, tt.line, mpe.Line)
		})
	}
}

func TestParseFile_ErrorCarriesPath(t *testing.T) {
	_, err := ParseFile(filepath.Join("testdata", "missing_end.frag"))
	var mpe *MetadataParseError
	require.True(t, errors.As(err, &mpe))
	assert.Contains(t, mpe.Error(), "missing_end.frag:6:")
}
