// Package wallpaper describes what a display shows and turns image
// wallpapers into pixels sized for a display.
package wallpaper

import (
	"errors"
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind is the variant a Spec holds.
type Kind int

const (
	KindNone Kind = iota
	KindShader
	KindImage
	KindColor
)

func (k Kind) String() string {
	switch k {
	case KindShader:
		return "shader"
	case KindImage:
		return "image"
	case KindColor:
		return "color"
	}
	return "none"
}

// Fit is how an image is mapped onto a display.
type Fit string

const (
	// FitFill scales to cover the display and crops the overflow.
	FitFill Fit = "fill"
	// FitFit scales to fit inside the display and letterboxes.
	FitFit     Fit = "fit"
	FitStretch Fit = "stretch"
	// FitCenter draws the image unscaled in the middle.
	FitCenter Fit = "center"
)

// Valid reports whether f is a known fit mode. The empty mode means fill.
func (f Fit) Valid() bool {
	switch f {
	case "", FitFill, FitFit, FitStretch, FitCenter:
		return true
	}
	return false
}

// Shader is a shader wallpaper with parameter overrides.
type Shader struct {
	Path   string             `yaml:"path"`
	Params map[string]float64 `yaml:"params,omitempty"`
}

// Image is a static picture.
type Image struct {
	Path string `yaml:"path"`
	Fit  Fit    `yaml:"fit,omitempty"`
	// Background fills letterbox bars and the area around centred images.
	Background *Color `yaml:"background,omitempty"`
}

// Color is an opaque solid colour, written as #rrggbb in YAML.
type Color color.RGBA

// ParseColor parses #rgb, #rrggbb or #rrggbbaa.
func ParseColor(s string) (Color, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) == 6 {
		h += "ff"
	}
	if len(h) != 8 {
		return Color{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("invalid color %q", s)
	}
	return Color{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

func (c Color) RGBA() color.RGBA { return color.RGBA(c) }

func (c Color) String() string {
	if c.A == 0xff {
		return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
	}
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}

func (c Color) MarshalYAML() (any, error) { return c.String(), nil }

func (c *Color) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseColor(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*c = parsed
	return nil
}

// Spec is what a display shows: exactly one of Shader, Image or Color.
type Spec struct {
	Shader *Shader `yaml:"shader,omitempty"`
	Image  *Image  `yaml:"image,omitempty"`
	Color  *Color  `yaml:"color,omitempty"`
}

var (
	ErrEmptySpec     = errors.New("wallpaper has no shader, image or color")
	ErrAmbiguousSpec = errors.New("wallpaper sets more than one of shader, image and color")
)

// Kind returns the variant set, KindNone for an empty spec.
func (s Spec) Kind() Kind {
	switch {
	case s.Shader != nil:
		return KindShader
	case s.Image != nil:
		return KindImage
	case s.Color != nil:
		return KindColor
	}
	return KindNone
}

// Static reports whether the wallpaper never changes between frames.
func (s Spec) Static() bool {
	k := s.Kind()
	return k == KindImage || k == KindColor
}

// Validate checks that exactly one variant is set and that it is usable.
func (s Spec) Validate() error {
	n := 0
	for _, set := range []bool{s.Shader != nil, s.Image != nil, s.Color != nil} {
		if set {
			n++
		}
	}
	switch {
	case n == 0:
		return ErrEmptySpec
	case n > 1:
		return ErrAmbiguousSpec
	}
	switch {
	case s.Shader != nil && s.Shader.Path == "":
		return errors.New("shader wallpaper without path")
	case s.Image != nil && s.Image.Path == "":
		return errors.New("image wallpaper without path")
	case s.Image != nil && !s.Image.Fit.Valid():
		return fmt.Errorf("unknown fit mode %q", s.Image.Fit)
	}
	return nil
}

// Equal reports whether two specs describe the same wallpaper.
func (s Spec) Equal(o Spec) bool {
	if s.Kind() != o.Kind() {
		return false
	}
	switch s.Kind() {
	case KindShader:
		if s.Shader.Path != o.Shader.Path || len(s.Shader.Params) != len(o.Shader.Params) {
			return false
		}
		for k, v := range s.Shader.Params {
			if ov, ok := o.Shader.Params[k]; !ok || ov != v {
				return false
			}
		}
		return true
	case KindImage:
		return s.Image.Path == o.Image.Path && s.Image.fit() == o.Image.fit() &&
			s.Image.background() == o.Image.background()
	case KindColor:
		return *s.Color == *o.Color
	}
	return true
}

func (s Spec) String() string {
	switch s.Kind() {
	case KindShader:
		return "shader " + s.Shader.Path
	case KindImage:
		return fmt.Sprintf("image %s (%s)", s.Image.Path, s.Image.fit())
	case KindColor:
		return "color " + s.Color.String()
	}
	return "none"
}

func (i *Image) fit() Fit {
	if i.Fit == "" {
		return FitFill
	}
	return i.Fit
}

func (i *Image) background() color.RGBA {
	if i.Background == nil {
		return color.RGBA{A: 0xff}
	}
	return i.Background.RGBA()
}

// ShaderSpec is a shorthand for a shader wallpaper.
func ShaderSpec(path string, params map[string]float64) Spec {
	return Spec{Shader: &Shader{Path: path, Params: params}}
}

// ImageSpec is a shorthand for an image wallpaper.
func ImageSpec(path string, fit Fit) Spec {
	return Spec{Image: &Image{Path: path, Fit: fit}}
}

// ColorSpec is a shorthand for a solid colour wallpaper.
func ColorSpec(c color.RGBA) Spec {
	cc := Color(c)
	return Spec{Color: &cc}
}

// Clone returns a deep copy.
func (s Spec) Clone() Spec {
	var out Spec
	if s.Shader != nil {
		sh := &Shader{Path: s.Shader.Path}
		if s.Shader.Params != nil {
			sh.Params = make(map[string]float64, len(s.Shader.Params))
			for k, v := range s.Shader.Params {
				sh.Params[k] = v
			}
		}
		out.Shader = sh
	}
	if s.Image != nil {
		img := *s.Image
		if s.Image.Background != nil {
			bg := *s.Image.Background
			img.Background = &bg
		}
		out.Image = &img
	}
	if s.Color != nil {
		c := *s.Color
		out.Color = &c
	}
	return out
}
