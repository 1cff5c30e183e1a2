package shader

import (
	"math"
	"strings"
	"text/scanner"
)

// Level is a coarse cost class of a shader.
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	}
	return "unknown"
}

// MarshalYAML renders the level by name.
func (l Level) MarshalYAML() (interface{}, error) { return l.String(), nil }

// Score thresholds between levels.
const (
	mediumScore = 15.0
	highScore   = 40.0
)

// loopIterations is the trip count a loop bound by an int parameter is
// measured against.
const loopIterations = 10.0

// Complexity is a static estimate of how expensive a shader is per pixel.
type Complexity struct {
	Level          Level   `yaml:"level"`
	Score          float64 `yaml:"score"`
	Loops          int     `yaml:"loops"`
	LoopDepth      int     `yaml:"loop_depth"`
	Transcendental int     `yaml:"transcendental"`
	Moderate       int     `yaml:"moderate"`
	Cheap          int     `yaml:"cheap"`
	TextureSamples int     `yaml:"texture_samples"`
	Branches       int     `yaml:"branches"`
	// Multiplier scales the score when an int parameter bounds a loop.
	Multiplier float64 `yaml:"multiplier"`
}

var (
	transcendentalFuncs = wordSet("sin cos tan sinh cosh tanh asin acos atan asinh acosh atanh exp exp2 log log2 pow")
	moderateFuncs       = wordSet("sqrt inversesqrt length normalize reflect refract distance cross faceforward fma")
	cheapFuncs          = wordSet("abs min max clamp floor ceil round roundEven fract trunc sign step smoothstep mix dot outerProduct radians degrees mod modf transpose determinant inverse")
	textureFuncs        = wordSet("texture texture2D textureLod textureGrad textureOffset textureProj texelFetch")
)

func wordSet(s string) map[string]bool {
	m := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		m[w] = true
	}
	return m
}

// Analyze estimates the cost of s from its loops, branches and calls.
// values overrides parameter defaults when weighing loops bound by an int
// parameter; nil uses the defaults.
func Analyze(s *Shader, values map[string]float64) Complexity {
	ints := make(map[string]float64)
	for _, p := range s.Descriptor.Parameters {
		if p.Kind != KindInt {
			continue
		}
		v := p.Default
		if x, ok := values[p.Name]; ok && !math.IsNaN(x) {
			v = x
		}
		ints[p.Name] = p.Clamp(v)
	}

	toks := tokenize(s.Body)
	c := Complexity{Multiplier: 1}

	const (
		plain = iota
		loopBody
		doBody
	)
	var braces []int
	depth := 0
	pending := plain // kind of the next '{'
	headerEnd := -1
	skipWhile := false

	for i, tok := range toks {
		next := ""
		if i+1 < len(toks) {
			next = toks[i+1]
		}
		if i == headerEnd && next != "{" {
			pending = plain
		}

		switch tok {
		case "for", "while":
			if tok == "while" && skipWhile {
				skipWhile = false
				continue
			}
			c.Loops++
			c.LoopDepth = max(c.LoopDepth, depth+1)
			pending = loopBody
			end, idents := header(toks, i+1)
			headerEnd = end
			for _, id := range idents {
				if v, ok := ints[id]; ok {
					c.Multiplier = math.Max(c.Multiplier, v/loopIterations)
				}
			}
		case "do":
			c.Loops++
			c.LoopDepth = max(c.LoopDepth, depth+1)
			pending = plain
			if next == "{" {
				pending = doBody
			}
		case "{":
			braces = append(braces, pending)
			if pending != plain {
				depth++
			}
			pending = plain
		case "}":
			if len(braces) == 0 {
				continue
			}
			kind := braces[len(braces)-1]
			braces = braces[:len(braces)-1]
			if kind != plain {
				depth--
			}
			skipWhile = kind == doBody && next == "while"
		case "if", "case", "default":
			c.Branches++
		default:
			if next != "(" {
				continue
			}
			switch {
			case transcendentalFuncs[tok]:
				c.Transcendental++
			case moderateFuncs[tok]:
				c.Moderate++
			case cheapFuncs[tok]:
				c.Cheap++
			case textureFuncs[tok]:
				c.TextureSamples++
			}
		}
	}

	base := float64(c.Loops)*10 +
		float64(c.LoopDepth)*15 +
		float64(c.Transcendental)*1.5 +
		float64(c.Moderate)*0.7 +
		float64(c.Cheap)*0.2 +
		float64(c.TextureSamples)*3 +
		float64(c.Branches)*0.5
	c.Score = base * c.Multiplier
	switch {
	case c.Score >= highScore:
		c.Level = LevelHigh
	case c.Score >= mediumScore:
		c.Level = LevelMedium
	}
	return c
}

// header returns the index of the ')' closing the parenthesised loop header
// starting at toks[open], and the identifiers inside it.
func header(toks []string, open int) (int, []string) {
	if open >= len(toks) || toks[open] != "(" {
		return open - 1, nil
	}
	var idents []string
	level := 0
	for j := open; j < len(toks); j++ {
		switch t := toks[j]; t {
		case "(":
			level++
		case ")":
			level--
			if level == 0 {
				return j, idents
			}
		default:
			idents = append(idents, t)
		}
	}
	return len(toks) - 1, idents
}

// tokenize splits GLSL source into tokens with comments removed.
func tokenize(src string) []string {
	var sc scanner.Scanner
	sc.Init(strings.NewReader(src))
	sc.Mode = scanner.ScanIdents | scanner.ScanFloats | scanner.ScanComments | scanner.SkipComments
	sc.Error = func(*scanner.Scanner, string) {}

	var toks []string
	for tok := sc.Scan(); tok != scanner.EOF; tok = sc.Scan() {
		toks = append(toks, sc.TokenText())
	}
	return toks
}
