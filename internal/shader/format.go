package shader

import (
	"strconv"
	"strings"
)

func formatNumber(kind Kind, v float64) string {
	if kind == KindInt {
		return strconv.FormatInt(int64(v), 10)
	}
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// FormatParameter renders a spec as a directive line with every key spelled
// out. The line parses back to p whenever p.Validate succeeds.
func FormatParameter(p ParameterSpec) string {
	var sb strings.Builder
	sb.WriteString(p.Name)
	sb.WriteString(": ")
	sb.WriteString(p.Kind.String())
	sb.WriteString(" = ")
	sb.WriteString(formatNumber(p.Kind, p.Default))
	sb.WriteString(" | min: ")
	sb.WriteString(formatNumber(p.Kind, p.Min))
	sb.WriteString(" | max: ")
	sb.WriteString(formatNumber(p.Kind, p.Max))
	sb.WriteString(" | step: ")
	sb.WriteString(formatNumber(p.Kind, p.Step))
	if p.Label != "" {
		sb.WriteString(" | label: ")
		sb.WriteString(p.Label)
	}
	return sb.String()
}

// FormatParameters renders specs as directive lines in declaration order.
func FormatParameters(params []ParameterSpec) []string {
	out := make([]string, len(params))
	for i, p := range params {
		out[i] = FormatParameter(p)
	}
	return out
}

// FormatBlock renders a complete metadata block, one "//" comment per line.
func FormatBlock(d Descriptor) string {
	var sb strings.Builder
	line := func(s string) {
		sb.WriteString("// ")
		sb.WriteString(s)
		sb.WriteByte('\n')
	}
	line(BlockOpen)
	for _, kv := range [][2]string{
		{"name", d.Name},
		{"author", d.Author},
		{"source", d.SourceURL},
		{"license", d.License},
		{"description", d.Description},
	} {
		if kv[1] != "" {
			line(kv[0] + ": " + kv[1])
		}
	}
	line(ParamsOpen)
	for _, p := range FormatParameters(d.Parameters) {
		line(p)
	}
	line(ParamsClose)
	line(BlockClose)
	return sb.String()
}
