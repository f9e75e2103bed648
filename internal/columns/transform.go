package columns

import (
	"regexp"
	"strings"
)

// Transform is a sink-side mapping expression whose assignments become
// extra target columns.
type Transform struct {
	Name       string
	Expression string
	// ExpectedOutputColumn overrides expression parsing when set.
	ExpectedOutputColumn string
	// OutputType defaults to text.
	OutputType string
}

var rootAssignRe = regexp.MustCompile(`^\s*root\.(?:"([^"]+)"|([A-Za-z_][A-Za-z0-9_]*))\s*=([^=]|$)`)

// OutputColumns returns the columns the transform writes, in order of first
// assignment.
func (t Transform) OutputColumns() []string {
	if name := strings.TrimSpace(t.ExpectedOutputColumn); name != "" {
		return []string{name}
	}
	var out []string
	for _, line := range strings.Split(t.Expression, "\n") {
		m := rootAssignRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := m[1]
		if name == "" {
			name = m[2]
		}
		out = append(out, name)
	}
	return DedupeNames(out)
}

// ColumnType is the target type of every output column.
func (t Transform) ColumnType() string {
	if t.OutputType == "" {
		return "text"
	}
	return t.OutputType
}
