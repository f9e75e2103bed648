package diff

import (
	"regexp"
	"strings"
)

// ParsedColumn is a column reconstructed from generated DDL. Type is
// upper-cased for comparison; Declared keeps the type as written.
type ParsedColumn struct {
	Name       string
	Type       string
	Nullable   bool
	PrimaryKey bool
	Declared   string
}

var (
	createTableRe = regexp.MustCompile(`(?is)CREATE\s+(?:UNLOGGED\s+)?TABLE\s+IF\s+NOT\s+EXISTS\s+((?:"[^"]+"|\w+)(?:\.(?:"[^"]+"|\w+))?)\s*\(`)
	primaryKeyRe  = regexp.MustCompile(`(?i)^\s*PRIMARY\s+KEY\s*\(([^)]*)\)`)
	columnLineRe  = regexp.MustCompile(`(?i)^\s*("(?:[^"]|"")+"|\w+)\s+(.+?)\s*(?:\s((?:NOT\s+NULL|NULL|DEFAULT|PRIMARY\s+KEY|UNIQUE|CHECK|REFERENCES|COLLATE|GENERATED)\b.*))?,?\s*$`)
	constraintRe  = regexp.MustCompile(`(?i)^\s*(PRIMARY\s+KEY|FOREIGN\s+KEY|UNIQUE|CHECK|CONSTRAINT|EXCLUDE)\b`)
	notNullRe     = regexp.MustCompile(`(?i)\bNOT\s+NULL\b`)
	inlinePKRe    = regexp.MustCompile(`(?i)\bPRIMARY\s+KEY\b`)
)

// ParseCreateTable rebuilds the column list of the first
// `CREATE TABLE IF NOT EXISTS` block in sqlText. The boolean is false only
// when no such block exists.
func ParseCreateTable(sqlText string) ([]ParsedColumn, bool) {
	_, body, ok := createTableBody(sqlText)
	if !ok {
		return nil, false
	}

	items := splitTopLevel(body)
	pkSet := map[string]struct{}{}
	for _, item := range items {
		if m := primaryKeyRe.FindStringSubmatch(item); m != nil {
			for _, name := range strings.Split(m[1], ",") {
				pkSet[unquote(strings.TrimSpace(name))] = struct{}{}
			}
		}
	}

	cols := []ParsedColumn{}
	for _, item := range items {
		if constraintRe.MatchString(item) {
			continue
		}
		m := columnLineRe.FindStringSubmatch(item)
		if m == nil {
			continue
		}
		name := unquote(m[1])
		trailing := m[3]
		_, pk := pkSet[name]
		if inlinePKRe.MatchString(trailing) {
			pk = true
		}
		cols = append(cols, ParsedColumn{
			Name:       name,
			Type:       normalizeType(m[2]),
			Nullable:   !notNullRe.MatchString(trailing) && !pk,
			PrimaryKey: pk,
			Declared:   strings.TrimSpace(m[2]),
		})
	}
	return cols, true
}

// ParseTableName returns the unquoted schema and table of the first
// CREATE TABLE block.
func ParseTableName(sqlText string) (schema, table string, ok bool) {
	qualified, _, found := createTableBody(sqlText)
	if !found {
		return "", "", false
	}
	parts := splitQualified(qualified)
	if len(parts) == 1 {
		return "", parts[0], true
	}
	return parts[0], parts[1], true
}

// PrimaryKeys returns the primary key column names of parsed columns.
func PrimaryKeys(cols []ParsedColumn) []string {
	var out []string
	for _, c := range cols {
		if c.PrimaryKey {
			out = append(out, c.Name)
		}
	}
	return out
}

func createTableBody(sqlText string) (string, string, bool) {
	loc := createTableRe.FindStringSubmatchIndex(sqlText)
	if loc == nil {
		return "", "", false
	}
	qualified := sqlText[loc[2]:loc[3]]
	start := loc[1]
	depth := 1
	inQuote := false
	for i := start; i < len(sqlText); i++ {
		switch sqlText[i] {
		case '"':
			inQuote = !inQuote
		case '(':
			if !inQuote {
				depth++
			}
		case ')':
			if inQuote {
				continue
			}
			depth--
			if depth == 0 {
				return qualified, sqlText[start:i], true
			}
		}
	}
	return qualified, sqlText[start:], true
}

// splitTopLevel splits a CREATE TABLE body on commas outside parentheses
// and quotes, so numeric(10,2) stays intact.
func splitTopLevel(body string) []string {
	var (
		out     []string
		current strings.Builder
		depth   int
		inQuote bool
		inStr   bool
	)
	flush := func() {
		item := strings.TrimSpace(current.String())
		if item != "" {
			out = append(out, item)
		}
		current.Reset()
	}
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for _, r := range line {
			switch r {
			case '"':
				if !inStr {
					inQuote = !inQuote
				}
			case '\'':
				if !inQuote {
					inStr = !inStr
				}
			case '(':
				if !inQuote && !inStr {
					depth++
				}
			case ')':
				if !inQuote && !inStr {
					depth--
				}
			case ',':
				if depth == 0 && !inQuote && !inStr {
					flush()
					continue
				}
			}
			current.WriteRune(r)
		}
		current.WriteRune('\n')
	}
	flush()
	return out
}

func splitQualified(qualified string) []string {
	var (
		parts   []string
		current strings.Builder
		inQuote bool
	)
	for _, r := range qualified {
		switch {
		case r == '"':
			inQuote = !inQuote
			current.WriteRune(r)
		case r == '.' && !inQuote:
			parts = append(parts, unquote(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	return append(parts, unquote(current.String()))
}

func unquote(name string) string {
	name = strings.TrimSpace(name)
	if len(name) >= 2 && strings.HasPrefix(name, `"`) && strings.HasSuffix(name, `"`) {
		return strings.ReplaceAll(name[1:len(name)-1], `""`, `"`)
	}
	return name
}

func normalizeType(t string) string {
	return strings.ToUpper(strings.Join(strings.Fields(t), " "))
}
