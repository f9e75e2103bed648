package migrate

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"cdc_migrator/internal/db"
)

// DriftError reports a live column that no longer matches what a table
// file's additive statements expect.
type DriftError struct {
	Schema   string
	Table    string
	Column   string
	Expected string
	Actual   string
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("schema drift on %s.%s column %s: expected %s, found %s; resolve manually before applying",
		e.Schema, e.Table, e.Column, e.Expected, e.Actual)
}

var (
	addColumnRe  = regexp.MustCompile(`(?im)^\s*ALTER\s+TABLE\s+("(?:[^"]|"")+"|\w+)\.("(?:[^"]|"")+"|\w+)\s+ADD\s+COLUMN\s+IF\s+NOT\s+EXISTS\s+("(?:[^"]|"")+"|\w+)\s+(.+?)\s*;\s*$`)
	columnTailRe = regexp.MustCompile(`(?i)^(.+?)(\s+NOT\s+NULL)?(\s+DEFAULT\s+.*)?$`)
	typeParamsRe = regexp.MustCompile(`\s*\([^)]*\)`)
)

type expectedColumn struct {
	Type    string
	NotNull bool
}

type tableRef struct {
	Schema string
	Table  string
}

// additiveColumns collects the ADD COLUMN IF NOT EXISTS expectations of a
// file, per table.
func additiveColumns(sqlText string) map[tableRef]map[string]expectedColumn {
	out := map[tableRef]map[string]expectedColumn{}
	for _, m := range addColumnRe.FindAllStringSubmatch(sqlText, -1) {
		ref := tableRef{Schema: unquoteIdent(m[1]), Table: unquoteIdent(m[2])}
		tail := columnTailRe.FindStringSubmatch(strings.TrimSpace(m[4]))
		if tail == nil {
			continue
		}
		cols, ok := out[ref]
		if !ok {
			cols = map[string]expectedColumn{}
			out[ref] = cols
		}
		cols[unquoteIdent(m[3])] = expectedColumn{
			Type:    strings.TrimSpace(tail[1]),
			NotNull: tail[2] != "",
		}
	}
	return out
}

// ValidateTableDrift checks the columns that sqlText adds against the live
// catalog. Columns or tables that do not exist yet are fine; an existing
// column with another type or nullability is a *DriftError.
func ValidateTableDrift(ctx context.Context, conn db.Conn, sqlText string) error {
	expected := additiveColumns(sqlText)
	if len(expected) == 0 {
		return nil
	}

	refs := make([]tableRef, 0, len(expected))
	for ref := range expected {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Schema != refs[j].Schema {
			return refs[i].Schema < refs[j].Schema
		}
		return refs[i].Table < refs[j].Table
	})

	for _, ref := range refs {
		live, err := db.FetchSchema(ctx, conn, ref.Schema, ref.Table)
		if err != nil {
			return fmt.Errorf("inspect %s.%s: %w", ref.Schema, ref.Table, err)
		}
		table, ok := live.Tables[ref.Table]
		if !ok {
			continue
		}

		names := make([]string, 0, len(expected[ref]))
		for name := range expected[ref] {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			want := expected[ref][name]
			got, ok := table.Columns[name]
			if !ok {
				continue
			}
			wantType := normalizeType(want.Type)
			gotType := liveType(got)
			if gotType != "" && wantType != gotType {
				return &DriftError{Schema: ref.Schema, Table: ref.Table, Column: name, Expected: wantType, Actual: gotType}
			}
			if want.NotNull == got.IsNullable {
				return &DriftError{
					Schema: ref.Schema, Table: ref.Table, Column: name,
					Expected: nullability(want.NotNull), Actual: nullability(!got.IsNullable),
				}
			}
		}
	}
	return nil
}

var typeAliases = map[string]string{
	"varchar":     "character varying",
	"char":        "character",
	"bpchar":      "character",
	"timestamp":   "timestamp without time zone",
	"timestamptz": "timestamp with time zone",
	"time":        "time without time zone",
	"timetz":      "time with time zone",
	"int":         "integer",
	"int4":        "integer",
	"int8":        "bigint",
	"int2":        "smallint",
	"bool":        "boolean",
	"float8":      "double precision",
	"float4":      "real",
	"float":       "double precision",
	"decimal":     "numeric",
	"serial":      "integer",
	"bigserial":   "bigint",
	"smallserial": "smallint",
}

// normalizeType folds case, drops type modifiers and expands short names to
// the forms information_schema reports.
func normalizeType(t string) string {
	t = strings.ToLower(strings.Join(strings.Fields(t), " "))
	if strings.HasSuffix(t, "[]") {
		return normalizeType(strings.TrimSuffix(t, "[]")) + "[]"
	}
	t = strings.TrimSpace(typeParamsRe.ReplaceAllString(t, ""))
	if alias, ok := typeAliases[t]; ok {
		return alias
	}
	return t
}

// liveType returns the comparable type of a live column. User-defined types
// report an empty string and are not compared.
func liveType(c db.Column) string {
	switch strings.ToUpper(c.DataType) {
	case "ARRAY":
		return normalizeType(strings.TrimPrefix(c.UDTName, "_")) + "[]"
	case "USER-DEFINED":
		return ""
	}
	return normalizeType(c.DataType)
}

func nullability(notNull bool) string {
	if notNull {
		return "NOT NULL"
	}
	return "NULL"
}

func unquoteIdent(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
	}
	return s
}
