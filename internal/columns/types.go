// Package columns turns declarative table definitions into the ordered list
// of physical columns that the DDL renderer and the diff engine share.
package columns

import (
	"errors"
	"strings"
)

var (
	ErrColumnsAndFields  = errors.New("table definition declares both columns and fields")
	ErrColumnNameEmpty   = errors.New("column name required")
	ErrColumnTypeEmpty   = errors.New("column type required")
	ErrUnknownPrimaryKey = errors.New("primary key names no column")
)

// MigrationColumn is one physical column of a generated table.
type MigrationColumn struct {
	Name       string
	Type       string
	Nullable   bool
	PrimaryKey bool
	// Default is a SQL literal or expression; empty means no default.
	Default string
}

// TableMigration is everything needed to render one table's DDL.
type TableMigration struct {
	TableName    string
	TargetSchema string
	SourceSchema string
	SourceKey    string
	Columns      []MigrationColumn
	PrimaryKeys  []string
	// ReplicateStructure is false when the sink only wants data, not DDL.
	ReplicateStructure bool
	// TargetExists marks tables owned by another process; they are never generated.
	TargetExists bool
	// Staging requests an additional <schema>_staging copy of the table.
	Staging bool
}

// Generated reports whether DDL should be rendered for the table.
func (t TableMigration) Generated() bool {
	return t.ReplicateStructure && !t.TargetExists
}

// Qualified returns schema.table without quoting.
func (t TableMigration) Qualified() string {
	return t.TargetSchema + "." + t.TableName
}

// RawColumn is a column as declared in source metadata, before mapping.
type RawColumn struct {
	Name       string
	Type       string
	Nullable   *bool
	PrimaryKey bool
}

// TableDef is a declarative source table. Exactly one of Columns and the
// legacy Fields list may be set.
type TableDef struct {
	Columns     []RawColumn
	Fields      []RawColumn
	PrimaryKeys []string
}

// ColumnTemplate produces exactly one column. Its name is used verbatim.
type ColumnTemplate struct {
	Name     string
	Type     string
	Nullable bool
	Default  string
}

// Pipeline holds the sink-level additions applied on top of a table's own
// columns by BuildFull.
type Pipeline struct {
	Templates  []ColumnTemplate
	Transforms []Transform
	// Ignore lists columns removed case-insensitively after everything else
	// has been added.
	Ignore []string
}

func fold(name string) string {
	return strings.ToLower(name)
}

func ignoreSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[fold(strings.TrimSpace(n))] = struct{}{}
	}
	return set
}

// DedupeNames removes case-insensitive duplicates, keeping the first-seen
// casing and order.
func DedupeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		key := fold(n)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, n)
	}
	return out
}

// TableSpec is a fully resolved sink table: where it goes and which
// definition and pipeline produce its columns.
type TableSpec struct {
	SourceKey          string
	SourceSchema       string
	TableName          string
	TargetSchema       string
	Def                TableDef
	Pipeline           Pipeline
	ReplicateStructure bool
	TargetExists       bool
	Staging            bool
}
