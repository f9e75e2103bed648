// Package diff compares previously generated DDL with the column model the
// generator would produce now and classifies the drift.
package diff

import (
	"fmt"
	"sort"
	"strings"

	"cdc_migrator/internal/columns"
)

// ChangeKind names the kind of schema change.
type ChangeKind string

const (
	TableAdded        ChangeKind = "TableAdded"
	TableRemoved      ChangeKind = "TableRemoved"
	ColumnAdded       ChangeKind = "ColumnAdded"
	ColumnRemoved     ChangeKind = "ColumnRemoved"
	ColumnTypeChanged ChangeKind = "ColumnTypeChanged"
	PrimaryKeyChanged ChangeKind = "PrimaryKeyChanged"
)

// Severity ranks a change. Breaking changes are never applied automatically.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityBreaking Severity = "breaking"
)

// SchemaChange is one classified difference.
type SchemaChange struct {
	Kind       ChangeKind
	SinkName   string
	TableName  string
	ColumnName string
	OldValue   string
	NewValue   string
	Severity   Severity
}

// Destructive reports whether the change needs a human to act on it.
func (c SchemaChange) Destructive() bool {
	switch c.Kind {
	case ColumnTypeChanged, ColumnRemoved, TableRemoved, PrimaryKeyChanged:
		return true
	}
	return false
}

func (c SchemaChange) String() string {
	switch c.Kind {
	case TableAdded, TableRemoved:
		return fmt.Sprintf("[%s] %s %s", c.Severity, c.Kind, c.TableName)
	case PrimaryKeyChanged:
		return fmt.Sprintf("[%s] %s %s: (%s) -> (%s)", c.Severity, c.Kind, c.TableName, c.OldValue, c.NewValue)
	case ColumnTypeChanged:
		return fmt.Sprintf("[%s] %s %s.%s: %s -> %s", c.Severity, c.Kind, c.TableName, c.ColumnName, c.OldValue, c.NewValue)
	default:
		return fmt.Sprintf("[%s] %s %s.%s %s", c.Severity, c.Kind, c.TableName, c.ColumnName, strings.TrimSpace(c.OldValue+" "+c.NewValue))
	}
}

// CompareColumns classifies the differences between the expected column
// model and the columns parsed from generated DDL. Added columns are info,
// removed columns a warning and type or primary key changes breaking.
// Primary keys are compared only when both sides declare them.
func CompareColumns(expected []columns.MigrationColumn, generated []ParsedColumn) []SchemaChange {
	gen := make(map[string]ParsedColumn, len(generated))
	for _, g := range generated {
		gen[g.Name] = g
	}
	exp := make(map[string]struct{}, len(expected))

	var changes []SchemaChange
	for _, e := range expected {
		exp[e.Name] = struct{}{}
		g, ok := gen[e.Name]
		if !ok {
			changes = append(changes, SchemaChange{
				Kind:       ColumnAdded,
				ColumnName: e.Name,
				NewValue:   normalizeType(e.Type),
				Severity:   SeverityInfo,
			})
			continue
		}
		if want := normalizeType(e.Type); want != normalizeType(g.Type) {
			changes = append(changes, SchemaChange{
				Kind:       ColumnTypeChanged,
				ColumnName: e.Name,
				OldValue:   normalizeType(g.Type),
				NewValue:   want,
				Severity:   SeverityBreaking,
			})
		}
	}
	for _, g := range generated {
		if _, ok := exp[g.Name]; ok {
			continue
		}
		changes = append(changes, SchemaChange{
			Kind:       ColumnRemoved,
			ColumnName: g.Name,
			OldValue:   normalizeType(g.Type),
			Severity:   SeverityWarning,
		})
	}

	var expPK []string
	for _, e := range expected {
		if e.PrimaryKey {
			expPK = append(expPK, e.Name)
		}
	}
	genPK := PrimaryKeys(generated)
	if len(expPK) > 0 && len(genPK) > 0 && !sameNames(expPK, genPK) {
		changes = append(changes, SchemaChange{
			Kind:     PrimaryKeyChanged,
			OldValue: strings.Join(genPK, ", "),
			NewValue: strings.Join(expPK, ", "),
			Severity: SeverityBreaking,
		})
	}
	return changes
}

func sameNames(a, b []string) bool {
	fa := foldedSorted(columns.DedupeNames(a))
	fb := foldedSorted(columns.DedupeNames(b))
	if len(fa) != len(fb) {
		return false
	}
	for i := range fa {
		if fa[i] != fb[i] {
			return false
		}
	}
	return true
}

func foldedSorted(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = strings.ToLower(n)
	}
	sort.Strings(out)
	return out
}
