package generate

import (
	"fmt"
	"strings"
	"time"

	"cdc_migrator/internal/config"
	"cdc_migrator/internal/ddl"
	"cdc_migrator/internal/diff"
	"cdc_migrator/internal/storage"
)

// HintLookup finds an operator-supplied USING expression for a type change.
type HintLookup interface {
	Hint(table, column, from, to string) (config.TypeChangeHint, bool)
}

// ManualEntry is one destructive change that needs a human.
type ManualEntry struct {
	Change diff.SchemaChange
	Schema string
	Table  string
	// NewType is the declared target type of a changed column.
	NewType string
	// PrimaryKeys is the new key for a PrimaryKeyChanged entry.
	PrimaryKeys []string
}

// ManualEmitter writes 02-manual/<table>/MANUAL_REQUIRED.sql files. Entries
// already present in a file are not written again.
type ManualEmitter struct {
	sinkDir string
	hints   HintLookup
	now     func() time.Time
}

func NewManualEmitter(sinkDir string, hints HintLookup, now func() time.Time) *ManualEmitter {
	if now == nil {
		now = time.Now
	}
	return &ManualEmitter{sinkDir: sinkDir, hints: hints, now: now}
}

// Emit appends e to the manual file of base. It returns the file path
// relative to the sink and whether anything was written.
func (m *ManualEmitter) Emit(base string, e ManualEntry) (string, bool, error) {
	return m.appendEntry(base, e, entryKey(e), "Detected", m.suggestion(e))
}

// Accept records in the manual file of base that the operator resolved e
// and the regular DDL now carries the new definition.
func (m *ManualEmitter) Accept(base string, e ManualEntry) (string, bool, error) {
	key := "-- [Accepted] " + strings.TrimPrefix(entryKey(e), "-- ")
	return m.appendEntry(base, e, key, "Accepted", "")
}

func (m *ManualEmitter) appendEntry(base string, e ManualEntry, key, event, body string) (string, bool, error) {
	rel := storage.ManualPath(base)
	existing, ok, err := storage.ReadFile(m.sinkDir, rel)
	if err != nil {
		return rel, false, err
	}
	if ok && containsLine(existing, key) {
		return rel, false, nil
	}

	var b strings.Builder
	if !ok {
		b.WriteString(manualHeader(e.Schema, e.Table))
	} else {
		b.WriteString(strings.TrimRight(existing, "\n"))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(key)
	b.WriteString("\n")
	fmt.Fprintf(&b, "-- %s at: %s\n", event, m.now().UTC().Format(time.RFC3339))
	b.WriteString(body)

	if err := storage.WriteFile(m.sinkDir, rel, b.String()); err != nil {
		return rel, false, err
	}
	return rel, true, nil
}

func manualHeader(schema, table string) string {
	var b strings.Builder
	b.WriteString(ddl.Separator + "\n")
	b.WriteString("-- MANUAL MIGRATION REQUIRED\n")
	fmt.Fprintf(&b, "-- Table: %s.%s\n", schema, table)
	b.WriteString("-- These changes are never applied automatically. Review, adapt and run\n")
	b.WriteString("-- them by hand, then regenerate with --accept-manual so the table file\n")
	b.WriteString("-- adopts the new definition.\n")
	b.WriteString(ddl.Separator + "\n")
	return b.String()
}

// entryKey identifies an entry. The same change detected twice maps to the
// same key.
func entryKey(e ManualEntry) string {
	c := e.Change
	switch c.Kind {
	case diff.TableRemoved:
		return fmt.Sprintf("-- [%s] %s.%s", c.Kind, e.Schema, e.Table)
	case diff.PrimaryKeyChanged:
		return fmt.Sprintf("-- [%s] %s.%s: (%s) -> (%s)", c.Kind, e.Schema, e.Table, c.OldValue, c.NewValue)
	default:
		return fmt.Sprintf("-- [%s] %s.%s.%s: %s -> %s", c.Kind, e.Schema, e.Table, c.ColumnName, c.OldValue, c.NewValue)
	}
}

func (m *ManualEmitter) suggestion(e ManualEntry) string {
	table := ddl.Ident(e.Schema, e.Table)
	c := e.Change

	switch c.Kind {
	case diff.ColumnTypeChanged:
		col := ddl.Ident(c.ColumnName)
		newType := e.NewType
		if newType == "" {
			newType = strings.ToLower(c.NewValue)
		}
		if m.hints != nil {
			if h, ok := m.hints.Hint(e.Table, c.ColumnName, c.OldValue, c.NewValue); ok && h.Using != "" {
				return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s;\n", table, col, newType, h.Using)
			}
		}
		return fmt.Sprintf("-- No manual_migration_hints entry; check the cast before running.\nALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s;\n",
			table, col, newType, col, newType)
	case diff.ColumnRemoved:
		return fmt.Sprintf("-- Drop only once no consumer reads the column.\n-- ALTER TABLE %s DROP COLUMN %s;\n",
			table, ddl.Ident(c.ColumnName))
	case diff.PrimaryKeyChanged:
		keys := make([]string, len(e.PrimaryKeys))
		for i, k := range e.PrimaryKeys {
			keys[i] = ddl.Ident(k)
		}
		return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s;\nALTER TABLE %s ADD PRIMARY KEY (%s);\n",
			table, ddl.Ident(e.Table+"_pkey"), table, strings.Join(keys, ", "))
	case diff.TableRemoved:
		return fmt.Sprintf("-- The table is no longer configured for this sink. Drop it once it is safe.\n-- DROP TABLE IF EXISTS %s;\n", table)
	}
	return ""
}

func containsLine(text, line string) bool {
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimRight(l, "\r ") == line {
			return true
		}
	}
	return false
}
