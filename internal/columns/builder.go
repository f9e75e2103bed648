package columns

import (
	"fmt"
	"strings"

	"cdc_migrator/internal/typemap"
)

// Build converts a table definition into physical columns and primary keys.
// Columns named in ignore are dropped, duplicates (by case-insensitive name)
// keep their first occurrence and mapType, when non-nil, converts every type.
func Build(def TableDef, ignore []string, mapType typemap.Func) ([]MigrationColumn, []string, error) {
	if len(def.Columns) > 0 && len(def.Fields) > 0 {
		return nil, nil, ErrColumnsAndFields
	}
	raw := def.Columns
	if len(raw) == 0 {
		raw = def.Fields
	}

	skip := ignoreSet(ignore)
	seen := make(map[string]struct{}, len(raw))
	cols := make([]MigrationColumn, 0, len(raw))
	var pks []string

	for i, rc := range raw {
		name := strings.TrimSpace(rc.Name)
		if name == "" {
			return nil, nil, fmt.Errorf("column %d: %w", i, ErrColumnNameEmpty)
		}
		if strings.TrimSpace(rc.Type) == "" {
			return nil, nil, fmt.Errorf("column %s: %w", name, ErrColumnTypeEmpty)
		}
		key := fold(name)
		if _, ok := skip[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		nullable := true
		if rc.Nullable != nil {
			nullable = *rc.Nullable
		}
		if rc.PrimaryKey {
			nullable = false
			pks = append(pks, name)
		}
		cols = append(cols, MigrationColumn{
			Name:       name,
			Type:       mapType.Apply(strings.TrimSpace(rc.Type)),
			Nullable:   nullable,
			PrimaryKey: rc.PrimaryKey,
		})
	}

	for _, pk := range def.PrimaryKeys {
		if _, ok := skip[fold(pk)]; ok {
			continue
		}
		pks = append(pks, pk)
	}
	pks = DedupeNames(pks)
	for _, pk := range pks {
		if _, ok := seen[fold(pk)]; !ok {
			return nil, nil, fmt.Errorf("%s: %w", pk, ErrUnknownPrimaryKey)
		}
	}
	markPrimaryKeys(cols, pks)
	return cols, pks, nil
}

// BuildFull layers column templates, transform outputs and CDC metadata on
// top of Build, then removes the pipeline's ignored columns.
func BuildFull(def TableDef, p Pipeline, mapType typemap.Func) ([]MigrationColumn, []string, error) {
	cols, pks, err := Build(def, p.Ignore, mapType)
	if err != nil {
		return nil, nil, err
	}

	for _, tpl := range p.Templates {
		if tpl.Name == "" {
			return nil, nil, fmt.Errorf("column template: %w", ErrColumnNameEmpty)
		}
		if tpl.Type == "" {
			return nil, nil, fmt.Errorf("column template %s: %w", tpl.Name, ErrColumnTypeEmpty)
		}
		cols = appendUnique(cols, MigrationColumn{
			Name:     tpl.Name,
			Type:     tpl.Type,
			Nullable: tpl.Nullable,
			Default:  tpl.Default,
		})
	}

	for _, tr := range p.Transforms {
		for _, out := range tr.OutputColumns() {
			cols = appendUnique(cols, MigrationColumn{
				Name:     out,
				Type:     tr.ColumnType(),
				Nullable: true,
			})
		}
	}

	cols = AddCDCMetadata(cols)
	return Remove(cols, p.Ignore), removeNames(pks, p.Ignore), nil
}

// Remove drops columns whose names match ignore case-insensitively.
func Remove(cols []MigrationColumn, ignore []string) []MigrationColumn {
	if len(ignore) == 0 {
		return cols
	}
	skip := ignoreSet(ignore)
	out := make([]MigrationColumn, 0, len(cols))
	for _, c := range cols {
		if _, ok := skip[fold(c.Name)]; ok {
			continue
		}
		out = append(out, c)
	}
	return out
}

func removeNames(names []string, ignore []string) []string {
	if len(ignore) == 0 {
		return names
	}
	skip := ignoreSet(ignore)
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := skip[fold(n)]; ok {
			continue
		}
		out = append(out, n)
	}
	return out
}

func appendUnique(cols []MigrationColumn, c MigrationColumn) []MigrationColumn {
	key := fold(c.Name)
	for _, existing := range cols {
		if fold(existing.Name) == key {
			return cols
		}
	}
	return append(cols, c)
}

func markPrimaryKeys(cols []MigrationColumn, pks []string) {
	set := ignoreSet(pks)
	for i := range cols {
		if _, ok := set[fold(cols[i].Name)]; ok {
			cols[i].PrimaryKey = true
			cols[i].Nullable = false
		}
	}
}

// BuildTable runs BuildFull for spec and wraps the result as a
// TableMigration. The generator and the diff engine both go through here so
// they always agree on the expected model.
func BuildTable(spec TableSpec, mapType typemap.Func) (TableMigration, error) {
	t := TableMigration{
		TableName:          spec.TableName,
		TargetSchema:       spec.TargetSchema,
		SourceSchema:       spec.SourceSchema,
		SourceKey:          spec.SourceKey,
		ReplicateStructure: spec.ReplicateStructure,
		TargetExists:       spec.TargetExists,
		Staging:            spec.Staging,
	}
	if !t.Generated() {
		return t, nil
	}
	cols, pks, err := BuildFull(spec.Def, spec.Pipeline, mapType)
	if err != nil {
		return t, fmt.Errorf("table %s: %w", spec.SourceKey, err)
	}
	t.Columns = cols
	t.PrimaryKeys = pks
	return t, nil
}
