package diff

import (
	"testing"

	"cdc_migrator/internal/columns"
)

func TestCompareColumnsAdded(t *testing.T) {
	expected := []columns.MigrationColumn{
		{Name: "id", Type: "INTEGER", PrimaryKey: true},
		{Name: "name", Type: "TEXT", Nullable: true},
	}
	generated := []ParsedColumn{{Name: "id", Type: "INTEGER", PrimaryKey: true}}

	changes := CompareColumns(expected, generated)
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d: %v", len(changes), changes)
	}
	c := changes[0]
	if c.Kind != ColumnAdded || c.ColumnName != "name" || c.Severity != SeverityInfo {
		t.Fatalf("unexpected change: %+v", c)
	}
}

func TestCompareColumnsTypeChanged(t *testing.T) {
	expected := []columns.MigrationColumn{{Name: "val", Type: "BIGINT"}}
	generated := []ParsedColumn{{Name: "val", Type: "INTEGER"}}

	changes := CompareColumns(expected, generated)
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d: %v", len(changes), changes)
	}
	c := changes[0]
	if c.Kind != ColumnTypeChanged || c.Severity != SeverityBreaking {
		t.Fatalf("unexpected change: %+v", c)
	}
	if c.OldValue != "INTEGER" || c.NewValue != "BIGINT" {
		t.Fatalf("unexpected values: old=%s new=%s", c.OldValue, c.NewValue)
	}
	if !c.Destructive() {
		t.Fatalf("type change must be destructive")
	}
}

func TestCompareColumnsRemovedAndPrimaryKey(t *testing.T) {
	expected := []columns.MigrationColumn{
		{Name: "id", Type: "uuid", PrimaryKey: true},
		{Name: "tenant", Type: "text", PrimaryKey: true},
	}
	generated := []ParsedColumn{
		{Name: "id", Type: "UUID", PrimaryKey: true},
		{Name: "tenant", Type: "TEXT"},
		{Name: "legacy", Type: "TEXT", Nullable: true},
	}

	changes := CompareColumns(expected, generated)
	kinds := map[ChangeKind]SchemaChange{}
	for _, c := range changes {
		kinds[c.Kind] = c
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %v", changes)
	}
	if c, ok := kinds[ColumnRemoved]; !ok || c.ColumnName != "legacy" || c.Severity != SeverityWarning {
		t.Fatalf("expected legacy removed as warning, got %v", changes)
	}
	if c, ok := kinds[PrimaryKeyChanged]; !ok || c.OldValue != "id" || c.NewValue != "id, tenant" {
		t.Fatalf("expected primary key change, got %v", changes)
	}
}

func TestParseCreateTable(t *testing.T) {
	sql := `-- Source: dbo.Metrics
CREATE TABLE IF NOT EXISTS "analytics"."Metrics" (
    "Id" integer NOT NULL,
    "Value" double precision,
    "Label" character varying(200) NOT NULL DEFAULT 'n/a',
    "Amount" numeric(10,2),
    "__sync_timestamp" timestamptz NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY ("Id")
);

ALTER TABLE "analytics"."Metrics" ADD COLUMN IF NOT EXISTS "Value" double precision;
`
	cols, ok := ParseCreateTable(sql)
	if !ok {
		t.Fatalf("expected a CREATE TABLE block")
	}
	want := []ParsedColumn{
		{Name: "Id", Type: "INTEGER", PrimaryKey: true},
		{Name: "Value", Type: "DOUBLE PRECISION", Nullable: true},
		{Name: "Label", Type: "CHARACTER VARYING(200)"},
		{Name: "Amount", Type: "NUMERIC(10,2)", Nullable: true},
		{Name: "__sync_timestamp", Type: "TIMESTAMPTZ"},
	}
	if len(cols) != len(want) {
		t.Fatalf("expected %d columns, got %d: %+v", len(want), len(cols), cols)
	}
	for i := range want {
		got := cols[i]
		got.Declared = ""
		if got != want[i] {
			t.Fatalf("column %d: got %+v, want %+v", i, cols[i], want[i])
		}
	}
	if cols[1].Declared != "double precision" {
		t.Fatalf("expected declared type to keep its casing, got %q", cols[1].Declared)
	}

	schema, table, ok := ParseTableName(sql)
	if !ok || schema != "analytics" || table != "Metrics" {
		t.Fatalf("unexpected table name %q.%q", schema, table)
	}
}

func TestParseCreateTableMissing(t *testing.T) {
	cols, ok := ParseCreateTable("CREATE SCHEMA IF NOT EXISTS \"x\";")
	if ok || cols != nil {
		t.Fatalf("expected no result, got %v %v", cols, ok)
	}
}
