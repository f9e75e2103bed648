package ddl

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"cdc_migrator/internal/columns"
)

func sampleTable() columns.TableMigration {
	cols := columns.AddCDCMetadata([]columns.MigrationColumn{
		{Name: "Id", Type: "integer", PrimaryKey: true},
		{Name: "name", Type: "varchar(50)", Nullable: false},
		{Name: "score", Type: "double precision", Nullable: true},
	})
	return columns.TableMigration{
		TableName:          "Users",
		TargetSchema:       "directory",
		SourceSchema:       "dbo",
		Columns:            cols,
		PrimaryKeys:        []string{"Id", "id", "ID"},
		ReplicateStructure: true,
	}
}

func TestChecksumIgnoresGenerationTime(t *testing.T) {
	first := BuildCreateTableSQL(sampleTable(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	second := BuildCreateTableSQL(sampleTable(), time.Date(2026, 6, 30, 12, 0, 0, 0, time.UTC))
	if first == second {
		t.Fatal("expected headers to differ")
	}
	a, ok := ExtractChecksum(first)
	if !ok {
		t.Fatal("first file has no checksum")
	}
	b, _ := ExtractChecksum(second)
	if a != b {
		t.Errorf("checksums differ across regenerations: %s vs %s", a, b)
	}
	if ComputeChecksum(first) != ComputeChecksum(second) {
		t.Error("computed checksums differ")
	}
}

func TestPrimaryKeyRenderedOnce(t *testing.T) {
	sql := BuildCreateTableSQL(sampleTable(), time.Now())
	if !strings.Contains(sql, `PRIMARY KEY ("Id")`) {
		t.Errorf("expected deduplicated primary key clause, got:\n%s", sql)
	}
	if strings.Count(sql, "PRIMARY KEY") != 1 {
		t.Errorf("expected one PRIMARY KEY clause")
	}
}

func TestCreateTableLayout(t *testing.T) {
	sql := BuildCreateTableSQL(sampleTable(), time.Now())
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "directory"."Users" (`,
		`    "name" varchar(50) NOT NULL,`,
		`    "__sync_timestamp" timestamptz NOT NULL DEFAULT CURRENT_TIMESTAMP,`,
		`CREATE INDEX IF NOT EXISTS "idx_Users_sync_ts" ON "directory"."Users" ("__sync_timestamp");`,
		`ALTER TABLE "directory"."Users" ADD COLUMN IF NOT EXISTS "score" double precision;`,
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("missing %q in:\n%s", want, sql)
		}
	}
	if strings.Contains(sql, `ADD COLUMN IF NOT EXISTS "Id"`) {
		t.Error("primary key column must not get an additive ALTER")
	}
	lines := strings.Split(sql, "\n")
	if lines[0] != Separator || lines[3] != Separator || !strings.HasPrefix(lines[4], "-- Checksum: sha256:") {
		t.Errorf("unexpected header:\n%s", strings.Join(lines[:5], "\n"))
	}
	if len(Separator) != 79 {
		t.Errorf("separator length %d", len(Separator))
	}
}

func TestExtractOfInjectMatchesCompute(t *testing.T) {
	bodies := []string{
		"CREATE TABLE a (id int);",
		Header(time.Now()) + "\nCREATE TABLE b (id int);\n",
		"",
		"-- just a comment\nSELECT 1;",
	}
	for _, body := range bodies {
		got, ok := ExtractChecksum(InjectChecksum(body))
		if !ok {
			t.Fatalf("no checksum injected into %q", body)
		}
		if want := ComputeChecksum(body); got != want {
			t.Errorf("extract(inject(%q)) = %s, want %s", body, got, want)
		}
	}
}

func TestInjectChecksumPlacement(t *testing.T) {
	plain := InjectChecksum("SELECT 1;")
	if !strings.HasPrefix(plain, "-- Checksum: sha256:") {
		t.Errorf("checksum should lead a header-less file: %q", plain)
	}

	withHeader := InjectChecksum(InjectChecksum(Header(time.Now()) + "SELECT 1;\n"))
	if strings.Count(withHeader, "-- Checksum:") != 1 {
		t.Errorf("re-injecting should replace the checksum:\n%s", withHeader)
	}
}

func TestChecksumDetectsBodyChange(t *testing.T) {
	a := ComputeChecksum(Header(time.Now()) + "SELECT 1;")
	b := ComputeChecksum(Header(time.Now()) + "SELECT 2;")
	if a == b {
		t.Error("different bodies produced the same checksum")
	}
}

func TestStagingAndInfrastructure(t *testing.T) {
	tbl := sampleTable()
	tbl.Staging = true
	stg := BuildStagingSQL(tbl, time.Now())
	if !strings.Contains(stg, `CREATE UNLOGGED TABLE IF NOT EXISTS "directory_staging"."Users"`) {
		t.Errorf("unexpected staging DDL:\n%s", stg)
	}
	if strings.Contains(stg, "PRIMARY KEY") {
		t.Error("staging table must not declare a primary key")
	}

	schemas := BuildSchemasSQL([]columns.TableMigration{tbl}, time.Now())
	for _, s := range []string{HistorySchema, "directory", "directory_staging"} {
		if !strings.Contains(schemas, `CREATE SCHEMA IF NOT EXISTS "`+s+`";`) {
			t.Errorf("schema %s not created:\n%s", s, schemas)
		}
	}
	mgmt := BuildManagementSQL(time.Now())
	if !strings.Contains(mgmt, `"cdc_management"."migration_history"`) {
		t.Errorf("history table missing:\n%s", mgmt)
	}
}

func TestIndexNameLimit(t *testing.T) {
	if got := indexName("Users", "sync_ts"); got != "idx_Users_sync_ts" {
		t.Fatalf("short name changed: %q", got)
	}

	prefix := strings.Repeat("ä", 40)
	a := indexName(prefix+"_orders", "sync_ts")
	b := indexName(prefix+"_invoices", "sync_ts")
	for _, name := range []string{a, b} {
		if len(name) > maxIdentLen {
			t.Fatalf("%q is %d bytes", name, len(name))
		}
		if !utf8.ValidString(name) {
			t.Fatalf("%q is not valid UTF-8", name)
		}
	}
	if a == b {
		t.Fatalf("long names collided: %q", a)
	}
	if a != indexName(prefix+"_orders", "sync_ts") {
		t.Fatal("index name is not stable")
	}
}
