package storage

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"cdc_migrator/internal/columns"
)

func touch(t *testing.T, dir string, rels ...string) {
	t.Helper()
	for _, rel := range rels {
		if err := WriteFile(dir, rel, "SELECT 1;\n"); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func TestGetOrderedFilesWithoutManifest(t *testing.T) {
	dir := t.TempDir()
	// created out of order on purpose
	touch(t, dir,
		"01-tables/T-staging.sql",
		"01-tables/T.sql",
		"00-infrastructure/b.sql",
		"00-infrastructure/a.sql",
	)

	got, err := GetOrderedFiles(dir)
	if err != nil {
		t.Fatalf("ordered files: %v", err)
	}
	want := []string{
		"00-infrastructure/a.sql",
		"00-infrastructure/b.sql",
		"01-tables/T.sql",
		"01-tables/T-staging.sql",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestGetOrderedFilesStagingSortsBeforeDDLLexically(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "01-tables/A.sql", "01-tables/A-staging.sql", "01-tables/A_b.sql", "01-tables/Orphan-staging.sql")

	got, err := GetOrderedFiles(dir)
	if err != nil {
		t.Fatalf("ordered files: %v", err)
	}
	want := []string{
		"01-tables/A.sql",
		"01-tables/A-staging.sql",
		"01-tables/A_b.sql",
		"01-tables/Orphan-staging.sql",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestGetOrderedFilesUsesManifest(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "00-infrastructure/z.sql", "00-infrastructure/a.sql", "01-tables/B.sql", "01-tables/A.sql")
	m := Manifest{
		Infrastructure: []string{"00-infrastructure/z.sql", "00-infrastructure/a.sql"},
		Tables:         []string{"01-tables/B.sql", "01-tables/gone.sql", "01-tables/A.sql"},
		SinkTarget:     SinkTarget{SinkGroup: "sink_asma", Service: "proxy", Databases: map[string]string{"dev": "proxy_dev"}},
	}
	if err := WriteManifest(dir, m); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	got, err := GetOrderedFiles(dir)
	if err != nil {
		t.Fatalf("ordered files: %v", err)
	}
	want := []string{"00-infrastructure/z.sql", "00-infrastructure/a.sql", "01-tables/B.sql", "01-tables/A.sql"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	loaded, ok, err := LoadManifest(dir)
	if err != nil || !ok {
		t.Fatalf("load manifest: ok=%v err=%v", ok, err)
	}
	if loaded.SinkTarget.Databases["dev"] != "proxy_dev" {
		t.Errorf("sink target not round-tripped: %+v", loaded.SinkTarget)
	}
}

func TestCategoryOf(t *testing.T) {
	tests := map[string]Category{
		"00-infrastructure/01-schemas.sql": CategoryInfrastructure,
		"01-tables/Users.sql":              CategoryTable,
		"01-tables/Users-staging.sql":      CategoryStaging,
	}
	for rel, want := range tests {
		if got := CategoryOf(rel); got != want {
			t.Errorf("CategoryOf(%s) = %s, want %s", rel, got, want)
		}
	}
}

func TestTableFileNamesNamespacesCollisions(t *testing.T) {
	tables := []columns.TableMigration{
		{TargetSchema: "sales", TableName: "orders"},
		{TargetSchema: "archive", TableName: "Orders"},
		{TargetSchema: "sales", TableName: "customers"},
	}
	got := TableFileNames(tables)
	want := map[string]string{
		"sales.orders":    "sales.orders",
		"archive.Orders":  "archive.Orders",
		"sales.customers": "customers",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDiscoverSinkDirs(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "directory", "sink_asma.proxy"), "01-tables/A.sql")
	touch(t, filepath.Join(root, "billing", "sink_asma.ledger"), "00-infrastructure/a.sql")
	if err := os.MkdirAll(filepath.Join(root, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := DiscoverSinkDirs(root)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	want := []string{
		filepath.Join(root, "billing", "sink_asma.ledger"),
		filepath.Join(root, "directory", "sink_asma.proxy"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestTableBase(t *testing.T) {
	for rel, want := range map[string]string{
		"01-tables/Users.sql":         "Users",
		"01-tables/Users-staging.sql": "Users",
		"01-tables/sales.orders.sql":  "sales.orders",
	} {
		got, ok := TableBase(rel)
		if !ok || got != want {
			t.Errorf("TableBase(%s) = %q,%v want %q", rel, got, ok, want)
		}
	}
	if _, ok := TableBase("00-infrastructure/a.sql"); ok {
		t.Error("infrastructure file treated as table")
	}
}
