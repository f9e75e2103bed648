package diff

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cdc_migrator/internal/columns"
	"cdc_migrator/internal/config"
	"cdc_migrator/internal/ddl"
	"cdc_migrator/internal/storage"
)

type stubPlanner struct {
	plan config.ServicePlan
	err  error
}

func (s stubPlanner) Plan(string) (config.ServicePlan, error) {
	return s.plan, s.err
}

func boolPtr(b bool) *bool { return &b }

func tableSpec(name string, cols ...columns.RawColumn) columns.TableSpec {
	return columns.TableSpec{
		SourceKey:          "dbo." + name,
		SourceSchema:       "dbo",
		TableName:          name,
		TargetSchema:       "directory",
		ReplicateStructure: true,
		Def:                columns.TableDef{Columns: cols},
	}
}

func testPlan() config.ServicePlan {
	return config.ServicePlan{
		Service:      "directory",
		SourceEngine: "postgres",
		Sinks: []config.SinkPlan{{
			Target: config.SinkTarget{SinkName: "asma.proxy", SinkGroup: "asma", SinkService: "proxy"},
			Tables: []columns.TableSpec{
				tableSpec("Users",
					columns.RawColumn{Name: "Id", Type: "integer", PrimaryKey: true},
					columns.RawColumn{Name: "Email", Type: "text", Nullable: boolPtr(true)},
				),
				tableSpec("Orders",
					columns.RawColumn{Name: "Id", Type: "bigint", PrimaryKey: true},
				),
			},
		}},
	}
}

func TestEngineDiff(t *testing.T) {
	root := t.TempDir()
	plan := testPlan()
	dir := storage.SinkDir(root, plan.Service, "asma.proxy")

	// Users was generated before Email existed.
	old := plan.Sinks[0].Tables[0]
	old.Def.Columns = old.Def.Columns[:1]
	oldTable, err := columns.BuildTable(old, nil)
	if err != nil {
		t.Fatalf("BuildTable: %v", err)
	}
	if err := storage.WriteFile(dir, storage.TablePath("Users"), ddl.BuildCreateTableSQL(oldTable, time.Now())); err != nil {
		t.Fatalf("write: %v", err)
	}

	gone := tableSpec("Gone", columns.RawColumn{Name: "Id", Type: "integer", PrimaryKey: true})
	goneTable, _ := columns.BuildTable(gone, nil)
	if err := storage.WriteFile(dir, storage.TablePath("Gone"), ddl.BuildCreateTableSQL(goneTable, time.Now())); err != nil {
		t.Fatalf("write: %v", err)
	}

	engine := NewEngine(stubPlanner{plan: plan}, root, nil)
	res, err := engine.Diff(context.Background(), "directory")
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if res.ExitCode() != 1 {
		t.Fatalf("expected exit code 1, got %d", res.ExitCode())
	}

	got := map[string]SchemaChange{}
	for _, c := range res.Changes() {
		got[string(c.Kind)+":"+c.TableName+":"+c.ColumnName] = c
		if c.SinkName != "asma.proxy" {
			t.Fatalf("sink name not set: %+v", c)
		}
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 changes, got %v", res.Changes())
	}
	if _, ok := got["ColumnAdded:Users:Email"]; !ok {
		t.Fatalf("missing ColumnAdded for Email: %v", res.Changes())
	}
	if _, ok := got["TableAdded:Orders:"]; !ok {
		t.Fatalf("missing TableAdded for Orders: %v", res.Changes())
	}
	if c, ok := got["TableRemoved:Gone:"]; !ok || c.Severity != SeverityWarning {
		t.Fatalf("missing TableRemoved for Gone: %v", res.Changes())
	}

	report := Describe(res)
	if !strings.Contains(report, "Sink asma.proxy: 3 change(s)") {
		t.Fatalf("unexpected report:\n%s", report)
	}
}

func TestEngineDiffUpToDate(t *testing.T) {
	root := t.TempDir()
	plan := testPlan()
	plan.Sinks[0].Tables = plan.Sinks[0].Tables[:1]
	dir := storage.SinkDir(root, plan.Service, "asma.proxy")

	table, err := columns.BuildTable(plan.Sinks[0].Tables[0], nil)
	if err != nil {
		t.Fatalf("BuildTable: %v", err)
	}
	if err := storage.WriteFile(dir, storage.TablePath("Users"), ddl.BuildCreateTableSQL(table, time.Now())); err != nil {
		t.Fatalf("write: %v", err)
	}

	res, err := NewEngine(stubPlanner{plan: plan}, root, nil).Diff(context.Background(), "directory")
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if res.HasChanges() || res.ExitCode() != 0 {
		t.Fatalf("expected no changes, got %v", res.Changes())
	}
}

func TestEngineDiffErrors(t *testing.T) {
	root := t.TempDir()

	_, err := NewEngine(stubPlanner{err: config.ErrServiceNotFound}, root, nil).Diff(context.Background(), "x")
	if !errors.Is(err, config.ErrServiceNotFound) {
		t.Fatalf("expected ErrServiceNotFound, got %v", err)
	}

	_, err = NewEngine(stubPlanner{plan: config.ServicePlan{Service: "x"}}, root, nil).Diff(context.Background(), "x")
	if !errors.Is(err, config.ErrNoSinks) {
		t.Fatalf("expected ErrNoSinks, got %v", err)
	}

	plan := testPlan()
	dir := storage.SinkDir(root, plan.Service, "asma.proxy")
	if err := storage.WriteFile(dir, storage.TablePath("Users"), "-- hand edited\nSELECT 1;\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err = NewEngine(stubPlanner{plan: plan}, root, nil).Diff(context.Background(), "directory")
	if !errors.Is(err, ErrUnparseableDDL) {
		t.Fatalf("expected ErrUnparseableDDL, got %v", err)
	}
}
