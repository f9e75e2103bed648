package migrate

import (
	"context"
	"errors"
	"testing"

	"cdc_migrator/internal/columns"
	"cdc_migrator/internal/config"
	"cdc_migrator/internal/generate"
	"cdc_migrator/internal/storage"
)

type planStub struct {
	plan config.ServicePlan
}

func (p *planStub) Plan(string) (config.ServicePlan, error) { return p.plan, nil }

func analyticsPlan(valType string, extra ...columns.RawColumn) config.ServicePlan {
	cols := append([]columns.RawColumn{
		{Name: "Id", Type: "integer", PrimaryKey: true},
		{Name: "val", Type: valType},
	}, extra...)
	return config.ServicePlan{
		Service:      "analytics",
		SourceEngine: "postgres",
		Sinks: []config.SinkPlan{{
			Target: config.SinkTarget{
				SinkName:    "asma.proxy",
				SinkGroup:   "asma",
				SinkService: "proxy",
				Databases:   map[string]string{"dev": "proxy_dev"},
			},
			Tables: []columns.TableSpec{{
				SourceKey:          "public.Metrics",
				SourceSchema:       "public",
				TableName:          "Metrics",
				TargetSchema:       "analytics",
				ReplicateStructure: true,
				Def:                columns.TableDef{Columns: cols},
			}},
		}},
	}
}

func TestTypeChangeLifecycle(t *testing.T) {
	root := t.TempDir()
	sinkDir := storage.SinkDir(root, "analytics", "asma.proxy")
	planner := &planStub{plan: analyticsPlan("integer")}
	generateWith := func(accept ...string) {
		t.Helper()
		gen := generate.NewGenerator(planner, root, nil).WithAccepted(accept...)
		if _, err := gen.GenerateService(context.Background(), "analytics"); err != nil {
			t.Fatalf("generate: %v", err)
		}
	}

	fdb := newFakeDB()
	runner, _ := newRunner(root, fdb)

	generateWith()
	if sr := runner.ApplySink(context.Background(), sinkDir, "dev", false); sr.Err != nil || sr.Applied != 3 {
		t.Fatalf("initial apply: %+v", sr)
	}

	planner.plan = analyticsPlan("bigint")
	generateWith()
	if sr := runner.ApplySink(context.Background(), sinkDir, "dev", false); sr.Err != nil || sr.Skipped != 3 {
		t.Fatalf("apply after destructive change must skip: %+v", sr)
	}

	// The operator runs MANUAL_REQUIRED.sql.
	fdb.catalog = []catalogRow{
		{"analytics", "Metrics", "Id", "integer", "int4", "NO"},
		{"analytics", "Metrics", "val", "bigint", "int8", "YES"},
	}

	planner.plan = analyticsPlan("bigint", columns.RawColumn{Name: "note", Type: "text"})
	generateWith()
	sr := runner.ApplySink(context.Background(), sinkDir, "dev", false)
	var drift *DriftError
	if !errors.As(sr.Err, &drift) || drift.Column != "val" {
		t.Fatalf("unaccepted change should still report drift, got %v", sr.Err)
	}

	generateWith("Metrics")
	sr = runner.ApplySink(context.Background(), sinkDir, "dev", false)
	if sr.Err != nil || sr.Failed != 0 || sr.Updated != 1 {
		t.Fatalf("apply after acceptance: %+v", sr)
	}

	generateWith()
	if sr := runner.ApplySink(context.Background(), sinkDir, "dev", false); sr.Err != nil || sr.Skipped != 3 {
		t.Fatalf("converged apply must skip everything: %+v", sr)
	}
}
