// Package generate writes a service's migration files: infrastructure SQL,
// one DDL file per table (plus staging copies), the manifest, and manual
// files for changes that cannot be applied automatically.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cdc_migrator/internal/columns"
	"cdc_migrator/internal/config"
	"cdc_migrator/internal/ddl"
	"cdc_migrator/internal/diff"
	"cdc_migrator/internal/storage"
)

type Planner interface {
	Plan(service string) (config.ServicePlan, error)
}

type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type Generator struct {
	planner        Planner
	migrationsRoot string
	logger         Logger
	now            func() time.Time
	accepted       map[string]struct{}
}

func NewGenerator(planner Planner, migrationsRoot string, logger Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{planner: planner, migrationsRoot: migrationsRoot, logger: logger, now: time.Now}
}

// WithClock replaces the clock used for header timestamps.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// WithAccepted marks tables whose manual changes the operator has already
// run. Their DDL adopts the configured types and key instead of keeping the
// previous ones. Names match the target table or schema.table,
// case-insensitively.
func (g *Generator) WithAccepted(tables ...string) *Generator {
	if g.accepted == nil {
		g.accepted = make(map[string]struct{}, len(tables))
	}
	for _, t := range tables {
		if t = strings.TrimSpace(t); t != "" {
			g.accepted[strings.ToLower(t)] = struct{}{}
		}
	}
	return g
}

func (g *Generator) isAccepted(t columns.TableMigration) bool {
	if _, ok := g.accepted[strings.ToLower(t.TableName)]; ok {
		return true
	}
	_, ok := g.accepted[strings.ToLower(t.TargetSchema+"."+t.TableName)]
	return ok
}

// SinkResult reports what one sink's generation touched. Paths are
// relative to Dir.
type SinkResult struct {
	SinkName  string
	Dir       string
	Written   []string
	Unchanged []string
	Manual    []string
	Accepted  []string
	Changes   []diff.SchemaChange
}

type Result struct {
	Service string
	Sinks   []SinkResult
}

// ManualRequired reports whether any sink produced manual entries.
func (r Result) ManualRequired() bool {
	for _, s := range r.Sinks {
		if len(s.Manual) > 0 {
			return true
		}
	}
	return false
}

// GenerateService renders every sink of service into
// <migrationsRoot>/<service>/<sink>.
func (g *Generator) GenerateService(ctx context.Context, service string) (Result, error) {
	plan, err := g.planner.Plan(service)
	if err != nil {
		return Result{}, err
	}
	if len(plan.Sinks) == 0 {
		return Result{}, fmt.Errorf("%w: %s", config.ErrNoSinks, service)
	}

	res := Result{Service: service}
	for _, sink := range plan.Sinks {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sr, err := g.generateSink(plan, sink)
		if err != nil {
			return res, fmt.Errorf("sink %s: %w", sink.Target.SinkName, err)
		}
		g.logger.Info("sink generated",
			"service", service,
			"sink", sr.SinkName,
			"written", len(sr.Written),
			"unchanged", len(sr.Unchanged),
			"manual", len(sr.Manual))
		res.Sinks = append(res.Sinks, sr)
	}
	return res, nil
}

func (g *Generator) generateSink(plan config.ServicePlan, sink config.SinkPlan) (SinkResult, error) {
	dir := storage.SinkDir(g.migrationsRoot, plan.Service, sink.Target.SinkName)
	sr := SinkResult{SinkName: sink.Target.SinkName, Dir: dir}
	at := g.now()

	tables, err := diff.ExpectedTables(plan, sink)
	if err != nil {
		return sr, err
	}
	names := storage.TableFileNames(tables)
	manual := NewManualEmitter(dir, plan, g.now)

	if err := g.write(&sr, storage.SchemasFile, ddl.BuildSchemasSQL(tables, at)); err != nil {
		return sr, err
	}
	if err := g.write(&sr, storage.ManagementFile, ddl.BuildManagementSQL(at)); err != nil {
		return sr, err
	}
	manifest := storage.Manifest{
		Infrastructure: []string{storage.SchemasFile, storage.ManagementFile},
		SinkTarget: storage.SinkTarget{
			SinkGroup:     sink.Target.SinkGroup,
			Service:       sink.Target.SinkService,
			SourceService: plan.Service,
			Databases:     sink.Target.Databases,
		},
	}

	expected := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		base := names[t.Qualified()]
		expected[base] = struct{}{}

		t, err := g.reconcile(&sr, manual, base, t)
		if err != nil {
			return sr, err
		}
		if err := g.write(&sr, storage.TablePath(base), ddl.BuildCreateTableSQL(t, at)); err != nil {
			return sr, err
		}
		manifest.Tables = append(manifest.Tables, storage.TablePath(base))

		if t.Staging {
			if err := g.write(&sr, storage.StagingPath(base), ddl.BuildStagingSQL(t, at)); err != nil {
				return sr, err
			}
			manifest.Tables = append(manifest.Tables, storage.StagingPath(base))
		}
	}

	// Files of tables that left the configuration stay on disk for the
	// operator but drop out of the manifest.
	existing, err := storage.ListTableFiles(dir)
	if err != nil {
		return sr, err
	}
	for _, base := range existing {
		if _, ok := expected[base]; ok {
			continue
		}
		text, _, err := storage.ReadFile(dir, storage.TablePath(base))
		if err != nil {
			return sr, err
		}
		schema, table, ok := diff.ParseTableName(text)
		if !ok {
			table = base
		}
		change := diff.SchemaChange{
			Kind:      diff.TableRemoved,
			SinkName:  sr.SinkName,
			TableName: table,
			Severity:  diff.SeverityWarning,
		}
		sr.Changes = append(sr.Changes, change)
		if err := g.emit(&sr, manual, base, ManualEntry{Change: change, Schema: schema, Table: table}); err != nil {
			return sr, err
		}
	}

	if err := storage.WriteManifest(dir, manifest); err != nil {
		return sr, err
	}
	sr.Written = append(sr.Written, storage.ManifestFile)
	return sr, nil
}

// reconcile compares t with the table's previous DDL file. Destructive
// changes go to the manual file, and changed columns keep their previous
// type and key so the regular DDL never changes them in place. Accepted
// tables keep t as configured and get the acceptance recorded instead.
func (g *Generator) reconcile(sr *SinkResult, manual *ManualEmitter, base string, t columns.TableMigration) (columns.TableMigration, error) {
	prev, ok, err := storage.ReadFile(sr.Dir, storage.TablePath(base))
	if err != nil || !ok {
		return t, err
	}
	parsed, ok := diff.ParseCreateTable(prev)
	if !ok {
		g.logger.Warn("previous DDL not parseable, overwriting", "sink", sr.SinkName, "file", storage.TablePath(base))
		return t, nil
	}

	declared := make(map[string]diff.ParsedColumn, len(parsed))
	for _, p := range parsed {
		declared[p.Name] = p
	}
	newPKs := t.PrimaryKeys
	accept := g.isAccepted(t)

	for _, c := range diff.CompareColumns(t.Columns, parsed) {
		c.SinkName = sr.SinkName
		c.TableName = t.TableName
		sr.Changes = append(sr.Changes, c)
		if !c.Destructive() {
			continue
		}

		entry := ManualEntry{Change: c, Schema: t.TargetSchema, Table: t.TableName}
		if accept {
			if err := g.accept(sr, manual, base, entry); err != nil {
				return t, err
			}
			continue
		}
		switch c.Kind {
		case diff.ColumnTypeChanged:
			t.Columns = cloneColumns(t.Columns)
			for i := range t.Columns {
				if t.Columns[i].Name == c.ColumnName {
					entry.NewType = t.Columns[i].Type
					t.Columns[i].Type = declared[c.ColumnName].Declared
				}
			}
		case diff.PrimaryKeyChanged:
			entry.PrimaryKeys = newPKs
			t = keepPrimaryKeys(t, diff.PrimaryKeys(parsed))
		}
		if err := g.emit(sr, manual, base, entry); err != nil {
			return t, err
		}
	}
	return t, nil
}

func (g *Generator) emit(sr *SinkResult, manual *ManualEmitter, base string, e ManualEntry) error {
	rel, written, err := manual.Emit(base, e)
	if err != nil {
		return err
	}
	if written {
		g.logger.Warn("manual migration required", "sink", sr.SinkName, "table", e.Table, "change", string(e.Change.Kind), "file", rel)
	}
	for _, m := range sr.Manual {
		if m == rel {
			return nil
		}
	}
	sr.Manual = append(sr.Manual, rel)
	return nil
}

func (g *Generator) accept(sr *SinkResult, manual *ManualEmitter, base string, e ManualEntry) error {
	rel, written, err := manual.Accept(base, e)
	if err != nil {
		return err
	}
	if written {
		g.logger.Info("manual change accepted", "sink", sr.SinkName, "table", e.Table, "change", string(e.Change.Kind), "file", rel)
	}
	for _, a := range sr.Accepted {
		if a == rel {
			return nil
		}
	}
	sr.Accepted = append(sr.Accepted, rel)
	return nil
}

// write stores content at rel unless the file already holds the same
// checksum, so timestamp-only regenerations leave files untouched.
func (g *Generator) write(sr *SinkResult, rel, content string) error {
	existing, ok, err := storage.ReadFile(sr.Dir, rel)
	if err != nil {
		return err
	}
	if ok {
		if sum, found := ddl.ExtractChecksum(existing); found && sum == ddl.ComputeChecksum(content) {
			sr.Unchanged = append(sr.Unchanged, rel)
			return nil
		}
	}
	if err := storage.WriteFile(sr.Dir, rel, content); err != nil {
		return err
	}
	sr.Written = append(sr.Written, rel)
	return nil
}

func keepPrimaryKeys(t columns.TableMigration, pks []string) columns.TableMigration {
	set := make(map[string]struct{}, len(pks))
	for _, pk := range pks {
		set[strings.ToLower(pk)] = struct{}{}
	}
	t.Columns = cloneColumns(t.Columns)
	for i := range t.Columns {
		_, ok := set[strings.ToLower(t.Columns[i].Name)]
		t.Columns[i].PrimaryKey = ok
		if ok {
			t.Columns[i].Nullable = false
		}
	}
	t.PrimaryKeys = pks
	return t
}

func cloneColumns(cols []columns.MigrationColumn) []columns.MigrationColumn {
	return append([]columns.MigrationColumn(nil), cols...)
}
