package diff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"cdc_migrator/internal/columns"
	"cdc_migrator/internal/config"
	"cdc_migrator/internal/storage"
)

var ErrUnparseableDDL = errors.New("generated DDL has no CREATE TABLE statement")

// Planner resolves a service into its sinks and tables.
type Planner interface {
	Plan(service string) (config.ServicePlan, error)
}

// Logger is the subset of slog used here.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Engine compares the generated files of a service with the column model
// its configuration produces today.
type Engine struct {
	planner        Planner
	migrationsRoot string
	logger         Logger
}

func NewEngine(planner Planner, migrationsRoot string, logger Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{planner: planner, migrationsRoot: migrationsRoot, logger: logger}
}

// SinkDiff holds the changes of one sink target.
type SinkDiff struct {
	SinkName string
	Dir      string
	Changes  []SchemaChange
}

// Result is the outcome of diffing one service.
type Result struct {
	Service string
	Sinks   []SinkDiff
}

func (r Result) HasChanges() bool {
	for _, s := range r.Sinks {
		if len(s.Changes) > 0 {
			return true
		}
	}
	return false
}

// Changes flattens every sink's changes in sink order.
func (r Result) Changes() []SchemaChange {
	var out []SchemaChange
	for _, s := range r.Sinks {
		out = append(out, s.Changes...)
	}
	return out
}

// ExitCode is 0 without changes and 1 with. Hard errors are reported by
// Diff's error and map to 2 at the command line.
func (r Result) ExitCode() int {
	if r.HasChanges() {
		return 1
	}
	return 0
}

// Diff checks every sink of service. Missing configuration, an empty sink
// list and DDL files that cannot be parsed are hard errors.
func (e *Engine) Diff(ctx context.Context, service string) (Result, error) {
	plan, err := e.planner.Plan(service)
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
		sd, err := e.diffSink(plan, sink)
		if err != nil {
			return res, fmt.Errorf("sink %s: %w", sink.Target.SinkName, err)
		}
		e.logger.Info("sink diffed", "service", service, "sink", sd.SinkName, "changes", len(sd.Changes))
		res.Sinks = append(res.Sinks, sd)
	}
	return res, nil
}

func (e *Engine) diffSink(plan config.ServicePlan, sink config.SinkPlan) (SinkDiff, error) {
	dir := storage.SinkDir(e.migrationsRoot, plan.Service, sink.Target.SinkName)
	sd := SinkDiff{SinkName: sink.Target.SinkName, Dir: dir}

	tables, err := ExpectedTables(plan, sink)
	if err != nil {
		return sd, err
	}
	names := storage.TableFileNames(tables)
	expected := make(map[string]struct{}, len(tables))

	for _, t := range tables {
		base := names[t.Qualified()]
		expected[base] = struct{}{}

		text, ok, err := storage.ReadFile(dir, storage.TablePath(base))
		if err != nil {
			return sd, err
		}
		if !ok {
			sd.Changes = append(sd.Changes, SchemaChange{
				Kind:      TableAdded,
				SinkName:  sd.SinkName,
				TableName: t.TableName,
				Severity:  SeverityInfo,
			})
			continue
		}
		parsed, ok := ParseCreateTable(text)
		if !ok {
			return sd, fmt.Errorf("%s: %w", storage.TablePath(base), ErrUnparseableDDL)
		}
		for _, c := range CompareColumns(t.Columns, parsed) {
			c.SinkName = sd.SinkName
			c.TableName = t.TableName
			sd.Changes = append(sd.Changes, c)
		}
	}

	existing, err := storage.ListTableFiles(dir)
	if err != nil {
		return sd, err
	}
	for _, base := range existing {
		if _, ok := expected[base]; ok {
			continue
		}
		name := base
		if text, ok, err := storage.ReadFile(dir, storage.TablePath(base)); err == nil && ok {
			if _, table, ok := ParseTableName(text); ok {
				name = table
			}
		}
		sd.Changes = append(sd.Changes, SchemaChange{
			Kind:      TableRemoved,
			SinkName:  sd.SinkName,
			TableName: name,
			Severity:  SeverityWarning,
		})
	}
	return sd, nil
}

// ExpectedTables builds the column model of every generated table of sink.
func ExpectedTables(plan config.ServicePlan, sink config.SinkPlan) ([]columns.TableMigration, error) {
	mapper := plan.TypeMapper()
	var out []columns.TableMigration
	for _, spec := range sink.Tables {
		t, err := columns.BuildTable(spec, mapper)
		if err != nil {
			return nil, err
		}
		if !t.Generated() {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Describe returns a human-readable summary of a diff result.
func Describe(r Result) string {
	if !r.HasChanges() {
		return fmt.Sprintf("service %s: generated migrations are up to date", r.Service)
	}

	var lines []string
	for _, s := range r.Sinks {
		if len(s.Changes) == 0 {
			lines = append(lines, fmt.Sprintf("Sink %s: no changes", s.SinkName))
			continue
		}
		lines = append(lines, fmt.Sprintf("Sink %s: %d change(s)", s.SinkName, len(s.Changes)))
		changes := append([]SchemaChange{}, s.Changes...)
		sort.SliceStable(changes, func(i, j int) bool {
			return changes[i].TableName < changes[j].TableName
		})
		for _, c := range changes {
			lines = append(lines, "  "+c.String())
		}
	}

	var breaking int
	for _, c := range r.Changes() {
		if c.Severity == SeverityBreaking {
			breaking++
		}
	}
	if breaking > 0 {
		lines = append(lines, fmt.Sprintf("%d breaking change(s) need manual migration; run generate to write MANUAL_REQUIRED.sql", breaking))
	}
	return strings.Join(lines, "\n")
}
