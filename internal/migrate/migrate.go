// Package migrate applies a sink's generated migration files to its target
// database exactly once, tracking checksums in the history table.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"cdc_migrator/internal/db"
	"cdc_migrator/internal/ddl"
	"cdc_migrator/internal/diff"
	"cdc_migrator/internal/storage"
)

type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Resolver turns a sink target into connection parameters.
type Resolver interface {
	Resolve(target storage.SinkTarget, env string) (db.Params, error)
}

type Runner struct {
	connector db.Connector
	resolver  Resolver
	history   *History
	root      string
	logger    Logger
	now       func() time.Time
}

func New(connector db.Connector, resolver Resolver, migrationsRoot string, logger Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		connector: connector,
		resolver:  resolver,
		history:   NewHistory(),
		root:      migrationsRoot,
		logger:    logger,
		now:       time.Now,
	}
}

// FileResult is the outcome of one file.
type FileResult struct {
	File     string
	Category storage.Category
	Decision Decision
	Err      error
}

// SinkResult summarises one sink directory. Err is set when the sink
// stopped early.
type SinkResult struct {
	Dir     string
	Name    string
	DryRun  bool
	Files   []FileResult
	Applied int
	Updated int
	Skipped int
	Failed  int
	Err     error
}

type Result struct {
	RunID string
	Sinks []SinkResult
}

// Failed reports whether any sink stopped with an error.
func (r Result) Failed() bool {
	for _, s := range r.Sinks {
		if s.Err != nil {
			return true
		}
	}
	return false
}

func (r Result) ExitCode() int {
	if r.Failed() {
		return 1
	}
	return 0
}

// ApplyAll applies every sink directory under the migrations root, one at a
// time. A failing sink does not stop the others. Only names the sink
// directories to apply (matched against the directory name); empty means
// all.
func (r *Runner) ApplyAll(ctx context.Context, env string, dryRun bool, only ...string) (Result, error) {
	res := Result{RunID: uuid.NewString()}
	dirs, err := storage.DiscoverSinkDirs(r.root)
	if err != nil {
		return res, err
	}
	dirs = storage.FilterSinkDirs(dirs, only)
	if len(dirs) == 0 {
		return res, fmt.Errorf("%w under %s", storage.ErrNoSinkDirs, r.root)
	}

	r.logger.Info("apply started", "run_id", res.RunID, "env", env, "sinks", len(dirs), "dry_run", dryRun)
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Sinks = append(res.Sinks, r.applySink(ctx, res.RunID, dir, env, dryRun))
	}
	return res, nil
}

// ApplySink applies a single sink directory.
func (r *Runner) ApplySink(ctx context.Context, sinkDir, env string, dryRun bool) SinkResult {
	return r.applySink(ctx, uuid.NewString(), sinkDir, env, dryRun)
}

func (r *Runner) applySink(ctx context.Context, runID, sinkDir, env string, dryRun bool) SinkResult {
	sr := SinkResult{Dir: sinkDir, Name: filepath.Base(sinkDir), DryRun: dryRun}
	log := []any{"run_id", runID, "sink", sr.Name}

	files, err := storage.GetOrderedFiles(sinkDir)
	if err != nil {
		sr.Err = err
		r.logger.Error("list migration files", append(log, "error", err)...)
		return sr
	}
	if dryRun {
		for _, rel := range files {
			sr.Files = append(sr.Files, FileResult{File: rel, Category: storage.CategoryOf(rel)})
		}
		return sr
	}

	manifest, _, err := storage.LoadManifest(sinkDir)
	if err != nil {
		sr.Err = err
		return sr
	}
	params, err := r.resolver.Resolve(manifest.SinkTarget, env)
	if err != nil {
		sr.Err = fmt.Errorf("resolve connection: %w", err)
		r.logger.Error("resolve connection", append(log, "error", err)...)
		return sr
	}
	conn, err := r.connector.Connect(ctx, params)
	if err != nil {
		sr.Err = err
		r.logger.Error("connect", append(log, "target", params.String(), "error", err)...)
		return sr
	}
	defer func() {
		if err := conn.Close(ctx); err != nil {
			r.logger.Warn("close connection", append(log, "error", err)...)
		}
	}()

	for _, rel := range files {
		fr := r.applyFile(ctx, conn, sinkDir, rel)
		sr.Files = append(sr.Files, fr)
		switch {
		case fr.Err != nil:
			sr.Failed++
			sr.Err = fmt.Errorf("%s: %w", rel, fr.Err)
			r.logger.Error("migration failed", append(log, "file", rel, "error", fr.Err)...)
		case fr.Decision == DecisionSkip:
			sr.Skipped++
		case fr.Decision == DecisionUpdate:
			sr.Updated++
			r.logger.Info("migration re-applied", append(log, "file", rel)...)
		default:
			sr.Applied++
			r.logger.Info("migration applied", append(log, "file", rel)...)
		}
		if fr.Err != nil {
			break
		}
	}
	r.logger.Info("sink finished", append(log,
		"applied", sr.Applied, "updated", sr.Updated, "skipped", sr.Skipped, "failed", sr.Failed)...)
	return sr
}

func (r *Runner) applyFile(ctx context.Context, conn db.Conn, sinkDir, rel string) FileResult {
	fr := FileResult{File: rel, Category: storage.CategoryOf(rel)}

	text, ok, err := storage.ReadFile(sinkDir, rel)
	if err == nil && !ok {
		err = errors.New("file disappeared")
	}
	if err != nil {
		fr.Err = err
		return fr
	}

	checksum := ddl.ComputeChecksum(text)
	name := storage.HistoryName(r.root, sinkDir, rel)
	schema := SchemaOf(fr.Category, text)

	fr.Decision = r.history.Check(ctx, conn, name, schema, checksum)
	if fr.Decision == DecisionSkip {
		return fr
	}

	if fr.Category == storage.CategoryTable {
		if err := ValidateTableDrift(ctx, conn, text); err != nil {
			_ = conn.Rollback(ctx)
			fr.Err = err
			return fr
		}
	}

	for _, stmt := range db.SplitStatements(text) {
		if err := conn.Exec(ctx, stmt); err != nil {
			_ = conn.Rollback(ctx)
			fr.Err = err
			return fr
		}
	}
	if err := conn.Commit(ctx); err != nil {
		_ = conn.Rollback(ctx)
		fr.Err = fmt.Errorf("commit: %w", err)
		return fr
	}

	rec := HistoryRecord{
		FileName:   name,
		Checksum:   checksum,
		SchemaName: schema,
		Category:   fr.Category,
		AppliedAt:  r.now().UTC(),
	}
	if err := r.history.Record(ctx, conn, rec); err != nil {
		// The history table may not exist before the infrastructure runs.
		r.logger.Warn("history not recorded", "file", name, "error", err)
	}
	return fr
}

// SchemaOf is the schema a file is recorded under: the target schema of a
// table or staging file, nil for infrastructure.
func SchemaOf(category storage.Category, text string) *string {
	if category == storage.CategoryInfrastructure {
		return nil
	}
	schema, _, ok := diff.ParseTableName(text)
	if !ok || schema == "" {
		return nil
	}
	return &schema
}
