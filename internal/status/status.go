// Package status reports which migration files a target database has
// applied, which changed since, and which are still pending.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"cdc_migrator/internal/db"
	"cdc_migrator/internal/ddl"
	"cdc_migrator/internal/migrate"
	"cdc_migrator/internal/storage"
)

type State string

const (
	StateApplied  State = "Applied"
	StateModified State = "Modified"
	StatePending  State = "Pending"
)

type Entry struct {
	File     string
	Category storage.Category
	Checksum string
	State    State
}

// SinkReport lists one sink directory's files. Online is false when the
// database was not consulted; ConnErr says why when a connection was tried.
type SinkReport struct {
	Dir     string
	Name    string
	Online  bool
	ConnErr error
	Entries []Entry
}

type Report struct {
	Sinks []SinkReport
}

// Pending counts entries that still need an apply.
func (r Report) Pending() int {
	n := 0
	for _, s := range r.Sinks {
		for _, e := range s.Entries {
			if e.State != StateApplied {
				n++
			}
		}
	}
	return n
}

// ExitCode is 0 when everything is applied and 1 otherwise. Hard errors map
// to 2 at the command line.
func (r Report) ExitCode() int {
	if r.Pending() > 0 {
		return 1
	}
	return 0
}

type Logger interface {
	Warn(msg string, args ...any)
}

type Reporter struct {
	connector db.Connector
	resolver  migrate.Resolver
	history   *migrate.History
	root      string
	logger    Logger
}

func NewReporter(connector db.Connector, resolver migrate.Resolver, migrationsRoot string, logger Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		connector: connector,
		resolver:  resolver,
		history:   migrate.NewHistory(),
		root:      migrationsRoot,
		logger:    logger,
	}
}

// Offline lists every file as Pending without touching a database.
func (r *Reporter) Offline(only ...string) (Report, error) {
	dirs, err := r.sinkDirs(only)
	if err != nil {
		return Report{}, err
	}
	var rep Report
	for _, dir := range dirs {
		sr, err := offlineSink(dir)
		if err != nil {
			return rep, err
		}
		rep.Sinks = append(rep.Sinks, sr)
	}
	return rep, nil
}

// Online classifies files against each sink's history table. A sink whose
// database cannot be reached is reported offline with ConnErr set.
func (r *Reporter) Online(ctx context.Context, env string, only ...string) (Report, error) {
	dirs, err := r.sinkDirs(only)
	if err != nil {
		return Report{}, err
	}
	var rep Report
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		sr, err := r.onlineSink(ctx, dir, env)
		if err != nil {
			return rep, err
		}
		rep.Sinks = append(rep.Sinks, sr)
	}
	return rep, nil
}

func (r *Reporter) onlineSink(ctx context.Context, dir, env string) (SinkReport, error) {
	sr, err := offlineSink(dir)
	if err != nil {
		return sr, err
	}

	manifest, _, err := storage.LoadManifest(dir)
	if err != nil {
		return sr, err
	}
	params, err := r.resolver.Resolve(manifest.SinkTarget, env)
	if err != nil {
		sr.ConnErr = err
		r.logger.Warn("status falls back to offline", "sink", sr.Name, "error", err)
		return sr, nil
	}
	conn, err := r.connector.Connect(ctx, params)
	if err != nil {
		sr.ConnErr = err
		r.logger.Warn("status falls back to offline", "sink", sr.Name, "error", err)
		return sr, nil
	}
	defer func() { _ = conn.Close(ctx) }()

	// A missing history table means nothing was applied yet.
	history, err := r.history.All(ctx, conn)
	if err != nil {
		history = nil
	}
	sr.Online = true

	for i, e := range sr.Entries {
		text, _, err := storage.ReadFile(dir, e.File)
		if err != nil {
			return sr, err
		}
		name := storage.HistoryName(r.root, dir, e.File)
		rec, ok := history[migrate.HistoryKey(name, migrate.SchemaOf(e.Category, text))]
		switch {
		case !ok:
			sr.Entries[i].State = StatePending
		case rec.Checksum == e.Checksum:
			sr.Entries[i].State = StateApplied
		default:
			sr.Entries[i].State = StateModified
		}
	}
	return sr, nil
}

func offlineSink(dir string) (SinkReport, error) {
	sr := SinkReport{Dir: dir, Name: filepath.Base(dir)}
	files, err := storage.GetOrderedFiles(dir)
	if err != nil {
		return sr, fmt.Errorf("sink %s: %w", sr.Name, err)
	}
	for _, rel := range files {
		text, _, err := storage.ReadFile(dir, rel)
		if err != nil {
			return sr, err
		}
		sr.Entries = append(sr.Entries, Entry{
			File:     rel,
			Category: storage.CategoryOf(rel),
			Checksum: ddl.ComputeChecksum(text),
			State:    StatePending,
		})
	}
	return sr, nil
}

func (r *Reporter) sinkDirs(only []string) ([]string, error) {
	dirs, err := storage.DiscoverSinkDirs(r.root)
	if err != nil {
		return nil, err
	}
	dirs = storage.FilterSinkDirs(dirs, only)
	if len(dirs) == 0 {
		return nil, fmt.Errorf("%w under %s", storage.ErrNoSinkDirs, r.root)
	}
	return dirs, nil
}
