// Package storage owns the on-disk layout of a sink's migration directory:
// the numbered sub-directories, manifest.yaml and file ordering.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"cdc_migrator/internal/columns"
)

const (
	InfrastructureDir = "00-infrastructure"
	TablesDir         = "01-tables"
	ManualDir         = "02-manual"
	ManifestFile      = "manifest.yaml"
	ManualFile        = "MANUAL_REQUIRED.sql"

	stagingSuffix = "-staging.sql"
)

// Infrastructure files, relative to the sink directory.
var (
	SchemasFile    = path.Join(InfrastructureDir, "01-schemas.sql")
	ManagementFile = path.Join(InfrastructureDir, "02-cdc-management.sql")
)

var ErrNoSinkDirs = errors.New("no sink directories found")

// Category classifies a migration file for the history table.
type Category string

const (
	CategoryInfrastructure Category = "infrastructure"
	CategoryTable          Category = "table"
	CategoryStaging        Category = "staging"
)

// Manifest lists a sink directory's files in execution order.
type Manifest struct {
	Infrastructure []string   `yaml:"infrastructure"`
	Tables         []string   `yaml:"tables"`
	SinkTarget     SinkTarget `yaml:"sink_target"`
}

// SinkTarget records which sink group/service owns the directory and the
// physical database name per environment.
type SinkTarget struct {
	SinkGroup     string            `yaml:"sink_group"`
	Service       string            `yaml:"service"`
	SourceService string            `yaml:"source_service,omitempty"`
	Databases     map[string]string `yaml:"databases,omitempty"`
}

// Files returns infrastructure entries followed by table entries.
func (m Manifest) Files() []string {
	out := make([]string, 0, len(m.Infrastructure)+len(m.Tables))
	out = append(out, m.Infrastructure...)
	return append(out, m.Tables...)
}

// LoadManifest reads manifest.yaml from sinkDir. The boolean is false when
// the directory has no manifest.
func LoadManifest(sinkDir string) (Manifest, bool, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(sinkDir, ManifestFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return m, false, nil
		}
		return m, false, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, false, fmt.Errorf("parse manifest %s: %w", filepath.Join(sinkDir, ManifestFile), err)
	}
	return m, true, nil
}

// WriteManifest stores m as sinkDir/manifest.yaml.
func WriteManifest(sinkDir string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return WriteFile(sinkDir, ManifestFile, string(data))
}

// GetOrderedFiles returns the sink's migration files (slash-separated,
// relative to sinkDir) in execution order. The manifest is authoritative
// when present; entries whose files are gone are skipped. Without a
// manifest, infrastructure files come first in lexical order, then each
// table file followed by its staging variant.
func GetOrderedFiles(sinkDir string) ([]string, error) {
	m, ok, err := LoadManifest(sinkDir)
	if err != nil {
		return nil, err
	}
	if ok {
		var out []string
		for _, rel := range m.Files() {
			rel = path.Clean(filepath.ToSlash(rel))
			if _, err := os.Stat(filepath.Join(sinkDir, filepath.FromSlash(rel))); err != nil {
				continue
			}
			out = append(out, rel)
		}
		return out, nil
	}

	infra, err := listSQL(sinkDir, InfrastructureDir)
	if err != nil {
		return nil, err
	}
	tables, err := listSQL(sinkDir, TablesDir)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(infra)+len(tables))
	for _, name := range infra {
		out = append(out, path.Join(InfrastructureDir, name))
	}
	return append(out, orderTables(tables)...), nil
}

// orderTables puts every DDL file directly before its staging file. Staging
// files without a DDL file go last.
func orderTables(names []string) []string {
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}
	var out []string
	used := make(map[string]bool, len(names))
	for _, n := range names {
		if strings.HasSuffix(n, stagingSuffix) {
			continue
		}
		out = append(out, path.Join(TablesDir, n))
		used[n] = true
		stg := strings.TrimSuffix(n, ".sql") + stagingSuffix
		if present[stg] {
			out = append(out, path.Join(TablesDir, stg))
			used[stg] = true
		}
	}
	for _, n := range names {
		if !used[n] {
			out = append(out, path.Join(TablesDir, n))
		}
	}
	return out
}

func listSQL(sinkDir, sub string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(sinkDir, sub))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// CategoryOf classifies a file by its path relative to the sink directory.
func CategoryOf(rel string) Category {
	rel = filepath.ToSlash(rel)
	switch {
	case strings.HasPrefix(rel, InfrastructureDir+"/"):
		return CategoryInfrastructure
	case strings.HasSuffix(rel, stagingSuffix):
		return CategoryStaging
	default:
		return CategoryTable
	}
}

// IsSinkDir reports whether dir looks like a generated sink directory.
func IsSinkDir(dir string) bool {
	for _, name := range []string{ManifestFile, TablesDir, InfrastructureDir} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// DiscoverSinkDirs walks root and returns every sink directory, sorted.
// Sink directories are not searched for nested ones.
func DiscoverSinkDirs(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	var dirs []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if IsSinkDir(p) {
			dirs = append(dirs, p)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(dirs)
	return dirs, nil
}

// TableFileNames assigns each table its file base name inside 01-tables,
// keyed by TableMigration.Qualified(). Table names shared by several schemas
// in one sink are prefixed with their schema so files never collide.
func TableFileNames(tables []columns.TableMigration) map[string]string {
	count := make(map[string]int, len(tables))
	for _, t := range tables {
		count[strings.ToLower(safeName(t.TableName))]++
	}
	out := make(map[string]string, len(tables))
	for _, t := range tables {
		base := safeName(t.TableName)
		if count[strings.ToLower(base)] > 1 {
			base = safeName(t.TargetSchema) + "." + base
		}
		out[t.Qualified()] = base
	}
	return out
}

// TablePath is the DDL file for a table base name.
func TablePath(base string) string {
	return path.Join(TablesDir, base+".sql")
}

// StagingPath is the staging DDL file for a table base name.
func StagingPath(base string) string {
	return path.Join(TablesDir, base+stagingSuffix)
}

// ManualPath is the manual-intervention file for a table base name.
func ManualPath(base string) string {
	return path.Join(ManualDir, base, ManualFile)
}

// TableBase returns the table base name of a DDL or staging path, and
// whether rel is a table file at all.
func TableBase(rel string) (string, bool) {
	rel = filepath.ToSlash(rel)
	if !strings.HasPrefix(rel, TablesDir+"/") || !strings.HasSuffix(rel, ".sql") {
		return "", false
	}
	name := strings.TrimPrefix(rel, TablesDir+"/")
	name = strings.TrimSuffix(name, stagingSuffix)
	return strings.TrimSuffix(name, ".sql"), true
}

// ListTableFiles returns the base names of DDL files (staging excluded)
// currently in sinkDir/01-tables.
func ListTableFiles(sinkDir string) ([]string, error) {
	names, err := listSQL(sinkDir, TablesDir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, n := range names {
		if strings.HasSuffix(n, stagingSuffix) {
			continue
		}
		out = append(out, strings.TrimSuffix(n, ".sql"))
	}
	return out, nil
}

// ReadFile reads a file relative to sinkDir. The boolean is false when the
// file does not exist.
func ReadFile(sinkDir, rel string) (string, bool, error) {
	data, err := os.ReadFile(filepath.Join(sinkDir, filepath.FromSlash(rel)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}

// WriteFile writes content to sinkDir/rel, creating parent directories.
func WriteFile(sinkDir, rel, content string) error {
	target := filepath.Join(sinkDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

func safeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "/", "_")
	return name
}

// SinkDir is where a service's sink writes its migrations.
func SinkDir(root, service, sinkName string) string {
	return filepath.Join(root, safeName(service), safeName(sinkName))
}

// HistoryName is the file name recorded in the history table: the file's
// path relative to the migrations root, slash separated. Files outside root
// fall back to the sink-relative path.
func HistoryName(root, sinkDir, rel string) string {
	full := filepath.Join(sinkDir, filepath.FromSlash(rel))
	r, err := filepath.Rel(root, full)
	if err != nil || strings.HasPrefix(r, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(r)
}

// FilterSinkDirs keeps the directories whose base name is listed in names.
// An empty names list keeps everything.
func FilterSinkDirs(dirs, names []string) []string {
	if len(names) == 0 {
		return dirs
	}
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}
	var out []string
	for _, d := range dirs {
		if _, ok := want[filepath.Base(d)]; ok {
			out = append(out, d)
		}
	}
	return out
}
