package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"cdc_migrator/internal/columns"
	"cdc_migrator/internal/secret"
	"cdc_migrator/internal/typemap"
)

var (
	ErrServiceNotFound  = errors.New("service config not found")
	ErrNoSinks          = errors.New("no sinks configured for service")
	ErrSinkGroupMissing = errors.New("sink group config not found")
	ErrInvalidSinkName  = errors.New("sink name must be <group>.<service>")
	ErrUnknownTemplate  = errors.New("unknown column template")
	ErrUnknownTransform = errors.New("unknown transform rule")
	ErrMissingEnv       = errors.New("environment variable not set")
)

const (
	servicesDir        = "services"
	sinkGroupsDir      = "sink-groups"
	columnTemplateFile = "column-templates.yaml"
	transformRuleFile  = "transform-rules.yaml"
)

// Project reads the declarative configuration tree rooted at Root.
type Project struct {
	Root      string
	cache     *FileCache
	secretKey []byte
}

// NewProject returns a loader for root. A nil cache gets a fresh one.
func NewProject(root string, cache *FileCache) *Project {
	if cache == nil {
		cache = NewFileCache()
	}
	return &Project{Root: root, cache: cache}
}

// WithSecretKey sets the key used to reveal sealed server passwords.
func (p *Project) WithSecretKey(key []byte) *Project {
	p.secretKey = key
	return p
}

// SinkTarget identifies one destination database of a service.
type SinkTarget struct {
	SinkName    string
	SinkGroup   string
	SinkService string
	Databases   map[string]string
}

// TypeChangeHint is an operator-supplied USING expression for a column type
// change that cannot be applied automatically.
type TypeChangeHint struct {
	Table  string
	Column string
	From   string
	To     string
	Using  string
}

// ServicePlan is a service configuration validated into typed values.
type ServicePlan struct {
	Service      string
	SourceEngine string
	Sinks        []SinkPlan
	Hints        []TypeChangeHint
}

// SinkPlan is one sink of a service with its resolved tables, sorted by
// source key.
type SinkPlan struct {
	Target SinkTarget
	Tables []columns.TableSpec
}

// TypeMapper returns the mapper for the service's source engine. PostgreSQL
// sources keep their types verbatim.
func (p ServicePlan) TypeMapper() typemap.Func {
	return typemap.ForEngine(p.SourceEngine)
}

// Hint returns the hint for table.column, matching names case-insensitively.
// From and To, when set on the hint, must match the change as well.
func (p ServicePlan) Hint(table, column, from, to string) (TypeChangeHint, bool) {
	for _, h := range p.Hints {
		if !strings.EqualFold(h.Table, table) || !strings.EqualFold(h.Column, column) {
			continue
		}
		if h.From != "" && !strings.EqualFold(h.From, from) {
			continue
		}
		if h.To != "" && !strings.EqualFold(h.To, to) {
			continue
		}
		return h, true
	}
	return TypeChangeHint{}, false
}

// Server is a resolved database server definition.
type Server struct {
	Name     string
	Host     string
	Port     int
	User     string
	Password string
}

type rawColumn struct {
	Name       string `yaml:"name"`
	FieldName  string `yaml:"fieldName"`
	Type       string `yaml:"type"`
	PgType     string `yaml:"postgres_type"`
	Nullable   *bool  `yaml:"nullable"`
	PrimaryKey bool   `yaml:"primary_key"`
}

type rawTable struct {
	Columns     []rawColumn `yaml:"columns"`
	Fields      []rawColumn `yaml:"fields"`
	PrimaryKeys []string    `yaml:"primary_keys"`
}

type rawSchema struct {
	Tables map[string]rawTable `yaml:"tables"`
}

type rawSinkTable struct {
	TargetTable        string   `yaml:"target_table"`
	TargetSchema       string   `yaml:"target_schema"`
	TargetExists       bool     `yaml:"target_exists"`
	ReplicateStructure *bool    `yaml:"replicate_structure"`
	Staging            bool     `yaml:"staging"`
	IgnoreColumns      []string `yaml:"ignore_columns"`
	ColumnTemplates    []string `yaml:"column_templates"`
	Transforms         []string `yaml:"transforms"`
}

type rawSink struct {
	TargetSchema    string                   `yaml:"target_schema"`
	IgnoreColumns   []string                 `yaml:"ignore_columns"`
	ColumnTemplates []string                 `yaml:"column_templates"`
	Transforms      []string                 `yaml:"transforms"`
	Tables          map[string]*rawSinkTable `yaml:"tables"`
}

type rawHints struct {
	TypeChanges []struct {
		Table  string `yaml:"table"`
		Column string `yaml:"column"`
		From   string `yaml:"from"`
		To     string `yaml:"to"`
		Using  string `yaml:"using"`
	} `yaml:"type_changes"`
}

type rawService struct {
	Service string `yaml:"service"`
	Source  struct {
		Engine        string               `yaml:"engine"`
		IgnoreColumns []string             `yaml:"ignore_columns"`
		Schemas       map[string]rawSchema `yaml:"schemas"`
	} `yaml:"source"`
	Sinks       map[string]rawSink `yaml:"sinks"`
	ManualHints rawHints           `yaml:"manual_migration_hints"`
}

type rawServer struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type rawSinkGroup struct {
	Servers  map[string]rawServer `yaml:"servers"`
	Services map[string]struct {
		Server    string            `yaml:"server"`
		Databases map[string]string `yaml:"databases"`
	} `yaml:"services"`
}

type rawTemplates struct {
	Templates map[string]struct {
		Name     string `yaml:"name"`
		Type     string `yaml:"type"`
		Nullable *bool  `yaml:"nullable"`
		Default  string `yaml:"default"`
	} `yaml:"templates"`
}

type rawTransforms struct {
	Rules map[string]struct {
		Expression           string `yaml:"expression"`
		ExpectedOutputColumn string `yaml:"expected_output_column"`
		OutputType           string `yaml:"output_type"`
	} `yaml:"rules"`
}

// TableConfig is one sink table entry as returned by Sinks.
type TableConfig struct {
	SourceSchema       string
	SourceTable        string
	TargetTable        string
	TargetSchema       string
	TargetExists       bool
	ReplicateStructure bool
	Staging            bool
}

func (p *Project) loadService(service string) (*rawService, error) {
	path := filepath.Join(p.Root, servicesDir, service+".yaml")
	svc, err := loadYAML[rawService](p.cache, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, service)
		}
		return nil, err
	}
	if len(svc.Sinks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSinks, service)
	}
	return svc, nil
}

// Sinks returns the service's sink table entries keyed by sink name and
// source table key.
func (p *Project) Sinks(service string) (map[string]map[string]TableConfig, error) {
	svc, err := p.loadService(service)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]TableConfig, len(svc.Sinks))
	for sinkName, sink := range svc.Sinks {
		tables := make(map[string]TableConfig, len(sink.Tables))
		for key, t := range sink.Tables {
			tables[key] = resolveTableConfig(service, key, sink, t)
		}
		out[sinkName] = tables
	}
	return out, nil
}

func resolveTableConfig(service, key string, sink rawSink, t *rawSinkTable) TableConfig {
	if t == nil {
		t = &rawSinkTable{}
	}
	schema, table := splitKey(key)
	tc := TableConfig{
		SourceSchema:       schema,
		SourceTable:        table,
		TargetTable:        firstNonEmpty(t.TargetTable, table),
		TargetSchema:       firstNonEmpty(t.TargetSchema, sink.TargetSchema, service),
		TargetExists:       t.TargetExists,
		ReplicateStructure: true,
		Staging:            t.Staging,
	}
	if t.ReplicateStructure != nil {
		tc.ReplicateStructure = *t.ReplicateStructure
	}
	return tc
}

// Plan loads the service and resolves every sink table returned by Sinks
// into a TableSpec.
func (p *Project) Plan(service string) (ServicePlan, error) {
	sinks, err := p.Sinks(service)
	if err != nil {
		return ServicePlan{}, err
	}
	svc, err := p.loadService(service)
	if err != nil {
		return ServicePlan{}, err
	}

	plan := ServicePlan{
		Service:      service,
		SourceEngine: svc.Source.Engine,
	}
	for _, h := range svc.ManualHints.TypeChanges {
		plan.Hints = append(plan.Hints, TypeChangeHint{
			Table: h.Table, Column: h.Column, From: h.From, To: h.To, Using: h.Using,
		})
	}

	for _, sinkName := range sortedKeys(svc.Sinks) {
		sink := svc.Sinks[sinkName]
		target, err := p.ResolveSinkTarget(sinkName)
		if err != nil {
			return ServicePlan{}, err
		}
		sp := SinkPlan{Target: target}

		configs := sinks[sinkName]
		for _, key := range sortedKeys(configs) {
			tc := configs[key]
			t := sink.Tables[key]
			if t == nil {
				t = &rawSinkTable{}
			}
			spec := columns.TableSpec{
				SourceKey:          key,
				SourceSchema:       tc.SourceSchema,
				TableName:          tc.TargetTable,
				TargetSchema:       tc.TargetSchema,
				ReplicateStructure: tc.ReplicateStructure,
				TargetExists:       tc.TargetExists,
				Staging:            tc.Staging,
			}
			// Tables owned elsewhere need no source definition.
			if tc.ReplicateStructure && !tc.TargetExists {
				def, sourceSchema, err := sourceTable(svc, tc.SourceSchema, tc.SourceTable)
				if err != nil {
					return ServicePlan{}, fmt.Errorf("sink %s: %w", sinkName, err)
				}
				pipeline, err := p.pipeline(svc, sink, t)
				if err != nil {
					return ServicePlan{}, fmt.Errorf("sink %s table %s: %w", sinkName, key, err)
				}
				spec.SourceSchema = sourceSchema
				spec.Def = def
				spec.Pipeline = pipeline
			}
			sp.Tables = append(sp.Tables, spec)
		}
		plan.Sinks = append(plan.Sinks, sp)
	}
	return plan, nil
}

// sourceTable finds schema.table in the service's source definitions. An
// empty schema matches the first schema, in name order, that has the table.
func sourceTable(svc *rawService, schema, table string) (columns.TableDef, string, error) {
	var found *rawTable
	var schemaFound string
	for _, name := range sortedKeys(svc.Source.Schemas) {
		s := svc.Source.Schemas[name]
		if found != nil {
			break
		}
		if schema != "" && !strings.EqualFold(name, schema) {
			continue
		}
		for tname, t := range s.Tables {
			if strings.EqualFold(tname, table) {
				t := t
				found = &t
				schemaFound = name
				break
			}
		}
	}
	if found == nil {
		return columns.TableDef{}, "", fmt.Errorf("source table %s.%s not defined", schema, table)
	}
	def := columns.TableDef{
		Columns:     convertColumns(found.Columns),
		Fields:      convertColumns(found.Fields),
		PrimaryKeys: found.PrimaryKeys,
	}
	return def, schemaFound, nil
}

func convertColumns(raw []rawColumn) []columns.RawColumn {
	if len(raw) == 0 {
		return nil
	}
	out := make([]columns.RawColumn, 0, len(raw))
	for _, rc := range raw {
		out = append(out, columns.RawColumn{
			Name:       firstNonEmpty(rc.Name, rc.FieldName),
			Type:       firstNonEmpty(rc.Type, rc.PgType),
			Nullable:   rc.Nullable,
			PrimaryKey: rc.PrimaryKey,
		})
	}
	return out
}

func (p *Project) pipeline(svc *rawService, sink rawSink, t *rawSinkTable) (columns.Pipeline, error) {
	var pl columns.Pipeline
	pl.Ignore = append(pl.Ignore, svc.Source.IgnoreColumns...)
	pl.Ignore = append(pl.Ignore, sink.IgnoreColumns...)
	pl.Ignore = append(pl.Ignore, t.IgnoreColumns...)

	tplNames := append(append([]string{}, sink.ColumnTemplates...), t.ColumnTemplates...)
	if len(tplNames) > 0 {
		tpls, err := loadYAML[rawTemplates](p.cache, filepath.Join(p.Root, columnTemplateFile))
		if err != nil {
			return pl, err
		}
		for _, name := range tplNames {
			raw, ok := tpls.Templates[name]
			if !ok {
				return pl, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
			}
			nullable := true
			if raw.Nullable != nil {
				nullable = *raw.Nullable
			}
			pl.Templates = append(pl.Templates, columns.ColumnTemplate{
				Name:     firstNonEmpty(raw.Name, name),
				Type:     raw.Type,
				Nullable: nullable,
				Default:  raw.Default,
			})
		}
	}

	trNames := append(append([]string{}, sink.Transforms...), t.Transforms...)
	if len(trNames) > 0 {
		rules, err := loadYAML[rawTransforms](p.cache, filepath.Join(p.Root, transformRuleFile))
		if err != nil {
			return pl, err
		}
		for _, name := range trNames {
			raw, ok := rules.Rules[name]
			if !ok {
				return pl, fmt.Errorf("%w: %s", ErrUnknownTransform, name)
			}
			pl.Transforms = append(pl.Transforms, columns.Transform{
				Name:                 name,
				Expression:           raw.Expression,
				ExpectedOutputColumn: raw.ExpectedOutputColumn,
				OutputType:           raw.OutputType,
			})
		}
	}
	return pl, nil
}

// ResolveSinkTarget splits sinkName into group and service and reads the
// per-environment database names from the sink group file. A missing sink
// group file yields a target without databases.
func (p *Project) ResolveSinkTarget(sinkName string) (SinkTarget, error) {
	group, service, ok := strings.Cut(sinkName, ".")
	if !ok || group == "" || service == "" {
		return SinkTarget{}, fmt.Errorf("%w: %q", ErrInvalidSinkName, sinkName)
	}
	target := SinkTarget{
		SinkName:    sinkName,
		SinkGroup:   group,
		SinkService: service,
		Databases:   map[string]string{},
	}
	sg, err := p.loadSinkGroup(group)
	if err != nil {
		if errors.Is(err, ErrSinkGroupMissing) {
			return target, nil
		}
		return SinkTarget{}, err
	}
	if svc, ok := sg.Services[service]; ok {
		for env, dbName := range svc.Databases {
			target.Databases[env] = dbName
		}
	}
	return target, nil
}

func (p *Project) loadSinkGroup(group string) (*rawSinkGroup, error) {
	sg, err := loadYAML[rawSinkGroup](p.cache, filepath.Join(p.Root, sinkGroupsDir, group+".yaml"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSinkGroupMissing, group)
		}
		return nil, err
	}
	return sg, nil
}

// Server returns the server that hosts service inside sinkGroup, with
// ${VAR} placeholders substituted from the environment.
func (p *Project) Server(sinkGroup, service string) (Server, error) {
	sg, err := p.loadSinkGroup(sinkGroup)
	if err != nil {
		return Server{}, err
	}
	name := "default"
	if svc, ok := sg.Services[service]; ok && svc.Server != "" {
		name = svc.Server
	}
	raw, ok := sg.Servers[name]
	if !ok {
		return Server{}, fmt.Errorf("sink group %s: server %q not defined", sinkGroup, name)
	}

	srv := Server{Name: name}
	fields := []struct {
		dst *string
		val string
	}{
		{&srv.Host, raw.Host},
		{&srv.User, raw.User},
		{&srv.Password, raw.Password},
	}
	for _, f := range fields {
		v, err := ExpandEnv(f.val)
		if err != nil {
			return Server{}, fmt.Errorf("sink group %s server %s: %w", sinkGroup, name, err)
		}
		*f.dst = v
	}
	if srv.Password, err = secret.Reveal(p.secretKey, srv.Password); err != nil {
		return Server{}, fmt.Errorf("sink group %s server %s password: %w", sinkGroup, name, err)
	}
	port, err := ExpandEnv(raw.Port)
	if err != nil {
		return Server{}, fmt.Errorf("sink group %s server %s: %w", sinkGroup, name, err)
	}
	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return Server{}, fmt.Errorf("sink group %s server %s: invalid port %q", sinkGroup, name, port)
		}
		srv.Port = n
	}
	return srv, nil
}

var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} placeholders. A variable
// that is unset and has no default is an error.
func ExpandEnv(s string) (string, error) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := placeholderRe.FindStringSubmatch(m)
		if v, ok := os.LookupEnv(sub[1]); ok {
			return v
		}
		if strings.Contains(m, ":-") {
			return sub[2]
		}
		missing = append(missing, sub[1])
		return ""
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}
	return out, nil
}

func splitKey(key string) (schema, table string) {
	if s, t, ok := strings.Cut(key, "."); ok {
		return s, t
	}
	return "", key
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
