// Package typemap translates source-engine column types (SQL Server, MySQL)
// into their nearest PostgreSQL equivalents. Names both engines share but
// read differently, such as timestamp, resolve per engine.
package typemap

import (
	"strings"
)

// Func maps a source type name to a target type name. A nil Func leaves
// types untouched.
type Func func(sourceType string) string

// Apply runs f on sourceType, or returns sourceType unchanged when f is nil.
func (f Func) Apply(sourceType string) string {
	if f == nil {
		return sourceType
	}
	return f(sourceType)
}

// Fixed mappings keyed by lower-cased base type. Parameters on these are
// dropped because the target type has no equivalent modifier.
var fixed = map[string]string{
	// SQL Server
	"bit":              "boolean",
	"tinyint":          "smallint",
	"smallint":         "smallint",
	"int":              "integer",
	"integer":          "integer",
	"bigint":           "bigint",
	"real":             "real",
	"float":            "double precision",
	"double":           "double precision",
	"money":            "numeric(19,4)",
	"smallmoney":       "numeric(10,4)",
	"date":             "date",
	"datetime":         "timestamp",
	"datetime2":        "timestamp",
	"smalldatetime":    "timestamp",
	"datetimeoffset":   "timestamptz",
	"time":             "time",
	"uniqueidentifier": "uuid",
	"text":             "text",
	"ntext":            "text",
	"xml":              "xml",
	"image":            "bytea",
	"binary":           "bytea",
	"varbinary":        "bytea",
	"rowversion":       "bytea",
	"timestamp":        "bytea", // row version, not a point in time
	"sql_variant":      "text",
	"hierarchyid":      "text",
	"geography":        "text",
	"geometry":         "text",

	// MySQL
	"mediumint":  "integer",
	"tinytext":   "text",
	"mediumtext": "text",
	"longtext":   "text",
	"tinyblob":   "bytea",
	"blob":       "bytea",
	"mediumblob": "bytea",
	"longblob":   "bytea",
	"json":       "jsonb",
	"year":       "smallint",
	"enum":       "text",
	"set":        "text",
	"boolean":    "boolean",
	"bool":       "boolean",
}

// Parameterised mappings keep their modifier, e.g. nvarchar(100) -> varchar(100).
var parameterised = map[string]string{
	"varchar":  "varchar",
	"nvarchar": "varchar",
	"char":     "char",
	"nchar":    "char",
	"decimal":  "numeric",
	"numeric":  "numeric",
}

// mysqlOverrides replaces fixed mappings whose SQL Server meaning differs.
var mysqlOverrides = map[string]string{
	"timestamp": "timestamptz",
	"datetime":  "timestamp",
	"float":     "real",
}

// ForEngine returns the mapper for a source engine. PostgreSQL sources get a
// nil Func; unknown engines are treated as SQL Server.
func ForEngine(engine string) Func {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "postgres", "postgresql", "pg":
		return nil
	case "mysql", "mariadb":
		return MapMySQL
	default:
		return Map
	}
}

// Map converts a SQL Server type name to PostgreSQL. MySQL-only names are
// understood too. Matching is case-insensitive and unknown types are
// returned unchanged so the generated DDL can be corrected by hand instead
// of failing generation.
func Map(sourceType string) string {
	return convert(sourceType, nil)
}

// MapMySQL is Map with MySQL semantics for timestamp, datetime and float.
func MapMySQL(sourceType string) string {
	return convert(sourceType, mysqlOverrides)
}

func convert(sourceType string, overrides map[string]string) string {
	trimmed := strings.TrimSpace(sourceType)
	if trimmed == "" {
		return sourceType
	}
	base, params := split(trimmed)
	key := strings.ToLower(base)
	key = strings.TrimSuffix(key, " unsigned")

	if target, ok := parameterised[key]; ok {
		if params == "" {
			return target
		}
		if strings.EqualFold(params, "max") {
			if target == "varchar" || target == "char" {
				return "text"
			}
			return target
		}
		return target + "(" + params + ")"
	}
	if strings.EqualFold(params, "max") && (key == "varbinary" || key == "binary") {
		return "bytea"
	}
	if target, ok := overrides[key]; ok {
		return target
	}
	if target, ok := fixed[key]; ok {
		return target
	}
	return sourceType
}

// split separates "nvarchar(100)" into ("nvarchar", "100"). Whitespace inside
// the parentheses is removed.
func split(t string) (string, string) {
	open := strings.IndexByte(t, '(')
	if open < 0 || !strings.HasSuffix(t, ")") {
		return t, ""
	}
	base := strings.TrimSpace(t[:open])
	params := strings.ReplaceAll(t[open+1:len(t)-1], " ", "")
	return base, params
}
