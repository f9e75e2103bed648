// Package ddl renders the SQL files of a sink's migration directory and the
// checksum header that makes re-applying them idempotent.
package ddl

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"

	"cdc_migrator/internal/columns"
)

// Location of the migration history table in every target database.
const (
	HistorySchema = "cdc_management"
	HistoryTable  = "migration_history"
)

const maxIdentLen = 63

// Ident quotes a (possibly qualified) identifier for PostgreSQL.
func Ident(parts ...string) string {
	return pgx.Identifier(parts).Sanitize()
}

// StagingSchema names the schema holding staging copies of targetSchema.
func StagingSchema(targetSchema string) string {
	return targetSchema + "_staging"
}

// ColumnDefinition renders `"name" type [NOT NULL] [DEFAULT expr]`.
func ColumnDefinition(c columns.MigrationColumn) string {
	var b strings.Builder
	b.WriteString(Ident(c.Name))
	b.WriteString(" ")
	b.WriteString(c.Type)
	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if c.Default != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(c.Default)
	}
	return b.String()
}

// BuildCreateTableSQL renders the full DDL file for a table: header,
// checksum, CREATE TABLE, sync timestamp index and one additive ALTER per
// non-key column so new columns reach tables that already exist.
func BuildCreateTableSQL(t columns.TableMigration, generatedAt time.Time) string {
	qualified := Ident(t.TargetSchema, t.TableName)

	var b strings.Builder
	b.WriteString(Header(generatedAt))
	writeOrigin(&b, t)
	b.WriteString("\n")
	writeCreateTable(&b, "CREATE TABLE IF NOT EXISTS", qualified, t.Columns, columns.DedupeNames(t.PrimaryKeys))

	if hasColumn(t.Columns, columns.SyncTimestampColumn) {
		fmt.Fprintf(&b, "\nCREATE INDEX IF NOT EXISTS %s ON %s (%s);\n",
			Ident(indexName(t.TableName, "sync_ts")), qualified, Ident(columns.SyncTimestampColumn))
	}
	writeAdditive(&b, qualified, t.Columns)
	return InjectChecksum(b.String())
}

// BuildStagingSQL renders the staging copy of a table: same columns in the
// <schema>_staging schema, unlogged, without a primary key constraint.
func BuildStagingSQL(t columns.TableMigration, generatedAt time.Time) string {
	qualified := Ident(StagingSchema(t.TargetSchema), t.TableName)

	var b strings.Builder
	b.WriteString(Header(generatedAt))
	writeOrigin(&b, t)
	b.WriteString("-- Staging copy used for batched merges into the target table.\n\n")
	writeCreateTable(&b, "CREATE UNLOGGED TABLE IF NOT EXISTS", qualified, t.Columns, nil)

	pks := columns.DedupeNames(t.PrimaryKeys)
	if len(pks) > 0 {
		fmt.Fprintf(&b, "\nCREATE INDEX IF NOT EXISTS %s ON %s (%s);\n",
			Ident(indexName(t.TableName, "stg_pk")), qualified, identList(pks))
	}
	writeAdditive(&b, qualified, t.Columns)
	return InjectChecksum(b.String())
}

// BuildSchemasSQL renders the infrastructure file creating the management
// schema and every target and staging schema used by tables.
func BuildSchemasSQL(tables []columns.TableMigration, generatedAt time.Time) string {
	set := map[string]struct{}{HistorySchema: {}}
	for _, t := range tables {
		set[t.TargetSchema] = struct{}{}
		if t.Staging {
			set[StagingSchema(t.TargetSchema)] = struct{}{}
		}
	}
	schemas := make([]string, 0, len(set))
	for s := range set {
		schemas = append(schemas, s)
	}
	sort.Strings(schemas)

	var b strings.Builder
	b.WriteString(Header(generatedAt))
	b.WriteString("\n")
	for _, s := range schemas {
		fmt.Fprintf(&b, "CREATE SCHEMA IF NOT EXISTS %s;\n", Ident(s))
	}
	return InjectChecksum(b.String())
}

// BuildManagementSQL renders the infrastructure file holding the migration
// history table.
func BuildManagementSQL(generatedAt time.Time) string {
	table := Ident(HistorySchema, HistoryTable)

	var b strings.Builder
	b.WriteString(Header(generatedAt))
	b.WriteString("\n")
	fmt.Fprintf(&b, `CREATE TABLE IF NOT EXISTS %s (
    "id" bigserial PRIMARY KEY,
    "file_name" text NOT NULL,
    "checksum" text NOT NULL,
    "schema_name" text,
    "category" text NOT NULL,
    "applied_at" timestamptz NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS %s
    ON %s ("file_name", (COALESCE("schema_name", '')));
`, table, Ident(HistoryTable+"_file_schema_uq"), table)
	return InjectChecksum(b.String())
}

func writeOrigin(b *strings.Builder, t columns.TableMigration) {
	if t.SourceKey != "" {
		fmt.Fprintf(b, "-- Source: %s\n", t.SourceKey)
	} else if t.SourceSchema != "" {
		fmt.Fprintf(b, "-- Source: %s.%s\n", t.SourceSchema, t.TableName)
	}
	fmt.Fprintf(b, "-- Target: %s.%s\n", t.TargetSchema, t.TableName)
}

func writeCreateTable(b *strings.Builder, verb, qualified string, cols []columns.MigrationColumn, pks []string) {
	lines := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		lines = append(lines, "    "+ColumnDefinition(c))
	}
	if len(pks) > 0 {
		lines = append(lines, "    PRIMARY KEY ("+identList(pks)+")")
	}
	fmt.Fprintf(b, "%s %s (\n%s\n);\n", verb, qualified, strings.Join(lines, ",\n"))
}

func writeAdditive(b *strings.Builder, qualified string, cols []columns.MigrationColumn) {
	var stmts []string
	for _, c := range cols {
		if c.PrimaryKey {
			continue
		}
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s;", qualified, ColumnDefinition(c)))
	}
	if len(stmts) == 0 {
		return
	}
	b.WriteString("\n")
	b.WriteString(strings.Join(stmts, "\n"))
	b.WriteString("\n")
}

func identList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = Ident(n)
	}
	return strings.Join(quoted, ", ")
}

func hasColumn(cols []columns.MigrationColumn, name string) bool {
	for _, c := range cols {
		if c.Name == name {
			return true
		}
	}
	return false
}

// indexName builds idx_<table>_<suffix>. Names over the identifier limit are
// cut on a rune boundary and suffixed with a hash of the full name so long
// tables sharing a prefix still get distinct indexes.
func indexName(table, suffix string) string {
	name := "idx_" + table + "_" + suffix
	if len(name) <= maxIdentLen {
		return name
	}
	sum := sha256.Sum256([]byte(name))
	tag := hex.EncodeToString(sum[:4])
	cut := maxIdentLen - len(tag) - 1
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut] + "_" + tag
}
