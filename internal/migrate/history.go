package migrate

import (
	"context"
	"fmt"
	"time"

	"cdc_migrator/internal/db"
	"cdc_migrator/internal/ddl"
	"cdc_migrator/internal/storage"
)

// Decision says what to do with a migration file.
type Decision int

const (
	DecisionNew Decision = iota
	DecisionUpdate
	DecisionSkip
)

func (d Decision) String() string {
	switch d {
	case DecisionUpdate:
		return "update"
	case DecisionSkip:
		return "skip"
	default:
		return "new"
	}
}

// HistoryRecord is one row of cdc_management.migration_history.
type HistoryRecord struct {
	FileName   string
	Checksum   string
	SchemaName *string
	Category   storage.Category
	AppliedAt  time.Time
}

// HistoryKey identifies a record by its natural key.
func HistoryKey(fileName string, schema *string) string {
	if schema == nil {
		return fileName + "\x00"
	}
	return fileName + "\x00" + *schema
}

// History reads and writes the migration history table.
type History struct {
	table string
}

func NewHistory() *History {
	return &History{table: ddl.Ident(ddl.HistorySchema, ddl.HistoryTable)}
}

// Check compares checksum with the recorded one. A failing query, usually
// because the history table does not exist yet, rolls back and counts as
// new.
func (h *History) Check(ctx context.Context, conn db.Conn, fileName string, schema *string, checksum string) Decision {
	var recorded string
	err := conn.QueryRow(ctx,
		fmt.Sprintf(`SELECT checksum FROM %s WHERE file_name = $1 AND schema_name IS NOT DISTINCT FROM $2`, h.table),
		fileName, schema,
	).Scan(&recorded)
	_ = conn.Rollback(ctx)
	switch {
	case err != nil:
		// db.ErrNoRows or a missing history table.
		return DecisionNew
	case recorded == checksum:
		return DecisionSkip
	default:
		return DecisionUpdate
	}
}

// Record upserts rec and commits. The caller decides whether a failure
// matters; the transaction is rolled back either way.
func (h *History) Record(ctx context.Context, conn db.Conn, rec HistoryRecord) error {
	if rec.AppliedAt.IsZero() {
		rec.AppliedAt = time.Now().UTC()
	}
	err := conn.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (file_name, checksum, schema_name, category, applied_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (file_name, (COALESCE(schema_name, ''))) DO UPDATE
SET checksum = EXCLUDED.checksum, applied_at = EXCLUDED.applied_at`, h.table),
		rec.FileName, rec.Checksum, rec.SchemaName, string(rec.Category), rec.AppliedAt)
	if err == nil {
		err = conn.Commit(ctx)
	}
	if err != nil {
		_ = conn.Rollback(ctx)
		return fmt.Errorf("record %s: %w", rec.FileName, err)
	}
	return nil
}

// All returns every history row keyed by HistoryKey.
func (h *History) All(ctx context.Context, conn db.Conn) (map[string]HistoryRecord, error) {
	rows, err := conn.Query(ctx, fmt.Sprintf(`SELECT file_name, checksum, schema_name, category, applied_at FROM %s`, h.table))
	if err != nil {
		_ = conn.Rollback(ctx)
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := map[string]HistoryRecord{}
	for rows.Next() {
		var rec HistoryRecord
		var category string
		if err := rows.Scan(&rec.FileName, &rec.Checksum, &rec.SchemaName, &category, &rec.AppliedAt); err != nil {
			_ = conn.Rollback(ctx)
			return nil, fmt.Errorf("scan history: %w", err)
		}
		rec.Category = storage.Category(category)
		out[HistoryKey(rec.FileName, rec.SchemaName)] = rec
	}
	if err := rows.Err(); err != nil {
		_ = conn.Rollback(ctx)
		return nil, err
	}
	return out, conn.Rollback(ctx)
}
