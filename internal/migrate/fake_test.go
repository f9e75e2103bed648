package migrate

import (
	"context"
	"errors"
	"strings"
	"time"

	"cdc_migrator/internal/db"
	"cdc_migrator/internal/storage"
)

// fakeDB stands in for a target database: a history table plus the
// statements committed against it.
type fakeDB struct {
	history   map[string]HistoryRecord
	executed  []string
	catalog   []catalogRow
	failOn    string
	noHistory bool
	closed    int
}

type catalogRow struct {
	schema, table, column, dataType, udt, nullable string
}

func newFakeDB() *fakeDB {
	return &fakeDB{history: map[string]HistoryRecord{}}
}

type fakeConnector struct {
	db      *fakeDB
	err     error
	params  []db.Params
	connect int
}

func (f *fakeConnector) Connect(_ context.Context, p db.Params) (db.Conn, error) {
	f.connect++
	f.params = append(f.params, p)
	if f.err != nil {
		return nil, f.err
	}
	return &fakeConn{db: f.db}, nil
}

type fakeConn struct {
	db             *fakeDB
	pendingExec    []string
	pendingHistory []HistoryRecord
}

func (c *fakeConn) Exec(_ context.Context, sql string, args ...any) error {
	if strings.Contains(sql, "migration_history") && strings.HasPrefix(strings.TrimSpace(sql), "INSERT") {
		if c.db.noHistory {
			return errors.New(`relation "cdc_management.migration_history" does not exist`)
		}
		rec := HistoryRecord{
			FileName: args[0].(string),
			Checksum: args[1].(string),
			Category: storage.Category(args[3].(string)),
		}
		if s, ok := args[2].(*string); ok {
			rec.SchemaName = s
		}
		rec.AppliedAt, _ = args[4].(time.Time)
		c.pendingHistory = append(c.pendingHistory, rec)
		return nil
	}
	if c.db.failOn != "" && strings.Contains(sql, c.db.failOn) {
		return errors.New("syntax error")
	}
	c.pendingExec = append(c.pendingExec, sql)
	return nil
}

func (c *fakeConn) QueryRow(_ context.Context, sql string, args ...any) db.Row {
	if c.db.noHistory {
		return fakeRow{err: errors.New("relation does not exist")}
	}
	var schema *string
	if s, ok := args[1].(*string); ok {
		schema = s
	}
	rec, ok := c.db.history[HistoryKey(args[0].(string), schema)]
	if !ok {
		return fakeRow{err: db.ErrNoRows}
	}
	return fakeRow{values: []any{rec.Checksum}}
}

func (c *fakeConn) Query(_ context.Context, sql string, args ...any) (db.Rows, error) {
	if strings.Contains(sql, "information_schema.columns") {
		schema := args[0].(string)
		var tables []string
		if len(args) > 1 {
			tables = args[1].([]string)
		}
		var out [][]any
		for _, r := range c.db.catalog {
			if r.schema != schema || (len(tables) > 0 && r.table != tables[0]) {
				continue
			}
			out = append(out, []any{r.table, r.column, r.dataType, r.udt, r.nullable, (*string)(nil)})
		}
		return &fakeRows{rows: out}, nil
	}
	if c.db.noHistory {
		return nil, errors.New("relation does not exist")
	}
	var out [][]any
	for _, rec := range c.db.history {
		out = append(out, []any{rec.FileName, rec.Checksum, rec.SchemaName, string(rec.Category), rec.AppliedAt})
	}
	return &fakeRows{rows: out}, nil
}

func (c *fakeConn) Commit(context.Context) error {
	c.db.executed = append(c.db.executed, c.pendingExec...)
	for _, rec := range c.pendingHistory {
		c.db.history[HistoryKey(rec.FileName, rec.SchemaName)] = rec
	}
	c.pendingExec, c.pendingHistory = nil, nil
	return nil
}

func (c *fakeConn) Rollback(context.Context) error {
	c.pendingExec, c.pendingHistory = nil, nil
	return nil
}

func (c *fakeConn) Close(context.Context) error {
	c.db.closed++
	return nil
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.values)
}

type fakeRows struct {
	rows [][]any
	pos  int
}

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error { return assign(dest, r.rows[r.pos-1]) }
func (r *fakeRows) Err() error             { return nil }
func (r *fakeRows) Close()                 {}

func assign(dest, values []any) error {
	if len(dest) != len(values) {
		return errors.New("scan: column count mismatch")
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = values[i].(string)
		case **string:
			*p = values[i].(*string)
		case *time.Time:
			*p = values[i].(time.Time)
		default:
			return errors.New("scan: unsupported destination")
		}
	}
	return nil
}

type stubResolver struct {
	err error
}

func (s stubResolver) Resolve(target storage.SinkTarget, env string) (db.Params, error) {
	if s.err != nil {
		return db.Params{}, s.err
	}
	return db.Params{Host: "localhost", Port: 5432, Database: target.Databases[env], User: "cdc"}, nil
}
