package db

import (
	"context"
	"strings"
)

// FetchSchema reads the columns of every table in schema from
// information_schema. Tables lists restrict the result when non-empty.
func FetchSchema(ctx context.Context, conn Conn, schema string, tables ...string) (Schema, error) {
	if schema == "" {
		schema = "public"
	}
	result := Schema{Name: schema, Tables: map[string]Table{}}

	query := `
SELECT table_name, column_name, data_type, udt_name, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = $1`
	args := []any{schema}
	if len(tables) > 0 {
		query += ` AND table_name = ANY($2)`
		args = append(args, tables)
	}
	query += ` ORDER BY table_name, ordinal_position`

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return result, err
	}
	defer rows.Close()

	for rows.Next() {
		var tbl, col, dataType, udt, nullable string
		var def *string
		if err := rows.Scan(&tbl, &col, &dataType, &udt, &nullable, &def); err != nil {
			return result, err
		}
		t, ok := result.Tables[tbl]
		if !ok {
			t = Table{Name: tbl, Columns: map[string]Column{}}
		}
		t.Columns[col] = Column{
			Name:       col,
			DataType:   dataType,
			UDTName:    udt,
			IsNullable: strings.EqualFold(nullable, "YES"),
			Default:    def,
		}
		result.Tables[tbl] = t
	}
	return result, rows.Err()
}

// SplitStatements splits a SQL script on semicolons outside quotes. Line
// comments are dropped so comment-only chunks never reach the server.
func SplitStatements(sqlText string) []string {
	var (
		out       []string
		current   strings.Builder
		inSingle  bool
		inDouble  bool
		inComment bool
	)

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			out = append(out, stmt)
		}
		current.Reset()
	}

	runes := []rune(sqlText)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if inComment {
			if r == '\n' {
				inComment = false
				current.WriteRune(r)
			}
			continue
		}
		switch r {
		case '-':
			if !inSingle && !inDouble && i+1 < len(runes) && runes[i+1] == '-' {
				inComment = true
				i++
				continue
			}
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		case ';':
			if !inSingle && !inDouble {
				flush()
				continue
			}
		}
		current.WriteRune(r)
	}
	flush()
	return out
}
