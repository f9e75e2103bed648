package migrate

import (
	"context"
	"errors"
	"testing"
)

func TestNormalizeType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"varchar(100)", "character varying"},
		{"CHARACTER VARYING(20)", "character varying"},
		{"timestamp", "timestamp without time zone"},
		{"timestamptz", "timestamp with time zone"},
		{"timestamp(3)", "timestamp without time zone"},
		{"int", "integer"},
		{"int8", "bigint"},
		{"bool", "boolean"},
		{"numeric(10,2)", "numeric"},
		{"text[]", "text[]"},
		{"double   precision", "double precision"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := normalizeType(tt.in); got != tt.want {
				t.Fatalf("normalizeType(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAdditiveColumns(t *testing.T) {
	sql := `CREATE TABLE IF NOT EXISTS "s"."t" ("id" integer NOT NULL);
ALTER TABLE "s"."t" ADD COLUMN IF NOT EXISTS "name" character varying(50);
ALTER TABLE "s"."t" ADD COLUMN IF NOT EXISTS "__sync_timestamp" timestamptz NOT NULL DEFAULT CURRENT_TIMESTAMP;
`
	got := additiveColumns(sql)
	cols, ok := got[tableRef{Schema: "s", Table: "t"}]
	if !ok || len(cols) != 2 {
		t.Fatalf("unexpected expectations: %v", got)
	}
	if c := cols["name"]; c.Type != "character varying(50)" || c.NotNull {
		t.Fatalf("unexpected name column: %+v", c)
	}
	if c := cols["__sync_timestamp"]; c.Type != "timestamptz" || !c.NotNull {
		t.Fatalf("unexpected sync column: %+v", c)
	}
}

func TestValidateTableDrift(t *testing.T) {
	sql := `CREATE TABLE IF NOT EXISTS "s"."t" ("id" integer NOT NULL);
ALTER TABLE "s"."t" ADD COLUMN IF NOT EXISTS "name" varchar(50);
ALTER TABLE "s"."t" ADD COLUMN IF NOT EXISTS "__sync_timestamp" timestamptz NOT NULL DEFAULT CURRENT_TIMESTAMP;
`
	tests := []struct {
		name    string
		catalog []catalogRow
		want    *DriftError
	}{
		{
			name: "table missing",
		},
		{
			name: "matching columns",
			catalog: []catalogRow{
				{"s", "t", "name", "character varying", "varchar", "YES"},
				{"s", "t", "__sync_timestamp", "timestamp with time zone", "timestamptz", "NO"},
			},
		},
		{
			name: "not null column is nullable",
			catalog: []catalogRow{
				{"s", "t", "name", "character varying", "varchar", "YES"},
				{"s", "t", "__sync_timestamp", "timestamp with time zone", "timestamptz", "YES"},
			},
			want: &DriftError{Schema: "s", Table: "t", Column: "__sync_timestamp", Expected: "NOT NULL", Actual: "NULL"},
		},
		{
			name: "nullable column is not null",
			catalog: []catalogRow{
				{"s", "t", "name", "character varying", "varchar", "NO"},
			},
			want: &DriftError{Schema: "s", Table: "t", Column: "name", Expected: "NULL", Actual: "NOT NULL"},
		},
		{
			name: "type differs",
			catalog: []catalogRow{
				{"s", "t", "name", "text", "text", "YES"},
			},
			want: &DriftError{Schema: "s", Table: "t", Column: "name", Expected: "character varying", Actual: "text"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fdb := newFakeDB()
			fdb.catalog = tt.catalog
			err := ValidateTableDrift(context.Background(), &fakeConn{db: fdb}, sql)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected drift: %v", err)
				}
				return
			}
			var drift *DriftError
			if !errors.As(err, &drift) {
				t.Fatalf("expected a DriftError, got %v", err)
			}
			if *drift != *tt.want {
				t.Fatalf("drift = %+v, want %+v", *drift, *tt.want)
			}
		})
	}
}
