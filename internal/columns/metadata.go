package columns

// Names of the CDC bookkeeping columns appended to every generated table.
const (
	SyncTimestampColumn = "__sync_timestamp"
	SourceColumn        = "__source"
	SourceDBColumn      = "__source_db"
	SourceTableColumn   = "__source_table"
	SourceTsMsColumn    = "__source_ts_ms"
	CDCOperationColumn  = "__cdc_operation"
)

var cdcMetadata = []MigrationColumn{
	{Name: SyncTimestampColumn, Type: "timestamptz", Nullable: false, Default: "CURRENT_TIMESTAMP"},
	{Name: SourceColumn, Type: "text", Nullable: true},
	{Name: SourceDBColumn, Type: "text", Nullable: true},
	{Name: SourceTableColumn, Type: "text", Nullable: true},
	{Name: SourceTsMsColumn, Type: "bigint", Nullable: true},
	{Name: CDCOperationColumn, Type: "text", Nullable: true},
}

// AddCDCMetadata appends the CDC metadata columns that are not already
// present by exact name. Calling it twice yields the same list.
func AddCDCMetadata(cols []MigrationColumn) []MigrationColumn {
	present := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		present[c.Name] = struct{}{}
	}
	out := append([]MigrationColumn(nil), cols...)
	for _, meta := range cdcMetadata {
		if _, ok := present[meta.Name]; ok {
			continue
		}
		out = append(out, meta)
	}
	return out
}
