package models

import "strings"

// SchemaInfo is the extracted schema of one scanned database.
// Parent→child links only; columns refer back to their table and schema by
// name so the graph stays acyclic for serialization.
type SchemaInfo struct {
	DatabaseName   string      `json:"database_name"`
	ProductName    string      `json:"product_name"`
	ProductVersion string      `json:"product_version"`
	Tables         []TableInfo `json:"tables"`
}

// ColumnCount returns the total number of columns across all tables.
func (s *SchemaInfo) ColumnCount() int {
	n := 0
	for i := range s.Tables {
		n += len(s.Tables[i].Columns)
	}
	return n
}

// Columns returns pointers to every column in the schema, table by table.
func (s *SchemaInfo) Columns() []*ColumnInfo {
	cols := make([]*ColumnInfo, 0, s.ColumnCount())
	for i := range s.Tables {
		for j := range s.Tables[i].Columns {
			cols = append(cols, &s.Tables[i].Columns[j])
		}
	}
	return cols
}

// FilterTables returns a copy of the schema restricted to the named tables.
// Matching is case-insensitive on the bare table name.
func (s *SchemaInfo) FilterTables(names []string) SchemaInfo {
	if len(names) == 0 {
		return *s
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.ToLower(n)] = true
	}
	out := *s
	out.Tables = nil
	for _, t := range s.Tables {
		if want[strings.ToLower(t.TableName)] {
			out.Tables = append(out.Tables, t)
		}
	}
	return out
}

// TableInfo describes one table and its columns. Immutable after extraction.
type TableInfo struct {
	SchemaName string       `json:"schema_name"`
	TableName  string       `json:"table_name"`
	RowCount   int64        `json:"row_count"`
	Columns    []ColumnInfo `json:"columns"`
}

// ColumnInfo describes one column. Immutable after extraction.
// Foreign-key participation is recorded as qualified column references
// ("table.column") rather than object pointers.
type ColumnInfo struct {
	SchemaName       string `json:"schema_name"`
	TableName        string `json:"table_name"`
	ColumnName       string `json:"column_name"`
	DatabaseTypeName string `json:"database_type_name"`
	IsNumeric        bool   `json:"is_numeric"`
	IsNullable       bool   `json:"is_nullable"`
	IsPrimaryKey     bool   `json:"is_primary_key"`
	OrdinalPosition  int    `json:"ordinal_position"`
	Comment          string `json:"comment,omitempty"`

	// ImportedKeyRefs lists columns this column references (it is an FK).
	// ExportedKeyRefs lists columns that reference this column.
	ImportedKeyRefs []string `json:"imported_key_refs,omitempty"`
	ExportedKeyRefs []string `json:"exported_key_refs,omitempty"`
}

// QualifiedName returns the "table.column" reference used as the detection
// cache key and as the column identifier in results and reports.
func (c *ColumnInfo) QualifiedName() string {
	return c.TableName + "." + c.ColumnName
}

// FullyQualifiedName returns "schema.table.column" when a schema is known.
func (c *ColumnInfo) FullyQualifiedName() string {
	if c.SchemaName == "" {
		return c.QualifiedName()
	}
	return c.SchemaName + "." + c.QualifiedName()
}

// ParticipatesInForeignKey returns true if the column imports or exports
// any foreign-key relationship.
func (c *ColumnInfo) ParticipatesInForeignKey() bool {
	return len(c.ImportedKeyRefs) > 0 || len(c.ExportedKeyRefs) > 0
}
