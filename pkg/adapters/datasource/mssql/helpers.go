package mssql

import "strings"

// quoteName returns a bracket-quoted SQL Server identifier with ] escaped as
// ]], matching QUOTENAME(). Every identifier interpolated into a catalog or
// sampling query goes through here.
func quoteName(identifier string) string {
	return "[" + strings.ReplaceAll(identifier, "]", "]]") + "]"
}

// qualifyTable builds the [schema].[table] reference used in FROM clauses.
func qualifyTable(schema, table string) string {
	return quoteName(schema) + "." + quoteName(table)
}

// typeAliases folds SQL Server type names onto the names the postgres adapter
// reports, so findings carry one type vocabulary regardless of the target.
var typeAliases = map[string]string{
	"INT":              "INTEGER",
	"DECIMAL":          "NUMERIC",
	"SMALLMONEY":       "MONEY",
	"FLOAT":            "DOUBLE PRECISION",
	"NCHAR":            "CHAR",
	"NVARCHAR":         "VARCHAR",
	"NTEXT":            "TEXT",
	"BINARY":           "BYTEA",
	"VARBINARY":        "BYTEA",
	"IMAGE":            "BLOB",
	"DATETIME":         "TIMESTAMP",
	"DATETIME2":        "TIMESTAMP",
	"SMALLDATETIME":    "TIMESTAMP",
	"DATETIMEOFFSET":   "TIMESTAMP WITH TIME ZONE",
	"BIT":              "BOOLEAN",
	"UNIQUEIDENTIFIER": "UUID",
}

// normalizeTypeName maps a SQL Server type to its adapter-neutral name.
// Types without an alias (DATE, TIME, XML, vendor types) pass through
// uppercased.
func normalizeTypeName(sqlServerType string) string {
	upper := strings.ToUpper(sqlServerType)
	if alias, ok := typeAliases[upper]; ok {
		return alias
	}
	return upper
}

// numericTypes are the SQL Server types sampled as numbers. IsNumeric on a
// column decides whether correlation uses Pearson or Cramér's V.
var numericTypes = map[string]bool{
	"TINYINT":    true,
	"SMALLINT":   true,
	"INT":        true,
	"BIGINT":     true,
	"DECIMAL":    true,
	"NUMERIC":    true,
	"MONEY":      true,
	"SMALLMONEY": true,
	"FLOAT":      true,
	"REAL":       true,
}

// isNumericType reports whether the SQL Server type holds numeric values.
func isNumericType(sqlType string) bool {
	return numericTypes[strings.ToUpper(sqlType)]
}
