package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/seclens/seclens-engine/pkg/models"
)

// qualifiedTableName quotes a table reference for interpolation into a
// sampling query. The schema part is omitted when empty.
func qualifiedTableName(schemaName, tableName string) string {
	name := pgx.Identifier{tableName}.Sanitize()
	if schemaName == "" {
		return name
	}
	return pgx.Identifier{schemaName}.Sanitize() + "." + name
}

// numericTypes holds the information_schema data_type names treated as
// numeric for correlation purposes. Serial columns report their base type.
var numericTypes = map[string]bool{
	"smallint":         true,
	"integer":          true,
	"bigint":           true,
	"numeric":          true,
	"decimal":          true,
	"real":             true,
	"double precision": true,
	"money":            true,
}

func isNumericType(dataType string) bool {
	return numericTypes[strings.ToLower(dataType)]
}

// ExtractSchema reads tables, columns, comments, primary keys and foreign
// keys for the connected database.
func (c *Connection) ExtractSchema(ctx context.Context) (*models.SchemaInfo, error) {
	return c.ExtractSchemaForTables(ctx, nil)
}

// ExtractSchemaForTables behaves like ExtractSchema restricted to the named
// tables. Matching is case-insensitive on the bare table name; an empty list
// means all tables.
func (c *Connection) ExtractSchemaForTables(ctx context.Context, tables []string) (*models.SchemaInfo, error) {
	schema := &models.SchemaInfo{
		DatabaseName:   c.Catalog(),
		ProductName:    c.ProductName(),
		ProductVersion: c.ProductVersion(),
	}

	discovered, err := c.discoverTables(ctx)
	if err != nil {
		return nil, err
	}
	discovered = filterTables(discovered, tables)

	for i := range discovered {
		t := &discovered[i]
		columns, err := c.discoverColumns(ctx, t.SchemaName, t.TableName)
		if err != nil {
			return nil, err
		}
		t.Columns = columns
	}
	schema.Tables = discovered

	if err := c.annotateForeignKeys(ctx, schema); err != nil {
		return nil, err
	}
	return schema, nil
}

// filterTables restricts the discovered table list to the requested bare
// table names, case-insensitively. Unknown names are ignored.
func filterTables(tables []models.TableInfo, names []string) []models.TableInfo {
	if len(names) == 0 {
		return tables
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.ToLower(n)] = true
	}
	out := make([]models.TableInfo, 0, len(tables))
	for _, t := range tables {
		if want[strings.ToLower(t.TableName)] {
			out = append(out, t)
		}
	}
	return out
}

// discoverTables lists user tables with their estimated row counts, skipping
// the system schemas. reltuples reports -1 for never-analyzed tables; those
// are clamped to zero.
func (c *Connection) discoverTables(ctx context.Context) ([]models.TableInfo, error) {
	const query = `
		SELECT
			tbl.table_schema,
			tbl.table_name,
			GREATEST(COALESCE(pc.reltuples::bigint, 0), 0) AS row_count
		FROM information_schema.tables tbl
		LEFT JOIN pg_class pc ON pc.relname = tbl.table_name
		LEFT JOIN pg_namespace ns ON ns.oid = pc.relnamespace AND ns.nspname = tbl.table_schema
		WHERE tbl.table_type = 'BASE TABLE'
		  AND tbl.table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY tbl.table_schema, tbl.table_name
	`

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []models.TableInfo
	for rows.Next() {
		var t models.TableInfo
		if err := rows.Scan(&t.SchemaName, &t.TableName, &t.RowCount); err != nil {
			return nil, fmt.Errorf("decode table row: %w", err)
		}
		tables = append(tables, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read tables: %w", err)
	}

	return tables, nil
}

// discoverColumns lists the columns of one table with comments and
// primary-key membership. pg_index.indisprimary detects PKs even when an ORM
// created them as unique indexes; multi-column primary keys mark every member
// column.
func (c *Connection) discoverColumns(ctx context.Context, schemaName, tableName string) ([]models.ColumnInfo, error) {
	const query = `
		SELECT
			col.column_name,
			col.data_type,
			col.is_nullable = 'YES' AS is_nullable,
			COALESCE(pk.is_pk, false) AS is_primary_key,
			col.ordinal_position,
			COALESCE(col_description(cls.oid, col.ordinal_position), '') AS comment
		FROM information_schema.columns col
		JOIN pg_namespace nsp ON nsp.nspname = col.table_schema
		JOIN pg_class cls ON cls.relnamespace = nsp.oid AND cls.relname = col.table_name
		LEFT JOIN (
			SELECT att.attname AS column_name, true AS is_pk
			FROM pg_index pi
			JOIN pg_class rel ON rel.oid = pi.indrelid
			JOIN pg_namespace rns ON rns.oid = rel.relnamespace
			JOIN pg_attribute att ON att.attrelid = rel.oid AND att.attnum = ANY(pi.indkey)
			WHERE pi.indisprimary
			  AND rns.nspname = $1
			  AND rel.relname = $2
		) pk ON col.column_name = pk.column_name
		WHERE col.table_schema = $1 AND col.table_name = $2
		ORDER BY col.ordinal_position
	`

	rows, err := c.pool.Query(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s.%s: %w", schemaName, tableName, err)
	}
	defer rows.Close()

	var columns []models.ColumnInfo
	for rows.Next() {
		col := models.ColumnInfo{SchemaName: schemaName, TableName: tableName}
		if err := rows.Scan(&col.ColumnName, &col.DatabaseTypeName, &col.IsNullable, &col.IsPrimaryKey, &col.OrdinalPosition, &col.Comment); err != nil {
			return nil, fmt.Errorf("decode column row: %w", err)
		}
		col.IsNumeric = isNumericType(col.DatabaseTypeName)
		columns = append(columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	return columns, nil
}

// annotateForeignKeys records foreign-key participation on both sides of
// every relationship. References to tables outside the extracted set are
// still recorded as strings; only columns present in the schema are
// annotated.
func (c *Connection) annotateForeignKeys(ctx context.Context, schema *models.SchemaInfo) error {
	const query = `
		SELECT
			src.table_schema,
			src.table_name,
			src.column_name,
			ref.table_schema,
			ref.table_name,
			ref.column_name
		FROM information_schema.table_constraints con
		JOIN information_schema.key_column_usage src
			ON src.constraint_name = con.constraint_name
			AND src.table_schema = con.table_schema
		JOIN information_schema.constraint_column_usage ref
			ON ref.constraint_name = con.constraint_name
			AND ref.table_schema = con.table_schema
		WHERE con.constraint_type = 'FOREIGN KEY'
		  AND con.table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
	`

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("list foreign keys: %w", err)
	}
	defer rows.Close()

	byName := make(map[string]*models.ColumnInfo, schema.ColumnCount())
	for _, col := range schema.Columns() {
		byName[col.FullyQualifiedName()] = col
	}

	for rows.Next() {
		var srcSchema, srcTable, srcColumn, tgtSchema, tgtTable, tgtColumn string
		if err := rows.Scan(&srcSchema, &srcTable, &srcColumn, &tgtSchema, &tgtTable, &tgtColumn); err != nil {
			return fmt.Errorf("decode foreign key row: %w", err)
		}
		if src := byName[srcSchema+"."+srcTable+"."+srcColumn]; src != nil {
			src.ImportedKeyRefs = append(src.ImportedKeyRefs, tgtTable+"."+tgtColumn)
		}
		if tgt := byName[tgtSchema+"."+tgtTable+"."+tgtColumn]; tgt != nil {
			tgt.ExportedKeyRefs = append(tgt.ExportedKeyRefs, srcTable+"."+srcColumn)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("read foreign keys: %w", err)
	}

	return nil
}
