package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/seclens/seclens-engine/pkg/models"
)

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
// table names, case-insensitively.
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

// discoverTables lists user tables with row counts taken from the partition
// metadata. ms_shipped objects are system tables and are skipped.
func (c *Connection) discoverTables(ctx context.Context) ([]models.TableInfo, error) {
	const query = `
	SET NOCOUNT ON;
	SELECT
	    SCHEMA_NAME(tb.schema_id) AS table_schema,
	    tb.name AS table_name,
	    SUM(pt.rows) AS row_count
	FROM sys.tables tb
	INNER JOIN sys.partitions pt ON pt.object_id = tb.object_id
	WHERE pt.index_id IN (0, 1)  -- the heap or the clustered index carries the rows
	  AND tb.is_ms_shipped = 0
	GROUP BY tb.schema_id, tb.name
	ORDER BY table_schema, table_name
	`

	rows, err := c.db.QueryContext(ctx, query)
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

// discoverColumns lists the columns of one table. Comments come from the
// MS_Description extended property; primary-key membership from the index
// metadata, covering multi-column keys.
func (c *Connection) discoverColumns(ctx context.Context, schemaName, tableName string) ([]models.ColumnInfo, error) {
	const query = `
	SET NOCOUNT ON;
	SELECT
	    col.name AS column_name,
	    tp.name AS data_type,
	    CASE WHEN col.is_nullable = 1 THEN 1 ELSE 0 END AS is_nullable,
	    col.column_id AS ordinal_position,
	    CASE WHEN pk.column_id IS NOT NULL THEN 1 ELSE 0 END AS is_primary_key,
	    COALESCE(CAST(ep.value AS NVARCHAR(MAX)), N'') AS comment
	FROM sys.columns col
	INNER JOIN sys.types tp ON tp.user_type_id = col.user_type_id
	LEFT JOIN (
	    SELECT ixc.object_id, ixc.column_id
	    FROM sys.index_columns ixc
	    INNER JOIN sys.indexes ix ON ix.object_id = ixc.object_id AND ix.index_id = ixc.index_id
	    WHERE ix.is_primary_key = 1
	) pk ON pk.object_id = col.object_id AND pk.column_id = col.column_id
	LEFT JOIN sys.extended_properties ep
	    ON ep.major_id = col.object_id
	    AND ep.minor_id = col.column_id
	    AND ep.class = 1
	    AND ep.name = 'MS_Description'
	WHERE col.object_id = OBJECT_ID(QUOTENAME(@schema) + N'.' + QUOTENAME(@table))
	ORDER BY col.column_id
	`

	rows, err := c.db.QueryContext(ctx, query,
		sql.Named("schema", schemaName),
		sql.Named("table", tableName),
	)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s.%s: %w", schemaName, tableName, err)
	}
	defer rows.Close()

	var columns []models.ColumnInfo
	for rows.Next() {
		col := models.ColumnInfo{SchemaName: schemaName, TableName: tableName}
		var isNullable, isPrimary int
		var rawType string

		if err := rows.Scan(&col.ColumnName, &rawType, &isNullable, &col.OrdinalPosition, &isPrimary, &col.Comment); err != nil {
			return nil, fmt.Errorf("decode column row: %w", err)
		}

		col.IsNullable = isNullable == 1
		col.IsPrimaryKey = isPrimary == 1
		col.IsNumeric = isNumericType(rawType)
		col.DatabaseTypeName = normalizeTypeName(rawType)

		columns = append(columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	return columns, nil
}

// annotateForeignKeys records foreign-key participation on both sides of
// every relationship.
func (c *Connection) annotateForeignKeys(ctx context.Context, schema *models.SchemaInfo) error {
	const query = `
	SET NOCOUNT ON;
	SELECT
	    SCHEMA_NAME(fkey.schema_id) AS source_schema,
	    OBJECT_NAME(fkey.parent_object_id) AS source_table,
	    COL_NAME(fcol.parent_object_id, fcol.parent_column_id) AS source_column,
	    SCHEMA_NAME(reft.schema_id) AS target_schema,
	    OBJECT_NAME(fkey.referenced_object_id) AS target_table,
	    COL_NAME(fcol.referenced_object_id, fcol.referenced_column_id) AS target_column
	FROM sys.foreign_keys fkey
	INNER JOIN sys.foreign_key_columns fcol ON fcol.constraint_object_id = fkey.object_id
	INNER JOIN sys.tables reft ON reft.object_id = fkey.referenced_object_id
	WHERE fkey.is_ms_shipped = 0
	ORDER BY source_schema, source_table, fcol.constraint_column_id
	`

	rows, err := c.db.QueryContext(ctx, query)
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
