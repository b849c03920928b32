package mssql

import (
	"context"
	"fmt"

	"github.com/seclens/seclens-engine/pkg/adapters/datasource"
	"github.com/seclens/seclens-engine/pkg/models"
)

// defaultSampleSize guards against a zero limit slipping through config.
const defaultSampleSize = 100

// SampleColumns draws up to cfg.SampleSize values per column, running at
// most cfg.MaxConcurrentQueries sample queries at once.
func (c *Connection) SampleColumns(ctx context.Context, columns []*models.ColumnInfo, cfg models.SamplingConfig) (map[*models.ColumnInfo]*models.SampleData, error) {
	return datasource.CollectSamples(ctx, c.logger, columns, cfg, c.fetchColumnValues)
}

// fetchColumnValues reads one column's sample. RANDOM sampling orders by
// NEWID(), which shuffles the whole table; TOP takes rows as the server
// returns them. NULLs are kept so null counting works.
func (c *Connection) fetchColumnValues(ctx context.Context, col *models.ColumnInfo, cfg models.SamplingConfig) ([]any, error) {
	tableRef := qualifyTable(col.SchemaName, col.TableName)
	quotedCol := quoteName(col.ColumnName)

	limit := cfg.SampleSize
	if limit <= 0 {
		limit = defaultSampleSize
	}

	orderClause := ""
	if cfg.Method == models.SamplingRandom {
		orderClause = " ORDER BY NEWID()"
	}

	query := fmt.Sprintf("SET NOCOUNT ON; SELECT TOP (%d) %s FROM %s WITH (NOLOCK)%s", limit, quotedCol, tableRef, orderClause)

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", col.QualifiedName(), err)
	}
	defer rows.Close()

	values := make([]any, 0, limit)
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("read sample value for %s: %w", col.QualifiedName(), err)
		}
		values = append(values, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples for %s: %w", col.QualifiedName(), err)
	}

	return values, nil
}
