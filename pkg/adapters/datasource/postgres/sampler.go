package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/seclens/seclens-engine/pkg/adapters/datasource"
	"github.com/seclens/seclens-engine/pkg/models"
)

// defaultSampleSize guards against a zero limit slipping through config.
const defaultSampleSize = 100

// SampleColumns draws up to cfg.SampleSize values per column, running at
// most cfg.MaxConcurrentQueries sample queries against the pool at once.
func (c *Connection) SampleColumns(ctx context.Context, columns []*models.ColumnInfo, cfg models.SamplingConfig) (map[*models.ColumnInfo]*models.SampleData, error) {
	return datasource.CollectSamples(ctx, c.logger, columns, cfg, c.fetchColumnValues)
}

// fetchColumnValues reads one column's sample. RANDOM sampling orders by
// random() which is O(n log n) on the table; TOP takes rows in whatever
// order the database returns them. NULLs are kept so null counting works.
func (c *Connection) fetchColumnValues(ctx context.Context, col *models.ColumnInfo, cfg models.SamplingConfig) ([]any, error) {
	tableRef := qualifiedTableName(col.SchemaName, col.TableName)
	quotedCol := pgx.Identifier{col.ColumnName}.Sanitize()

	limit := cfg.SampleSize
	if limit <= 0 {
		limit = defaultSampleSize
	}

	orderClause := ""
	if cfg.Method == models.SamplingRandom {
		orderClause = " ORDER BY random()"
	}

	query := fmt.Sprintf("SELECT %s FROM %s%s LIMIT %d", quotedCol, tableRef, orderClause, limit)

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", col.QualifiedName(), err)
	}
	defer rows.Close()

	values := make([]any, 0, limit)
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read sample value for %s: %w", col.QualifiedName(), err)
		}
		values = append(values, vals[0])
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples for %s: %w", col.QualifiedName(), err)
	}

	return values, nil
}
