package datasource

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/apperrors"
	"github.com/seclens/seclens-engine/pkg/logging"
	"github.com/seclens/seclens-engine/pkg/models"
	"github.com/seclens/seclens-engine/pkg/parallel"
	"github.com/seclens/seclens-engine/pkg/profiling"
)

// ColumnFetcher retrieves up to cfg.SampleSize raw values for one column.
// NULLs are returned as nil entries so null counting stays accurate.
type ColumnFetcher func(ctx context.Context, column *models.ColumnInfo, cfg models.SamplingConfig) ([]any, error)

// CollectSamples fans per-column sample queries out with bounded
// concurrency and assembles SampleData for each input column. Adapters
// supply the dialect-specific fetch; everything else (concurrency cap,
// null counting, optional entropy, failure tolerance) is shared.
//
// A column whose query fails gets an empty sample and a warning. If every
// column fails the run is treated as systematic and ErrSampling is returned.
func CollectSamples(
	ctx context.Context,
	logger *zap.Logger,
	columns []*models.ColumnInfo,
	cfg models.SamplingConfig,
	fetch ColumnFetcher,
) (map[*models.ColumnInfo]*models.SampleData, error) {
	samples := make(map[*models.ColumnInfo]*models.SampleData, len(columns))
	if len(columns) == 0 {
		return samples, nil
	}

	byRef := make(map[string]*models.ColumnInfo, len(columns))
	items := make([]parallel.WorkItem[*models.SampleData], 0, len(columns))
	for _, col := range columns {
		col := col
		byRef[col.FullyQualifiedName()] = col
		items = append(items, parallel.WorkItem[*models.SampleData]{
			ID: col.FullyQualifiedName(),
			Execute: func(ctx context.Context) (*models.SampleData, error) {
				values, err := fetch(ctx, col, cfg)
				if err != nil {
					return nil, err
				}
				return buildSample(col, values, cfg), nil
			},
		})
	}

	pool := parallel.NewWorkerPool(parallel.WorkerPoolConfig{MaxConcurrent: cfg.MaxConcurrentQueries}, logger)
	results := parallel.Process(ctx, pool, items, nil)

	var failures int
	var firstErr error
	for _, res := range results {
		col := byRef[res.ID]
		if col == nil {
			continue
		}
		if res.Err != nil {
			failures++
			if firstErr == nil {
				firstErr = res.Err
			}
			logger.Warn("column sampling failed",
				zap.String("column", res.ID),
				zap.String("error", logging.SanitizeError(res.Err)),
			)
			samples[col] = &models.SampleData{ColumnRef: col.QualifiedName()}
			continue
		}
		samples[col] = res.Result
	}

	if failures == len(columns) {
		return nil, fmt.Errorf("%w: all %d column sample queries failed: %v", apperrors.ErrSampling, len(columns), firstErr)
	}
	return samples, nil
}

// buildSample assembles SampleData from raw values, counting NULLs and
// computing entropy when enabled.
func buildSample(col *models.ColumnInfo, values []any, cfg models.SamplingConfig) *models.SampleData {
	sample := &models.SampleData{
		ColumnRef:     col.QualifiedName(),
		Values:        values,
		TotalRowCount: int64(len(values)),
	}
	for _, v := range values {
		if v == nil {
			sample.TotalNullCount++
		}
	}
	if cfg.EntropyCalculationEnabled && !sample.IsEmpty() {
		metrics := profiling.NewDistributionAnalyzer().Analyze(sample)
		sample.Entropy = &metrics.Entropy
	}
	return sample
}
