package detection

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/logging"
	"github.com/seclens/seclens-engine/pkg/models"
	"github.com/seclens/seclens-engine/pkg/parallel"
)

// Engine runs the ordered strategy pipeline over every sampled column and
// produces one DetectionResult per column. Strategy errors are logged and
// swallowed; a single broken column never aborts the batch. Columns fan out
// across a bounded worker pool and results come back sorted by column ref so
// repeated runs are comparable.
type Engine struct {
	strategies []Strategy
	cache      *Cache
	logger     *zap.Logger
}

// NewEngine creates a detection engine. Strategy order is significant: the
// pipeline runs strategies in the order given and short-circuits behind the
// scan config's stop-on-high-confidence flag.
func NewEngine(strategies []Strategy, cache *Cache, logger *zap.Logger) *Engine {
	return &Engine{
		strategies: strategies,
		cache:      cache,
		logger:     logger.Named("detection-engine"),
	}
}

// DetectColumns runs the per-column pipeline over the sampled columns and
// returns one result per column, sorted by column ref.
func (e *Engine) DetectColumns(
	ctx context.Context,
	cfg models.DetectionConfig,
	columnData map[*models.ColumnInfo]*models.SampleData,
) []models.DetectionResult {
	if len(columnData) == 0 {
		return nil
	}

	items := make([]parallel.WorkItem[*models.DetectionResult], 0, len(columnData))
	for col, samples := range columnData {
		col, samples := col, samples
		items = append(items, parallel.WorkItem[*models.DetectionResult]{
			ID: col.QualifiedName(),
			Execute: func(ctx context.Context) (*models.DetectionResult, error) {
				return e.detectColumn(ctx, cfg, col, samples), nil
			},
		})
	}

	pool := parallel.NewWorkerPool(parallel.DefaultWorkerPoolConfig(), e.logger)
	results := parallel.Process(ctx, pool, items, nil)

	out := make([]models.DetectionResult, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			// Only context cancellation lands here; the executor checks the
			// context at the phase boundary and abandons the partial batch.
			continue
		}
		out = append(out, *res.Result)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ColumnRef < out[j].ColumnRef })
	return out
}

// detectColumn runs the cache lookup, the strategy pipeline, conflict
// resolution and the reporting filter for one column.
func (e *Engine) detectColumn(
	ctx context.Context,
	cfg models.DetectionConfig,
	col *models.ColumnInfo,
	samples *models.SampleData,
) *models.DetectionResult {
	key := col.QualifiedName()
	if cached, ok := e.cache.Get(key); ok {
		e.logger.Debug("detection cache hit", zap.String("column", key))
		return cached
	}

	var merged []models.PiiCandidate
	for _, strategy := range e.strategies {
		if strategy.Name() == StrategyNer && !cfg.NerEnabled {
			continue
		}

		candidates, err := strategy.Detect(ctx, col, samples)
		if err != nil {
			e.logger.Warn("detection strategy failed",
				zap.String("strategy", strategy.Name()),
				zap.String("column", key),
				zap.String("error", logging.SanitizeError(err)),
			)
			continue
		}
		merged = append(merged, candidates...)

		if cfg.StopPipelineOnHighConf && anyAboveThreshold(candidates, strategyThreshold(cfg, strategy.Name())) {
			e.logger.Debug("detection pipeline short-circuited",
				zap.String("strategy", strategy.Name()),
				zap.String("column", key),
			)
			break
		}
	}

	result := &models.DetectionResult{
		ColumnRef:  key,
		SchemaName: col.SchemaName,
		TableName:  col.TableName,
		ColumnName: col.ColumnName,
		Candidates: filterByThreshold(resolveConflicts(merged), cfg.ReportingThreshold),
	}
	result.Recalculate(cfg.ReportingThreshold)

	e.cache.Put(key, result)
	return result
}

// anyAboveThreshold reports whether any candidate meets the short-circuit
// threshold.
func anyAboveThreshold(candidates []models.PiiCandidate, threshold float64) bool {
	for _, c := range candidates {
		if c.ConfidenceScore >= threshold {
			return true
		}
	}
	return false
}

// resolveConflicts keeps, per PII type, only the highest-confidence
// candidate. Ties go to the earlier strategy in pipeline order. The result
// is sorted by descending confidence, then type, for stable output.
func resolveConflicts(candidates []models.PiiCandidate) []models.PiiCandidate {
	if len(candidates) == 0 {
		return nil
	}

	best := make(map[models.PiiType]models.PiiCandidate, len(candidates))
	for _, c := range candidates {
		if current, ok := best[c.PiiType]; !ok || c.ConfidenceScore > current.ConfidenceScore {
			best[c.PiiType] = c
		}
	}

	resolved := make([]models.PiiCandidate, 0, len(best))
	for _, c := range best {
		resolved = append(resolved, c)
	}
	sort.Slice(resolved, func(i, j int) bool {
		if resolved[i].ConfidenceScore != resolved[j].ConfidenceScore {
			return resolved[i].ConfidenceScore > resolved[j].ConfidenceScore
		}
		return resolved[i].PiiType < resolved[j].PiiType
	})
	return resolved
}

// filterByThreshold drops candidates below the reporting threshold.
func filterByThreshold(candidates []models.PiiCandidate, threshold float64) []models.PiiCandidate {
	if len(candidates) == 0 {
		return nil
	}
	kept := candidates[:0]
	for _, c := range candidates {
		if c.ConfidenceScore >= threshold {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}
