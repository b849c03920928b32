// Package qi analyzes columns that are not directly identifying on their
// own but can re-identify individuals in combination. It filters scan
// results down to eligible columns, groups them by statistical correlation
// (connected components over a correlation graph, or density clustering),
// and scores each group's re-identification risk.
package qi

import (
	"sort"

	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/models"
	"github.com/seclens/seclens-engine/pkg/profiling"
)

// candidateColumn is a column that passed eligibility filtering, bundled
// with its samples and distribution metrics so later stages never recompute
// them.
type candidateColumn struct {
	Column  *models.ColumnInfo
	Samples *models.SampleData
	Metrics profiling.DistributionMetrics
}

// filterEligible selects the columns worth correlating. Columns that carry
// direct PII, key columns, and columns whose value distribution cannot
// meaningfully narrow down individuals (too few distinct values, near-unique,
// or low entropy) are excluded. The result is sorted by qualified name.
func filterEligible(
	cfg models.QuasiIdentifierConfig,
	columnData map[*models.ColumnInfo]*models.SampleData,
	results []models.DetectionResult,
	logger *zap.Logger,
) []candidateColumn {
	hasPii := make(map[string]bool, len(results))
	for i := range results {
		if results[i].HasPii {
			hasPii[results[i].ColumnRef] = true
		}
	}

	analyzer := profiling.NewDistributionAnalyzer()
	eligible := make([]candidateColumn, 0, len(columnData))

	for col, samples := range columnData {
		ref := col.QualifiedName()

		if reason := structuralExclusion(col, hasPii[ref]); reason != "" {
			logger.Debug("column excluded from quasi-identifier analysis",
				zap.String("column", ref),
				zap.String("reason", reason))
			continue
		}
		if samples == nil || samples.IsEmpty() {
			logger.Debug("column excluded from quasi-identifier analysis",
				zap.String("column", ref),
				zap.String("reason", "no samples"))
			continue
		}

		metrics := analyzer.Analyze(samples)
		if reason := distributionExclusion(cfg, metrics); reason != "" {
			logger.Debug("column excluded from quasi-identifier analysis",
				zap.String("column", ref),
				zap.String("reason", reason))
			continue
		}

		eligible = append(eligible, candidateColumn{
			Column:  col,
			Samples: samples,
			Metrics: metrics,
		})
	}

	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].Column.QualifiedName() < eligible[j].Column.QualifiedName()
	})
	return eligible
}

func structuralExclusion(col *models.ColumnInfo, hasPii bool) string {
	switch {
	case hasPii:
		return "direct pii"
	case col.IsPrimaryKey:
		return "primary key"
	case col.ParticipatesInForeignKey():
		return "foreign key"
	}
	return ""
}

func distributionExclusion(cfg models.QuasiIdentifierConfig, metrics profiling.DistributionMetrics) string {
	switch {
	case metrics.DistinctValueCount < cfg.MinDistinctValueCount:
		return "too few distinct values"
	case metrics.DistinctValueRatio > cfg.MaxDistinctValueRatio:
		return "near-unique values"
	case metrics.Entropy < cfg.EntropyThreshold:
		return "low entropy"
	}
	return ""
}
