package profiling

import (
	"math"

	"github.com/seclens/seclens-engine/pkg/models"
)

// DistributionMetrics describes the value distribution of one sampled column.
// Nulls are excluded from every count, so TotalSampleCount may be smaller
// than the number of sampled rows.
type DistributionMetrics struct {
	DistinctValueCount  int
	TotalSampleCount    int
	DistinctValueRatio  float64
	SingletonValueCount int
	Entropy             float64
	FrequencyMap        map[string]int
}

// DistributionAnalyzer computes per-column distribution metrics from sampled
// data: frequency map, cardinality, singleton count and Shannon entropy.
type DistributionAnalyzer struct{}

// NewDistributionAnalyzer creates a new distribution analyzer.
func NewDistributionAnalyzer() *DistributionAnalyzer {
	return &DistributionAnalyzer{}
}

// Analyze computes distribution metrics for one column sample. An empty or
// all-null sample yields zero counts, zero ratios and zero entropy.
func (a *DistributionAnalyzer) Analyze(sample *models.SampleData) DistributionMetrics {
	metrics := DistributionMetrics{FrequencyMap: map[string]int{}}

	values := sample.StringValues()
	if len(values) == 0 {
		return metrics
	}

	for _, v := range values {
		metrics.FrequencyMap[v]++
	}
	metrics.TotalSampleCount = len(values)
	metrics.DistinctValueCount = len(metrics.FrequencyMap)
	metrics.DistinctValueRatio = float64(metrics.DistinctValueCount) / float64(metrics.TotalSampleCount)

	for _, count := range metrics.FrequencyMap {
		if count == 1 {
			metrics.SingletonValueCount++
		}
	}
	metrics.Entropy = shannonEntropy(metrics.FrequencyMap, metrics.TotalSampleCount)

	return metrics
}

// shannonEntropy computes base-2 entropy over a frequency distribution.
func shannonEntropy(frequencies map[string]int, total int) float64 {
	if total == 0 {
		return 0
	}

	entropy := 0.0
	n := float64(total)
	for _, count := range frequencies {
		if count > 0 {
			p := float64(count) / n
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}
