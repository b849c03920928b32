package detection

import (
	"context"

	"github.com/seclens/seclens-engine/pkg/models"
)

// Strategy names, also used to resolve the per-strategy confidence threshold.
const (
	StrategyHeuristic = "heuristic"
	StrategyRegex     = "regex"
	StrategyNer       = "ner"
)

// Strategy is one detection pass over a column. Implementations must be
// safe for concurrent use; the engine fans columns out across a worker pool.
type Strategy interface {
	// Name returns the strategy's registry name.
	Name() string

	// Detect proposes PII candidates for a column given its sampled values.
	// An error aborts only this strategy for this column; the engine logs it
	// and keeps going.
	Detect(ctx context.Context, col *models.ColumnInfo, samples *models.SampleData) ([]models.PiiCandidate, error)
}

// strategyThreshold maps a strategy to its short-circuit confidence
// threshold from the scan's detection config.
func strategyThreshold(cfg models.DetectionConfig, name string) float64 {
	switch name {
	case StrategyHeuristic:
		return cfg.HeuristicThreshold
	case StrategyRegex:
		return cfg.RegexThreshold
	case StrategyNer:
		return cfg.NerThreshold
	default:
		return 1
	}
}
