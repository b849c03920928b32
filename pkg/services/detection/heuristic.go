package detection

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/models"
)

// HeuristicStrategy matches the column name and comment against the keyword
// table. It needs no sample data, so it still fires on all-null columns.
type HeuristicStrategy struct {
	rules  []HeuristicRule
	logger *zap.Logger
}

var _ Strategy = (*HeuristicStrategy)(nil)

// NewHeuristicStrategy creates the keyword strategy from the library rules.
func NewHeuristicStrategy(rules []HeuristicRule, logger *zap.Logger) *HeuristicStrategy {
	return &HeuristicStrategy{rules: rules, logger: logger.Named("heuristic")}
}

// Name implements Strategy.
func (s *HeuristicStrategy) Name() string { return StrategyHeuristic }

// Detect scores each keyword against the column: exact name equality earns
// the base score, a name substring 0.8x, a comment substring 0.7x. One
// candidate per matching keyword; conflict resolution happens in the engine.
func (s *HeuristicStrategy) Detect(ctx context.Context, col *models.ColumnInfo, samples *models.SampleData) ([]models.PiiCandidate, error) {
	name := strings.ToLower(col.ColumnName)
	comment := strings.ToLower(col.Comment)

	var candidates []models.PiiCandidate
	for _, rule := range s.rules {
		var score float64
		var evidence string
		switch {
		case name == rule.Keyword:
			score = rule.BaseScore
			evidence = fmt.Sprintf("column name equals keyword %q", rule.Keyword)
		case strings.Contains(name, rule.Keyword):
			score = 0.8 * rule.BaseScore
			evidence = fmt.Sprintf("column name contains keyword %q", rule.Keyword)
		case comment != "" && strings.Contains(comment, rule.Keyword):
			score = 0.7 * rule.BaseScore
			evidence = fmt.Sprintf("column comment contains keyword %q", rule.Keyword)
		default:
			continue
		}

		candidates = append(candidates, models.PiiCandidate{
			ColumnRef:       col.QualifiedName(),
			PiiType:         rule.PiiType,
			ConfidenceScore: score,
			StrategyName:    s.Name(),
			Evidence:        evidence,
		})
	}
	return candidates, nil
}
