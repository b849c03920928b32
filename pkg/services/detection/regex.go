package detection

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/logging"
	"github.com/seclens/seclens-engine/pkg/models"
)

// minCandidateScore is the floor below which a data-derived candidate is
// noise rather than signal. Shared by the regex and NER strategies.
const minCandidateScore = 0.2

// RegexStrategy runs the precompiled value patterns over a column's string
// samples and scores each pattern by its match ratio.
type RegexStrategy struct {
	patterns []CompiledPattern
	logger   *zap.Logger
}

var _ Strategy = (*RegexStrategy)(nil)

// NewRegexStrategy creates the pattern strategy from the library patterns.
func NewRegexStrategy(patterns []CompiledPattern, logger *zap.Logger) *RegexStrategy {
	return &RegexStrategy{patterns: patterns, logger: logger.Named("regex")}
}

// Name implements Strategy.
func (s *RegexStrategy) Name() string { return StrategyRegex }

// Detect emits one candidate per pattern with score = baseScore * matchRatio
// when the score clears the noise floor. Evidence cites the match counts and
// one masked example value; raw sample values never leave this method.
func (s *RegexStrategy) Detect(ctx context.Context, col *models.ColumnInfo, samples *models.SampleData) ([]models.PiiCandidate, error) {
	values := samples.StringValues()
	if len(values) == 0 {
		return nil, nil
	}

	var candidates []models.PiiCandidate
	for _, p := range s.patterns {
		matches := 0
		example := ""
		for _, v := range values {
			if p.Pattern.MatchString(v) {
				matches++
				if example == "" {
					example = v
				}
			}
		}
		if matches == 0 {
			continue
		}

		ratio := float64(matches) / float64(len(values))
		score := p.BaseScore * ratio
		if score <= minCandidateScore {
			continue
		}

		candidates = append(candidates, models.PiiCandidate{
			ColumnRef:       col.QualifiedName(),
			PiiType:         p.PiiType,
			ConfidenceScore: score,
			StrategyName:    s.Name(),
			Evidence: fmt.Sprintf("%d of %d (%.1f%%) samples matched %s pattern; example: %s",
				matches, len(values), ratio*100, p.Name, logging.MaskValue(example)),
		})
	}
	return candidates, nil
}
