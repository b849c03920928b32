package detection

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/logging"
	"github.com/seclens/seclens-engine/pkg/models"
	"github.com/seclens/seclens-engine/pkg/ner"
)

// entityTypeMap translates the recognition service's entity labels to
// canonical PII types. Unmapped labels are dropped.
var entityTypeMap = map[string]models.PiiType{
	"PERSON":            models.PiiTypePersonName,
	"PER":               models.PiiTypePersonName,
	"EMAIL":             models.PiiTypeEmail,
	"EMAIL_ADDRESS":     models.PiiTypeEmail,
	"PHONE":             models.PiiTypePhoneNumber,
	"PHONE_NUMBER":      models.PiiTypePhoneNumber,
	"LOCATION":          models.PiiTypeLocation,
	"LOC":               models.PiiTypeLocation,
	"GPE":               models.PiiTypeLocation,
	"ADDRESS":           models.PiiTypeAddress,
	"ORGANIZATION":      models.PiiTypeOrganization,
	"ORG":               models.PiiTypeOrganization,
	"DATE":              models.PiiTypeDateTime,
	"DATE_TIME":         models.PiiTypeDateTime,
	"CREDIT_CARD":       models.PiiTypeCreditCard,
	"SSN":               models.PiiTypeSSN,
	"US_SSN":            models.PiiTypeSSN,
	"IP_ADDRESS":        models.PiiTypeIPAddress,
	"PASSPORT":          models.PiiTypePassportNumber,
	"US_PASSPORT":       models.PiiTypePassportNumber,
	"DRIVER_LICENSE":    models.PiiTypeDriverLicense,
	"US_DRIVER_LICENSE": models.PiiTypeDriverLicense,
	"BANK_ACCOUNT":      models.PiiTypeBankAccount,
	"IBAN_CODE":         models.PiiTypeBankAccount,
	"USERNAME":          models.PiiTypeUsername,
}

// NerStrategy sends string samples to the recognition sidecar. The sidecar
// is optional: when the startup probe fails the strategy stays registered
// but answers with no candidates, and in-flight transport failures degrade
// to an empty result instead of erroring. A scan therefore never fails
// because the sidecar is down.
type NerStrategy struct {
	client     ner.Recognizer
	maxSamples int
	available  atomic.Bool
	logger     *zap.Logger
}

var _ Strategy = (*NerStrategy)(nil)

// NewNerStrategy creates the NER strategy. The strategy starts available;
// call Probe at startup to verify the sidecar is reachable.
func NewNerStrategy(client ner.Recognizer, maxSamples int, logger *zap.Logger) *NerStrategy {
	s := &NerStrategy{
		client:     client,
		maxSamples: maxSamples,
		logger:     logger.Named("ner-strategy"),
	}
	s.available.Store(true)
	return s
}

// Probe checks the sidecar health endpoint and records the outcome. A failed
// probe disables the strategy for the process lifetime; the error is returned
// so startup can log it, but callers should not treat it as fatal.
func (s *NerStrategy) Probe(ctx context.Context) error {
	if err := s.client.Healthy(ctx); err != nil {
		s.available.Store(false)
		s.logger.Warn("NER sidecar unreachable, strategy disabled",
			zap.String("error", logging.SanitizeError(err)))
		return err
	}
	s.available.Store(true)
	s.logger.Info("NER sidecar healthy")
	return nil
}

// Available reports whether the strategy will issue recognition requests.
func (s *NerStrategy) Available() bool { return s.available.Load() }

// Name implements Strategy.
func (s *NerStrategy) Name() string { return StrategyNer }

// Detect posts up to maxSamples string values and aggregates the returned
// entities per type: score = avgEntityScore * fractionOfSamplesWithType,
// kept when it clears the noise floor.
func (s *NerStrategy) Detect(ctx context.Context, col *models.ColumnInfo, samples *models.SampleData) ([]models.PiiCandidate, error) {
	if !s.available.Load() {
		return nil, nil
	}

	values := samples.StringValues()
	if len(values) == 0 {
		return nil, nil
	}
	if s.maxSamples > 0 && len(values) > s.maxSamples {
		values = values[:s.maxSamples]
	}

	results, err := s.client.Recognize(ctx, values)
	if err != nil {
		s.logger.Warn("NER recognition failed, column gets no NER candidates",
			zap.String("column", col.QualifiedName()),
			zap.String("error", logging.SanitizeError(err)))
		return nil, nil
	}

	type aggregate struct {
		scoreSum    float64
		entityCount int
		sampleCount int
	}
	byType := make(map[string]*aggregate)
	for _, entities := range results {
		seen := make(map[string]bool, len(entities))
		for _, e := range entities {
			label := strings.ToUpper(e.Type)
			agg := byType[label]
			if agg == nil {
				agg = &aggregate{}
				byType[label] = agg
			}
			agg.scoreSum += e.Score
			agg.entityCount++
			if !seen[label] {
				agg.sampleCount++
				seen[label] = true
			}
		}
	}

	var candidates []models.PiiCandidate
	for label, agg := range byType {
		piiType, ok := entityTypeMap[label]
		if !ok {
			continue
		}
		avgScore := agg.scoreSum / float64(agg.entityCount)
		matchPct := float64(agg.sampleCount) / float64(len(values))
		score := avgScore * matchPct
		if score <= minCandidateScore {
			continue
		}
		candidates = append(candidates, models.PiiCandidate{
			ColumnRef:       col.QualifiedName(),
			PiiType:         piiType,
			ConfidenceScore: score,
			StrategyName:    s.Name(),
			Evidence: fmt.Sprintf("%d of %d samples contained %s entities (avg score %.2f)",
				agg.sampleCount, len(values), label, avgScore),
		})
	}

	// Map iteration order is random; keep candidate order stable.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].PiiType != candidates[j].PiiType {
			return candidates[i].PiiType < candidates[j].PiiType
		}
		return candidates[i].ConfidenceScore > candidates[j].ConfidenceScore
	})
	return candidates, nil
}
