package detection

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/models"
)

// spyStrategy returns canned candidates and counts invocations. The engine
// fans columns out concurrently, so the counter is atomic.
type spyStrategy struct {
	name       string
	candidates []models.PiiCandidate
	err        error
	calls      atomic.Int32
}

var _ Strategy = (*spyStrategy)(nil)

func (s *spyStrategy) Name() string { return s.name }

func (s *spyStrategy) Detect(ctx context.Context, col *models.ColumnInfo, samples *models.SampleData) ([]models.PiiCandidate, error) {
	s.calls.Add(1)
	return s.candidates, s.err
}

func candidate(piiType models.PiiType, score float64, strategy string) models.PiiCandidate {
	return models.PiiCandidate{
		ColumnRef:       "customers.email",
		PiiType:         piiType,
		ConfidenceScore: score,
		StrategyName:    strategy,
	}
}

func detectionConfig() models.DetectionConfig {
	return models.DetectionConfig{
		HeuristicThreshold:     0.7,
		RegexThreshold:         0.8,
		NerThreshold:           0.75,
		ReportingThreshold:     0.5,
		StopPipelineOnHighConf: true,
		NerEnabled:             true,
	}
}

func singleColumnData(name string) map[*models.ColumnInfo]*models.SampleData {
	col := &models.ColumnInfo{TableName: "customers", ColumnName: name}
	return map[*models.ColumnInfo]*models.SampleData{col: {}}
}

func TestEngine_HeuristicShortCircuit(t *testing.T) {
	// A confident heuristic hit must skip regex and NER entirely.
	heuristic := NewHeuristicStrategy(BuiltinLibrary().Heuristics, zap.NewNop())
	regex := &spyStrategy{name: StrategyRegex}
	nerSpy := &spyStrategy{name: StrategyNer}
	engine := NewEngine([]Strategy{heuristic, regex, nerSpy}, NewCache(zap.NewNop()), zap.NewNop())

	results := engine.DetectColumns(context.Background(), detectionConfig(), singleColumnData("email"))

	require.Len(t, results, 1)
	r := results[0]
	require.Len(t, r.Candidates, 1)
	assert.Equal(t, models.PiiTypeEmail, r.Candidates[0].PiiType)
	assert.InDelta(t, 0.8, r.Candidates[0].ConfidenceScore, 1e-9)
	assert.True(t, r.HasPii)

	assert.Zero(t, regex.calls.Load(), "regex ran despite short-circuit")
	assert.Zero(t, nerSpy.calls.Load(), "NER ran despite short-circuit")
}

func TestEngine_NoShortCircuitWhenDisabled(t *testing.T) {
	heuristic := NewHeuristicStrategy(BuiltinLibrary().Heuristics, zap.NewNop())
	regex := &spyStrategy{name: StrategyRegex}
	engine := NewEngine([]Strategy{heuristic, regex}, NewCache(zap.NewNop()), zap.NewNop())

	cfg := detectionConfig()
	cfg.StopPipelineOnHighConf = false

	engine.DetectColumns(context.Background(), cfg, singleColumnData("email"))

	assert.Equal(t, int32(1), regex.calls.Load(), "regex skipped with short-circuit disabled")
}

func TestEngine_NoShortCircuitBelowThreshold(t *testing.T) {
	// A hit below the strategy threshold must not stop the pipeline.
	weak := &spyStrategy{
		name:       StrategyHeuristic,
		candidates: []models.PiiCandidate{candidate(models.PiiTypeEmail, 0.6, StrategyHeuristic)},
	}
	regex := &spyStrategy{name: StrategyRegex}
	engine := NewEngine([]Strategy{weak, regex}, NewCache(zap.NewNop()), zap.NewNop())

	engine.DetectColumns(context.Background(), detectionConfig(), singleColumnData("email"))

	assert.Equal(t, int32(1), regex.calls.Load())
}

func TestEngine_ConflictResolutionKeepsMaxPerType(t *testing.T) {
	first := &spyStrategy{
		name:       StrategyHeuristic,
		candidates: []models.PiiCandidate{candidate(models.PiiTypeEmail, 0.6, StrategyHeuristic)},
	}
	second := &spyStrategy{
		name: StrategyRegex,
		candidates: []models.PiiCandidate{
			candidate(models.PiiTypeEmail, 0.9, StrategyRegex),
			candidate(models.PiiTypePhoneNumber, 0.3, StrategyRegex),
		},
	}
	engine := NewEngine([]Strategy{first, second}, NewCache(zap.NewNop()), zap.NewNop())

	results := engine.DetectColumns(context.Background(), detectionConfig(), singleColumnData("email"))

	require.Len(t, results, 1)
	r := results[0]

	// EMAIL keeps the 0.9 regex candidate; the 0.3 phone hit falls below the
	// reporting threshold.
	require.Len(t, r.Candidates, 1)
	assert.Equal(t, models.PiiTypeEmail, r.Candidates[0].PiiType)
	assert.InDelta(t, 0.9, r.Candidates[0].ConfidenceScore, 1e-9)
	assert.Equal(t, StrategyRegex, r.Candidates[0].StrategyName)

	assert.Equal(t, models.PiiTypeEmail, r.HighestConfidencePiiType)
	assert.InDelta(t, 0.9, r.HighestConfidenceScore, 1e-9)
	assert.True(t, r.HasPii)
}

func TestEngine_AllCandidatesBelowReportingThreshold(t *testing.T) {
	weak := &spyStrategy{
		name:       StrategyHeuristic,
		candidates: []models.PiiCandidate{candidate(models.PiiTypeUsername, 0.3, StrategyHeuristic)},
	}
	engine := NewEngine([]Strategy{weak}, NewCache(zap.NewNop()), zap.NewNop())

	results := engine.DetectColumns(context.Background(), detectionConfig(), singleColumnData("handle"))

	require.Len(t, results, 1)
	assert.Empty(t, results[0].Candidates)
	assert.False(t, results[0].HasPii)
	assert.Zero(t, results[0].HighestConfidenceScore)
}

func TestEngine_StrategyErrorIsSwallowed(t *testing.T) {
	broken := &spyStrategy{name: StrategyHeuristic, err: errors.New("boom")}
	working := &spyStrategy{
		name:       StrategyRegex,
		candidates: []models.PiiCandidate{candidate(models.PiiTypeEmail, 0.9, StrategyRegex)},
	}
	engine := NewEngine([]Strategy{broken, working}, NewCache(zap.NewNop()), zap.NewNop())

	results := engine.DetectColumns(context.Background(), detectionConfig(), singleColumnData("email"))

	require.Len(t, results, 1)
	require.Len(t, results[0].Candidates, 1)
	assert.Equal(t, models.PiiTypeEmail, results[0].Candidates[0].PiiType)
}

func TestEngine_CacheHitSkipsStrategies(t *testing.T) {
	spy := &spyStrategy{
		name:       StrategyHeuristic,
		candidates: []models.PiiCandidate{candidate(models.PiiTypeEmail, 0.9, StrategyHeuristic)},
	}
	engine := NewEngine([]Strategy{spy}, NewCache(zap.NewNop()), zap.NewNop())
	col := &models.ColumnInfo{TableName: "customers", ColumnName: "email"}
	data := map[*models.ColumnInfo]*models.SampleData{col: {}}

	first := engine.DetectColumns(context.Background(), detectionConfig(), data)
	second := engine.DetectColumns(context.Background(), detectionConfig(), data)

	assert.Equal(t, int32(1), spy.calls.Load(), "cache hit still ran strategies")
	assert.Equal(t, first, second)
}

func TestEngine_NerDisabledEqualsUnavailable(t *testing.T) {
	// A failed startup probe must behave exactly like ner_enabled=false.
	newEngine := func(recognizer *fakeRecognizer, probe bool) *Engine {
		heuristic := NewHeuristicStrategy(BuiltinLibrary().Heuristics, zap.NewNop())
		regex := NewRegexStrategy(BuiltinLibrary().Patterns, zap.NewNop())
		nerStrategy := NewNerStrategy(recognizer, 50, zap.NewNop())
		if probe {
			_ = nerStrategy.Probe(context.Background())
		}
		return NewEngine([]Strategy{heuristic, regex, nerStrategy}, NewCache(zap.NewNop()), zap.NewNop())
	}

	down := &fakeRecognizer{healthy: func(ctx context.Context) error { return errors.New("connection refused") }}
	unavailable := newEngine(down, true)

	up := &fakeRecognizer{}
	disabled := newEngine(up, false)

	cfg := detectionConfig()
	cfg.StopPipelineOnHighConf = false

	col := &models.ColumnInfo{TableName: "customers", ColumnName: "notes"}
	data := map[*models.ColumnInfo]*models.SampleData{col: {
		Values:        []any{"met Alice downtown", "call Bob tomorrow"},
		TotalRowCount: 2,
	}}

	gotUnavailable := unavailable.DetectColumns(context.Background(), cfg, data)

	cfgDisabled := cfg
	cfgDisabled.NerEnabled = false
	gotDisabled := disabled.DetectColumns(context.Background(), cfgDisabled, data)

	assert.Equal(t, gotDisabled, gotUnavailable)
	assert.Zero(t, up.calls, "disabled NER still called the sidecar")
}

func TestEngine_OneResultPerColumnSorted(t *testing.T) {
	heuristic := NewHeuristicStrategy(BuiltinLibrary().Heuristics, zap.NewNop())
	engine := NewEngine([]Strategy{heuristic}, NewCache(zap.NewNop()), zap.NewNop())

	data := map[*models.ColumnInfo]*models.SampleData{
		{TableName: "customers", ColumnName: "ssn"}:   {},
		{TableName: "customers", ColumnName: "email"}: {},
		{TableName: "orders", ColumnName: "total"}:    {},
	}

	results := engine.DetectColumns(context.Background(), detectionConfig(), data)

	require.Len(t, results, 3)
	assert.Equal(t, "customers.email", results[0].ColumnRef)
	assert.Equal(t, "customers.ssn", results[1].ColumnRef)
	assert.Equal(t, "orders.total", results[2].ColumnRef)

	// Non-PII columns still produce a (possibly empty) result.
	assert.False(t, results[2].HasPii)
}
