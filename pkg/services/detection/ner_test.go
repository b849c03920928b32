package detection

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/models"
	"github.com/seclens/seclens-engine/pkg/ner"
)

// fakeRecognizer implements ner.Recognizer with function fields.
type fakeRecognizer struct {
	recognize func(ctx context.Context, samples []string) ([][]ner.Entity, error)
	healthy   func(ctx context.Context) error
	calls     int
}

var _ ner.Recognizer = (*fakeRecognizer)(nil)

func (f *fakeRecognizer) Recognize(ctx context.Context, samples []string) ([][]ner.Entity, error) {
	f.calls++
	if f.recognize == nil {
		return make([][]ner.Entity, len(samples)), nil
	}
	return f.recognize(ctx, samples)
}

func (f *fakeRecognizer) Healthy(ctx context.Context) error {
	if f.healthy == nil {
		return nil
	}
	return f.healthy(ctx)
}

func nerColumn() *models.ColumnInfo {
	return &models.ColumnInfo{TableName: "customers", ColumnName: "full_name"}
}

func nerSamples(values ...string) *models.SampleData {
	raw := make([]any, len(values))
	for i, v := range values {
		raw[i] = v
	}
	return &models.SampleData{Values: raw, TotalRowCount: int64(len(raw))}
}

func TestNerDetect_ScoresByAvgAndCoverage(t *testing.T) {
	// 4 samples, 2 containing PERSON entities with scores 0.9 and 0.8:
	// avg = 0.85, coverage = 0.5, candidate score = 0.425.
	rec := &fakeRecognizer{
		recognize: func(ctx context.Context, samples []string) ([][]ner.Entity, error) {
			require.Len(t, samples, 4)
			return [][]ner.Entity{
				{{Text: "Alice Smith", Type: "PERSON", Score: 0.9}},
				{},
				{{Text: "Bob Jones", Type: "PERSON", Score: 0.8}},
				{},
			}, nil
		},
	}
	strategy := NewNerStrategy(rec, 50, zap.NewNop())

	candidates, err := strategy.Detect(context.Background(), nerColumn(),
		nerSamples("Alice Smith", "n/a", "Bob Jones", "n/a"))
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	c := candidates[0]
	assert.Equal(t, models.PiiTypePersonName, c.PiiType)
	assert.InDelta(t, 0.425, c.ConfidenceScore, 1e-9)
	assert.Equal(t, StrategyNer, c.StrategyName)
	assert.Contains(t, c.Evidence, "2 of 4")
}

func TestNerDetect_DropsBelowNoiseFloor(t *testing.T) {
	// 1 of 10 samples with a person: 0.9 * 0.1 = 0.09, dropped.
	rec := &fakeRecognizer{
		recognize: func(ctx context.Context, samples []string) ([][]ner.Entity, error) {
			out := make([][]ner.Entity, len(samples))
			out[0] = []ner.Entity{{Text: "Alice", Type: "PERSON", Score: 0.9}}
			return out, nil
		},
	}
	strategy := NewNerStrategy(rec, 50, zap.NewNop())

	values := make([]string, 10)
	for i := range values {
		values[i] = "text"
	}
	candidates, err := strategy.Detect(context.Background(), nerColumn(), nerSamples(values...))
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestNerDetect_UnmappedLabelIgnored(t *testing.T) {
	rec := &fakeRecognizer{
		recognize: func(ctx context.Context, samples []string) ([][]ner.Entity, error) {
			return [][]ner.Entity{
				{{Text: "widget", Type: "PRODUCT", Score: 0.99}},
			}, nil
		},
	}
	strategy := NewNerStrategy(rec, 50, zap.NewNop())

	candidates, err := strategy.Detect(context.Background(), nerColumn(), nerSamples("widget"))
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestNerDetect_TransportErrorYieldsEmptyNotError(t *testing.T) {
	rec := &fakeRecognizer{
		recognize: func(ctx context.Context, samples []string) ([][]ner.Entity, error) {
			return nil, errors.New("connection refused")
		},
	}
	strategy := NewNerStrategy(rec, 50, zap.NewNop())

	candidates, err := strategy.Detect(context.Background(), nerColumn(), nerSamples("Alice"))
	require.NoError(t, err, "transport failure must not fail the scan")
	assert.Empty(t, candidates)
}

func TestNerDetect_FailedProbeDisablesStrategy(t *testing.T) {
	rec := &fakeRecognizer{
		healthy: func(ctx context.Context) error { return errors.New("no such host") },
	}
	strategy := NewNerStrategy(rec, 50, zap.NewNop())

	err := strategy.Probe(context.Background())
	require.Error(t, err)
	assert.False(t, strategy.Available())

	candidates, err := strategy.Detect(context.Background(), nerColumn(), nerSamples("Alice"))
	require.NoError(t, err)
	assert.Empty(t, candidates)
	assert.Zero(t, rec.calls, "disabled strategy must not call the sidecar")
}

func TestNerDetect_TruncatesToMaxSamples(t *testing.T) {
	var got int
	rec := &fakeRecognizer{
		recognize: func(ctx context.Context, samples []string) ([][]ner.Entity, error) {
			got = len(samples)
			return make([][]ner.Entity, len(samples)), nil
		},
	}
	strategy := NewNerStrategy(rec, 3, zap.NewNop())

	_, err := strategy.Detect(context.Background(), nerColumn(),
		nerSamples("a", "b", "c", "d", "e"))
	require.NoError(t, err)
	assert.Equal(t, 3, got)
}

func TestNerDetect_EmptySamples(t *testing.T) {
	rec := &fakeRecognizer{}
	strategy := NewNerStrategy(rec, 50, zap.NewNop())

	candidates, err := strategy.Detect(context.Background(), nerColumn(), &models.SampleData{})
	require.NoError(t, err)
	assert.Empty(t, candidates)
	assert.Zero(t, rec.calls)
}
