package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/models"
)

func cachedResult() *models.DetectionResult {
	return &models.DetectionResult{
		ColumnRef:  "customers.email",
		TableName:  "customers",
		ColumnName: "email",
		Candidates: []models.PiiCandidate{
			{ColumnRef: "customers.email", PiiType: models.PiiTypeEmail, ConfidenceScore: 0.8, StrategyName: StrategyHeuristic},
		},
		HighestConfidencePiiType: models.PiiTypeEmail,
		HighestConfidenceScore:   0.8,
		HasPii:                   true,
	}
}

func TestCachePutGet(t *testing.T) {
	cache := NewCache(zap.NewNop())

	_, ok := cache.Get("customers.email")
	assert.False(t, ok)

	cache.Put("customers.email", cachedResult())

	got, ok := cache.Get("customers.email")
	require.True(t, ok)
	assert.Equal(t, models.PiiTypeEmail, got.HighestConfidencePiiType)
	assert.Len(t, got.Candidates, 1)
	assert.Equal(t, 1, cache.Len())
}

func TestCacheGetReturnsCopy(t *testing.T) {
	cache := NewCache(zap.NewNop())
	cache.Put("customers.email", cachedResult())

	first, ok := cache.Get("customers.email")
	require.True(t, ok)

	// Simulate per-scan QI annotation on the returned result.
	first.IsQuasiIdentifier = true
	first.CorrelatedColumns = append(first.CorrelatedColumns, "customers.zip_code")
	first.Candidates[0].ConfidenceScore = 0.1

	second, ok := cache.Get("customers.email")
	require.True(t, ok)
	assert.False(t, second.IsQuasiIdentifier, "cache entry mutated through Get")
	assert.Empty(t, second.CorrelatedColumns)
	assert.InDelta(t, 0.8, second.Candidates[0].ConfidenceScore, 1e-9)
}

func TestCachePutStoresCopy(t *testing.T) {
	cache := NewCache(zap.NewNop())
	original := cachedResult()
	cache.Put("customers.email", original)

	original.Candidates[0].ConfidenceScore = 0.01
	original.HasPii = false

	got, ok := cache.Get("customers.email")
	require.True(t, ok)
	assert.True(t, got.HasPii)
	assert.InDelta(t, 0.8, got.Candidates[0].ConfidenceScore, 1e-9)
}

func TestCacheInvalidate(t *testing.T) {
	cache := NewCache(zap.NewNop())
	cache.Put("customers.email", cachedResult())
	cache.Put("customers.ssn", cachedResult())
	require.Equal(t, 2, cache.Len())

	cache.Invalidate()

	assert.Equal(t, 0, cache.Len())
	_, ok := cache.Get("customers.email")
	assert.False(t, ok)
}
