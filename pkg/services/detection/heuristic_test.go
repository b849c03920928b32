package detection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/models"
)

func heuristicForTest() *HeuristicStrategy {
	return NewHeuristicStrategy([]HeuristicRule{
		{Keyword: "email", PiiType: models.PiiTypeEmail, BaseScore: 0.8},
		{Keyword: "ssn", PiiType: models.PiiTypeSSN, BaseScore: 0.95},
		{Keyword: "address", PiiType: models.PiiTypeAddress, BaseScore: 0.8},
	}, zap.NewNop())
}

func TestHeuristicDetect_Scoring(t *testing.T) {
	tests := []struct {
		name      string
		column    string
		comment   string
		wantType  models.PiiType
		wantScore float64
	}{
		{"exact name match", "email", "", models.PiiTypeEmail, 0.8},
		{"name contains keyword", "customer_email", "", models.PiiTypeEmail, 0.8 * 0.8},
		{"comment contains keyword", "contact", "primary email for notifications", models.PiiTypeEmail, 0.7 * 0.8},
		{"case insensitive", "EMAIL", "", models.PiiTypeEmail, 0.8},
	}

	strategy := heuristicForTest()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			col := &models.ColumnInfo{TableName: "customers", ColumnName: tt.column, Comment: tt.comment}

			candidates, err := strategy.Detect(context.Background(), col, &models.SampleData{})
			require.NoError(t, err)
			require.Len(t, candidates, 1)

			c := candidates[0]
			assert.Equal(t, tt.wantType, c.PiiType)
			assert.InDelta(t, tt.wantScore, c.ConfidenceScore, 1e-9)
			assert.Equal(t, StrategyHeuristic, c.StrategyName)
			assert.Equal(t, "customers."+tt.column, c.ColumnRef)
			assert.NotEmpty(t, c.Evidence)
		})
	}
}

func TestHeuristicDetect_NameBeatsComment(t *testing.T) {
	strategy := heuristicForTest()
	col := &models.ColumnInfo{
		TableName:  "customers",
		ColumnName: "email",
		Comment:    "email address on file",
	}

	candidates, err := strategy.Detect(context.Background(), col, &models.SampleData{})
	require.NoError(t, err)

	// "email" matches the name exactly; "address" matches only the comment.
	require.Len(t, candidates, 2)
	byType := map[models.PiiType]float64{}
	for _, c := range candidates {
		byType[c.PiiType] = c.ConfidenceScore
	}
	assert.InDelta(t, 0.8, byType[models.PiiTypeEmail], 1e-9)
	assert.InDelta(t, 0.7*0.8, byType[models.PiiTypeAddress], 1e-9)
}

func TestHeuristicDetect_MultipleKeywords(t *testing.T) {
	strategy := heuristicForTest()
	col := &models.ColumnInfo{TableName: "customers", ColumnName: "email_address"}

	candidates, err := strategy.Detect(context.Background(), col, &models.SampleData{})
	require.NoError(t, err)
	require.Len(t, candidates, 2)
}

func TestHeuristicDetect_NoMatch(t *testing.T) {
	strategy := heuristicForTest()
	col := &models.ColumnInfo{TableName: "orders", ColumnName: "total_amount"}

	candidates, err := strategy.Detect(context.Background(), col, &models.SampleData{})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestHeuristicDetect_WorksWithoutSamples(t *testing.T) {
	// All-null or empty sample data must not suppress name-based findings.
	strategy := heuristicForTest()
	col := &models.ColumnInfo{TableName: "customers", ColumnName: "ssn"}

	candidates, err := strategy.Detect(context.Background(), col, &models.SampleData{
		Values:         []any{nil, nil},
		TotalRowCount:  2,
		TotalNullCount: 2,
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, models.PiiTypeSSN, candidates[0].PiiType)
	assert.InDelta(t, 0.95, candidates[0].ConfidenceScore, 1e-9)
}
