//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/seclens/seclens-engine/pkg/models"
	"github.com/seclens/seclens-engine/pkg/testhelpers"
)

// resultTestContext holds test dependencies for detection result tests.
type resultTestContext struct {
	t        *testing.T
	engineDB *testhelpers.EngineDB
	repo     ResultRepository
	jobs     JobRepository
	jobID    uuid.UUID
}

func setupResultTest(t *testing.T) *resultTestContext {
	engineDB := testhelpers.GetEngineDB(t)
	tc := &resultTestContext{
		t:        t,
		engineDB: engineDB,
		repo:     NewResultRepository(engineDB.DB),
		jobs:     NewJobRepository(engineDB.DB),
	}

	// Results and groups hang off a job row.
	job := &models.ScanJob{
		ID:             uuid.New(),
		ConnectionID:   "integration-target",
		Config:         models.DefaultScanConfig(),
		Status:         models.JobStatusDetectingPii,
		StartTime:      time.Now().UTC(),
		LastUpdateTime: time.Now().UTC(),
	}
	if err := tc.jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("failed to create parent job: %v", err)
	}
	tc.jobID = job.ID

	t.Cleanup(func() {
		_, _ = engineDB.DB.Exec(context.Background(),
			"DELETE FROM engine_scan_jobs WHERE id = $1", tc.jobID)
	})
	return tc
}

func emailResult(jobID uuid.UUID) *models.DetectionResult {
	return &models.DetectionResult{
		ColumnRef:  "customers.email",
		SchemaName: "public",
		TableName:  "customers",
		ColumnName: "email",
		Candidates: []models.PiiCandidate{
			{
				ColumnRef:       "customers.email",
				PiiType:         models.PiiTypeEmail,
				ConfidenceScore: 0.95,
				StrategyName:    "regex",
				Evidence:        "97% of sampled values match the email pattern",
			},
			{
				ColumnRef:       "customers.email",
				PiiType:         models.PiiTypeEmail,
				ConfidenceScore: 0.8,
				StrategyName:    "heuristic",
			},
		},
		HighestConfidencePiiType: models.PiiTypeEmail,
		HighestConfidenceScore:   0.95,
		HasPii:                   true,
	}
}

func TestResultRepository_SaveAndGetDetectionResults(t *testing.T) {
	tc := setupResultTest(t)
	ctx := context.Background()

	results := []*models.DetectionResult{
		emailResult(tc.jobID),
		{
			ColumnRef:  "customers.zip_code",
			TableName:  "customers",
			ColumnName: "zip_code",
		},
	}
	if err := tc.repo.SaveDetectionResults(ctx, tc.jobID, results); err != nil {
		t.Fatalf("SaveDetectionResults failed: %v", err)
	}

	retrieved, err := tc.repo.GetDetectionResults(ctx, tc.jobID)
	if err != nil {
		t.Fatalf("GetDetectionResults failed: %v", err)
	}
	if len(retrieved) != 2 {
		t.Fatalf("expected 2 results, got %d", len(retrieved))
	}

	// Ordered by column_ref: email before zip_code.
	email := retrieved[0]
	if email.ColumnRef != "customers.email" {
		t.Fatalf("expected customers.email first, got %s", email.ColumnRef)
	}
	if len(email.Candidates) != 2 {
		t.Errorf("candidates did not round-trip: %d", len(email.Candidates))
	}
	if email.Candidates[0].Evidence == "" {
		t.Error("candidate evidence did not round-trip")
	}
	if email.HighestConfidencePiiType != models.PiiTypeEmail || !email.HasPii {
		t.Errorf("derived fields did not round-trip: %+v", email)
	}

	clean := retrieved[1]
	if clean.HasPii || len(clean.Candidates) != 0 {
		t.Errorf("expected clean column to stay clean, got %+v", clean)
	}
}

func TestResultRepository_SaveDetectionResults_UpsertsAnnotations(t *testing.T) {
	tc := setupResultTest(t)
	ctx := context.Background()

	original := emailResult(tc.jobID)
	if err := tc.repo.SaveDetectionResults(ctx, tc.jobID, []*models.DetectionResult{original}); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	// The QI phase re-saves the same column with annotations.
	annotated := emailResult(tc.jobID)
	annotated.IsQuasiIdentifier = true
	annotated.QuasiIdentifierRiskScore = 0.42
	annotated.ClusteringMethod = models.ClusteringGraphCorrelation
	annotated.CorrelatedColumns = []string{"customers.zip_code"}
	if err := tc.repo.SaveDetectionResults(ctx, tc.jobID, []*models.DetectionResult{annotated}); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	retrieved, err := tc.repo.GetDetectionResults(ctx, tc.jobID)
	if err != nil {
		t.Fatalf("GetDetectionResults failed: %v", err)
	}
	if len(retrieved) != 1 {
		t.Fatalf("expected upsert to keep one row, got %d", len(retrieved))
	}
	got := retrieved[0]
	if !got.IsQuasiIdentifier || got.QuasiIdentifierRiskScore != 0.42 {
		t.Errorf("annotations were not applied: %+v", got)
	}
	if got.ClusteringMethod != models.ClusteringGraphCorrelation {
		t.Errorf("expected clustering method GRAPH_CORRELATION, got %s", got.ClusteringMethod)
	}
	if len(got.CorrelatedColumns) != 1 || got.CorrelatedColumns[0] != "customers.zip_code" {
		t.Errorf("correlated columns did not round-trip: %v", got.CorrelatedColumns)
	}
}

func TestResultRepository_SaveDetectionResults_Empty(t *testing.T) {
	tc := setupResultTest(t)
	ctx := context.Background()

	if err := tc.repo.SaveDetectionResults(ctx, tc.jobID, nil); err != nil {
		t.Fatalf("empty save should be a no-op, got %v", err)
	}
	retrieved, err := tc.repo.GetDetectionResults(ctx, tc.jobID)
	if err != nil {
		t.Fatalf("GetDetectionResults failed: %v", err)
	}
	if len(retrieved) != 0 {
		t.Errorf("expected no rows, got %d", len(retrieved))
	}
}

func TestResultRepository_QuasiIdentifierGroups_RoundTrip(t *testing.T) {
	tc := setupResultTest(t)
	ctx := context.Background()

	group := &models.QuasiIdentifierGroup{
		JobID:     tc.jobID,
		GroupName: "customers_location_cluster",
		Columns: []models.QuasiIdentifierColumn{
			{ColumnRef: "customers.zip_code", Cardinality: 812, DistributionEntropy: 5.4, ContributionScore: 0.6},
			{ColumnRef: "customers.birth_date", Cardinality: 954, DistributionEntropy: 6.1, ContributionScore: 0.7},
		},
		ClusteringMethod:         models.ClusteringGraphCorrelation,
		ReIdentificationRisk:     0.73,
		DistinctCombinations:     940,
		SingletonCombinations:    890,
		KAnonymity:               1,
		AverageGroupCorrelation:  0.82,
		NormalizedGroupEntropy:   0.91,
		CorrelationSignificances: map[string]float64{"customers.zip_code|customers.birth_date": 0.003},
	}

	if err := tc.repo.SaveQuasiIdentifierGroups(ctx, tc.jobID, []*models.QuasiIdentifierGroup{group}); err != nil {
		t.Fatalf("SaveQuasiIdentifierGroups failed: %v", err)
	}
	if group.ID == uuid.Nil {
		t.Error("expected save to assign a group ID")
	}

	groups, err := tc.repo.GetQuasiIdentifierGroups(ctx, tc.jobID)
	if err != nil {
		t.Fatalf("GetQuasiIdentifierGroups failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	got := groups[0]
	if got.GroupName != "customers_location_cluster" {
		t.Errorf("group name did not round-trip: %q", got.GroupName)
	}
	if got.Size() != 2 || !got.Contains("customers.zip_code") {
		t.Errorf("member columns did not round-trip: %v", got.ColumnRefs())
	}
	if got.ReIdentificationRisk != 0.73 || got.KAnonymity != 1 {
		t.Errorf("risk metrics did not round-trip: %+v", got)
	}
	if got.CorrelationSignificances["customers.zip_code|customers.birth_date"] != 0.003 {
		t.Errorf("significances did not round-trip: %v", got.CorrelationSignificances)
	}
}

func TestResultRepository_SaveQuasiIdentifierGroups_Replaces(t *testing.T) {
	tc := setupResultTest(t)
	ctx := context.Background()

	first := []*models.QuasiIdentifierGroup{
		{JobID: tc.jobID, GroupName: "group_a", Columns: []models.QuasiIdentifierColumn{{ColumnRef: "t.a"}, {ColumnRef: "t.b"}}},
		{JobID: tc.jobID, GroupName: "group_b", Columns: []models.QuasiIdentifierColumn{{ColumnRef: "t.c"}, {ColumnRef: "t.d"}}},
	}
	if err := tc.repo.SaveQuasiIdentifierGroups(ctx, tc.jobID, first); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	second := []*models.QuasiIdentifierGroup{
		{JobID: tc.jobID, GroupName: "group_c", Columns: []models.QuasiIdentifierColumn{{ColumnRef: "t.a"}, {ColumnRef: "t.d"}}},
	}
	if err := tc.repo.SaveQuasiIdentifierGroups(ctx, tc.jobID, second); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	groups, err := tc.repo.GetQuasiIdentifierGroups(ctx, tc.jobID)
	if err != nil {
		t.Fatalf("GetQuasiIdentifierGroups failed: %v", err)
	}
	if len(groups) != 1 || groups[0].GroupName != "group_c" {
		t.Errorf("expected replacement to leave only group_c, got %d groups", len(groups))
	}
}
