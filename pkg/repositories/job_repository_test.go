//go:build integration

package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/seclens/seclens-engine/pkg/apperrors"
	"github.com/seclens/seclens-engine/pkg/models"
	"github.com/seclens/seclens-engine/pkg/testhelpers"
)

// jobTestContext holds test dependencies for scan job repository tests.
type jobTestContext struct {
	t        *testing.T
	engineDB *testhelpers.EngineDB
	repo     JobRepository
	created  []uuid.UUID
}

func setupJobTest(t *testing.T) *jobTestContext {
	engineDB := testhelpers.GetEngineDB(t)
	tc := &jobTestContext{
		t:        t,
		engineDB: engineDB,
		repo:     NewJobRepository(engineDB.DB),
	}
	t.Cleanup(tc.cleanup)
	return tc
}

// cleanup removes the jobs this test created. Results, groups and reports
// cascade from the job row.
func (tc *jobTestContext) cleanup() {
	ctx := context.Background()
	for _, id := range tc.created {
		_, _ = tc.engineDB.DB.Exec(ctx, "DELETE FROM engine_scan_jobs WHERE id = $1", id)
	}
}

// newJob builds an unpersisted job with a distinct start time so ordering
// assertions are deterministic.
func (tc *jobTestContext) newJob(startedAgo time.Duration) *models.ScanJob {
	now := time.Now().UTC()
	return &models.ScanJob{
		ID:             uuid.New(),
		ConnectionID:   "integration-target",
		Config:         models.DefaultScanConfig(),
		Status:         models.JobStatusPending,
		StartTime:      now.Add(-startedAgo),
		LastUpdateTime: now.Add(-startedAgo),
	}
}

func (tc *jobTestContext) createJob(ctx context.Context, job *models.ScanJob) {
	tc.t.Helper()
	if err := tc.repo.Create(ctx, job); err != nil {
		tc.t.Fatalf("Create failed: %v", err)
	}
	tc.created = append(tc.created, job.ID)
}

func TestJobRepository_CreateAndGet(t *testing.T) {
	tc := setupJobTest(t)
	ctx := context.Background()

	job := tc.newJob(0)
	job.TargetTables = []string{"customers", "orders"}
	job.Config.Sampling.SampleSize = 250
	tc.createJob(ctx, job)

	retrieved, err := tc.repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}

	if retrieved.ConnectionID != "integration-target" {
		t.Errorf("expected connection id 'integration-target', got %q", retrieved.ConnectionID)
	}
	if retrieved.Status != models.JobStatusPending {
		t.Errorf("expected status PENDING, got %s", retrieved.Status)
	}
	if len(retrieved.TargetTables) != 2 || retrieved.TargetTables[0] != "customers" {
		t.Errorf("target tables did not round-trip: %v", retrieved.TargetTables)
	}
	if retrieved.Config.Sampling.SampleSize != 250 {
		t.Errorf("config snapshot did not round-trip: sample size %d", retrieved.Config.Sampling.SampleSize)
	}
	if retrieved.EndTime != nil {
		t.Errorf("expected no end time on a pending job, got %v", retrieved.EndTime)
	}
	if retrieved.ErrorMessage != nil {
		t.Errorf("expected no error message, got %q", *retrieved.ErrorMessage)
	}
}

func TestJobRepository_CreateAssignsID(t *testing.T) {
	tc := setupJobTest(t)
	ctx := context.Background()

	job := tc.newJob(0)
	job.ID = uuid.Nil
	if err := tc.repo.Create(ctx, job); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	tc.created = append(tc.created, job.ID)

	if job.ID == uuid.Nil {
		t.Error("expected Create to assign an ID")
	}
}

func TestJobRepository_GetByID_NotFound(t *testing.T) {
	tc := setupJobTest(t)
	ctx := context.Background()

	_, err := tc.repo.GetByID(ctx, uuid.New())
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestJobRepository_Update(t *testing.T) {
	tc := setupJobTest(t)
	ctx := context.Background()

	job := tc.newJob(0)
	tc.createJob(ctx, job)

	endTime := time.Now().UTC().Truncate(time.Millisecond)
	message := "sampling failed: connection reset"
	job.Status = models.JobStatusFailed
	job.EndTime = &endTime
	job.LastUpdateTime = endTime
	job.ErrorMessage = &message
	job.DatabaseName = "appdb"
	job.DatabaseProductName = "PostgreSQL"
	job.DatabaseProductVersion = "16.3"
	job.TotalTablesScanned = 4
	job.TotalColumnsScanned = 31
	job.TotalPiiColumnsFound = 6
	job.TotalQuasiIdentifierColumnsFound = 3

	if err := tc.repo.Update(ctx, job); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	retrieved, err := tc.repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if retrieved.Status != models.JobStatusFailed {
		t.Errorf("expected status FAILED, got %s", retrieved.Status)
	}
	if retrieved.EndTime == nil || !retrieved.EndTime.Equal(endTime) {
		t.Errorf("end time did not round-trip: %v", retrieved.EndTime)
	}
	if retrieved.ErrorMessage == nil || *retrieved.ErrorMessage != message {
		t.Errorf("error message did not round-trip: %v", retrieved.ErrorMessage)
	}
	if retrieved.DatabaseProductName != "PostgreSQL" {
		t.Errorf("expected product name PostgreSQL, got %q", retrieved.DatabaseProductName)
	}
	if retrieved.TotalColumnsScanned != 31 {
		t.Errorf("expected 31 columns scanned, got %d", retrieved.TotalColumnsScanned)
	}
	if retrieved.TotalQuasiIdentifierColumnsFound != 3 {
		t.Errorf("expected 3 qi columns, got %d", retrieved.TotalQuasiIdentifierColumnsFound)
	}
}

func TestJobRepository_Update_NotFound(t *testing.T) {
	tc := setupJobTest(t)
	ctx := context.Background()

	job := tc.newJob(0)
	err := tc.repo.Update(ctx, job)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("update of a missing job returned %v, want ErrNotFound", err)
	}
}

func TestJobRepository_List_NewestFirst(t *testing.T) {
	tc := setupJobTest(t)
	ctx := context.Background()

	oldest := tc.newJob(3 * time.Hour)
	middle := tc.newJob(2 * time.Hour)
	newest := tc.newJob(1 * time.Hour)
	tc.createJob(ctx, oldest)
	tc.createJob(ctx, middle)
	tc.createJob(ctx, newest)

	jobs, err := tc.repo.List(ctx, 100, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	// Other tests share the store, so assert relative order of our rows.
	positions := map[uuid.UUID]int{}
	for i, j := range jobs {
		positions[j.ID] = i
	}
	for _, id := range []uuid.UUID{oldest.ID, middle.ID, newest.ID} {
		if _, ok := positions[id]; !ok {
			t.Fatalf("job %s missing from listing", id)
		}
	}
	if !(positions[newest.ID] < positions[middle.ID] && positions[middle.ID] < positions[oldest.ID]) {
		t.Errorf("expected newest-first ordering, got positions %v", positions)
	}
}

func TestJobRepository_ListByStatus(t *testing.T) {
	tc := setupJobTest(t)
	ctx := context.Background()

	pending := tc.newJob(30 * time.Minute)
	tc.createJob(ctx, pending)

	sampling := tc.newJob(20 * time.Minute)
	sampling.Status = models.JobStatusSampling
	tc.createJob(ctx, sampling)

	done := tc.newJob(10 * time.Minute)
	done.Status = models.JobStatusCompleted
	tc.createJob(ctx, done)

	active, err := tc.repo.ListByStatus(ctx, models.JobStatusPending, models.JobStatusSampling)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}

	found := map[uuid.UUID]bool{}
	for _, j := range active {
		found[j.ID] = true
	}
	if !found[pending.ID] || !found[sampling.ID] {
		t.Errorf("expected pending and sampling jobs in listing, got %v", found)
	}
	if found[done.ID] {
		t.Error("completed job should not appear in an active-status listing")
	}

	none, err := tc.repo.ListByStatus(ctx)
	if err != nil {
		t.Fatalf("ListByStatus with no statuses failed: %v", err)
	}
	if none != nil {
		t.Errorf("expected nil for empty status list, got %d jobs", len(none))
	}
}
