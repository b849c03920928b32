package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/seclens/seclens-engine/pkg/apperrors"
	"github.com/seclens/seclens-engine/pkg/database"
	"github.com/seclens/seclens-engine/pkg/models"
)

// JobRepository defines the interface for scan job persistence.
// The configuration snapshot is stored as JSONB next to the row so a job
// replays with the exact settings it was started with.
type JobRepository interface {
	// Create inserts a new scan job. Assigns an ID when the job has none.
	Create(ctx context.Context, job *models.ScanJob) error

	// GetByID retrieves a scan job by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*models.ScanJob, error)

	// Update persists the job's mutable fields (status, timestamps, error,
	// database info, counters).
	Update(ctx context.Context, job *models.ScanJob) error

	// List retrieves jobs ordered by start time, newest first.
	List(ctx context.Context, limit, offset int) ([]*models.ScanJob, error)

	// ListByStatus retrieves all jobs currently in one of the given states.
	ListByStatus(ctx context.Context, statuses ...models.JobStatus) ([]*models.ScanJob, error)
}

// jobRepository implements JobRepository using PostgreSQL.
type jobRepository struct {
	db *database.DB
}

// NewJobRepository creates a new scan job repository.
func NewJobRepository(db *database.DB) JobRepository {
	return &jobRepository{db: db}
}

const scanJobColumns = `
	id, connection_id, target_tables, config, status,
	start_time, end_time, last_update_time, error_message,
	database_name, database_product_name, database_product_version,
	total_tables_scanned, total_columns_scanned,
	total_pii_columns_found, total_qi_columns_found`

// Create inserts a new scan job.
func (r *jobRepository) Create(ctx context.Context, job *models.ScanJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal scan config: %w", err)
	}

	query := `
		INSERT INTO engine_scan_jobs (
			id, connection_id, target_tables, config, status,
			start_time, last_update_time,
			database_name, database_product_name, database_product_version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.db.Exec(ctx, query,
		job.ID,
		job.ConnectionID,
		job.TargetTables,
		configJSON,
		job.Status,
		job.StartTime,
		job.LastUpdateTime,
		job.DatabaseName,
		job.DatabaseProductName,
		job.DatabaseProductVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to create scan job: %w", err)
	}

	return nil
}

// GetByID retrieves a scan job by ID.
func (r *jobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ScanJob, error) {
	query := `SELECT ` + scanJobColumns + `
		FROM engine_scan_jobs
		WHERE id = $1`

	job, err := scanJobRow(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("scan job %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get scan job: %w", err)
	}

	return job, nil
}

// Update persists the job's mutable fields.
func (r *jobRepository) Update(ctx context.Context, job *models.ScanJob) error {
	query := `
		UPDATE engine_scan_jobs
		SET status = $2,
		    end_time = $3,
		    last_update_time = $4,
		    error_message = $5,
		    database_name = $6,
		    database_product_name = $7,
		    database_product_version = $8,
		    total_tables_scanned = $9,
		    total_columns_scanned = $10,
		    total_pii_columns_found = $11,
		    total_qi_columns_found = $12
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		job.ID,
		job.Status,
		job.EndTime,
		job.LastUpdateTime,
		job.ErrorMessage,
		job.DatabaseName,
		job.DatabaseProductName,
		job.DatabaseProductVersion,
		job.TotalTablesScanned,
		job.TotalColumnsScanned,
		job.TotalPiiColumnsFound,
		job.TotalQuasiIdentifierColumnsFound,
	)
	if err != nil {
		return fmt.Errorf("failed to update scan job: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("scan job %s: %w", job.ID, apperrors.ErrNotFound)
	}

	return nil
}

// List retrieves jobs ordered by start time, newest first.
func (r *jobRepository) List(ctx context.Context, limit, offset int) ([]*models.ScanJob, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + scanJobColumns + `
		FROM engine_scan_jobs
		ORDER BY start_time DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list scan jobs: %w", err)
	}
	defer rows.Close()

	return scanJobRows(rows)
}

// ListByStatus retrieves all jobs currently in one of the given states.
func (r *jobRepository) ListByStatus(ctx context.Context, statuses ...models.JobStatus) ([]*models.ScanJob, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	states := make([]string, len(statuses))
	for i, s := range statuses {
		states[i] = string(s)
	}

	query := `SELECT ` + scanJobColumns + `
		FROM engine_scan_jobs
		WHERE status = ANY($1)
		ORDER BY start_time DESC`

	rows, err := r.db.Query(ctx, query, states)
	if err != nil {
		return nil, fmt.Errorf("failed to list scan jobs by status: %w", err)
	}
	defer rows.Close()

	return scanJobRows(rows)
}

func scanJobRow(row pgx.Row) (*models.ScanJob, error) {
	var job models.ScanJob
	var configJSON []byte

	err := row.Scan(
		&job.ID, &job.ConnectionID, &job.TargetTables, &configJSON, &job.Status,
		&job.StartTime, &job.EndTime, &job.LastUpdateTime, &job.ErrorMessage,
		&job.DatabaseName, &job.DatabaseProductName, &job.DatabaseProductVersion,
		&job.TotalTablesScanned, &job.TotalColumnsScanned,
		&job.TotalPiiColumnsFound, &job.TotalQuasiIdentifierColumnsFound,
	)
	if err != nil {
		return nil, err
	}

	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &job.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scan config: %w", err)
		}
	}

	return &job, nil
}

func scanJobRows(rows pgx.Rows) ([]*models.ScanJob, error) {
	var jobs []*models.ScanJob
	for rows.Next() {
		job, err := scanJobRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scan jobs: %w", err)
	}

	return jobs, nil
}

// Ensure jobRepository implements JobRepository at compile time.
var _ JobRepository = (*jobRepository)(nil)
