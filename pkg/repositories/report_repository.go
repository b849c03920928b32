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

// ReportRepository defines the interface for compliance report persistence.
// Reports are stored whole as JSONB: they are written once when a scan
// completes and read back verbatim, never queried field by field.
type ReportRepository interface {
	// Save stores the report for a job. Saving twice is a no-op, so a
	// retried completion phase cannot overwrite an already-delivered report.
	Save(ctx context.Context, report *models.ComplianceReport) error

	// GetByJobID retrieves the report for a job.
	GetByJobID(ctx context.Context, jobID uuid.UUID) (*models.ComplianceReport, error)
}

// reportRepository implements ReportRepository using PostgreSQL.
type reportRepository struct {
	db *database.DB
}

// NewReportRepository creates a new report repository.
func NewReportRepository(db *database.DB) ReportRepository {
	return &reportRepository{db: db}
}

// Save stores the report for a job.
func (r *reportRepository) Save(ctx context.Context, report *models.ComplianceReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	query := `
		INSERT INTO engine_scan_reports (job_id, generated_at, report, compliance_score)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id) DO NOTHING`

	_, err = r.db.Exec(ctx, query, report.JobID, report.GeneratedAt, reportJSON, report.ComplianceScore)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	return nil
}

// GetByJobID retrieves the report for a job.
func (r *reportRepository) GetByJobID(ctx context.Context, jobID uuid.UUID) (*models.ComplianceReport, error) {
	query := `SELECT report FROM engine_scan_reports WHERE job_id = $1`

	var reportJSON []byte
	err := r.db.QueryRow(ctx, query, jobID).Scan(&reportJSON)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("report for job %s: %w", jobID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	var report models.ComplianceReport
	if err := json.Unmarshal(reportJSON, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}

	return &report, nil
}

// Ensure reportRepository implements ReportRepository at compile time.
var _ ReportRepository = (*reportRepository)(nil)
