package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/adapters/datasource"
	"github.com/seclens/seclens-engine/pkg/apperrors"
	"github.com/seclens/seclens-engine/pkg/logging"
	"github.com/seclens/seclens-engine/pkg/models"
	"github.com/seclens/seclens-engine/pkg/repositories"
)

// ConnectionOpener resolves connection ids to open database connections.
// *datasource.Manager satisfies it.
type ConnectionOpener interface {
	Open(ctx context.Context, connectionID string) (datasource.Connection, error)
	Spec(connectionID string) (datasource.ConnectionSpec, bool)
}

// PiiDetector runs the detection pipeline over sampled columns.
// *detection.Engine satisfies it.
type PiiDetector interface {
	DetectColumns(ctx context.Context, cfg models.DetectionConfig, columnData map[*models.ColumnInfo]*models.SampleData) []models.DetectionResult
}

// QuasiIdentifierAnalyzer groups correlated columns and scores their joint
// re-identification risk. *qi.Analyzer satisfies it.
type QuasiIdentifierAnalyzer interface {
	Analyze(ctx context.Context, jobID uuid.UUID, cfg models.QuasiIdentifierConfig, columnData map[*models.ColumnInfo]*models.SampleData, results []models.DetectionResult) []models.QuasiIdentifierGroup
}

// ScanExecutor runs one scan job end to end through its five phases:
// metadata extraction, sampling, PII detection, quasi-identifier analysis
// and report generation. Cancellation is observed at every phase boundary.
type ScanExecutor interface {
	ExecuteScan(ctx context.Context, jobID uuid.UUID) error
}

// scanExecutor implements ScanExecutor.
type scanExecutor struct {
	connections ConnectionOpener
	jobs        JobManager
	detector    PiiDetector
	analyzer    QuasiIdentifierAnalyzer
	results     repositories.ResultRepository
	reports     repositories.ReportRepository
	builder     *ReportBuilder
	logger      *zap.Logger
}

// NewScanExecutor creates a scan executor.
func NewScanExecutor(
	connections ConnectionOpener,
	jobs JobManager,
	detector PiiDetector,
	analyzer QuasiIdentifierAnalyzer,
	results repositories.ResultRepository,
	reports repositories.ReportRepository,
	logger *zap.Logger,
) ScanExecutor {
	return &scanExecutor{
		connections: connections,
		jobs:        jobs,
		detector:    detector,
		analyzer:    analyzer,
		results:     results,
		reports:     reports,
		builder:     NewReportBuilder(logger),
		logger:      logger.Named("scan-executor"),
	}
}

// ExecuteScan runs the job's phases sequentially, transitioning status and
// publishing progress between them. On any unrecoverable error the job ends
// FAILED with an error message of the form "<phase>: <cause>"; a cancelled
// job ends CANCELLED with partial work discarded and no report persisted.
func (e *scanExecutor) ExecuteScan(ctx context.Context, jobID uuid.UUID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("scan panicked",
				zap.String("job_id", jobID.String()),
				zap.Any("panic", r),
				zap.Stack("stack"))
			err = e.fail(ctx, jobID, fmt.Errorf("scan panic: %v", r))
		}
	}()

	job, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	logger := e.logger.With(zap.String("job_id", jobID.String()))
	logger.Info("scan started",
		zap.String("connection_id", job.ConnectionID),
		zap.Int("target_tables", len(job.TargetTables)))

	// Phase 1: extract metadata.
	if err := e.advance(ctx, jobID, models.JobStatusExtractingMetadata); err != nil {
		return e.fail(ctx, jobID, err)
	}

	conn, err := e.connections.Open(ctx, job.ConnectionID)
	if err != nil {
		return e.fail(ctx, jobID, err)
	}
	// Close is idempotent: the explicit call before report generation frees
	// the pool early, this defer covers error paths and panics.
	defer func() { _ = conn.Close() }()

	schema, err := e.extractSchema(ctx, conn, job.TargetTables)
	if err != nil {
		return e.fail(ctx, jobID, fmt.Errorf("%w: %s", apperrors.ErrMetadataExtraction, logging.SanitizeError(err)))
	}

	columns := schema.Columns()
	if err := e.jobs.UpdateJob(ctx, jobID, func(j *models.ScanJob) {
		j.DatabaseName = schema.DatabaseName
		j.DatabaseProductName = schema.ProductName
		j.DatabaseProductVersion = schema.ProductVersion
		j.TotalTablesScanned = len(schema.Tables)
		j.TotalColumnsScanned = len(columns)
	}); err != nil {
		return e.fail(ctx, jobID, fmt.Errorf("%w: %s", apperrors.ErrMetadataExtraction, logging.SanitizeError(err)))
	}
	e.jobs.PublishProgress(ctx, jobID,
		fmt.Sprintf("extracted metadata for %d tables, %d columns", len(schema.Tables), len(columns)))

	// Phase 2: sample column values.
	if err := e.advance(ctx, jobID, models.JobStatusSampling); err != nil {
		return e.fail(ctx, jobID, err)
	}

	columnData, err := conn.SampleColumns(ctx, columns, job.Config.Sampling)
	if err != nil {
		return e.fail(ctx, jobID, fmt.Errorf("%w: %s", apperrors.ErrSampling, logging.SanitizeError(err)))
	}
	e.jobs.PublishProgress(ctx, jobID, fmt.Sprintf("sampled %d columns", len(columnData)))

	// Phase 3: detect PII.
	if err := e.advance(ctx, jobID, models.JobStatusDetectingPii); err != nil {
		return e.fail(ctx, jobID, err)
	}

	results := e.detector.DetectColumns(ctx, job.Config.Detection, columnData)
	if ctxErr := ctx.Err(); ctxErr != nil {
		// Cancellation mid-batch leaves a partial result set; discard it.
		return e.fail(ctx, jobID, ctxErr)
	}
	if err := e.saveResults(ctx, jobID, results); err != nil {
		return e.fail(ctx, jobID, fmt.Errorf("%w: %s", apperrors.ErrPiiDetection, logging.SanitizeError(err)))
	}

	// Phase 4: analyze quasi-identifiers.
	if err := e.advance(ctx, jobID, models.JobStatusAnalyzingQi); err != nil {
		return e.fail(ctx, jobID, err)
	}

	groups := e.analyzer.Analyze(ctx, jobID, job.Config.QuasiIdentifier, columnData, results)
	if len(groups) > 0 {
		// The analyzer annotated results in place; rewrite the stored rows.
		// QI persistence trouble never fails a scan, the PII findings stand.
		if err := e.saveResults(ctx, jobID, results); err != nil {
			logger.Error("failed to persist quasi-identifier annotations",
				zap.Error(fmt.Errorf("%w: %v", apperrors.ErrQiAnalysis, err)))
		}
	}

	piiColumns, qiColumns := countFindings(results)
	if err := e.jobs.UpdateJob(ctx, jobID, func(j *models.ScanJob) {
		j.TotalPiiColumnsFound = piiColumns
		j.TotalQuasiIdentifierColumnsFound = qiColumns
	}); err != nil {
		return e.fail(ctx, jobID, err)
	}
	e.jobs.PublishProgress(ctx, jobID,
		fmt.Sprintf("found %d pii columns, %d quasi-identifier columns", piiColumns, qiColumns))

	// Phase 5: generate the report. The connection is closed first; report
	// assembly needs no database access to the scan target.
	_ = conn.Close()

	if err := e.advance(ctx, jobID, models.JobStatusGeneratingReport); err != nil {
		return e.fail(ctx, jobID, err)
	}

	job, err = e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return e.fail(ctx, jobID, fmt.Errorf("%w: %s", apperrors.ErrReportGeneration, logging.SanitizeError(err)))
	}

	host := ""
	if spec, ok := e.connections.Spec(job.ConnectionID); ok {
		host = spec.DisplayHost()
	}
	report := e.builder.Build(job, host, dataTypesByRef(columns), results, groups)
	if err := e.reports.Save(ctx, report); err != nil {
		return e.fail(ctx, jobID, fmt.Errorf("%w: %s", apperrors.ErrReportGeneration, logging.SanitizeError(err)))
	}

	if err := e.jobs.CompleteJob(ctx, jobID); err != nil {
		return e.fail(ctx, jobID, err)
	}

	logger.Info("scan completed",
		zap.Int("tables", job.TotalTablesScanned),
		zap.Int("columns", job.TotalColumnsScanned),
		zap.Int("pii_columns", piiColumns),
		zap.Int("qi_columns", qiColumns),
		zap.Float64("compliance_score", report.ComplianceScore))
	return nil
}

// advance is the phase boundary: it checks for cancellation, then performs
// the status transition. An ErrIllegalTransition here usually means the job
// was cancelled between phases.
func (e *scanExecutor) advance(ctx context.Context, jobID uuid.UUID, next models.JobStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.jobs.UpdateStatus(ctx, jobID, next)
}

// extractSchema reads the schema, restricted to the target tables when any
// are named.
func (e *scanExecutor) extractSchema(ctx context.Context, conn datasource.Connection, targetTables []string) (*models.SchemaInfo, error) {
	if len(targetTables) > 0 {
		return conn.ExtractSchemaForTables(ctx, targetTables)
	}
	return conn.ExtractSchema(ctx)
}

// saveResults persists the detection results for the job.
func (e *scanExecutor) saveResults(ctx context.Context, jobID uuid.UUID, results []models.DetectionResult) error {
	if len(results) == 0 {
		return nil
	}
	ptrs := make([]*models.DetectionResult, len(results))
	for i := range results {
		ptrs[i] = &results[i]
	}
	return e.results.SaveDetectionResults(ctx, jobID, ptrs)
}

// fail routes a phase error to its terminal state. Cancellation, whether via
// the scan context or an already-cancelled job, discards partial work and
// ends in CANCELLED; everything else ends in FAILED with a "<phase>: <cause>"
// message. The bookkeeping runs on a detached context because the scan
// context may already be dead.
func (e *scanExecutor) fail(ctx context.Context, jobID uuid.UUID, phaseErr error) error {
	detached := context.WithoutCancel(ctx)

	cancelled := ctx.Err() != nil ||
		errors.Is(phaseErr, context.Canceled) ||
		errors.Is(phaseErr, context.DeadlineExceeded) ||
		e.jobCancelled(detached, jobID)
	if cancelled {
		if err := e.jobs.CancelJob(detached, jobID); err != nil && !errors.Is(err, apperrors.ErrIllegalTransition) {
			e.logger.Error("failed to mark job cancelled",
				zap.String("job_id", jobID.String()),
				zap.Error(err))
		}
		e.logger.Info("scan cancelled, partial work discarded",
			zap.String("job_id", jobID.String()))
		return context.Canceled
	}

	message := failureMessage(phaseErr)
	if err := e.jobs.FailJob(detached, jobID, message); err != nil {
		if errors.Is(err, apperrors.ErrIllegalTransition) {
			// Lost the race with a concurrent cancel; the terminal state wins.
			if e.jobCancelled(detached, jobID) {
				return context.Canceled
			}
			return phaseErr
		}
		e.logger.Error("failed to mark job failed",
			zap.String("job_id", jobID.String()),
			zap.Error(err))
	}

	e.logger.Warn("scan failed",
		zap.String("job_id", jobID.String()),
		zap.String("error", message))
	return phaseErr
}

// jobCancelled reports whether the job is already CANCELLED.
func (e *scanExecutor) jobCancelled(ctx context.Context, jobID uuid.UUID) bool {
	view, err := e.jobs.GetStatus(ctx, jobID)
	return err == nil && view.Status == models.JobStatusCancelled
}

// phaseErrorKinds are the recognized phase failures. Errors wrapping one of
// these already read "<phase>: <cause>"; anything else is reported as an
// unexpected error.
var phaseErrorKinds = []error{
	apperrors.ErrDatabaseConnection,
	apperrors.ErrMetadataExtraction,
	apperrors.ErrSampling,
	apperrors.ErrPiiDetection,
	apperrors.ErrReportGeneration,
	apperrors.ErrInvalidInput,
	apperrors.ErrIllegalTransition,
}

// failureMessage renders the job's error message with credentials stripped.
func failureMessage(err error) string {
	for _, kind := range phaseErrorKinds {
		if errors.Is(err, kind) {
			return logging.SanitizeError(err)
		}
	}
	return "unexpected error: " + logging.SanitizeError(err)
}

// countFindings tallies PII and quasi-identifier columns.
func countFindings(results []models.DetectionResult) (piiColumns, qiColumns int) {
	for _, r := range results {
		if r.HasPii {
			piiColumns++
		}
		if r.IsQuasiIdentifier {
			qiColumns++
		}
	}
	return piiColumns, qiColumns
}

// dataTypesByRef indexes column database types by qualified reference for
// the report's findings.
func dataTypesByRef(columns []*models.ColumnInfo) map[string]string {
	types := make(map[string]string, len(columns))
	for _, col := range columns {
		types[col.QualifiedName()] = col.DatabaseTypeName
	}
	return types
}

// Ensure scanExecutor implements ScanExecutor at compile time.
var _ ScanExecutor = (*scanExecutor)(nil)
