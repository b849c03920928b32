package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/apperrors"
	"github.com/seclens/seclens-engine/pkg/models"
	"github.com/seclens/seclens-engine/pkg/repositories"
)

// ConnectionDirectory answers whether a named connection spec exists.
// *datasource.Manager satisfies it.
type ConnectionDirectory interface {
	HasConnection(id string) bool
}

// JobManager owns the scan job lifecycle: creation, status transitions,
// counters and progress notifications. All mutations of one job are
// serialized, so concurrent status updates cannot interleave reads and
// writes of the same row.
type JobManager interface {
	// CreateJob validates the request and persists a new job in PENDING.
	CreateJob(ctx context.Context, request models.ScanRequest) (*models.ScanJob, error)

	// GetJob retrieves the full job record.
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.ScanJob, error)

	// GetStatus returns a read-only snapshot of the job.
	GetStatus(ctx context.Context, jobID uuid.UUID) (models.JobView, error)

	// ListJobs returns snapshots of recent jobs, newest first.
	ListJobs(ctx context.Context, limit, offset int) ([]models.JobView, error)

	// ActiveJobs returns all jobs that are not yet in a terminal state.
	ActiveJobs(ctx context.Context) ([]*models.ScanJob, error)

	// UpdateStatus performs a lifecycle transition. Illegal transitions are
	// rejected with apperrors.ErrIllegalTransition, leave the job unchanged
	// and emit no event.
	UpdateStatus(ctx context.Context, jobID uuid.UUID, next models.JobStatus) error

	// UpdateJob applies mutate to the job under the per-job guard and
	// persists the result. For counters and database metadata only; status
	// changes go through UpdateStatus.
	UpdateJob(ctx context.Context, jobID uuid.UUID, mutate func(*models.ScanJob)) error

	// CompleteJob, FailJob and CancelJob perform the terminal transitions
	// and stamp the job's end time.
	CompleteJob(ctx context.Context, jobID uuid.UUID) error
	FailJob(ctx context.Context, jobID uuid.UUID, message string) error
	CancelJob(ctx context.Context, jobID uuid.UUID) error

	// PublishProgress emits an intra-phase progress event. Best-effort:
	// failures are logged, never returned.
	PublishProgress(ctx context.Context, jobID uuid.UUID, message string)
}

// jobManager implements JobManager over the job repository.
type jobManager struct {
	repo        repositories.JobRepository
	connections ConnectionDirectory
	notifier    Notifier
	logger      *zap.Logger

	// locks serializes mutations per job id. Entries live for the process
	// lifetime; a scanner runs few enough jobs that reaping them is not
	// worth the race it would open.
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewJobManager creates a job manager. notifier may be nil, in which case
// no events are published.
func NewJobManager(
	repo repositories.JobRepository,
	connections ConnectionDirectory,
	notifier Notifier,
	logger *zap.Logger,
) JobManager {
	return &jobManager{
		repo:        repo,
		connections: connections,
		notifier:    notifier,
		logger:      logger.Named("job-manager"),
		locks:       make(map[uuid.UUID]*sync.Mutex),
	}
}

// CreateJob validates the request and persists a new job in PENDING.
func (m *jobManager) CreateJob(ctx context.Context, request models.ScanRequest) (*models.ScanJob, error) {
	if request.ConnectionID == "" {
		return nil, fmt.Errorf("%w: connection id is required", apperrors.ErrInvalidInput)
	}
	if !m.connections.HasConnection(request.ConnectionID) {
		return nil, fmt.Errorf("%w: unknown connection %q", apperrors.ErrInvalidInput, request.ConnectionID)
	}

	cfg := models.DefaultScanConfig()
	if request.Config != nil {
		cfg = *request.Config
	}

	now := time.Now().UTC()
	job := &models.ScanJob{
		ID:             uuid.New(),
		ConnectionID:   request.ConnectionID,
		TargetTables:   request.TargetTables,
		Config:         cfg,
		Status:         models.JobStatusPending,
		StartTime:      now,
		LastUpdateTime: now,
	}

	if err := m.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create scan job: %w", err)
	}

	m.logger.Info("scan job created",
		zap.String("job_id", job.ID.String()),
		zap.String("connection_id", job.ConnectionID),
		zap.Int("target_tables", len(job.TargetTables)))
	return job, nil
}

// GetJob retrieves the full job record.
func (m *jobManager) GetJob(ctx context.Context, jobID uuid.UUID) (*models.ScanJob, error) {
	return m.repo.GetByID(ctx, jobID)
}

// GetStatus returns a read-only snapshot of the job.
func (m *jobManager) GetStatus(ctx context.Context, jobID uuid.UUID) (models.JobView, error) {
	job, err := m.repo.GetByID(ctx, jobID)
	if err != nil {
		return models.JobView{}, err
	}
	return job.View(), nil
}

// ListJobs returns snapshots of recent jobs, newest first.
func (m *jobManager) ListJobs(ctx context.Context, limit, offset int) ([]models.JobView, error) {
	jobs, err := m.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	views := make([]models.JobView, len(jobs))
	for i, job := range jobs {
		views[i] = job.View()
	}
	return views, nil
}

// ActiveJobs returns all jobs that are not yet in a terminal state.
func (m *jobManager) ActiveJobs(ctx context.Context) ([]*models.ScanJob, error) {
	return m.repo.ListByStatus(ctx,
		models.JobStatusPending,
		models.JobStatusExtractingMetadata,
		models.JobStatusSampling,
		models.JobStatusDetectingPii,
		models.JobStatusAnalyzingQi,
		models.JobStatusGeneratingReport,
	)
}

// UpdateStatus performs a lifecycle transition.
func (m *jobManager) UpdateStatus(ctx context.Context, jobID uuid.UUID, next models.JobStatus) error {
	return m.transition(ctx, jobID, next, nil)
}

// CompleteJob marks the job COMPLETED.
func (m *jobManager) CompleteJob(ctx context.Context, jobID uuid.UUID) error {
	return m.transition(ctx, jobID, models.JobStatusCompleted, nil)
}

// FailJob marks the job FAILED and records the failure message.
func (m *jobManager) FailJob(ctx context.Context, jobID uuid.UUID, message string) error {
	return m.transition(ctx, jobID, models.JobStatusFailed, &message)
}

// CancelJob marks the job CANCELLED.
func (m *jobManager) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	return m.transition(ctx, jobID, models.JobStatusCancelled, nil)
}

// transition is the single path for every status change: it takes the
// per-job guard, checks the lifecycle, persists, then publishes. A rejected
// transition changes nothing and emits nothing.
func (m *jobManager) transition(ctx context.Context, jobID uuid.UUID, next models.JobStatus, errorMessage *string) error {
	unlock := m.lockJob(jobID)
	defer unlock()

	job, err := m.repo.GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	if !job.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: job %s cannot move from %s to %s",
			apperrors.ErrIllegalTransition, jobID, job.Status, next)
	}

	now := time.Now().UTC()
	job.Status = next
	job.LastUpdateTime = now
	if next.IsTerminal() {
		job.EndTime = &now
	}
	if errorMessage != nil {
		job.ErrorMessage = errorMessage
	}

	if err := m.repo.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to persist %s transition for job %s: %w", next, jobID, err)
	}

	m.logger.Info("job status changed",
		zap.String("job_id", jobID.String()),
		zap.String("status", string(next)),
		zap.Int("progress", next.Progress()))

	m.publish(models.ProgressEvent{
		JobID:     jobID,
		Type:      eventTypeFor(next),
		Status:    next,
		Progress:  next.Progress(),
		Message:   transitionMessage(next, errorMessage),
		Timestamp: now,
	})
	return nil
}

// UpdateJob applies mutate to the job under the per-job guard and persists it.
func (m *jobManager) UpdateJob(ctx context.Context, jobID uuid.UUID, mutate func(*models.ScanJob)) error {
	unlock := m.lockJob(jobID)
	defer unlock()

	job, err := m.repo.GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	mutate(job)
	job.LastUpdateTime = time.Now().UTC()

	if err := m.repo.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to persist update for job %s: %w", jobID, err)
	}
	return nil
}

// PublishProgress emits an intra-phase progress event.
func (m *jobManager) PublishProgress(ctx context.Context, jobID uuid.UUID, message string) {
	job, err := m.repo.GetByID(ctx, jobID)
	if err != nil {
		m.logger.Warn("cannot publish progress for unknown job",
			zap.String("job_id", jobID.String()),
			zap.Error(err))
		return
	}

	m.publish(models.ProgressEvent{
		JobID:     jobID,
		Type:      models.EventPhaseProgress,
		Status:    job.Status,
		Progress:  job.Progress(),
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// publish forwards the event to the notifier. Failures are logged only.
func (m *jobManager) publish(event models.ProgressEvent) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Publish(event); err != nil {
		m.logger.Warn("failed to publish progress event",
			zap.String("job_id", event.JobID.String()),
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}

// lockJob acquires the per-job mutex and returns its release function.
func (m *jobManager) lockJob(jobID uuid.UUID) func() {
	m.mu.Lock()
	l, ok := m.locks[jobID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[jobID] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// eventTypeFor maps terminal statuses to their dedicated event types.
func eventTypeFor(next models.JobStatus) models.ProgressEventType {
	switch next {
	case models.JobStatusCompleted:
		return models.EventScanCompleted
	case models.JobStatusFailed:
		return models.EventScanFailed
	case models.JobStatusCancelled:
		return models.EventScanCancelled
	default:
		return models.EventStatusChanged
	}
}

// transitionMessage is the human-readable line carried on transition events.
func transitionMessage(next models.JobStatus, errorMessage *string) string {
	switch next {
	case models.JobStatusCompleted:
		return "scan completed"
	case models.JobStatusCancelled:
		return "scan cancelled"
	case models.JobStatusFailed:
		if errorMessage != nil && *errorMessage != "" {
			return *errorMessage
		}
		return "scan failed"
	default:
		return fmt.Sprintf("status changed to %s", next)
	}
}

// Ensure jobManager implements JobManager at compile time.
var _ JobManager = (*jobManager)(nil)
