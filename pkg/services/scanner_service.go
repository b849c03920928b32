package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/apperrors"
	"github.com/seclens/seclens-engine/pkg/models"
	"github.com/seclens/seclens-engine/pkg/repositories"
	"github.com/seclens/seclens-engine/pkg/services/workqueue"
)

// ScannerService is the engine's front door: it accepts scan requests,
// reports on jobs, streams progress and hands finished reports out.
type ScannerService interface {
	// StartScan validates the request, creates a PENDING job and enqueues it.
	// The returned id can be polled or subscribed to immediately.
	StartScan(ctx context.Context, request models.ScanRequest) (uuid.UUID, error)

	// GetJobStatus returns a point-in-time view of the job.
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (models.JobView, error)

	// ListJobs returns jobs ordered by start time, newest first.
	ListJobs(ctx context.Context, limit, offset int) ([]models.JobView, error)

	// CancelJob moves the job to CANCELLED and interrupts its scan if one is
	// running. Cancelling a terminal job returns ErrIllegalTransition.
	CancelJob(ctx context.Context, jobID uuid.UUID) error

	// GetReport returns the compliance report for a completed job. Until the
	// job reaches COMPLETED it returns ErrReportNotReady.
	GetReport(ctx context.Context, jobID uuid.UUID) (*models.ComplianceReport, error)

	// SubscribeProgress returns a channel of progress events for the job and
	// an unsubscribe function. The channel closes when the job reaches a
	// terminal state.
	SubscribeProgress(jobID uuid.UUID) (<-chan models.ProgressEvent, func())

	// Shutdown cancels active jobs, drains the queue and closes progress
	// streams. It returns when the queue is quiet or ctx expires.
	Shutdown(ctx context.Context)
}

// scannerService implements ScannerService on top of the job manager, the
// work queue and the scan executor.
type scannerService struct {
	jobs       JobManager
	executor   ScanExecutor
	reports    repositories.ReportRepository
	queue      *workqueue.Queue
	hub        *ProgressHub
	maxPending int
	logger     *zap.Logger

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
}

// NewScannerService creates the scanner service. maxPending bounds the
// backlog of jobs waiting for a worker; zero means unbounded.
func NewScannerService(
	jobs JobManager,
	executor ScanExecutor,
	reports repositories.ReportRepository,
	queue *workqueue.Queue,
	hub *ProgressHub,
	maxPending int,
	logger *zap.Logger,
) ScannerService {
	return &scannerService{
		jobs:       jobs,
		executor:   executor,
		reports:    reports,
		queue:      queue,
		hub:        hub,
		maxPending: maxPending,
		logger:     logger.Named("scanner"),
		running:    make(map[uuid.UUID]context.CancelFunc),
	}
}

// StartScan creates the job and enqueues a scan task for it. When the
// backlog is at the limit the request is rejected before any job exists,
// so a full queue never produces half-created work.
func (s *scannerService) StartScan(ctx context.Context, request models.ScanRequest) (uuid.UUID, error) {
	if s.maxPending > 0 {
		if pending := s.queue.PendingCount(); pending >= s.maxPending {
			return uuid.Nil, fmt.Errorf("%w: %d jobs already waiting", apperrors.ErrQueueFull, pending)
		}
	}

	job, err := s.jobs.CreateJob(ctx, request)
	if err != nil {
		return uuid.Nil, err
	}

	s.queue.Enqueue(newScanTask(job.ID, s))
	s.logger.Info("scan enqueued",
		zap.String("job_id", job.ID.String()),
		zap.String("connection_id", job.ConnectionID))
	return job.ID, nil
}

// GetJobStatus returns the job's current view.
func (s *scannerService) GetJobStatus(ctx context.Context, jobID uuid.UUID) (models.JobView, error) {
	return s.jobs.GetStatus(ctx, jobID)
}

// ListJobs pages through jobs, newest first.
func (s *scannerService) ListJobs(ctx context.Context, limit, offset int) ([]models.JobView, error) {
	return s.jobs.ListJobs(ctx, limit, offset)
}

// CancelJob marks the job CANCELLED, then interrupts the running scan. The
// order matters: the executor re-checks job status when its context dies, so
// the CANCELLED state must already be visible.
func (s *scannerService) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	if err := s.jobs.CancelJob(ctx, jobID); err != nil {
		return err
	}
	s.signalCancel(jobID)
	return nil
}

// GetReport hands out the report once the job is COMPLETED.
func (s *scannerService) GetReport(ctx context.Context, jobID uuid.UUID) (*models.ComplianceReport, error) {
	view, err := s.jobs.GetStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if view.Status != models.JobStatusCompleted {
		return nil, fmt.Errorf("%w: job %s is %s", apperrors.ErrReportNotReady, jobID, view.Status)
	}
	return s.reports.GetByJobID(ctx, jobID)
}

// SubscribeProgress attaches a progress listener to the job.
func (s *scannerService) SubscribeProgress(jobID uuid.UUID) (<-chan models.ProgressEvent, func()) {
	return s.hub.Subscribe(jobID)
}

// Shutdown cancels everything in flight and waits for the queue to settle.
func (s *scannerService) Shutdown(ctx context.Context) {
	s.logger.Info("scanner service stopping")

	active, err := s.jobs.ActiveJobs(ctx)
	if err != nil {
		s.logger.Warn("failed to list active jobs during shutdown", zap.Error(err))
	}
	for _, job := range active {
		if err := s.CancelJob(ctx, job.ID); err != nil && !errors.Is(err, apperrors.ErrIllegalTransition) {
			s.logger.Warn("failed to cancel job during shutdown",
				zap.String("job_id", job.ID.String()),
				zap.Error(err))
		}
	}

	s.queue.Cancel()
	if err := s.queue.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("shutdown wait ended early", zap.Error(err))
	}

	s.hub.Shutdown()
	s.logger.Info("scanner service stopped")
}

// track registers the cancel function for a running scan.
func (s *scannerService) track(jobID uuid.UUID, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[jobID] = cancel
}

// untrack removes the job's cancel function.
func (s *scannerService) untrack(jobID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, jobID)
}

// signalCancel interrupts the job's scan if it is currently executing.
// Pending jobs have no entry; their task observes the CANCELLED status at
// its first phase boundary instead.
func (s *scannerService) signalCancel(jobID uuid.UUID) {
	s.mu.Lock()
	cancel, ok := s.running[jobID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// Ensure scannerService implements ScannerService at compile time.
var _ ScannerService = (*scannerService)(nil)
