package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/seclens/seclens-engine/pkg/services/workqueue"
)

// scanTask is the queue wrapper around one scan job. It derives a
// per-job context so CancelJob can interrupt this scan without touching
// the rest of the queue.
type scanTask struct {
	workqueue.BaseTask
	jobID   uuid.UUID
	service *scannerService
}

// newScanTask creates the queue task for a job.
func newScanTask(jobID uuid.UUID, service *scannerService) *scanTask {
	return &scanTask{
		BaseTask: workqueue.NewBaseTask(fmt.Sprintf("Scan %s", shortID(jobID))),
		jobID:    jobID,
		service:  service,
	}
}

// Execute implements workqueue.Task.
func (t *scanTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.service.track(t.jobID, cancel)
	defer t.service.untrack(t.jobID)

	return t.service.executor.ExecuteScan(jobCtx, t.jobID)
}

// shortID abbreviates a job id for task names and log lines.
func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

// Ensure scanTask implements workqueue.Task at compile time.
var _ workqueue.Task = (*scanTask)(nil)
