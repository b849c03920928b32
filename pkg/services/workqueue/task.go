// Package workqueue runs scan jobs on a bounded set of workers. Tasks are
// admitted through a queue whose concurrency strategy decides how many may
// run at once; each admitted task runs end-to-end on its own goroutine.
package workqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the queue-level state of a task. It tracks admission and
// settlement only; the scan job's own lifecycle lives in the engine store.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is a settled end state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Task is one unit of queued work, typically a full scan job.
type Task interface {
	// ID distinguishes the task in snapshots and logs.
	ID() string

	// Name returns a human-readable name for logs and status listings.
	Name() string

	// Execute runs the task to completion. The context is cancelled when
	// the queue shuts down. The enqueuer lets a task schedule follow-up
	// work without reaching back into the queue.
	Execute(ctx context.Context, enqueuer TaskEnqueuer) error
}

// TaskEnqueuer is the narrow queue surface handed to a running task for
// scheduling follow-up work.
type TaskEnqueuer interface {
	Enqueue(task Task)
}

// TaskState tracks one task's queue status, timestamps, retry count, and
// terminal error. The queue goroutines and snapshot readers share it, so
// every access goes through the lock.
type TaskState struct {
	mu sync.RWMutex

	Task        Task
	Status      TaskStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       error

	retryCount int
}

// NewTaskState wraps a task in its initial pending state.
func NewTaskState(task Task) *TaskState {
	return &TaskState{
		Task:   task,
		Status: TaskStatusPending,
	}
}

// GetStatus returns the current status.
func (ts *TaskState) GetStatus() TaskStatus {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.Status
}

// SetStatus moves the task to status, stamping StartedAt on the move to
// running and CompletedAt on the move to any terminal state.
func (ts *TaskState) SetStatus(status TaskStatus) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.Status = status
	now := time.Now()
	if status == TaskStatusRunning {
		ts.StartedAt = &now
	} else if status.Terminal() {
		ts.CompletedAt = &now
	}
}

// SetError records the task's terminal error.
func (ts *TaskState) SetError(err error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.Error = err
}

// GetError returns the recorded terminal error, if any.
func (ts *TaskState) GetError() error {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.Error
}

// IncrementRetryCount bumps the retry counter and returns the new value.
func (ts *TaskState) IncrementRetryCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.retryCount++
	return ts.retryCount
}

// GetRetryCount returns the number of retries attempted so far.
func (ts *TaskState) GetRetryCount() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.retryCount
}

// Snapshot copies the task state into an immutable view.
func (ts *TaskState) Snapshot() TaskSnapshot {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	snap := TaskSnapshot{
		ID:          ts.Task.ID(),
		Name:        ts.Task.Name(),
		Status:      ts.Status,
		StartedAt:   ts.StartedAt,
		CompletedAt: ts.CompletedAt,
		Retries:     ts.retryCount,
	}
	if ts.Error != nil {
		snap.Error = ts.Error.Error()
	}
	return snap
}

// TaskSnapshot is a point-in-time view of a task, safe to hand to status
// listeners and to serialize.
type TaskSnapshot struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      TaskStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Retries     int        `json:"retries,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// BaseTask supplies the identity half of the Task interface. Concrete
// tasks embed it and add Execute.
type BaseTask struct {
	id   string
	name string
}

// NewBaseTask assigns a fresh task ID to the given display name.
func NewBaseTask(name string) BaseTask {
	return BaseTask{
		id:   uuid.New().String(),
		name: name,
	}
}

// ID returns the task ID.
func (t BaseTask) ID() string {
	return t.id
}

// Name returns the task name.
func (t BaseTask) Name() string {
	return t.name
}
