package workqueue

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/retry"
)

// Queue admits tasks against a concurrency strategy and runs each admitted
// task on its own goroutine. The default strategy serializes scans, since a
// scan holds a target connection for its whole run; ThrottledStrategy
// raises the ceiling when the operator allows concurrent scans.
type Queue struct {
	mu        sync.Mutex
	tasks     []*TaskState
	cancelled bool

	strategy    ConcurrencyStrategy
	retryConfig RetryConfig

	// done closes when every admitted task has settled. Enqueue re-arms
	// it so one queue can serve successive batches.
	done chan struct{}
	wg   sync.WaitGroup

	// ctx is handed to every task; Cancel cuts it to stop running scans.
	ctx    context.Context
	cancel context.CancelFunc

	onUpdate func([]TaskSnapshot)

	logger *zap.Logger
}

// RetryConfig bounds queue-level retries for tasks that fail with a
// transient error.
type RetryConfig struct {
	MaxRetries     int // attempts after the first; 0 disables retries
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultRetryConfig disables queue-level retries. A failed scan leaves its
// job in FAILED with the cause recorded; rerunning it is an operator
// decision, not a queue decision.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     0,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
	}
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithStrategy replaces the default serialized admission strategy.
func WithStrategy(strategy ConcurrencyStrategy) QueueOption {
	return func(q *Queue) {
		if strategy != nil {
			q.strategy = strategy
		}
	}
}

// WithRetryConfig enables queue-level retries for transient task failures.
func WithRetryConfig(config RetryConfig) QueueOption {
	return func(q *Queue) {
		q.retryConfig = config
	}
}

// New creates an empty queue. Tasks run under the queue's own context
// rather than any caller's, so an enqueued scan outlives the request that
// submitted it.
func New(logger *zap.Logger, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		strategy:    NewSerializedStrategy(),
		retryConfig: DefaultRetryConfig(),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.Named("workqueue"),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// SetOnUpdate registers a callback fired on every task state change with a
// snapshot of all tasks.
//
// The callback runs while the queue lock is held: it must not call back
// into the queue, and it should hand the snapshot off quickly, for example
// by sending to a channel.
func (q *Queue) SetOnUpdate(callback func([]TaskSnapshot)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onUpdate = callback
}

// Enqueue admits a task. If the strategy grants a slot it starts
// immediately, otherwise it waits in line. Enqueues after Cancel are
// dropped.
func (q *Queue) Enqueue(task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled {
		q.logger.Warn("dropping task, queue is cancelled",
			zap.String("task_id", task.ID()),
			zap.String("task_name", task.Name()))
		return
	}

	q.rearmLocked()
	q.tasks = append(q.tasks, NewTaskState(task))

	q.logger.Info("task enqueued",
		zap.String("task_id", task.ID()),
		zap.String("task_name", task.Name()))

	q.publishLocked()
	q.dispatchLocked()
}

// dispatchLocked starts pending tasks, in enqueue order, while the strategy
// grants slots. Must be called with the lock held.
func (q *Queue) dispatchLocked() {
	if q.cancelled {
		return
	}

	for _, ts := range q.tasks {
		if ts.GetStatus() != TaskStatusPending {
			continue
		}
		if !q.strategy.CanStart() {
			return
		}

		q.strategy.OnStart()
		ts.SetStatus(TaskStatusRunning)
		q.publishLocked()

		q.logger.Info("task started",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))

		q.wg.Add(1)
		go q.run(ts)
	}
}

// run executes one task, retrying transient failures within the retry
// budget, then settles it.
func (q *Queue) run(ts *TaskState) {
	defer q.wg.Done()

	var lastErr error

	for attempt := 0; attempt <= q.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			if !q.waitBeforeRetry(ts, attempt) {
				q.settle(ts, q.ctx.Err())
				return
			}
		}

		err := ts.Task.Execute(q.ctx, q)
		if err == nil {
			q.settle(ts, nil)
			return
		}
		lastErr = err

		// Cancellation ends the task regardless of the retry budget.
		if errors.Is(err, context.Canceled) {
			break
		}

		if !retry.IsRetryable(err) {
			q.logger.Warn("task error is not retryable",
				zap.String("task_id", ts.Task.ID()),
				zap.String("task_name", ts.Task.Name()),
				zap.Error(err))
			break
		}

		if attempt >= q.retryConfig.MaxRetries {
			q.logger.Error("task exhausted retry budget",
				zap.String("task_id", ts.Task.ID()),
				zap.String("task_name", ts.Task.Name()),
				zap.Int("retry_count", ts.GetRetryCount()),
				zap.Error(err))
			break
		}

		q.logger.Warn("task failed, will retry",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Int("attempt", ts.IncrementRetryCount()),
			zap.Int("max_retries", q.retryConfig.MaxRetries),
			zap.Error(err))
	}

	q.settle(ts, lastErr)
}

// waitBeforeRetry blocks for the attempt's backoff. It returns false if the
// queue was cancelled while waiting.
func (q *Queue) waitBeforeRetry(ts *TaskState, attempt int) bool {
	backoff := q.backoffFor(attempt)
	q.logger.Info("retrying task",
		zap.String("task_id", ts.Task.ID()),
		zap.String("task_name", ts.Task.Name()),
		zap.Int("attempt", attempt),
		zap.Int("max_retries", q.retryConfig.MaxRetries),
		zap.Duration("backoff", backoff))

	select {
	case <-q.ctx.Done():
		return false
	case <-time.After(backoff):
		return true
	}
}

// backoffFor grows exponentially from InitialBackoff, capped at MaxBackoff,
// with 10% jitter so simultaneous retries spread out.
func (q *Queue) backoffFor(attempt int) time.Duration {
	d := float64(q.retryConfig.InitialBackoff) *
		math.Pow(q.retryConfig.BackoffFactor, float64(attempt-1))
	if ceil := float64(q.retryConfig.MaxBackoff); d > ceil {
		d = ceil
	}
	jitter := d * 0.1 * (rand.Float64()*2 - 1)
	return time.Duration(d + jitter)
}

// settle records a task's terminal state, releases its slot, and either
// starts the next pending task or signals drain when none remain.
func (q *Queue) settle(ts *TaskState, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.strategy.OnComplete()

	switch {
	case err == nil:
		ts.SetStatus(TaskStatusCompleted)
		q.logger.Info("task completed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Int("retry_count", ts.GetRetryCount()))
	case errors.Is(err, context.Canceled):
		ts.SetStatus(TaskStatusCancelled)
		q.logger.Info("task cancelled",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))
	default:
		ts.SetStatus(TaskStatusFailed)
		ts.SetError(err)
		q.logger.Error("task failed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Int("retry_count", ts.GetRetryCount()),
			zap.Error(err))
	}

	q.publishLocked()

	if q.allSettledLocked() {
		q.signalDrainLocked()
		return
	}
	q.dispatchLocked()
}

// allSettledLocked reports whether every task is in a terminal state.
// Must be called with the lock held.
func (q *Queue) allSettledLocked() bool {
	for _, ts := range q.tasks {
		if !ts.GetStatus().Terminal() {
			return false
		}
	}
	return true
}

// signalDrainLocked closes the done channel if it is still open.
// Must be called with the lock held.
func (q *Queue) signalDrainLocked() {
	select {
	case <-q.done:
	default:
		close(q.done)
	}
}

// rearmLocked replaces a closed done channel so a drained queue can accept
// another batch. Must be called with the lock held.
func (q *Queue) rearmLocked() {
	select {
	case <-q.done:
		q.done = make(chan struct{})
	default:
	}
}

// publishLocked pushes a fresh snapshot to the update callback.
// Must be called with the lock held.
func (q *Queue) publishLocked() {
	if q.onUpdate == nil {
		return
	}
	q.onUpdate(q.snapshotLocked())
}

// snapshotLocked copies every task's state, in enqueue order.
// Must be called with the lock held.
func (q *Queue) snapshotLocked() []TaskSnapshot {
	snapshots := make([]TaskSnapshot, len(q.tasks))
	for i, ts := range q.tasks {
		snapshots[i] = ts.Snapshot()
	}
	return snapshots
}

// Wait blocks until every task settles or ctx expires. It returns the
// first recorded task failure, or nil when the queue drained cleanly or
// was empty. When ctx expires first, Wait cancels the queue and returns
// ctx.Err().
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	if len(q.tasks) == 0 {
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		q.mu.Lock()
		defer q.mu.Unlock()
		for _, ts := range q.tasks {
			if ts.GetStatus() == TaskStatusFailed {
				return ts.GetError()
			}
		}
		return nil
	case <-ctx.Done():
		q.Cancel()
		return ctx.Err()
	}
}

// Cancel stops the queue: running tasks see their context cut, pending
// tasks flip straight to cancelled, and later enqueues are dropped.
func (q *Queue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled {
		return
	}

	q.cancelled = true
	q.logger.Info("queue cancelled, stopping running tasks")

	q.cancel()

	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusPending {
			ts.SetStatus(TaskStatusCancelled)
		}
	}

	q.publishLocked()

	if q.allSettledLocked() {
		q.signalDrainLocked()
	}
}

// GetTasks returns a snapshot of every task in enqueue order.
func (q *Queue) GetTasks() []TaskSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// IsComplete reports whether every task has settled. An empty queue is
// complete.
func (q *Queue) IsComplete() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.allSettledLocked()
}

// HasFailures reports whether any task failed.
func (q *Queue) HasFailures() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusFailed {
			return true
		}
	}
	return false
}

// TaskCount returns the number of tasks admitted so far.
func (q *Queue) TaskCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// PendingCount returns the number of tasks still waiting for a slot. The
// scanner uses it to enforce the queue backlog limit.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusPending {
			n++
		}
	}
	return n
}

// CompletedCount returns the number of tasks that finished successfully.
func (q *Queue) CompletedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusCompleted {
			n++
		}
	}
	return n
}

// Progress counts tasks in each state.
func (q *Queue) Progress() Progress {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := Progress{Total: len(q.tasks)}
	for _, ts := range q.tasks {
		switch ts.GetStatus() {
		case TaskStatusPending:
			p.Pending++
		case TaskStatusRunning:
			p.Running++
		case TaskStatusCompleted:
			p.Completed++
		case TaskStatusFailed:
			p.Failed++
		case TaskStatusCancelled:
			p.Cancelled++
		}
	}
	return p
}

// Progress tallies queue tasks by state.
type Progress struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Percentage returns how much of the queue has settled, 0 to 100. An
// empty queue counts as fully settled.
func (p Progress) Percentage() int {
	if p.Total == 0 {
		return 100
	}
	settled := p.Completed + p.Failed + p.Cancelled
	return (settled * 100) / p.Total
}
