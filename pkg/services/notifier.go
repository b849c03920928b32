package services

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/models"
)

// Notifier publishes scan progress events. Publishing is best-effort: the
// job manager logs a failed publish and moves on, it never fails a scan
// over a notification.
type Notifier interface {
	Publish(event models.ProgressEvent) error
}

// defaultSubscriberBuffer is the per-subscriber channel capacity used when
// the configured buffer size is zero or negative. A subscriber that falls
// this far behind starts losing events.
const defaultSubscriberBuffer = 32

// ProgressHub fans progress events out to per-job subscribers. Events for a
// single job are delivered in publish order; a slow subscriber has events
// dropped rather than blocking the publisher. After a terminal event
// (completed, failed, cancelled) the job's subscriber channels are closed.
type ProgressHub struct {
	mu       sync.Mutex
	subs     map[uuid.UUID][]chan models.ProgressEvent
	finished map[uuid.UUID]struct{}
	closed   bool
	buffer   int
	logger   *zap.Logger
}

// NewProgressHub creates an empty progress hub. bufferSize is the channel
// capacity given to each subscriber; values <= 0 fall back to the default.
func NewProgressHub(bufferSize int, logger *zap.Logger) *ProgressHub {
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBuffer
	}
	return &ProgressHub{
		subs:     make(map[uuid.UUID][]chan models.ProgressEvent),
		finished: make(map[uuid.UUID]struct{}),
		buffer:   bufferSize,
		logger:   logger.Named("progress-hub"),
	}
}

// Subscribe returns a channel of progress events for the job and a release
// function. The channel is closed after the job's terminal event is
// delivered, when the subscription is released, or on hub shutdown.
// Subscribing to a job that already finished yields a closed channel.
func (h *ProgressHub) Subscribe(jobID uuid.UUID) (<-chan models.ProgressEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan models.ProgressEvent, h.buffer)

	if h.closed {
		close(ch)
		return ch, func() {}
	}
	if _, done := h.finished[jobID]; done {
		close(ch)
		return ch, func() {}
	}

	h.subs[jobID] = append(h.subs[jobID], ch)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() { h.remove(jobID, ch) })
	}
	return ch, unsubscribe
}

// remove detaches one subscriber channel and closes it.
func (h *ProgressHub) remove(jobID uuid.UUID, ch chan models.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	channels := h.subs[jobID]
	for i, c := range channels {
		if c == ch {
			h.subs[jobID] = append(channels[:i], channels[i+1:]...)
			close(c)
			break
		}
	}
	if len(h.subs[jobID]) == 0 {
		delete(h.subs, jobID)
	}
}

// Publish delivers the event to every subscriber of its job. Sends never
// block: a full subscriber buffer drops the event with a warning. Always
// returns nil; the error is part of the Notifier contract for pluggable
// implementations that can actually fail.
func (h *ProgressHub) Publish(event models.ProgressEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	for _, ch := range h.subs[event.JobID] {
		select {
		case ch <- event:
		default:
			h.logger.Warn("subscriber too slow, dropping progress event",
				zap.String("job_id", event.JobID.String()),
				zap.String("type", string(event.Type)))
		}
	}

	if isTerminalEvent(event.Type) {
		h.finishLocked(event.JobID)
	}
	return nil
}

// finishLocked closes and forgets the job's subscriber channels and records
// the job as finished so late subscribers get a closed channel.
// Must be called with the hub lock held.
func (h *ProgressHub) finishLocked(jobID uuid.UUID) {
	for _, ch := range h.subs[jobID] {
		close(ch)
	}
	delete(h.subs, jobID)
	h.finished[jobID] = struct{}{}
}

// Shutdown closes every subscriber channel and stops accepting new
// subscriptions and events.
func (h *ProgressHub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for jobID, channels := range h.subs {
		for _, ch := range channels {
			close(ch)
		}
		delete(h.subs, jobID)
	}
}

func isTerminalEvent(t models.ProgressEventType) bool {
	return t == models.EventScanCompleted || t == models.EventScanFailed || t == models.EventScanCancelled
}

// Ensure ProgressHub implements Notifier at compile time.
var _ Notifier = (*ProgressHub)(nil)
