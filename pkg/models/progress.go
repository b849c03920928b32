package models

import (
	"time"

	"github.com/google/uuid"
)

// ProgressEventType classifies progress notifications.
type ProgressEventType string

const (
	EventStatusChanged ProgressEventType = "STATUS_CHANGED"
	EventPhaseProgress ProgressEventType = "PHASE_PROGRESS"
	EventScanCompleted ProgressEventType = "SCAN_COMPLETED"
	EventScanFailed    ProgressEventType = "SCAN_FAILED"
	EventScanCancelled ProgressEventType = "SCAN_CANCELLED"
)

// ProgressEvent is published on every job state change and on intra-phase
// progress callbacks. Events for a single job are ordered; events across
// jobs may interleave.
type ProgressEvent struct {
	JobID     uuid.UUID         `json:"job_id"`
	Type      ProgressEventType `json:"type"`
	Status    JobStatus         `json:"status"`
	Progress  int               `json:"progress"`
	Message   string            `json:"message,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
