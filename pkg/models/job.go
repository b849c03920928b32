package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a scan job.
type JobStatus string

const (
	JobStatusPending            JobStatus = "PENDING"
	JobStatusExtractingMetadata JobStatus = "EXTRACTING_METADATA"
	JobStatusSampling           JobStatus = "SAMPLING"
	JobStatusDetectingPii       JobStatus = "DETECTING_PII"
	JobStatusAnalyzingQi        JobStatus = "ANALYZING_QI"
	JobStatusGeneratingReport   JobStatus = "GENERATING_REPORT"
	JobStatusCompleted          JobStatus = "COMPLETED"
	JobStatusFailed             JobStatus = "FAILED"
	JobStatusCancelled          JobStatus = "CANCELLED"
)

// jobTransitions is the permitted forward edge for each non-terminal status.
// FAILED and CANCELLED are reachable from any non-terminal status and are
// handled separately in CanTransitionTo.
var jobTransitions = map[JobStatus]JobStatus{
	JobStatusPending:            JobStatusExtractingMetadata,
	JobStatusExtractingMetadata: JobStatusSampling,
	JobStatusSampling:           JobStatusDetectingPii,
	JobStatusDetectingPii:       JobStatusAnalyzingQi,
	JobStatusAnalyzingQi:        JobStatusGeneratingReport,
	JobStatusGeneratingReport:   JobStatusCompleted,
}

// jobProgress maps each status to an estimated completion percentage.
var jobProgress = map[JobStatus]int{
	JobStatusPending:            0,
	JobStatusExtractingMetadata: 10,
	JobStatusSampling:           30,
	JobStatusDetectingPii:       60,
	JobStatusAnalyzingQi:        70,
	JobStatusGeneratingReport:   85,
	JobStatusCompleted:          100,
	JobStatusFailed:             100,
	JobStatusCancelled:          100,
}

// IsTerminal returns true for COMPLETED, FAILED and CANCELLED.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsValid returns true if the status is one of the known lifecycle states.
func (s JobStatus) IsValid() bool {
	_, ok := jobProgress[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle
// step. Terminal states permit no transitions, no state may be re-entered,
// and FAILED/CANCELLED are reachable from any non-terminal state.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() || s == next || !next.IsValid() {
		return false
	}
	if next == JobStatusFailed || next == JobStatusCancelled {
		return true
	}
	return jobTransitions[s] == next
}

// Progress returns the estimated completion percentage for the status.
func (s JobStatus) Progress() int {
	return jobProgress[s]
}

// ScanJob is the persistent record of one database scan.
// Counters are monotonically non-decreasing within a job; EndTime is set
// iff the status is terminal.
type ScanJob struct {
	ID           uuid.UUID  `json:"id"`
	ConnectionID string     `json:"connection_id"`
	TargetTables []string   `json:"target_tables,omitempty"`
	Config       ScanConfig `json:"config"`
	Status       JobStatus  `json:"status"`

	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	LastUpdateTime time.Time  `json:"last_update_time"`
	ErrorMessage   *string    `json:"error_message,omitempty"`

	// Populated during metadata extraction.
	DatabaseName           string `json:"database_name,omitempty"`
	DatabaseProductName    string `json:"database_product_name,omitempty"`
	DatabaseProductVersion string `json:"database_product_version,omitempty"`

	// Scan counters.
	TotalTablesScanned               int `json:"total_tables_scanned"`
	TotalColumnsScanned              int `json:"total_columns_scanned"`
	TotalPiiColumnsFound             int `json:"total_pii_columns_found"`
	TotalQuasiIdentifierColumnsFound int `json:"total_qi_columns_found"`
}

// Progress returns the job's estimated completion percentage.
func (j *ScanJob) Progress() int {
	return j.Status.Progress()
}

// View returns a read-only snapshot of the job for status queries.
func (j *ScanJob) View() JobView {
	v := JobView{
		ID:                               j.ID,
		ConnectionID:                     j.ConnectionID,
		Status:                           j.Status,
		Progress:                         j.Progress(),
		StartTime:                        j.StartTime,
		LastUpdateTime:                   j.LastUpdateTime,
		DatabaseName:                     j.DatabaseName,
		DatabaseProductName:              j.DatabaseProductName,
		DatabaseProductVersion:           j.DatabaseProductVersion,
		TotalTablesScanned:               j.TotalTablesScanned,
		TotalColumnsScanned:              j.TotalColumnsScanned,
		TotalPiiColumnsFound:             j.TotalPiiColumnsFound,
		TotalQuasiIdentifierColumnsFound: j.TotalQuasiIdentifierColumnsFound,
	}
	if j.EndTime != nil {
		t := *j.EndTime
		v.EndTime = &t
	}
	if j.ErrorMessage != nil {
		m := *j.ErrorMessage
		v.ErrorMessage = &m
	}
	return v
}

// JobView is an immutable snapshot of a scan job's externally visible state.
type JobView struct {
	ID                               uuid.UUID  `json:"id"`
	ConnectionID                     string     `json:"connection_id"`
	Status                           JobStatus  `json:"status"`
	Progress                         int        `json:"progress"`
	StartTime                        time.Time  `json:"start_time"`
	EndTime                          *time.Time `json:"end_time,omitempty"`
	LastUpdateTime                   time.Time  `json:"last_update_time"`
	ErrorMessage                     *string    `json:"error_message,omitempty"`
	DatabaseName                     string     `json:"database_name,omitempty"`
	DatabaseProductName              string     `json:"database_product_name,omitempty"`
	DatabaseProductVersion           string     `json:"database_product_version,omitempty"`
	TotalTablesScanned               int        `json:"total_tables_scanned"`
	TotalColumnsScanned              int        `json:"total_columns_scanned"`
	TotalPiiColumnsFound             int        `json:"total_pii_columns_found"`
	TotalQuasiIdentifierColumnsFound int        `json:"total_qi_columns_found"`
}
