package apperrors

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput covers malformed scan requests: missing or unknown
	// connection ids, bad configuration values. Surfaced to the caller
	// before a job is created.
	ErrInvalidInput = errors.New("invalid input")

	// Phase-level failures. The scan executor wraps the cause so the job's
	// error message reads "<phase>: <cause>".
	ErrDatabaseConnection = errors.New("database connection failed")
	ErrMetadataExtraction = errors.New("metadata extraction failed")
	ErrSampling           = errors.New("sampling failed")
	ErrPiiDetection       = errors.New("pii detection failed")
	ErrReportGeneration   = errors.New("report generation failed")

	// ErrNerUnavailable marks a transient NER service failure. It is
	// swallowed inside the detection engine and never fails a scan.
	ErrNerUnavailable = errors.New("ner service unavailable")

	// ErrQiAnalysis marks a quasi-identifier analysis failure. Detection
	// results already produced are kept and the job still completes.
	ErrQiAnalysis = errors.New("quasi-identifier analysis failed")

	// ErrQueueFull is returned when a new scan is requested while the
	// backlog of jobs waiting for a worker is at the configured limit.
	// No job is created.
	ErrQueueFull = errors.New("scan queue is full")

	// ErrIllegalTransition is returned by the job manager when a status
	// change violates the job lifecycle. The job is left unchanged.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrReportNotReady is returned when a report is requested for a job
	// that has not completed.
	ErrReportNotReady = errors.New("report not available until job completes")
)
