package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestJobStatus_CanTransitionTo_ForwardChain(t *testing.T) {
	chain := []JobStatus{
		JobStatusPending,
		JobStatusExtractingMetadata,
		JobStatusSampling,
		JobStatusDetectingPii,
		JobStatusAnalyzingQi,
		JobStatusGeneratingReport,
		JobStatusCompleted,
	}

	for i := 0; i < len(chain)-1; i++ {
		if !chain[i].CanTransitionTo(chain[i+1]) {
			t.Errorf("%s -> %s should be legal", chain[i], chain[i+1])
		}
	}

	// Skipping a phase is never legal.
	for i := 0; i < len(chain); i++ {
		for j := i + 2; j < len(chain); j++ {
			if chain[i].CanTransitionTo(chain[j]) {
				t.Errorf("%s -> %s skips a phase and should be rejected", chain[i], chain[j])
			}
		}
	}

	// Moving backwards is never legal.
	for i := 1; i < len(chain); i++ {
		if chain[i].CanTransitionTo(chain[i-1]) {
			t.Errorf("%s -> %s moves backwards and should be rejected", chain[i], chain[i-1])
		}
	}
}

func TestJobStatus_CanTransitionTo_Terminal(t *testing.T) {
	nonTerminal := []JobStatus{
		JobStatusPending, JobStatusExtractingMetadata, JobStatusSampling,
		JobStatusDetectingPii, JobStatusAnalyzingQi, JobStatusGeneratingReport,
	}
	terminal := []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}

	// FAILED and CANCELLED are reachable from every non-terminal state.
	for _, from := range nonTerminal {
		if !from.CanTransitionTo(JobStatusFailed) {
			t.Errorf("%s -> FAILED should be legal", from)
		}
		if !from.CanTransitionTo(JobStatusCancelled) {
			t.Errorf("%s -> CANCELLED should be legal", from)
		}
	}

	// Terminal states permit nothing, including moves to other terminals.
	all := append(append([]JobStatus{}, nonTerminal...), terminal...)
	for _, from := range terminal {
		if !from.IsTerminal() {
			t.Errorf("%s should be terminal", from)
		}
		for _, to := range all {
			if from.CanTransitionTo(to) {
				t.Errorf("%s -> %s should be rejected, %s is terminal", from, to, from)
			}
		}
	}
}

func TestJobStatus_CanTransitionTo_NoReentry(t *testing.T) {
	for status := range jobProgress {
		if status.CanTransitionTo(status) {
			t.Errorf("%s -> %s re-enters the state and should be rejected", status, status)
		}
	}
}

func TestJobStatus_CanTransitionTo_UnknownStatus(t *testing.T) {
	if JobStatusSampling.CanTransitionTo(JobStatus("PAUSED")) {
		t.Error("a transition to an unknown status should be rejected")
	}
	if JobStatus("PAUSED").IsValid() {
		t.Error("PAUSED is not a valid status")
	}
}

func TestJobStatus_Progress(t *testing.T) {
	want := map[JobStatus]int{
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
	for status, progress := range want {
		if got := status.Progress(); got != progress {
			t.Errorf("%s progress = %d, want %d", status, got, progress)
		}
	}
}

func TestScanJob_View_CopiesPointers(t *testing.T) {
	end := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	message := "sampling failed: timeout"
	job := &ScanJob{
		ID:           uuid.New(),
		ConnectionID: "prod-db",
		Status:       JobStatusFailed,
		EndTime:      &end,
		ErrorMessage: &message,
	}

	view := job.View()

	if view.EndTime == nil || !view.EndTime.Equal(end) {
		t.Fatalf("view end time = %v, want %v", view.EndTime, end)
	}
	if view.ErrorMessage == nil || *view.ErrorMessage != message {
		t.Fatalf("view error message = %v, want %q", view.ErrorMessage, message)
	}

	// Mutating the job after the snapshot must not leak into the view.
	*job.EndTime = end.Add(time.Hour)
	*job.ErrorMessage = "changed"
	if !view.EndTime.Equal(end) {
		t.Error("view end time aliases the job's pointer")
	}
	if *view.ErrorMessage != message {
		t.Error("view error message aliases the job's pointer")
	}

	if view.Progress != 100 {
		t.Errorf("view progress = %d, want 100", view.Progress)
	}
}
