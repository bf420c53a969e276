package recipe

import (
	"sort"
	"time"
)

// RunState is the lifecycle state of a scheduler run.
type RunState string

const (
	StateIdle      RunState = "idle"
	StateRunning   RunState = "running"
	StateCompleted RunState = "completed"
	StateAborted   RunState = "aborted"
)

// FailureKind classifies why a single item could not be classified.
type FailureKind string

const (
	KindTimeout           FailureKind = "timeout"
	KindServiceError      FailureKind = "service_error"
	KindMalformedResponse FailureKind = "malformed_response"
	KindUnknownCategory   FailureKind = "unknown_category"
	KindInternal          FailureKind = "internal"
)

// Failure is the per-item failure record of a run.
type Failure struct {
	ItemID   string      `json:"item_id"`
	Position int         `json:"position"`
	Title    string      `json:"title"`
	Kind     FailureKind `json:"kind"`
	Message  string      `json:"message"`
	Attempts int         `json:"attempts"`
}

// RunReport summarizes one scheduler run. Reports are never merged.
type RunReport struct {
	RunID      string        `json:"run_id"`
	State      RunState      `json:"state"`
	RangeStart int           `json:"range_start"`
	RangeEnd   int           `json:"range_end"`
	Attempted  int           `json:"attempted"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Failures   []Failure     `json:"failures"`
	AbortError string        `json:"abort_error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

// SortFailures orders failures by position so reports are stable regardless
// of completion order.
func (r *RunReport) SortFailures() {
	sort.SliceStable(r.Failures, func(i, j int) bool {
		return r.Failures[i].Position < r.Failures[j].Position
	})
}

// FailedSpan returns the smallest inclusive position range covering every
// failure, for retry hints. ok is false when nothing failed.
func (r *RunReport) FailedSpan() (start, end int, ok bool) {
	if len(r.Failures) == 0 {
		return 0, 0, false
	}
	start, end = r.Failures[0].Position, r.Failures[0].Position
	for _, f := range r.Failures[1:] {
		if f.Position < start {
			start = f.Position
		}
		if f.Position > end {
			end = f.Position
		}
	}
	return start, end, true
}
