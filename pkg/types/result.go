package types

import (
	"time"
)

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// NodeStatus represents the current state of a node within a run.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// Phase names the lifecycle phase a node is in.
type Phase string

const (
	PhaseRead      Phase = "read"
	PhaseTransform Phase = "transform"
	PhaseValidate  Phase = "validate"
	PhaseWrite     Phase = "write"
)

// RowsUnknown is the RowsAffected value when the engine cannot tell.
const RowsUnknown int64 = -1

// NodeResult is the outcome of one executed node. It is created exactly
// once per executed (non-skipped) node and is immutable after creation.
type NodeResult struct {
	Name           string            `json:"name"`
	Success        bool              `json:"success"`
	RowsAffected   int64             `json:"rows_affected"`
	DurationMillis int64             `json:"duration_millis"`
	Phase          Phase             `json:"phase,omitempty"` // phase that failed, empty on success
	ErrorMessage   string            `json:"error_message,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// SkipRecord explains why a node was not executed.
type SkipRecord struct {
	Name string `json:"name"`
	// Cause is the upstream dependency whose failure or skip propagated.
	Cause string `json:"cause"`
	// CauseStatus is "failed" or "skipped".
	CauseStatus NodeStatus `json:"cause_status"`
}

// PipelineResults aggregates one pipeline run. Completed, Failed, and
// Skipped are mutually exclusive and together cover the full node set.
type PipelineResults struct {
	Pipeline       string                 `json:"pipeline"`
	RunID          string                 `json:"run_id,omitempty"`
	Completed      []string               `json:"completed"`
	Failed         []string               `json:"failed"`
	Skipped        []string               `json:"skipped"`
	SkipRecords    map[string]SkipRecord  `json:"skip_records,omitempty"`
	NodeResults    map[string]*NodeResult `json:"node_results"`
	StartTime      time.Time              `json:"start_time"`
	EndTime        time.Time              `json:"end_time"`
	DurationMillis int64                  `json:"duration_millis"`

	// Error is set only for construction-time failures (unknown
	// dependency, cycle, invalid node) that prevent any node from running.
	Error string `json:"error,omitempty"`
}

// NewPipelineResults creates an empty aggregate with the start time set.
func NewPipelineResults(pipeline, runID string) *PipelineResults {
	return &PipelineResults{
		Pipeline:    pipeline,
		RunID:       runID,
		Completed:   []string{},
		Failed:      []string{},
		Skipped:     []string{},
		SkipRecords: make(map[string]SkipRecord),
		NodeResults: make(map[string]*NodeResult),
		StartTime:   time.Now().UTC(),
	}
}

// Finish records the end time and duration.
func (r *PipelineResults) Finish() {
	r.EndTime = time.Now().UTC()
	r.DurationMillis = r.EndTime.Sub(r.StartTime).Milliseconds()
}

// Succeeded reports whether every node completed.
func (r *PipelineResults) Succeeded() bool {
	return r.Error == "" && len(r.Failed) == 0 && len(r.Skipped) == 0
}

// Status derives the run status from the aggregate.
func (r *PipelineResults) Status() RunStatus {
	if r.EndTime.IsZero() {
		return RunStatusRunning
	}
	if r.Succeeded() {
		return RunStatusSucceeded
	}
	return RunStatusFailed
}
