package engine

import (
	"encoding/json"
	"time"

	"github.com/rahul/taskpilot/internal/plan"
)

// Status is the terminal state of a step.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// ExecutionResult is the outcome of one step. Exactly one is produced per
// step and it is written once by the goroutine that owns the step.
type ExecutionResult struct {
	StepID   plan.StepID          `json:"step_id"`
	Tool     string               `json:"tool"`
	Action   string               `json:"action"`
	Wave     int                  `json:"wave"`
	Status   Status               `json:"status"`
	Output   any                  `json:"output,omitempty"`
	Error    *ToolInvocationError `json:"error,omitempty"`
	Attempts int                  `json:"attempts"`
	Elapsed  time.Duration        `json:"-"`
	// BlockedBy names the dependency that did not succeed, for skipped steps.
	BlockedBy   plan.StepID `json:"blocked_by,omitempty"`
	Corrections []string    `json:"corrections,omitempty"`
}

func (r ExecutionResult) Succeeded() bool { return r.Status == StatusSucceeded }

func (r ExecutionResult) MarshalJSON() ([]byte, error) {
	type alias ExecutionResult
	return json.Marshal(struct {
		alias
		ElapsedMS int64 `json:"elapsed_ms"`
	}{alias(r), r.Elapsed.Milliseconds()})
}
