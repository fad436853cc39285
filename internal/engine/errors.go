package engine

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FailureKind is the terminal classification of a failed step.
type FailureKind string

const (
	// KindTransient means retries were exhausted on retryable errors.
	KindTransient FailureKind = "transient"
	// KindPermanent means the error was not worth retrying.
	KindPermanent FailureKind = "permanent"
	// KindTimeout means the run deadline expired or the run was cancelled.
	KindTimeout FailureKind = "timeout"
)

var (
	ErrRunTimeout   = errors.New("execution deadline exceeded")
	ErrUnresolvable = errors.New("step parameters could not be resolved")
)

// ToolInvocationError is the outcome of a step that did not succeed. It is
// recorded in the step's result and never aborts the run.
type ToolInvocationError struct {
	Kind     FailureKind
	Tool     string
	Action   string
	Attempts int
	Err      error
}

func (e *ToolInvocationError) Error() string {
	target := e.Tool
	if e.Action != "" {
		target += "." + e.Action
	}
	switch e.Kind {
	case KindTransient:
		return fmt.Sprintf("%s: gave up after %d attempts: %v", target, e.Attempts, e.Err)
	case KindTimeout:
		return fmt.Sprintf("%s: timed out: %v", target, e.Err)
	}
	return fmt.Sprintf("%s: %v", target, e.Err)
}

func (e *ToolInvocationError) Unwrap() error { return e.Err }

func (e *ToolInvocationError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		Kind     FailureKind `json:"kind"`
		Message  string      `json:"message"`
		Attempts int         `json:"attempts"`
	}{e.Kind, msg, e.Attempts})
}
