package plan

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a plan validation failure.
type ErrorKind string

const (
	KindCyclicDependency  ErrorKind = "cyclic_dependency"
	KindDanglingReference ErrorKind = "dangling_reference"
	KindDuplicateStep     ErrorKind = "duplicate_step"
	KindInvalidStep       ErrorKind = "invalid_step"
	KindEmptyPlan         ErrorKind = "empty_plan"
)

var (
	ErrCyclicDependency  = errors.New("cyclic dependency")
	ErrDanglingReference = errors.New("dangling reference")
	ErrDuplicateStep     = errors.New("duplicate step id")
	ErrInvalidStep       = errors.New("invalid step")
	ErrEmptyPlan         = errors.New("plan has no steps")
)

// PlanError rejects a plan before any step runs.
type PlanError struct {
	Kind ErrorKind
	// Step is the step that failed validation.
	Step StepID
	// Ref is the referenced id, for dangling references.
	Ref StepID
	// Cycle lists the ids forming the cycle, first id repeated at the end.
	Cycle  []StepID
	Detail string
}

func (e *PlanError) Error() string {
	switch e.Kind {
	case KindCyclicDependency:
		ids := make([]string, len(e.Cycle))
		for i, id := range e.Cycle {
			ids[i] = string(id)
		}
		return fmt.Sprintf("plan: cyclic dependency: %s", strings.Join(ids, " -> "))
	case KindDanglingReference:
		if e.Detail != "" {
			return fmt.Sprintf("plan: step %q references step %q: %s", e.Step, e.Ref, e.Detail)
		}
		return fmt.Sprintf("plan: step %q references unknown step %q", e.Step, e.Ref)
	case KindDuplicateStep:
		return fmt.Sprintf("plan: duplicate step id %q", e.Step)
	case KindInvalidStep:
		return fmt.Sprintf("plan: invalid step %q: %s", e.Step, e.Detail)
	case KindEmptyPlan:
		return "plan: no steps"
	}
	return fmt.Sprintf("plan: %s", e.Kind)
}

func (e *PlanError) Unwrap() error {
	switch e.Kind {
	case KindCyclicDependency:
		return ErrCyclicDependency
	case KindDanglingReference:
		return ErrDanglingReference
	case KindDuplicateStep:
		return ErrDuplicateStep
	case KindInvalidStep:
		return ErrInvalidStep
	case KindEmptyPlan:
		return ErrEmptyPlan
	}
	return nil
}
