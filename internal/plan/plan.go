package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// StepID identifies a step within a plan. Planners emit either numbers
// ("step_number": 1) or strings, so both decode into the same form.
type StepID string

func (id *StepID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = StepID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("step id must be a string or number: %w", err)
	}
	*id = StepID(n.String())
	return nil
}

func (id StepID) String() string { return string(id) }

// IntStepID is a convenience for planners that number their steps.
func IntStepID(n int) StepID { return StepID(strconv.Itoa(n)) }

// Step is one tool invocation inside a plan.
type Step struct {
	ID        StepID           `json:"id"`
	Tool      string           `json:"tool"`
	Action    string           `json:"action"`
	Params    map[string]Value `json:"params,omitempty"`
	Reasoning string           `json:"reasoning,omitempty"`
}

func (s *Step) UnmarshalJSON(b []byte) error {
	type alias Step
	var raw struct {
		alias
		StepNumber *StepID `json:"step_number"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = Step(raw.alias)
	if s.ID == "" && raw.StepNumber != nil {
		s.ID = *raw.StepNumber
	}
	return nil
}

// DependsOn returns the ids of the steps whose outputs this step consumes,
// in parameter-name order without duplicates.
func (s Step) DependsOn() []StepID {
	keys := make([]string, 0, len(s.Params))
	for k := range s.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var deps []StepID
	seen := make(map[StepID]bool)
	for _, k := range keys {
		for _, ref := range s.Params[k].Refs() {
			if seen[ref.Step] {
				continue
			}
			seen[ref.Step] = true
			deps = append(deps, ref.Step)
		}
	}
	return deps
}

// Plan is an ordered list of steps produced by a planner for one task.
// It is not modified once built.
type Plan struct {
	Task           string   `json:"task"`
	Steps          []Step   `json:"steps"`
	EstimatedTools []string `json:"estimated_tools,omitempty"`
}

// Parse decodes a plan from its JSON form.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &p, nil
}

// Tools returns the distinct tools referenced by the plan, in first-use order.
func (p *Plan) Tools() []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range p.Steps {
		if !seen[s.Tool] {
			seen[s.Tool] = true
			out = append(out, s.Tool)
		}
	}
	return out
}
