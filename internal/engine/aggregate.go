package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rahul/taskpilot/internal/plan"
)

// sourceKeys are the output fields collected as sources.
var sourceKeys = map[string]bool{
	"url":         true,
	"html_url":    true,
	"link":        true,
	"profile_url": true,
}

// StepOutcome is one step's contribution to its tool's details.
type StepOutcome struct {
	StepID   plan.StepID `json:"step_id"`
	Action   string      `json:"action"`
	Status   Status      `json:"status"`
	Label    string      `json:"label,omitempty"`
	Output   any         `json:"output,omitempty"`
	Error    string      `json:"error,omitempty"`
	Attempts int         `json:"attempts"`
}

// ToolDetail groups every step that used one tool.
type ToolDetail struct {
	Steps []StepOutcome `json:"steps"`
	// Output is the single output, or the list of outputs when the tool
	// ran more than once. Unset when any step of the tool did not succeed.
	Output any `json:"output,omitempty"`
	// Error is the first failure of the tool's steps.
	Error string `json:"error,omitempty"`
}

// AggregateResult merges the results of one run.
type AggregateResult struct {
	Task           string                `json:"task"`
	PerToolDetails map[string]ToolDetail `json:"per_tool_details"`
	Sources        []string              `json:"sources"`
	OverallSuccess bool                  `json:"overall_success"`
	Notes          []string              `json:"notes"`
	Corrections    []string              `json:"corrections,omitempty"`
	Plan           *plan.Plan            `json:"plan"`
	Results        []ExecutionResult     `json:"results"`
}

// ShouldVerify reports whether there is anything worth summarising.
func (a *AggregateResult) ShouldVerify() bool { return a.OverallSuccess }

// Complete reports whether every step succeeded.
func (a *AggregateResult) Complete() bool {
	for _, r := range a.Results {
		if !r.Succeeded() {
			return false
		}
	}
	return len(a.Results) > 0
}

// Failures returns the results that did not succeed, in plan order.
func (a *AggregateResult) Failures() []ExecutionResult {
	var out []ExecutionResult
	for _, r := range a.Results {
		if !r.Succeeded() {
			out = append(out, r)
		}
	}
	return out
}

// Aggregate builds the combined result once every step is terminal.
// results must be in plan order. It never fails.
func Aggregate(p *plan.Plan, results []ExecutionResult) *AggregateResult {
	agg := &AggregateResult{
		PerToolDetails: make(map[string]ToolDetail),
		Sources:        []string{},
		Notes:          []string{},
		Plan:           p,
		Results:        results,
	}
	if p != nil {
		agg.Task = p.Task
	}

	seen := make(map[string]bool)
	outputs := make(map[string][]any)
	for _, r := range results {
		detail := agg.PerToolDetails[r.Tool]
		outcome := StepOutcome{StepID: r.StepID, Action: r.Action, Status: r.Status, Attempts: r.Attempts}

		switch r.Status {
		case StatusSucceeded:
			agg.OverallSuccess = true
			outcome.Output = r.Output
			outcome.Label = ContextLabel(r.Tool, r.Output)
			outputs[r.Tool] = append(outputs[r.Tool], r.Output)
			collectSources(r.Output, seen, &agg.Sources)
			if m, ok := r.Output.(map[string]any); ok {
				if s, ok := m["suggestion"].(string); ok && s != "" {
					agg.Notes = append(agg.Notes, "suggestion: "+s)
				}
				if c, ok := m["correction_note"].(string); ok && c != "" {
					agg.Corrections = append(agg.Corrections, c)
				}
			}
		case StatusFailed:
			msg := "failed"
			kind := KindPermanent
			if r.Error != nil {
				msg = r.Error.Error()
				kind = r.Error.Kind
			}
			outcome.Error = msg
			if detail.Error == "" {
				detail.Error = msg
			}
			agg.Notes = append(agg.Notes, fmt.Sprintf("step %s (%s.%s) failed [%s] after %d attempt(s): %s",
				r.StepID, r.Tool, r.Action, kind, r.Attempts, errorText(r.Error)))
		case StatusSkipped:
			msg := fmt.Sprintf("skipped: dependency step %s did not succeed", r.BlockedBy)
			outcome.Error = msg
			if detail.Error == "" {
				detail.Error = msg
			}
			agg.Notes = append(agg.Notes, fmt.Sprintf("step %s (%s.%s) skipped because step %s did not succeed",
				r.StepID, r.Tool, r.Action, r.BlockedBy))
		}
		agg.Corrections = append(agg.Corrections, r.Corrections...)

		detail.Steps = append(detail.Steps, outcome)
		agg.PerToolDetails[r.Tool] = detail
	}

	for tool, detail := range agg.PerToolDetails {
		if detail.Error != "" {
			continue
		}
		switch outs := outputs[tool]; len(outs) {
		case 0:
		case 1:
			detail.Output = outs[0]
		default:
			detail.Output = outs
		}
		agg.PerToolDetails[tool] = detail
	}
	return agg
}

func errorText(e *ToolInvocationError) string {
	if e == nil || e.Err == nil {
		return "unknown error"
	}
	return e.Err.Error()
}

// collectSources walks an output depth first and appends every URL found
// under a source key, keeping first-seen order.
func collectSources(v any, seen map[string]bool, out *[]string) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s, ok := t[k].(string); ok && sourceKeys[k] {
				if s != "" && !seen[s] && (strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")) {
					seen[s] = true
					*out = append(*out, s)
				}
				continue
			}
			collectSources(t[k], seen, out)
		}
	case []any:
		for _, item := range t {
			collectSources(item, seen, out)
		}
	case []map[string]any:
		for _, item := range t {
			collectSources(item, seen, out)
		}
	}
}

// ContextLabel names what an output is about, so several results from the
// same tool can be told apart.
func ContextLabel(tool string, output any) string {
	m, ok := output.(map[string]any)
	if !ok {
		return ""
	}
	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	switch tool {
	case "weather":
		if c := str("city"); c != "" {
			return "Weather for " + c
		}
	case "github":
		if q := str("query"); q != "" {
			if len(q) > 50 {
				q = q[:47] + "..."
			}
			return "GitHub search: " + q
		}
		if r := str("repository"); r != "" {
			return "GitHub contributors: " + r
		}
		if n := str("name"); n != "" {
			return "GitHub repository: " + n
		}
	case "news":
		if q := str("query"); q != "" {
			return "News about " + q
		}
		return "Top headlines"
	case "wikipedia":
		if t := str("title"); t != "" {
			return "Wikipedia: " + t
		}
		if q := str("query"); q != "" {
			return "Wikipedia search: " + q
		}
	case "crypto":
		if c := str("coin"); c != "" {
			return "Crypto: " + c
		}
		if n := str("name"); n != "" {
			return "Crypto: " + n
		}
		if _, ok := m["trending_coins"]; ok {
			return "Trending coins"
		}
	case "countries":
		if n := str("name"); n != "" {
			return "Country: " + n
		}
		if r := str("region"); r != "" {
			return "Region: " + r
		}
	case "search", "scraper", "browser":
		if q := str("query"); q != "" {
			return "Web search: " + q
		}
		if u := str("url"); u != "" {
			return "Page: " + u
		}
	}
	return ""
}
