package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/taskpilot/internal/engine"
	"github.com/rahul/taskpilot/internal/llm"
	"github.com/rahul/taskpilot/internal/normalize"
	"github.com/rahul/taskpilot/internal/plan"
	"github.com/rahul/taskpilot/internal/tools"
)

// FinalResult is what a user gets back for a task.
type FinalResult struct {
	Task              string                       `json:"task"`
	Summary           string                       `json:"summary"`
	Details           map[string]engine.ToolDetail `json:"details"`
	Sources           []string                     `json:"sources"`
	ExecutionPlan     *plan.Plan                   `json:"execution_plan"`
	RawResults        []engine.ExecutionResult     `json:"raw_results"`
	Verified          bool                         `json:"verified"`
	VerificationNotes string                       `json:"verification_notes,omitempty"`
	Corrections       []string                     `json:"corrections,omitempty"`
}

// Verifier writes the user-facing summary of an aggregated run.
type Verifier struct {
	Model   llms.Model
	Prompts *PromptManager
	Logger  *slog.Logger
}

func NewVerifier(model llms.Model, prompts *PromptManager, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{Model: model, Prompts: prompts, Logger: logger}
}

// Verify never fails: when the model is unavailable, or nothing succeeded,
// a plain summary is used.
func (v *Verifier) Verify(ctx context.Context, agg *engine.AggregateResult) *FinalResult {
	res := &FinalResult{
		Task:              agg.Task,
		Details:           agg.PerToolDetails,
		Sources:           agg.Sources,
		ExecutionPlan:     agg.Plan,
		RawResults:        agg.Results,
		Verified:          agg.Complete(),
		VerificationNotes: verificationNotes(agg),
		Corrections:       agg.Corrections,
	}

	if !agg.ShouldVerify() {
		res.Summary = fallbackSummary(agg)
		return res
	}

	summary, err := v.summarize(ctx, agg)
	if err != nil {
		v.Logger.Warn("verifier failed to generate summary, using fallback", "error", err)
		summary = fallbackSummary(agg)
	}
	res.Summary = summary
	return res
}

func (v *Verifier) summarize(ctx context.Context, agg *engine.AggregateResult) (string, error) {
	if v.Model == nil {
		return "", errors.New("no model configured")
	}
	system, err := v.Prompts.GetVerifierPrompt()
	if err != nil {
		return "", err
	}
	if persona, err := v.Prompts.GetPersonaPrompt(); err == nil {
		system = persona + "\n\n---\n\n" + system
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Original Task: %s\n\nCollected Data:\n%s\n", agg.Task, formatDetails(agg))
	if failures := agg.Failures(); len(failures) > 0 {
		fmt.Fprintf(&user, "\nFailed steps: %s\n", strings.Join(failedTools(failures), ", "))
	}
	user.WriteString("\nCreate a clear, well-organized Markdown summary. Mention ALL results, including each call when the same tool ran several times.")

	choice, err := llm.Complete(ctx, v.Model, system, user.String(),
		llms.WithTemperature(0.5),
		llms.WithMaxTokens(2000),
	)
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(choice.Content)
	if summary == "" {
		return "", errors.New("empty summary")
	}
	return summary, nil
}

// formatDetails renders the successful outputs per tool, tools sorted.
func formatDetails(agg *engine.AggregateResult) string {
	names := make([]string, 0, len(agg.PerToolDetails))
	for name := range agg.PerToolDetails {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		var ok []engine.StepOutcome
		for _, s := range agg.PerToolDetails[name].Steps {
			if s.Status == engine.StatusSucceeded {
				ok = append(ok, s)
			}
		}
		if len(ok) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s:\n", strings.ToUpper(name))
		for i, s := range ok {
			indent := 1
			if len(ok) > 1 {
				label := s.Label
				if label == "" {
					label = s.Action
				}
				fmt.Fprintf(&b, "  Result %d (%s):\n", i+1, label)
				indent = 2
			}
			stringify(&b, s.Output, indent)
		}
	}
	return b.String()
}

// stringify writes v as an indented outline; lists show their first three
// items.
func stringify(b *strings.Builder, v any, indent int) {
	prefix := strings.Repeat("  ", indent)
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch t[k].(type) {
			case map[string]any, []any:
				fmt.Fprintf(b, "%s%s:\n", prefix, k)
				stringify(b, t[k], indent+1)
			default:
				fmt.Fprintf(b, "%s%s: %v\n", prefix, k, t[k])
			}
		}
	case []any:
		for i, item := range t {
			if i == 3 {
				fmt.Fprintf(b, "%s... and %d more\n", prefix, len(t)-3)
				break
			}
			fmt.Fprintf(b, "%s[%d]:\n", prefix, i+1)
			stringify(b, item, indent+1)
		}
	default:
		fmt.Fprintf(b, "%s%v\n", prefix, t)
	}
}

func failedTools(failures []engine.ExecutionResult) []string {
	out := make([]string, 0, len(failures))
	for _, f := range failures {
		out = append(out, f.Tool)
	}
	return out
}

func fallbackSummary(agg *engine.AggregateResult) string {
	var succeeded, other int
	var retrieved []string
	seen := make(map[string]bool)
	for _, r := range agg.Results {
		if !r.Succeeded() {
			other++
			continue
		}
		succeeded++
		if !seen[r.Tool] {
			seen[r.Tool] = true
			retrieved = append(retrieved, r.Tool)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n", agg.Task)
	fmt.Fprintf(&b, "Executed %d steps. %d successful, %d failed or skipped.\n", len(agg.Results), succeeded, other)
	if len(retrieved) > 0 {
		b.WriteString("\nResults:\n")
		for _, tool := range retrieved {
			fmt.Fprintf(&b, "- %s data retrieved\n", capitalize(tool))
		}
	}
	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// verificationNotes lists failures with their reasons, then suggestions and
// corrections.
func verificationNotes(agg *engine.AggregateResult) string {
	var parts []string

	if failures := agg.Failures(); len(failures) > 0 {
		parts = append(parts, fmt.Sprintf("Some steps failed: [%s]", strings.Join(failedTools(failures), ", ")))
		steps := make(map[plan.StepID]plan.Step)
		if agg.Plan != nil {
			for _, s := range agg.Plan.Steps {
				steps[s.ID] = s
			}
		}
		for _, f := range failures {
			switch {
			case f.Error != nil && errors.Is(f.Error, tools.ErrNotFound):
				parts = append(parts, fmt.Sprintf("- %s: %s", f.Tool,
					normalize.ErrorReason(f.Tool, lookupValue(steps[f.StepID]), f.Error.Error())))
			case f.Error != nil:
				parts = append(parts, fmt.Sprintf("- %s: %s", f.Tool, f.Error.Error()))
			default:
				parts = append(parts, fmt.Sprintf("- %s: skipped because step %s did not succeed", f.Tool, f.BlockedBy))
			}
		}
	}

	var suggestions []string
	for _, n := range agg.Notes {
		if s, ok := strings.CutPrefix(n, "suggestion: "); ok {
			suggestions = append(suggestions, s)
		}
	}
	if len(suggestions) > 0 {
		parts = append(parts, "Suggestions:")
		for _, s := range suggestions {
			parts = append(parts, "- "+s)
		}
	}

	if len(agg.Corrections) > 0 {
		parts = append(parts, "Corrections applied:")
		for _, c := range agg.Corrections {
			parts = append(parts, "- "+c)
		}
	}
	return strings.Join(parts, "\n")
}

// lookupValue is the literal a step searched for, used to explain misses.
func lookupValue(s plan.Step) string {
	for _, key := range []string{"city", "coin_id", "coin", "query", "name"} {
		if v, ok := s.Params[key]; ok && !v.IsRef() {
			if str, ok := v.Literal().(string); ok {
				return str
			}
		}
	}
	return ""
}
