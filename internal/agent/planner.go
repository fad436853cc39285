package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/taskpilot/internal/llm"
	"github.com/rahul/taskpilot/internal/plan"
)

var (
	ErrEmptyTask = errors.New("task is empty")
	ErrNoPlan    = errors.New("planner returned no plan")
)

// Catalogue describes the available tools to the planner.
type Catalogue interface {
	Catalogue() string
}

// maxPlanAttempts bounds how often the model may repair an invalid plan.
const maxPlanAttempts = 2

var proposePlanTool = llms.Tool{
	Type: "function",
	Function: &llms.FunctionDefinition{
		Name:        "propose_plan",
		Description: "Submit the structured execution plan for the task.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"steps": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"id":        map[string]any{"type": "integer"},
							"tool":      map[string]any{"type": "string"},
							"action":    map[string]any{"type": "string"},
							"params":    map[string]any{"type": "object"},
							"reasoning": map[string]any{"type": "string"},
						},
						"required": []string{"id", "tool", "action", "params"},
					},
				},
				"estimated_tools": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
			},
			"required": []string{"steps"},
		},
	},
}

// Planner turns a task into a validated plan.
type Planner struct {
	Model   llms.Model
	Tools   Catalogue
	Prompts *PromptManager
	Logger  *slog.Logger
	now     func() time.Time
}

func NewPlanner(model llms.Model, tools Catalogue, prompts *PromptManager, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{Model: model, Tools: tools, Prompts: prompts, Logger: logger, now: time.Now}
}

// CreatePlan asks the model for a plan. history, if any, is earlier
// conversation placed before the task. A plan that fails analysis is sent
// back once with the error so the model can repair it.
func (p *Planner) CreatePlan(ctx context.Context, task string, history []llms.MessageContent) (*plan.Plan, error) {
	if task == "" {
		return nil, ErrEmptyTask
	}

	system, err := p.Prompts.GetPlannerPrompt()
	if err != nil {
		return nil, err
	}
	system = fmt.Sprintf("%s\n\n## Available Tools\n%s", system, p.Tools.Catalogue())

	messages := []llms.MessageContent{{
		Role:  llms.ChatMessageTypeSystem,
		Parts: []llms.ContentPart{llms.TextPart(system)},
	}}
	messages = append(messages, history...)
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(p.userPrompt(task))},
	})

	var lastErr error
	for attempt := 1; attempt <= maxPlanAttempts; attempt++ {
		resp, err := p.Model.GenerateContent(ctx, messages,
			llms.WithTools([]llms.Tool{proposePlanTool}),
			llms.WithTemperature(0.3),
		)
		if err != nil {
			return nil, fmt.Errorf("planning error: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, llm.ErrNoChoices
		}
		choice := resp.Choices[0]

		raw, err := planArguments(choice)
		if err != nil {
			return nil, err
		}
		pl, err := plan.Parse([]byte(raw))
		if err == nil {
			pl.Task = task
			if len(pl.EstimatedTools) == 0 {
				pl.EstimatedTools = pl.Tools()
			}
			if _, err = plan.Analyze(pl); err == nil {
				p.Logger.Info("plan created", "steps", len(pl.Steps), "tools", pl.EstimatedTools, "attempt", attempt)
				return pl, nil
			}
		}
		lastErr = err
		p.Logger.Warn("planner returned an invalid plan", "attempt", attempt, "error", err)

		messages = append(messages,
			llms.MessageContent{
				Role:  llms.ChatMessageTypeAI,
				Parts: []llms.ContentPart{llms.TextPart(raw)},
			},
			llms.MessageContent{
				Role: llms.ChatMessageTypeHuman,
				Parts: []llms.ContentPart{llms.TextPart(fmt.Sprintf(
					"That plan is invalid: %v. Return a corrected plan.", err))},
			},
		)
	}
	return nil, fmt.Errorf("planner produced an invalid plan: %w", lastErr)
}

// planArguments takes the plan from a propose_plan call, or from JSON in
// the reply text when the model answered without calling it.
func planArguments(choice *llms.ContentChoice) (string, error) {
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall != nil && tc.FunctionCall.Name == proposePlanTool.Function.Name {
			return tc.FunctionCall.Arguments, nil
		}
	}
	if choice.Content == "" {
		return "", ErrNoPlan
	}
	raw, err := llm.ExtractJSON(choice.Content)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoPlan, err)
	}
	return raw, nil
}

func (p *Planner) userPrompt(task string) string {
	now := p.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return fmt.Sprintf(`Task: %s

Context:
- Current date: %s
- Current month start: %s
- "this month" means pushed:>=%s; "recent" and "latest" are relative to the current date.

Create the execution plan for this task.`,
		task, now.Format("2006-01-02"), monthStart.Format("2006-01-02"), monthStart.Format("2006-01-02"))
}
