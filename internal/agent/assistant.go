package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/taskpilot/internal/engine"
	"github.com/rahul/taskpilot/internal/observability"
	"github.com/rahul/taskpilot/internal/plan"
	"github.com/rahul/taskpilot/internal/store"
)

// Brain defines the core intelligence interface used by the gateways.
type Brain interface {
	Think(ctx context.Context, chatID string, input string) (string, error)
}

// HistoryStore keeps the recent exchanges of each chat.
type HistoryStore interface {
	AddExchange(chatID, task, summary string) error
	GetHistory(chatID string, limit int) ([]llms.MessageContent, error)
	Recent(chatID string, limit int) ([]store.Message, error)
	Clear(chatID string) error
}

// Assistant runs the whole pipeline for a task: plan, execute, verify.
type Assistant struct {
	Planner  *Planner
	Engine   *engine.Scheduler
	Verifier *Verifier
	// History and Events are optional.
	History HistoryStore
	Events  *observability.Logger
	Logger  *slog.Logger
	// HistoryTurns is how many earlier messages the planner sees.
	HistoryTurns int
}

func NewAssistant(planner *Planner, sched *engine.Scheduler, verifier *Verifier, history HistoryStore, events *observability.Logger, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		Planner:      planner,
		Engine:       sched,
		Verifier:     verifier,
		History:      history,
		Events:       events,
		Logger:       logger,
		HistoryTurns: 4,
	}
}

// Run plans, executes and verifies task. Errors are limited to an empty
// task and planning failures; tool failures are reported in the result.
func (a *Assistant) Run(ctx context.Context, chatID, task string) (*FinalResult, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, ErrEmptyTask
	}
	if engine.RunID(ctx) == "" {
		ctx = engine.WithRunID(ctx, uuid.NewString())
	}
	runID := engine.RunID(ctx)
	done := observability.BeginRun(task)
	defer done()

	var history []llms.MessageContent
	if a.History != nil && chatID != "" && a.HistoryTurns > 0 {
		h, err := a.History.GetHistory(chatID, a.HistoryTurns)
		if err != nil {
			a.Logger.Warn("failed to load history", "chat_id", chatID, "error", err)
		}
		history = h
	}

	p, err := a.Planner.CreatePlan(ctx, task, history)
	if err != nil {
		return nil, err
	}
	if a.Events != nil {
		a.Events.LogPlan(chatID, runID, p)
	}

	observability.SetStatus(observability.RoleExecuting, task)
	agg, err := a.Engine.Execute(ctx, p)
	if err != nil {
		return nil, err
	}
	if a.Events != nil {
		a.Events.LogAggregate(chatID, runID, agg)
	}

	observability.SetStatus(observability.RoleVerifying, task)
	res := a.Verifier.Verify(ctx, agg)
	if a.Events != nil {
		a.Events.LogVerify(chatID, runID, res.Verified, agg.Notes)
	}

	if a.History != nil && chatID != "" {
		if err := a.History.AddExchange(chatID, task, res.Summary); err != nil {
			a.Logger.Warn("failed to record exchange", "chat_id", chatID, "error", err)
		}
	}
	return res, nil
}

// Execute runs a ready-made plan without the planner or verifier.
func (a *Assistant) Execute(ctx context.Context, p *plan.Plan) (*engine.AggregateResult, error) {
	if engine.RunID(ctx) == "" {
		ctx = engine.WithRunID(ctx, uuid.NewString())
	}
	done := observability.BeginRun(p.Task)
	defer done()
	observability.SetStatus(observability.RoleExecuting, p.Task)
	return a.Engine.Execute(ctx, p)
}

// Think answers a chat message. /history and /clear are handled here;
// anything else is treated as a task.
func (a *Assistant) Think(ctx context.Context, chatID string, input string) (string, error) {
	switch cmd := strings.TrimSpace(input); {
	case cmd == "/history":
		return a.historyReply(chatID)
	case cmd == "/clear":
		if a.History == nil {
			return "History is disabled.", nil
		}
		if err := a.History.Clear(chatID); err != nil {
			return "", err
		}
		return "History cleared.", nil
	case cmd == "/start" || cmd == "/help":
		return "Send me a task, e.g. \"weather in Paris and top Go repositories\". /history shows recent tasks.", nil
	}

	res, err := a.Run(ctx, chatID, input)
	if err != nil {
		return "", err
	}
	return FormatReply(res), nil
}

func (a *Assistant) historyReply(chatID string) (string, error) {
	if a.History == nil {
		return "History is disabled.", nil
	}
	msgs, err := a.History.Recent(chatID, 10)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "No history yet.", nil
	}
	var b strings.Builder
	b.WriteString("Recent tasks:\n")
	for _, m := range msgs {
		if m.Role != store.RoleHuman {
			continue
		}
		fmt.Fprintf(&b, "- %s (%s)\n", m.Content, m.Timestamp.Format("2006-01-02 15:04"))
	}
	return b.String(), nil
}

// FormatReply renders a result for chat: summary, sources, then notes when
// something did not succeed.
func FormatReply(res *FinalResult) string {
	var b strings.Builder
	b.WriteString(res.Summary)
	if len(res.Sources) > 0 {
		b.WriteString("\n\nSources:\n")
		for i, s := range res.Sources {
			if i == 5 {
				fmt.Fprintf(&b, "- ... and %d more\n", len(res.Sources)-5)
				break
			}
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	if res.VerificationNotes != "" {
		b.WriteString("\n\nNotes:\n")
		b.WriteString(res.VerificationNotes)
	}
	return strings.TrimSpace(b.String())
}

var _ Brain = (*Assistant)(nil)
