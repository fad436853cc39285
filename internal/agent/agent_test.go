package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/taskpilot/internal/engine"
	"github.com/rahul/taskpilot/internal/llm/llmtest"
	"github.com/rahul/taskpilot/internal/plan"
	"github.com/rahul/taskpilot/internal/store"
	"github.com/rahul/taskpilot/internal/tools"
)

type staticCatalogue string

func (c staticCatalogue) Catalogue() string { return string(c) }

func newTestPlanner(m llms.Model) *Planner {
	p := NewPlanner(m, staticCatalogue("- weather: current weather\n"), NewPromptManager(""), nil)
	p.now = func() time.Time { return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC) }
	return p
}

const twoStepPlan = `{"steps":[
	{"id":1,"tool":"weather","action":"current","params":{"city":"Paris"}},
	{"id":2,"tool":"wikipedia","action":"get_summary","params":{"title":"{{steps.1.city}}"}}]}`

func TestPlanner_ToolCall(t *testing.T) {
	m := llmtest.ToolCall("propose_plan", twoStepPlan)
	p, err := newTestPlanner(m).CreatePlan(context.Background(), "weather in Paris and its wiki", nil)
	require.NoError(t, err)

	assert.Equal(t, "weather in Paris and its wiki", p.Task)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, []string{"weather", "wikipedia"}, p.EstimatedTools)
	assert.True(t, p.Steps[1].Params["title"].IsRef())
	assert.Equal(t, []plan.StepID{"1"}, p.Steps[1].DependsOn())

	prompt := m.LastPrompt()
	assert.Contains(t, prompt, "- weather: current weather")
	assert.Contains(t, prompt, "Current month start: 2026-03-01")
}

func TestPlanner_FencedJSONFallback(t *testing.T) {
	m := llmtest.Text("Here is the plan:\n```json\n" +
		`{"steps":[{"step_number":1,"tool":"crypto","action":"get_price","params":{"coin_id":"bitcoin"}}],"estimated_tools":["crypto"]}` +
		"\n```")
	p, err := newTestPlanner(m).CreatePlan(context.Background(), "btc price", nil)
	require.NoError(t, err)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, plan.StepID("1"), p.Steps[0].ID)
}

func TestPlanner_RepairsInvalidPlan(t *testing.T) {
	cyclic := `{"steps":[
		{"id":1,"tool":"a","action":"x","params":{"v":"{{steps.2.y}}"}},
		{"id":2,"tool":"b","action":"x","params":{"v":"{{steps.1.y}}"}}]}`
	m := &llmtest.Model{Responses: []*llms.ContentChoice{
		{Content: cyclic},
		{ToolCalls: []llms.ToolCall{{ID: "c", Type: "function", FunctionCall: &llms.FunctionCall{Name: "propose_plan", Arguments: twoStepPlan}}}},
	}}

	p, err := newTestPlanner(m).CreatePlan(context.Background(), "task", nil)
	require.NoError(t, err)
	assert.Len(t, p.Steps, 2)
	assert.Equal(t, 2, m.CallCount())
	assert.Contains(t, m.LastPrompt(), "That plan is invalid")
}

func TestPlanner_Errors(t *testing.T) {
	_, err := newTestPlanner(llmtest.Text("x")).CreatePlan(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrEmptyTask)

	_, err = newTestPlanner(llmtest.Text("I cannot help with that")).CreatePlan(context.Background(), "task", nil)
	assert.ErrorIs(t, err, ErrNoPlan)

	_, err = newTestPlanner(llmtest.Failing(errors.New("quota"))).CreatePlan(context.Background(), "task", nil)
	assert.ErrorContains(t, err, "quota")

	dangling := `{"steps":[{"id":1,"tool":"a","action":"x","params":{"v":"{{steps.9.y}}"}}]}`
	_, err = newTestPlanner(llmtest.Text(dangling)).CreatePlan(context.Background(), "task", nil)
	assert.ErrorIs(t, err, plan.ErrDanglingReference)
}

func aggregateFixture() *engine.AggregateResult {
	p := &plan.Plan{Task: "weather and coin", Steps: []plan.Step{
		{ID: "1", Tool: "weather", Action: "current", Params: map[string]plan.Value{"city": plan.Literal("Lodnon")}},
		{ID: "2", Tool: "crypto", Action: "get_price", Params: map[string]plan.Value{"coin_id": plan.Literal("etherium")}},
		{ID: "3", Tool: "news", Action: "search_news", Params: map[string]plan.Value{"query": plan.Literal("ai")}},
	}}
	results := []engine.ExecutionResult{
		{StepID: "1", Tool: "weather", Action: "current", Status: engine.StatusSucceeded, Attempts: 1,
			Output: map[string]any{"city": "London", "temperature": "12.0°C"}, Corrections: []string{"Corrected 'Lodnon' to 'London'"}},
		{StepID: "2", Tool: "crypto", Action: "get_price", Status: engine.StatusFailed, Attempts: 1,
			Error: &engine.ToolInvocationError{Kind: engine.KindPermanent, Tool: "crypto", Action: "get_price",
				Err: &tools.Error{Class: tools.ClassHTTPStatus, StatusCode: 404, Err: tools.ErrNotFound}}},
		{StepID: "3", Tool: "news", Action: "search_news", Status: engine.StatusSucceeded, Attempts: 1,
			Output: map[string]any{"query": "ai", "articles": []any{}, "suggestion": "Try a broader query"}},
	}
	return engine.Aggregate(p, results)
}

func TestVerifier_Summary(t *testing.T) {
	m := llmtest.Text("## Weather\n- **London**: 12°C")
	v := NewVerifier(m, NewPromptManager(""), nil)

	res := v.Verify(context.Background(), aggregateFixture())
	assert.Equal(t, "## Weather\n- **London**: 12°C", res.Summary)
	assert.False(t, res.Verified)
	assert.Contains(t, res.VerificationNotes, "Some steps failed: [crypto]")
	assert.Contains(t, res.VerificationNotes, "Cryptocurrency 'etherium' not found")
	assert.Contains(t, res.VerificationNotes, "Suggestions:\n- Try a broader query")
	assert.Contains(t, res.VerificationNotes, "Corrections applied:\n- Corrected 'Lodnon' to 'London'")
	assert.Contains(t, res.Details, "weather")

	prompt := m.LastPrompt()
	assert.Contains(t, prompt, "WEATHER:")
	assert.Contains(t, prompt, "temperature: 12.0°C")
	assert.Contains(t, prompt, "Failed steps: crypto")
}

func TestVerifier_FallbackSummary(t *testing.T) {
	v := NewVerifier(llmtest.Failing(nil), NewPromptManager(""), nil)
	res := v.Verify(context.Background(), aggregateFixture())
	assert.Contains(t, res.Summary, "Executed 3 steps. 2 successful, 1 failed or skipped.")
	assert.Contains(t, res.Summary, "- Weather data retrieved")
	assert.Contains(t, res.Summary, "- News data retrieved")
}

func TestVerifier_NothingSucceededSkipsModel(t *testing.T) {
	m := llmtest.Text("should not be used")
	v := NewVerifier(m, NewPromptManager(""), nil)
	agg := engine.Aggregate(&plan.Plan{Task: "t"}, []engine.ExecutionResult{
		{StepID: "1", Tool: "github", Action: "search_repositories", Status: engine.StatusFailed,
			Error: &engine.ToolInvocationError{Kind: engine.KindTransient, Attempts: 3, Err: errors.New("503")}},
	})

	res := v.Verify(context.Background(), agg)
	assert.Equal(t, 0, m.CallCount())
	assert.False(t, res.Verified)
	assert.Contains(t, res.Summary, "0 successful")
}

func TestStringifyLimitsLists(t *testing.T) {
	var b strings.Builder
	stringify(&b, map[string]any{"items": []any{1, 2, 3, 4, 5}}, 0)
	assert.Contains(t, b.String(), "... and 2 more")
	assert.NotContains(t, b.String(), "[4]")
}

type fakeTool struct {
	name string
	fn   func(action string, params map[string]any) (any, error)
}

func (f fakeTool) Name() string { return f.name }
func (f fakeTool) Description() string { return f.name + " tool" }
func (f fakeTool) Actions() []tools.Action { return []tools.Action{{Name: "current"}} }
func (f fakeTool) Invoke(_ context.Context, action string, params map[string]any) (any, error) {
	return f.fn(action, params)
}

func TestAssistant_ThinkEndToEnd(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(fakeTool{name: "weather", fn: func(_ string, params map[string]any) (any, error) {
		return map[string]any{"city": params["city"], "temperature": "20.0°C", "url": "https://weather.example/paris"}, nil
	}})

	history, err := store.NewHistoryStore(filepath.Join(t.TempDir(), "h.db"), 10)
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	planModel := llmtest.ToolCall("propose_plan", `{"steps":[{"id":1,"tool":"weather","action":"current","params":{"city":"Paris"}}]}`)
	a := NewAssistant(
		NewPlanner(planModel, reg, NewPromptManager(""), nil),
		engine.NewScheduler(reg, engine.DefaultOptions()),
		NewVerifier(llmtest.Text("It is 20°C in **Paris**."), NewPromptManager(""), nil),
		history, nil, nil,
	)

	reply, err := a.Think(context.Background(), "chat-9", "weather in Paris")
	require.NoError(t, err)
	assert.Contains(t, reply, "It is 20°C in **Paris**.")
	assert.Contains(t, reply, "https://weather.example/paris")
	assert.NotContains(t, reply, "Notes:")

	reply, err = a.Think(context.Background(), "chat-9", "/history")
	require.NoError(t, err)
	assert.Contains(t, reply, "- weather in Paris")

	// the second task sees the first exchange
	_, err = a.Think(context.Background(), "chat-9", "and tomorrow?")
	require.NoError(t, err)
	assert.Contains(t, planModel.LastPrompt(), "It is 20°C in **Paris**.")

	reply, err = a.Think(context.Background(), "chat-9", "/clear")
	require.NoError(t, err)
	assert.Equal(t, "History cleared.", reply)
}

func TestAssistant_EmptyTask(t *testing.T) {
	a := NewAssistant(nil, nil, nil, nil, nil, nil)
	_, err := a.Run(context.Background(), "", "   ")
	assert.ErrorIs(t, err, ErrEmptyTask)
}
