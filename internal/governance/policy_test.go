package governance

import (
	"context"
	"errors"
	"testing"

	"github.com/rahul/taskpilot/internal/engine"
	"github.com/rahul/taskpilot/internal/plan"
	"github.com/rahul/taskpilot/internal/tools"
)

func TestDefaultPolicyEngine_Evaluate(t *testing.T) {
	pe := NewDefaultPolicyEngine()
	ctx := context.Background()

	// Allow by default
	res1, err := pe.Evaluate(ctx, Request{Tool: "search", Action: "web"})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res1.Effect != EffectAllow {
		t.Errorf("Expected EffectAllow, got %s", res1.Effect)
	}

	pe.DenyTool("browser")
	res2, err := pe.Evaluate(ctx, Request{Tool: "browser", Action: "content"})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res2.Effect != EffectDeny {
		t.Errorf("Expected EffectDeny, got %s", res2.Effect)
	}

	pe.DenyAction("github", "get_contributors")
	res3, _ := pe.Evaluate(ctx, Request{Tool: "github", Action: "get_contributors"})
	if res3.Effect != EffectDeny {
		t.Errorf("Expected action deny, got %s", res3.Effect)
	}
	res4, _ := pe.Evaluate(ctx, Request{Tool: "github", Action: "search_repositories"})
	if res4.Effect != EffectAllow {
		t.Errorf("Expected other actions allowed, got %s", res4.Effect)
	}

	if err := pe.DenyArguments(`localhost|127\.0\.0\.1`); err != nil {
		t.Fatalf("DenyArguments failed: %v", err)
	}
	res5, _ := pe.Evaluate(ctx, Request{Tool: "scraper", Action: "extract", Arguments: `{"url":"http://127.0.0.1:8080"}`})
	if res5.Effect != EffectDeny {
		t.Errorf("Expected argument deny, got %s", res5.Effect)
	}

	if err := pe.DenyArguments(`(`); err == nil {
		t.Error("Expected invalid pattern to fail")
	}
}

type countingInvoker struct{ calls int }

func (c *countingInvoker) Invoke(context.Context, string, string, map[string]any) (any, error) {
	c.calls++
	return "ok", nil
}

func TestGuard(t *testing.T) {
	pe := NewDefaultPolicyEngine()
	pe.DenyTool("browser")
	next := &countingInvoker{}
	g := NewGuard(next, pe, nil)
	ctx := context.Background()

	out, err := g.Invoke(ctx, "weather", "current", map[string]any{"city": "Paris"})
	if err != nil || out != "ok" {
		t.Fatalf("Expected pass-through, got %v, %v", out, err)
	}

	_, err = g.Invoke(ctx, "browser", "content", map[string]any{"url": "https://example.com"})
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("Expected ErrDenied, got %v", err)
	}
	var te *tools.Error
	if !errors.As(err, &te) || te.Class != tools.ClassInvalid {
		t.Errorf("Expected invalid-class tool error, got %#v", err)
	}
	if engine.DefaultClassifier.Classify(err) != engine.Terminal {
		t.Error("Expected denial to be terminal")
	}
	if next.calls != 1 {
		t.Errorf("Expected 1 call to reach the tool, got %d", next.calls)
	}
}

func TestGuard_DeniedStepFailsWithoutRetry(t *testing.T) {
	pe := NewDefaultPolicyEngine()
	pe.DenyTool("browser")
	next := &countingInvoker{}
	s := engine.NewScheduler(NewGuard(next, pe, nil), engine.DefaultOptions())

	agg, err := s.Execute(context.Background(), &plan.Plan{Steps: []plan.Step{
		{ID: "1", Tool: "browser", Action: "content"},
	}})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	r := agg.Results[0]
	if r.Status != engine.StatusFailed || r.Error.Kind != engine.KindPermanent || r.Attempts != 1 {
		t.Errorf("Expected permanent failure after one attempt, got %+v", r)
	}
	if next.calls != 0 {
		t.Errorf("Expected tool never called, got %d", next.calls)
	}
}
