package governance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/rahul/taskpilot/internal/engine"
	"github.com/rahul/taskpilot/internal/tools"
)

// ErrDenied is wrapped by every invocation refused by policy.
var ErrDenied = errors.New("denied by policy")

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request contains the context of a tool call to be evaluated.
type Request struct {
	Tool   string
	Action string
	// Arguments is the JSON encoding of the resolved params.
	Arguments string
	RunID     string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine evaluates tool calls against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine is a deny-list: everything not denied is allowed.
type DefaultPolicyEngine struct {
	DeniedTools   map[string]bool
	DeniedActions map[string]bool
	DeniedRegex   []*regexp.Regexp
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		DeniedTools:   make(map[string]bool),
		DeniedActions: make(map[string]bool),
		DeniedRegex:   make([]*regexp.Regexp, 0),
	}
}

func (e *DefaultPolicyEngine) DenyTool(name string) {
	e.DeniedTools[name] = true
}

// DenyAction blocks a single action of a tool.
func (e *DefaultPolicyEngine) DenyAction(tool, action string) {
	e.DeniedActions[tool+"."+action] = true
}

func (e *DefaultPolicyEngine) DenyArguments(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	if e.DeniedTools[req.Tool] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("tool '%s' is restricted by system policy", req.Tool),
		}, nil
	}
	if e.DeniedActions[req.Tool+"."+req.Action] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("action '%s.%s' is restricted by system policy", req.Tool, req.Action),
		}, nil
	}

	for _, re := range e.DeniedRegex {
		if re.MatchString(req.Arguments) {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("arguments match restricted pattern: %s", re.String()),
			}, nil
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "approved by default policy",
	}, nil
}

// Guard checks every invocation against a policy before handing it to the
// wrapped invoker. Denials are reported as invalid-class tool errors so the
// engine never retries them.
type Guard struct {
	next   tools.Invoker
	policy PolicyEngine
	logger *slog.Logger
}

func NewGuard(next tools.Invoker, policy PolicyEngine, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{next: next, policy: policy, logger: logger}
}

func (g *Guard) Invoke(ctx context.Context, tool, action string, params map[string]any) (any, error) {
	args, err := json.Marshal(params)
	if err != nil {
		args = []byte(fmt.Sprint(params))
	}
	req := Request{Tool: tool, Action: action, Arguments: string(args), RunID: engine.RunID(ctx)}

	res, err := g.policy.Evaluate(ctx, req)
	if err != nil {
		return nil, &tools.Error{Tool: tool, Action: action, Class: tools.ClassOther, Err: fmt.Errorf("policy check: %w", err)}
	}
	if res.Effect == EffectDeny {
		g.logger.Warn("tool call denied", "run_id", req.RunID, "tool", tool, "action", action, "reason", res.Reason)
		return nil, &tools.Error{Tool: tool, Action: action, Class: tools.ClassInvalid, Err: fmt.Errorf("%w: %s", ErrDenied, res.Reason)}
	}
	return g.next.Invoke(ctx, tool, action, params)
}

var _ tools.Invoker = (*Guard)(nil)
