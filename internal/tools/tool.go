package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Action is one named capability of a tool.
type Action struct {
	Name        string         `json:"name"`
	Aliases     []string       `json:"aliases,omitempty"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"` // JSON Schema for the action's params
}

// Tool defines the interface for all external data sources.
type Tool interface {
	Name() string
	Description() string
	Actions() []Action
	Invoke(ctx context.Context, action string, params map[string]any) (any, error)
}

// Invoker runs one (tool, action) call. The execution engine only sees this.
type Invoker interface {
	Invoke(ctx context.Context, tool, action string, params map[string]any) (any, error)
}

// Registry manages the set of available tools. It is filled at startup and
// only read while plans execute.
type Registry struct {
	Tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{
		Tools: make(map[string]Tool),
	}
}

func (r *Registry) Register(t Tool) {
	r.Tools[t.Name()] = t
}

func (r *Registry) Get(name string) Tool {
	return r.Tools[name]
}

// List returns the registered tools sorted by name.
func (r *Registry) List() []Tool {
	names := make([]string, 0, len(r.Tools))
	for n := range r.Tools {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]Tool, 0, len(names))
	for _, n := range names {
		out = append(out, r.Tools[n])
	}
	return out
}

// Invoke dispatches to the named tool.
func (r *Registry) Invoke(ctx context.Context, tool, action string, params map[string]any) (any, error) {
	t := r.Get(tool)
	if t == nil {
		return nil, &Error{Tool: tool, Action: action, Class: ClassInvalid, Err: ErrUnknownTool}
	}
	return t.Invoke(ctx, action, params)
}

// Catalogue renders the tools and their actions for planner prompts.
func (r *Registry) Catalogue() string {
	var b strings.Builder
	for _, t := range r.List() {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name(), t.Description())
		for _, a := range t.Actions() {
			fmt.Fprintf(&b, "    - %s: %s", a.Name, a.Description)
			if props, ok := a.Parameters["properties"].(map[string]any); ok && len(props) > 0 {
				keys := make([]string, 0, len(props))
				for k := range props {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				fmt.Fprintf(&b, " (params: %s)", strings.Join(keys, ", "))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

type handler func(ctx context.Context, p Params) (any, error)

// actionSet maps action names and aliases to handlers for one tool.
type actionSet struct {
	tool     string
	actions  []Action
	handlers map[string]handler
}

func newActionSet(tool string) *actionSet {
	return &actionSet{tool: tool, handlers: make(map[string]handler)}
}

func (s *actionSet) add(a Action, h handler) {
	s.actions = append(s.actions, a)
	s.handlers[a.Name] = h
	for _, alias := range a.Aliases {
		s.handlers[alias] = h
	}
}

func (s *actionSet) invoke(ctx context.Context, action string, params map[string]any) (any, error) {
	h, ok := s.handlers[action]
	if !ok {
		return nil, &Error{Tool: s.tool, Action: action, Class: ClassInvalid, Err: ErrUnknownAction}
	}
	out, err := h(ctx, Params(params))
	if err != nil {
		return nil, annotate(err, s.tool, action)
	}
	return out, nil
}

func schema(required []string, props map[string]any) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}
