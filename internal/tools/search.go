package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/tools/duckduckgo"
)

// webSearcher is the part of the DuckDuckGo client the tool needs.
type webSearcher interface {
	Call(ctx context.Context, input string) (string, error)
}

type SearchTool struct {
	client  webSearcher
	actions *actionSet
}

func NewSearchTool(maxResults int) (*SearchTool, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	ddg, err := duckduckgo.New(maxResults, duckduckgo.DefaultUserAgent)
	if err != nil {
		return nil, err
	}
	return newSearchTool(ddg), nil
}

func newSearchTool(client webSearcher) *SearchTool {
	s := &SearchTool{client: client}
	s.actions = newActionSet(s.Name())
	s.actions.add(Action{
		Name:        "web",
		Aliases:     []string{"search", "query"},
		Description: "Search the web for real-time information",
		Parameters: schema([]string{"query"}, map[string]any{
			"query": prop("string", "The search query to look up"),
		}),
	}, s.web)
	return s
}

func (s *SearchTool) Name() string {
	return "search"
}

func (s *SearchTool) Description() string {
	return "Search the web using DuckDuckGo for real-time information."
}

func (s *SearchTool) Actions() []Action { return s.actions.actions }

func (s *SearchTool) Invoke(ctx context.Context, action string, params map[string]any) (any, error) {
	return s.actions.invoke(ctx, action, params)
}

func (s *SearchTool) web(ctx context.Context, p Params) (any, error) {
	query, err := p.Required("query")
	if err != nil {
		return nil, err
	}
	res, err := s.client.Call(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NetworkError(err)
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return map[string]any{
		"query":   query,
		"results": parseDuckDuckGo(res),
		"raw":     res,
	}, nil
}

// parseDuckDuckGo splits the client's text rendering into entries. Each
// entry is a "Title: ...\nDescription: ...\nURL: ..." block.
func parseDuckDuckGo(res string) []any {
	out := []any{}
	var cur map[string]any
	flush := func() {
		if cur != nil {
			out = append(out, cur)
			cur = nil
		}
	}
	for _, line := range strings.Split(res, "\n") {
		line = strings.TrimSpace(line)
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "title":
			flush()
			cur = map[string]any{"title": val}
		case "description":
			if cur != nil {
				cur["description"] = val
			}
		case "url":
			if cur != nil {
				cur["url"] = val
			}
		}
	}
	flush()
	return out
}
