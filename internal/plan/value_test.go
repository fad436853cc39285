package plan

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_PlanJSON(t *testing.T) {
	raw := `{
		"task": "repos and their contributors",
		"steps": [
			{"step_number": 1, "tool": "github", "action": "search_repositories",
			 "params": {"query": "machine learning", "limit": 3}},
			{"id": "2", "tool": "github", "action": "get_contributors",
			 "params": {"owner": {"$ref": "1", "path": "results.0.owner"},
			            "repo": "{{steps.1.results.0.name}}"}}
		],
		"estimated_tools": ["github"]
	}`

	p, err := Parse([]byte(raw))
	require.NoError(t, err)
	require.Len(t, p.Steps, 2)

	assert.Equal(t, StepID("1"), p.Steps[0].ID)
	assert.Equal(t, "machine learning", p.Steps[0].Params["query"].Literal())
	assert.Equal(t, float64(3), p.Steps[0].Params["limit"].Literal())

	owner, ok := p.Steps[1].Params["owner"].Ref()
	require.True(t, ok)
	assert.Equal(t, Ref{Step: "1", Path: []string{"results", "0", "owner"}}, owner)

	repo, ok := p.Steps[1].Params["repo"].Ref()
	require.True(t, ok)
	assert.Equal(t, StepID("1"), repo.Step)
	assert.Equal(t, []string{"results", "0", "name"}, repo.Path)

	assert.Equal(t, []StepID{"1"}, p.Steps[1].DependsOn())
	assert.Empty(t, p.Steps[0].DependsOn())
}

func TestValue_PlaceholderOnlyWhenWholeString(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte(`"weather in {{steps.1.city}}"`), &v))
	assert.False(t, v.IsRef())
	assert.Equal(t, "weather in {{steps.1.city}}", v.Literal())

	require.NoError(t, json.Unmarshal([]byte(`"{{ steps.7 }}"`), &v))
	ref, ok := v.Ref()
	require.True(t, ok)
	assert.Equal(t, StepID("7"), ref.Step)
	assert.Empty(t, ref.Path)
}

func TestValue_MarshalRoundTripKeepsReference(t *testing.T) {
	step := Step{ID: "2", Tool: "wikipedia", Action: "get_summary", Params: map[string]Value{
		"title": StepOutput("1", "results", "0", "title"),
		"lang":  Literal("en"),
	}}
	b, err := json.Marshal(step)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"id":"2","tool":"wikipedia","action":"get_summary","params":{"lang":"en","title":{"$ref":"1","path":"results.0.title"}}}`,
		string(b))

	var back Step
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, []StepID{"1"}, back.DependsOn())
}

func TestResolveParams(t *testing.T) {
	type repo struct {
		Name    string `json:"name"`
		HTMLURL string `json:"html_url"`
	}
	outputs := map[StepID]any{
		"1": map[string]any{
			"results": []any{
				map[string]any{"title": "Go (programming language)"},
			},
		},
		"2": []repo{{Name: "taskpilot", HTMLURL: "https://github.com/rahul/taskpilot"}},
	}

	s := Step{ID: "3", Tool: "wikipedia", Params: map[string]Value{
		"title": StepOutput("1", "results", "0", "title"),
		"repo":  StepOutput("2", "0", "name"),
		"whole": StepOutput("1"),
		"lang":  Literal("en"),
	}}

	params, err := s.ResolveParams(outputs)
	require.NoError(t, err)
	assert.Equal(t, "Go (programming language)", params["title"])
	assert.Equal(t, "taskpilot", params["repo"])
	assert.Equal(t, outputs["1"], params["whole"])
	assert.Equal(t, "en", params["lang"])
}

func TestResolveParams_Unresolvable(t *testing.T) {
	outputs := map[StepID]any{"1": map[string]any{"results": []any{}}}

	s := Step{ID: "2", Params: map[string]Value{"title": StepOutput("1", "results", "0", "title")}}
	_, err := s.ResolveParams(outputs)
	assert.ErrorIs(t, err, ErrUnresolvable)
	assert.ErrorContains(t, err, `field "0" not found at "results"`)

	s = Step{ID: "3", Params: map[string]Value{"x": StepOutput("9")}}
	_, err = s.ResolveParams(outputs)
	assert.ErrorIs(t, err, ErrUnresolvable)
}

func TestNestedPlaceholders(t *testing.T) {
	var s Step
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "3", "tool": "wikipedia", "action": "get_summary",
		"params": {
			"titles": ["{{steps.1.title}}", "Rust"],
			"filter": {"owner": "{{steps.2.0.owner}}", "lang": "en"}
		}
	}`), &s))
	assert.Equal(t, []StepID{"2", "1"}, s.DependsOn())

	outputs := map[StepID]any{
		"1": map[string]any{"title": "Go (programming language)"},
		"2": []any{map[string]any{"owner": "golang"}},
	}
	params, err := s.ResolveParams(outputs)
	require.NoError(t, err)
	assert.Equal(t, []any{"Go (programming language)", "Rust"}, params["titles"])
	assert.Equal(t, map[string]any{"owner": "golang", "lang": "en"}, params["filter"])

	_, err = s.ResolveParams(map[StepID]any{"1": outputs["1"]})
	assert.ErrorIs(t, err, ErrUnresolvable)
	assert.ErrorContains(t, err, `param "filter"`)
}
