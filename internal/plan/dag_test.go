package plan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStep(id, tool string, params map[string]Value) Step {
	return Step{ID: StepID(id), Tool: tool, Action: "get", Params: params}
}

func TestAnalyze_Waves(t *testing.T) {
	p := &Plan{
		Task: "weather and repos",
		Steps: []Step{
			newStep("1", "weather", map[string]Value{"city": Literal("London")}),
			newStep("2", "github", map[string]Value{"query": Literal("python")}),
			newStep("3", "github", map[string]Value{"repo": StepOutput("2", "results", "0", "full_name")}),
			newStep("4", "news", map[string]Value{
				"a": StepOutput("1", "city"),
				"b": StepOutput("3", "name"),
			}),
		},
	}

	d, err := Analyze(p)
	require.NoError(t, err)
	require.Equal(t, 4, d.Len())

	waves := d.Waves()
	require.Len(t, waves, 3)
	assert.Equal(t, []StepID{"1", "2"}, waves[0])
	assert.Equal(t, []StepID{"3"}, waves[1])
	assert.Equal(t, []StepID{"4"}, waves[2])

	n, ok := d.Node("4")
	require.True(t, ok)
	assert.Equal(t, 2, n.Wave)
	assert.Equal(t, []StepID{"1", "3"}, n.Deps)
	assert.Equal(t, []StepID{"3"}, d.Dependents("2"))
}

func TestAnalyze_IndependentStepsShareWaveZero(t *testing.T) {
	p := &Plan{Steps: []Step{
		newStep("a", "weather", nil),
		newStep("b", "crypto", nil),
		newStep("c", "countries", nil),
	}}
	d, err := Analyze(p)
	require.NoError(t, err)
	require.Len(t, d.Waves(), 1)
	assert.Equal(t, []StepID{"a", "b", "c"}, d.Waves()[0])
}

func TestAnalyze_Errors(t *testing.T) {
	tests := []struct {
		name    string
		plan    *Plan
		kind    ErrorKind
		wantErr error
	}{
		{
			name:    "empty plan",
			plan:    &Plan{},
			kind:    KindEmptyPlan,
			wantErr: ErrEmptyPlan,
		},
		{
			name: "duplicate ids",
			plan: &Plan{Steps: []Step{
				newStep("1", "weather", nil),
				newStep("1", "github", nil),
			}},
			kind:    KindDuplicateStep,
			wantErr: ErrDuplicateStep,
		},
		{
			name: "missing tool",
			plan: &Plan{Steps: []Step{{ID: "1"}}},
			kind:    KindInvalidStep,
			wantErr: ErrInvalidStep,
		},
		{
			name: "unknown reference",
			plan: &Plan{Steps: []Step{
				newStep("1", "github", map[string]Value{"repo": StepOutput("9", "name")}),
			}},
			kind:    KindDanglingReference,
			wantErr: ErrDanglingReference,
		},
		{
			name: "unknown reference nested in a list",
			plan: &Plan{Steps: []Step{
				newStep("1", "wikipedia", map[string]Value{"titles": Literal([]any{"{{steps.9.title}}"})}),
			}},
			kind:    KindDanglingReference,
			wantErr: ErrDanglingReference,
		},
		{
			name: "forward reference",
			plan: &Plan{Steps: []Step{
				newStep("1", "github", map[string]Value{"repo": StepOutput("2")}),
				newStep("2", "github", nil),
			}},
			kind:    KindDanglingReference,
			wantErr: ErrDanglingReference,
		},
		{
			name: "mutual reference",
			plan: &Plan{Steps: []Step{
				newStep("1", "github", map[string]Value{"x": StepOutput("2")}),
				newStep("2", "github", map[string]Value{"y": StepOutput("1")}),
			}},
			kind:    KindCyclicDependency,
			wantErr: ErrCyclicDependency,
		},
		{
			name: "self reference",
			plan: &Plan{Steps: []Step{
				newStep("1", "github", map[string]Value{"x": StepOutput("1")}),
			}},
			kind:    KindCyclicDependency,
			wantErr: ErrCyclicDependency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Analyze(tt.plan)
			require.Error(t, err)
			assert.Nil(t, d)

			var perr *PlanError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.kind, perr.Kind)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAnalyze_CyclePath(t *testing.T) {
	p := &Plan{Steps: []Step{
		newStep("1", "t", map[string]Value{"x": StepOutput("3")}),
		newStep("2", "t", map[string]Value{"x": StepOutput("1")}),
		newStep("3", "t", map[string]Value{"x": StepOutput("2")}),
	}}
	_, err := Analyze(p)
	var perr *PlanError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, []StepID{"1", "3", "2", "1"}, perr.Cycle)
	assert.Contains(t, err.Error(), "1 -> 3 -> 2 -> 1")
}
