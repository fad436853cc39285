package observability

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/taskpilot/internal/engine"
	"github.com/rahul/taskpilot/internal/plan"
)

func decodeEvents(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_ObserverEvents(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, "")
	ctx := engine.WithRunID(context.Background(), "run-1")

	l.WaveStarted(ctx, 0, []plan.StepID{"1", "2"})
	l.StepRetrying(ctx, plan.Step{ID: "1", Tool: "weather", Action: "current"}, 2, time.Second, errors.New("503"))
	l.StepFinished(ctx, engine.ExecutionResult{
		StepID: "2", Tool: "github", Action: "get_contributors", Status: engine.StatusSkipped, BlockedBy: "1",
	})
	l.RunFinished(ctx, []engine.ExecutionResult{{Status: engine.StatusSucceeded}, {Status: engine.StatusSkipped}}, time.Second)

	events := decodeEvents(t, &buf)
	require.Len(t, events, 4)
	assert.Equal(t, "wave", events[0]["type"])
	assert.Equal(t, "run-1", events[0]["task_id"])
	assert.Equal(t, "retry", events[1]["type"])
	assert.EqualValues(t, 1000, events[1]["data"].(map[string]any)["delay_ms"])
	assert.Equal(t, "step", events[2]["type"])
	assert.Equal(t, "1", events[2]["data"].(map[string]any)["blocked_by"])
	assert.Equal(t, "run", events[3]["type"])
	assert.EqualValues(t, 1, events[3]["data"].(map[string]any)["skipped"])
}

func TestLogger_LLMEventsGoToFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "llm.jsonl")
	l := NewLoggerTo(&buf, path)

	l.LogLLM("chat", "task", "prompt", "response", nil)
	l.LogHeartbeat()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
	assert.Contains(t, string(data), `"type":"llm"`)
	assert.Len(t, decodeEvents(t, &buf), 2)
}

func TestMetrics_CountsSteps(t *testing.T) {
	m := NewMetrics(nil)
	ctx := context.Background()

	m.StepRetrying(ctx, plan.Step{Tool: "weather"}, 2, time.Second, nil)
	m.StepFinished(ctx, engine.ExecutionResult{Tool: "weather", Status: engine.StatusSucceeded, Attempts: 2, Elapsed: time.Second})
	m.StepFinished(ctx, engine.ExecutionResult{Tool: "github", Status: engine.StatusSkipped})
	m.RunFinished(ctx, nil, 2*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.steps.WithLabelValues("weather", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.steps.WithLabelValues("github", "skipped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.attempts.WithLabelValues("weather")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("weather")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "taskpilot_run_duration_seconds")
	assert.Contains(t, rec.Body.String(), `taskpilot_steps_total{status="succeeded",tool="weather"} 1`)
}

func TestBeginRun(t *testing.T) {
	end1 := BeginRun("first")
	end2 := BeginRun("second")
	role, task, _ := GetStatus()
	assert.Equal(t, RolePlanning, role)
	assert.Equal(t, "second", task)
	assert.Equal(t, 2, ActiveRuns())

	end1()
	end1()
	assert.Equal(t, 1, ActiveRuns())
	end2()
	role, task, _ = GetStatus()
	assert.Equal(t, RoleIdle, role)
	assert.Empty(t, task)
}

func TestStatusObserver(t *testing.T) {
	before := Snapshot()
	end := BeginRun("weather in Oslo")
	defer end()

	var o StatusObserver
	ctx := context.Background()
	o.WaveStarted(ctx, 1, []plan.StepID{"2"})
	o.StepFinished(ctx, engine.ExecutionResult{Status: engine.StatusSucceeded})
	o.StepFinished(ctx, engine.ExecutionResult{Status: engine.StatusSkipped})
	o.RunFinished(ctx, nil, time.Second)

	s := Snapshot()
	assert.Equal(t, RoleExecuting, s.Role)
	assert.Equal(t, 1, s.Wave)
	assert.Equal(t, before.StepsOK+1, s.StepsOK)
	assert.Equal(t, before.StepsFailed+1, s.StepsFailed)
	assert.Equal(t, before.RunsDone+1, s.RunsDone)
}

func TestRenderStatus(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	line := renderStatus(StatusSnapshot{
		Role:          RoleExecuting,
		Task:          "compare the weather in three european capitals",
		ActiveRuns:    2,
		Wave:          1,
		LastHeartbeat: now.Add(-10 * time.Second),
		RunsDone:      4,
		StepsOK:       9,
		StepsFailed:   1,
	}, now, 90*time.Second, 12.5)

	assert.Contains(t, line, "HEALTHY")
	assert.Contains(t, line, "compare the weather in... (+1) wave 1")
	assert.Contains(t, line, "runs 4")
	assert.Contains(t, line, "steps 9 ok 1 failed")
	assert.Contains(t, line, "1m30s 12.5MB")

	idle := renderStatus(StatusSnapshot{Role: RoleIdle, LastHeartbeat: now.Add(-2 * time.Minute)}, now, 0, 1)
	assert.Contains(t, idle, "OFFLINE")
	assert.Contains(t, idle, "Waiting...")
}
