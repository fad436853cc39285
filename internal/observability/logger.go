package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rahul/taskpilot/internal/engine"
	"github.com/rahul/taskpilot/internal/plan"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypePlan      EventType = "plan"
	EventTypeWave      EventType = "wave"
	EventTypeStep      EventType = "step"
	EventTypeRetry     EventType = "retry"
	EventTypeRun       EventType = "run"
	EventTypeAggregate EventType = "aggregate"
	EventTypeVerify    EventType = "verify"
	EventTypeToolCall  EventType = "tool_call"
	EventTypeHeartbeat EventType = "heartbeat"
	EventTypeLLM       EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	ChatID    string    `json:"chat_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger writes one JSON event per line. It also satisfies engine.Observer
// so a run's lifecycle ends up in the same stream.
type Logger struct {
	mu         sync.Mutex
	out        io.Writer
	llmLogPath string
	maxSize    int64
}

func NewLogger() *Logger {
	return NewLoggerTo(os.Stdout, filepath.Join("logs", "llm.jsonl"))
}

// NewLoggerTo writes events to out. LLM events are also appended to
// llmLogPath unless it is empty.
func NewLoggerTo(out io.Writer, llmLogPath string) *Logger {
	return &Logger{
		out:        out,
		llmLogPath: llmLogPath,
		maxSize:    10 * 1024 * 1024, // 10MB
	}
}

// Log emits a structured JSON event.
func (l *Logger) Log(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"error": "failed to marshal event: %v"}`, err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, string(data))

	if evt.Type == EventTypeLLM && l.llmLogPath != "" {
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// keep one .old file
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogPlan(chatID, taskID string, p *plan.Plan) {
	l.Log(Event{
		Type:   EventTypePlan,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]any{
			"task":  p.Task,
			"steps": len(p.Steps),
			"tools": p.Tools(),
		},
	})
}

func (l *Logger) LogAggregate(chatID, taskID string, agg *engine.AggregateResult) {
	l.Log(Event{
		Type:   EventTypeAggregate,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]any{
			"overall_success": agg.OverallSuccess,
			"sources":         len(agg.Sources),
			"notes":           agg.Notes,
			"failures":        len(agg.Failures()),
		},
	})
}

func (l *Logger) LogVerify(chatID, taskID string, verified bool, notes []string) {
	l.Log(Event{
		Type:   EventTypeVerify,
		ChatID: chatID,
		TaskID: taskID,
		Data:   map[string]any{"verified": verified, "notes": notes},
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}

func (l *Logger) LogLLM(chatID, taskID string, prompt any, response string, toolCalls any) {
	l.Log(Event{
		Type:   EventTypeLLM,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]any{
			"prompt":     prompt,
			"response":   response,
			"tool_calls": toolCalls,
		},
	})
}

// engine.Observer

func (l *Logger) WaveStarted(ctx context.Context, wave int, steps []plan.StepID) {
	l.Log(Event{
		Type:   EventTypeWave,
		TaskID: engine.RunID(ctx),
		Data:   map[string]any{"wave": wave, "steps": steps},
	})
}

func (l *Logger) StepRetrying(ctx context.Context, step plan.Step, attempt int, delay time.Duration, err error) {
	l.Log(Event{
		Type:   EventTypeRetry,
		TaskID: engine.RunID(ctx),
		Data: map[string]any{
			"step":     step.ID,
			"tool":     step.Tool,
			"action":   step.Action,
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
			"error":    fmt.Sprint(err),
		},
	})
}

func (l *Logger) StepFinished(ctx context.Context, res engine.ExecutionResult) {
	data := map[string]any{
		"step":       res.StepID,
		"tool":       res.Tool,
		"action":     res.Action,
		"status":     res.Status,
		"attempts":   res.Attempts,
		"elapsed_ms": res.Elapsed.Milliseconds(),
	}
	if res.Error != nil {
		data["kind"] = res.Error.Kind
		data["error"] = res.Error.Error()
	}
	if res.BlockedBy != "" {
		data["blocked_by"] = res.BlockedBy
	}
	l.Log(Event{Type: EventTypeStep, TaskID: engine.RunID(ctx), Data: data})
}

func (l *Logger) RunFinished(ctx context.Context, results []engine.ExecutionResult, elapsed time.Duration) {
	counts := map[engine.Status]int{}
	for _, r := range results {
		counts[r.Status]++
	}
	l.Log(Event{
		Type:   EventTypeRun,
		TaskID: engine.RunID(ctx),
		Data: map[string]any{
			"steps":      len(results),
			"succeeded":  counts[engine.StatusSucceeded],
			"failed":     counts[engine.StatusFailed],
			"skipped":    counts[engine.StatusSkipped],
			"elapsed_ms": elapsed.Milliseconds(),
		},
	})
}

var _ engine.Observer = (*Logger)(nil)
