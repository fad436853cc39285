// Package llmtest provides a scripted llms.Model for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// Model replies with Responses in order, repeating the last one. Err, when
// set, is returned instead.
type Model struct {
	mu        sync.Mutex
	Responses []*llms.ContentChoice
	Err       error
	// Calls records the messages of every request.
	Calls [][]llms.MessageContent
}

// Text returns a model that always answers with content.
func Text(content ...string) *Model {
	m := &Model{}
	for _, c := range content {
		m.Responses = append(m.Responses, &llms.ContentChoice{Content: c})
	}
	return m
}

// ToolCall returns a model that answers with one function call.
func ToolCall(name, arguments string) *Model {
	return &Model{Responses: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			ID:           "call_1",
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: name, Arguments: arguments},
		}},
	}}}
}

// Failing returns a model whose every call fails with err.
func Failing(err error) *Model {
	if err == nil {
		err = errors.New("model unavailable")
	}
	return &Model{Err: err}
}

func (m *Model) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, messages)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return &llms.ContentResponse{}, nil
	}
	idx := len(m.Calls) - 1
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{m.Responses[idx]}}, nil
}

func (m *Model) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// CallCount reports how many requests were made.
func (m *Model) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastPrompt joins the text parts of the most recent request.
func (m *Model) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return ""
	}
	var out string
	for _, msg := range m.Calls[len(m.Calls)-1] {
		for _, p := range msg.Parts {
			if t, ok := p.(llms.TextContent); ok {
				out += t.Text + "\n"
			}
		}
	}
	return out
}
