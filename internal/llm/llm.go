// Package llm holds the small amount of glue shared by everything that talks
// to a language model: provider construction, single-turn completion, JSON
// extraction from replies and event logging.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/rahul/taskpilot/internal/observability"
)

var (
	ErrNoChoices = errors.New("model returned no choices")
	ErrNoJSON    = errors.New("no JSON object in model reply")
)

// Provider describes an OpenAI-compatible endpoint.
type Provider struct {
	Name    string
	APIKey  string
	Model   string
	BaseURL string
}

// New builds a model for the provider. OpenRouter and other compatible
// gateways go through the openai client with a custom base URL.
func New(p Provider) (llms.Model, error) {
	switch p.Name {
	case "openai", "openrouter", "":
		opts := []openai.Option{
			openai.WithToken(p.APIKey),
			openai.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("provider %s is not supported", p.Name)
	}
}

// Messages builds a system + human conversation.
func Messages(system, user string) []llms.MessageContent {
	var messages []llms.MessageContent
	if system != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(system)},
		})
	}
	return append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(user)},
	})
}

// Complete runs one system + user exchange and returns the first choice.
func Complete(ctx context.Context, model llms.Model, system, user string, opts ...llms.CallOption) (*llms.ContentChoice, error) {
	resp, err := model.GenerateContent(ctx, Messages(system, user), opts...)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return nil, ErrNoChoices
	}
	return resp.Choices[0], nil
}

// ExtractJSON returns the first JSON object in s, looking inside a fenced
// code block when there is one.
func ExtractJSON(s string) (string, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			s = strings.TrimSpace(rest[:j])
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", ErrNoJSON
	}
	return s[start : end+1], nil
}

// Logged wraps a model so that every exchange is written as an llm event.
type Logged struct {
	llms.Model
	Logger *observability.Logger
	// Source tags the events, e.g. "planner".
	Source string
}

func (l *Logged) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	resp, err := l.Model.GenerateContent(ctx, messages, options...)
	if l.Logger == nil {
		return resp, err
	}
	var content string
	var calls []llms.ToolCall
	if err != nil {
		content = "error: " + err.Error()
	} else if resp != nil && len(resp.Choices) > 0 && resp.Choices[0] != nil {
		content = resp.Choices[0].Content
		calls = resp.Choices[0].ToolCalls
	}
	l.Logger.LogLLM(l.Source, "", messages, content, calls)
	return resp, err
}

func (l *Logged) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, l, prompt, options...)
}
