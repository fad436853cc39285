package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

type ScraperTool struct {
	UserAgent string
	client    *http.Client
	policy    *bluemonday.Policy
	maxChars  int
	actions   *actionSet
}

func NewScraperTool(hc *http.Client) *ScraperTool {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	s := &ScraperTool{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
		client:    hc,
		policy:    bluemonday.StrictPolicy(),
		maxChars:  50000,
	}
	s.actions = newActionSet(s.Name())
	s.actions.add(Action{
		Name:        "extract",
		Aliases:     []string{"scrape", "fetch"},
		Description: "Fetch a webpage and extract the main content as clean text",
		Parameters: schema([]string{"url"}, map[string]any{
			"url": prop("string", "The full URL of the webpage to scrape (e.g., https://example.com/article)"),
		}),
	}, s.extract)
	return s
}

func (s *ScraperTool) Name() string {
	return "scraper"
}

func (s *ScraperTool) Description() string {
	return "Fetch a webpage URL and extract the main content as clean, sanitized text."
}

func (s *ScraperTool) Actions() []Action { return s.actions.actions }

func (s *ScraperTool) Invoke(ctx context.Context, action string, params map[string]any) (any, error) {
	return s.actions.invoke(ctx, action, params)
}

func (s *ScraperTool) extract(ctx context.Context, p Params) (any, error) {
	raw, err := p.Required("url")
	if err != nil {
		return nil, err
	}
	parsedURL, err := url.Parse(raw)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, InvalidParams("url %q is not absolute", raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, NetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, StatusError(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse article: %w", err)
	}

	// Strip anything readability left behind.
	content := s.policy.Sanitize(article.TextContent)
	if len(content) > s.maxChars {
		content = content[:s.maxChars] + "\n... (content truncated) ..."
	}

	return map[string]any{
		"title":   article.Title,
		"excerpt": article.Excerpt,
		"content": content,
		"url":     raw,
	}, nil
}
