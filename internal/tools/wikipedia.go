package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const wikipediaURL = "https://en.wikipedia.org"

// WikipediaTool searches articles and fetches summaries.
type WikipediaTool struct {
	client  *apiClient
	policy  *bluemonday.Policy
	actions *actionSet
}

func NewWikipediaTool(baseURL string, hc *http.Client) *WikipediaTool {
	if baseURL == "" {
		baseURL = wikipediaURL
	}
	w := &WikipediaTool{client: newAPIClient(baseURL, hc), policy: bluemonday.StrictPolicy()}

	w.actions = newActionSet(w.Name())
	w.actions.add(Action{
		Name:        "search",
		Description: "Search article titles",
		Parameters: schema([]string{"query"}, map[string]any{
			"query": prop("string", "Search terms"),
			"limit": prop("integer", "Number of results (default 5)"),
		}),
	}, w.search)
	w.actions.add(Action{
		Name:        "get_summary",
		Aliases:     []string{"summary"},
		Description: "Lead summary of an article; with only a query, the best search hit is summarised",
		Parameters: schema(nil, map[string]any{
			"title": prop("string", "Exact article title"),
			"query": prop("string", "Search terms, used when title is missing"),
		}),
	}, w.summary)
	w.actions.add(Action{
		Name:        "get_article",
		Aliases:     []string{"article"},
		Description: "Plain text of an article, truncated",
		Parameters: schema([]string{"title"}, map[string]any{
			"title":     prop("string", "Exact article title"),
			"max_chars": prop("integer", "Maximum characters returned (default 4000)"),
		}),
	}, w.article)
	return w
}

func (w *WikipediaTool) Name() string { return "wikipedia" }

func (w *WikipediaTool) Description() string {
	return "Wikipedia article search, summaries and article text."
}

func (w *WikipediaTool) Actions() []Action { return w.actions.actions }

func (w *WikipediaTool) Invoke(ctx context.Context, action string, params map[string]any) (any, error) {
	return w.actions.invoke(ctx, action, params)
}

func (w *WikipediaTool) search(ctx context.Context, p Params) (any, error) {
	query, err := p.Required("query")
	if err != nil {
		return nil, err
	}
	limit := clampInt(p.Int("limit", 5), 1, 20)
	results, err := w.opensearch(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"query": query, "results": results}, nil
}

// opensearch answers [query, [titles], [descriptions], [urls]].
func (w *WikipediaTool) opensearch(ctx context.Context, query string, limit int) ([]any, error) {
	q := url.Values{}
	q.Set("action", "opensearch")
	q.Set("search", query)
	q.Set("limit", fmt.Sprint(limit))
	q.Set("format", "json")

	var data []any
	if err := w.client.getJSON(ctx, "/w/api.php", q, &data); err != nil {
		return nil, err
	}
	results := []any{}
	if len(data) < 4 {
		return results, nil
	}
	titles, _ := data[1].([]any)
	descs, _ := data[2].([]any)
	urls, _ := data[3].([]any)
	for i, t := range titles {
		r := map[string]any{"title": t, "description": "", "url": ""}
		if i < len(descs) {
			r["description"] = descs[i]
		}
		if i < len(urls) {
			r["url"] = urls[i]
		}
		results = append(results, r)
	}
	return results, nil
}

func pageTitle(title string) string {
	return url.PathEscape(strings.ReplaceAll(strings.TrimSpace(title), " ", "_"))
}

func (w *WikipediaTool) summary(ctx context.Context, p Params) (any, error) {
	title := p.String("title", "")
	if title == "" {
		query := p.String("query", "")
		if query == "" {
			return nil, InvalidParams("title or query is required")
		}
		hits, err := w.opensearch(ctx, query, 1)
		if err != nil {
			return nil, err
		}
		if len(hits) == 0 {
			return nil, &Error{Class: ClassHTTPStatus, StatusCode: http.StatusNotFound,
				Err: fmt.Errorf("%w: no article matches '%s'", ErrNotFound, query)}
		}
		title = fmt.Sprint(hits[0].(map[string]any)["title"])
	}

	var data struct {
		Title       string `json:"title"`
		Extract     string `json:"extract"`
		ContentURLs struct {
			Desktop struct {
				Page string `json:"page"`
			} `json:"desktop"`
		} `json:"content_urls"`
		Thumbnail struct {
			Source string `json:"source"`
		} `json:"thumbnail"`
	}
	if err := w.client.getJSON(ctx, "/api/rest_v1/page/summary/"+pageTitle(title), nil, &data); err != nil {
		if te, ok := err.(*Error); ok && isNotFound(err) {
			te.Err = fmt.Errorf("%w: article '%s' not found", ErrNotFound, title)
		}
		return nil, err
	}
	out := map[string]any{
		"title":   data.Title,
		"extract": data.Extract,
		"url":     data.ContentURLs.Desktop.Page,
	}
	if data.Thumbnail.Source != "" {
		out["thumbnail"] = data.Thumbnail.Source
	}
	return out, nil
}

func (w *WikipediaTool) article(ctx context.Context, p Params) (any, error) {
	title, err := p.Required("title")
	if err != nil {
		return nil, err
	}
	maxChars := clampInt(p.Int("max_chars", 4000), 200, 50000)

	u := w.client.baseURL + "/api/rest_v1/page/html/" + pageTitle(title)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", w.client.userAgent)
	resp, err := w.client.http.Do(req)
	if err != nil {
		return nil, NetworkError(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, NetworkError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, StatusError(resp.StatusCode, apiMessage(body))
	}

	text := strings.Join(strings.Fields(w.policy.Sanitize(string(body))), " ")
	if len(text) > maxChars {
		text = text[:maxChars] + " ... (truncated)"
	}
	return map[string]any{
		"title": title,
		"text":  text,
		"url":   w.client.baseURL + "/wiki/" + pageTitle(title),
	}, nil
}
