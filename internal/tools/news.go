package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

const newsAPIURL = "https://newsapi.org/v2"

// NewsTool reads headlines and searches articles through NewsAPI.
type NewsTool struct {
	apiKey  string
	client  *apiClient
	policy  *bluemonday.Policy
	now     func() time.Time
	actions *actionSet
}

func NewNewsTool(apiKey, baseURL string, hc *http.Client) *NewsTool {
	if baseURL == "" {
		baseURL = newsAPIURL
	}
	n := &NewsTool{
		apiKey: apiKey,
		client: newAPIClient(baseURL, hc),
		policy: bluemonday.StrictPolicy(),
		now:    time.Now,
	}

	n.actions = newActionSet(n.Name())
	n.actions.add(Action{
		Name:        "get_top_headlines",
		Aliases:     []string{"headlines", "top_headlines"},
		Description: "Top headlines, optionally filtered by query, category or country",
		Parameters: schema(nil, map[string]any{
			"query":    prop("string", "Keywords"),
			"category": prop("string", "business, entertainment, general, health, science, sports or technology"),
			"country":  prop("string", "Two-letter country code (default us, ignored with query)"),
			"limit":    prop("integer", "Number of articles (default 5)"),
		}),
	}, n.headlines)
	n.actions.add(Action{
		Name:        "search_news",
		Aliases:     []string{"search"},
		Description: "Search recent articles",
		Parameters: schema([]string{"query"}, map[string]any{
			"query":     prop("string", "Keywords"),
			"from_date": prop("string", "YYYY-MM-DD, default seven days ago"),
			"language":  prop("string", "Language code (default en)"),
			"limit":     prop("integer", "Number of articles (default 5)"),
		}),
	}, n.search)
	return n
}

func (n *NewsTool) Name() string { return "news" }

func (n *NewsTool) Description() string {
	return "News headlines and article search (NewsAPI)."
}

func (n *NewsTool) Actions() []Action { return n.actions.actions }

func (n *NewsTool) Invoke(ctx context.Context, action string, params map[string]any) (any, error) {
	return n.actions.invoke(ctx, action, params)
}

type newsResponse struct {
	TotalResults int `json:"totalResults"`
	Articles     []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Author      string `json:"author"`
		PublishedAt string `json:"publishedAt"`
		URL         string `json:"url"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

func (n *NewsTool) articles(data newsResponse, limit int) []any {
	out := make([]any, 0, limit)
	for i, a := range data.Articles {
		if i >= limit {
			break
		}
		out = append(out, map[string]any{
			"title":        a.Title,
			"description":  n.policy.Sanitize(a.Description),
			"source":       a.Source.Name,
			"author":       a.Author,
			"published_at": a.PublishedAt,
			"url":          a.URL,
		})
	}
	return out
}

func (n *NewsTool) configured() error {
	if n.apiKey == "" {
		return &Error{Class: ClassInvalid, Err: fmt.Errorf("%w: NEWS_API_KEY is not set", ErrNotConfigured)}
	}
	return nil
}

func (n *NewsTool) headlines(ctx context.Context, p Params) (any, error) {
	if err := n.configured(); err != nil {
		return nil, err
	}
	limit := clampInt(p.Int("limit", 5), 1, 100)
	query := p.String("query", "")
	category := p.String("category", "")
	country := p.String("country", "us")

	q := url.Values{}
	q.Set("apiKey", n.apiKey)
	q.Set("pageSize", fmt.Sprint(limit))
	if query != "" {
		q.Set("q", query)
	}
	if category != "" {
		q.Set("category", category)
	}
	// NewsAPI ignores country when a query is given.
	if query == "" && country != "" {
		q.Set("country", country)
	}

	var data newsResponse
	if err := n.client.getJSON(ctx, "/top-headlines", q, &data); err != nil {
		return nil, err
	}
	out := map[string]any{
		"total_results": data.TotalResults,
		"query":         query,
		"articles":      n.articles(data, limit),
	}
	if data.TotalResults == 0 && query == "" && country != "" {
		out["suggestion"] = fmt.Sprintf("No headlines found for country '%s'. Try search_news with a specific query about the country instead.", country)
	}
	return out, nil
}

func (n *NewsTool) search(ctx context.Context, p Params) (any, error) {
	if err := n.configured(); err != nil {
		return nil, err
	}
	query, err := p.Required("query")
	if err != nil {
		return nil, err
	}
	limit := clampInt(p.Int("limit", 5), 1, 100)

	q := url.Values{}
	q.Set("apiKey", n.apiKey)
	q.Set("q", query)
	q.Set("from", p.String("from_date", n.now().AddDate(0, 0, -7).Format("2006-01-02")))
	q.Set("language", p.String("language", "en"))
	q.Set("sortBy", "relevancy")
	q.Set("pageSize", fmt.Sprint(limit))

	var data newsResponse
	if err := n.client.getJSON(ctx, "/everything", q, &data); err != nil {
		return nil, err
	}
	out := map[string]any{
		"total_results": data.TotalResults,
		"query":         query,
		"articles":      n.articles(data, limit),
	}
	if data.TotalResults == 0 {
		out["suggestion"] = fmt.Sprintf("No articles matched '%s'. Try broader keywords or an earlier from_date.", query)
	}
	return out, nil
}
