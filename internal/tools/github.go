package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const githubAPIURL = "https://api.github.com"

// GitHubTool searches repositories and reads repository metadata.
type GitHubTool struct {
	client  *apiClient
	actions *actionSet
}

func NewGitHubTool(token, baseURL string, hc *http.Client) *GitHubTool {
	if baseURL == "" {
		baseURL = githubAPIURL
	}
	g := &GitHubTool{client: newAPIClient(baseURL, hc)}
	g.client.headers["Accept"] = "application/vnd.github+json"
	if token != "" {
		g.client.headers["Authorization"] = "Bearer " + token
	}

	g.actions = newActionSet(g.Name())
	g.actions.add(Action{
		Name:        "search_repositories",
		Aliases:     []string{"search"},
		Description: "Search repositories; for top repositories use a query like \"stars:>1000\"",
		Parameters: schema([]string{"query"}, map[string]any{
			"query": prop("string", "Search query, must not be empty"),
			"limit": prop("integer", "Number of results (default 5)"),
			"sort":  prop("string", "stars, forks or updated (default stars)"),
		}),
	}, g.search)
	g.actions.add(Action{
		Name:        "get_repository",
		Aliases:     []string{"repository"},
		Description: "Details of one repository",
		Parameters: schema([]string{"owner", "repo"}, map[string]any{
			"owner": prop("string", "Repository owner"),
			"repo":  prop("string", "Repository name, or owner/name"),
		}),
	}, g.repository)
	g.actions.add(Action{
		Name:        "get_contributors",
		Aliases:     []string{"contributors"},
		Description: "Top contributors of a repository",
		Parameters: schema([]string{"owner", "repo"}, map[string]any{
			"owner": prop("string", "Repository owner"),
			"repo":  prop("string", "Repository name, or owner/name"),
			"limit": prop("integer", "Number of contributors (default 5)"),
		}),
	}, g.contributors)
	return g
}

func (g *GitHubTool) Name() string { return "github" }

func (g *GitHubTool) Description() string {
	return "GitHub repository search, repository details and contributors."
}

func (g *GitHubTool) Actions() []Action { return g.actions.actions }

func (g *GitHubTool) Invoke(ctx context.Context, action string, params map[string]any) (any, error) {
	return g.actions.invoke(ctx, action, params)
}

type ghRepo struct {
	FullName    string   `json:"full_name"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Stars       int      `json:"stargazers_count"`
	Forks       int      `json:"forks_count"`
	Watchers    int      `json:"watchers_count"`
	Language    string   `json:"language"`
	HTMLURL     string   `json:"html_url"`
	Topics      []string `json:"topics"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
	Owner       struct {
		Login string `json:"login"`
	} `json:"owner"`
}

func (r ghRepo) summary() map[string]any {
	topics := make([]any, len(r.Topics))
	for i, t := range r.Topics {
		topics[i] = t
	}
	return map[string]any{
		"name":        r.FullName,
		"owner":       r.Owner.Login,
		"repo":        r.Name,
		"description": r.Description,
		"stars":       r.Stars,
		"forks":       r.Forks,
		"language":    r.Language,
		"url":         r.HTMLURL,
		"topics":      topics,
	}
}

func (g *GitHubTool) search(ctx context.Context, p Params) (any, error) {
	query := strings.TrimSpace(p.String("query", ""))
	if query == "" {
		return nil, InvalidParams("query cannot be empty; for top repositories use a query like 'stars:>1000' or a language/topic")
	}
	limit := clampInt(p.Int("limit", 5), 1, 50)

	q := url.Values{}
	q.Set("q", query)
	q.Set("sort", p.String("sort", "stars"))
	q.Set("order", "desc")
	q.Set("per_page", fmt.Sprint(limit))

	var data struct {
		TotalCount int      `json:"total_count"`
		Items      []ghRepo `json:"items"`
	}
	if err := g.client.getJSON(ctx, "/search/repositories", q, &data); err != nil {
		return nil, err
	}

	repos := make([]any, 0, limit)
	for i, item := range data.Items {
		if i >= limit {
			break
		}
		repos = append(repos, item.summary())
	}
	return map[string]any{
		"query":        query,
		"total_count":  data.TotalCount,
		"repositories": repos,
	}, nil
}

// ownerRepo accepts owner+repo or a single "owner/repo".
func ownerRepo(p Params) (string, string, error) {
	owner := strings.TrimSpace(p.String("owner", ""))
	repo := strings.TrimSpace(p.String("repo", ""))
	if owner == "" {
		if o, r, ok := strings.Cut(repo, "/"); ok {
			owner, repo = o, r
		}
	} else if _, r, ok := strings.Cut(repo, "/"); ok {
		repo = r
	}
	if owner == "" || repo == "" {
		return "", "", InvalidParams("owner and repo are required")
	}
	return owner, repo, nil
}

func (g *GitHubTool) repository(ctx context.Context, p Params) (any, error) {
	owner, repo, err := ownerRepo(p)
	if err != nil {
		return nil, err
	}
	var data ghRepo
	if err := g.client.getJSON(ctx, "/repos/"+url.PathEscape(owner)+"/"+url.PathEscape(repo), nil, &data); err != nil {
		return nil, err
	}
	out := data.summary()
	out["watchers"] = data.Watchers
	out["created_at"] = data.CreatedAt
	out["updated_at"] = data.UpdatedAt
	return out, nil
}

func (g *GitHubTool) contributors(ctx context.Context, p Params) (any, error) {
	owner, repo, err := ownerRepo(p)
	if err != nil {
		return nil, err
	}
	limit := clampInt(p.Int("limit", 5), 1, 100)
	q := url.Values{}
	q.Set("per_page", fmt.Sprint(limit))

	var data []struct {
		Login         string `json:"login"`
		Contributions int    `json:"contributions"`
		HTMLURL       string `json:"html_url"`
	}
	path := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo) + "/contributors"
	if err := g.client.getJSON(ctx, path, q, &data); err != nil {
		return nil, err
	}

	list := make([]any, 0, limit)
	for i, c := range data {
		if i >= limit {
			break
		}
		list = append(list, map[string]any{
			"username":      c.Login,
			"contributions": c.Contributions,
			"profile_url":   c.HTMLURL,
		})
	}
	return map[string]any{
		"repository":   owner + "/" + repo,
		"contributors": list,
	}, nil
}
