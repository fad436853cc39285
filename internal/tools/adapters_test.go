package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonServer(t *testing.T, routes map[string]func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for path, h := range routes {
		mux.HandleFunc(path, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

func TestWeatherTool_Current(t *testing.T) {
	srv := jsonServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/weather": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "London", r.URL.Query().Get("q"))
			assert.Equal(t, "k", r.URL.Query().Get("appid"))
			writeJSON(w, 200, `{"name":"London","sys":{"country":"GB"},
				"main":{"temp":12.3,"feels_like":11,"humidity":80},
				"weather":[{"description":"light rain"}],"wind":{"speed":4.1},
				"coord":{"lat":51.5,"lon":-0.12}}`)
		},
	})
	w := NewWeatherTool("k", srv.URL, srv.Client())

	out, err := w.Invoke(context.Background(), "get_current_weather", map[string]any{"city": "London"})
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, "London", m["city"])
	assert.Equal(t, "12.3°C", m["temperature"])
	assert.Equal(t, "light rain", m["description"])
}

func TestWeatherTool_NotFoundAndServerError(t *testing.T) {
	srv := jsonServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/weather": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 404, `{"cod":"404","message":"city not found"}`)
		},
		"/forecast": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 503, `{"message":"unavailable"}`)
		},
	})
	w := NewWeatherTool("k", srv.URL, srv.Client())

	_, err := w.Invoke(context.Background(), "current", map[string]any{"city": "Lodnon"})
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ClassHTTPStatus, te.Class)
	assert.Equal(t, 404, te.StatusCode)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), `city "Lodnon" not found`)

	_, err = w.Invoke(context.Background(), "forecast", map[string]any{"city": "London"})
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 503, te.StatusCode)
	assert.Equal(t, "weather", te.Tool)
	assert.Equal(t, "forecast", te.Action)
}

func TestWeatherTool_RequiresKey(t *testing.T) {
	w := NewWeatherTool("", "http://127.0.0.1:1", nil)
	_, err := w.Invoke(context.Background(), "current", map[string]any{"city": "Paris"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestGitHubTool_SearchAndContributors(t *testing.T) {
	srv := jsonServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/search/repositories": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "machine learning", r.URL.Query().Get("q"))
			assert.Equal(t, "2", r.URL.Query().Get("per_page"))
			writeJSON(w, 200, `{"total_count":2,"items":[
				{"full_name":"a/ml","name":"ml","owner":{"login":"a"},"stargazers_count":10,"html_url":"https://github.com/a/ml"},
				{"full_name":"b/dl","name":"dl","owner":{"login":"b"},"stargazers_count":5,"html_url":"https://github.com/b/dl"}]}`)
		},
		"/repos/a/ml/contributors": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 200, `[{"login":"alice","contributions":42,"html_url":"https://github.com/alice"}]`)
		},
	})
	g := NewGitHubTool("", srv.URL, srv.Client())

	out, err := g.Invoke(context.Background(), "search_repositories", map[string]any{"query": "machine learning", "limit": 2})
	require.NoError(t, err)
	repos := out.(map[string]any)["repositories"].([]any)
	require.Len(t, repos, 2)
	first := repos[0].(map[string]any)
	assert.Equal(t, "a/ml", first["name"])
	assert.Equal(t, "a", first["owner"])
	assert.Equal(t, "https://github.com/a/ml", first["url"])

	out, err = g.Invoke(context.Background(), "get_contributors", map[string]any{"repo": "a/ml"})
	require.NoError(t, err)
	contribs := out.(map[string]any)["contributors"].([]any)
	require.Len(t, contribs, 1)
	assert.Equal(t, "alice", contribs[0].(map[string]any)["username"])
}

func TestGitHubTool_EmptyQuery(t *testing.T) {
	g := NewGitHubTool("", "http://127.0.0.1:1", nil)
	_, err := g.Invoke(context.Background(), "search_repositories", map[string]any{"query": "   "})
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ClassInvalid, te.Class)
	assert.Contains(t, err.Error(), "stars:>1000")
}

func TestCountriesTool(t *testing.T) {
	srv := jsonServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/name/France": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 200, `[{"name":{"common":"France","official":"French Republic"},"capital":["Paris"],
				"region":"Europe","population":67000000,"area":551695,"languages":{"fra":"French"},
				"currencies":{"EUR":{}},"flag":"FR"}]`)
		},
		"/region/oceania": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 200, `[{"name":{"common":"Fiji"},"population":900000},{"name":{"common":"Australia"},"capital":["Canberra"],"population":26000000}]`)
		},
		"/alpha/zz": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 404, `{"status":404,"message":"Not Found"}`)
		},
	})
	c := NewCountriesTool(srv.URL, srv.Client())

	out, err := c.Invoke(context.Background(), "get_country_by_name", map[string]any{"name": "France"})
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, "Paris", m["capital"])
	assert.Equal(t, "N/A", m["subregion"])
	assert.Equal(t, []any{"French"}, m["languages"])

	out, err = c.Invoke(context.Background(), "by_region", map[string]any{"region": "oceania"})
	require.NoError(t, err)
	list := out.(map[string]any)["countries"].([]any)
	assert.Equal(t, "Australia", list[0].(map[string]any)["name"])
	assert.Equal(t, "N/A", list[1].(map[string]any)["capital"])

	_, err = c.Invoke(context.Background(), "get_country_by_code", map[string]any{"code": "zz"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCryptoTool_Price(t *testing.T) {
	srv := jsonServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/simple/price": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("ids") != "bitcoin" {
				writeJSON(w, 200, `{}`)
				return
			}
			writeJSON(w, 200, `{"bitcoin":{"usd":65000,"usd_market_cap":1.2e12,"usd_24h_vol":3e10,"usd_24h_change":-1.234}}`)
		},
		"/search/trending": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 429, `{"error":"rate limited"}`)
		},
	})
	c := NewCryptoTool(srv.URL, srv.Client())

	out, err := c.Invoke(context.Background(), "get_price", map[string]any{"coin_id": "Bitcoin"})
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, float64(65000), m["price"])
	assert.Equal(t, "-1.23%", m["24h_change"])
	assert.Equal(t, "USD", m["currency"])

	_, err = c.Invoke(context.Background(), "get_price", map[string]any{"coin_id": "bitcon"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Invoke(context.Background(), "get_trending", nil)
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 429, te.StatusCode)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestWikipediaTool_SummaryFromQuery(t *testing.T) {
	srv := jsonServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/w/api.php": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 200, `["go lang",["Go (programming language)"],["A language"],["https://en.wikipedia.org/wiki/Go_(programming_language)"]]`)
		},
		"/api/rest_v1/page/summary/": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/rest_v1/page/summary/Go_(programming_language)", r.URL.Path)
			writeJSON(w, 200, `{"title":"Go (programming language)","extract":"Go is a language.",
				"content_urls":{"desktop":{"page":"https://en.wikipedia.org/wiki/Go_(programming_language)"}}}`)
		},
		"/api/rest_v1/page/html/": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(200)
			fmt.Fprint(w, `<html><body><p>Go is <b>fast</b>.</p><script>x()</script></body></html>`)
		},
	})
	wp := NewWikipediaTool(srv.URL, srv.Client())

	out, err := wp.Invoke(context.Background(), "get_summary", map[string]any{"query": "go lang"})
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, "Go is a language.", m["extract"])
	assert.Equal(t, "https://en.wikipedia.org/wiki/Go_(programming_language)", m["url"])

	out, err = wp.Invoke(context.Background(), "search", map[string]any{"query": "go lang"})
	require.NoError(t, err)
	results := out.(map[string]any)["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "A language", results[0].(map[string]any)["description"])

	out, err = wp.Invoke(context.Background(), "get_article", map[string]any{"title": "Go"})
	require.NoError(t, err)
	assert.Equal(t, "Go is fast.", out.(map[string]any)["text"])
}

func TestNewsTool_Suggestion(t *testing.T) {
	srv := jsonServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/top-headlines": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "in", r.URL.Query().Get("country"))
			writeJSON(w, 200, `{"totalResults":0,"articles":[]}`)
		},
		"/everything": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 200, `{"totalResults":1,"articles":[{"title":"T","description":"<b>bold</b> claim",
				"source":{"name":"Wire"},"publishedAt":"2024-01-01","url":"https://news.example/t"}]}`)
		},
	})
	n := NewNewsTool("k", srv.URL, srv.Client())

	out, err := n.Invoke(context.Background(), "get_top_headlines", map[string]any{"country": "in"})
	require.NoError(t, err)
	assert.Contains(t, out.(map[string]any)["suggestion"], "search_news")

	out, err = n.Invoke(context.Background(), "search_news", map[string]any{"query": "elections"})
	require.NoError(t, err)
	a := out.(map[string]any)["articles"].([]any)[0].(map[string]any)
	assert.Equal(t, "bold claim", a["description"])
	assert.Equal(t, "https://news.example/t", a["url"])
}
