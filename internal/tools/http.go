package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultUserAgent = "taskpilot/1.0 (+https://github.com/rahul/taskpilot)"

// apiClient performs JSON GET requests for the REST adapters. It never
// retries; failures are reported as *Error for the engine to classify.
type apiClient struct {
	http      *http.Client
	baseURL   string
	userAgent string
	headers   map[string]string
}

func newAPIClient(baseURL string, hc *http.Client) *apiClient {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &apiClient{
		http:      hc,
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: defaultUserAgent,
		headers:   map[string]string{},
	}
}

func (c *apiClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return NetworkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return NetworkError(fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return StatusError(resp.StatusCode, apiMessage(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// apiMessage pulls a human readable message out of an error body.
func apiMessage(body []byte) string {
	var msg struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(body, &msg); err == nil {
		if msg.Message != "" {
			return msg.Message
		}
		if s, ok := msg.Error.(string); ok && s != "" {
			return s
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// isNotFound reports a 404 from the upstream API.
func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// remarshal converts a decoded JSON value into a typed struct.
func remarshal(in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
