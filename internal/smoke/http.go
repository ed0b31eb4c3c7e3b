package smoke

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/paulmach/orb/geojson"
)

// HTTPClient wraps http.Client with timeout
type HTTPClient struct {
	client *http.Client
}

// newHTTPClient creates a new HTTP client with timeout
func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

// Get performs a GET request and returns the body of a 200 response.
func (c *HTTPClient) Get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", target, err)
	}
	if resp.StatusCode != StatusOK {
		return nil, fmt.Errorf("GET %s: status %d: %s", target, resp.StatusCode, body)
	}
	return body, nil
}

// fetchYears reads the year options the service derived from its dataset.
func fetchYears(ctx context.Context, c *HTTPClient, baseURL string) ([]string, error) {
	body, err := c.Get(ctx, baseURL+"/api/years")
	if err != nil {
		return nil, err
	}
	var resp struct {
		Years []string `json:"years"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode years: %w", err)
	}
	return resp.Years, nil
}

// fetchCount returns how many stories the service serves for year.
func fetchCount(ctx context.Context, c *HTTPClient, baseURL, year string) (int, error) {
	target := baseURL + "/data/stories.geojson"
	if year != "" {
		target += "?year=" + url.QueryEscape(year)
	}
	body, err := c.Get(ctx, target)
	if err != nil {
		return 0, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return 0, fmt.Errorf("decode stories: %w", err)
	}
	return len(fc.Features), nil
}
