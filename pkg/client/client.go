package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/routeoptions/route-options/pkg/models"
	"github.com/routeoptions/route-options/pkg/retry"
)

// APIError is a non-2xx answer from the API
type APIError struct {
	StatusCode int
	Detail     json.RawMessage
}

func (e *APIError) Error() string {
	var msg string
	if err := json.Unmarshal(e.Detail, &msg); err == nil {
		return fmt.Sprintf("API error (status %d): %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, string(e.Detail))
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	OK          bool   `json:"ok"`
	API         string `json:"api"`
	OSRMBaseURL string `json:"osrm_base_url"`
}

// OSRMTestResponse is the body of GET /osrm-test
type OSRMTestResponse struct {
	OK          bool `json:"ok"`
	RoutesFound int  `json:"routes_found"`
}

// QueriesResponse is the body of GET /queries
type QueriesResponse struct {
	Queries []models.RouteQuery `json:"queries"`
	Count   int                 `json:"count"`
}

// Client talks to a running route options API
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	retryConfig retry.Config
}

// NewClient creates a new API client
func NewClient(baseURL, apiKey string, tlsConfig *tls.Config) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		retryConfig: retry.DefaultConfig(),
	}
}

// SetRetryConfig replaces the retry policy used for read requests
func (c *Client) SetRetryConfig(cfg retry.Config) {
	c.retryConfig = cfg
}

// Health calls GET /health
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.get(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OSRMTest calls GET /osrm-test
func (c *Client) OSRMTest(ctx context.Context) (*OSRMTestResponse, error) {
	var out OSRMTestResponse
	if err := c.get(ctx, "/osrm-test", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RouteOptions calls POST /route-options. The body is sent as built by the
// caller so server-side defaults apply to anything left out.
func (c *Client) RouteOptions(ctx context.Context, body map[string]interface{}) (*models.RouteOptionsResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var out models.RouteOptionsResponse
	if err := c.do(ctx, http.MethodPost, "/route-options", data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListQueries calls GET /queries
func (c *Client) ListQueries(ctx context.Context, limit int) (*QueriesResponse, error) {
	path := "/queries"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var out QueriesResponse
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetQuery calls GET /queries/{id}
func (c *Client) GetQuery(ctx context.Context, id string) (*models.RouteQuery, error) {
	var out models.RouteQuery
	if err := c.get(ctx, "/queries/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueryStats calls GET /queries/stats
func (c *Client) QueryStats(ctx context.Context) (*models.QueryStats, error) {
	var out models.QueryStats
	if err := c.get(ctx, "/queries/stats", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// get retries idempotent reads on transport errors and 5xx answers
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return retry.Do(ctx, c.retryConfig, func() error {
		err := c.do(ctx, http.MethodGet, path, nil, out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
			return retry.Permanent(err)
		}
		return err
	})
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to API: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope struct {
			Detail json.RawMessage `json:"detail"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil || len(envelope.Detail) == 0 {
			envelope.Detail, _ = json.Marshal(strings.TrimSpace(string(data)))
		}
		return &APIError{StatusCode: resp.StatusCode, Detail: envelope.Detail}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return retry.Permanent(fmt.Errorf("failed to parse response: %w", err))
	}
	return nil
}
