package osrm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/routeoptions/route-options/pkg/models"
	"github.com/routeoptions/route-options/pkg/retry"
	"github.com/routeoptions/route-options/pkg/routing"
	"github.com/routeoptions/route-options/pkg/tracing"
)

// DefaultBaseURL is the OSRM deployment used when none is configured
const DefaultBaseURL = "https://osrm-popayan-production.up.railway.app"

// DefaultTimeout bounds a single OSRM request
const DefaultTimeout = 20 * time.Second

// ErrUnavailable means OSRM could not be reached at all
var ErrUnavailable = errors.New("osrm unavailable")

// StatusError is returned when OSRM answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s for url: %s", e.Status, e.URL)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Route is one route returned by OSRM
type Route struct {
	Distance   float64         `json:"distance"`
	Duration   float64         `json:"duration"`
	Weight     float64         `json:"weight"`
	WeightName string          `json:"weight_name"`
	Geometry   json.RawMessage `json:"geometry"`
}

// Waypoint is a snapped input coordinate
type Waypoint struct {
	Name     string     `json:"name"`
	Location [2]float64 `json:"location"`
	Distance float64    `json:"distance"`
}

// RouteResponse is the body of /route/v1
type RouteResponse struct {
	Code      string     `json:"code"`
	Message   string     `json:"message,omitempty"`
	Routes    []Route    `json:"routes"`
	Waypoints []Waypoint `json:"waypoints"`
}

// RoutingRoutes converts OSRM routes for option building
func (r *RouteResponse) RoutingRoutes() []routing.Route {
	out := make([]routing.Route, 0, len(r.Routes))
	for _, rt := range r.Routes {
		out = append(out, routing.Route{
			DistanceMeters:  rt.Distance,
			DurationSeconds: rt.Duration,
			Geometry:        rt.Geometry,
		})
	}
	return out
}

// Config holds OSRM client settings
type Config struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Profile string        `mapstructure:"profile" yaml:"profile"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Retry   retry.Config  `mapstructure:"retry" yaml:"retry"`
}

// DefaultConfig returns the client defaults
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Profile: "driving",
		Timeout: DefaultTimeout,
		Retry:   retry.DefaultConfig(),
	}
}

// Client talks to an OSRM HTTP server
type Client struct {
	baseURL    string
	profile    string
	httpClient *http.Client
	retry      retry.Config
	tracer     trace.Tracer
}

// NewClient creates a new OSRM client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Profile == "" {
		cfg.Profile = "driving"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		profile: cfg.Profile,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retry:  cfg.Retry,
		tracer: noop.NewTracerProvider().Tracer("osrm"),
	}
}

// SetTracer makes the client emit spans for backend calls
func (c *Client) SetTracer(t trace.Tracer) {
	c.tracer = t
}

// BaseURL returns the configured server URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Route requests driving alternatives between origin and destination
func (c *Client) Route(ctx context.Context, origin, destination models.LatLng) (*RouteResponse, error) {
	ctx, span := c.tracer.Start(ctx, "osrm.route",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("osrm.origin", origin.String()),
			attribute.String("osrm.destination", destination.String()),
		),
	)
	defer span.End()

	reqURL := c.routeURL(origin, destination)

	var result *RouteResponse
	err := retry.Do(ctx, c.retry, func() error {
		resp, err := c.do(ctx, reqURL)
		if err != nil {
			if shouldRetry(err) {
				return err
			}
			return retry.Permanent(err)
		}
		result = resp
		return nil
	})
	if err != nil {
		tracing.SetError(ctx, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("osrm.routes", len(result.Routes)))
	return result, nil
}

func (c *Client) routeURL(origin, destination models.LatLng) string {
	params := url.Values{}
	params.Set("alternatives", "true")
	params.Set("overview", "full")
	params.Set("geometries", "geojson")
	params.Set("steps", "false")

	return fmt.Sprintf("%s/route/v1/%s/%s;%s?%s",
		c.baseURL, c.profile, origin.String(), destination.String(), params.Encode())
}

func (c *Client) do(ctx context.Context, reqURL string) (*RouteResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	tracing.InjectHTTPHeaders(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isConnectError(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        reqURL,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var out RouteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode OSRM response: %w", err)
	}
	return &out, nil
}

func shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	return errors.Is(err, ErrUnavailable) || retry.IsRetryable(err)
}

// isConnectError reports whether the request never reached the server
func isConnectError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
