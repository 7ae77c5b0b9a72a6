package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routeoptions/route-options/pkg/config"
	"github.com/routeoptions/route-options/pkg/logging"
	"github.com/routeoptions/route-options/pkg/models"
)

const osrmBody = `{"code":"Ok","routes":[
 {"distance":12000,"duration":900,"geometry":{"type":"LineString","coordinates":[[-76.6147,2.4448],[-76.598,2.455]]}},
 {"distance":9000,"duration":1200,"geometry":{"type":"LineString","coordinates":[[-76.6147,2.4448],[-76.598,2.455]]}}
],"waypoints":[]}`

func newTestApp(t *testing.T, overrides map[string]interface{}) *app {
	t.Helper()

	osrmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/route/v1/driving/"))
		assert.Equal(t, "true", r.URL.Query().Get("alternatives"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, osrmBody)
	}))
	t.Cleanup(osrmSrv.Close)

	v, err := config.New()
	require.NoError(t, err)
	v.Set("osrm.base_url", osrmSrv.URL)
	v.Set("metrics.enabled", false)
	for k, val := range overrides {
		v.Set(k, val)
	}
	cfg, err := config.Load(v)
	require.NoError(t, err)

	logger := logging.NewLogger(logging.ERROR, false)
	logger.SetOutput(io.Discard)

	a, err := newApp(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { a.store.Close() })
	return a
}

func TestApp_RouteOptionsEndToEnd(t *testing.T) {
	a := newTestApp(t, nil)

	body := `{"origin":{"lat":2.4448,"lng":-76.6147},"destination":{"lat":2.4550,"lng":-76.5980},"preference":"LOW_FUEL"}`
	req := httptest.NewRequest(http.MethodPost, "/route-options", strings.NewReader(body))
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var resp models.RouteOptionsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Requested)
	assert.Equal(t, 2, resp.Returned)
	assert.Equal(t, "r2", resp.Routes[0].ID)
	assert.Equal(t, 0.675, resp.Routes[0].FuelLiters)
}

func TestApp_AuthProtectsAllButHealth(t *testing.T) {
	a := newTestApp(t, map[string]interface{}{"auth.api_keys": []string{"secret"}})

	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	a.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/queries", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/queries", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestApp_RateLimit(t *testing.T) {
	a := newTestApp(t, map[string]interface{}{
		"rate_limit.enabled": true,
		"rate_limit.rps":     0.001,
		"rate_limit.burst":   1,
	})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		a.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestApp_RateLimitForwardedFor(t *testing.T) {
	for _, trust := range []bool{false, true} {
		a := newTestApp(t, map[string]interface{}{
			"rate_limit.enabled":             true,
			"rate_limit.rps":                 0.001,
			"rate_limit.burst":               1,
			"rate_limit.trust_forwarded_for": trust,
		})

		codes := make([]int, 0, 2)
		for _, xff := range []string{"198.51.100.1", "198.51.100.2"} {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set("X-Forwarded-For", xff)
			w := httptest.NewRecorder()
			a.handler.ServeHTTP(w, req)
			codes = append(codes, w.Code)
		}

		if trust {
			assert.Equal(t, []int{http.StatusOK, http.StatusOK}, codes, "trusted proxy: one bucket per forwarded client")
		} else {
			assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes, "forwarded header must not open a new bucket")
		}
	}
}

func TestParseLatLng(t *testing.T) {
	tests := []struct {
		in      string
		want    models.LatLng
		wantErr bool
	}{
		{"2.4448,-76.6147", models.LatLng{Lat: 2.4448, Lng: -76.6147}, false},
		{" 1 , 2 ", models.LatLng{Lat: 1, Lng: 2}, false},
		{"1", models.LatLng{}, true},
		{"a,b", models.LatLng{}, true},
		{"1,2,3", models.LatLng{}, true},
	}

	for _, tt := range tests {
		got, err := parseLatLng(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestPrintRouteOptions(t *testing.T) {
	var buf bytes.Buffer
	printRouteOptions(&buf, &models.RouteOptionsResponse{
		Preference: models.PreferenceFastest,
		Requested:  3,
		Returned:   1,
		Routes: []models.RouteOption{
			{ID: "r1", DistanceKm: 12, DurationMin: 15, FuelLiters: 0.9, FuelCostCOP: 13500, Score: 15},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "r1")
	assert.Contains(t, out, "13500")
	assert.Contains(t, out, "returned 1 of 3 requested")
}
