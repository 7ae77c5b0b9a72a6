package osrm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/routeoptions/route-options/pkg/models"
	"github.com/routeoptions/route-options/pkg/retry"
)

const twoRoutes = `{
	"code":"Ok",
	"routes":[
		{"distance":2534.2,"duration":412.7,"weight":412.7,"weight_name":"routability","geometry":{"type":"LineString","coordinates":[[-76.6147,2.4448],[-76.598,2.455]]}},
		{"distance":2810.9,"duration":398.1,"weight":398.1,"weight_name":"routability","geometry":{"type":"LineString","coordinates":[[-76.6147,2.4448],[-76.6,2.45],[-76.598,2.455]]}}
	],
	"waypoints":[{"name":"Calle 5","location":[-76.6147,2.4448],"distance":1.2},{"name":"Carrera 9","location":[-76.598,2.455],"distance":0.4}]
}`

var (
	popayanOrigin      = models.LatLng{Lat: 2.4448, Lng: -76.6147}
	popayanDestination = models.LatLng{Lat: 2.455, Lng: -76.598}
)

func testConfig(baseURL string, retries int) Config {
	return Config{
		BaseURL: baseURL,
		Timeout: 2 * time.Second,
		Retry: retry.Config{
			MaxRetries:     retries,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			Multiplier:     2,
		},
	}
}

func TestRoute_BuildsRequestAndDecodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/route/v1/driving/-76.6147,2.4448;-76.598,2.455" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		for key, want := range map[string]string{
			"alternatives": "true",
			"overview":     "full",
			"geometries":   "geojson",
			"steps":        "false",
		} {
			if got := q.Get(key); got != want {
				t.Errorf("Query %s = %q, want %q", key, got, want)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(twoRoutes))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL+"/", 0))
	if client.BaseURL() != server.URL {
		t.Errorf("Expected trailing slash trimmed, got %s", client.BaseURL())
	}

	resp, err := client.Route(context.Background(), popayanOrigin, popayanDestination)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if len(resp.Routes) != 2 {
		t.Fatalf("Expected 2 routes, got %d", len(resp.Routes))
	}
	if resp.Routes[1].Distance != 2810.9 {
		t.Errorf("Expected distance 2810.9, got %v", resp.Routes[1].Distance)
	}

	converted := resp.RoutingRoutes()
	if converted[0].DurationSeconds != 412.7 || len(converted[0].Geometry) == 0 {
		t.Errorf("Unexpected conversion: %+v", converted[0])
	}
}

func TestRoute_StatusErrorIsNotRetried(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"InvalidQuery","message":"Query string malformed"}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL, 3))
	_, err := client.Route(context.Background(), popayanOrigin, popayanDestination)

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Expected StatusError, got %T: %v", err, err)
	}
	if se.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", se.StatusCode)
	}
	if n := atomic.LoadInt32(&attempts); n != 1 {
		t.Errorf("Expected 1 attempt for a 400, got %d", n)
	}
}

func TestRoute_RetriesOnTransientFailure(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(twoRoutes))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL, 3))
	resp, err := client.Route(context.Background(), popayanOrigin, popayanDestination)
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if len(resp.Routes) != 2 {
		t.Errorf("Expected 2 routes, got %d", len(resp.Routes))
	}
	if n := atomic.LoadInt32(&attempts); n != 3 {
		t.Errorf("Expected 3 attempts, got %d", n)
	}
}

func TestRoute_ConnectionRefused(t *testing.T) {
	// Grab a free port and close it so nothing listens there
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	client := NewClient(testConfig("http://"+addr, 1))
	_, err = client.Route(context.Background(), popayanOrigin, popayanDestination)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable, got %v", err)
	}
}

func TestRoute_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL, 2))
	_, err := client.Route(context.Background(), popayanOrigin, popayanDestination)
	if err == nil {
		t.Fatal("Expected decode error")
	}
	if errors.Is(err, ErrUnavailable) {
		t.Error("Decode errors must not be reported as unavailable")
	}
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(Config{})
	if client.BaseURL() != DefaultBaseURL {
		t.Errorf("Expected default base URL, got %s", client.BaseURL())
	}
	if client.httpClient.Timeout != DefaultTimeout {
		t.Errorf("Expected default timeout, got %v", client.httpClient.Timeout)
	}
}
