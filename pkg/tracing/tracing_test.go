package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/trace"
)

func TestInitTracer_Disabled(t *testing.T) {
	p, err := InitTracer(context.Background(), Config{ServiceName: "route-options-test"})
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.Tracer() == nil {
		t.Fatal("Expected a tracer even when disabled")
	}
}

func TestHTTPMiddleware_SetsSpanContext(t *testing.T) {
	p, err := InitTracer(context.Background(), Config{ServiceName: "route-options-test"})
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}
	defer p.Shutdown(context.Background())

	var sawSpan bool
	router := mux.NewRouter()
	router.Use(HTTPMiddleware(p))
	router.HandleFunc("/queries/{id}", func(w http.ResponseWriter, r *http.Request) {
		sawSpan = trace.SpanContextFromContext(r.Context()).IsValid()
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/queries/abc", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusTeapot {
		t.Errorf("Expected handler status to pass through, got %d", w.Code)
	}
	if !sawSpan {
		t.Error("Expected a valid span context inside the handler")
	}
	if w.Header().Get("Traceparent") == "" {
		t.Error("Expected traceparent header on the response")
	}
}

func TestInjectHTTPHeaders(t *testing.T) {
	p, _ := InitTracer(context.Background(), Config{ServiceName: "route-options-test"})
	defer p.Shutdown(context.Background())

	ctx, span := p.StartSpan(context.Background(), "outgoing")
	defer span.End()

	req := httptest.NewRequest(http.MethodGet, "http://osrm.local/route", nil)
	InjectHTTPHeaders(ctx, req)

	if req.Header.Get("Traceparent") == "" {
		t.Error("Expected traceparent header to be injected")
	}
}
