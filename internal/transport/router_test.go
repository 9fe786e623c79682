package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pitabwire/flowbase/internal/config"
	"github.com/pitabwire/flowbase/internal/observability"
	"github.com/pitabwire/flowbase/internal/openapi"
	"github.com/pitabwire/flowbase/model"
)

// testDeps returns Dependencies with sensible defaults for testing.
func testDeps() Dependencies {
	return Dependencies{Config: config.Defaults(), Gatherer: prometheus.NewRegistry()}
}

func TestNewRouter_health(t *testing.T) {
	r := NewRouter(testDeps())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestNewRouter_ready(t *testing.T) {
	deps := testDeps()
	deps.Readiness = observability.ReadinessChecks{
		Definitions: func() (int, string) { return 1, "abc" },
	}
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ready", nil))
	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestNewRouter_notReadyWithoutDefinitions(t *testing.T) {
	r := NewRouter(testDeps())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestNewRouter_metrics(t *testing.T) {
	r := NewRouter(testDeps())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestNewRouter_routesAreRegistered(t *testing.T) {
	r := NewRouter(testDeps())

	routes := []struct {
		method string
		path   string
	}{
		{"POST", "/v1/expressions/evaluate"},
		{"POST", "/v1/expressions/parse"},
		{"POST", "/v1/templates/resolve"},
		{"POST", "/v1/filters/validate"},
		{"GET", "/v1/entities/{entityId}/context"},
		{"GET", "/v1/workflows"},
		{"GET", "/v1/workflows/{workflowId}"},
		{"POST", "/v1/runs"},
		{"GET", "/v1/runs"},
		{"GET", "/v1/runs/{runId}"},
		{"GET", "/v1/runs/{runId}/events"},
		{"POST", "/v1/runs/{runId}/run"},
		{"POST", "/v1/runs/{runId}/nodes/{nodeId}/execute"},
	}

	registered := map[string]bool{}
	err := chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		registered[method+" "+route] = true
		return nil
	})
	if err != nil {
		t.Fatalf("Walk error: %v", err)
	}
	for _, rt := range routes {
		if !registered[rt.method+" "+rt.path] {
			t.Errorf("route %s %s not registered", rt.method, rt.path)
		}
	}
}

func TestNewRouter_routesAreDocumented(t *testing.T) {
	api, err := openapi.Load(context.Background())
	if err != nil {
		t.Fatalf("openapi.Load error: %v", err)
	}
	deps := testDeps()
	deps.API = api
	r := NewRouter(deps)

	documented := 0
	err = chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if !strings.HasPrefix(route, "/v1/") {
			return nil
		}
		if _, ok := api.Route(method, route); !ok {
			t.Errorf("route %s %s missing from the API document", method, route)
		}
		documented++
		return nil
	})
	if err != nil {
		t.Fatalf("Walk error: %v", err)
	}
	if documented != len(api.OperationIDs()) {
		t.Errorf("router has %d /v1 routes, document has %d operations", documented, len(api.OperationIDs()))
	}
}

func TestNewRouter_servesAPIDocument(t *testing.T) {
	api, err := openapi.Load(context.Background())
	if err != nil {
		t.Fatalf("openapi.Load error: %v", err)
	}
	deps := testDeps()
	deps.API = api

	w := httptest.NewRecorder()
	NewRouter(deps).ServeHTTP(w, httptest.NewRequest("GET", "/openapi.json", nil))
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	NewRouter(testDeps()).ServeHTTP(w, httptest.NewRequest("GET", "/openapi.json", nil))
	if w.Code != 404 {
		t.Errorf("status without API = %d, want 404", w.Code)
	}
}

func TestValidateBody_rejectsSchemaViolations(t *testing.T) {
	api, err := openapi.Load(context.Background())
	if err != nil {
		t.Fatalf("openapi.Load error: %v", err)
	}
	deps := testDeps()
	deps.API = api
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/v1/expressions/evaluate",
		strings.NewReader(`{"expression":"a = 1","context":"flat"}`)))
	if w.Code != 422 {
		t.Fatalf("status = %d, want 422; body %s", w.Code, w.Body.String())
	}

	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Error.Code != model.ErrValidationError {
		t.Errorf("code = %s, want %s", body.Error.Code, model.ErrValidationError)
	}
	if len(body.Error.Details) != 1 || body.Error.Details[0].Field != "context" {
		t.Errorf("details = %+v, want one violation on context", body.Error.Details)
	}
}

func TestValidateBody_passesValidAndMalformedBodies(t *testing.T) {
	api, err := openapi.Load(context.Background())
	if err != nil {
		t.Fatalf("openapi.Load error: %v", err)
	}
	deps := testDeps()
	deps.API = api
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/v1/expressions/evaluate",
		strings.NewReader(`{"expression":"a = 1","context":{"a":1}}`)))
	if w.Code != 200 {
		t.Errorf("valid body status = %d, want 200; body %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/v1/expressions/evaluate", strings.NewReader("{")))
	if w.Code != 400 {
		t.Errorf("malformed body status = %d, want 400", w.Code)
	}
}

func TestNewRouter_unknownRoute(t *testing.T) {
	r := NewRouter(testDeps())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/nothing", nil))
	if w.Code != 404 {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// --- Middleware tests ---

func TestRecovery_returns500(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := Recovery(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != 500 {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Errorf("expected one panic log, got %v", logs.All())
	}
}

func TestRecovery_reraisesAbortHandler(t *testing.T) {
	h := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", rec)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	t.Error("ServeHTTP returned without panicking")
}

func TestCorrelate(t *testing.T) {
	var seen string
	var rctx *model.RequestContext
	h := Correlate(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFrom(r.Context())
		rctx = model.RequestContextFrom(r.Context())
	}))

	tests := []struct {
		name    string
		inbound string
		reuse   bool
	}{
		{"generated when absent", "", false},
		{"inbound reused", "abc-123", true},
		{"opaque token reused", "svc:job.42_a", true},
		{"spaces rejected", "two words", false},
		{"oversized rejected", strings.Repeat("x", 129), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.inbound != "" {
				req.Header.Set("X-Correlation-Id", tt.inbound)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if seen == "" || w.Header().Get("X-Correlation-Id") != seen {
				t.Fatalf("id = %q, header = %q", seen, w.Header().Get("X-Correlation-Id"))
			}
			if (seen == tt.inbound) != tt.reuse {
				t.Errorf("id = %q, inbound %q, reuse = %v", seen, tt.inbound, tt.reuse)
			}
			if rctx == nil || rctx.CorrelationID != seen {
				t.Errorf("request context = %+v", rctx)
			}
		})
	}
}

func TestRequestLogging_includesCorrelationID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	h := Correlate(logger)(RequestLogging(logger)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
			_, _ = w.Write([]byte("short and stout"))
		}),
	))

	req := httptest.NewRequest("GET", "/v1/workflows", nil)
	req.Header.Set("X-Correlation-Id", "corr-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request").All()
	if len(entries) != 1 {
		t.Fatalf("request logs = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["correlation_id"] != "corr-1" {
		t.Errorf("correlation_id = %v", fields["correlation_id"])
	}
	if fields["status"] != int64(http.StatusTeapot) {
		t.Errorf("status = %v", fields["status"])
	}
	if fields["bytes"] != int64(len("short and stout")) {
		t.Errorf("bytes = %v", fields["bytes"])
	}
}

func TestRequestLogging_serverErrorsAtErrorLevel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := RequestLogging(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if logs.FilterLevelExact(zapcore.ErrorLevel).Len() != 1 {
		t.Errorf("expected one error entry, got %v", logs.All())
	}
}

func TestRouter_securityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	NewRouter(testDeps()).ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestMaxBody_rejectsLargeBodies(t *testing.T) {
	deps := testDeps()
	deps.Config.Server.MaxBodyBytes = 16
	r := NewRouter(deps)

	body := `{"expression":"` + strings.Repeat("a", 64) + `"}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/v1/expressions/parse", strings.NewReader(body)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestNewRouter_instrumentationSeesRoutePattern(t *testing.T) {
	var patterns []string
	deps := testDeps()
	deps.Instrumentation = []func(http.Handler) http.Handler{
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r)
				patterns = append(patterns, chi.RouteContext(r.Context()).RoutePattern())
			})
		},
	}
	r := NewRouter(deps)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/workflows/onboarding", nil))

	if len(patterns) != 1 || patterns[0] != "/v1/workflows/{workflowId}" {
		t.Errorf("patterns = %v", patterns)
	}
}
