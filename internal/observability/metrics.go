package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets   = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	engineDurationBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
	bodySizeBuckets       = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Expression and template metrics
	ExpressionEvaluationsTotal *prometheus.CounterVec
	TemplateResolutionsTotal   *prometheus.CounterVec

	// Entity context metrics
	EntityContextBuildsTotal   *prometheus.CounterVec
	EntityContextBuildDuration prometheus.Histogram
	EntityCacheHitsTotal       *prometheus.CounterVec
	EntityCacheMissesTotal     *prometheus.CounterVec

	// Workflow run metrics
	RunsStartedTotal      *prometheus.CounterVec
	RunsCompletedTotal    *prometheus.CounterVec
	NodeExecutionsTotal   *prometheus.CounterVec
	NodeExecutionDuration *prometheus.HistogramVec

	// System metrics
	DefinitionReloadTotal *prometheus.CounterVec
	DefinitionsLoaded     prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowbase_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowbase_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowbase_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowbase_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Expressions and templates
		ExpressionEvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowbase_expression_evaluations_total",
			Help: "Total number of condition expression evaluations by result (true, false, error).",
		}, []string{"result"}),
		TemplateResolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowbase_template_resolutions_total",
			Help: "Total number of template reference resolutions by root and outcome.",
		}, []string{"root", "outcome"}),

		// Entity context
		EntityContextBuildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowbase_entity_context_builds_total",
			Help: "Total number of entity context builds.",
		}, []string{"status"}),
		EntityContextBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowbase_entity_context_build_duration_seconds",
			Help:    "Entity context build duration in seconds.",
			Buckets: engineDurationBuckets,
		}),
		EntityCacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowbase_entity_cache_hits_total",
			Help: "Total entity lookup cache hits.",
		}, []string{"kind"}),
		EntityCacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowbase_entity_cache_misses_total",
			Help: "Total entity lookup cache misses.",
		}, []string{"kind"}),

		// Runs
		RunsStartedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowbase_runs_started_total",
			Help: "Total number of workflow runs started.",
		}, []string{"workflow_id"}),
		RunsCompletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowbase_runs_completed_total",
			Help: "Total number of workflow runs that reached a final status.",
		}, []string{"workflow_id", "final_status"}),
		NodeExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowbase_node_executions_total",
			Help: "Total number of workflow node executions.",
		}, []string{"node_type", "status"}),
		NodeExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowbase_node_execution_duration_seconds",
			Help:    "Workflow node execution duration in seconds.",
			Buckets: engineDurationBuckets,
		}, []string{"node_type"}),

		// System
		DefinitionReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowbase_definition_reload_total",
			Help: "Total definition reloads.",
		}, []string{"status"}),
		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowbase_definitions_loaded",
			Help: "Number of loaded workflow definitions.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Expressions and templates
		m.ExpressionEvaluationsTotal,
		m.TemplateResolutionsTotal,
		// Entity context
		m.EntityContextBuildsTotal,
		m.EntityContextBuildDuration,
		m.EntityCacheHitsTotal,
		m.EntityCacheMissesTotal,
		// Runs
		m.RunsStartedTotal,
		m.RunsCompletedTotal,
		m.NodeExecutionsTotal,
		m.NodeExecutionDuration,
		// System
		m.DefinitionReloadTotal,
		m.DefinitionsLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordExpressionEvaluation records one condition evaluation. result is
// "true", "false" or "error".
func (m *Metrics) RecordExpressionEvaluation(result string) {
	m.ExpressionEvaluationsTotal.WithLabelValues(result).Inc()
}

// RecordTemplateResolution records the outcome of resolving one template
// reference.
func (m *Metrics) RecordTemplateResolution(root, outcome string) {
	m.TemplateResolutionsTotal.WithLabelValues(root, outcome).Inc()
}

// RecordEntityContextBuild records an entity context build.
func (m *Metrics) RecordEntityContextBuild(status string, duration time.Duration) {
	m.EntityContextBuildsTotal.WithLabelValues(status).Inc()
	m.EntityContextBuildDuration.Observe(duration.Seconds())
}

// RecordEntityCacheHit records an entity lookup cache hit.
func (m *Metrics) RecordEntityCacheHit(kind string) {
	m.EntityCacheHitsTotal.WithLabelValues(kind).Inc()
}

// RecordEntityCacheMiss records an entity lookup cache miss.
func (m *Metrics) RecordEntityCacheMiss(kind string) {
	m.EntityCacheMissesTotal.WithLabelValues(kind).Inc()
}

// RecordRunStart records a workflow run start.
func (m *Metrics) RecordRunStart(workflowID string) {
	m.RunsStartedTotal.WithLabelValues(workflowID).Inc()
}

// RecordRunCompletion records a run reaching a final status.
func (m *Metrics) RecordRunCompletion(workflowID, finalStatus string) {
	m.RunsCompletedTotal.WithLabelValues(workflowID, finalStatus).Inc()
}

// RecordNodeExecution records the execution of one workflow node.
func (m *Metrics) RecordNodeExecution(nodeType, status string, duration time.Duration) {
	m.NodeExecutionsTotal.WithLabelValues(nodeType, status).Inc()
	m.NodeExecutionDuration.WithLabelValues(nodeType).Observe(duration.Seconds())
}

// RecordDefinitionReload records a definition reload.
func (m *Metrics) RecordDefinitionReload(status string) {
	m.DefinitionReloadTotal.WithLabelValues(status).Inc()
}

// SetDefinitionsLoaded sets the number of loaded definitions.
func (m *Metrics) SetDefinitionsLoaded(count float64) {
	m.DefinitionsLoaded.Set(count)
}

// MetricsMiddleware records request count, latency and body sizes labelled
// by the chi route pattern, so /v1/runs/{runId} is one series rather than one
// per run.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), writtenStatus(ww), time.Since(start),
			max(int(r.ContentLength), 0), ww.BytesWritten())
	})
}

// writtenStatus is the status a handler sent; handlers that never call
// WriteHeader or Write answer 200.
func writtenStatus(ww middleware.WrapResponseWriter) int {
	if s := ww.Status(); s != 0 {
		return s
	}
	return http.StatusOK
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a /metrics handler serving the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern is the matched chi pattern, or the raw path for requests that
// never reached a chi router.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.TrimSuffix(strings.Join(rctx.RoutePatterns, ""), "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}
