package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/flowbase/internal/config"
	"github.com/pitabwire/flowbase/internal/definition"
	"github.com/pitabwire/flowbase/internal/entitycontext"
	"github.com/pitabwire/flowbase/internal/expression"
	"github.com/pitabwire/flowbase/internal/observability"
	"github.com/pitabwire/flowbase/internal/openapi"
	"github.com/pitabwire/flowbase/internal/template"
	"github.com/pitabwire/flowbase/internal/workflow"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config    *config.Config
	Logger    *zap.Logger
	Registry  *definition.Registry
	Engine    *workflow.Engine
	Resolver  *template.Resolver
	Contexts  *entitycontext.Builder
	Readiness observability.ReadinessChecks
	// API, when set, is served at /openapi.json and validates request bodies.
	API *openapi.Index
	// Gatherer backs /metrics; nil means the default Prometheus registry.
	Gatherer prometheus.Gatherer
	// Instrumentation runs ahead of every other middleware, inside the chi
	// router so route patterns are known when it records.
	Instrumentation []func(http.Handler) http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints skip request
// logging and the handler timeout.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	resolver := deps.Resolver
	if resolver == nil {
		resolver = template.NewResolver()
	}

	var parseOpts []expression.ParseOption
	if deps.Config != nil && !deps.Config.Engine.StrictExpressions {
		parseOpts = append(parseOpts, expression.WithPermissive())
	}

	r := chi.NewRouter()

	r.Use(deps.Instrumentation...)
	r.Use(Recovery(logger))
	r.Use(Correlate(logger))
	r.Use(middleware.SetHeader("X-Content-Type-Options", "nosniff"))
	r.Use(middleware.SetHeader("X-Frame-Options", "DENY"))
	r.Use(middleware.SetHeader("Cache-Control", "no-store"))

	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", observability.HandlerFor(deps.Gatherer))
	} else {
		r.Method(http.MethodGet, "/metrics", observability.Handler())
	}
	if deps.API != nil {
		r.Method(http.MethodGet, "/openapi.json", deps.API.Handler())
	}
	validated := func(operationID string) func(http.Handler) http.Handler {
		return ValidateBody(deps.API, operationID)
	}

	r.Group(func(r chi.Router) {
		r.Use(RequestLogging(logger))
		if deps.Config != nil {
			r.Use(Deadline(deps.Config.Server.HandlerTimeout))
			if n := deps.Config.Server.MaxBodyBytes; n > 0 {
				r.Use(middleware.RequestSize(n))
			}
		}

		r.Route("/v1", func(r chi.Router) {
			r.With(validated("evaluateExpression")).Post("/expressions/evaluate", handleExpressionEvaluate(parseOpts))
			r.With(validated("parseExpression")).Post("/expressions/parse", handleExpressionParse(parseOpts))
			r.With(validated("resolveTemplate")).Post("/templates/resolve", handleTemplateResolve(resolver, deps.Engine))
			r.With(validated("validateFilter")).Post("/filters/validate", handleFilterValidate())
			r.Get("/entities/{entityId}/context", handleEntityContext(deps.Contexts))

			r.Get("/workflows", handleWorkflowList(deps.Registry))
			r.Get("/workflows/{workflowId}", handleWorkflowGet(deps.Registry))

			r.With(validated("createRun")).Post("/runs", handleRunCreate(deps.Engine))
			r.Get("/runs", handleRunList(deps.Engine))
			r.Get("/runs/{runId}", handleRunGet(deps.Engine))
			r.Get("/runs/{runId}/events", handleRunEvents(deps.Engine))
			r.Post("/runs/{runId}/run", handleRunAdvance(deps.Engine))
			r.Post("/runs/{runId}/nodes/{nodeId}/execute", handleNodeExecute(deps.Engine))
		})
	})

	return r
}
