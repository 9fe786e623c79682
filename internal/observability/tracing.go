package observability

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/flowbase/internal/config"
)

const tracerName = "github.com/pitabwire/flowbase"

// Span attribute keys.
var (
	AttrWorkflowID = attribute.Key("flowbase.workflow_id")
	AttrRunID      = attribute.Key("flowbase.run_id")
	AttrNodeID     = attribute.Key("flowbase.node_id")
	AttrNodeType   = attribute.Key("flowbase.node_type")
	AttrEntityID   = attribute.Key("flowbase.entity_id")
	AttrMaxDepth   = attribute.Key("flowbase.max_depth")
	AttrExpression = attribute.Key("flowbase.expression")
	AttrBranch     = attribute.Key("flowbase.branch")
	AttrAction     = attribute.Key("flowbase.action")
)

type exporterFactory func(context.Context, config.TracingConfig) (sdktrace.SpanExporter, error)

// exporters maps tracing.exporter values to constructors. An empty value
// selects otlp.
var exporters = map[string]exporterFactory{
	"otlp": func(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
		var opts []otlptracegrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		return otlptracegrpc.New(ctx, opts...)
	},
	"stdout": func(context.Context, config.TracingConfig) (sdktrace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	},
}

// InitTracing installs the global TracerProvider and W3C propagators. The
// returned shutdown flushes pending spans; it is a no-op when tracing is off.
func InitTracing(ctx context.Context, cfg config.TracingConfig, serviceName, serviceVersion string) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	name := cfg.Exporter
	if name == "" {
		name = "otlp"
	}
	factory, ok := exporters[name]
	if !ok {
		return nil, fmt.Errorf("tracing: unsupported exporter %q (supported: %s)", cfg.Exporter, supportedExporters())
	}
	exporter, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: create %s exporter: %w", name, err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SamplingRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func supportedExporters() string {
	names := make([]string, 0, len(exporters))
	for name := range exporters {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// newSampler honours the parent's decision and samples root spans at rate.
// Zero or less means 10%.
func newSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0:
		rate = 0.1
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// Tracer returns the service tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts an internal span with the service tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartNodeSpan starts the span covering one workflow node execution.
func StartNodeSpan(ctx context.Context, workflowID, runID, nodeID, nodeType string) (context.Context, trace.Span) {
	return StartSpan(ctx, "workflow.node "+nodeType,
		AttrWorkflowID.String(workflowID),
		AttrRunID.String(runID),
		AttrNodeID.String(nodeID),
		AttrNodeType.String(nodeType),
	)
}

// StartEntityContextSpan starts the span covering one entity context build.
func StartEntityContextSpan(ctx context.Context, entityID string, maxDepth int) (context.Context, trace.Span) {
	return StartSpan(ctx, "entitycontext.build",
		AttrEntityID.String(entityID),
		AttrMaxDepth.Int(maxDepth),
	)
}

// StartActionSpan starts a client span for an action handler call.
func StartActionSpan(ctx context.Context, action string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "action."+action,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append([]attribute.KeyValue{AttrAction.String(action)}, attrs...)...),
	)
}

// EndSpanWithError records err on span, if any, and ends it.
func EndSpanWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TraceIDFromContext returns the active trace ID, or "".
func TraceIDFromContext(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// SpanIDFromContext returns the active span ID, or "".
func SpanIDFromContext(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasSpanID() {
		return sc.SpanID().String()
	}
	return ""
}

// TracingMiddleware starts a server span per request, continuing any inbound
// W3C trace context and echoing it on the response. Spans are renamed to the
// chi route pattern once routing has run.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		ctx, span := Tracer().Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
			),
		)
		defer span.End()

		propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		r = r.WithContext(ctx)
		next.ServeHTTP(ww, r)
		status := writtenStatus(ww)

		if pattern := routePattern(r); pattern != r.URL.Path {
			span.SetName(r.Method + " " + pattern)
			span.SetAttributes(semconv.HTTPRoute(pattern))
		}
		span.SetAttributes(semconv.HTTPResponseStatusCode(status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	})
}

// InjectTraceHeaders writes the active trace context into outbound headers.
func InjectTraceHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
