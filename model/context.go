package model

import (
	"context"
)

// RequestContext carries the correlation and tracing identifiers of an API
// request. It is immutable after construction and safe for concurrent reads.
type RequestContext struct {
	CorrelationID string
	TraceID       string
	SpanID        string
	RemoteAddr    string
	// RunID is set by handlers that operate on a single workflow run.
	RunID string
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns nil
// if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

// WithRunID returns a context whose RequestContext is a copy of the current
// one with RunID set. A RequestContext is created when none is present.
func WithRunID(ctx context.Context, runID string) context.Context {
	next := RequestContext{}
	if cur := RequestContextFrom(ctx); cur != nil {
		next = *cur
	}
	next.RunID = runID
	return WithRequestContext(ctx, &next)
}
