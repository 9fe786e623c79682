package model

import (
	"context"
	"testing"
)

func TestRequestContext_roundTrip(t *testing.T) {
	rc := &RequestContext{CorrelationID: "corr-1", TraceID: "trace-1"}
	ctx := WithRequestContext(context.Background(), rc)

	got := RequestContextFrom(ctx)
	if got != rc {
		t.Fatalf("RequestContextFrom() = %v, want %v", got, rc)
	}
}

func TestRequestContextFrom_missing(t *testing.T) {
	if got := RequestContextFrom(context.Background()); got != nil {
		t.Errorf("RequestContextFrom() = %v, want nil", got)
	}
}

func TestWithRunID_copiesExisting(t *testing.T) {
	rc := &RequestContext{CorrelationID: "corr-1"}
	ctx := WithRequestContext(context.Background(), rc)

	ctx = WithRunID(ctx, "run-9")
	got := RequestContextFrom(ctx)
	if got.RunID != "run-9" || got.CorrelationID != "corr-1" {
		t.Errorf("RequestContext = %+v", got)
	}
	if rc.RunID != "" {
		t.Error("original RequestContext was mutated")
	}
}

func TestWithRunID_withoutRequestContext(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-1")
	if got := RequestContextFrom(ctx); got == nil || got.RunID != "run-1" {
		t.Errorf("RequestContext = %+v", got)
	}
}
