package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/flowbase/internal/config"
	"github.com/pitabwire/flowbase/model"
)

type loggerKey struct{}

// NewLogger builds the service logger. Output is JSON on stdout unless
// log_format is "console"; unknown levels fall back to info. Every entry
// carries the service name and build version.
//
// Levels: error for infrastructure failures and 5xx responses, warn for
// degraded template resolution and skipped relationships, info for run and
// definition lifecycle, debug for payloads (always redacted).
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.Sampling = nil
	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	if cfg.LogFormat == "console" {
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", "flowbase"), zap.String("version", Version)), nil
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the context logger, or fallback when there is none.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger is LoggerFrom plus the correlation, trace and run ids of
// the request, when present.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)
	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := make([]zap.Field, 0, 3)
	for _, f := range []struct{ key, value string }{
		{"correlation_id", rctx.CorrelationID},
		{"trace_id", rctx.TraceID},
		{"run_id", rctx.RunID},
	} {
		if f.value != "" {
			fields = append(fields, zap.String(f.key, f.value))
		}
	}
	return logger.With(fields...)
}

const redacted = "[REDACTED]"

// defaultRedactKeys are masked in every logged payload. Matching ignores case.
var defaultRedactKeys = []string{
	"password", "secret", "token", "access_token", "refresh_token",
	"api_key", "authorization", "credit_card", "ssn", "pin",
}

// Redactor masks sensitive keys in trigger payloads and resolved node
// configs before they reach the log.
type Redactor struct {
	keys map[string]bool
}

// NewRedactor returns a Redactor for the default keys plus extra.
func NewRedactor(extra ...string) *Redactor {
	keys := make(map[string]bool, len(defaultRedactKeys)+len(extra))
	for _, k := range defaultRedactKeys {
		keys[k] = true
	}
	for _, k := range extra {
		if k = strings.TrimSpace(k); k != "" {
			keys[strings.ToLower(k)] = true
		}
	}
	return &Redactor{keys: keys}
}

// Redact returns a copy of body with sensitive values replaced, descending
// into nested maps and lists. body itself is not modified.
func (r *Redactor) Redact(body map[string]any) map[string]any {
	if body == nil {
		return nil
	}
	out := make(map[string]any, len(body))
	for k, v := range body {
		if r.keys[strings.ToLower(k)] {
			out[k] = redacted
			continue
		}
		out[k] = r.redactValue(v)
	}
	return out
}

func (r *Redactor) redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return r.Redact(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.redactValue(item)
		}
		return out
	default:
		return v
	}
}

// Field returns a zap field that renders body redacted. The copy is only
// made when the entry is actually written.
func (r *Redactor) Field(key string, body map[string]any) zap.Field {
	return zap.Object(key, redactedPayload{r: r, body: body})
}

type redactedPayload struct {
	r    *Redactor
	body map[string]any
}

func (p redactedPayload) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for k, v := range p.r.Redact(p.body) {
		if err := enc.AddReflected(k, v); err != nil {
			return err
		}
	}
	return nil
}
