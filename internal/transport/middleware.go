package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/flowbase/internal/observability"
	"github.com/pitabwire/flowbase/internal/openapi"
	"github.com/pitabwire/flowbase/model"
)

const (
	correlationHeader    = "X-Correlation-Id"
	maxCorrelationLength = 128
)

type correlationIDKey struct{}

// CorrelationIDFrom returns the correlation id Correlate stored on ctx.
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// Recovery turns a handler panic into a logged INTERNAL_ERROR envelope.
// http.ErrAbortHandler is re-raised so net/http can drop the connection.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}
				observability.RequestLogger(r.Context(), logger).Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("route", r.Method+" "+r.URL.Path),
					zap.Stack("stack"),
				)
				WriteError(w, model.NewInternalError())
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Correlate assigns every request a correlation id, echoed in the
// X-Correlation-Id response header. An inbound id is reused when it is a
// plausible token; anything else is replaced by a fresh UUID. The request
// context also gets a model.RequestContext and logger.
func Correlate(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(correlationHeader)
			if !validCorrelationID(id) {
				id = uuid.NewString()
			}
			w.Header().Set(correlationHeader, id)

			ctx := context.WithValue(r.Context(), correlationIDKey{}, id)
			ctx = model.WithRequestContext(ctx, &model.RequestContext{
				CorrelationID: id,
				TraceID:       observability.TraceIDFromContext(ctx),
				SpanID:        observability.SpanIDFromContext(ctx),
				RemoteAddr:    r.RemoteAddr,
			})
			ctx = observability.WithLogger(ctx, logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validCorrelationID(id string) bool {
	if id == "" || len(id) > maxCorrelationLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.' || c == ':':
		default:
			return false
		}
	}
	return true
}

// Deadline bounds every request context by d. Zero disables it.
func Deadline(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ValidateBody checks a JSON request body against the request schema the API
// document declares for operationID. Empty and malformed bodies pass through
// so the handler reports them. A nil index disables the check.
func ValidateBody(api *openapi.Index, operationID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if api == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			data, err := io.ReadAll(r.Body)
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeRequestError(w, r, model.NewBadRequestError("request body too large"))
					return
				}
				writeRequestError(w, r, model.NewBadRequestError("unreadable request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(data))

			var body any
			if len(bytes.TrimSpace(data)) == 0 || json.Unmarshal(data, &body) != nil {
				next.ServeHTTP(w, r)
				return
			}

			violations := api.ValidateRequest(operationID, body)
			if len(violations) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			details := make([]model.FieldError, len(violations))
			for i, v := range violations {
				details[i] = model.FieldError{Field: v.Field, Code: v.Code, Message: v.Message}
			}
			writeRequestError(w, r, model.NewValidationError(details))
		})
	}
}

// RequestLogging writes one "request" entry per call. Server errors log at
// error level.
func RequestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			entry := observability.RequestLogger(r.Context(), logger).With(
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
			if status >= http.StatusInternalServerError {
				entry.Error("request")
				return
			}
			entry.Info("request")
		})
	}
}
