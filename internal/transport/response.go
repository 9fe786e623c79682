// Package transport contains the HTTP router, middleware chain, and the
// request handlers of the engine API.
package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/pitabwire/flowbase/internal/observability"
	"github.com/pitabwire/flowbase/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:           http.StatusBadRequest,
	model.ErrNotFound:             http.StatusNotFound,
	model.ErrConflict:             http.StatusConflict,
	model.ErrValidationError:      http.StatusUnprocessableEntity,
	model.ErrInternalError:        http.StatusInternalServerError,
	model.ErrExpressionSyntax:     http.StatusBadRequest,
	model.ErrExpressionEvaluation: http.StatusUnprocessableEntity,
	model.ErrTemplateResolution:   http.StatusUnprocessableEntity,
	model.ErrFilterInvalid:        http.StatusUnprocessableEntity,
	model.ErrEntityContext:        http.StatusUnprocessableEntity,
	model.ErrNodeExecution:        http.StatusUnprocessableEntity,
	model.ErrChainLimit:           http.StatusConflict,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. Wrapped envelopes are unwrapped; any other error becomes
// a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		ee = model.NewInternalError()
	}

	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

// writeRequestError is WriteError with the request's trace ID attached to the
// envelope so clients can quote it.
func writeRequestError(w http.ResponseWriter, r *http.Request, err error) {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		if traceID := observability.TraceIDFromContext(r.Context()); traceID != "" && ee.TraceID == "" {
			withTrace := *ee
			withTrace.TraceID = traceID
			err = &withTrace
		}
	}
	WriteError(w, err)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// WriteValidationError writes a 422 error response with field-level details.
func WriteValidationError(w http.ResponseWriter, details []model.FieldError) {
	WriteError(w, model.NewValidationError(details))
}

// decodeBody decodes a JSON request body into dst. An empty body leaves dst
// untouched when allowEmpty is set.
func decodeBody(r *http.Request, dst any, allowEmpty bool) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && allowEmpty:
		return nil
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return model.NewBadRequestError("request body too large")
		}
		return model.NewBadRequestError("invalid JSON body")
	}
}
