package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest      = "BAD_REQUEST"
	ErrNotFound        = "NOT_FOUND"
	ErrConflict        = "CONFLICT"
	ErrValidationError = "VALIDATION_ERROR"
	ErrInternalError   = "INTERNAL_ERROR"
)

// Engine-specific error codes.
const (
	ErrExpressionSyntax     = "EXPRESSION_SYNTAX"
	ErrExpressionEvaluation = "EXPRESSION_EVALUATION"
	ErrTemplateResolution   = "TEMPLATE_RESOLUTION"
	ErrFilterInvalid        = "FILTER_INVALID"
	ErrEntityContext        = "ENTITY_CONTEXT"
	ErrNodeExecution        = "NODE_EXECUTION"
	ErrChainLimit           = "CHAIN_LIMIT"
)

// ErrorEnvelope is the standard error response envelope returned by the API.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a path-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewExpressionSyntaxError returns an EXPRESSION_SYNTAX error.
func NewExpressionSyntaxError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrExpressionSyntax, Message: msg}
}

// NewExpressionEvaluationError returns an EXPRESSION_EVALUATION error.
func NewExpressionEvaluationError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrExpressionEvaluation, Message: msg}
}

// NewTemplateResolutionError returns a TEMPLATE_RESOLUTION error.
func NewTemplateResolutionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrTemplateResolution, Message: msg}
}

// NewFilterInvalidError returns a FILTER_INVALID error carrying every
// path-tagged problem found in the filter tree.
func NewFilterInvalidError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrFilterInvalid,
		Message: "The filter is invalid",
		Details: details,
	}
}

// NewEntityContextError returns an ENTITY_CONTEXT error.
func NewEntityContextError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrEntityContext, Message: msg}
}

// NewNodeExecutionError returns a NODE_EXECUTION error.
func NewNodeExecutionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNodeExecution, Message: msg}
}

// NewChainLimitError returns a CHAIN_LIMIT error.
func NewChainLimitError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrChainLimit,
		Message: "Maximum node chain depth exceeded",
	}
}
