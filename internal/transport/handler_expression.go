package transport

import (
	"net/http"

	"github.com/pitabwire/flowbase/internal/expression"
	"github.com/pitabwire/flowbase/internal/workflow"
	"github.com/pitabwire/flowbase/model"
)

type expressionRequest struct {
	Expression string         `json:"expression"`
	Context    map[string]any `json:"context"`
}

func (req expressionRequest) validate() error {
	if req.Expression == "" {
		return model.NewValidationError([]model.FieldError{
			{Field: "expression", Code: "REQUIRED", Message: "expression is required"},
		})
	}
	return nil
}

func handleExpressionEvaluate(opts []expression.ParseOption) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req expressionRequest
		if err := decodeBody(r, &req, false); err != nil {
			writeRequestError(w, r, err)
			return
		}
		if err := req.validate(); err != nil {
			writeRequestError(w, r, err)
			return
		}

		expr, err := expression.Parse(req.Expression, opts...)
		if err != nil {
			writeRequestError(w, r, workflow.ClassifyError(err))
			return
		}
		if req.Context == nil {
			req.Context = map[string]any{}
		}
		result, err := expression.Evaluate(expr, req.Context)
		if err != nil {
			writeRequestError(w, r, workflow.ClassifyError(err))
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"result": result})
	}
}

func handleExpressionParse(opts []expression.ParseOption) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req expressionRequest
		if err := decodeBody(r, &req, false); err != nil {
			writeRequestError(w, r, err)
			return
		}
		if err := req.validate(); err != nil {
			writeRequestError(w, r, err)
			return
		}

		expr, err := expression.Parse(req.Expression, opts...)
		if err != nil {
			writeRequestError(w, r, workflow.ClassifyError(err))
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"ast":       expression.Describe(expr),
			"canonical": expr.String(),
		})
	}
}
