package transport

import (
	"net/http"

	"github.com/pitabwire/flowbase/internal/filter"
	"github.com/pitabwire/flowbase/model"
)

type filterValidateResponse struct {
	Valid  bool                     `json:"valid"`
	Errors []filter.ValidationError `json:"errors"`
	Filter map[string]any           `json:"filter,omitempty"`
}

func handleFilterValidate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Filter map[string]any `json:"filter"`
		}
		if err := decodeBody(r, &req, false); err != nil {
			writeRequestError(w, r, err)
			return
		}
		if req.Filter == nil {
			WriteValidationError(w, []model.FieldError{
				{Field: "filter", Code: filter.CodeRequired, Message: "filter is required"},
			})
			return
		}

		f, err := filter.Decode(req.Filter)
		if err != nil {
			WriteJSON(w, http.StatusOK, filterValidateResponse{
				Errors: []filter.ValidationError{{Path: "filter", Code: filter.CodeMalformed, Message: err.Error()}},
			})
			return
		}

		errs := filter.Validate(f, "filter")
		resp := filterValidateResponse{Valid: len(errs) == 0, Errors: errs}
		if resp.Valid {
			resp.Filter = filter.Encode(f)
			resp.Errors = []filter.ValidationError{}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
