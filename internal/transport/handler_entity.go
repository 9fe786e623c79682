package transport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pitabwire/flowbase/internal/entitycontext"
	"github.com/pitabwire/flowbase/internal/workflow"
	"github.com/pitabwire/flowbase/model"
)

func handleEntityContext(builder *entitycontext.Builder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if builder == nil {
			writeRequestError(w, r, model.NewEntityContextError("entity contexts are not configured"))
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "entityId"))
		if err != nil {
			writeRequestError(w, r, model.NewBadRequestError("entityId must be a UUID"))
			return
		}

		depth := builder.MaxDepth()
		if raw := r.URL.Query().Get("depth"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeRequestError(w, r, model.NewBadRequestError("depth must be a non-negative integer"))
				return
			}
			depth = min(n, builder.MaxDepth())
		}

		out, err := builder.BuildContext(r.Context(), id, depth)
		if err != nil {
			writeRequestError(w, r, workflow.ClassifyError(err))
			return
		}
		WriteJSON(w, http.StatusOK, out)
	}
}
