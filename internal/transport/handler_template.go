package transport

import (
	"net/http"

	"github.com/pitabwire/flowbase/internal/template"
	"github.com/pitabwire/flowbase/internal/workflow"
	"github.com/pitabwire/flowbase/model"
)

// templateRequest resolves Value against a stored run, or against the inline
// state when RunID is empty.
type templateRequest struct {
	Value     any                         `json:"value"`
	RunID     string                      `json:"run_id"`
	Trigger   map[string]any              `json:"trigger"`
	Variables map[string]any              `json:"variables"`
	Steps     map[string]model.StepOutput `json:"steps"`
}

func handleTemplateResolve(resolver *template.Resolver, engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req templateRequest
		if err := decodeBody(r, &req, false); err != nil {
			writeRequestError(w, r, err)
			return
		}

		var store *workflow.MemoryDataStore
		if req.RunID != "" {
			if engine == nil {
				writeRequestError(w, r, model.NewNotFoundError("runs are not available"))
				return
			}
			run, err := engine.GetRun(r.Context(), req.RunID)
			if err != nil {
				writeRequestError(w, r, err)
				return
			}
			store = workflow.DataStoreFromSnapshot(run)
		} else {
			store = workflow.NewMemoryDataStore()
			if req.Trigger != nil {
				store.SetTrigger(req.Trigger)
			}
			for name, v := range req.Variables {
				store.SetVariable(name, v)
			}
			for name, out := range req.Steps {
				store.RecordStepOutput(name, out)
			}
		}

		var (
			result any
			err    error
		)
		if m, ok := req.Value.(map[string]any); ok {
			result, err = resolver.ResolveAll(m, store)
		} else {
			result, err = resolver.Resolve(req.Value, store)
		}
		if err != nil {
			writeRequestError(w, r, workflow.ClassifyError(err))
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"result": result})
	}
}
