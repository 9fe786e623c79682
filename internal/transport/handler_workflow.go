package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/flowbase/internal/definition"
	"github.com/pitabwire/flowbase/model"
)

type workflowSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	StartNode   string `json:"start_node"`
	Nodes       int    `json:"nodes"`
	Checksum    string `json:"checksum,omitempty"`
}

func handleWorkflowList(registry *definition.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries := []workflowSummary{}
		checksum := ""
		if registry != nil {
			for _, wf := range registry.AllWorkflows() {
				summaries = append(summaries, workflowSummary{
					ID:          wf.ID,
					Name:        wf.Name,
					Description: wf.Description,
					StartNode:   wf.StartNode,
					Nodes:       len(wf.Nodes),
					Checksum:    wf.Checksum,
				})
			}
			checksum = registry.Checksum()
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"data":     summaries,
			"checksum": checksum,
		})
	}
}

func handleWorkflowGet(registry *definition.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "workflowId")
		if registry == nil {
			WriteNotFound(w, "workflow "+id+" not found")
			return
		}
		wf, ok := registry.GetWorkflow(id)
		if !ok {
			writeRequestError(w, r, model.NewNotFoundError("workflow "+id+" not found"))
			return
		}
		WriteJSON(w, http.StatusOK, wf)
	}
}
