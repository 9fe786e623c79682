package transport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/flowbase/internal/workflow"
	"github.com/pitabwire/flowbase/model"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// runsUnavailable guards handlers mounted without an engine.
func runsUnavailable(w http.ResponseWriter, r *http.Request, engine *workflow.Engine) bool {
	if engine == nil {
		writeRequestError(w, r, model.NewNotFoundError("runs are not available"))
		return true
	}
	return false
}

func handleRunCreate(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runsUnavailable(w, r, engine) {
			return
		}
		var body struct {
			WorkflowID string         `json:"workflow_id"`
			Trigger    map[string]any `json:"trigger"`
			Variables  map[string]any `json:"variables"`
		}
		if err := decodeBody(r, &body, false); err != nil {
			writeRequestError(w, r, err)
			return
		}
		if body.WorkflowID == "" {
			WriteValidationError(w, []model.FieldError{
				{Field: "workflow_id", Code: "REQUIRED", Message: "workflow_id is required"},
			})
			return
		}

		run, err := engine.StartRun(r.Context(), body.WorkflowID, body.Trigger, body.Variables)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusCreated, run)
	}
}

func handleRunList(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runsUnavailable(w, r, engine) {
			return
		}
		q := r.URL.Query()
		filters := workflow.RunFilters{
			WorkflowID: q.Get("workflow_id"),
			Status:     q.Get("status"),
			Limit:      min(queryInt(r, "limit", defaultPageSize), maxPageSize),
			Offset:     queryInt(r, "offset", 0),
		}

		runs, err := engine.ListRuns(r.Context(), filters)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		if runs == nil {
			runs = []model.RunSnapshot{}
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"data":   runs,
			"limit":  filters.Limit,
			"offset": filters.Offset,
		})
	}
}

func handleRunGet(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runsUnavailable(w, r, engine) {
			return
		}
		run, err := engine.GetRun(r.Context(), chi.URLParam(r, "runId"))
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, run)
	}
}

func handleRunEvents(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runsUnavailable(w, r, engine) {
			return
		}
		events, err := engine.GetEvents(r.Context(), chi.URLParam(r, "runId"))
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": events})
	}
}

func handleNodeExecute(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runsUnavailable(w, r, engine) {
			return
		}
		runID := chi.URLParam(r, "runId")
		ctx := model.WithRunID(r.Context(), runID)

		result, err := engine.ExecuteNode(ctx, runID, chi.URLParam(r, "nodeId"))
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}

// handleRunAdvance executes nodes until the run completes, fails or is
// suspended.
func handleRunAdvance(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runsUnavailable(w, r, engine) {
			return
		}
		runID := chi.URLParam(r, "runId")
		ctx := model.WithRunID(r.Context(), runID)

		run, err := engine.Run(ctx, runID)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, run)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
