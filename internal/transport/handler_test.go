package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/flowbase/internal/action"
	"github.com/pitabwire/flowbase/internal/config"
	"github.com/pitabwire/flowbase/internal/definition"
	"github.com/pitabwire/flowbase/internal/entity"
	"github.com/pitabwire/flowbase/internal/entitycontext"
	"github.com/pitabwire/flowbase/internal/workflow"
	"github.com/pitabwire/flowbase/model"
)

// --- Test fixture ---

type fixture struct {
	router   http.Handler
	entityID uuid.UUID
}

func onboarding() model.WorkflowDefinition {
	return model.WorkflowDefinition{
		ID:        "onboarding",
		Name:      "Onboarding",
		StartNode: "score",
		Nodes: []model.NodeDefinition{
			{
				ID: "score", Type: model.NodeTypeAction, Action: action.NameEcho,
				Config: map[string]any{"score": "{{trigger.score}}"},
				Next:   map[string]string{model.NextDefault: "check"},
			},
			{
				ID: "check", Type: model.NodeTypeCondition,
				Condition: "steps.score.output.score >= 50",
				Next:      map[string]string{model.NextTrue: "welcome"},
			},
			{
				ID: "welcome", Type: model.NodeTypeAction, Action: action.NameEcho,
				Config: map[string]any{"message": "welcome"},
			},
		},
	}
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	registry := definition.NewRegistry([]model.DefinitionFile{
		{Domain: "crm", Checksum: "abc", Workflows: []model.WorkflowDefinition{onboarding()}},
	})

	lookup := entity.NewMemoryLookup()
	typeID, entityID := uuid.New(), uuid.New()
	lookup.PutEntityType(model.EntityType{ID: typeID, Name: "Account", Schema: map[string]model.SchemaProperty{
		"tier": {Label: "Tier", Type: model.PropertyTypeText},
	}})
	lookup.PutEntity(model.Entity{ID: entityID, TypeID: typeID, Payload: map[string]model.AttributePayload{
		"tier": model.PrimitivePayload{Value: "gold"},
	}})
	contexts := entitycontext.NewBuilder(lookup)

	engine := workflow.NewEngine(registry, workflow.NewMemoryRunStore(), nil,
		workflow.WithEntityContexts(contexts))

	cfg := config.Defaults()
	cfg.Engine.StrictExpressions = true

	return fixture{
		router: NewRouter(Dependencies{
			Config:   cfg,
			Registry: registry,
			Engine:   engine,
			Contexts: contexts,
			Gatherer: prometheus.NewRegistry(),
		}),
		entityID: entityID,
	}
}

func (f fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(method, path, &buf))

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func errorCode(out map[string]any) string {
	env, _ := out["error"].(map[string]any)
	code, _ := env["code"].(string)
	return code
}

// --- Expressions ---

func TestHandleExpressionEvaluate(t *testing.T) {
	f := newFixture(t)

	w, out := f.do(t, "POST", "/v1/expressions/evaluate", map[string]any{
		"expression": "trigger.amount > 100 AND trigger.region = 'eu'",
		"context":    map[string]any{"trigger": map[string]any{"amount": 250, "region": "eu"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, out["result"])
}

func TestHandleExpressionEvaluate_errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"missing expression", map[string]any{}, 422, model.ErrValidationError},
		{"syntax", map[string]any{"expression": "a ="}, 400, model.ErrExpressionSyntax},
		{"strict trailing tokens", map[string]any{"expression": "a = 1 b"}, 400, model.ErrExpressionSyntax},
		{"missing path", map[string]any{"expression": "a.b = 1"}, 422, model.ErrExpressionEvaluation},
		{"type mismatch", map[string]any{
			"expression": "name > 3",
			"context":    map[string]any{"name": "x"},
		}, 422, model.ErrExpressionEvaluation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, out := f.do(t, "POST", "/v1/expressions/evaluate", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, errorCode(out))
		})
	}
}

func TestHandleExpressionEvaluate_invalidJSON(t *testing.T) {
	f := newFixture(t)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest("POST", "/v1/expressions/evaluate", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleExpressionParse(t *testing.T) {
	f := newFixture(t)

	w, out := f.do(t, "POST", "/v1/expressions/parse", map[string]any{"expression": "a = 1 OR b = 2"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	ast := out["ast"].(map[string]any)
	assert.Equal(t, "binary", ast["type"])
	assert.Equal(t, "OR", ast["operator"])
	assert.NotEmpty(t, out["canonical"])
}

// --- Templates ---

func TestHandleTemplateResolve_inlineState(t *testing.T) {
	f := newFixture(t)

	w, out := f.do(t, "POST", "/v1/templates/resolve", map[string]any{
		"value":     map[string]any{"to": "{{trigger.email}}", "greeting": "Hi {{variables.name}}"},
		"trigger":   map[string]any{"email": "a@example.com"},
		"variables": map[string]any{"name": "Ada"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, map[string]any{"to": "a@example.com", "greeting": "Hi Ada"}, out["result"])
}

func TestHandleTemplateResolve_exactKeepsType(t *testing.T) {
	f := newFixture(t)

	_, out := f.do(t, "POST", "/v1/templates/resolve", map[string]any{
		"value":   "{{trigger.score}}",
		"trigger": map[string]any{"score": 72},
	})
	assert.Equal(t, float64(72), out["result"])
}

func TestHandleTemplateResolve_fromRun(t *testing.T) {
	f := newFixture(t)

	_, run := f.do(t, "POST", "/v1/runs", map[string]any{
		"workflow_id": "onboarding",
		"trigger":     map[string]any{"score": 80},
	})
	runID := run["id"].(string)

	w, out := f.do(t, "POST", "/v1/templates/resolve", map[string]any{
		"value":  "score is {{trigger.score}}",
		"run_id": runID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "score is 80", out["result"])
}

func TestHandleTemplateResolve_triggerUnset(t *testing.T) {
	f := newFixture(t)

	w, out := f.do(t, "POST", "/v1/templates/resolve", map[string]any{"value": "{{trigger.email}}"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Equal(t, model.ErrTemplateResolution, errorCode(out))
}

func TestHandleTemplateResolve_unknownRun(t *testing.T) {
	f := newFixture(t)
	w, _ := f.do(t, "POST", "/v1/templates/resolve", map[string]any{"value": "x", "run_id": "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// --- Filters ---

func TestHandleFilterValidate(t *testing.T) {
	f := newFixture(t)

	w, out := f.do(t, "POST", "/v1/filters/validate", map[string]any{
		"filter": map[string]any{
			"type": "and",
			"filters": []any{
				map[string]any{"type": "attribute", "attribute": "status", "value": "open"},
				map[string]any{"type": "attribute", "attribute": "owner", "operator": "equals", "value": "{{trigger.owner}}"},
			},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, out["valid"])
	assert.Empty(t, out["errors"])
	assert.NotNil(t, out["filter"])
}

func TestHandleFilterValidate_reportsAllErrors(t *testing.T) {
	f := newFixture(t)

	_, out := f.do(t, "POST", "/v1/filters/validate", map[string]any{
		"filter": map[string]any{
			"type": "or",
			"filters": []any{
				map[string]any{"type": "attribute", "operator": "equals", "value": 1},
				map[string]any{"type": "attribute", "attribute": "x", "operator": "like", "value": 1},
			},
		},
	})
	assert.Equal(t, false, out["valid"])
	assert.Len(t, out["errors"], 2)
}

func TestHandleFilterValidate_malformed(t *testing.T) {
	f := newFixture(t)

	_, out := f.do(t, "POST", "/v1/filters/validate", map[string]any{"filter": map[string]any{"type": "fuzzy"}})
	assert.Equal(t, false, out["valid"])
	errs := out["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, "MALFORMED", errs[0].(map[string]any)["code"])
}

func TestHandleFilterValidate_missing(t *testing.T) {
	f := newFixture(t)
	w, _ := f.do(t, "POST", "/v1/filters/validate", map[string]any{})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

// --- Entities ---

func TestHandleEntityContext(t *testing.T) {
	f := newFixture(t)

	w, out := f.do(t, "GET", "/v1/entities/"+f.entityID.String()+"/context?depth=1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "gold", out["Tier"])
}

func TestHandleEntityContext_errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"bad id", "/v1/entities/not-a-uuid/context", 400},
		{"bad depth", "/v1/entities/" + f.entityID.String() + "/context?depth=-1", 400},
		{"unknown entity", "/v1/entities/" + uuid.NewString() + "/context", 404},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := f.do(t, "GET", tt.path, nil)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestHandleEntityContext_notConfigured(t *testing.T) {
	r := NewRouter(testDeps())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/entities/"+uuid.NewString()+"/context", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

// --- Workflows ---

func TestHandleWorkflowList(t *testing.T) {
	f := newFixture(t)

	w, out := f.do(t, "GET", "/v1/workflows", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := out["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "onboarding", data[0].(map[string]any)["id"])
	assert.NotEmpty(t, out["checksum"])
}

func TestHandleWorkflowGet(t *testing.T) {
	f := newFixture(t)

	w, out := f.do(t, "GET", "/v1/workflows/onboarding", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "score", out["start_node"])

	w, _ = f.do(t, "GET", "/v1/workflows/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// --- Runs ---

func TestHandleRun_lifecycle(t *testing.T) {
	f := newFixture(t)

	w, run := f.do(t, "POST", "/v1/runs", map[string]any{
		"workflow_id": "onboarding",
		"trigger":     map[string]any{"score": 80},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	runID := run["id"].(string)
	assert.Equal(t, model.RunStatusActive, run["status"])

	w, result := f.do(t, "POST", "/v1/runs/"+runID+"/nodes/score/execute", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "check", result["next_node"])

	w, final := f.do(t, "POST", "/v1/runs/"+runID+"/run", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.RunStatusCompleted, final["status"])

	w, got := f.do(t, "GET", "/v1/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, got["steps"], "welcome")

	_, events := f.do(t, "GET", "/v1/runs/"+runID+"/events", nil)
	assert.NotEmpty(t, events["data"])

	_, list := f.do(t, "GET", "/v1/runs?workflow_id=onboarding&limit=5", nil)
	assert.Len(t, list["data"], 1)
	assert.Equal(t, float64(5), list["limit"])

	w, out := f.do(t, "POST", "/v1/runs/"+runID+"/nodes/score/execute", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "completed runs cannot execute nodes")
	assert.Equal(t, model.ErrConflict, errorCode(out))
}

func TestHandleRunCreate_errors(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(t, "POST", "/v1/runs", map[string]any{})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, _ = f.do(t, "POST", "/v1/runs", map[string]any{"workflow_id": "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleNodeExecute_unsetTriggerFailsRun(t *testing.T) {
	f := newFixture(t)

	_, run := f.do(t, "POST", "/v1/runs", map[string]any{"workflow_id": "onboarding"})
	runID := run["id"].(string)

	w, out := f.do(t, "POST", "/v1/runs/"+runID+"/nodes/score/execute", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Equal(t, model.ErrTemplateResolution, errorCode(out))

	_, got := f.do(t, "GET", "/v1/runs/"+runID, nil)
	assert.Equal(t, model.RunStatusFailed, got["status"])
}

func TestHandleRun_unknownRun(t *testing.T) {
	f := newFixture(t)
	w, _ := f.do(t, "GET", "/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = f.do(t, "GET", "/v1/runs/missing/events", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleRuns_withoutEngine(t *testing.T) {
	r := NewRouter(testDeps())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/runs", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
