package openapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func loadTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return idx
}

func TestIndex_Load(t *testing.T) {
	idx := loadTestIndex(t)
	ids := idx.OperationIDs()
	if len(ids) != 13 {
		t.Fatalf("OperationIDs() = %v (len %d), want 13 operations", ids, len(ids))
	}
	if idx.Document().Info.Title != "flowbase" {
		t.Errorf("Info.Title = %q", idx.Document().Info.Title)
	}
}

func TestIndex_Operation_found(t *testing.T) {
	idx := loadTestIndex(t)

	op, ok := idx.Operation("listRuns")
	if !ok {
		t.Fatal("Operation(listRuns) not found")
	}
	if op.Method != "GET" {
		t.Errorf("Method = %q, want GET", op.Method)
	}
	if op.PathTemplate != "/v1/runs" {
		t.Errorf("PathTemplate = %q, want /v1/runs", op.PathTemplate)
	}
	if len(op.Parameters) != 4 {
		t.Errorf("len(Parameters) = %d, want 4", len(op.Parameters))
	}
}

func TestIndex_Operation_mergesPathParameters(t *testing.T) {
	idx := loadTestIndex(t)

	op, ok := idx.Operation("executeNode")
	if !ok {
		t.Fatal("Operation(executeNode) not found")
	}

	names := map[string]bool{}
	for _, p := range op.Parameters {
		names[p.Name] = p.In == "path"
	}
	if !names["runId"] || !names["nodeId"] {
		t.Errorf("parameters = %v, want runId and nodeId path parameters", names)
	}
}

func TestIndex_Operation_notFound(t *testing.T) {
	idx := loadTestIndex(t)
	if _, ok := idx.Operation("deleteEverything"); ok {
		t.Error("Operation(deleteEverything) should not be found")
	}
}

func TestIndex_Route(t *testing.T) {
	idx := loadTestIndex(t)

	op, ok := idx.Route("post", "/v1/runs/{runId}/run")
	if !ok {
		t.Fatal("Route(POST /v1/runs/{runId}/run) not found")
	}
	if op.OperationID != "advanceRun" {
		t.Errorf("OperationID = %q, want advanceRun", op.OperationID)
	}

	if _, ok := idx.Route("DELETE", "/v1/runs/{runId}"); ok {
		t.Error("DELETE /v1/runs/{runId} is not documented")
	}
}

func TestIndex_ValidateRequest_valid(t *testing.T) {
	idx := loadTestIndex(t)

	errs := idx.ValidateRequest("evaluateExpression", map[string]any{
		"expression": "a = 1",
		"context":    map[string]any{"a": float64(1)},
	})
	if len(errs) != 0 {
		t.Errorf("ValidateRequest() = %v, want no errors", errs)
	}
}

func TestIndex_ValidateRequest_missingRequired(t *testing.T) {
	idx := loadTestIndex(t)

	errs := idx.ValidateRequest("createRun", map[string]any{"trigger": map[string]any{}})
	if len(errs) != 1 {
		t.Fatalf("ValidateRequest() = %v, want 1 error", errs)
	}
	if errs[0].Field != "workflow_id" || errs[0].Code != "REQUIRED" {
		t.Errorf("error = %+v, want REQUIRED on workflow_id", errs[0])
	}
}

func TestIndex_ValidateRequest_reportsEveryViolation(t *testing.T) {
	idx := loadTestIndex(t)

	errs := idx.ValidateRequest("createRun", map[string]any{
		"workflow_id": float64(7),
		"variables":   "not an object",
	})
	if len(errs) != 2 {
		t.Fatalf("ValidateRequest() = %v, want 2 errors", errs)
	}
	for _, e := range errs {
		if e.Code != "SCHEMA" {
			t.Errorf("code = %q, want SCHEMA", e.Code)
		}
	}
}

func TestIndex_ValidateRequest_noBody(t *testing.T) {
	idx := loadTestIndex(t)
	if errs := idx.ValidateRequest("getRun", nil); len(errs) != 0 {
		t.Errorf("ValidateRequest(getRun) = %v, want none", errs)
	}
}

func TestIndex_ValidateRequest_unknownOperation(t *testing.T) {
	idx := loadTestIndex(t)
	errs := idx.ValidateRequest("nope", map[string]any{})
	if len(errs) != 1 || errs[0].Code != "UNKNOWN_OPERATION" {
		t.Errorf("ValidateRequest(nope) = %v", errs)
	}
}

func TestLoadData_invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not yaml", "{{"},
		{"missing info", "openapi: 3.0.3\npaths: {}\n"},
		{"duplicate operation", `openapi: 3.0.3
info: {title: t, version: v}
paths:
  /a:
    get:
      operationId: same
      responses: {"200": {description: ok}}
  /b:
    get:
      operationId: same
      responses: {"200": {description: ok}}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadData(context.Background(), []byte(tt.data)); err == nil {
				t.Error("LoadData() expected error")
			}
		})
	}
}

func TestIndex_Handler(t *testing.T) {
	idx := loadTestIndex(t)

	w := httptest.NewRecorder()
	idx.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var doc map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if doc["openapi"] != "3.0.3" {
		t.Errorf("openapi = %v", doc["openapi"])
	}
}
