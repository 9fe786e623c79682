// Package openapi loads the OpenAPI description of the flowbase HTTP API and
// indexes its operations by operationId and by route, with request body
// validation against the declared schemas.
package openapi

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed api.yaml
var apiDocument []byte

// Operation holds a resolved OpenAPI operation with its route.
type Operation struct {
	OperationID  string
	Method       string
	PathTemplate string
	Parameters   []*openapi3.Parameter
	RequestBody  *openapi3.RequestBody
}

// ValidationError describes a schema validation error.
type ValidationError struct {
	Field   string
	Code    string
	Message string
}

// Index is an in-memory index of the API operations.
type Index struct {
	doc        *openapi3.T
	operations map[string]Operation // key: operationId
	routes     map[string]string    // key: "METHOD path" → operationId
	rendered   []byte
}

// Load parses and validates the embedded API document.
func Load(ctx context.Context) (*Index, error) {
	return LoadData(ctx, apiDocument)
}

// LoadData parses and validates an OpenAPI document and indexes every
// operation that carries an operationId.
func LoadData(ctx context.Context, data []byte) (*Index, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("openapi: loading document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("openapi: validating document: %w", err)
	}

	rendered, err := doc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("openapi: rendering document: %w", err)
	}

	idx := &Index{
		doc:        doc,
		operations: make(map[string]Operation),
		routes:     make(map[string]string),
		rendered:   rendered,
	}

	for path, pathItem := range doc.Paths.Map() {
		for method, op := range pathItem.Operations() {
			if op.OperationID == "" {
				continue
			}

			// Merge path-level and operation-level parameters.
			params := make([]*openapi3.Parameter, 0)
			for _, ref := range pathItem.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}
			for _, ref := range op.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}

			var reqBody *openapi3.RequestBody
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				reqBody = op.RequestBody.Value
			}

			if _, dup := idx.operations[op.OperationID]; dup {
				return nil, fmt.Errorf("openapi: duplicate operationId %q", op.OperationID)
			}
			idx.operations[op.OperationID] = Operation{
				OperationID:  op.OperationID,
				Method:       method,
				PathTemplate: path,
				Parameters:   params,
				RequestBody:  reqBody,
			}
			idx.routes[routeKey(method, path)] = op.OperationID
		}
	}

	return idx, nil
}

func routeKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// Document returns the parsed OpenAPI document.
func (idx *Index) Document() *openapi3.T {
	return idx.doc
}

// Operation returns the indexed operation for the given operationId.
func (idx *Index) Operation(operationID string) (Operation, bool) {
	op, ok := idx.operations[operationID]
	return op, ok
}

// Route returns the operation documented for a method and chi-style path
// template such as /v1/runs/{runId}.
func (idx *Index) Route(method, pathTemplate string) (Operation, bool) {
	id, ok := idx.routes[routeKey(method, pathTemplate)]
	if !ok {
		return Operation{}, false
	}
	return idx.operations[id], true
}

// OperationIDs returns all operation IDs, sorted.
func (idx *Index) OperationIDs() []string {
	ids := make([]string, 0, len(idx.operations))
	for id := range idx.operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidateRequest validates a decoded JSON body against the operation's
// request schema. Returns an empty slice if valid, or every violation found.
func (idx *Index) ValidateRequest(operationID string, body any) []ValidationError {
	op, ok := idx.operations[operationID]
	if !ok {
		return []ValidationError{{Code: "UNKNOWN_OPERATION", Message: fmt.Sprintf("operation %s not found", operationID)}}
	}

	if op.RequestBody == nil {
		return nil
	}

	ct := op.RequestBody.Content.Get("application/json")
	if ct == nil || ct.Schema == nil || ct.Schema.Value == nil {
		return nil
	}

	err := ct.Schema.Value.VisitJSON(body, openapi3.MultiErrors())
	if err == nil {
		return nil
	}
	var errs []ValidationError
	collect(err, &errs)
	return errs
}

func collect(err error, out *[]ValidationError) {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		for _, e := range multi {
			collect(e, out)
		}
		return
	}

	var schemaErr *openapi3.SchemaError
	if !errors.As(err, &schemaErr) {
		*out = append(*out, ValidationError{Code: "SCHEMA", Message: err.Error()})
		return
	}

	code := "SCHEMA"
	if schemaErr.SchemaField == "required" {
		code = "REQUIRED"
	}
	*out = append(*out, ValidationError{
		Field:   strings.Join(schemaErr.JSONPointer(), "."),
		Code:    code,
		Message: schemaErr.Reason,
	})
}

// Handler serves the API document as JSON.
func (idx *Index) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(idx.rendered)
	})
}
