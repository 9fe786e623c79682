package definition

import (
	"testing"

	"github.com/pitabwire/flowbase/internal/expression"
	"github.com/pitabwire/flowbase/model"
)

func validWorkflow() model.WorkflowDefinition {
	return model.WorkflowDefinition{
		ID:        "customer.onboarding",
		Name:      "Customer onboarding",
		StartNode: "score",
		Nodes: []model.NodeDefinition{
			{
				ID:     "score",
				Type:   model.NodeTypeAction,
				Action: "echo",
				Config: map[string]any{"email": "{{trigger.email}}"},
				Next:   map[string]string{model.NextDefault: "check"},
			},
			{
				ID:        "check",
				Type:      model.NodeTypeCondition,
				Condition: "steps.score.output.score >= 50",
				Next:      map[string]string{model.NextTrue: "lookup", model.NextFalse: "score"},
			},
			{
				ID:   "lookup",
				Type: model.NodeTypeQuery,
				Filter: map[string]any{
					"type":      "attribute",
					"attribute": "email",
					"value":     "{{trigger.email}}",
				},
			},
		},
	}
}

func validate(w model.WorkflowDefinition) []VError {
	return NewValidator("echo").Validate([]model.DefinitionFile{{Domain: "onboarding", Workflows: []model.WorkflowDefinition{w}}})
}

func hasError(errs []VError, path, code string) bool {
	for _, e := range errs {
		if e.Path == path && e.Code == code {
			return true
		}
	}
	return false
}

func TestValidator_valid(t *testing.T) {
	if errs := validate(validWorkflow()); len(errs) > 0 {
		for _, e := range errs {
			t.Errorf("unexpected error: %s (%s)", e, e.Code)
		}
	}
}

func TestValidator_errors(t *testing.T) {
	const wp = "definitions[0].workflows[0]"

	tests := []struct {
		name   string
		mutate func(w *model.WorkflowDefinition)
		path   string
		code   string
	}{
		{"missing id", func(w *model.WorkflowDefinition) { w.ID = "" }, wp + ".id", CodeRequired},
		{"missing start node", func(w *model.WorkflowDefinition) { w.StartNode = "" }, wp + ".start_node", CodeRequired},
		{"unknown start node", func(w *model.WorkflowDefinition) { w.StartNode = "ghost" }, wp + ".start_node", CodeUnknownReference},
		{"no nodes", func(w *model.WorkflowDefinition) { w.Nodes = nil; w.StartNode = "" }, wp + ".nodes", CodeRequired},
		{"duplicate node", func(w *model.WorkflowDefinition) { w.Nodes[2].ID = "score" }, wp + ".nodes[2].id", CodeDuplicate},
		{"missing node type", func(w *model.WorkflowDefinition) { w.Nodes[0].Type = "" }, wp + ".nodes[0].type", CodeRequired},
		{"unknown node type", func(w *model.WorkflowDefinition) { w.Nodes[0].Type = "loop" }, wp + ".nodes[0].type", CodeInvalidNodeType},
		{"missing action", func(w *model.WorkflowDefinition) { w.Nodes[0].Action = "" }, wp + ".nodes[0].action", CodeRequired},
		{"unknown action", func(w *model.WorkflowDefinition) { w.Nodes[0].Action = "sms" }, wp + ".nodes[0].action", CodeUnknownAction},
		{"missing condition", func(w *model.WorkflowDefinition) { w.Nodes[1].Condition = "" }, wp + ".nodes[1].condition", CodeRequired},
		{"bad condition", func(w *model.WorkflowDefinition) { w.Nodes[1].Condition = "steps.score >" }, wp + ".nodes[1].condition", CodeInvalidExpression},
		{"bad template", func(w *model.WorkflowDefinition) {
			w.Nodes[0].Config = map[string]any{"nested": map[string]any{"to": "{{secrets.key}}"}}
		}, wp + ".nodes[0].config.nested.to", CodeInvalidTemplate},
		{"template in list", func(w *model.WorkflowDefinition) {
			w.Nodes[0].Config = map[string]any{"to": []any{"ok", "{{trigger.}}"}}
		}, wp + ".nodes[0].config.to[1]", CodeInvalidTemplate},
		{"unknown target", func(w *model.WorkflowDefinition) { w.Nodes[1].Next[model.NextFalse] = "ghost" }, wp + ".nodes[1].next.false", CodeUnknownReference},
		{"branch key on action", func(w *model.WorkflowDefinition) {
			w.Nodes[0].Next = map[string]string{model.NextTrue: "check"}
		}, wp + ".nodes[0].next.true", CodeInvalidTransition},
		{"missing filter", func(w *model.WorkflowDefinition) { w.Nodes[2].Filter = nil }, wp + ".nodes[2].filter", CodeRequired},
		{"malformed filter", func(w *model.WorkflowDefinition) {
			w.Nodes[2].Filter = map[string]any{"type": "fuzzy"}
		}, wp + ".nodes[2].filter", CodeInvalidFilter},
		{"empty filter group", func(w *model.WorkflowDefinition) {
			w.Nodes[2].Filter = map[string]any{"type": "and", "filters": []any{}}
		}, wp + ".nodes[2].filter", CodeInvalidFilter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := validWorkflow()
			tt.mutate(&w)
			errs := validate(w)
			if !hasError(errs, tt.path, tt.code) {
				t.Errorf("want %s at %s, got %v", tt.code, tt.path, errs)
			}
		})
	}
}

func TestValidator_duplicateWorkflowAcrossFiles(t *testing.T) {
	files := []model.DefinitionFile{
		{Domain: "a", Workflows: []model.WorkflowDefinition{validWorkflow()}},
		{Domain: "b", Workflows: []model.WorkflowDefinition{validWorkflow()}},
	}
	errs := NewValidator().Validate(files)
	if !hasError(errs, "definitions[1].workflows[0].id", CodeDuplicate) {
		t.Errorf("want duplicate workflow error, got %v", errs)
	}
}

func TestValidator_noActionListAcceptsAnyAction(t *testing.T) {
	w := validWorkflow()
	w.Nodes[0].Action = "anything"
	errs := NewValidator().Validate([]model.DefinitionFile{{Workflows: []model.WorkflowDefinition{w}}})
	if len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestVError_Error(t *testing.T) {
	e := VError{Path: "definitions[0].workflows[0].id", Code: CodeRequired, Message: "id is required"}
	if got := e.Error(); got != "definitions[0].workflows[0].id: id is required" {
		t.Errorf("Error() = %q", got)
	}
}

func TestValidator_expressionOptions(t *testing.T) {
	w := validWorkflow()
	w.Nodes[1].Condition = "amount > 10 trailing"
	files := []model.DefinitionFile{{Domain: "onboarding", Workflows: []model.WorkflowDefinition{w}}}

	errs := NewValidator("echo").Validate(files)
	if !hasError(errs, "definitions[0].workflows[0].nodes[1].condition", CodeInvalidExpression) {
		t.Errorf("strict validator accepted leftover tokens: %v", errs)
	}

	if errs := NewValidator("echo").WithExpressionOptions(expression.WithPermissive()).Validate(files); len(errs) > 0 {
		t.Errorf("permissive validator errors = %v, want none", errs)
	}
}
