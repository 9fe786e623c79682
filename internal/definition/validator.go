package definition

import (
	"fmt"
	"sort"

	"github.com/pitabwire/flowbase/internal/expression"
	"github.com/pitabwire/flowbase/internal/filter"
	"github.com/pitabwire/flowbase/internal/template"
	"github.com/pitabwire/flowbase/model"
)

// Validation error codes.
const (
	CodeRequired          = "REQUIRED"
	CodeDuplicate         = "DUPLICATE"
	CodeUnknownReference  = "UNKNOWN_REFERENCE"
	CodeInvalidNodeType   = "INVALID_NODE_TYPE"
	CodeUnknownAction     = "UNKNOWN_ACTION"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeInvalidExpression = "INVALID_EXPRESSION"
	CodeInvalidTemplate   = "INVALID_TEMPLATE"
	CodeInvalidFilter     = "INVALID_FILTER"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

var allowedTransitions = map[string]map[string]bool{
	model.NodeTypeAction:    {model.NextDefault: true, model.NextError: true},
	model.NodeTypeQuery:     {model.NextDefault: true, model.NextError: true},
	model.NodeTypeCondition: {model.NextTrue: true, model.NextFalse: true, model.NextDefault: true, model.NextError: true},
}

// Validator checks workflow definitions structurally and referentially. It
// parses every condition expression and template so that broken syntax is
// reported at load time rather than mid-run.
type Validator struct {
	actions   map[string]bool
	parseOpts []expression.ParseOption
}

// NewValidator creates a Validator. When action names are given, action nodes
// must reference one of them.
func NewValidator(actions ...string) *Validator {
	v := &Validator{}
	if len(actions) > 0 {
		v.actions = make(map[string]bool, len(actions))
		for _, a := range actions {
			v.actions[a] = true
		}
	}
	return v
}

// WithExpressionOptions sets the parse options conditions are checked with,
// so definitions are held to the same grammar the engine runs them under.
func (v *Validator) WithExpressionOptions(opts ...expression.ParseOption) *Validator {
	v.parseOpts = opts
	return v
}

// Validate checks all files and returns every problem found.
func (v *Validator) Validate(files []model.DefinitionFile) []VError {
	var errs []VError
	seen := make(map[string]string)

	for i, file := range files {
		prefix := fmt.Sprintf("definitions[%d]", i)
		for j, w := range file.Workflows {
			wp := fmt.Sprintf("%s.workflows[%d]", prefix, j)
			if w.ID != "" {
				if other, dup := seen[w.ID]; dup {
					errs = append(errs, VError{Path: wp + ".id", Code: CodeDuplicate, Message: fmt.Sprintf("workflow %q already defined at %s", w.ID, other)})
				} else {
					seen[w.ID] = wp
				}
			}
			errs = append(errs, v.validateWorkflow(wp, w)...)
		}
	}
	return errs
}

func (v *Validator) validateWorkflow(prefix string, w model.WorkflowDefinition) []VError {
	var errs []VError

	if w.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: CodeRequired, Message: "id is required"})
	}
	if len(w.Nodes) == 0 {
		errs = append(errs, VError{Path: prefix + ".nodes", Code: CodeRequired, Message: "at least one node is required"})
	}

	nodeIDs := make(map[string]bool, len(w.Nodes))
	for i, n := range w.Nodes {
		if n.ID == "" {
			continue
		}
		if nodeIDs[n.ID] {
			errs = append(errs, VError{Path: fmt.Sprintf("%s.nodes[%d].id", prefix, i), Code: CodeDuplicate, Message: fmt.Sprintf("node %q is defined twice", n.ID)})
		}
		nodeIDs[n.ID] = true
	}

	switch {
	case w.StartNode == "":
		errs = append(errs, VError{Path: prefix + ".start_node", Code: CodeRequired, Message: "start_node is required"})
	case !nodeIDs[w.StartNode]:
		errs = append(errs, VError{Path: prefix + ".start_node", Code: CodeUnknownReference, Message: fmt.Sprintf("start_node %q is not a node of this workflow", w.StartNode)})
	}

	for i, n := range w.Nodes {
		np := fmt.Sprintf("%s.nodes[%d]", prefix, i)
		errs = append(errs, v.validateNode(np, n, nodeIDs)...)
	}
	return errs
}

func (v *Validator) validateNode(prefix string, n model.NodeDefinition, nodeIDs map[string]bool) []VError {
	var errs []VError

	if n.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: CodeRequired, Message: "id is required"})
	}

	switch n.Type {
	case model.NodeTypeAction:
		switch {
		case n.Action == "":
			errs = append(errs, VError{Path: prefix + ".action", Code: CodeRequired, Message: "action is required for action nodes"})
		case v.actions != nil && !v.actions[n.Action]:
			errs = append(errs, VError{Path: prefix + ".action", Code: CodeUnknownAction, Message: fmt.Sprintf("action %q is not registered", n.Action)})
		}
	case model.NodeTypeCondition:
		if n.Condition == "" {
			errs = append(errs, VError{Path: prefix + ".condition", Code: CodeRequired, Message: "condition is required for condition nodes"})
		} else if _, err := expression.Parse(n.Condition, v.parseOpts...); err != nil {
			errs = append(errs, VError{Path: prefix + ".condition", Code: CodeInvalidExpression, Message: err.Error()})
		}
	case model.NodeTypeQuery:
		errs = append(errs, validateFilter(prefix+".filter", n.Filter)...)
	case "":
		errs = append(errs, VError{Path: prefix + ".type", Code: CodeRequired, Message: "type is required"})
	default:
		errs = append(errs, VError{Path: prefix + ".type", Code: CodeInvalidNodeType, Message: fmt.Sprintf("unknown node type %q", n.Type)})
	}

	errs = append(errs, validateTemplates(prefix+".config", n.Config)...)

	allowed := allowedTransitions[n.Type]
	keys := make([]string, 0, len(n.Next))
	for k := range n.Next {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		target := n.Next[k]
		path := prefix + ".next." + k
		if allowed != nil && !allowed[k] {
			errs = append(errs, VError{Path: path, Code: CodeInvalidTransition, Message: fmt.Sprintf("transition %q is not valid for %s nodes", k, n.Type)})
		}
		if target != "" && !nodeIDs[target] {
			errs = append(errs, VError{Path: path, Code: CodeUnknownReference, Message: fmt.Sprintf("target node %q does not exist", target)})
		}
	}
	return errs
}

func validateFilter(path string, doc map[string]any) []VError {
	if doc == nil {
		return []VError{{Path: path, Code: CodeRequired, Message: "filter is required for query nodes"}}
	}
	f, err := filter.Decode(doc)
	if err != nil {
		return []VError{{Path: path, Code: CodeInvalidFilter, Message: err.Error()}}
	}
	var errs []VError
	for _, fe := range filter.Validate(f, path) {
		errs = append(errs, VError{Path: fe.Path, Code: CodeInvalidFilter, Message: fe.Message})
	}
	return errs
}

// validateTemplates walks a config value and checks the syntax of every
// string that contains a template reference.
func validateTemplates(path string, value any) []VError {
	var errs []VError
	switch val := value.(type) {
	case string:
		if err := template.ValidateSyntax(val); err != nil {
			errs = append(errs, VError{Path: path, Code: CodeInvalidTemplate, Message: err.Error()})
		}
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			errs = append(errs, validateTemplates(path+"."+k, val[k])...)
		}
	case []any:
		for i, item := range val {
			errs = append(errs, validateTemplates(fmt.Sprintf("%s[%d]", path, i), item)...)
		}
	}
	return errs
}
