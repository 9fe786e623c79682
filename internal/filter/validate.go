// Package filter validates QueryFilter trees and resolves the templates they
// carry before they are handed to a query executor.
package filter

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/pitabwire/flowbase/internal/template"
	"github.com/pitabwire/flowbase/model"
)

// Validation error codes.
const (
	CodeRequired         = "REQUIRED"
	CodeEmptyGroup       = "EMPTY_GROUP"
	CodeInvalidTemplate  = "INVALID_TEMPLATE"
	CodeInvalidOperator  = "INVALID_OPERATOR"
	CodeEmptyEntityIDs   = "EMPTY_ENTITY_IDS"
	CodeInvalidEntityID  = "INVALID_ENTITY_ID"
	CodeEmptyBranches    = "EMPTY_BRANCHES"
	CodeNegativeCount    = "NEGATIVE_COUNT"
	CodeUnknownCondition = "UNKNOWN_CONDITION"
	CodeMalformed        = "MALFORMED"
)

var knownOperators = map[string]bool{
	model.FilterOpEquals:      true,
	model.FilterOpNotEquals:   true,
	model.FilterOpGreaterThan: true,
	model.FilterOpLessThan:    true,
	model.FilterOpContains:    true,
	model.FilterOpIsNull:      true,
}

// ValidationError is one problem found in a filter tree, tagged with the path
// of the offending node.
type ValidationError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate walks f and returns every problem found. It never stops at the
// first error. path is the location of f within its enclosing document.
func Validate(f model.QueryFilter, path string) []ValidationError {
	var errs []ValidationError

	switch n := f.(type) {
	case nil:
		errs = append(errs, ValidationError{Path: path, Code: CodeRequired, Message: "filter is required"})

	case model.AttributeFilter:
		if n.Attribute == "" {
			errs = append(errs, ValidationError{Path: path + ".attribute", Code: CodeRequired, Message: "attribute is required"})
		}
		if !knownOperators[n.Operator] {
			errs = append(errs, ValidationError{
				Path:    path + ".operator",
				Code:    CodeInvalidOperator,
				Message: fmt.Sprintf("unknown operator %q", n.Operator),
			})
		}
		errs = append(errs, validateValue(n.Value, n.Operator, path+".value")...)

	case model.AndFilter:
		errs = append(errs, validateGroup("and", n.Filters, path)...)

	case model.OrFilter:
		errs = append(errs, validateGroup("or", n.Filters, path)...)

	case model.RelationshipQuery:
		if n.Relationship == "" {
			errs = append(errs, ValidationError{Path: path + ".relationship", Code: CodeRequired, Message: "relationship is required"})
		}
		errs = append(errs, validateCondition(n.Condition, path+".condition")...)

	default:
		errs = append(errs, ValidationError{Path: path, Code: CodeUnknownCondition, Message: fmt.Sprintf("unsupported filter %T", f)})
	}
	return errs
}

func validateGroup(kind string, children []model.QueryFilter, path string) []ValidationError {
	if len(children) == 0 {
		return []ValidationError{{
			Path:    path,
			Code:    CodeEmptyGroup,
			Message: fmt.Sprintf("%s filter requires at least one child", kind),
		}}
	}
	var errs []ValidationError
	for i, child := range children {
		errs = append(errs, Validate(child, fmt.Sprintf("%s.filters[%d]", path, i))...)
	}
	return errs
}

func validateValue(v model.FilterValue, operator, path string) []ValidationError {
	switch fv := v.(type) {
	case nil:
		if operator == model.FilterOpIsNull {
			return nil
		}
		return []ValidationError{{Path: path, Code: CodeRequired, Message: "value is required"}}
	case model.LiteralValue:
		return nil
	case model.TemplateValue:
		if err := template.ValidateSyntax(fv.Expression); err != nil {
			return []ValidationError{{Path: path, Code: CodeInvalidTemplate, Message: err.Error()}}
		}
		if !template.IsTemplate(fv.Expression) {
			return []ValidationError{{
				Path:    path,
				Code:    CodeInvalidTemplate,
				Message: fmt.Sprintf("%q contains no template reference", fv.Expression),
			}}
		}
		return nil
	default:
		return []ValidationError{{Path: path, Code: CodeUnknownCondition, Message: fmt.Sprintf("unsupported value %T", v)}}
	}
}

func validateCondition(c model.RelationshipFilter, path string) []ValidationError {
	var errs []ValidationError

	switch n := c.(type) {
	case nil:
		errs = append(errs, ValidationError{Path: path, Code: CodeRequired, Message: "condition is required"})

	case model.Exists, model.NotExists:

	case model.TargetEquals:
		if len(n.EntityIDs) == 0 {
			errs = append(errs, ValidationError{
				Path:    path + ".entityIds",
				Code:    CodeEmptyEntityIDs,
				Message: "at least one entity id is required",
			})
		}
		for i, id := range n.EntityIDs {
			errs = append(errs, validateEntityID(id, fmt.Sprintf("%s.entityIds[%d]", path, i))...)
		}

	case model.TargetMatches:
		errs = append(errs, Validate(n.Filter, path+".filter")...)

	case model.TargetTypeMatches:
		if len(n.Branches) == 0 {
			errs = append(errs, ValidationError{
				Path:    path + ".branches",
				Code:    CodeEmptyBranches,
				Message: "at least one type branch is required",
			})
		}
		for i, b := range n.Branches {
			bp := fmt.Sprintf("%s.branches[%d]", path, i)
			if b.EntityTypeID == "" {
				errs = append(errs, ValidationError{Path: bp + ".entityTypeId", Code: CodeRequired, Message: "entity type id is required"})
			}
			if b.Filter != nil {
				errs = append(errs, Validate(b.Filter, bp+".filter")...)
			}
		}

	case model.CountMatches:
		if n.Count < 0 {
			errs = append(errs, ValidationError{
				Path:    path + ".count",
				Code:    CodeNegativeCount,
				Message: fmt.Sprintf("count must be non-negative, got %d", n.Count),
			})
		}

	default:
		errs = append(errs, ValidationError{Path: path, Code: CodeUnknownCondition, Message: fmt.Sprintf("unsupported condition %T", c)})
	}
	return errs
}

// validateEntityID accepts either a template or a literal UUID.
func validateEntityID(id, path string) []ValidationError {
	if template.IsTemplate(id) {
		if err := template.ValidateSyntax(id); err != nil {
			return []ValidationError{{Path: path, Code: CodeInvalidTemplate, Message: err.Error()}}
		}
		return nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return []ValidationError{{
			Path:    path,
			Code:    CodeInvalidEntityID,
			Message: fmt.Sprintf("%q is neither a template nor a UUID", id),
		}}
	}
	return nil
}
