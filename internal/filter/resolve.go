package filter

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pitabwire/flowbase/internal/template"
	"github.com/pitabwire/flowbase/model"
)

// ErrNullEntityID is returned when a TargetEquals id template resolves to
// null. A filter cannot match a null id.
var ErrNullEntityID = errors.New("entity id template resolved to null")

// ResolveTemplates returns a copy of f in which every TemplateValue has been
// replaced by a LiteralValue holding its resolved value, and every templated
// TargetEquals id by the id it resolves to. f is not modified.
func ResolveTemplates(r *template.Resolver, f model.QueryFilter, store template.DataStore) (model.QueryFilter, error) {
	switch n := f.(type) {
	case nil:
		return nil, nil

	case model.AttributeFilter:
		tv, ok := n.Value.(model.TemplateValue)
		if !ok {
			return n, nil
		}
		v, err := r.Resolve(tv.Expression, store)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", n.Attribute, err)
		}
		n.Value = model.LiteralValue{Value: v}
		return n, nil

	case model.AndFilter:
		children, err := resolveChildren(r, n.Filters, store)
		if err != nil {
			return nil, err
		}
		return model.AndFilter{Filters: children}, nil

	case model.OrFilter:
		children, err := resolveChildren(r, n.Filters, store)
		if err != nil {
			return nil, err
		}
		return model.OrFilter{Filters: children}, nil

	case model.RelationshipQuery:
		cond, err := resolveCondition(r, n.Condition, store)
		if err != nil {
			return nil, fmt.Errorf("relationship %q: %w", n.Relationship, err)
		}
		return model.RelationshipQuery{Relationship: n.Relationship, Condition: cond}, nil

	default:
		return nil, fmt.Errorf("unsupported filter %T", f)
	}
}

func resolveChildren(r *template.Resolver, children []model.QueryFilter, store template.DataStore) ([]model.QueryFilter, error) {
	out := make([]model.QueryFilter, len(children))
	for i, child := range children {
		resolved, err := ResolveTemplates(r, child, store)
		if err != nil {
			return nil, err
		}
		out[i] = resolved
	}
	return out, nil
}

func resolveCondition(r *template.Resolver, c model.RelationshipFilter, store template.DataStore) (model.RelationshipFilter, error) {
	switch n := c.(type) {
	case nil, model.Exists, model.NotExists, model.CountMatches:
		return c, nil

	case model.TargetEquals:
		ids := make([]string, len(n.EntityIDs))
		for i, id := range n.EntityIDs {
			resolved, err := resolveEntityID(r, id, store)
			if err != nil {
				return nil, err
			}
			ids[i] = resolved
		}
		return model.TargetEquals{EntityIDs: ids}, nil

	case model.TargetMatches:
		inner, err := ResolveTemplates(r, n.Filter, store)
		if err != nil {
			return nil, err
		}
		return model.TargetMatches{Filter: inner}, nil

	case model.TargetTypeMatches:
		branches := make([]model.TypeBranch, len(n.Branches))
		for i, b := range n.Branches {
			inner, err := ResolveTemplates(r, b.Filter, store)
			if err != nil {
				return nil, err
			}
			branches[i] = model.TypeBranch{EntityTypeID: b.EntityTypeID, Filter: inner}
		}
		return model.TargetTypeMatches{Branches: branches}, nil

	default:
		return nil, fmt.Errorf("unsupported condition %T", c)
	}
}

func resolveEntityID(r *template.Resolver, id string, store template.DataStore) (string, error) {
	if !template.IsTemplate(id) {
		return id, nil
	}
	v, err := r.Resolve(id, store)
	if err != nil {
		return "", err
	}
	switch t := v.(type) {
	case nil:
		return "", fmt.Errorf("%w: %s", ErrNullEntityID, id)
	case string:
		return t, nil
	case uuid.UUID:
		return t.String(), nil
	default:
		return fmt.Sprint(t), nil
	}
}

// HasTemplates reports whether f still carries any TemplateValue or
// templated entity id.
func HasTemplates(f model.QueryFilter) bool {
	switch n := f.(type) {
	case model.AttributeFilter:
		_, ok := n.Value.(model.TemplateValue)
		return ok
	case model.AndFilter:
		return anyHasTemplates(n.Filters)
	case model.OrFilter:
		return anyHasTemplates(n.Filters)
	case model.RelationshipQuery:
		switch c := n.Condition.(type) {
		case model.TargetEquals:
			for _, id := range c.EntityIDs {
				if template.IsTemplate(id) {
					return true
				}
			}
		case model.TargetMatches:
			return HasTemplates(c.Filter)
		case model.TargetTypeMatches:
			for _, b := range c.Branches {
				if HasTemplates(b.Filter) {
					return true
				}
			}
		}
	}
	return false
}

func anyHasTemplates(fs []model.QueryFilter) bool {
	for _, f := range fs {
		if HasTemplates(f) {
			return true
		}
	}
	return false
}
