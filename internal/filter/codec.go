package filter

import (
	"fmt"
	"strings"

	"github.com/pitabwire/flowbase/internal/pathutil"
	"github.com/pitabwire/flowbase/model"
)

// Document node types.
const (
	TypeAttribute    = "attribute"
	TypeRelationship = "relationship"
	TypeAnd          = "and"
	TypeOr           = "or"

	ConditionExists            = "exists"
	ConditionNotExists         = "not_exists"
	ConditionTargetEquals      = "target_equals"
	ConditionTargetMatches     = "target_matches"
	ConditionTargetTypeMatches = "target_type_matches"
	ConditionCountMatches      = "count_matches"
)

// Decode converts a generic document, as produced by decoding YAML or JSON,
// into a QueryFilter. Nodes are tagged by their "type" key:
//
//	type: and
//	filters:
//	  - type: attribute
//	    attribute: status
//	    operator: equals
//	    value: "{{ trigger.status }}"
//	  - type: relationship
//	    relationship: primaryContact
//	    condition:
//	      type: target_equals
//	      entity_ids: ["{{ steps.lookup.output.id }}"]
//
// A string value containing a {{ }} reference decodes as a TemplateValue;
// anything else is a LiteralValue. Decode checks shape only; use Validate for
// semantic checks such as empty groups.
func Decode(doc map[string]any) (model.QueryFilter, error) {
	return decodeFilter(doc, "filter")
}

func decodeFilter(doc map[string]any, path string) (model.QueryFilter, error) {
	if doc == nil {
		return nil, fmt.Errorf("%s: filter is required", path)
	}
	kind, _ := doc["type"].(string)

	switch kind {
	case TypeAttribute:
		attr, _ := doc["attribute"].(string)
		op, _ := doc["operator"].(string)
		if op == "" {
			op = model.FilterOpEquals
		}
		f := model.AttributeFilter{Attribute: attr, Operator: op}
		if raw, ok := doc["value"]; ok {
			f.Value = decodeValue(raw)
		}
		return f, nil

	case TypeAnd, TypeOr:
		children, err := decodeChildren(doc["filters"], path)
		if err != nil {
			return nil, err
		}
		if kind == TypeAnd {
			return model.AndFilter{Filters: children}, nil
		}
		return model.OrFilter{Filters: children}, nil

	case TypeRelationship:
		rel, _ := doc["relationship"].(string)
		condDoc, err := asMap(doc["condition"], path+".condition")
		if err != nil {
			return nil, err
		}
		cond, err := decodeCondition(condDoc, path+".condition")
		if err != nil {
			return nil, err
		}
		return model.RelationshipQuery{Relationship: rel, Condition: cond}, nil

	default:
		return nil, fmt.Errorf("%s: unknown filter type %q", path, kind)
	}
}

func decodeChildren(raw any, path string) ([]model.QueryFilter, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s.filters: expected a list, got %s", path, pathutil.TypeName(raw))
	}
	children := make([]model.QueryFilter, 0, len(list))
	for i, item := range list {
		cp := fmt.Sprintf("%s.filters[%d]", path, i)
		m, err := asMap(item, cp)
		if err != nil {
			return nil, err
		}
		child, err := decodeFilter(m, cp)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

// decodeValue treats any string carrying a template delimiter as a template,
// so a malformed reference is caught by Validate instead of being queried as
// literal text.
func decodeValue(raw any) model.FilterValue {
	if s, ok := raw.(string); ok && (strings.Contains(s, "{{") || strings.Contains(s, "}}")) {
		return model.TemplateValue{Expression: s}
	}
	return model.LiteralValue{Value: raw}
}

func decodeCondition(doc map[string]any, path string) (model.RelationshipFilter, error) {
	kind, _ := doc["type"].(string)

	switch kind {
	case ConditionExists:
		return model.Exists{}, nil

	case ConditionNotExists:
		return model.NotExists{}, nil

	case ConditionTargetEquals:
		var ids []string
		if raw, ok := doc["entity_ids"]; ok && raw != nil {
			list, ok := raw.([]any)
			if !ok {
				return nil, fmt.Errorf("%s.entity_ids: expected a list, got %s", path, pathutil.TypeName(raw))
			}
			for i, item := range list {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("%s.entity_ids[%d]: expected a string, got %s", path, i, pathutil.TypeName(item))
				}
				ids = append(ids, s)
			}
		}
		return model.TargetEquals{EntityIDs: ids}, nil

	case ConditionTargetMatches:
		inner, err := asMap(doc["filter"], path+".filter")
		if err != nil {
			return nil, err
		}
		f, err := decodeFilter(inner, path+".filter")
		if err != nil {
			return nil, err
		}
		return model.TargetMatches{Filter: f}, nil

	case ConditionTargetTypeMatches:
		var branches []model.TypeBranch
		if raw, ok := doc["branches"]; ok && raw != nil {
			list, ok := raw.([]any)
			if !ok {
				return nil, fmt.Errorf("%s.branches: expected a list, got %s", path, pathutil.TypeName(raw))
			}
			for i, item := range list {
				bp := fmt.Sprintf("%s.branches[%d]", path, i)
				m, err := asMap(item, bp)
				if err != nil {
					return nil, err
				}
				b := model.TypeBranch{}
				b.EntityTypeID, _ = m["entity_type_id"].(string)
				if fd, ok := m["filter"]; ok && fd != nil {
					fm, err := asMap(fd, bp+".filter")
					if err != nil {
						return nil, err
					}
					if b.Filter, err = decodeFilter(fm, bp+".filter"); err != nil {
						return nil, err
					}
				}
				branches = append(branches, b)
			}
		}
		return model.TargetTypeMatches{Branches: branches}, nil

	case ConditionCountMatches:
		f, ok := pathutil.ToFloat(doc["count"])
		if !ok || f != float64(int(f)) {
			return nil, fmt.Errorf("%s.count: expected an integer", path)
		}
		return model.CountMatches{Count: int(f)}, nil

	default:
		return nil, fmt.Errorf("%s: unknown condition type %q", path, kind)
	}
}

func asMap(raw any, path string) (map[string]any, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected a map, got %s", path, pathutil.TypeName(raw))
	}
	return m, nil
}

// Encode renders f in the document form accepted by Decode.
func Encode(f model.QueryFilter) map[string]any {
	switch n := f.(type) {
	case model.AttributeFilter:
		doc := map[string]any{"type": TypeAttribute, "attribute": n.Attribute, "operator": n.Operator}
		switch v := n.Value.(type) {
		case model.LiteralValue:
			doc["value"] = v.Value
		case model.TemplateValue:
			doc["value"] = v.Expression
		}
		return doc
	case model.AndFilter:
		return map[string]any{"type": TypeAnd, "filters": encodeChildren(n.Filters)}
	case model.OrFilter:
		return map[string]any{"type": TypeOr, "filters": encodeChildren(n.Filters)}
	case model.RelationshipQuery:
		return map[string]any{
			"type":         TypeRelationship,
			"relationship": n.Relationship,
			"condition":    encodeCondition(n.Condition),
		}
	default:
		return nil
	}
}

func encodeChildren(fs []model.QueryFilter) []any {
	out := make([]any, len(fs))
	for i, f := range fs {
		out[i] = Encode(f)
	}
	return out
}

func encodeCondition(c model.RelationshipFilter) map[string]any {
	switch n := c.(type) {
	case model.Exists:
		return map[string]any{"type": ConditionExists}
	case model.NotExists:
		return map[string]any{"type": ConditionNotExists}
	case model.TargetEquals:
		ids := make([]any, len(n.EntityIDs))
		for i, id := range n.EntityIDs {
			ids[i] = id
		}
		return map[string]any{"type": ConditionTargetEquals, "entity_ids": ids}
	case model.TargetMatches:
		return map[string]any{"type": ConditionTargetMatches, "filter": Encode(n.Filter)}
	case model.TargetTypeMatches:
		branches := make([]any, len(n.Branches))
		for i, b := range n.Branches {
			bm := map[string]any{"entity_type_id": b.EntityTypeID}
			if b.Filter != nil {
				bm["filter"] = Encode(b.Filter)
			}
			branches[i] = bm
		}
		return map[string]any{"type": ConditionTargetTypeMatches, "branches": branches}
	case model.CountMatches:
		return map[string]any{"type": ConditionCountMatches, "count": n.Count}
	default:
		return nil
	}
}
