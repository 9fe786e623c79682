package entity

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/pitabwire/flowbase/model"
)

const (
	payloadKindPrimitive    = "primitive"
	payloadKindRelationship = "relationship"
)

type payloadRecord struct {
	Kind         string          `json:"kind"`
	Value        json.RawMessage `json:"value,omitempty"`
	DefinitionID *uuid.UUID      `json:"definition_id,omitempty"`
	TargetIDs    []uuid.UUID     `json:"target_ids,omitempty"`
}

// MarshalPayload encodes an entity payload as a JSON object of tagged
// attribute records.
func MarshalPayload(p map[string]model.AttributePayload) ([]byte, error) {
	records := make(map[string]payloadRecord, len(p))
	for key, attr := range p {
		switch a := attr.(type) {
		case model.PrimitivePayload:
			raw, err := json.Marshal(a.Value)
			if err != nil {
				return nil, fmt.Errorf("attribute %q: %w", key, err)
			}
			records[key] = payloadRecord{Kind: payloadKindPrimitive, Value: raw}
		case model.RelationshipPayload:
			def := a.DefinitionID
			records[key] = payloadRecord{Kind: payloadKindRelationship, DefinitionID: &def, TargetIDs: a.TargetIDs}
		default:
			return nil, fmt.Errorf("attribute %q: unsupported payload %T", key, attr)
		}
	}
	return json.Marshal(records)
}

// UnmarshalPayload decodes the output of MarshalPayload.
func UnmarshalPayload(data []byte) (map[string]model.AttributePayload, error) {
	if len(data) == 0 {
		return map[string]model.AttributePayload{}, nil
	}
	var records map[string]payloadRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	out := make(map[string]model.AttributePayload, len(records))
	for key, rec := range records {
		switch rec.Kind {
		case payloadKindPrimitive:
			var v any
			if len(rec.Value) > 0 {
				if err := json.Unmarshal(rec.Value, &v); err != nil {
					return nil, fmt.Errorf("attribute %q: %w", key, err)
				}
			}
			out[key] = model.PrimitivePayload{Value: v}
		case payloadKindRelationship:
			if rec.DefinitionID == nil {
				return nil, fmt.Errorf("attribute %q: relationship without definition_id", key)
			}
			out[key] = model.RelationshipPayload{DefinitionID: *rec.DefinitionID, TargetIDs: rec.TargetIDs}
		default:
			return nil, fmt.Errorf("attribute %q: unknown payload kind %q", key, rec.Kind)
		}
	}
	return out, nil
}
