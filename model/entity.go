package model

import (
	"time"

	"github.com/google/uuid"
)

// Relationship cardinalities.
const (
	CardinalityOneToOne   = "ONE_TO_ONE"
	CardinalityManyToOne  = "MANY_TO_ONE"
	CardinalityOneToMany  = "ONE_TO_MANY"
	CardinalityManyToMany = "MANY_TO_MANY"
)

// Schema property types.
const (
	PropertyTypeText         = "text"
	PropertyTypeNumber       = "number"
	PropertyTypeBoolean      = "boolean"
	PropertyTypeDate         = "date"
	PropertyTypeRelationship = "relationship"
)

// Entity is a stored CRM record. Payload is keyed by schema property id.
type Entity struct {
	ID        uuid.UUID                   `json:"id"        yaml:"id"`
	TypeID    uuid.UUID                   `json:"type_id"   yaml:"type_id"`
	Payload   map[string]AttributePayload `json:"payload"   yaml:"-"`
	CreatedAt time.Time                   `json:"created_at" yaml:"-"`
}

// AttributePayload is the stored value of one entity attribute: either a
// PrimitivePayload or a RelationshipPayload.
type AttributePayload interface {
	isAttributePayload()
}

// PrimitivePayload stores a scalar, list or map value as-is.
type PrimitivePayload struct {
	Value any `json:"value"`
}

// RelationshipPayload references the related entities through one
// relationship definition.
type RelationshipPayload struct {
	DefinitionID uuid.UUID   `json:"definition_id"`
	TargetIDs    []uuid.UUID `json:"target_ids"`
}

func (PrimitivePayload) isAttributePayload()    {}
func (RelationshipPayload) isAttributePayload() {}

// SchemaProperty describes one attribute of an entity type.
type SchemaProperty struct {
	Label string `json:"label" yaml:"label"`
	Type  string `json:"type"  yaml:"type"`
}

// EntityType is an entity schema: property id to property description.
type EntityType struct {
	ID     uuid.UUID                 `json:"id"     yaml:"id"`
	Name   string                    `json:"name"   yaml:"name"`
	Schema map[string]SchemaProperty `json:"schema" yaml:"schema"`
}

// RelationshipDefinition declares a relationship from SourceTypeID to
// TargetTypeID. When InverseVisible is set, entities of the target type also
// see the relationship, labelled with InverseLabel.
type RelationshipDefinition struct {
	ID             uuid.UUID `json:"id"              yaml:"id"`
	Key            string    `json:"key"             yaml:"key"`
	SourceTypeID   uuid.UUID `json:"source_type_id"  yaml:"source_type_id"`
	TargetTypeID   uuid.UUID `json:"target_type_id"  yaml:"target_type_id"`
	Cardinality    string    `json:"cardinality"     yaml:"cardinality"`
	InverseVisible bool      `json:"inverse_visible" yaml:"inverse_visible"`
	InverseLabel   string    `json:"inverse_label"   yaml:"inverse_label"`
}

// CardinalityFrom returns the cardinality as seen from an entity of typeID.
// Viewing a relationship from its target side swaps the two ends.
func (d RelationshipDefinition) CardinalityFrom(typeID uuid.UUID) string {
	if typeID != d.TargetTypeID || d.SourceTypeID == d.TargetTypeID {
		return d.Cardinality
	}
	switch d.Cardinality {
	case CardinalityManyToOne:
		return CardinalityOneToMany
	case CardinalityOneToMany:
		return CardinalityManyToOne
	default:
		return d.Cardinality
	}
}

// IsToOne reports whether a cardinality resolves to at most one related entity.
func IsToOne(cardinality string) bool {
	return cardinality == CardinalityOneToOne || cardinality == CardinalityManyToOne
}

// EntityRelationship is one stored link between two entities.
type EntityRelationship struct {
	ID           uuid.UUID `json:"id"            yaml:"id"`
	DefinitionID uuid.UUID `json:"definition_id" yaml:"definition_id"`
	SourceID     uuid.UUID `json:"source_id"     yaml:"source_id"`
	TargetID     uuid.UUID `json:"target_id"     yaml:"target_id"`
}

// Other returns the id at the far end of the link from entityID.
func (r EntityRelationship) Other(entityID uuid.UUID) uuid.UUID {
	if r.SourceID == entityID {
		return r.TargetID
	}
	return r.SourceID
}
