// Package entity provides the entity, schema and relationship lookups that
// the entity context builder reads from.
package entity

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/pitabwire/flowbase/model"
)

// ErrNotFound is returned when an entity or entity type does not exist.
var ErrNotFound = errors.New("not found")

// Lookup reads entities, their schemas and their relationships.
//
// OutgoingDefinitions returns the relationship definitions declared by
// typeID. InverseDefinitions returns the inverse-visible definitions declared
// by other types that target typeID.
type Lookup interface {
	GetEntity(ctx context.Context, id uuid.UUID) (model.Entity, error)
	GetEntityType(ctx context.Context, id uuid.UUID) (model.EntityType, error)
	OutgoingDefinitions(ctx context.Context, typeID uuid.UUID) ([]model.RelationshipDefinition, error)
	InverseDefinitions(ctx context.Context, typeID uuid.UUID) ([]model.RelationshipDefinition, error)
	GetRelationships(ctx context.Context, entityID uuid.UUID) ([]model.EntityRelationship, error)
}
