package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/flowbase/model"
)

// Schema is the DDL for the tables PgLookup reads.
const Schema = `
CREATE TABLE IF NOT EXISTS entity_types (
	id     UUID PRIMARY KEY,
	name   TEXT NOT NULL,
	schema JSONB NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS relationship_definitions (
	id              UUID PRIMARY KEY,
	key             TEXT NOT NULL,
	source_type_id  UUID NOT NULL REFERENCES entity_types(id),
	target_type_id  UUID NOT NULL REFERENCES entity_types(id),
	cardinality     TEXT NOT NULL,
	inverse_visible BOOLEAN NOT NULL DEFAULT FALSE,
	inverse_label   TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS entities (
	id         UUID PRIMARY KEY,
	type_id    UUID NOT NULL REFERENCES entity_types(id),
	payload    JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS entity_relationships (
	id            UUID PRIMARY KEY,
	definition_id UUID NOT NULL REFERENCES relationship_definitions(id),
	source_id     UUID NOT NULL,
	target_id     UUID NOT NULL
);
CREATE INDEX IF NOT EXISTS entity_relationships_source_idx ON entity_relationships (source_id);
CREATE INDEX IF NOT EXISTS entity_relationships_target_idx ON entity_relationships (target_id);
`

// PgLookup is a PostgreSQL-backed Lookup using pgx/v5.
type PgLookup struct {
	pool *pgxpool.Pool
}

// NewPgLookup creates a PostgreSQL entity lookup.
func NewPgLookup(pool *pgxpool.Pool) *PgLookup {
	return &PgLookup{pool: pool}
}

// EnsureSchema creates the entity tables if they do not exist.
func (l *PgLookup) EnsureSchema(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create entity schema: %w", err)
	}
	return nil
}

// HealthCheck pings the database.
func (l *PgLookup) HealthCheck(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

// GetEntity retrieves an entity by ID.
func (l *PgLookup) GetEntity(ctx context.Context, id uuid.UUID) (model.Entity, error) {
	var e model.Entity
	var payloadJSON []byte

	err := l.pool.QueryRow(ctx, `
		SELECT id, type_id, payload, created_at
		FROM entities
		WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.TypeID, &payloadJSON, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Entity{}, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Entity{}, fmt.Errorf("query entity: %w", err)
	}

	if e.Payload, err = UnmarshalPayload(payloadJSON); err != nil {
		return model.Entity{}, fmt.Errorf("entity %s: %w", id, err)
	}
	return e, nil
}

// GetEntityType retrieves an entity type by ID.
func (l *PgLookup) GetEntityType(ctx context.Context, id uuid.UUID) (model.EntityType, error) {
	var t model.EntityType
	var schemaJSON []byte

	err := l.pool.QueryRow(ctx, `
		SELECT id, name, schema
		FROM entity_types
		WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.Name, &schemaJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.EntityType{}, fmt.Errorf("entity type %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.EntityType{}, fmt.Errorf("query entity type: %w", err)
	}

	if schemaJSON != nil {
		if err := json.Unmarshal(schemaJSON, &t.Schema); err != nil {
			return model.EntityType{}, fmt.Errorf("unmarshal schema: %w", err)
		}
	}
	return t, nil
}

// OutgoingDefinitions returns the definitions declared by typeID.
func (l *PgLookup) OutgoingDefinitions(ctx context.Context, typeID uuid.UUID) ([]model.RelationshipDefinition, error) {
	return l.queryDefinitions(ctx, `
		SELECT id, key, source_type_id, target_type_id, cardinality, inverse_visible, inverse_label
		FROM relationship_definitions
		WHERE source_type_id = $1
		ORDER BY key`,
		typeID,
	)
}

// InverseDefinitions returns inverse-visible definitions targeting typeID.
func (l *PgLookup) InverseDefinitions(ctx context.Context, typeID uuid.UUID) ([]model.RelationshipDefinition, error) {
	return l.queryDefinitions(ctx, `
		SELECT id, key, source_type_id, target_type_id, cardinality, inverse_visible, inverse_label
		FROM relationship_definitions
		WHERE target_type_id = $1 AND inverse_visible
		ORDER BY key`,
		typeID,
	)
}

func (l *PgLookup) queryDefinitions(ctx context.Context, query string, typeID uuid.UUID) ([]model.RelationshipDefinition, error) {
	rows, err := l.pool.Query(ctx, query, typeID)
	if err != nil {
		return nil, fmt.Errorf("query relationship definitions: %w", err)
	}
	defer rows.Close()

	var defs []model.RelationshipDefinition
	for rows.Next() {
		var d model.RelationshipDefinition
		if err := rows.Scan(
			&d.ID, &d.Key, &d.SourceTypeID, &d.TargetTypeID,
			&d.Cardinality, &d.InverseVisible, &d.InverseLabel,
		); err != nil {
			return nil, fmt.Errorf("scan relationship definition: %w", err)
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// GetRelationships returns every link in which entityID takes part.
func (l *PgLookup) GetRelationships(ctx context.Context, entityID uuid.UUID) ([]model.EntityRelationship, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, definition_id, source_id, target_id
		FROM entity_relationships
		WHERE source_id = $1 OR target_id = $1`,
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}
	defer rows.Close()

	var rels []model.EntityRelationship
	for rows.Next() {
		var r model.EntityRelationship
		if err := rows.Scan(&r.ID, &r.DefinitionID, &r.SourceID, &r.TargetID); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}
