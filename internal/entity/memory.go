package entity

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/pitabwire/flowbase/model"
)

// MemoryLookup is an in-memory Lookup, populated with Put* calls or from a
// YAML seed file.
type MemoryLookup struct {
	mu            sync.RWMutex
	entities      map[uuid.UUID]model.Entity
	types         map[uuid.UUID]model.EntityType
	definitions   map[uuid.UUID]model.RelationshipDefinition
	relationships map[uuid.UUID][]model.EntityRelationship // key: source or target entity ID
}

// NewMemoryLookup creates an empty in-memory lookup.
func NewMemoryLookup() *MemoryLookup {
	return &MemoryLookup{
		entities:      make(map[uuid.UUID]model.Entity),
		types:         make(map[uuid.UUID]model.EntityType),
		definitions:   make(map[uuid.UUID]model.RelationshipDefinition),
		relationships: make(map[uuid.UUID][]model.EntityRelationship),
	}
}

// PutEntity stores or replaces an entity.
func (l *MemoryLookup) PutEntity(e model.Entity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entities[e.ID] = e
}

// DeleteEntity removes an entity. Relationships pointing at it are kept, so
// that readers observe it as stale.
func (l *MemoryLookup) DeleteEntity(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entities, id)
}

// PutEntityType stores or replaces an entity type.
func (l *MemoryLookup) PutEntityType(t model.EntityType) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.types[t.ID] = t
}

// PutDefinition stores or replaces a relationship definition.
func (l *MemoryLookup) PutDefinition(d model.RelationshipDefinition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.definitions[d.ID] = d
}

// PutRelationship records a link between two entities.
func (l *MemoryLookup) PutRelationship(r model.EntityRelationship) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	l.relationships[r.SourceID] = append(l.relationships[r.SourceID], r)
	if r.TargetID != r.SourceID {
		l.relationships[r.TargetID] = append(l.relationships[r.TargetID], r)
	}
}

// GetEntity returns the entity with the given id.
func (l *MemoryLookup) GetEntity(_ context.Context, id uuid.UUID) (model.Entity, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entities[id]
	if !ok {
		return model.Entity{}, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	return e, nil
}

// GetEntityType returns the entity type with the given id.
func (l *MemoryLookup) GetEntityType(_ context.Context, id uuid.UUID) (model.EntityType, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.types[id]
	if !ok {
		return model.EntityType{}, fmt.Errorf("entity type %s: %w", id, ErrNotFound)
	}
	return t, nil
}

// OutgoingDefinitions returns the definitions whose source is typeID.
func (l *MemoryLookup) OutgoingDefinitions(_ context.Context, typeID uuid.UUID) ([]model.RelationshipDefinition, error) {
	return l.filterDefinitions(func(d model.RelationshipDefinition) bool {
		return d.SourceTypeID == typeID
	}), nil
}

// InverseDefinitions returns inverse-visible definitions targeting typeID.
func (l *MemoryLookup) InverseDefinitions(_ context.Context, typeID uuid.UUID) ([]model.RelationshipDefinition, error) {
	return l.filterDefinitions(func(d model.RelationshipDefinition) bool {
		return d.InverseVisible && d.TargetTypeID == typeID
	}), nil
}

func (l *MemoryLookup) filterDefinitions(keep func(model.RelationshipDefinition) bool) []model.RelationshipDefinition {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []model.RelationshipDefinition
	for _, d := range l.definitions {
		if keep(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// GetRelationships returns every link in which entityID takes part, on
// either side.
func (l *MemoryLookup) GetRelationships(_ context.Context, entityID uuid.UUID) ([]model.EntityRelationship, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rels := l.relationships[entityID]
	out := make([]model.EntityRelationship, len(rels))
	copy(out, rels)
	return out, nil
}
