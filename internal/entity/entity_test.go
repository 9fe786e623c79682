package entity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/flowbase/model"
)

var (
	clientType = uuid.MustParse("6f1c2a3b-0000-4000-8000-000000000001")
	userType   = uuid.MustParse("6f1c2a3b-0000-4000-8000-000000000002")
	contactDef = uuid.MustParse("0a7e0000-0000-4000-8000-000000000001")
	client1    = uuid.MustParse("51b00000-0000-4000-8000-000000000001")
	user1      = uuid.MustParse("c3d90000-0000-4000-8000-000000000001")
)

const seedYAML = `
entity_types:
  - id: 6f1c2a3b-0000-4000-8000-000000000001
    name: Client
    schema:
      status: {label: Status, type: text}
      primaryContact: {label: Primary Contact, type: relationship}
  - id: 6f1c2a3b-0000-4000-8000-000000000002
    name: User
    schema:
      name: {label: Name, type: text}
relationship_definitions:
  - id: 0a7e0000-0000-4000-8000-000000000001
    key: primaryContact
    source_type_id: 6f1c2a3b-0000-4000-8000-000000000001
    target_type_id: 6f1c2a3b-0000-4000-8000-000000000002
    cardinality: MANY_TO_ONE
    inverse_visible: true
    inverse_label: Clients
entities:
  - id: 51b00000-0000-4000-8000-000000000001
    type_id: 6f1c2a3b-0000-4000-8000-000000000001
    attributes:
      status: Active
    relations:
      primaryContact:
        definition_id: 0a7e0000-0000-4000-8000-000000000001
        targets: [c3d90000-0000-4000-8000-000000000001]
  - id: c3d90000-0000-4000-8000-000000000001
    type_id: 6f1c2a3b-0000-4000-8000-000000000002
    attributes:
      name: Alice
`

func seeded(t *testing.T) *MemoryLookup {
	t.Helper()
	l := NewMemoryLookup()
	require.NoError(t, l.LoadSeed([]byte(seedYAML)))
	return l
}

func TestMemoryLookup_seed(t *testing.T) {
	ctx := context.Background()
	l := seeded(t)

	typ, err := l.GetEntityType(ctx, clientType)
	require.NoError(t, err)
	assert.Equal(t, "Client", typ.Name)
	assert.Equal(t, "Primary Contact", typ.Schema["primaryContact"].Label)

	e, err := l.GetEntity(ctx, client1)
	require.NoError(t, err)
	assert.Equal(t, clientType, e.TypeID)
	assert.Equal(t, model.PrimitivePayload{Value: "Active"}, e.Payload["status"])
	assert.Equal(t, model.RelationshipPayload{DefinitionID: contactDef, TargetIDs: []uuid.UUID{user1}}, e.Payload["primaryContact"])

	rels, err := l.GetRelationships(ctx, user1)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, client1, rels[0].SourceID)
	assert.Equal(t, user1, rels[0].Other(client1))
	assert.Equal(t, client1, rels[0].Other(user1))
}

func TestMemoryLookup_definitions(t *testing.T) {
	ctx := context.Background()
	l := seeded(t)

	out, err := l.OutgoingDefinitions(ctx, clientType)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "primaryContact", out[0].Key)

	out, err = l.OutgoingDefinitions(ctx, userType)
	require.NoError(t, err)
	assert.Empty(t, out)

	inv, err := l.InverseDefinitions(ctx, userType)
	require.NoError(t, err)
	require.Len(t, inv, 1)
	assert.Equal(t, model.CardinalityOneToMany, inv[0].CardinalityFrom(userType))
	assert.Equal(t, model.CardinalityManyToOne, inv[0].CardinalityFrom(clientType))
}

func TestMemoryLookup_notFound(t *testing.T) {
	ctx := context.Background()
	l := seeded(t)

	_, err := l.GetEntity(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = l.GetEntityType(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	l.DeleteEntity(user1)
	_, err = l.GetEntity(ctx, user1)
	assert.ErrorIs(t, err, ErrNotFound)

	rels, err := l.GetRelationships(ctx, client1)
	require.NoError(t, err)
	assert.Len(t, rels, 1, "links to deleted entities are kept")
}

func TestMemoryLookup_badSeed(t *testing.T) {
	err := NewMemoryLookup().LoadSeed([]byte("entities: [id: not-a-uuid"))
	require.Error(t, err)
}

type countingLookup struct {
	Lookup
	entityCalls int
	failNext    bool
}

func (c *countingLookup) GetEntity(ctx context.Context, id uuid.UUID) (model.Entity, error) {
	c.entityCalls++
	if c.failNext {
		c.failNext = false
		return model.Entity{}, errors.New("boom")
	}
	return c.Lookup.GetEntity(ctx, id)
}

type cacheCounts struct {
	hits, misses map[string]int
}

func (c *cacheCounts) RecordEntityCacheHit(kind string)  { c.hits[kind]++ }
func (c *cacheCounts) RecordEntityCacheMiss(kind string) { c.misses[kind]++ }

func TestCachedLookup(t *testing.T) {
	ctx := context.Background()
	inner := &countingLookup{Lookup: seeded(t)}
	counts := &cacheCounts{hits: map[string]int{}, misses: map[string]int{}}
	c := NewCachedLookup(inner, time.Minute, time.Minute, counts)

	for i := 0; i < 3; i++ {
		e, err := c.GetEntity(ctx, client1)
		require.NoError(t, err)
		assert.Equal(t, client1, e.ID)
	}
	assert.Equal(t, 1, inner.entityCalls)
	assert.Equal(t, 2, counts.hits[KindEntity])
	assert.Equal(t, 1, counts.misses[KindEntity])

	c.Invalidate(client1)
	_, err := c.GetEntity(ctx, client1)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.entityCalls)
}

func TestCachedLookup_errorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	inner := &countingLookup{Lookup: seeded(t), failNext: true}
	c := NewCachedLookup(inner, time.Minute, time.Minute, nil)

	_, err := c.GetEntity(ctx, client1)
	require.Error(t, err)

	_, err = c.GetEntity(ctx, client1)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.entityCalls)
}

func TestCachedLookup_otherKinds(t *testing.T) {
	ctx := context.Background()
	c := NewCachedLookup(seeded(t), time.Minute, time.Minute, nil)

	typ, err := c.GetEntityType(ctx, userType)
	require.NoError(t, err)
	assert.Equal(t, "User", typ.Name)

	defs, err := c.InverseDefinitions(ctx, userType)
	require.NoError(t, err)
	assert.Len(t, defs, 1)

	rels, err := c.GetRelationships(ctx, client1)
	require.NoError(t, err)
	assert.Len(t, rels, 1)

	c.Flush()
	defs, err = c.OutgoingDefinitions(ctx, clientType)
	require.NoError(t, err)
	assert.Len(t, defs, 1)
}

func TestPayloadJSON(t *testing.T) {
	in := map[string]model.AttributePayload{
		"status":  model.PrimitivePayload{Value: "Active"},
		"score":   model.PrimitivePayload{Value: 4.5},
		"empty":   model.PrimitivePayload{Value: nil},
		"contact": model.RelationshipPayload{DefinitionID: contactDef, TargetIDs: []uuid.UUID{user1}},
	}
	data, err := MarshalPayload(in)
	require.NoError(t, err)

	out, err := UnmarshalPayload(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestUnmarshalPayload_errors(t *testing.T) {
	_, err := UnmarshalPayload([]byte(`{"a":{"kind":"mystery"}}`))
	assert.ErrorContains(t, err, "unknown payload kind")

	_, err = UnmarshalPayload([]byte(`{"a":{"kind":"relationship"}}`))
	assert.ErrorContains(t, err, "without definition_id")

	out, err := UnmarshalPayload(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
