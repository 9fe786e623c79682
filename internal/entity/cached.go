package entity

import (
	"context"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/pitabwire/flowbase/model"
)

// Cache kinds, used as key prefixes and metric labels.
const (
	KindEntity        = "entity"
	KindEntityType    = "entity_type"
	KindOutgoing      = "outgoing_definitions"
	KindInverse       = "inverse_definitions"
	KindRelationships = "relationships"
)

// CacheObserver receives cache hit and miss notifications.
type CacheObserver interface {
	RecordEntityCacheHit(kind string)
	RecordEntityCacheMiss(kind string)
}

// CachedLookup is a TTL cache in front of another Lookup. Errors are never
// cached.
type CachedLookup struct {
	next     Lookup
	cache    *gocache.Cache
	observer CacheObserver
}

// NewCachedLookup wraps next with a cache whose entries expire after ttl and
// are purged every cleanup interval. observer may be nil.
func NewCachedLookup(next Lookup, ttl, cleanup time.Duration, observer CacheObserver) *CachedLookup {
	return &CachedLookup{
		next:     next,
		cache:    gocache.New(ttl, cleanup),
		observer: observer,
	}
}

// Invalidate drops every cached record keyed by id.
func (c *CachedLookup) Invalidate(id uuid.UUID) {
	for _, kind := range []string{KindEntity, KindEntityType, KindOutgoing, KindInverse, KindRelationships} {
		c.cache.Delete(cacheKey(kind, id))
	}
}

// Flush empties the cache.
func (c *CachedLookup) Flush() {
	c.cache.Flush()
}

func (c *CachedLookup) GetEntity(ctx context.Context, id uuid.UUID) (model.Entity, error) {
	return cached(c, KindEntity, id, func() (model.Entity, error) {
		return c.next.GetEntity(ctx, id)
	})
}

func (c *CachedLookup) GetEntityType(ctx context.Context, id uuid.UUID) (model.EntityType, error) {
	return cached(c, KindEntityType, id, func() (model.EntityType, error) {
		return c.next.GetEntityType(ctx, id)
	})
}

func (c *CachedLookup) OutgoingDefinitions(ctx context.Context, typeID uuid.UUID) ([]model.RelationshipDefinition, error) {
	return cached(c, KindOutgoing, typeID, func() ([]model.RelationshipDefinition, error) {
		return c.next.OutgoingDefinitions(ctx, typeID)
	})
}

func (c *CachedLookup) InverseDefinitions(ctx context.Context, typeID uuid.UUID) ([]model.RelationshipDefinition, error) {
	return cached(c, KindInverse, typeID, func() ([]model.RelationshipDefinition, error) {
		return c.next.InverseDefinitions(ctx, typeID)
	})
}

func (c *CachedLookup) GetRelationships(ctx context.Context, entityID uuid.UUID) ([]model.EntityRelationship, error) {
	return cached(c, KindRelationships, entityID, func() ([]model.EntityRelationship, error) {
		return c.next.GetRelationships(ctx, entityID)
	})
}

func cached[T any](c *CachedLookup, kind string, id uuid.UUID, load func() (T, error)) (T, error) {
	key := cacheKey(kind, id)
	if v, found := c.cache.Get(key); found {
		if c.observer != nil {
			c.observer.RecordEntityCacheHit(kind)
		}
		return v.(T), nil
	}
	if c.observer != nil {
		c.observer.RecordEntityCacheMiss(kind)
	}

	v, err := load()
	if err != nil {
		return v, err
	}
	c.cache.SetDefault(key, v)
	return v, nil
}

func cacheKey(kind string, id uuid.UUID) string {
	return kind + ":" + id.String()
}
