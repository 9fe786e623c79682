// Package entitycontext flattens an entity and the graph of entities related
// to it into a nested, label-keyed map that condition expressions can read.
//
// Recursion is bounded only by the requested depth. There is no visited set:
// a cyclic graph terminates because relationship attributes at the depth
// limit render as lists of raw entity ids instead of nested maps.
package entitycontext

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/flowbase/internal/entity"
	"github.com/pitabwire/flowbase/internal/observability"
	"github.com/pitabwire/flowbase/model"
)

// DefaultMaxDepth is the relationship depth used by
// BuildContextWithRelationships unless overridden with WithMaxDepth.
const DefaultMaxDepth = 3

// ErrEntityNotFound is returned when the root entity does not exist.
var ErrEntityNotFound = errors.New("entity not found")

// IntegrityError reports an entity attribute that has no schema property or
// whose property has no label.
type IntegrityError struct {
	EntityID  uuid.UUID
	TypeID    uuid.UUID
	Attribute string
	Reason    string
}

func (e *IntegrityError) Error() string {
	if e.Attribute == "" {
		return fmt.Sprintf("entity %s (type %s): %s", e.EntityID, e.TypeID, e.Reason)
	}
	return fmt.Sprintf("entity %s (type %s) attribute %q: %s", e.EntityID, e.TypeID, e.Attribute, e.Reason)
}

// Observer receives one call per completed build.
type Observer interface {
	RecordEntityContextBuild(status string, duration time.Duration)
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger used for skipped relationships.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMaxDepth overrides DefaultMaxDepth.
func WithMaxDepth(depth int) Option {
	return func(b *Builder) {
		if depth >= 0 {
			b.maxDepth = depth
		}
	}
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(b *Builder) {
		b.observer = o
	}
}

// Builder builds entity contexts from a Lookup. It is safe for concurrent
// use.
type Builder struct {
	lookup   entity.Lookup
	logger   *zap.Logger
	maxDepth int
	observer Observer
}

// NewBuilder creates a Builder reading from lookup.
func NewBuilder(lookup entity.Lookup, opts ...Option) *Builder {
	b := &Builder{
		lookup:   lookup,
		logger:   zap.NewNop(),
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// MaxDepth returns the depth used by BuildContextWithRelationships.
func (b *Builder) MaxDepth() int { return b.maxDepth }

// BuildContextWithRelationships builds the context of entityID with the
// builder's configured depth.
func (b *Builder) BuildContextWithRelationships(ctx context.Context, entityID uuid.UUID) (map[string]any, error) {
	return b.BuildContext(ctx, entityID, b.maxDepth)
}

// BuildContext builds the context of entityID, following relationships up to
// maxDepth levels. With maxDepth 0 no relationship lookups are made and every
// relationship attribute renders as a list of entity ids.
func (b *Builder) BuildContext(ctx context.Context, entityID uuid.UUID, maxDepth int) (out map[string]any, err error) {
	ctx, span := observability.StartEntityContextSpan(ctx, entityID.String(), maxDepth)
	start := time.Now()
	defer func() {
		observability.EndSpanWithError(span, err)
		if b.observer != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			b.observer.RecordEntityContextBuild(status, time.Since(start))
		}
	}()

	if maxDepth < 0 {
		maxDepth = 0
	}
	out, err = b.build(ctx, entityID, 0, maxDepth)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}
	return out, err
}

// links holds the ids at the far end of an entity's relationships, keyed by
// definition id and split by direction.
type links struct {
	outgoing map[uuid.UUID][]uuid.UUID
	incoming map[uuid.UUID][]uuid.UUID
}

func (l links) targets(def model.RelationshipDefinition, typeID uuid.UUID) []uuid.UUID {
	if def.SourceTypeID == typeID {
		return l.outgoing[def.ID]
	}
	return l.incoming[def.ID]
}

func (b *Builder) build(ctx context.Context, id uuid.UUID, depth, maxDepth int) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e, err := b.lookup.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	typ, err := b.lookup.GetEntityType(ctx, e.TypeID)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, &IntegrityError{EntityID: e.ID, TypeID: e.TypeID, Reason: "entity type not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("entity %s: %w", id, err)
	}

	follow := depth < maxDepth
	var (
		defs    map[uuid.UUID]model.RelationshipDefinition
		inverse []model.RelationshipDefinition
		related links
	)
	if follow {
		defs, inverse, err = b.definitions(ctx, e.TypeID)
		if err != nil {
			return nil, err
		}
		related, err = b.links(ctx, e.ID)
		if err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(e.Payload))
	for k := range e.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(keys))
	rendered := make(map[uuid.UUID]bool)

	for _, key := range keys {
		prop, ok := typ.Schema[key]
		if !ok {
			return nil, &IntegrityError{EntityID: e.ID, TypeID: e.TypeID, Attribute: key, Reason: "no schema property"}
		}
		if prop.Label == "" {
			return nil, &IntegrityError{EntityID: e.ID, TypeID: e.TypeID, Attribute: key, Reason: "schema property has no label"}
		}

		switch attr := e.Payload[key].(type) {
		case model.PrimitivePayload:
			out[prop.Label] = attr.Value

		case model.RelationshipPayload:
			if !follow {
				out[prop.Label] = placeholders(attr.TargetIDs)
				continue
			}
			def, ok := defs[attr.DefinitionID]
			if !ok {
				b.logger.Warn("relationship definition not found, attribute set to null",
					zap.String("entity_id", e.ID.String()),
					zap.String("attribute", key),
					zap.String("definition_id", attr.DefinitionID.String()),
				)
				out[prop.Label] = nil
				continue
			}
			rendered[def.ID] = true

			ids := related.targets(def, e.TypeID)
			if len(ids) == 0 {
				ids = attr.TargetIDs
			}
			v, err := b.expand(ctx, e, def, ids, depth, maxDepth)
			if err != nil {
				return nil, err
			}
			out[prop.Label] = v

		default:
			return nil, &IntegrityError{EntityID: e.ID, TypeID: e.TypeID, Attribute: key, Reason: fmt.Sprintf("unsupported payload %T", attr)}
		}
	}

	// Inverse-visible relationships declared by other types have no payload
	// attribute on this entity; they render under their inverse label.
	for _, def := range inverse {
		if rendered[def.ID] || def.InverseLabel == "" {
			continue
		}
		if _, taken := out[def.InverseLabel]; taken {
			b.logger.Warn("inverse relationship label collides with attribute label, skipped",
				zap.String("entity_id", e.ID.String()),
				zap.String("label", def.InverseLabel),
			)
			continue
		}
		v, err := b.expand(ctx, e, def, related.incoming[def.ID], depth, maxDepth)
		if err != nil {
			return nil, err
		}
		out[def.InverseLabel] = v
	}

	return out, nil
}

// expand builds each related entity one level deeper and shapes the result
// by cardinality: a map or nil for to-one, a list for to-many. Related
// entities that no longer exist are skipped.
func (b *Builder) expand(ctx context.Context, e model.Entity, def model.RelationshipDefinition, ids []uuid.UUID, depth, maxDepth int) (any, error) {
	nested := make([]any, 0, len(ids))
	for _, rid := range ids {
		child, err := b.build(ctx, rid, depth+1, maxDepth)
		if errors.Is(err, entity.ErrNotFound) {
			b.logger.Warn("related entity not found, skipped",
				zap.String("entity_id", e.ID.String()),
				zap.String("related_id", rid.String()),
				zap.String("relationship", def.Key),
			)
			continue
		}
		if err != nil {
			return nil, err
		}
		nested = append(nested, child)
	}

	if model.IsToOne(def.CardinalityFrom(e.TypeID)) {
		if len(nested) == 0 {
			return nil, nil
		}
		if len(nested) > 1 {
			b.logger.Warn("to-one relationship has several targets, using the first",
				zap.String("entity_id", e.ID.String()),
				zap.String("relationship", def.Key),
				zap.Int("targets", len(nested)),
			)
		}
		return nested[0], nil
	}
	return nested, nil
}

// definitions returns the entity type's own definitions merged with the
// inverse-visible definitions of other types, de-duplicated by id. The
// inverse-only definitions are also returned separately, in a stable order.
func (b *Builder) definitions(ctx context.Context, typeID uuid.UUID) (map[uuid.UUID]model.RelationshipDefinition, []model.RelationshipDefinition, error) {
	outgoing, err := b.lookup.OutgoingDefinitions(ctx, typeID)
	if err != nil {
		return nil, nil, fmt.Errorf("outgoing definitions for type %s: %w", typeID, err)
	}
	incoming, err := b.lookup.InverseDefinitions(ctx, typeID)
	if err != nil {
		return nil, nil, fmt.Errorf("inverse definitions for type %s: %w", typeID, err)
	}

	all := make(map[uuid.UUID]model.RelationshipDefinition, len(outgoing)+len(incoming))
	for _, d := range outgoing {
		all[d.ID] = d
	}
	var inverse []model.RelationshipDefinition
	for _, d := range incoming {
		if _, dup := all[d.ID]; dup {
			continue
		}
		all[d.ID] = d
		inverse = append(inverse, d)
	}
	return all, inverse, nil
}

func (b *Builder) links(ctx context.Context, id uuid.UUID) (links, error) {
	rels, err := b.lookup.GetRelationships(ctx, id)
	if err != nil {
		return links{}, fmt.Errorf("relationships for entity %s: %w", id, err)
	}
	l := links{
		outgoing: make(map[uuid.UUID][]uuid.UUID),
		incoming: make(map[uuid.UUID][]uuid.UUID),
	}
	for _, r := range rels {
		if r.SourceID == id {
			l.outgoing[r.DefinitionID] = appendUnique(l.outgoing[r.DefinitionID], r.TargetID)
		}
		if r.TargetID == id {
			l.incoming[r.DefinitionID] = appendUnique(l.incoming[r.DefinitionID], r.SourceID)
		}
	}
	return l, nil
}

func appendUnique(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// placeholders renders relationship targets at the depth limit.
func placeholders(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
