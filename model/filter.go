package model

// QueryFilter is a node in a recursive entity-query filter tree. The concrete
// variants are AttributeFilter, RelationshipQuery, AndFilter and OrFilter.
type QueryFilter interface {
	isQueryFilter()
}

// FilterValue is the right-hand side of an attribute comparison: either a
// LiteralValue or a TemplateValue that must be resolved before execution.
type FilterValue interface {
	isFilterValue()
}

// RelationshipFilter is the condition applied to a relationship. The concrete
// variants are Exists, NotExists, TargetEquals, TargetMatches,
// TargetTypeMatches and CountMatches.
type RelationshipFilter interface {
	isRelationshipFilter()
}

// Attribute filter operators.
const (
	FilterOpEquals      = "equals"
	FilterOpNotEquals   = "not_equals"
	FilterOpGreaterThan = "greater_than"
	FilterOpLessThan    = "less_than"
	FilterOpContains    = "contains"
	FilterOpIsNull      = "is_null"
)

// AttributeFilter compares an entity attribute against a value.
type AttributeFilter struct {
	Attribute string
	Operator  string
	Value     FilterValue
}

// RelationshipQuery applies a condition to the entities reached through a
// named relationship.
type RelationshipQuery struct {
	Relationship string
	Condition    RelationshipFilter
}

// AndFilter matches when every child matches. It requires at least one child.
type AndFilter struct {
	Filters []QueryFilter
}

// OrFilter matches when any child matches. It requires at least one child.
type OrFilter struct {
	Filters []QueryFilter
}

func (AttributeFilter) isQueryFilter()   {}
func (RelationshipQuery) isQueryFilter() {}
func (AndFilter) isQueryFilter()         {}
func (OrFilter) isQueryFilter()          {}

// LiteralValue is an already-resolved filter value.
type LiteralValue struct {
	Value any
}

// TemplateValue holds a {{ path }} template that still needs resolution.
type TemplateValue struct {
	Expression string
}

func (LiteralValue) isFilterValue()  {}
func (TemplateValue) isFilterValue() {}

// Exists matches when at least one related entity exists.
type Exists struct{}

// NotExists matches when no related entity exists.
type NotExists struct{}

// TargetEquals matches when a related entity has one of the given ids. Each id
// is either a literal UUID or a template.
type TargetEquals struct {
	EntityIDs []string
}

// TargetMatches matches when a related entity satisfies Filter.
type TargetMatches struct {
	Filter QueryFilter
}

// TypeBranch restricts a TargetTypeMatches condition to one entity type,
// optionally further filtered.
type TypeBranch struct {
	EntityTypeID string
	Filter       QueryFilter
}

// TargetTypeMatches matches when a related entity is of one of the branch
// types and satisfies that branch's filter, if any.
type TargetTypeMatches struct {
	Branches []TypeBranch
}

// CountMatches matches when the number of related entities equals Count.
type CountMatches struct {
	Count int
}

func (Exists) isRelationshipFilter()            {}
func (NotExists) isRelationshipFilter()         {}
func (TargetEquals) isRelationshipFilter()      {}
func (TargetMatches) isRelationshipFilter()     {}
func (TargetTypeMatches) isRelationshipFilter() {}
func (CountMatches) isRelationshipFilter()      {}
