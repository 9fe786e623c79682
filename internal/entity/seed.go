package entity

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/pitabwire/flowbase/model"
)

// Seed is the YAML document accepted by LoadSeed.
//
//	entity_types:
//	  - id: 6f1c...
//	    name: Client
//	    schema:
//	      status: {label: Status, type: text}
//	      primaryContact: {label: Primary Contact, type: relationship}
//	relationship_definitions:
//	  - id: 0a7e...
//	    key: primaryContact
//	    source_type_id: 6f1c...
//	    target_type_id: 9d42...
//	    cardinality: MANY_TO_ONE
//	entities:
//	  - id: 51b0...
//	    type_id: 6f1c...
//	    attributes:
//	      status: Active
//	    relations:
//	      primaryContact:
//	        definition_id: 0a7e...
//	        targets: [c3d9...]
type Seed struct {
	EntityTypes   []model.EntityType             `yaml:"entity_types"`
	Definitions   []model.RelationshipDefinition `yaml:"relationship_definitions"`
	Entities      []SeedEntity                   `yaml:"entities"`
	Relationships []model.EntityRelationship     `yaml:"relationships"`
}

// SeedEntity is an entity in seed form. Attributes become primitive payloads
// and Relations become relationship payloads plus stored links.
type SeedEntity struct {
	ID         uuid.UUID               `yaml:"id"`
	TypeID     uuid.UUID               `yaml:"type_id"`
	Attributes map[string]any          `yaml:"attributes"`
	Relations  map[string]SeedRelation `yaml:"relations"`
}

// SeedRelation lists the targets of one relationship attribute.
type SeedRelation struct {
	DefinitionID uuid.UUID   `yaml:"definition_id"`
	Targets      []uuid.UUID `yaml:"targets"`
}

// LoadSeedFile reads a YAML seed file into l.
func (l *MemoryLookup) LoadSeedFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	return l.LoadSeed(data)
}

// LoadSeed parses a YAML seed document into l.
func (l *MemoryLookup) LoadSeed(data []byte) error {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed: %w", err)
	}
	l.Apply(seed)
	return nil
}

// Apply stores every record of seed.
func (l *MemoryLookup) Apply(seed Seed) {
	for _, t := range seed.EntityTypes {
		l.PutEntityType(t)
	}
	for _, d := range seed.Definitions {
		l.PutDefinition(d)
	}

	now := time.Now().UTC()
	for _, se := range seed.Entities {
		e := model.Entity{
			ID:        se.ID,
			TypeID:    se.TypeID,
			Payload:   make(map[string]model.AttributePayload, len(se.Attributes)+len(se.Relations)),
			CreatedAt: now,
		}
		for key, v := range se.Attributes {
			e.Payload[key] = model.PrimitivePayload{Value: v}
		}
		for key, rel := range se.Relations {
			e.Payload[key] = model.RelationshipPayload{DefinitionID: rel.DefinitionID, TargetIDs: rel.Targets}
			for _, target := range rel.Targets {
				l.PutRelationship(model.EntityRelationship{
					ID:           linkID(rel.DefinitionID, se.ID, target),
					DefinitionID: rel.DefinitionID,
					SourceID:     se.ID,
					TargetID:     target,
				})
			}
		}
		l.PutEntity(e)
	}

	for _, r := range seed.Relationships {
		l.PutRelationship(r)
	}
}

// linkID derives a stable id for a seeded link.
func linkID(definitionID, source, target uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(definitionID, []byte(source.String()+"/"+target.String()))
}
