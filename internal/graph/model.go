// Package graph derives bounded entity context from a project knowledge
// graph. A Store abstracts the backing graph database (Neo4j in production,
// an in-memory implementation for local runs and tests); the Builder resolves
// free-text mentions to entities and expands their neighborhood into the
// ordered context handed to prompt assembly.
package graph

import (
	"context"
	"errors"
)

var (
	// ErrGraphUnavailable indicates the graph store could not be reached.
	// Callers may retry or continue without entity context.
	ErrGraphUnavailable = errors.New("knowledge graph unavailable")

	// ErrEntityNotFound indicates a mention did not resolve to any entity.
	// Non-fatal: the mention is simply excluded from expansion.
	ErrEntityNotFound = errors.New("entity not found")
)

// EntityType classifies a knowledge graph node.
type EntityType string

const (
	EntityProject      EntityType = "project"
	EntityRequirement  EntityType = "requirement"
	EntityFeature      EntityType = "feature"
	EntityUserStory    EntityType = "user_story"
	EntityStakeholder  EntityType = "stakeholder"
	EntityBusinessRule EntityType = "business_rule"
	EntityDependency   EntityType = "dependency"
	EntityRisk         EntityType = "risk"
	EntityPersona      EntityType = "persona"
	EntitySystem       EntityType = "system"
	EntityProcess      EntityType = "process"
)

// RelationType classifies an edge between two entities.
type RelationType string

const (
	RelationBelongsTo     RelationType = "belongs_to"
	RelationDependsOn     RelationType = "depends_on"
	RelationImplements    RelationType = "implements"
	RelationInvolves      RelationType = "involves"
	RelationConflictsWith RelationType = "conflicts_with"
	RelationDerivesFrom   RelationType = "derives_from"
	RelationRelatesTo     RelationType = "relates_to"
	RelationBlocks        RelationType = "blocks"
	RelationEnables       RelationType = "enables"
	RelationValidates     RelationType = "validates"
)

// Entity is a node in the knowledge graph.
type Entity struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Name        string     `json:"name"`
	Type        EntityType `json:"type"`
	Description string     `json:"description,omitempty"`
}

// Relation is a directed typed edge between two entities.
type Relation struct {
	FromID string       `json:"from_id"`
	ToID   string       `json:"to_id"`
	Type   RelationType `json:"type"`
}

// RelatedEntity is one (relation, neighbor) pair attached to an EntityContext.
type RelatedEntity struct {
	RelationType RelationType `json:"relation_type"`
	EntityID     string       `json:"entity_id"`
	Name         string       `json:"name,omitempty"`
}

// EntityContext is one entity plus its ordered related entities, shaped for
// prompt assembly.
type EntityContext struct {
	EntityID string          `json:"entity_id"`
	Name     string          `json:"name"`
	Type     EntityType      `json:"type"`
	Related  []RelatedEntity `json:"related_entities,omitempty"`
}

// Expansion is the result of a bounded neighborhood expansion. Truncated is
// set whenever a limit cut entities that would otherwise have been included.
type Expansion struct {
	Entities  []EntityContext `json:"entities"`
	Truncated bool            `json:"truncated"`
}

// Neighborhood is the raw subgraph returned by a Store: all entities reachable
// from the seeds within the hop bound (seeds included) plus the relations
// among them.
type Neighborhood struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
	Truncated bool       `json:"truncated"`
}

// Store defines the interface for knowledge graph access.
type Store interface {
	// FindEntity resolves a name mention to a single entity within a project.
	// Returns ErrEntityNotFound when nothing matches.
	FindEntity(ctx context.Context, projectID, name string) (Entity, error)

	// Neighborhood returns the subgraph reachable from the seed entities
	// within maxHops, bounded to limit entities. The truncation flag is set
	// when the limit cut reachable entities.
	Neighborhood(ctx context.Context, projectID string, seedIDs []string, maxHops, limit int) (Neighborhood, error)

	// Close releases resources and closes connections.
	Close(ctx context.Context) error
}
