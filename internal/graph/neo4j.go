package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jConfig holds connection configuration for a Neo4j graph store.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// DefaultNeo4jConfig returns sensible defaults for local development.
func DefaultNeo4jConfig() Neo4jConfig {
	return Neo4jConfig{
		URI:      "bolt://localhost:7687",
		Username: "neo4j",
		Database: "neo4j",
	}
}

// Neo4jStore implements Store backed by a Neo4j database. Entities are nodes
// carrying id, project_id, name, type, and description properties; relation
// types are stored as uppercased relationship types.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jStore connects to Neo4j and verifies connectivity.
func NewNeo4jStore(ctx context.Context, config Neo4jConfig) (*Neo4jStore, error) {
	if config.URI == "" {
		return nil, fmt.Errorf("neo4j URI cannot be empty")
	}

	driver, err := neo4j.NewDriverWithContext(config.URI, neo4j.BasicAuth(config.Username, config.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("%w: creating driver: %v", ErrGraphUnavailable, err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("%w: connecting to %s: %v", ErrGraphUnavailable, config.URI, err)
	}

	return &Neo4jStore{
		driver:   driver,
		database: config.Database,
	}, nil
}

// FindEntity resolves a mention by case-insensitive name match, preferring
// exact matches, then shorter names, with ID as the final tie-break.
func (s *Neo4jStore) FindEntity(ctx context.Context, projectID, name string) (Entity, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return Entity{}, fmt.Errorf("%w: empty mention", ErrEntityNotFound)
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	query := `
		MATCH (e)
		WHERE e.project_id = $project_id
		  AND (toLower(e.name) = $name OR toLower(e.name) CONTAINS $name)
		RETURN e.id AS id, e.name AS name, e.type AS type,
		       coalesce(e.description, '') AS description
		ORDER BY toLower(e.name) = $name DESC, size(e.name) ASC, e.id ASC
		LIMIT 1`

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{
			"project_id": projectID,
			"name":       needle,
		})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return Entity{}, fmt.Errorf("%w: finding entity %q: %v", ErrGraphUnavailable, name, err)
	}

	records := result.([]*neo4j.Record)
	if len(records) == 0 {
		return Entity{}, fmt.Errorf("%w: %q", ErrEntityNotFound, name)
	}

	return entityFromRecord(records[0], projectID), nil
}

// Neighborhood expands from the seeds via a variable-length path match up to
// maxHops, then collects the relations among the returned entities. The hop
// bound cannot be a query parameter in Cypher, so it is interpolated after
// clamping.
func (s *Neo4jStore) Neighborhood(ctx context.Context, projectID string, seedIDs []string, maxHops, limit int) (Neighborhood, error) {
	if len(seedIDs) == 0 {
		return Neighborhood{}, nil
	}
	if maxHops < 0 {
		maxHops = 0
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		var nbh Neighborhood

		seeds, err := collectEntities(ctx, tx, `
			MATCH (e)
			WHERE e.project_id = $project_id AND e.id IN $ids
			RETURN e.id AS id, e.name AS name, e.type AS type,
			       coalesce(e.description, '') AS description
			ORDER BY e.id ASC`,
			map[string]any{"project_id": projectID, "ids": seedIDs}, projectID)
		if err != nil {
			return nil, err
		}

		if limit > 0 && len(seeds) >= limit {
			nbh.Entities = seeds[:limit]
			nbh.Truncated = len(seeds) > limit
		} else {
			nbh.Entities = seeds
			if maxHops > 0 {
				related, truncated, err := s.relatedEntities(ctx, tx, projectID, seedIDs, maxHops, limit, len(seeds))
				if err != nil {
					return nil, err
				}
				nbh.Entities = append(nbh.Entities, related...)
				nbh.Truncated = truncated
			}
		}

		ids := make([]string, len(nbh.Entities))
		for i, e := range nbh.Entities {
			ids[i] = e.ID
		}
		nbh.Relations, err = collectRelations(ctx, tx, projectID, ids)
		if err != nil {
			return nil, err
		}

		return nbh, nil
	})
	if err != nil {
		return Neighborhood{}, fmt.Errorf("%w: expanding neighborhood: %v", ErrGraphUnavailable, err)
	}

	return result.(Neighborhood), nil
}

// relatedEntities fetches entities reachable from the seeds, one extra row
// past the remaining budget so truncation is detected exactly.
func (s *Neo4jStore) relatedEntities(ctx context.Context, tx neo4j.ManagedTransaction, projectID string, seedIDs []string, maxHops, limit, seedCount int) ([]Entity, bool, error) {
	query := fmt.Sprintf(`
		MATCH (start)
		WHERE start.project_id = $project_id AND start.id IN $ids
		MATCH (start)-[*1..%d]-(related)
		WHERE related.project_id = $project_id AND NOT related.id IN $ids
		RETURN DISTINCT related.id AS id, related.name AS name, related.type AS type,
		       coalesce(related.description, '') AS description
		ORDER BY id ASC`, maxHops)

	remaining := 0
	if limit > 0 {
		remaining = limit - seedCount
		query += "\n\t\tLIMIT $limit"
	}

	related, err := collectEntities(ctx, tx, query, map[string]any{
		"project_id": projectID,
		"ids":        seedIDs,
		"limit":      remaining + 1,
	}, projectID)
	if err != nil {
		return nil, false, err
	}

	if limit > 0 && len(related) > remaining {
		return related[:remaining], true, nil
	}
	return related, false, nil
}

func (s *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.database,
	})
}

// Close implements Store.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func collectEntities(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any, projectID string) ([]Entity, error) {
	res, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}

	entities := make([]Entity, 0, len(records))
	for _, rec := range records {
		e := entityFromRecord(rec, projectID)
		if e.ID == "" {
			continue
		}
		entities = append(entities, e)
	}
	return entities, nil
}

func collectRelations(ctx context.Context, tx neo4j.ManagedTransaction, projectID string, ids []string) ([]Relation, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	res, err := tx.Run(ctx, `
		MATCH (a)-[r]->(b)
		WHERE a.project_id = $project_id AND a.id IN $ids AND b.id IN $ids
		RETURN a.id AS from_id, toLower(type(r)) AS rel_type, b.id AS to_id
		ORDER BY from_id ASC, to_id ASC, rel_type ASC`,
		map[string]any{"project_id": projectID, "ids": ids})
	if err != nil {
		return nil, err
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}

	relations := make([]Relation, 0, len(records))
	for _, rec := range records {
		relations = append(relations, Relation{
			FromID: stringValue(rec, "from_id"),
			ToID:   stringValue(rec, "to_id"),
			Type:   RelationType(stringValue(rec, "rel_type")),
		})
	}
	return relations, nil
}

func entityFromRecord(rec *neo4j.Record, projectID string) Entity {
	return Entity{
		ID:          stringValue(rec, "id"),
		ProjectID:   projectID,
		Name:        stringValue(rec, "name"),
		Type:        EntityType(stringValue(rec, "type")),
		Description: stringValue(rec, "description"),
	}
}

func stringValue(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
