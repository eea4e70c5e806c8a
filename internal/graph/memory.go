package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store implementation for local runs and tests.
// It performs breadth-first expansion over an adjacency index and is safe for
// concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	entities  map[string]Entity
	relations []Relation
}

// NewMemoryStore creates an empty in-memory graph store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[string]Entity),
	}
}

// AddEntity inserts or replaces an entity.
func (s *MemoryStore) AddEntity(e Entity) error {
	if e.ID == "" {
		return fmt.Errorf("entity ID cannot be empty")
	}
	if e.Name == "" {
		return fmt.Errorf("entity name cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.ID] = e
	return nil
}

// AddRelation inserts a directed edge. Both endpoints must already exist.
func (s *MemoryStore) AddRelation(r Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[r.FromID]; !ok {
		return fmt.Errorf("unknown source entity %q", r.FromID)
	}
	if _, ok := s.entities[r.ToID]; !ok {
		return fmt.Errorf("unknown target entity %q", r.ToID)
	}

	s.relations = append(s.relations, r)
	return nil
}

// FindEntity resolves a mention by case-insensitive name match, preferring
// exact matches over substring matches. Candidates are considered in ID order
// so resolution is deterministic.
func (s *MemoryStore) FindEntity(ctx context.Context, projectID, name string) (Entity, error) {
	if err := ctx.Err(); err != nil {
		return Entity{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.entities))
	for id, e := range s.entities {
		if e.ProjectID == projectID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return Entity{}, fmt.Errorf("%w: empty mention", ErrEntityNotFound)
	}

	var partial *Entity
	for _, id := range ids {
		e := s.entities[id]
		candidate := strings.ToLower(e.Name)
		if candidate == needle {
			return e, nil
		}
		if partial == nil && strings.Contains(candidate, needle) {
			match := e
			partial = &match
		}
	}
	if partial != nil {
		return *partial, nil
	}

	return Entity{}, fmt.Errorf("%w: %q", ErrEntityNotFound, name)
}

// Neighborhood expands breadth-first from the seeds up to maxHops, visiting
// neighbors in ID order. Expansion stops once limit entities are collected;
// the truncation flag reports whether reachable entities were cut. A limit
// of zero or less means unbounded.
func (s *MemoryStore) Neighborhood(ctx context.Context, projectID string, seedIDs []string, maxHops, limit int) (Neighborhood, error) {
	if err := ctx.Err(); err != nil {
		return Neighborhood{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	adjacency := make(map[string][]string)
	for _, r := range s.relations {
		adjacency[r.FromID] = append(adjacency[r.FromID], r.ToID)
		adjacency[r.ToID] = append(adjacency[r.ToID], r.FromID)
	}

	seeds := make([]string, 0, len(seedIDs))
	for _, id := range seedIDs {
		if e, ok := s.entities[id]; ok && e.ProjectID == projectID {
			seeds = append(seeds, id)
		}
	}
	sort.Strings(seeds)

	var result Neighborhood
	visited := make(map[string]bool, len(seeds))
	frontier := make([]string, 0, len(seeds))

	collect := func(id string) bool {
		if limit > 0 && len(result.Entities) >= limit {
			result.Truncated = true
			return false
		}
		visited[id] = true
		result.Entities = append(result.Entities, s.entities[id])
		frontier = append(frontier, id)
		return true
	}

	for _, id := range seeds {
		if visited[id] {
			continue
		}
		if !collect(id) {
			break
		}
	}

	for hop := 0; hop < maxHops && !result.Truncated; hop++ {
		current := frontier
		frontier = nil
		for _, id := range current {
			neighbors := append([]string(nil), adjacency[id]...)
			sort.Strings(neighbors)
			for _, next := range neighbors {
				if visited[next] {
					continue
				}
				e, ok := s.entities[next]
				if !ok || e.ProjectID != projectID {
					continue
				}
				if !collect(next) {
					break
				}
			}
			if result.Truncated {
				break
			}
		}
		if len(frontier) == 0 {
			break
		}
	}

	for _, r := range s.relations {
		if visited[r.FromID] && visited[r.ToID] {
			result.Relations = append(result.Relations, r)
		}
	}
	sort.Slice(result.Relations, func(i, j int) bool {
		a, b := result.Relations[i], result.Relations[j]
		if a.FromID != b.FromID {
			return a.FromID < b.FromID
		}
		if a.ToID != b.ToID {
			return a.ToID < b.ToID
		}
		return a.Type < b.Type
	})

	return result, nil
}

// Close implements Store. It is a no-op for the in-memory implementation.
func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}
