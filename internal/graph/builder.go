package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Builder resolves free-text entity mentions against a Store and expands
// their neighborhood into ordered EntityContext values.
type Builder struct {
	store Store
}

// NewBuilder creates a new Builder instance.
func NewBuilder(store Store) (*Builder, error) {
	if store == nil {
		return nil, fmt.Errorf("graph store cannot be nil")
	}
	return &Builder{store: store}, nil
}

// Expand resolves mentions to seed entities and performs a bounded
// neighborhood expansion. Mentions that resolve to nothing are excluded;
// resolving none yields an empty expansion, not an error. Seeds are kept in
// mention order, related entities follow ranked by relation degree, and the
// result is cut to maxEntities with the truncation flag set whenever entities
// were dropped. A maxEntities of zero or less means unbounded.
func (b *Builder) Expand(ctx context.Context, mentions []string, projectID string, maxHops, maxEntities int) (Expansion, error) {
	if projectID == "" {
		return Expansion{}, fmt.Errorf("project ID cannot be empty")
	}

	seeds, err := b.resolveMentions(ctx, mentions, projectID)
	if err != nil {
		return Expansion{}, err
	}
	if len(seeds) == 0 {
		return Expansion{}, nil
	}

	// Fetch beyond the entity budget so degree ranking has candidates to
	// choose from instead of inheriting the store's traversal order.
	fetchLimit := 0
	if maxEntities > 0 {
		fetchLimit = maxEntities * 2
	}

	seedIDs := make([]string, len(seeds))
	for i, s := range seeds {
		seedIDs[i] = s.ID
	}

	nbh, err := b.store.Neighborhood(ctx, projectID, seedIDs, maxHops, fetchLimit)
	if err != nil {
		return Expansion{}, err
	}

	contexts, cut := rankEntities(seeds, nbh, maxEntities)
	return Expansion{Entities: contexts, Truncated: nbh.Truncated || cut}, nil
}

// resolveMentions looks up each deduplicated mention, skipping those that do
// not resolve. Store failures abort resolution.
func (b *Builder) resolveMentions(ctx context.Context, mentions []string, projectID string) ([]Entity, error) {
	seen := make(map[string]bool, len(mentions))
	resolved := make(map[string]bool)
	seeds := make([]Entity, 0, len(mentions))

	for _, mention := range mentions {
		key := strings.ToLower(strings.TrimSpace(mention))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		entity, err := b.store.FindEntity(ctx, projectID, mention)
		if err != nil {
			if errors.Is(err, ErrEntityNotFound) {
				continue
			}
			return nil, err
		}
		if resolved[entity.ID] {
			continue
		}
		resolved[entity.ID] = true
		seeds = append(seeds, entity)
	}

	return seeds, nil
}

// rankEntities shapes the raw neighborhood into EntityContext values: seeds
// first in resolution order, then related entities by descending relation
// degree with name and ID tie-breaks, cut to maxEntities. Related pairs only
// reference entities that survive the cut.
func rankEntities(seeds []Entity, nbh Neighborhood, maxEntities int) ([]EntityContext, bool) {
	byID := make(map[string]Entity, len(nbh.Entities))
	degree := make(map[string]int, len(nbh.Entities))
	for _, e := range nbh.Entities {
		byID[e.ID] = e
	}
	for _, r := range nbh.Relations {
		degree[r.FromID]++
		degree[r.ToID]++
	}

	seedIDs := make(map[string]bool, len(seeds))
	ordered := make([]Entity, 0, len(nbh.Entities))
	for _, s := range seeds {
		if e, ok := byID[s.ID]; ok {
			ordered = append(ordered, e)
		} else {
			ordered = append(ordered, s)
			byID[s.ID] = s
		}
		seedIDs[s.ID] = true
	}

	related := make([]Entity, 0, len(nbh.Entities))
	for _, e := range nbh.Entities {
		if !seedIDs[e.ID] {
			related = append(related, e)
		}
	}
	sort.Slice(related, func(i, j int) bool {
		a, b := related[i], related[j]
		if degree[a.ID] != degree[b.ID] {
			return degree[a.ID] > degree[b.ID]
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	ordered = append(ordered, related...)

	cut := false
	if maxEntities > 0 && len(ordered) > maxEntities {
		ordered = ordered[:maxEntities]
		cut = true
	}

	kept := make(map[string]bool, len(ordered))
	for _, e := range ordered {
		kept[e.ID] = true
	}

	contexts := make([]EntityContext, len(ordered))
	for i, e := range ordered {
		contexts[i] = EntityContext{
			EntityID: e.ID,
			Name:     e.Name,
			Type:     e.Type,
			Related:  relatedPairs(e.ID, nbh.Relations, kept, byID),
		}
	}
	return contexts, cut
}

// relatedPairs collects the (relation, neighbor) pairs incident to an entity,
// restricted to neighbors present in the kept set, ordered by relation type
// then neighbor ID.
func relatedPairs(entityID string, relations []Relation, kept map[string]bool, byID map[string]Entity) []RelatedEntity {
	var pairs []RelatedEntity
	for _, r := range relations {
		var neighbor string
		switch entityID {
		case r.FromID:
			neighbor = r.ToID
		case r.ToID:
			neighbor = r.FromID
		default:
			continue
		}
		if !kept[neighbor] {
			continue
		}
		pairs = append(pairs, RelatedEntity{
			RelationType: r.Type,
			EntityID:     neighbor,
			Name:         byID[neighbor].Name,
		})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].RelationType != pairs[j].RelationType {
			return pairs[i].RelationType < pairs[j].RelationType
		}
		return pairs[i].EntityID < pairs[j].EntityID
	})
	return pairs
}
