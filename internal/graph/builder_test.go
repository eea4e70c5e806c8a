package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// mockGraphStore implements Store interface for testing
type mockGraphStore struct {
	findEntityFunc   func(ctx context.Context, projectID, name string) (Entity, error)
	neighborhoodFunc func(ctx context.Context, projectID string, seedIDs []string, maxHops, limit int) (Neighborhood, error)
	findCalls        []string
}

func (m *mockGraphStore) FindEntity(ctx context.Context, projectID, name string) (Entity, error) {
	m.findCalls = append(m.findCalls, name)
	if m.findEntityFunc != nil {
		return m.findEntityFunc(ctx, projectID, name)
	}
	return Entity{}, fmt.Errorf("%w: %q", ErrEntityNotFound, name)
}

func (m *mockGraphStore) Neighborhood(ctx context.Context, projectID string, seedIDs []string, maxHops, limit int) (Neighborhood, error) {
	if m.neighborhoodFunc != nil {
		return m.neighborhoodFunc(ctx, projectID, seedIDs, maxHops, limit)
	}
	return Neighborhood{}, nil
}

func (m *mockGraphStore) Close(ctx context.Context) error {
	return nil
}

func TestNewBuilder(t *testing.T) {
	t.Run("Valid store", func(t *testing.T) {
		builder, err := NewBuilder(&mockGraphStore{})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if builder == nil {
			t.Fatal("Expected builder to be non-nil")
		}
	})

	t.Run("Nil store", func(t *testing.T) {
		_, err := NewBuilder(nil)
		if err == nil {
			t.Fatal("Expected error for nil store")
		}
	})
}

func TestExpand(t *testing.T) {
	ctx := context.Background()

	entities := map[string]Entity{
		"password reset": {ID: "e1", ProjectID: "p1", Name: "Password Reset", Type: EntityFeature},
		"email service":  {ID: "e2", ProjectID: "p1", Name: "Email Service", Type: EntitySystem},
	}

	store := &mockGraphStore{
		findEntityFunc: func(ctx context.Context, projectID, name string) (Entity, error) {
			if e, ok := entities[strings.ToLower(strings.TrimSpace(name))]; ok {
				return e, nil
			}
			return Entity{}, fmt.Errorf("%w: %q", ErrEntityNotFound, name)
		},
		neighborhoodFunc: func(ctx context.Context, projectID string, seedIDs []string, maxHops, limit int) (Neighborhood, error) {
			return Neighborhood{
				Entities: []Entity{
					{ID: "e1", ProjectID: "p1", Name: "Password Reset", Type: EntityFeature},
					{ID: "e3", ProjectID: "p1", Name: "Registered User", Type: EntityPersona},
					{ID: "e4", ProjectID: "p1", Name: "Account Security", Type: EntityBusinessRule},
				},
				Relations: []Relation{
					{FromID: "e1", ToID: "e3", Type: RelationInvolves},
					{FromID: "e1", ToID: "e4", Type: RelationValidates},
					{FromID: "e3", ToID: "e4", Type: RelationRelatesTo},
					{FromID: "e4", ToID: "e1", Type: RelationEnables},
				},
			}, nil
		},
	}

	builder, err := NewBuilder(store)
	if err != nil {
		t.Fatalf("Failed to create builder: %v", err)
	}

	t.Run("Seeds first, related ranked by degree", func(t *testing.T) {
		expansion, err := builder.Expand(ctx, []string{"Password Reset", "Billing"}, "p1", 2, 10)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(expansion.Entities) != 3 {
			t.Fatalf("Expected 3 entities, got %d", len(expansion.Entities))
		}
		if expansion.Entities[0].EntityID != "e1" {
			t.Errorf("Expected seed e1 first, got %s", expansion.Entities[0].EntityID)
		}
		// e4 has degree 3 vs e3 with degree 2
		if expansion.Entities[1].EntityID != "e4" {
			t.Errorf("Expected e4 ranked before e3, got %s", expansion.Entities[1].EntityID)
		}
		if expansion.Truncated {
			t.Error("Expected no truncation flag")
		}
	})

	t.Run("Related pairs ordered and named", func(t *testing.T) {
		expansion, err := builder.Expand(ctx, []string{"Password Reset"}, "p1", 2, 10)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		seed := expansion.Entities[0]
		if len(seed.Related) != 3 {
			t.Fatalf("Expected 3 related pairs, got %d", len(seed.Related))
		}
		if seed.Related[0].RelationType != RelationEnables {
			t.Errorf("Expected enables first, got %s", seed.Related[0].RelationType)
		}
		if seed.Related[1].Name != "Registered User" {
			t.Errorf("Expected neighbor name resolved, got %q", seed.Related[1].Name)
		}
	})

	t.Run("No mentions resolve", func(t *testing.T) {
		expansion, err := builder.Expand(ctx, []string{"Billing", "Invoices"}, "p1", 2, 10)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(expansion.Entities) != 0 {
			t.Errorf("Expected empty expansion, got %d entities", len(expansion.Entities))
		}
	})

	t.Run("Duplicate mentions resolved once", func(t *testing.T) {
		dedupe := &mockGraphStore{
			findEntityFunc: func(ctx context.Context, projectID, name string) (Entity, error) {
				return Entity{ID: "e1", ProjectID: "p1", Name: "Password Reset"}, nil
			},
		}
		b, _ := NewBuilder(dedupe)
		if _, err := b.Expand(ctx, []string{"Password Reset", "password reset", " PASSWORD RESET "}, "p1", 1, 10); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(dedupe.findCalls) != 1 {
			t.Errorf("Expected 1 FindEntity call, got %d", len(dedupe.findCalls))
		}
	})

	t.Run("Empty project ID", func(t *testing.T) {
		_, err := builder.Expand(ctx, []string{"Password Reset"}, "", 2, 10)
		if err == nil {
			t.Fatal("Expected error for empty project ID")
		}
	})

	t.Run("Store unavailable", func(t *testing.T) {
		failing := &mockGraphStore{
			findEntityFunc: func(ctx context.Context, projectID, name string) (Entity, error) {
				return Entity{}, fmt.Errorf("%w: connection refused", ErrGraphUnavailable)
			},
		}
		b, _ := NewBuilder(failing)
		_, err := b.Expand(ctx, []string{"Password Reset"}, "p1", 2, 10)
		if !errors.Is(err, ErrGraphUnavailable) {
			t.Errorf("Expected ErrGraphUnavailable, got: %v", err)
		}
	})
}

func TestExpandTruncation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	hub := Entity{ID: "hub", ProjectID: "p1", Name: "Checkout", Type: EntityFeature}
	if err := store.AddEntity(hub); err != nil {
		t.Fatalf("Failed to add entity: %v", err)
	}
	for i := 0; i < 10; i++ {
		spoke := Entity{
			ID:        fmt.Sprintf("spoke-%02d", i),
			ProjectID: "p1",
			Name:      fmt.Sprintf("Step %02d", i),
			Type:      EntityProcess,
		}
		if err := store.AddEntity(spoke); err != nil {
			t.Fatalf("Failed to add entity: %v", err)
		}
		if err := store.AddRelation(Relation{FromID: "hub", ToID: spoke.ID, Type: RelationInvolves}); err != nil {
			t.Fatalf("Failed to add relation: %v", err)
		}
	}

	builder, err := NewBuilder(store)
	if err != nil {
		t.Fatalf("Failed to create builder: %v", err)
	}

	t.Run("Cut to max entities with flag", func(t *testing.T) {
		expansion, err := builder.Expand(ctx, []string{"Checkout"}, "p1", 1, 4)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(expansion.Entities) != 4 {
			t.Errorf("Expected exactly 4 entities, got %d", len(expansion.Entities))
		}
		if !expansion.Truncated {
			t.Error("Expected truncation flag to be set")
		}
	})

	t.Run("Under budget keeps flag clear", func(t *testing.T) {
		expansion, err := builder.Expand(ctx, []string{"Checkout"}, "p1", 1, 50)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(expansion.Entities) != 11 {
			t.Errorf("Expected 11 entities, got %d", len(expansion.Entities))
		}
		if expansion.Truncated {
			t.Error("Expected no truncation flag")
		}
	})
}
