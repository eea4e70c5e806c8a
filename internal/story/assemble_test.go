package story

import (
	"strings"
	"testing"

	"github.com/Yates-Labs/fable/internal/graph"
	"github.com/Yates-Labs/fable/internal/rag"
)

// wordCodec counts whitespace-separated words as tokens, keeping budget
// arithmetic readable in tests.
type wordCodec struct{}

func (wordCodec) Count(text string) int {
	return len(strings.Fields(text))
}

func (wordCodec) Truncate(text string, maxTokens int) string {
	fields := strings.Fields(text)
	if len(fields) <= maxTokens {
		return text
	}
	return strings.Join(fields[:maxTokens], " ")
}

func newTestAssembler(t *testing.T) *Assembler {
	t.Helper()
	a, err := NewAssemblerWithCodec(wordCodec{})
	if err != nil {
		t.Fatalf("Failed to create assembler: %v", err)
	}
	return a
}

func TestNewAssemblerWithCodec(t *testing.T) {
	if _, err := NewAssemblerWithCodec(nil); err == nil {
		t.Error("Expected error for nil codec")
	}
}

func TestAssemble(t *testing.T) {
	assembler := newTestAssembler(t)

	t.Run("Passages packed in rank order within budget", func(t *testing.T) {
		passages := []rag.RetrievedPassage{
			{SourceID: "doc-a", Text: "alpha beta gamma", SimilarityScore: 0.9, Rank: 1},
			{SourceID: "doc-b", Text: "delta epsilon zeta", SimilarityScore: 0.8, Rank: 2},
			{SourceID: "doc-c", Text: "eta theta iota kappa lambda", SimilarityScore: 0.7, Rank: 3},
		}

		assembled, err := assembler.Assemble(passages, graph.Expansion{}, 7)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if len(assembled.Passages) != 2 {
			t.Fatalf("Expected 2 passages, got %d", len(assembled.Passages))
		}
		if assembled.Passages[0].SourceID != "doc-a" || assembled.Passages[1].SourceID != "doc-b" {
			t.Errorf("Expected rank order doc-a, doc-b, got %s, %s",
				assembled.Passages[0].SourceID, assembled.Passages[1].SourceID)
		}
		if assembled.TokenBudgetUsed != 6 {
			t.Errorf("Expected 6 tokens used, got %d", assembled.TokenBudgetUsed)
		}
		if assembled.WasTruncated {
			t.Error("Expected no truncation")
		}
	})

	t.Run("Top passage truncated when alone over budget", func(t *testing.T) {
		passages := []rag.RetrievedPassage{
			{SourceID: "doc-a", Text: "one two three four five six seven eight nine ten", Rank: 1},
			{SourceID: "doc-b", Text: "small", Rank: 2},
		}

		assembled, err := assembler.Assemble(passages, graph.Expansion{}, 4)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if len(assembled.Passages) != 1 {
			t.Fatalf("Expected 1 passage, got %d", len(assembled.Passages))
		}
		if assembled.Passages[0].Text != "one two three four" {
			t.Errorf("Expected truncated text, got %q", assembled.Passages[0].Text)
		}
		if !assembled.WasTruncated {
			t.Error("Expected truncation flag")
		}
		if assembled.TokenBudgetUsed != 4 {
			t.Errorf("Expected 4 tokens used, got %d", assembled.TokenBudgetUsed)
		}
	})

	t.Run("Entities ordered by relation count", func(t *testing.T) {
		expansion := graph.Expansion{
			Entities: []graph.EntityContext{
				{EntityID: "a", Name: "Billing", Type: graph.EntitySystem, Related: []graph.RelatedEntity{
					{RelationType: graph.RelationInvolves, EntityID: "x", Name: "Customer"},
				}},
				{EntityID: "b", Name: "Checkout", Type: graph.EntityFeature, Related: []graph.RelatedEntity{
					{RelationType: graph.RelationDependsOn, EntityID: "a", Name: "Billing"},
					{RelationType: graph.RelationInvolves, EntityID: "x", Name: "Customer"},
				}},
				{EntityID: "c", Name: "Audit", Type: graph.EntityProcess},
			},
		}

		assembled, err := assembler.Assemble(nil, expansion, 100)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if len(assembled.Entities) != 3 {
			t.Fatalf("Expected 3 entities, got %d", len(assembled.Entities))
		}
		order := []string{assembled.Entities[0].Name, assembled.Entities[1].Name, assembled.Entities[2].Name}
		expected := []string{"Checkout", "Billing", "Audit"}
		for i := range expected {
			if order[i] != expected[i] {
				t.Errorf("Expected entity %d to be %s, got %s", i, expected[i], order[i])
			}
		}
	})

	t.Run("Entities stop at budget", func(t *testing.T) {
		passages := []rag.RetrievedPassage{
			{SourceID: "doc-a", Text: "alpha beta gamma", Rank: 1},
		}
		expansion := graph.Expansion{
			Entities: []graph.EntityContext{
				// "- Checkout (feature): depends_on Billing; involves Customer" is 7 words
				{EntityID: "b", Name: "Checkout", Type: graph.EntityFeature, Related: []graph.RelatedEntity{
					{RelationType: graph.RelationDependsOn, EntityID: "a", Name: "Billing"},
					{RelationType: graph.RelationInvolves, EntityID: "x", Name: "Customer"},
				}},
				// "- Billing (system): involves Customer" is 5 words
				{EntityID: "a", Name: "Billing", Type: graph.EntitySystem, Related: []graph.RelatedEntity{
					{RelationType: graph.RelationInvolves, EntityID: "x", Name: "Customer"},
				}},
			},
		}

		assembled, err := assembler.Assemble(passages, expansion, 11)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if len(assembled.Entities) != 1 {
			t.Fatalf("Expected 1 entity, got %d", len(assembled.Entities))
		}
		if assembled.Entities[0].Name != "Checkout" {
			t.Errorf("Expected Checkout kept, got %s", assembled.Entities[0].Name)
		}
		if assembled.TokenBudgetUsed != 10 {
			t.Errorf("Expected 10 tokens used, got %d", assembled.TokenBudgetUsed)
		}
	})

	t.Run("Expansion truncation carried through", func(t *testing.T) {
		assembled, err := assembler.Assemble(nil, graph.Expansion{Truncated: true}, 10)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if !assembled.EntitiesTruncated {
			t.Error("Expected entities truncation flag")
		}
	})

	t.Run("Empty inputs", func(t *testing.T) {
		assembled, err := assembler.Assemble(nil, graph.Expansion{}, 10)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(assembled.Passages) != 0 || len(assembled.Entities) != 0 || assembled.TokenBudgetUsed != 0 {
			t.Errorf("Expected empty context, got %+v", assembled)
		}
	})

	t.Run("Invalid budget", func(t *testing.T) {
		if _, err := assembler.Assemble(nil, graph.Expansion{}, 0); err == nil {
			t.Error("Expected error for zero budget")
		}
	})
}

// TestAssembleBudgetInvariant packs progressively larger passage sets and
// checks the budget is never exceeded.
func TestAssembleBudgetInvariant(t *testing.T) {
	assembler := newTestAssembler(t)

	words := func(n int) string {
		return strings.TrimSpace(strings.Repeat("w ", n))
	}

	const budget = 10
	for n := 1; n <= 12; n++ {
		var passages []rag.RetrievedPassage
		for i := 0; i < n; i++ {
			passages = append(passages, rag.RetrievedPassage{
				SourceID: "doc",
				Text:     words(i%5 + 1),
				Rank:     i + 1,
			})
		}
		expansion := graph.Expansion{
			Entities: []graph.EntityContext{
				{EntityID: "a", Name: "Billing", Type: graph.EntitySystem},
			},
		}

		assembled, err := assembler.Assemble(passages, expansion, budget)
		if err != nil {
			t.Fatalf("Expected no error for %d passages, got: %v", n, err)
		}

		total := 0
		for _, p := range assembled.Passages {
			total += len(strings.Fields(p.Text))
		}
		for _, e := range assembled.Entities {
			total += len(strings.Fields(EntityLine(e)))
		}

		if total > budget {
			t.Errorf("Budget exceeded for %d passages: %d > %d", n, total, budget)
		}
		if assembled.TokenBudgetUsed != total {
			t.Errorf("Expected reported usage %d, got %d", total, assembled.TokenBudgetUsed)
		}
	}
}
