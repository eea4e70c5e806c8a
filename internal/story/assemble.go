package story

import (
	"fmt"
	"sort"

	"github.com/pkoukk/tiktoken-go"

	"github.com/Yates-Labs/fable/internal/graph"
	"github.com/Yates-Labs/fable/internal/rag"
)

// TokenEncoding is the BPE encoding used for budget accounting.
const TokenEncoding = "cl100k_base"

// TokenCodec counts and truncates text in model tokens.
type TokenCodec interface {
	Count(text string) int
	Truncate(text string, maxTokens int) string
}

// Assembler packs retrieved passages and graph entities into a context that
// never exceeds a token budget.
type Assembler struct {
	codec TokenCodec
}

// NewAssembler creates an assembler backed by the cl100k_base encoding.
func NewAssembler() (*Assembler, error) {
	enc, err := tiktoken.GetEncoding(TokenEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load token encoding %s: %w", TokenEncoding, err)
	}
	return &Assembler{codec: tiktokenCodec{enc: enc}}, nil
}

// NewAssemblerWithCodec creates an assembler with a custom token codec.
func NewAssemblerWithCodec(codec TokenCodec) (*Assembler, error) {
	if codec == nil {
		return nil, fmt.Errorf("codec cannot be nil")
	}
	return &Assembler{codec: codec}, nil
}

// Assemble packs context deterministically:
//  1. Passages are taken in rank order until the next would exceed the budget.
//  2. If the top passage alone exceeds the budget, its text is truncated to
//     fit instead of dropped, and WasTruncated is set.
//  3. The remaining budget goes to entity contexts, highest relation count
//     first.
//
// The returned context never holds more than tokenBudget tokens.
func (a *Assembler) Assemble(passages []rag.RetrievedPassage, expansion graph.Expansion, tokenBudget int) (AssembledContext, error) {
	if tokenBudget <= 0 {
		return AssembledContext{}, fmt.Errorf("token budget must be positive, got %d", tokenBudget)
	}

	assembled := AssembledContext{
		EntitiesTruncated: expansion.Truncated,
	}

	used := 0
	for i, p := range passages {
		cost := a.codec.Count(p.Text)
		if used+cost > tokenBudget {
			if i == 0 {
				// The best passage survives even when it is too large on its
				// own; cut it to the budget instead of dropping it.
				p.Text = a.codec.Truncate(p.Text, tokenBudget)
				used = a.codec.Count(p.Text)
				assembled.Passages = append(assembled.Passages, p)
				assembled.WasTruncated = true
			}
			break
		}
		used += cost
		assembled.Passages = append(assembled.Passages, p)
	}

	for _, e := range entitiesByRelationCount(expansion.Entities) {
		cost := a.codec.Count(EntityLine(e))
		if used+cost > tokenBudget {
			break
		}
		used += cost
		assembled.Entities = append(assembled.Entities, e)
	}

	assembled.TokenBudgetUsed = used
	return assembled, nil
}

// entitiesByRelationCount orders entities by descending relation count,
// keeping the expansion's relevance order for ties.
func entitiesByRelationCount(entities []graph.EntityContext) []graph.EntityContext {
	ordered := make([]graph.EntityContext, len(entities))
	copy(ordered, entities)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Related) > len(ordered[j].Related)
	})
	return ordered
}

type tiktokenCodec struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCodec) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

func (c tiktokenCodec) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return c.enc.Decode(tokens[:maxTokens])
}
