package embedding

import (
	"context"
	"hash/fnv"

	"github.com/goclaw/recall/pkg/memory"
)

// DefaultHashDimension is the vector width of a Hash embedder built with no dimension.
const DefaultHashDimension = 256

// Hash is a deterministic bag-of-words embedder. Each token increments the
// bucket chosen by its FNV-1a hash. It needs no network and suits local
// development and tests; semantic similarity is limited to shared vocabulary.
type Hash struct {
	dim       int
	tokenizer *memory.Tokenizer
}

// NewHash creates a hashing embedder producing vectors of length dim.
func NewHash(dim int) *Hash {
	if dim <= 0 {
		dim = DefaultHashDimension
	}
	return &Hash{dim: dim, tokenizer: memory.NewTokenizer(2, nil)}
}

// Ready always reports true.
func (h *Hash) Ready() bool { return true }

// Dimension returns the vector width.
func (h *Hash) Dimension() int { return h.dim }

// Embed returns one vector per text. Texts without tokens map to the zero vector.
func (h *Hash) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, h.dim)
		for _, tok := range h.tokenizer.Tokenize(text) {
			f := fnv.New32a()
			_, _ = f.Write([]byte(tok))
			vec[f.Sum32()%uint32(h.dim)]++
		}
		out[i] = vec
	}
	return out, nil
}
