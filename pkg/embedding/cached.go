package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/goclaw/recall/pkg/memory"
)

// Cached memoizes another embedder's vectors by text hash in a bounded LRU.
// Only texts missing from the cache reach the wrapped embedder.
type Cached struct {
	inner memory.Embedder
	cache *lru.Cache[string, []float32]
}

var _ memory.Embedder = (*Cached)(nil)

// NewCached wraps inner with an LRU of at most size vectors.
func NewCached(inner memory.Embedder, size int) (*Cached, error) {
	if inner == nil {
		return nil, fmt.Errorf("embedding: cached embedder needs an inner embedder")
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("embedding: create cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

// Ready delegates to the wrapped embedder.
func (c *Cached) Ready() bool { return c.inner.Ready() }

// Len returns the number of cached vectors.
func (c *Cached) Len() int { return c.cache.Len() }

// Embed returns cached vectors where available and embeds the rest in one call.
func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	var (
		missing    []string
		missingIdx []int
	)
	for i, text := range texts {
		keys[i] = textHash(text)
		if vec, ok := c.cache.Get(keys[i]); ok {
			out[i] = copyVector(vec)
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmptyResponse, len(vectors), len(missing))
	}
	for j, idx := range missingIdx {
		c.cache.Add(keys[idx], copyVector(vectors[j]))
		out[idx] = vectors[j]
	}
	return out, nil
}

func textHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func copyVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
