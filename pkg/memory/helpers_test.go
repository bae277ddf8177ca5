package memory

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// hashEmbedder produces deterministic bag-of-words vectors: every token is
// hashed into one of dim buckets. Texts sharing tokens are similar.
type hashEmbedder struct {
	dim   int
	ready atomic.Bool
	calls atomic.Int64
	fail  atomic.Bool
}

func newHashEmbedder(dim int) *hashEmbedder {
	e := &hashEmbedder{dim: dim}
	e.ready.Store(true)
	return e
}

func (e *hashEmbedder) Ready() bool { return e.ready.Load() }

func (e *hashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.fail.Load() {
		return nil, errors.New("embedder offline")
	}
	tok := NewTokenizer(DefaultMinTokenLength, nil)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, e.dim)
		for _, token := range tok.Tokenize(text) {
			h := fnv.New32a()
			h.Write([]byte(token))
			vec[h.Sum32()%uint32(e.dim)] += 1
		}
		out[i] = vec
	}
	return out, nil
}

// fixedEmbedder returns a caller-chosen vector per text.
type fixedEmbedder struct {
	vectors map[string][]float32
}

func (e *fixedEmbedder) Ready() bool { return true }

func (e *fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, ok := e.vectors[text]
		if !ok {
			return nil, errors.New("no vector for " + text)
		}
		out[i] = append([]float32(nil), vec...)
	}
	return out, nil
}

// stubScorer scores a text by counting occurrences of the query's lowercase
// words, unless a function override is set.
type stubScorer struct {
	ready atomic.Bool
	calls atomic.Int64
	fn    func(ctx context.Context, query string, texts []string) ([]float64, error)
}

func newStubScorer() *stubScorer {
	s := &stubScorer{}
	s.ready.Store(true)
	return s
}

func (s *stubScorer) Ready() bool { return s.ready.Load() }

func (s *stubScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	s.calls.Add(1)
	if s.fn != nil {
		return s.fn(ctx, query, texts)
	}
	words := strings.Fields(strings.ToLower(query))
	out := make([]float64, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		for _, w := range words {
			out[i] += float64(strings.Count(lower, w))
		}
	}
	return out, nil
}

// mapGraphProvider serves graphs from a map.
type mapGraphProvider struct {
	mu     sync.Mutex
	graphs map[string]*Graph
	err    error
}

func (p *mapGraphProvider) Graph(_ context.Context, userID string) (*Graph, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.graphs[userID], nil
}

// recordingMetrics counts recorder calls.
type recordingMetrics struct {
	mu         sync.Mutex
	retrievals map[string]int
	fallbacks  map[string]int
	cacheHits  int
	expansions int
	mutations  map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		retrievals: make(map[string]int),
		fallbacks:  make(map[string]int),
		mutations:  make(map[string]int),
	}
}

func (m *recordingMetrics) RecordRetrieval(status string, _ time.Duration) {
	m.mu.Lock()
	m.retrievals[status]++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordStageDuration(string, time.Duration) {}
func (m *recordingMetrics) RecordCandidates(string, int)              {}

func (m *recordingMetrics) RecordRerankFallback(reason string) {
	m.mu.Lock()
	m.fallbacks[reason]++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordQueryExpansion() {
	m.mu.Lock()
	m.expansions++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordCacheLookup(hit bool) {
	if !hit {
		return
	}
	m.mu.Lock()
	m.cacheHits++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordIndexMutation(operation, status string) {
	m.mu.Lock()
	m.mutations[operation+":"+status]++
	m.mu.Unlock()
}

func rec(id, text string) Record {
	return Record{ID: id, Text: text}
}

func ids(results []RerankedResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func scoredIDs(results []ScoredID) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}
