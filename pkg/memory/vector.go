package memory

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
)

// Embedder computes dense embeddings. Implementations must be deterministic
// for identical input within a process and return a fixed dimensionality.
type Embedder interface {
	// Ready reports whether the embedder can serve requests right now.
	Ready() bool

	// Embed returns one vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex provides per-user semantic search with a linear cosine scan.
// Stored embeddings are unit-normalized so a dot product is the cosine.
type VectorIndex struct {
	embedder Embedder

	mu        sync.RWMutex
	dimension int
	shards    map[string]*vectorShard
	debug     bool
}

// vectorShard holds one user's embeddings; ids[i] owns matrix[i].
type vectorShard struct {
	mu     sync.RWMutex
	ids    []string
	matrix [][]float32
}

// NewVectorIndex creates an empty vector index. The dimensionality is fixed
// by the first embedding seen.
func NewVectorIndex(embedder Embedder, debugInvariants bool) *VectorIndex {
	return &VectorIndex{
		embedder: embedder,
		shards:   make(map[string]*vectorShard),
		debug:    debugInvariants,
	}
}

// Ready reports whether an embedder is configured and ready.
func (v *VectorIndex) Ready() bool {
	return v.embedder != nil && v.embedder.Ready()
}

// Dimension returns the fixed dimensionality, or 0 before the first embedding.
func (v *VectorIndex) Dimension() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.dimension
}

// Embed computes normalized embeddings for texts and checks their dimension.
func (v *VectorIndex) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if !v.Ready() {
		return nil, ErrEmbedderUnavailable
	}
	vectors, err := v.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("memory: embed failed: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("memory: embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}
	for i := range vectors {
		if err := v.checkDimension(len(vectors[i])); err != nil {
			return nil, err
		}
		vectors[i] = normalize(vectors[i])
	}
	return vectors, nil
}

// checkDimension fixes the dimensionality on first use and rejects mismatches.
func (v *VectorIndex) checkDimension(dim int) error {
	if dim == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dimension == 0 {
		v.dimension = dim
		return nil
	}
	if dim != v.dimension {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, v.dimension, dim)
	}
	return nil
}

// Index replaces the user's index with the given records.
func (v *VectorIndex) Index(ctx context.Context, userID string, records []Record) error {
	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = rec.Text
	}
	vectors, err := v.Embed(ctx, texts)
	if err != nil {
		return err
	}
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	return v.IndexEmbeddings(userID, ids, vectors)
}

// IndexEmbeddings replaces the user's index with precomputed embeddings
// returned by Embed; ids[i] owns vectors[i].
func (v *VectorIndex) IndexEmbeddings(userID string, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("memory: %d ids for %d vectors", len(ids), len(vectors))
	}
	shard := &vectorShard{
		ids:    make([]string, 0, len(ids)),
		matrix: make([][]float32, 0, len(ids)),
	}
	for i, id := range ids {
		shard.put(id, vectors[i])
	}
	v.setShard(userID, shard)
	return nil
}

// Add embeds and indexes a single document.
func (v *VectorIndex) Add(ctx context.Context, userID, id, text string) error {
	vectors, err := v.Embed(ctx, []string{text})
	if err != nil {
		return err
	}
	v.AddEmbedding(userID, id, vectors[0])
	return nil
}

// AddEmbedding stores a precomputed, already normalized embedding.
func (v *VectorIndex) AddEmbedding(userID, id string, vector []float32) {
	v.mu.Lock()
	shard, ok := v.shards[userID]
	if !ok {
		shard = &vectorShard{}
		v.shards[userID] = shard
	}
	v.mu.Unlock()

	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.put(id, vector)
	v.verify(userID, shard)
}

// Remove drops a document and reports whether it existed.
func (v *VectorIndex) Remove(userID, id string) bool {
	shard := v.shard(userID)
	if shard == nil {
		return false
	}
	shard.mu.Lock()
	defer shard.mu.Unlock()
	removed := shard.remove(id)
	v.verify(userID, shard)
	return removed
}

// Clear drops the user's index.
func (v *VectorIndex) Clear(userID string) {
	v.mu.Lock()
	delete(v.shards, userID)
	v.mu.Unlock()
}

// HasIndex reports whether the user has a vector index.
func (v *VectorIndex) HasIndex(userID string) bool {
	return v.shard(userID) != nil
}

// Stats returns the user's vector index statistics.
func (v *VectorIndex) Stats(userID string) VectorStats {
	stats := VectorStats{Dimension: v.Dimension()}
	shard := v.shard(userID)
	if shard == nil {
		return stats
	}
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	stats.Documents = len(shard.ids)
	return stats
}

// Search embeds the query and returns the topK most similar documents.
// An unknown user or empty index returns no results without embedding.
func (v *VectorIndex) Search(ctx context.Context, userID, query string, topK int) ([]ScoredID, error) {
	if topK <= 0 || query == "" {
		return nil, nil
	}
	shard := v.shard(userID)
	if shard == nil || shard.len() == 0 {
		return nil, nil
	}
	vectors, err := v.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return v.SearchByEmbedding(userID, vectors[0], topK)
}

// SearchByEmbedding scans the user's index with a precomputed query vector.
// Similarities lie in [-1, 1]; no threshold is applied.
func (v *VectorIndex) SearchByEmbedding(userID string, query []float32, topK int) ([]ScoredID, error) {
	if topK <= 0 {
		return nil, nil
	}
	if dim := v.Dimension(); dim != 0 && len(query) != dim {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dim, len(query))
	}
	shard := v.shard(userID)
	if shard == nil {
		return nil, nil
	}
	q := normalize(query)

	shard.mu.RLock()
	results := make([]ScoredID, len(shard.ids))
	for i, id := range shard.ids {
		results[i] = ScoredID{ID: id, Score: dot(q, shard.matrix[i])}
	}
	shard.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// MarshalUser encodes the user's embeddings.
// Format: [dimension:uint32][count:uint32] then for each entry
// [idLen:uint16][id:bytes][vector:float32*dim], little endian.
func (v *VectorIndex) MarshalUser(userID string) ([]byte, error) {
	dim := v.Dimension()
	shard := v.shard(userID)
	if shard == nil {
		return nil, ErrIndexNotBuilt
	}
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint32(dim)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(shard.ids))); err != nil {
		return nil, err
	}
	for i, id := range shard.ids {
		if len(id) > math.MaxUint16 {
			return nil, fmt.Errorf("memory: record id too long for snapshot: %d bytes", len(id))
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint16(len(id))); err != nil {
			return nil, err
		}
		buf.WriteString(id)
		if err := binary.Write(&buf, binary.LittleEndian, shard.matrix[i]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalUser replaces the user's embeddings with a snapshot produced by MarshalUser.
func (v *VectorIndex) UnmarshalUser(userID string, data []byte) error {
	r := bytes.NewReader(data)

	var dim, count uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("memory: read snapshot header: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("memory: read snapshot header: %w", err)
	}
	if count > 0 {
		if err := v.checkDimension(int(dim)); err != nil {
			return err
		}
	}

	shard := &vectorShard{
		ids:    make([]string, 0, count),
		matrix: make([][]float32, 0, count),
	}
	for i := uint32(0); i < count; i++ {
		var idLen uint16
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return fmt.Errorf("memory: read snapshot entry %d: %w", i, err)
		}
		idBuf := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBuf); err != nil {
			return fmt.Errorf("memory: read snapshot entry %d: %w", i, err)
		}
		vec := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return fmt.Errorf("memory: read snapshot entry %d: %w", i, err)
		}
		shard.put(string(idBuf), vec)
	}
	v.setShard(userID, shard)
	return nil
}

func (v *VectorIndex) setShard(userID string, shard *vectorShard) {
	v.verify(userID, shard)
	v.mu.Lock()
	v.shards[userID] = shard
	v.mu.Unlock()
}

func (v *VectorIndex) shard(userID string) *vectorShard {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.shards[userID]
}

func (v *VectorIndex) verify(userID string, shard *vectorShard) {
	if !v.debug {
		return
	}
	if len(shard.ids) != len(shard.matrix) {
		panic(&InvariantError{
			Index:  "vector",
			UserID: userID,
			Detail: fmt.Sprintf("id list %d, matrix rows %d", len(shard.ids), len(shard.matrix)),
		})
	}
}

func (s *vectorShard) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// put appends or replaces; a replaced document moves to the end.
func (s *vectorShard) put(id string, vec []float32) {
	s.remove(id)
	s.ids = append(s.ids, id)
	s.matrix = append(s.matrix, vec)
}

func (s *vectorShard) remove(id string) bool {
	for i, docID := range s.ids {
		if docID == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			s.matrix = append(s.matrix[:i], s.matrix[i+1:]...)
			return true
		}
	}
	return false
}

// normalize returns a unit-length copy of vec. A zero vector stays zero.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(vec))
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range vec {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
