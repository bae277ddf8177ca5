package memory

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Default BM25 parameters.
const (
	DefaultBM25K1 = 1.5
	DefaultBM25B  = 0.75
)

// KeywordConfig configures a KeywordIndex.
type KeywordConfig struct {
	K1              float64
	B               float64
	MinTokenLength  int
	StopWords       []string
	DebugInvariants bool
}

// DefaultKeywordConfig returns the standard BM25 parameters.
func DefaultKeywordConfig() KeywordConfig {
	return KeywordConfig{
		K1:             DefaultBM25K1,
		B:              DefaultBM25B,
		MinTokenLength: DefaultMinTokenLength,
	}
}

// KeywordIndex provides per-user full-text search using BM25 scoring.
type KeywordIndex struct {
	mu     sync.RWMutex
	shards map[string]*keywordShard

	k1        float64
	b         float64
	tokenizer *Tokenizer
	debug     bool
}

// keywordShard holds one user's inverted index.
type keywordShard struct {
	mu sync.RWMutex

	// Document ids in insertion order.
	ids []string
	// Insertion sequence per document, used for stable tie-breaking.
	seq     map[string]uint64
	nextSeq uint64

	// Inverted index: term -> set of document ids.
	postings map[string]map[string]struct{}
	// Forward index: document id -> term frequencies.
	termFreqs  map[string]map[string]int
	docLengths map[string]int

	totalDocs int
	totalLen  int
	avgDocLen float64
}

func newKeywordShard() *keywordShard {
	return &keywordShard{
		seq:        make(map[string]uint64),
		postings:   make(map[string]map[string]struct{}),
		termFreqs:  make(map[string]map[string]int),
		docLengths: make(map[string]int),
	}
}

// NewKeywordIndex creates an empty keyword index.
func NewKeywordIndex(cfg KeywordConfig) *KeywordIndex {
	if cfg.K1 <= 0 {
		cfg.K1 = DefaultBM25K1
	}
	if cfg.B < 0 || cfg.B > 1 {
		cfg.B = DefaultBM25B
	}
	return &KeywordIndex{
		shards:    make(map[string]*keywordShard),
		k1:        cfg.K1,
		b:         cfg.B,
		tokenizer: NewTokenizer(cfg.MinTokenLength, cfg.StopWords),
		debug:     cfg.DebugInvariants,
	}
}

// Tokenizer returns the tokenizer shared by indexing and querying.
func (idx *KeywordIndex) Tokenizer() *Tokenizer {
	return idx.tokenizer
}

// Index replaces the user's index with the given records.
func (idx *KeywordIndex) Index(userID string, records []Record) {
	shard := newKeywordShard()
	for _, rec := range records {
		shard.add(idx.tokenizer, rec.ID, rec.Text)
	}
	idx.verify(userID, shard)

	idx.mu.Lock()
	idx.shards[userID] = shard
	idx.mu.Unlock()
}

// Add indexes a document, replacing any previous version with the same id.
func (idx *KeywordIndex) Add(userID, id, text string) {
	idx.mu.Lock()
	shard, ok := idx.shards[userID]
	if !ok {
		shard = newKeywordShard()
		idx.shards[userID] = shard
	}
	idx.mu.Unlock()

	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.add(idx.tokenizer, id, text)
	idx.verify(userID, shard)
}

// Remove drops a document from the user's index and reports whether it existed.
func (idx *KeywordIndex) Remove(userID, id string) bool {
	shard := idx.shard(userID)
	if shard == nil {
		return false
	}
	shard.mu.Lock()
	defer shard.mu.Unlock()
	removed := shard.remove(id)
	idx.verify(userID, shard)
	return removed
}

// Clear drops the user's index entirely.
func (idx *KeywordIndex) Clear(userID string) {
	idx.mu.Lock()
	delete(idx.shards, userID)
	idx.mu.Unlock()
}

// HasIndex reports whether the user has a keyword index, even an empty one.
func (idx *KeywordIndex) HasIndex(userID string) bool {
	return idx.shard(userID) != nil
}

// Contains reports whether the document is indexed for the user.
func (idx *KeywordIndex) Contains(userID, id string) bool {
	shard := idx.shard(userID)
	if shard == nil {
		return false
	}
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	_, ok := shard.termFreqs[id]
	return ok
}

// Stats returns the user's index statistics.
func (idx *KeywordIndex) Stats(userID string) KeywordStats {
	shard := idx.shard(userID)
	if shard == nil {
		return KeywordStats{}
	}
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	return KeywordStats{
		Documents:    shard.totalDocs,
		Terms:        len(shard.postings),
		AvgDocLength: shard.avgDocLen,
	}
}

// Search scores the user's documents against the query and returns at most
// topK results sorted by descending score. Ties keep insertion order.
// Documents scoring zero are excluded.
func (idx *KeywordIndex) Search(userID, query string, topK int) []ScoredID {
	if topK <= 0 {
		return nil
	}
	shard := idx.shard(userID)
	if shard == nil {
		return nil
	}
	queryTokens := idx.tokenizer.Tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	if shard.totalDocs == 0 {
		return nil
	}

	candidates := make(map[string]struct{})
	for _, token := range queryTokens {
		for id := range shard.postings[token] {
			candidates[id] = struct{}{}
		}
	}

	type scored struct {
		id    string
		seq   uint64
		score float64
	}
	results := make([]scored, 0, len(candidates))
	for id := range candidates {
		score := idx.scoreLocked(shard, id, queryTokens)
		if score > 0 {
			results = append(results, scored{id: id, seq: shard.seq[id], score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].seq < results[j].seq
	})

	if topK > len(results) {
		topK = len(results)
	}
	out := make([]ScoredID, topK)
	for i := 0; i < topK; i++ {
		out[i] = ScoredID{ID: results[i].id, Score: results[i].score}
	}
	return out
}

// scoreLocked calculates the BM25 score for a document. Must be called with
// the shard read lock held.
func (idx *KeywordIndex) scoreLocked(shard *keywordShard, docID string, queryTokens []string) float64 {
	docLen := float64(shard.docLengths[docID])
	freqs := shard.termFreqs[docID]
	n := float64(shard.totalDocs)
	avgDL := shard.avgDocLen
	if avgDL == 0 {
		avgDL = 1
	}

	score := 0.0
	for _, term := range queryTokens {
		tf := float64(freqs[term])
		if tf == 0 {
			continue
		}
		df := float64(len(shard.postings[term]))
		idf := math.Log((n-df+0.5)/(df+0.5) + 1.0)

		numerator := tf * (idx.k1 + 1)
		denominator := tf + idx.k1*(1-idx.b+idx.b*docLen/avgDL)
		score += idf * numerator / denominator
	}
	return score
}

func (idx *KeywordIndex) shard(userID string) *keywordShard {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.shards[userID]
}

// verify panics on corruption when debug invariants are enabled.
func (idx *KeywordIndex) verify(userID string, shard *keywordShard) {
	if !idx.debug {
		return
	}
	if err := shard.checkInvariants(); err != nil {
		err.UserID = userID
		panic(err)
	}
}

func (s *keywordShard) add(tokenizer *Tokenizer, id, text string) {
	if _, exists := s.termFreqs[id]; exists {
		s.remove(id)
	}

	tokens := tokenizer.Tokenize(text)
	freqs := make(map[string]int, len(tokens))
	for _, token := range tokens {
		freqs[token]++
	}

	s.ids = append(s.ids, id)
	s.seq[id] = s.nextSeq
	s.nextSeq++
	s.termFreqs[id] = freqs
	s.docLengths[id] = len(tokens)
	s.totalDocs++
	s.totalLen += len(tokens)

	for term := range freqs {
		docs := s.postings[term]
		if docs == nil {
			docs = make(map[string]struct{})
			s.postings[term] = docs
		}
		docs[id] = struct{}{}
	}
	s.recomputeAverage()
}

func (s *keywordShard) remove(id string) bool {
	freqs, exists := s.termFreqs[id]
	if !exists {
		return false
	}

	for term := range freqs {
		if docs, ok := s.postings[term]; ok {
			delete(docs, id)
			if len(docs) == 0 {
				delete(s.postings, term)
			}
		}
	}

	for i, docID := range s.ids {
		if docID == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			break
		}
	}

	s.totalLen -= s.docLengths[id]
	s.totalDocs--
	delete(s.termFreqs, id)
	delete(s.docLengths, id)
	delete(s.seq, id)
	s.recomputeAverage()
	return true
}

func (s *keywordShard) recomputeAverage() {
	if s.totalDocs == 0 {
		s.avgDocLen = 0
		return
	}
	s.avgDocLen = float64(s.totalLen) / float64(s.totalDocs)
}

func (s *keywordShard) checkInvariants() *InvariantError {
	fail := func(format string, args ...any) *InvariantError {
		return &InvariantError{Index: "keyword", Detail: fmt.Sprintf(format, args...)}
	}
	if len(s.ids) != s.totalDocs || len(s.termFreqs) != s.totalDocs {
		return fail("document count %d, id list %d, forward index %d", s.totalDocs, len(s.ids), len(s.termFreqs))
	}
	sum := 0
	for _, l := range s.docLengths {
		sum += l
	}
	if sum != s.totalLen {
		return fail("total length %d, sum of lengths %d", s.totalLen, sum)
	}
	for term, docs := range s.postings {
		if len(docs) == 0 {
			return fail("term %q has zero document frequency", term)
		}
	}
	return nil
}
