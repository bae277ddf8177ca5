package memory

import (
	"time"
)

// Record is a single memory record owned by the storage layer. The engine
// treats it as immutable input and keeps its own copy.
type Record struct {
	// ID is the unique identifier for this record within its user.
	ID string `json:"id"`

	// UserID owns the record. Every index is partitioned by it.
	UserID string `json:"user_id"`

	// Text is the raw text that is tokenized and embedded.
	Text string `json:"text"`

	// Metadata holds scope/type attributes such as "type" or "scope".
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt is set by the storage boundary, not by the engine.
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ScoredID is a source-local candidate produced by a single search.
type ScoredID struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Candidate is the input unit of a Reranker.
type Candidate struct {
	ID         string  `json:"id"`
	Record     Record  `json:"record"`
	PriorScore float64 `json:"prior_score"`
}

// RerankedResult is the externally visible unit of retrieval output.
// It is constructed fresh per call and never persisted by the engine.
type RerankedResult struct {
	ID     string  `json:"id"`
	Record Record  `json:"record"`
	Score  float64 `json:"score"`

	// OriginalRank is the 1-based position before reranking.
	OriginalRank int `json:"original_rank"`

	// OriginalScore is the fused score the reranker received.
	OriginalScore float64 `json:"original_score"`

	// SourceScores and SourceRanks hold the per-signal score and 1-based
	// rank for every candidate-generation source that returned this record.
	SourceScores map[string]float64 `json:"source_scores,omitempty"`
	SourceRanks  map[string]int     `json:"source_ranks,omitempty"`
}

// StageLatency holds the wall time spent in each pipeline stage.
type StageLatency struct {
	Expansion time.Duration `json:"expansion"`
	Stage1    time.Duration `json:"stage1"`
	Keyword   time.Duration `json:"keyword"`
	Vector    time.Duration `json:"vector"`
	Graph     time.Duration `json:"graph"`
	Fusion    time.Duration `json:"fusion"`
	Rerank    time.Duration `json:"rerank"`
	Total     time.Duration `json:"total"`
}

// RetrievalMetrics describes a single Retrieve call. It never affects ranking.
type RetrievalMetrics struct {
	QueryID          string            `json:"query_id"`
	CacheHit         bool              `json:"cache_hit"`
	QueryExpanded    bool              `json:"query_expanded"`
	ExpandedQuery    string            `json:"expanded_query,omitempty"`
	FallbackReranker bool              `json:"fallback_reranker"`
	CandidateCounts  map[string]int    `json:"candidate_counts"`
	FusedCount       int               `json:"fused_count"`
	ResultCount      int               `json:"result_count"`
	Latency          StageLatency      `json:"latency"`
	SourceErrors     map[string]string `json:"source_errors,omitempty"`
}

// KeywordStats describes one user's keyword index.
type KeywordStats struct {
	Documents    int     `json:"documents"`
	Terms        int     `json:"terms"`
	AvgDocLength float64 `json:"avg_doc_length"`
}

// VectorStats describes one user's vector index.
type VectorStats struct {
	Documents int `json:"documents"`
	Dimension int `json:"dimension"`
}

// GraphStats describes the graph registered for one user.
type GraphStats struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

// IndexStats aggregates per-component statistics for one user.
type IndexStats struct {
	UserID  string       `json:"user_id"`
	Keyword KeywordStats `json:"keyword"`
	Vector  VectorStats  `json:"vector"`
	Graph   GraphStats   `json:"graph"`
}
