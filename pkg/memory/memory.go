// Package memory implements hybrid retrieval over per-user memory records:
// BM25 keyword search, dense vector search and knowledge-graph traversal,
// fused with reciprocal rank fusion, reranked and optionally cached.
package memory

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the retrieval engine.
var (
	ErrInvalidUserID       = errors.New("memory: invalid user ID")
	ErrInvalidRecordID     = errors.New("memory: invalid record ID")
	ErrUserMismatch        = errors.New("memory: record belongs to a different user")
	ErrInvalidOptions      = errors.New("memory: invalid retrieve options")
	ErrDimensionMismatch   = errors.New("memory: vector dimension mismatch")
	ErrIndexNotBuilt       = errors.New("memory: index not built for user")
	ErrEmbedderUnavailable = errors.New("memory: embedder unavailable")
	ErrScorerUnavailable   = errors.New("memory: scorer unavailable")
	ErrNotFound            = errors.New("memory: record not found")
)

// InvariantError reports index corruption. It is a programming error and
// panics when debug invariants are enabled.
type InvariantError struct {
	Index  string
	UserID string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("memory: %s index invariant violated for user %q: %s", e.Index, e.UserID, e.Detail)
}

// Retriever is the public surface of the hybrid retrieval engine.
type Retriever interface {
	// Index replaces the user's indexes with the given records.
	Index(ctx context.Context, userID string, records []Record) error

	// Add indexes or re-indexes a single record.
	Add(ctx context.Context, userID string, record Record) error

	// Remove drops a record from every index. It reports whether the record was present.
	Remove(ctx context.Context, userID, id string) (bool, error)

	// Clear drops every index held for the user.
	Clear(ctx context.Context, userID string) error

	// Retrieve runs the two-stage pipeline and returns at most topK results.
	Retrieve(ctx context.Context, query, userID string, topK int, opts RetrieveOptions) ([]RerankedResult, *RetrievalMetrics, error)

	// HasIndex reports whether a keyword index exists for the user.
	HasIndex(userID string) bool

	// Stats returns per-component index statistics.
	Stats(userID string) IndexStats
}

// Hub couples durable record storage with a Retriever.
type Hub interface {
	// Memorize stores a new record and returns its ID.
	Memorize(ctx context.Context, userID, text string, metadata map[string]string) (string, error)

	// BatchMemorize stores multiple records in one call.
	BatchMemorize(ctx context.Context, userID string, entries []BatchEntry) ([]string, error)

	// Upsert stores a record with a caller-chosen ID.
	Upsert(ctx context.Context, record Record) error

	// Retrieve searches the user's records.
	Retrieve(ctx context.Context, query, userID string, topK int, opts RetrieveOptions) ([]RerankedResult, *RetrievalMetrics, error)

	// Forget deletes records by ID and returns how many were removed.
	Forget(ctx context.Context, userID string, ids []string) (int, error)

	// List returns the user's records with pagination.
	List(ctx context.Context, userID string, limit, offset int) ([]Record, int, error)

	// Stats returns index statistics for the user.
	Stats(ctx context.Context, userID string) (IndexStats, error)

	// DeleteUser removes every record and index for the user.
	DeleteUser(ctx context.Context, userID string) (int, error)

	// RegisterGraph associates a knowledge graph with the user.
	RegisterGraph(userID string, graph *Graph) error

	// Reindex rebuilds the user's indexes from storage.
	Reindex(ctx context.Context, userID string) error

	// Start hydrates indexes from storage.
	Start(ctx context.Context) error

	// Stop persists snapshots and releases resources.
	Stop(ctx context.Context) error
}

// BatchEntry is a single entry in a batch memorize call.
type BatchEntry struct {
	Text     string
	Metadata map[string]string
}

// Logger is the minimal logger interface used across the package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(msg string, args ...any) {}
func (nopLogger) Info(msg string, args ...any)  {}
func (nopLogger) Warn(msg string, args ...any)  {}
func (nopLogger) Error(msg string, args ...any) {}

func validateUserID(userID string) error {
	if userID == "" {
		return ErrInvalidUserID
	}
	return nil
}
