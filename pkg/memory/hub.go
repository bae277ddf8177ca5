package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// HubConfig configures a MemoryHub.
type HubConfig struct {
	// HydrateOnStart rebuilds every stored user's index in Start.
	HydrateOnStart bool

	// SnapshotOnStop persists vector snapshots for every indexed user in Stop.
	SnapshotOnStop bool

	// DefaultListLimit applies when List is called without a limit.
	DefaultListLimit int
}

// MemoryHub is the concrete implementation of the Hub interface. It
// persists records first and then notifies the retriever, so the indexes
// never hold a record the store does not.
type MemoryHub struct {
	mu sync.RWMutex

	cfg       HubConfig
	store     RecordStore
	retriever *HybridRetriever
	logger    Logger
	started   bool
	now       func() time.Time
}

var _ Hub = (*MemoryHub)(nil)

// NewMemoryHub creates a hub over a record store and a retriever.
func NewMemoryHub(cfg HubConfig, store RecordStore, retriever *HybridRetriever, logger Logger) *MemoryHub {
	if logger == nil {
		logger = nopLogger{}
	}
	if cfg.DefaultListLimit <= 0 {
		cfg.DefaultListLimit = 20
	}
	return &MemoryHub{
		cfg:       cfg,
		store:     store,
		retriever: retriever,
		logger:    logger,
		now:       time.Now,
	}
}

// Retriever returns the underlying retriever.
func (h *MemoryHub) Retriever() *HybridRetriever {
	return h.retriever
}

// Start hydrates indexes from storage.
func (h *MemoryHub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return fmt.Errorf("memory hub already started")
	}
	h.logger.Info("starting memory hub", "hydrate", h.cfg.HydrateOnStart)

	if h.cfg.HydrateOnStart {
		users, err := h.store.Users(ctx)
		if err != nil {
			return fmt.Errorf("memory: list users: %w", err)
		}
		for _, userID := range users {
			if err := h.hydrate(ctx, userID); err != nil {
				return err
			}
		}
		h.logger.Info("memory indexes hydrated", "users", len(users))
	}

	h.started = true
	h.logger.Info("memory hub started")
	return nil
}

// hydrate rebuilds one user's indexes, reusing a stored vector snapshot.
func (h *MemoryHub) hydrate(ctx context.Context, userID string) error {
	records, err := h.store.AllRecords(ctx, userID)
	if err != nil {
		return fmt.Errorf("memory: load records for %s: %w", userID, err)
	}
	snapshot, err := h.store.LoadSnapshot(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		h.logger.Warn("failed to load vector snapshot", "user_id", userID, "error", err)
	}
	if err := h.retriever.Hydrate(ctx, userID, records, snapshot); err != nil {
		return fmt.Errorf("memory: hydrate %s: %w", userID, err)
	}
	return nil
}

// Stop persists vector snapshots and marks the hub stopped.
func (h *MemoryHub) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return nil
	}
	h.logger.Info("stopping memory hub")

	if h.cfg.SnapshotOnStop {
		users, err := h.store.Users(ctx)
		if err != nil {
			h.logger.Warn("failed to list users for snapshot", "error", err)
		}
		for _, userID := range users {
			if err := h.Snapshot(ctx, userID); err != nil && !errors.Is(err, ErrIndexNotBuilt) {
				h.logger.Warn("failed to persist vector snapshot", "user_id", userID, "error", err)
			}
		}
	}

	h.started = false
	h.logger.Info("memory hub stopped")
	return nil
}

// Snapshot persists the user's vector index.
func (h *MemoryHub) Snapshot(ctx context.Context, userID string) error {
	data, err := h.retriever.Snapshot(userID)
	if err != nil {
		return err
	}
	return h.store.SaveSnapshot(ctx, userID, data)
}

// Memorize stores a new record and indexes it.
func (h *MemoryHub) Memorize(ctx context.Context, userID, text string, metadata map[string]string) (string, error) {
	if err := validateUserID(userID); err != nil {
		return "", err
	}
	rec := Record{
		ID:        uuid.New().String(),
		UserID:    userID,
		Text:      text,
		Metadata:  metadata,
		CreatedAt: h.now(),
	}
	if err := h.Upsert(ctx, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// BatchMemorize stores multiple records in one call.
func (h *MemoryHub) BatchMemorize(ctx context.Context, userID string, entries []BatchEntry) ([]string, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	for _, be := range entries {
		id, err := h.Memorize(ctx, userID, be.Text, be.Metadata)
		if err != nil {
			return ids, fmt.Errorf("memory: batch memorize failed at entry %d: %w", len(ids), err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Upsert stores a record with a caller-chosen ID and re-indexes it.
func (h *MemoryHub) Upsert(ctx context.Context, rec Record) error {
	if err := validateUserID(rec.UserID); err != nil {
		return err
	}
	if rec.ID == "" {
		return ErrInvalidRecordID
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = h.now()
	}
	if err := h.store.SaveRecord(ctx, rec); err != nil {
		return fmt.Errorf("memory: store failed: %w", err)
	}
	if err := h.retriever.Add(ctx, rec.UserID, rec); err != nil {
		return fmt.Errorf("memory: index failed: %w", err)
	}
	return nil
}

// Retrieve searches the user's records.
func (h *MemoryHub) Retrieve(ctx context.Context, query, userID string, topK int, opts RetrieveOptions) ([]RerankedResult, *RetrievalMetrics, error) {
	return h.retriever.Retrieve(ctx, query, userID, topK, opts)
}

// Forget deletes records by ID. Unknown IDs are skipped. Store failures do
// not stop the remaining deletions; they are joined into the returned error
// alongside the count of records that were removed.
func (h *MemoryHub) Forget(ctx context.Context, userID string, ids []string) (int, error) {
	if err := validateUserID(userID); err != nil {
		return 0, err
	}

	count := 0
	var errs []error
	for _, id := range ids {
		if err := h.store.DeleteRecord(ctx, userID, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			h.logger.Warn("failed to delete record", "user_id", userID, "record_id", id, "error", err)
			errs = append(errs, fmt.Errorf("memory: delete %s: %w", id, err))
			continue
		}
		if _, err := h.retriever.Remove(ctx, userID, id); err != nil {
			return count, errors.Join(append(errs, err)...)
		}
		count++
	}
	return count, errors.Join(errs...)
}

// List returns the user's records with pagination.
func (h *MemoryHub) List(ctx context.Context, userID string, limit, offset int) ([]Record, int, error) {
	if err := validateUserID(userID); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = h.cfg.DefaultListLimit
	}
	return h.store.ListRecords(ctx, userID, limit, offset)
}

// Stats returns index statistics for the user.
func (h *MemoryHub) Stats(ctx context.Context, userID string) (IndexStats, error) {
	if err := validateUserID(userID); err != nil {
		return IndexStats{}, err
	}
	return h.retriever.Stats(userID), nil
}

// DeleteUser removes every record, snapshot and index for the user.
func (h *MemoryHub) DeleteUser(ctx context.Context, userID string) (int, error) {
	if err := validateUserID(userID); err != nil {
		return 0, err
	}
	if err := h.retriever.Clear(ctx, userID); err != nil {
		return 0, err
	}
	return h.store.DeleteUser(ctx, userID)
}

// RegisterGraph associates a knowledge graph with the user.
func (h *MemoryHub) RegisterGraph(userID string, graph *Graph) error {
	return h.retriever.RegisterGraph(userID, graph)
}

// Reindex rebuilds the user's indexes from storage. Useful after heavy churn.
func (h *MemoryHub) Reindex(ctx context.Context, userID string) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	records, err := h.store.AllRecords(ctx, userID)
	if err != nil {
		return fmt.Errorf("memory: load records for %s: %w", userID, err)
	}
	return h.retriever.Index(ctx, userID, records)
}
