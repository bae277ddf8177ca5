package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/goclaw/recall/config"
	"github.com/goclaw/recall/pkg/embedding"
	"github.com/goclaw/recall/pkg/logger"
	"github.com/goclaw/recall/pkg/memory"
	"github.com/goclaw/recall/pkg/storage/badger"
	memstore "github.com/goclaw/recall/pkg/storage/memory"
)

// components is the retrieval stack shared by serve and query.
type components struct {
	store     memory.RecordStore
	embedder  memory.Embedder
	scorer    *embedding.HTTPScorer
	lru       *memory.LRUCache
	redis     *redis.Client
	retriever *memory.HybridRetriever
	hub       *memory.MemoryHub
}

// buildComponents wires storage, embedder, scorer, cache and retriever from
// cfg. metrics may be nil.
func buildComponents(cfg *config.Config, log logger.Logger, metrics memory.MetricsRecorder) (*components, error) {
	c := &components{}

	store, err := newStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	c.store = store

	c.embedder, err = embedding.New(cfg.Embedding.ToEmbeddingConfig(), log)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	opts := []memory.Option{
		memory.WithConfig(cfg.ToRetrieverConfig()),
		memory.WithLogger(log),
		memory.WithMetrics(metrics),
	}

	if cfg.Reranker.Enabled {
		c.scorer, err = embedding.NewHTTPScorer(cfg.Reranker.ToScorerConfig(), log)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create reranker: %w", err)
		}
		opts = append(opts, memory.WithScorer(c.scorer))
	}

	switch cfg.Cache.Type {
	case "memory":
		c.lru, err = memory.NewLRUCache(cfg.Cache.ToCacheConfig())
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create result cache: %w", err)
		}
		opts = append(opts, memory.WithCache(c.lru))
	case "redis":
		c.redis = redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Address,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		opts = append(opts, memory.WithCache(memory.NewRedisCache(c.redis, cfg.Cache.ToRedisCacheConfig(), log)))
	}

	tokenizer := memory.NewTokenizer(cfg.Retrieval.BM25.MinTokenLength, cfg.Retrieval.BM25.StopWords)
	opts = append(opts, memory.WithQueryExpander(memory.NewSynonymExpander(tokenizer, cfg.Retrieval.SynonymTable())))

	c.retriever, err = memory.NewHybridRetriever(c.embedder, opts...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create retriever: %w", err)
	}

	c.hub = memory.NewMemoryHub(memory.HubConfig{
		HydrateOnStart: cfg.Storage.HydrateOnStart,
		SnapshotOnStop: cfg.Storage.SnapshotOnStop,
	}, c.store, c.retriever, log)

	return c, nil
}

func newStore(cfg config.StorageConfig) (memory.RecordStore, error) {
	switch cfg.Type {
	case "badger":
		store, err := badger.NewBadgerStorage(&badger.Config{
			Path:              cfg.Badger.Path,
			InMemory:          cfg.Badger.InMemory,
			SyncWrites:        cfg.Badger.SyncWrites,
			ValueLogFileSize:  cfg.Badger.ValueLogFileSize,
			NumVersionsToKeep: cfg.Badger.NumVersionsToKeep,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open badger storage at %s: %w", cfg.Badger.Path, err)
		}
		return store, nil
	default:
		return memstore.NewMemoryStorage(), nil
	}
}

// hydrateUser loads one user's records into the retriever, reusing the
// stored vector snapshot when there is one.
func (c *components) hydrateUser(ctx context.Context, userID string) (int, error) {
	records, err := c.store.AllRecords(ctx, userID)
	if err != nil {
		return 0, err
	}
	snapshot, err := c.store.LoadSnapshot(ctx, userID)
	if err != nil && !errors.Is(err, memory.ErrNotFound) {
		return 0, err
	}
	return len(records), c.retriever.Hydrate(ctx, userID, records, snapshot)
}

// Close releases everything buildComponents opened.
func (c *components) Close() error {
	var errs []error
	if c.retriever != nil {
		c.retriever.Close()
	}
	if c.redis != nil {
		errs = append(errs, c.redis.Close())
	}
	if c.store != nil {
		errs = append(errs, c.store.Close())
	}
	return errors.Join(errs...)
}
