package config

import (
	"time"

	"github.com/goclaw/recall/pkg/memory"
)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "recall",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			HTTP: HTTPConfig{
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    30 * time.Second,
				IdleTimeout:     120 * time.Second,
				ShutdownTimeout: 15 * time.Second,
				RequestTimeout:  10 * time.Second,
				MaxHeaderBytes:  1 << 20, // 1MB
				MaxBodyBytes:    4 << 20, // 4MB
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Retrieval: RetrievalConfig{
			RRFK:        memory.DefaultRRFK,
			SourceTopK:  memory.DefaultSourceTopK,
			RerankDepth: 0,
			Weights: SourceWeights{
				Keyword: 1.0,
				Vector:  1.0,
				Graph:   1.0,
			},
			BM25: BM25Config{
				K1:             memory.DefaultBM25K1,
				B:              memory.DefaultBM25B,
				MinTokenLength: memory.DefaultMinTokenLength,
			},
		},
		Cache: CacheConfig{
			Type:            "memory",
			MaxSize:         memory.DefaultCacheSize,
			TTL:             memory.DefaultCacheTTL,
			RefreshOnAccess: false,
			KeyPrefix:       memory.DefaultRedisCachePrefix,
		},
		Storage: StorageConfig{
			Type: "memory",
			Badger: BadgerConfig{
				Path:              "./data/badger",
				SyncWrites:        true,
				ValueLogFileSize:  1 << 28, // 256MB
				NumVersionsToKeep: 1,
			},
			HydrateOnStart: true,
			SnapshotOnStop: true,
		},
		Redis: RedisConfig{
			Address:     "localhost:6379",
			Password:    "",
			DB:          0,
			DialTimeout: 5 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider:  "hash",
			Model:     "text-embedding-3-small",
			Dimension: 256,
			CacheSize: 10000,
			Cooldown:  30 * time.Second,
		},
		Reranker: RerankerConfig{
			Enabled:    false,
			URL:        "http://localhost:8081/rerank",
			Timeout:    5 * time.Second,
			BatchSize:  memory.DefaultRerankBatchSize,
			Workers:    memory.DefaultRerankWorkers,
			MaxRetries: 3,
			Cooldown:   30 * time.Second,
		},
		Notify: NotifyConfig{
			Enabled:       false,
			Brokers:       []string{"localhost:9092"},
			Topic:         "recall.records",
			ConsumerGroup: "recall",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlpgrpc",
			Endpoint:   "localhost:4317",
			Insecure:   true,
			Timeout:    5 * time.Second,
			Sampler:    "ratio",
			SampleRate: 0.1,
		},
	}
}
