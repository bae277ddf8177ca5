// Package config provides configuration management for the recall service.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the global configuration for the recall service.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the HTTP server configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Retrieval tunes the hybrid retrieval pipeline.
	Retrieval RetrievalConfig `mapstructure:"retrieval"`

	// Cache is the result cache configuration.
	Cache CacheConfig `mapstructure:"cache"`

	// Storage is the durable record store configuration.
	Storage StorageConfig `mapstructure:"storage"`

	// Redis is the shared Redis connection, used by the redis result cache.
	Redis RedisConfig `mapstructure:"redis"`

	// Embedding selects the embedding provider.
	Embedding EmbeddingConfig `mapstructure:"embedding"`

	// Reranker configures the remote cross-encoder scorer.
	Reranker RerankerConfig `mapstructure:"reranker"`

	// Notify configures the record-change notification consumer.
	Notify NotifyConfig `mapstructure:"notify"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"env"`

	// Debug enables debug logging and index invariant checks.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host" validate:"omitempty,hostname_rfc1123|ip"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// HTTP is the HTTP server configuration.
	HTTP HTTPConfig `mapstructure:"http"`
}

// HTTPConfig holds HTTP-specific settings.
type HTTPConfig struct {
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RequestTimeout bounds each API request, retrieval included.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`

	// MaxBodyBytes limits the size of request bodies.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" validate:"min=0"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// RetrievalConfig tunes candidate generation, fusion and reranking.
type RetrievalConfig struct {
	// RRFK is the reciprocal rank fusion constant.
	RRFK float64 `mapstructure:"rrf_k" validate:"gt=0"`

	// SourceTopK caps each Stage 1 source when a call does not set its own cap.
	SourceTopK int `mapstructure:"source_top_k" validate:"min=1,max=1000"`

	// RerankDepth caps how many fused candidates reach the reranker; 0 means all.
	RerankDepth int `mapstructure:"rerank_depth" validate:"min=0"`

	// Weights multiply each source's fusion contribution.
	Weights SourceWeights `mapstructure:"weights"`

	// BM25 holds keyword scoring parameters.
	BM25 BM25Config `mapstructure:"bm25"`

	// Synonyms extends the built-in query expansion table.
	Synonyms map[string][]string `mapstructure:"synonyms"`

	// DebugInvariants makes index corruption panic.
	DebugInvariants bool `mapstructure:"debug_invariants"`
}

// SourceWeights holds per-source fusion weights.
type SourceWeights struct {
	Keyword float64 `mapstructure:"keyword" validate:"min=0,max=100"`
	Vector  float64 `mapstructure:"vector" validate:"min=0,max=100"`
	Graph   float64 `mapstructure:"graph" validate:"min=0,max=100"`
}

// BM25Config holds keyword index parameters.
type BM25Config struct {
	K1             float64  `mapstructure:"k1" validate:"gt=0"`
	B              float64  `mapstructure:"b" validate:"min=0,max=1"`
	MinTokenLength int      `mapstructure:"min_token_length" validate:"min=1"`
	StopWords      []string `mapstructure:"stop_words"`
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	// Type is the cache backend (none, memory, redis).
	Type string `mapstructure:"type" validate:"oneof=none memory redis"`

	// MaxSize is the capacity of the in-process cache.
	MaxSize int `mapstructure:"max_size" validate:"min=1"`

	// TTL is the entry lifetime. It can be hot-reloaded.
	TTL time.Duration `mapstructure:"ttl" validate:"min=0"`

	// RefreshOnAccess extends an entry's lifetime on every hit.
	RefreshOnAccess bool `mapstructure:"refresh_on_access"`

	// KeyPrefix namespaces redis cache keys.
	KeyPrefix string `mapstructure:"key_prefix"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// Type is the storage backend (memory, badger).
	Type string `mapstructure:"type" validate:"oneof=memory badger"`

	// Badger is the BadgerDB configuration.
	Badger BadgerConfig `mapstructure:"badger"`

	// HydrateOnStart rebuilds every stored user's index at startup.
	HydrateOnStart bool `mapstructure:"hydrate_on_start"`

	// SnapshotOnStop persists vector snapshots at shutdown.
	SnapshotOnStop bool `mapstructure:"snapshot_on_stop"`
}

// BadgerConfig holds BadgerDB-specific settings.
type BadgerConfig struct {
	// Path is the database directory path.
	Path string `mapstructure:"path"`

	// InMemory runs badger without touching disk.
	InMemory bool `mapstructure:"in_memory"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`

	// ValueLogFileSize is the maximum size of value log files in bytes.
	ValueLogFileSize int64 `mapstructure:"value_log_file_size" validate:"min=0"`

	// NumVersionsToKeep is the number of versions to keep per key.
	NumVersionsToKeep int `mapstructure:"num_versions_to_keep" validate:"min=0"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	// Address is the Redis server address.
	Address string `mapstructure:"address"`

	// Password is the Redis password.
	Password string `mapstructure:"password"`

	// DB is the Redis database number.
	DB int `mapstructure:"db" validate:"min=0"`

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	// Provider is the embedder (openai, hash, none).
	Provider string `mapstructure:"provider" validate:"oneof=openai hash none"`

	// BaseURL is the OpenAI-compatible API root.
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`

	// Token authenticates against the API.
	Token string `mapstructure:"token"`

	// Model is the embedding model name.
	Model string `mapstructure:"model"`

	// Dimension is the vector width of the hash embedder.
	Dimension int `mapstructure:"dimension" validate:"min=0"`

	// CacheSize enables an LRU of computed vectors when positive.
	CacheSize int `mapstructure:"cache_size" validate:"min=0"`

	// Cooldown is how long the provider is skipped after a failure.
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// RerankerConfig configures the remote cross-encoder scorer.
type RerankerConfig struct {
	// Enabled turns the remote scorer on.
	Enabled bool `mapstructure:"enabled"`

	// URL is the rerank endpoint.
	URL string `mapstructure:"url" validate:"omitempty,url"`

	// Timeout bounds a single scorer request.
	Timeout time.Duration `mapstructure:"timeout"`

	// BatchSize is the number of pairs per scorer request.
	BatchSize int `mapstructure:"batch_size" validate:"min=1"`

	// Workers bounds concurrent scorer requests.
	Workers int `mapstructure:"workers" validate:"min=1"`

	// MaxRetries is the number of attempts per batch.
	MaxRetries int `mapstructure:"max_retries" validate:"min=1"`

	// Cooldown is how long the scorer is skipped after a failure.
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// NotifyConfig configures the Kafka notification consumer.
type NotifyConfig struct {
	// Enabled starts the consumer with the server.
	Enabled bool `mapstructure:"enabled"`

	// Brokers lists the Kafka bootstrap brokers.
	Brokers []string `mapstructure:"brokers"`

	// Topic carries record-change notifications.
	Topic string `mapstructure:"topic"`

	// ConsumerGroup is the Kafka consumer group.
	ConsumerGroup string `mapstructure:"consumer_group"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig holds distributed tracing settings.
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is the span exporter (otlpgrpc).
	Exporter string `mapstructure:"exporter" validate:"omitempty,oneof=otlpgrpc"`

	// Endpoint is the collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// Insecure disables TLS towards the collector.
	Insecure bool `mapstructure:"insecure"`

	// Timeout bounds a single export.
	Timeout time.Duration `mapstructure:"timeout"`

	// Headers are sent with every export.
	Headers map[string]string `mapstructure:"headers"`

	// Sampler is the sampling strategy (always_on, always_off, ratio).
	Sampler string `mapstructure:"sampler" validate:"omitempty,oneof=always_on always_off ratio"`

	// SampleRate is the fraction of traces to sample (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// Validate normalizes enum fields and checks cross-field constraints.
func (c *Config) Validate() error {
	c.normalize()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return c.validateDependencies()
}

func (c *Config) normalize() {
	lower := func(s *string) { *s = strings.ToLower(strings.TrimSpace(*s)) }
	lower(&c.Log.Level)
	lower(&c.Log.Format)
	lower(&c.Cache.Type)
	lower(&c.Storage.Type)
	lower(&c.Embedding.Provider)
	lower(&c.Tracing.Exporter)
	lower(&c.Tracing.Sampler)

	switch c.Tracing.Exporter {
	case "otlp", "grpc", "otlp-grpc":
		c.Tracing.Exporter = "otlpgrpc"
	case "":
		if c.Tracing.Enabled {
			c.Tracing.Exporter = "otlpgrpc"
		}
	}
}

// validateDependencies checks settings that only make sense together.
func (c *Config) validateDependencies() error {
	var errs ValidationErrors
	add := func(field, msg string, value any) {
		errs = append(errs, ConfigError{Field: field, Message: msg, Value: value})
	}

	if c.Cache.Type == "redis" && c.Redis.Address == "" {
		add("Config.Redis.Address", "is required when cache.type is redis", c.Redis.Address)
	}
	if c.Storage.Type == "badger" && !c.Storage.Badger.InMemory && c.Storage.Badger.Path == "" {
		add("Config.Storage.Badger.Path", "is required for on-disk badger storage", c.Storage.Badger.Path)
	}
	if c.Embedding.Provider == "openai" && c.Embedding.Model == "" {
		add("Config.Embedding.Model", "is required for the openai provider", c.Embedding.Model)
	}
	if c.Reranker.Enabled && c.Reranker.URL == "" {
		add("Config.Reranker.URL", "is required when the reranker is enabled", c.Reranker.URL)
	}
	if c.Notify.Enabled {
		if len(c.Notify.Brokers) == 0 {
			add("Config.Notify.Brokers", "at least one broker is required when notify is enabled", c.Notify.Brokers)
		}
		if c.Notify.Topic == "" {
			add("Config.Notify.Topic", "is required when notify is enabled", c.Notify.Topic)
		}
	}
	if c.Tracing.Enabled {
		if strings.TrimSpace(c.Tracing.Endpoint) == "" {
			add("Config.Tracing.Endpoint", "is required when tracing is enabled", c.Tracing.Endpoint)
		}
		if c.Tracing.Timeout <= 0 {
			add("Config.Tracing.Timeout", "must be > 0 when tracing is enabled", c.Tracing.Timeout)
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Env: %s, Storage: %s, Cache: %s, Embedding: %s}",
		c.App.Name, c.Server.Port, c.App.Environment, c.Storage.Type, c.Cache.Type, c.Embedding.Provider)
}
