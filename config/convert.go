package config

import (
	"github.com/goclaw/recall/pkg/embedding"
	"github.com/goclaw/recall/pkg/memory"
	"github.com/goclaw/recall/pkg/metrics"
)

// ToRetrieverConfig converts the retrieval section to memory.RetrieverConfig.
func (c *Config) ToRetrieverConfig() memory.RetrieverConfig {
	r := c.Retrieval
	return memory.RetrieverConfig{
		Keyword: memory.KeywordConfig{
			K1:             r.BM25.K1,
			B:              r.BM25.B,
			MinTokenLength: r.BM25.MinTokenLength,
			StopWords:      r.BM25.StopWords,
		},
		RRFK:        r.RRFK,
		RerankDepth: r.RerankDepth,
		Reranker: memory.RerankerConfig{
			BatchSize: c.Reranker.BatchSize,
			Workers:   c.Reranker.Workers,
		},
		DefaultWeights: map[string]float64{
			memory.SourceKeyword: r.Weights.Keyword,
			memory.SourceVector:  r.Weights.Vector,
			memory.SourceGraph:   r.Weights.Graph,
		},
		DebugInvariants: r.DebugInvariants || c.App.Debug,
	}
}

// DefaultRetrieveOptions returns the options applied to API calls that do
// not set their own.
func (r RetrievalConfig) DefaultRetrieveOptions() memory.RetrieveOptions {
	opts := memory.DefaultRetrieveOptions()
	opts.BM25TopK = r.SourceTopK
	opts.VectorTopK = r.SourceTopK
	opts.GraphTopK = r.SourceTopK
	return opts
}

// SynonymTable returns the built-in synonym table extended by the configured one.
func (r RetrievalConfig) SynonymTable() map[string][]string {
	table := make(map[string][]string, len(memory.DefaultSynonyms)+len(r.Synonyms))
	for k, v := range memory.DefaultSynonyms {
		table[k] = v
	}
	for k, v := range r.Synonyms {
		table[k] = v
	}
	return table
}

// ToCacheConfig converts the cache section for the in-process cache.
func (c CacheConfig) ToCacheConfig() memory.CacheConfig {
	return memory.CacheConfig{
		MaxSize:         c.MaxSize,
		TTL:             c.TTL,
		RefreshOnAccess: c.RefreshOnAccess,
	}
}

// ToRedisCacheConfig converts the cache section for the redis cache.
func (c CacheConfig) ToRedisCacheConfig() memory.RedisCacheConfig {
	return memory.RedisCacheConfig{
		Prefix:          c.KeyPrefix,
		TTL:             c.TTL,
		RefreshOnAccess: c.RefreshOnAccess,
	}
}

// ToEmbeddingConfig converts the embedding section.
func (e EmbeddingConfig) ToEmbeddingConfig() embedding.Config {
	return embedding.Config{
		Provider:  e.Provider,
		BaseURL:   e.BaseURL,
		Token:     e.Token,
		Model:     e.Model,
		Dimension: e.Dimension,
		CacheSize: e.CacheSize,
		Cooldown:  e.Cooldown,
	}
}

// ToScorerConfig converts the reranker section.
func (r RerankerConfig) ToScorerConfig() embedding.ScorerConfig {
	retry := embedding.DefaultRetryConfig()
	retry.MaxRetries = r.MaxRetries
	return embedding.ScorerConfig{
		URL:      r.URL,
		Timeout:  r.Timeout,
		Retry:    retry,
		Cooldown: r.Cooldown,
	}
}

// ToMetricsConfig converts the metrics section.
func (m MetricsConfig) ToMetricsConfig() metrics.Config {
	cfg := metrics.DefaultConfig()
	cfg.Enabled = m.Enabled
	cfg.Port = m.Port
	cfg.Path = m.Path
	return cfg
}
