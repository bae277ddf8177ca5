package memory

// RetrieverConfig holds the tunables of a HybridRetriever.
type RetrieverConfig struct {
	Keyword KeywordConfig

	// RRFK is the reciprocal rank fusion constant.
	RRFK float64

	// RerankDepth caps how many fused candidates reach the reranker.
	// Zero reranks the whole fused set.
	RerankDepth int

	Reranker RerankerConfig

	// DefaultWeights apply to sources a call does not weight explicitly.
	DefaultWeights map[string]float64

	// DebugInvariants makes index corruption panic.
	DebugInvariants bool
}

// DefaultRetrieverConfig returns the standard configuration.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		Keyword:  DefaultKeywordConfig(),
		RRFK:     DefaultRRFK,
		Reranker: RerankerConfig{BatchSize: DefaultRerankBatchSize, Workers: DefaultRerankWorkers},
	}
}

// Option is a functional option for configuring the HybridRetriever.
type Option func(*HybridRetriever)

// WithConfig replaces the retriever configuration.
func WithConfig(cfg RetrieverConfig) Option {
	return func(r *HybridRetriever) {
		r.cfg = cfg
	}
}

// WithScorer sets the external relevance scorer used for reranking.
func WithScorer(scorer Scorer) Option {
	return func(r *HybridRetriever) {
		if scorer != nil {
			r.scorer = scorer
		}
	}
}

// WithGraphProvider sets the provider consulted for users without a registered graph.
func WithGraphProvider(provider GraphProvider) Option {
	return func(r *HybridRetriever) {
		if provider != nil {
			r.graphProvider = provider
		}
	}
}

// WithCache places a result cache in front of the pipeline.
func WithCache(cache ResultCache) Option {
	return func(r *HybridRetriever) {
		if cache != nil {
			r.cache = cache
		}
	}
}

// WithQueryExpander sets the expander used when a call asks for expansion.
func WithQueryExpander(expander QueryExpander) Option {
	return func(r *HybridRetriever) {
		if expander != nil {
			r.expander = expander
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(r *HybridRetriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(r *HybridRetriever) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}
