package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// HybridRetriever runs keyword, vector and graph candidate generation
// concurrently, fuses the lists with reciprocal rank fusion and reranks the
// fused set. Index mutations are serialized per user; Retrieve is read-only.
type HybridRetriever struct {
	cfg RetrieverConfig

	keyword *KeywordIndex
	vector  *VectorIndex
	graph   *GraphIndex

	embedder      Embedder
	scorer        Scorer
	graphProvider GraphProvider
	crossEncoder  *CrossEncoderReranker
	fallback      FallbackReranker
	expander      QueryExpander
	cache         ResultCache
	logger        Logger
	metrics       MetricsRecorder

	flight singleflight.Group

	mu    sync.Mutex
	users map[string]*userState
}

// userState serializes mutations for one user and owns the record copies
// that results are built from. gen is bumped by every mutation under mu, so
// a retrieval can tell whether the indexes changed after it read them.
type userState struct {
	mu      sync.RWMutex
	gen     uint64
	records map[string]Record
}

func (st *userState) generation() uint64 {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.gen
}

var _ Retriever = (*HybridRetriever)(nil)

// NewHybridRetriever creates a retriever. The embedder may be nil, in which
// case vector search contributes no candidates.
func NewHybridRetriever(embedder Embedder, opts ...Option) (*HybridRetriever, error) {
	r := &HybridRetriever{
		cfg:      DefaultRetrieverConfig(),
		embedder: embedder,
		logger:   nopLogger{},
		metrics:  nopMetricsRecorder{},
		users:    make(map[string]*userState),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cfg.RRFK <= 0 {
		r.cfg.RRFK = DefaultRRFK
	}
	r.cfg.Keyword.DebugInvariants = r.cfg.Keyword.DebugInvariants || r.cfg.DebugInvariants

	r.keyword = NewKeywordIndex(r.cfg.Keyword)
	r.vector = NewVectorIndex(embedder, r.cfg.DebugInvariants)
	r.graph = NewGraphIndex(r.graphProvider, r.keyword.Tokenizer())
	if r.expander == nil {
		r.expander = NewSynonymExpander(r.keyword.Tokenizer(), nil)
	}
	if r.scorer != nil {
		ce, err := NewCrossEncoderReranker(r.scorer, r.cfg.Reranker, r.logger)
		if err != nil {
			return nil, err
		}
		r.crossEncoder = ce
	}
	return r, nil
}

// Close releases the reranker worker pool.
func (r *HybridRetriever) Close() {
	if r.crossEncoder != nil {
		r.crossEncoder.Release()
	}
}

func (r *HybridRetriever) state(userID string, create bool) *userState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.users[userID]
	if !ok && create {
		st = &userState{records: make(map[string]Record)}
		r.users[userID] = st
	}
	return st
}

func checkRecord(userID string, rec Record) (Record, error) {
	if rec.ID == "" {
		return Record{}, ErrInvalidRecordID
	}
	if rec.UserID != "" && rec.UserID != userID {
		return Record{}, fmt.Errorf("%w: record %s owned by %q", ErrUserMismatch, rec.ID, rec.UserID)
	}
	out := cloneRecord(rec)
	out.UserID = userID
	return out, nil
}

// embedOrSkip returns normalized embeddings, or nil when vector search
// must be skipped. Only a dimension mismatch is returned as an error.
func (r *HybridRetriever) embedOrSkip(ctx context.Context, userID string, texts []string) ([][]float32, error) {
	if !r.vector.Ready() || len(texts) == 0 {
		return nil, nil
	}
	vectors, err := r.vector.Embed(ctx, texts)
	if err != nil {
		if errors.Is(err, ErrDimensionMismatch) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.logger.Warn("embedding failed, vector index skipped",
			"user_id", userID,
			"texts", len(texts),
			"error", err,
		)
		return nil, nil
	}
	return vectors, nil
}

// Index replaces the user's indexes with records.
func (r *HybridRetriever) Index(ctx context.Context, userID string, records []Record) (err error) {
	ctx, span := retrievalTracer().Start(ctx, spanIndexMutation, trace.WithAttributes(
		attribute.String("operation", "index"),
		attribute.Int("records", len(records)),
	))
	defer func() { r.endMutation(span, "index", err) }()

	if err := validateUserID(userID); err != nil {
		return err
	}
	owned := make([]Record, len(records))
	texts := make([]string, len(records))
	ids := make([]string, len(records))
	for i, rec := range records {
		if owned[i], err = checkRecord(userID, rec); err != nil {
			return err
		}
		texts[i] = rec.Text
		ids[i] = rec.ID
	}

	vectors, err := r.embedOrSkip(ctx, userID, texts)
	if err != nil {
		return err
	}

	st := r.state(userID, true)
	st.mu.Lock()
	st.gen++
	r.keyword.Index(userID, owned)
	if vectors != nil {
		if err := r.vector.IndexEmbeddings(userID, ids, vectors); err != nil {
			st.mu.Unlock()
			return err
		}
	} else {
		r.vector.Clear(userID)
	}
	st.records = make(map[string]Record, len(owned))
	for _, rec := range owned {
		st.records[rec.ID] = rec
	}
	st.mu.Unlock()

	r.invalidate(ctx, userID)
	r.logger.Debug("user index rebuilt", "user_id", userID, "records", len(owned), "vectors", len(vectors))
	return nil
}

// Add indexes or re-indexes one record.
func (r *HybridRetriever) Add(ctx context.Context, userID string, record Record) (err error) {
	ctx, span := retrievalTracer().Start(ctx, spanIndexMutation, trace.WithAttributes(
		attribute.String("operation", "add"),
	))
	defer func() { r.endMutation(span, "add", err) }()

	if err := validateUserID(userID); err != nil {
		return err
	}
	rec, err := checkRecord(userID, record)
	if err != nil {
		return err
	}
	vectors, err := r.embedOrSkip(ctx, userID, []string{rec.Text})
	if err != nil {
		return err
	}

	st := r.state(userID, true)
	st.mu.Lock()
	st.gen++
	r.keyword.Add(userID, rec.ID, rec.Text)
	if vectors != nil {
		r.vector.AddEmbedding(userID, rec.ID, vectors[0])
	} else {
		r.vector.Remove(userID, rec.ID)
	}
	st.records[rec.ID] = rec
	st.mu.Unlock()

	r.invalidate(ctx, userID)
	return nil
}

// Remove drops one record from every index.
func (r *HybridRetriever) Remove(ctx context.Context, userID, id string) (removed bool, err error) {
	ctx, span := retrievalTracer().Start(ctx, spanIndexMutation, trace.WithAttributes(
		attribute.String("operation", "remove"),
	))
	defer func() { r.endMutation(span, "remove", err) }()

	if err := validateUserID(userID); err != nil {
		return false, err
	}
	if id == "" {
		return false, ErrInvalidRecordID
	}
	st := r.state(userID, false)
	if st == nil {
		return false, nil
	}

	st.mu.Lock()
	st.gen++
	kw := r.keyword.Remove(userID, id)
	vec := r.vector.Remove(userID, id)
	_, had := st.records[id]
	delete(st.records, id)
	st.mu.Unlock()

	removed = kw || vec || had
	if removed {
		r.invalidate(ctx, userID)
	}
	return removed, nil
}

// Clear drops the user's keyword, vector and graph indexes.
func (r *HybridRetriever) Clear(ctx context.Context, userID string) (err error) {
	ctx, span := retrievalTracer().Start(ctx, spanIndexMutation, trace.WithAttributes(
		attribute.String("operation", "clear"),
	))
	defer func() { r.endMutation(span, "clear", err) }()

	if err := validateUserID(userID); err != nil {
		return err
	}
	if st := r.state(userID, false); st != nil {
		st.mu.Lock()
		st.gen++
		r.keyword.Clear(userID)
		r.vector.Clear(userID)
		r.graph.Unregister(userID)
		st.records = make(map[string]Record)
		st.mu.Unlock()
	} else {
		r.graph.Unregister(userID)
	}
	r.invalidate(ctx, userID)
	return nil
}

// RegisterGraph associates a knowledge graph with the user.
func (r *HybridRetriever) RegisterGraph(userID string, g *Graph) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	st := r.state(userID, true)
	st.mu.Lock()
	err := r.graph.Register(userID, g)
	st.gen++
	st.mu.Unlock()
	if err != nil {
		return err
	}
	r.invalidate(context.Background(), userID)
	return nil
}

// Hydrate rebuilds the user's indexes from stored records. A vector
// snapshot is reused when it covers exactly the same record IDs; otherwise
// the records are embedded again.
func (r *HybridRetriever) Hydrate(ctx context.Context, userID string, records []Record, snapshot []byte) error {
	if len(snapshot) == 0 {
		return r.Index(ctx, userID, records)
	}
	ids, vectors, err := decodeSnapshot(userID, snapshot)
	if err == nil && len(vectors) > 0 {
		err = r.vector.checkDimension(len(vectors[0]))
	}
	if err != nil || !sameIDs(ids, records) {
		r.logger.Warn("vector snapshot unusable, re-embedding", "user_id", userID, "error", err)
		return r.Index(ctx, userID, records)
	}

	owned := make([]Record, len(records))
	for i, rec := range records {
		if owned[i], err = checkRecord(userID, rec); err != nil {
			return err
		}
	}

	st := r.state(userID, true)
	st.mu.Lock()
	st.gen++
	r.keyword.Index(userID, owned)
	err = r.vector.IndexEmbeddings(userID, ids, vectors)
	st.records = make(map[string]Record, len(owned))
	for _, rec := range owned {
		st.records[rec.ID] = rec
	}
	st.mu.Unlock()

	r.invalidate(ctx, userID)
	return err
}

// Snapshot encodes the user's vector index.
func (r *HybridRetriever) Snapshot(userID string) ([]byte, error) {
	st := r.state(userID, false)
	if st == nil {
		return nil, ErrIndexNotBuilt
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return r.vector.MarshalUser(userID)
}

func decodeSnapshot(userID string, snapshot []byte) ([]string, [][]float32, error) {
	scratch := NewVectorIndex(nil, false)
	if err := scratch.UnmarshalUser(userID, snapshot); err != nil {
		return nil, nil, err
	}
	shard := scratch.shard(userID)
	return shard.ids, shard.matrix, nil
}

func sameIDs(ids []string, records []Record) bool {
	if len(ids) != len(records) {
		return false
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for _, rec := range records {
		if _, ok := set[rec.ID]; !ok {
			return false
		}
	}
	return true
}

// HasIndex reports whether a keyword index exists for the user.
func (r *HybridRetriever) HasIndex(userID string) bool {
	return r.keyword.HasIndex(userID)
}

// Stats returns per-component statistics for the user.
func (r *HybridRetriever) Stats(userID string) IndexStats {
	return IndexStats{
		UserID:  userID,
		Keyword: r.keyword.Stats(userID),
		Vector:  r.vector.Stats(userID),
		Graph:   r.graph.Stats(userID),
	}
}

// Users returns the IDs of users with a keyword index, sorted.
func (r *HybridRetriever) Users() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	out := ids[:0]
	for _, id := range ids {
		if r.keyword.HasIndex(id) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (r *HybridRetriever) invalidate(ctx context.Context, userID string) {
	if r.cache != nil {
		r.cache.InvalidateUser(ctx, userID)
	}
}

func (r *HybridRetriever) endMutation(span trace.Span, operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	r.metrics.RecordIndexMutation(operation, status)
	span.End()
}

type pipelineOutput struct {
	results []RerankedResult
	metrics RetrievalMetrics
}

// Retrieve returns at most topK results for query from the user's records.
// An empty query yields an empty list. Bad options, an empty user ID, a
// dimension mismatch or a user that was never indexed are errors.
func (r *HybridRetriever) Retrieve(ctx context.Context, query, userID string, topK int, opts RetrieveOptions) ([]RerankedResult, *RetrievalMetrics, error) {
	start := time.Now()
	if err := validateUserID(userID); err != nil {
		return nil, nil, err
	}
	if err := validateTopK(topK); err != nil {
		return nil, nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}
	opts = opts.withDefaults()

	metrics := &RetrievalMetrics{
		QueryID:         uuid.NewString(),
		CandidateCounts: make(map[string]int, 3),
	}

	if strings.TrimSpace(query) == "" {
		metrics.Latency.Total = time.Since(start)
		return []RerankedResult{}, metrics, nil
	}
	st := r.state(userID, false)
	if st == nil || !r.keyword.HasIndex(userID) {
		return nil, nil, fmt.Errorf("%w: %s", ErrIndexNotBuilt, userID)
	}

	key := CacheKey(userID, query, topK, opts)
	if r.cache != nil {
		results, ok := r.cache.Get(ctx, key)
		r.metrics.RecordCacheLookup(ok)
		if ok {
			metrics.CacheHit = true
			metrics.ResultCount = len(results)
			metrics.Latency.Total = time.Since(start)
			r.metrics.RecordRetrieval("cache_hit", metrics.Latency.Total)
			return results, metrics, nil
		}
	}

	// Calls only coalesce while the user's indexes are unchanged.
	flightKey := fmt.Sprintf("%s#%d", key, st.generation())
	v, err, _ := r.flight.Do(flightKey, func() (any, error) {
		return r.execute(ctx, st, query, userID, topK, opts, key)
	})
	if err != nil && isContextErr(err) && ctx.Err() == nil {
		// The call we joined was cancelled by its own caller.
		v, err = r.execute(ctx, st, query, userID, topK, opts, key)
	}
	if err != nil {
		r.metrics.RecordRetrieval("error", time.Since(start))
		return nil, nil, err
	}

	out := v.(*pipelineOutput)
	shared := out.metrics
	shared.QueryID = metrics.QueryID
	shared.Latency.Total = time.Since(start)
	r.metrics.RecordRetrieval("success", shared.Latency.Total)
	return out.results, &shared, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

type sourceResult struct {
	results []ScoredID
	latency time.Duration
	err     error
}

// execute runs the uncached pipeline.
func (r *HybridRetriever) execute(ctx context.Context, st *userState, query, userID string, topK int, opts RetrieveOptions, key string) (*pipelineOutput, error) {
	ctx, span := retrievalTracer().Start(ctx, spanRetrieve, trace.WithAttributes(
		attribute.Int("top_k", topK),
		attribute.Bool("expand_query", opts.ExpandQuery),
		attribute.Bool("use_reranker", opts.UseReranker),
	))
	defer span.End()

	out := &pipelineOutput{metrics: RetrievalMetrics{CandidateCounts: make(map[string]int, 3)}}
	m := &out.metrics

	keywordQuery := query
	if opts.ExpandQuery && r.expander != nil {
		expStart := time.Now()
		if expanded, ok := r.expander.Expand(query); ok {
			keywordQuery = expanded
			m.QueryExpanded = true
			m.ExpandedQuery = expanded
			r.metrics.RecordQueryExpansion()
		}
		m.Latency.Expansion = time.Since(expStart)
		r.metrics.RecordStageDuration("expansion", m.Latency.Expansion)
	}

	st.mu.RLock()
	gen := st.gen
	candidates, fused, err := r.generate(ctx, st, query, keywordQuery, userID, opts, m)
	st.mu.RUnlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	rerankStart := time.Now()
	_, rerankSpan := retrievalTracer().Start(ctx, spanRerank)
	results, err := r.rerank(ctx, query, candidates, topK, opts, m)
	rerankSpan.End()
	if err != nil {
		return nil, err
	}
	m.Latency.Rerank = time.Since(rerankStart)
	r.metrics.RecordStageDuration("rerank", m.Latency.Rerank)

	for i := range results {
		if fc, ok := fused[results[i].ID]; ok {
			results[i].SourceScores = fc.SourceScores
			results[i].SourceRanks = fc.SourceRanks
		}
	}
	m.ResultCount = len(results)
	out.results = results

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.storeIfCurrent(ctx, st, gen, key, userID, results)
	}
	span.SetAttributes(attribute.Int("results", len(results)), attribute.Bool("fallback", m.FallbackReranker))
	return out, nil
}

// storeIfCurrent caches results only when no mutation ran since they were
// computed. The read lock is held across Set so a concurrent mutation's
// invalidation always lands after it.
func (r *HybridRetriever) storeIfCurrent(ctx context.Context, st *userState, gen uint64, key, userID string, results []RerankedResult) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.gen != gen {
		return
	}
	r.cache.Set(ctx, key, userID, results)
}

// generate runs Stage 1 and fusion. It must be called with the user's read
// lock held; the returned candidates carry their own record copies.
func (r *HybridRetriever) generate(ctx context.Context, st *userState, query, keywordQuery, userID string, opts RetrieveOptions, m *RetrievalMetrics) ([]Candidate, map[string]FusedCandidate, error) {
	stage1Start := time.Now()
	stageCtx, stageSpan := retrievalTracer().Start(ctx, spanStage1)

	var kw, vec, gr sourceResult
	g, gctx := errgroup.WithContext(stageCtx)

	g.Go(func() error {
		_, span := retrievalTracer().Start(gctx, spanKeywordSearch)
		defer span.End()
		t := time.Now()
		kw.results = r.keyword.Search(userID, keywordQuery, opts.BM25TopK)
		kw.latency = time.Since(t)
		return gctx.Err()
	})

	if r.vector.Ready() {
		g.Go(func() error {
			sctx, span := retrievalTracer().Start(gctx, spanVectorSearch)
			defer span.End()
			t := time.Now()
			vec.results, vec.err = r.vector.Search(sctx, userID, query, opts.VectorTopK)
			vec.latency = time.Since(t)
			if vec.err != nil {
				span.RecordError(vec.err)
				if errors.Is(vec.err, ErrDimensionMismatch) {
					return vec.err
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				vec.results = nil
			}
			return nil
		})
	}

	if r.graph.Available(userID) {
		g.Go(func() error {
			sctx, span := retrievalTracer().Start(gctx, spanGraphSearch)
			defer span.End()
			t := time.Now()
			gr.results, gr.err = r.graph.Search(sctx, userID, query, opts.GraphTopK)
			gr.latency = time.Since(t)
			if gr.err != nil {
				span.RecordError(gr.err)
				if err := gctx.Err(); err != nil {
					return err
				}
				gr.results = nil
			}
			return nil
		})
	}

	err := g.Wait()
	stageSpan.End()
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	m.Latency.Stage1 = time.Since(stage1Start)
	m.Latency.Keyword = kw.latency
	m.Latency.Vector = vec.latency
	m.Latency.Graph = gr.latency
	r.metrics.RecordStageDuration("stage1", m.Latency.Stage1)

	sources := []Source{
		{Name: SourceKeyword, Results: kw.results},
		{Name: SourceVector, Results: vec.results},
		{Name: SourceGraph, Results: gr.results},
	}
	for _, src := range sources {
		m.CandidateCounts[src.Name] = len(src.Results)
		r.metrics.RecordCandidates(src.Name, len(src.Results))
	}
	for name, res := range map[string]sourceResult{SourceVector: vec, SourceGraph: gr} {
		if res.err != nil {
			if m.SourceErrors == nil {
				m.SourceErrors = make(map[string]string)
			}
			m.SourceErrors[name] = res.err.Error()
			r.logger.Warn("candidate source degraded", "source", name, "user_id", userID, "error", res.err)
		}
	}

	fusionStart := time.Now()
	_, fusionSpan := retrievalTracer().Start(ctx, spanFusion)
	fusedList := WeightedFuse(sources, r.weights(opts), r.cfg.RRFK)
	fusionSpan.End()

	fused := make(map[string]FusedCandidate, len(fusedList))
	candidates := make([]Candidate, 0, len(fusedList))
	for _, fc := range fusedList {
		rec, ok := st.records[fc.ID]
		if !ok {
			// Graph record IDs that are not indexed for this user.
			continue
		}
		fused[fc.ID] = fc
		candidates = append(candidates, Candidate{ID: fc.ID, Record: cloneRecord(rec), PriorScore: fc.Score})
		if r.cfg.RerankDepth > 0 && len(candidates) >= r.cfg.RerankDepth {
			break
		}
	}
	m.FusedCount = len(candidates)
	m.Latency.Fusion = time.Since(fusionStart)
	r.metrics.RecordStageDuration("fusion", m.Latency.Fusion)
	return candidates, fused, nil
}

func (r *HybridRetriever) rerank(ctx context.Context, query string, candidates []Candidate, topK int, opts RetrieveOptions, m *RetrievalMetrics) ([]RerankedResult, error) {
	if opts.UseReranker && r.crossEncoder != nil {
		results, outcome, err := r.crossEncoder.RerankWithOutcome(ctx, query, candidates, topK)
		if err != nil {
			return nil, err
		}
		if outcome.Fallback {
			m.FallbackReranker = true
			r.metrics.RecordRerankFallback("scorer_error")
		}
		return results, nil
	}

	m.FallbackReranker = true
	reason := "disabled"
	if opts.UseReranker {
		reason = "no_scorer"
	}
	r.metrics.RecordRerankFallback(reason)
	return r.fallback.Rerank(ctx, query, candidates, topK)
}

func (r *HybridRetriever) weights(opts RetrieveOptions) map[string]float64 {
	if len(r.cfg.DefaultWeights) == 0 {
		return opts.SourceWeights
	}
	merged := make(map[string]float64, len(r.cfg.DefaultWeights)+len(opts.SourceWeights))
	for k, v := range r.cfg.DefaultWeights {
		merged[k] = v
	}
	for k, v := range opts.SourceWeights {
		merged[k] = v
	}
	return merged
}
