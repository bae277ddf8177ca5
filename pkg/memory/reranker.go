package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// Default reranker settings.
const (
	DefaultRerankBatchSize = 32
	DefaultRerankWorkers   = 4
)

// Scorer is an external pairwise relevance scorer, typically a cross-encoder.
type Scorer interface {
	// Ready reports whether the scorer can serve requests right now.
	Ready() bool

	// Score returns one relevance score per text for the given query.
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// Reranker reorders fused candidates.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]RerankedResult, error)
}

// RerankOutcome reports how a rerank call was served.
type RerankOutcome struct {
	Fallback bool
	Reason   string
}

// FallbackReranker orders candidates by their prior score. It is always
// available and needs no model.
type FallbackReranker struct{}

// Rerank sorts by prior score descending; ties keep the input order.
func (FallbackReranker) Rerank(_ context.Context, _ string, candidates []Candidate, topK int) ([]RerankedResult, error) {
	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = c.PriorScore
	}
	return rankByScores(candidates, scores, topK), nil
}

// RerankerConfig configures a CrossEncoderReranker.
type RerankerConfig struct {
	BatchSize int
	Workers   int
}

// CrossEncoderReranker batches (query, text) pairs into a Scorer on a
// bounded worker pool. Any scorer failure degrades to the fallback ordering.
type CrossEncoderReranker struct {
	scorer    Scorer
	batchSize int
	pool      *ants.Pool
	fallback  FallbackReranker
	logger    Logger
}

// NewCrossEncoderReranker creates a reranker backed by scorer.
func NewCrossEncoderReranker(scorer Scorer, cfg RerankerConfig, logger Logger) (*CrossEncoderReranker, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultRerankBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultRerankWorkers
	}
	if logger == nil {
		logger = nopLogger{}
	}
	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("memory: create rerank pool: %w", err)
	}
	return &CrossEncoderReranker{
		scorer:    scorer,
		batchSize: cfg.BatchSize,
		pool:      pool,
		logger:    logger,
	}, nil
}

// Rerank implements Reranker.
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]RerankedResult, error) {
	results, _, err := r.RerankWithOutcome(ctx, query, candidates, topK)
	return results, err
}

// RerankWithOutcome reranks and reports whether the fallback path served the call.
// Only context cancellation is returned as an error.
func (r *CrossEncoderReranker) RerankWithOutcome(ctx context.Context, query string, candidates []Candidate, topK int) ([]RerankedResult, RerankOutcome, error) {
	if len(candidates) == 0 || topK <= 0 {
		return []RerankedResult{}, RerankOutcome{}, nil
	}

	scores, err := r.scoreAll(ctx, query, candidates)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, RerankOutcome{}, ctxErr
		}
		r.logger.Warn("reranker scorer failed, using fallback ordering",
			"candidates", len(candidates),
			"error", err,
		)
		results, _ := r.fallback.Rerank(ctx, query, candidates, topK)
		return results, RerankOutcome{Fallback: true, Reason: err.Error()}, nil
	}
	return rankByScores(candidates, scores, topK), RerankOutcome{}, nil
}

// Release stops the worker pool.
func (r *CrossEncoderReranker) Release() {
	r.pool.Release()
}

func (r *CrossEncoderReranker) scoreAll(ctx context.Context, query string, candidates []Candidate) ([]float64, error) {
	if r.scorer == nil || !r.scorer.Ready() {
		return nil, ErrScorerUnavailable
	}

	scores := make([]float64, len(candidates))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for start := 0; start < len(candidates); start += r.batchSize {
		end := start + r.batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		texts := make([]string, end-start)
		for i := start; i < end; i++ {
			texts[i-start] = candidates[i].Record.Text
		}

		offset := start
		wg.Add(1)
		submitErr := r.pool.Submit(func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				setErr(err)
				return
			}
			batch, err := r.scorer.Score(ctx, query, texts)
			if err != nil {
				setErr(err)
				return
			}
			if len(batch) != len(texts) {
				setErr(fmt.Errorf("scorer returned %d scores for %d texts", len(batch), len(texts)))
				return
			}
			for i, s := range batch {
				if math.IsNaN(s) {
					setErr(errors.New("scorer returned NaN"))
					return
				}
				scores[offset+i] = s
			}
		})
		if submitErr != nil {
			wg.Done()
			setErr(submitErr)
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return scores, nil
}

// rankByScores sorts candidates by score descending, breaking ties by input
// position, and truncates to topK.
func rankByScores(candidates []Candidate, scores []float64, topK int) []RerankedResult {
	if len(candidates) == 0 || topK <= 0 {
		return []RerankedResult{}
	}
	results := make([]RerankedResult, len(candidates))
	for i, c := range candidates {
		results[i] = RerankedResult{
			ID:            c.ID,
			Record:        c.Record,
			Score:         scores[i],
			OriginalRank:  i + 1,
			OriginalScore: c.PriorScore,
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topK < len(results) {
		results = results[:topK]
	}
	return results
}
