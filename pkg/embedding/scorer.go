package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/goclaw/recall/pkg/memory"
)

// ScorerConfig configures an HTTPScorer.
type ScorerConfig struct {
	// URL is the rerank endpoint, for example http://localhost:8080/rerank.
	URL      string
	Timeout  time.Duration
	Retry    RetryConfig
	Cooldown time.Duration
}

// HTTPScorer scores query/text pairs with a remote cross-encoder that
// speaks the text-embeddings-inference rerank protocol:
//
//	POST {"query": "...", "texts": ["..."]} -> [{"index": 0, "score": 0.9}, ...]
type HTTPScorer struct {
	url    string
	client *http.Client
	retry  RetryConfig
	health *health
	logger memory.Logger
}

var _ memory.Scorer = (*HTTPScorer)(nil)

type rerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
}

type rerankScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// NewHTTPScorer creates a scorer client.
func NewHTTPScorer(cfg ScorerConfig, logger memory.Logger) (*HTTPScorer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("embedding: scorer URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &HTTPScorer{
		url:    strings.TrimRight(cfg.URL, "/"),
		client: &http.Client{Timeout: cfg.Timeout},
		retry:  cfg.Retry,
		health: newHealth(cfg.Cooldown),
		logger: logger,
	}, nil
}

// Ready reports false while a failure cooldown is in effect.
func (s *HTTPScorer) Ready() bool {
	return s.health.ready()
}

// Score returns one score per text, in input order.
func (s *HTTPScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return []float64{}, nil
	}
	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts, RawScores: false})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal rerank request: %w", err)
	}

	scores, err := retryWithBackoff(ctx, s.retry, func() ([]float64, error) {
		return s.do(ctx, body, len(texts))
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.health.fail()
		s.logger.Warn("rerank request failed", "url", s.url, "texts", len(texts), "error", err)
		return nil, err
	}
	s.health.succeed()
	return scores, nil
}

func (s *HTTPScorer) do(ctx context.Context, body []byte, n int) ([]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, &permanentError{fmt.Errorf("embedding: create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("embedding: rerank api error %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		// 4xx other than throttling will not succeed on retry.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, &permanentError{err}
		}
		return nil, err
	}

	var results []rerankScore
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, &permanentError{fmt.Errorf("embedding: decode rerank response: %w", err)}
	}
	if len(results) != n {
		return nil, &permanentError{fmt.Errorf("%w: got %d scores for %d texts", ErrEmptyResponse, len(results), n)}
	}

	scores := make([]float64, n)
	seen := make([]bool, n)
	for _, r := range results {
		if r.Index < 0 || r.Index >= n || seen[r.Index] {
			return nil, &permanentError{fmt.Errorf("embedding: rerank response has invalid index %d", r.Index)}
		}
		seen[r.Index] = true
		scores[r.Index] = r.Score
	}
	return scores, nil
}
