package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/goclaw/recall/pkg/memory"
)

// OpenAIConfig configures an OpenAI-compatible embedding endpoint.
type OpenAIConfig struct {
	BaseURL string
	// Token may be left empty for local services that do not authenticate.
	Token    string
	Model    string
	Cooldown time.Duration
}

// OpenAI embeds texts through an OpenAI-compatible API using langchaingo.
// After a failed call it reports not ready for the configured cooldown so
// the retriever skips vector search instead of waiting on a broken provider.
type OpenAI struct {
	embedder embeddings.Embedder
	health   *health
	logger   memory.Logger
}

var _ memory.Embedder = (*OpenAI)(nil)

// NewOpenAI creates an embedder for the configured endpoint and model.
func NewOpenAI(cfg OpenAIConfig, logger memory.Logger) (*OpenAI, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding: model is required")
	}
	token := cfg.Token
	if token == "" {
		token = "none"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("embedding: create openai client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("embedding: create embedder: %w", err)
	}
	return newOpenAI(embedder, cfg.Cooldown, logger), nil
}

func newOpenAI(embedder embeddings.Embedder, cooldown time.Duration, logger memory.Logger) *OpenAI {
	if logger == nil {
		logger = nopLogger{}
	}
	return &OpenAI{
		embedder: embedder,
		health:   newHealth(cooldown),
		logger:   logger,
	}
}

// Ready reports false while a failure cooldown is in effect.
func (e *OpenAI) Ready() bool {
	return e.health.ready()
}

// Embed returns one vector per input text.
func (e *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	e.logger.Debug("generating embeddings", "count", len(texts))

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err == nil && len(vectors) != len(texts) {
		err = fmt.Errorf("%w: got %d vectors for %d texts", ErrEmptyResponse, len(vectors), len(texts))
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.health.fail()
		e.logger.Error("failed to generate embeddings", "count", len(texts), "error", err)
		return nil, fmt.Errorf("embedding: %w", err)
	}
	e.health.succeed()
	return vectors, nil
}

type nopLogger struct{}

func (nopLogger) Debug(msg string, args ...any) {}
func (nopLogger) Info(msg string, args ...any)  {}
func (nopLogger) Warn(msg string, args ...any)  {}
func (nopLogger) Error(msg string, args ...any) {}
