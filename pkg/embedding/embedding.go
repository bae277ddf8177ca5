// Package embedding provides the concrete embedders and relevance scorers
// the retrieval engine consumes through memory.Embedder and memory.Scorer.
package embedding

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goclaw/recall/pkg/memory"
)

// Supported embedding providers.
const (
	ProviderOpenAI = "openai"
	ProviderHash   = "hash"
	ProviderNone   = "none"
)

// DefaultCooldown is how long a collaborator reports not ready after a failed call.
const DefaultCooldown = 30 * time.Second

// ErrEmptyResponse is returned when a provider answers without vectors or scores.
var ErrEmptyResponse = errors.New("embedding: empty response")

// Config selects and configures an embedder.
type Config struct {
	Provider  string
	BaseURL   string
	Token     string
	Model     string
	Dimension int
	CacheSize int
	Cooldown  time.Duration
}

// New builds the embedder described by cfg. ProviderNone returns a nil
// embedder, which leaves vector search disabled.
func New(cfg Config, logger memory.Logger) (memory.Embedder, error) {
	var (
		inner memory.Embedder
		err   error
	)
	switch cfg.Provider {
	case ProviderNone, "":
		return nil, nil
	case ProviderHash:
		inner = NewHash(cfg.Dimension)
	case ProviderOpenAI:
		inner, err = NewOpenAI(OpenAIConfig{
			BaseURL:  cfg.BaseURL,
			Token:    cfg.Token,
			Model:    cfg.Model,
			Cooldown: cfg.Cooldown,
		}, logger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}

	if cfg.CacheSize > 0 {
		return NewCached(inner, cfg.CacheSize)
	}
	return inner, nil
}

// health tracks a cooldown window opened by failed calls.
type health struct {
	cooldown  time.Duration
	downUntil atomic.Int64
	failures  atomic.Uint64
	now       func() time.Time
}

func newHealth(cooldown time.Duration) *health {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &health{cooldown: cooldown, now: time.Now}
}

func (h *health) ready() bool {
	return h.now().UnixNano() >= h.downUntil.Load()
}

func (h *health) fail() {
	h.failures.Add(1)
	h.downUntil.Store(h.now().Add(h.cooldown).UnixNano())
}

func (h *health) succeed() {
	h.downUntil.Store(0)
}
