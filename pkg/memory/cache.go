package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Default result cache settings.
const (
	DefaultCacheSize = 1000
	DefaultCacheTTL  = 5 * time.Minute
)

// ResultCache caches complete retrieval results per user.
type ResultCache interface {
	// Get returns cached results if present and not expired.
	Get(ctx context.Context, key string) ([]RerankedResult, bool)

	// Set stores results under key, owned by userID.
	Set(ctx context.Context, key, userID string, results []RerankedResult)

	// InvalidateUser removes every entry owned by userID.
	InvalidateUser(ctx context.Context, userID string)
}

// CacheKey derives a stable key from the user, the normalized query, topK
// and every option that can change the result.
func CacheKey(userID, query string, topK int, opts RetrieveOptions) string {
	opts = opts.withDefaults()

	var b strings.Builder
	fmt.Fprintf(&b, "u=%s\x00q=%s\x00k=%d\x00", userID, NormalizeQuery(query), topK)
	fmt.Fprintf(&b, "x=%t\x00r=%t\x00b=%d\x00v=%d\x00g=%d\x00",
		opts.ExpandQuery, opts.UseReranker, opts.BM25TopK, opts.VectorTopK, opts.GraphTopK)

	names := make([]string, 0, len(opts.SourceWeights))
	for name := range opts.SourceWeights {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "w.%s=%g\x00", name, opts.SourceWeights[name])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// NormalizeQuery lowercases and collapses whitespace.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// CacheConfig configures an LRUCache.
type CacheConfig struct {
	MaxSize         int
	TTL             time.Duration
	RefreshOnAccess bool
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Size      int    `json:"size"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Expired   uint64 `json:"expired"`
}

// cacheEntry is immutable once stored; a sliding refresh stores a new entry.
type cacheEntry struct {
	userID         string
	results        []RerankedResult
	createdAt      time.Time
	lastAccessedAt time.Time
}

// LRUCache is an in-process LRU+TTL result cache. A TTL of zero disables
// expiry.
type LRUCache struct {
	mu      sync.Mutex
	lru     *simplelru.LRU[string, *cacheEntry]
	byUser  map[string]map[string]struct{}
	ttl     time.Duration
	refresh bool
	now     func() time.Time

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	expired   atomic.Uint64
}

// NewLRUCache creates an LRU result cache.
func NewLRUCache(cfg CacheConfig) (*LRUCache, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultCacheSize
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("memory: cache TTL cannot be negative: %s", cfg.TTL)
	}
	c := &LRUCache{
		byUser:  make(map[string]map[string]struct{}),
		ttl:     cfg.TTL,
		refresh: cfg.RefreshOnAccess,
		now:     time.Now,
	}
	lru, err := simplelru.NewLRU[string, *cacheEntry](cfg.MaxSize, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("memory: create result cache: %w", err)
	}
	c.lru = lru
	return c, nil
}

// onEvict keeps the per-user key index in step with the LRU. It runs with c.mu held.
func (c *LRUCache) onEvict(key string, entry *cacheEntry) {
	keys := c.byUser[entry.userID]
	delete(keys, key)
	if len(keys) == 0 {
		delete(c.byUser, entry.userID)
	}
}

// Get returns the stored result slice itself; callers must not modify it.
func (c *LRUCache) Get(_ context.Context, key string) ([]RerankedResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	now := c.now()
	if c.ttl > 0 && now.Sub(entry.createdAt) > c.ttl {
		c.lru.Remove(key)
		c.expired.Add(1)
		c.misses.Add(1)
		return nil, false
	}

	refreshed := &cacheEntry{
		userID:         entry.userID,
		results:        entry.results,
		createdAt:      entry.createdAt,
		lastAccessedAt: now,
	}
	if c.refresh {
		refreshed.createdAt = now
	}
	c.lru.Add(key, refreshed)

	c.hits.Add(1)
	return entry.results, true
}

// Set inserts or overwrites an entry, evicting the least recently used one at capacity.
func (c *LRUCache) Set(_ context.Context, key, userID string, results []RerankedResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if prev, ok := c.lru.Peek(key); ok && prev.userID != userID {
		c.onEvict(key, prev)
	}
	if c.lru.Add(key, &cacheEntry{
		userID:         userID,
		results:        results,
		createdAt:      now,
		lastAccessedAt: now,
	}) {
		c.evictions.Add(1)
	}

	keys := c.byUser[userID]
	if keys == nil {
		keys = make(map[string]struct{})
		c.byUser[userID] = keys
	}
	keys[key] = struct{}{}
}

// InvalidateUser removes every entry owned by userID.
func (c *LRUCache) InvalidateUser(_ context.Context, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.byUser[userID]
	victims := make([]string, 0, len(keys))
	for key := range keys {
		victims = append(victims, key)
	}
	for _, key := range victims {
		c.lru.Remove(key)
	}
	delete(c.byUser, userID)
}

// Purge removes every entry.
func (c *LRUCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.byUser = make(map[string]map[string]struct{})
}

// SetTTL changes the expiry applied to subsequent lookups.
func (c *LRUCache) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl >= 0 {
		c.ttl = ttl
	}
}

// Len returns the number of entries, including expired ones not yet collected.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a snapshot of cache counters.
func (c *LRUCache) Stats() CacheStats {
	return CacheStats{
		Size:      c.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
	}
}
