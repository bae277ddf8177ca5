package memory

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKeywordIndex() *KeywordIndex {
	cfg := DefaultKeywordConfig()
	cfg.DebugInvariants = true
	return NewKeywordIndex(cfg)
}

func TestKeywordIndex_SingleDocumentScore(t *testing.T) {
	idx := newTestKeywordIndex()
	idx.Index("u1", []Record{rec("a", "postgresql")})

	results := idx.Search("u1", "postgresql", 10)
	require.Len(t, results, 1)

	// N=1, df=1, tf=1 and dl=avgdl reduce the score to the IDF term, ln(4/3).
	want := math.Log((1-1+0.5)/(1+0.5) + 1)
	assert.InDelta(t, want, results[0].Score, 1e-9)
}

func TestKeywordIndex_Ranking(t *testing.T) {
	idx := newTestKeywordIndex()
	idx.Index("u1", []Record{
		rec("a", "the database uses PostgreSQL for storage"),
		rec("b", "Redis is used for caching"),
		rec("c", "user prefers dark mode"),
	})

	results := idx.Search("u1", "PostgreSQL storage", 10)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)

	assert.Empty(t, idx.Search("u1", "kubernetes", 10))
	assert.Empty(t, idx.Search("u1", "the of and", 10), "stop-word-only queries match nothing")
	assert.Empty(t, idx.Search("u1", "postgresql", 0))
	assert.Empty(t, idx.Search("nobody", "postgresql", 10))
}

func TestKeywordIndex_TermFrequencyMonotonic(t *testing.T) {
	idx := newTestKeywordIndex()
	idx.Index("u1", []Record{
		rec("once", "cache layer design notes"),
		rec("twice", "cache cache design notes"),
		rec("other", "unrelated words entirely"),
	})

	results := idx.Search("u1", "cache", 10)
	require.Len(t, results, 2)
	assert.Equal(t, "twice", results[0].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestKeywordIndex_TiesKeepInsertionOrder(t *testing.T) {
	idx := newTestKeywordIndex()
	idx.Add("u1", "z", "golang service")
	idx.Add("u1", "a", "golang service")
	idx.Add("u1", "m", "golang service")

	for i := 0; i < 20; i++ {
		assert.Equal(t, []string{"z", "a", "m"}, scoredIDs(idx.Search("u1", "golang", 10)))
	}

	// Re-adding moves the document to the end of the insertion order.
	idx.Add("u1", "z", "golang service")
	assert.Equal(t, []string{"a", "m", "z"}, scoredIDs(idx.Search("u1", "golang", 10)))
}

func TestKeywordIndex_RemovePrunesTerms(t *testing.T) {
	idx := newTestKeywordIndex()
	idx.Index("u1", []Record{
		rec("a", "alpha beta"),
		rec("b", "beta gamma delta"),
	})
	stats := idx.Stats("u1")
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, 4, stats.Terms)
	assert.InDelta(t, 2.5, stats.AvgDocLength, 1e-9)

	assert.True(t, idx.Remove("u1", "b"))
	assert.False(t, idx.Remove("u1", "b"))
	assert.False(t, idx.Contains("u1", "b"))

	stats = idx.Stats("u1")
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 2, stats.Terms)
	assert.InDelta(t, 2.0, stats.AvgDocLength, 1e-9)
	assert.Empty(t, idx.Search("u1", "gamma", 10))

	assert.True(t, idx.Remove("u1", "a"))
	assert.True(t, idx.HasIndex("u1"), "an emptied index still exists")
	assert.Equal(t, KeywordStats{}, idx.Stats("u1"))
}

func TestKeywordIndex_ReplaceOnAdd(t *testing.T) {
	idx := newTestKeywordIndex()
	idx.Add("u1", "a", "old content here")
	idx.Add("u1", "a", "fresh text")

	assert.Empty(t, idx.Search("u1", "content", 10))
	assert.Equal(t, []string{"a"}, scoredIDs(idx.Search("u1", "fresh", 10)))
	assert.Equal(t, 1, idx.Stats("u1").Documents)
}

func TestKeywordIndex_UserIsolation(t *testing.T) {
	idx := newTestKeywordIndex()
	idx.Index("u1", []Record{rec("a", "shared secret phrase")})
	idx.Index("u2", []Record{rec("b", "shared secret phrase")})

	assert.Equal(t, []string{"a"}, scoredIDs(idx.Search("u1", "secret", 10)))
	assert.Equal(t, []string{"b"}, scoredIDs(idx.Search("u2", "secret", 10)))

	idx.Clear("u1")
	assert.False(t, idx.HasIndex("u1"))
	assert.True(t, idx.HasIndex("u2"))
}

func TestKeywordIndex_TopKTruncates(t *testing.T) {
	idx := newTestKeywordIndex()
	for _, id := range []string{"a", "b", "c", "d"} {
		idx.Add("u1", id, "kafka consumer")
	}
	assert.Len(t, idx.Search("u1", "kafka", 2), 2)
}

func TestKeywordShard_CheckInvariants(t *testing.T) {
	tok := NewTokenizer(DefaultMinTokenLength, nil)
	shard := newKeywordShard()
	shard.add(tok, "a", "alpha beta")
	require.Nil(t, shard.checkInvariants())

	shard.totalLen++
	err := shard.checkInvariants()
	require.NotNil(t, err)
	assert.Equal(t, "keyword", err.Index)
}

func TestKeywordIndex_DebugPanicsOnCorruption(t *testing.T) {
	idx := newTestKeywordIndex()
	idx.Add("u1", "a", "alpha beta")
	idx.shard("u1").totalDocs = 5

	assert.PanicsWithError(t,
		`memory: keyword index invariant violated for user "u1": document count 6, id list 2, forward index 2`,
		func() { idx.Add("u1", "b", "gamma") })
}
