package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Match tiers and traversal weights for graph search.
const (
	graphExactMatch     = 1.0
	graphSubstringMatch = 0.8
	graphTokenMatch     = 0.6

	graphSelfWeight        = 1.0
	graphSuccessorWeight   = 0.7
	graphPredecessorWeight = 0.6
)

// GraphProvider supplies a user's knowledge graph on demand.
// A nil graph with a nil error means the user has no graph.
type GraphProvider interface {
	Graph(ctx context.Context, userID string) (*Graph, error)
}

// GraphIndex generates candidates by matching the query against graph
// nodes and collecting the records linked to them and their neighbours.
type GraphIndex struct {
	mu        sync.RWMutex
	graphs    map[string]*Graph
	provider  GraphProvider
	tokenizer *Tokenizer
}

// NewGraphIndex creates a graph index. The provider may be nil, in which
// case only graphs passed to Register are searched.
func NewGraphIndex(provider GraphProvider, tokenizer *Tokenizer) *GraphIndex {
	if tokenizer == nil {
		tokenizer = NewTokenizer(DefaultMinTokenLength, nil)
	}
	return &GraphIndex{
		graphs:    make(map[string]*Graph),
		provider:  provider,
		tokenizer: tokenizer,
	}
}

// Register associates a graph with a user, replacing any previous graph.
func (gi *GraphIndex) Register(userID string, g *Graph) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	gi.mu.Lock()
	defer gi.mu.Unlock()
	if g == nil {
		delete(gi.graphs, userID)
		return nil
	}
	gi.graphs[userID] = g
	return nil
}

// Unregister removes the user's registered graph.
func (gi *GraphIndex) Unregister(userID string) {
	gi.mu.Lock()
	delete(gi.graphs, userID)
	gi.mu.Unlock()
}

// HasIndex reports whether a graph has been registered for the user.
func (gi *GraphIndex) HasIndex(userID string) bool {
	gi.mu.RLock()
	defer gi.mu.RUnlock()
	_, ok := gi.graphs[userID]
	return ok
}

// Available reports whether the index can produce candidates for the user.
func (gi *GraphIndex) Available(userID string) bool {
	return gi.HasIndex(userID) || gi.provider != nil
}

// Stats returns node and edge counts for the user's registered graph.
func (gi *GraphIndex) Stats(userID string) GraphStats {
	gi.mu.RLock()
	g := gi.graphs[userID]
	gi.mu.RUnlock()
	if g == nil {
		return GraphStats{}
	}
	return GraphStats{Nodes: g.NodeCount(), Edges: g.EdgeCount()}
}

// Search matches the query against node IDs and names and returns at most
// topK record IDs. A record reachable through several paths keeps its
// highest score.
func (gi *GraphIndex) Search(ctx context.Context, userID, query string, topK int) ([]ScoredID, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if topK <= 0 || q == "" {
		return nil, nil
	}
	g, err := gi.resolve(ctx, userID)
	if err != nil || g == nil {
		return nil, err
	}
	queryTokens := gi.tokenizer.Tokenize(q)

	scores := make(map[string]float64)
	var order []string
	collect := func(nodeID string, score float64) {
		node, ok := g.Node(nodeID)
		if !ok {
			return
		}
		for _, recID := range node.RecordIDs {
			prev, seen := scores[recID]
			if !seen {
				order = append(order, recID)
			}
			if !seen || score > prev {
				scores[recID] = score
			}
		}
	}

	for _, node := range g.Nodes() {
		tier := gi.matchTier(q, queryTokens, node)
		if tier == 0 {
			continue
		}
		collect(node.ID, tier*graphSelfWeight)
		for _, succ := range g.Successors(node.ID) {
			collect(succ, tier*graphSuccessorWeight)
		}
		for _, pred := range g.Predecessors(node.ID) {
			collect(pred, tier*graphPredecessorWeight)
		}
	}

	results := make([]ScoredID, len(order))
	for i, id := range order {
		results[i] = ScoredID{ID: id, Score: scores[id]}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (gi *GraphIndex) resolve(ctx context.Context, userID string) (*Graph, error) {
	gi.mu.RLock()
	g, ok := gi.graphs[userID]
	gi.mu.RUnlock()
	if ok {
		return g, nil
	}
	if gi.provider == nil {
		return nil, nil
	}
	return gi.provider.Graph(ctx, userID)
}

// matchTier returns the best tier among the node's ID and name.
func (gi *GraphIndex) matchTier(q string, queryTokens []string, node *Node) float64 {
	best := 0.0
	for _, label := range []string{node.ID, node.Name} {
		label = strings.ToLower(strings.TrimSpace(label))
		if label == "" {
			continue
		}
		var tier float64
		switch {
		case label == q:
			tier = graphExactMatch
		case strings.Contains(label, q) || strings.Contains(q, label):
			tier = graphSubstringMatch
		case tokensOverlap(queryTokens, gi.tokenizer.Tokenize(label)):
			tier = graphTokenMatch
		}
		if tier > best {
			best = tier
		}
	}
	return best
}

func tokensOverlap(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	for _, t := range b {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}
