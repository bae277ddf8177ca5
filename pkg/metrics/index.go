package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/goclaw/recall/pkg/memory"
)

// IndexStatsSource lists indexed users and their statistics.
type IndexStatsSource interface {
	Users() []string
	Stats(userID string) memory.IndexStats
}

// indexCollector sums per-user index statistics at scrape time so index
// size is exported without a label per user.
type indexCollector struct {
	source IndexStatsSource

	users     *prometheus.Desc
	documents *prometheus.Desc
	terms     *prometheus.Desc
	nodes     *prometheus.Desc
	edges     *prometheus.Desc
}

func newIndexCollector(source IndexStatsSource) *indexCollector {
	return &indexCollector{
		source: source,
		users: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "index", "users"),
			"Number of users with a keyword index", nil, nil),
		documents: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "index", "documents"),
			"Number of indexed documents across users by index", []string{"index"}, nil),
		terms: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "index", "terms"),
			"Number of distinct keyword terms summed across users", nil, nil),
		nodes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "graph", "nodes"),
			"Number of knowledge graph nodes across users", nil, nil),
		edges: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "graph", "edges"),
			"Number of knowledge graph edges across users", nil, nil),
	}
}

func (c *indexCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.users
	ch <- c.documents
	ch <- c.terms
	ch <- c.nodes
	ch <- c.edges
}

func (c *indexCollector) Collect(ch chan<- prometheus.Metric) {
	users := c.source.Users()
	var keywordDocs, vectorDocs, terms, nodes, edges int
	for _, userID := range users {
		st := c.source.Stats(userID)
		keywordDocs += st.Keyword.Documents
		vectorDocs += st.Vector.Documents
		terms += st.Keyword.Terms
		nodes += st.Graph.Nodes
		edges += st.Graph.Edges
	}
	ch <- prometheus.MustNewConstMetric(c.users, prometheus.GaugeValue, float64(len(users)))
	ch <- prometheus.MustNewConstMetric(c.documents, prometheus.GaugeValue, float64(keywordDocs), "keyword")
	ch <- prometheus.MustNewConstMetric(c.documents, prometheus.GaugeValue, float64(vectorDocs), "vector")
	ch <- prometheus.MustNewConstMetric(c.terms, prometheus.GaugeValue, float64(terms))
	ch <- prometheus.MustNewConstMetric(c.nodes, prometheus.GaugeValue, float64(nodes))
	ch <- prometheus.MustNewConstMetric(c.edges, prometheus.GaugeValue, float64(edges))
}

// RegisterIndexStats exports index size gauges read from source at scrape time.
func (m *Manager) RegisterIndexStats(source IndexStatsSource) error {
	if !m.enabled || source == nil {
		return nil
	}
	return m.registry.Register(newIndexCollector(source))
}
