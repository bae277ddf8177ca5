package memory

import (
	"fmt"
)

// Node is an entity in a knowledge graph, linked to the records that mention it.
type Node struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Name      string   `json:"name"`
	RecordIDs []string `json:"record_ids,omitempty"`
}

// Edge is a directed relationship between two nodes.
type Edge struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence"`
	RecordID   string  `json:"record_id,omitempty"`
}

// GraphError is the base interface for graph construction errors.
type GraphError interface {
	error
	// NodeID returns the node ID associated with the error.
	NodeID() string
}

// NodeNotFoundError is returned when an edge references a missing node.
type NodeNotFoundError struct {
	ID string
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("graph node not found: %s", e.ID)
}

// NodeID returns the node ID.
func (e *NodeNotFoundError) NodeID() string {
	return e.ID
}

// DuplicateNodeError is returned when a node with the same ID is added twice.
type DuplicateNodeError struct {
	ID string
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("duplicate graph node ID: %s", e.ID)
}

// NodeID returns the node ID.
func (e *DuplicateNodeError) NodeID() string {
	return e.ID
}

// InvalidEdgeError is returned for edges with empty endpoints or bad confidence.
type InvalidEdgeError struct {
	From   string
	To     string
	Reason string
}

func (e *InvalidEdgeError) Error() string {
	return fmt.Sprintf("invalid graph edge %s -> %s: %s", e.From, e.To, e.Reason)
}

// NodeID returns the source node ID.
func (e *InvalidEdgeError) NodeID() string {
	return e.From
}

// Graph is a directed graph of entities. It is built by an external
// extractor and is read-only once registered with a GraphIndex.
type Graph struct {
	nodes        map[string]*Node
	order        []string            // node IDs in insertion order
	successors   map[string][]string // node -> nodes it points to
	predecessors map[string][]string // node -> nodes pointing to it
	edges        []Edge
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:        make(map[string]*Node),
		successors:   make(map[string][]string),
		predecessors: make(map[string][]string),
	}
}

// AddNode adds a node. Returns DuplicateNodeError if the ID already exists.
func (g *Graph) AddNode(node Node) error {
	if node.ID == "" {
		return fmt.Errorf("graph node ID cannot be empty")
	}
	if _, exists := g.nodes[node.ID]; exists {
		return &DuplicateNodeError{ID: node.ID}
	}
	cloned := node
	cloned.RecordIDs = append([]string(nil), node.RecordIDs...)
	g.nodes[node.ID] = &cloned
	g.order = append(g.order, node.ID)
	return nil
}

// AddEdge adds a directed edge. Both endpoints must exist. Cycles are allowed.
func (g *Graph) AddEdge(edge Edge) error {
	if edge.From == "" || edge.To == "" {
		return &InvalidEdgeError{From: edge.From, To: edge.To, Reason: "endpoints cannot be empty"}
	}
	if edge.Confidence < 0 || edge.Confidence > 1 {
		return &InvalidEdgeError{From: edge.From, To: edge.To, Reason: "confidence must be within [0, 1]"}
	}
	if _, exists := g.nodes[edge.From]; !exists {
		return &NodeNotFoundError{ID: edge.From}
	}
	if _, exists := g.nodes[edge.To]; !exists {
		return &NodeNotFoundError{ID: edge.To}
	}

	g.edges = append(g.edges, edge)
	if !contains(g.successors[edge.From], edge.To) {
		g.successors[edge.From] = append(g.successors[edge.From], edge.To)
	}
	if !contains(g.predecessors[edge.To], edge.From) {
		g.predecessors[edge.To] = append(g.predecessors[edge.To], edge.From)
	}
	return nil
}

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Successors returns the IDs of nodes the given node points to.
func (g *Graph) Successors(id string) []string {
	return g.successors[id]
}

// Predecessors returns the IDs of nodes pointing to the given node.
func (g *Graph) Predecessors(id string) []string {
	return g.predecessors[id]
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// GraphData is the serializable form of a Graph.
type GraphData struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// BuildGraph constructs a Graph from its serializable form.
func BuildGraph(data GraphData) (*Graph, error) {
	g := NewGraph()
	for _, n := range data.Nodes {
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}
	for _, e := range data.Edges {
		if err := g.AddEdge(e); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
