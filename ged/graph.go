// Package ged measures the structural distance between directed, node
// labelled graphs.
//
// Distance computes the exact graph edit distance with an A* branch and bound
// search whose lower bounds come from bipartite assignment. Hausdorff computes
// a quadratic time lower bound of the same distance.
//
// Edit costs are uniform: substituting a node or an edge with a differently
// labelled one costs 1, as does inserting or deleting either. An edge is
// labelled by the labels of its endpoints.
package ged

import (
	"fmt"
	"sort"
	"strings"
)

// Graph is a directed graph with string labelled nodes and no parallel edges.
type Graph struct {
	labels []string
	edges  map[[2]int]struct{}
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{edges: make(map[[2]int]struct{})}
}

// AddNode adds a node and returns its index.
func (g *Graph) AddNode(label string) int {
	g.labels = append(g.labels, label)
	return len(g.labels) - 1
}

// AddEdge adds a directed edge. Adding an existing edge is a no-op.
func (g *Graph) AddEdge(from, to int) error {
	if from < 0 || from >= len(g.labels) || to < 0 || to >= len(g.labels) {
		return fmt.Errorf("edge (%d, %d) out of range for %d nodes", from, to, len(g.labels))
	}
	if g.edges == nil {
		g.edges = make(map[[2]int]struct{})
	}
	g.edges[[2]int{from, to}] = struct{}{}
	return nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.labels) }

// NumEdges returns the number of edges.
func (g *Graph) NumEdges() int { return len(g.edges) }

func (g *Graph) Label(i int) string { return g.labels[i] }

// Labels returns the node labels by index.
func (g *Graph) Labels() []string { return append([]string(nil), g.labels...) }

func (g *Graph) HasEdge(from, to int) bool {
	_, ok := g.edges[[2]int{from, to}]
	return ok
}

// Edges returns every edge sorted by source then target.
func (g *Graph) Edges() [][2]int {
	edges := make([][2]int, 0, len(g.edges))
	for e := range g.edges {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i][0] != edges[j][0] {
			return edges[i][0] < edges[j][0]
		}
		return edges[i][1] < edges[j][1]
	})
	return edges
}

func (g *Graph) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "graph{nodes: %v, edges: [", g.labels)
	for i, e := range g.Edges() {
		if i > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "%d->%d", e[0], e[1])
	}
	sb.WriteString("]}")
	return sb.String()
}

// edgeLabel is an edge identified by the labels of its endpoints.
type edgeLabel struct {
	from, to string
}

// indexNode is a graph node with its adjacency flattened to labels.
type indexNode struct {
	index    int
	label    string
	incoming []string
	outgoing []string
	// edges holds every incident edge once, self loops included.
	edges []edgeLabel
}

func (n *indexNode) numberOfEdges() int { return len(n.incoming) + len(n.outgoing) }

// indexedGraph is the search-time view of a Graph.
type indexedGraph struct {
	nodes []indexNode
	edges [][2]int
}

func index(g *Graph) *indexedGraph {
	ig := &indexedGraph{
		nodes: make([]indexNode, g.Len()),
		edges: g.Edges(),
	}
	for i, label := range g.labels {
		ig.nodes[i] = indexNode{index: i, label: label}
	}
	for _, e := range ig.edges {
		from, to := &ig.nodes[e[0]], &ig.nodes[e[1]]
		label := edgeLabel{from: from.label, to: to.label}
		from.outgoing = append(from.outgoing, to.label)
		to.incoming = append(to.incoming, from.label)
		from.edges = append(from.edges, label)
		if e[0] != e[1] {
			to.edges = append(to.edges, label)
		}
	}
	return ig
}

func (ig *indexedGraph) edgeLabel(e [2]int) edgeLabel {
	return edgeLabel{from: ig.nodes[e[0]].label, to: ig.nodes[e[1]].label}
}
