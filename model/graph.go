package model

import (
	"sort"

	"github.com/byzfuzz/rmo/ged"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// DependencyGraph accumulates the causal structure of one run. Every
// intercepted event is a node. An event depends on the last event delivered
// to its sender before it was sent, and on the previous event its sender sent.
//
// The graph has a single writer and is not safe for concurrent use.
type DependencyGraph struct {
	g             *simple.DirectedGraph
	labels        map[int64]ConsensusLabel
	lastDelivered map[NodeIndex]int64
	lastSent      map[NodeIndex]int64
}

// ConsensusLabel is the label of a dependency graph node.
type ConsensusLabel struct {
	Type string
	From NodeIndex
	To   NodeIndex
}

func NewDependencyGraph() *DependencyGraph {
	dg := &DependencyGraph{}
	dg.Reset()
	return dg
}

// Reset discards every recorded event.
func (dg *DependencyGraph) Reset() {
	dg.g = simple.NewDirectedGraph()
	dg.labels = make(map[int64]ConsensusLabel)
	dg.lastDelivered = make(map[NodeIndex]int64)
	dg.lastSent = make(map[NodeIndex]int64)
}

// Sent records the interception of e.
func (dg *DependencyGraph) Sent(e *Event) {
	id := int64(e.ID)
	if dg.g.Node(id) != nil {
		return
	}
	node := simple.Node(id)
	dg.g.AddNode(node)
	dg.labels[id] = ConsensusLabel{Type: e.Type().String(), From: e.From, To: e.To}
	if cause, ok := dg.lastDelivered[e.From]; ok {
		dg.g.SetEdge(dg.g.NewEdge(simple.Node(cause), node))
	}
	if previous, ok := dg.lastSent[e.From]; ok {
		dg.g.SetEdge(dg.g.NewEdge(simple.Node(previous), node))
	}
	dg.lastSent[e.From] = id
}

// Delivered records the delivery of e to its destination.
func (dg *DependencyGraph) Delivered(e *Event) {
	id := int64(e.ID)
	if dg.g.Node(id) == nil {
		return
	}
	dg.lastDelivered[e.To] = id
}

// Len returns the number of recorded events.
func (dg *DependencyGraph) Len() int { return dg.g.Nodes().Len() }

// NumEdges returns the number of recorded dependencies.
func (dg *DependencyGraph) NumEdges() int { return dg.g.Edges().Len() }

// IsAcyclic reports whether the recorded dependencies form a DAG.
func (dg *DependencyGraph) IsAcyclic() bool {
	_, err := topo.Sort(dg.g)
	return err == nil
}

// HasDependency reports whether the event with ID to depends directly on the
// event with ID from.
func (dg *DependencyGraph) HasDependency(from, to uint64) bool {
	return dg.g.HasEdgeFromTo(int64(from), int64(to))
}

// Labeled returns the graph with every event labelled by its message type, in
// event ID order.
func (dg *DependencyGraph) Labeled() *ged.Graph {
	ids := graph.NodesOf(dg.g.Nodes())
	sort.Slice(ids, func(i, j int) bool { return ids[i].ID() < ids[j].ID() })
	out := ged.NewGraph()
	position := make(map[int64]int, len(ids))
	for _, n := range ids {
		position[n.ID()] = out.AddNode(dg.labels[n.ID()].Type)
	}
	edges := dg.g.Edges()
	for edges.Next() {
		e := edges.Edge()
		// Both endpoints are nodes of the graph, so this cannot fail.
		_ = out.AddEdge(position[e.From().ID()], position[e.To().ID()])
	}
	return out
}
