package ged

import (
	"context"
	"sort"
)

// unassigned marks a graph-1 node the search has not reached yet; deleted
// marks one matched to nothing.
const (
	unassigned = -2
	deleted    = -1
)

// Result is the outcome of an exact distance computation.
type Result struct {
	Distance float64
	// Mapping holds, for every node of the first graph, the index of the node
	// of the second graph it is substituted with, or -1 if it is deleted.
	// Nodes of the second graph absent from Mapping are inserted.
	Mapping []int
	// Optimal is false when the search stopped early.
	Optimal    bool
	Expansions int
}

// searchNode is one partial assignment in the search arena. Nodes refer to
// their parent by arena index.
type searchNode struct {
	parent   int
	depth    int
	u, v     int
	g, lb    float64
	children []int
	expanded bool
	open     bool
}

type search struct {
	g1, g2 *indexedGraph
	h1, h2 *Graph
	order  []int
}

// Distance computes the graph edit distance between g1 and g2. The search is
// a depth first A* over partial node assignments, pruned against the best
// complete assignment found so far.
func Distance(ctx context.Context, g1, g2 *Graph, o ...Option) (Result, error) {
	opts, err := newOptions(o...)
	if err != nil {
		return Result{}, err
	}
	s := &search{g1: index(g1), g2: index(g2), h1: g1, h2: g2}
	n1, n2 := g1.Len(), g2.Len()

	rootCost := augmented(n1, n2, func(i, j int) float64 {
		return mismatch(s.g1.nodes[i].label == s.g2.nodes[j].label)
	})
	assignment, _ := Munkres(rootCost)
	best := make([]int, n1)
	s.order = make([]int, n1)
	for i := 0; i < n1; i++ {
		s.order[i] = i
		best[i] = deleted
		if assignment[i] < n2 {
			best[i] = assignment[i]
		}
	}
	sort.SliceStable(s.order, func(a, b int) bool {
		i, j := s.order[a], s.order[b]
		return rootCost[i][assignment[i]] < rootCost[j][assignment[j]]
	})
	upper := s.cost(best)
	result := Result{Optimal: true}
	if n1 == 0 {
		result.Distance, result.Mapping = upper, best
		return result, nil
	}

	arena := []searchNode{{parent: -1}}
	for cur := 0; ; {
		if arena[cur].depth == n1 {
			mapping, used := s.mapping(arena, cur)
			if total := arena[cur].g + s.insertionCost(used); total < upper {
				upper, best = total, mapping
			}
			cur = arena[cur].parent
			continue
		}
		if !arena[cur].expanded {
			if opts.maxExpansions > 0 && result.Expansions >= opts.maxExpansions {
				result.Optimal = false
				break
			}
			if result.Expansions%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return Result{}, err
				}
			}
			result.Expansions++
			children := s.expand(arena, cur, upper)
			for i := range children {
				arena = append(arena, children[i])
				arena[cur].children = append(arena[cur].children, len(arena)-1)
			}
			arena[cur].expanded = true
		}
		next := -1
		for _, c := range arena[cur].children {
			child := &arena[c]
			if !child.open || child.g+child.lb >= upper {
				continue
			}
			if next < 0 || child.g+child.lb < arena[next].g+arena[next].lb {
				next = c
			}
		}
		if next >= 0 {
			arena[next].open = false
			cur = next
			continue
		}
		if cur == 0 {
			break
		}
		cur = arena[cur].parent
	}
	result.Distance, result.Mapping = upper, best
	return result, nil
}

// mapping reconstructs the partial assignment of an arena node.
func (s *search) mapping(arena []searchNode, at int) ([]int, []bool) {
	mapping := make([]int, len(s.g1.nodes))
	for i := range mapping {
		mapping[i] = unassigned
	}
	used := make([]bool, len(s.g2.nodes))
	for ; arena[at].parent >= 0; at = arena[at].parent {
		mapping[arena[at].u] = arena[at].v
		if arena[at].v >= 0 {
			used[arena[at].v] = true
		}
	}
	return mapping, used
}

// expand returns the children of an arena node whose estimate beats upper:
// one per free graph-2 node plus the deletion of the next graph-1 node.
func (s *search) expand(arena []searchNode, at int, upper float64) []searchNode {
	parent := arena[at]
	mapping, used := s.mapping(arena, at)
	u := s.order[parent.depth]
	pending := s.order[parent.depth+1:]

	candidates := make([]int, 0, len(used)+1)
	for v, taken := range used {
		if !taken {
			candidates = append(candidates, v)
		}
	}
	candidates = append(candidates, deleted)

	var children []searchNode
	for _, v := range candidates {
		mapping[u] = v
		g := parent.g + s.nodeCost(u, v) + s.edgeDelta(u, mapping)
		free := make([]int, 0, len(candidates))
		for _, w := range candidates {
			if w != deleted && w != v {
				free = append(free, w)
			}
		}
		lb := s.lowerBound(pending, free)
		if g+lb < upper {
			children = append(children, searchNode{
				parent: at,
				depth:  parent.depth + 1,
				u:      u,
				v:      v,
				g:      g,
				lb:     lb,
				open:   true,
			})
		}
	}
	return children
}

func (s *search) nodeCost(u, v int) float64 {
	if v == deleted {
		return 1
	}
	return mismatch(s.g1.nodes[u].label == s.g2.nodes[v].label)
}

// edgeDelta is the cost of the edges between u and every graph-1 node already
// assigned, including u itself, given the assignment in mapping.
func (s *search) edgeDelta(u int, mapping []int) float64 {
	var cost float64
	v := mapping[u]
	for w, x := range mapping {
		if x == unassigned {
			continue
		}
		cost += s.edgePairCost(u, w, v, x)
		if w != u {
			cost += s.edgePairCost(w, u, x, v)
		}
	}
	return cost
}

// edgePairCost is the cost of the graph-1 edge a→b against the graph-2 edge
// c→d, either of which may be absent.
func (s *search) edgePairCost(a, b, c, d int) float64 {
	in1 := s.h1.HasEdge(a, b)
	in2 := c >= 0 && d >= 0 && s.h2.HasEdge(c, d)
	switch {
	case in1 && in2:
		return mismatch(s.g1.edgeLabel([2]int{a, b}) == s.g2.edgeLabel([2]int{c, d}))
	case in1 || in2:
		return 1
	default:
		return 0
	}
}

// lowerBound solves the node and edge assignment problems over the nodes left
// in both graphs. Graph-1 edges with a pending endpoint and graph-2 edges with
// a free endpoint are the only ones whose cost is still open.
func (s *search) lowerBound(pending, free []int) float64 {
	_, nodes := Munkres(augmented(len(pending), len(free), func(i, j int) float64 {
		return mismatch(s.g1.nodes[pending[i]].label == s.g2.nodes[free[j]].label)
	}))
	e1 := openEdges(s.g1, pending)
	e2 := openEdges(s.g2, free)
	_, edges := Munkres(augmented(len(e1), len(e2), func(i, j int) float64 {
		return mismatch(e1[i] == e2[j])
	}))
	return nodes + edges
}

func openEdges(g *indexedGraph, open []int) []edgeLabel {
	if len(open) == 0 {
		return nil
	}
	isOpen := make(map[int]bool, len(open))
	for _, i := range open {
		isOpen[i] = true
	}
	var labels []edgeLabel
	for _, e := range g.edges {
		if isOpen[e[0]] || isOpen[e[1]] {
			labels = append(labels, g.edgeLabel(e))
		}
	}
	return labels
}

// insertionCost is the cost of inserting every unused graph-2 node together
// with the edges touching it.
func (s *search) insertionCost(used []bool) float64 {
	var cost float64
	for _, taken := range used {
		if !taken {
			cost++
		}
	}
	for _, e := range s.g2.edges {
		if !used[e[0]] || !used[e[1]] {
			cost++
		}
	}
	return cost
}

// cost evaluates a complete assignment.
func (s *search) cost(mapping []int) float64 {
	var cost float64
	inverse := make(map[int]int, len(mapping))
	for u, v := range mapping {
		cost += s.nodeCost(u, v)
		if v >= 0 {
			inverse[v] = u
		}
	}
	cost += float64(len(s.g2.nodes) - len(inverse))
	for _, e := range s.g1.edges {
		c, d := mapping[e[0]], mapping[e[1]]
		cost += s.edgePairCost(e[0], e[1], c, d)
	}
	for _, e := range s.g2.edges {
		a, okA := inverse[e[0]]
		b, okB := inverse[e[1]]
		if !okA || !okB || !s.h1.HasEdge(a, b) {
			cost++
		}
	}
	return cost
}
