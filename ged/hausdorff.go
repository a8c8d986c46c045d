package ged

import "math"

// Hausdorff returns the Hausdorff edit distance between g1 and g2, a lower
// bound of the graph edit distance computed in O(n1·n2·d²) for maximum degree
// d. Every node is charged its cheapest counterpart in the other graph,
// independently of the choices made for other nodes.
func Hausdorff(g1, g2 *Graph) float64 {
	ig1, ig2 := index(g1), index(g2)
	c1 := make([]float64, len(ig1.nodes))
	c2 := make([]float64, len(ig2.nodes))
	for i := range ig1.nodes {
		c1[i] = 1 + float64(len(ig1.nodes[i].edges))/2
	}
	for j := range ig2.nodes {
		c2[j] = 1 + float64(len(ig2.nodes[j].edges))/2
	}
	for i := range ig1.nodes {
		for j := range ig2.nodes {
			n1, n2 := &ig1.nodes[i], &ig2.nodes[j]
			ce := math.Max(
				math.Abs(float64(len(n1.edges)-len(n2.edges))),
				(edgeHausdorff(n1.edges, n2.edges)+edgeHausdorff(n2.edges, n1.edges))/2,
			)
			cost := (mismatch(n1.label == n2.label) + ce/2) / 2
			c1[i] = math.Min(c1[i], cost)
			c2[j] = math.Min(c2[j], cost)
		}
	}
	var sum float64
	for _, c := range c1 {
		sum += c
	}
	for _, c := range c2 {
		sum += c
	}
	return math.Max(math.Abs(float64(len(c1)-len(c2))), sum)
}

// edgeHausdorff charges every edge of from its cheapest counterpart in to, at
// most 1 for an edge with no counterpart.
func edgeHausdorff(from, to []edgeLabel) float64 {
	var sum float64
	for _, e := range from {
		best := 1.0
		for _, f := range to {
			best = math.Min(best, mismatch(e == f)/2)
		}
		sum += best
	}
	return sum
}

// Similarity normalises the Hausdorff edit distance into [0, 1], where 1 means
// the graphs are indistinguishable.
func Similarity(g1, g2 *Graph) float64 {
	norm := float64(max(g1.Len(), g2.Len()) + g1.NumEdges() + g2.NumEdges())
	if norm == 0 {
		return 1
	}
	return math.Max(0, 1-Hausdorff(g1, g2)/norm)
}
