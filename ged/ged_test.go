package ged

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func mustGraph(t require.TestingT, labels []string, edges ...[2]int) *Graph {
	g := NewGraph()
	for _, l := range labels {
		g.AddNode(l)
	}
	for _, e := range edges {
		require.NoError(t, g.AddEdge(e[0], e[1]))
	}
	return g
}

// fixtureGraphs differ by one relabelled node and one reversed edge.
func fixtureGraphs(t *testing.T) (*Graph, *Graph) {
	g1 := mustGraph(t, []string{"ProposeSet", "Validation", "StatusChange", "Transaction"}, [2]int{0, 1}, [2]int{2, 3})
	g2 := mustGraph(t, []string{"ProposeSet", "Transaction", "StatusChange", "Transaction"}, [2]int{1, 0}, [2]int{2, 3})
	return g1, g2
}

func graphGenerator(labels []string) *rapid.Generator[*Graph] {
	return rapid.Custom(func(t *rapid.T) *Graph {
		n := rapid.IntRange(1, 4).Draw(t, "nodes")
		g := NewGraph()
		for i := 0; i < n; i++ {
			g.AddNode(rapid.SampledFrom(labels).Draw(t, "label"))
		}
		edges := rapid.IntRange(0, 4).Draw(t, "edges")
		for i := 0; i < edges; i++ {
			from := rapid.IntRange(0, n-1).Draw(t, "from")
			to := rapid.IntRange(0, n-1).Draw(t, "to")
			if err := g.AddEdge(from, to); err != nil {
				t.Fatal(err)
			}
		}
		return g
	})
}

// bruteForce enumerates every injective partial mapping of g1 into g2.
func bruteForce(g1, g2 *Graph) float64 {
	s := &search{g1: index(g1), g2: index(g2), h1: g1, h2: g2}
	best := math.Inf(1)
	mapping := make([]int, g1.Len())
	used := make([]bool, g2.Len())
	var walk func(i int)
	walk = func(i int) {
		if i == len(mapping) {
			best = math.Min(best, s.cost(mapping))
			return
		}
		mapping[i] = deleted
		walk(i + 1)
		for v := range used {
			if used[v] {
				continue
			}
			used[v] = true
			mapping[i] = v
			walk(i + 1)
			used[v] = false
		}
	}
	walk(0)
	return best
}

func TestMunkres_KnownMatrix(t *testing.T) {
	assignment, total := Munkres([][]float64{{2, 1, 3}, {3, 2, 3}, {3, 3, 2}})
	require.Equal(t, 6.0, total)
	require.Len(t, assignment, 3)
	require.ElementsMatch(t, []int{0, 1, 2}, assignment)
}

func TestMunkres_MatchesPermutationOracle(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "n")
		cost := make([][]float64, n)
		for i := range cost {
			cost[i] = make([]float64, n)
			for j := range cost[i] {
				cost[i][j] = float64(rapid.IntRange(0, 20).Draw(t, "cost"))
			}
		}
		assignment, total := Munkres(cost)

		var sum float64
		seen := make([]bool, n)
		for i, j := range assignment {
			require.False(t, seen[j])
			seen[j] = true
			sum += cost[i][j]
		}
		require.Equal(t, total, sum)

		oracle := math.Inf(1)
		perm := make([]int, n)
		for i := range perm {
			perm[i] = i
		}
		var permute func(k int)
		permute = func(k int) {
			if k == n {
				var c float64
				for i, j := range perm {
					c += cost[i][j]
				}
				oracle = math.Min(oracle, c)
				return
			}
			for i := k; i < n; i++ {
				perm[k], perm[i] = perm[i], perm[k]
				permute(k + 1)
				perm[k], perm[i] = perm[i], perm[k]
			}
		}
		permute(0)
		require.Equal(t, oracle, total)
	})
}

func TestMunkres_Empty(t *testing.T) {
	assignment, total := Munkres(nil)
	require.Empty(t, assignment)
	require.Zero(t, total)
}

func TestDistance_KnownFixture(t *testing.T) {
	g1, g2 := fixtureGraphs(t)
	result, err := Distance(context.Background(), g1, g2)
	require.NoError(t, err)
	require.True(t, result.Optimal)
	require.Equal(t, 3.0, result.Distance)

	s := &search{g1: index(g1), g2: index(g2), h1: g1, h2: g2}
	require.Equal(t, result.Distance, s.cost(result.Mapping))

	require.Equal(t, 1.0, Hausdorff(g1, g2))
	require.InDelta(t, 0.875, Similarity(g1, g2), 1e-9)
	require.GreaterOrEqual(t, Similarity(g1, g2), 1-4.0/8)
}

func TestDistance_Identity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		g := graphGenerator([]string{"A", "B", "C"}).Draw(t, "g")
		result, err := Distance(context.Background(), g, g)
		require.NoError(t, err)
		require.Zero(t, result.Distance)
		require.Zero(t, Hausdorff(g, g))
		require.Equal(t, 1.0, Similarity(g, g))
	})
}

func TestDistance_MatchesBruteForce(t *testing.T) {
	labels := []string{"A", "B", "C"}
	rapid.Check(t, func(t *rapid.T) {
		g1 := graphGenerator(labels).Draw(t, "g1")
		g2 := graphGenerator(labels).Draw(t, "g2")
		result, err := Distance(context.Background(), g1, g2)
		require.NoError(t, err)
		require.Equal(t, bruteForce(g1, g2), result.Distance)

		hed := Hausdorff(g1, g2)
		require.GreaterOrEqual(t, hed, 0.0)
		require.LessOrEqual(t, hed, result.Distance+1e-9)
		require.InDelta(t, hed, Hausdorff(g2, g1), 1e-9)
	})
}

func TestDistance_EmptyGraphs(t *testing.T) {
	empty := NewGraph()
	g := mustGraph(t, []string{"A", "B"}, [2]int{0, 1})

	result, err := Distance(context.Background(), empty, g)
	require.NoError(t, err)
	require.Equal(t, 3.0, result.Distance)
	require.Empty(t, result.Mapping)

	result, err = Distance(context.Background(), g, empty)
	require.NoError(t, err)
	require.Equal(t, 3.0, result.Distance)
	require.Equal(t, []int{-1, -1}, result.Mapping)

	result, err = Distance(context.Background(), empty, empty)
	require.NoError(t, err)
	require.Zero(t, result.Distance)
	require.Equal(t, 1.0, Similarity(empty, empty))
}

func TestDistance_MaxExpansions(t *testing.T) {
	g1 := mustGraph(t, []string{"A", "B", "C", "A", "B"}, [2]int{0, 1}, [2]int{1, 2}, [2]int{3, 4})
	g2 := mustGraph(t, []string{"B", "A", "C", "C", "A"}, [2]int{1, 0}, [2]int{2, 3}, [2]int{4, 0})

	exact, err := Distance(context.Background(), g1, g2)
	require.NoError(t, err)

	bounded, err := Distance(context.Background(), g1, g2, WithMaxExpansions(1))
	require.NoError(t, err)
	require.Equal(t, 1, bounded.Expansions)
	require.GreaterOrEqual(t, bounded.Distance, exact.Distance)

	_, err = Distance(context.Background(), g1, g2, WithMaxExpansions(-1))
	require.Error(t, err)
}

func TestDistance_Cancelled(t *testing.T) {
	g1, g2 := fixtureGraphs(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Distance(ctx, g1, g2)
	require.ErrorIs(t, err, context.Canceled)
}

func TestIndex_EdgeCountInvariant(t *testing.T) {
	g := mustGraph(t, []string{"A", "B", "C"}, [2]int{0, 1}, [2]int{1, 2}, [2]int{2, 2}, [2]int{0, 1})
	require.Equal(t, 3, g.NumEdges())
	ig := index(g)
	total := 0
	for _, n := range ig.nodes {
		total += n.numberOfEdges()
	}
	require.Equal(t, 2*g.NumEdges(), total)
	require.Len(t, ig.nodes[2].edges, 2)
	require.Error(t, g.AddEdge(0, 3))
}
