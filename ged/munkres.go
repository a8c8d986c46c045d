package ged

import "math"

// forbidden is the cost of an assignment that must never be chosen. It is
// finite so that potentials stay well defined.
const forbidden = 1e9

// Munkres solves the square assignment problem for cost, returning the column
// assigned to every row and the total cost. It runs in O(n³).
func Munkres(cost [][]float64) ([]int, float64) {
	n := len(cost)
	if n == 0 {
		return nil, 0
	}
	// Potentials and the matching use 1-based indices; row 0 and column 0
	// are sentinels.
	u := make([]float64, n+1)
	v := make([]float64, n+1)
	p := make([]int, n+1)
	way := make([]int, n+1)
	minv := make([]float64, n+1)
	used := make([]bool, n+1)
	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		for j := range minv {
			minv[j] = math.Inf(1)
			used[j] = false
		}
		for {
			used[j0] = true
			i0, delta, j1 := p[j0], math.Inf(1), 0
			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				if cur := cost[i0-1][j-1] - u[i0] - v[j]; cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= n; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}
	assignment := make([]int, n)
	for j := 1; j <= n; j++ {
		assignment[p[j]-1] = j - 1
	}
	var total float64
	for i, j := range assignment {
		total += cost[i][j]
	}
	return assignment, total
}

// augmented builds the (r+c)×(r+c) edit matrix for r source and c target
// items: substitution costs top left, deletion and insertion on the diagonals
// of the off blocks, and zero for dummy to dummy.
func augmented(r, c int, substitute func(i, j int) float64) [][]float64 {
	n := r + c
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
		for j := range m[i] {
			switch {
			case i < r && j < c:
				m[i][j] = substitute(i, j)
			case i < r:
				m[i][j] = offDiagonal(j-c == i)
			case j < c:
				m[i][j] = offDiagonal(i-r == j)
			}
		}
	}
	return m
}

func offDiagonal(diagonal bool) float64 {
	if diagonal {
		return 1
	}
	return forbidden
}

func mismatch(equal bool) float64 {
	if equal {
		return 0
	}
	return 1
}
