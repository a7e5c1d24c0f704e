package colour

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func identityGids(n int) (gid []int) {
	gid = make([]int, n)
	for i := range gid {
		gid[i] = i
	}
	return
}

func all(v int) bool { return true }

func assertProper(t *testing.T, g *Graph, colours []int) {
	t.Helper()
	for v := 0; v < g.NNodes; v++ {
		if colours[v] == 0 {
			continue
		}
		for _, u := range g.Adjacent(v) {
			if colours[u] > 0 {
				assert.NotEqual(t, colours[v], colours[u],
					"vertices %d and %d share colour %d", v, u, colours[v])
			}
		}
	}
}

func TestGreedyColouring(t *testing.T) {
	{ // Path graph: two colours suffice for independence
		nnlist := [][]int{{1}, {0, 2}, {1, 3}, {2, 4}, {3}}
		g := FromAdjacency(nnlist)
		colours := Greedy(g, identityGids(5), all)
		assertProper(t, g, colours)
		for v := 0; v < 5; v++ {
			assert.Greater(t, colours[v], 0)
			assert.LessOrEqual(t, colours[v], 2)
		}
	}
	{ // Complete graph needs one colour per vertex
		nnlist := [][]int{{1, 2, 3}, {0, 2, 3}, {0, 1, 3}, {0, 1, 2}}
		g := FromAdjacency(nnlist)
		colours := Greedy(g, identityGids(4), all)
		assertProper(t, g, colours)
		seen := make(map[int]bool)
		for _, c := range colours {
			assert.False(t, seen[c])
			seen[c] = true
		}
	}
	{ // Non-colourable vertices get 0; their neighbours are still coloured
		nnlist := [][]int{{1}, {0, 2}, {1}}
		g := FromAdjacency(nnlist)
		colours := Greedy(g, identityGids(3), func(v int) bool { return v != 1 })
		assert.Equal(t, 0, colours[1])
		assert.Greater(t, colours[0], 0)
		assert.Greater(t, colours[2], 0)
	}
	{ // Isolated vertices are uncoloured
		nnlist := [][]int{{1}, {0}, nil}
		g := FromAdjacency(nnlist)
		colours := Greedy(g, identityGids(3), all)
		assert.Equal(t, 0, colours[2])
	}
}

func TestSquareGraph(t *testing.T) {
	// Path 0-1-2-3-4: in the square, 0 is adjacent to 1 and 2.
	nnlist := [][]int{{1}, {0, 2}, {1, 3}, {2, 4}, {3}}
	g := FromAdjacency(nnlist)
	sq := g.Square()
	assert.Equal(t, []int{1, 2}, sq.Adjacent(0))
	assert.Equal(t, []int{0, 2, 3}, sq.Adjacent(1))
	assert.Equal(t, []int{0, 1, 3, 4}, sq.Adjacent(2))

	// Distance-2 colouring of the path: any two vertices within two hops
	// differ in colour.
	colours := Greedy(sq, identityGids(5), all)
	assertProper(t, sq, colours)
	for v := 0; v < 5; v++ {
		for _, u := range sq.Adjacent(v) {
			assert.NotEqual(t, colours[v], colours[u])
		}
	}
}
