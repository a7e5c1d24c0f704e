package colour

import "sort"

/*
Package colour provides the vertex colouring the mutation engines schedule
against. The only property relied upon is independence: no two vertices of
the same colour are adjacent in the supplied graph. Coarsening, whose
kernels write one hop out from the contracted vertex, colours the square of
the adjacency so that same-coloured vertices have disjoint one-rings.
*/

// Graph is a CSR node adjacency.
type Graph struct {
	NNodes int
	Xadj   []int
	Adjncy []int
}

// FromAdjacency builds the CSR graph from a node adjacency list.
func FromAdjacency(nnlist [][]int) (g *Graph) {
	g = &Graph{NNodes: len(nnlist)}
	g.Xadj = make([]int, g.NNodes+1)
	for v := 0; v < g.NNodes; v++ {
		g.Adjncy = append(g.Adjncy, nnlist[v]...)
		g.Xadj[v+1] = len(g.Adjncy)
	}
	return
}

// Adjacent returns vertex v's row.
func (g *Graph) Adjacent(v int) []int {
	return g.Adjncy[g.Xadj[v]:g.Xadj[v+1]]
}

// Square returns the distance-2 graph: v is adjacent to every vertex within
// two hops.
func (g *Graph) Square() (sq *Graph) {
	sq = &Graph{NNodes: g.NNodes}
	sq.Xadj = make([]int, g.NNodes+1)
	for v := 0; v < g.NNodes; v++ {
		twoHop := make(map[int]bool)
		for _, u := range g.Adjacent(v) {
			twoHop[u] = true
			for _, w := range g.Adjacent(u) {
				twoHop[w] = true
			}
		}
		delete(twoHop, v)
		row := make([]int, 0, len(twoHop))
		for u := range twoHop {
			row = append(row, u)
		}
		sort.Ints(row)
		sq.Adjncy = append(sq.Adjncy, row...)
		sq.Xadj[v+1] = len(sq.Adjncy)
	}
	return
}

// hashID spreads global ids into priorities so colouring order is not the
// mesh numbering order.
func hashID(id int) uint64 {
	h := uint64(id) * 0x9E3779B97F4A7C15
	h ^= h >> 32
	return h
}

/*
Greedy colours the graph first-fit, visiting vertices in decreasing
hashed-gid priority with ties broken on the gid. Colours are 1-based;
vertices failing the colourable predicate (non-owned, deleted) and isolated
vertices receive colour 0 and forbid no colour to their neighbours. With gids
globally consistent on the halo, ranks visit shared neighbourhoods in the
same priority order, keeping the colouring consistent across the partition
boundary.
*/
func Greedy(g *Graph, gid []int, colourable func(v int) bool) (colours []int) {
	colours = make([]int, g.NNodes)

	order := make([]int, 0, g.NNodes)
	for v := 0; v < g.NNodes; v++ {
		if colourable(v) && g.Xadj[v+1] > g.Xadj[v] {
			order = append(order, v)
		}
	}
	sort.Slice(order, func(i, j int) bool {
		var (
			hi = hashID(gid[order[i]])
			hj = hashID(gid[order[j]])
		)
		if hi != hj {
			return hi > hj
		}
		return gid[order[i]] > gid[order[j]]
	})

	// forbidden[c] == v marks colour c as claimed in v's neighbourhood.
	forbidden := make([]int, g.NNodes+2)
	for i := range forbidden {
		forbidden[i] = -1
	}
	for _, v := range order {
		for _, u := range g.Adjacent(v) {
			if colours[u] > 0 {
				forbidden[colours[u]] = v
			}
		}
		c := 1
		for forbidden[c] == v {
			c++
		}
		colours[v] = c
	}
	return
}
