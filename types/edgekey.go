package types

import (
	"fmt"
	"math"
	"sort"
)

/*
EdgeKey is an always positive number that stores an edge's two vertices as indices in a way that can be compared.
An edge between vertices [4] and [0] will always be stored as [0,4], in the ascending order of the index values,
so the key is independent of traversal direction.
*/
type EdgeKey uint64

func NewEdgeKey(v, w int) (packed EdgeKey) {
	// This packs two index coordinates into two 32 bit unsigned integers to act as a hash and an indirect access method
	var (
		limit = math.MaxUint32
	)
	if v < 0 || v > limit || w < 0 || w > limit {
		panic(fmt.Errorf("unable to pack two ints into a uint64, have %d and %d as inputs", v, w))
	}
	var i1, i2 int
	if v <= w {
		i1, i2 = v, w
	} else {
		i1, i2 = w, v
	}
	packed = EdgeKey(i1 + i2<<32)
	return
}

func (ek EdgeKey) GetVertices() (verts [2]int) {
	var (
		enTmp = ek >> 32
	)
	verts[1] = int(enTmp)
	verts[0] = int(ek - enTmp*(1<<32))
	return
}

// Contains reports whether vertex v is one of the edge's endpoints.
func (ek EdgeKey) Contains(v int) bool {
	verts := ek.GetVertices()
	return verts[0] == v || verts[1] == v
}

// Other returns the endpoint opposite v. Panics if v is not on the edge.
func (ek EdgeKey) Other(v int) int {
	verts := ek.GetVertices()
	switch v {
	case verts[0]:
		return verts[1]
	case verts[1]:
		return verts[0]
	}
	panic(fmt.Errorf("vertex %d is not an endpoint of edge %v", v, verts))
}

type EdgeKeySlice []EdgeKey

func (p EdgeKeySlice) Len() int           { return len(p) }
func (p EdgeKeySlice) Less(i, j int) bool { return p[i] < p[j] }
func (p EdgeKeySlice) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }

// Sort is a convenience method.
func (p EdgeKeySlice) Sort() { sort.Sort(p) }
