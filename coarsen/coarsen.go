package coarsen

import (
	"fmt"
	"log"
	"runtime"
	"sort"
	"sync"

	"github.com/gr409/pragmatic/colour"
	"github.com/gr409/pragmatic/element"
	"github.com/gr409/pragmatic/mesh"
	"github.com/gr409/pragmatic/surface"
	"github.com/gr409/pragmatic/types"
	"github.com/gr409/pragmatic/utils"
)

// Identify results: the target vertex id when a contraction is admissible,
// otherwise one of the negative sentinels encoding the rejection reason.
const (
	CollapseUnset   = -1
	RejectedCorner  = -2
	RejectedHalo    = -3
	RejectedQuality = -4
)

// maxPasses bounds the outer independent-set loop.
const maxPasses = 100

/*
Coarsen removes vertices whose shortest incident edge falls below LLow in
metric space, by contracting edges onto surviving vertices. Candidates are
scheduled through a distance-2 colouring so one colour class can be applied
in parallel without two kernels touching the same adjacency.
*/
type Coarsen struct {
	mesh *mesh.Mesh
	surf *surface.Surface
	prop *element.Property
	NP   int // fork-join width

	// Scratch state for one Coarsen call.
	lLow, lMax    float64
	dynamicVertex []int
	recalc        []bool
	lnn2gnn       []int
	owner         []int
	gnn2lnn       map[int]int
}

func New(m *mesh.Mesh, s *surface.Surface) (*Coarsen, error) {
	prop, err := m.ElementProperty()
	if err != nil {
		return nil, err
	}
	if prop == nil {
		return nil, fmt.Errorf("coarsen: mesh has no live elements")
	}
	return &Coarsen{mesh: m, surf: s, prop: prop, NP: runtime.NumCPU()}, nil
}

/*
Coarsen runs the iterated maximal-independent-set collapse loop until no
rank has an admissible contraction left, or the pass cap is reached.
LLow < 1 < LMax in metric units.
*/
func (c *Coarsen) Coarsen(lLow, lMax float64) {
	var (
		m      = c.mesh
		comm   = m.Comm()
		nprocs = comm.Size()
		NNodes = m.NNodes()
	)
	c.lLow, c.lMax = lLow, lMax

	c.dynamicVertex = make([]int, NNodes)
	c.recalc = make([]bool, NNodes)
	for i := range c.dynamicVertex {
		c.dynamicVertex[i] = CollapseUnset
	}
	c.forkJoin(NNodes, func(v int) {
		if m.IsOwnedNode(v) && !m.IsDeletedVertex(v) {
			c.dynamicVertex[v] = c.identifyKernel(v)
		}
	})

	_, c.lnn2gnn, c.owner = m.CreateGlobalNodeNumbering()
	c.gnn2lnn = make(map[int]int, NNodes)
	for i, gnn := range c.lnn2gnn {
		c.gnn2lnn[gnn] = i
	}

	for loop := 0; loop < maxPasses; loop++ {
		if loop == maxPasses-1 {
			log.Printf("WARNING: possibly excessive coarsening. Please check results and verify.")
		}
		NNodes = m.NNodes()

		// Re-identify vertices whose neighbourhood changed last pass.
		for v := 0; v < NNodes; v++ {
			if c.recalc[v] {
				c.recalc[v] = false
				c.dynamicVertex[v] = c.identifyKernel(v)
			}
		}

		// Colour the square graph so same-coloured candidates have disjoint
		// one-rings, then take the globally largest colour class of live
		// candidates as the maximal independent set for this pass.
		graph := colour.FromAdjacency(m.NNList).Square()
		colours := colour.Greedy(graph, c.lnn2gnn, func(v int) bool {
			return m.IsOwnedNode(v) && !m.IsDeletedVertex(v)
		})

		colourSets := make(map[int][]int)
		maxColour := -1
		for v := 0; v < NNodes; v++ {
			if colours[v] > 0 && c.dynamicVertex[v] >= 0 {
				colourSets[colours[v]] = append(colourSets[colours[v]], v)
				if colours[v] > maxColour {
					maxColour = colours[v]
				}
			}
		}
		maxColour = comm.AllreduceMaxInt(maxColour)
		if maxColour < 1 {
			break
		}

		setSizes := make([]int, maxColour)
		for ic, set := range colourSets {
			setSizes[ic-1] = len(set)
		}
		setSizes = comm.AllreduceSumInts(setSizes)
		maxID := 0
		for ic := 1; ic < maxColour; ic++ {
			if setSizes[ic] > setSizes[maxID] {
				maxID = ic
			}
		}
		independentSet := colourSets[maxID+1]

		nLocal := len(independentSet)
		if nprocs > 1 {
			independentSet = c.negotiate(independentSet)
		}

		// Apply the local contractions in parallel; independence makes the
		// kernels commutative and each worker owns the full one-ring of its
		// vertices. Contractions received from peers were scheduled by the
		// peer's colouring, so they are replayed serially.
		targets := make([]int, len(independentSet))
		c.forkJoin(nLocal, func(i int) {
			var (
				rmVertex     = independentSet[i]
				targetVertex = c.dynamicVertex[rmVertex]
			)
			targets[i] = CollapseUnset
			if targetVertex < 0 {
				return
			}
			c.coarsenKernel(rmVertex, targetVertex)
			targets[i] = targetVertex
		})
		for i := nLocal; i < len(independentSet); i++ {
			var (
				rmVertex     = independentSet[i]
				targetVertex = c.dynamicVertex[rmVertex]
			)
			targets[i] = CollapseUnset
			if targetVertex < 0 {
				continue
			}
			c.coarsenKernel(rmVertex, targetVertex)
			targets[i] = targetVertex
		}

		for i, rmVertex := range independentSet {
			c.dynamicVertex[rmVertex] = CollapseUnset
			targetVertex := targets[i]
			if targetVertex < 0 {
				continue
			}
			if m.IsOwnedNode(targetVertex) {
				c.dynamicVertex[targetVertex] = c.identifyKernel(targetVertex)
			}
			for _, nn := range m.NNList[targetVertex] {
				c.recalc[nn] = true
			}
		}
	}
}

// forkJoin fans work over [0, n) across the worker pool.
func (c *Coarsen) forkJoin(n int, work func(i int)) {
	if n == 0 {
		return
	}
	var (
		np = c.NP
		wg = sync.WaitGroup{}
	)
	if np > n {
		np = n
	}
	pm := utils.NewPartitionMap(np, n)
	for b := 0; b < np; b++ {
		wg.Add(1)
		go func(b int) {
			defer wg.Done()
			kMin, kMax := pm.GetBucketRange(b)
			for i := kMin; i < kMax; i++ {
				work(i)
			}
		}(b)
	}
	wg.Wait()
}

/*
identifyKernel returns the vertex rmVertex should be contracted onto, or a
negative sentinel. Candidate neighbours are the geometrically admissible
ones closer than LLow, tried shortest first; a candidate survives if no
rewritten element loses its volume (ratio above 1e-3) and no new edge
stretches past LMax.
*/
func (c *Coarsen) identifyKernel(rmVertex int) int {
	var (
		m = c.mesh
	)
	// A corner vertex pins the geometry.
	if c.surf.IsCornerVertex(rmVertex) {
		return RejectedCorner
	}
	if !m.IsOwnedNode(rmVertex) {
		return RejectedHalo
	}

	type candidate struct {
		length float64
		vertex int
	}
	var shortEdges []candidate
	for _, nn := range m.NNList[rmVertex] {
		// No coarsening across the partition recv-halo.
		if m.RecvHalo[nn] {
			continue
		}
		if !c.surf.IsCollapsible(rmVertex, nn) {
			continue
		}
		edge := m.Edges.Get(types.NewEdgeKey(rmVertex, nn))
		if edge.Length < c.lLow {
			shortEdges = append(shortEdges, candidate{edge.Length, nn})
		}
	}
	sort.Slice(shortEdges, func(i, j int) bool {
		if shortEdges[i].length != shortEdges[j].length {
			return shortEdges[i].length < shortEdges[j].length
		}
		return shortEdges[i].vertex < shortEdges[j].vertex
	})

	scratch := make([]int, m.NLoc)
	for _, cand := range shortEdges {
		var (
			targetVertex = cand.vertex
			targetEdge   = m.Edges.Get(types.NewEdgeKey(rmVertex, targetVertex))
			reject       = false
		)

		// Elements that will be rewritten must keep their volume.
		for ee := range m.NEList[rmVertex] {
			if targetEdge.AdjacentElements[ee] {
				continue
			}
			origN := m.GetElement(ee)
			for i, nid := range origN {
				if nid == rmVertex {
					scratch[i] = targetVertex
				} else {
					scratch[i] = nid
				}
			}
			var origVolume, volume float64
			if m.NDims == 2 {
				origVolume = c.prop.Area(m.GetCoords(origN[0]), m.GetCoords(origN[1]), m.GetCoords(origN[2]))
				volume = c.prop.Area(m.GetCoords(scratch[0]), m.GetCoords(scratch[1]), m.GetCoords(scratch[2]))
			} else {
				origVolume = c.prop.Volume(m.GetCoords(origN[0]), m.GetCoords(origN[1]),
					m.GetCoords(origN[2]), m.GetCoords(origN[3]))
				volume = c.prop.Volume(m.GetCoords(scratch[0]), m.GetCoords(scratch[1]),
					m.GetCoords(scratch[2]), m.GetCoords(scratch[3]))
			}
			if volume/origVolume <= 1.0e-3 {
				reject = true
				break
			}
		}
		if reject {
			continue
		}

		// No new edge may stretch past LMax.
		for _, nn := range m.NNList[rmVertex] {
			if nn == targetVertex {
				continue
			}
			if m.CalcEdgeLength(targetVertex, nn) > c.lMax {
				reject = true
				break
			}
		}
		if !reject {
			return targetVertex
		}
	}
	return RejectedQuality
}

/*
coarsenKernel contracts rmVertex onto targetVertex: elements spanning the
contracted edge are deleted, the remaining elements of rmVertex are
rewritten, edges are deleted, merged or rekeyed, both adjacency lists are
patched and the vertex is marked deleted. The surface collapses first when
both endpoints lie on it.
*/
func (c *Coarsen) coarsenKernel(rmVertex, targetVertex int) {
	var (
		m          = c.mesh
		targetKey  = types.NewEdgeKey(rmVertex, targetVertex)
		targetEdge = m.Edges.Get(targetKey)
	)

	deletedElements := make(map[int]bool, len(targetEdge.AdjacentElements))
	for e := range targetEdge.AdjacentElements {
		deletedElements[e] = true
	}

	if c.surf.ContainsNode(rmVertex) && c.surf.ContainsNode(targetVertex) {
		c.surf.Collapse(rmVertex, targetVertex)
	}

	// Remove the dying elements from the incidence sets of their edges.
	for de := range deletedElements {
		n := m.GetElement(de)
		for i := 0; i < m.NLoc; i++ {
			for j := i + 1; j < m.NLoc; j++ {
				k := types.NewEdgeKey(n[i], n[j])
				if k == targetKey {
					continue
				}
				delete(m.Edges.Get(k).AdjacentElements, de)
			}
		}
	}

	// Rewrite the surviving elements of rmVertex onto targetVertex.
	for ee := range m.NEList[rmVertex] {
		if deletedElements[ee] {
			m.EraseElement(ee)
			continue
		}
		n := m.GetElement(ee)
		for i := 0; i < m.NLoc; i++ {
			if n[i] == rmVertex {
				n[i] = targetVertex
				break
			}
		}
		m.NEList[targetVertex][ee] = true
	}
	for de := range deletedElements {
		delete(m.NEList[targetVertex], de)
	}

	adjTarget := m.GetNodePatch(targetVertex)

	// Edges of rmVertex are dropped, merged onto existing edges of
	// targetVertex, or rekeyed with a fresh metric length.
	for _, nn := range m.NNList[rmVertex] {
		edge := m.Edges.Take(types.NewEdgeKey(rmVertex, nn))
		if nn == targetVertex {
			continue
		}
		if adjTarget[nn] {
			duplicate := m.Edges.Get(types.NewEdgeKey(targetVertex, nn))
			for e := range edge.AdjacentElements {
				duplicate.AdjacentElements[e] = true
			}
			continue
		}
		edge.Length = m.CalcEdgeLength(targetVertex, nn)
		m.Edges.Put(types.NewEdgeKey(targetVertex, nn), edge)
	}

	// Patch the node adjacency around the hole.
	for _, nn := range m.NNList[rmVertex] {
		switch {
		case nn == targetVertex:
			patch := make(map[int]bool, len(adjTarget)+len(m.NNList[rmVertex]))
			for u := range adjTarget {
				patch[u] = true
			}
			for _, u := range m.NNList[rmVertex] {
				patch[u] = true
			}
			delete(patch, rmVertex)
			delete(patch, targetVertex)
			merged := make([]int, 0, len(patch))
			for u := range patch {
				merged = append(merged, u)
			}
			sort.Ints(merged)
			m.NNList[targetVertex] = merged

		case adjTarget[nn]:
			for de := range deletedElements {
				delete(m.NEList[nn], de)
			}
			m.NNList[nn] = removeFrom(m.NNList[nn], rmVertex)

		default:
			for i, u := range m.NNList[nn] {
				if u == rmVertex {
					m.NNList[nn][i] = targetVertex
					break
				}
			}
		}
	}

	m.EraseVertex(rmVertex)
}

func removeFrom(list []int, v int) []int {
	for i, u := range list {
		if u == v {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
