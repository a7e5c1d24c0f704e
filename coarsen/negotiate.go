package coarsen

import (
	"math"
	"sort"

	"github.com/gr409/pragmatic/mesh"
	"github.com/gr409/pragmatic/types"
)

/*
negotiate communicates the pass's contractions that touch the halo. For
every independent-set vertex a peer rank knows, the peer receives the
contraction as a (gid, gid) pair together with any vertices, elements and
facets it does not hold yet, and extends its halo accordingly. The returned
set includes the contractions received from peers so they are applied
locally in the same pass.
*/
func (c *Coarsen) negotiate(independentSet []int) []int {
	var (
		m      = c.mesh
		comm   = m.Comm()
		nprocs = comm.Size()
		rank   = comm.Rank()
	)

	// Cache who knows what.
	knownNodes := make([]map[int]bool, nprocs)
	for p := 0; p < nprocs; p++ {
		if p == rank {
			continue
		}
		knownNodes[p] = make(map[int]bool)
		for _, v := range m.Send[p] {
			knownNodes[p][v] = true
		}
		for _, v := range m.Recv[p] {
			knownNodes[p][v] = true
		}
	}

	var (
		sendEdges    = make([][]int, nprocs)
		sendElements = make([]map[int]bool, nprocs)
		sendNodes    = make([]map[int]bool, nprocs)
	)
	for p := 0; p < nprocs; p++ {
		sendElements[p] = make(map[int]bool)
		sendNodes[p] = make(map[int]bool)
	}
	for _, v := range independentSet {
		if !m.IsHaloNode(v) {
			continue
		}
		for p := 0; p < nprocs; p++ {
			if p == rank || !knownNodes[p][v] {
				continue
			}
			sendEdges[p] = append(sendEdges[p], c.lnn2gnn[v], c.lnn2gnn[c.dynamicVertex[v]])
			for e := range m.NEList[v] {
				sendElements[p][e] = true
			}
		}
	}

	// Finalise the additional vertices, dropping elements the peer partly
	// owns (it already holds those).
	for p := 0; p < nprocs; p++ {
		for e := range sendElements[p] {
			n := m.GetElement(e)
			cnt := 0
			for _, v := range n {
				if !knownNodes[p][v] {
					sendNodes[p][v] = true
				}
				if c.owner[v] == p {
					cnt++
				}
			}
			if cnt > 0 {
				delete(sendElements[p], e)
			}
		}
	}

	// Pack.
	sendBuffer := make([][]int, nprocs)
	for p := 0; p < nprocs; p++ {
		if len(sendEdges[p]) == 0 {
			continue
		}
		buf := []int{len(sendNodes[p])}
		for _, v := range sortedKeys(sendNodes[p]) {
			buf = append(buf, c.lnn2gnn[v], c.owner[v])
			for _, x := range m.GetCoords(v) {
				buf = append(buf, int(math.Float64bits(x)))
			}
			for _, x := range m.GetMetric(v) {
				buf = append(buf, int(math.Float64bits(x)))
			}
		}

		buf = append(buf, len(sendEdges[p]))
		buf = append(buf, sendEdges[p]...)

		elements := sortedKeys(sendElements[p])
		buf = append(buf, len(elements))
		sendFacets := make(map[int]bool)
		for _, e := range elements {
			n := m.GetElement(e)
			for _, v := range n {
				buf = append(buf, c.lnn2gnn[v])
			}
			for _, f := range c.surf.FindFacets(n) {
				sendFacets[f] = true
			}
		}

		facets := sortedKeys(sendFacets)
		buf = append(buf, len(facets))
		for _, f := range facets {
			for _, v := range c.surf.GetFacet(f) {
				buf = append(buf, c.lnn2gnn[v])
			}
			buf = append(buf, c.surf.GetCoplanarID(f))
		}
		sendBuffer[p] = buf
	}

	recvBuffer := comm.AllToAllInts(sendBuffer)

	// Unpack.
	var (
		width             = m.NDims + m.MSize
		extraHaloReceives = make([]map[int]bool, nprocs)
	)
	for p := 0; p < nprocs; p++ {
		extraHaloReceives[p] = make(map[int]bool)
	}
	for p := 0; p < nprocs; p++ {
		if p == rank || len(recvBuffer[p]) == 0 {
			continue
		}
		var (
			buf = recvBuffer[p]
			loc = 0
		)

		// Additional vertices, with coordinates and metric.
		numExtraNodes := buf[loc]
		loc++
		for i := 0; i < numExtraNodes; i++ {
			var (
				gnn    = buf[loc]
				lowner = buf[loc+1]
			)
			loc += 2
			extraHaloReceives[lowner][gnn] = true

			floats := make([]float64, width)
			for j := 0; j < width; j++ {
				floats[j] = math.Float64frombits(uint64(buf[loc+j]))
			}
			loc += width

			if _, have := c.gnn2lnn[gnn]; !have {
				lnn := m.AppendVertex(floats[:m.NDims], floats[m.NDims:], lowner)
				c.lnn2gnn = append(c.lnn2gnn, gnn)
				c.owner = append(c.owner, lowner)
				c.dynamicVertex = append(c.dynamicVertex, CollapseUnset)
				c.recalc = append(c.recalc, false)
				c.gnn2lnn[gnn] = lnn
			}
		}

		// Contractions decided by the peer.
		edgesSize := buf[loc]
		loc++
		for i := 0; i < edgesSize; i += 2 {
			rmVertex := c.gnn2lnn[buf[loc]]
			targetVertex := c.gnn2lnn[buf[loc+1]]
			loc += 2
			c.dynamicVertex[rmVertex] = targetVertex
			independentSet = append(independentSet, rmVertex)
		}

		// Additional elements, stitched into the adjacency.
		numExtraElements := buf[loc]
		loc++
		elementScratch := make([]int, m.NLoc)
		for i := 0; i < numExtraElements; i++ {
			for j := 0; j < m.NLoc; j++ {
				elementScratch[j] = c.gnn2lnn[buf[loc+j]]
			}
			loc += m.NLoc

			// The element is new if any of its edges is unknown here.
			cnt := 0
			for l := 0; l < m.NLoc; l++ {
				for k := l + 1; k < m.NLoc; k++ {
					if m.Edges.Get(types.NewEdgeKey(elementScratch[l], elementScratch[k])) == nil {
						cnt++
					}
				}
			}
			if cnt == 0 {
				continue
			}

			eid := m.AppendElement(append([]int{}, elementScratch...))
			for l := 0; l < m.NLoc; l++ {
				m.NEList[elementScratch[l]][eid] = true
				for k := l + 1; k < m.NLoc; k++ {
					m.NNList[elementScratch[l]] = insertSorted(m.NNList[elementScratch[l]], elementScratch[k])
					m.NNList[elementScratch[k]] = insertSorted(m.NNList[elementScratch[k]], elementScratch[l])

					key := types.NewEdgeKey(elementScratch[l], elementScratch[k])
					edge := m.Edges.Get(key)
					if edge == nil {
						edge = mesh.NewEdge(m.CalcEdgeLength(elementScratch[l], elementScratch[k]))
						m.Edges.Put(key, edge)
					}
					edge.AdjacentElements[eid] = true
				}
			}
		}

		// Additional facets with their patch ids.
		numExtraFacets := buf[loc]
		loc++
		facetScratch := make([]int, m.SNLoc)
		for i := 0; i < numExtraFacets; i++ {
			for j := 0; j < m.SNLoc; j++ {
				facetScratch[j] = c.gnn2lnn[buf[loc+j]]
			}
			loc += m.SNLoc
			coplanarID := buf[loc]
			loc++

			if !c.haveFacet(facetScratch) {
				c.surf.AppendFacet(append([]int{}, facetScratch...), coplanarID)
			}
		}
	}

	// Update the halo with what each peer now additionally holds.
	haloSend := make([][]int, nprocs)
	for p := 0; p < nprocs; p++ {
		haloSend[p] = sortedKeys(extraHaloReceives[p])
	}
	haloRecv := comm.AllToAllInts(haloSend)
	for p := 0; p < nprocs; p++ {
		if p == rank {
			continue
		}
		for _, gnn := range haloRecv[p] {
			lnn := c.gnn2lnn[gnn]
			m.Send[p] = append(m.Send[p], lnn)
			m.SendHalo[lnn] = true
		}
		for _, gnn := range haloSend[p] {
			lnn := c.gnn2lnn[gnn]
			m.Recv[p] = append(m.Recv[p], lnn)
			m.RecvHalo[lnn] = true
		}
	}

	return independentSet
}

// haveFacet reports whether the exact facet vertex set is already present.
func (c *Coarsen) haveFacet(nodes []int) bool {
	for _, f := range c.surf.FindFacets(nodes) {
		if len(c.surf.GetFacet(f)) == len(nodes) {
			return true
		}
	}
	return false
}

func sortedKeys(set map[int]bool) (keys []int) {
	keys = make([]int, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return
}

func insertSorted(list []int, v int) []int {
	i := sort.SearchInts(list, v)
	if i < len(list) && list[i] == v {
		return list
	}
	list = append(list, 0)
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}
