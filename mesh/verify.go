package mesh

import (
	"fmt"
	"math"

	"github.com/gr409/pragmatic/types"
)

/*
Verify checks the structural invariants that must hold between atomic
mutations: symmetric node-element adjacency, symmetric node-node adjacency
backed by element co-occurrence, the edge set matching co-occurrence with
exact incident-element sets, positive element volumes, and cached metric
lengths agreeing with fresh evaluation. Intended for tests and debugging;
it walks the whole mesh.
*/
func (m *Mesh) Verify() error {
	var (
		NNodes    = m.NNodes()
		NElements = m.NElements()
	)

	// Element tuples reference live vertices; volumes are positive.
	prop, err := m.ElementProperty()
	if err != nil {
		return err
	}
	for e := 0; e < NElements; e++ {
		n := m.GetElement(e)
		if n[0] < 0 {
			continue
		}
		for i := 0; i < m.NLoc; i++ {
			if n[i] < 0 || n[i] >= NNodes {
				return fmt.Errorf("element %d references vertex %d out of range", e, n[i])
			}
			if m.vertexDeleted[n[i]] {
				return fmt.Errorf("element %d references deleted vertex %d", e, n[i])
			}
			if !m.NEList[n[i]][e] {
				return fmt.Errorf("element %d missing from NEList[%d]", e, n[i])
			}
		}
		var vol float64
		if m.NDims == 2 {
			vol = prop.Area(m.GetCoords(n[0]), m.GetCoords(n[1]), m.GetCoords(n[2]))
		} else {
			vol = prop.Volume(m.GetCoords(n[0]), m.GetCoords(n[1]), m.GetCoords(n[2]), m.GetCoords(n[3]))
		}
		if !(vol > 0) {
			return fmt.Errorf("element %d has non-positive volume %g", e, vol)
		}
	}

	// NEList entries reference live elements that contain the vertex.
	for v := 0; v < NNodes; v++ {
		for e := range m.NEList[v] {
			n := m.GetElement(e)
			if n[0] < 0 {
				return fmt.Errorf("NEList[%d] references deleted element %d", v, e)
			}
			found := false
			for i := 0; i < m.NLoc; i++ {
				if n[i] == v {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("NEList[%d] references element %d not containing it", v, e)
			}
		}
	}

	// Recompute co-occurrence and compare against NNList and Edges.
	cooccur := make(map[types.EdgeKey]map[int]bool)
	for e := 0; e < NElements; e++ {
		n := m.GetElement(e)
		if n[0] < 0 {
			continue
		}
		for i := 0; i < m.NLoc; i++ {
			for j := i + 1; j < m.NLoc; j++ {
				k := types.NewEdgeKey(n[i], n[j])
				if cooccur[k] == nil {
					cooccur[k] = make(map[int]bool)
				}
				cooccur[k][e] = true
			}
		}
	}

	nEdges := 0
	var rangeErr error
	m.Edges.Range(func(k types.EdgeKey, e *Edge) bool {
		nEdges++
		verts := k.GetVertices()
		want := cooccur[k]
		if want == nil {
			rangeErr = fmt.Errorf("edge %v has no supporting element", verts)
			return false
		}
		if len(want) != len(e.AdjacentElements) {
			rangeErr = fmt.Errorf("edge %v has %d adjacent elements, want %d",
				verts, len(e.AdjacentElements), len(want))
			return false
		}
		for el := range e.AdjacentElements {
			if !want[el] {
				rangeErr = fmt.Errorf("edge %v lists element %d which does not contain it", verts, el)
				return false
			}
		}
		fresh := m.CalcEdgeLength(verts[0], verts[1])
		if math.Abs(fresh-e.Length) > 1e-12*(1+fresh) {
			rangeErr = fmt.Errorf("edge %v cached length %g, fresh %g", verts, e.Length, fresh)
			return false
		}
		return true
	})
	if rangeErr != nil {
		return rangeErr
	}
	if nEdges != len(cooccur) {
		return fmt.Errorf("edge set has %d entries, co-occurrence has %d", nEdges, len(cooccur))
	}

	for v := 0; v < NNodes; v++ {
		seen := make(map[int]bool)
		for _, u := range m.NNList[v] {
			if seen[u] {
				return fmt.Errorf("NNList[%d] lists %d twice", v, u)
			}
			seen[u] = true
			if cooccur[types.NewEdgeKey(v, u)] == nil {
				return fmt.Errorf("NNList[%d] lists %d with no shared element", v, u)
			}
			// Symmetry
			back := false
			for _, w := range m.NNList[u] {
				if w == v {
					back = true
					break
				}
			}
			if !back {
				return fmt.Errorf("NNList asymmetric between %d and %d", v, u)
			}
		}
	}
	for k := range cooccur {
		verts := k.GetVertices()
		found := false
		for _, u := range m.NNList[verts[0]] {
			if u == verts[1] {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("edge %v missing from NNList", verts)
		}
	}
	return nil
}
