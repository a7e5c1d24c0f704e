package surface

import (
	"math"
	"sort"

	"github.com/gr409/pragmatic/mesh"
)

// DefaultCoplanarTolerance is the dot-product threshold deciding whether two
// adjacent boundary facets belong to the same co-planar patch.
const DefaultCoplanarTolerance = 0.9999999

// VertexClass is the geometric classification of a boundary vertex derived
// from the distinct co-planar patches incident to it.
type VertexClass int

const (
	ClassInterior VertexClass = iota // not on the boundary
	ClassPatchInterior
	ClassPatchEdge // 3D only: on the line between two patches
	ClassCorner
)

func (c VertexClass) String() string {
	return [...]string{"Interior", "PatchInterior", "PatchEdge", "Corner"}[c]
}

/*
Surface indexes the boundary of the mesh: the facet list with outward
orientation, per-facet unit normals, co-planar patch ids, and the
node-to-facet map. It answers the collapse-admissibility queries of the
coarsening engine and mutates the boundary in lockstep with element
contractions.

Facet ids are stable; a deleted facet has its vertices set to -1. The
node-indexed structures are slices so that kernels of one colour class,
whose one-rings are disjoint, may mutate them concurrently.
*/
type Surface struct {
	mesh        *mesh.Mesh
	ndims       int
	nloc        int
	snloc       int
	coplanarTol float64

	SENList      []int // facet -> vertex tuple, snloc per facet
	coplanarIDs  []int
	normals      []float64
	SNEList      []map[int]bool // node -> incident facets
	surfaceNodes []bool
}

// New extracts the boundary of the mesh with the default co-planar
// tolerance.
func New(m *mesh.Mesh) *Surface {
	return NewWithTolerance(m, DefaultCoplanarTolerance)
}

// NewWithTolerance extracts the boundary, classifying the co-planar patches
// against the given dot-product tolerance.
func NewWithTolerance(m *mesh.Mesh, tol float64) (s *Surface) {
	s = &Surface{
		mesh:         m,
		ndims:        m.NDims,
		nloc:         m.NLoc,
		snloc:        m.SNLoc,
		coplanarTol:  tol,
		SNEList:      make([]map[int]bool, m.NNodes()),
		surfaceNodes: make([]bool, m.NNodes()),
	}
	s.findSurface()
	return
}

// ensureNode grows the node-indexed structures after the mesh has appended
// vertices (halo extension).
func (s *Surface) ensureNode(nid int) {
	for len(s.surfaceNodes) <= nid {
		s.surfaceNodes = append(s.surfaceNodes, false)
		s.SNEList = append(s.SNEList, nil)
	}
}

// ContainsNode reports whether the vertex lies on the boundary.
func (s *Surface) ContainsNode(nid int) bool {
	return nid < len(s.surfaceNodes) && s.surfaceNodes[nid]
}

// planeSet collects the distinct patch ids incident to a boundary vertex.
func (s *Surface) planeSet(nid int) map[int]bool {
	planes := make(map[int]bool)
	if nid < len(s.SNEList) {
		for f := range s.SNEList[nid] {
			planes[s.coplanarIDs[f]] = true
		}
	}
	return planes
}

// IsCornerVertex reports whether nid joins at least NDims distinct patches.
func (s *Surface) IsCornerVertex(nid int) bool {
	return len(s.planeSet(nid)) >= s.ndims
}

// ClassifyVertex derives the vertex class from the incident patch count.
func (s *Surface) ClassifyVertex(nid int) VertexClass {
	planes := len(s.planeSet(nid))
	switch {
	case planes == 0:
		return ClassInterior
	case planes >= s.ndims:
		return ClassCorner
	case planes == 1:
		return ClassPatchInterior
	default:
		return ClassPatchEdge
	}
}

/*
IsCollapsible decides whether vertex nidFree may be contracted onto
nidTarget without damaging the geometry: an interior vertex always may; a
corner never may; a patch-edge vertex only onto a vertex touching both of
its patches; a patch-interior vertex only onto a vertex touching its patch.
*/
func (s *Surface) IsCollapsible(nidFree, nidTarget int) bool {
	if !s.ContainsNode(nidFree) {
		return true
	}

	free := s.planeSet(nidFree)
	if len(free) >= s.ndims {
		return false
	}

	target := s.planeSet(nidTarget)
	for id := range free {
		if !target[id] {
			return false
		}
	}
	return true
}

/*
Collapse removes nidFree from the boundary: facets containing both vertices
are deleted, the remaining facets of nidFree are rewritten onto nidTarget,
and the node-to-facet index is updated. The incident facet set is
snapshotted before mutation so deletion cannot disturb the iteration.
*/
func (s *Surface) Collapse(nidFree, nidTarget int) {
	deleted := make(map[int]bool)
	for f := range s.SNEList[nidFree] {
		if s.SNEList[nidTarget][f] {
			deleted[f] = true
		}
	}

	incident := make([]int, 0, len(s.SNEList[nidFree]))
	for f := range s.SNEList[nidFree] {
		incident = append(incident, f)
	}
	sort.Ints(incident)

	for _, f := range incident {
		if deleted[f] {
			for i := 0; i < s.snloc; i++ {
				nid := s.SENList[f*s.snloc+i]
				if nid >= 0 && nid != nidFree {
					delete(s.SNEList[nid], f)
				}
				s.SENList[f*s.snloc+i] = -1
			}
			continue
		}
		for i := 0; i < s.snloc; i++ {
			if s.SENList[f*s.snloc+i] == nidFree {
				s.SENList[f*s.snloc+i] = nidTarget
				break
			}
		}
		s.SNEList[nidTarget][f] = true
	}

	s.SNEList[nidFree] = nil
	s.surfaceNodes[nidFree] = false
}

// NFacets returns the facet slot count, deleted facets included.
func (s *Surface) NFacets() int { return len(s.SENList) / s.snloc }

func (s *Surface) CountLiveFacets() (n int) {
	for f := 0; f < s.NFacets(); f++ {
		if s.SENList[f*s.snloc] >= 0 {
			n++
		}
	}
	return
}

// GetFacet returns the facet's vertex tuple.
func (s *Surface) GetFacet(f int) []int {
	return s.SENList[f*s.snloc : (f+1)*s.snloc]
}

func (s *Surface) GetCoplanarID(f int) int { return s.coplanarIDs[f] }

// GetNormal returns the facet's unit normal, outward-pointing.
func (s *Surface) GetNormal(f int) []float64 {
	return s.normals[f*s.ndims : (f+1)*s.ndims]
}

// GetSurfacePatch returns the facets incident to a boundary vertex.
func (s *Surface) GetSurfacePatch(nid int) map[int]bool {
	if nid >= len(s.SNEList) {
		return nil
	}
	return s.SNEList[nid]
}

// CountPatches returns the number of distinct live patch ids.
func (s *Surface) CountPatches() int {
	ids := make(map[int]bool)
	for f := 0; f < s.NFacets(); f++ {
		if s.SENList[f*s.snloc] >= 0 {
			ids[s.coplanarIDs[f]] = true
		}
	}
	return len(ids)
}

// FindFacets returns the live facets whose vertices all lie in the given
// element vertex set.
func (s *Surface) FindFacets(elementNodes []int) (facets []int) {
	in := make(map[int]bool, len(elementNodes))
	for _, v := range elementNodes {
		in[v] = true
	}
	seen := make(map[int]bool)
	for _, v := range elementNodes {
		if v >= len(s.SNEList) {
			continue
		}
		for f := range s.SNEList[v] {
			if seen[f] {
				continue
			}
			seen[f] = true
			contained := true
			for i := 0; i < s.snloc; i++ {
				if !in[s.SENList[f*s.snloc+i]] {
					contained = false
					break
				}
			}
			if contained {
				facets = append(facets, f)
			}
		}
	}
	sort.Ints(facets)
	return
}

// AppendFacet adds a facet received from a peer rank, carrying its patch id.
func (s *Surface) AppendFacet(nodes []int, coplanarID int) (f int) {
	f = s.NFacets()
	s.SENList = append(s.SENList, nodes...)
	s.coplanarIDs = append(s.coplanarIDs, coplanarID)
	s.normals = append(s.normals, s.facetNormal(nodes)...)
	for _, nid := range nodes {
		s.ensureNode(nid)
		if s.SNEList[nid] == nil {
			s.SNEList[nid] = make(map[int]bool)
		}
		s.SNEList[nid][f] = true
		s.surfaceNodes[nid] = true
	}
	return
}

/*
findSurface extracts the boundary from the element list: every facet seen
exactly once across all elements is a boundary facet. The oriented vertex
order is taken from a fixed per-local-vertex permutation of the parent
simplex so that normals point out of the domain.
*/
func (s *Surface) findSurface() {
	type facetRec struct {
		oriented []int
		sorted   []int
		count    int
	}
	facets := make(map[[3]int]*facetRec)

	for e := 0; e < s.mesh.NElements(); e++ {
		n := s.mesh.GetElement(e)
		if n[0] < 0 {
			continue
		}
		for j := 0; j < s.nloc; j++ {
			sorted := make([]int, 0, s.snloc)
			for k := 1; k < s.nloc; k++ {
				sorted = append(sorted, n[(j+k)%s.nloc])
			}
			sort.Ints(sorted)
			var key [3]int
			key[0], key[1] = sorted[0], sorted[1]
			if s.snloc == 3 {
				key[2] = sorted[2]
			} else {
				key[2] = -1
			}
			if rec, exists := facets[key]; exists {
				rec.count++
				continue
			}
			facets[key] = &facetRec{
				oriented: orientedFacet(n, j, s.snloc),
				sorted:   sorted,
				count:    1,
			}
		}
	}

	var survivors []*facetRec
	for _, rec := range facets {
		if rec.count == 1 {
			survivors = append(survivors, rec)
		}
	}
	sort.Slice(survivors, func(i, j int) bool {
		a, b := survivors[i].sorted, survivors[j].sorted
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})

	for _, rec := range survivors {
		s.SENList = append(s.SENList, rec.oriented...)
		for _, nid := range rec.oriented {
			s.surfaceNodes[nid] = true
		}
	}

	s.calculateCoplanarIDs()
}

// orientedFacet gives the outward-wound facet opposite local vertex j.
func orientedFacet(n []int, j, snloc int) []int {
	if snloc == 3 {
		switch j {
		case 0:
			return []int{n[1], n[3], n[2]}
		case 1:
			return []int{n[2], n[3], n[0]}
		case 2:
			return []int{n[0], n[3], n[1]}
		default:
			return []int{n[0], n[1], n[2]}
		}
	}
	return []int{n[(j+1)%3], n[(j+2)%3]}
}

// facetNormal computes the unit normal of an oriented facet. In 2D the edge
// vector is rotated a quarter turn so the winding fixes the sign; in 3D the
// cross product of two edge vectors is used.
func (s *Surface) facetNormal(nodes []int) []float64 {
	if s.ndims == 2 {
		var (
			x0 = s.mesh.GetCoords(nodes[0])
			x1 = s.mesh.GetCoords(nodes[1])
			dx = x1[0] - x0[0]
			dy = x1[1] - x0[1]
			l  = math.Hypot(dx, dy)
		)
		return []float64{dy / l, -dx / l}
	}
	var (
		x0 = s.mesh.GetCoords(nodes[0])
		x1 = s.mesh.GetCoords(nodes[1])
		x2 = s.mesh.GetCoords(nodes[2])
		ux = x1[0] - x0[0]
		uy = x1[1] - x0[1]
		uz = x1[2] - x0[2]
		vx = x2[0] - x0[0]
		vy = x2[1] - x0[1]
		vz = x2[2] - x0[2]
		nx = uy*vz - uz*vy
		ny = uz*vx - ux*vz
		nz = ux*vy - uy*vx
		l  = math.Sqrt(nx*nx + ny*ny + nz*nz)
	)
	return []float64{nx / l, ny / l, nz / l}
}

/*
calculateCoplanarIDs partitions the boundary facets into maximal connected
sets of near-coplanar facets. Facet-to-facet adjacency is built first (two
facets are adjacent when they share snloc-1 vertices), then patches grow by
breadth-first flood from the lowest unassigned facet, admitting a neighbour
when its normal dots the seed normal above the tolerance.
*/
func (s *Surface) calculateCoplanarIDs() {
	NSElements := s.NFacets()

	s.normals = make([]float64, 0, NSElements*s.ndims)
	for f := 0; f < NSElements; f++ {
		s.normals = append(s.normals, s.facetNormal(s.GetFacet(f))...)
	}

	for f := 0; f < NSElements; f++ {
		for i := 0; i < s.snloc; i++ {
			nid := s.SENList[f*s.snloc+i]
			if s.SNEList[nid] == nil {
				s.SNEList[nid] = make(map[int]bool)
			}
			s.SNEList[nid][f] = true
		}
	}

	// Facet-to-facet adjacency across shared sub-facets.
	EEList := make([]int, NSElements*s.snloc)
	for i := range EEList {
		EEList[i] = -1
	}
	for f := 0; f < NSElements; f++ {
		if s.snloc == 2 {
			for j := 0; j < 2; j++ {
				nid := s.SENList[f*2+j]
				for other := range s.SNEList[nid] {
					if other != f {
						EEList[f*2+j] = other
						break
					}
				}
			}
		} else {
			for j := 0; j < 3; j++ {
				nid1 := s.SENList[f*3+(j+1)%3]
				nid2 := s.SENList[f*3+(j+2)%3]
				for other := range s.SNEList[nid1] {
					if other == f {
						continue
					}
					if s.SNEList[nid2][other] {
						EEList[f*3+j] = other
						break
					}
				}
			}
		}
	}

	// Form patches.
	s.coplanarIDs = make([]int, NSElements)
	currentID := 1
	for pos := 0; pos < NSElements; {
		// Create a new starting point
		seed := -1
		for i := pos; i < NSElements; i++ {
			if s.coplanarIDs[i] == 0 {
				seed = i
				break
			}
		}
		if seed < 0 {
			break
		}
		pos = seed
		s.coplanarIDs[seed] = currentID
		refNormal := s.GetNormal(seed)

		// Advance this front
		front := []int{seed}
		for len(front) > 0 {
			sele := front[0]
			front = front[1:]

			for i := 0; i < s.snloc; i++ {
				sele2 := EEList[sele*s.snloc+i]
				if sele2 < 0 || s.coplanarIDs[sele2] > 0 {
					continue
				}
				coplanar := 0.0
				nrm := s.GetNormal(sele2)
				for d := 0; d < s.ndims; d++ {
					coplanar += refNormal[d] * nrm[d]
				}
				if coplanar >= s.coplanarTol {
					s.coplanarIDs[sele2] = currentID
					front = append(front, sele2)
				}
			}
		}
		currentID++
		pos++
	}
}
