package smooth

import (
	"fmt"
	"log"
	"math"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gr409/pragmatic/colour"
	"github.com/gr409/pragmatic/element"
	"github.com/gr409/pragmatic/mesh"
	"github.com/gr409/pragmatic/surface"
	"github.com/gr409/pragmatic/types"
	"github.com/gr409/pragmatic/utils"
	"gonum.org/v1/gonum/mat"
)

// Smoothing kernel names accepted by Smooth.
const (
	MethodLaplacian        = "Laplacian"
	MethodSmartLaplacian   = "smart Laplacian"
	MethodOptimisationLinf = "optimisation Linf"
)

const epsilonQ = 1.0e-6

/*
Smooth3D repositions interior vertices of a tetrahedral mesh to improve
element quality in metric space. Vertices are scheduled by colour so one
class relaxes in parallel; boundary vertices never move. Three kernels are
available: unconditional metric-weighted Laplacian, a smart variant that
only accepts improving moves, and a gradient-ascent optimiser of the worst
incident element's quality.
*/
type Smooth3D struct {
	mesh *mesh.Mesh
	surf *surface.Surface
	prop *element.Property
	NP   int // fork-join width

	goodQ      float64
	quality    []float64
	colourSets map[int][]int
	kernels    map[string]func(node int) bool
}

func NewSmooth3D(m *mesh.Mesh, s *surface.Surface) (*Smooth3D, error) {
	if m.NDims != 3 {
		return nil, fmt.Errorf("smooth: Smooth3D requires a 3D mesh, have %dD", m.NDims)
	}
	prop, err := m.ElementProperty()
	if err != nil {
		return nil, err
	}
	if prop == nil {
		return nil, fmt.Errorf("smooth: mesh has no live elements")
	}
	sm := &Smooth3D{mesh: m, surf: s, prop: prop, NP: runtime.NumCPU()}
	sm.kernels = map[string]func(int) bool{
		MethodLaplacian:        sm.laplacianKernel,
		MethodSmartLaplacian:   sm.smartLaplacianKernel,
		MethodOptimisationLinf: sm.optimisationLinfKernel,
	}
	return sm, nil
}

/*
Smooth runs up to maxIterations sweeps of the chosen kernel. After the
first sweep only vertices whose neighbourhood changed are revisited. A
positive qualityTol overrides the good-enough threshold used by the Linf
kernel, which otherwise defaults to the mesh's mean quality.
*/
func (s *Smooth3D) Smooth(method string, maxIterations int, qualityTol float64) {
	var (
		m      = s.mesh
		comm   = m.Comm()
		nparts = comm.Size()
	)
	s.initCache()
	if qualityTol > 0 {
		s.goodQ = qualityTol
	}

	var haloElements []int
	if nparts > 1 {
		for e := 0; e < m.NElements(); e++ {
			n := m.GetElement(e)
			if n[0] < 0 {
				continue
			}
			for _, v := range n {
				if !m.IsOwnedNode(v) {
					haloElements = append(haloElements, e)
					break
				}
			}
		}
	}

	kernel, known := s.kernels[method]
	if !known {
		log.Printf("WARNING: Unknown smoothing method %q; using %q", method, MethodOptimisationLinf)
		kernel = s.kernels[MethodOptimisationLinf]
	}

	active := make([]int32, m.NNodes())

	maxColour := 0
	for ic := range s.colourSets {
		if ic > maxColour {
			maxColour = ic
		}
	}
	maxColour = comm.AllreduceMaxInt(maxColour)

	exchange := func() {
		if nparts > 1 {
			m.HaloUpdate()
			// Peers may have moved recv-halo vertices; their cached edge
			// lengths and element qualities follow the fresh coordinates.
			for v := range m.RecvHalo {
				if m.IsDeletedVertex(v) {
					continue
				}
				s.updateEdgeLengths(v)
			}
			for _, e := range haloElements {
				s.updateQuality(e)
			}
		}
	}

	// First sweep visits everything; later sweeps only what a neighbour
	// disturbed.
	for ic := 1; ic <= maxColour; ic++ {
		s.forkJoin(s.colourSets[ic], func(node int) {
			if kernel(node) {
				for _, nn := range m.NNList[node] {
					atomic.StoreInt32(&active[nn], 1)
				}
			}
		})
		exchange()
	}

	for iter := 1; iter < maxIterations; iter++ {
		for ic := 1; ic <= maxColour; ic++ {
			s.forkJoin(s.colourSets[ic], func(node int) {
				if atomic.LoadInt32(&active[node]) == 0 {
					return
				}
				atomic.StoreInt32(&active[node], 0)
				if kernel(node) {
					for _, nn := range m.NNList[node] {
						atomic.StoreInt32(&active[nn], 1)
					}
				}
			})
			exchange()
		}
	}
}

func (s *Smooth3D) forkJoin(nodes []int, work func(node int)) {
	if len(nodes) == 0 {
		return
	}
	var (
		np = s.NP
		wg = sync.WaitGroup{}
	)
	if np > len(nodes) {
		np = len(nodes)
	}
	pm := utils.NewPartitionMap(np, len(nodes))
	for b := 0; b < np; b++ {
		wg.Add(1)
		go func(b int) {
			defer wg.Done()
			kMin, kMax := pm.GetBucketRange(b)
			for i := kMin; i < kMax; i++ {
				work(nodes[i])
			}
		}(b)
	}
	wg.Wait()
}

/*
initCache colours the adjacency, buckets the movable vertices (owned,
interior) by colour, and fills the per-element quality cache. The mean
quality becomes the good-enough threshold.
*/
func (s *Smooth3D) initCache() {
	var (
		m      = s.mesh
		NNodes = m.NNodes()
	)
	_, lnn2gnn, _ := m.CreateGlobalNodeNumbering()

	colours := colour.Greedy(colour.FromAdjacency(m.NNList), lnn2gnn, func(v int) bool {
		return m.IsOwnedNode(v) && !m.IsDeletedVertex(v)
	})

	s.colourSets = make(map[int][]int)
	for v := 0; v < NNodes; v++ {
		if colours[v] < 1 || len(m.NNList[v]) == 0 || s.surf.ContainsNode(v) {
			continue
		}
		s.colourSets[colours[v]] = append(s.colourSets[colours[v]], v)
	}

	var (
		NElements = m.NElements()
		qsum      = make([]float64, s.NP)
		live      = make([]int64, s.NP)
		wg        = sync.WaitGroup{}
		np        = s.NP
	)
	s.quality = make([]float64, NElements)
	if np > NElements {
		np = NElements
	}
	if NElements == 0 {
		return
	}
	pm := utils.NewPartitionMap(np, NElements)
	for b := 0; b < np; b++ {
		wg.Add(1)
		go func(b int) {
			defer wg.Done()
			kMin, kMax := pm.GetBucketRange(b)
			for e := kMin; e < kMax; e++ {
				if m.ENList[e*m.NLoc] < 0 {
					s.quality[e] = 1.0
					continue
				}
				s.updateQuality(e)
				qsum[b] += s.quality[e]
				live[b]++
			}
		}(b)
	}
	wg.Wait()
	var totalQ float64
	var totalLive int64
	for b := 0; b < np; b++ {
		totalQ += qsum[b]
		totalLive += live[b]
	}
	if totalLive > 0 {
		s.goodQ = totalQ / float64(totalLive)
	}
}

func (s *Smooth3D) updateQuality(e int) {
	m := s.mesh
	n := m.GetElement(e)
	s.quality[e] = s.prop.Lipnikov3D(
		m.GetCoords(n[0]), m.GetCoords(n[1]), m.GetCoords(n[2]), m.GetCoords(n[3]),
		m.GetMetric(n[0]), m.GetMetric(n[1]), m.GetMetric(n[2]), m.GetMetric(n[3]))
}

// updateEdgeLengths refreshes the cached metric lengths of the moved
// vertex's edges. The colouring keeps these edges private to this worker.
func (s *Smooth3D) updateEdgeLengths(node int) {
	m := s.mesh
	for _, u := range m.NNList[node] {
		m.Edges.Get(types.NewEdgeKey(node, u)).Length = m.CalcEdgeLength(node, u)
	}
}

// incidentElements returns the sorted live elements around a vertex.
func (s *Smooth3D) incidentElements(node int) (elems []int) {
	elems = make([]int, 0, len(s.mesh.NEList[node]))
	for e := range s.mesh.NEList[node] {
		elems = append(elems, e)
	}
	sort.Ints(elems)
	return
}

/*
oppositeFace returns the other three vertices of element e so that
(node, n1, n2, n3) keeps the reference orientation.
*/
func (s *Smooth3D) oppositeFace(e, node int) (n1, n2, n3 int) {
	n := s.mesh.GetElement(e)
	loc := 0
	for ; loc < 4; loc++ {
		if n[loc] == node {
			break
		}
	}
	switch loc {
	case 0:
		return n[1], n[2], n[3]
	case 1:
		return n[2], n[0], n[3]
	case 2:
		return n[0], n[1], n[3]
	default:
		return n[0], n[2], n[1]
	}
}

/*
laplacianStep solves (sum_u M)(p - x0) = sum_u M (x_u - x0) for the
proposed position p, with M the vertex's own metric. The left-hand matrix
is a sum of SPD metrics, so a Cholesky solve applies.
*/
func (s *Smooth3D) laplacianStep(node int, p []float64) bool {
	var (
		m  = s.mesh
		x0 = m.GetCoords(node)
		mm = m.GetMetric(node)
		A  [9]float64
		q  [3]float64
	)
	for _, u := range m.NNList[node] {
		x := m.GetCoords(u)
		var (
			dx = x[0] - x0[0]
			dy = x[1] - x0[1]
			dz = x[2] - x0[2]
		)
		q[0] += mm[0]*dx + mm[1]*dy + mm[2]*dz
		q[1] += mm[1]*dx + mm[3]*dy + mm[4]*dz
		q[2] += mm[2]*dx + mm[4]*dy + mm[5]*dz

		A[0] += mm[0]
		A[1] += mm[1]
		A[2] += mm[2]
		A[4] += mm[3]
		A[5] += mm[4]
		A[8] += mm[5]
	}
	A[3], A[6], A[7] = A[1], A[2], A[5]

	var chol mat.Cholesky
	if !chol.Factorize(mat.NewSymDense(3, A[:])) {
		return false
	}
	var d mat.VecDense
	if err := chol.SolveVecTo(&d, mat.NewVecDense(3, q[:])); err != nil {
		return false
	}
	for i := 0; i < 3; i++ {
		p[i] = x0[i] + d.AtVec(i)
	}
	return true
}

// laplacianKernel commits the Laplacian position unconditionally, rejecting
// only when the metric cannot be interpolated at the target.
func (s *Smooth3D) laplacianKernel(node int) bool {
	var (
		p  [3]float64
		mp [6]float64
	)
	if !s.laplacianStep(node, p[:]) {
		return false
	}
	if !s.generateLocation(node, p[:], mp[:]) {
		return false
	}
	copy(s.mesh.GetCoords(node), p[:])
	copy(s.mesh.GetMetric(node), mp[:])
	s.updateEdgeLengths(node)
	for _, e := range s.incidentElements(node) {
		s.updateQuality(e)
	}
	return true
}

// smartLaplacianKernel accepts the Laplacian position only when the worst
// incident quality strictly improves.
func (s *Smooth3D) smartLaplacianKernel(node int) bool {
	var (
		p  [3]float64
		mp [6]float64
	)
	if !s.laplacianStep(node, p[:]) {
		return false
	}
	if !s.generateLocation(node, p[:], mp[:]) {
		return false
	}

	var (
		candidate = s.functionalLinfAt(node, p[:], mp[:])
		current   = s.functionalLinf(node)
	)
	if candidate-current < epsilonQ {
		return false
	}

	copy(s.mesh.GetCoords(node), p[:])
	copy(s.mesh.GetMetric(node), mp[:])
	s.updateEdgeLengths(node)
	for _, e := range s.incidentElements(node) {
		s.updateQuality(e)
	}
	return true
}

/*
optimisationLinfKernel improves the worst incident element by gradient
ascent on its quality: step along the normalised gradient, clipped by a
linear prediction of where another element becomes the worst, then halve
up to ten times until every incident quality strictly exceeds the old
minimum.
*/
func (s *Smooth3D) optimisationLinfKernel(node int) bool {
	var (
		m     = s.mesh
		x0    = m.GetCoords(node)
		m0    = m.GetMetric(node)
		elems = s.incidentElements(node)
	)
	if len(elems) == 0 {
		return false
	}

	worstE, worstQ := -1, math.MaxFloat64
	for _, e := range elems {
		if s.quality[e] < worstQ {
			worstQ, worstE = s.quality[e], e
		}
	}
	if worstQ > s.goodQ {
		return false
	}

	// Direction of steepest ascent for the worst element's quality.
	var (
		gradW  [3]float64
		search [3]float64
	)
	{
		n1, n2, n3 := s.oppositeFace(worstE, node)
		s.prop.LipnikovGrad3D(x0, m.GetCoords(n1), m.GetCoords(n2), m.GetCoords(n3), m0, gradW[:])
		mag := math.Sqrt(gradW[0]*gradW[0] + gradW[1]*gradW[1] + gradW[2]*gradW[2])
		if !(mag > 0) || math.IsInf(mag, 1) || math.IsNaN(mag) {
			return false
		}
		for i := 0; i < 3; i++ {
			search[i] = gradW[i] / mag
		}
	}

	// Initial step from the one-ring extents.
	var alpha float64
	{
		bbox := [6]float64{math.MaxFloat64, -math.MaxFloat64, math.MaxFloat64,
			-math.MaxFloat64, math.MaxFloat64, -math.MaxFloat64}
		for _, u := range m.NNList[node] {
			x := m.GetCoords(u)
			for d := 0; d < 3; d++ {
				bbox[2*d] = math.Min(bbox[2*d], x[d])
				bbox[2*d+1] = math.Max(bbox[2*d+1], x[d])
			}
		}
		alpha = (bbox[1] - bbox[0] + bbox[3] - bbox[2] + bbox[5] - bbox[4]) / 6.0
	}

	// Clip where another element's quality is predicted to drop to the
	// current worst along the search direction.
	for _, e := range elems {
		if e == worstE {
			continue
		}
		n1, n2, n3 := s.oppositeFace(e, node)
		var grad [3]float64
		s.prop.LipnikovGrad3D(x0, m.GetCoords(n1), m.GetCoords(n2), m.GetCoords(n3), m0, grad[:])
		denom := (search[0]*gradW[0] + search[1]*gradW[1] + search[2]*gradW[2]) -
			(search[0]*grad[0] + search[1]*grad[1] + search[2]*grad[2])
		if denom == 0 {
			continue
		}
		newAlpha := (s.quality[e] - worstQ) / denom
		if newAlpha > 0 {
			alpha = math.Min(alpha, newAlpha)
		}
	}

	// Line search with up to ten halvings.
	var (
		newX0 [3]float64
		newM0 [6]float64
	)
	for isearch := 0; isearch < 10; isearch++ {
		alpha *= 0.5

		for i := 0; i < 3; i++ {
			newX0[i] = x0[i] + alpha*search[i]
		}
		if !s.generateLocation(node, newX0[:], newM0[:]) {
			continue
		}

		var (
			accepted   = true
			newQuality = make([]float64, 0, len(elems))
		)
		for _, e := range elems {
			n1, n2, n3 := s.oppositeFace(e, node)
			newQ := s.prop.Lipnikov3D(newX0[:],
				m.GetCoords(n1), m.GetCoords(n2), m.GetCoords(n3),
				newM0[:], m.GetMetric(n1), m.GetMetric(n2), m.GetMetric(n3))
			if newQ > worstQ {
				newQuality = append(newQuality, newQ)
			} else {
				// The linear approximation was not sufficient.
				accepted = false
				break
			}
		}
		if !accepted {
			continue
		}

		for i, e := range elems {
			s.quality[e] = newQuality[i]
		}
		copy(m.GetCoords(node), newX0[:])
		copy(m.GetMetric(node), newM0[:])
		s.updateEdgeLengths(node)
		return true
	}
	return false
}

// functionalLinf is the worst cached quality among the incident elements.
func (s *Smooth3D) functionalLinf(node int) float64 {
	patchQuality := math.MaxFloat64
	for e := range s.mesh.NEList[node] {
		if s.quality[e] < patchQuality {
			patchQuality = s.quality[e]
		}
	}
	return patchQuality
}

// functionalLinfAt evaluates the worst incident quality with the vertex
// hypothetically at p carrying metric mp.
func (s *Smooth3D) functionalLinfAt(node int, p, mp []float64) float64 {
	var (
		m          = s.mesh
		functional = math.MaxFloat64
	)
	for e := range m.NEList[node] {
		n1, n2, n3 := s.oppositeFace(e, node)
		q := s.prop.Lipnikov3D(p,
			m.GetCoords(n1), m.GetCoords(n2), m.GetCoords(n3),
			mp, m.GetMetric(n1), m.GetMetric(n2), m.GetMetric(n3))
		if q < functional {
			functional = q
		}
	}
	return functional
}

/*
generateLocation interpolates the metric at position p from the incident
simplex with the best barycentric coordinates, rejecting the move when any
incident element would invert. Barycentric weights come from signed
sub-volume ratios.
*/
func (s *Smooth3D) generateLocation(node int, p []float64, mp []float64) bool {
	var (
		m     = s.mesh
		bestE = -1
		tol   = -1.0
		l     [4]float64
	)
	for _, e := range s.incidentElements(node) {
		n := m.GetElement(e)
		var (
			x0 = m.GetCoords(n[0])
			x1 = m.GetCoords(n[1])
			x2 = m.GetCoords(n[2])
			x3 = m.GetCoords(n[3])
		)

		// Inversion check on the element whose vertex is moving.
		var volume float64
		switch node {
		case n[0]:
			volume = s.prop.Volume(p, x1, x2, x3)
		case n[1]:
			volume = s.prop.Volume(x0, p, x2, x3)
		case n[2]:
			volume = s.prop.Volume(x0, x1, p, x3)
		default:
			volume = s.prop.Volume(x0, x1, x2, p)
		}
		if volume < 0 {
			return false
		}

		L := s.prop.Volume(x0, x1, x2, x3)
		var ll [4]float64
		ll[0] = s.prop.Volume(p, x1, x2, x3) / L
		ll[1] = s.prop.Volume(x0, p, x2, x3) / L
		ll[2] = s.prop.Volume(x0, x1, p, x3) / L
		ll[3] = s.prop.Volume(x0, x1, x2, p) / L

		minL := math.Min(math.Min(ll[0], ll[1]), math.Min(ll[2], ll[3]))
		if bestE == -1 || minL > tol {
			tol = minL
			bestE = e
			l = ll
		}
	}
	if bestE == -1 {
		return false
	}

	n := m.GetElement(bestE)
	for i := 0; i < 6; i++ {
		mp[i] = l[0]*m.GetMetric(n[0])[i] +
			l[1]*m.GetMetric(n[1])[i] +
			l[2]*m.GetMetric(n[2])[i] +
			l[3]*m.GetMetric(n[3])[i]
	}
	return true
}
