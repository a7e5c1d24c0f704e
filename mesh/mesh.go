package mesh

import (
	"fmt"
	"math"
	"sort"

	"github.com/gr409/pragmatic/element"
	"github.com/gr409/pragmatic/types"
	"gonum.org/v1/gonum/mat"
)

/*
Mesh is the single source of truth for the adapted mesh: vertex coordinates,
the per-vertex metric tensor (packed upper triangle), the element-to-node
list, both adjacency structures, the edge set with cached metric lengths,
and the partition ownership/halo descriptors.

Vertex and element indices are stable; deletion leaves holes. A deleted
element has its first vertex set to -1, a deleted vertex has its adjacency
cleared and is flagged.
*/
type Mesh struct {
	NDims int
	NLoc  int // vertices per element
	SNLoc int // vertices per boundary facet
	MSize int // packed metric entries per vertex

	Coords []float64 // NNodes x NDims
	Metric []float64 // NNodes x MSize
	ENList []int     // NElements x NLoc, ENList[e*NLoc] < 0 marks a deleted element

	NNList [][]int        // node -> adjacent nodes
	NEList []map[int]bool // node -> incident elements
	Edges  *EdgeSet

	NodeOwner []int
	Send      [][]int // per peer rank, owned nodes the peer also knows
	Recv      [][]int // per peer rank, halo nodes owned by the peer
	SendHalo  map[int]bool
	RecvHalo  map[int]bool

	vertexDeleted []bool
	comm          Communicator
}

// NewMesh builds a single-rank mesh and its adjacency from an element list,
// flat coordinates and packed per-vertex metrics. It validates the input
// classes that are fatal: NaN coordinates, non-SPD metrics and non-oriented
// elements.
func NewMesh(ndims int, coords, metric []float64, enlist []int) (*Mesh, error) {
	return newMesh(ndims, coords, metric, enlist, nil, nil, nil, SerialComm{})
}

// NewDistributedMesh builds one rank of a partitioned mesh. owner maps every
// local node to its owning rank; send/recv are per-peer halo descriptors
// (send[p]: owned nodes rank p also knows, recv[p]: local halo nodes owned
// by p).
func NewDistributedMesh(ndims int, coords, metric []float64, enlist []int,
	owner []int, send, recv [][]int, comm Communicator) (*Mesh, error) {
	return newMesh(ndims, coords, metric, enlist, owner, send, recv, comm)
}

func newMesh(ndims int, coords, metric []float64, enlist []int,
	owner []int, send, recv [][]int, comm Communicator) (m *Mesh, err error) {
	if ndims != 2 && ndims != 3 {
		return nil, fmt.Errorf("unsupported dimension: %d", ndims)
	}
	m = &Mesh{
		NDims:    ndims,
		NLoc:     ndims + 1,
		SNLoc:    ndims,
		MSize:    ndims * (ndims + 1) / 2,
		Coords:   coords,
		Metric:   metric,
		ENList:   enlist,
		SendHalo: make(map[int]bool),
		RecvHalo: make(map[int]bool),
		comm:     comm,
	}
	NNodes := len(coords) / ndims
	if len(metric) != NNodes*m.MSize {
		return nil, fmt.Errorf("metric array has %d entries, want %d", len(metric), NNodes*m.MSize)
	}
	if len(enlist)%m.NLoc != 0 {
		return nil, fmt.Errorf("element list length %d is not a multiple of %d", len(enlist), m.NLoc)
	}
	m.vertexDeleted = make([]bool, NNodes)

	if owner == nil {
		owner = make([]int, NNodes)
	}
	m.NodeOwner = owner
	if send == nil {
		send = make([][]int, comm.Size())
	}
	if recv == nil {
		recv = make([][]int, comm.Size())
	}
	m.Send, m.Recv = send, recv
	for p := range send {
		for _, v := range send[p] {
			m.SendHalo[v] = true
		}
		for _, v := range recv[p] {
			m.RecvHalo[v] = true
		}
	}

	if err = m.validateInput(); err != nil {
		return nil, err
	}
	m.buildAdjacency()
	return m, nil
}

func (m *Mesh) validateInput() error {
	NNodes := m.NNodes()
	for v := 0; v < NNodes; v++ {
		for d := 0; d < m.NDims; d++ {
			if math.IsNaN(m.Coords[v*m.NDims+d]) {
				return fmt.Errorf("vertex %d has NaN coordinate", v)
			}
		}
		if !isSPD(m.NDims, m.GetMetric(v)) {
			return fmt.Errorf("vertex %d metric is not symmetric positive-definite", v)
		}
	}

	prop, err := m.ElementProperty()
	if err != nil {
		return err
	}
	if prop == nil {
		return nil // no live elements
	}
	for e := 0; e < m.NElements(); e++ {
		n := m.GetElement(e)
		if n[0] < 0 {
			continue
		}
		var vol float64
		if m.NDims == 2 {
			vol = prop.Area(m.GetCoords(n[0]), m.GetCoords(n[1]), m.GetCoords(n[2]))
		} else {
			vol = prop.Volume(m.GetCoords(n[0]), m.GetCoords(n[1]), m.GetCoords(n[2]), m.GetCoords(n[3]))
		}
		if !(vol > 0) {
			return fmt.Errorf("element %d is not positively oriented (volume %g)", e, vol)
		}
	}
	return nil
}

// isSPD tests the packed metric with a Cholesky factorisation.
func isSPD(ndims int, packed []float64) bool {
	var sym *mat.SymDense
	if ndims == 2 {
		sym = mat.NewSymDense(2, []float64{packed[0], packed[1], packed[1], packed[2]})
	} else {
		sym = mat.NewSymDense(3, []float64{
			packed[0], packed[1], packed[2],
			packed[1], packed[3], packed[4],
			packed[2], packed[4], packed[5],
		})
	}
	var chol mat.Cholesky
	return chol.Factorize(sym)
}

// ElementProperty builds the orientation-fixing geometric kernel from the
// first live element, or nil when the rank holds no elements.
func (m *Mesh) ElementProperty() (*element.Property, error) {
	for e := 0; e < m.NElements(); e++ {
		n := m.GetElement(e)
		if n[0] < 0 {
			continue
		}
		if m.NDims == 2 {
			return element.NewProperty2D(m.GetCoords(n[0]), m.GetCoords(n[1]), m.GetCoords(n[2])), nil
		}
		return element.NewProperty3D(m.GetCoords(n[0]), m.GetCoords(n[1]),
			m.GetCoords(n[2]), m.GetCoords(n[3])), nil
	}
	return nil, nil
}

func (m *Mesh) buildAdjacency() {
	var (
		NNodes    = m.NNodes()
		NElements = m.NElements()
	)
	m.NEList = make([]map[int]bool, NNodes)
	for v := 0; v < NNodes; v++ {
		m.NEList[v] = make(map[int]bool)
	}
	nnSets := make([]map[int]bool, NNodes)
	for v := 0; v < NNodes; v++ {
		nnSets[v] = make(map[int]bool)
	}
	m.Edges = NewEdgeSet()

	for e := 0; e < NElements; e++ {
		n := m.GetElement(e)
		if n[0] < 0 {
			continue
		}
		for i := 0; i < m.NLoc; i++ {
			m.NEList[n[i]][e] = true
			for j := i + 1; j < m.NLoc; j++ {
				nnSets[n[i]][n[j]] = true
				nnSets[n[j]][n[i]] = true
				k := types.NewEdgeKey(n[i], n[j])
				edge := m.Edges.Get(k)
				if edge == nil {
					edge = NewEdge(m.CalcEdgeLength(n[i], n[j]))
					m.Edges.Put(k, edge)
				}
				edge.AdjacentElements[e] = true
			}
		}
	}

	m.NNList = make([][]int, NNodes)
	for v := 0; v < NNodes; v++ {
		m.NNList[v] = setToSortedSlice(nnSets[v])
	}
}

func setToSortedSlice(s map[int]bool) (out []int) {
	out = make([]int, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Ints(out)
	return
}

func (m *Mesh) NNodes() int    { return len(m.vertexDeleted) }
func (m *Mesh) NElements() int { return len(m.ENList) / m.NLoc }

func (m *Mesh) CountLiveNodes() (n int) {
	for v := 0; v < m.NNodes(); v++ {
		if !m.vertexDeleted[v] {
			n++
		}
	}
	return
}

func (m *Mesh) CountLiveElements() (n int) {
	for e := 0; e < m.NElements(); e++ {
		if m.ENList[e*m.NLoc] >= 0 {
			n++
		}
	}
	return
}

// GetElement returns the element's vertex tuple as a subslice of ENList.
func (m *Mesh) GetElement(e int) []int {
	return m.ENList[e*m.NLoc : (e+1)*m.NLoc]
}

// GetCoords returns the vertex coordinates as a mutable subslice.
func (m *Mesh) GetCoords(v int) []float64 {
	return m.Coords[v*m.NDims : (v+1)*m.NDims]
}

// GetMetric returns the packed vertex metric as a mutable subslice.
func (m *Mesh) GetMetric(v int) []float64 {
	return m.Metric[v*m.MSize : (v+1)*m.MSize]
}

func (m *Mesh) IsDeletedVertex(v int) bool { return m.vertexDeleted[v] }

// CalcEdgeLength evaluates the metric length of (v,w) under the arithmetic
// mean of the endpoint metrics.
func (m *Mesh) CalcEdgeLength(v, w int) float64 {
	var (
		mv = m.GetMetric(v)
		mw = m.GetMetric(w)
		xv = m.GetCoords(v)
		xw = m.GetCoords(w)
	)
	if m.NDims == 2 {
		var (
			dx  = xv[0] - xw[0]
			dy  = xv[1] - xw[1]
			m00 = 0.5 * (mv[0] + mw[0])
			m01 = 0.5 * (mv[1] + mw[1])
			m11 = 0.5 * (mv[2] + mw[2])
		)
		return math.Sqrt(dx*(dx*m00+dy*m01) + dy*(dx*m01+dy*m11))
	}
	var (
		dx  = xv[0] - xw[0]
		dy  = xv[1] - xw[1]
		dz  = xv[2] - xw[2]
		m00 = 0.5 * (mv[0] + mw[0])
		m01 = 0.5 * (mv[1] + mw[1])
		m02 = 0.5 * (mv[2] + mw[2])
		m11 = 0.5 * (mv[3] + mw[3])
		m12 = 0.5 * (mv[4] + mw[4])
		m22 = 0.5 * (mv[5] + mw[5])
	)
	return math.Sqrt(dx*(dx*m00+dy*m01+dz*m02) +
		dy*(dx*m01+dy*m11+dz*m12) +
		dz*(dx*m02+dy*m12+dz*m22))
}

// AppendVertex adds a vertex received from a peer rank and returns its local
// index.
func (m *Mesh) AppendVertex(coords, metric []float64, owner int) (v int) {
	v = m.NNodes()
	m.Coords = append(m.Coords, coords...)
	m.Metric = append(m.Metric, metric...)
	m.NodeOwner = append(m.NodeOwner, owner)
	m.vertexDeleted = append(m.vertexDeleted, false)
	m.NNList = append(m.NNList, nil)
	m.NEList = append(m.NEList, make(map[int]bool))
	return
}

// AppendElement adds an element; the caller stitches NNList/NEList/Edges.
func (m *Mesh) AppendElement(n []int) (e int) {
	e = m.NElements()
	m.ENList = append(m.ENList, n...)
	return
}

// EraseElement marks the element deleted. Adjacency cleanup is the caller's
// responsibility, matching the contraction kernel's bookkeeping order.
func (m *Mesh) EraseElement(e int) {
	m.ENList[e*m.NLoc] = -1
}

// EraseVertex marks the vertex deleted and clears its adjacency.
func (m *Mesh) EraseVertex(v int) {
	m.vertexDeleted[v] = true
	m.NNList[v] = nil
	m.NEList[v] = make(map[int]bool)
}

// GetNodePatch returns the set of vertices adjacent to v.
func (m *Mesh) GetNodePatch(v int) (patch map[int]bool) {
	patch = make(map[int]bool, len(m.NNList[v]))
	for _, u := range m.NNList[v] {
		patch[u] = true
	}
	return
}

func (m *Mesh) Comm() Communicator   { return m.comm }
func (m *Mesh) Rank() int            { return m.comm.Rank() }
func (m *Mesh) NRanks() int          { return m.comm.Size() }
func (m *Mesh) IsOwnedNode(v int) bool { return m.NodeOwner[v] == m.comm.Rank() }
func (m *Mesh) IsHaloNode(v int) bool  { return m.SendHalo[v] || m.RecvHalo[v] }

/*
CreateGlobalNodeNumbering assigns a globally unique id to every local node.
Owned nodes are numbered contiguously by rank offset; halo node ids are
pulled from their owners over the send/recv descriptors. Returns the owned
node count, the local-to-global map and a copy of the ownership array.
*/
func (m *Mesh) CreateGlobalNodeNumbering() (npnodes int, lnn2gnn []int, owner []int) {
	var (
		NNodes = m.NNodes()
		rank   = m.comm.Rank()
		size   = m.comm.Size()
	)
	owner = append([]int{}, m.NodeOwner...)
	lnn2gnn = make([]int, NNodes)
	if size == 1 {
		for i := range lnn2gnn {
			lnn2gnn[i] = i
		}
		return NNodes, lnn2gnn, owner
	}

	for v := 0; v < NNodes; v++ {
		if m.IsOwnedNode(v) {
			npnodes++
		}
	}
	counts := make([]int, size)
	counts[rank] = npnodes
	counts = m.comm.AllreduceSumInts(counts)
	offset := 0
	for p := 0; p < rank; p++ {
		offset += counts[p]
	}
	next := offset
	for v := 0; v < NNodes; v++ {
		lnn2gnn[v] = -1
		if m.IsOwnedNode(v) {
			lnn2gnn[v] = next
			next++
		}
	}

	// Pull halo gnn's from the owners.
	send := make([][]int, size)
	for p := 0; p < size; p++ {
		for _, v := range m.Send[p] {
			send[p] = append(send[p], lnn2gnn[v])
		}
	}
	recv := m.comm.AllToAllInts(send)
	for p := 0; p < size; p++ {
		for i, v := range m.Recv[p] {
			lnn2gnn[v] = recv[p][i]
		}
	}
	return
}

// HaloUpdate refreshes coordinates and metrics of halo nodes from their
// owning ranks.
func (m *Mesh) HaloUpdate() {
	if m.comm.Size() == 1 {
		return
	}
	var (
		size  = m.comm.Size()
		width = m.NDims + m.MSize
	)
	send := make([][]float64, size)
	for p := 0; p < size; p++ {
		for _, v := range m.Send[p] {
			send[p] = append(send[p], m.GetCoords(v)...)
			send[p] = append(send[p], m.GetMetric(v)...)
		}
	}
	recv := m.comm.AllToAllFloats(send)
	for p := 0; p < size; p++ {
		for i, v := range m.Recv[p] {
			buf := recv[p][i*width : (i+1)*width]
			copy(m.GetCoords(v), buf[:m.NDims])
			copy(m.GetMetric(v), buf[m.NDims:])
		}
	}
}
