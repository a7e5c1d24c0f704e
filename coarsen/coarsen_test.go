package coarsen

import (
	"math"
	"sync"
	"testing"

	"github.com/gr409/pragmatic/mesh"
	"github.com/gr409/pragmatic/surface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, m *mesh.Mesh) (*Coarsen, *surface.Surface) {
	t.Helper()
	s := surface.New(m)
	c, err := New(m, s)
	require.NoError(t, err)
	return c, s
}

func TestCoarsenNoShortEdges(t *testing.T) {
	// Unit square under diag(4,4): every edge has metric length >= 2, well
	// above the collapse threshold, so the mesh must come back untouched.
	m := mesh.UnitSquareMesh(4)
	c, s := newEngine(t, m)
	c.Coarsen(0.4, 1.5)

	assert.Equal(t, 4, m.CountLiveNodes())
	assert.Equal(t, 2, m.CountLiveElements())
	assert.Equal(t, 4, s.CountLiveFacets())
	require.NoError(t, m.Verify())
}

func TestCoarsenInteriorVertex(t *testing.T) {
	// Cube fanned around its centre under diag(1/4): the centre-corner edges
	// measure sqrt(3)/4 in metric space. Coarsening removes the centre; the
	// cube corners are pinned and the boundary is untouched.
	m := mesh.UnitCubeCentreMesh(0.25)
	c, s := newEngine(t, m)
	c.Coarsen(0.6, 3.0)

	assert.Equal(t, 8, m.CountLiveNodes())
	assert.True(t, m.IsDeletedVertex(8))
	// Six of the twelve tetrahedra spanned the contracted edge.
	assert.Equal(t, 6, m.CountLiveElements())
	assert.Equal(t, 12, s.CountLiveFacets())
	require.NoError(t, m.Verify())

	// Idempotence: a second run with the same thresholds is a no-op.
	c2, _ := newEngine(t, m)
	c2.Coarsen(0.6, 3.0)
	assert.Equal(t, 8, m.CountLiveNodes())
	assert.Equal(t, 6, m.CountLiveElements())
	require.NoError(t, m.Verify())
}

func TestCoarsenThresholdIsStrict(t *testing.T) {
	// The centre-corner edges of the centred square measure exactly
	// sqrt(0.5); an edge exactly at LLow must not collapse, one epsilon
	// below must.
	{
		m := mesh.UnitSquareCentreMesh(1)
		c, _ := newEngine(t, m)
		c.Coarsen(math.Sqrt(0.5), 3.0)
		assert.Equal(t, 5, m.CountLiveNodes())
		assert.Equal(t, 4, m.CountLiveElements())
		require.NoError(t, m.Verify())
	}
	{
		m := mesh.UnitSquareCentreMesh(1)
		c, _ := newEngine(t, m)
		c.Coarsen(math.Sqrt(0.5)+1e-9, 3.0)
		assert.Equal(t, 4, m.CountLiveNodes())
		assert.Equal(t, 2, m.CountLiveElements())
		require.NoError(t, m.Verify())
	}
}

// notchedFanMesh is a non-convex pentagon fanned around interior vertex 5;
// vertices 0, 3 and 2 are collinear, so contracting 5 onto 0 would flatten
// the triangle (2,3,5).
func notchedFanMesh() *mesh.Mesh {
	coords := []float64{
		0, 0,
		1, 0,
		1, 1,
		0.2, 0.2,
		0, 1,
		0.15, 0.1,
	}
	enlist := []int{
		0, 1, 5,
		1, 2, 5,
		2, 3, 5,
		3, 4, 5,
		4, 0, 5,
	}
	m, err := mesh.NewMesh(2, coords, mesh.UniformMetric2D(6, 1), enlist)
	if err != nil {
		panic(err)
	}
	return m
}

func TestIdentifyRejectsInversion(t *testing.T) {
	{ // Both short candidates fail: 3 stretches an edge past LMax, 0 would
		// flatten an element.
		m := notchedFanMesh()
		c, _ := newEngine(t, m)
		c.lLow, c.lMax = 0.2, 1.0
		assert.Equal(t, RejectedQuality, c.identifyKernel(5))
	}
	{ // With a looser LMax the shortest candidate is admissible.
		m := notchedFanMesh()
		c, _ := newEngine(t, m)
		c.lLow, c.lMax = 0.2, 1.5
		assert.Equal(t, 3, c.identifyKernel(5))
	}
	{ // Corners are rejected outright.
		m := notchedFanMesh()
		c, _ := newEngine(t, m)
		c.lLow, c.lMax = 0.2, 1.5
		assert.Equal(t, RejectedCorner, c.identifyKernel(3))
	}
}

func TestCoarsenKernelTopology(t *testing.T) {
	// Contract the centre of the centred square onto corner 0 and check
	// every adjacency by hand.
	m := mesh.UnitSquareCentreMesh(1)
	c, _ := newEngine(t, m)
	c.lLow, c.lMax = 0.8, 3.0
	target := c.identifyKernel(4)
	require.Equal(t, 0, target)
	c.coarsenKernel(4, target)

	assert.True(t, m.IsDeletedVertex(4))
	assert.Equal(t, 2, m.CountLiveElements())
	require.NoError(t, m.Verify())
	assert.Equal(t, []int{1, 2, 3}, m.NNList[0])
	assert.Equal(t, []int{0, 2}, m.NNList[1])
	assert.Equal(t, 2, len(m.NEList[0]))
}

/*
TestCoarsenDistributedNegotiation contracts an edge whose removed vertex
lies in the send-halo, so the decision must be communicated: the peer
receives the contraction pair, the vertex it has never seen (with
coordinates and metric), the supporting element and facet, extends its halo
and replays the collapse.

The global mesh is a 3x1 strip of squares split into triangles; rank 0 owns
the left vertices, rank 1 the right:

	g4 --- g5 --- g6 --- g7        owner:  0 0 1 1   (top row g4..g7)
	|   /  |   /  |   /  |                 0 0 1 1   (bottom row g0..g3)
	g0 --- g1 --- g2 --- g3

The metric is diag(0.04, 1) on g0, g1 and g5 and the identity elsewhere, so
the bottom edge g0-g1 measures 0.2 and is the only admissible contraction
anywhere: vertical edges measure 1, the top edge g4-g5 measures sqrt(0.52),
and no other edge is shorter than sqrt(0.52). Rank 1
knows g1 but not g0: the collapse g1->g0 reaches it only through
negotiation.
*/
func TestCoarsenDistributedNegotiation(t *testing.T) {
	var (
		comms = mesh.NewChannelComms(2)
		ms    = make([]*mesh.Mesh, 2)
		ss    = make([]*surface.Surface, 2)
		wg    = sync.WaitGroup{}

		mLeft  = []float64{0.04, 0, 1}
		mRight = []float64{1, 0, 1}
	)
	{ // Rank 0 holds g0,g1,g2,g4,g5,g6 as locals 0..5.
		coords := []float64{0, 0, 1, 0, 2, 0, 0, 1, 1, 1, 2, 1}
		var metric []float64
		for _, pm := range [][]float64{mLeft, mLeft, mRight, mRight, mLeft, mRight} {
			metric = append(metric, pm...)
		}
		enlist := []int{
			0, 1, 4,
			0, 4, 3,
			1, 2, 5,
			1, 5, 4,
		}
		owner := []int{0, 0, 1, 0, 0, 1}
		send := make([][]int, 2)
		recv := make([][]int, 2)
		send[1] = []int{1, 4}
		recv[1] = []int{2, 5}
		m, err := mesh.NewDistributedMesh(2, coords, metric, enlist, owner, send, recv, comms[0])
		require.NoError(t, err)
		ms[0] = m
	}
	{ // Rank 1 holds g1,g2,g3,g5,g6,g7 as locals 0..5.
		coords := []float64{1, 0, 2, 0, 3, 0, 1, 1, 2, 1, 3, 1}
		var metric []float64
		for _, pm := range [][]float64{mLeft, mRight, mRight, mLeft, mRight, mRight} {
			metric = append(metric, pm...)
		}
		enlist := []int{
			0, 1, 4,
			0, 4, 3,
			1, 2, 5,
			1, 5, 4,
		}
		owner := []int{0, 1, 1, 0, 1, 1}
		send := make([][]int, 2)
		recv := make([][]int, 2)
		send[0] = []int{1, 4}
		recv[0] = []int{0, 3}
		m, err := mesh.NewDistributedMesh(2, coords, metric, enlist, owner, send, recv, comms[1])
		require.NoError(t, err)
		ms[1] = m
	}

	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			ss[r] = surface.New(ms[r])
			c, err := New(ms[r], ss[r])
			if err != nil {
				panic(err)
			}
			c.Coarsen(0.3, 3.0)
		}(r)
	}
	wg.Wait()

	{ // Rank 0 collapsed g1 (local 1) onto g0 (local 0).
		m := ms[0]
		assert.True(t, m.IsDeletedVertex(1))
		assert.Equal(t, 5, m.CountLiveNodes())
		assert.Equal(t, 3, m.CountLiveElements())
		assert.Equal(t, 5, ss[0].CountLiveFacets())
		require.NoError(t, m.Verify())

		// The peer now also holds g0, so it joined the send descriptors.
		assert.True(t, m.SendHalo[0])
		assert.Contains(t, m.Send[1], 0)
	}
	{ // Rank 1 received g0 as a new halo vertex and replayed the collapse.
		m := ms[1]
		require.Equal(t, 7, m.NNodes())
		assert.True(t, m.IsDeletedVertex(0))
		assert.Equal(t, 6, m.CountLiveNodes())
		assert.Equal(t, 4, m.CountLiveElements())
		require.NoError(t, m.Verify())

		// The appended vertex carries g0's coordinates, metric and owner.
		assert.Equal(t, []float64{0, 0}, m.GetCoords(6))
		assert.Equal(t, mLeft, m.GetMetric(6))
		assert.Equal(t, 0, m.NodeOwner[6])
		assert.True(t, m.RecvHalo[6])
		assert.Contains(t, m.Recv[0], 6)

		// The two surviving elements of g1 were rewritten onto the appended
		// vertex; the bottom facet followed and g1 left the boundary.
		assert.Equal(t, 2, len(m.NEList[6]))
		assert.False(t, ss[1].ContainsNode(0))
		assert.True(t, ss[1].ContainsNode(6))
		assert.NotEmpty(t, ss[1].FindFacets([]int{6, 1}))
	}
}

func TestCoarsenDistributedNoCandidates(t *testing.T) {
	// Two ranks holding the replicated unit square with nothing below the
	// collapse threshold: the loop must terminate with the mesh unchanged
	// on both ranks.
	var (
		comms = mesh.NewChannelComms(2)
		ms    = make([]*mesh.Mesh, 2)
		wg    = sync.WaitGroup{}
	)
	for r := 0; r < 2; r++ {
		coords := []float64{0, 0, 1, 0, 1, 1, 0, 1}
		enlist := []int{0, 1, 2, 0, 2, 3}
		owner := []int{0, 0, 1, 1}
		send := make([][]int, 2)
		recv := make([][]int, 2)
		if r == 0 {
			send[1] = []int{0, 1}
			recv[1] = []int{2, 3}
		} else {
			send[0] = []int{2, 3}
			recv[0] = []int{0, 1}
		}
		m, err := mesh.NewDistributedMesh(2, coords, mesh.UniformMetric2D(4, 4), enlist,
			owner, send, recv, comms[r])
		require.NoError(t, err)
		ms[r] = m
	}
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			s := surface.New(ms[r])
			c, err := New(ms[r], s)
			if err != nil {
				panic(err)
			}
			c.Coarsen(0.4, 1.5)
		}(r)
	}
	wg.Wait()
	for r := 0; r < 2; r++ {
		assert.Equal(t, 4, ms[r].CountLiveNodes())
		assert.Equal(t, 2, ms[r].CountLiveElements())
		assert.NoError(t, ms[r].Verify())
	}
}
