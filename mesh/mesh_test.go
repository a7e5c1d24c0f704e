package mesh

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gr409/pragmatic/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeshConstruction(t *testing.T) {
	{ // Unit square: adjacency, edges, invariants
		m := UnitSquareMesh(1)
		assert.Equal(t, 4, m.CountLiveNodes())
		assert.Equal(t, 2, m.CountLiveElements())
		assert.Equal(t, 5, m.Edges.Len())
		require.NoError(t, m.Verify())

		// The diagonal 0-2 is shared by both triangles
		diag := m.Edges.Get(types.NewEdgeKey(0, 2))
		require.NotNil(t, diag)
		assert.Equal(t, 2, len(diag.AdjacentElements))
		assert.InDelta(t, math.Sqrt2, diag.Length, 1e-12)

		side := m.Edges.Get(types.NewEdgeKey(0, 1))
		require.NotNil(t, side)
		assert.Equal(t, 1, len(side.AdjacentElements))
		assert.InDelta(t, 1.0, side.Length, 1e-12)

		assert.Equal(t, []int{1, 2, 3}, m.NNList[0])
		assert.Equal(t, []int{0, 2}, m.NNList[1])
	}
	{ // Metric scales edge lengths: diag(4,4) doubles them
		m := UnitSquareMesh(4)
		assert.InDelta(t, 2.0, m.CalcEdgeLength(0, 1), 1e-12)
		assert.InDelta(t, 2*math.Sqrt2, m.CalcEdgeLength(0, 2), 1e-12)
	}
	{ // Kuhn cube: 6 tets around the diagonal
		m := UnitCubeKuhnMesh(1)
		require.NoError(t, m.Verify())
		assert.Equal(t, 8, m.CountLiveNodes())
		assert.Equal(t, 6, m.CountLiveElements())
		diag := m.Edges.Get(types.NewEdgeKey(0, 7))
		require.NotNil(t, diag)
		assert.Equal(t, 6, len(diag.AdjacentElements))
		assert.InDelta(t, math.Sqrt(3), diag.Length, 1e-12)
	}
	{ // Centre cube: 12 tets, interior vertex adjacency
		m := UnitCubeCentreMesh(1)
		require.NoError(t, m.Verify())
		assert.Equal(t, 9, m.CountLiveNodes())
		assert.Equal(t, 12, m.CountLiveElements())
		assert.Equal(t, 12, len(m.NEList[8]))
		assert.Equal(t, 8, len(m.NNList[8]))
	}
}

func TestMeshInputValidation(t *testing.T) {
	{ // NaN coordinate is fatal
		coords := []float64{0, 0, 1, 0, math.NaN(), 1}
		metric := UniformMetric2D(3, 1)
		_, err := NewMesh(2, coords, metric, []int{0, 1, 2})
		assert.Error(t, err)
	}
	{ // Non-SPD metric is fatal
		coords := []float64{0, 0, 1, 0, 0, 1}
		metric := UniformMetric2D(3, 1)
		metric[0] = -1
		_, err := NewMesh(2, coords, metric, []int{0, 1, 2})
		assert.Error(t, err)
	}
	{ // Inconsistent orientation is fatal
		coords := []float64{0, 0, 1, 0, 1, 1, 0, 1}
		metric := UniformMetric2D(4, 1)
		_, err := NewMesh(2, coords, metric, []int{0, 1, 2, 0, 3, 2})
		assert.Error(t, err)
	}
}

func TestMeshMutators(t *testing.T) {
	m := UnitSquareMesh(1)
	v := m.AppendVertex([]float64{2, 0}, []float64{1, 0, 1}, 0)
	assert.Equal(t, 4, v)
	assert.Equal(t, 5, m.NNodes())
	assert.False(t, m.IsDeletedVertex(v))

	e := m.AppendElement([]int{1, v, 2})
	assert.Equal(t, 2, e)
	// Caller stitches adjacency after an append
	for _, n := range []int{1, v, 2} {
		m.NEList[n][e] = true
	}

	m.EraseElement(e)
	assert.Equal(t, 2, m.CountLiveElements())

	m.EraseVertex(v)
	assert.True(t, m.IsDeletedVertex(v))
	assert.Equal(t, 4, m.CountLiveNodes())
	assert.Empty(t, m.NNList[v])
}

func TestGlobalNodeNumberingSerial(t *testing.T) {
	m := UnitSquareMesh(1)
	npnodes, lnn2gnn, owner := m.CreateGlobalNodeNumbering()
	assert.Equal(t, 4, npnodes)
	assert.Equal(t, []int{0, 1, 2, 3}, lnn2gnn)
	assert.Equal(t, []int{0, 0, 0, 0}, owner)
}

// distributedSquares builds the unit square replicated on two ranks, with
// the bottom vertices owned by rank 0 and the top vertices by rank 1.
func distributedSquares(comms []*ChannelComm, d float64) (ms []*Mesh) {
	ms = make([]*Mesh, 2)
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
		m, err := NewDistributedMesh(2, coords, UniformMetric2D(4, d), enlist,
			owner, send, recv, comms[r])
		if err != nil {
			panic(err)
		}
		ms[r] = m
	}
	return
}

func TestGlobalNodeNumberingDistributed(t *testing.T) {
	var (
		comms = NewChannelComms(2)
		ms    = distributedSquares(comms, 1)
		wg    = sync.WaitGroup{}
		gnns  = make([][]int, 2)
		owns  = make([][]int, 2)
		nps   = make([]int, 2)
	)
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			nps[r], gnns[r], owns[r] = ms[r].CreateGlobalNodeNumbering()
		}(r)
	}
	wg.Wait()
	assert.Equal(t, 2, nps[0])
	assert.Equal(t, 2, nps[1])
	// Both ranks agree on every shared vertex's global id.
	assert.Equal(t, gnns[0], gnns[1])
	assert.Equal(t, []int{0, 0, 1, 1}, owns[0])
	for v := 0; v < 4; v++ {
		assert.GreaterOrEqual(t, gnns[0][v], 0)
	}
	// Halo refresh moves owner data to the peer.
	ms[0].Coords[0] = 0.25
	wg.Add(2)
	for r := 0; r < 2; r++ {
		go func(r int) {
			defer wg.Done()
			ms[r].HaloUpdate()
		}(r)
	}
	wg.Wait()
	assert.Equal(t, 0.25, ms[1].Coords[0])
}

func TestChannelComm(t *testing.T) {
	var (
		np    = 3
		comms = NewChannelComms(np)
		wg    = sync.WaitGroup{}
		recvd = make([][][]int, np)
		maxes = make([]int, np)
		sums  = make([][]int, np)
	)
	for n := 0; n < np; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			send := make([][]int, np)
			for p := 0; p < np; p++ {
				send[p] = []int{n*10 + p}
			}
			recvd[n] = comms[n].AllToAllInts(send)
			maxes[n] = comms[n].AllreduceMaxInt(n)
			sums[n] = comms[n].AllreduceSumInts([]int{1, n})
		}(n)
	}
	wg.Wait()
	for n := 0; n < np; n++ {
		for p := 0; p < np; p++ {
			assert.Equal(t, []int{p*10 + n}, recvd[n][p])
		}
		assert.Equal(t, np-1, maxes[n])
		assert.Equal(t, []int{np, np * (np - 1) / 2}, sums[n])
	}
}

func TestReadWriteMesh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "square.mesh")
	src := `% unit square, metric diag(4,4)
NDIME= 2
NPOIN= 4
0 0  4 0 4
1 0  4 0 4
1 1  4 0 4
0 1  4 0 4
NELEM= 2
0 1 2
0 2 3
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))
	m, err := ReadMesh(path)
	require.NoError(t, err)
	assert.Equal(t, 2, m.NDims)
	assert.Equal(t, 4, m.CountLiveNodes())
	assert.Equal(t, 2, m.CountLiveElements())
	assert.InDelta(t, 2.0, m.CalcEdgeLength(0, 1), 1e-12)
	require.NoError(t, m.Verify())

	out := filepath.Join(dir, "out.mesh")
	require.NoError(t, WriteMesh(m, out))
	m2, err := ReadMesh(out)
	require.NoError(t, err)
	assert.Equal(t, m.CountLiveNodes(), m2.CountLiveNodes())
	assert.Equal(t, m.CountLiveElements(), m2.CountLiveElements())
	require.NoError(t, m2.Verify())
}
