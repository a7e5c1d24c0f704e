package mesh

// Small analytic meshes shared by the package tests across the engine.
// Every fixture is built with a uniform isotropic metric diag(d,...,d).

func UniformMetric2D(nnodes int, d float64) (metric []float64) {
	metric = make([]float64, 0, nnodes*3)
	for i := 0; i < nnodes; i++ {
		metric = append(metric, d, 0, d)
	}
	return
}

func UniformMetric3D(nnodes int, d float64) (metric []float64) {
	metric = make([]float64, 0, nnodes*6)
	for i := 0; i < nnodes; i++ {
		metric = append(metric, d, 0, 0, d, 0, d)
	}
	return
}

// UnitSquareMesh is the unit square split into two CCW triangles.
func UnitSquareMesh(d float64) *Mesh {
	coords := []float64{
		0, 0,
		1, 0,
		1, 1,
		0, 1,
	}
	enlist := []int{
		0, 1, 2,
		0, 2, 3,
	}
	m, err := NewMesh(2, coords, UniformMetric2D(4, d), enlist)
	if err != nil {
		panic(err)
	}
	return m
}

// UnitSquareCentreMesh is the unit square with a centre vertex (index 4)
// fanned into four triangles. The centre is the only interior vertex.
func UnitSquareCentreMesh(d float64) *Mesh {
	coords := []float64{
		0, 0,
		1, 0,
		1, 1,
		0, 1,
		0.5, 0.5,
	}
	enlist := []int{
		0, 1, 4,
		1, 2, 4,
		2, 3, 4,
		3, 0, 4,
	}
	m, err := NewMesh(2, coords, UniformMetric2D(5, d), enlist)
	if err != nil {
		panic(err)
	}
	return m
}

// cubeCorner returns corner i of the unit cube under bit coding (x,y,z).
func cubeCorner(i int) []float64 {
	return []float64{float64(i & 1), float64((i >> 1) & 1), float64((i >> 2) & 1)}
}

// UnitCubeKuhnMesh is the unit cube split into six tetrahedra around the
// main diagonal 0-7. Every vertex is a geometric corner.
func UnitCubeKuhnMesh(d float64) *Mesh {
	var coords []float64
	for i := 0; i < 8; i++ {
		coords = append(coords, cubeCorner(i)...)
	}
	enlist := []int{
		0, 3, 1, 7,
		0, 1, 5, 7,
		0, 2, 3, 7,
		0, 6, 2, 7,
		0, 5, 4, 7,
		0, 4, 6, 7,
	}
	m, err := NewMesh(3, coords, UniformMetric3D(8, d), enlist)
	if err != nil {
		panic(err)
	}
	return m
}

// cubeFaceTriangles lists the twelve boundary triangles of the unit cube,
// each wound so its normal points out of the cube.
// The faces meeting corner 0 are diagonalised through 0, so the corner sees
// no coplanar facet it does not belong to.
var cubeFaceTriangles = [][3]int{
	{0, 3, 1}, {0, 2, 3}, // z = 0
	{4, 5, 6}, {5, 7, 6}, // z = 1
	{0, 1, 5}, {0, 5, 4}, // y = 0
	{2, 6, 3}, {3, 6, 7}, // y = 1
	{0, 4, 6}, {0, 6, 2}, // x = 0
	{1, 3, 5}, {3, 7, 5}, // x = 1
}

// UnitCubeCentreMesh is the unit cube with a centre vertex (index 8) joined
// to each of the twelve boundary triangles, giving twelve tetrahedra. The
// centre is the only interior vertex.
func UnitCubeCentreMesh(d float64) *Mesh {
	var coords []float64
	for i := 0; i < 8; i++ {
		coords = append(coords, cubeCorner(i)...)
	}
	coords = append(coords, 0.5, 0.5, 0.5)
	var enlist []int
	for _, f := range cubeFaceTriangles {
		enlist = append(enlist, f[0], f[1], f[2], 8)
	}
	m, err := NewMesh(3, coords, UniformMetric3D(9, d), enlist)
	if err != nil {
		panic(err)
	}
	return m
}

// StackedCubesMesh is two unit cubes stacked in z, each fanned around its
// own centre vertex (indices 12 and 13). The four corners of the shared
// plane z=1 sit on the line between two boundary patches.
func StackedCubesMesh(d float64) *Mesh {
	var coords []float64
	for i := 0; i < 8; i++ {
		coords = append(coords, cubeCorner(i)...)
	}
	for i := 4; i < 8; i++ { // z = 2 corners above 4..7
		c := cubeCorner(i)
		coords = append(coords, c[0], c[1], 2)
	}
	coords = append(coords, 0.5, 0.5, 0.5)
	coords = append(coords, 0.5, 0.5, 1.5)

	var enlist []int
	for _, f := range cubeFaceTriangles {
		enlist = append(enlist, f[0], f[1], f[2], 12)
	}
	// The top cube's bottom face must take the diagonal the lower cube's top
	// face already has, so the interface is conforming.
	topFaceTriangles := [][3]int{
		{0, 2, 1}, {1, 2, 3}, // z = 1, interface
		{4, 5, 6}, {5, 7, 6}, // z = 2
		{0, 1, 5}, {0, 5, 4}, // y = 0
		{2, 6, 3}, {3, 6, 7}, // y = 1
		{0, 4, 6}, {0, 6, 2}, // x = 0
		{1, 3, 5}, {3, 7, 5}, // x = 1
	}
	top := [8]int{4, 5, 6, 7, 8, 9, 10, 11}
	for _, f := range topFaceTriangles {
		enlist = append(enlist, top[f[0]], top[f[1]], top[f[2]], 13)
	}
	m, err := NewMesh(3, coords, UniformMetric3D(14, d), enlist)
	if err != nil {
		panic(err)
	}
	return m
}

// LShapedMesh is an L-shaped 2D domain with a re-entrant corner at vertex 3.
func LShapedMesh(d float64) *Mesh {
	coords := []float64{
		0, 0,
		1, 0,
		1, 0.5,
		0.5, 0.5,
		0.5, 1,
		0, 1,
	}
	enlist := []int{
		0, 1, 2,
		0, 2, 3,
		0, 3, 5,
		3, 4, 5,
	}
	m, err := NewMesh(2, coords, UniformMetric2D(6, d), enlist)
	if err != nil {
		panic(err)
	}
	return m
}
