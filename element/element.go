package element

import (
	"math"
)

/*
Property evaluates geometric kernels on a single simplex: signed area/volume,
the Lipnikov shape quality in metric space, and the quality gradient used by
the Linf optimiser.

The constructor takes one reference element from the mesh and fixes the
orientation sign so that every consistently oriented element of that mesh
evaluates to a positive area/volume.
*/
type Property struct {
	NDims       int
	orientation float64
}

// NewProperty2D fixes the orientation sign from a reference triangle.
func NewProperty2D(x0, x1, x2 []float64) (p *Property) {
	p = &Property{NDims: 2, orientation: 1}
	if p.Area(x0, x1, x2) < 0 {
		p.orientation = -1
	}
	return
}

// NewProperty3D fixes the orientation sign from a reference tetrahedron.
func NewProperty3D(x0, x1, x2, x3 []float64) (p *Property) {
	p = &Property{NDims: 3, orientation: 1}
	if p.Volume(x0, x1, x2, x3) < 0 {
		p.orientation = -1
	}
	return
}

// Area is the signed area of triangle (x0,x1,x2), positive when the winding
// matches the reference element.
func (p *Property) Area(x0, x1, x2 []float64) float64 {
	return p.orientation * 0.5 *
		((x1[0]-x0[0])*(x2[1]-x0[1]) - (x2[0]-x0[0])*(x1[1]-x0[1]))
}

// Volume is the signed volume of tetrahedron (x0,x1,x2,x3), positive when
// the vertex ordering matches the reference element.
func (p *Property) Volume(x0, x1, x2, x3 []float64) float64 {
	var (
		a = [3]float64{x0[0] - x3[0], x0[1] - x3[1], x0[2] - x3[2]}
		u = [3]float64{x1[0] - x3[0], x1[1] - x3[1], x1[2] - x3[2]}
		v = [3]float64{x2[0] - x3[0], x2[1] - x3[1], x2[2] - x3[2]}
	)
	return p.orientation / 6.0 *
		(a[0]*(u[1]*v[2]-u[2]*v[1]) +
			a[1]*(u[2]*v[0]-u[0]*v[2]) +
			a[2]*(u[0]*v[1]-u[1]*v[0]))
}

// edgeLength2D is the length of the vector (x0-x1) in the packed 2D metric
// [m00 m01 m11].
func edgeLength2D(x0, x1, m []float64) float64 {
	var (
		dx = x0[0] - x1[0]
		dy = x0[1] - x1[1]
	)
	return math.Sqrt(dx*(dx*m[0]+dy*m[1]) + dy*(dx*m[1]+dy*m[2]))
}

// edgeLength3D is the length of the vector (x0-x1) in the packed 3D metric
// [m00 m01 m02 m11 m12 m22].
func edgeLength3D(x0, x1, m []float64) float64 {
	var (
		dx = x0[0] - x1[0]
		dy = x0[1] - x1[1]
		dz = x0[2] - x1[2]
	)
	return math.Sqrt(dx*(dx*m[0]+dy*m[1]+dz*m[2]) +
		dy*(dx*m[1]+dy*m[3]+dz*m[4]) +
		dz*(dx*m[2]+dy*m[4]+dz*m[5]))
}

func det2(m []float64) float64 { return m[0]*m[2] - m[1]*m[1] }

func det3(m []float64) float64 {
	return m[0]*(m[3]*m[5]-m[4]*m[4]) -
		m[1]*(m[1]*m[5]-m[4]*m[2]) +
		m[2]*(m[1]*m[4]-m[3]*m[2])
}

/*
Lipnikov2D evaluates the Lipnikov shape quality of a triangle in metric
space. The result lies in (0, 1] with 1 for the regular triangle whose
edges have unit length under the averaged metric; the size factor F lowers
the score of regular triangles of any other size. Degenerate input yields
NaN; callers must test.
*/
func (p *Property) Lipnikov2D(x0, x1, x2, m0, m1, m2 []float64) float64 {
	// Metric tensor averaged over the element.
	m := []float64{
		(m0[0] + m1[0] + m2[0]) / 3.0,
		(m0[1] + m1[1] + m2[1]) / 3.0,
		(m0[2] + m1[2] + m2[2]) / 3.0,
	}

	// l is the sum of the edge lengths in metric space.
	l := edgeLength2D(x0, x1, m) + edgeLength2D(x1, x2, m) + edgeLength2D(x2, x0, m)

	// Area in metric space.
	aM := p.Area(x0, x1, x2) * math.Sqrt(det2(m))

	f := math.Min(l/3.0, 3.0/l)
	F := math.Pow(f*(2.0-f), 3.0)
	return 12.0 * math.Sqrt(3.0) * aM * F / (l * l)
}

/*
Lipnikov3D evaluates the Lipnikov shape quality of a tetrahedron in metric
space, in (0, 1] with 1 for the regular tetrahedron whose edges have unit
length under the averaged metric; the size factor F lowers the score of
regular tetrahedra of any other size. Degenerate input yields NaN; callers
must test.
*/
func (p *Property) Lipnikov3D(x0, x1, x2, x3, m0, m1, m2, m3 []float64) float64 {
	// Metric tensor averaged over the element.
	m := make([]float64, 6)
	for i := 0; i < 6; i++ {
		m[i] = (m0[i] + m1[i] + m2[i] + m3[i]) / 4.0
	}

	// l is the sum of the six edge lengths in metric space.
	l := edgeLength3D(x0, x1, m) + edgeLength3D(x0, x2, m) + edgeLength3D(x0, x3, m) +
		edgeLength3D(x1, x2, m) + edgeLength3D(x1, x3, m) + edgeLength3D(x2, x3, m)

	// Volume in metric space.
	vM := p.Volume(x0, x1, x2, x3) * math.Sqrt(det3(m))

	f := math.Min(l/6.0, 6.0/l)
	F := math.Pow(f*(2.0-f), 3.0)
	return 1296.0 * math.Sqrt(2.0) * vM * F / (l * l * l)
}

/*
LipnikovGrad3D is the gradient of Lipnikov3D with respect to the coordinates
of x0, holding the other vertices fixed and freezing the metric at m0, the
metric of the moving vertex. The caller must order (x1,x2,x3) so that the
tuple (x0,x1,x2,x3) has the reference orientation.
*/
func (p *Property) LipnikovGrad3D(x0, x1, x2, x3, m0 []float64, grad []float64) {
	var (
		l = edgeLength3D(x0, x1, m0) + edgeLength3D(x0, x2, m0) + edgeLength3D(x0, x3, m0) +
			edgeLength3D(x1, x2, m0) + edgeLength3D(x1, x3, m0) + edgeLength3D(x2, x3, m0)
		vol  = p.Volume(x0, x1, x2, x3)
		sdet = math.Sqrt(det3(m0))
	)

	// dV/dx0 = orientation/6 * (x1-x3) x (x2-x3)
	var (
		u     = [3]float64{x1[0] - x3[0], x1[1] - x3[1], x1[2] - x3[2]}
		v     = [3]float64{x2[0] - x3[0], x2[1] - x3[1], x2[2] - x3[2]}
		gradV = [3]float64{
			p.orientation / 6.0 * (u[1]*v[2] - u[2]*v[1]),
			p.orientation / 6.0 * (u[2]*v[0] - u[0]*v[2]),
			p.orientation / 6.0 * (u[0]*v[1] - u[1]*v[0]),
		}
	)

	// dl/dx0 = sum over edges at x0 of M (x0 - xj) / |x0 - xj|_M
	var gradL [3]float64
	for _, xj := range [][]float64{x1, x2, x3} {
		var (
			dx = x0[0] - xj[0]
			dy = x0[1] - xj[1]
			dz = x0[2] - xj[2]
			le = edgeLength3D(x0, xj, m0)
		)
		gradL[0] += (dx*m0[0] + dy*m0[1] + dz*m0[2]) / le
		gradL[1] += (dx*m0[1] + dy*m0[3] + dz*m0[4]) / le
		gradL[2] += (dx*m0[2] + dy*m0[4] + dz*m0[5]) / le
	}

	var (
		f, df float64
	)
	if l < 6.0 {
		f, df = l/6.0, 1.0/6.0
	} else {
		f, df = 6.0/l, -6.0/(l*l)
	}
	var (
		F  = math.Pow(f*(2.0-f), 3.0)
		dF = 3.0 * math.Pow(f*(2.0-f), 2.0) * (2.0 - 2.0*f) * df
		c  = 1296.0 * math.Sqrt(2.0) * sdet
		l3 = l * l * l
	)
	for i := 0; i < 3; i++ {
		grad[i] = c * (gradV[i]*F/l3 + vol*(dF-3.0*F/l)/l3*gradL[i])
	}
}
