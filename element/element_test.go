package element

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignedAreaVolume(t *testing.T) {
	var (
		a = []float64{0, 0}
		b = []float64{1, 0}
		c = []float64{0, 1}
	)
	{ // Reference winding fixes the sign
		p := NewProperty2D(a, b, c)
		assert.InDelta(t, 0.5, p.Area(a, b, c), 1e-14)
		assert.InDelta(t, -0.5, p.Area(a, c, b), 1e-14)

		// A clockwise reference flips the orientation
		pcw := NewProperty2D(a, c, b)
		assert.InDelta(t, 0.5, pcw.Area(a, c, b), 1e-14)
		assert.InDelta(t, -0.5, pcw.Area(a, b, c), 1e-14)
	}
	{
		var (
			x0 = []float64{0, 0, 0}
			x1 = []float64{0, 1, 0}
			x2 = []float64{1, 0, 0}
			x3 = []float64{0.5, 0.5, 0.5}
		)
		p := NewProperty3D(x0, x1, x2, x3)
		assert.True(t, p.Volume(x0, x1, x2, x3) > 0)
		assert.True(t, p.Volume(x1, x0, x2, x3) < 0)
		// Swapping two vertices in the reference flips orientation
		pflip := NewProperty3D(x1, x0, x2, x3)
		assert.True(t, pflip.Volume(x1, x0, x2, x3) > 0)
	}
}

func TestLipnikovQuality(t *testing.T) {
	{ // Equilateral triangle under the identity metric scores 1
		var (
			x0 = []float64{0, 0}
			x1 = []float64{1, 0}
			x2 = []float64{0.5, math.Sqrt(3) / 2}
			id = []float64{1, 0, 1}
			p  = NewProperty2D(x0, x1, x2)
		)
		q := p.Lipnikov2D(x0, x1, x2, id, id, id)
		assert.InDelta(t, 1.0, q, 1e-12)

		// Quality is invariant to uniform metric scaling of a scaled element:
		// shrinking the triangle by 2 and scaling the metric by 4 restores unit
		// edge lengths in metric space.
		var (
			y0 = []float64{0, 0}
			y1 = []float64{0.5, 0}
			y2 = []float64{0.25, math.Sqrt(3) / 4}
			m4 = []float64{4, 0, 4}
		)
		assert.InDelta(t, 1.0, p.Lipnikov2D(y0, y1, y2, m4, m4, m4), 1e-12)

		// A squashed triangle scores well below 1
		var (
			z2 = []float64{0.5, 0.05}
		)
		assert.Less(t, p.Lipnikov2D(x0, x1, z2, id, id, id), 0.3)

		// Degenerate input yields NaN
		var (
			z1 = []float64{0, 0}
		)
		assert.True(t, math.IsNaN(p.Lipnikov2D(x0, z1, x0, id, id, id)))
	}
	{ // Regular tetrahedron with unit edges under the identity metric scores 1
		var (
			a  = math.Sqrt2 / 4
			x0 = []float64{a, a, a}
			x1 = []float64{a, -a, -a}
			x2 = []float64{-a, a, -a}
			x3 = []float64{-a, -a, a}
			id = []float64{1, 0, 0, 1, 0, 1}
			p  = NewProperty3D(x0, x1, x2, x3)
		)
		q := p.Lipnikov3D(x0, x1, x2, x3, id, id, id, id)
		assert.InDelta(t, 1.0, q, 1e-12)

		// Anisotropic metric that maps the x-stretched tet back to the regular
		// unit tet: quality improves over the identity metric and reaches 1.
		var (
			s3 = []float64{0.25, 0, 0, 1, 0, 1}
			y1 = []float64{2 * x1[0], x1[1], x1[2]}
			y2 = []float64{2 * x2[0], x2[1], x2[2]}
			y3 = []float64{2 * x3[0], x3[1], x3[2]}
			y0 = []float64{2 * x0[0], x0[1], x0[2]}
		)
		qIso := p.Lipnikov3D(y0, y1, y2, y3, id, id, id, id)
		qAniso := p.Lipnikov3D(y0, y1, y2, y3, s3, s3, s3, s3)
		assert.Greater(t, qAniso, qIso)
		assert.InDelta(t, 1.0, qAniso, 1e-12)
	}
}

func TestLipnikovGrad(t *testing.T) {
	// Analytic gradient against a central finite difference, uniform metric.
	var (
		x0 = []float64{0.1, 0.15, 0.3}
		x1 = []float64{1, 0, 0}
		x2 = []float64{0, 1, 0}
		x3 = []float64{0, 0, 1}
		m  = []float64{2, 0.2, 0.1, 1.5, 0.05, 1}
		p  = NewProperty3D(x0, x1, x2, x3)
	)
	grad := make([]float64, 3)
	p.LipnikovGrad3D(x0, x1, x2, x3, m, grad)

	var (
		h  = 1e-6
		fd = make([]float64, 3)
	)
	for i := 0; i < 3; i++ {
		xp := append([]float64{}, x0...)
		xm := append([]float64{}, x0...)
		xp[i] += h
		xm[i] -= h
		qp := p.Lipnikov3D(xp, x1, x2, x3, m, m, m, m)
		qm := p.Lipnikov3D(xm, x1, x2, x3, m, m, m, m)
		fd[i] = (qp - qm) / (2 * h)
	}
	for i := 0; i < 3; i++ {
		assert.InDelta(t, fd[i], grad[i], 1e-5*math.Max(1, math.Abs(fd[i])))
	}
}
