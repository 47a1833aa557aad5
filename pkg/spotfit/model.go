package spotfit

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// shape holds the per-evaluation constants of the rotated Gaussian. They
// depend only on the parameters, so they are computed once per residual or
// Jacobian evaluation and shared by every pixel.
type shape struct {
	amp, background float64
	ct, st, c2t     float64
	sx2, sy2        float64
	sx3, sy3        float64
	a, b, c         float64
}

func newShape(p *Params) shape {
	sx, sy, t := p[ParamSigmaX], p[ParamSigmaY], p[ParamTheta]
	ct, st := math.Cos(t), math.Sin(t)
	s2t := math.Sin(2 * t)
	sx2, sy2 := sx*sx, sy*sy
	return shape{
		amp:        p[ParamAmplitude],
		background: p[ParamBackground],
		ct:         ct,
		st:         st,
		c2t:        math.Cos(2 * t),
		sx2:        sx2,
		sy2:        sy2,
		sx3:        sx2 * sx,
		sy3:        sy2 * sy,
		a:          ct*ct/(2*sx2) + st*st/(2*sy2),
		b:          -s2t/(4*sx2) + s2t/(4*sy2),
		c:          st*st/(2*sx2) + ct*ct/(2*sy2),
	}
}

// gaussian is the unscaled shape value g at offset (xi, yi).
func (s *shape) gaussian(xi, yi float64) float64 {
	return math.Exp(-s.a*xi*xi - yi*(2*s.b*xi+s.c*yi))
}

func (s *shape) value(g float64) float64 {
	return s.amp*g + s.background
}

// problem binds a patch, the full parameter vector and the active mode for
// the duration of one fit.
type problem struct {
	patch *patch
	full  Params
	mode  Mode
}

// apply writes the reduced vector into the full parameter vector. Fixed
// parameters are left untouched.
func (pr *problem) apply(x []float64) {
	pr.mode.expand(x, &pr.full)
}

// residuals evaluates model - observed for every valid pixel at x.
func (pr *problem) residuals(x, dst []float64) {
	pr.apply(x)
	s := newShape(&pr.full)
	x0, y0 := pr.full[ParamX], pr.full[ParamY]
	for i, idx := range pr.patch.valid {
		xi, yi := pr.patch.offsets(idx, x0, y0)
		dst[i] = s.value(s.gaussian(xi, yi)) - pr.patch.pixels[idx]
	}
}

// ModelImage renders the Gaussian described by p on an n×n grid using the
// same centered coordinates as Fit.
func ModelImage(p Params, n int) *mat.Dense {
	s := newShape(&p)
	half := n / 2
	out := mat.NewDense(n, n, nil)
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			xi := float64(col-half) - p[ParamX]
			yi := float64(row-half) - p[ParamY]
			out.Set(row, col, s.value(s.gaussian(xi, yi)))
		}
	}
	return out
}
