package bezier

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// poly is a real polynomial with coefficients in ascending order of power.
type poly []float64

func (p poly) eval(t float64) float64 {
	v := 0.0
	for i := len(p) - 1; i >= 0; i-- {
		v = v*t + p[i]
	}
	return v
}

func (p poly) deriv() poly {
	if len(p) <= 1 {
		return poly{0}
	}
	d := make(poly, len(p)-1)
	for i := 1; i < len(p); i++ {
		d[i-1] = float64(i) * p[i]
	}
	return d
}

func (p poly) mul(q poly) poly {
	out := make(poly, len(p)+len(q)-1)
	for i, a := range p {
		for j, b := range q {
			out[i+j] += a * b
		}
	}
	return out
}

// sub returns p - s*q.
func (p poly) sub(q poly, s float64) poly {
	n := max(len(p), len(q))
	out := make(poly, n)
	copy(out, p)
	for i, b := range q {
		out[i] -= s * b
	}
	return out
}

// trim drops leading coefficients that are negligible against the largest
// one.
func (p poly) trim() poly {
	scale := floats.Norm(p, math.Inf(1))
	n := len(p)
	for n > 0 && math.Abs(p[n-1]) <= 1e-14*scale {
		n--
	}
	return p[:n]
}

// realRoots returns the approximately real roots of p, polished by Newton
// steps. Near-real roots of ill-conditioned polynomials are included; callers
// compare candidates by value so extra roots are harmless.
func (p poly) realRoots() []float64 {
	p = p.trim()
	deg := len(p) - 1
	switch {
	case deg < 1:
		return nil
	case deg == 1:
		return []float64{-p[0] / p[1]}
	}

	// Companion matrix: ones on the subdiagonal, -c_i/c_n in the last column.
	c := mat.NewDense(deg, deg, nil)
	for i := 1; i < deg; i++ {
		c.Set(i, i-1, 1)
	}
	for i := 0; i < deg; i++ {
		c.Set(i, deg-1, -p[i]/p[deg])
	}

	var eig mat.Eigen
	if !eig.Factorize(c, mat.EigenNone) {
		return nil
	}

	dp := p.deriv()
	var roots []float64
	for _, z := range eig.Values(nil) {
		if math.Abs(imag(z)) > 1e-6*(1+cmplx.Abs(z)) {
			continue
		}
		roots = append(roots, newton(p, dp, real(z)))
	}
	return roots
}

func newton(p, dp poly, t float64) float64 {
	for i := 0; i < 8; i++ {
		d := dp.eval(t)
		if d == 0 {
			break
		}
		step := p.eval(t) / d
		if math.IsNaN(step) || math.IsInf(step, 0) {
			break
		}
		t -= step
		if math.Abs(step) <= 1e-15*(1+math.Abs(t)) {
			break
		}
	}
	return t
}

// vpoly is a polynomial with vector coefficients, ascending order.
type vpoly []r3.Vec

func (p vpoly) eval(t float64) r3.Vec {
	var v r3.Vec
	for i := len(p) - 1; i >= 0; i-- {
		v = r3.Add(r3.Scale(t, v), p[i])
	}
	return v
}

func (p vpoly) deriv() vpoly {
	if len(p) <= 1 {
		return vpoly{{}}
	}
	d := make(vpoly, len(p)-1)
	for i := 1; i < len(p); i++ {
		d[i-1] = r3.Scale(float64(i), p[i])
	}
	return d
}

func (p vpoly) cross(q vpoly) vpoly {
	out := make(vpoly, len(p)+len(q)-1)
	for i, a := range p {
		for j, b := range q {
			out[i+j] = r3.Add(out[i+j], r3.Cross(a, b))
		}
	}
	return out
}

func (p vpoly) dot(q vpoly) poly {
	out := make(poly, len(p)+len(q)-1)
	for i, a := range p {
		for j, b := range q {
			out[i+j] += r3.Dot(a, b)
		}
	}
	return out
}
