// Package bezier computes curvature extrema of low-order 3D Bezier curves.
package bezier

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInvalidArgument reports an unsupported control polygon or interval.
var ErrInvalidArgument = errors.New("bezier: invalid argument")

// MaxCurvatureUnit is MaxCurvature over the full parameter range [0, 1].
func MaxCurvatureUnit(points []r3.Vec) (kappa, t float64, err error) {
	return MaxCurvature(points, 0, 1)
}

// MaxCurvature returns the largest curvature of the Bezier curve defined by
// 2, 3 or 4 control points on [t0, t1], and the parameter where it occurs.
// Ties between the endpoints go to t0. A straight segment has zero curvature
// everywhere and reports t0.
func MaxCurvature(points []r3.Vec, t0, t1 float64) (kappa, t float64, err error) {
	if len(points) < 2 || len(points) > 4 {
		return 0, 0, fmt.Errorf("%d control points, want 2, 3 or 4: %w", len(points), ErrInvalidArgument)
	}
	for i, p := range points {
		if !finite(p.X) || !finite(p.Y) || !finite(p.Z) {
			return 0, 0, fmt.Errorf("control point %d is not finite: %w", i, ErrInvalidArgument)
		}
	}
	if !finite(t0) || !finite(t1) || t0 > t1 {
		return 0, 0, fmt.Errorf("interval [%v, %v]: %w", t0, t1, ErrInvalidArgument)
	}

	if len(points) == 2 {
		return 0, t0, nil
	}

	c := newCurve(points)
	kappa, t = c.curvature(t0), t0
	if k1 := c.curvature(t1); kappa < k1 {
		kappa, t = k1, t1
	}

	var candidates []float64
	if len(points) == 3 {
		candidates = c.quadraticCritical()
	} else {
		candidates = c.cubicCritical()
	}
	for _, tc := range candidates {
		if tc <= t0 || tc >= t1 {
			continue
		}
		if k := c.curvature(tc); k > kappa {
			kappa, t = k, tc
		}
	}
	return kappa, t, nil
}

// curve holds the first and second derivative of a Bezier curve in the
// power basis.
type curve struct {
	d1, d2 vpoly
}

func newCurve(points []r3.Vec) curve {
	n := len(points) - 1
	// Hodograph control points q_i = n (P_{i+1} - P_i).
	q := make([]r3.Vec, n)
	for i := range q {
		q[i] = r3.Scale(float64(n), r3.Sub(points[i+1], points[i]))
	}

	var d1 vpoly
	switch n {
	case 2:
		// q0 (1-t) + q1 t
		d1 = vpoly{q[0], r3.Sub(q[1], q[0])}
	case 3:
		// q0 (1-t)^2 + 2 q1 (1-t) t + q2 t^2
		d1 = vpoly{
			q[0],
			r3.Scale(2, r3.Sub(q[1], q[0])),
			r3.Add(r3.Sub(q[0], r3.Scale(2, q[1])), q[2]),
		}
	}
	return curve{d1: d1, d2: d1.deriv()}
}

// curvature is |B' x B''| / |B'|^3, or 0 where the curve is stationary.
func (c curve) curvature(t float64) float64 {
	v := c.d1.eval(t)
	speed := r3.Norm(v)
	if speed == 0 {
		return 0
	}
	return r3.Norm(r3.Cross(v, c.d2.eval(t))) / (speed * speed * speed)
}

// quadraticCritical returns the parameter of minimum speed. The cross product
// of a quadratic's derivatives is constant, so that is where curvature peaks.
func (c curve) quadraticCritical() []float64 {
	a, b := c.d1[0], c.d1[1]
	bb := r3.Dot(b, b)
	if bb == 0 {
		return nil
	}
	return []float64{-r3.Dot(a, b) / bb}
}

// cubicCritical returns the real roots of d(kappa^2)/dt. With
// N = |B' x B''|^2 and D = |B'|^2 these are the roots of N'D - 3ND', a
// polynomial of degree at most 7.
func (c curve) cubicCritical() []float64 {
	x := c.d1.cross(c.d2)
	n := x.dot(x)
	d := c.d1.dot(c.d1)
	p := n.deriv().mul(d).sub(n.mul(d.deriv()), 3)
	return p.realRoots()
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
