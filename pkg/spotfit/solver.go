/*
Extracted from HocusFocus plugin by George Hilios.
Original Copyright © 2021 George Hilios <ghilios+NINA@googlemail.com>
Licensed under Mozilla Public License 2.0.
Ported to Go.
*/

package spotfit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"spotfit/internal/monitoring"
)

const (
	minDamping = 1e-15
	// minScale is the relative floor applied to Marquardt diagonal scaling so
	// that a parameter with a vanishing Jacobian column still gets damped.
	minScale = 1e-12
)

// solution is the solver state handed to the statistics stage. r and jt are
// always evaluated at x.
type solution struct {
	x          []float64
	r          []float64
	jt         *mat.Dense
	cost       float64
	iterations int
	converged  bool
}

// evaluate fills r and jt at x without iterating.
func (pr *problem) evaluate(x []float64) *solution {
	m, np := len(pr.patch.valid), len(x)
	sol := &solution{x: x, r: make([]float64, m)}
	pr.residuals(x, sol.r)
	sol.cost = floats.Dot(sol.r, sol.r)
	if m > 0 && np > 0 {
		sol.jt = mat.NewDense(np, m, nil)
		pr.jacobian(x, sol.jt)
	}
	pr.apply(x)
	return sol
}

// levenbergMarquardt minimizes the sum of squared residuals of pr starting
// from x0. The returned solution is always populated; a non-nil error wraps
// ErrNotConverged.
func levenbergMarquardt(pr *problem, x0 []float64, s *FitSettings) (*solution, error) {
	x := append([]float64(nil), x0...)
	sol := pr.evaluate(x)
	np, m := len(x), len(sol.r)

	if math.IsNaN(sol.cost) || math.IsInf(sol.cost, 0) {
		return sol, fmt.Errorf("non-finite residuals at the initial guess: %w", ErrNotConverged)
	}
	if np == 0 || m == 0 || sol.cost == 0 {
		sol.converged = true
		return sol, nil
	}

	rv := mat.NewVecDense(m, sol.r)
	jtj := mat.NewSymDense(np, nil)
	a := mat.NewSymDense(np, nil)
	g := mat.NewVecDense(np, nil)
	dx := mat.NewVecDense(np, nil)
	xNew := make([]float64, np)
	rNew := make([]float64, m)
	var chol mat.Cholesky

	lambda := s.InitialDamping
	nu := 2.0
	grow := func() bool {
		lambda *= nu
		nu *= 2
		return lambda <= s.MaxDamping
	}
	dampingError := func() error {
		return fmt.Errorf("damping %g exceeded limit after %d iterations: %w", lambda, sol.iterations, ErrNotConverged)
	}

	defer pr.apply(sol.x)

	for sol.iterations < s.MaxIterations {
		jtj.SymOuterK(1, sol.jt)
		g.MulVec(sol.jt, rv)
		if sol.cost == 0 || floats.Norm(g.RawVector().Data, math.Inf(1)) == 0 {
			sol.converged = true
			return sol, nil
		}

		maxDiag := 0.0
		for i := 0; i < np; i++ {
			maxDiag = math.Max(maxDiag, jtj.At(i, i))
		}
		floor := minScale * maxDiag
		if floor == 0 {
			floor = 1
		}

		for {
			a.CopySym(jtj)
			for i := 0; i < np; i++ {
				d := jtj.At(i, i)
				a.SetSym(i, i, d+lambda*math.Max(d, floor))
			}

			if !chol.Factorize(a) {
				if !grow() {
					return sol, dampingError()
				}
				continue
			}
			if err := chol.SolveVecTo(dx, g); err != nil && !finite(dx.RawVector().Data) {
				if !grow() {
					return sol, dampingError()
				}
				continue
			}
			dx.ScaleVec(-1, dx)
			step := dx.RawVector().Data

			floats.AddTo(xNew, sol.x, step)
			pr.residuals(xNew, rNew)
			costNew := floats.Dot(rNew, rNew)

			if costNew < sol.cost {
				small := s.smallStep(step, sol.x)
				copy(sol.x, xNew)
				copy(sol.r, rNew)
				sol.cost = costNew
				sol.iterations++
				pr.jacobian(sol.x, sol.jt)
				lambda = math.Max(lambda/3, minDamping)
				nu = 2

				if s.Trace {
					monitoring.Logf("spotfit: iter %d cost=%.6g lambda=%.3g", sol.iterations, sol.cost, lambda)
				}
				if small {
					sol.converged = true
					return sol, nil
				}
				break
			}

			// A rejected step below tolerance means no further progress is
			// possible at the requested resolution.
			if s.smallStep(step, sol.x) {
				sol.converged = true
				return sol, nil
			}
			if !grow() {
				return sol, dampingError()
			}
		}
	}
	return sol, fmt.Errorf("reached %d iterations: %w", s.MaxIterations, ErrNotConverged)
}

// smallStep reports whether every component of dx is below
// AbsTolerance + RelTolerance*|x_i|.
func (s *FitSettings) smallStep(dx, x []float64) bool {
	for i, d := range dx {
		if !(math.Abs(d) < s.AbsTolerance+s.RelTolerance*math.Abs(x[i])) {
			return false
		}
	}
	return true
}

func finite(v []float64) bool {
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
