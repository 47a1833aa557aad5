package spotfit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// FitSettings control the solver. The zero value is not usable; start from
// NewFitSettings.
type FitSettings struct {
	// MaxIterations caps the number of accepted solver steps.
	MaxIterations int
	// A fit converges once every step component satisfies
	// |dx_i| < AbsTolerance + RelTolerance*|x_i|.
	AbsTolerance float64
	RelTolerance float64
	// InitialDamping is the starting Levenberg-Marquardt lambda. The solver
	// gives up once lambda exceeds MaxDamping.
	InitialDamping float64
	MaxDamping     float64
	// Canonicalize wraps a fitted theta into [-pi/2, pi/2) and takes the
	// magnitude of fitted sigmas. Only applies when theta is active.
	Canonicalize bool
	// Trace logs every accepted step through the monitoring logger.
	Trace bool
}

// NewFitSettings returns the default solver settings.
func NewFitSettings() *FitSettings {
	return &FitSettings{
		MaxIterations:  500,
		AbsTolerance:   1e-8,
		RelTolerance:   1e-8,
		InitialDamping: 1e-3,
		MaxDamping:     1e16,
		Canonicalize:   true,
	}
}

func (s *FitSettings) validate() error {
	switch {
	case s.MaxIterations <= 0:
		return fmt.Errorf("max iterations must be positive, got %d: %w", s.MaxIterations, ErrInvalidArgument)
	case !(s.AbsTolerance >= 0) || !(s.RelTolerance >= 0):
		return fmt.Errorf("tolerances must be non-negative: %w", ErrInvalidArgument)
	case !(s.AbsTolerance > 0) && !(s.RelTolerance > 0):
		return fmt.Errorf("at least one tolerance must be positive: %w", ErrInvalidArgument)
	case !(s.InitialDamping > 0) || !(s.MaxDamping > s.InitialDamping):
		return fmt.Errorf("damping range (%g, %g] is invalid: %w", s.InitialDamping, s.MaxDamping, ErrInvalidArgument)
	}
	return nil
}

// Result is the outcome of one fit.
type Result struct {
	// Params is the full parameter vector. Inactive entries equal the
	// initial guess.
	Params Params
	// Mode lists the active parameters in the order used by StdErr,
	// Covariance and the Jacobian columns.
	Mode Mode

	// StdErr holds one standard error per active parameter.
	StdErr []float64
	// Covariance is the parameter covariance scaled by Variance.
	Covariance *mat.SymDense
	// Variance is the noise variance estimate RSS / (n_valid - n_active - 1).
	Variance float64

	// Residuals is model - observed on the n×n grid, NaN where the input was
	// NaN.
	Residuals *mat.Dense
	// Jacobian is n_valid × n_active. Row i belongs to pixel ValidIndex[i].
	Jacobian *mat.Dense
	// ValidIndex lists the column-major linear indices of non-NaN pixels.
	ValidIndex []int

	Iterations int
	RSS        float64
	RSquared   float64
	Converged  bool
}

// DegreesOfFreedom returns n_valid - n_active - 1.
func (r *Result) DegreesOfFreedom() int {
	return len(r.ValidIndex) - len(r.Mode) - 1
}

// StdErrOf returns the standard error of p, or false when p was not active
// or no standard errors are available.
func (r *Result) StdErrOf(p Param) (float64, bool) {
	for i, q := range r.Mode {
		if q == p && i < len(r.StdErr) {
			return r.StdErr[i], true
		}
	}
	return 0, false
}

// Fit fits an anisotropic 2D Gaussian plus background to a square patch.
// NaN pixels are excluded. mode selects the active parameters, see
// ParseMode. A nil s uses NewFitSettings.
//
// Invalid input returns a nil Result and an error wrapping
// ErrInvalidArgument. Otherwise the Result is always populated and the
// error, if any, wraps one or more of ErrNotConverged, ErrInsufficientData
// and ErrNumericalDegeneracy.
func Fit(m mat.Matrix, init Params, mode string, s *FitSettings) (*Result, error) {
	if s == nil {
		s = NewFitSettings()
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	pt, err := newPatch(m)
	if err != nil {
		return nil, err
	}
	if err := init.validate(); err != nil {
		return nil, err
	}
	md, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}

	pr := &problem{patch: pt, full: init, mode: md}
	x0 := md.reduce(init)
	nValid, np := len(pt.valid), len(md)

	var errs []error
	var sol *solution
	if nValid < np {
		sol = pr.evaluate(x0)
		errs = append(errs, fmt.Errorf("%d valid pixels for %d active parameters: %w", nValid, np, ErrInsufficientData))
	} else {
		sol, err = levenbergMarquardt(pr, x0, s)
		if err != nil {
			errs = append(errs, err)
		}
		if s.Canonicalize && md.Has(ParamTheta) {
			sol = canonicalize(pr, sol)
		}
	}

	st, err := computeStatistics(pt, sol, np)
	if err != nil && !(nValid < np && errors.Is(err, ErrInsufficientData)) {
		errs = append(errs, err)
	}

	res := &Result{
		Params:     pr.full,
		Mode:       md,
		StdErr:     st.stdErr,
		Covariance: st.covariance,
		Variance:   st.variance,
		Residuals:  pt.residualMap(sol.r),
		Jacobian:   jacobianOutput(sol.jt),
		ValidIndex: append([]int(nil), pt.valid...),
		Iterations: sol.iterations,
		RSS:        st.rss,
		RSquared:   st.rSquared,
		Converged:  sol.converged,
	}
	return res, errors.Join(errs...)
}

// canonicalize folds the exact symmetries of the model out of the fitted
// active parameters and re-evaluates residuals and Jacobian at the result.
func canonicalize(pr *problem, sol *solution) *solution {
	x := append([]float64(nil), sol.x...)
	for i, p := range pr.mode {
		switch p {
		case ParamTheta:
			x[i] = wrapAngle(x[i])
		case ParamSigmaX, ParamSigmaY:
			x[i] = math.Abs(x[i])
		}
	}
	out := pr.evaluate(x)
	out.iterations = sol.iterations
	out.converged = sol.converged
	return out
}

// wrapAngle maps theta into [-pi/2, pi/2).
func wrapAngle(theta float64) float64 {
	return theta - math.Pi*math.Floor((theta+math.Pi/2)/math.Pi)
}
