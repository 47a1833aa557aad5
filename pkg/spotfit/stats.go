package spotfit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// statistics are the post-fit quantities derived from the final residuals
// and Jacobian.
type statistics struct {
	rss        float64
	rSquared   float64
	variance   float64
	covariance *mat.SymDense
	stdErr     []float64
}

// computeStatistics derives variance, covariance and standard errors from
// sol. dof <= 0 leaves the variance NaN and skips the covariance. The error
// wraps ErrInsufficientData or ErrNumericalDegeneracy.
func computeStatistics(pt *patch, sol *solution, np int) (statistics, error) {
	st := statistics{
		rss:      floats.Dot(sol.r, sol.r),
		variance: math.NaN(),
	}
	st.rSquared = rSquared(pt, sol.r, st.rss)

	dof := len(sol.r) - np - 1
	if dof <= 0 {
		return st, fmt.Errorf("%d valid pixels leave %d degrees of freedom for %d parameters: %w",
			len(sol.r), dof, np, ErrInsufficientData)
	}
	st.variance = st.rss / float64(dof)

	if np == 0 {
		st.stdErr = []float64{}
		return st, nil
	}

	jtj := mat.NewSymDense(np, nil)
	jtj.SymOuterK(1, sol.jt)

	var chol mat.Cholesky
	if !chol.Factorize(jtj) {
		return st, fmt.Errorf("normal matrix is not positive definite: %w", ErrNumericalDegeneracy)
	}
	inv := mat.NewSymDense(np, nil)
	if err := chol.InverseTo(inv); err != nil {
		return st, fmt.Errorf("inverting normal matrix: %v: %w", err, ErrNumericalDegeneracy)
	}

	st.covariance = mat.NewSymDense(np, nil)
	st.covariance.ScaleSym(st.variance, inv)
	st.stdErr = make([]float64, np)
	for i := range st.stdErr {
		st.stdErr[i] = math.Sqrt(st.variance * inv.At(i, i))
	}
	return st, nil
}

// rSquared is 1 - RSS/TSS over the valid pixels, or 0 when the observed
// values have no spread.
func rSquared(pt *patch, r []float64, rss float64) float64 {
	if len(pt.valid) == 0 {
		return 0
	}
	obs := make([]float64, len(pt.valid))
	for i, idx := range pt.valid {
		obs[i] = pt.pixels[idx]
	}
	mean := stat.Mean(obs, nil)
	tss := 0.0
	for _, o := range obs {
		d := o - mean
		tss += d * d
	}
	if tss > 0 {
		return 1.0 - rss/tss
	}
	return 0.0
}
