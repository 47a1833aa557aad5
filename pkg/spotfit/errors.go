package spotfit

import "errors"

// Fit conditions. InvalidArgument aborts a fit before any computation and
// comes with a nil Result. The other conditions accompany a populated Result
// and may be combined; match them with errors.Is.
var (
	// ErrInvalidArgument reports a malformed patch, parameter vector or mode.
	ErrInvalidArgument = errors.New("spotfit: invalid argument")

	// ErrNotConverged reports that the solver hit its iteration cap or could
	// not find a decreasing step. The best parameters found are returned.
	ErrNotConverged = errors.New("spotfit: fit did not converge")

	// ErrInsufficientData reports too few valid pixels for the active
	// parameters (n_valid - n_active - 1 <= 0).
	ErrInsufficientData = errors.New("spotfit: insufficient data")

	// ErrNumericalDegeneracy reports a normal-equations matrix that could not
	// be inverted for the covariance.
	ErrNumericalDegeneracy = errors.New("spotfit: singular normal matrix")
)
