// Package matops holds small elementwise matrix helpers.
package matops

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"spotfit/internal/monitoring"
)

// ErrDimensionMismatch reports operands whose shapes do not agree.
var ErrDimensionMismatch = errors.New("matops: dimension mismatch")

// Add stores a + b in dst. All three must have the same shape; otherwise a
// diagnostic is logged, dst is left untouched and ErrDimensionMismatch is
// returned. dst may alias a or b.
func Add(dst *mat.Dense, a, b mat.Matrix) error {
	if dst == nil || a == nil || b == nil {
		monitoring.Logf("matops: add called with a nil operand")
		return fmt.Errorf("nil operand: %w", ErrDimensionMismatch)
	}
	ar, ac := a.Dims()
	br, bc := b.Dims()
	dr, dc := dst.Dims()
	if ar != br || ac != bc || dr != ar || dc != ac {
		monitoring.Logf("matops: cannot add %dx%d and %dx%d into %dx%d", ar, ac, br, bc, dr, dc)
		return fmt.Errorf("%dx%d + %dx%d into %dx%d: %w", ar, ac, br, bc, dr, dc, ErrDimensionMismatch)
	}
	if ar == 0 || ac == 0 {
		return nil
	}
	dst.Add(a, b)
	return nil
}
