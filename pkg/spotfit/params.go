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
	"strings"
)

// Param identifies one slot of the Gaussian parameter vector.
type Param int

const (
	ParamX Param = iota
	ParamY
	ParamAmplitude
	ParamSigmaX
	ParamSigmaY
	ParamTheta
	ParamBackground

	// NumParams is the length of a full parameter vector.
	NumParams = 7
)

// canonicalMode lists the mode letters in parameter order. r selects sigma x,
// s selects sigma y.
const canonicalMode = "xyarstc"

func (p Param) String() string {
	switch p {
	case ParamX:
		return "x"
	case ParamY:
		return "y"
	case ParamAmplitude:
		return "A"
	case ParamSigmaX:
		return "sigma_x"
	case ParamSigmaY:
		return "sigma_y"
	case ParamTheta:
		return "theta"
	case ParamBackground:
		return "C"
	default:
		return "Unknown"
	}
}

// Letter returns the mode letter that enables p.
func (p Param) Letter() byte {
	if p < 0 || int(p) >= NumParams {
		return '?'
	}
	return canonicalMode[p]
}

// Params is a full parameter vector in the fixed order
// [x, y, A, sigma_x, sigma_y, theta, C].
type Params [NumParams]float64

// NewParams copies v into a Params. v must hold exactly NumParams values.
func NewParams(v []float64) (Params, error) {
	var p Params
	if len(v) != NumParams {
		return p, fmt.Errorf("parameter vector has %d entries, want %d: %w", len(v), NumParams, ErrInvalidArgument)
	}
	copy(p[:], v)
	return p, nil
}

func (p Params) X() float64          { return p[ParamX] }
func (p Params) Y() float64          { return p[ParamY] }
func (p Params) Amplitude() float64  { return p[ParamAmplitude] }
func (p Params) SigmaX() float64     { return p[ParamSigmaX] }
func (p Params) SigmaY() float64     { return p[ParamSigmaY] }
func (p Params) Theta() float64      { return p[ParamTheta] }
func (p Params) Background() float64 { return p[ParamBackground] }

func (p Params) String() string {
	return fmt.Sprintf("{x=%f, y=%f, A=%f, sigma_x=%f, sigma_y=%f, theta=%f, C=%f}",
		p[ParamX], p[ParamY], p[ParamAmplitude], p[ParamSigmaX], p[ParamSigmaY], p[ParamTheta], p[ParamBackground])
}

func (p Params) validate() error {
	for i, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("parameter %s is not finite (%v): %w", Param(i), v, ErrInvalidArgument)
		}
	}
	if p[ParamSigmaX] <= 0 || p[ParamSigmaY] <= 0 {
		return fmt.Errorf("sigma must be positive, got sigma_x=%v sigma_y=%v: %w",
			p[ParamSigmaX], p[ParamSigmaY], ErrInvalidArgument)
	}
	return nil
}

// Mode is the ordered set of parameters being optimized. Its order is always
// the canonical parameter order, which is also the order of the reduced
// vector seen by the solver.
type Mode []Param

// ParseMode maps a mode string such as "xyarstc" or "XYA" to the active
// parameters. Letters are case-insensitive, duplicates have no effect and
// unrecognized letters are ignored. An empty string is rejected.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return nil, fmt.Errorf("empty mode: %w", ErrInvalidArgument)
	}
	lower := strings.ToLower(s)
	mode := make(Mode, 0, NumParams)
	for i := 0; i < NumParams; i++ {
		if strings.IndexByte(lower, canonicalMode[i]) >= 0 {
			mode = append(mode, Param(i))
		}
	}
	return mode, nil
}

// Has reports whether p is active.
func (m Mode) Has(p Param) bool {
	for _, q := range m {
		if q == p {
			return true
		}
	}
	return false
}

// String returns the canonical letters of the active parameters.
func (m Mode) String() string {
	var b strings.Builder
	for _, p := range m {
		b.WriteByte(p.Letter())
	}
	return b.String()
}

// reduce copies the active entries of p into a new reduced vector.
func (m Mode) reduce(p Params) []float64 {
	x := make([]float64, len(m))
	for i, q := range m {
		x[i] = p[q]
	}
	return x
}

// expand writes the reduced vector x back into the active slots of p.
func (m Mode) expand(x []float64, p *Params) {
	for i, q := range m {
		p[q] = x[i]
	}
}
