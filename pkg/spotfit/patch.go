package spotfit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// patch is a square pixel patch flattened in column-major order together
// with the linear indices of its valid (non-NaN) pixels.
type patch struct {
	n      int
	half   int
	pixels []float64
	valid  []int
}

func newPatch(m mat.Matrix) (*patch, error) {
	if m == nil {
		return nil, fmt.Errorf("nil patch: %w", ErrInvalidArgument)
	}
	rows, cols := m.Dims()
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("empty patch: %w", ErrInvalidArgument)
	}
	if rows != cols {
		return nil, fmt.Errorf("patch must be square, got %dx%d: %w", rows, cols, ErrInvalidArgument)
	}

	n := rows
	p := &patch{
		n:      n,
		half:   n / 2,
		pixels: make([]float64, n*n),
	}
	for col := 0; col < n; col++ {
		for row := 0; row < n; row++ {
			p.pixels[col*n+row] = m.At(row, col)
		}
	}

	p.valid = make([]int, 0, n*n)
	for idx, v := range p.pixels {
		if !math.IsNaN(v) {
			p.valid = append(p.valid, idx)
		}
	}
	return p, nil
}

// offsets returns the pixel position of linear index idx relative to the
// spot center (x, y). Columns run along x and rows along y.
func (p *patch) offsets(idx int, x, y float64) (xi, yi float64) {
	col, row := idx/p.n, idx%p.n
	return float64(col-p.half) - x, float64(row-p.half) - y
}

// residualMap scatters per-valid-pixel residuals back into an n×n matrix,
// leaving masked pixels NaN.
func (p *patch) residualMap(r []float64) *mat.Dense {
	out := mat.NewDense(p.n, p.n, nil)
	for col := 0; col < p.n; col++ {
		for row := 0; row < p.n; row++ {
			out.Set(row, col, math.NaN())
		}
	}
	for i, idx := range p.valid {
		out.Set(idx%p.n, idx/p.n, r[i])
	}
	return out
}
