package spotfit

import "gonum.org/v1/gonum/mat"

// pixel carries the offsets of one valid pixel and its shared Gaussian value.
type pixel struct {
	xi, yi float64
	g      float64
}

// derivative returns the partial derivative of the residual with respect to
// one parameter at one pixel.
type derivative func(s *shape, px *pixel) float64

// derivatives is indexed by Param. The solver walks it in mode order.
var derivatives = [NumParams]derivative{
	ParamX:          dfdx,
	ParamY:          dfdy,
	ParamAmplitude:  dfdA,
	ParamSigmaX:     dfdsx,
	ParamSigmaY:     dfdsy,
	ParamTheta:      dfdt,
	ParamBackground: dfdC,
}

// xi = col - n/2 - x, so d(xi)/dx = -1 and the exponent's xi-gradient
// changes sign.
func dfdx(s *shape, px *pixel) float64 {
	return 2 * s.amp * px.g * (s.a*px.xi + s.b*px.yi)
}

func dfdy(s *shape, px *pixel) float64 {
	return 2 * s.amp * px.g * (s.b*px.xi + s.c*px.yi)
}

func dfdA(_ *shape, px *pixel) float64 {
	return px.g
}

// A g (xi cos t - yi sin t)^2 / sx^3
func dfdsx(s *shape, px *pixel) float64 {
	r := px.xi*s.ct - px.yi*s.st
	return s.amp * px.g * r * r / s.sx3
}

// A g (yi cos t + xi sin t)^2 / sy^3
func dfdsy(s *shape, px *pixel) float64 {
	r := px.yi*s.ct + px.xi*s.st
	return s.amp * px.g * r * r / s.sy3
}

// -(A g (sx^2 - sy^2) (xi yi cos 2t + (xi^2 - yi^2) cos t sin t)) / (sx^2 sy^2)
func dfdt(s *shape, px *pixel) float64 {
	xi, yi := px.xi, px.yi
	uv := xi*yi*s.c2t + (xi*xi-yi*yi)*s.ct*s.st
	return -(s.amp * px.g * (s.sx2 - s.sy2) * uv) / (s.sx2 * s.sy2)
}

func dfdC(_ *shape, _ *pixel) float64 {
	return 1
}

// jacobian fills jt, stored transposed as len(mode) × n_valid so that each
// parameter's column of J is one contiguous row.
func (pr *problem) jacobian(x []float64, jt *mat.Dense) {
	pr.apply(x)
	s := newShape(&pr.full)
	x0, y0 := pr.full[ParamX], pr.full[ParamY]

	funcs := make([]derivative, len(pr.mode))
	rows := make([][]float64, len(pr.mode))
	for k, p := range pr.mode {
		funcs[k] = derivatives[p]
		rows[k] = jt.RawRowView(k)
	}

	var px pixel
	for i, idx := range pr.patch.valid {
		px.xi, px.yi = pr.patch.offsets(idx, x0, y0)
		px.g = s.gaussian(px.xi, px.yi)
		for k, df := range funcs {
			rows[k][i] = df(&s, &px)
		}
	}
}

// jacobianOutput converts the transposed internal Jacobian into the
// n_valid × n_active layout handed to callers. It returns nil when either
// dimension is zero.
func jacobianOutput(jt *mat.Dense) *mat.Dense {
	if jt == nil {
		return nil
	}
	np, m := jt.Dims()
	if np == 0 || m == 0 {
		return nil
	}
	out := mat.NewDense(m, np, nil)
	out.Copy(jt.T())
	return out
}
