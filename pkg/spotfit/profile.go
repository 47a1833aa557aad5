package spotfit

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// RadialProfile returns every valid pixel of patch against its elliptical
// radius under p, in units of sigma. A perfect fit lies on
// A*exp(-rho^2/2) + C.
func RadialProfile(patch mat.Matrix, p Params) (plotter.XYs, error) {
	pt, err := newPatch(patch)
	if err != nil {
		return nil, err
	}
	s := newShape(&p)
	pts := make(plotter.XYs, 0, len(pt.valid))
	for _, idx := range pt.valid {
		xi, yi := pt.offsets(idx, p.X(), p.Y())
		e := s.a*xi*xi + yi*(2*s.b*xi+s.c*yi)
		pts = append(pts, plotter.XY{X: math.Sqrt(math.Max(e, 0) * 2), Y: pt.pixels[idx]})
	}
	return pts, nil
}

func newProfilePlot(patch mat.Matrix, res *Result) (*plot.Plot, error) {
	if res == nil {
		return nil, errors.New("no fit result to plot")
	}
	pts, err := RadialProfile(patch, res.Params)
	if err != nil {
		return nil, err
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Radial profile (mode %s, R2=%.4f)", res.Mode, res.RSquared)
	p.X.Label.Text = "rho (sigma)"
	p.Y.Label.Text = "value"
	p.Add(plotter.NewGrid())

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, fmt.Errorf("profile scatter: %w", err)
	}
	scatter.GlyphStyle.Radius = vg.Points(2)
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(scatter)
	p.Legend.Add("pixels", scatter)

	amp, bg := res.Params.Amplitude(), res.Params.Background()
	model := plotter.NewFunction(func(rho float64) float64 {
		return amp*math.Exp(-rho*rho/2) + bg
	})
	model.Width = vg.Points(1.5)
	model.Samples = 200
	p.Add(model)
	p.Legend.Add("model", model)

	rhoMax := 1.0
	for _, pt := range pts {
		rhoMax = math.Max(rhoMax, pt.X)
	}
	p.X.Min, p.X.Max = 0, rhoMax
	return p, nil
}

// PlotRadialProfile writes the radial profile of a fit to outputPath. The
// image format follows the file extension.
func PlotRadialProfile(patch mat.Matrix, res *Result, outputPath string) error {
	p, err := newProfilePlot(patch, res)
	if err != nil {
		return err
	}
	if err := p.Save(8*vg.Inch, 5*vg.Inch, outputPath); err != nil {
		return fmt.Errorf("saving profile plot: %w", err)
	}
	return nil
}

// PlotRadialProfileBytes renders the radial profile of a fit as PNG.
func PlotRadialProfileBytes(patch mat.Matrix, res *Result) ([]byte, error) {
	p, err := newProfilePlot(patch, res)
	if err != nil {
		return nil, err
	}
	w, err := p.WriterTo(8*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("rendering profile plot: %w", err)
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
