//go:build js && wasm

package main

import (
	"errors"
	"math"
	"sort"
	"syscall/js"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"spotfit/pkg/spotfit"
)

var (
	lastPatch  *mat.Dense
	lastResult *spotfit.Result
)

func main() {
	js.Global().Set("fitSpot", js.FuncOf(fitSpot))
	js.Global().Set("fitFITS", js.FuncOf(fitFITS))
	js.Global().Set("renderResiduals", js.FuncOf(renderResiduals))
	js.Global().Set("renderProfile", js.FuncOf(renderProfile))
	select {} // block forever
}

// fitSpot(pixels, n, init, mode, options) fits an n×n row-major patch.
// NaN pixels are masked.
func fitSpot(this js.Value, args []js.Value) interface{} {
	if len(args) < 4 {
		return errorResult("usage: fitSpot(pixels, n, init, mode, options)")
	}
	n := args[1].Int()
	pixels := floatsFromJS(args[0])
	if n <= 0 || len(pixels) != n*n {
		return errorResult("pixels must hold n*n values")
	}
	return fit(mat.NewDense(n, n, pixels), args[2:])
}

// fitFITS(fileBytes, init, mode, options) fits the primary image of a FITS
// file, which must be square.
func fitFITS(this js.Value, args []js.Value) interface{} {
	if len(args) < 3 {
		return errorResult("usage: fitFITS(fileBytes, init, mode, options)")
	}
	jsBytes := args[0]
	fileBytes := make([]byte, jsBytes.Get("length").Int())
	js.CopyBytesToGo(fileBytes, jsBytes)

	fp, err := spotfit.ReadFitsPatchFromBytes(fileBytes)
	if err != nil {
		return errorResult("FITS parse error: " + err.Error())
	}
	return fit(fp.Image, args[1:])
}

// fit expects init, mode and optional options in args.
func fit(patch *mat.Dense, args []js.Value) interface{} {
	init, err := spotfit.NewParams(floatsFromJS(args[0]))
	if err != nil {
		return errorResult(err.Error())
	}
	mode := args[1].String()

	settings := spotfit.NewFitSettings()
	pixelScale := 1.0
	if len(args) >= 3 && args[2].Type() == js.TypeObject {
		opts := args[2]
		if v := opts.Get("maxIterations"); v.Type() == js.TypeNumber {
			settings.MaxIterations = v.Int()
		}
		if v := opts.Get("canonicalize"); v.Type() == js.TypeBoolean {
			settings.Canonicalize = v.Bool()
		}
		if v := opts.Get("pixelScale"); v.Type() == js.TypeNumber {
			pixelScale = v.Float()
		}
	}

	res, err := spotfit.Fit(patch, init, mode, settings)
	if errors.Is(err, spotfit.ErrInvalidArgument) {
		return errorResult(err.Error())
	}
	lastPatch, lastResult = patch, res

	psf := res.PSF(pixelScale)
	residuals := make([]float64, 0, len(res.ValidIndex))
	for _, v := range res.Residuals.RawMatrix().Data {
		if !math.IsNaN(v) {
			residuals = append(residuals, v)
		}
	}
	medianRes, meanRes, stddevRes := computeStats(residuals)

	jsResult := map[string]interface{}{
		"params":         toJSArray(res.Params[:]),
		"mode":           res.Mode.String(),
		"stdErr":         toJSArray(res.StdErr),
		"variance":       jsFloat(res.Variance),
		"rss":            res.RSS,
		"rSquared":       res.RSquared,
		"iterations":     res.Iterations,
		"converged":      res.Converged,
		"validPixels":    len(res.ValidIndex),
		"fwhmX":          psf.FWHMx,
		"fwhmY":          psf.FWHMy,
		"fwhm":           psf.FWHMPixels,
		"fwhmArcsec":     psf.FWHMArcsecs,
		"eccentricity":   psf.Eccentricity,
		"medianResidual": medianRes,
		"meanResidual":   meanRes,
		"stddevResidual": stddevRes,
	}
	if err != nil {
		jsResult["condition"] = err.Error()
	}
	return js.ValueOf(jsResult)
}

func renderResiduals(this js.Value, args []js.Value) interface{} {
	if lastResult == nil {
		return js.Null()
	}
	jpegBytes, err := spotfit.RenderResidualOverlayBytes(lastPatch, lastResult)
	if err != nil {
		return js.Null()
	}
	return bytesToJS(jpegBytes)
}

func renderProfile(this js.Value, args []js.Value) interface{} {
	if lastResult == nil {
		return js.Null()
	}
	pngBytes, err := spotfit.PlotRadialProfileBytes(lastPatch, lastResult)
	if err != nil {
		return js.Null()
	}
	return bytesToJS(pngBytes)
}

func bytesToJS(b []byte) js.Value {
	uint8Array := js.Global().Get("Uint8Array").New(len(b))
	js.CopyBytesToJS(uint8Array, b)
	return uint8Array
}

func floatsFromJS(v js.Value) []float64 {
	n := v.Get("length").Int()
	out := make([]float64, n)
	for i := range out {
		out[i] = v.Index(i).Float()
	}
	return out
}

// js.ValueOf needs []interface{} for arrays.
func toJSArray(v []float64) []interface{} {
	out := make([]interface{}, len(v))
	for i, f := range v {
		out[i] = jsFloat(f)
	}
	return out
}

func jsFloat(f float64) interface{} {
	if math.IsNaN(f) {
		return nil
	}
	return f
}

func errorResult(msg string) interface{} {
	return js.ValueOf(map[string]interface{}{
		"error": msg,
	})
}

func computeStats(values []float64) (median, mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2.0
	} else {
		median = sorted[n/2]
	}

	if n > 1 {
		mean, stddev = stat.MeanStdDev(values, nil)
	} else {
		mean = values[0]
	}
	return
}
