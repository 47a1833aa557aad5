package spotfit

import (
	"errors"
	"math"
	"sort"
)

// Summary aggregates a batch of fits. Medians and MADs are NaN when no spot
// contributed.
type Summary struct {
	Total     int
	Converged int
	Failed    int

	FWHMPixels      float64
	FWHMPixelsMAD   float64
	FWHMArcsecs     float64
	FWHMArcsecsMAD  float64
	Eccentricity    float64
	EccentricityMAD float64
}

// Summarize computes the median and scaled MAD of the PSF figures of every
// spot that produced parameters. Spots whose fit failed on invalid input or
// was cancelled count as failed.
func Summarize(results []SpotResult, pixelScale float64) Summary {
	sum := Summary{Total: len(results)}
	var fwhmPx, fwhmAs, ecc []float64
	for _, sr := range results {
		if sr.Result == nil || errors.Is(sr.Err, ErrInvalidArgument) {
			sum.Failed++
			continue
		}
		if sr.Result.Converged {
			sum.Converged++
		}
		psf := sr.Result.PSF(pixelScale)
		fwhmPx = append(fwhmPx, (psf.FWHMx+psf.FWHMy)/2.0)
		fwhmAs = append(fwhmAs, psf.FWHMArcsecs)
		ecc = append(ecc, psf.Eccentricity)
	}
	sum.FWHMPixels, sum.FWHMPixelsMAD = medianMAD(fwhmPx)
	sum.FWHMArcsecs, sum.FWHMArcsecsMAD = medianMAD(fwhmAs)
	sum.Eccentricity, sum.EccentricityMAD = medianMAD(ecc)
	return sum
}

// medianMAD returns the median and the MAD scaled to a normal sigma.
func medianMAD(values []float64) (float64, float64) {
	if len(values) == 0 {
		return math.NaN(), math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	median := middle(sorted)

	deviations := make([]float64, len(sorted))
	for i := range sorted {
		deviations[i] = math.Abs(sorted[i] - median)
	}
	sort.Float64s(deviations)

	return median, 1.4826 * middle(deviations)
}

func middle(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2.0
	}
	return sorted[n/2]
}
