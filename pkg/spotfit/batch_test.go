package spotfit

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNewPSFModel(t *testing.T) {
	p := Params{0.5, -0.5, 4, 2, 1, 0.3, 0.1}
	psf := NewPSFModel(p, 0.98, 1.5)

	assert.InDelta(t, 2*sigmaToFWHM, psf.FWHMx, 1e-12)
	assert.InDelta(t, sigmaToFWHM, psf.FWHMy, 1e-12)
	assert.InDelta(t, math.Sqrt2*sigmaToFWHM, psf.FWHMPixels, 1e-12)
	assert.InDelta(t, 1.5*psf.FWHMPixels, psf.FWHMArcsecs, 1e-12)
	assert.InDelta(t, math.Sqrt(0.75), psf.Eccentricity, 1e-12)
	assert.InDelta(t, math.Sqrt2, psf.Sigma, 1e-12)
	assert.Equal(t, 0.98, psf.RSquared)
	assert.Equal(t, 0.3, psf.ThetaRadians)
	assert.Contains(t, psf.String(), "Eccentricity=0.866025")
}

func TestPSFModelRoundSpot(t *testing.T) {
	psf := NewPSFModel(Params{0, 0, 1, 1, 1, 0, 0}, 1, 0)
	assert.Equal(t, 0.0, psf.Eccentricity)
	assert.InDelta(t, 2.354820045, psf.FWHMPixels, 1e-9)
	assert.Equal(t, psf.FWHMPixels, psf.FWHMArcsecs)
}

func TestMedianMAD(t *testing.T) {
	m, mad := medianMAD([]float64{3, 1, 2, 100})
	assert.Equal(t, 2.5, m)
	assert.InDelta(t, 1.4826, mad, 1e-12)

	m, mad = medianMAD([]float64{5})
	assert.Equal(t, 5.0, m)
	assert.Equal(t, 0.0, mad)

	m, mad = medianMAD(nil)
	assert.True(t, math.IsNaN(m))
	assert.True(t, math.IsNaN(mad))
}

func batchSpots() []Spot {
	truths := []Params{
		{0.3, -0.4, 5, 1.5, 0.9, 0.4, 1},
		{-0.2, 0.1, 3, 1.2, 1.2, 0, 0.5},
		{0.6, 0.2, 8, 1.0, 1.8, -0.7, 2},
	}
	spots := make([]Spot, 0, len(truths)+1)
	for i, tr := range truths {
		init := tr
		init[ParamX] += 0.2
		init[ParamAmplitude] *= 0.8
		spots = append(spots, Spot{
			ID:    string(rune('a' + i)),
			Patch: ModelImage(tr, 15),
			Init:  init,
			Mode:  "xyac",
		})
	}
	spots = append(spots, Spot{ID: "bad", Patch: mat.NewDense(2, 3, nil), Init: truths[0], Mode: "a"})
	return spots
}

func TestFitSpots(t *testing.T) {
	t.Parallel()

	spots := batchSpots()
	results, err := FitSpots(context.Background(), spots, nil, 2)
	require.NoError(t, err)
	require.Len(t, results, len(spots))

	for i, sr := range results[:3] {
		assert.Equal(t, spots[i].ID, sr.ID)
		require.NoError(t, sr.Err)
		require.NotNil(t, sr.Result)
		assert.True(t, sr.Result.Converged)
	}
	assert.Equal(t, "bad", results[3].ID)
	assert.Nil(t, results[3].Result)
	assert.ErrorIs(t, results[3].Err, ErrInvalidArgument)

	sum := Summarize(results, 2)
	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, 3, sum.Converged)
	assert.Equal(t, 1, sum.Failed)
	// Per-spot mean sigmas are 1.2, 1.2 and 1.4.
	assert.InDelta(t, 1.2*sigmaToFWHM, sum.FWHMPixels, 1e-9)
	assert.False(t, math.IsNaN(sum.FWHMArcsecs))
}

func TestFitSpotsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := FitSpots(ctx, batchSpots(), nil, 1)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 4)
	for _, sr := range results {
		assert.Nil(t, sr.Result)
		assert.True(t, errors.Is(sr.Err, context.Canceled))
	}

	sum := Summarize(results, 1)
	assert.Equal(t, 4, sum.Failed)
	assert.True(t, math.IsNaN(sum.FWHMPixels))
}

func TestFitSpotsDefaultWorkers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	results, err := FitSpots(ctx, batchSpots()[:1], NewFitSettings(), 0)
	require.NoError(t, err)
	require.NotNil(t, results[0].Result)
}
