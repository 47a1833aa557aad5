package store

import (
	"database/sql"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"spotfit/pkg/spotfit"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "fits.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)

	runID, err := s.StartRun("xyarstc", "unit-test")
	require.NoError(t, err)
	_, err = uuid.Parse(runID)
	require.NoError(t, err)

	truth := spotfit.Params{0.3, -0.4, 5, 1.5, 0.9, 0.4, 1}
	init := spotfit.Params{0.1, -0.2, 4, 1.3, 1.1, 0.3, 0.8}
	good, err := spotfit.Fit(spotfit.ModelImage(truth, 15), init, "xyarstc", nil)
	require.NoError(t, err)

	tiny, tinyErr := spotfit.Fit(mat.NewDense(1, 1, []float64{2}), init, "xyarstc", nil)
	require.ErrorIs(t, tinyErr, spotfit.ErrInsufficientData)

	require.NoError(t, s.RecordFit(runID, spotfit.SpotResult{ID: "good", Result: good}))
	require.NoError(t, s.RecordFit(runID, spotfit.SpotResult{ID: "tiny", Result: tiny, Err: tinyErr}))
	assert.Error(t, s.RecordFit(runID, spotfit.SpotResult{ID: "invalid", Err: spotfit.ErrInvalidArgument}))

	require.NoError(t, s.FinishRun(runID))
	spots, converged, err := s.RunCounts(runID)
	require.NoError(t, err)
	assert.Equal(t, 2, spots)
	assert.Equal(t, 1, converged)

	recs, err := s.ListFits(runID)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "good", recs[0].SpotID)
	assert.Equal(t, good.Params, recs[0].Params)
	assert.True(t, recs[0].Converged)
	assert.Equal(t, good.Iterations, recs[0].Iterations)
	assert.Empty(t, recs[0].Condition)
	assert.False(t, math.IsNaN(recs[0].Variance))

	assert.Equal(t, "tiny", recs[1].SpotID)
	assert.True(t, math.IsNaN(recs[1].Variance))
	assert.Contains(t, recs[1].Condition, "insufficient data")
}

func TestStoreUnknownRun(t *testing.T) {
	s := openTestStore(t)
	err := s.FinishRun("does-not-exist")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	_, _, err = s.RunCounts("does-not-exist")
	assert.True(t, errors.Is(err, sql.ErrNoRows))

	recs, err := s.ListFits("does-not-exist")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fits.db")
	s1, err := Open(path)
	require.NoError(t, err)
	id, err := s1.StartRun("a", "first")
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	require.NoError(t, s2.FinishRun(id))
}

func TestRecordFitNonFiniteStatistics(t *testing.T) {
	s := openTestStore(t)
	runID, err := s.StartRun("xyarstc", "unit-test")
	require.NoError(t, err)

	res := &spotfit.Result{
		Params:   spotfit.Params{0, 0, 5, 1, 1, 0, 0},
		RSS:      math.NaN(),
		RSquared: math.Inf(-1),
		Variance: math.NaN(),
	}
	require.NoError(t, s.RecordFit(runID, spotfit.SpotResult{ID: "nan", Result: res, Err: spotfit.ErrNotConverged}))
	require.NoError(t, s.RecordFit(runID, spotfit.SpotResult{ID: "after", Result: &spotfit.Result{
		Params: spotfit.Params{0, 0, 5, 1, 1, 0, 0},
		RSS:    0.5,
	}}))

	recs, err := s.ListFits(runID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, math.IsNaN(recs[0].RSS))
	assert.True(t, math.IsNaN(recs[0].RSquared))
	assert.True(t, math.IsNaN(recs[0].Variance))
	assert.Equal(t, res.Params, recs[0].Params)
	assert.Equal(t, 0.5, recs[1].RSS)
}
