package spotfit

import (
	"context"
	"errors"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"spotfit/internal/monitoring"
)

// Spot is one fitting job.
type Spot struct {
	ID    string
	Patch mat.Matrix
	Init  Params
	Mode  string
}

// SpotResult pairs a spot with the outcome of its fit. Err carries the fit
// conditions of this spot only.
type SpotResult struct {
	ID     string
	Result *Result
	Err    error
}

// FitSpots fits every spot with at most workers concurrent fits. workers <= 0
// uses GOMAXPROCS. Results are returned in input order. Per-spot fit errors
// never stop the batch; the returned error is non-nil only when ctx is done
// before every spot was fitted, in which case unfitted entries have a nil
// Result and Err set to the context error.
func FitSpots(ctx context.Context, spots []Spot, s *FitSettings, workers int) ([]SpotResult, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	results := make([]SpotResult, len(spots))
	for i := range spots {
		results[i].ID = spots[i].ID
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range spots {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sp := &spots[i]
			res, err := Fit(sp.Patch, sp.Init, sp.Mode, s)
			results[i].Result = res
			results[i].Err = err
			if err != nil && !errors.Is(err, ErrNotConverged) {
				monitoring.Logf("spotfit: spot %s: %v", sp.ID, err)
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		for i := range results {
			if results[i].Result == nil && results[i].Err == nil {
				results[i].Err = err
			}
		}
	}
	return results, err
}
