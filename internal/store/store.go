package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"spotfit/internal/monitoring"
	"spotfit/pkg/spotfit"
)

// schema.sql creates the fit_runs and spot_fits tables.
//
//go:embed schema.sql
var schemaSQL string

// Store persists batch fit results in SQLite.
type Store struct {
	*sql.DB
}

// FitRecord is one stored spot fit.
type FitRecord struct {
	SpotID       string
	Params       spotfit.Params
	FWHMPixels   float64
	Eccentricity float64
	RSS          float64 // NaN when not available
	RSquared     float64 // NaN when not available
	Variance     float64 // NaN when not available
	Iterations   int
	Converged    bool
	Condition    string
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	monitoring.Logf("store: initialized fit database %s", path)
	return &Store{db}, nil
}

// StartRun creates a run record and returns its id.
func (s *Store) StartRun(mode, source string) (string, error) {
	runID := uuid.NewString()
	_, err := s.Exec(`INSERT INTO fit_runs (run_id, mode, source) VALUES (?, ?, ?)`, runID, mode, source)
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	return runID, nil
}

// RecordFit stores the outcome of one spot. Spots without a Result are
// rejected.
func (s *Store) RecordFit(runID string, sr spotfit.SpotResult) error {
	res := sr.Result
	if res == nil {
		return fmt.Errorf("spot %s has no result: %v", sr.ID, sr.Err)
	}
	psf := res.PSF(1)
	condition := ""
	if sr.Err != nil {
		condition = sr.Err.Error()
	}
	p := res.Params

	query := `
		INSERT INTO spot_fits (
			run_id, spot_id, x, y, amplitude, sigma_x, sigma_y, theta, background,
			fwhm_px, eccentricity, rss, r_squared, variance, iterations, converged, condition
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.Exec(query,
		runID, sr.ID, p.X(), p.Y(), p.Amplitude(), p.SigmaX(), p.SigmaY(), p.Theta(), p.Background(),
		(psf.FWHMx+psf.FWHMy)/2, psf.Eccentricity, nullFloat(res.RSS), nullFloat(res.RSquared), nullFloat(res.Variance),
		res.Iterations, res.Converged, condition)
	if err != nil {
		return fmt.Errorf("failed to insert fit for spot %s: %w", sr.ID, err)
	}
	return nil
}

// FinishRun stamps the run end time and its spot counts.
func (s *Store) FinishRun(runID string) error {
	query := `
		UPDATE fit_runs
		SET
			finished_at = UNIXEPOCH('subsec'),
			spot_count = (SELECT COUNT(*) FROM spot_fits WHERE run_id = ?),
			converged_count = (SELECT COUNT(*) FROM spot_fits WHERE run_id = ? AND converged = 1)
		WHERE run_id = ?
	`
	res, err := s.Exec(query, runID, runID, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", runID, sql.ErrNoRows)
	}
	return nil
}

// RunCounts returns the spot and converged counts recorded by FinishRun.
func (s *Store) RunCounts(runID string) (spots, converged int, err error) {
	err = s.QueryRow(`SELECT spot_count, converged_count FROM fit_runs WHERE run_id = ?`, runID).
		Scan(&spots, &converged)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("run %s: %w", runID, err)
	}
	return spots, converged, err
}

// ListFits returns the fits of a run in insertion order.
func (s *Store) ListFits(runID string) ([]FitRecord, error) {
	rows, err := s.Query(`
		SELECT spot_id, x, y, amplitude, sigma_x, sigma_y, theta, background,
			fwhm_px, eccentricity, rss, r_squared, variance, iterations, converged, condition
		FROM spot_fits WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fits: %w", err)
	}
	defer rows.Close()

	var out []FitRecord
	for rows.Next() {
		var r FitRecord
		var rss, rSquared, variance sql.NullFloat64
		if err := rows.Scan(&r.SpotID,
			&r.Params[spotfit.ParamX], &r.Params[spotfit.ParamY], &r.Params[spotfit.ParamAmplitude],
			&r.Params[spotfit.ParamSigmaX], &r.Params[spotfit.ParamSigmaY], &r.Params[spotfit.ParamTheta],
			&r.Params[spotfit.ParamBackground],
			&r.FWHMPixels, &r.Eccentricity, &rss, &rSquared, &variance,
			&r.Iterations, &r.Converged, &r.Condition); err != nil {
			return nil, fmt.Errorf("failed to scan fit: %w", err)
		}
		r.RSS, r.RSquared, r.Variance = floatOrNaN(rss), floatOrNaN(rSquared), floatOrNaN(variance)
		out = append(out, r)
	}
	return out, rows.Err()
}

// nullFloat stores non-finite values as NULL.
func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
