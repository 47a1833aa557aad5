package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"spotfit/internal/config"
	"spotfit/internal/monitoring"
	"spotfit/internal/store"
	"spotfit/pkg/spotfit"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	init       spotfit.Params
	mode       string
	configPath string
	workers    int
	dbPath     string
	overlayDir string
	profileDir string
	center     []int
	size       int
	files      []string
}

func parseArgs(args []string) (*options, error) {
	fs := flag.NewFlagSet("spotfit", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	initStr := fs.String("init", "", "initial guess x,y,A,sigma_x,sigma_y,theta,C (required)")
	mode := fs.String("mode", "", "parameters to fit, letters from xyarstc (default from config)")
	configPath := fs.String("config", "", "JSON fit configuration")
	workers := fs.Int("workers", -1, "concurrent fits (0 = one per CPU, default from config)")
	dbPath := fs.String("db", "", "SQLite database to record results in")
	overlayDir := fs.String("overlay", "", "directory for residual overlay JPEGs")
	profileDir := fs.String("profile", "", "directory for radial profile PNGs")
	center := fs.String("center", "", "col,row of the spot in each image (default: whole image is the patch)")
	size := fs.Int("size", 15, "patch size when -center is set")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w\nusage: spotfit -init x,y,A,sx,sy,t,C [flags] <image>...", err)
	}

	o := &options{
		mode:       *mode,
		configPath: *configPath,
		workers:    *workers,
		dbPath:     *dbPath,
		overlayDir: *overlayDir,
		profileDir: *profileDir,
		size:       *size,
		files:      fs.Args(),
	}
	if len(o.files) == 0 {
		return nil, fmt.Errorf("usage: spotfit -init x,y,A,sx,sy,t,C [flags] <image>...")
	}
	if *initStr == "" {
		return nil, fmt.Errorf("-init is required")
	}
	vals, err := parseFloats(*initStr)
	if err != nil {
		return nil, fmt.Errorf("parsing -init: %w", err)
	}
	if o.init, err = spotfit.NewParams(vals); err != nil {
		return nil, fmt.Errorf("parsing -init: %w", err)
	}
	if *center != "" {
		c, err := parseFloats(*center)
		if err != nil || len(c) != 2 {
			return nil, fmt.Errorf("-center must be col,row, got %q", *center)
		}
		o.center = []int{int(c[0]), int(c[1])}
		if o.size <= 0 {
			return nil, fmt.Errorf("-size must be positive, got %d", o.size)
		}
	}
	return o, nil
}

func parseFloats(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func run(args []string, stdout io.Writer) error {
	o, err := parseArgs(args)
	if err != nil {
		return err
	}

	cfg := config.DefaultFitConfig()
	if o.configPath != "" {
		if cfg, err = config.LoadFitConfig(o.configPath); err != nil {
			return err
		}
	}
	mode := cfg.GetMode()
	if o.mode != "" {
		mode = o.mode
	}
	workers := cfg.GetWorkers()
	if o.workers >= 0 {
		workers = o.workers
	}
	settings := cfg.Settings()

	spots := make([]spotfit.Spot, 0, len(o.files))
	for _, path := range o.files {
		patch, err := loadPatch(path, o)
		if err != nil {
			return err
		}
		spots = append(spots, spotfit.Spot{ID: filepath.Base(path), Patch: patch, Init: o.init, Mode: mode})
	}

	fmt.Fprintf(stdout, "Fitting %d spot(s), mode %q...\n", len(spots), mode)
	start := time.Now()
	results, err := spotfit.FitSpots(context.Background(), spots, settings, workers)
	if err != nil {
		return fmt.Errorf("fitting: %w", err)
	}
	elapsed := time.Since(start)

	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "=== Fit Results (%.2fs) ===\n", elapsed.Seconds())
	for _, sr := range results {
		printResult(stdout, sr, cfg.GetPixelScale())
	}

	sum := spotfit.Summarize(results, cfg.GetPixelScale())
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "  Spots:           %d (%d converged, %d failed)\n", sum.Total, sum.Converged, sum.Failed)
	if sum.Total > sum.Failed {
		fmt.Fprintf(stdout, "  FWHM (median):   %.3f +/- %.3f px\n", sum.FWHMPixels, sum.FWHMPixelsMAD)
		fmt.Fprintf(stdout, "  FWHM (arcsec):   %.3f +/- %.3f\"\n", sum.FWHMArcsecs, sum.FWHMArcsecsMAD)
		fmt.Fprintf(stdout, "  Eccentricity:    %.3f +/- %.3f\n", sum.Eccentricity, sum.EccentricityMAD)
	}
	fmt.Fprintln(stdout, "==============================")

	if err := writeArtifacts(spots, results, o); err != nil {
		return err
	}
	if o.dbPath != "" {
		if err := record(o.dbPath, mode, strings.Join(o.files, ","), results); err != nil {
			return err
		}
	}
	return nil
}

func loadPatch(path string, o *options) (*mat.Dense, error) {
	var img *mat.Dense
	lowerPath := strings.ToLower(path)
	if strings.HasSuffix(lowerPath, ".fits") || strings.HasSuffix(lowerPath, ".fit") {
		fp, err := spotfit.ReadFitsPatch(path)
		if err != nil {
			return nil, fmt.Errorf("reading FITS: %w", err)
		}
		img = fp.Image
	} else {
		var err error
		if img, err = loadNonFitsImage(path); err != nil {
			return nil, err
		}
	}
	if o.center == nil {
		return img, nil
	}
	return spotfit.ExtractPatch(img, o.center[0], o.center[1], o.size)
}

func printResult(w io.Writer, sr spotfit.SpotResult, pixelScale float64) {
	if sr.Result == nil {
		fmt.Fprintf(w, "  %-20s FAILED: %v\n", sr.ID, sr.Err)
		return
	}
	res := sr.Result
	psf := res.PSF(pixelScale)
	fmt.Fprintf(w, "  %-20s %s\n", sr.ID, res.Params)
	fmt.Fprintf(w, "  %-20s FWHM=%.3fx%.3f px  ecc=%.3f  R2=%.4f  iter=%d\n",
		"", psf.FWHMx, psf.FWHMy, psf.Eccentricity, res.RSquared, res.Iterations)
	for i, p := range res.Mode {
		if i < len(res.StdErr) {
			fmt.Fprintf(w, "  %-20s   %-8s +/- %.3g\n", "", p, res.StdErr[i])
		}
	}
	if sr.Err != nil {
		fmt.Fprintf(w, "  %-20s [%v]\n", "", sr.Err)
	}
}

func writeArtifacts(spots []spotfit.Spot, results []spotfit.SpotResult, o *options) error {
	for _, dir := range []string{o.overlayDir, o.profileDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	var errs []error
	for i, sr := range results {
		if sr.Result == nil {
			continue
		}
		stem := strings.TrimSuffix(sr.ID, filepath.Ext(sr.ID))
		if o.overlayDir != "" {
			path := filepath.Join(o.overlayDir, stem+"_residuals.jpg")
			if err := spotfit.RenderResidualOverlay(spots[i].Patch, sr.Result, path); err != nil {
				errs = append(errs, fmt.Errorf("overlay for %s: %w", sr.ID, err))
			} else {
				monitoring.Logf("wrote %s", path)
			}
		}
		if o.profileDir != "" {
			path := filepath.Join(o.profileDir, stem+"_profile.png")
			if err := spotfit.PlotRadialProfile(spots[i].Patch, sr.Result, path); err != nil {
				errs = append(errs, fmt.Errorf("profile for %s: %w", sr.ID, err))
			} else {
				monitoring.Logf("wrote %s", path)
			}
		}
	}
	return errors.Join(errs...)
}

func record(dbPath, mode, source string, results []spotfit.SpotResult) error {
	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	runID, err := db.StartRun(mode, source)
	if err != nil {
		return err
	}
	for _, sr := range results {
		if sr.Result == nil {
			monitoring.Logf("skipping %s: %v", sr.ID, sr.Err)
			continue
		}
		if err := db.RecordFit(runID, sr); err != nil {
			return err
		}
	}
	if err := db.FinishRun(runID); err != nil {
		return err
	}
	monitoring.Logf("recorded run %s in %s", runID, dbPath)
	return nil
}
