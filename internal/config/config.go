package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"spotfit/pkg/spotfit"
)

const defaultMode = "xyarstc"

// FitConfig is the JSON fit configuration. Omitted fields fall back to the
// solver defaults through the Get* accessors.
type FitConfig struct {
	Mode string `json:"mode,omitempty"`

	// Solver params
	MaxIterations  *int     `json:"max_iterations,omitempty"`
	AbsTolerance   *float64 `json:"abs_tolerance,omitempty"`
	RelTolerance   *float64 `json:"rel_tolerance,omitempty"`
	InitialDamping *float64 `json:"initial_damping,omitempty"`
	MaxDamping     *float64 `json:"max_damping,omitempty"`
	Canonicalize   *bool    `json:"canonicalize,omitempty"`
	Trace          *bool    `json:"trace,omitempty"`

	// Batch and reporting params
	Workers    *int     `json:"workers,omitempty"`
	PixelScale *float64 `json:"pixel_scale,omitempty"` // arcsec per pixel
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }

// DefaultFitConfig returns a FitConfig with every field set to its default.
func DefaultFitConfig() *FitConfig {
	s := spotfit.NewFitSettings()
	return &FitConfig{
		Mode:           defaultMode,
		MaxIterations:  ptrInt(s.MaxIterations),
		AbsTolerance:   ptrFloat64(s.AbsTolerance),
		RelTolerance:   ptrFloat64(s.RelTolerance),
		InitialDamping: ptrFloat64(s.InitialDamping),
		MaxDamping:     ptrFloat64(s.MaxDamping),
		Canonicalize:   ptrBool(s.Canonicalize),
		Trace:          ptrBool(s.Trace),
		Workers:        ptrInt(0),
		PixelScale:     ptrFloat64(1),
	}
}

// LoadFitConfig loads a FitConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadFitConfig(path string) (*FitConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &FitConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields that are set.
func (c *FitConfig) Validate() error {
	if c.Mode != "" {
		if _, err := spotfit.ParseMode(c.Mode); err != nil {
			return fmt.Errorf("invalid mode %q: %w", c.Mode, err)
		}
	}
	if c.MaxIterations != nil && *c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", *c.MaxIterations)
	}
	for name, v := range map[string]*float64{
		"abs_tolerance": c.AbsTolerance,
		"rel_tolerance": c.RelTolerance,
	} {
		if v != nil && (*v < 0 || math.IsNaN(*v)) {
			return fmt.Errorf("%s must be non-negative, got %g", name, *v)
		}
	}
	if !(c.GetAbsTolerance() > 0) && !(c.GetRelTolerance() > 0) {
		return fmt.Errorf("abs_tolerance and rel_tolerance cannot both be zero")
	}
	if c.InitialDamping != nil && !(*c.InitialDamping > 0) {
		return fmt.Errorf("initial_damping must be positive, got %g", *c.InitialDamping)
	}
	if c.GetMaxDamping() <= c.GetInitialDamping() {
		return fmt.Errorf("max_damping %g must exceed initial_damping %g", c.GetMaxDamping(), c.GetInitialDamping())
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.PixelScale != nil && !(*c.PixelScale > 0) {
		return fmt.Errorf("pixel_scale must be positive, got %g", *c.PixelScale)
	}
	return nil
}

// GetMode returns the mode string or the full mode.
func (c *FitConfig) GetMode() string {
	if c.Mode == "" {
		return defaultMode
	}
	return c.Mode
}

func (c *FitConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return spotfit.NewFitSettings().MaxIterations
	}
	return *c.MaxIterations
}

func (c *FitConfig) GetAbsTolerance() float64 {
	if c.AbsTolerance == nil {
		return spotfit.NewFitSettings().AbsTolerance
	}
	return *c.AbsTolerance
}

func (c *FitConfig) GetRelTolerance() float64 {
	if c.RelTolerance == nil {
		return spotfit.NewFitSettings().RelTolerance
	}
	return *c.RelTolerance
}

func (c *FitConfig) GetInitialDamping() float64 {
	if c.InitialDamping == nil {
		return spotfit.NewFitSettings().InitialDamping
	}
	return *c.InitialDamping
}

func (c *FitConfig) GetMaxDamping() float64 {
	if c.MaxDamping == nil {
		return spotfit.NewFitSettings().MaxDamping
	}
	return *c.MaxDamping
}

func (c *FitConfig) GetCanonicalize() bool {
	if c.Canonicalize == nil {
		return true
	}
	return *c.Canonicalize
}

func (c *FitConfig) GetTrace() bool {
	return c.Trace != nil && *c.Trace
}

// GetWorkers returns the worker count; 0 means one per CPU.
func (c *FitConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

func (c *FitConfig) GetPixelScale() float64 {
	if c.PixelScale == nil {
		return 1
	}
	return *c.PixelScale
}

// Settings converts the configuration into solver settings.
func (c *FitConfig) Settings() *spotfit.FitSettings {
	return &spotfit.FitSettings{
		MaxIterations:  c.GetMaxIterations(),
		AbsTolerance:   c.GetAbsTolerance(),
		RelTolerance:   c.GetRelTolerance(),
		InitialDamping: c.GetInitialDamping(),
		MaxDamping:     c.GetMaxDamping(),
		Canonicalize:   c.GetCanonicalize(),
		Trace:          c.GetTrace(),
	}
}
