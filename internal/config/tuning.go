// Package config loads the batch tuning parameters. The schema is a flat
// JSON object with every field optional, so partial configs are safe and
// the Get* methods supply defaults for anything omitted.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/ifu.report/internal/units"
)

// TuningConfig holds every knob the sky-residual and star-offset stages
// expose. Fields are pointers so "absent" and "zero" stay distinguishable.
type TuningConfig struct {
	// Sky-residual params
	MinValidFraction  *float64 `json:"min_valid_fraction,omitempty"`
	StarExcludeRadius *float64 `json:"star_exclude_radius,omitempty"`
	ScaledSubtraction *bool    `json:"scaled_subtraction,omitempty"`

	// Star-finding params
	StarDetector   *int     `json:"star_detector,omitempty"`
	CutoutRadius   *int     `json:"cutout_radius,omitempty"`
	DetectionSigma *float64 `json:"detection_sigma,omitempty"`
	WindowLo       *int     `json:"window_lo,omitempty"`
	WindowHi       *int     `json:"window_hi,omitempty"`
	StarExpectX    *float64 `json:"star_expect_x,omitempty"`
	StarExpectY    *float64 `json:"star_expect_y,omitempty"`
	SearchRadius   *float64 `json:"star_search_radius,omitempty"`

	// Frame filter params
	PSFCut *float64 `json:"psf_cut,omitempty"`
	EdgeX  *float64 `json:"edge_x,omitempty"`
	EdgeY  *float64 `json:"edge_y,omitempty"`

	// Offset resolution
	Reference  *string  `json:"reference,omitempty"`   // "first" or "best"
	PixelScale *float64 `json:"pixel_scale,omitempty"` // arcsec per pixel

	// Batch execution
	Workers *int `json:"workers,omitempty"`
}

// Defaults, applied by the Get* methods when a field is absent.
const (
	DefaultMinValidFraction  = 0.2
	DefaultStarExcludeRadius = 0.0 // disabled unless configured
	DefaultStarDetector      = 1
	DefaultCutoutRadius      = 7
	DefaultDetectionSigma    = 5.0
	DefaultPSFCut            = 0.8
	DefaultEdge              = 2.0
	DefaultReference         = "first"
	DefaultPixelScale        = units.DefaultPixelScale
	DefaultWorkers           = 4
)

// Load reads a TuningConfig from a JSON file. Passing an empty path returns
// an empty config (all defaults).
func Load(path string) (*TuningConfig, error) {
	cfg := &TuningConfig{}
	if path == "" {
		return cfg, nil
	}
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate rejects values outside their meaningful ranges.
func (c *TuningConfig) Validate() error {
	if c.MinValidFraction != nil && (*c.MinValidFraction <= 0 || *c.MinValidFraction > 1) {
		return fmt.Errorf("min_valid_fraction must be in (0, 1], got %v", *c.MinValidFraction)
	}
	if c.PSFCut != nil && (*c.PSFCut <= 0 || *c.PSFCut > 1) {
		return fmt.Errorf("psf_cut must be in (0, 1], got %v", *c.PSFCut)
	}
	if c.DetectionSigma != nil && *c.DetectionSigma <= 0 {
		return fmt.Errorf("detection_sigma must be positive, got %v", *c.DetectionSigma)
	}
	if c.CutoutRadius != nil && *c.CutoutRadius < 2 {
		return fmt.Errorf("cutout_radius must be at least 2, got %v", *c.CutoutRadius)
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %v", *c.Workers)
	}
	if c.Reference != nil && *c.Reference != "first" && *c.Reference != "best" {
		return fmt.Errorf("reference must be \"first\" or \"best\", got %q", *c.Reference)
	}
	if c.StarDetector != nil && *c.StarDetector < 1 {
		return fmt.Errorf("star_detector must be at least 1, got %v", *c.StarDetector)
	}
	if c.PixelScale != nil && *c.PixelScale <= 0 {
		return fmt.Errorf("pixel_scale must be positive, got %v", *c.PixelScale)
	}
	if c.SearchRadius != nil && *c.SearchRadius < 0 {
		return fmt.Errorf("star_search_radius must not be negative, got %v", *c.SearchRadius)
	}
	if c.WindowLo != nil && c.WindowHi != nil && *c.WindowHi >= 0 && *c.WindowLo > *c.WindowHi {
		return fmt.Errorf("window_lo %d exceeds window_hi %d", *c.WindowLo, *c.WindowHi)
	}
	return nil
}

func (c *TuningConfig) GetMinValidFraction() float64 {
	if c.MinValidFraction != nil {
		return *c.MinValidFraction
	}
	return DefaultMinValidFraction
}

func (c *TuningConfig) GetStarExcludeRadius() float64 {
	if c.StarExcludeRadius != nil {
		return *c.StarExcludeRadius
	}
	return DefaultStarExcludeRadius
}

// GetScaledSubtraction reports whether subtraction fits a per-spaxel
// residual amplitude instead of subtracting the spectrum as-is.
func (c *TuningConfig) GetScaledSubtraction() bool {
	if c.ScaledSubtraction != nil {
		return *c.ScaledSubtraction
	}
	return true
}

func (c *TuningConfig) GetStarDetector() int {
	if c.StarDetector != nil {
		return *c.StarDetector
	}
	return DefaultStarDetector
}

func (c *TuningConfig) GetCutoutRadius() int {
	if c.CutoutRadius != nil {
		return *c.CutoutRadius
	}
	return DefaultCutoutRadius
}

func (c *TuningConfig) GetDetectionSigma() float64 {
	if c.DetectionSigma != nil {
		return *c.DetectionSigma
	}
	return DefaultDetectionSigma
}

// GetStarSearch returns the rough expected star position and the search
// radius around it. A zero radius means the whole image is searched.
func (c *TuningConfig) GetStarSearch() (x, y, radius float64) {
	if c.StarExpectX != nil {
		x = *c.StarExpectX
	}
	if c.StarExpectY != nil {
		y = *c.StarExpectY
	}
	if c.SearchRadius != nil {
		radius = *c.SearchRadius
	}
	return x, y, radius
}

// GetWindow returns the wavelength collapse window; (-1, -1) means the full
// cube.
func (c *TuningConfig) GetWindow() (lo, hi int) {
	lo, hi = -1, -1
	if c.WindowLo != nil {
		lo = *c.WindowLo
	}
	if c.WindowHi != nil {
		hi = *c.WindowHi
	}
	return lo, hi
}

func (c *TuningConfig) GetPSFCut() float64 {
	if c.PSFCut != nil {
		return *c.PSFCut
	}
	return DefaultPSFCut
}

func (c *TuningConfig) GetEdgeX() float64 {
	if c.EdgeX != nil {
		return *c.EdgeX
	}
	return DefaultEdge
}

func (c *TuningConfig) GetEdgeY() float64 {
	if c.EdgeY != nil {
		return *c.EdgeY
	}
	return DefaultEdge
}

func (c *TuningConfig) GetReference() string {
	if c.Reference != nil {
		return *c.Reference
	}
	return DefaultReference
}

// GetPixelScale returns the plate scale in arcseconds per pixel.
func (c *TuningConfig) GetPixelScale() float64 {
	if c.PixelScale != nil {
		return *c.PixelScale
	}
	return DefaultPixelScale
}

func (c *TuningConfig) GetWorkers() int {
	if c.Workers != nil {
		return *c.Workers
	}
	return DefaultWorkers
}
