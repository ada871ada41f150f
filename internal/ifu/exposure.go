package ifu

import (
	"math"
	"path/filepath"
	"strings"
)

// ObservationMode classifies an exposure as an on-target science pointing or
// an offset sky pointing. Sky pointings populate only a handful of IFUs, so
// the classification is a simple count threshold.
type ObservationMode string

const (
	ModeScience ObservationMode = "science"
	ModeSky     ObservationMode = "sky"
)

// scienceIFUThreshold is the minimum number of populated IFUs for an
// exposure to count as a science pointing.
const scienceIFUThreshold = 5

// DetectorCount is the number of spectrograph detectors per exposure.
const DetectorCount = 3

// IFUFootprint is the side length, in spatial pixels, of one IFU's patch on
// a detector cube.
const IFUFootprint = 14

// Derived-product suffixes attached to an exposure identifier. Discovery
// must skip these so reprocessing never picks up its own outputs.
const (
	SuffixSkySpec = "_SKYSPEC"
	SuffixSkySub  = "_SKYSUB"
	SuffixFluxFix = "_FLUXFIX"
	SuffixStar    = "_star"
)

// ProductSuffixes lists every derived-product marker, for discovery filters.
var ProductSuffixes = []string{SuffixSkySpec, SuffixSkySub, SuffixFluxFix, SuffixStar}

// Exposure identifies one on-sky pointing. Identity (ID, Path) is fixed at
// construction; derived products are attached by the processing stages and
// named via the Suffix* constants so they are recognisable on disk.
type Exposure struct {
	ID   string // base name without extension; authoritative identifier
	Path string // where the exposure was discovered, if file-backed

	Mode            ObservationMode
	IntegrationTime float64 // seconds; 0 = unknown
	FluxNormalized  bool    // set once flux has been divided by IntegrationTime
}

// NewExposure builds an exposure from a discovered file path. The mode
// defaults to science until classified.
func NewExposure(path string) *Exposure {
	base := filepath.Base(path)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return &Exposure{ID: base, Path: path, Mode: ModeScience}
}

// ClassifyMode sets the observation mode from the number of IFUs carrying
// data.
func (e *Exposure) ClassifyMode(populatedIFUs int) ObservationMode {
	if populatedIFUs > scienceIFUThreshold {
		e.Mode = ModeScience
	} else {
		e.Mode = ModeSky
	}
	return e.Mode
}

// CountPopulatedIFUs tiles each cube's spatial field into IFU footprints and
// counts the tiles carrying any valid data. Nil cubes (failed detector
// loads) are skipped. The count feeds ClassifyMode.
func CountPopulatedIFUs(cubes ...*Cube) int {
	n := 0
	for _, c := range cubes {
		if c == nil {
			continue
		}
		for y0 := 0; y0 < c.Rows; y0 += IFUFootprint {
			for x0 := 0; x0 < c.Cols; x0 += IFUFootprint {
				if tileHasData(c, y0, x0) {
					n++
				}
			}
		}
	}
	return n
}

func tileHasData(c *Cube, y0, x0 int) bool {
	y1 := min(y0+IFUFootprint, c.Rows)
	x1 := min(x0+IFUFootprint, c.Cols)
	for ch := 0; ch < c.Channels; ch++ {
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				if !math.IsNaN(c.At(ch, y, x)) {
					return true
				}
			}
		}
	}
	return false
}

// SkySpecID returns the identifier for this exposure's residual-spectrum
// product.
func (e *Exposure) SkySpecID() string { return e.ID + SuffixSkySpec }

// SkySubID returns the identifier for this exposure's sky-corrected cubes.
func (e *Exposure) SkySubID() string { return e.ID + SuffixSkySub }

// FluxFixID returns the identifier for this exposure's flux-normalized cubes.
func (e *Exposure) FluxFixID() string { return e.ID + SuffixFluxFix }

// NormalizeFlux divides every valid pixel of the given cubes by the
// exposure's integration time. It is a no-op if the time is unknown or the
// exposure was already normalized; the flag keeps the correction from being
// applied twice. Pass all of the exposure's detector cubes in one call.
func (e *Exposure) NormalizeFlux(cubes ...*Cube) bool {
	if e.FluxNormalized || e.IntegrationTime <= 0 {
		return false
	}
	for _, c := range cubes {
		c.Scale(1.0 / e.IntegrationTime)
	}
	e.FluxNormalized = true
	return true
}

// IsDerivedProduct reports whether an exposure identifier names a processing
// output rather than a raw reconstructed exposure.
func IsDerivedProduct(id string) bool {
	for _, s := range ProductSuffixes {
		if strings.Contains(id, s) {
			return true
		}
	}
	return false
}
