package skyres

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/ifu.report/internal/ifu"
	"github.com/banshee-data/ifu.report/internal/monitoring"
)

// ErrDataQuality reports that residual estimation had too few valid pixels
// to produce anything usable. Individual low-coverage channels are flagged
// and zeroed instead; the error is returned only when the whole cube is
// unusable.
var ErrDataQuality = errors.New("skyres: insufficient valid pixels for residual estimation")

// ErrDimensionMismatch reports a residual spectrum applied to a cube with a
// different channel count. This is a caller-contract violation and aborts
// the operation; nothing is mutated.
var ErrDimensionMismatch = errors.New("skyres: spectrum channel count does not match cube")

// Spectrum is a per-detector 1-D residual correction, one value per
// wavelength channel. Flagged channels had too little valid data; their
// value is pinned to zero so subtraction passes them through untouched.
//
// A Spectrum is derived from one cube and is only meaningful against that
// cube's pre-subtraction state: subtract it exactly once.
type Spectrum struct {
	ExposureID string `json:"exposure_id"`
	Detector   int    `json:"detector"`

	Values  []float64 `json:"values"`
	Flagged []bool    `json:"flagged"`
}

// Channels returns the spectrum length.
func (s *Spectrum) Channels() int { return len(s.Values) }

// Clone returns a deep copy of the spectrum.
func (s *Spectrum) Clone() *Spectrum {
	out := *s
	out.Values = make([]float64, len(s.Values))
	copy(out.Values, s.Values)
	out.Flagged = make([]bool, len(s.Flagged))
	copy(out.Flagged, s.Flagged)
	return &out
}

// FlaggedCount returns how many channels were degraded to zero.
func (s *Spectrum) FlaggedCount() int {
	n := 0
	for _, f := range s.Flagged {
		if f {
			n++
		}
	}
	return n
}

// EstimatorParams tunes residual estimation. The zero value disables the
// star exclusion disc and uses the default coverage floor.
type EstimatorParams struct {
	// MinValidFraction is the minimum fraction of spatial pixels that must
	// be valid in a channel for its residual to be trusted. Channels below
	// the floor are flagged and zeroed. Zero means the default (0.2).
	MinValidFraction float64

	// StarX, StarY and StarExcludeRadius define an exclusion disc around a
	// known source so its flux never biases the residual. A non-positive
	// radius disables the exclusion.
	StarX, StarY      float64
	StarExcludeRadius float64
}

// DefaultMinValidFraction is the coverage floor applied when
// EstimatorParams.MinValidFraction is zero.
const DefaultMinValidFraction = 0.2

func (p EstimatorParams) minValidFraction() float64 {
	if p.MinValidFraction <= 0 {
		return DefaultMinValidFraction
	}
	return p.MinValidFraction
}

// EstimateResidual collapses the cube's spatial dimensions into a residual
// spectrum: for each wavelength channel, the median of the valid spatial
// pixels outside the star exclusion disc. It is a pure function of the cube
// and params.
//
// Channels with coverage below MinValidFraction are flagged and set to
// zero. If every channel is flagged the spectrum is useless and
// ErrDataQuality is returned.
func EstimateResidual(c *ifu.Cube, p EstimatorParams) (*Spectrum, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("skyres: %w", err)
	}

	excluded := exclusionMask(c, p)
	minFrac := p.minValidFraction()
	total := c.SpatialSize()

	spec := &Spectrum{
		ExposureID: c.ExposureID,
		Detector:   c.Detector,
		Values:     make([]float64, c.Channels),
		Flagged:    make([]bool, c.Channels),
	}

	buf := make([]float64, 0, total)
	flagged := 0
	for ch := 0; ch < c.Channels; ch++ {
		plane := c.Channel(ch)
		buf = buf[:0]
		for i, v := range plane {
			if excluded[i] || math.IsNaN(v) {
				continue
			}
			buf = append(buf, v)
		}
		if float64(len(buf)) < minFrac*float64(total) {
			spec.Flagged[ch] = true
			flagged++
			continue
		}
		spec.Values[ch] = ifu.Median(buf)
	}

	if flagged == c.Channels {
		return nil, fmt.Errorf("%w: exposure %s detector %d has no channel with %.0f%% coverage",
			ErrDataQuality, c.ExposureID, c.Detector, minFrac*100)
	}
	if flagged > 0 {
		monitoring.Logf("skyres: exposure %s detector %d: %d/%d channels below %.0f%% coverage, zeroed",
			c.ExposureID, c.Detector, flagged, c.Channels, minFrac*100)
	}
	return spec, nil
}

// exclusionMask marks spatial pixels inside the star exclusion disc.
func exclusionMask(c *ifu.Cube, p EstimatorParams) []bool {
	mask := make([]bool, c.SpatialSize())
	if p.StarExcludeRadius <= 0 {
		return mask
	}
	r2 := p.StarExcludeRadius * p.StarExcludeRadius
	for y := 0; y < c.Rows; y++ {
		for x := 0; x < c.Cols; x++ {
			dx := float64(x) - p.StarX
			dy := float64(y) - p.StarY
			if dx*dx+dy*dy <= r2 {
				mask[y*c.Cols+x] = true
			}
		}
	}
	return mask
}
