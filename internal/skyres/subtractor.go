package skyres

import (
	"fmt"
	"math"

	"github.com/banshee-data/ifu.report/internal/ifu"
	"gonum.org/v1/gonum/floats"
)

// SubtractResidual returns a new cube with the residual spectrum removed:
// out[ch,y,x] = in[ch,y,x] - spec.Values[ch] for every valid pixel. Masked
// (NaN) pixels pass through unchanged, as do flagged channels (their
// residual is zero by construction).
//
// The input cube is never mutated. A channel-count mismatch is fatal and
// returns ErrDimensionMismatch before any work is done.
//
// Subtraction is additive, not idempotent: the spectrum must have been
// estimated from this cube's current contents, and applied exactly once.
func SubtractResidual(c *ifu.Cube, spec *Spectrum) (*ifu.Cube, error) {
	if spec.Channels() != c.Channels {
		return nil, fmt.Errorf("%w: spectrum has %d channels, cube %s detector %d has %d",
			ErrDimensionMismatch, spec.Channels(), c.ExposureID, c.Detector, c.Channels)
	}
	out := c.Clone()
	for ch := 0; ch < out.Channels; ch++ {
		plane := out.Channel(ch)
		r := spec.Values[ch]
		for i, v := range plane {
			if !math.IsNaN(v) {
				plane[i] = v - r
			}
		}
	}
	return out, nil
}

// SubtractResidualScaled removes the residual spectrum with a per-spaxel
// amplitude: each spatial pixel (y,x) gets the scale A minimizing
//
//	sum_ch ((f[ch,y,x] - A*s[ch]) / sigma[ch])^2
//
// where sigma is the per-channel standard error of the spatial flux. This
// absorbs spaxel-to-spaxel variation in how strongly the residual imprints.
// The returned image holds the fitted scales (NaN where a spaxel had no
// usable data, scale 1 where the spectrum carries no information).
//
// Same contract as SubtractResidual: input untouched, mismatch is fatal.
func SubtractResidualScaled(c *ifu.Cube, spec *Spectrum) (*ifu.Cube, *ifu.Image, error) {
	if spec.Channels() != c.Channels {
		return nil, nil, fmt.Errorf("%w: spectrum has %d channels, cube %s detector %d has %d",
			ErrDimensionMismatch, spec.Channels(), c.ExposureID, c.Detector, c.Channels)
	}

	// Per-channel standard error of the spatial flux, used as fit weights.
	sigma := make([]float64, c.Channels)
	for ch := range sigma {
		sigma[ch] = ifu.NaNStdErr(c.Channel(ch))
	}

	out := c.Clone()
	scales := ifu.NewImage(c.Rows, c.Cols)

	spax := make([]float64, c.Channels)
	for y := 0; y < c.Rows; y++ {
		for x := 0; x < c.Cols; x++ {
			valid := 0
			for ch := 0; ch < c.Channels; ch++ {
				spax[ch] = c.At(ch, y, x)
				if !math.IsNaN(spax[ch]) {
					valid++
				}
			}
			if valid == 0 {
				continue
			}
			a := FitScale(spec.Values, spax, sigma)
			scales.Set(y, x, a)
			for ch := 0; ch < c.Channels; ch++ {
				if v := out.At(ch, y, x); !math.IsNaN(v) {
					out.Set(ch, y, x, v-a*spec.Values[ch])
				}
			}
		}
	}
	return out, scales, nil
}

// FitScale returns the weighted least-squares amplitude A minimizing
// sum(((data - A*sky) / sigma)^2) over the channels where all three inputs
// are finite. The solution is closed-form: A = <data,sky>_w / <sky,sky>_w.
// When the sky spectrum carries no information the scale falls back to 1.
func FitScale(sky, data, sigma []float64) float64 {
	wd := make([]float64, 0, len(sky))
	ws := make([]float64, 0, len(sky))
	ss := make([]float64, 0, len(sky))
	for i := range sky {
		if math.IsNaN(sky[i]) || math.IsNaN(data[i]) {
			continue
		}
		w := 1.0
		if i < len(sigma) && !math.IsNaN(sigma[i]) && sigma[i] > 0 {
			w = 1.0 / (sigma[i] * sigma[i])
		}
		wd = append(wd, w*data[i])
		ws = append(ws, w*sky[i])
		ss = append(ss, sky[i])
	}
	if len(ss) == 0 {
		return 1.0
	}
	denom := floats.Dot(ws, ss)
	if denom == 0 || math.IsNaN(denom) {
		return 1.0
	}
	return floats.Dot(wd, ss) / denom
}

// RezeroMedian subtracts the cube's global median from every valid pixel,
// pinning the corrected background to zero. Applied to science cubes after
// residual subtraction; sky cubes keep their levels. Returns the median
// that was removed.
func RezeroMedian(c *ifu.Cube) float64 {
	med := ifu.NaNMedian(c.Data)
	if math.IsNaN(med) {
		return 0
	}
	for i, v := range c.Data {
		if !math.IsNaN(v) {
			c.Data[i] = v - med
		}
	}
	return med
}
