package starfind

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/ifu.report/internal/ifu"
	"gonum.org/v1/gonum/optimize"
)

// ErrFitConvergence reports that the least-squares optimizer did not reach a
// usable minimum. Recoverable: the frame is flagged and the batch continues.
var ErrFitConvergence = errors.New("starfind: psf fit did not converge")

// ErrFitOutOfBounds reports a fit whose centroid or width left the cutout.
// Also recoverable.
var ErrFitOutOfBounds = errors.New("starfind: psf fit left the cutout")

// FWHMPerSigma converts a Gaussian sigma to full width at half maximum.
const FWHMPerSigma = 2.3548

// PSF holds the fitted point-spread-function model for one frame's star.
// X and Y are absolute cube coordinates (cutout origin already applied).
type PSF struct {
	Amplitude  float64 `json:"amplitude"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Sigma      float64 `json:"sigma"`
	Background float64 `json:"background"`

	// FWHM is FWHMPerSigma * Sigma, in pixels.
	FWHM float64 `json:"fwhm"`

	// Quality is the RMS of the fit residual normalized by the fitted
	// amplitude. Dimensionless; lower is better.
	Quality float64 `json:"quality"`
}

// FitPSF fits a symmetric 2-D Gaussian plus constant background to the
// region's cutout:
//
//	model(x, y) = bg + amp * exp(-((x-x0)^2 + (y-y0)^2) / (2*sigma^2))
//
// Free parameters are amplitude, centroid, sigma and background. The
// initial guess comes from the cutout's intensity-weighted centroid and a
// default width; minimization is derivative-free Nelder-Mead on the
// residual sum of squares over valid pixels.
func FitPSF(r *Region) (*PSF, error) {
	im := r.Image
	xs, ys, vs := validPixels(im)
	const nparams = 5
	if len(vs) <= nparams {
		return nil, fmt.Errorf("%w: only %d valid pixels in cutout", ErrFitConvergence, len(vs))
	}

	x0 := initialGuess(xs, ys, vs)

	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			amp, cx, cy, sig, bg := p[0], p[1], p[2], p[3], p[4]
			if sig == 0 {
				return math.Inf(1)
			}
			rss := 0.0
			inv := 1.0 / (2 * sig * sig)
			for i := range vs {
				dx := xs[i] - cx
				dy := ys[i] - cy
				d := bg + amp*math.Exp(-(dx*dx+dy*dy)*inv) - vs[i]
				rss += d * d
			}
			return rss
		},
	}

	result, err := optimize.Minimize(problem, x0, nil, &optimize.NelderMead{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFitConvergence, err)
	}

	amp, cx, cy, sig, bg := result.X[0], result.X[1], result.X[2], result.X[3], result.X[4]
	sig = math.Abs(sig) // the model is symmetric in sigma's sign
	for _, v := range []float64{amp, cx, cy, sig, bg} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite parameters", ErrFitConvergence)
		}
	}
	if amp <= 0 || sig <= 0 {
		return nil, fmt.Errorf("%w: amplitude %.4g sigma %.4g", ErrFitConvergence, amp, sig)
	}
	if cx < 0 || cx > float64(im.Cols-1) || cy < 0 || cy > float64(im.Rows-1) {
		return nil, fmt.Errorf("%w: centroid (%.2f, %.2f) outside %dx%d cutout",
			ErrFitOutOfBounds, cx, cy, im.Cols, im.Rows)
	}
	if sig > float64(max(im.Cols, im.Rows)) {
		return nil, fmt.Errorf("%w: sigma %.2f wider than cutout", ErrFitOutOfBounds, sig)
	}

	return &PSF{
		Amplitude:  amp,
		X:          float64(r.X0) + cx,
		Y:          float64(r.Y0) + cy,
		Sigma:      sig,
		Background: bg,
		FWHM:       FWHMPerSigma * sig,
		Quality:    math.Sqrt(result.F/float64(len(vs))) / amp,
	}, nil
}

// validPixels flattens the cutout into coordinate/value triples, dropping
// masked pixels.
func validPixels(im *ifu.Image) (xs, ys, vs []float64) {
	for y := 0; y < im.Rows; y++ {
		for x := 0; x < im.Cols; x++ {
			if v := im.At(y, x); !math.IsNaN(v) {
				xs = append(xs, float64(x))
				ys = append(ys, float64(y))
				vs = append(vs, v)
			}
		}
	}
	return xs, ys, vs
}

// initialGuess seeds the optimizer: background from the median, amplitude
// from the peak above background, centroid from the intensity-weighted mean
// of the background-subtracted flux, sigma from a typical seeing width.
func initialGuess(xs, ys, vs []float64) []float64 {
	med := ifu.NaNMedian(vs)
	peak := math.Inf(-1)
	for _, v := range vs {
		if v > peak {
			peak = v
		}
	}
	amp := peak - med
	if amp <= 0 {
		amp = 1
	}

	var sumW, sumX, sumY float64
	for i, v := range vs {
		w := v - med
		if w <= 0 {
			continue
		}
		sumW += w
		sumX += w * xs[i]
		sumY += w * ys[i]
	}
	cx, cy := 0.0, 0.0
	if sumW > 0 {
		cx, cy = sumX/sumW, sumY/sumW
	}

	const defaultSigma = 1.5
	return []float64{amp, cx, cy, defaultSigma, med}
}
