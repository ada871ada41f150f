package starfind

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/ifu.report/internal/ifu"
	"github.com/banshee-data/ifu.report/internal/monitoring"
)

// ErrNoSource reports that no pixel stands above the image noise floor by
// the required signal-to-noise. Recoverable: the frame is flagged and the
// batch continues.
var ErrNoSource = errors.New("starfind: no source above noise floor")

// Region is a cutout around a candidate source: a small 2-D image plus the
// absolute pixel origin of its (0,0) corner in the parent cube, so fitted
// centroids can be mapped back to cube coordinates.
type Region struct {
	Image *ifu.Image
	X0    int
	Y0    int

	// Inverted records that the cutout's flux summed negative after
	// background subtraction and was flipped before fitting. Seen on frames
	// where the upstream A-B sky pairing went wrong.
	Inverted bool
}

// LocateParams tunes source location. The zero value collapses the whole
// cube and uses the default cutout radius and detection threshold.
type LocateParams struct {
	// WindowLo and WindowHi bound the wavelength collapse, inclusive.
	// Negative values mean the full cube; the median collapse keeps strong
	// sky lines from dominating either way.
	WindowLo, WindowHi int

	// CutoutRadius is the half-width of the extracted square region.
	// Zero means DefaultCutoutRadius.
	CutoutRadius int

	// DetectionSigma is the minimum signal-to-noise of the peak over the
	// background. Zero means DefaultDetectionSigma.
	DetectionSigma float64

	// ExpectX, ExpectY and SearchRadius restrict the peak search to a disc
	// around a rough expected star position, so a cosmic-ray hit elsewhere
	// on the detector cannot win. A non-positive radius searches the whole
	// image.
	ExpectX, ExpectY float64
	SearchRadius     float64
}

const (
	// DefaultCutoutRadius fits a whole 14x14 IFU footprint around the peak.
	DefaultCutoutRadius = 7

	// DefaultDetectionSigma is the peak significance floor.
	DefaultDetectionSigma = 5.0
)

func (p LocateParams) cutoutRadius() int {
	if p.CutoutRadius <= 0 {
		return DefaultCutoutRadius
	}
	return p.CutoutRadius
}

func (p LocateParams) detectionSigma() float64 {
	if p.DetectionSigma <= 0 {
		return DefaultDetectionSigma
	}
	return p.DetectionSigma
}

// Locator finds the reference star's region in a cube. Implementations must
// be pure: same cube and params, same region.
type Locator interface {
	Locate(c *ifu.Cube, p LocateParams) (*Region, error)
}

// MaxPixelLocator is the default Locator: collapse the cube to an image,
// take the brightest pixel above a robust noise floor, and cut out a square
// region around it. Suited to sparse fields with one bright point source;
// crowded fields want a connected-component detector instead.
type MaxPixelLocator struct{}

// Locate implements Locator.
func (MaxPixelLocator) Locate(c *ifu.Cube, p LocateParams) (*Region, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("starfind: %w", err)
	}
	im := c.CollapseMedian(p.WindowLo, p.WindowHi)

	// Robust background statistics over the collapsed image.
	bg := ifu.NaNMedian(im.Data)
	noise := ifu.RobustSigma(ifu.NaNMAD(im.Data))
	if math.IsNaN(bg) {
		return nil, fmt.Errorf("%w: exposure %s detector %d collapsed to an empty image",
			ErrNoSource, c.ExposureID, c.Detector)
	}

	r2 := p.SearchRadius * p.SearchRadius
	peak := math.Inf(-1)
	px, py := -1, -1
	for y := 0; y < im.Rows; y++ {
		for x := 0; x < im.Cols; x++ {
			if p.SearchRadius > 0 {
				dx := float64(x) - p.ExpectX
				dy := float64(y) - p.ExpectY
				if dx*dx+dy*dy > r2 {
					continue
				}
			}
			if v := im.At(y, x); !math.IsNaN(v) && v > peak {
				peak, px, py = v, x, y
			}
		}
	}

	floor := bg + p.detectionSigma()*noise
	if px < 0 || peak <= bg || (noise > 0 && peak < floor) {
		return nil, fmt.Errorf("%w: exposure %s detector %d peak %.4g below floor %.4g",
			ErrNoSource, c.ExposureID, c.Detector, peak, floor)
	}

	region := cutout(im, px, py, p.cutoutRadius())
	if checkPolarity(region.Image) < 0 {
		monitoring.Logf("starfind: exposure %s detector %d: negative cutout flux, inverting",
			c.ExposureID, c.Detector)
		for i, v := range region.Image.Data {
			if !math.IsNaN(v) {
				region.Image.Data[i] = -v
			}
		}
		region.Inverted = true
	}
	return region, nil
}

// cutout extracts a square of half-width r centered on (px, py), clipped to
// the image bounds.
func cutout(im *ifu.Image, px, py, r int) *Region {
	x0, y0 := px-r, py-r
	x1, y1 := px+r, py+r
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 >= im.Cols {
		x1 = im.Cols - 1
	}
	if y1 >= im.Rows {
		y1 = im.Rows - 1
	}
	out := ifu.NewImage(y1-y0+1, x1-x0+1)
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			out.Set(y-y0, x-x0, im.At(y, x))
		}
	}
	return &Region{Image: out, X0: x0, Y0: y0}
}

// checkPolarity sums the background-subtracted flux of the cutout interior.
// A negative sum means the source came out in absorption and the cutout
// should be inverted before fitting.
func checkPolarity(im *ifu.Image) float64 {
	med := ifu.NaNMedian(im.Data)
	if math.IsNaN(med) {
		return 0
	}
	sum := 0.0
	for _, v := range im.Data {
		if !math.IsNaN(v) {
			sum += v - med
		}
	}
	return sum
}

var _ Locator = MaxPixelLocator{}
