package ifu

import (
	"fmt"
	"math"
)

// Cube is a single detector's data from one exposure: flux values indexed by
// wavelength channel and two spatial axes. Data is stored flat in
// channel-major order (channel, then row, then column). Masked or otherwise
// invalid pixels are NaN; every operation in the higher layers treats NaN as
// "no data" rather than zero.
type Cube struct {
	ExposureID string
	Detector   int

	Channels int
	Rows     int
	Cols     int

	// Data has length Channels*Rows*Cols. NaN marks masked pixels.
	Data []float64

	// Wave maps channel index to wavelength. Optional; a zero value means
	// the cube carries no wavelength solution.
	Wave WaveSolution
}

// WaveSolution is a linear channel-to-wavelength mapping, in whatever unit
// the upstream reduction wrote (typically microns).
type WaveSolution struct {
	RefChannel int     // channel index of the reference value
	RefValue   float64 // wavelength at RefChannel
	Delta      float64 // wavelength increment per channel
}

// Wavelength returns the wavelength of channel ch.
func (w WaveSolution) Wavelength(ch int) float64 {
	return w.RefValue + float64(ch-w.RefChannel)*w.Delta
}

// NewCube allocates a cube of the given geometry with every pixel masked.
func NewCube(channels, rows, cols int) *Cube {
	data := make([]float64, channels*rows*cols)
	for i := range data {
		data[i] = math.NaN()
	}
	return &Cube{Channels: channels, Rows: rows, Cols: cols, Data: data}
}

// Idx returns the flat index for (channel, row, column).
func (c *Cube) Idx(ch, y, x int) int {
	return (ch*c.Rows+y)*c.Cols + x
}

// At returns the value at (channel, row, column).
func (c *Cube) At(ch, y, x int) float64 {
	return c.Data[c.Idx(ch, y, x)]
}

// Set writes the value at (channel, row, column).
func (c *Cube) Set(ch, y, x int, v float64) {
	c.Data[c.Idx(ch, y, x)] = v
}

// SpatialSize returns the number of spatial pixels per channel.
func (c *Cube) SpatialSize() int {
	return c.Rows * c.Cols
}

// Validate checks that the declared geometry matches the backing slice.
func (c *Cube) Validate() error {
	if c.Channels <= 0 || c.Rows <= 0 || c.Cols <= 0 {
		return fmt.Errorf("cube %s det %d: non-positive geometry %dx%dx%d",
			c.ExposureID, c.Detector, c.Channels, c.Rows, c.Cols)
	}
	if want := c.Channels * c.Rows * c.Cols; len(c.Data) != want {
		return fmt.Errorf("cube %s det %d: data length %d, geometry wants %d",
			c.ExposureID, c.Detector, len(c.Data), want)
	}
	return nil
}

// Clone returns a deep copy of the cube.
func (c *Cube) Clone() *Cube {
	out := *c
	out.Data = make([]float64, len(c.Data))
	copy(out.Data, c.Data)
	return &out
}

// Channel returns the spatial slice of one channel. The returned slice
// aliases the cube's backing array.
func (c *Cube) Channel(ch int) []float64 {
	start := ch * c.Rows * c.Cols
	return c.Data[start : start+c.Rows*c.Cols]
}

// Scale multiplies every valid pixel by f in place. Used for exposure-time
// normalization and polarity inversion.
func (c *Cube) Scale(f float64) {
	for i, v := range c.Data {
		if !math.IsNaN(v) {
			c.Data[i] = v * f
		}
	}
}

// Image is a 2-D spatial map, same conventions as Cube (row-major, NaN =
// masked). Produced by wavelength collapses and consumed by source fitting.
type Image struct {
	Rows, Cols int
	Data       []float64 // length Rows*Cols
}

// NewImage allocates a fully masked image.
func NewImage(rows, cols int) *Image {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = math.NaN()
	}
	return &Image{Rows: rows, Cols: cols, Data: data}
}

// At returns the value at (row, column).
func (im *Image) At(y, x int) float64 { return im.Data[y*im.Cols+x] }

// Set writes the value at (row, column).
func (im *Image) Set(y, x int, v float64) { im.Data[y*im.Cols+x] = v }

// CollapseMedian collapses the cube along the wavelength axis with a
// per-pixel NaN-aware median over channels [lo, hi]. Passing lo < 0 or
// hi >= Channels clamps to the full range, so (-1, -1) collapses the whole
// cube. A pixel with no valid channel stays NaN.
func (c *Cube) CollapseMedian(lo, hi int) *Image {
	if lo < 0 {
		lo = 0
	}
	if hi < 0 || hi >= c.Channels {
		hi = c.Channels - 1
	}
	im := NewImage(c.Rows, c.Cols)
	buf := make([]float64, 0, hi-lo+1)
	for y := 0; y < c.Rows; y++ {
		for x := 0; x < c.Cols; x++ {
			buf = buf[:0]
			for ch := lo; ch <= hi; ch++ {
				if v := c.At(ch, y, x); !math.IsNaN(v) {
					buf = append(buf, v)
				}
			}
			if len(buf) > 0 {
				im.Set(y, x, Median(buf))
			}
		}
	}
	return im
}
