package ifu

import (
	"math"
	"testing"
)

func TestCubeIndexing(t *testing.T) {
	c := NewCube(3, 4, 5)
	if err := c.Validate(); err != nil {
		t.Fatalf("fresh cube invalid: %v", err)
	}

	c.Set(2, 3, 4, 7.5)
	if got := c.At(2, 3, 4); got != 7.5 {
		t.Fatalf("At(2,3,4) = %v, want 7.5", got)
	}
	if got := c.Data[c.Idx(2, 3, 4)]; got != 7.5 {
		t.Fatalf("flat index disagrees: %v", got)
	}

	// fresh pixels are masked
	if !math.IsNaN(c.At(0, 0, 0)) {
		t.Fatalf("fresh pixel not NaN")
	}
}

func TestCubeValidate(t *testing.T) {
	c := NewCube(2, 2, 2)
	c.Data = c.Data[:5]
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for truncated data")
	}

	c2 := &Cube{Channels: 0, Rows: 1, Cols: 1, Data: []float64{}}
	if err := c2.Validate(); err == nil {
		t.Fatal("expected error for zero channels")
	}
}

func TestCubeCloneIsDeep(t *testing.T) {
	c := NewCube(1, 2, 2)
	c.Set(0, 0, 0, 1.0)
	d := c.Clone()
	d.Set(0, 0, 0, 9.0)
	if c.At(0, 0, 0) != 1.0 {
		t.Fatalf("clone shares backing array")
	}
}

func TestChannelAliases(t *testing.T) {
	c := NewCube(2, 2, 2)
	plane := c.Channel(1)
	plane[0] = 3.0
	if c.At(1, 0, 0) != 3.0 {
		t.Fatalf("Channel should alias cube data")
	}
}

func TestCollapseMedian(t *testing.T) {
	c := NewCube(5, 2, 2)
	// pixel (0,0): values 1..5 -> median 3; pixel (0,1): one NaN channel
	for ch := 0; ch < 5; ch++ {
		c.Set(ch, 0, 0, float64(ch+1))
		if ch != 2 {
			c.Set(ch, 0, 1, 10)
		}
	}
	// pixel (1,1) left fully masked

	im := c.CollapseMedian(-1, -1)
	if got := im.At(0, 0); got != 3 {
		t.Fatalf("collapsed (0,0) = %v, want 3", got)
	}
	if got := im.At(0, 1); got != 10 {
		t.Fatalf("collapsed (0,1) = %v, want 10", got)
	}
	if !math.IsNaN(im.At(1, 1)) {
		t.Fatalf("fully masked pixel should stay NaN")
	}

	// window restricted to channels 3..4: pixel (0,0) medians 4.5
	im2 := c.CollapseMedian(3, 4)
	if got := im2.At(0, 0); got != 4.5 {
		t.Fatalf("windowed collapse = %v, want 4.5", got)
	}
}

func TestScaleSkipsMasked(t *testing.T) {
	c := NewCube(1, 1, 2)
	c.Set(0, 0, 0, 4)
	c.Scale(0.5)
	if c.At(0, 0, 0) != 2 {
		t.Fatalf("Scale did not apply")
	}
	if !math.IsNaN(c.At(0, 0, 1)) {
		t.Fatalf("Scale touched a masked pixel")
	}
}

func TestWaveSolution(t *testing.T) {
	w := WaveSolution{RefChannel: 10, RefValue: 2.0, Delta: 0.001}
	if got := w.Wavelength(10); got != 2.0 {
		t.Fatalf("Wavelength(ref) = %v", got)
	}
	if got := w.Wavelength(12); math.Abs(got-2.002) > 1e-12 {
		t.Fatalf("Wavelength(12) = %v, want 2.002", got)
	}
}
