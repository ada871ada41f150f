package pipeline

import (
	"math"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ifu.report/internal/cubestore"
	"github.com/banshee-data/ifu.report/internal/ifu"
	"github.com/banshee-data/ifu.report/internal/offsets"
	"github.com/banshee-data/ifu.report/internal/skyres"
)

func TestForEach(t *testing.T) {
	for _, workers := range []int{0, 1, 3, 16} {
		var calls int64
		out := make([]int, 10)
		forEach(workers, len(out), func(i int) {
			out[i] = i * i
			atomic.AddInt64(&calls, 1)
		})
		assert.EqualValues(t, 10, calls, "workers=%d", workers)
		for i, v := range out {
			assert.Equal(t, i*i, v)
		}
	}
	// zero jobs must not hang
	forEach(4, 0, func(int) { t.Fatal("unexpected call") })
}

// residualCube fills a cube with a flat residual per channel plus a fixed
// per-spaxel offset, something sky subtraction must remove exactly.
func residualCube(id string, residual []float64) *ifu.Cube {
	c := ifu.NewCube(len(residual), 4, 4)
	c.ExposureID = id
	c.Detector = 1
	for ch, r := range residual {
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				c.Set(ch, y, x, r)
			}
		}
	}
	return c
}

func TestSkyCorrect(t *testing.T) {
	store := cubestore.NewMemStore()
	residual := []float64{1.5, -0.5, 2.0}
	require.NoError(t, store.Save("exp01", 1, residualCube("exp01", residual)))
	require.NoError(t, store.Save("exp02", 1, residualCube("exp02", residual)))

	params := SkyParams{Detectors: 1}
	results := SkyCorrect(store, []string{"exp01", "exp02"}, params, 2)

	require.Len(t, results, 2)
	for i, id := range []string{"exp01", "exp02"} {
		res := results[i]
		assert.Equal(t, id, res.ExposureID)
		require.NoError(t, res.Err)
		require.Len(t, res.Spectra, 1)
		require.NotNil(t, res.Spectra[0])
		for ch, want := range residual {
			assert.InDelta(t, want, res.Spectra[0].Values[ch], 1e-9)
		}

		corrected, err := store.Load(id+"_SKYSUB", 1)
		require.NoError(t, err)
		for ch := 0; ch < 3; ch++ {
			for y := 0; y < 4; y++ {
				for x := 0; x < 4; x++ {
					assert.InDelta(t, 0, corrected.At(ch, y, x), 1e-9)
				}
			}
		}

		// the subtracted spectrum is persisted alongside the corrected cube
		saved, err := store.LoadSpectrum(id+"_SKYSPEC", 1)
		require.NoError(t, err)
		assert.Equal(t, res.Spectra[0], saved)
	}
}

func TestSkyCorrectContinuesPastFailures(t *testing.T) {
	store := cubestore.NewMemStore()
	require.NoError(t, store.Save("good", 1, residualCube("good", []float64{1, 2})))
	// "missing" never saved

	results := SkyCorrect(store, []string{"missing", "good"}, SkyParams{Detectors: 1}, 1)

	require.Len(t, results, 2)
	assert.Error(t, results[0].Err)
	assert.NoError(t, results[1].Err)

	_, err := store.Load("good_SKYSUB", 1)
	assert.NoError(t, err)
}

// discCube has a flat pedestal of 10 inside a disc and zeros outside, so
// excluding the disc yields a zero residual and subtraction leaves the
// pedestal in place.
func discCube(id string, rows, cols int, cx, cy, r float64) *ifu.Cube {
	c := ifu.NewCube(1, rows, cols)
	c.ExposureID = id
	c.Detector = 1
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			if dx*dx+dy*dy <= r*r {
				c.Set(0, y, x, 10)
			} else {
				c.Set(0, y, x, 0)
			}
		}
	}
	return c
}

func TestSkyCorrectRezeroScienceOnly(t *testing.T) {
	store := cubestore.NewMemStore()

	// a 4x4 field is a single IFU footprint: sky pointing
	require.NoError(t, store.Save("skyexp", 1, discCube("skyexp", 4, 4, 1.5, 1.5, 1.9)))
	results := SkyCorrect(store, []string{"skyexp"}, SkyParams{
		Estimator: skyres.EstimatorParams{StarX: 1.5, StarY: 1.5, StarExcludeRadius: 1.9},
		Rezero:    true,
		Detectors: 1,
	}, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, ifu.ModeSky, results[0].Mode)

	skyCorrected, err := store.Load("skyexp_SKYSUB", 1)
	require.NoError(t, err)
	// sky pointings keep their median: the pedestal survives
	assert.InDelta(t, 10, skyCorrected.At(0, 1, 1), 1e-9)

	// a 25x40 field spans six footprints: science pointing
	require.NoError(t, store.Save("sciexp", 1, discCube("sciexp", 25, 40, 20, 12, 15)))
	results = SkyCorrect(store, []string{"sciexp"}, SkyParams{
		Estimator: skyres.EstimatorParams{StarX: 20, StarY: 12, StarExcludeRadius: 15},
		Rezero:    true,
		Detectors: 1,
	}, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, ifu.ModeScience, results[0].Mode)

	sciCorrected, err := store.Load("sciexp_SKYSUB", 1)
	require.NoError(t, err)
	// science pointings are re-zeroed: the pedestal median is gone
	assert.InDelta(t, 0, sciCorrected.At(0, 12, 20), 1e-9)
}

func TestSkyCorrectNormalizesFlux(t *testing.T) {
	store := cubestore.NewMemStore()
	require.NoError(t, store.Save("raw", 1, residualCube("raw", []float64{2.0, 4.0})))

	params := SkyParams{Detectors: 1, IntegrationTime: 2.0}
	results := SkyCorrect(store, []string{"raw"}, params, 1)

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.NotNil(t, results[0].Spectra[0])

	// the residual spectrum is measured after the counts are divided by the
	// integration time
	assert.InDelta(t, 1.0, results[0].Spectra[0].Values[0], 1e-9)
	assert.InDelta(t, 2.0, results[0].Spectra[0].Values[1], 1e-9)

	corrected, err := store.Load("raw_SKYSUB", 1)
	require.NoError(t, err)
	for ch := 0; ch < 2; ch++ {
		assert.InDelta(t, 0, corrected.At(ch, 2, 2), 1e-9)
	}
}

// starCube renders a single-channel cube with one Gaussian star on a noisy
// background.
func starCube(id string, cx, cy, sigma float64, seed int64) *ifu.Cube {
	rng := rand.New(rand.NewSource(seed))
	c := ifu.NewCube(1, 25, 40)
	c.ExposureID = id
	c.Detector = 1
	for y := 0; y < 25; y++ {
		for x := 0; x < 40; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			v := 100*math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma)) + 0.5*rng.NormFloat64()
			c.Set(0, y, x, v)
		}
	}
	return c
}

// noiseCube has no source at all.
func noiseCube(id string, seed int64) *ifu.Cube {
	rng := rand.New(rand.NewSource(seed))
	c := ifu.NewCube(1, 25, 40)
	c.ExposureID = id
	c.Detector = 1
	for i := range c.Data {
		c.Data[i] = rng.NormFloat64()
	}
	return c
}

func TestStarOffsets(t *testing.T) {
	store := cubestore.NewMemStore()
	require.NoError(t, store.Save("f1", 1, starCube("f1", 20.0, 10.0, 1.5, 101)))
	require.NoError(t, store.Save("f2", 1, starCube("f2", 22.0, 9.0, 1.5, 102)))
	require.NoError(t, store.Save("f3", 1, starCube("f3", 20.5, 10.5, 3.0, 103))) // twice the width
	require.NoError(t, store.Save("f4", 1, noiseCube("f4", 104)))                 // no star

	params := StarParams{
		Detector: 1,
		Filter:   offsets.WidthRatioCut{Cut: 0.8},
	}
	result, err := StarOffsetsWorkers(store, []string{"f1", "f2", "f3", "f4"}, params, 4)
	require.NoError(t, err)

	// full table keeps every frame in input order
	require.Equal(t, 4, result.Table.Len())
	for i, id := range []string{"f1", "f2", "f3", "f4"} {
		assert.Equal(t, id, result.Table.Rows[i].FrameID)
	}
	assert.True(t, result.Table.Rows[0].Valid)
	assert.True(t, result.Table.Rows[1].Valid)
	assert.True(t, result.Table.Rows[2].Valid)
	assert.False(t, result.Table.Rows[3].Valid)
	assert.NotEmpty(t, result.Table.Rows[3].Note)

	// wide frame and failed frame rejected
	assert.Equal(t, []bool{true, true, false, false}, result.Accepted)
	require.Equal(t, 2, result.AcceptedTable.Len())

	// shifts anchored on f1, 1:1 with the manifest
	require.NoError(t, offsets.CheckAligned(result.Shifts, result.Manifest))
	assert.Equal(t, offsets.Manifest{"f1", "f2"}, result.Manifest)
	assert.InDelta(t, 0, result.Shifts[0].DX, 1e-9)
	assert.InDelta(t, 0, result.Shifts[0].DY, 1e-9)
	assert.InDelta(t, -2.0, result.Shifts[1].DX, 0.1)
	assert.InDelta(t, 1.0, result.Shifts[1].DY, 0.1)
}

func TestStarOffsetsEmptyFrameList(t *testing.T) {
	_, err := StarOffsets(cubestore.NewMemStore(), nil, StarParams{})
	require.Error(t, err)
}

func TestStarOffsetsNothingAccepted(t *testing.T) {
	store := cubestore.NewMemStore()
	require.NoError(t, store.Save("n1", 1, noiseCube("n1", 201)))
	require.NoError(t, store.Save("n2", 1, noiseCube("n2", 202)))

	result, err := StarOffsets(store, []string{"n1", "n2"}, StarParams{Detector: 1})
	require.NoError(t, err)

	assert.Equal(t, []bool{false, false}, result.Accepted)
	assert.Empty(t, result.Shifts)
	assert.Empty(t, result.Manifest)
	assert.Equal(t, 2, result.Table.Len())
}

func TestSkyCorrectThenOffsets(t *testing.T) {
	// stars plus a sky pedestal: correction removes the pedestal, offsets
	// then run against the corrected cubes.
	store := cubestore.NewMemStore()
	for i, pos := range []struct{ x, y float64 }{{20, 10}, {18.5, 11.5}} {
		id := []string{"s1", "s2"}[i]
		c := starCube(id, pos.x, pos.y, 1.5, int64(300+i))
		for j := range c.Data {
			c.Data[j] += 25 // pedestal
		}
		require.NoError(t, store.Save(id, 1, c))
	}

	sky := SkyParams{
		Estimator: skyres.EstimatorParams{StarX: 20, StarY: 10, StarExcludeRadius: 6},
		Rezero:    true,
		Detectors: 1,
	}
	results := SkyCorrect(store, []string{"s1", "s2"}, sky, 2)
	for _, res := range results {
		require.NoError(t, res.Err)
	}

	result, err := StarOffsets(store, []string{"s1_SKYSUB", "s2_SKYSUB"}, StarParams{Detector: 1})
	require.NoError(t, err)
	require.Equal(t, offsets.Manifest{"s1_SKYSUB", "s2_SKYSUB"}, result.Manifest)
	assert.InDelta(t, 1.5, result.Shifts[1].DX, 0.1)
	assert.InDelta(t, -1.5, result.Shifts[1].DY, 0.1)
}
