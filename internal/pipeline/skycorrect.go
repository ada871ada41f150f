package pipeline

import (
	"fmt"

	"github.com/banshee-data/ifu.report/internal/cubestore"
	"github.com/banshee-data/ifu.report/internal/ifu"
	"github.com/banshee-data/ifu.report/internal/monitoring"
	"github.com/banshee-data/ifu.report/internal/skyres"
)

// SkyParams tunes the sky-residual correction stage.
type SkyParams struct {
	// Estimator is passed through to residual estimation per detector.
	Estimator skyres.EstimatorParams

	// Scaled selects per-spaxel amplitude fitting during subtraction.
	Scaled bool

	// Rezero pins the corrected cube's global median to zero afterwards.
	Rezero bool

	// IntegrationTime, when positive, divides every cube's flux by the
	// exposure time before estimation. For upstream reductions that left
	// counts unnormalized.
	IntegrationTime float64

	// Detectors is the number of detectors per exposure. Zero means
	// ifu.DetectorCount.
	Detectors int
}

func (p SkyParams) detectors() int {
	if p.Detectors <= 0 {
		return ifu.DetectorCount
	}
	return p.Detectors
}

// SkyResult is one exposure's outcome: the observation mode it classified
// as, the residual spectra that were subtracted (one per detector, nil
// where that detector failed) and the first error encountered. A failed
// exposure never aborts the batch.
type SkyResult struct {
	ExposureID string
	Mode       ifu.ObservationMode
	Spectra    []*skyres.Spectrum
	Err        error
}

// SkyCorrect runs residual estimation and subtraction for every exposure,
// writing corrected cubes back to the store under the exposure's
// sky-subtracted product identifier. Exposures are processed concurrently;
// results come back in input order.
func SkyCorrect(store cubestore.Store, exposureIDs []string, p SkyParams, workers int) []SkyResult {
	results := make([]SkyResult, len(exposureIDs))
	forEach(workers, len(exposureIDs), func(i int) {
		results[i] = skyCorrectOne(store, exposureIDs[i], p)
	})
	return results
}

func skyCorrectOne(store cubestore.Store, exposureID string, p SkyParams) SkyResult {
	res := SkyResult{
		ExposureID: exposureID,
		Spectra:    make([]*skyres.Spectrum, p.detectors()),
	}
	exp := ifu.Exposure{ID: exposureID, IntegrationTime: p.IntegrationTime}

	// Load every detector up front so flux normalization applies to the
	// whole exposure exactly once.
	cubes := make([]*ifu.Cube, p.detectors())
	var loaded []*ifu.Cube
	for det := 1; det <= p.detectors(); det++ {
		cube, err := store.Load(exposureID, det)
		if err != nil {
			res.Err = firstErr(res.Err, err)
			monitoring.Logf("pipeline: skycorr %s det %d: load failed: %v", exposureID, det, err)
			continue
		}
		cubes[det-1] = cube
		loaded = append(loaded, cube)
	}
	if len(loaded) > 0 && exp.NormalizeFlux(loaded...) {
		monitoring.Logf("pipeline: skycorr %s: flux divided by %.1fs integration time", exposureID, p.IntegrationTime)
	}

	// Sky pointings populate only a few IFUs; they still get residual
	// correction but keep their median untouched.
	res.Mode = exp.ClassifyMode(ifu.CountPopulatedIFUs(loaded...))
	if res.Mode == ifu.ModeSky {
		monitoring.Debugf("pipeline: skycorr %s: classified as sky pointing", exposureID)
	}

	for det := 1; det <= p.detectors(); det++ {
		cube := cubes[det-1]
		if cube == nil {
			continue
		}

		spec, err := skyres.EstimateResidual(cube, p.Estimator)
		if err != nil {
			res.Err = firstErr(res.Err, err)
			monitoring.Logf("pipeline: skycorr %s det %d: %v", exposureID, det, err)
			continue
		}

		var corrected *ifu.Cube
		if p.Scaled {
			corrected, _, err = skyres.SubtractResidualScaled(cube, spec)
		} else {
			corrected, err = skyres.SubtractResidual(cube, spec)
		}
		if err != nil {
			res.Err = firstErr(res.Err, err)
			monitoring.Logf("pipeline: skycorr %s det %d: %v", exposureID, det, err)
			continue
		}

		if p.Rezero && exp.Mode == ifu.ModeScience {
			med := skyres.RezeroMedian(corrected)
			monitoring.Debugf("pipeline: skycorr %s det %d: rezeroed by %.4g", exposureID, det, med)
		}

		if err := store.Save(exp.SkySubID(), det, corrected); err != nil {
			res.Err = firstErr(res.Err, fmt.Errorf("save corrected cube: %w", err))
			continue
		}
		if err := store.SaveSpectrum(exp.SkySpecID(), det, spec); err != nil {
			res.Err = firstErr(res.Err, fmt.Errorf("save residual spectrum: %w", err))
			continue
		}
		res.Spectra[det-1] = spec
	}
	return res
}

func firstErr(have, next error) error {
	if have != nil {
		return have
	}
	return next
}
