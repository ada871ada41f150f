package pipeline

import (
	"errors"
	"math"

	"github.com/banshee-data/ifu.report/internal/cubestore"
	"github.com/banshee-data/ifu.report/internal/monitoring"
	"github.com/banshee-data/ifu.report/internal/offsets"
	"github.com/banshee-data/ifu.report/internal/starfind"
)

// StarParams tunes the star-offset stage.
type StarParams struct {
	// Detector is the detector carrying the reference star.
	Detector int

	// Locator finds the star's region; nil means the default
	// maximum-pixel locator.
	Locator starfind.Locator

	// Locate is passed through to the locator.
	Locate starfind.LocateParams

	// Filter is the acceptance policy applied after fitting.
	Filter offsets.WidthRatioCut

	// Reference selects the anchor frame for the shifts.
	Reference offsets.ReferencePolicy
}

// StarBatchResult is the complete star-offset output for one batch, with
// every slice in frame-list order.
type StarBatchResult struct {
	// Table has one row per input frame, including failed fits.
	Table *offsets.Table

	// Accepted is the per-row acceptance mask.
	Accepted []bool

	// AcceptedTable holds only the accepted rows, input order preserved.
	AcceptedTable *offsets.Table

	// Shifts and Manifest are the positionally paired offset outputs.
	// Both are empty when nothing was accepted.
	Shifts   []offsets.UserShift
	Manifest offsets.Manifest
}

// StarOffsets locates and fits the reference star in every frame, filters
// by PSF width, and resolves relative shifts. Frames are fitted
// concurrently; the filter and resolver run only after every fit has
// landed, on a table in exactly the input frame order.
//
// Per-frame failures (no star, non-convergent fit, out-of-bounds centroid)
// produce an invalid row with the reason noted, never an aborted batch.
func StarOffsets(store cubestore.Store, frames []string, p StarParams) (*StarBatchResult, error) {
	return StarOffsetsWorkers(store, frames, p, 1)
}

// StarOffsetsWorkers is StarOffsets with a bounded fit pool.
func StarOffsetsWorkers(store cubestore.Store, frames []string, p StarParams, workers int) (*StarBatchResult, error) {
	if len(frames) == 0 {
		return nil, errors.New("pipeline: empty frame list")
	}
	locator := p.Locator
	if locator == nil {
		locator = starfind.MaxPixelLocator{}
	}

	rows := make([]offsets.StarParameters, len(frames))
	forEach(workers, len(frames), func(i int) {
		rows[i] = fitOneFrame(store, frames[i], p.Detector, locator, p.Locate)
	})

	// Fit barrier passed: assemble the table in input order and run the
	// strictly ordered tail of the chain.
	table := &offsets.Table{}
	for _, row := range rows {
		table.Append(row)
	}

	accepted, acceptedTable := p.Filter.Apply(table)
	shifts, manifest := offsets.Resolve(acceptedTable, p.Reference)
	if err := offsets.CheckAligned(shifts, manifest); err != nil {
		return nil, err
	}

	monitoring.Logf("pipeline: star offsets: %d frames, %d accepted, median FWHM %.3f",
		table.Len(), acceptedTable.Len(), table.MedianFWHM())

	return &StarBatchResult{
		Table:         table,
		Accepted:      accepted,
		AcceptedTable: acceptedTable,
		Shifts:        shifts,
		Manifest:      manifest,
	}, nil
}

// fitOneFrame produces one frame's star record. Failures of any stage come
// back as an invalid row carrying the reason.
func fitOneFrame(store cubestore.Store, frameID string, detector int, locator starfind.Locator, lp starfind.LocateParams) offsets.StarParameters {
	invalid := func(err error) offsets.StarParameters {
		monitoring.Logf("pipeline: %s: %v", frameID, err)
		return offsets.StarParameters{
			FrameID: frameID,
			X:       math.NaN(), Y: math.NaN(), FWHM: math.NaN(),
			Valid: false,
			Note:  err.Error(),
		}
	}

	cube, err := store.Load(frameID, detector)
	if err != nil {
		return invalid(err)
	}
	region, err := locator.Locate(cube, lp)
	if err != nil {
		return invalid(err)
	}
	psf, err := starfind.FitPSF(region)
	if err != nil {
		return invalid(err)
	}
	return offsets.StarParameters{
		FrameID:   frameID,
		X:         psf.X,
		Y:         psf.Y,
		FWHM:      psf.FWHM,
		Amplitude: psf.Amplitude,
		Quality:   psf.Quality,
		Inverted:  region.Inverted,
		Valid:     true,
	}
}
