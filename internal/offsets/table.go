package offsets

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrAlignmentConsistency reports a shift list and combination manifest
// whose lengths or orders disagree. This is a caller-contract violation:
// misaligned offsets would silently corrupt the downstream combination, so
// the operation aborts instead.
var ErrAlignmentConsistency = errors.New("offsets: shifts and manifest are not aligned")

// StarParameters is one frame's fitted reference-star record.
type StarParameters struct {
	FrameID string `json:"frame_id"`

	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	FWHM      float64 `json:"fwhm"`
	Amplitude float64 `json:"amplitude"`
	Quality   float64 `json:"quality"` // normalized fit residual; lower is better
	Inverted  bool    `json:"inverted"`

	// Valid marks a usable fit. Invalid rows stay in the table for
	// auditability with Note carrying the failure reason.
	Valid bool   `json:"valid"`
	Note  string `json:"note,omitempty"`
}

// CheckValid enforces the row invariant: centroid and FWHM finite, FWHM
// positive. It downgrades the row to invalid rather than reporting an
// error, so a bad fit never silently enters downstream selection.
func (sp *StarParameters) CheckValid() bool {
	ok := !math.IsNaN(sp.X) && !math.IsInf(sp.X, 0) &&
		!math.IsNaN(sp.Y) && !math.IsInf(sp.Y, 0) &&
		!math.IsNaN(sp.FWHM) && !math.IsInf(sp.FWHM, 0) &&
		sp.FWHM > 0
	if !ok {
		sp.Valid = false
		if sp.Note == "" {
			sp.Note = "non-finite or non-positive fit parameters"
		}
	}
	return sp.Valid
}

// Table is an ordered collection of StarParameters, one row per input
// frame, in exactly the order the frames were supplied. Never reorder it.
type Table struct {
	Rows []StarParameters `json:"rows"`
}

// Append adds a row, enforcing the row invariant first.
func (t *Table) Append(sp StarParameters) {
	sp.CheckValid()
	t.Rows = append(t.Rows, sp)
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// ValidRows returns the indexes of rows with usable fits, in table order.
func (t *Table) ValidRows() []int {
	var idx []int
	for i := range t.Rows {
		if t.Rows[i].Valid {
			idx = append(idx, i)
		}
	}
	return idx
}

// MedianFWHM returns the median FWHM over valid rows, NaN if none.
func (t *Table) MedianFWHM() float64 {
	var w []float64
	for i := range t.Rows {
		if t.Rows[i].Valid {
			w = append(w, t.Rows[i].FWHM)
		}
	}
	if len(w) == 0 {
		return math.NaN()
	}
	sort.Float64s(w)
	if n := len(w); n%2 == 1 {
		return w[n/2]
	} else {
		return (w[n/2-1] + w[n/2]) / 2
	}
}

// UserShift is one accepted frame's corrective displacement relative to the
// reference frame, in pixels.
type UserShift struct {
	FrameID string  `json:"frame_id"`
	DX      float64 `json:"dx"`
	DY      float64 `json:"dy"`
}

// Manifest is the ordered list of accepted frame identifiers handed to the
// combination step. Row i of the shifts output corresponds to entry i here.
type Manifest []string

// CheckAligned validates the 1:1 positional pairing between shifts and
// manifest. Any length or identifier mismatch returns
// ErrAlignmentConsistency.
func CheckAligned(shifts []UserShift, manifest Manifest) error {
	if len(shifts) != len(manifest) {
		return fmt.Errorf("%w: %d shifts vs %d manifest entries",
			ErrAlignmentConsistency, len(shifts), len(manifest))
	}
	for i := range shifts {
		if shifts[i].FrameID != manifest[i] {
			return fmt.Errorf("%w: row %d pairs shift for %q with manifest entry %q",
				ErrAlignmentConsistency, i, shifts[i].FrameID, manifest[i])
		}
	}
	return nil
}
