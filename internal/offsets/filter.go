package offsets

import (
	"github.com/banshee-data/ifu.report/internal/monitoring"
)

// WidthRatioCut is the frame acceptance policy. The comparison direction is
// deliberate and tested: with the best (smallest) FWHM in the batch as the
// anchor, a frame is accepted when
//
//	frame.FWHM <= best.FWHM / Cut
//
// so Cut = 0.8 tolerates frames up to 1.25x the best width and rejects
// anything wider. Invalid rows are never accepted. An optional edge margin
// rejects frames whose centroid sits too close to the detector edge to
// trust the fit.
type WidthRatioCut struct {
	// Cut is the width ratio threshold in (0, 1]. Zero means DefaultPSFCut.
	Cut float64

	// EdgeX, EdgeY are minimum centroid distances from the low pixel edge.
	// Zero disables the margin.
	EdgeX, EdgeY float64
}

// DefaultPSFCut is the width ratio applied when Cut is zero.
const DefaultPSFCut = 0.8

func (f WidthRatioCut) cut() float64 {
	if f.Cut <= 0 || f.Cut > 1 {
		return DefaultPSFCut
	}
	return f.Cut
}

// Apply evaluates the policy over the table. It returns the acceptance mask
// (one entry per input row, in input order) and a filtered table holding
// only the accepted rows, still in input order. Rejected rows are excluded,
// never mutated.
func (f WidthRatioCut) Apply(t *Table) (accepted []bool, filtered *Table) {
	accepted = make([]bool, t.Len())
	filtered = &Table{}
	valid := t.ValidRows()
	if len(valid) == 0 {
		return accepted, filtered
	}

	best := t.Rows[valid[0]].FWHM
	for _, i := range valid[1:] {
		if t.Rows[i].FWHM < best {
			best = t.Rows[i].FWHM
		}
	}
	limit := best / f.cut()

	for _, i := range valid {
		row := t.Rows[i]
		if row.FWHM > limit {
			monitoring.Logf("offsets: rejecting %s: FWHM %.3f above limit %.3f (best %.3f, cut %.2f)",
				row.FrameID, row.FWHM, limit, best, f.cut())
			continue
		}
		if (f.EdgeX > 0 && row.X < f.EdgeX) || (f.EdgeY > 0 && row.Y < f.EdgeY) {
			monitoring.Logf("offsets: rejecting %s: centroid (%.2f, %.2f) inside edge margin (%.1f, %.1f)",
				row.FrameID, row.X, row.Y, f.EdgeX, f.EdgeY)
			continue
		}
		accepted[i] = true
		filtered.Rows = append(filtered.Rows, row)
	}
	return accepted, filtered
}
