package offsets

// ReferencePolicy selects which accepted frame anchors the shifts.
type ReferencePolicy int

const (
	// RefFirstAccepted anchors on the first accepted frame, matching the
	// order the combination step reads its inputs in.
	RefFirstAccepted ReferencePolicy = iota

	// RefBestQuality anchors on the accepted frame with the lowest
	// (best) fit-quality value.
	RefBestQuality
)

// Resolve converts the accepted frames' centroids into relative shifts.
//
// Sign convention: a shift is the displacement that realigns the frame's
// star onto the reference's star position,
//
//	dx = reference.X - frame.X
//	dy = reference.Y - frame.Y
//
// on both axes, so adding (dx, dy) to a frame's centroid reproduces the
// reference centroid. The reference frame itself gets (0, 0).
//
// The returned shifts and manifest are positionally 1:1 in the accepted
// frames' input order — including the reference row, wherever it falls.
// Resolving an empty table yields empty outputs and no error; the caller
// must then emit nothing.
func Resolve(accepted *Table, policy ReferencePolicy) ([]UserShift, Manifest) {
	if accepted.Len() == 0 {
		return nil, nil
	}

	ref := 0
	if policy == RefBestQuality {
		for i := 1; i < accepted.Len(); i++ {
			if accepted.Rows[i].Quality < accepted.Rows[ref].Quality {
				ref = i
			}
		}
	}
	refRow := accepted.Rows[ref]

	shifts := make([]UserShift, 0, accepted.Len())
	manifest := make(Manifest, 0, accepted.Len())
	for i := range accepted.Rows {
		row := accepted.Rows[i]
		shifts = append(shifts, UserShift{
			FrameID: row.FrameID,
			DX:      refRow.X - row.X,
			DY:      refRow.Y - row.Y,
		})
		manifest = append(manifest, row.FrameID)
	}
	return shifts, manifest
}
