package offsets

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"

	"github.com/banshee-data/ifu.report/internal/fsutil"
	"github.com/banshee-data/ifu.report/internal/monitoring"
)

// ErrNoAcceptedFrames reports a batch in which the quality filter accepted
// nothing. The shifts/manifest pair is never written in that case; the star
// table still is, for auditability.
var ErrNoAcceptedFrames = errors.New("offsets: no frames accepted, shifts and manifest not written")

// WriteStarTable writes the full star-parameters table as CSV: one row per
// input frame, including rejected and failed ones, with the acceptance mask
// in the last column. The header carries the batch's median FWHM over valid
// rows.
func WriteStarTable(fs fsutil.FileSystem, path string, t *Table, accepted []bool) error {
	if len(accepted) != t.Len() {
		return fmt.Errorf("%w: %d mask entries for %d table rows",
			ErrAlignmentConsistency, len(accepted), t.Len())
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# reference-star fits, median FWHM %.3f pix over valid frames\n", t.MedianFWHM())

	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"frame_id", "x_pix", "y_pix", "fwhm_pix", "amplitude", "quality", "valid", "accepted", "note"}); err != nil {
		return err
	}
	for i := range t.Rows {
		row := t.Rows[i]
		rec := []string{
			row.FrameID,
			formatFloat(row.X),
			formatFloat(row.Y),
			formatFloat(row.FWHM),
			formatFloat(row.Amplitude),
			formatFloat(row.Quality),
			strconv.FormatBool(row.Valid),
			strconv.FormatBool(accepted[i]),
			row.Note,
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if err := fs.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write star table %s: %w", path, err)
	}
	monitoring.Logf("offsets: wrote star table %s (%d rows)", path, t.Len())
	return nil
}

// WriteShiftsAndManifest writes the user-shifts table and the combination
// manifest as a validated pair. Row i of the shifts file corresponds to
// line i of the manifest; the pairing is checked here, not assumed, and an
// inconsistent pair aborts with nothing written. An empty pair returns
// ErrNoAcceptedFrames and writes nothing.
func WriteShiftsAndManifest(fs fsutil.FileSystem, shiftsPath, manifestPath string, shifts []UserShift, manifest Manifest) error {
	if err := CheckAligned(shifts, manifest); err != nil {
		return err
	}
	if len(shifts) == 0 {
		return ErrNoAcceptedFrames
	}

	var shiftBuf bytes.Buffer
	for _, s := range shifts {
		fmt.Fprintf(&shiftBuf, "%f\t%f\n", s.DX, s.DY)
	}

	var manBuf bytes.Buffer
	for _, id := range manifest {
		fmt.Fprintf(&manBuf, "%s\tSCI_RECONSTRUCTED\n", id)
	}

	if err := fs.WriteFile(shiftsPath, shiftBuf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write shifts %s: %w", shiftsPath, err)
	}
	if err := fs.WriteFile(manifestPath, manBuf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write manifest %s: %w", manifestPath, err)
	}
	monitoring.Logf("offsets: wrote %d shifts to %s, manifest to %s", len(shifts), shiftsPath, manifestPath)
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
