package offsets

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ifu.report/internal/fsutil"
)

func TestWriteStarTable(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()

	table := &Table{}
	table.Append(StarParameters{FrameID: "exp01", X: 10.5, Y: 20.25, FWHM: 2.0, Amplitude: 100, Quality: 0.02, Valid: true})
	table.Append(StarParameters{FrameID: "exp02", X: math.NaN(), Y: 20, FWHM: 2.0, Valid: true, Note: "starfind: no source above noise floor"})

	require.NoError(t, WriteStarTable(mem, "out/star_psf.csv", table, []bool{true, false}))

	data, err := mem.ReadFile("out/star_psf.csv")
	require.NoError(t, err)
	text := string(data)

	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	require.Len(t, lines, 4) // comment, header, two rows
	assert.True(t, strings.HasPrefix(lines[0], "# reference-star fits, median FWHM 2.000"))
	assert.Equal(t, "frame_id,x_pix,y_pix,fwhm_pix,amplitude,quality,valid,accepted,note", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "exp01,10.500000,20.250000,2.000000"))
	assert.Contains(t, lines[2], ",true,true,")
	// the failed frame stays in the table with its reason
	assert.Contains(t, lines[3], "exp02,NaN,")
	assert.Contains(t, lines[3], ",false,false,")
	assert.Contains(t, lines[3], "no source above noise floor")
}

func TestWriteStarTableMaskMismatch(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	table := &Table{}
	table.Append(StarParameters{FrameID: "a", X: 1, Y: 1, FWHM: 2, Valid: true})

	err := WriteStarTable(mem, "out/star.csv", table, []bool{true, false})
	require.ErrorIs(t, err, ErrAlignmentConsistency)
	assert.False(t, mem.Exists("out/star.csv"))
}

func TestWriteShiftsAndManifest(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	shifts := []UserShift{
		{FrameID: "exp01", DX: 0, DY: 0},
		{FrameID: "exp03", DX: -2, DY: 1},
	}
	manifest := Manifest{"exp01", "exp03"}

	require.NoError(t, WriteShiftsAndManifest(mem, "out/usershifts.txt", "out/combine.sof", shifts, manifest))

	shiftData, err := mem.ReadFile("out/usershifts.txt")
	require.NoError(t, err)
	shiftLines := strings.Split(strings.TrimRight(string(shiftData), "\n"), "\n")
	require.Len(t, shiftLines, 2)
	assert.Equal(t, "0.000000\t0.000000", shiftLines[0])
	assert.Equal(t, "-2.000000\t1.000000", shiftLines[1])

	manData, err := mem.ReadFile("out/combine.sof")
	require.NoError(t, err)
	manLines := strings.Split(strings.TrimRight(string(manData), "\n"), "\n")
	require.Len(t, manLines, len(shiftLines))
	assert.Equal(t, "exp01\tSCI_RECONSTRUCTED", manLines[0])
	assert.Equal(t, "exp03\tSCI_RECONSTRUCTED", manLines[1])
}

func TestWriteShiftsAndManifestMisaligned(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	shifts := []UserShift{{FrameID: "a"}}

	err := WriteShiftsAndManifest(mem, "out/shifts.txt", "out/combine.sof", shifts, Manifest{"b"})
	require.ErrorIs(t, err, ErrAlignmentConsistency)
	assert.False(t, mem.Exists("out/shifts.txt"))
	assert.False(t, mem.Exists("out/combine.sof"))
}

func TestWriteShiftsAndManifestEmpty(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()

	err := WriteShiftsAndManifest(mem, "out/shifts.txt", "out/combine.sof", nil, nil)
	require.ErrorIs(t, err, ErrNoAcceptedFrames)
	assert.False(t, mem.Exists("out/shifts.txt"))
	assert.False(t, mem.Exists("out/combine.sof"))
}
