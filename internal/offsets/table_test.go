package offsets

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckValidDowngrades(t *testing.T) {
	cases := []struct {
		name string
		row  StarParameters
		want bool
	}{
		{"good", StarParameters{FrameID: "a", X: 10, Y: 12, FWHM: 2.5, Valid: true}, true},
		{"nan centroid", StarParameters{FrameID: "b", X: math.NaN(), Y: 12, FWHM: 2.5, Valid: true}, false},
		{"inf centroid", StarParameters{FrameID: "c", X: 10, Y: math.Inf(1), FWHM: 2.5, Valid: true}, false},
		{"zero fwhm", StarParameters{FrameID: "d", X: 10, Y: 12, FWHM: 0, Valid: true}, false},
		{"negative fwhm", StarParameters{FrameID: "e", X: 10, Y: 12, FWHM: -1, Valid: true}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.row.CheckValid()
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.want, tc.row.Valid)
			if !tc.want {
				assert.NotEmpty(t, tc.row.Note)
			}
		})
	}
}

func TestAppendEnforcesInvariant(t *testing.T) {
	table := &Table{}
	table.Append(StarParameters{FrameID: "good", X: 1, Y: 2, FWHM: 2.0, Valid: true})
	table.Append(StarParameters{FrameID: "bad", X: math.NaN(), Y: 2, FWHM: 2.0, Valid: true})

	require.Equal(t, 2, table.Len())
	assert.True(t, table.Rows[0].Valid)
	assert.False(t, table.Rows[1].Valid)
	assert.Equal(t, []int{0}, table.ValidRows())
}

func TestMedianFWHM(t *testing.T) {
	table := &Table{}
	for _, w := range []float64{2.0, 3.0, 2.2} {
		table.Append(StarParameters{FrameID: "f", X: 1, Y: 1, FWHM: w, Valid: true})
	}
	// invalid rows do not contribute
	table.Append(StarParameters{FrameID: "x", X: 1, Y: 1, FWHM: 99, Valid: false})

	assert.InDelta(t, 2.2, table.MedianFWHM(), 1e-12)

	table.Append(StarParameters{FrameID: "g", X: 1, Y: 1, FWHM: 2.4, Valid: true})
	assert.InDelta(t, 2.3, table.MedianFWHM(), 1e-12)

	empty := &Table{}
	assert.True(t, math.IsNaN(empty.MedianFWHM()))
}

func TestCheckAligned(t *testing.T) {
	shifts := []UserShift{{FrameID: "a"}, {FrameID: "b"}}

	require.NoError(t, CheckAligned(shifts, Manifest{"a", "b"}))

	err := CheckAligned(shifts, Manifest{"a"})
	require.ErrorIs(t, err, ErrAlignmentConsistency)

	err = CheckAligned(shifts, Manifest{"b", "a"})
	require.ErrorIs(t, err, ErrAlignmentConsistency)

	require.NoError(t, CheckAligned(nil, nil))
}
