package sqlite

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ifu.report/internal/offsets"
	"github.com/banshee-data/ifu.report/internal/timeutil"
)

func openTestDB(t *testing.T) *RunStore {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRunStore(db)
}

func sampleTable() (*offsets.Table, []bool) {
	table := &offsets.Table{}
	table.Append(offsets.StarParameters{FrameID: "exp01", X: 10.5, Y: 20.25, FWHM: 2.1, Amplitude: 120, Quality: 0.02, Valid: true})
	table.Append(offsets.StarParameters{FrameID: "exp02", X: 12.5, Y: 19.75, FWHM: 3.4, Amplitude: 80, Quality: 0.05, Valid: true})
	table.Append(offsets.StarParameters{FrameID: "exp03", X: math.NaN(), Y: math.NaN(), FWHM: math.NaN(), Valid: false, Note: "no source above noise floor"})
	return table, []bool{true, false, false}
}

func TestInsertAndGetRun(t *testing.T) {
	store := openTestDB(t)
	table, accepted := sampleTable()

	run := &Run{PSFCut: 0.8, MedianFWHM: 2.75}
	require.NoError(t, store.InsertRun(run, table, accepted))
	require.NotEmpty(t, run.RunID)
	assert.Equal(t, 3, run.FrameCount)
	assert.Equal(t, 1, run.AcceptedCount)

	got, err := store.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, 0.8, got.PSFCut)
	assert.Equal(t, 3, got.FrameCount)
	assert.Equal(t, 1, got.AcceptedCount)
	assert.InDelta(t, 2.75, got.MedianFWHM, 1e-9)
}

func TestGetStarTablePreservesOrder(t *testing.T) {
	store := openTestDB(t)
	table, accepted := sampleTable()

	run := &Run{PSFCut: 0.8}
	require.NoError(t, store.InsertRun(run, table, accepted))

	gotTable, gotAccepted, err := store.GetStarTable(run.RunID)
	require.NoError(t, err)
	require.Equal(t, 3, gotTable.Len())
	assert.Equal(t, accepted, gotAccepted)

	for i, want := range []string{"exp01", "exp02", "exp03"} {
		assert.Equal(t, want, gotTable.Rows[i].FrameID)
	}
	assert.InDelta(t, 10.5, gotTable.Rows[0].X, 1e-9)
	assert.True(t, gotTable.Rows[0].Valid)

	// failed fit survives as NaN with its note
	assert.False(t, gotTable.Rows[2].Valid)
	assert.True(t, math.IsNaN(gotTable.Rows[2].X))
	assert.True(t, math.IsNaN(gotTable.Rows[2].FWHM))
	assert.Equal(t, "no source above noise floor", gotTable.Rows[2].Note)
}

func TestInsertRunMaskMismatch(t *testing.T) {
	store := openTestDB(t)
	table, _ := sampleTable()

	err := store.InsertRun(&Run{}, table, []bool{true})
	require.ErrorIs(t, err, offsets.ErrAlignmentConsistency)
}

func TestInsertRunDuplicateID(t *testing.T) {
	store := openTestDB(t)
	table, accepted := sampleTable()

	run := &Run{RunID: "fixed-id"}
	require.NoError(t, store.InsertRun(run, table, accepted))
	require.Error(t, store.InsertRun(&Run{RunID: "fixed-id"}, table, accepted))
}

func TestListRunsNewestFirst(t *testing.T) {
	store := openTestDB(t)
	table, accepted := sampleTable()

	older := &Run{RunID: "older", CreatedAt: 100}
	newer := &Run{RunID: "newer", CreatedAt: 200}
	require.NoError(t, store.InsertRun(older, table, accepted))
	require.NoError(t, store.InsertRun(newer, table, accepted))

	runs, err := store.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "newer", runs[0].RunID)
	assert.Equal(t, "older", runs[1].RunID)

	runs, err = store.ListRuns(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "newer", runs[0].RunID)
}

func TestInsertRunStampsCreation(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	store := NewRunStoreWithClock(db, timeutil.NewMockClock(now))
	table, accepted := sampleTable()

	run := &Run{}
	require.NoError(t, store.InsertRun(run, table, accepted))
	assert.Equal(t, now.UnixNano(), run.CreatedAt)

	got, err := store.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, now.UnixNano(), got.CreatedAt)
}

func TestGetRunMissing(t *testing.T) {
	store := openTestDB(t)
	_, err := store.GetRun("absent")
	require.Error(t, err)
}
