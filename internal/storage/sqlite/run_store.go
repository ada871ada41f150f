package sqlite

import (
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/ifu.report/internal/offsets"
	"github.com/banshee-data/ifu.report/internal/timeutil"
)

// Run is one persisted offset batch: the parameters it ran with and the
// summary of what it accepted.
type Run struct {
	RunID         string  `json:"run_id"`
	CreatedAt     int64   `json:"created_at"` // unix nanos
	PSFCut        float64 `json:"psf_cut"`
	FrameCount    int     `json:"frame_count"`
	AcceptedCount int     `json:"accepted_count"`
	MedianFWHM    float64 `json:"median_fwhm"`
}

// RunStore provides persistence for offset runs and their star tables.
type RunStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			psf_cut DOUBLE NOT NULL,
			frame_count INTEGER NOT NULL,
			accepted_count INTEGER NOT NULL,
			median_fwhm DOUBLE
		);
		CREATE TABLE IF NOT EXISTS star_fits (
			run_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			frame_id TEXT NOT NULL,
			x_pix DOUBLE,
			y_pix DOUBLE,
			fwhm_pix DOUBLE,
			amplitude DOUBLE,
			quality DOUBLE,
			valid INTEGER NOT NULL,
			accepted INTEGER NOT NULL,
			note TEXT,
			PRIMARY KEY (run_id, position),
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

// NewRunStore creates a RunStore backed by the given database.
func NewRunStore(db *sql.DB) *RunStore {
	return NewRunStoreWithClock(db, timeutil.RealClock{})
}

// NewRunStoreWithClock is NewRunStore with an injected clock, for tests
// that need deterministic run timestamps.
func NewRunStoreWithClock(db *sql.DB, clock timeutil.Clock) *RunStore {
	return &RunStore{db: db, clock: clock}
}

// InsertRun persists a run and its full star table in one transaction.
// Rows are stored with their table position so the input ordering survives
// storage and retrieval. If run.RunID is empty, a UUID is generated.
func (s *RunStore) InsertRun(run *Run, table *offsets.Table, accepted []bool) error {
	if len(accepted) != table.Len() {
		return fmt.Errorf("%w: %d mask entries for %d rows",
			offsets.ErrAlignmentConsistency, len(accepted), table.Len())
	}
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = s.clock.Now().UnixNano()
	}
	run.FrameCount = table.Len()
	run.AcceptedCount = 0
	for _, a := range accepted {
		if a {
			run.AcceptedCount++
		}
	}

	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`
			INSERT INTO runs (run_id, created_at, psf_cut, frame_count, accepted_count, median_fwhm)
			VALUES (?, ?, ?, ?, ?, ?)`,
			run.RunID, run.CreatedAt, run.PSFCut, run.FrameCount, run.AcceptedCount, nullFloat(run.MedianFWHM),
		); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		for i := range table.Rows {
			row := table.Rows[i]
			if _, err := tx.Exec(`
				INSERT INTO star_fits (run_id, position, frame_id, x_pix, y_pix, fwhm_pix, amplitude, quality, valid, accepted, note)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				run.RunID, i, row.FrameID, nullFloat(row.X), nullFloat(row.Y), nullFloat(row.FWHM),
				nullFloat(row.Amplitude), nullFloat(row.Quality),
				boolInt(row.Valid), boolInt(accepted[i]), row.Note,
			); err != nil {
				return fmt.Errorf("insert star fit %d: %w", i, err)
			}
		}
		return tx.Commit()
	})
}

// GetRun returns a run's summary record.
func (s *RunStore) GetRun(runID string) (*Run, error) {
	var run Run
	var fwhm sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT run_id, created_at, psf_cut, frame_count, accepted_count, median_fwhm
		FROM runs WHERE run_id = ?`, runID,
	).Scan(&run.RunID, &run.CreatedAt, &run.PSFCut, &run.FrameCount, &run.AcceptedCount, &fwhm)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	run.MedianFWHM = floatOrNaN(fwhm)
	return &run, nil
}

// GetStarTable reconstructs a run's star table and acceptance mask in the
// original input order.
func (s *RunStore) GetStarTable(runID string) (*offsets.Table, []bool, error) {
	rows, err := s.db.Query(`
		SELECT frame_id, x_pix, y_pix, fwhm_pix, amplitude, quality, valid, accepted, note
		FROM star_fits WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("get star table %s: %w", runID, err)
	}
	defer rows.Close()

	table := &offsets.Table{}
	var accepted []bool
	for rows.Next() {
		var sp offsets.StarParameters
		var x, y, fwhm, amp, quality sql.NullFloat64
		var validI, acceptedI int
		if err := rows.Scan(&sp.FrameID, &x, &y, &fwhm, &amp, &quality,
			&validI, &acceptedI, &sp.Note); err != nil {
			return nil, nil, err
		}
		sp.X = floatOrNaN(x)
		sp.Y = floatOrNaN(y)
		sp.FWHM = floatOrNaN(fwhm)
		sp.Amplitude = floatOrNaN(amp)
		sp.Quality = floatOrNaN(quality)
		sp.Valid = validI != 0
		table.Rows = append(table.Rows, sp)
		accepted = append(accepted, acceptedI != 0)
	}
	return table, accepted, rows.Err()
}

// ListRuns returns run summaries, newest first.
func (s *RunStore) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT run_id, created_at, psf_cut, frame_count, accepted_count, median_fwhm
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var fwhm sql.NullFloat64
		if err := rows.Scan(&run.RunID, &run.CreatedAt, &run.PSFCut, &run.FrameCount,
			&run.AcceptedCount, &fwhm); err != nil {
			return nil, err
		}
		run.MedianFWHM = floatOrNaN(fwhm)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// retryOnBusy retries fn a few times with backoff when sqlite reports the
// database locked by another writer. Non-busy errors return immediately.
func retryOnBusy(fn func() error) error {
	const attempts = 5
	backoff := 10 * time.Millisecond
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullFloat maps non-finite values to NULL; sqlite has no NaN.
func nullFloat(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
