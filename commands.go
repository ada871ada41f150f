package main

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/banshee-data/ifu.report/internal/config"
	"github.com/banshee-data/ifu.report/internal/cubestore"
	"github.com/banshee-data/ifu.report/internal/fsutil"
	"github.com/banshee-data/ifu.report/internal/ifu"
	"github.com/banshee-data/ifu.report/internal/monitor"
	"github.com/banshee-data/ifu.report/internal/monitoring"
	"github.com/banshee-data/ifu.report/internal/offsets"
	"github.com/banshee-data/ifu.report/internal/pipeline"
	"github.com/banshee-data/ifu.report/internal/skyres"
	"github.com/banshee-data/ifu.report/internal/starfind"
	"github.com/banshee-data/ifu.report/internal/storage/sqlite"
	"github.com/banshee-data/ifu.report/internal/units"
)

// commonFlags are shared by every batch command.
type commonFlags struct {
	dir     string
	prefix  string
	cfgPath string
	verbose bool
}

func (cf *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&cf.dir, "dir", ".", "directory holding exposure cube files")
	fs.StringVar(&cf.prefix, "prefix", "", "only process exposures whose name starts with this prefix")
	fs.StringVar(&cf.cfgPath, "config", "", "tuning config JSON (defaults apply when omitted)")
	fs.BoolVar(&cf.verbose, "v", false, "verbose per-channel diagnostics")
}

func (cf *commonFlags) setup() (*config.TuningConfig, fsutil.FileSystem, *cubestore.FileStore, []string, error) {
	monitoring.Verbose = cf.verbose

	cfg, err := config.Load(cf.cfgPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	filesystem := fsutil.OSFileSystem{}
	store := cubestore.NewFileStore(filesystem, cf.dir)

	ids, err := cubestore.FindExposures(filesystem, cf.dir, cf.prefix)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if len(ids) == 0 {
		return nil, nil, nil, nil, fmt.Errorf("no exposures found in %s (prefix %q)", cf.dir, cf.prefix)
	}
	monitoring.Logf("%d exposures found in %s", len(ids), cf.dir)
	return cfg, filesystem, store, ids, nil
}

// runSkyCorr implements the skycorr command.
func runSkyCorr(args []string) error {
	fs := flag.NewFlagSet("skycorr", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	plotDir := fs.String("plots", "", "write residual-spectrum PNGs to this directory")
	itime := fs.Float64("itime", 0, "divide flux by this integration time in seconds (0 = already normalized)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, store, ids, err := cf.setup()
	if err != nil {
		return err
	}
	return skyCorrect(cfg, store, ids, *plotDir, *itime)
}

func skyCorrect(cfg *config.TuningConfig, store cubestore.Store, ids []string, plotDir string, itime float64) error {
	params := pipeline.SkyParams{
		Estimator: skyres.EstimatorParams{
			MinValidFraction:  cfg.GetMinValidFraction(),
			StarExcludeRadius: cfg.GetStarExcludeRadius(),
		},
		Scaled:          cfg.GetScaledSubtraction(),
		Rezero:          true,
		IntegrationTime: itime,
	}

	results := pipeline.SkyCorrect(store, ids, params, cfg.GetWorkers())

	var plotter *monitor.SpectrumPlotter
	if plotDir != "" {
		var err error
		plotter, err = monitor.NewSpectrumPlotter(plotDir)
		if err != nil {
			return err
		}
	}

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			continue
		}
		if plotter != nil {
			if _, err := plotter.Plot(res.ExposureID, res.Spectra); err != nil {
				monitoring.Logf("plot %s: %v", res.ExposureID, err)
			}
		}
	}
	monitoring.Logf("sky correction: %d exposures corrected, %d failed", len(results)-failed, failed)
	if failed == len(results) {
		return errors.New("every exposure failed sky correction")
	}
	return nil
}

// runOffsets implements the offsets command.
func runOffsets(args []string) error {
	fs := flag.NewFlagSet("offsets", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	outDir := fs.String("out", ".", "directory for the star table, shifts and manifest files")
	dbPath := fs.String("db", "", "also record the run in this sqlite database")
	corrected := fs.Bool("corrected", false, "fit the sky-corrected cubes instead of the raw exposures")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, filesystem, store, ids, err := cf.setup()
	if err != nil {
		return err
	}
	return starOffsets(cfg, filesystem, store, ids, *outDir, *dbPath, *corrected)
}

func starOffsets(cfg *config.TuningConfig, filesystem fsutil.FileSystem, store cubestore.Store, ids []string, outDir, dbPath string, corrected bool) error {
	frames := ids
	if corrected {
		frames = make([]string, len(ids))
		for i, id := range ids {
			frames[i] = id + ifu.SuffixSkySub
		}
	}

	lo, hi := cfg.GetWindow()
	ex, ey, sr := cfg.GetStarSearch()
	params := pipeline.StarParams{
		Detector: cfg.GetStarDetector(),
		Locate: starfind.LocateParams{
			WindowLo:       lo,
			WindowHi:       hi,
			CutoutRadius:   cfg.GetCutoutRadius(),
			DetectionSigma: cfg.GetDetectionSigma(),
			ExpectX:        ex,
			ExpectY:        ey,
			SearchRadius:   sr,
		},
		Filter: offsets.WidthRatioCut{
			Cut:   cfg.GetPSFCut(),
			EdgeX: cfg.GetEdgeX(),
			EdgeY: cfg.GetEdgeY(),
		},
	}
	if cfg.GetReference() == "best" {
		params.Reference = offsets.RefBestQuality
	}

	result, err := pipeline.StarOffsetsWorkers(store, frames, params, cfg.GetWorkers())
	if err != nil {
		return err
	}

	if len(result.Shifts) > 0 {
		throw := 0.0
		for _, s := range result.Shifts {
			if d := math.Hypot(s.DX, s.DY); d > throw {
				throw = d
			}
		}
		monitoring.Logf("offsets: largest dither throw %.2f pix (%.2f %s)",
			throw, units.ConvertOffset(throw, cfg.GetPixelScale(), units.Arcsec), units.Arcsec)
	}

	stamp := time.Now().Format("2006-01-02")
	starPath := filepath.Join(outDir, fmt.Sprintf("star_psf_%s.csv", stamp))
	if err := offsets.WriteStarTable(filesystem, starPath, result.Table, result.Accepted); err != nil {
		return err
	}

	shiftsPath := filepath.Join(outDir, fmt.Sprintf("usershifts_%s.txt", stamp))
	manifestPath := filepath.Join(outDir, fmt.Sprintf("combine_%s.sof", stamp))
	err = offsets.WriteShiftsAndManifest(filesystem, shiftsPath, manifestPath, result.Shifts, result.Manifest)
	if errors.Is(err, offsets.ErrNoAcceptedFrames) {
		monitoring.Logf("%v", err)
	} else if err != nil {
		return err
	}

	if dbPath != "" {
		db, err := sqlite.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		run := &sqlite.Run{
			PSFCut:     cfg.GetPSFCut(),
			MedianFWHM: result.Table.MedianFWHM(),
		}
		if err := sqlite.NewRunStore(db).InsertRun(run, result.Table, result.Accepted); err != nil {
			return err
		}
		monitoring.Logf("recorded run %s in %s", run.RunID, dbPath)
	}
	return nil
}

// runAll implements the run command: sky correction, then offsets against
// the corrected cubes.
func runAll(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	outDir := fs.String("out", ".", "directory for the star table, shifts and manifest files")
	dbPath := fs.String("db", "", "also record the run in this sqlite database")
	plotDir := fs.String("plots", "", "write residual-spectrum PNGs to this directory")
	itime := fs.Float64("itime", 0, "divide flux by this integration time in seconds (0 = already normalized)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, filesystem, store, ids, err := cf.setup()
	if err != nil {
		return err
	}
	if err := skyCorrect(cfg, store, ids, *plotDir, *itime); err != nil {
		return err
	}
	return starOffsets(cfg, filesystem, store, ids, *outDir, *dbPath, true)
}

// runListRuns implements the runs command.
func runListRuns(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	dbPath := fs.String("db", "ifu_runs.db", "sqlite database to list")
	limit := fs.Int("limit", 20, "maximum runs to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := sqlite.Open(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := sqlite.NewRunStore(db).ListRuns(*limit)
	if err != nil {
		return err
	}
	for _, run := range runs {
		fmt.Printf("%s  %s  frames=%d accepted=%d psf_cut=%.2f median_fwhm=%.3f\n",
			run.RunID,
			time.Unix(0, run.CreatedAt).Format(time.RFC3339),
			run.FrameCount, run.AcceptedCount, run.PSFCut, run.MedianFWHM)
	}
	return nil
}
