package main

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ifu.report/internal/config"
	"github.com/banshee-data/ifu.report/internal/cubestore"
	"github.com/banshee-data/ifu.report/internal/fsutil"
	"github.com/banshee-data/ifu.report/internal/ifu"
)

func writeStarCube(t *testing.T, store cubestore.Store, id string, det int, cx, cy float64, seed int64) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	c := ifu.NewCube(1, 25, 40)
	c.ExposureID = id
	c.Detector = det
	for y := 0; y < 25; y++ {
		for x := 0; x < 40; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			c.Set(0, y, x, 100*math.Exp(-(dx*dx+dy*dy)/4.5)+0.5*rng.NormFloat64())
		}
	}
	require.NoError(t, store.Save(id, det, c))
}

func TestRunSkyCorrEmptyDir(t *testing.T) {
	err := runSkyCorr([]string{"-dir", t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no exposures found")
}

func TestStarOffsetsCommand(t *testing.T) {
	dataDir := t.TempDir()
	outDir := t.TempDir()
	filesystem := fsutil.OSFileSystem{}
	store := cubestore.NewFileStore(filesystem, dataDir)

	writeStarCube(t, store, "exp01", 1, 20.0, 10.0, 1)
	writeStarCube(t, store, "exp02", 1, 22.0, 9.0, 2)

	cfg := &config.TuningConfig{}
	ids, err := cubestore.FindExposures(filesystem, dataDir, "")
	require.NoError(t, err)
	require.Equal(t, []string{"exp01", "exp02"}, ids)

	dbPath := filepath.Join(outDir, "runs.db")
	require.NoError(t, starOffsets(cfg, filesystem, store, ids, outDir, dbPath, false))

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	var star, shifts, manifest bool
	for _, e := range entries {
		switch {
		case strings.HasPrefix(e.Name(), "star_psf_"):
			star = true
		case strings.HasPrefix(e.Name(), "usershifts_"):
			shifts = true
		case strings.HasPrefix(e.Name(), "combine_"):
			manifest = true
		}
	}
	assert.True(t, star, "star table not written")
	assert.True(t, shifts, "shifts not written")
	assert.True(t, manifest, "manifest not written")
	assert.FileExists(t, dbPath)
}

func TestRunAllPipeline(t *testing.T) {
	dataDir := t.TempDir()
	outDir := t.TempDir()
	filesystem := fsutil.OSFileSystem{}
	store := cubestore.NewFileStore(filesystem, dataDir)

	writeStarCube(t, store, "exp01", 1, 20.0, 10.0, 11)
	writeStarCube(t, store, "exp02", 1, 21.5, 11.0, 12)

	// single-channel fixtures need the plain subtraction path; the
	// per-spaxel fit is only meaningful with spectral structure
	scaled := false
	cfg := &config.TuningConfig{ScaledSubtraction: &scaled}
	ids, err := cubestore.FindExposures(filesystem, dataDir, "")
	require.NoError(t, err)

	require.NoError(t, skyCorrect(cfg, store, ids, "", 0))
	// corrected products and their spectra exist and are skipped by a
	// fresh discovery
	_, err = store.Load("exp01_SKYSUB", 1)
	require.NoError(t, err)
	spec, err := store.LoadSpectrum("exp01_SKYSPEC", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, spec.Channels())
	again, err := cubestore.FindExposures(filesystem, dataDir, "")
	require.NoError(t, err)
	assert.Equal(t, ids, again)

	require.NoError(t, starOffsets(cfg, filesystem, store, ids, outDir, "", true))
}
