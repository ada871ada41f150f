// Package cubestore persists detector cubes and discovers exposures on
// disk. The cube file format is an internal detail (gob-encoded, gzip
// compressed); everything above this package treats cubes as opaque
// array+metadata loads and saves.
package cubestore

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/banshee-data/ifu.report/internal/fsutil"
	"github.com/banshee-data/ifu.report/internal/ifu"
	"github.com/banshee-data/ifu.report/internal/skyres"
)

// Store is the data access surface the processing stages consume: load a
// detector's cube for an exposure, save a (possibly derived) cube or a
// residual spectrum back. All calls are synchronous. Implementations must
// be safe for concurrent use across different exposures.
type Store interface {
	Load(exposureID string, detector int) (*ifu.Cube, error)
	Save(exposureID string, detector int, c *ifu.Cube) error
	LoadSpectrum(productID string, detector int) (*skyres.Spectrum, error)
	SaveSpectrum(productID string, detector int, s *skyres.Spectrum) error
}

// On-disk file extensions. Spectra are JSON so the downstream combination
// tooling can read them without this package.
const (
	CubeExt = ".cube"
	SpecExt = ".json"
)

// fileName builds the on-disk name for one detector's cube.
func fileName(exposureID string, detector int) string {
	return fmt.Sprintf("%s.det%d%s", exposureID, detector, CubeExt)
}

// specFileName builds the on-disk name for one detector's residual spectrum.
func specFileName(productID string, detector int) string {
	return fmt.Sprintf("%s.det%d%s", productID, detector, SpecExt)
}

// FileStore keeps cubes as individual files under a directory.
type FileStore struct {
	fs  fsutil.FileSystem
	dir string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(filesystem fsutil.FileSystem, dir string) *FileStore {
	return &FileStore{fs: filesystem, dir: dir}
}

// Load reads and decodes one detector's cube.
func (s *FileStore) Load(exposureID string, detector int) (*ifu.Cube, error) {
	path := filepath.Join(s.dir, fileName(exposureID, detector))
	blob, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load cube %s det %d: %w", exposureID, detector, err)
	}
	c, err := decodeCube(blob)
	if err != nil {
		return nil, fmt.Errorf("decode cube %s det %d: %w", exposureID, detector, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("load cube: %w", err)
	}
	return c, nil
}

// Save encodes and writes one detector's cube.
func (s *FileStore) Save(exposureID string, detector int, c *ifu.Cube) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("save cube: %w", err)
	}
	blob, err := encodeCube(c)
	if err != nil {
		return fmt.Errorf("encode cube %s det %d: %w", exposureID, detector, err)
	}
	if err := s.fs.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("save cube: %w", err)
	}
	path := filepath.Join(s.dir, fileName(exposureID, detector))
	if err := s.fs.WriteFile(path, blob, 0644); err != nil {
		return fmt.Errorf("save cube %s det %d: %w", exposureID, detector, err)
	}
	return nil
}

// LoadSpectrum reads one detector's residual spectrum.
func (s *FileStore) LoadSpectrum(productID string, detector int) (*skyres.Spectrum, error) {
	path := filepath.Join(s.dir, specFileName(productID, detector))
	blob, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load spectrum %s det %d: %w", productID, detector, err)
	}
	var spec skyres.Spectrum
	if err := json.Unmarshal(blob, &spec); err != nil {
		return nil, fmt.Errorf("decode spectrum %s det %d: %w", productID, detector, err)
	}
	return &spec, nil
}

// SaveSpectrum writes one detector's residual spectrum as JSON.
func (s *FileStore) SaveSpectrum(productID string, detector int, spec *skyres.Spectrum) error {
	blob, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode spectrum %s det %d: %w", productID, detector, err)
	}
	if err := s.fs.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("save spectrum: %w", err)
	}
	path := filepath.Join(s.dir, specFileName(productID, detector))
	if err := s.fs.WriteFile(path, blob, 0644); err != nil {
		return fmt.Errorf("save spectrum %s det %d: %w", productID, detector, err)
	}
	return nil
}

// encodeCube compresses a cube with gob encoding and gzip.
func encodeCube(c *ifu.Cube) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(c); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeCube reverses encodeCube.
func decodeCube(blob []byte) (*ifu.Cube, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty cube blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gz.Close()

	var c ifu.Cube
	dec := gob.NewDecoder(gz)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	return &c, nil
}

// MemStore is an in-memory Store for tests and single-run pipelines.
type MemStore struct {
	mu    sync.RWMutex
	cubes map[string]*ifu.Cube
	specs map[string]*skyres.Spectrum
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		cubes: make(map[string]*ifu.Cube),
		specs: make(map[string]*skyres.Spectrum),
	}
}

// Load returns a deep copy of the stored cube.
func (s *MemStore) Load(exposureID string, detector int) (*ifu.Cube, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cubes[fileName(exposureID, detector)]
	if !ok {
		return nil, &fs.PathError{Op: "load", Path: fileName(exposureID, detector), Err: fs.ErrNotExist}
	}
	return c.Clone(), nil
}

// Save stores a deep copy of the cube.
func (s *MemStore) Save(exposureID string, detector int, c *ifu.Cube) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("save cube: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cubes[fileName(exposureID, detector)] = c.Clone()
	return nil
}

// LoadSpectrum returns a deep copy of the stored spectrum.
func (s *MemStore) LoadSpectrum(productID string, detector int) (*skyres.Spectrum, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.specs[specFileName(productID, detector)]
	if !ok {
		return nil, &fs.PathError{Op: "load", Path: specFileName(productID, detector), Err: fs.ErrNotExist}
	}
	return spec.Clone(), nil
}

// SaveSpectrum stores a deep copy of the spectrum.
func (s *MemStore) SaveSpectrum(productID string, detector int, spec *skyres.Spectrum) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs[specFileName(productID, detector)] = spec.Clone()
	return nil
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*MemStore)(nil)
)

// FindExposures discovers raw exposures under dir whose names start with
// prefix, returning their identifiers sorted lexically. Derived products
// (sky spectra, corrected cubes, star files) are excluded so reprocessing
// never consumes its own outputs. The returned order is authoritative:
// every downstream table preserves it end-to-end.
func FindExposures(filesystem fsutil.FileSystem, dir, prefix string) ([]string, error) {
	names, err := filesystem.List(dir)
	if err != nil {
		return nil, fmt.Errorf("discover exposures in %s: %w", dir, err)
	}
	seen := make(map[string]bool)
	var ids []string
	for _, name := range names {
		if !strings.HasSuffix(name, CubeExt) {
			continue
		}
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		id := exposureIDFromFile(name)
		if id == "" || seen[id] || ifu.IsDerivedProduct(id) {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// exposureIDFromFile strips the ".detN.cube" tail from a cube file name.
func exposureIDFromFile(name string) string {
	base := ifu.NewExposure(name).ID
	i := strings.LastIndex(base, ".det")
	if i < 0 {
		return ""
	}
	return base[:i]
}
