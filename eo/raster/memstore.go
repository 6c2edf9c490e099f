package raster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const placeholderPrefix = "memstore:"

// MemStore is an in-process Reader/Writer. Put registers rasters by path;
// Write materializes a placeholder file naming an in-memory entry, so the
// entry follows the file through renames and existence-based caches see it.
type MemStore struct {
	mu      sync.RWMutex
	rasters map[string]*Raster
	reads   map[string]int
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{rasters: make(map[string]*Raster), reads: make(map[string]int)}
}

// Put registers r under path without touching the filesystem.
func (m *MemStore) Put(path string, r *Raster) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rasters[filepath.Clean(path)] = r.Clone()
}

// Reads reports how many times path has been read.
func (m *MemStore) Reads(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reads[filepath.Clean(path)]
}

// Read implements Reader.
func (m *MemStore) Read(_ context.Context, path string, req ReadRequest) (*Raster, error) {
	src, err := m.lookup(path)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.reads[filepath.Clean(path)]++
	m.mu.Unlock()

	out := src.Clone()
	if req.Channel > 0 {
		if req.Channel > src.Bands {
			return nil, fmt.Errorf("raster: %s has %d channels, channel %d requested", path, src.Bands, req.Channel)
		}
		b := req.Channel - 1
		out = New(src.Grid, 1)
		out.Unit = src.Unit
		out.Names[0] = src.Names[b]
		copy(out.Data, src.Band(b))
	}
	if req.PixelSize > 0 {
		if res, _ := out.Transform.Resolution(); res != req.PixelSize {
			method := req.Resampling
			if method == "" {
				method = Nearest
			}
			resampled, err := Resample(out, req.PixelSize, method)
			if err != nil {
				return nil, err
			}
			out = resampled
		}
	}
	if req.Window != nil {
		return out.Window(*req.Window)
	}
	return out, nil
}

// Channels implements Reader.
func (m *MemStore) Channels(_ context.Context, path string) (int, error) {
	r, err := m.lookup(path)
	if err != nil {
		return 0, err
	}
	return r.Bands, nil
}

func (m *MemStore) lookup(path string) (*Raster, error) {
	m.mu.RLock()
	r, ok := m.rasters[filepath.Clean(path)]
	m.mu.RUnlock()
	if ok {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("raster: %s: %w", path, err)
	}
	id, found := strings.CutPrefix(strings.TrimSpace(string(data)), placeholderPrefix)
	if !found {
		return nil, fmt.Errorf("raster: %s is not a memstore placeholder", path)
	}
	m.mu.RLock()
	r, ok = m.rasters[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("raster: %s: %w", path, os.ErrNotExist)
	}
	return r, nil
}

// Write implements Writer.
func (m *MemStore) Write(_ context.Context, path string, r *Raster) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("raster: create directory: %w", err)
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(placeholderPrefix+id+"\n"), 0o644); err != nil {
		return fmt.Errorf("raster: write placeholder: %w", err)
	}
	m.mu.Lock()
	m.rasters[id] = r.Clone()
	m.mu.Unlock()
	return nil
}
