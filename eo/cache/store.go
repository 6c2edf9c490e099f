package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/example/go-eonorm/internal/logging"
	"github.com/example/go-eonorm/internal/observability"
)

// ComputeFunc writes an artifact to tmpPath. The store moves it into place.
type ComputeFunc func(ctx context.Context, tmpPath string) error

// Store is a directory of artifacts addressed by Key. Existing files are
// trusted as-is; invalidation means pointing the store at another root.
type Store struct {
	root    string
	mirror  Mirror
	logger  logging.Logger
	metrics *observability.Metrics
	group   singleflight.Group
}

// Option configures a Store.
type Option func(*Store)

// WithMirror consults m on local misses and publishes new artifacts to it.
func WithMirror(m Mirror) Option {
	return func(s *Store) { s.mirror = m }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records hits, misses and compute durations.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates root if needed and returns a store over it.
func New(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("cache: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create root: %w", err)
	}
	s := &Store{root: root, logger: logging.Noop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the artifact directory.
func (s *Store) Root() string { return s.root }

// Path returns where key's artifact lives, whether or not it exists.
func (s *Store) Path(key Key) string {
	return filepath.Join(s.root, key.FileName())
}

// Exists reports whether key's artifact is present locally.
func (s *Store) Exists(key Key) bool {
	return exists(s.Path(key))
}

func exists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// GetOrCreate returns the path of key's artifact. If the file exists compute
// is not called. Otherwise the mirror is tried, then compute writes a unique
// temporary file that is renamed into place, so readers never see a partial
// artifact. Concurrent calls for one key in this process share one compute.
func (s *Store) GetOrCreate(ctx context.Context, key Key, compute ComputeFunc) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	final := s.Path(key)
	kind := string(key.Kind)
	if exists(final) {
		s.metrics.CacheHit(kind, observability.SourceLocal)
		return final, nil
	}

	v, err, _ := s.group.Do(final, func() (any, error) {
		if exists(final) {
			s.metrics.CacheHit(kind, observability.SourceLocal)
			return final, nil
		}
		if s.fromMirror(ctx, key, final) {
			s.metrics.CacheHit(kind, observability.SourceMirror)
			return final, nil
		}

		start := time.Now()
		tmp := tempPath(final)
		if err := compute(ctx, tmp); err != nil {
			os.Remove(tmp)
			return "", fmt.Errorf("cache: compute %s: %w", key.FileName(), err)
		}
		if !exists(tmp) {
			return "", fmt.Errorf("cache: compute %s produced no file", key.FileName())
		}
		if err := os.Rename(tmp, final); err != nil {
			os.Remove(tmp)
			return "", fmt.Errorf("cache: rename temp file: %w", err)
		}
		took := time.Since(start)
		s.metrics.CacheMiss(kind, took)
		s.logger.Debug(ctx, "artifact computed",
			logging.String("artifact", key.FileName()),
			logging.Float("seconds", took.Seconds()))
		s.toMirror(ctx, key, final)
		return final, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Remove deletes key's local artifact. A missing file is not an error.
func (s *Store) Remove(key Key) error {
	if err := os.Remove(s.Path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cache: remove: %w", err)
	}
	return nil
}

func tempPath(final string) string {
	return final + "." + uuid.NewString() + ".part"
}

func (s *Store) fromMirror(ctx context.Context, key Key, final string) bool {
	if s.mirror == nil {
		return false
	}
	tmp := tempPath(final)
	found, err := s.mirror.Fetch(ctx, key.FileName(), tmp)
	if err != nil || !found {
		os.Remove(tmp)
		if err != nil {
			s.logger.Warn(ctx, "artifact mirror fetch failed", logging.String("artifact", key.FileName()), logging.Err(err))
		}
		return false
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		s.logger.Warn(ctx, "artifact mirror rename failed", logging.String("artifact", key.FileName()), logging.Err(err))
		return false
	}
	return true
}

func (s *Store) toMirror(ctx context.Context, key Key, final string) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Store(ctx, key.FileName(), final); err != nil {
		s.logger.Warn(ctx, "artifact mirror upload failed", logging.String("artifact", key.FileName()), logging.Err(err))
	}
}
