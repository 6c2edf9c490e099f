package eo

import (
	"fmt"

	"github.com/example/go-eonorm/eo/cache"
	"github.com/example/go-eonorm/eo/radiometry"
	"github.com/example/go-eonorm/eo/raster"
	"github.com/example/go-eonorm/internal/logging"
	"github.com/example/go-eonorm/internal/observability"
)

// Option configures a Product.
type Option func(*Product) error

// WithRaster sets the raster engine used to read raw bands and write artifacts.
func WithRaster(rw raster.ReadWriter) Option {
	return func(p *Product) error {
		if rw == nil {
			return fmt.Errorf("raster read-writer cannot be nil")
		}
		p.rw = rw
		return nil
	}
}

// WithStore persists processed bands and masks as derived artifacts.
func WithStore(s *cache.Store) Option {
	return func(p *Product) error {
		p.store = s
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Product) error {
		if l != nil {
			p.logger = l
		}
		return nil
	}
}

// WithMetrics records band outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Product) error {
		p.metrics = m
		return nil
	}
}

// WithExtractor stages archived deliveries that need extraction.
func WithExtractor(x Extractor) Option {
	return func(p *Product) error {
		p.extractor = x
		return nil
	}
}

// WithWorkDir sets where archives are extracted and uncached intermediates
// are written. It defaults to the directory holding the product.
func WithWorkDir(dir string) Option {
	return func(p *Product) error {
		if dir == "" {
			return fmt.Errorf("work dir cannot be empty")
		}
		p.workDir = dir
		return nil
	}
}

// WithOrbit overrides the sun-Earth distance constants.
func WithOrbit(o radiometry.Orbit) Option {
	return func(p *Product) error {
		if o.Eccentricity < 0 || o.Eccentricity >= 1 {
			return fmt.Errorf("orbit eccentricity %v out of range", o.Eccentricity)
		}
		p.orbit = o
		return nil
	}
}

// WithWorkers bounds how many bands Load processes at once.
func WithWorkers(n int) Option {
	return func(p *Product) error {
		if n <= 0 {
			return fmt.Errorf("workers must be positive")
		}
		p.workers = n
		return nil
	}
}

// DefaultCloudAdjacency is the radius, in pixels, of the cloud neighbourhood
// removed by the clean cleaning method unless WithCloudAdjacency says
// otherwise.
const DefaultCloudAdjacency = 1

// WithCloudAdjacency sets the radius, in pixels, of the cloud neighbourhood
// removed by the clean cleaning method. 0 disables it.
func WithCloudAdjacency(pixels int) Option {
	return func(p *Product) error {
		if pixels < 0 {
			return fmt.Errorf("cloud adjacency cannot be negative")
		}
		p.adjacency = pixels
		return nil
	}
}
