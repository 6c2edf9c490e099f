// Package eo turns an Earth-observation product delivery into uniform,
// georeferenced, radiometrically corrected bands.
//
// A Product is built from a path and a Profile. New identifies it from the
// path alone; Init parses metadata and maps its bands; LoadBand and Load then
// run the band pipeline. Everything a Product resolves is memoized on that
// instance only.
package eo

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/example/go-eonorm/eo/band"
	"github.com/example/go-eonorm/eo/cache"
	"github.com/example/go-eonorm/eo/eoerr"
	"github.com/example/go-eonorm/eo/geocode"
	"github.com/example/go-eonorm/eo/metadata"
	"github.com/example/go-eonorm/eo/radiometry"
	"github.com/example/go-eonorm/eo/raster"
	"github.com/example/go-eonorm/internal/logging"
	"github.com/example/go-eonorm/internal/observability"
)

// CondensedTimeLayout formats the acquisition time of condensed names.
const CondensedTimeLayout = "20060102T150405"

// Family is the sensor family.
type Family string

const (
	Optical Family = "OPTICAL"
	SAR     Family = "SAR"
)

// Identity is what a product path says about the product.
type Identity struct {
	Name          string
	Constellation string
	Family        Family
	ProductType   string
	// TileID is the tile, path/row or site identifier; it may be empty.
	TileID        string
	Acquisition   time.Time
	Disambiguator string
}

// Flags are format-dependent booleans set before metadata is read.
type Flags struct {
	IsOrtho         bool
	IsArchived      bool
	NeedsExtraction bool
}

// State is a Product lifecycle stage.
type State int

const (
	Constructed State = iota
	PreInitialized
	MetadataResolved
	PostInitialized
	Ready
	// Degraded is terminal: metadata could not be parsed but identity
	// operations still work.
	Degraded
)

func (s State) String() string {
	switch s {
	case Constructed:
		return "constructed"
	case PreInitialized:
		return "pre-initialized"
	case MetadataResolved:
		return "metadata-resolved"
	case PostInitialized:
		return "post-initialized"
	case Ready:
		return "ready"
	case Degraded:
		return "degraded"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Product is one delivery being normalized.
type Product struct {
	path     string
	profile  Profile
	identity Identity
	flags    Flags

	rw        raster.ReadWriter
	store     *cache.Store
	logger    logging.Logger
	metrics   *observability.Metrics
	extractor Extractor
	workDir   string
	orbit     radiometry.Orbit
	workers   int
	adjacency int

	initMu sync.Mutex

	mu          sync.RWMutex
	state       State
	degradedErr error
	registry    *band.Registry
	layout      band.Layout
	rawUnits    radiometry.RawUnits

	root      memo[string]
	metadata  memo[metadata.View]
	footprint memo[orb.Geometry]
	crs       memo[raster.CRS]
	extent    memo[orb.Bound]
	cache     instanceCache
	degraded  sync.Map
}

// New identifies the product at path with profile. It reads nothing but the
// path; a path the profile does not recognise is an InvalidProductError.
func New(path string, profile Profile, opts ...Option) (*Product, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	p := &Product{
		path:    filepath.Clean(path),
		profile: profile,
		logger:  logging.Noop(),
		workDir: filepath.Dir(filepath.Clean(path)),
		orbit:   radiometry.DefaultOrbit,
		workers: runtime.NumCPU(),
		state:   Constructed,

		adjacency: DefaultCloudAdjacency,
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, fmt.Errorf("eo: apply option: %w", err)
		}
	}

	id, flags, err := profile.Identifier.Identify(p.path)
	if err != nil {
		return nil, eoerr.Product(filepath.Base(p.path), "unrecognised product path", err)
	}
	if id.Name == "" {
		id.Name = strings.TrimSuffix(filepath.Base(p.path), filepath.Ext(p.path))
	}
	p.identity, p.flags = id, flags
	p.state = PreInitialized
	p.logger = p.logger.With(logging.String("product", id.Name))
	p.logger.Debug(context.Background(), "product identified",
		logging.String("constellation", id.Constellation),
		logging.String("profile", profile.Name),
		logging.Bool("archived", flags.IsArchived))
	return p, nil
}

// Open is New followed by Init. A product whose metadata cannot be parsed is
// returned in the Degraded state together with the error.
func Open(ctx context.Context, path string, profile Profile, opts ...Option) (*Product, error) {
	p, err := New(path, profile, opts...)
	if err != nil {
		return nil, err
	}
	if err := p.Init(ctx); err != nil {
		return p, err
	}
	return p, nil
}

// Path returns the delivery path.
func (p *Product) Path() string { return p.path }

// Name returns the product name.
func (p *Product) Name() string { return p.identity.Name }

// Identity returns the identity derived from the path.
func (p *Product) Identity() Identity { return p.identity }

// Flags returns the format flags set at construction.
func (p *Product) Flags() Flags { return p.flags }

// Profile returns the strategies the product was built with.
func (p *Product) Profile() Profile { return p.profile }

// Logger returns the product-scoped logger.
func (p *Product) Logger() logging.Logger { return p.logger }

// Reader returns the raster engine, or nil.
func (p *Product) Reader() raster.Reader {
	if p.rw == nil {
		return nil
	}
	return p.rw
}

// State returns the lifecycle stage.
func (p *Product) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// CondensedName returns
// {YYYYMMDDTHHMMSS}_{constellation}_{tile}_{product type}[_{disambiguator}],
// leaving out an empty tile.
func (p *Product) CondensedName() string {
	id := p.identity
	parts := []string{id.Acquisition.UTC().Format(CondensedTimeLayout), id.Constellation}
	if id.TileID != "" {
		parts = append(parts, id.TileID)
	}
	parts = append(parts, id.ProductType)
	if id.Disambiguator != "" {
		parts = append(parts, id.Disambiguator)
	}
	return strings.Join(parts, "_")
}

// Root returns the directory holding the product files, extracting an
// archived delivery on first use.
func (p *Product) Root(ctx context.Context) (string, error) {
	return p.root.get(ctx, func(ctx context.Context) (string, error) {
		if !p.flags.IsArchived || !p.flags.NeedsExtraction {
			return p.path, nil
		}
		if p.extractor == nil {
			return "", eoerr.Product(p.Name(), "archived delivery needs extraction but no extractor is configured", nil)
		}
		root, err := p.extractor.Extract(ctx, p.path, p.workDir)
		if err != nil {
			return "", eoerr.Product(p.Name(), "extract archive", err)
		}
		return root, nil
	})
}

// Metadata returns the parsed metadata, resolving it once per instance. A
// parse failure moves the product to Degraded.
func (p *Product) Metadata(ctx context.Context) (metadata.View, error) {
	md, err := p.metadata.get(ctx, func(ctx context.Context) (metadata.View, error) {
		root, err := p.Root(ctx)
		if err != nil {
			return nil, err
		}
		md, err := p.profile.Metadata.LoadMetadata(ctx, root)
		if err != nil {
			return nil, eoerr.Product(p.Name(), "read metadata", err)
		}
		return md, nil
	})
	if err != nil && !isCancellation(err) {
		p.degrade(ctx, err)
	}
	return md, err
}

func (p *Product) degrade(ctx context.Context, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Degraded {
		return
	}
	p.state = Degraded
	p.degradedErr = err
	p.logger.Warn(ctx, "metadata unavailable, product degraded", logging.Err(err))
}

// Init resolves metadata, maps the bands and resolves the product CRS. It is
// safe to call repeatedly. Failures leave the product in its previous state,
// except metadata failures which are terminal.
func (p *Product) Init(ctx context.Context) error {
	p.initMu.Lock()
	defer p.initMu.Unlock()

	switch st := p.State(); st {
	case Ready:
		return nil
	case Degraded:
		return p.degradedError()
	}

	md, err := p.Metadata(ctx)
	if err != nil {
		return err
	}
	p.advance(MetadataResolved)

	if p.State() < PostInitialized {
		if err := p.postInit(ctx, md); err != nil {
			return err
		}
	}

	if _, err := p.CRS(ctx); err != nil {
		return err
	}
	p.advance(Ready)
	return nil
}

func (p *Product) advance(to State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state < to && p.state != Degraded {
		p.state = to
	}
}

func (p *Product) postInit(ctx context.Context, md metadata.View) error {
	bm, err := p.profile.Bands.MapBands(ctx, p, md)
	if err != nil {
		return eoerr.Product(p.Name(), "map bands", err)
	}
	if bm.PixelSize <= 0 {
		return eoerr.Product(p.Name(), fmt.Sprintf("invalid default pixel size %v", bm.PixelSize), nil)
	}
	reg := band.NewRegistry(bm.PixelSize)
	if err := reg.Map(bm.Combination, bm.Bands); err != nil {
		return eoerr.Product(p.Name(), "map bands", err)
	}
	layout := bm.Layout
	if layout.Root == "" {
		root, err := p.Root(ctx)
		if err != nil {
			return err
		}
		layout.Root = root
	}
	units := radiometry.RawNone
	if p.profile.RawUnits != nil {
		if units, err = p.profile.RawUnits.RawUnits(ctx, p, md); err != nil {
			return eoerr.Product(p.Name(), "raw units", err)
		}
	}

	p.mu.Lock()
	p.registry, p.layout, p.rawUnits = reg, layout, units
	if p.state < PostInitialized {
		p.state = PostInitialized
	}
	p.mu.Unlock()
	p.logger.Info(ctx, "bands mapped",
		logging.String("combination", string(bm.Combination)),
		logging.Strings("bands", reg.Names()),
		logging.Float("pixel_size", bm.PixelSize),
		logging.String("raw_units", string(units)))
	return nil
}

func (p *Product) degradedError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.degradedErr
}

// requireBands fails unless post-init has completed.
func (p *Product) requireBands() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch {
	case p.state == Degraded:
		return eoerr.Product(p.Name(), "product is degraded", p.degradedErr)
	case p.state < PostInitialized:
		return eoerr.Product(p.Name(), "product is not initialized", nil)
	}
	return nil
}

// Registry returns the band registry. It is nil before post-init.
func (p *Product) Registry() *band.Registry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.registry
}

// Bands lists the mapped logical band names.
func (p *Product) Bands() []string {
	if reg := p.Registry(); reg != nil {
		return reg.Names()
	}
	return nil
}

// PixelSize returns the product default GSD, 0 before post-init.
func (p *Product) PixelSize() float64 {
	if reg := p.Registry(); reg != nil {
		return reg.DefaultGSD()
	}
	return 0
}

// RawUnits returns how raw samples are delivered.
func (p *Product) RawUnits() radiometry.RawUnits {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.rawUnits == "" {
		return radiometry.RawNone
	}
	return p.rawUnits
}

// Layout returns where raw band files live.
func (p *Product) Layout() band.Layout {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.layout
}

// Footprint returns the imaged area in WGS84 longitude/latitude.
func (p *Product) Footprint(ctx context.Context) (orb.Geometry, error) {
	if p.State() == Degraded {
		return nil, eoerr.Product(p.Name(), "product is degraded", p.degradedError())
	}
	return p.footprint.get(ctx, func(ctx context.Context) (orb.Geometry, error) {
		fp, err := p.profile.Footprint.Footprint(ctx, p)
		if err != nil {
			return nil, eoerr.Product(p.Name(), "read footprint", err)
		}
		return fp, nil
	})
}

// CRS returns the product CRS: the embedded one when it is projected,
// otherwise the UTM zone of the footprint centroid.
func (p *Product) CRS(ctx context.Context) (raster.CRS, error) {
	if p.State() == Degraded {
		return raster.CRS{}, eoerr.Product(p.Name(), "product is degraded", p.degradedError())
	}
	return p.crs.get(ctx, func(ctx context.Context) (raster.CRS, error) {
		embedded, err := p.profile.Footprint.EmbeddedCRS(ctx, p)
		if err != nil {
			return raster.CRS{}, eoerr.Product(p.Name(), "read CRS", err)
		}
		if !embedded.IsZero() && !embedded.IsGeographic() {
			return embedded, nil
		}
		fp, err := p.Footprint(ctx)
		if err != nil {
			return raster.CRS{}, err
		}
		crs, err := geocode.ResolveCRS(embedded, fp)
		if err != nil {
			return raster.CRS{}, eoerr.Product(p.Name(), "derive UTM zone", err)
		}
		return crs, nil
	})
}

// Extent returns the bounding rectangle of the footprint in the product CRS.
func (p *Product) Extent(ctx context.Context) (orb.Bound, error) {
	return p.extent.get(ctx, func(ctx context.Context) (orb.Bound, error) {
		fp, err := p.Footprint(ctx)
		if err != nil {
			return orb.Bound{}, err
		}
		crs, err := p.CRS(ctx)
		if err != nil {
			return orb.Bound{}, err
		}
		proj, err := geocode.ProjectorFor(crs)
		if err != nil {
			return orb.Bound{}, eoerr.Product(p.Name(), "project extent", err)
		}
		return geocode.ProjectBound(proj, fp.Bound()), nil
	})
}

// Verify checks that every mapped band resolves to a channel present in its
// raw file.
func (p *Product) Verify(ctx context.Context) error {
	if err := p.requireBands(); err != nil {
		return err
	}
	if p.rw == nil {
		return eoerr.Product(p.Name(), "no raster reader configured", nil)
	}
	if err := p.Registry().Verify(ctx, p.Layout(), p.rw); err != nil {
		return eoerr.Product(p.Name(), "verify bands", err)
	}
	return nil
}
