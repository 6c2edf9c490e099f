package eo

import (
	"context"
	"errors"

	"github.com/paulmach/orb"

	"github.com/example/go-eonorm/eo/band"
	"github.com/example/go-eonorm/eo/mask"
	"github.com/example/go-eonorm/eo/metadata"
	"github.com/example/go-eonorm/eo/radiometry"
	"github.com/example/go-eonorm/eo/raster"
)

// Profile is the set of strategies that make a generic Product behave like a
// given constellation's delivery. Each strategy is chosen independently.
type Profile struct {
	Name string

	Identifier Identifier
	Metadata   MetadataLoader
	Bands      BandMapper

	// Optional strategies. A nil RawUnits means samples are delivered as-is,
	// a nil Masks means no mask is available and a nil Geocoding means band
	// files already carry a map grid.
	RawUnits     RawUnitsStrategy
	Masks        MaskStrategy
	Footprint    FootprintStrategy
	Geocoding    GeocodingStrategy
	Preprocessor Preprocessor
}

// Validate checks that the mandatory strategies are present.
func (pr Profile) Validate() error {
	switch {
	case pr.Identifier == nil:
		return errors.New("eo: profile has no identifier")
	case pr.Metadata == nil:
		return errors.New("eo: profile has no metadata loader")
	case pr.Bands == nil:
		return errors.New("eo: profile has no band mapper")
	case pr.Footprint == nil:
		return errors.New("eo: profile has no footprint strategy")
	}
	return nil
}

// Identifier derives a product's identity and format flags from its path
// alone, before any metadata is read.
type Identifier interface {
	Identify(path string) (Identity, Flags, error)
}

// IdentifierFunc adapts a function to Identifier.
type IdentifierFunc func(path string) (Identity, Flags, error)

// Identify implements Identifier.
func (f IdentifierFunc) Identify(path string) (Identity, Flags, error) { return f(path) }

// MetadataLoader parses the metadata documents of a staged product directory.
type MetadataLoader interface {
	LoadMetadata(ctx context.Context, root string) (metadata.View, error)
}

// MetadataLoaderFunc adapts a function to MetadataLoader.
type MetadataLoaderFunc func(ctx context.Context, root string) (metadata.View, error)

// LoadMetadata implements MetadataLoader.
func (f MetadataLoaderFunc) LoadMetadata(ctx context.Context, root string) (metadata.View, error) {
	return f(ctx, root)
}

// BandMap is the band-combination detected in a product's metadata.
type BandMap struct {
	Combination band.Combination
	Bands       []band.Descriptor
	// PixelSize is the product default GSD in metres.
	PixelSize float64
	// Layout locates raw band files. An empty Root means the staged product
	// directory.
	Layout band.Layout
}

// BandMapper detects the band combination of a product.
type BandMapper interface {
	MapBands(ctx context.Context, p *Product, md metadata.View) (BandMap, error)
}

// BandMapperFunc adapts a function to BandMapper.
type BandMapperFunc func(ctx context.Context, p *Product, md metadata.View) (BandMap, error)

// MapBands implements BandMapper.
func (f BandMapperFunc) MapBands(ctx context.Context, p *Product, md metadata.View) (BandMap, error) {
	return f(ctx, p, md)
}

// RawUnitsStrategy tells how raw samples relate to physical quantities.
type RawUnitsStrategy interface {
	RawUnits(ctx context.Context, p *Product, md metadata.View) (radiometry.RawUnits, error)
	// Calibration returns the coefficients found for desc. Absent
	// coefficients are left zero; the converter reports them.
	Calibration(ctx context.Context, p *Product, desc band.Descriptor) (radiometry.Calibration, error)
}

// MaskSource tells where a mask kind comes from. Exactly one of Vector,
// RasterPath or Composite is set.
type MaskSource struct {
	// Vector loads polygons. Errors degrade to an empty mask with a warning.
	Vector func(ctx context.Context) (mask.Vector, error)
	Burn   mask.Burn

	// RasterPath is a bitmask or classification raster decoded with Decoder.
	RasterPath string
	Channel    int
	Decoder    mask.Decoder

	// Composite ORs other kinds together.
	Composite []mask.Kind

	// Optional marks sources whose absence is expected; a missing file then
	// gives an empty mask with a warning.
	Optional bool
}

// MaskStrategy locates a product's masks.
type MaskStrategy interface {
	Kinds(p *Product) []mask.Kind
	Source(ctx context.Context, p *Product, bandName string, kind mask.Kind) (MaskSource, error)
}

// FootprintStrategy reads the imaged area and the CRS stated by the product.
type FootprintStrategy interface {
	// Footprint returns the imaged area in WGS84 longitude/latitude.
	Footprint(ctx context.Context, p *Product) (orb.Geometry, error)
	// EmbeddedCRS returns the CRS stated by the product, or the zero CRS.
	EmbeddedCRS(ctx context.Context, p *Product) (raster.CRS, error)
}

// GeocodingStrategy places a band onto the product's map grid.
type GeocodingStrategy interface {
	// Native reports whether raw band files already carry a map grid. Reads
	// then honour the requested pixel size and window directly.
	Native() bool
	// Geocode returns r on the product CRS at pixel size res. r is not modified.
	Geocode(ctx context.Context, p *Product, r *raster.Raster, res float64, method raster.Resampling) (*raster.Raster, error)
}

// Preprocessor turns a raw band file into a calibrated or terrain-corrected
// file before it is read. terrain.Runner implements it.
type Preprocessor interface {
	Run(ctx context.Context, in, out string) error
}

// Extractor stages an archived delivery into dir and returns the product root.
type Extractor interface {
	Extract(ctx context.Context, archive, dir string) (string, error)
}
