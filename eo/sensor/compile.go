package sensor

import (
	"context"
	"errors"

	"github.com/example/go-eonorm/eo"
	"github.com/example/go-eonorm/eo/geocode"
	"github.com/example/go-eonorm/eo/metadata"
	"github.com/example/go-eonorm/eo/terrain"
)

// Option tunes how a definition is compiled.
type Option func(*options) error

type options struct {
	elevation   geocode.Elevation
	terrain     *terrain.Runner
	swathRadius float64
}

// WithElevation sets the ground height source of RPC orthorectification.
func WithElevation(e geocode.Elevation) Option {
	return func(o *options) error {
		if e == nil {
			return errors.New("sensor: elevation source is nil")
		}
		o.elevation = e
		return nil
	}
}

// WithTerrain runs r on every raw band file of SAR profiles, replacing any
// tool the definition names.
func WithTerrain(r terrain.Runner) Option {
	return func(o *options) error {
		if r.Command == "" {
			return errors.New("sensor: terrain command is empty")
		}
		o.terrain = &r
		return nil
	}
}

// WithSwathRadius bounds the swath neighbour search, in metres.
func WithSwathRadius(m float64) Option {
	return func(o *options) error {
		if m < 0 {
			return errors.New("sensor: swath radius must not be negative")
		}
		o.swathRadius = m
		return nil
	}
}

// compiled carries a definition and the lookups its strategies share.
type compiled struct {
	def   Definition
	opts  options
	bands map[string]map[string]bandEntry
}

// Compile turns def into an eo.Profile.
func Compile(def Definition, opts ...Option) (eo.Profile, error) {
	if err := def.Validate(); err != nil {
		return eo.Profile{}, err
	}
	c := &compiled{def: def, bands: make(map[string]map[string]bandEntry, len(def.Combinations))}
	for _, opt := range opts {
		if err := opt(&c.opts); err != nil {
			return eo.Profile{}, err
		}
	}
	for _, comb := range def.Combinations {
		rows := make(map[string]bandEntry, len(comb.Bands))
		for i, b := range comb.Bands {
			idx := i
			if b.Index != nil {
				idx = *b.Index
			}
			rows[b.Name] = bandEntry{def: b, index: idx}
		}
		c.bands[comb.Name] = rows
	}

	id, err := newIdentifier(def)
	if err != nil {
		return eo.Profile{}, err
	}
	prof := eo.Profile{
		Name:       def.Name,
		Identifier: id,
		Metadata:   eo.MetadataLoaderFunc(c.loadMetadata),
		Bands:      c,
		RawUnits:   c,
		Footprint:  footprint{name: def.Name, def: def.Footprint, crs: def.CRS},
	}
	if len(def.Masks) > 0 {
		prof.Masks = newMasks(c)
	}
	switch def.Geocoding.Kind {
	case GeocodingRPC:
		prof.Geocoding = eo.RPCGeocoding{Load: c.loadRPC, Elevation: c.opts.elevation}
	case GeocodingSwath:
		prof.Geocoding = eo.SwathGeocoding{Load: c.loadSwath, Radius: c.opts.swathRadius}
	default:
		prof.Geocoding = eo.NativeGeocoding{}
	}
	switch {
	case c.opts.terrain != nil && def.Family == string(eo.SAR):
		prof.Preprocessor = *c.opts.terrain
	case def.Terrain != nil && def.Terrain.Command != "":
		prof.Preprocessor = terrain.Runner{Command: def.Terrain.Command, Args: def.Terrain.Args, Timeout: def.Terrain.Timeout}
	}
	return prof, prof.Validate()
}

func (c *compiled) loadMetadata(_ context.Context, root string) (metadata.View, error) {
	return openDocument(root, c.def.Metadata.File, c.def.Metadata.Format)
}
