package eo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"slices"

	"github.com/paulmach/orb"

	"github.com/example/go-eonorm/eo/cache"
	"github.com/example/go-eonorm/eo/eoerr"
	"github.com/example/go-eonorm/eo/geocode"
	"github.com/example/go-eonorm/eo/mask"
	"github.com/example/go-eonorm/eo/radiometry"
	"github.com/example/go-eonorm/eo/raster"
	"github.com/example/go-eonorm/internal/logging"
)

// errUnpersisted stops the store from keeping a degraded mask. The mask
// itself is parked in Product.degraded.
var errUnpersisted = errors.New("eo: degraded mask not persisted")

// MaskKinds lists the conditions the product can provide.
func (p *Product) MaskKinds() []mask.Kind {
	if p.profile.Masks == nil {
		return nil
	}
	return p.profile.Masks.Kinds(p)
}

// HasMask reports whether kind is available.
func (p *Product) HasMask(kind mask.Kind) bool {
	return slices.Contains(p.MaskKinds(), kind)
}

// Mask returns the kind mask of bandName on grid. Rasterized masks are
// served from the artifact store when one is configured. Sources that are
// missing or unreadable degrade to an all-false mask carrying a warning.
func (p *Product) Mask(ctx context.Context, bandName string, kind mask.Kind, grid raster.Grid) (*mask.Mask, error) {
	if err := p.requireBands(); err != nil {
		return nil, err
	}
	if _, err := p.Registry().Get(bandName); err != nil {
		return nil, err
	}
	if !p.HasMask(kind) {
		return nil, &eoerr.InvalidTypeError{Type: string(kind), Reason: "mask not provided by " + p.Name()}
	}
	if p.store == nil || p.rw == nil {
		return p.buildMask(ctx, bandName, kind, grid)
	}

	key := p.maskKey(bandName, kind, grid)
	r, _, err := p.store.GetOrCreateRaster(ctx, key, p.rw, func(ctx context.Context) (*raster.Raster, error) {
		m, err := p.buildMask(ctx, bandName, kind, grid)
		if err != nil {
			return nil, err
		}
		if len(m.Warnings) > 0 {
			return nil, p.holdDegraded(key, m)
		}
		return m.ToRaster(), nil
	})
	if errors.Is(err, errUnpersisted) {
		if m, ok := takeDegraded[*mask.Mask](p, key); ok {
			return m, nil
		}
		// Shared with another product's computation.
		return p.buildMask(ctx, bandName, kind, grid)
	}
	if err != nil {
		return nil, err
	}
	m := mask.FromRaster(kind, r)
	m.Grid = grid
	return m, nil
}

// maskKey names a mask artifact after the grid it was burnt on.
func (p *Product) maskKey(bandName string, kind mask.Kind, grid raster.Grid) cache.Key {
	res := gridResolution(grid)
	originX, originY := grid.Transform.Apply(0, 0)
	return cache.Key{
		Product:    p.CondensedName(),
		Band:       bandName + "-" + string(kind),
		Resolution: res,
		Window: &raster.Window{
			ColOff: int(math.Round(originX / res)),
			RowOff: int(math.Round(originY / res)),
			Cols:   grid.Cols,
			Rows:   grid.Rows,
		},
		Cleaning: radiometry.CleanRaw,
		Kind:     cache.KindRaster,
	}
}

func gridResolution(grid raster.Grid) float64 {
	res, _ := grid.Transform.Resolution()
	if res = math.Abs(res); res == 0 {
		return 1
	}
	return res
}

func (p *Product) buildMask(ctx context.Context, bandName string, kind mask.Kind, grid raster.Grid) (*mask.Mask, error) {
	src, err := p.profile.Masks.Source(ctx, p, bandName, kind)
	if err != nil {
		return nil, eoerr.Band(p.Name(), bandName, fmt.Sprintf("locate %s mask", kind), err)
	}

	var m *mask.Mask
	switch {
	case len(src.Composite) > 0:
		parts := make([]*mask.Mask, 0, len(src.Composite))
		for _, k := range src.Composite {
			part, err := p.Mask(ctx, bandName, k, grid)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		}
		m, err = mask.Union(kind, parts...)
	case src.Vector != nil:
		m, err = p.rasterizeSource(ctx, bandName, src, kind, grid)
	case src.RasterPath != "":
		m, err = p.decodeSource(ctx, src, kind, grid)
	default:
		err = fmt.Errorf("mask source for %s is empty", kind)
	}
	if err != nil {
		var opt optionalMissing
		if errors.As(err, &opt) {
			m = mask.New(kind, grid)
			m.Warn("%s: %v", kind, opt.err)
		} else {
			return nil, eoerr.Band(p.Name(), bandName, fmt.Sprintf("build %s mask", kind), err)
		}
	}
	for _, w := range m.Warnings {
		p.logger.Warn(ctx, "mask degraded",
			logging.String("band", bandName),
			logging.String("mask", string(kind)),
			logging.String("warning", w))
	}
	return m, nil
}

type optionalMissing struct{ err error }

func (o optionalMissing) Error() string { return o.err.Error() }
func (o optionalMissing) Unwrap() error { return o.err }

func (p *Product) rasterizeSource(ctx context.Context, bandName string, src MaskSource, kind mask.Kind, grid raster.Grid) (*mask.Mask, error) {
	vec, err := p.loadVector(ctx, bandName, src, kind, grid)
	if err != nil {
		// Unreadable vectors are tolerated whatever Optional says.
		vec = mask.Vector{CRS: grid.CRS}
		vec.Warnings = append(vec.Warnings, fmt.Sprintf("%s: unreadable vector mask: %v", kind, err))
	}
	return mask.Rasterize(vec, grid, kind, src.Burn)
}

// loadVector reads src's polygons in the grid CRS, through the vector
// artifact store when one is configured.
func (p *Product) loadVector(ctx context.Context, bandName string, src MaskSource, kind mask.Kind, grid raster.Grid) (mask.Vector, error) {
	load := func(ctx context.Context) (mask.Vector, error) {
		vec, err := src.Vector(ctx)
		if err != nil {
			return mask.Vector{}, err
		}
		return reprojectVector(vec, grid.CRS)
	}
	if p.store == nil {
		return load(ctx)
	}
	key := cache.Key{
		Product:    p.CondensedName(),
		Band:       bandName + "-" + string(kind),
		Resolution: gridResolution(grid),
		Cleaning:   radiometry.CleanRaw,
		Kind:       cache.KindVector,
	}
	vec, _, err := p.store.GetOrCreateVector(ctx, key, grid.CRS, func(ctx context.Context) (mask.Vector, error) {
		vec, err := load(ctx)
		if err != nil {
			return mask.Vector{}, err
		}
		if len(vec.Warnings) > 0 || vec.IsEmpty() {
			return mask.Vector{}, p.holdDegraded(key, vec)
		}
		return vec, nil
	})
	if errors.Is(err, errUnpersisted) {
		if v, ok := takeDegraded[mask.Vector](p, key); ok {
			return v, nil
		}
		return load(ctx)
	}
	return vec, err
}

// holdDegraded parks v, a result the store must not keep, where every caller
// sharing the computation of key can read it.
func (p *Product) holdDegraded(key cache.Key, v any) error {
	p.degraded.Store(key.FileName(), v)
	return errUnpersisted
}

func takeDegraded[T any](p *Product, key cache.Key) (T, bool) {
	v, ok := p.degraded.Load(key.FileName())
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

func (p *Product) decodeSource(ctx context.Context, src MaskSource, kind mask.Kind, grid raster.Grid) (*mask.Mask, error) {
	if p.rw == nil {
		return nil, errors.New("no raster reader configured")
	}
	r, err := p.rw.Read(ctx, src.RasterPath, raster.ReadRequest{Channel: src.Channel, Resampling: raster.Nearest})
	if err != nil {
		if src.Optional && errors.Is(err, fs.ErrNotExist) {
			return nil, optionalMissing{err}
		}
		return nil, err
	}
	m, err := src.Decoder.Decode(r, 0, kind)
	if err != nil {
		return nil, err
	}
	return mask.Resample(m, grid)
}

// reprojectVector moves v onto crs with the built-in projectors. Vectors with
// no CRS are taken to be in crs already.
func reprojectVector(v mask.Vector, crs raster.CRS) (mask.Vector, error) {
	if v.CRS.IsZero() || crs.IsZero() || v.CRS.Equal(crs) || v.IsEmpty() {
		v.CRS = crs
		return v, nil
	}
	from, err := geocode.ProjectorFor(v.CRS)
	if err != nil {
		return v, err
	}
	to, err := geocode.ProjectorFor(crs)
	if err != nil {
		return v, err
	}
	out := mask.Vector{CRS: crs, Warnings: v.Warnings, Geometry: make(orb.MultiPolygon, len(v.Geometry))}
	for i, poly := range v.Geometry {
		np := make(orb.Polygon, len(poly))
		for j, ring := range poly {
			nr := make(orb.Ring, len(ring))
			for k, pt := range ring {
				lon, lat := from.Inverse(pt[0], pt[1])
				x, y := to.Forward(lon, lat)
				nr[k] = orb.Point{x, y}
			}
			np[j] = nr
		}
		out.Geometry[i] = np
	}
	return out, nil
}

// cleaningKinds returns the conditions removed by method, restricted to what
// the product provides.
func (p *Product) cleaningKinds(method radiometry.CleaningMethod) []mask.Kind {
	var want []mask.Kind
	switch method {
	case radiometry.CleanNoData:
		want = []mask.Kind{mask.NoData, mask.DetFoo}
	case radiometry.CleanAll:
		want = []mask.Kind{mask.NoData, mask.DetFoo, mask.Saturated, mask.Defect, mask.Lost}
	}
	available := p.MaskKinds()
	out := want[:0:0]
	for _, k := range want {
		if slices.Contains(available, k) {
			out = append(out, k)
		}
	}
	return out
}

// cleaningMasks builds the masks method removes from bandName on grid.
func (p *Product) cleaningMasks(ctx context.Context, bandName string, grid raster.Grid, method radiometry.CleaningMethod) ([]*mask.Mask, error) {
	var masks []*mask.Mask
	for _, k := range p.cleaningKinds(method) {
		m, err := p.Mask(ctx, bandName, k, grid)
		if err != nil {
			return nil, err
		}
		masks = append(masks, m)
	}
	if method == radiometry.CleanAll && p.adjacency > 0 {
		clouds := mask.AllClouds
		if !p.HasMask(clouds) {
			clouds = mask.Clouds
		}
		if p.HasMask(clouds) {
			c, err := p.Mask(ctx, bandName, clouds, grid)
			if err != nil {
				return nil, err
			}
			masks = append(masks, cloudAdjacency(c, p.adjacency))
		}
	}
	return masks, nil
}

// cloudAdjacency flags the pixels within radius of a cloud that are not
// cloudy themselves.
func cloudAdjacency(c *mask.Mask, radius int) *mask.Mask {
	ring := mask.Dilate(c, radius)
	for i, v := range c.Data {
		if v != 0 {
			ring.Data[i] = 0
		}
	}
	return ring
}
