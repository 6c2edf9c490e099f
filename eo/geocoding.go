package eo

import (
	"context"
	"fmt"

	"github.com/example/go-eonorm/eo/eoerr"
	"github.com/example/go-eonorm/eo/geocode"
	"github.com/example/go-eonorm/eo/raster"
)

// NativeGeocoding is the strategy of products whose band files are already
// on a map grid.
type NativeGeocoding struct{}

// Native implements GeocodingStrategy.
func (NativeGeocoding) Native() bool { return true }

// Geocode implements GeocodingStrategy. It only checks that r is georeferenced.
func (NativeGeocoding) Geocode(_ context.Context, p *Product, r *raster.Raster, _ float64, _ raster.Resampling) (*raster.Raster, error) {
	if r.CRS.IsZero() {
		return nil, eoerr.Product(p.Name(), "band file carries no CRS", nil)
	}
	return r, nil
}

// RPCLoader reads the rational polynomial coefficients of a product.
type RPCLoader func(ctx context.Context, p *Product) (*geocode.RPC, error)

// RPCGeocoding orthorectifies sensor-geometry bands onto the product CRS
// through their RPC model and an elevation source.
type RPCGeocoding struct {
	Load      RPCLoader
	Elevation geocode.Elevation
}

// Native implements GeocodingStrategy.
func (RPCGeocoding) Native() bool { return false }

// Geocode implements GeocodingStrategy.
func (g RPCGeocoding) Geocode(ctx context.Context, p *Product, r *raster.Raster, res float64, method raster.Resampling) (*raster.Raster, error) {
	rpc, err := cached(ctx, &p.cache, "rpc", func(ctx context.Context) (*geocode.RPC, error) {
		rpc, err := g.Load(ctx, p)
		if err != nil {
			return nil, eoerr.Product(p.Name(), "read RPC", err)
		}
		return rpc, nil
	})
	if err != nil {
		return nil, err
	}
	crs, err := p.CRS(ctx)
	if err != nil {
		return nil, err
	}
	ortho := geocode.Orthorectifier{Elevation: g.Elevation}
	key := fmt.Sprintf("ortho-grid:%dx%d@%g", r.Rows, r.Cols, res)
	target, err := cached(ctx, &p.cache, key, func(context.Context) (raster.Grid, error) {
		return ortho.OrthoGrid(rpc, r.Rows, r.Cols, crs, res)
	})
	if err != nil {
		return nil, err
	}
	return ortho.Orthorectify(ctx, r, rpc, target, method)
}

// SwathLoader reads the geolocation grid of a band. The grid is shared by every
// band of the same shape, so bandName is only the first of them.
type SwathLoader func(ctx context.Context, p *Product, bandName string, rows, cols int) (*geocode.SwathGrid, error)

// SwathGeocoding resamples swath bands onto a regular area covering their
// geolocation. Bands with the same shape share the swath and the resampling
// tables.
type SwathGeocoding struct {
	Load SwathLoader
	// Radius bounds the nearest-neighbour search, in metres. 0 uses twice
	// the target pixel size.
	Radius float64
}

// Native implements GeocodingStrategy.
func (SwathGeocoding) Native() bool { return false }

// Geocode implements GeocodingStrategy.
func (g SwathGeocoding) Geocode(ctx context.Context, p *Product, r *raster.Raster, res float64, method raster.Resampling) (*raster.Raster, error) {
	bandName := ""
	if len(r.Names) > 0 {
		bandName = r.Names[0]
	}
	shape := fmt.Sprintf("%dx%d", r.Rows, r.Cols)
	swath, err := cached(ctx, &p.cache, "swath:"+shape, func(ctx context.Context) (*geocode.SwathGrid, error) {
		s, err := g.Load(ctx, p, bandName, r.Rows, r.Cols)
		if err != nil {
			return nil, eoerr.Product(p.Name(), "read "+shape+" geolocation grid", err)
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	crs, err := p.CRS(ctx)
	if err != nil {
		return nil, err
	}
	rs, err := cached(ctx, &p.cache, fmt.Sprintf("swath-resampler:%s@%g", shape, res), func(context.Context) (*geocode.Resampler, error) {
		target, err := geocode.AreaFor(swath, crs, res)
		if err != nil {
			return nil, err
		}
		radius := g.Radius
		if radius <= 0 {
			radius = 2 * res
		}
		return geocode.NewResampler(swath, target, radius)
	})
	if err != nil {
		return nil, err
	}
	return rs.Resample(ctx, r, method)
}
