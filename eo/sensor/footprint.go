package sensor

import (
	"context"
	"fmt"
	"strings"

	"github.com/paulmach/orb"

	"github.com/example/go-eonorm/eo"
	"github.com/example/go-eonorm/eo/mask"
	"github.com/example/go-eonorm/eo/metadata"
	"github.com/example/go-eonorm/eo/raster"
)

type footprint struct {
	name string
	def  FootprintDef
	crs  CRSDef
}

// Footprint implements eo.FootprintStrategy.
func (f footprint) Footprint(ctx context.Context, p *eo.Product) (orb.Geometry, error) {
	doc, err := document(ctx, p, f.def.File, f.def.Format)
	if err != nil {
		return nil, err
	}
	if f.def.WKT != "" {
		s, err := metadata.Text(doc, f.def.WKT)
		if err != nil {
			return nil, err
		}
		v := mask.ParseWKT(s, raster.WGS84)
		if v.IsEmpty() {
			return nil, fmt.Errorf("sensor: %s: footprint %q is not a polygon", f.name, f.def.WKT)
		}
		if len(v.Geometry) == 1 {
			return v.Geometry[0], nil
		}
		return v.Geometry, nil
	}

	var ring orb.Ring
	if f.def.Coordinates != "" {
		s, err := metadata.Text(doc, f.def.Coordinates)
		if err != nil {
			return nil, err
		}
		nums, err := parseCoordinates(f.def.Coordinates, s)
		if err != nil {
			return nil, err
		}
		if len(nums)%2 != 0 {
			return nil, fmt.Errorf("sensor: %s: odd coordinate count in %s", f.name, f.def.Coordinates)
		}
		for i := 0; i < len(nums); i += 2 {
			pt := orb.Point{nums[i], nums[i+1]}
			if f.def.Order == "latlon" {
				pt = orb.Point{nums[i+1], nums[i]}
			}
			ring = append(ring, pt)
		}
	} else {
		var lons, lats []float64
		for i := range f.def.Lon {
			lon, err := metadata.Floats(doc, f.def.Lon[i])
			if err != nil {
				return nil, err
			}
			lat, err := metadata.Floats(doc, f.def.Lat[i])
			if err != nil {
				return nil, err
			}
			lons, lats = append(lons, lon...), append(lats, lat...)
		}
		if len(lons) != len(lats) {
			return nil, fmt.Errorf("sensor: %s: %d longitudes for %d latitudes", f.name, len(lons), len(lats))
		}
		for i := range lons {
			ring = append(ring, orb.Point{lons[i], lats[i]})
		}
	}
	if len(ring) < 3 {
		return nil, fmt.Errorf("sensor: %s: footprint has %d vertices", f.name, len(ring))
	}
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}, nil
}

// parseCoordinates reads numbers separated by blanks or commas.
func parseCoordinates(path, s string) ([]float64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	out := make([]float64, len(fields))
	for i, field := range fields {
		x, err := parseNumber(path, field)
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	return out, nil
}

// EmbeddedCRS implements eo.FootprintStrategy.
func (f footprint) EmbeddedCRS(ctx context.Context, p *eo.Product) (raster.CRS, error) {
	c := f.crs
	if c.Fixed != "" {
		return raster.ParseCRS(c.Fixed)
	}
	if c.EPSG == "" && c.UTMZone == "" {
		return raster.CRS{}, nil
	}
	doc, err := document(ctx, p, c.File, c.Format)
	if err != nil {
		return raster.CRS{}, err
	}
	if c.EPSG != "" {
		s, err := metadata.Text(doc, c.EPSG)
		if err != nil {
			return raster.CRS{}, err
		}
		return raster.ParseCRS(s)
	}
	zone, err := metadata.Int(doc, c.UTMZone)
	if err != nil {
		return raster.CRS{}, err
	}
	if zone < 1 || zone > 60 {
		return raster.CRS{}, fmt.Errorf("sensor: %s: UTM zone %d out of range", f.name, zone)
	}
	if c.South {
		return raster.EPSG(32700 + zone), nil
	}
	return raster.EPSG(32600 + zone), nil
}
