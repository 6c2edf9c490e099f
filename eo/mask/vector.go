package mask

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/example/go-eonorm/eo/raster"
)

// Vector is a set of polygons in a CRS.
type Vector struct {
	CRS      raster.CRS
	Geometry orb.MultiPolygon
	// Warnings carries problems met while decoding the source.
	Warnings []string
}

// IsEmpty reports whether v has no polygon.
func (v Vector) IsEmpty() bool { return len(v.Geometry) == 0 }

// ParseGeoJSON decodes a FeatureCollection, a Feature or a bare geometry.
// Non-polygonal and malformed features are skipped with a warning; a document
// that cannot be parsed at all yields an empty vector with a warning.
func ParseGeoJSON(data []byte, crs raster.CRS) Vector {
	v := Vector{CRS: crs}
	var geoms []orb.Geometry
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil && fc.Type == "FeatureCollection" {
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
	} else if f, err := geojson.UnmarshalFeature(data); err == nil && f.Type == "Feature" {
		geoms = append(geoms, f.Geometry)
	} else if g, err := geojson.UnmarshalGeometry(data); err == nil {
		geoms = append(geoms, g.Geometry())
	} else {
		v.Warnings = append(v.Warnings, fmt.Sprintf("corrupted vector: %v", err))
		return v
	}
	v.add(geoms...)
	return v
}

// ParseWKT decodes a WKT polygon or multipolygon.
func ParseWKT(s string, crs raster.CRS) Vector {
	v := Vector{CRS: crs}
	g, err := wkt.Unmarshal(s)
	if err != nil {
		v.Warnings = append(v.Warnings, fmt.Sprintf("corrupted vector: %v", err))
		return v
	}
	v.add(g)
	return v
}

func (v *Vector) add(geoms ...orb.Geometry) {
	for i, g := range geoms {
		switch g := g.(type) {
		case orb.Polygon:
			v.addPolygon(i, g)
		case orb.MultiPolygon:
			for _, p := range g {
				v.addPolygon(i, p)
			}
		case nil:
			v.Warnings = append(v.Warnings, fmt.Sprintf("feature %d has no geometry", i))
		default:
			v.Warnings = append(v.Warnings, fmt.Sprintf("feature %d: %s is not polygonal", i, g.GeoJSONType()))
		}
	}
}

func (v *Vector) addPolygon(i int, p orb.Polygon) {
	if len(p) == 0 || len(p[0]) < 4 || !p[0].Closed() {
		v.Warnings = append(v.Warnings, fmt.Sprintf("feature %d: malformed polygon ring", i))
		return
	}
	v.Geometry = append(v.Geometry, p)
}

// GeoJSON encodes v as a FeatureCollection with one feature per polygon.
func (v Vector) GeoJSON() ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, p := range v.Geometry {
		f := geojson.NewFeature(p)
		if !v.CRS.IsZero() {
			f.Properties["crs"] = v.CRS.String()
		}
		fc.Append(f)
	}
	return fc.MarshalJSON()
}

// Rasterize burns vec onto grid. A pixel is inside when its centre is inside
// a polygon. An empty vector gives an all-false mask with a warning whatever
// the burn mode. Differing CRSs are an error.
func Rasterize(vec Vector, grid raster.Grid, kind Kind, burn Burn) (*Mask, error) {
	if !vec.CRS.IsZero() && !grid.CRS.IsZero() && !vec.CRS.Equal(grid.CRS) {
		return nil, fmt.Errorf("mask: %s vector CRS %s differs from grid CRS %s", kind, vec.CRS, grid.CRS)
	}
	m := New(kind, grid)
	m.Warnings = append(m.Warnings, vec.Warnings...)
	if vec.IsEmpty() {
		m.Warn("%s: empty vector mask, no pixel flagged", kind)
		return m, nil
	}

	bound := vec.Geometry.Bound()
	for row := 0; row < grid.Rows; row++ {
		for col := 0; col < grid.Cols; col++ {
			p := grid.PixelCenter(row, col)
			inside := bound.Contains(p) && planar.MultiPolygonContains(vec.Geometry, p)
			if inside == (burn == BurnInside) {
				m.Data[row*grid.Cols+col] = 1
			}
		}
	}
	return m, nil
}

// Polygonize traces set pixels back to one square polygon per pixel. It is
// used to persist masks as vector artifacts.
func Polygonize(m *Mask) Vector {
	v := Vector{CRS: m.CRS}
	for row := 0; row < m.Rows; row++ {
		for col := 0; col < m.Cols; col++ {
			if !m.At(row, col) {
				continue
			}
			x0, y0 := m.Transform.Apply(float64(col), float64(row))
			x1, y1 := m.Transform.Apply(float64(col+1), float64(row+1))
			v.Geometry = append(v.Geometry, orb.Polygon{orb.Ring{
				{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0},
			}})
		}
	}
	return v
}
