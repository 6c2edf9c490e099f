// Package geocode places sensor-geometry and swath imagery on regular map
// grids: UTM zone derivation, RPC orthorectification over an elevation model
// and swath resampling.
package geocode

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/example/go-eonorm/eo/raster"
)

// ErrNoFootprint is returned when a CRS must be derived but no footprint is known.
var ErrNoFootprint = errors.New("geocode: no footprint to derive a CRS from")

// UTMZone returns floor((lon+180)/6)+1 for lon in degrees, with longitudes
// wrapped into [-180, 180).
func UTMZone(lon float64) int {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	zone := int(math.Floor(lon/6)) + 1
	if zone > 60 {
		zone = 60
	}
	return zone
}

// UTMEPSG returns the WGS84 / UTM EPSG code covering (lon, lat): 326zz in the
// northern hemisphere, 327zz in the southern one.
func UTMEPSG(lon, lat float64) int {
	if lat < 0 {
		return 32700 + UTMZone(lon)
	}
	return 32600 + UTMZone(lon)
}

// CentroidLonLat returns the area centroid of a lon/lat footprint.
func CentroidLonLat(footprint orb.Geometry) (orb.Point, error) {
	if footprint == nil || isEmpty(footprint) {
		return orb.Point{}, ErrNoFootprint
	}
	c, area := planar.CentroidArea(footprint)
	if area == 0 {
		c = footprint.Bound().Center()
	}
	if math.IsNaN(c[0]) || math.IsNaN(c[1]) {
		return orb.Point{}, fmt.Errorf("geocode: footprint centroid is undefined")
	}
	return c, nil
}

func isEmpty(g orb.Geometry) bool {
	switch g := g.(type) {
	case orb.Polygon:
		return len(g) == 0 || len(g[0]) == 0
	case orb.MultiPolygon:
		return len(g) == 0
	case orb.Ring:
		return len(g) == 0
	}
	return false
}

// ResolveCRS keeps a projected embedded CRS and otherwise derives the UTM
// zone from the footprint centroid.
func ResolveCRS(embedded raster.CRS, footprint orb.Geometry) (raster.CRS, error) {
	if !embedded.IsZero() && !embedded.IsGeographic() {
		return embedded, nil
	}
	c, err := CentroidLonLat(footprint)
	if err != nil {
		return raster.CRS{}, err
	}
	return raster.EPSG(UTMEPSG(c[0], c[1])), nil
}
