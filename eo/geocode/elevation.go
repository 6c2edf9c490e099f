package geocode

import (
	"fmt"
	"math"

	"github.com/example/go-eonorm/eo/raster"
)

// Elevation returns the terrain height in metres above the ellipsoid.
type Elevation interface {
	Height(lon, lat float64) (float64, error)
}

// ConstantElevation is a flat terrain.
type ConstantElevation float64

func (c ConstantElevation) Height(float64, float64) (float64, error) { return float64(c), nil }

// RasterElevation samples band 0 of a geographic DEM bilinearly. Points
// outside the DEM or on DEM nodata fall back to Fallback.
type RasterElevation struct {
	DEM      *raster.Raster
	Fallback float64
	inv      raster.GeoTransform
}

// NewRasterElevation wraps dem, which must be in a geographic CRS.
func NewRasterElevation(dem *raster.Raster, fallback float64) (*RasterElevation, error) {
	if !dem.CRS.IsZero() && !dem.CRS.IsGeographic() {
		return nil, fmt.Errorf("geocode: elevation model must be geographic, got %s", dem.CRS)
	}
	inv, ok := dem.Transform.Invert()
	if !ok {
		return nil, fmt.Errorf("geocode: elevation model transform is not invertible")
	}
	return &RasterElevation{DEM: dem, Fallback: fallback, inv: inv}, nil
}

func (e *RasterElevation) Height(lon, lat float64) (float64, error) {
	col, row := e.inv.Apply(lon, lat)
	v := e.DEM.Sample(0, col, row, raster.Bilinear)
	if raster.IsNoData(v) || math.IsInf(float64(v), 0) {
		return e.Fallback, nil
	}
	return float64(v), nil
}
