package geocode

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/example/go-eonorm/eo/raster"
)

// Orthorectifier reprojects sensor-geometry imagery through its RPC model.
type Orthorectifier struct {
	Elevation Elevation
}

func (o Orthorectifier) elevation() Elevation {
	if o.Elevation == nil {
		return ConstantElevation(0)
	}
	return o.Elevation
}

// Orthorectify samples src onto target. For each target pixel centre the
// ground height is looked up, the point is projected into the image with rpc
// and src is interpolated there. src is not modified.
func (o Orthorectifier) Orthorectify(ctx context.Context, src *raster.Raster, rpc *RPC, target raster.Grid, method raster.Resampling) (*raster.Raster, error) {
	if err := rpc.Validate(); err != nil {
		return nil, err
	}
	proj, err := ProjectorFor(target.CRS)
	if err != nil {
		return nil, err
	}
	elev := o.elevation()

	out := raster.New(target, src.Bands)
	out.Unit = src.Unit
	copy(out.Names, src.Names)
	for row := 0; row < target.Rows; row++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for col := 0; col < target.Cols; col++ {
			p := target.PixelCenter(row, col)
			lon, lat := proj.Inverse(p[0], p[1])
			h, err := elev.Height(lon, lat)
			if err != nil {
				return nil, fmt.Errorf("geocode: elevation at (%.6f, %.6f): %w", lon, lat, err)
			}
			ic, ir := rpc.Project(lon, lat, h)
			for b := 0; b < src.Bands; b++ {
				out.Set(b, row, col, src.Sample(b, ic+0.5, ir+0.5, method))
			}
		}
	}
	return out, nil
}

// OrthoGrid builds the target grid covering a rows×cols sensor image: the
// image outline is localized on the elevation model and projected into crs.
func (o Orthorectifier) OrthoGrid(rpc *RPC, rows, cols int, crs raster.CRS, res float64) (raster.Grid, error) {
	if err := rpc.Validate(); err != nil {
		return raster.Grid{}, err
	}
	proj, err := ProjectorFor(crs)
	if err != nil {
		return raster.Grid{}, err
	}
	elev := o.elevation()
	var bound orb.Bound
	first := true
	last := [2]float64{float64(cols) - 0.5, float64(rows) - 0.5}
	for _, fc := range []float64{-0.5, (last[0] - 0.5) / 2, last[0]} {
		for _, fr := range []float64{-0.5, (last[1] - 0.5) / 2, last[1]} {
			lon, lat, err := localizeOnTerrain(rpc, elev, fc, fr)
			if err != nil {
				return raster.Grid{}, err
			}
			x, y := proj.Forward(lon, lat)
			pt := orb.Point{x, y}
			if first {
				bound = orb.Bound{Min: pt, Max: pt}
				first = false
				continue
			}
			bound = bound.Extend(pt)
		}
	}
	return raster.GridFor(bound, res, crs)
}

// localizeOnTerrain alternates localization and height lookup a few times so
// the ground point sits on the elevation model.
func localizeOnTerrain(rpc *RPC, elev Elevation, col, row float64) (float64, float64, error) {
	h := rpc.HeightOff
	var lon, lat float64
	for i := 0; i < 3; i++ {
		var err error
		lon, lat, err = rpc.Localize(col, row, h)
		if err != nil {
			return 0, 0, err
		}
		if h, err = elev.Height(lon, lat); err != nil {
			return 0, 0, err
		}
	}
	return lon, lat, nil
}
