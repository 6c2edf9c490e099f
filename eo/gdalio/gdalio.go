// Package gdalio reads and writes rasters through GDAL.
package gdalio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/example/go-eonorm/eo/raster"
)

const unitKey = "EONORM_UNIT"

var registerOnce sync.Once

// IO implements raster.ReadWriter over GDAL datasets. Output files are
// float32 GeoTIFFs with NaN nodata.
type IO struct {
	creation []string
}

var _ raster.ReadWriter = (*IO)(nil)

// Option customises IO.
type Option func(*IO) error

// WithCreationOptions replaces the GeoTIFF creation options.
func WithCreationOptions(opts ...string) Option {
	return func(x *IO) error {
		for _, o := range opts {
			if !strings.Contains(o, "=") {
				return fmt.Errorf("gdalio: creation option %q is not KEY=VALUE", o)
			}
		}
		x.creation = opts
		return nil
	}
}

// New registers the GDAL drivers once and returns an IO.
func New(opts ...Option) (*IO, error) {
	registerOnce.Do(godal.RegisterAll)
	x := &IO{creation: []string{"TILED=YES", "COMPRESS=DEFLATE", "PREDICTOR=3"}}
	for _, opt := range opts {
		if err := opt(x); err != nil {
			return nil, err
		}
	}
	return x, nil
}

// Channels implements raster.Reader.
func (*IO) Channels(_ context.Context, path string) (int, error) {
	ds, err := godal.Open(path)
	if err != nil {
		return 0, fmt.Errorf("gdalio: open %s: %w", path, err)
	}
	defer ds.Close()
	return ds.Structure().NBands, nil
}

// Read implements raster.Reader. A requested pixel size resamples the whole
// file onto a north-up grid first; the window then applies to that grid.
func (*IO) Read(ctx context.Context, path string, req raster.ReadRequest) (*raster.Raster, error) {
	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gdalio: open %s: %w", path, err)
	}
	defer ds.Close()

	native, err := nativeGrid(ds)
	if err != nil {
		return nil, fmt.Errorf("gdalio: %s: %w", path, err)
	}
	target := native
	if req.PixelSize > 0 {
		if res, _ := native.Transform.Resolution(); res != req.PixelSize {
			if target, err = raster.GridFor(native.Bounds(), req.PixelSize, native.CRS); err != nil {
				return nil, err
			}
		}
	}
	if req.Window != nil {
		if err := req.Window.Validate(target); err != nil {
			return nil, err
		}
		target = target.Sub(*req.Window)
	}
	src, grid, err := sourceWindow(native, target)
	if err != nil {
		return nil, fmt.Errorf("gdalio: %s: %w", path, err)
	}

	bands := ds.Bands()
	channels := make([]int, 0, len(bands))
	if req.Channel > 0 {
		if req.Channel > len(bands) {
			return nil, fmt.Errorf("gdalio: %s has %d channels, channel %d requested", path, len(bands), req.Channel)
		}
		channels = append(channels, req.Channel-1)
	} else {
		for i := range bands {
			channels = append(channels, i)
		}
	}

	out := raster.New(grid, len(channels))
	out.Unit = raster.Unit(ds.Metadata(unitKey))
	alg := resampling(req.Resampling)
	for i, c := range channels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		band := bands[c]
		buf := out.Band(i)
		if err := band.Read(src.ColOff, src.RowOff, buf, grid.Cols, grid.Rows, godal.Resampling(alg)); err != nil {
			return nil, fmt.Errorf("gdalio: read %s channel %d: %w", path, c+1, err)
		}
		if nd, ok := band.NoData(); ok && !math.IsNaN(nd) {
			v := float32(nd)
			for j := range buf {
				if buf[j] == v {
					buf[j] = raster.NoData
				}
			}
		}
		out.Names[i] = band.Description()
	}
	return out, nil
}

// Write implements raster.Writer.
func (x *IO) Write(ctx context.Context, path string, r *raster.Raster) error {
	if r.Bands == 0 || r.Size() == 0 {
		return errors.New("gdalio: refusing to write an empty raster")
	}
	ds, err := godal.Create(godal.GTiff, path, r.Bands, godal.Float32, r.Cols, r.Rows, godal.CreationOption(x.creation...))
	if err != nil {
		return fmt.Errorf("gdalio: create %s: %w", path, err)
	}
	if err := writeDataset(ctx, ds, r); err != nil {
		ds.Close()
		return fmt.Errorf("gdalio: write %s: %w", path, err)
	}
	if err := ds.Close(); err != nil {
		return fmt.Errorf("gdalio: close %s: %w", path, err)
	}
	return nil
}

func writeDataset(ctx context.Context, ds *godal.Dataset, r *raster.Raster) error {
	if err := ds.SetGeoTransform([6]float64(r.Transform)); err != nil {
		return err
	}
	if !r.CRS.IsZero() {
		sr, err := spatialRef(r.CRS)
		if err != nil {
			return err
		}
		defer sr.Close()
		if err := ds.SetSpatialRef(sr); err != nil {
			return err
		}
	}
	if r.Unit != "" {
		if err := ds.SetMetadata(unitKey, string(r.Unit)); err != nil {
			return err
		}
	}
	for i, band := range ds.Bands() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := band.SetNoData(math.NaN()); err != nil {
			return err
		}
		if i < len(r.Names) && r.Names[i] != "" {
			if err := band.SetDescription(r.Names[i]); err != nil {
				return err
			}
		}
		if err := band.Write(0, 0, r.Band(i), r.Cols, r.Rows); err != nil {
			return err
		}
	}
	return nil
}

func spatialRef(crs raster.CRS) (*godal.SpatialRef, error) {
	if crs.EPSG != 0 {
		return godal.NewSpatialRefFromEPSG(crs.EPSG)
	}
	return godal.NewSpatialRefFromWKT(crs.WKT)
}

func nativeGrid(ds *godal.Dataset) (raster.Grid, error) {
	st := ds.Structure()
	gt, err := ds.GeoTransform()
	if err != nil {
		return raster.Grid{}, fmt.Errorf("no geotransform: %w", err)
	}
	g := raster.Grid{Rows: st.SizeY, Cols: st.SizeX, Transform: raster.GeoTransform(gt)}
	if sr := ds.SpatialRef(); sr != nil {
		g.CRS = crsOf(sr)
	}
	return g, nil
}

func crsOf(sr *godal.SpatialRef) raster.CRS {
	var crs raster.CRS
	if strings.EqualFold(sr.AuthorityName(""), "EPSG") {
		if code, err := strconv.Atoi(sr.AuthorityCode("")); err == nil {
			crs.EPSG = code
		}
	}
	if wkt, err := sr.WKT(); err == nil {
		crs.WKT = wkt
	}
	return crs
}

// sourceWindow maps target onto the pixel region of native it covers and
// returns that region with the grid the read actually produces. Only
// north-up transforms are supported.
func sourceWindow(native, target raster.Grid) (raster.Window, raster.Grid, error) {
	if native.Transform[2] != 0 || native.Transform[4] != 0 {
		return raster.Window{}, raster.Grid{}, errors.New("rotated geotransforms are not supported")
	}
	inv, ok := native.Transform.Invert()
	if !ok {
		return raster.Window{}, raster.Grid{}, errors.New("geotransform is not invertible")
	}
	b := target.Bounds()
	c0, r0 := inv.Apply(b.Min[0], b.Max[1])
	c1, r1 := inv.Apply(b.Max[0], b.Min[1])
	const eps = 1e-6
	x0 := max(int(math.Floor(math.Min(c0, c1)+eps)), 0)
	y0 := max(int(math.Floor(math.Min(r0, r1)+eps)), 0)
	x1 := min(int(math.Ceil(math.Max(c0, c1)-eps)), native.Cols)
	y1 := min(int(math.Ceil(math.Max(r0, r1)-eps)), native.Rows)
	if x1 <= x0 || y1 <= y0 {
		return raster.Window{}, raster.Grid{}, errors.New("requested area is outside the raster")
	}
	src := raster.Window{ColOff: x0, RowOff: y0, Cols: x1 - x0, Rows: y1 - y0}
	read := native.Sub(src)
	read.Transform[1] = native.Transform[1] * float64(src.Cols) / float64(target.Cols)
	read.Transform[5] = native.Transform[5] * float64(src.Rows) / float64(target.Rows)
	read.Rows, read.Cols = target.Rows, target.Cols
	return src, read, nil
}

func resampling(m raster.Resampling) godal.ResamplingAlg {
	if m == raster.Bilinear {
		return godal.Bilinear
	}
	return godal.Nearest
}
