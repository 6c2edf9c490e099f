package geocode

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/go-eonorm/eo/raster"
)

func TestUTMZone(t *testing.T) {
	cases := []struct {
		lon  float64
		want int
	}{
		{-180, 1}, {-177.1, 1}, {-174, 2}, {0, 31}, {2.35, 31}, {3, 31}, {6, 32}, {179.99, 60}, {180, 1}, {-183, 60},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, UTMZone(tc.lon), "lon %v", tc.lon)
	}
	for lon := -179.5; lon < 180; lon += 7.25 {
		assert.Equal(t, int(math.Floor((lon+180)/6))+1, UTMZone(lon))
	}
}

func TestResolveCRSFromGeographicFootprint(t *testing.T) {
	footprint := orb.Polygon{{{2, 48}, {3, 48}, {3, 49}, {2, 49}, {2, 48}}}
	crs, err := ResolveCRS(raster.WGS84, footprint)
	require.NoError(t, err)
	assert.Equal(t, 32631, crs.EPSG)

	south := orb.Polygon{{{-71, -34}, {-70, -34}, {-70, -33}, {-71, -33}, {-71, -34}}}
	crs, err = ResolveCRS(raster.CRS{}, south)
	require.NoError(t, err)
	assert.Equal(t, 32719, crs.EPSG)

	crs, err = ResolveCRS(raster.EPSG(2154), south)
	require.NoError(t, err)
	assert.Equal(t, 2154, crs.EPSG, "projected embedded CRS is kept")

	_, err = ResolveCRS(raster.WGS84, orb.Polygon{})
	assert.True(t, errors.Is(err, ErrNoFootprint))
}

func TestTransverseMercator(t *testing.T) {
	tm := TransverseMercator{Zone: 31}
	x, y := tm.Forward(3, 0)
	assert.InDelta(t, 500000, x, 1e-6)
	assert.InDelta(t, 0, y, 1e-6)

	_, y = tm.Forward(3, 45)
	assert.InDelta(t, 4982950.4, y, 1)

	for _, p := range [][2]float64{{2.35, 48.85}, {0.5, 10}, {5.9, 70}} {
		x, y := tm.Forward(p[0], p[1])
		lon, lat := tm.Inverse(x, y)
		assert.InDelta(t, p[0], lon, 1e-7)
		assert.InDelta(t, p[1], lat, 1e-7)
	}

	s := TransverseMercator{Zone: 19, South: true}
	x, y = s.Forward(-70.5, -33.5)
	lon, lat := s.Inverse(x, y)
	assert.InDelta(t, -70.5, lon, 1e-7)
	assert.InDelta(t, -33.5, lat, 1e-7)
	assert.Greater(t, y, 6e6)
}

// affineRPC maps lon/lat linearly onto a 100x100 image centred on (3.0, 45.0),
// with a small height term.
func affineRPC() *RPC {
	r := &RPC{
		LineOff: 50, SampOff: 50, LatOff: 45, LonOff: 3, HeightOff: 0,
		LineScale: 50, SampScale: 50, LatScale: 0.01, LonScale: 0.01, HeightScale: 500,
	}
	r.SampNum[1] = 1
	r.SampNum[3] = 0.01
	r.SampDen[0] = 1
	r.LineNum[2] = -1
	r.LineDen[0] = 1
	return r
}

func TestRPCProjectLocalize(t *testing.T) {
	r := affineRPC()
	col, row := r.Project(3, 45, 0)
	assert.InDelta(t, 50, col, 1e-9)
	assert.InDelta(t, 50, row, 1e-9)

	col, row = r.Project(3.005, 44.995, 0)
	assert.InDelta(t, 75, col, 1e-9)
	assert.InDelta(t, 75, row, 1e-9)

	lon, lat, err := r.Localize(10, 90, 250)
	require.NoError(t, err)
	c, rr := r.Project(lon, lat, 250)
	assert.InDelta(t, 10, c, 1e-5)
	assert.InDelta(t, 90, rr, 1e-5)

	bad := affineRPC()
	bad.SampDen = [20]float64{}
	assert.Error(t, bad.Validate())
}

func TestOrthorectifyPlacesPixels(t *testing.T) {
	rpc := affineRPC()
	g := raster.Grid{Rows: 100, Cols: 100, Transform: raster.NorthUp(0, 100, 1)}
	src := raster.New(g, 1)
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			src.Set(0, row, col, float32(row*1000+col))
		}
	}
	before := src.Clone()

	o := Orthorectifier{Elevation: ConstantElevation(0)}
	utm := raster.EPSG(32631)
	target, err := o.OrthoGrid(rpc, g.Rows, g.Cols, utm, 20)
	require.NoError(t, err)
	assert.Greater(t, target.Cols, 50)
	assert.Greater(t, target.Rows, 50)

	out, err := o.Orthorectify(context.Background(), src, rpc, target, raster.Nearest)
	require.NoError(t, err)
	assert.Equal(t, before.Data, src.Data, "source is not modified")
	assert.Equal(t, utm, out.CRS)

	// The target pixel containing the scene centre samples the image centre.
	x, y := TransverseMercator{Zone: 31}.Forward(3, 45)
	inv, _ := target.Transform.Invert()
	tc, tr := inv.Apply(x, y)
	v := out.At(0, int(tr), int(tc))
	require.False(t, raster.IsNoData(v))
	assert.InDelta(t, 50, int(v)/1000, 1)
	assert.InDelta(t, 50, int(v)%1000, 1)
}

func TestRasterElevation(t *testing.T) {
	dem := raster.NewFilled(raster.Grid{Rows: 3, Cols: 3, Transform: raster.NorthUp(0, 3, 1), CRS: raster.WGS84}, 1, 100)
	dem.Set(0, 2, 2, raster.NoData)
	e, err := NewRasterElevation(dem, -1)
	require.NoError(t, err)
	h, err := e.Height(0.5, 2.5)
	require.NoError(t, err)
	assert.Equal(t, 100.0, h)
	h, _ = e.Height(2.5, 0.5)
	assert.Equal(t, -1.0, h, "nodata falls back")
	h, _ = e.Height(50, 50)
	assert.Equal(t, -1.0, h, "outside falls back")

	_, err = NewRasterElevation(raster.New(raster.Grid{Rows: 1, Cols: 1, Transform: raster.NorthUp(0, 0, 1), CRS: raster.EPSG(32631)}, 1), 0)
	assert.Error(t, err)
}

func TestSwathShapeValidation(t *testing.T) {
	_, err := NewSwathGrid(2, 2, make([]float64, 4), make([]float64, 3))
	assert.Error(t, err)
	_, err = NewSwathGrid(0, 2, nil, nil)
	assert.Error(t, err)
}

func TestTiePointExpand(t *testing.T) {
	tp := TiePointGrid{
		Rows: 2, Cols: 2, RowStep: 4, ColStep: 4,
		Lon:      []float64{10, 10.4, 10, 10.4},
		Lat:      []float64{50, 50, 49.6, 49.6},
		FullRows: 5, FullCols: 5,
	}
	s, err := tp.Expand()
	require.NoError(t, err)
	assert.InDelta(t, 10.2, s.Lon[2*5+2], 1e-12)
	assert.InDelta(t, 49.8, s.Lat[2*5+2], 1e-12)
	assert.InDelta(t, 10.4, s.Lon[4*5+4], 1e-12)
}

// regularSwath is a slightly rotated 20x20 lon/lat swath around (3, 45).
func regularSwath(t *testing.T) *SwathGrid {
	t.Helper()
	rows, cols := 20, 20
	lon := make([]float64, rows*cols)
	lat := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			lon[r*cols+c] = 3 + 0.001*float64(c) + 0.0001*float64(r)
			lat[r*cols+c] = 45 - 0.001*float64(r) + 0.0001*float64(c)
		}
	}
	s, err := NewSwathGrid(rows, cols, lon, lat)
	require.NoError(t, err)
	return s
}

func TestNearestResamplingKeepsClassValues(t *testing.T) {
	s := regularSwath(t)
	area, err := AreaFor(s, raster.EPSG(32631), 30)
	require.NoError(t, err)
	rs, err := NewResampler(s, area, 150)
	require.NoError(t, err)

	classes := raster.New(raster.Grid{Rows: s.Rows, Cols: s.Cols}, 1)
	values := []float32{0, 3, 7, 9}
	for i := range classes.Data {
		classes.Data[i] = values[(i*7+i/20)%len(values)]
	}
	out, err := rs.Resample(context.Background(), classes, raster.Nearest)
	require.NoError(t, err)

	allowed := map[float32]bool{0: true, 3: true, 7: true, 9: true}
	filled := 0
	for _, v := range out.Data {
		if raster.IsNoData(v) {
			continue
		}
		filled++
		assert.True(t, allowed[v], "unexpected class %v", v)
	}
	assert.Greater(t, filled, out.Size()/2)
}

func TestResamplerRetriesAfterCancellation(t *testing.T) {
	s := regularSwath(t)
	area, err := AreaFor(s, raster.EPSG(32631), 30)
	require.NoError(t, err)
	rs, err := NewResampler(s, area, 150)
	require.NoError(t, err)
	src := raster.NewFilled(raster.Grid{Rows: s.Rows, Cols: s.Cols}, 1, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = rs.Resample(ctx, src, raster.Nearest)
	require.ErrorIs(t, err, context.Canceled)

	out, err := rs.Resample(context.Background(), src, raster.Nearest)
	require.NoError(t, err)
	filled := 0
	for _, v := range out.Data {
		if !raster.IsNoData(v) {
			assert.Equal(t, float32(5), v)
			filled++
		}
	}
	assert.Greater(t, filled, 0)
}

func TestBilinearResamplingOfLinearField(t *testing.T) {
	s := regularSwath(t)
	utm := raster.EPSG(32631)
	area, err := AreaFor(s, utm, 25)
	require.NoError(t, err)
	rs, err := NewResampler(s, area, 0)
	require.NoError(t, err)

	// A field linear in projected x reproduces exactly under bilinear weights
	// up to the curvature of the cell mapping.
	proj := TransverseMercator{Zone: 31}
	field := raster.New(raster.Grid{Rows: s.Rows, Cols: s.Cols}, 1)
	for i := range field.Data {
		x, _ := proj.Forward(s.Lon[i], s.Lat[i])
		field.Data[i] = float32(x - 500000)
	}
	out, err := rs.Resample(context.Background(), field, raster.Bilinear)
	require.NoError(t, err)

	checked := 0
	for row := 0; row < area.Rows; row++ {
		for col := 0; col < area.Cols; col++ {
			v := out.At(0, row, col)
			if raster.IsNoData(v) {
				continue
			}
			p := area.PixelCenter(row, col)
			assert.InDelta(t, p[0]-500000, float64(v), 1.0)
			checked++
		}
	}
	assert.Greater(t, checked, 0)

	// Tables are reused across bands.
	again, err := rs.Resample(context.Background(), field, raster.Bilinear)
	require.NoError(t, err)
	assert.Equal(t, len(out.Data), len(again.Data))
}

func TestResamplerShapeMismatch(t *testing.T) {
	s := regularSwath(t)
	area, err := AreaFor(s, raster.WGS84, 0.001)
	require.NoError(t, err)
	rs, err := NewResampler(s, area, 0)
	require.NoError(t, err)
	_, err = rs.Resample(context.Background(), raster.New(raster.Grid{Rows: 3, Cols: 3}, 1), raster.Nearest)
	assert.Error(t, err)
}
