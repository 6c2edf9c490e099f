package mask

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/go-eonorm/eo/eoerr"
	"github.com/example/go-eonorm/eo/raster"
)

var utm31 = raster.EPSG(32631)

func grid4x4() raster.Grid {
	return raster.Grid{Rows: 4, Cols: 4, Transform: raster.NorthUp(0, 40, 10), CRS: utm31}
}

// square covers the top-left 2x2 pixels.
func square() Vector {
	return Vector{CRS: utm31, Geometry: orb.MultiPolygon{{{{0, 40}, {20, 40}, {20, 20}, {0, 20}, {0, 40}}}}}
}

func TestRasterizeBurnModes(t *testing.T) {
	inside, err := Rasterize(square(), grid4x4(), Defect, BurnInside)
	require.NoError(t, err)
	assert.Equal(t, 4, inside.Count())
	assert.True(t, inside.At(0, 0))
	assert.False(t, inside.At(3, 3))

	outside, err := Rasterize(square(), grid4x4(), NoData, BurnOutside)
	require.NoError(t, err)
	assert.Equal(t, 12, outside.Count())
	assert.False(t, outside.At(1, 1))
	assert.Empty(t, outside.Warnings)
}

func TestRasterizeCRSMismatch(t *testing.T) {
	v := square()
	v.CRS = raster.WGS84
	_, err := Rasterize(v, grid4x4(), Clouds, BurnInside)
	assert.Error(t, err)
}

func TestEmptyOrCorruptVectorIsAllFalseWithWarning(t *testing.T) {
	inputs := map[string]Vector{
		"empty":   {CRS: utm31},
		"garbage": ParseGeoJSON([]byte(`{"type":`), utm31),
		"lines":   ParseGeoJSON([]byte(`{"type":"LineString","coordinates":[[0,0],[1,1]]}`), utm31),
		"wkt":     ParseWKT("POLYGON ((0 0, 1", utm31),
	}
	for name, v := range inputs {
		for _, burn := range []Burn{BurnInside, BurnOutside} {
			m, err := Rasterize(v, grid4x4(), NoData, burn)
			require.NoError(t, err, name)
			assert.Zero(t, m.Count(), "%s/%s", name, burn)
			assert.NotEmpty(t, m.Warnings, name)
		}
	}
}

func TestParseGeoJSONFeatureCollection(t *testing.T) {
	doc := `{"type":"FeatureCollection","features":[
	  {"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,40],[20,40],[20,20],[0,20],[0,40]]]}},
	  {"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[1,2]}}]}`
	v := ParseGeoJSON([]byte(doc), utm31)
	require.Len(t, v.Geometry, 1)
	assert.Len(t, v.Warnings, 1)

	data, err := v.GeoJSON()
	require.NoError(t, err)
	back := ParseGeoJSON(data, utm31)
	assert.Equal(t, v.Geometry, back.Geometry)
}

func qualityRaster(values ...float32) *raster.Raster {
	g := raster.Grid{Rows: 1, Cols: len(values), Transform: raster.NorthUp(0, 10, 10), CRS: utm31}
	r := raster.New(g, 1)
	copy(r.Data, values)
	return r
}

func TestDecoderCompositeIsOrderIndependent(t *testing.T) {
	q := qualityRaster(0, 1, 2, 4, 8, 5, raster.NoData)
	d := Decoder{Bits: map[Kind]uint{Clouds: 0, Shadows: 1, Cirrus: 2, Snow: 3}}

	all, err := d.Decode(q, 0, AllClouds)
	require.NoError(t, err)

	c, _ := d.Decode(q, 0, Clouds)
	s, _ := d.Decode(q, 0, Shadows)
	ci, _ := d.Decode(q, 0, Cirrus)
	for _, order := range [][]*Mask{{c, s, ci}, {ci, c, s}, {s, ci, c}} {
		u, err := Union(AllClouds, order...)
		require.NoError(t, err)
		assert.Equal(t, all.Data, u.Data)
	}
	assert.Equal(t, []uint8{0, 1, 1, 1, 0, 1, 0}, all.Data)
}

func TestDecoderClasses(t *testing.T) {
	q := qualityRaster(3, 8, 9, 10, 11)
	d := Decoder{Classes: map[Kind][]int{Shadows: {3}, Clouds: {8, 9}, Cirrus: {10}, Snow: {11}}}
	all, err := d.Decode(q, 0, AllClouds)
	require.NoError(t, err)
	assert.Equal(t, []uint8{1, 1, 1, 1, 0}, all.Data)
	assert.Contains(t, d.Kinds(), Snow)
}

func TestDecoderUnknownKind(t *testing.T) {
	d := Decoder{Bits: map[Kind]uint{Snow: 0}}
	_, err := d.Decode(qualityRaster(1), 0, Clouds)
	assert.True(t, errors.Is(err, eoerr.ErrInvalidType))
	_, err = d.Decode(qualityRaster(1), 0, AllClouds)
	assert.True(t, errors.Is(err, eoerr.ErrInvalidType))
}

func TestDilateAndApply(t *testing.T) {
	m := New(Clouds, grid4x4())
	m.Set(1, 1, true)
	d := Dilate(m, 1)
	assert.Equal(t, 9, d.Count())
	assert.Equal(t, 1, m.Count(), "source untouched")

	band := raster.NewFilled(grid4x4(), 1, 0.5)
	out, err := Apply(band, d)
	require.NoError(t, err)
	assert.True(t, raster.IsNoData(out.At(0, 0, 0)))
	assert.Equal(t, float32(0.5), out.At(0, 3, 3))
	assert.Equal(t, float32(0.5), band.At(0, 0, 0))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("all_clouds")
	require.NoError(t, err)
	assert.Equal(t, AllClouds, k)
	_, err = ParseKind("fog")
	assert.True(t, errors.Is(err, eoerr.ErrInvalidType))
}

func TestMaskRasterRoundTripAndResample(t *testing.T) {
	m, err := Rasterize(square(), grid4x4(), Clouds, BurnInside)
	require.NoError(t, err)
	back := FromRaster(Clouds, m.ToRaster())
	assert.Equal(t, m.Data, back.Data)

	coarse := raster.Grid{Rows: 2, Cols: 2, Transform: raster.NorthUp(0, 40, 20), CRS: utm31}
	r, err := Resample(m, coarse)
	require.NoError(t, err)
	assert.Equal(t, []uint8{1, 0, 0, 0}, r.Data)
}
