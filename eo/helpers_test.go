package eo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/example/go-eonorm/eo/band"
	"github.com/example/go-eonorm/eo/mask"
	"github.com/example/go-eonorm/eo/metadata"
	"github.com/example/go-eonorm/eo/radiometry"
	"github.com/example/go-eonorm/eo/raster"
)

const testMetadata = `GROUP = CALIBRATION
  GAIN_RED = 2.0
  BIAS_RED = 0.0
  E0_RED = 1000
  GAIN_NIR = 4.0
  BIAS_NIR = 0.0
  E0_NIR = 1000
END_GROUP = CALIBRATION
SUN_ZENITH = 30
`

var testAcquisition = time.Date(2023, 6, 1, 10, 30, 31, 0, time.UTC)

// testGrid is a 4x4, 10 m UTM 31N grid.
func testGrid() raster.Grid {
	return raster.Grid{Rows: 4, Cols: 4, Transform: raster.NorthUp(300000, 4800000, 10), CRS: raster.EPSG(32631)}
}

type fixture struct {
	path    string
	ms      *raster.MemStore
	loads   *atomic.Int32
	fpCalls *atomic.Int32
	masks   *testMasks
	profile Profile
}

// identifyTest parses {constellation}_{type}_{time}[_{tile}].
func identifyTest(path string) (Identity, Flags, error) {
	parts := strings.Split(filepath.Base(path), "_")
	if len(parts) < 3 || !strings.HasPrefix(parts[0], "S2") {
		return Identity{}, Flags{}, fmt.Errorf("not a test product: %s", path)
	}
	t, err := time.Parse(CondensedTimeLayout, parts[2])
	if err != nil {
		return Identity{}, Flags{}, err
	}
	id := Identity{
		Name:          filepath.Base(path),
		Constellation: parts[0],
		Family:        Optical,
		ProductType:   parts[1],
		Acquisition:   t,
	}
	if len(parts) > 3 {
		id.TileID = parts[3]
	}
	return id, Flags{IsOrtho: true}, nil
}

func testBandMapper(_ context.Context, _ *Product, _ metadata.View) (BandMap, error) {
	return BandMap{
		Combination: "RN",
		Bands: []band.Descriptor{
			{Name: "RED", File: "B04", Channel: 1},
			{Name: "NIR", File: "B08", Channel: 1},
		},
		PixelSize: 10,
		Layout:    band.Layout{Pattern: "{root}/{file}.tif"},
	}, nil
}

type testUnits struct{}

func (testUnits) RawUnits(context.Context, *Product, metadata.View) (radiometry.RawUnits, error) {
	return radiometry.RawDN, nil
}

func (testUnits) Calibration(ctx context.Context, p *Product, desc band.Descriptor) (radiometry.Calibration, error) {
	md, err := p.Metadata(ctx)
	if err != nil {
		return radiometry.Calibration{}, err
	}
	var cal radiometry.Calibration
	for path, dst := range map[string]*float64{
		"CALIBRATION/GAIN_" + desc.Name: &cal.Gain,
		"CALIBRATION/BIAS_" + desc.Name: &cal.Bias,
		"CALIBRATION/E0_" + desc.Name:   &cal.SolarIrradiance,
		"SUN_ZENITH":                    &cal.SunZenith,
	} {
		v, err := metadata.Float(md, path)
		if err != nil && !errors.Is(err, metadata.ErrMissing) {
			return cal, err
		}
		*dst = v
	}
	return cal, nil
}

type testMasks struct {
	sources map[mask.Kind]MaskSource
}

func (m *testMasks) Kinds(*Product) []mask.Kind {
	var out []mask.Kind
	for _, k := range mask.Kinds {
		if _, ok := m.sources[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

func (m *testMasks) Source(_ context.Context, _ *Product, _ string, kind mask.Kind) (MaskSource, error) {
	return m.sources[kind], nil
}

type testFootprint struct {
	fp       orb.Polygon
	embedded raster.CRS
	calls    *atomic.Int32
}

func (f testFootprint) Footprint(context.Context, *Product) (orb.Geometry, error) {
	f.calls.Add(1)
	return f.fp, nil
}

func (f testFootprint) EmbeddedCRS(context.Context, *Product) (raster.CRS, error) {
	return f.embedded, nil
}

func lonLatBox(lon0, lat0, lon1, lat1 float64) orb.Polygon {
	return orb.Polygon{{{lon0, lat0}, {lon1, lat0}, {lon1, lat1}, {lon0, lat1}, {lon0, lat0}}}
}

// newFixture lays out an optical product whose RED band holds DN 200 and NIR
// DN 400, with one zero pixel in each.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "S2A_MSIL1C_20230601T103031_T31TCJ")
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
	writeMetadata(t, path, testMetadata)

	ms := raster.NewMemStore()
	for file, dn := range map[string]float32{"B04": 200, "B08": 400} {
		r := raster.NewFilled(testGrid(), 1, dn)
		r.Set(0, 3, 3, 0)
		ms.Put(filepath.Join(path, file+".tif"), r)
	}

	f := &fixture{
		path:    path,
		ms:      ms,
		loads:   &atomic.Int32{},
		fpCalls: &atomic.Int32{},
		masks:   &testMasks{sources: map[mask.Kind]MaskSource{}},
	}
	f.profile = Profile{
		Name:       "test",
		Identifier: IdentifierFunc(identifyTest),
		Metadata: MetadataLoaderFunc(func(_ context.Context, root string) (metadata.View, error) {
			f.loads.Add(1)
			return metadata.Open(filepath.Join(root, "MTD.txt"), metadata.FormatKeyValue)
		}),
		Bands:     BandMapperFunc(testBandMapper),
		RawUnits:  testUnits{},
		Masks:     f.masks,
		Footprint: testFootprint{fp: lonLatBox(1, 43, 2, 44), embedded: raster.EPSG(32631), calls: f.fpCalls},
	}
	return f
}

func writeMetadata(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "MTD.txt"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) open(t *testing.T, opts ...Option) *Product {
	t.Helper()
	opts = append([]Option{WithRaster(f.ms), WithWorkDir(t.TempDir())}, opts...)
	p, err := Open(context.Background(), f.path, f.profile, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return p
}

// expectedReflectance is the TOA reflectance of dn for the fixture calibration.
func expectedReflectance(dn, gain float64) float32 {
	dt := radiometry.SunEarthDistanceFactor(testAcquisition)
	return float32(math.Pi / (1000 * dt * math.Cos(30*math.Pi/180)) * (dn / gain))
}

func closeTo(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

// leftHalf covers the two left columns of testGrid.
func leftHalf() mask.Vector {
	return mask.Vector{
		CRS:      raster.EPSG(32631),
		Geometry: orb.MultiPolygon{{{{300000, 4799960}, {300020, 4799960}, {300020, 4800000}, {300000, 4800000}, {300000, 4799960}}}},
	}
}
