package sensor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/go-eonorm/eo"
	"github.com/example/go-eonorm/eo/raster"
)

// writeFile creates path below dir with content.
func writeFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// putRaster stores r in ms under rel and leaves an empty file on disk so
// globs find it.
func putRaster(t *testing.T, ms *raster.MemStore, dir, rel string, r *raster.Raster) {
	t.Helper()
	ms.Put(writeFile(t, dir, rel, ""), r)
}

func builtinProfile(t *testing.T, name string, opts ...Option) eo.Profile {
	t.Helper()
	cat, err := Builtin()
	require.NoError(t, err)
	prof, err := cat.Profile(name, opts...)
	require.NoError(t, err)
	return prof
}

func openProduct(t *testing.T, path string, prof eo.Profile, opts ...eo.Option) *eo.Product {
	t.Helper()
	opts = append([]eo.Option{eo.WithWorkDir(t.TempDir())}, opts...)
	p, err := eo.Open(context.Background(), path, prof, opts...)
	require.NoError(t, err)
	return p
}

func utmGrid(rows, cols int, res float64) raster.Grid {
	return raster.Grid{Rows: rows, Cols: cols, Transform: raster.NorthUp(360000, 4830000, res), CRS: raster.EPSG(32631)}
}

const landsatName = "LC08_L1TP_199029_20230601_20230607_02_T1"

const landsatMTL = `GROUP = LANDSAT_METADATA_FILE
  GROUP = IMAGE_ATTRIBUTES
    DATE_ACQUIRED = 2023-06-01
    SUN_ELEVATION = 60.0
  END_GROUP = IMAGE_ATTRIBUTES
  GROUP = PROJECTION_ATTRIBUTES
    UTM_ZONE = 31
    CORNER_UL_LAT_PRODUCT = 43.6
    CORNER_UL_LON_PRODUCT = 1.4
    CORNER_UR_LAT_PRODUCT = 43.6
    CORNER_UR_LON_PRODUCT = 1.6
    CORNER_LR_LAT_PRODUCT = 43.4
    CORNER_LR_LON_PRODUCT = 1.6
    CORNER_LL_LAT_PRODUCT = 43.4
    CORNER_LL_LON_PRODUCT = 1.4
  END_GROUP = PROJECTION_ATTRIBUTES
  GROUP = LEVEL1_RADIOMETRIC_RESCALING
    RADIANCE_MULT_BAND_4 = 0.01
    RADIANCE_ADD_BAND_4 = -50.0
    RADIANCE_MULT_BAND_10 = 0.0003342
    RADIANCE_ADD_BAND_10 = 0.1
  END_GROUP = LEVEL1_RADIOMETRIC_RESCALING
  GROUP = LEVEL1_THERMAL_CONSTANTS
    K1_CONSTANT_BAND_10 = 774.8853
    K2_CONSTANT_BAND_10 = 1321.0789
  END_GROUP = LEVEL1_THERMAL_CONSTANTS
END_GROUP = LANDSAT_METADATA_FILE
END
`

// landsatFixture lays out a Landsat scene with RED at DN 10000, TIRS_1 at DN
// 20000 and a QA_PIXEL raster flagging fill at (0,0) and cloud at (1,1).
func landsatFixture(t *testing.T) (string, *raster.MemStore) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), landsatName)
	writeFile(t, dir, landsatName+"_MTL.txt", landsatMTL)
	ms := raster.NewMemStore()
	g := utmGrid(4, 4, 30)
	putRaster(t, ms, dir, landsatName+"_B4.TIF", raster.NewFilled(g, 1, 10000))
	putRaster(t, ms, dir, landsatName+"_B10.TIF", raster.NewFilled(g, 1, 20000))
	qa := raster.NewFilled(g, 1, 0)
	qa.Set(0, 0, 0, 1)
	qa.Set(0, 1, 1, 8)
	putRaster(t, ms, dir, landsatName+"_QA_PIXEL.TIF", qa)
	return dir, ms
}

const sentinel2Name = "S2B_MSIL1C_20230601T103031_N0509_R108_T31TCJ_20230601T123456"

const sentinel2MTD = `<?xml version="1.0" encoding="UTF-8"?>
<n1:Level-1C_User_Product xmlns:n1="https://psd-14.sentinel2.eo.esa.int/PSD/User_Product_Level-1C.xsd">
  <n1:General_Info>
    <Product_Info>
      <PRODUCT_START_TIME>2023-06-01T10:30:31.024Z</PRODUCT_START_TIME>
    </Product_Info>
    <Product_Image_Characteristics>
      <QUANTIFICATION_VALUE unit="none">10000</QUANTIFICATION_VALUE>
      <Radiometric_Offset_List>
` + s2Offsets + `      </Radiometric_Offset_List>
    </Product_Image_Characteristics>
  </n1:General_Info>
  <n1:Geometric_Info>
    <Product_Footprint>
      <Product_Footprint>
        <Global_Footprint>
          <EXT_POS_LIST>43.6 1.4 43.6 1.6 43.4 1.6 43.4 1.4 43.6 1.4</EXT_POS_LIST>
        </Global_Footprint>
      </Product_Footprint>
    </Product_Footprint>
  </n1:Geometric_Info>
</n1:Level-1C_User_Product>
`

const s2Offsets = `        <RADIO_ADD_OFFSET band_id="0">-1000</RADIO_ADD_OFFSET>
        <RADIO_ADD_OFFSET band_id="1">-1000</RADIO_ADD_OFFSET>
        <RADIO_ADD_OFFSET band_id="2">-1000</RADIO_ADD_OFFSET>
        <RADIO_ADD_OFFSET band_id="3">-1000</RADIO_ADD_OFFSET>
`

const sentinel2TL = `<?xml version="1.0" encoding="UTF-8"?>
<n1:Level-1C_Tile_ID xmlns:n1="https://psd-14.sentinel2.eo.esa.int/PSD/S2_PDI_Level-1C_Tile_Metadata.xsd">
  <n1:Geometric_Info>
    <Tile_Geocoding>
      <HORIZONTAL_CS_CODE>EPSG:32631</HORIZONTAL_CS_CODE>
    </Tile_Geocoding>
    <Tile_Angles>
      <Mean_Sun_Angle>
        <ZENITH_ANGLE unit="deg">30.5</ZENITH_ANGLE>
      </Mean_Sun_Angle>
    </Tile_Angles>
  </n1:Geometric_Info>
</n1:Level-1C_Tile_ID>
`

// sentinel2Fixture lays out a SAFE tile with RED at DN 3000 and a quality
// mask flagging nodata at (2,2). The detector footprint mask is absent.
func sentinel2Fixture(t *testing.T) (string, *raster.MemStore) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), sentinel2Name+".SAFE")
	granule := "GRANULE/L1C_T31TCJ_A041234_20230601T103031"
	writeFile(t, dir, "MTD_MSIL1C.xml", sentinel2MTD)
	writeFile(t, dir, granule+"/MTD_TL.xml", sentinel2TL)
	ms := raster.NewMemStore()
	g := utmGrid(4, 4, 10)
	putRaster(t, ms, dir, granule+"/IMG_DATA/T31TCJ_20230601T103031_B04.jp2", raster.NewFilled(g, 1, 3000))
	quality := raster.NewFilled(g, 8, 0)
	quality.Set(5, 2, 2, 1)
	putRaster(t, ms, dir, granule+"/QI_DATA/MSK_QUALIT_B04.jp2", quality)
	return dir, ms
}
