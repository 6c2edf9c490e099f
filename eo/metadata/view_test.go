package metadata

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleXML = `<?xml version="1.0"?>
<n1:Level-1C_User_Product xmlns:n1="https://psd-14.sentinel2.eo.esa.int" version="14">
  <n1:General_Info>
    <Product_Info>
      <PRODUCT_TYPE>S2MSI1C</PRODUCT_TYPE>
      <PRODUCT_START_TIME>2023-06-01T10:30:31.024Z</PRODUCT_START_TIME>
    </Product_Info>
    <Product_Image_Characteristics>
      <QUANTIFICATION_VALUE unit="none">10000</QUANTIFICATION_VALUE>
      <Reflectance_Conversion>
        <Solar_Irradiance_List>
          <SOLAR_IRRADIANCE bandId="0">1884.69</SOLAR_IRRADIANCE>
          <SOLAR_IRRADIANCE bandId="1">1959.66</SOLAR_IRRADIANCE>
        </Solar_Irradiance_List>
      </Reflectance_Conversion>
    </Product_Image_Characteristics>
  </n1:General_Info>
</n1:Level-1C_User_Product>`

func TestXMLView(t *testing.T) {
	v, err := ParseXML(strings.NewReader(sampleXML))
	require.NoError(t, err)

	pt, ok := v.FindText("General_Info/Product_Info/PRODUCT_TYPE")
	require.True(t, ok)
	assert.Equal(t, "S2MSI1C", pt)

	assert.Equal(t, []string{"1884.69", "1959.66"}, v.FindAll("**/SOLAR_IRRADIANCE"))
	assert.Equal(t, []string{"0", "1"}, v.FindAll("**/SOLAR_IRRADIANCE/@bandId"))
	assert.Equal(t, []string{"none"}, v.FindAll("General_Info/*/QUANTIFICATION_VALUE/@unit"))

	version, ok := v.Attribute("version")
	require.True(t, ok)
	assert.Equal(t, "14", version)

	q, err := Float(v, "General_Info/Product_Image_Characteristics/QUANTIFICATION_VALUE")
	require.NoError(t, err)
	assert.Equal(t, 10000.0, q)

	start, err := Time(v, "General_Info/Product_Info/PRODUCT_START_TIME")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 6, 1, 10, 30, 31, 24_000_000, time.UTC), start)

	_, err = Float(v, "General_Info/Nope")
	assert.True(t, errors.Is(err, ErrMissing))
}

func TestXMLViewRejectsEmpty(t *testing.T) {
	_, err := ParseXML(strings.NewReader(""))
	assert.Error(t, err)
}

func TestJSONView(t *testing.T) {
	doc := `{"id":"20230601_103031_1020","properties":{"acquired":"2023-06-01T10:30:31Z","view_angle":3.2},
	"bands":[{"name":"blue","e0":1997.8},{"name":"green","e0":1863.5}]}`
	v, err := ParseJSON(strings.NewReader(doc))
	require.NoError(t, err)

	id, ok := v.Attribute("id")
	require.True(t, ok)
	assert.Equal(t, "20230601_103031_1020", id)

	assert.Equal(t, []string{"blue", "green"}, v.FindAll("bands/name"))
	e0, err := Float(v, "bands/1/e0")
	require.NoError(t, err)
	assert.Equal(t, 1863.5, e0)

	angles, err := Floats(v, "properties/view_angle")
	require.NoError(t, err)
	assert.Equal(t, []float64{3.2}, angles)
}

func TestParseKeyValue(t *testing.T) {
	doc := `GROUP = LANDSAT_METADATA_FILE
  GROUP = IMAGE_ATTRIBUTES
    SUN_ELEVATION = 61.5
    DATE_ACQUIRED = 2021-07-04
  END_GROUP = IMAGE_ATTRIBUTES
  GROUP = LEVEL1_RADIOMETRIC_RESCALING
    RADIANCE_MULT_BAND_4 = 9.6264E-03
    RADIANCE_ADD_BAND_4 = -48.13184
  END_GROUP = LEVEL1_RADIOMETRIC_RESCALING
END_GROUP = LANDSAT_METADATA_FILE
END`
	v, err := ParseKeyValue(strings.NewReader(doc))
	require.NoError(t, err)

	mult, err := Float(v, "LANDSAT_METADATA_FILE/LEVEL1_RADIOMETRIC_RESCALING/RADIANCE_MULT_BAND_4")
	require.NoError(t, err)
	assert.InDelta(t, 0.0096264, mult, 1e-12)

	_, err = ParseKeyValue(strings.NewReader("GROUP = A\nEND_GROUP = B\n"))
	assert.Error(t, err)
}

func TestMapView(t *testing.T) {
	v := MapView{}.Set("a/b", "1", "2").Set("@mission", "S2A")
	assert.Equal(t, []string{"1", "2"}, v.FindAll("/a/b/"))
	m, ok := v.Attribute("mission")
	require.True(t, ok)
	assert.Equal(t, "S2A", m)
}
