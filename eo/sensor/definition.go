// Package sensor compiles declarative constellation profiles into eo.Profile
// strategy sets. Built-in profiles are embedded; extra ones are read from YAML
// files with the same schema.
package sensor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/go-eonorm/eo/mask"
	"github.com/example/go-eonorm/eo/metadata"
	"github.com/example/go-eonorm/eo/radiometry"
	"github.com/example/go-eonorm/eo/raster"
)

// Geocoding kinds.
const (
	GeocodingNative = "native"
	GeocodingRPC    = "rpc"
	GeocodingSwath  = "swath"
)

// Definition is one constellation profile as written in YAML.
type Definition struct {
	Name         string           `yaml:"name"`
	Description  string           `yaml:"description,omitempty"`
	Family       string           `yaml:"family"`
	Identify     IdentifyDef      `yaml:"identify"`
	Metadata     FileDef          `yaml:"metadata"`
	PixelSize    float64          `yaml:"pixel_size"`
	Layout       LayoutDef        `yaml:"layout"`
	Combinations []CombinationDef `yaml:"combinations"`
	RawUnits     RawUnitsDef      `yaml:"raw_units"`
	Masks        []MaskDef        `yaml:"masks,omitempty"`
	Footprint    FootprintDef     `yaml:"footprint"`
	CRS          CRSDef           `yaml:"crs,omitempty"`
	Geocoding    GeocodingDef     `yaml:"geocoding"`
	Terrain      *TerrainDef      `yaml:"terrain,omitempty"`
}

// IdentifyDef parses product names. Pattern may use the named groups name,
// constellation, type, time, tile and disambiguator.
type IdentifyDef struct {
	Pattern string `yaml:"pattern"`
	// TimeLayout parses the time group; it defaults to eo.CondensedTimeLayout.
	TimeLayout    string   `yaml:"time_layout,omitempty"`
	Constellation string   `yaml:"constellation,omitempty"`
	ProductType   string   `yaml:"product_type,omitempty"`
	Ortho         bool     `yaml:"ortho"`
	Archives      []string `yaml:"archives,omitempty"`
}

// FileDef locates a metadata document below the product root. File is a
// doublestar glob that must match exactly one file.
type FileDef struct {
	File   string `yaml:"file"`
	Format string `yaml:"format,omitempty"`
}

// LayoutDef mirrors band.Layout.
type LayoutDef struct {
	Pattern          string `yaml:"pattern"`
	ResolutionFormat string `yaml:"resolution_format,omitempty"`
}

// Condition selects a band combination. Every non-empty field must hold.
type Condition struct {
	ProductType  string `yaml:"product_type,omitempty"`
	NameContains string `yaml:"name_contains,omitempty"`
	Path         string `yaml:"path,omitempty"`
	Equals       string `yaml:"equals,omitempty"`
}

// CombinationDef is one band combination. The first combination whose
// condition holds is used.
type CombinationDef struct {
	Name      string     `yaml:"name"`
	When      *Condition `yaml:"when,omitempty"`
	PixelSize float64    `yaml:"pixel_size,omitempty"`
	Layout    *LayoutDef `yaml:"layout,omitempty"`
	Bands     []BandDef  `yaml:"bands"`
}

// BandDef is one row of a band table.
type BandDef struct {
	Name         string  `yaml:"name"`
	File         string  `yaml:"file"`
	Channel      int     `yaml:"channel,omitempty"`
	GSD          float64 `yaml:"gsd,omitempty"`
	CenterNM     float64 `yaml:"center_nm,omitempty"`
	WidthNM      float64 `yaml:"width_nm,omitempty"`
	Polarization string  `yaml:"polarization,omitempty"`
	// Index selects the band in indexed metadata lists. It defaults to the
	// band's position in the table.
	Index *int `yaml:"index,omitempty"`
}

// RawUnitsDef states the raw sample units and where calibration lives.
type RawUnitsDef struct {
	Units       string         `yaml:"units"`
	Calibration CalibrationDef `yaml:"calibration,omitempty"`
}

// CalibrationDef maps calibration coefficients to metadata values.
type CalibrationDef struct {
	Gain            *ValueDef `yaml:"gain,omitempty"`
	Bias            *ValueDef `yaml:"bias,omitempty"`
	SolarIrradiance *ValueDef `yaml:"solar_irradiance,omitempty"`
	SunZenith       *ValueDef `yaml:"sun_zenith,omitempty"`
	ScaleDivisor    *ValueDef `yaml:"scale_divisor,omitempty"`
	ScaleOffset     *ValueDef `yaml:"scale_offset,omitempty"`
	K1              *ValueDef `yaml:"k1,omitempty"`
	K2              *ValueDef `yaml:"k2,omitempty"`
	Acquired        *FieldDef `yaml:"acquired,omitempty"`
}

// FieldDef is a metadata path, optionally in an auxiliary document.
// Paths accept the placeholders {band}, {file}, {index} and {index1}.
type FieldDef struct {
	File   string `yaml:"file,omitempty"`
	Format string `yaml:"format,omitempty"`
	Path   string `yaml:"path"`
}

// ValueDef reads one number. The metadata path wins over per-band Values,
// which win over Value. The result is (x or 1/x when Invert) * Scale + Offset,
// with a zero Scale taken as 1.
type ValueDef struct {
	FieldDef `yaml:",inline"`
	// Indexed picks the band's Index among every match of Path.
	Indexed bool               `yaml:"indexed,omitempty"`
	Value   *float64           `yaml:"value,omitempty"`
	Values  map[string]float64 `yaml:"values,omitempty"`
	Invert  bool               `yaml:"invert,omitempty"`
	Scale   float64            `yaml:"scale,omitempty"`
	Offset  float64            `yaml:"offset,omitempty"`
}

// MaskDef declares where one mask kind comes from. Exactly one of Vector,
// Raster or Composite is set. Paths are relative to the product root and
// accept the band placeholders of FieldDef.
type MaskDef struct {
	Kind string `yaml:"kind"`

	Vector string `yaml:"vector,omitempty"`
	// Format is geojson or wkt; empty guesses from the extension.
	Format string `yaml:"format,omitempty"`
	// CRS of the vector file; empty means the product CRS.
	CRS  string `yaml:"crs,omitempty"`
	Burn string `yaml:"burn,omitempty"`

	Raster  string `yaml:"raster,omitempty"`
	Channel int    `yaml:"channel,omitempty"`
	Bit     *uint  `yaml:"bit,omitempty"`
	// BitFromIndex uses the band's Index as the bit position.
	BitFromIndex bool  `yaml:"bit_from_index,omitempty"`
	Classes      []int `yaml:"classes,omitempty"`

	Composite []string `yaml:"composite,omitempty"`
	Optional  bool     `yaml:"optional,omitempty"`
}

// FootprintDef reads the imaged area from one of a WKT field, a coordinate
// list or separate longitude and latitude lists.
type FootprintDef struct {
	File        string   `yaml:"file,omitempty"`
	Format      string   `yaml:"format,omitempty"`
	WKT         string   `yaml:"wkt,omitempty"`
	Coordinates string   `yaml:"coordinates,omitempty"`
	// Order of Coordinates pairs: lonlat (default) or latlon.
	Order string   `yaml:"order,omitempty"`
	Lon   []string `yaml:"lon,omitempty"`
	Lat   []string `yaml:"lat,omitempty"`
}

// CRSDef states the product CRS: a fixed value, an EPSG/WKT field or a UTM
// zone field. An empty CRSDef lets the CRS be derived from the footprint.
type CRSDef struct {
	File    string `yaml:"file,omitempty"`
	Format  string `yaml:"format,omitempty"`
	Fixed   string `yaml:"fixed,omitempty"`
	EPSG    string `yaml:"epsg,omitempty"`
	UTMZone string `yaml:"utm_zone,omitempty"`
	South   bool   `yaml:"south,omitempty"`
}

// GeocodingDef selects how bands reach the map grid.
type GeocodingDef struct {
	Kind  string    `yaml:"kind"`
	RPC   *RPCDef   `yaml:"rpc,omitempty"`
	Swath *SwathDef `yaml:"swath,omitempty"`
}

// RPCDef locates rational polynomial coefficients. Validity paths take
// {name} (LINE_OFF, LONG_SCALE...), coefficient paths take {name}
// (LINE_NUM_COEFF...) and {i} (1 to 20).
type RPCDef struct {
	File         string `yaml:"file"`
	Format       string `yaml:"format,omitempty"`
	Validity     string `yaml:"validity"`
	Coefficients string `yaml:"coefficients"`
	// PixelOrigin is subtracted from LINE_OFF and SAMP_OFF; DIMAP uses 1.
	PixelOrigin float64 `yaml:"pixel_origin,omitempty"`
}

// SwathDef locates a per-band tie-point geolocation grid. File accepts
// {band}, {pol} and {pol_lower}.
type SwathDef struct {
	File   string `yaml:"file"`
	Format string `yaml:"format,omitempty"`
	Line   string `yaml:"line"`
	Pixel  string `yaml:"pixel"`
	Lon    string `yaml:"lon"`
	Lat    string `yaml:"lat"`
}

// TerrainDef configures an external terrain-correction tool.
type TerrainDef struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Parse decodes one definition and validates it.
func Parse(r io.Reader) (Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return def, fmt.Errorf("sensor: parse profile: %w", err)
	}
	if err := def.Validate(); err != nil {
		return def, err
	}
	return def, nil
}

// ParseBytes is Parse over a byte slice.
func ParseBytes(b []byte) (Definition, error) {
	return Parse(bytes.NewReader(b))
}

// Marshal renders def as YAML.
func (def Definition) Marshal() ([]byte, error) {
	return yaml.Marshal(def)
}

// Validate checks a definition for mistakes that would only surface later,
// when a product is processed.
func (def Definition) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	if def.Name == "" {
		fail("name is required")
	}
	switch def.Family {
	case "OPTICAL", "SAR":
	default:
		fail("family %q must be OPTICAL or SAR", def.Family)
	}
	if def.Identify.Pattern == "" {
		fail("identify.pattern is required")
	} else if re, err := regexp.Compile(def.Identify.Pattern); err != nil {
		fail("identify.pattern: %v", err)
	} else if re.SubexpIndex("time") < 0 {
		fail("identify.pattern needs a time group")
	}
	if def.Metadata.File == "" {
		fail("metadata.file is required")
	}
	if err := checkFormat(def.Metadata.Format); err != nil {
		fail("metadata.format: %v", err)
	}
	if len(def.Combinations) == 0 {
		fail("at least one band combination is required")
	}
	for i, c := range def.Combinations {
		if c.Name == "" {
			fail("combinations[%d]: name is required", i)
		}
		if len(c.Bands) == 0 {
			fail("combination %s has no bands", c.Name)
		}
		if def.PixelSize <= 0 && c.PixelSize <= 0 {
			fail("combination %s has no pixel size", c.Name)
		}
		if def.Layout.Pattern == "" && (c.Layout == nil || c.Layout.Pattern == "") {
			fail("combination %s has no layout pattern", c.Name)
		}
		for _, b := range c.Bands {
			if b.Name == "" || b.File == "" {
				fail("combination %s: bands need a name and a file", c.Name)
			}
		}
	}
	if _, err := radiometry.ParseRawUnits(def.RawUnits.Units); err != nil {
		fail("raw_units.units: %v", err)
	}
	for _, m := range def.Masks {
		if err := m.validate(); err != nil {
			fail("mask %s: %v", m.Kind, err)
		}
	}
	if def.Footprint.WKT == "" && def.Footprint.Coordinates == "" && len(def.Footprint.Lon) == 0 {
		fail("footprint needs wkt, coordinates or lon/lat paths")
	}
	if len(def.Footprint.Lon) != len(def.Footprint.Lat) {
		fail("footprint lon and lat path lists differ in length")
	}
	switch def.Footprint.Order {
	case "", "lonlat", "latlon":
	default:
		fail("footprint.order %q must be lonlat or latlon", def.Footprint.Order)
	}
	if def.CRS.Fixed != "" {
		if _, err := raster.ParseCRS(def.CRS.Fixed); err != nil {
			fail("crs.fixed: %v", err)
		}
	}
	switch def.Geocoding.Kind {
	case "", GeocodingNative:
	case GeocodingRPC:
		if def.Geocoding.RPC == nil || def.Geocoding.RPC.File == "" {
			fail("rpc geocoding needs rpc.file")
		}
	case GeocodingSwath:
		if s := def.Geocoding.Swath; s == nil || s.File == "" || s.Lon == "" || s.Lat == "" || s.Line == "" || s.Pixel == "" {
			fail("swath geocoding needs swath.file, line, pixel, lon and lat")
		}
	default:
		fail("geocoding.kind %q is unknown", def.Geocoding.Kind)
	}
	if def.Terrain != nil && def.Terrain.Timeout < 0 {
		fail("terrain.timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("sensor: profile %q: %w", def.Name, errors.Join(errs...))
	}
	return nil
}

func (m MaskDef) validate() error {
	if _, err := mask.ParseKind(m.Kind); err != nil {
		return err
	}
	set := 0
	for _, s := range []bool{m.Vector != "", m.Raster != "", len(m.Composite) > 0} {
		if s {
			set++
		}
	}
	if set != 1 {
		return errors.New("exactly one of vector, raster or composite is required")
	}
	if m.Burn != "" {
		if _, err := mask.ParseBurn(m.Burn); err != nil {
			return err
		}
	}
	switch m.Format {
	case "", "geojson", "wkt":
	default:
		return fmt.Errorf("unknown vector format %q", m.Format)
	}
	if m.Raster != "" && m.Bit == nil && !m.BitFromIndex && len(m.Classes) == 0 {
		return errors.New("raster masks need bit, bit_from_index or classes")
	}
	for _, part := range m.Composite {
		if _, err := mask.ParseKind(part); err != nil {
			return err
		}
	}
	return nil
}

func checkFormat(f string) error {
	switch metadata.Format(f) {
	case "", metadata.FormatXML, metadata.FormatJSON, metadata.FormatKeyValue:
		return nil
	}
	return fmt.Errorf("unknown format %q", f)
}
