package radiometry

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/example/go-eonorm/eo/eoerr"
	"github.com/example/go-eonorm/eo/raster"
)

// Calibration carries the per-band coefficients read from metadata. Zero
// values mean "not provided".
type Calibration struct {
	Gain            float64
	Bias            float64
	SolarIrradiance float64 // E0, W/m²/µm
	SunZenith       float64 // degrees
	Acquired        time.Time

	// REFLECTANCE raw units: (dn + ScaleOffset) / ScaleDivisor.
	ScaleDivisor float64
	ScaleOffset  float64

	// Thermal constants; when both are set the band converts to brightness temperature.
	K1 float64
	K2 float64
}

// Thermal reports whether c describes a thermal band.
func (c Calibration) Thermal() bool { return c.K1 > 0 && c.K2 > 0 }

// Converter runs the conversion, clip and cast stages for a single band.
type Converter struct {
	Product       string
	Band          string
	Units         RawUnits
	ToReflectance bool
	Calibration   Calibration
	Orbit         Orbit
}

// Unit returns the physical unit of Convert's output.
func (c Converter) Unit() raster.Unit {
	switch c.Units {
	case RawNone:
		return raster.UnitAsIs
	case RawReflectance:
		if c.ToReflectance {
			return raster.UnitReflectance
		}
		return raster.UnitDigitalNumber
	case RawDN, RawRadiance:
		if !c.ToReflectance {
			if c.Units == RawDN {
				return raster.UnitDigitalNumber
			}
			return raster.UnitRadiance
		}
		if c.Calibration.Thermal() {
			return raster.UnitBrightnessTemperature
		}
		return raster.UnitReflectance
	}
	return raster.UnitAsIs
}

// Validate reports missing calibration coefficients as an invalid-product
// error scoped to the band.
func (c Converter) Validate() error {
	if !c.ToReflectance || c.Units == RawNone {
		return nil
	}
	cal := c.Calibration
	missing := func(what string) error {
		return eoerr.Band(c.Product, c.Band, "missing calibration: "+what, nil)
	}
	switch c.Units {
	case RawReflectance:
		if cal.ScaleDivisor == 0 {
			return missing("reflectance quantification divisor")
		}
		return nil
	case RawDN:
		if cal.Gain == 0 || math.IsNaN(cal.Gain) {
			return missing("gain")
		}
	case RawRadiance:
	default:
		return eoerr.Band(c.Product, c.Band, "unknown raw units "+string(c.Units), nil)
	}
	if cal.Thermal() {
		return nil
	}
	if cal.SolarIrradiance <= 0 || math.IsNaN(cal.SolarIrradiance) {
		return missing("solar irradiance")
	}
	if math.IsNaN(cal.SunZenith) || cal.SunZenith < 0 || cal.SunZenith >= 90 {
		return missing("sun zenith angle")
	}
	if cal.Acquired.IsZero() {
		return missing("acquisition date")
	}
	return nil
}

// Convert returns the converted, clipped float32 samples. samples is not
// modified.
func (c Converter) Convert(samples []float32) ([]float32, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	v := make([]float64, len(samples))
	for i, s := range samples {
		v[i] = float64(s)
	}
	if !c.ToReflectance || c.Units == RawNone {
		return ToFloat32(v), nil
	}

	cal := c.Calibration
	switch c.Units {
	case RawReflectance:
		floats.AddConst(cal.ScaleOffset, v)
		floats.Scale(1/cal.ScaleDivisor, v)
	case RawDN, RawRadiance:
		if c.Units == RawDN {
			floats.Scale(1/cal.Gain, v)
			floats.AddConst(cal.Bias, v)
		}
		if cal.Thermal() {
			for i, l := range v {
				v[i] = RadianceToBrightnessTemperature(l, cal.K1, cal.K2)
			}
			return ToFloat32(v), nil
		}
		orbit := c.Orbit
		if orbit == (Orbit{}) {
			orbit = DefaultOrbit
		}
		dt := orbit.DistanceFactor(cal.Acquired)
		floats.Scale(ReflectanceFactor(cal.SolarIrradiance, cal.SunZenith, dt), v)
	}
	ClipNegative(v)
	return ToFloat32(v), nil
}
