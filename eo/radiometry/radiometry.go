// Package radiometry converts raw band samples into physical units:
// digital numbers to radiance, radiance to top-of-atmosphere reflectance,
// clipping and the final float32 cast.
package radiometry

import (
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// RawUnits is the unit a product delivers its samples in.
type RawUnits string

const (
	RawNone        RawUnits = "NONE"
	RawDN          RawUnits = "DN"
	RawRadiance    RawUnits = "RADIANCE"
	RawReflectance RawUnits = "REFLECTANCE"
)

// ParseRawUnits accepts the names above case-insensitively.
func ParseRawUnits(s string) (RawUnits, error) {
	u := RawUnits(strings.ToUpper(strings.TrimSpace(s)))
	switch u {
	case RawNone, RawDN, RawRadiance, RawReflectance:
		return u, nil
	case "":
		return RawNone, nil
	}
	return "", fmt.Errorf("radiometry: unknown raw units %q", s)
}

// CleaningMethod selects how invalid pixels are removed before conversion.
type CleaningMethod string

const (
	// CleanRaw leaves every pixel untouched.
	CleanRaw CleaningMethod = "raw"
	// CleanNoData removes nodata and detector-footprint pixels.
	CleanNoData CleaningMethod = "nodata"
	// CleanAll also removes saturated, defective and cloud-adjacent pixels.
	CleanAll CleaningMethod = "clean"
)

// ParseCleaningMethod validates a cleaning method name.
func ParseCleaningMethod(s string) (CleaningMethod, error) {
	m := CleaningMethod(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case CleanRaw, CleanNoData, CleanAll:
		return m, nil
	}
	return "", fmt.Errorf("radiometry: unknown cleaning method %q", s)
}

// Orbit holds the Earth orbit constants of the sun–Earth distance factor.
type Orbit struct {
	Eccentricity    float64
	AngularVelocity float64 // rad/day
}

// DefaultOrbit is the orbit used when none is configured.
var DefaultOrbit = Orbit{Eccentricity: 0.01673, AngularVelocity: 0.0172}

var epoch1950 = satellite.JDay(1950, 1, 1, 0, 0, 0)

// DaysSince1950 returns the whole days between 1950-01-01 and the UTC date of
// t, plus one.
func DaysSince1950(t time.Time) int {
	t = t.UTC()
	jd := satellite.JDay(t.Year(), int(t.Month()), t.Day(), 0, 0, 0)
	return int(math.Round(jd-epoch1950)) + 1
}

// DistanceFactor returns dt = 1/(1-e·cos(ω·(J-2)))² for the date of t.
func (o Orbit) DistanceFactor(t time.Time) float64 {
	j := float64(DaysSince1950(t))
	d := 1 - o.Eccentricity*math.Cos(o.AngularVelocity*(j-2))
	return 1 / (d * d)
}

// SunEarthDistanceFactor is DefaultOrbit.DistanceFactor.
func SunEarthDistanceFactor(t time.Time) float64 {
	return DefaultOrbit.DistanceFactor(t)
}

// DNToRadiance applies radiance = dn/gain + bias.
func DNToRadiance(dn, gain, bias float64) float64 {
	return dn/gain + bias
}

// ReflectanceFactor is π/(E0·dt·cos θz); multiply radiance by it.
func ReflectanceFactor(e0, sunZenithDeg, dt float64) float64 {
	return math.Pi / (e0 * dt * math.Cos(sunZenithDeg*math.Pi/180))
}

// RadianceToReflectance applies reflectance = π/(E0·dt·cos θz)·radiance.
func RadianceToReflectance(rad, e0, sunZenithDeg, dt float64) float64 {
	return ReflectanceFactor(e0, sunZenithDeg, dt) * rad
}

// ScaleReflectance converts a quantized reflectance to [0,1]-scaled units.
func ScaleReflectance(dn, divisor, offset float64) float64 {
	return (dn + offset) / divisor
}

// MinThermalRadiance is the floor applied to thermal radiance before the
// brightness temperature inversion, which is undefined at or below zero.
const MinThermalRadiance = 1e-6

// RadianceToBrightnessTemperature applies T = K2/ln(K1/L + 1), in kelvin.
// Radiance below MinThermalRadiance is raised to it, so only NaN input
// yields NaN.
func RadianceToBrightnessTemperature(rad, k1, k2 float64) float64 {
	if rad < MinThermalRadiance {
		rad = MinThermalRadiance
	}
	return k2 / math.Log(k1/rad+1)
}

// ClipNegative sets every negative sample to zero in place. NaN is kept.
func ClipNegative(v []float64) {
	for i, x := range v {
		if x < 0 {
			v[i] = 0
		}
	}
}

// ToFloat32 casts samples to the output precision.
func ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// ViewGeometry holds the constants used to convert a SAR or optical
// incidence angle to an off-nadir angle on a spherical Earth. The values are
// per-constellation approximations and should be overridden when known.
type ViewGeometry struct {
	EarthRadiusKM float64
	AltitudeKM    float64
}

// DefaultViewGeometry assumes a 694 km sun-synchronous orbit.
var DefaultViewGeometry = ViewGeometry{EarthRadiusKM: 6371.0, AltitudeKM: 694.0}

// OffNadirFromIncidence returns the off-nadir angle in degrees for an
// incidence angle in degrees.
func (g ViewGeometry) OffNadirFromIncidence(incidenceDeg float64) float64 {
	ratio := g.EarthRadiusKM / (g.EarthRadiusKM + g.AltitudeKM)
	return math.Asin(ratio*math.Sin(incidenceDeg*math.Pi/180)) * 180 / math.Pi
}
