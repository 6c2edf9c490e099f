package geocode

import (
	"fmt"
	"math"
)

// RPC holds rational polynomial coefficients in RPC00B term order. Image
// coordinates have the centre of the first pixel at (0, 0).
type RPC struct {
	LineOff, SampOff, LatOff, LonOff, HeightOff           float64
	LineScale, SampScale, LatScale, LonScale, HeightScale float64

	LineNum, LineDen, SampNum, SampDen [20]float64
}

// Validate rejects coefficient sets that cannot be evaluated.
func (r *RPC) Validate() error {
	for name, v := range map[string]float64{
		"LINE_SCALE": r.LineScale, "SAMP_SCALE": r.SampScale,
		"LAT_SCALE": r.LatScale, "LONG_SCALE": r.LonScale, "HEIGHT_SCALE": r.HeightScale,
	} {
		if v == 0 || math.IsNaN(v) {
			return fmt.Errorf("geocode: RPC %s is zero", name)
		}
	}
	if allZero(r.LineDen) || allZero(r.SampDen) {
		return fmt.Errorf("geocode: RPC denominator coefficients are zero")
	}
	return nil
}

func allZero(c [20]float64) bool {
	for _, v := range c {
		if v != 0 {
			return false
		}
	}
	return true
}

func rpcTerms(l, p, h float64) [20]float64 {
	return [20]float64{
		1, l, p, h,
		l * p, l * h, p * h, l * l, p * p, h * h,
		p * l * h, l * l * l, l * p * p, l * h * h, l * l * p,
		p * p * p, p * h * h, l * l * h, p * p * h, h * h * h,
	}
}

func poly(c *[20]float64, t *[20]float64) float64 {
	s := 0.0
	for i := range c {
		s += c[i] * t[i]
	}
	return s
}

// Project maps ground lon/lat degrees and height metres to image (col, row).
func (r *RPC) Project(lon, lat, h float64) (col, row float64) {
	t := rpcTerms(
		(lon-r.LonOff)/r.LonScale,
		(lat-r.LatOff)/r.LatScale,
		(h-r.HeightOff)/r.HeightScale,
	)
	line := poly(&r.LineNum, &t) / poly(&r.LineDen, &t)
	samp := poly(&r.SampNum, &t) / poly(&r.SampDen, &t)
	return samp*r.SampScale + r.SampOff, line*r.LineScale + r.LineOff
}

// localizeIterations bounds the Newton solve of Localize.
const localizeIterations = 30

// Localize inverts Project at height h by Newton iteration.
func (r *RPC) Localize(col, row, h float64) (lon, lat float64, err error) {
	lon, lat = r.LonOff, r.LatOff
	const step = 1e-6
	for i := 0; i < localizeIterations; i++ {
		c0, r0 := r.Project(lon, lat, h)
		dc, dr := col-c0, row-r0
		if math.Abs(dc) < 1e-6 && math.Abs(dr) < 1e-6 {
			return lon, lat, nil
		}
		cx, rx := r.Project(lon+step, lat, h)
		cy, ry := r.Project(lon, lat+step, h)
		a, b := (cx-c0)/step, (cy-c0)/step
		c, d := (rx-r0)/step, (ry-r0)/step
		det := a*d - b*c
		if det == 0 || math.IsNaN(det) {
			return 0, 0, fmt.Errorf("geocode: RPC localization is singular at (%v, %v)", col, row)
		}
		lon += (d*dc - b*dr) / det
		lat += (a*dr - c*dc) / det
	}
	return 0, 0, fmt.Errorf("geocode: RPC localization of (%v, %v) did not converge", col, row)
}
