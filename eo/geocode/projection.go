package geocode

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/example/go-eonorm/eo/raster"
)

// Projector converts between lon/lat degrees and CRS coordinates.
type Projector interface {
	Forward(lon, lat float64) (x, y float64)
	Inverse(x, y float64) (lon, lat float64)
}

// Geographic is the identity projector of lon/lat CRSs.
type Geographic struct{}

func (Geographic) Forward(lon, lat float64) (float64, float64) { return lon, lat }
func (Geographic) Inverse(x, y float64) (float64, float64)     { return x, y }

// WGS84 ellipsoid.
const (
	semiMajor  = 6378137.0
	flattening = 1 / 298.257223563
)

// TransverseMercator is the WGS84 UTM projection of one zone.
type TransverseMercator struct {
	Zone  int
	South bool
}

const (
	utmScale         = 0.9996
	utmFalseEasting  = 500000.0
	utmFalseNorthing = 10000000.0
)

func (tm TransverseMercator) centralMeridian() float64 {
	return float64(tm.Zone-1)*6 - 180 + 3
}

func meridianArc(phi, e2 float64) float64 {
	e4, e6 := e2*e2, e2*e2*e2
	return semiMajor * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}

// Forward projects lon/lat degrees to easting/northing metres.
func (tm TransverseMercator) Forward(lon, lat float64) (float64, float64) {
	e2 := flattening * (2 - flattening)
	ep2 := e2 / (1 - e2)
	phi := lat * math.Pi / 180
	dl := (lon - tm.centralMeridian()) * math.Pi / 180

	sin, cos, tan := math.Sin(phi), math.Cos(phi), math.Tan(phi)
	n := semiMajor / math.Sqrt(1-e2*sin*sin)
	t := tan * tan
	c := ep2 * cos * cos
	a := cos * dl
	m := meridianArc(phi, e2)

	x := utmScale*n*(a+(1-t+c)*math.Pow(a, 3)/6+(5-18*t+t*t+72*c-58*ep2)*math.Pow(a, 5)/120) + utmFalseEasting
	y := utmScale * (m + n*tan*(a*a/2+(5-t+9*c+4*c*c)*math.Pow(a, 4)/24+(61-58*t+t*t+600*c-330*ep2)*math.Pow(a, 6)/720))
	if tm.South {
		y += utmFalseNorthing
	}
	return x, y
}

// Inverse maps easting/northing metres back to lon/lat degrees.
func (tm TransverseMercator) Inverse(x, y float64) (float64, float64) {
	e2 := flattening * (2 - flattening)
	ep2 := e2 / (1 - e2)
	if tm.South {
		y -= utmFalseNorthing
	}
	m := y / utmScale
	mu := m / (semiMajor * (1 - e2/4 - 3*e2*e2/64 - 5*e2*e2*e2/256))
	e1 := (1 - math.Sqrt(1-e2)) / (1 + math.Sqrt(1-e2))
	phi1 := mu + (3*e1/2-27*math.Pow(e1, 3)/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*math.Pow(e1, 4)/32)*math.Sin(4*mu) +
		(151*math.Pow(e1, 3)/96)*math.Sin(6*mu) +
		(1097*math.Pow(e1, 4)/512)*math.Sin(8*mu)

	sin, cos, tan := math.Sin(phi1), math.Cos(phi1), math.Tan(phi1)
	n1 := semiMajor / math.Sqrt(1-e2*sin*sin)
	t1 := tan * tan
	c1 := ep2 * cos * cos
	r1 := semiMajor * (1 - e2) / math.Pow(1-e2*sin*sin, 1.5)
	d := (x - utmFalseEasting) / (n1 * utmScale)

	lat := phi1 - (n1*tan/r1)*(d*d/2-
		(5+3*t1+10*c1-4*c1*c1-9*ep2)*math.Pow(d, 4)/24+
		(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*math.Pow(d, 6)/720)
	lon := (d - (1+2*t1+c1)*math.Pow(d, 3)/6 +
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*math.Pow(d, 5)/120) / cos
	return tm.centralMeridian() + lon*180/math.Pi, lat * 180 / math.Pi
}

// ProjectorFor returns the projector of crs. Geographic CRSs and WGS84 UTM
// zones (EPSG 32601-32660, 32701-32760) are supported.
func ProjectorFor(crs raster.CRS) (Projector, error) {
	switch {
	case crs.IsGeographic():
		return Geographic{}, nil
	case crs.EPSG > 32600 && crs.EPSG <= 32660:
		return TransverseMercator{Zone: crs.EPSG - 32600}, nil
	case crs.EPSG > 32700 && crs.EPSG <= 32760:
		return TransverseMercator{Zone: crs.EPSG - 32700, South: true}, nil
	}
	return nil, fmt.Errorf("geocode: no projector for CRS %s", crs)
}

// ProjectBound projects the corners and edge midpoints of a lon/lat bound.
func ProjectBound(p Projector, b orb.Bound) orb.Bound {
	var out orb.Bound
	first := true
	for _, fx := range []float64{0, 0.5, 1} {
		for _, fy := range []float64{0, 0.5, 1} {
			x, y := p.Forward(b.Min[0]+fx*(b.Max[0]-b.Min[0]), b.Min[1]+fy*(b.Max[1]-b.Min[1]))
			pt := orb.Point{x, y}
			if first {
				out = orb.Bound{Min: pt, Max: pt}
				first = false
				continue
			}
			out = out.Extend(pt)
		}
	}
	return out
}
