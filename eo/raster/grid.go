// Package raster holds the georeferenced array types exchanged between the
// pipeline stages, and the reader/writer contracts of the raster engine.
package raster

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// GeoTransform is an affine pixel-to-world transform in GDAL order:
// originX, pixelWidth, rowRotation, originY, columnRotation, pixelHeight.
type GeoTransform [6]float64

// NorthUp returns a transform for a north-up grid whose top-left corner is
// (originX, originY) with square pixels of size res.
func NorthUp(originX, originY, res float64) GeoTransform {
	return GeoTransform{originX, res, 0, originY, 0, -res}
}

// Apply maps fractional pixel coordinates to world coordinates.
func (g GeoTransform) Apply(col, row float64) (x, y float64) {
	x = g[0] + col*g[1] + row*g[2]
	y = g[3] + col*g[4] + row*g[5]
	return x, y
}

// Invert returns the world-to-pixel transform.
func (g GeoTransform) Invert() (GeoTransform, bool) {
	det := g[1]*g[5] - g[2]*g[4]
	if det == 0 {
		return GeoTransform{}, false
	}
	inv := 1 / det
	return GeoTransform{
		(g[2]*g[3] - g[0]*g[5]) * inv,
		g[5] * inv,
		-g[2] * inv,
		(-g[1]*g[3] + g[0]*g[4]) * inv,
		-g[4] * inv,
		g[1] * inv,
	}, true
}

// Resolution returns the absolute pixel width and height.
func (g GeoTransform) Resolution() (float64, float64) {
	return math.Hypot(g[1], g[4]), math.Hypot(g[2], g[5])
}

// Equal compares two transforms with a small absolute tolerance.
func (g GeoTransform) Equal(o GeoTransform) bool {
	for i := range g {
		if math.Abs(g[i]-o[i]) > 1e-9 {
			return false
		}
	}
	return true
}

// CRS identifies a coordinate reference system by EPSG code, WKT, or both.
type CRS struct {
	EPSG int
	WKT  string
}

// WGS84 is the geographic longitude/latitude CRS.
var WGS84 = CRS{EPSG: 4326}

// EPSG returns a CRS for the given EPSG code.
func EPSG(code int) CRS { return CRS{EPSG: code} }

// ParseCRS accepts "EPSG:32631", "epsg:4326", a bare code, or WKT.
func ParseCRS(s string) (CRS, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CRS{}, nil
	}
	code := s
	if i := strings.IndexByte(s, ':'); i >= 0 && strings.EqualFold(s[:i], "epsg") {
		code = s[i+1:]
	}
	if n, err := strconv.Atoi(code); err == nil {
		if n <= 0 {
			return CRS{}, fmt.Errorf("raster: invalid EPSG code %d", n)
		}
		return CRS{EPSG: n}, nil
	}
	upper := strings.ToUpper(s)
	if strings.HasPrefix(upper, "GEOGCS") || strings.HasPrefix(upper, "PROJCS") ||
		strings.HasPrefix(upper, "GEOGCRS") || strings.HasPrefix(upper, "PROJCRS") {
		return CRS{WKT: s}, nil
	}
	return CRS{}, fmt.Errorf("raster: unrecognised CRS %q", s)
}

// IsZero reports whether no CRS is set.
func (c CRS) IsZero() bool { return c.EPSG == 0 && c.WKT == "" }

// IsGeographic reports whether the CRS uses angular longitude/latitude axes.
func (c CRS) IsGeographic() bool {
	if c.EPSG != 0 {
		return c.EPSG >= 4000 && c.EPSG < 5000
	}
	upper := strings.ToUpper(strings.TrimSpace(c.WKT))
	return strings.HasPrefix(upper, "GEOGCS") || strings.HasPrefix(upper, "GEOGCRS")
}

// Equal compares by EPSG code when both carry one, otherwise by WKT.
func (c CRS) Equal(o CRS) bool {
	if c.EPSG != 0 && o.EPSG != 0 {
		return c.EPSG == o.EPSG
	}
	return c.EPSG == o.EPSG && strings.TrimSpace(c.WKT) == strings.TrimSpace(o.WKT)
}

func (c CRS) String() string {
	if c.EPSG != 0 {
		return "EPSG:" + strconv.Itoa(c.EPSG)
	}
	return c.WKT
}

// Grid is the shape and georeferencing shared by a raster and its masks.
type Grid struct {
	Rows      int
	Cols      int
	Transform GeoTransform
	CRS       CRS
}

// GridFor builds a north-up grid covering bound at resolution res. The origin
// is snapped outward to a multiple of res.
func GridFor(bound orb.Bound, res float64, crs CRS) (Grid, error) {
	if res <= 0 {
		return Grid{}, fmt.Errorf("raster: resolution must be positive, got %v", res)
	}
	minX := math.Floor(bound.Min[0]/res) * res
	maxY := math.Ceil(bound.Max[1]/res) * res
	cols := int(math.Ceil((bound.Max[0] - minX) / res))
	rows := int(math.Ceil((maxY - bound.Min[1]) / res))
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	return Grid{Rows: rows, Cols: cols, Transform: NorthUp(minX, maxY, res), CRS: crs}, nil
}

// Size returns Rows*Cols.
func (g Grid) Size() int { return g.Rows * g.Cols }

// Equal reports whether two grids share shape, transform and CRS.
func (g Grid) Equal(o Grid) bool {
	return g.Rows == o.Rows && g.Cols == o.Cols && g.Transform.Equal(o.Transform) && g.CRS.Equal(o.CRS)
}

// PixelCenter returns the world coordinates of the centre of (row, col).
func (g Grid) PixelCenter(row, col int) orb.Point {
	x, y := g.Transform.Apply(float64(col)+0.5, float64(row)+0.5)
	return orb.Point{x, y}
}

// Bounds returns the world bounding box of the grid.
func (g Grid) Bounds() orb.Bound {
	b := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	for _, c := range [][2]float64{{0, 0}, {float64(g.Cols), 0}, {0, float64(g.Rows)}, {float64(g.Cols), float64(g.Rows)}} {
		x, y := g.Transform.Apply(c[0], c[1])
		b = b.Extend(orb.Point{x, y})
	}
	return b
}

// Window selects a rectangular pixel region of a grid.
type Window struct {
	ColOff int
	RowOff int
	Cols   int
	Rows   int
}

// Validate checks that the window is non-empty and fits inside g.
func (w Window) Validate(g Grid) error {
	if w.Cols <= 0 || w.Rows <= 0 {
		return fmt.Errorf("raster: empty window %+v", w)
	}
	if w.ColOff < 0 || w.RowOff < 0 || w.ColOff+w.Cols > g.Cols || w.RowOff+w.Rows > g.Rows {
		return fmt.Errorf("raster: window %+v outside %dx%d grid", w, g.Cols, g.Rows)
	}
	return nil
}

// Key is a stable textual form of the window.
func (w Window) Key() string {
	return fmt.Sprintf("%d,%d,%d,%d", w.ColOff, w.RowOff, w.Cols, w.Rows)
}

// Sub returns the grid covering the window.
func (g Grid) Sub(w Window) Grid {
	x, y := g.Transform.Apply(float64(w.ColOff), float64(w.RowOff))
	t := g.Transform
	t[0], t[3] = x, y
	return Grid{Rows: w.Rows, Cols: w.Cols, Transform: t, CRS: g.CRS}
}
