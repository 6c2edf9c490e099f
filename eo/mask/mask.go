// Package mask produces invalid-pixel and cloud masks on a raster grid, from
// polygon vectors or from bitmask/classification rasters. Every mask uses the
// same convention: 1 means the condition is present.
package mask

import (
	"fmt"
	"sort"
	"strings"

	"github.com/example/go-eonorm/eo/eoerr"
	"github.com/example/go-eonorm/eo/raster"
)

// Kind names a mask condition.
type Kind string

const (
	NoData    Kind = "NODATA"
	DetFoo    Kind = "DETFOO"
	Saturated Kind = "SATURATED"
	Defect    Kind = "DEFECT"
	Clouds    Kind = "CLOUDS"
	Shadows   Kind = "SHADOWS"
	Cirrus    Kind = "CIRRUS"
	Snow      Kind = "SNOW"
	Lost      Kind = "LOST"
	AllClouds Kind = "ALL_CLOUDS"
)

// Kinds lists every known condition.
var Kinds = []Kind{NoData, DetFoo, Saturated, Defect, Clouds, Shadows, Cirrus, Snow, Lost, AllClouds}

// ParseKind validates a mask kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", &eoerr.InvalidTypeError{Type: s, Reason: "unknown mask kind"}
}

// Burn selects which side of a polygon boundary marks the condition.
type Burn int

const (
	// BurnInside sets pixels whose centre falls inside a polygon.
	BurnInside Burn = iota
	// BurnOutside sets pixels whose centre falls outside every polygon.
	BurnOutside
)

func (b Burn) String() string {
	if b == BurnOutside {
		return "outside"
	}
	return "inside"
}

// ParseBurn accepts "inside" or "outside".
func ParseBurn(s string) (Burn, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inside", "":
		return BurnInside, nil
	case "outside":
		return BurnOutside, nil
	}
	return 0, fmt.Errorf("mask: unknown burn mode %q", s)
}

// DefaultBurn is the burn convention of vector masks of kind k. Nodata and
// detector-footprint polygons outline valid data; all others outline the
// condition itself.
func DefaultBurn(k Kind) Burn {
	switch k {
	case NoData, DetFoo:
		return BurnOutside
	}
	return BurnInside
}

// Mask is a uint8 raster of one condition.
type Mask struct {
	Kind Kind
	raster.Grid
	Data     []uint8
	Warnings []string
}

// New returns an all-false mask.
func New(kind Kind, g raster.Grid) *Mask {
	return &Mask{Kind: kind, Grid: g, Data: make([]uint8, g.Size())}
}

// At reports whether the condition holds at (row, col).
func (m *Mask) At(row, col int) bool { return m.Data[row*m.Cols+col] != 0 }

// Set marks (row, col).
func (m *Mask) Set(row, col int, v bool) {
	var b uint8
	if v {
		b = 1
	}
	m.Data[row*m.Cols+col] = b
}

// Count returns the number of set pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v != 0 {
			n++
		}
	}
	return n
}

// Warn records a non-fatal problem met while building the mask.
func (m *Mask) Warn(format string, args ...any) {
	m.Warnings = append(m.Warnings, fmt.Sprintf(format, args...))
}

// Or merges o into m.
func (m *Mask) Or(o *Mask) error {
	if !m.Grid.Equal(o.Grid) {
		return fmt.Errorf("mask: cannot combine %s and %s on different grids", m.Kind, o.Kind)
	}
	for i, v := range o.Data {
		if v != 0 {
			m.Data[i] = 1
		}
	}
	m.Warnings = append(m.Warnings, o.Warnings...)
	return nil
}

// Union returns a new mask of kind that is the logical OR of masks. The
// inputs are not modified and their order does not matter.
func Union(kind Kind, masks ...*Mask) (*Mask, error) {
	if len(masks) == 0 {
		return nil, fmt.Errorf("mask: union of %s needs at least one mask", kind)
	}
	out := New(kind, masks[0].Grid)
	for _, m := range masks {
		if err := out.Or(m); err != nil {
			return nil, err
		}
	}
	sort.Strings(out.Warnings)
	return out, nil
}

// Dilate grows the set pixels by radius pixels in a square neighbourhood.
func Dilate(m *Mask, radius int) *Mask {
	out := New(m.Kind, m.Grid)
	out.Warnings = append(out.Warnings, m.Warnings...)
	if radius <= 0 {
		copy(out.Data, m.Data)
		return out
	}
	for row := 0; row < m.Rows; row++ {
		for col := 0; col < m.Cols; col++ {
			if !m.At(row, col) {
				continue
			}
			for r := max(0, row-radius); r <= min(m.Rows-1, row+radius); r++ {
				for c := max(0, col-radius); c <= min(m.Cols-1, col+radius); c++ {
					out.Data[r*m.Cols+c] = 1
				}
			}
		}
	}
	return out
}

// Apply returns a copy of r with every band set to nodata where any of the
// masks is set. r is not modified.
func Apply(r *raster.Raster, masks ...*Mask) (*raster.Raster, error) {
	out := r.Clone()
	for _, m := range masks {
		if m == nil {
			continue
		}
		if !m.Grid.Equal(r.Grid) {
			return nil, fmt.Errorf("mask: %s mask grid does not match the band grid", m.Kind)
		}
		n := r.Size()
		for i, v := range m.Data {
			if v == 0 {
				continue
			}
			for b := 0; b < r.Bands; b++ {
				out.Data[b*n+i] = raster.NoData
			}
		}
	}
	return out, nil
}

// ToRaster returns the mask as a single-band float raster of 0/1 values.
func (m *Mask) ToRaster() *raster.Raster {
	r := raster.New(m.Grid, 1)
	r.Names[0] = string(m.Kind)
	r.Unit = raster.UnitAsIs
	for i, v := range m.Data {
		r.Data[i] = float32(v)
	}
	return r
}

// FromRaster reads band 0 of r as a mask; nodata and zero are false.
func FromRaster(kind Kind, r *raster.Raster) *Mask {
	m := New(kind, r.Grid)
	for i, v := range r.Band(0) {
		if !raster.IsNoData(v) && v != 0 {
			m.Data[i] = 1
		}
	}
	return m
}

// Resample moves m onto target with nearest-neighbour sampling.
func Resample(m *Mask, target raster.Grid) (*Mask, error) {
	if m.Grid.Equal(target) {
		return m, nil
	}
	r, err := raster.ResampleTo(m.ToRaster(), target, raster.Nearest)
	if err != nil {
		return nil, fmt.Errorf("mask: resample %s: %w", m.Kind, err)
	}
	out := FromRaster(m.Kind, r)
	out.Warnings = append(out.Warnings, m.Warnings...)
	return out, nil
}
