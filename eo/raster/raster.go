package raster

import (
	"context"
	"fmt"
	"math"
)

// Unit is the physical unit tag carried by a raster.
type Unit string

const (
	UnitReflectance           Unit = "reflectance"
	UnitRadiance              Unit = "radiance"
	UnitDigitalNumber         Unit = "digital number"
	UnitBrightnessTemperature Unit = "brightness temperature"
	UnitAsIs                  Unit = "as-is"
)

// Resampling selects the interpolation used when a raster changes grid.
type Resampling string

const (
	Nearest  Resampling = "nearest"
	Bilinear Resampling = "bilinear"
)

// NoData is the process-wide nodata value of float rasters.
var NoData = float32(math.NaN())

// IsNoData reports whether v is the nodata value.
func IsNoData(v float32) bool { return v != v }

// Raster is a band × row × col float32 array on a Grid. Data is band-major.
type Raster struct {
	Grid
	Bands int
	Data  []float32
	Names []string
	Unit  Unit
}

// New allocates a zero-filled raster.
func New(g Grid, bands int) *Raster {
	return &Raster{Grid: g, Bands: bands, Data: make([]float32, bands*g.Size()), Names: make([]string, bands)}
}

// NewFilled allocates a raster with every sample set to v.
func NewFilled(g Grid, bands int, v float32) *Raster {
	r := New(g, bands)
	for i := range r.Data {
		r.Data[i] = v
	}
	return r
}

// Band returns a view on band b (0-based).
func (r *Raster) Band(b int) []float32 {
	n := r.Size()
	return r.Data[b*n : (b+1)*n]
}

// At returns the sample of band b at (row, col).
func (r *Raster) At(b, row, col int) float32 {
	return r.Data[b*r.Size()+row*r.Cols+col]
}

// Set assigns the sample of band b at (row, col).
func (r *Raster) Set(b, row, col int, v float32) {
	r.Data[b*r.Size()+row*r.Cols+col] = v
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	out := &Raster{Grid: r.Grid, Bands: r.Bands, Unit: r.Unit}
	out.Data = append([]float32(nil), r.Data...)
	out.Names = append([]string(nil), r.Names...)
	return out
}

// Window returns a copy of the region w of every band.
func (r *Raster) Window(w Window) (*Raster, error) {
	if err := w.Validate(r.Grid); err != nil {
		return nil, err
	}
	out := New(r.Sub(w), r.Bands)
	out.Unit = r.Unit
	copy(out.Names, r.Names)
	for b := 0; b < r.Bands; b++ {
		for row := 0; row < w.Rows; row++ {
			for col := 0; col < w.Cols; col++ {
				out.Set(b, row, col, r.At(b, row+w.RowOff, col+w.ColOff))
			}
		}
	}
	return out, nil
}

// Stack concatenates single- or multi-band rasters sharing one grid.
func Stack(rasters ...*Raster) (*Raster, error) {
	if len(rasters) == 0 {
		return nil, fmt.Errorf("raster: nothing to stack")
	}
	g := rasters[0].Grid
	total := 0
	for _, r := range rasters {
		if !r.Grid.Equal(g) {
			return nil, fmt.Errorf("raster: cannot stack rasters on different grids")
		}
		total += r.Bands
	}
	out := New(g, total)
	out.Unit = rasters[0].Unit
	b := 0
	for _, r := range rasters {
		copy(out.Data[b*g.Size():], r.Data)
		copy(out.Names[b:], r.Names)
		if r.Unit != out.Unit {
			out.Unit = UnitAsIs
		}
		b += r.Bands
	}
	return out, nil
}

// Resample returns r on a north-up grid with the given pixel size covering the
// same bounds. It never modifies r.
func Resample(r *Raster, res float64, method Resampling) (*Raster, error) {
	target, err := GridFor(r.Bounds(), res, r.CRS)
	if err != nil {
		return nil, err
	}
	return ResampleTo(r, target, method)
}

// ResampleTo samples r onto target, which must share r's CRS.
func ResampleTo(r *Raster, target Grid, method Resampling) (*Raster, error) {
	if !r.CRS.Equal(target.CRS) {
		return nil, fmt.Errorf("raster: resample across CRS %s -> %s is not supported", r.CRS, target.CRS)
	}
	inv, ok := r.Transform.Invert()
	if !ok {
		return nil, fmt.Errorf("raster: source transform is not invertible")
	}
	out := New(target, r.Bands)
	out.Unit = r.Unit
	copy(out.Names, r.Names)
	for row := 0; row < target.Rows; row++ {
		for col := 0; col < target.Cols; col++ {
			p := target.PixelCenter(row, col)
			sc, sr := inv.Apply(p[0], p[1])
			for b := 0; b < r.Bands; b++ {
				out.Set(b, row, col, r.Sample(b, sc, sr, method))
			}
		}
	}
	return out, nil
}

// Sample interpolates band b at fractional pixel coordinates (col, row),
// measured from the top-left corner. Outside the grid it returns NoData.
func (r *Raster) Sample(b int, col, row float64, method Resampling) float32 {
	if col < 0 || row < 0 || col >= float64(r.Cols) || row >= float64(r.Rows) {
		return NoData
	}
	if method != Bilinear {
		return r.At(b, int(row), int(col))
	}
	x := col - 0.5
	y := row - 0.5
	x0 := clampInt(int(math.Floor(x)), 0, r.Cols-1)
	y0 := clampInt(int(math.Floor(y)), 0, r.Rows-1)
	x1 := clampInt(x0+1, 0, r.Cols-1)
	y1 := clampInt(y0+1, 0, r.Rows-1)
	fx := clampFloat(x-float64(x0), 0, 1)
	fy := clampFloat(y-float64(y0), 0, 1)

	v00 := float64(r.At(b, y0, x0))
	v01 := float64(r.At(b, y0, x1))
	v10 := float64(r.At(b, y1, x0))
	v11 := float64(r.At(b, y1, x1))
	v := v00*(1-fx)*(1-fy) + v01*fx*(1-fy) + v10*(1-fx)*fy + v11*fx*fy
	return float32(v)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// ReadRequest selects what a Reader returns.
type ReadRequest struct {
	// Channel is the 1-based channel inside the file; 0 reads every channel.
	Channel int
	// PixelSize requests an explicit resampling; 0 keeps the native grid.
	PixelSize  float64
	Window     *Window
	Resampling Resampling
}

// Reader is the generic windowed/resampled raster read collaborator.
type Reader interface {
	Read(ctx context.Context, path string, req ReadRequest) (*Raster, error)
	Channels(ctx context.Context, path string) (int, error)
}

// Writer persists a raster with its CRS and transform.
type Writer interface {
	Write(ctx context.Context, path string, r *Raster) error
}

// ReadWriter combines Reader and Writer.
type ReadWriter interface {
	Reader
	Writer
}
