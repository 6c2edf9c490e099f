package geocode

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/paulmach/orb"

	"github.com/example/go-eonorm/eo/raster"
)

// SwathGrid is a per-pixel longitude/latitude geolocation of a sensor image.
type SwathGrid struct {
	Rows, Cols int
	Lon, Lat   []float64
}

// NewSwathGrid validates that both arrays have rows×cols samples.
func NewSwathGrid(rows, cols int, lon, lat []float64) (*SwathGrid, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("geocode: swath shape %dx%d is empty", rows, cols)
	}
	if len(lon) != rows*cols || len(lat) != rows*cols {
		return nil, fmt.Errorf("geocode: swath shape %dx%d does not match %d longitudes and %d latitudes", rows, cols, len(lon), len(lat))
	}
	return &SwathGrid{Rows: rows, Cols: cols, Lon: lon, Lat: lat}, nil
}

// Bounds returns the lon/lat bound of the valid geolocation samples.
func (s *SwathGrid) Bounds() orb.Bound {
	b := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	for i := range s.Lon {
		if math.IsNaN(s.Lon[i]) || math.IsNaN(s.Lat[i]) {
			continue
		}
		b = b.Extend(orb.Point{s.Lon[i], s.Lat[i]})
	}
	return b
}

// TiePointGrid is a subsampled geolocation grid. Tie point (i, j) sits on
// full-resolution pixel (i*RowStep, j*ColStep).
type TiePointGrid struct {
	Rows, Cols       int
	RowStep, ColStep int
	Lon, Lat         []float64
	// FullRows and FullCols give the image shape to expand to.
	FullRows, FullCols int
}

// Expand interpolates the tie points bilinearly onto every image pixel.
// Pixels past the last tie point are extrapolated from the last cell.
func (t TiePointGrid) Expand() (*SwathGrid, error) {
	if _, err := NewSwathGrid(t.Rows, t.Cols, t.Lon, t.Lat); err != nil {
		return nil, err
	}
	if t.Rows < 2 || t.Cols < 2 || t.RowStep <= 0 || t.ColStep <= 0 {
		return nil, fmt.Errorf("geocode: tie-point grid needs at least 2x2 points and positive steps")
	}
	if t.FullRows <= 0 || t.FullCols <= 0 {
		return nil, fmt.Errorf("geocode: tie-point grid has no target shape")
	}
	n := t.FullRows * t.FullCols
	lon := make([]float64, n)
	lat := make([]float64, n)
	for row := 0; row < t.FullRows; row++ {
		fr := float64(row) / float64(t.RowStep)
		i0 := min(int(fr), t.Rows-2)
		dr := fr - float64(i0)
		for col := 0; col < t.FullCols; col++ {
			fc := float64(col) / float64(t.ColStep)
			j0 := min(int(fc), t.Cols-2)
			dc := fc - float64(j0)
			k := row*t.FullCols + col
			lon[k] = bilerp(t.Lon, t.Cols, i0, j0, dr, dc)
			lat[k] = bilerp(t.Lat, t.Cols, i0, j0, dr, dc)
		}
	}
	return NewSwathGrid(t.FullRows, t.FullCols, lon, lat)
}

func bilerp(v []float64, cols, i, j int, dr, dc float64) float64 {
	v00 := v[i*cols+j]
	v01 := v[i*cols+j+1]
	v10 := v[(i+1)*cols+j]
	v11 := v[(i+1)*cols+j+1]
	return v00*(1-dr)*(1-dc) + v01*(1-dr)*dc + v10*dr*(1-dc) + v11*dr*dc
}

// AreaFor returns the north-up grid at res covering the swath in crs.
func AreaFor(s *SwathGrid, crs raster.CRS, res float64) (raster.Grid, error) {
	proj, err := ProjectorFor(crs)
	if err != nil {
		return raster.Grid{}, err
	}
	b := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	valid := 0
	for i := range s.Lon {
		if math.IsNaN(s.Lon[i]) || math.IsNaN(s.Lat[i]) {
			continue
		}
		x, y := proj.Forward(s.Lon[i], s.Lat[i])
		b = b.Extend(orb.Point{x, y})
		valid++
	}
	if valid == 0 {
		return raster.Grid{}, fmt.Errorf("geocode: swath has no valid geolocation")
	}
	return raster.GridFor(b, res, crs)
}

// table holds up to four source indices and weights per target pixel. An
// index of -1 is unused.
type table struct {
	idx [][4]int32
	w   [][4]float32
}

// Resampler moves swath rasters onto a target grid. Neighbour and weight
// tables are computed once per method and reused for every band.
type Resampler struct {
	swath  *SwathGrid
	target raster.Grid
	radius float64

	once   sync.Once
	index  *swathIndex
	err    error
	tables sync.Map // raster.Resampling → *lazyTable
}

// lazyTable holds one method's table. A build interrupted by its context is
// not kept, so the next caller builds again.
type lazyTable struct {
	mu   sync.Mutex
	done bool
	t    *table
	err  error
}

// NewResampler prepares resampling from swath to target. Target pixels whose
// nearest swath sample is farther than radius, in target CRS units, are
// nodata; a radius of 0 uses 1.5 target pixels. Bilinear resampling also
// leaves pixels outside every swath cell as nodata.
func NewResampler(swath *SwathGrid, target raster.Grid, radius float64) (*Resampler, error) {
	if swath == nil {
		return nil, fmt.Errorf("geocode: nil swath")
	}
	if target.Size() == 0 {
		return nil, fmt.Errorf("geocode: empty target grid")
	}
	if radius <= 0 {
		rx, ry := target.Transform.Resolution()
		radius = 1.5 * math.Max(rx, ry)
	}
	return &Resampler{swath: swath, target: target, radius: radius}, nil
}

// Target returns the output grid.
func (r *Resampler) Target() raster.Grid { return r.target }

func (r *Resampler) buildIndex() (*swathIndex, error) {
	r.once.Do(func() {
		proj, err := ProjectorFor(r.target.CRS)
		if err != nil {
			r.err = err
			return
		}
		r.index = newSwathIndex(r.swath, proj)
		if r.index.tree == nil {
			r.err = fmt.Errorf("geocode: swath has no valid geolocation")
		}
	})
	return r.index, r.err
}

func (r *Resampler) table(ctx context.Context, method raster.Resampling) (*table, error) {
	v, _ := r.tables.LoadOrStore(method, &lazyTable{})
	lt := v.(*lazyTable)
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.done {
		return lt.t, lt.err
	}
	idx, err := r.buildIndex()
	if err != nil {
		lt.err, lt.done = err, true
		return nil, err
	}
	t, err := idx.table(ctx, r.target, r.radius, method)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	lt.t, lt.err, lt.done = t, err, true
	return t, err
}

// Resample returns src, which must have the swath's shape, on the target
// grid. Use raster.Nearest for categorical bands. src is not modified.
func (r *Resampler) Resample(ctx context.Context, src *raster.Raster, method raster.Resampling) (*raster.Raster, error) {
	if src.Rows != r.swath.Rows || src.Cols != r.swath.Cols {
		return nil, fmt.Errorf("geocode: raster %dx%d does not match swath %dx%d", src.Rows, src.Cols, r.swath.Rows, r.swath.Cols)
	}
	t, err := r.table(ctx, method)
	if err != nil {
		return nil, err
	}
	out := raster.New(r.target, src.Bands)
	out.Unit = src.Unit
	copy(out.Names, src.Names)
	n := r.target.Size()
	for b := 0; b < src.Bands; b++ {
		in := src.Band(b)
		dst := out.Data[b*n : (b+1)*n]
		for i := range dst {
			dst[i] = apply(t.idx[i], t.w[i], in)
		}
	}
	return out, nil
}

func apply(idx [4]int32, w [4]float32, in []float32) float32 {
	var sum, wsum float64
	for k := 0; k < 4; k++ {
		if idx[k] < 0 || w[k] == 0 {
			continue
		}
		v := in[idx[k]]
		if raster.IsNoData(v) {
			continue
		}
		sum += float64(w[k]) * float64(v)
		wsum += float64(w[k])
	}
	if wsum == 0 {
		return raster.NoData
	}
	return float32(sum / wsum)
}
