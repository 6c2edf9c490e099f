package geocode

import (
	"context"
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/example/go-eonorm/eo/raster"
)

// swathPoint is a projected swath sample that remembers its array index.
type swathPoint struct {
	x, y float64
	idx  int32
}

func (p swathPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(swathPoint)
	if d == 0 {
		return p.x - q.x
	}
	return p.y - q.y
}

func (p swathPoint) Dims() int { return 2 }

// Distance is the squared euclidean distance.
func (p swathPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(swathPoint)
	dx, dy := p.x-q.x, p.y-q.y
	return dx*dx + dy*dy
}

type swathPoints []swathPoint

func (p swathPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p swathPoints) Len() int                              { return len(p) }
func (p swathPoints) Pivot(d kdtree.Dim) int                { return plane{swathPoints: p, Dim: d}.Pivot() }
func (p swathPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

type plane struct {
	kdtree.Dim
	swathPoints
}

func (p plane) Less(i, j int) bool {
	if p.Dim == 0 {
		return p.swathPoints[i].x < p.swathPoints[j].x
	}
	return p.swathPoints[i].y < p.swathPoints[j].y
}
func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.swathPoints = p.swathPoints[start:end]
	return p
}
func (p plane) Swap(i, j int) {
	p.swathPoints[i], p.swathPoints[j] = p.swathPoints[j], p.swathPoints[i]
}

// swathIndex is the swath projected into the target CRS with a kd-tree over
// its valid samples.
type swathIndex struct {
	rows, cols int
	xs, ys     []float64
	tree       *kdtree.Tree
}

func newSwathIndex(s *SwathGrid, proj Projector) *swathIndex {
	si := &swathIndex{rows: s.Rows, cols: s.Cols, xs: make([]float64, len(s.Lon)), ys: make([]float64, len(s.Lat))}
	pts := make(swathPoints, 0, len(s.Lon))
	for i := range s.Lon {
		if math.IsNaN(s.Lon[i]) || math.IsNaN(s.Lat[i]) {
			si.xs[i], si.ys[i] = math.NaN(), math.NaN()
			continue
		}
		x, y := proj.Forward(s.Lon[i], s.Lat[i])
		si.xs[i], si.ys[i] = x, y
		pts = append(pts, swathPoint{x: x, y: y, idx: int32(i)})
	}
	if len(pts) > 0 {
		si.tree = kdtree.New(pts, false)
	}
	return si
}

func (si *swathIndex) nearest(x, y float64) (int32, float64) {
	c, d := si.tree.Nearest(swathPoint{x: x, y: y})
	return c.(swathPoint).idx, d
}

func (si *swathIndex) table(ctx context.Context, target raster.Grid, radius float64, method raster.Resampling) (*table, error) {
	n := target.Size()
	t := &table{idx: make([][4]int32, n), w: make([][4]float32, n)}
	r2 := radius * radius
	for row := 0; row < target.Rows; row++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for col := 0; col < target.Cols; col++ {
			i := row*target.Cols + col
			t.idx[i] = [4]int32{-1, -1, -1, -1}
			p := target.PixelCenter(row, col)
			k, d2 := si.nearest(p[0], p[1])
			if d2 > r2 {
				continue
			}
			if method == raster.Bilinear {
				if idx, w, ok := si.cellWeights(k, p[0], p[1]); ok {
					t.idx[i], t.w[i] = idx, w
				}
				continue
			}
			t.idx[i][0], t.w[i][0] = k, 1
		}
	}
	return t, nil
}

// cellWeights finds the swath cell around sample k that contains (x, y) and
// returns its corner indices with bilinear weights.
func (si *swathIndex) cellWeights(k int32, x, y float64) ([4]int32, [4]float32, bool) {
	kr, kc := int(k)/si.cols, int(k)%si.cols
	for r := kr - 1; r <= kr; r++ {
		for c := kc - 1; c <= kc; c++ {
			if r < 0 || c < 0 || r+1 >= si.rows || c+1 >= si.cols {
				continue
			}
			idx := [4]int32{
				int32(r*si.cols + c), int32(r*si.cols + c + 1),
				int32((r+1)*si.cols + c), int32((r+1)*si.cols + c + 1),
			}
			s, tt, ok := si.invertCell(idx, x, y)
			if !ok {
				continue
			}
			return idx, [4]float32{
				float32((1 - s) * (1 - tt)), float32(s * (1 - tt)),
				float32((1 - s) * tt), float32(s * tt),
			}, true
		}
	}
	return [4]int32{}, [4]float32{}, false
}

// invertCell solves the bilinear cell mapping for (x, y) by Newton iteration.
// s runs along columns and t along rows.
func (si *swathIndex) invertCell(idx [4]int32, x, y float64) (float64, float64, bool) {
	var px, py [4]float64
	for k, i := range idx {
		px[k], py[k] = si.xs[i], si.ys[i]
		if math.IsNaN(px[k]) {
			return 0, 0, false
		}
	}
	s, t := 0.5, 0.5
	for it := 0; it < 10; it++ {
		fx := (1-s)*(1-t)*px[0] + s*(1-t)*px[1] + (1-s)*t*px[2] + s*t*px[3] - x
		fy := (1-s)*(1-t)*py[0] + s*(1-t)*py[1] + (1-s)*t*py[2] + s*t*py[3] - y
		dxs := (1-t)*(px[1]-px[0]) + t*(px[3]-px[2])
		dys := (1-t)*(py[1]-py[0]) + t*(py[3]-py[2])
		dxt := (1-s)*(px[2]-px[0]) + s*(px[3]-px[1])
		dyt := (1-s)*(py[2]-py[0]) + s*(py[3]-py[1])
		det := dxs*dyt - dxt*dys
		if det == 0 {
			return 0, 0, false
		}
		ds := (fx*dyt - fy*dxt) / det
		dt := (fy*dxs - fx*dys) / det
		s -= ds
		t -= dt
		if math.Abs(ds) < 1e-12 && math.Abs(dt) < 1e-12 {
			break
		}
	}
	const eps = 1e-9
	if s < -eps || s > 1+eps || t < -eps || t > 1+eps {
		return 0, 0, false
	}
	return math.Min(1, math.Max(0, s)), math.Min(1, math.Max(0, t)), true
}
