package sensor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/example/go-eonorm/eo"
	"github.com/example/go-eonorm/eo/geocode"
	"github.com/example/go-eonorm/eo/metadata"
)

// loadRPC reads the coefficients declared by the rpc geocoding block.
func (c *compiled) loadRPC(ctx context.Context, p *eo.Product) (*geocode.RPC, error) {
	def := c.def.Geocoding.RPC
	doc, err := document(ctx, p, def.File, def.Format)
	if err != nil {
		return nil, err
	}
	rpc := &geocode.RPC{}
	for name, dst := range map[string]*float64{
		"LINE_OFF": &rpc.LineOff, "SAMP_OFF": &rpc.SampOff,
		"LAT_OFF": &rpc.LatOff, "LONG_OFF": &rpc.LonOff, "HEIGHT_OFF": &rpc.HeightOff,
		"LINE_SCALE": &rpc.LineScale, "SAMP_SCALE": &rpc.SampScale,
		"LAT_SCALE": &rpc.LatScale, "LONG_SCALE": &rpc.LonScale, "HEIGHT_SCALE": &rpc.HeightScale,
	} {
		if *dst, err = metadata.Float(doc, strings.ReplaceAll(def.Validity, "{name}", name)); err != nil {
			return nil, err
		}
	}
	for name, dst := range map[string]*[20]float64{
		"LINE_NUM_COEFF": &rpc.LineNum, "LINE_DEN_COEFF": &rpc.LineDen,
		"SAMP_NUM_COEFF": &rpc.SampNum, "SAMP_DEN_COEFF": &rpc.SampDen,
	} {
		for i := range dst {
			path := strings.NewReplacer("{name}", name, "{i}", strconv.Itoa(i+1)).Replace(def.Coefficients)
			if dst[i], err = metadata.Float(doc, path); err != nil {
				return nil, err
			}
		}
	}
	rpc.LineOff -= def.PixelOrigin
	rpc.SampOff -= def.PixelOrigin
	if err := rpc.Validate(); err != nil {
		return nil, err
	}
	return rpc, nil
}

// loadSwath reads the tie-point geolocation grid of a band and expands it to
// rows x cols pixels.
func (c *compiled) loadSwath(ctx context.Context, p *eo.Product, bandName string, rows, cols int) (*geocode.SwathGrid, error) {
	def := c.def.Geocoding.Swath
	b, err := c.entry(p, bandName)
	if err != nil {
		return nil, err
	}
	doc, err := document(ctx, p, b.expand(def.File), def.Format)
	if err != nil {
		return nil, err
	}
	var cols4 [4][]float64
	for i, path := range []string{def.Line, def.Pixel, def.Lon, def.Lat} {
		if cols4[i], err = metadata.Floats(doc, path); err != nil {
			return nil, err
		}
	}
	tp, err := tiePoints(cols4[0], cols4[1], cols4[2], cols4[3])
	if err != nil {
		return nil, fmt.Errorf("sensor: %s: %w", bandName, err)
	}
	tp.FullRows, tp.FullCols = rows, cols
	return tp.Expand()
}

// tiePoints arranges scattered (line, pixel, lon, lat) records on a regular
// tie-point grid. Steps are the mean spacing between distinct lines and
// pixels; the grid must start at pixel (0, 0).
func tiePoints(lines, pixels, lons, lats []float64) (geocode.TiePointGrid, error) {
	n := len(lines)
	if n == 0 || len(pixels) != n || len(lons) != n || len(lats) != n {
		return geocode.TiePointGrid{}, fmt.Errorf("tie-point lists differ in length")
	}
	ls, ps := distinct(lines), distinct(pixels)
	if len(ls)*len(ps) != n {
		return geocode.TiePointGrid{}, fmt.Errorf("%d tie points do not form a %dx%d grid", n, len(ls), len(ps))
	}
	if ls[0] != 0 || ps[0] != 0 {
		return geocode.TiePointGrid{}, fmt.Errorf("tie-point grid starts at (%g, %g), not (0, 0)", ls[0], ps[0])
	}
	t := geocode.TiePointGrid{
		Rows: len(ls), Cols: len(ps),
		Lon: make([]float64, n), Lat: make([]float64, n),
	}
	if t.Rows > 1 {
		t.RowStep = int(math.Round(ls[len(ls)-1] / float64(t.Rows-1)))
	}
	if t.Cols > 1 {
		t.ColStep = int(math.Round(ps[len(ps)-1] / float64(t.Cols-1)))
	}
	for k := range lines {
		i := sort.SearchFloat64s(ls, lines[k])
		j := sort.SearchFloat64s(ps, pixels[k])
		t.Lon[i*t.Cols+j] = lons[k]
		t.Lat[i*t.Cols+j] = lats[k]
	}
	return t, nil
}

func distinct(v []float64) []float64 {
	out := append([]float64(nil), v...)
	sort.Float64s(out)
	j := 0
	for i := range out {
		if i == 0 || out[i] != out[j-1] {
			out[j] = out[i]
			j++
		}
	}
	return out[:j]
}
