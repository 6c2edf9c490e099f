package mask

import (
	"fmt"
	"sort"

	"github.com/example/go-eonorm/eo/eoerr"
	"github.com/example/go-eonorm/eo/raster"
)

// DefaultComposites are the composite kinds built when a decoder does not
// declare its own.
var DefaultComposites = map[Kind][]Kind{
	AllClouds: {Clouds, Shadows, Cirrus},
}

// Decoder turns a quality raster into masks. A kind is decoded from a bit
// position, from a set of class values, or as the OR of other kinds.
type Decoder struct {
	Bits       map[Kind]uint
	Classes    map[Kind][]int
	Composites map[Kind][]Kind
}

func (d Decoder) composites() map[Kind][]Kind {
	if d.Composites != nil {
		return d.Composites
	}
	return DefaultComposites
}

func (d Decoder) direct(k Kind) bool {
	_, bit := d.Bits[k]
	_, class := d.Classes[k]
	return bit || class
}

// Supports reports whether the decoder can produce kind.
func (d Decoder) Supports(k Kind) bool {
	if d.direct(k) {
		return true
	}
	for _, part := range d.composites()[k] {
		if d.direct(part) {
			return true
		}
	}
	return false
}

// Kinds returns every kind the decoder can produce, sorted.
func (d Decoder) Kinds() []Kind {
	var out []Kind
	for _, k := range Kinds {
		if d.Supports(k) {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Decode builds the mask of kind from band (0-based) of src. Nodata samples
// never set a mask. Composite parts the decoder cannot produce are skipped.
func (d Decoder) Decode(src *raster.Raster, band int, kind Kind) (*Mask, error) {
	if band < 0 || band >= src.Bands {
		return nil, fmt.Errorf("mask: band %d out of range (%d bands)", band, src.Bands)
	}
	if bit, ok := d.Bits[kind]; ok {
		return decodeBit(src, band, kind, bit), nil
	}
	if classes, ok := d.Classes[kind]; ok {
		return decodeClasses(src, band, kind, classes), nil
	}
	parts := d.composites()[kind]
	var masks []*Mask
	for _, p := range parts {
		if p == kind || !d.direct(p) {
			continue
		}
		m, err := d.Decode(src, band, p)
		if err != nil {
			return nil, err
		}
		masks = append(masks, m)
	}
	if len(masks) == 0 {
		return nil, &eoerr.InvalidTypeError{Type: string(kind), Reason: "not encoded in the quality raster"}
	}
	return Union(kind, masks...)
}

func decodeBit(src *raster.Raster, band int, kind Kind, bit uint) *Mask {
	m := New(kind, src.Grid)
	for i, v := range src.Band(band) {
		if raster.IsNoData(v) {
			continue
		}
		if (uint64(int64(v))>>bit)&1 == 1 {
			m.Data[i] = 1
		}
	}
	return m
}

func decodeClasses(src *raster.Raster, band int, kind Kind, classes []int) *Mask {
	set := make(map[int]struct{}, len(classes))
	for _, c := range classes {
		set[c] = struct{}{}
	}
	m := New(kind, src.Grid)
	for i, v := range src.Band(band) {
		if raster.IsNoData(v) {
			continue
		}
		if _, ok := set[int(v)]; ok {
			m.Data[i] = 1
		}
	}
	return m
}
