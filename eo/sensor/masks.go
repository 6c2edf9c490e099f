package sensor

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/go-eonorm/eo"
	"github.com/example/go-eonorm/eo/eoerr"
	"github.com/example/go-eonorm/eo/mask"
	"github.com/example/go-eonorm/eo/raster"
)

type masks struct {
	c     *compiled
	defs  map[mask.Kind]MaskDef
	kinds []mask.Kind
}

func newMasks(c *compiled) *masks {
	m := &masks{c: c, defs: make(map[mask.Kind]MaskDef, len(c.def.Masks))}
	for _, d := range c.def.Masks {
		k, _ := mask.ParseKind(d.Kind)
		m.defs[k] = d
	}
	for _, k := range mask.Kinds {
		if _, ok := m.defs[k]; ok {
			m.kinds = append(m.kinds, k)
		}
	}
	return m
}

// Kinds implements eo.MaskStrategy.
func (m *masks) Kinds(*eo.Product) []mask.Kind { return m.kinds }

// Source implements eo.MaskStrategy.
func (m *masks) Source(ctx context.Context, p *eo.Product, bandName string, kind mask.Kind) (eo.MaskSource, error) {
	def, ok := m.defs[kind]
	if !ok {
		return eo.MaskSource{}, &eoerr.InvalidTypeError{Type: string(kind), Reason: "mask not provided by " + m.c.def.Name}
	}
	if len(def.Composite) > 0 {
		parts := make([]mask.Kind, len(def.Composite))
		for i, s := range def.Composite {
			parts[i], _ = mask.ParseKind(s)
		}
		return eo.MaskSource{Composite: parts, Optional: def.Optional}, nil
	}

	b, err := m.c.entry(p, bandName)
	if err != nil {
		return eo.MaskSource{}, err
	}
	root, err := p.Root(ctx)
	if err != nil {
		return eo.MaskSource{}, err
	}

	if def.Raster != "" {
		rel := b.expand(def.Raster)
		path, err := resolveFile(root, rel)
		if errors.Is(err, fs.ErrNotExist) {
			path = filepath.Join(root, filepath.FromSlash(rel))
		} else if err != nil {
			return eo.MaskSource{}, err
		}
		dec := mask.Decoder{}
		switch {
		case def.BitFromIndex:
			dec.Bits = map[mask.Kind]uint{kind: uint(b.index)}
		case def.Bit != nil:
			dec.Bits = map[mask.Kind]uint{kind: *def.Bit}
		default:
			dec.Classes = map[mask.Kind][]int{kind: def.Classes}
		}
		return eo.MaskSource{
			RasterPath: path,
			Channel:    cmp.Or(def.Channel, 1),
			Decoder:    dec,
			Optional:   def.Optional,
		}, nil
	}

	burn := mask.DefaultBurn(kind)
	if def.Burn != "" {
		burn, _ = mask.ParseBurn(def.Burn)
	}
	rel := b.expand(def.Vector)
	return eo.MaskSource{
		Vector: func(ctx context.Context) (mask.Vector, error) {
			return m.loadVector(ctx, p, root, rel, def)
		},
		Burn:     burn,
		Optional: def.Optional,
	}, nil
}

func (m *masks) loadVector(ctx context.Context, p *eo.Product, root, rel string, def MaskDef) (mask.Vector, error) {
	path, err := resolveFile(root, rel)
	if err != nil {
		return mask.Vector{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return mask.Vector{}, fmt.Errorf("sensor: read vector mask: %w", err)
	}
	var crs raster.CRS
	if def.CRS != "" {
		if crs, err = raster.ParseCRS(def.CRS); err != nil {
			return mask.Vector{}, err
		}
	} else if crs, err = p.CRS(ctx); err != nil {
		return mask.Vector{}, err
	}
	format := def.Format
	if format == "" {
		format = "geojson"
		if ext := strings.ToLower(filepath.Ext(path)); ext == ".wkt" || ext == ".txt" {
			format = "wkt"
		}
	}
	if format == "wkt" {
		return mask.ParseWKT(string(data), crs), nil
	}
	return mask.ParseGeoJSON(data, crs), nil
}
