package sensor

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"strings"

	"github.com/example/go-eonorm/eo"
	"github.com/example/go-eonorm/eo/band"
	"github.com/example/go-eonorm/eo/metadata"
	"github.com/example/go-eonorm/eo/radiometry"
)

func (c Condition) holds(p *eo.Product, md metadata.View) bool {
	if c.ProductType != "" && !strings.EqualFold(c.ProductType, p.Identity().ProductType) {
		return false
	}
	if c.NameContains != "" && !strings.Contains(p.Name(), c.NameContains) {
		return false
	}
	if c.Path != "" {
		v, ok := md.FindText(c.Path)
		if !ok || (c.Equals != "" && v != c.Equals) {
			return false
		}
	}
	return true
}

// MapBands implements eo.BandMapper.
func (c *compiled) MapBands(_ context.Context, p *eo.Product, md metadata.View) (eo.BandMap, error) {
	for _, comb := range c.def.Combinations {
		if comb.When != nil && !comb.When.holds(p, md) {
			continue
		}
		descs := make([]band.Descriptor, len(comb.Bands))
		for i, b := range comb.Bands {
			d := band.Descriptor{
				Name:         b.Name,
				File:         b.File,
				Channel:      cmp.Or(b.Channel, 1),
				GSD:          b.GSD,
				Polarization: band.Polarization(strings.ToUpper(b.Polarization)),
			}
			if b.CenterNM > 0 {
				d.Spectral = &band.Spectral{CenterNM: b.CenterNM, WidthNM: b.WidthNM}
			}
			descs[i] = d
		}
		layout := c.def.Layout
		if comb.Layout != nil {
			layout = *comb.Layout
		}
		return eo.BandMap{
			Combination: band.Combination(comb.Name),
			Bands:       descs,
			PixelSize:   cmp.Or(comb.PixelSize, c.def.PixelSize),
			Layout:      band.Layout{Pattern: layout.Pattern, ResolutionFormat: layout.ResolutionFormat},
		}, nil
	}
	return eo.BandMap{}, fmt.Errorf("sensor: %s: no band combination matches %s", c.def.Name, p.Name())
}

// entry returns the band table row of name in the combination p is mapped to.
func (c *compiled) entry(p *eo.Product, name string) (bandEntry, error) {
	comb := ""
	if reg := p.Registry(); reg != nil {
		comb = string(reg.Combination())
	}
	rows, ok := c.bands[comb]
	if !ok {
		return bandEntry{}, fmt.Errorf("sensor: %s: combination %q is not mapped", c.def.Name, comb)
	}
	b, ok := rows[name]
	if !ok {
		return bandEntry{}, fmt.Errorf("sensor: %s: band %s is not in combination %q", c.def.Name, name, comb)
	}
	return b, nil
}

// RawUnits implements eo.RawUnitsStrategy.
func (c *compiled) RawUnits(context.Context, *eo.Product, metadata.View) (radiometry.RawUnits, error) {
	return radiometry.ParseRawUnits(c.def.RawUnits.Units)
}

// Calibration implements eo.RawUnitsStrategy. Coefficients that are not
// found stay zero, and a missing sun zenith is NaN, so the converter can
// report them.
func (c *compiled) Calibration(ctx context.Context, p *eo.Product, desc band.Descriptor) (radiometry.Calibration, error) {
	cal := radiometry.Calibration{SunZenith: math.NaN()}
	b, err := c.entry(p, desc.Name)
	if err != nil {
		return cal, err
	}
	def := c.def.RawUnits.Calibration
	for _, f := range []struct {
		v   *ValueDef
		dst *float64
	}{
		{def.Gain, &cal.Gain},
		{def.Bias, &cal.Bias},
		{def.SolarIrradiance, &cal.SolarIrradiance},
		{def.SunZenith, &cal.SunZenith},
		{def.ScaleDivisor, &cal.ScaleDivisor},
		{def.ScaleOffset, &cal.ScaleOffset},
		{def.K1, &cal.K1},
		{def.K2, &cal.K2},
	} {
		x, ok, err := f.v.read(ctx, p, b)
		if err != nil {
			return cal, err
		}
		if ok {
			*f.dst = x
		}
	}
	if a := def.Acquired; a != nil {
		doc, err := document(ctx, p, b.expand(a.File), a.Format)
		if err != nil {
			return cal, err
		}
		t, err := metadata.Time(doc, b.expand(a.Path))
		if err != nil && !errors.Is(err, metadata.ErrMissing) {
			return cal, err
		}
		cal.Acquired = t
	}
	return cal, nil
}

// read resolves v for band b. ok is false when no source provides a value.
func (v *ValueDef) read(ctx context.Context, p *eo.Product, b bandEntry) (float64, bool, error) {
	if v == nil {
		return 0, false, nil
	}
	x, ok, err := v.lookup(ctx, p, b)
	if err != nil || !ok {
		return 0, false, err
	}
	if v.Invert {
		if x == 0 {
			return 0, false, fmt.Errorf("sensor: %s: cannot invert zero", b.expand(v.Path))
		}
		x = 1 / x
	}
	return x*cmp.Or(v.Scale, 1) + v.Offset, true, nil
}

func (v *ValueDef) lookup(ctx context.Context, p *eo.Product, b bandEntry) (float64, bool, error) {
	if v.Path != "" {
		doc, err := document(ctx, p, b.expand(v.File), v.Format)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return 0, false, err
		default:
			path := b.expand(v.Path)
			if v.Indexed {
				if all := doc.FindAll(path); b.index < len(all) {
					x, err := parseNumber(path, all[b.index])
					return x, err == nil, err
				}
			} else if s, ok := doc.FindText(path); ok {
				x, err := parseNumber(path, s)
				return x, err == nil, err
			}
		}
	}
	if x, ok := v.Values[b.def.Name]; ok {
		return x, true, nil
	}
	if v.Value != nil {
		return *v.Value, true, nil
	}
	return 0, false, nil
}
