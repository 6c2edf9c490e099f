package eo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/example/go-eonorm/eo/band"
	"github.com/example/go-eonorm/eo/cache"
	"github.com/example/go-eonorm/eo/eoerr"
	"github.com/example/go-eonorm/eo/mask"
	"github.com/example/go-eonorm/eo/radiometry"
	"github.com/example/go-eonorm/eo/raster"
	"github.com/example/go-eonorm/internal/logging"
	"github.com/example/go-eonorm/internal/observability"
)

// Pipeline stages, as reported in failures and metrics.
const (
	StageRead       = "read"
	StagePreprocess = "preprocess"
	StageClean      = "clean"
	StageConvert    = "convert"
	StageGeocode    = "geocode"
	StagePersist    = "persist"
)

// BandRequest selects how bands are produced.
type BandRequest struct {
	Bands []string
	// PixelSize is the output pixel size in metres; 0 keeps each band's
	// native GSD.
	PixelSize float64
	Window    *raster.Window
	// Cleaning defaults to radiometry.CleanNoData.
	Cleaning radiometry.CleaningMethod
	// Reflectance converts to TOA reflectance (or brightness temperature
	// for thermal bands) when the raw units allow it.
	Reflectance bool
	// Resampling defaults to bilinear.
	Resampling raster.Resampling
}

func (r BandRequest) cleaning() radiometry.CleaningMethod {
	if r.Cleaning == "" {
		return radiometry.CleanNoData
	}
	return r.Cleaning
}

func (r BandRequest) resampling() raster.Resampling {
	if r.Resampling == "" {
		return raster.Bilinear
	}
	return r.Resampling
}

// Output is one processed band.
type Output struct {
	Band   string
	Raster *raster.Raster
	// Path is the derived artifact, empty when no store is configured.
	Path string
}

// StageError reports the pipeline stage a band failed in.
type StageError struct {
	Band  string
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("eo: band %s: %s: %v", e.Band, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// BatchError collects the failures of a multi-band request. Bands missing
// from it succeeded.
type BatchError struct {
	Failures map[string]error
}

func (e *BatchError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	msgs := make([]string, len(names))
	for i, name := range names {
		msgs[i] = e.Failures[name].Error()
	}
	return fmt.Sprintf("eo: %d band(s) failed: %s", len(names), strings.Join(msgs, "; "))
}

// Unwrap exposes every band failure to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		out = append(out, err)
	}
	return out
}

// Load processes req.Bands concurrently. A failing band does not stop its
// siblings: the successful outputs are returned together with a *BatchError.
func (p *Product) Load(ctx context.Context, req BandRequest) (map[string]*Output, error) {
	if err := p.requireBands(); err != nil {
		return nil, err
	}
	names := req.Bands
	if len(names) == 0 {
		names = p.Bands()
	}

	var (
		mu       sync.Mutex
		outputs  = make(map[string]*Output, len(names))
		failures = map[string]error{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, name := range names {
		g.Go(func() error {
			out, err := p.LoadBand(gctx, name, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[name] = err
				// Only cancellation stops the batch.
				if isCancellation(err) {
					return err
				}
				return nil
			}
			outputs[name] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outputs, err
	}
	if len(failures) > 0 {
		return outputs, &BatchError{Failures: failures}
	}
	return outputs, nil
}

// LoadBand runs the band pipeline for one band: read, clean, convert, clip
// and cast, geocode, persist. The stages always run in that order.
func (p *Product) LoadBand(ctx context.Context, name string, req BandRequest) (*Output, error) {
	ctx, span := observability.Tracer().Start(ctx, "eo.LoadBand", trace.WithAttributes(
		attribute.String("product", p.Name()),
		attribute.String("band", name),
		attribute.String("cleaning", string(req.cleaning())),
		attribute.Bool("reflectance", req.Reflectance),
	))
	defer span.End()

	out, err := p.loadBand(ctx, name, req)
	if err != nil {
		stage := "setup"
		var se *StageError
		if errors.As(err, &se) {
			stage = se.Stage
		}
		p.metrics.BandFailed(p.identity.Constellation, stage)
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		p.logger.Warn(ctx, "band failed",
			logging.String("band", name),
			logging.String("stage", stage),
			logging.Err(err))
		return nil, err
	}
	p.metrics.BandDone(p.identity.Constellation, string(out.Raster.Unit))
	return out, nil
}

func (p *Product) loadBand(ctx context.Context, name string, req BandRequest) (*Output, error) {
	if err := p.requireBands(); err != nil {
		return nil, err
	}
	if p.rw == nil {
		return nil, eoerr.Product(p.Name(), "no raster reader configured", nil)
	}
	reg := p.Registry()
	desc, err := reg.Get(name)
	if err != nil {
		return nil, err
	}
	res := req.PixelSize
	if res <= 0 {
		res, _ = reg.NativeGSD(name)
	}
	if req.Cleaning != "" {
		if _, err := radiometry.ParseCleaningMethod(string(req.Cleaning)); err != nil {
			return nil, err
		}
	}

	conv, err := p.converter(ctx, desc, req.Reflectance)
	if err != nil {
		return nil, err
	}
	compute := func(ctx context.Context) (*raster.Raster, error) {
		return p.computeBand(ctx, desc, conv, res, req)
	}

	if p.store == nil {
		r, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return &Output{Band: name, Raster: r}, nil
	}
	key := cache.Key{
		Product:     p.CondensedName(),
		Band:        name,
		Resolution:  res,
		Window:      req.Window,
		Cleaning:    req.cleaning(),
		Reflectance: conv.ToReflectance,
		Kind:        cache.KindRaster,
	}
	r, path, err := p.store.GetOrCreateRaster(ctx, key, p.rw, compute)
	if err != nil {
		var se *StageError
		if !errors.As(err, &se) {
			err = &StageError{Band: name, Stage: StagePersist, Err: err}
		}
		return nil, err
	}
	r.Names = []string{name}
	r.Unit = conv.Unit()
	return &Output{Band: name, Raster: r, Path: path}, nil
}

// converter prepares the radiometric conversion of desc. Calibration is read
// once per band and product.
func (p *Product) converter(ctx context.Context, desc band.Descriptor, reflectance bool) (radiometry.Converter, error) {
	conv := radiometry.Converter{
		Product:       p.Name(),
		Band:          desc.Name,
		Units:         p.RawUnits(),
		ToReflectance: reflectance && p.RawUnits() != radiometry.RawNone,
		Orbit:         p.orbit,
	}
	if !conv.ToReflectance || p.profile.RawUnits == nil {
		conv.ToReflectance = false
		return conv, nil
	}
	cal, err := cached(ctx, &p.cache, "calibration:"+desc.Name, func(ctx context.Context) (radiometry.Calibration, error) {
		cal, err := p.profile.RawUnits.Calibration(ctx, p, desc)
		if err != nil {
			return cal, eoerr.Band(p.Name(), desc.Name, "read calibration", err)
		}
		if cal.Acquired.IsZero() {
			cal.Acquired = p.identity.Acquisition
		}
		return cal, nil
	})
	if err != nil {
		return conv, &StageError{Band: desc.Name, Stage: StageConvert, Err: err}
	}
	conv.Calibration = cal
	if err := conv.Validate(); err != nil {
		return conv, &StageError{Band: desc.Name, Stage: StageConvert, Err: err}
	}
	return conv, nil
}

func (p *Product) computeBand(ctx context.Context, desc band.Descriptor, conv radiometry.Converter, res float64, req BandRequest) (*raster.Raster, error) {
	name := desc.Name
	fail := func(stage string, err error) error {
		return &StageError{Band: name, Stage: stage, Err: err}
	}
	geo := p.profile.Geocoding
	if geo == nil {
		geo = NativeGeocoding{}
	}

	path, err := p.Registry().ResolvePath(name, p.Layout())
	if err != nil {
		return nil, fail(StageRead, err)
	}
	if p.profile.Preprocessor != nil {
		if path, err = p.preprocess(ctx, desc, path); err != nil {
			return nil, fail(StagePreprocess, err)
		}
	}

	rr := raster.ReadRequest{Channel: desc.Channel, Resampling: req.resampling()}
	if geo.Native() {
		rr.PixelSize = res
		rr.Window = req.Window
	}
	raw, err := p.rw.Read(ctx, path, rr)
	if err != nil {
		return nil, fail(StageRead, eoerr.Band(p.Name(), name, "read "+path, err))
	}
	raw.Names = []string{name}

	masks, err := p.cleaningMasks(ctx, name, raw.Grid, req.cleaning())
	if err != nil {
		return nil, fail(StageClean, err)
	}
	cleaned, err := mask.Apply(raw, masks...)
	if err != nil {
		return nil, fail(StageClean, err)
	}

	samples, err := conv.Convert(cleaned.Band(0))
	if err != nil {
		return nil, fail(StageConvert, err)
	}
	converted := &raster.Raster{Grid: cleaned.Grid, Bands: 1, Data: samples, Names: []string{name}, Unit: conv.Unit()}

	placed, err := geo.Geocode(ctx, p, converted, res, req.resampling())
	if err != nil {
		return nil, fail(StageGeocode, err)
	}
	if !geo.Native() && req.Window != nil {
		if placed, err = placed.Window(*req.Window); err != nil {
			return nil, fail(StageGeocode, err)
		}
	}
	return placed, nil
}

// preprocess runs the external tool on a raw band file once per product
// and band.
func (p *Product) preprocess(ctx context.Context, desc band.Descriptor, in string) (string, error) {
	gsd, _ := p.Registry().NativeGSD(desc.Name)
	if p.store != nil {
		return p.store.GetOrCreate(ctx, cache.Key{
			Product:    p.CondensedName(),
			Band:       desc.Name + "-pre",
			Resolution: gsd,
			Cleaning:   radiometry.CleanRaw,
			Kind:       cache.KindRaster,
		}, func(ctx context.Context, tmp string) error {
			return p.profile.Preprocessor.Run(ctx, in, tmp)
		})
	}
	return cached(ctx, &p.cache, "pre:"+desc.Name, func(ctx context.Context) (string, error) {
		if err := os.MkdirAll(p.workDir, 0o755); err != nil {
			return "", err
		}
		out := filepath.Join(p.workDir, fmt.Sprintf("%s_%s_pre_%s.tif", p.CondensedName(), desc.Name, uuid.NewString()[:8]))
		if err := p.profile.Preprocessor.Run(ctx, in, out); err != nil {
			return "", err
		}
		return out, nil
	})
}
