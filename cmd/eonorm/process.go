package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/paulmach/orb/encoding/wkt"
	"github.com/urfave/cli/v3"

	"github.com/example/go-eonorm/eo"
	"github.com/example/go-eonorm/eo/cache"
	"github.com/example/go-eonorm/eo/fetch"
	"github.com/example/go-eonorm/eo/gdalio"
	"github.com/example/go-eonorm/eo/geocode"
	"github.com/example/go-eonorm/eo/radiometry"
	"github.com/example/go-eonorm/eo/raster"
	"github.com/example/go-eonorm/eo/sensor"
	"github.com/example/go-eonorm/internal/logging"
)

func profileFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "profile",
		Usage:   "Profile name; detected from the product name when empty",
		Aliases: []string{"p"},
	}
}

// openProduct resolves the profile for path and opens the product with the
// GDAL raster engine and the artifact store.
func (e *env) openProduct(ctx context.Context, cmd *cli.Command, path string) (*eo.Product, error) {
	rw, err := gdalio.New()
	if err != nil {
		return nil, err
	}
	opts, err := e.sensorOptions(ctx, rw)
	if err != nil {
		return nil, err
	}
	var prof eo.Profile
	if name := strings.TrimSpace(cmd.String("profile")); name != "" {
		prof, err = e.catalog.Profile(name, opts...)
	} else {
		prof, err = e.catalog.Detect(path, opts...)
	}
	if err != nil {
		return nil, err
	}

	storeOpts := []cache.Option{cache.WithLogger(e.log), cache.WithMetrics(e.metrics)}
	if s3 := e.cfg.Cache.S3; s3.Bucket != "" {
		mirror, err := cache.NewS3Mirror(s3.Bucket, s3.Prefix, s3.Options())
		if err != nil {
			return nil, err
		}
		storeOpts = append(storeOpts, cache.WithMirror(mirror))
	}
	store, err := cache.New(e.cfg.Output.Dir, storeOpts...)
	if err != nil {
		return nil, err
	}

	productOpts := []eo.Option{
		eo.WithRaster(rw),
		eo.WithStore(store),
		eo.WithLogger(e.log),
		eo.WithMetrics(e.metrics),
		eo.WithExtractor(fetch.ZipExtractor{}),
		eo.WithWorkDir(filepath.Join(e.cfg.Output.Dir, "work")),
		eo.WithWorkers(e.cfg.Processing.Workers),
		eo.WithCloudAdjacency(e.cfg.Processing.CloudAdjacency),
	}
	return eo.Open(ctx, path, prof, productOpts...)
}

func (e *env) sensorOptions(ctx context.Context, r raster.Reader) ([]sensor.Option, error) {
	geo := e.cfg.Geocoding
	var elev geocode.Elevation = geocode.ConstantElevation(geo.Height)
	if geo.DEM != "" {
		dem, err := r.Read(ctx, geo.DEM, raster.ReadRequest{Channel: 1})
		if err != nil {
			return nil, fmt.Errorf("read dem: %w", err)
		}
		if elev, err = geocode.NewRasterElevation(dem, geo.Height); err != nil {
			return nil, err
		}
	}
	opts := []sensor.Option{sensor.WithElevation(elev), sensor.WithSwathRadius(geo.SwathRadius)}
	if runner, ok := e.cfg.TerrainRunner(); ok {
		opts = append(opts, sensor.WithTerrain(runner))
	}
	return opts, nil
}

func newInspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show what eonorm knows about a product",
		ArgsUsage: "<product path>",
		Flags:     []cli.Flag{profileFlag(), outputFlag()},
		Action:    executeInspect,
	}
}

type inspection struct {
	Name          string    `json:"name"`
	Profile       string    `json:"profile"`
	State         string    `json:"state"`
	Condensed     string    `json:"condensed_name"`
	Constellation string    `json:"constellation"`
	Family        string    `json:"family"`
	ProductType   string    `json:"product_type,omitempty"`
	Tile          string    `json:"tile,omitempty"`
	Acquired      time.Time `json:"acquired"`
	Flags         eo.Flags  `json:"flags"`
	Bands         []string  `json:"bands,omitempty"`
	PixelSize     float64   `json:"pixel_size,omitempty"`
	RawUnits      string    `json:"raw_units,omitempty"`
	Masks         []string  `json:"masks,omitempty"`
	CRS           string    `json:"crs,omitempty"`
	Extent        []float64 `json:"extent,omitempty"`
	Footprint     string    `json:"footprint,omitempty"`
	Error         string    `json:"error,omitempty"`
}

func executeInspect(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return errors.New("inspect needs a product path")
	}
	e, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close(ctx)

	p, openErr := e.openProduct(ctx, cmd, path)
	if p == nil {
		return openErr
	}
	id := p.Identity()
	in := inspection{
		Name:          id.Name,
		Profile:       p.Profile().Name,
		State:         p.State().String(),
		Condensed:     p.CondensedName(),
		Constellation: id.Constellation,
		Family:        string(id.Family),
		ProductType:   id.ProductType,
		Tile:          id.TileID,
		Acquired:      id.Acquisition,
		Flags:         p.Flags(),
	}
	if openErr != nil {
		in.Error = openErr.Error()
	} else {
		in.Bands = p.Bands()
		in.PixelSize = p.PixelSize()
		in.RawUnits = string(p.RawUnits())
		for _, k := range p.MaskKinds() {
			in.Masks = append(in.Masks, string(k))
		}
		if crs, err := p.CRS(ctx); err == nil {
			in.CRS = crs.String()
		}
		if b, err := p.Extent(ctx); err == nil {
			in.Extent = []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
		}
		if fp, err := p.Footprint(ctx); err == nil && fp != nil {
			in.Footprint = wkt.MarshalString(fp)
		}
	}

	switch output := outputFormat(cmd); output {
	case "json":
		return writeJSON(os.Stdout, in)
	case "text":
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, kv := range [][2]string{
			{"name", in.Name},
			{"profile", in.Profile},
			{"state", in.State},
			{"condensed name", in.Condensed},
			{"constellation", in.Constellation},
			{"family", in.Family},
			{"product type", orDash(in.ProductType)},
			{"tile", orDash(in.Tile)},
			{"acquired", formatTime(in.Acquired)},
			{"ortho/archived/extract", fmt.Sprintf("%t/%t/%t", in.Flags.IsOrtho, in.Flags.IsArchived, in.Flags.NeedsExtraction)},
			{"bands", orDash(strings.Join(in.Bands, ","))},
			{"pixel size", orDash(formatFloat(in.PixelSize))},
			{"raw units", orDash(in.RawUnits)},
			{"masks", orDash(strings.Join(in.Masks, ","))},
			{"crs", orDash(in.CRS)},
			{"extent", orDash(formatExtent(in.Extent))},
			{"footprint", orDash(in.Footprint)},
			{"error", orDash(in.Error)},
		} {
			fmt.Fprintf(tw, "%s\t%s\n", kv[0], kv[1])
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unsupported output format %q", output)
	}
}

func newProcessCommand() *cli.Command {
	return &cli.Command{
		Name:      "process",
		Usage:     "Produce calibrated, cleaned, georeferenced bands",
		ArgsUsage: "<product path>",
		Flags: []cli.Flag{
			profileFlag(),
			&cli.StringSliceFlag{
				Name:    "band",
				Usage:   "Logical band to produce (repeatable); all mapped bands when omitted",
				Aliases: []string{"b"},
			},
			&cli.FloatFlag{
				Name:  "pixel-size",
				Usage: "Output pixel size in metres (default output.pixel_size, 0 keeps each band's GSD)",
			},
			&cli.StringFlag{
				Name:  "cleaning",
				Usage: "Cleaning method: raw, nodata or clean (default output.cleaning)",
			},
			&cli.BoolFlag{
				Name:  "reflectance",
				Usage: "Convert to TOA reflectance or brightness temperature (default output.reflectance)",
			},
			&cli.StringFlag{
				Name:  "resampling",
				Usage: "nearest or bilinear (default output.resampling)",
			},
			&cli.StringFlag{
				Name:  "window",
				Usage: "Pixel window col,row,cols,rows of the output grid",
			},
		},
		Action: executeProcess,
	}
}

func executeProcess(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return errors.New("process needs a product path")
	}
	e, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close(ctx)

	req, err := bandRequest(cmd, e)
	if err != nil {
		return err
	}
	p, err := e.openProduct(ctx, cmd, path)
	if err != nil {
		return err
	}

	start := time.Now()
	outputs, loadErr := p.Load(ctx, req)
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BAND\tUNIT\tSIZE\tPATH")
	for _, name := range names {
		out := outputs[name]
		fmt.Fprintf(tw, "%s\t%s\t%dx%d\t%s\n", name, out.Raster.Unit, out.Raster.Cols, out.Raster.Rows, orDash(out.Path))
	}
	tw.Flush()

	e.log.Info(ctx, "product processed",
		logging.String("product", p.Name()),
		logging.Int("bands", len(outputs)),
		logging.String("took", time.Since(start).Round(time.Millisecond).String()))
	return loadErr
}

func bandRequest(cmd *cli.Command, e *env) (eo.BandRequest, error) {
	out := e.cfg.Output
	req := eo.BandRequest{
		Bands:       trimStrings(cmd.StringSlice("band")),
		PixelSize:   out.PixelSize,
		Reflectance: out.Reflectance,
		Cleaning:    e.cfg.Cleaning(),
		Resampling:  raster.Resampling(out.Resampling),
	}
	if cmd.IsSet("pixel-size") {
		if req.PixelSize = cmd.Float("pixel-size"); req.PixelSize < 0 {
			return req, errors.New("pixel size must not be negative")
		}
	}
	if cmd.IsSet("reflectance") {
		req.Reflectance = cmd.Bool("reflectance")
	}
	if v := strings.TrimSpace(cmd.String("cleaning")); v != "" {
		m, err := radiometry.ParseCleaningMethod(v)
		if err != nil {
			return req, err
		}
		req.Cleaning = m
	}
	if v := strings.TrimSpace(cmd.String("resampling")); v != "" {
		switch m := raster.Resampling(strings.ToLower(v)); m {
		case raster.Nearest, raster.Bilinear:
			req.Resampling = m
		default:
			return req, fmt.Errorf("unsupported resampling %q", v)
		}
	}
	if v := strings.TrimSpace(cmd.String("window")); v != "" {
		w, err := parseWindow(v)
		if err != nil {
			return req, err
		}
		req.Window = &w
	}
	return req, nil
}

func parseWindow(s string) (raster.Window, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return raster.Window{}, fmt.Errorf("window %q must be col,row,cols,rows", s)
	}
	var v [4]int
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return raster.Window{}, fmt.Errorf("window %q: %w", s, err)
		}
		v[i] = n
	}
	w := raster.Window{ColOff: v[0], RowOff: v[1], Cols: v[2], Rows: v[3]}
	if w.ColOff < 0 || w.RowOff < 0 || w.Cols <= 0 || w.Rows <= 0 {
		return raster.Window{}, fmt.Errorf("window %q is empty or negative", s)
	}
	return w, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatFloat(f float64) string {
	if f == 0 {
		return ""
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func formatExtent(b []float64) string {
	if len(b) != 4 {
		return ""
	}
	return fmt.Sprintf("%g %g %g %g", b[0], b[1], b[2], b[3])
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func trimStrings(values []string) []string {
	var result []string
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
