package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/example/go-eonorm/config"
	"github.com/example/go-eonorm/eo/sensor"
	"github.com/example/go-eonorm/internal/logging"
	"github.com/example/go-eonorm/internal/observability"
)

func main() {
	root := &cli.Command{
		Name:    "eonorm",
		Usage:   "Normalize Earth-observation product deliveries into georeferenced, calibrated rasters",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a YAML configuration file",
				Aliases: []string{"c"},
				Sources: cli.EnvVars("EONORM_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Override log.level (debug, info, warn, error)",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Override log.format (text or json)",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.BoolFlag{
				Name:  "trace",
				Usage: "Print band pipeline spans to stderr",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address while running",
			},
		},
		Commands: []*cli.Command{
			newProfilesCommand(),
			newInspectCommand(),
			newProcessCommand(),
			newFetchCommand(),
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

// env is what every subcommand builds from the global flags.
type env struct {
	cfg     *config.Config
	log     logging.Logger
	metrics *observability.Metrics
	catalog *sensor.Catalog
	close   func(context.Context)
}

func setup(ctx context.Context, cmd *cli.Command) (*env, error) {
	root := cmd.Root()
	cfg := config.DefaultConfig()
	if path := strings.TrimSpace(root.String("config")); path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if v := root.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := root.String("log-format"); v != "" {
		cfg.Log.Format = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, log: logging.New(cfg.Logging()), close: func(context.Context) {}}

	catalog, err := sensor.Builtin()
	if err != nil {
		return nil, err
	}
	for _, path := range cfg.Profiles {
		if err := catalog.LoadFile(path); err != nil {
			return nil, err
		}
	}
	e.catalog = catalog

	reg := prometheus.NewRegistry()
	if e.metrics, err = observability.NewMetrics(reg); err != nil {
		return nil, err
	}
	var closers []func(context.Context)
	if addr := strings.TrimSpace(root.String("metrics-addr")); addr != "" {
		srv := &http.Server{Addr: addr, Handler: e.metrics.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.log.Error(ctx, "metrics server stopped", logging.Err(err))
			}
		}()
		closers = append(closers, func(ctx context.Context) { srv.Shutdown(ctx) })
	}
	if root.Bool("trace") {
		shutdown, err := observability.InstallStdoutTracing(os.Stderr)
		if err != nil {
			return nil, err
		}
		closers = append(closers, func(ctx context.Context) {
			if err := shutdown(ctx); err != nil {
				e.log.Warn(ctx, "trace flush failed", logging.Err(err))
			}
		})
	}
	e.close = func(ctx context.Context) {
		for _, c := range closers {
			c(ctx)
		}
	}
	return e, nil
}

func newProfilesCommand() *cli.Command {
	return &cli.Command{
		Name:  "profiles",
		Usage: "List the known constellation profiles",
		Flags: []cli.Flag{outputFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.close(ctx)

			type row struct {
				Name        string `json:"name"`
				Family      string `json:"family"`
				Geocoding   string `json:"geocoding"`
				Description string `json:"description,omitempty"`
			}
			var rows []row
			for _, name := range e.catalog.Names() {
				def, _ := e.catalog.Definition(name)
				rows = append(rows, row{Name: name, Family: def.Family, Geocoding: geocodingKind(def), Description: def.Description})
			}

			switch output := outputFormat(cmd); output {
			case "json":
				return writeJSON(os.Stdout, rows)
			case "text":
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tFAMILY\tGEOCODING\tDESCRIPTION")
				for _, r := range rows {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, r.Family, r.Geocoding, r.Description)
				}
				return tw.Flush()
			default:
				return fmt.Errorf("unsupported output format %q", output)
			}
		},
	}
}

func geocodingKind(def sensor.Definition) string {
	if def.Geocoding.Kind == "" {
		return sensor.GeocodingNative
	}
	return def.Geocoding.Kind
}

func outputFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "output",
		Usage: "Output format (text or json)",
		Value: "text",
	}
}

func outputFormat(cmd *cli.Command) string {
	return strings.ToLower(strings.TrimSpace(cmd.String("output")))
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
