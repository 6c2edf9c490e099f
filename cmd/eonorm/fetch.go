package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/example/go-eonorm/eo/fetch"
	"github.com/example/go-eonorm/internal/logging"
)

func newFetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Stage a delivery from https:// or s3:// URLs, or from a JSON manifest",
		ArgsUsage: "<url>...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "manifest",
				Usage:   "Path or URL of a JSON delivery manifest",
				Aliases: []string{"m"},
			},
			&cli.StringFlag{
				Name:  "product",
				Usage: "Product name for URL arguments (default: first file name without extension)",
			},
			&cli.StringFlag{
				Name:    "dest",
				Usage:   "Destination directory",
				Aliases: []string{"d"},
				Value:   ".",
			},
			&cli.BoolFlag{
				Name:  "extract",
				Usage: "Unpack staged zip archives",
			},
			&cli.BoolFlag{
				Name:  "list",
				Usage: "List the entries of staged zip archives",
			},
			&cli.BoolFlag{
				Name:  "no-verify",
				Usage: "Skip checksum verification",
			},
		},
		Action: executeFetch,
	}
}

func executeFetch(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close(ctx)

	fc := e.cfg.Fetch
	opts := []fetch.Option{
		fetch.WithConcurrency(fc.Concurrency),
		fetch.WithUserAgent(fc.UserAgent),
		fetch.WithLogger(e.log),
		fetch.WithS3(fc.S3.Options()),
		fetch.WithProgress(func(p fetch.Progress) {
			if p.Total > 0 && p.Downloaded == p.Total {
				e.log.Debug(ctx, "file downloaded", logging.String("file", p.File), logging.Any("bytes", p.Total))
			}
		}),
	}
	if fc.Retries > 1 {
		opts = append(opts, fetch.WithRetries(fc.Retries, fc.RetryDelay))
	}
	if !fc.Verify || cmd.Bool("no-verify") {
		opts = append(opts, fetch.WithoutChecksum())
	}
	stager, err := fetch.New(opts...)
	if err != nil {
		return err
	}

	var d fetch.Delivery
	switch manifest := strings.TrimSpace(cmd.String("manifest")); {
	case manifest != "":
		if d, err = stager.LoadManifest(ctx, manifest); err != nil {
			return err
		}
	case cmd.NArg() > 0:
		urls := trimStrings(cmd.Args().Slice())
		product := strings.TrimSpace(cmd.String("product"))
		if product == "" {
			base := filepath.Base(urls[0])
			product = strings.TrimSuffix(base, filepath.Ext(base))
		}
		d = fetch.FromURLs(product, urls...)
	default:
		return errors.New("fetch needs URLs or --manifest")
	}

	paths, err := stager.Stage(ctx, d, cmd.String("dest"))
	if err != nil {
		return err
	}

	var x fetch.ZipExtractor
	for _, path := range paths {
		fmt.Fprintln(os.Stdout, path)
		if !strings.EqualFold(filepath.Ext(path), ".zip") {
			continue
		}
		if cmd.Bool("list") {
			names, err := x.List(path)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintf(os.Stdout, "  %s\n", name)
			}
		}
		if cmd.Bool("extract") {
			root, err := x.Extract(ctx, path, filepath.Dir(path))
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "  extracted to %s\n", root)
		}
	}
	return nil
}
