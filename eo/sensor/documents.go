package sensor

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/example/go-eonorm/eo"
	"github.com/example/go-eonorm/eo/metadata"
)

// resolveFile finds rel below root. A rel holding glob metacharacters must
// match exactly one file; no match wraps fs.ErrNotExist.
func resolveFile(root, rel string) (string, error) {
	full := filepath.Join(root, filepath.FromSlash(rel))
	if !strings.ContainsAny(rel, "*?[{") {
		return full, nil
	}
	matches, err := doublestar.FilepathGlob(full)
	if err != nil {
		return "", fmt.Errorf("sensor: glob %q: %w", rel, err)
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("sensor: no file matches %q: %w", rel, fs.ErrNotExist)
	default:
		return "", fmt.Errorf("sensor: %d files match %q", len(matches), rel)
	}
}

// openDocument parses the metadata document matched by file below root.
func openDocument(root, file, format string) (metadata.View, error) {
	path, err := resolveFile(root, file)
	if err != nil {
		return nil, err
	}
	return metadata.Open(path, metadata.Format(format))
}

// document returns the main metadata of p when file is empty and otherwise
// the auxiliary document matched by file, parsed once per product.
func document(ctx context.Context, p *eo.Product, file, format string) (metadata.View, error) {
	if file == "" {
		return p.Metadata(ctx)
	}
	return eo.Cached(ctx, p, "doc:"+file, func(ctx context.Context) (metadata.View, error) {
		root, err := p.Root(ctx)
		if err != nil {
			return nil, err
		}
		return openDocument(root, file, format)
	})
}

// bandEntry is a band table row with its position.
type bandEntry struct {
	def   BandDef
	index int
}

func (b bandEntry) expand(s string) string {
	return strings.NewReplacer(
		"{band}", b.def.Name,
		"{file}", b.def.File,
		"{index}", strconv.Itoa(b.index),
		"{index1}", strconv.Itoa(b.index+1),
		"{pol}", strings.ToUpper(b.def.Polarization),
		"{pol_lower}", strings.ToLower(b.def.Polarization),
	).Replace(s)
}

func parseNumber(path, s string) (float64, error) {
	x, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("sensor: %s: %w", path, err)
	}
	return x, nil
}
