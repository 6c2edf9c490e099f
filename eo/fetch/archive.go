package fetch

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/example/go-eonorm/eo"
)

// ZipExtractor unpacks zipped deliveries.
type ZipExtractor struct{}

var _ eo.Extractor = ZipExtractor{}

// List returns the entry names of archive.
func (ZipExtractor) List(archive string) ([]string, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return nil, fmt.Errorf("fetch: open archive: %w", err)
	}
	defer zr.Close()
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names, nil
}

// Extract unpacks archive below dir and returns the product root: the single
// top-level directory of the archive when there is one, else the extraction
// directory itself. An archive extracted before is not unpacked again.
func (ZipExtractor) Extract(ctx context.Context, archive, dir string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(archive), filepath.Ext(archive))
	final := filepath.Join(dir, base)
	if _, err := os.Stat(final); err == nil {
		return productRoot(final)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("fetch: create extraction directory: %w", err)
	}

	zr, err := zip.OpenReader(archive)
	if err != nil {
		return "", fmt.Errorf("fetch: open archive: %w", err)
	}
	defer zr.Close()

	tmp := filepath.Join(dir, "."+base+"."+uuid.NewString()+".part")
	if err := os.Mkdir(tmp, 0o755); err != nil {
		return "", fmt.Errorf("fetch: create extraction directory: %w", err)
	}
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			os.RemoveAll(tmp)
			return "", err
		}
		if err := extractEntry(f, tmp); err != nil {
			os.RemoveAll(tmp)
			return "", err
		}
	}
	if err := os.Rename(tmp, final); err != nil {
		os.RemoveAll(tmp)
		if _, statErr := os.Stat(final); statErr == nil {
			return productRoot(final)
		}
		return "", fmt.Errorf("fetch: publish extraction: %w", err)
	}
	return productRoot(final)
}

func extractEntry(f *zip.File, dir string) error {
	target := filepath.Join(dir, filepath.FromSlash(f.Name))
	if rel, err := filepath.Rel(dir, target); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("fetch: archive entry %q escapes the extraction directory", f.Name)
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("fetch: create %s: %w", filepath.Dir(target), err)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("fetch: open entry %s: %w", f.Name, err)
	}
	defer rc.Close()
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("fetch: create %s: %w", target, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("fetch: extract %s: %w", f.Name, err)
	}
	return out.Close()
}

func productRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("fetch: read %s: %w", dir, err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}
