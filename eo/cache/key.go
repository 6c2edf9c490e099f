// Package cache persists derived artifacts (processed bands, rasterized masks)
// under names computed from what produced them, so each one is built at most
// once per output location.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/example/go-eonorm/eo/radiometry"
	"github.com/example/go-eonorm/eo/raster"
)

// Kind selects the artifact family and its file extension.
type Kind string

const (
	KindRaster Kind = "raster"
	KindVector Kind = "vector"
)

// Ext returns the fixed extension of k.
func (k Kind) Ext() string {
	if k == KindVector {
		return ".geojson"
	}
	return ".tif"
}

// Key identifies an artifact. Two equal keys always name the same file.
type Key struct {
	// Product is the condensed product name.
	Product     string
	Band        string
	Resolution  float64
	Window      *raster.Window
	Cleaning    radiometry.CleaningMethod
	Reflectance bool
	Kind        Kind
}

// Validate rejects keys that cannot name a file.
func (k Key) Validate() error {
	switch {
	case k.Product == "":
		return errors.New("cache: key has no product")
	case k.Band == "":
		return errors.New("cache: key has no band")
	case k.Resolution <= 0:
		return fmt.Errorf("cache: key resolution must be positive, got %v", k.Resolution)
	case strings.ContainsAny(k.Product+k.Band, `/\`):
		return fmt.Errorf("cache: key %s/%s contains a path separator", k.Product, k.Band)
	}
	return nil
}

// ResolutionString renders a resolution for file names: 10 → "10m",
// 0.5 → "0-5m".
func ResolutionString(res float64) string {
	return strings.ReplaceAll(strconv.FormatFloat(res, 'f', -1, 64), ".", "-") + "m"
}

// WindowHash returns an 8-character digest of w.
func WindowHash(w raster.Window) string {
	sum := sha256.Sum256([]byte(w.Key()))
	return hex.EncodeToString(sum[:])[:8]
}

// FileName returns {product}_{band}_{res}[_{window}]_{cleaning}[_toa]{ext}.
func (k Key) FileName() string {
	cleaning := k.Cleaning
	if cleaning == "" {
		cleaning = radiometry.CleanNoData
	}
	parts := []string{k.Product, k.Band, ResolutionString(k.Resolution)}
	if k.Window != nil {
		parts = append(parts, WindowHash(*k.Window))
	}
	parts = append(parts, string(cleaning))
	if k.Reflectance {
		parts = append(parts, "toa")
	}
	return strings.Join(parts, "_") + k.Kind.Ext()
}
