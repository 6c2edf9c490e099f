package band

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/example/go-eonorm/eo/eoerr"
)

// Layout describes where a product keeps its raw band files.
//
// Pattern placeholders: {root}, {res}, {file}, {channel}, {name}, {pol} and
// {pol_lower}. A pattern that still contains glob metacharacters after
// substitution is resolved against the filesystem and must match one file.
type Layout struct {
	Root    string
	Pattern string
	// ResolutionFormat renders {res} from the native GSD, e.g. "R%gm" → "R10m".
	ResolutionFormat string
}

// ResolvePath composes the raw-file path of name.
func (r *Registry) ResolvePath(name string, layout Layout) (string, error) {
	d, err := r.Get(name)
	if err != nil {
		return "", err
	}
	gsd, _ := r.NativeGSD(name)
	if layout.Pattern == "" {
		return "", fmt.Errorf("band: %s: layout has no path pattern", name)
	}
	if d.Polarization == "" && (strings.Contains(layout.Pattern, "{pol}") || strings.Contains(layout.Pattern, "{pol_lower}")) {
		return "", &eoerr.InvalidBandError{Band: name, Reason: "layout needs a polarization the band does not carry"}
	}

	resFormat := layout.ResolutionFormat
	if resFormat == "" {
		resFormat = "%gm"
	}
	replacer := strings.NewReplacer(
		"{root}", filepath.ToSlash(layout.Root),
		"{res}", fmt.Sprintf(resFormat, gsd),
		"{file}", d.File,
		"{channel}", strconv.Itoa(d.Channel),
		"{name}", d.Name,
		"{pol}", strings.ToUpper(string(d.Polarization)),
		"{pol_lower}", strings.ToLower(string(d.Polarization)),
	)
	pattern := replacer.Replace(layout.Pattern)
	if !hasMeta(pattern) {
		return filepath.FromSlash(pattern), nil
	}

	matches, err := doublestar.FilepathGlob(filepath.FromSlash(pattern))
	if err != nil {
		return "", fmt.Errorf("band: %s: glob %q: %w", name, pattern, err)
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", eoerr.Band("", name, fmt.Sprintf("no raw file matches %q", pattern), nil)
	default:
		return "", eoerr.Band("", name, fmt.Sprintf("%d raw files match %q", len(matches), pattern), nil)
	}
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}
