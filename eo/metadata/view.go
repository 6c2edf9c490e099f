// Package metadata defines the path-queryable view over a parsed product
// metadata tree, with generic adapters for XML, JSON and flat key/value maps.
//
// Paths are slash-separated element names ("General_Info/Product_Info/PRODUCT_TYPE").
// A trailing "@name" segment selects an attribute of the matched element.
package metadata

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMissing is returned by the typed helpers when a path resolves to nothing.
var ErrMissing = errors.New("metadata: missing field")

// View is a typed, path-queryable accessor over a parsed metadata tree.
type View interface {
	// FindText returns the text of the first node matching path.
	FindText(path string) (string, bool)
	// FindAll returns the text of every node matching path, in document order.
	FindAll(path string) []string
	// Attribute returns a root-level attribute.
	Attribute(name string) (string, bool)
}

// Text returns the trimmed text at path or ErrMissing.
func Text(v View, path string) (string, error) {
	s, ok := v.FindText(path)
	s = strings.TrimSpace(s)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s", ErrMissing, path)
	}
	return s, nil
}

// Float parses the number at path.
func Float(v View, path string) (float64, error) {
	s, err := Text(v, path)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("metadata: %s: %w", path, err)
	}
	return f, nil
}

// Floats parses every number matching path. Whitespace-separated lists in a
// single node are split.
func Floats(v View, path string) ([]float64, error) {
	var out []float64
	for _, s := range v.FindAll(path) {
		for _, field := range strings.Fields(s) {
			f, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("metadata: %s: %w", path, err)
			}
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissing, path)
	}
	return out, nil
}

// Int parses the integer at path.
func Int(v View, path string) (int, error) {
	s, err := Text(v, path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("metadata: %s: %w", path, err)
	}
	return n, nil
}

// Time parses the timestamp at path, accepting the layouts seen in delivery metadata.
func Time(v View, path string) (time.Time, error) {
	s, err := Text(v, path)
	if err != nil {
		return time.Time{}, err
	}
	t := ParseTime(s)
	if t.IsZero() {
		return time.Time{}, fmt.Errorf("metadata: %s: unparseable time %q", path, s)
	}
	return t, nil
}

// ParseTime parses s with the common acquisition-time layouts. It returns the
// zero time when no layout matches.
func ParseTime(s string) time.Time {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"20060102T150405",
		"2006-01-02",
	}
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func splitPath(path string) (elems []string, attr string) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, ""
	}
	parts := strings.Split(path, "/")
	if last := parts[len(parts)-1]; strings.HasPrefix(last, "@") {
		return parts[:len(parts)-1], last[1:]
	}
	return parts, ""
}
