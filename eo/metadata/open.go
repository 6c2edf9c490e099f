package metadata

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Format names a metadata document encoding.
type Format string

const (
	FormatXML      Format = "xml"
	FormatJSON     Format = "json"
	FormatKeyValue Format = "keyvalue"
)

// FormatFor guesses the format from a file extension.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".geojson":
		return FormatJSON
	case ".txt", ".mtl", ".met":
		return FormatKeyValue
	default:
		return FormatXML
	}
}

// Open parses the document at path with the given format; an empty format is
// guessed from the extension.
func Open(path string, format Format) (View, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("metadata: open: %w", err)
	}
	defer f.Close()
	if format == "" {
		format = FormatFor(path)
	}
	switch format {
	case FormatXML:
		return ParseXML(f)
	case FormatJSON:
		return ParseJSON(f)
	case FormatKeyValue:
		return ParseKeyValue(f)
	default:
		return nil, fmt.Errorf("metadata: unsupported format %q", format)
	}
}

// ParseKeyValue reads "KEY = VALUE" documents with nested
// "GROUP = NAME" / "END_GROUP = NAME" blocks. Keys are exposed as
// GROUP/SUBGROUP/KEY paths with surrounding quotes removed.
func ParseKeyValue(r io.Reader) (MapView, error) {
	out := MapView{}
	var groups []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || text == "END" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok {
			return nil, fmt.Errorf("metadata: line %d: expected KEY = VALUE", line)
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"`)
		switch key {
		case "GROUP":
			groups = append(groups, value)
		case "END_GROUP":
			if len(groups) == 0 || groups[len(groups)-1] != value {
				return nil, fmt.Errorf("metadata: line %d: unbalanced END_GROUP %s", line, value)
			}
			groups = groups[:len(groups)-1]
		default:
			path := strings.Join(append(append([]string(nil), groups...), key), "/")
			out[path] = append(out[path], value)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("metadata: read: %w", err)
	}
	if len(groups) != 0 {
		return nil, fmt.Errorf("metadata: unterminated group %s", groups[len(groups)-1])
	}
	return out, nil
}
