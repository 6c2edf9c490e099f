package sensor

import (
	"cmp"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/example/go-eonorm/eo"
)

type identifier struct {
	re     *regexp.Regexp
	def    IdentifyDef
	family eo.Family
}

func newIdentifier(def Definition) (*identifier, error) {
	re, err := regexp.Compile(def.Identify.Pattern)
	if err != nil {
		return nil, fmt.Errorf("sensor: %s: %w", def.Name, err)
	}
	return &identifier{re: re, def: def.Identify, family: eo.Family(def.Family)}, nil
}

// stripArchive removes a known archive extension from base.
func (id *identifier) stripArchive(base string) (string, bool) {
	lower := strings.ToLower(base)
	for _, ext := range id.def.Archives {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return base[:len(base)-len(ext)], true
		}
	}
	return base, false
}

// Identify implements eo.Identifier.
func (id *identifier) Identify(path string) (eo.Identity, eo.Flags, error) {
	base, archived := id.stripArchive(filepath.Base(filepath.Clean(path)))
	m := id.re.FindStringSubmatch(base)
	if m == nil {
		return eo.Identity{}, eo.Flags{}, fmt.Errorf("sensor: %q does not match %s", base, id.re)
	}
	group := func(name string) string {
		if i := id.re.SubexpIndex(name); i >= 0 {
			return m[i]
		}
		return ""
	}
	layout := id.def.TimeLayout
	if layout == "" {
		layout = eo.CondensedTimeLayout
	}
	acquired, err := time.Parse(layout, group("time"))
	if err != nil {
		return eo.Identity{}, eo.Flags{}, fmt.Errorf("sensor: %q: acquisition time: %w", base, err)
	}
	ident := eo.Identity{
		Name:          group("name"),
		Constellation: cmp.Or(group("constellation"), id.def.Constellation),
		Family:        id.family,
		ProductType:   cmp.Or(group("type"), id.def.ProductType),
		TileID:        group("tile"),
		Acquisition:   acquired.UTC(),
		Disambiguator: group("disambiguator"),
	}
	flags := eo.Flags{IsOrtho: id.def.Ortho, IsArchived: archived, NeedsExtraction: archived}
	return ident, flags, nil
}

// Matches reports whether path looks like a product of this profile.
func (id *identifier) Matches(path string) bool {
	base, _ := id.stripArchive(filepath.Base(filepath.Clean(path)))
	return id.re.MatchString(base)
}
