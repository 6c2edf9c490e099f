package sensor

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/example/go-eonorm/eo"
	"github.com/example/go-eonorm/eo/eoerr"
)

//go:embed profiles/*.yaml
var builtinFS embed.FS

// Catalog holds named profile definitions.
type Catalog struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{defs: make(map[string]Definition)}
}

// Builtin returns a catalog of the embedded profiles.
func Builtin() (*Catalog, error) {
	c := NewCatalog()
	files, err := fs.Glob(builtinFS, "profiles/*.yaml")
	if err != nil {
		return nil, err
	}
	for _, name := range files {
		data, err := builtinFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("sensor: read %s: %w", name, err)
		}
		def, err := ParseBytes(data)
		if err != nil {
			return nil, fmt.Errorf("sensor: %s: %w", name, err)
		}
		if err := c.Add(def); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add validates def and registers it, replacing a profile of the same name.
func (c *Catalog) Add(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defs[def.Name] = def
	return nil
}

// LoadFile adds the definition stored at path.
func (c *Catalog) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("sensor: open profile: %w", err)
	}
	defer f.Close()
	def, err := Parse(f)
	if err != nil {
		return fmt.Errorf("sensor: %s: %w", filepath.Base(path), err)
	}
	return c.Add(def)
}

// Names lists the registered profiles, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.defs))
	for name := range c.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definition returns the definition registered under name.
func (c *Catalog) Definition(name string) (Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[name]
	return def, ok
}

// Profile compiles the definition registered under name.
func (c *Catalog) Profile(name string, opts ...Option) (eo.Profile, error) {
	def, ok := c.Definition(name)
	if !ok {
		return eo.Profile{}, fmt.Errorf("sensor: unknown profile %q", name)
	}
	return Compile(def, opts...)
}

// Detect compiles the first profile, in name order, whose naming pattern
// recognises path.
func (c *Catalog) Detect(path string, opts ...Option) (eo.Profile, error) {
	for _, name := range c.Names() {
		def, _ := c.Definition(name)
		id, err := newIdentifier(def)
		if err != nil {
			return eo.Profile{}, err
		}
		if id.Matches(path) {
			return Compile(def, opts...)
		}
	}
	return eo.Profile{}, eoerr.Product(filepath.Base(path), "no profile recognises the product name", nil)
}
