// Package band maps logical band identities to the physical channels shipped
// in a product's raw files.
package band

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/example/go-eonorm/eo/eoerr"
)

// Polarization enumerates SAR polarization codes.
type Polarization string

const (
	PolarizationHH Polarization = "HH"
	PolarizationHV Polarization = "HV"
	PolarizationVV Polarization = "VV"
	PolarizationVH Polarization = "VH"
)

// Combination names the set and order of channels a product variant ships,
// e.g. "MS", "PAN", "PMS" or "VV_VH".
type Combination string

// Spectral carries the centre wavelength and bandwidth in nanometres.
type Spectral struct {
	CenterNM float64 `yaml:"center_nm"`
	WidthNM  float64 `yaml:"width_nm"`
}

// Descriptor is one logical band.
type Descriptor struct {
	Name string
	// File is the raw-file key substituted for {file} in path templates.
	File string
	// Channel is the 1-based channel inside that file.
	Channel int
	// GSD is the native ground sample distance in metres; 0 means the product default.
	GSD          float64
	Spectral     *Spectral
	Polarization Polarization
}

// Registry is the ordered logical-name → descriptor mapping of one product.
// It is filled by a single Map call and read-only afterwards.
type Registry struct {
	mu          sync.RWMutex
	combination Combination
	defaultGSD  float64
	names       []string
	entries     map[string]Descriptor
}

// NewRegistry returns an empty registry whose descriptors default to gsd.
func NewRegistry(defaultGSD float64) *Registry {
	return &Registry{defaultGSD: defaultGSD}
}

// Map installs the complete set of descriptors for one band combination.
// It fails without side effects when called twice or with an invalid set.
func (r *Registry) Map(comb Combination, descs []Descriptor) error {
	if len(descs) == 0 {
		return fmt.Errorf("band: combination %q has no bands", comb)
	}
	entries := make(map[string]Descriptor, len(descs))
	names := make([]string, 0, len(descs))
	for _, d := range descs {
		if d.Name == "" {
			return fmt.Errorf("band: combination %q contains an unnamed band", comb)
		}
		if d.Channel <= 0 {
			return fmt.Errorf("band: %s: channel must be positive, got %d", d.Name, d.Channel)
		}
		if d.GSD < 0 {
			return fmt.Errorf("band: %s: negative GSD", d.Name)
		}
		if _, dup := entries[d.Name]; dup {
			return fmt.Errorf("band: duplicate band %s in combination %q", d.Name, comb)
		}
		entries[d.Name] = d
		names = append(names, d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries != nil {
		return fmt.Errorf("band: registry already mapped to combination %q", r.combination)
	}
	r.combination = comb
	r.entries = entries
	r.names = names
	return nil
}

// Mapped reports whether Map has succeeded.
func (r *Registry) Mapped() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries != nil
}

// Combination returns the mapped band combination.
func (r *Registry) Combination() Combination {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.combination
}

// Get returns the descriptor for name or an *eoerr.InvalidBandError.
func (r *Registry) Get(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entries[name]
	if !ok {
		reason := "not mapped"
		if r.entries != nil {
			reason = fmt.Sprintf("not part of combination %q", r.combination)
		}
		return Descriptor{}, &eoerr.InvalidBandError{Band: name, Reason: reason}
	}
	return d, nil
}

// Has reports whether name is mapped.
func (r *Registry) Has(name string) bool {
	_, err := r.Get(name)
	return err == nil
}

// Names returns the mapped logical names in insertion order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.names...)
}

// NativeGSD reports the native GSD of name; it never implies resampling.
func (r *Registry) NativeGSD(name string) (float64, error) {
	d, err := r.Get(name)
	if err != nil {
		return 0, err
	}
	if d.GSD > 0 {
		return d.GSD, nil
	}
	return r.defaultGSD, nil
}

// DefaultGSD returns the product default GSD.
func (r *Registry) DefaultGSD() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultGSD
}

// Resolutions returns the distinct native GSDs present, ascending.
func (r *Registry) Resolutions() []float64 {
	seen := map[float64]struct{}{}
	for _, name := range r.Names() {
		gsd, _ := r.NativeGSD(name)
		seen[gsd] = struct{}{}
	}
	out := make([]float64, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Float64s(out)
	return out
}

// ChannelCounter reports how many channels a raw file holds.
type ChannelCounter interface {
	Channels(ctx context.Context, path string) (int, error)
}

// Verify checks that every mapped descriptor resolves to a channel present in
// its raw file.
func (r *Registry) Verify(ctx context.Context, layout Layout, counter ChannelCounter) error {
	var problems []string
	counts := map[string]int{}
	for _, name := range r.Names() {
		d, _ := r.Get(name)
		path, err := r.ResolvePath(name, layout)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		n, ok := counts[path]
		if !ok {
			n, err = counter.Channels(ctx, path)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", name, err))
				continue
			}
			counts[path] = n
		}
		if d.Channel > n {
			problems = append(problems, fmt.Sprintf("%s: channel %d not in %s (%d channels)", name, d.Channel, path, n))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("band: registry verification failed: %s", strings.Join(problems, "; "))
	}
	return nil
}
