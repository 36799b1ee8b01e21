package document

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// ErrRegistryConflict is returned when two descriptors claim the same format or glob.
var ErrRegistryConflict = errors.New("backend registry conflict")

// Descriptor declares a backend: its format name, the filename globs it claims,
// its capabilities and a constructor for fresh instances.
type Descriptor struct {
	Format       string
	Name         string
	Extensions   []string // Globs such as "*.fb2.zip".
	Capabilities Capability
	New          func() Backend
}

// Registry is an explicit, ordered table of backends. Lookups are first match in
// registration order.
type Registry struct {
	mu    sync.RWMutex
	descs []*Descriptor
	globs map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{globs: make(map[string]string)}
}

// Register appends d. A format or glob already claimed is a configuration error.
func (r *Registry) Register(d Descriptor) error {
	if d.Format == "" || d.New == nil {
		return fmt.Errorf("register %q: descriptor needs a format and a constructor", d.Format)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.descs {
		if existing.Format == d.Format {
			return fmt.Errorf("%w: format %q registered twice", ErrRegistryConflict, d.Format)
		}
	}
	globs := make([]string, len(d.Extensions))
	for i, g := range d.Extensions {
		g = strings.ToLower(g)
		if _, err := filepath.Match(g, ""); err != nil {
			return fmt.Errorf("register %q: bad glob %q: %w", d.Format, g, err)
		}
		if owner, ok := r.globs[g]; ok {
			return fmt.Errorf("%w: %q claimed by %q and %q", ErrRegistryConflict, g, owner, d.Format)
		}
		globs[i] = g
	}
	for _, g := range globs {
		r.globs[g] = d.Format
	}
	d.Extensions = globs
	r.descs = append(r.descs, &d)
	return nil
}

// MustRegister is Register for static tables.
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Lookup returns the descriptor for format.
func (r *Registry) Lookup(format string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.descs {
		if d.Format == format {
			return d, true
		}
	}
	return nil, false
}

// FormatForSuffix matches a dotted suffix like ".fb2.zip" against every glob in
// registration order.
func (r *Registry) FormatForSuffix(suffix string) (string, bool) {
	suffix = strings.ToLower(suffix)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.descs {
		for _, g := range d.Extensions {
			if ok, _ := filepath.Match(strings.TrimPrefix(g, "*"), suffix); ok {
				return d.Format, true
			}
		}
	}
	return "", false
}

// Formats lists registered formats in priority order.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.descs))
	for i, d := range r.descs {
		out[i] = d.Format
	}
	return out
}

// Descriptors returns copies of the registered descriptors in priority order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, len(r.descs))
	for i, d := range r.descs {
		out[i] = *d
	}
	return out
}
