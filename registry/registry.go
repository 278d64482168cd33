// Package registry holds the static catalog of monitored sources.
package registry

import (
	"comicwatch/fetch"
	"errors"
	"fmt"
	"regexp"
)

// ErrSourceNotFound is returned by Lookup for an unknown slug.
var ErrSourceNotFound = errors.New("source not found")

var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Source is one monitored content provider.
type Source struct {
	Adapter     fetch.Adapter
	ID          string // Unique slug
	DisplayName string
}

// Registry is an ordered, immutable set of sources.
type Registry struct {
	byID    map[string]Source
	sources []Source
}

// New builds a registry. Order is preserved and defines poll order.
func New(sources ...Source) (*Registry, error) {
	r := &Registry{
		byID:    make(map[string]Source, len(sources)),
		sources: make([]Source, 0, len(sources)),
	}
	for _, s := range sources {
		if !slugRegex.MatchString(s.ID) {
			return nil, fmt.Errorf("invalid source slug %q", s.ID)
		}
		if s.Adapter == nil {
			return nil, fmt.Errorf("source %q has no adapter", s.ID)
		}
		if _, dup := r.byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate source slug %q", s.ID)
		}
		r.byID[s.ID] = s
		r.sources = append(r.sources, s)
	}
	return r, nil
}

// List returns the sources in catalog order.
func (r *Registry) List() []Source {
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// Lookup finds a source by slug.
func (r *Registry) Lookup(slug string) (Source, error) {
	s, ok := r.byID[slug]
	if !ok {
		return Source{}, fmt.Errorf("%w: %q", ErrSourceNotFound, slug)
	}
	return s, nil
}
