// Package registry maps named collections to the server-side filter
// expressions that scope them.
package registry

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Collection is a named remote dataset to harvest. Immutable for a run.
type Collection struct {
	// Name identifies the collection.
	Name string `yaml:"name"`

	// Filter is the server-side scoping expression (extra_filter).
	Filter string `yaml:"filter"`

	// Field optionally overrides the segmentation field for this collection.
	Field string `yaml:"field,omitempty"`
}

type registryFile struct {
	Collections []Collection `yaml:"collections"`
}

// Registry holds the known collections.
type Registry struct {
	byName map[string]Collection
}

// New builds a registry from a list of collections.
func New(collections []Collection) (*Registry, error) {
	byName := make(map[string]Collection, len(collections))
	for _, col := range collections {
		if col.Name == "" {
			return nil, fmt.Errorf("collection name is required")
		}
		if col.Filter == "" {
			return nil, fmt.Errorf("collection %q: filter is required", col.Name)
		}
		if _, exists := byName[col.Name]; exists {
			return nil, fmt.Errorf("duplicate collection %q", col.Name)
		}
		byName[col.Name] = col
	}
	return &Registry{byName: byName}, nil
}

// LoadFile reads a YAML registry file.
//
// Format:
//
//	collections:
//	  - name: Demo
//	    filter: 'collection:"Demo"'
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if len(file.Collections) == 0 {
		return nil, fmt.Errorf("registry %s defines no collections", path)
	}

	return New(file.Collections)
}

// Names returns all registered collection names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get looks up one collection by name.
func (r *Registry) Get(name string) (Collection, bool) {
	col, ok := r.byName[name]
	return col, ok
}

// Select resolves a list of requested names. The single name "all" selects
// every registered collection.
func (r *Registry) Select(names []string) ([]Collection, error) {
	if len(names) == 1 && names[0] == "all" {
		names = r.Names()
	}

	collections := make([]Collection, 0, len(names))
	for _, name := range names {
		col, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown collection %q (known: %v)", name, r.Names())
		}
		collections = append(collections, col)
	}
	return collections, nil
}
