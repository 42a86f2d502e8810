package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("dataset not found")

var extensions = []string{".yaml", ".yml", ".json"}

type Loader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

func NewLoader(searchPaths []string) (*Loader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &Loader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

// Load finds name in the search paths and validates it. Names must not
// contain path separators.
func (l *Loader) Load(name string) (*Dataset, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return nil, fmt.Errorf("invalid dataset name %q", name)
	}

	// Cache-Check
	if cached, ok := l.cache.Load(name); ok {
		return cached.(*Dataset), nil
	}

	for _, searchPath := range l.searchPaths {
		for _, ext := range extensions {
			fullPath := filepath.Join(searchPath, name+ext)
			data, err := os.ReadFile(fullPath)
			if err != nil {
				continue
			}

			ds, err := l.Parse(data, ext)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", fullPath, err)
			}
			l.cache.Store(name, ds)
			return ds, nil
		}
	}

	return nil, fmt.Errorf("%w: %s (searched in: %v)", ErrNotFound, name, l.searchPaths)
}

// Parse decodes and validates a dataset. ext selects JSON or YAML.
func (l *Loader) Parse(data []byte, ext string) (*Dataset, error) {
	if ext != ".json" {
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
		// Schema arbeitet auf JSON-Werten
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert YAML: %w", err)
		}
		data = converted
	}

	if err := l.validator.Validate(data); err != nil {
		return nil, err
	}

	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}
	return &ds, nil
}

// List returns the names of all dataset files in the search paths.
func (l *Loader) List() ([]string, error) {
	seen := make(map[string]bool)
	var names []string

	for _, searchPath := range l.searchPaths {
		entries, err := os.ReadDir(searchPath)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", searchPath, err)
		}
		for _, e := range entries {
			ext := filepath.Ext(e.Name())
			name := strings.TrimSuffix(e.Name(), ext)
			if e.IsDir() || !isDatasetExt(ext) || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, nil
}

func (l *Loader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}

func isDatasetExt(ext string) bool {
	for _, e := range extensions {
		if e == ext {
			return true
		}
	}
	return false
}
