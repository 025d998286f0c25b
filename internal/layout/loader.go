package layout

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Loader struct {
	validator *Validator
}

func NewLoader() (*Loader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &Loader{validator: validator}, nil
}

// Load reads a layout file.
func (l *Loader) Load(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("layout not found: %w", err)
	}

	layout, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid layout %s: %w", path, err)
	}
	return layout, nil
}

// Parse decodes and validates a YAML layout document.
func (l *Loader) Parse(data []byte) (*Layout, error) {
	// Schema-Validierung auf dem generischen Dokument
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert layout: %w", err)
	}
	if err := l.validator.Validate(raw); err != nil {
		return nil, err
	}

	var layout Layout
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("failed to unmarshal layout: %w", err)
	}

	if err := layout.check(); err != nil {
		return nil, err
	}

	return &layout, nil
}

// Load reads and validates the layout at path.
func Load(path string) (*Layout, error) {
	loader, err := NewLoader()
	if err != nil {
		return nil, err
	}
	return loader.Load(path)
}
