package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Loader reads cube definitions from an external source into a Schema.
// The core only calls it on demand; it never mutates the
// Schema it returns.
type Loader interface {
	Load() (*Schema, error)
}

// FileLoader loads a Document from a single YAML file on disk, the layout
// this module's cubecompile CLI and tests use.
type FileLoader struct {
	Path string
}

// NewFileLoader returns a Loader reading cube definitions from path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{Path: path}
}

// Load reads and parses the YAML document, then indexes it into a Schema.
func (l *FileLoader) Load() (*Schema, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("schema: reading %s: %w", l.Path, err)
	}
	return LoadBytes(data)
}

// LoadBytes parses a YAML document already in memory, used by tests that
// build schemas from inline literals.
func LoadBytes(data []byte) (*Schema, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("schema: parsing document: %w", err)
	}
	return New(doc)
}
