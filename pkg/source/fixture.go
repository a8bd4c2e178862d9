package source

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed portfolio.yaml
var sampleFixture []byte

// Sample returns a Memory store loaded with the bundled portfolio dataset.
func Sample() (*Memory, error) {
	return ParseFixture(sampleFixture, "yaml")
}

// LoadFixture reads a fixture file mapping table names to row lists.
// ".json" files are decoded as JSON, everything else as YAML.
func LoadFixture(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}

	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	return ParseFixture(data, format)
}

// ParseFixture decodes fixture data in the given format ("yaml" or "json").
func ParseFixture(data []byte, format string) (*Memory, error) {
	tables := make(map[string][]map[string]any)

	switch strings.ToLower(format) {
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&tables); err != nil {
			return nil, fmt.Errorf("failed to parse JSON fixture: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &tables); err != nil {
			return nil, fmt.Errorf("failed to parse YAML fixture: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown fixture format: %s", format)
	}

	return NewMemory(tables), nil
}
