package classifier

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed tables.yaml
var defaultTablesYAML []byte

// Tables holds the keyword tables for every category.
type Tables struct {
	Intent   Category      `yaml:"intent"`
	Persona  Category      `yaml:"persona"`
	Emotion  Category      `yaml:"emotion"`
	Urgency  Category      `yaml:"urgency"`
	Language LanguageTable `yaml:"language"`
}

// Category is an ordered set of values with their keywords.
type Category struct {
	Default string  `yaml:"default"`
	Scale   float64 `yaml:"scale"`
	Values  []Value `yaml:"values"`
}

// Value is one classification outcome and the keywords that vote for it.
type Value struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// LanguageTable lists indicator words per supported language.
type LanguageTable struct {
	German  []string `yaml:"german"`
	English []string `yaml:"english"`
}

// DefaultTables returns the built-in keyword tables.
func DefaultTables() (Tables, error) {
	return LoadTables(bytes.NewReader(defaultTablesYAML))
}

// LoadTablesFile reads keyword tables from a YAML file.
func LoadTablesFile(path string) (Tables, error) {
	f, err := os.Open(path)
	if err != nil {
		return Tables{}, fmt.Errorf("open classifier tables: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadTables(f)
}

// LoadTables decodes and validates keyword tables.
func LoadTables(r io.Reader) (Tables, error) {
	var t Tables
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return Tables{}, fmt.Errorf("decode classifier tables: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Tables{}, err
	}
	return t, nil
}

// Validate checks that every category is usable.
func (t Tables) Validate() error {
	for name, c := range map[string]Category{
		"intent":  t.Intent,
		"persona": t.Persona,
		"emotion": t.Emotion,
		"urgency": t.Urgency,
	} {
		if c.Default == "" {
			return fmt.Errorf("%s default cannot be empty", name)
		}
		if c.Scale <= 0 {
			return fmt.Errorf("%s scale must be > 0", name)
		}
		seen := make(map[string]bool, len(c.Values))
		for _, v := range c.Values {
			if v.Name == "" {
				return fmt.Errorf("%s value name cannot be empty", name)
			}
			if seen[v.Name] {
				return fmt.Errorf("%s value %q declared twice", name, v.Name)
			}
			seen[v.Name] = true
		}
	}
	return nil
}
