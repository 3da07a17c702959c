package core

import (
	"os"

	"github.com/vuuvv/errors"
	"gopkg.in/yaml.v3"
)

// Schema is the declarative part of a dissector: value-string tables and
// bitfield layouts. Each dissector owns one and parses it once when it is
// registered.
type Schema struct {
	ValueStrings map[string]ValueStrings `yaml:"value_strings"`
	Bitfields    map[string]*Bitfield    `yaml:"bitfields"`
}

func ParseSchema(data []byte) (*Schema, error) {
	schema := &Schema{}
	if err := yaml.Unmarshal(data, schema); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := schema.Setup(); err != nil {
		return nil, err
	}
	return schema, nil
}

func ParseSchemaFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return ParseSchema(data)
}

// MustParseSchema is for schemas embedded in dissector sources.
func MustParseSchema(data string) *Schema {
	schema, err := ParseSchema([]byte(data))
	if err != nil {
		panic(err)
	}
	return schema
}

func (s *Schema) Setup() error {
	for name, bf := range s.Bitfields {
		if bf.Name == "" {
			bf.Name = name
		}
		for _, d := range bf.Fields {
			if d.Values == "" {
				continue
			}
			table, ok := s.ValueStrings[d.Values]
			if !ok {
				return errors.Errorf("bitfield %s: value_strings '%s' not found", name, d.Values)
			}
			d.Table = table
		}
		if err := bf.Setup(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Schema) Bitfield(name string) *Bitfield {
	return s.Bitfields[name]
}

// Values returns the named table, or an empty one that renders every value as
// unknown.
func (s *Schema) Values(name string) ValueStrings {
	if v, ok := s.ValueStrings[name]; ok {
		return v
	}
	return ValueStrings{}
}
