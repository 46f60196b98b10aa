package fields

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_fields.yaml
var defaultCatalogYAML []byte

// Field is one piece of metadata the model is asked for.
type Field struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Aliases     []string `yaml:"aliases"`
}

// Catalog lists the fields to extract and maps model keys back to them.
type Catalog struct {
	Fields []Field `yaml:"fields"`

	aliases map[string]string // normalized alias -> field name
}

// DefaultCatalog returns the built-in certificate catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded field catalog: %v", err))
	}
	return c
}

// LoadCatalog reads a YAML catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	const op = "LoadCatalog"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewFieldError(op, ErrInvalidCatalog, err.Error())
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, NewFieldError(op, err, path)
	}
	return c, nil
}

// ParseCatalog decodes a YAML catalog and indexes its aliases.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if len(c.Fields) == 0 {
		return nil, fmt.Errorf("%w: no fields defined", ErrInvalidCatalog)
	}

	seen := make(map[string]bool)
	c.aliases = make(map[string]string)
	for i, f := range c.Fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: field %d has no name", ErrInvalidCatalog, i+1)
		}
		if seen[strings.ToLower(name)] {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrInvalidCatalog, name)
		}
		seen[strings.ToLower(name)] = true
		c.Fields[i].Name = name

		for _, a := range append([]string{name}, f.Aliases...) {
			a = normalizeKey(a)
			if a == "" {
				continue
			}
			if other, ok := c.aliases[a]; ok && other != name {
				return nil, fmt.Errorf("%w: alias %q used by %q and %q", ErrInvalidCatalog, a, other, name)
			}
			c.aliases[a] = name
		}
	}

	return &c, nil
}

// Names returns the field names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		names[i] = f.Name
	}
	return names
}

// Canonical maps a key returned by the model to a catalog field name when the
// key equals the field name or one of its aliases, ignoring case, underscores,
// hyphens and repeated spaces. Other keys are returned trimmed but otherwise
// unchanged.
func (c *Catalog) Canonical(key string) string {
	key = strings.TrimSpace(key)
	if field, ok := c.aliases[normalizeKey(key)]; ok {
		return field
	}
	return key
}

var keySeparators = strings.NewReplacer("_", " ", "-", " ")

func normalizeKey(key string) string {
	return strings.Join(strings.Fields(strings.ToLower(keySeparators.Replace(key))), " ")
}

// Schema returns the JSON schema the model's answer must satisfy: one flat
// object of scalar values.
func (c *Catalog) Schema() []byte {
	props := make(map[string]any, len(c.Fields))
	for _, f := range c.Fields {
		props[f.Name] = map[string]any{"type": scalarTypes, "description": f.Description}
	}
	schema := map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"minProperties":        1,
		"properties":           props,
		"additionalProperties": map[string]any{"type": scalarTypes},
	}
	b, _ := json.Marshal(schema)
	return b
}

var scalarTypes = []string{"string", "number", "integer", "boolean", "null"}
