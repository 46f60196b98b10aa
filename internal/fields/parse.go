package fields

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"certextract/pkg/models"
)

// Parser turns a raw model answer into metadata keyed by catalog field names.
type Parser struct {
	catalog *Catalog
	schema  *jsonschema.Schema
}

// NewParser compiles the catalog schema once.
func NewParser(catalog *Catalog) (*Parser, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("fields.json", bytes.NewReader(catalog.Schema())); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile("fields.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Parser{catalog: catalog, schema: schema}, nil
}

// Parse reads a JSON object from raw and falls back to "Key: Value" lines
// when raw is not JSON.
func (p *Parser) Parse(raw string) (models.ExtractedMetadata, error) {
	const op = "Parse"

	body := stripFences(raw)
	if body == "" {
		return nil, NewFieldError(op, ErrInvalidResponse, "empty response")
	}

	var entries []entry
	if obj, ok := decodeObject(body); ok {
		if err := p.schema.Validate(obj); err != nil {
			return nil, NewFieldError(op, ErrInvalidResponse, err.Error())
		}
		for k, v := range obj {
			entries = append(entries, entry{key: k, value: scalarString(v)})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
	} else {
		for _, line := range strings.Split(body, "\n") {
			if k, v, ok := splitLine(line); ok {
				entries = append(entries, entry{key: k, value: v})
			}
		}
	}

	meta := p.assemble(entries)
	if len(meta) == 0 {
		return nil, NewFieldError(op, ErrInvalidResponse, "no fields found in response")
	}
	return meta, nil
}

type entry struct {
	key   string
	value string
}

// assemble maps entries onto catalog field names. Keys already spelled as a
// field name claim it before alias spellings. When an alias collides with a
// field that already holds a value, the alias key is kept as returned.
func (p *Parser) assemble(entries []entry) models.ExtractedMetadata {
	meta := make(models.ExtractedMetadata, len(entries))
	origin := make(map[string]string, len(entries))

	sort.SliceStable(entries, func(i, j int) bool {
		return !p.isAlias(entries[i].key) && p.isAlias(entries[j].key)
	})

	for _, e := range entries {
		key := strings.TrimSpace(e.key)
		if key == "" {
			continue
		}
		field := p.catalog.Canonical(key)

		prev, taken := meta[field]
		switch {
		case !taken:
			meta[field] = e.value
			origin[field] = key
		case isPlaceholder(prev) && !isPlaceholder(e.value):
			if from := origin[field]; from != field {
				if _, ok := meta[from]; !ok {
					meta[from] = prev
				}
			}
			meta[field] = e.value
			origin[field] = key
		case key != field:
			if _, ok := meta[key]; !ok {
				meta[key] = e.value
			}
		}
	}
	return meta
}

func (p *Parser) isAlias(key string) bool {
	key = strings.TrimSpace(key)
	return p.catalog.Canonical(key) != key
}

func isPlaceholder(v string) bool {
	return v == "" || v == NotFound
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		// drop the language tag
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			s = ""
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// decodeObject decodes body as a JSON object. A single nested object such as
// {"metadata": {...}} is unwrapped.
func decodeObject(body string) (map[string]any, bool) {
	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end <= start {
		return nil, false
	}

	dec := json.NewDecoder(strings.NewReader(body[start : end+1]))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, false
	}

	if len(obj) == 1 {
		for _, v := range obj {
			if inner, ok := v.(map[string]any); ok {
				return inner, true
			}
		}
	}
	return obj, true
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

var lineSeparators = []string{" - ", ": ", "- "}

func splitLine(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	line = strings.TrimLeft(line, "-*• ")
	if line == "" {
		return "", "", false
	}
	for _, sep := range lineSeparators {
		if k, v, ok := strings.Cut(line, sep); ok {
			k = strings.Trim(strings.TrimSpace(k), `*"`)
			v = strings.Trim(strings.TrimSpace(v), `",`)
			if k != "" && v != "" {
				return k, v, true
			}
		}
	}
	return "", "", false
}
