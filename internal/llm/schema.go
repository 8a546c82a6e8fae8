package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"

	"github.com/spigell/career-sync/internal/errs"
)

// Schema is a named JSON schema used both to request structured output and
// to validate what comes back.
type Schema struct {
	Name        string
	Description string
	Definition  *jsonschema.Schema

	once     sync.Once
	compiled *gojsonschema.Schema
	err      error
}

func NewSchema(name, description string, definition *jsonschema.Schema) *Schema {
	definition.Version = ""
	definition.ID = ""
	return &Schema{Name: name, Description: description, Definition: definition}
}

// GenerateSchema reflects T into a closed, inlined schema.
func GenerateSchema[T any](name, description string) *Schema {
	return NewSchema(name, description, Reflect[T]())
}

// Reflect builds the JSON schema of T without $ref indirections.
func Reflect[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	s := reflector.Reflect(v)
	s.Version = ""
	s.ID = ""
	return s
}

// JSON renders the schema definition.
func (s *Schema) JSON() ([]byte, error) {
	return json.Marshal(s.Definition)
}

// strictUnsupported lists keywords rejected by strict structured-output
// modes. They are still enforced by Validate.
var strictUnsupported = map[string]bool{
	"maxLength": true,
	"minLength": true,
	"$schema":   true,
	"$id":       true,
}

// StrictDefinition renders the schema for providers with a strict
// structured-output mode: unsupported keywords are dropped and oneOf
// becomes anyOf.
func (s *Schema) StrictDefinition() (map[string]any, error) {
	raw, err := s.JSON()
	if err != nil {
		return nil, err
	}
	var def map[string]any
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, err
	}
	return strictify(def).(map[string]any), nil
}

func strictify(node any) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, child := range v {
			if strictUnsupported[key] {
				continue
			}
			if key == "oneOf" {
				key = "anyOf"
			}
			out[key] = strictify(child)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = strictify(child)
		}
		return out
	default:
		return v
	}
}

// Validate checks raw against the schema.
func (s *Schema) Validate(raw []byte) error {
	s.once.Do(func() {
		s.compiled, s.err = gojsonschema.NewSchema(gojsonschema.NewGoLoader(s.Definition))
	})
	if s.err != nil {
		return fmt.Errorf("compiling schema %q: %w", s.Name, s.err)
	}

	result, err := s.compiled.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return &errs.SchemaViolationError{Schema: s.Name, Problems: []string{err.Error()}, Raw: string(raw)}
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return &errs.SchemaViolationError{Schema: s.Name, Problems: problems, Raw: string(raw)}
}

// Decode validates raw and unmarshals it into out.
func (s *Schema) Decode(raw []byte, out any) error {
	if err := s.Validate(raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &errs.SchemaViolationError{Schema: s.Name, Problems: []string{err.Error()}, Raw: string(raw)}
	}
	return nil
}

// ExtractJSON strips markdown fences and surrounding prose from a model reply.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}
	closing := byte('}')
	if text[start] == '[' {
		closing = ']'
	}
	end := strings.LastIndexByte(text, closing)
	if end < start {
		return text
	}
	return text[start : end+1]
}
