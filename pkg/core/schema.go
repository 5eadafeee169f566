package core

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"
)

// Schema wraps a JSON Schema document compiled once for repeated instance
// validation. A nil *Schema accepts everything, so capabilities may omit
// input or output contracts.
type Schema struct {
	raw      []byte
	doc      map[string]any
	compiled *jsonschema.Schema
}

// CompileSchema compiles a raw JSON Schema document.
func CompileSchema(raw []byte) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiled, err := compiler.Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse schema document: %w", err)
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return &Schema{raw: cp, doc: doc, compiled: compiled}, nil
}

// Validate checks an instance against the schema.
func (s *Schema) Validate(data any) error {
	if s == nil {
		return nil
	}
	result := s.compiled.Validate(data)
	if !result.IsValid() {
		return fmt.Errorf("%s", result.Error())
	}
	return nil
}

// Required lists the top-level required property names, if declared.
func (s *Schema) Required() []string {
	if s == nil {
		return nil
	}
	req, ok := s.doc["required"].([]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(req))
	for _, r := range req {
		if name, ok := r.(string); ok {
			names = append(names, name)
		}
	}
	return names
}

// Raw returns a copy of the original schema document.
func (s *Schema) Raw() []byte {
	if s == nil {
		return nil
	}
	cp := make([]byte, len(s.raw))
	copy(cp, s.raw)
	return cp
}
