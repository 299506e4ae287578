// Package schema defines the structured-output tool schema types shared by all
// LLM provider clients, plus validation of returned parameters against a schema.
package schema

import (
	"fmt"
)

// Property describes one field of a tool input schema.
type Property struct {
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Enum        []string             `json:"enum,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`
}

// InputSchema is a JSON-schema-shaped object schema for tool parameters.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefinition declares a callable tool in Claude/OpenAI function-call format.
// Stage contracts use a single forced tool call to obtain schema-conforming output.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// Validate checks a tool-call parameter map against the schema. It verifies
// required fields, primitive types, enum membership, and recurses into arrays
// and nested objects. Unknown fields are tolerated.
func (s *InputSchema) Validate(params map[string]any) error {
	for _, name := range s.Required {
		if _, ok := params[name]; !ok {
			return fmt.Errorf("missing required field %q", name)
		}
	}
	for name, value := range params {
		prop, ok := s.Properties[name]
		if !ok {
			continue
		}
		if err := validateValue(name, &prop, value); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(path string, prop *Property, value any) error {
	if value == nil {
		// JSON null is accepted for optional values (e.g. probability).
		return nil
	}

	switch prop.Type {
	case "string":
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %q: expected string, got %T", path, value)
		}
		if len(prop.Enum) > 0 && !containsString(prop.Enum, str) {
			return fmt.Errorf("field %q: value %q not in enum %v", path, str, prop.Enum)
		}
	case "number":
		switch value.(type) {
		case float64, float32, int, int64:
		default:
			return fmt.Errorf("field %q: expected number, got %T", path, value)
		}
	case "integer":
		switch v := value.(type) {
		case int, int64:
		case float64:
			if v != float64(int64(v)) {
				return fmt.Errorf("field %q: expected integer, got %v", path, v)
			}
		default:
			return fmt.Errorf("field %q: expected integer, got %T", path, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field %q: expected boolean, got %T", path, value)
		}
	case "array":
		items, ok := value.([]any)
		if !ok {
			return fmt.Errorf("field %q: expected array, got %T", path, value)
		}
		if prop.Items != nil {
			for i, item := range items {
				if err := validateValue(fmt.Sprintf("%s[%d]", path, i), prop.Items, item); err != nil {
					return err
				}
			}
		}
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("field %q: expected object, got %T", path, value)
		}
		for _, req := range prop.Required {
			if _, ok := obj[req]; !ok {
				return fmt.Errorf("field %q: missing required field %q", path, req)
			}
		}
		for name, child := range prop.Properties {
			if child == nil {
				continue
			}
			if childVal, ok := obj[name]; ok {
				if err := validateValue(path+"."+name, child, childVal); err != nil {
					return err
				}
			}
		}
	default:
		return fmt.Errorf("field %q: unsupported schema type %q", path, prop.Type)
	}
	return nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// StringArray is a shorthand for an array-of-strings property.
func StringArray(description string) Property {
	return Property{
		Type:        "array",
		Description: description,
		Items:       &Property{Type: "string"},
	}
}
