// Package schema converts the JSON-Schema-shaped input descriptions that
// MCP servers declare for their tools into locally enforceable
// validators.
//
// Remote servers are untrusted: a malformed or exotic schema must never
// prevent a tool from being registered locally. Conversion is therefore
// total — anything unrecognized degrades to an accept-anything field
// rather than an error. Validation of call arguments, on the other hand,
// is strict about the shapes the schema did declare.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind is the value type a field accepts.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindArray   Kind = "array"
	KindObject  Kind = "object"

	// KindAny accepts any JSON value. Unknown and unsupported schema
	// shapes degrade to this.
	KindAny Kind = "any"
)

// Field describes one argument of a tool.
type Field struct {
	Kind Kind `json:"kind"`

	// Elem is the element kind for KindArray fields. KindAny when the
	// schema declared no usable item type.
	Elem Kind `json:"elem,omitempty"`

	Required bool `json:"required,omitempty"`

	// Description is carried through for documentation and prompting.
	// It never affects validation.
	Description string `json:"description,omitempty"`
}

// Validator is an object validator derived from a tool's input schema.
// It is immutable once built and carries no reference back to the
// server that declared it.
type Validator struct {
	Fields map[string]Field `json:"fields"`
}

// ToValidator converts a tool's declared input schema into a Validator.
// It is pure and total: no schema shape causes an error.
//
// Only the first level of an object schema is typed. Nested object
// properties become open maps — this mirrors the permissiveness of the
// systems these schemas come from and is deliberate.
func ToValidator(inputSchema map[string]any) *Validator {
	v := &Validator{Fields: map[string]Field{}}

	// Anything that is not an object schema at the top level gets the
	// defensive default: an empty object validator.
	if typ, _ := inputSchema["type"].(string); typ != "object" {
		return v
	}

	required := map[string]bool{}
	if reqs, ok := inputSchema["required"].([]any); ok {
		for _, r := range reqs {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	props, _ := inputSchema["properties"].(map[string]any)
	for name, raw := range props {
		f := Field{Kind: KindAny, Required: required[name]}

		prop, ok := raw.(map[string]any)
		if !ok {
			v.Fields[name] = f
			continue
		}

		if desc, ok := prop["description"].(string); ok {
			f.Description = desc
		}

		switch typ, _ := prop["type"].(string); typ {
		case "string":
			f.Kind = KindString
		case "number":
			f.Kind = KindNumber
		case "integer":
			f.Kind = KindInteger
		case "boolean":
			f.Kind = KindBoolean
		case "array":
			f.Kind = KindArray
			f.Elem = arrayElemKind(prop)
		case "object":
			// Open key/value map; nested properties are not typed.
			f.Kind = KindObject
		default:
			// Unknown or absent type: accept anything.
		}

		v.Fields[name] = f
	}

	return v
}

// arrayElemKind infers the element kind from a property's items.type.
func arrayElemKind(prop map[string]any) Kind {
	items, ok := prop["items"].(map[string]any)
	if !ok {
		return KindAny
	}
	switch typ, _ := items["type"].(string); typ {
	case "string":
		return KindString
	case "number":
		return KindNumber
	case "boolean":
		return KindBoolean
	default:
		return KindAny
	}
}

// Validate checks call arguments against the validator. Nil args are
// treated as an empty object. Arguments not declared in the schema are
// rejected, as are missing required fields and type mismatches.
//
// Values are expected in their JSON-decoded Go forms (float64 numbers,
// []any arrays, map[string]any objects); native Go ints are also
// accepted for numeric kinds since arguments frequently arrive from Go
// callers rather than a JSON decoder.
func (v *Validator) Validate(args map[string]any) error {
	for _, name := range sortedKeys(v.Fields) {
		f := v.Fields[name]
		if _, present := args[name]; !present && f.Required {
			return fmt.Errorf("missing required argument %q", name)
		}
	}

	for _, name := range sortedKeys(args) {
		f, declared := v.Fields[name]
		if !declared {
			return fmt.Errorf("unknown argument %q", name)
		}
		if err := checkKind(f.Kind, f.Elem, args[name]); err != nil {
			return fmt.Errorf("argument %q: %w", name, err)
		}
	}

	return nil
}

// checkKind validates one value against a kind.
func checkKind(kind, elem Kind, val any) error {
	if val == nil {
		// null is tolerated for optional anything-ish values; typed
		// kinds reject it.
		if kind == KindAny {
			return nil
		}
		return fmt.Errorf("expected %s, got null", kind)
	}

	switch kind {
	case KindAny:
		return nil
	case KindString:
		if _, ok := val.(string); !ok {
			return fmt.Errorf("expected string, got %s", jsonTypeName(val))
		}
	case KindNumber:
		if !isNumber(val) {
			return fmt.Errorf("expected number, got %s", jsonTypeName(val))
		}
	case KindInteger:
		if !isInteger(val) {
			return fmt.Errorf("expected integer, got %s", jsonTypeName(val))
		}
	case KindBoolean:
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("expected boolean, got %s", jsonTypeName(val))
		}
	case KindArray:
		arr, ok := val.([]any)
		if !ok {
			return fmt.Errorf("expected array, got %s", jsonTypeName(val))
		}
		for i, item := range arr {
			if err := checkKind(elem, KindAny, item); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
	case KindObject:
		if _, ok := val.(map[string]any); !ok {
			return fmt.Errorf("expected object, got %s", jsonTypeName(val))
		}
	default:
		return nil
	}
	return nil
}

func isNumber(val any) bool {
	switch val.(type) {
	case float64, float32, int, int32, int64, json.Number:
		return true
	}
	return false
}

func isInteger(val any) bool {
	switch n := val.(type) {
	case int, int32, int64:
		return true
	case float64:
		return n == float64(int64(n))
	case float32:
		return float64(n) == float64(int64(n))
	case json.Number:
		_, err := n.Int64()
		return err == nil
	}
	return false
}

// jsonTypeName names a Go value by its JSON type for error messages.
func jsonTypeName(val any) string {
	switch val.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64, json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", val)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
