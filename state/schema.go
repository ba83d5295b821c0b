package state

import (
	"strings"
)

type FieldType string

const (
	FieldTypeString FieldType = "string"
	FieldTypeNumber FieldType = "number"
	FieldTypeBool   FieldType = "bool"
	FieldTypeObject FieldType = "object"
)

// FieldRule governs a single schema field.
// Min/Max are value bounds for numbers and length bounds for strings.
type FieldRule struct {
	Type    FieldType
	Min     *float64
	Max     *float64
	Mutable bool
	// nested object rules. FieldTypeObject only
	Fields map[string]*FieldRule
}

type Schema struct {
	Fields map[string]*FieldRule
}

func Limit(v float64) *float64 {
	return &v
}

// RuleAt resolves the rule for a possibly nested path, e.g. "transform.x".
func (self *Schema) RuleAt(path string) (*FieldRule, error) {
	parts := strings.Split(path, ".")
	rules := self.Fields
	var rule *FieldRule
	for i, part := range parts {
		r, ok := rules[part]
		if !ok {
			return nil, NewMutationError(ErrUnknownField, path, "")
		}
		rule = r
		if i < len(parts)-1 {
			if rule.Type != FieldTypeObject {
				return nil, NewMutationError(ErrUnknownField, path, "")
			}
			rules = rule.Fields
		}
	}
	return rule, nil
}

// ValidateSet validates a single property write and returns the normalized
// value. `atCreate` permits writes to immutable fields.
func (self *Schema) ValidateSet(path string, value any, atCreate bool) (any, error) {
	rule, err := self.RuleAt(path)
	if err != nil {
		return nil, err
	}
	if !rule.Mutable && !atCreate {
		return nil, NewMutationError(ErrImmutableField, path, "")
	}
	return normalize(rule, path, value)
}

// ValidateInitial validates a full initial value object.
// Every present field must conform. Fields outside the schema are rejected.
func (self *Schema) ValidateInitial(values map[string]any) (map[string]any, error) {
	normalized := map[string]any{}
	for path, value := range values {
		rule, ok := self.Fields[path]
		if !ok {
			return nil, NewMutationError(ErrUnknownField, path, "")
		}
		v, err := normalize(rule, path, value)
		if err != nil {
			return nil, err
		}
		normalized[path] = v
	}
	return normalized, nil
}

func normalize(rule *FieldRule, path string, value any) (any, error) {
	switch rule.Type {
	case FieldTypeString:
		s, ok := value.(string)
		if !ok {
			return nil, NewMutationError(ErrValidation, path, "")
		}
		n := float64(len(s))
		if rule.Min != nil && n < *rule.Min {
			return nil, NewMutationError(ErrValidation, path, "")
		}
		if rule.Max != nil && *rule.Max < n {
			return nil, NewMutationError(ErrValidation, path, "")
		}
		return s, nil
	case FieldTypeNumber:
		// canonical representation is float64, matching the json decoder
		f, ok := numberValue(value)
		if !ok {
			return nil, NewMutationError(ErrValidation, path, "")
		}
		if rule.Min != nil && f < *rule.Min {
			return nil, NewMutationError(ErrValidation, path, "")
		}
		if rule.Max != nil && *rule.Max < f {
			return nil, NewMutationError(ErrValidation, path, "")
		}
		return f, nil
	case FieldTypeBool:
		b, ok := value.(bool)
		if !ok {
			return nil, NewMutationError(ErrValidation, path, "")
		}
		return b, nil
	case FieldTypeObject:
		m, ok := value.(map[string]any)
		if !ok {
			return nil, NewMutationError(ErrValidation, path, "")
		}
		normalized := map[string]any{}
		for key, nested := range m {
			nestedRule, ok := rule.Fields[key]
			if !ok {
				return nil, NewMutationError(ErrUnknownField, path+"."+key, "")
			}
			v, err := normalize(nestedRule, path+"."+key, nested)
			if err != nil {
				return nil, err
			}
			normalized[key] = v
		}
		return normalized, nil
	default:
		return nil, NewMutationError(ErrValidation, path, "")
	}
}

func numberValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}
