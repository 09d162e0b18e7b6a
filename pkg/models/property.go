package models

import (
	"encoding/json"
	"fmt"

	"github.com/marketscan/listing-engine/pkg/apperrors"
)

// PropertyType partitions property values across the two value tables.
type PropertyType string

const (
	PropertyTypeString  PropertyType = "string"
	PropertyTypeBoolean PropertyType = "boolean"
)

// ParsePropertyType normalizes a wire-level type tag to its canonical form.
// The short aliases "str" and "bool" are accepted for compatibility with
// older scanner payloads.
func ParsePropertyType(s string) (PropertyType, error) {
	switch s {
	case "string", "str":
		return PropertyTypeString, nil
	case "boolean", "bool":
		return PropertyTypeBoolean, nil
	default:
		return "", fmt.Errorf("%w: unknown property type %q", apperrors.ErrValidation, s)
	}
}

// Property is a named, typed attribute definition shared across listings.
// Identity is the (name, type) pair; a name may exist once per type. Created
// lazily on first use, immutable thereafter, never deleted.
type Property struct {
	PropertyID int64        `json:"property_id"`
	Name       string       `json:"name"`
	Type       PropertyType `json:"type"`
}

// PropertyKey is the lookup identity of a property.
type PropertyKey struct {
	Name string
	Type PropertyType
}

// Key returns the lookup identity of the property.
func (p *Property) Key() PropertyKey {
	return PropertyKey{Name: p.Name, Type: p.Type}
}

// PropertyValue is a tagged variant: exactly one of StringValue or BoolValue
// is meaningful, selected by Type. The variant is resolved once when input
// crosses the boundary; the store routes by the tag and nothing downstream
// re-branches on wire types.
type PropertyValue struct {
	PropertyID  int64
	Type        PropertyType
	StringValue string
	BoolValue   bool
}

// NewStringValue builds a string-typed property value.
func NewStringValue(propertyID int64, v string) PropertyValue {
	return PropertyValue{PropertyID: propertyID, Type: PropertyTypeString, StringValue: v}
}

// NewBoolValue builds a boolean-typed property value.
func NewBoolValue(propertyID int64, v bool) PropertyValue {
	return PropertyValue{PropertyID: propertyID, Type: PropertyTypeBoolean, BoolValue: v}
}

// Value returns the dynamically-typed value for response projection.
func (v PropertyValue) Value() any {
	if v.Type == PropertyTypeBoolean {
		return v.BoolValue
	}
	return v.StringValue
}

// PropertyInput is a single named property on an incoming listing record.
// Value must be a JSON string or boolean matching the declared type.
type PropertyInput struct {
	Name  string       `json:"name"`
	Type  PropertyType `json:"type"`
	Value any          `json:"value"`
}

// UnmarshalJSON normalizes the type tag and rejects values whose JSON type
// does not match it, so no malformed property survives decoding.
func (p *PropertyInput) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name  string          `json:"name"`
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	typ, err := ParsePropertyType(raw.Type)
	if err != nil {
		return err
	}

	p.Name = raw.Name
	p.Type = typ

	switch typ {
	case PropertyTypeString:
		var s string
		if err := json.Unmarshal(raw.Value, &s); err != nil {
			return fmt.Errorf("%w: property %q declared string but value is not", apperrors.ErrValidation, raw.Name)
		}
		p.Value = s
	case PropertyTypeBoolean:
		var b bool
		if err := json.Unmarshal(raw.Value, &b); err != nil {
			return fmt.Errorf("%w: property %q declared boolean but value is not", apperrors.ErrValidation, raw.Name)
		}
		p.Value = b
	}

	return nil
}

// Validate checks that the value's concrete type matches the declared tag.
// Covers inputs constructed in code rather than decoded from JSON.
func (p *PropertyInput) Validate() error {
	switch p.Type {
	case PropertyTypeString:
		if _, ok := p.Value.(string); !ok {
			return fmt.Errorf("%w: property %q declared string but value is %T", apperrors.ErrValidation, p.Name, p.Value)
		}
	case PropertyTypeBoolean:
		if _, ok := p.Value.(bool); !ok {
			return fmt.Errorf("%w: property %q declared boolean but value is %T", apperrors.ErrValidation, p.Name, p.Value)
		}
	default:
		return fmt.Errorf("%w: unknown property type %q", apperrors.ErrValidation, p.Type)
	}
	return nil
}

// Key returns the resolver identity for this input.
func (p *PropertyInput) Key() PropertyKey {
	return PropertyKey{Name: p.Name, Type: p.Type}
}

// ToValue binds the input to a resolved property id, producing the variant
// the store consumes. Validate must have passed first.
func (p *PropertyInput) ToValue(propertyID int64) PropertyValue {
	if p.Type == PropertyTypeBoolean {
		return NewBoolValue(propertyID, p.Value.(bool))
	}
	return NewStringValue(propertyID, p.Value.(string))
}
