package models

// JSONSchema represents a JSON Schema for action configuration validation.
type JSONSchema struct {
	Type                 string               `json:"type"`
	Properties           map[string]*Property `json:"properties,omitempty"`
	Required             []string             `json:"required,omitempty"`
	Title                string               `json:"title,omitempty"`
	Description          string               `json:"description,omitempty"`
	AdditionalProperties *bool                `json:"additionalProperties,omitempty"`
}

// Property represents a JSON Schema property.
type Property struct {
	Type                 string               `json:"type,omitempty"`
	Description          string               `json:"description,omitempty"`
	Enum                 []any                `json:"enum,omitempty"`
	Default              any                  `json:"default,omitempty"`
	Format               string               `json:"format,omitempty"`
	MinLength            *int                 `json:"minLength,omitempty"`
	MaxLength            *int                 `json:"maxLength,omitempty"`
	Minimum              *float64             `json:"minimum,omitempty"`
	Maximum              *float64             `json:"maximum,omitempty"`
	Pattern              string               `json:"pattern,omitempty"`
	Items                *Property            `json:"items,omitempty"`
	Properties           map[string]*Property `json:"properties,omitempty"`
	Required             []string             `json:"required,omitempty"`
	AdditionalProperties *Property            `json:"additionalProperties,omitempty"`
}

// IsRequired reports whether name is listed in the schema's required fields.
func (s *JSONSchema) IsRequired(name string) bool {
	if s == nil {
		return false
	}

	return contains(s.Required, name)
}

// Property returns the named top-level property or nil.
func (s *JSONSchema) Property(name string) *Property {
	if s == nil {
		return nil
	}

	return s.Properties[name]
}

// Root returns the schema as an object property so that nested lookups can
// walk the whole tree the same way.
func (s *JSONSchema) Root() *Property {
	if s == nil {
		return nil
	}

	return &Property{
		Type:       s.Type,
		Properties: s.Properties,
		Required:   s.Required,
	}
}

// IsRequired reports whether name is a required child of an object property.
func (p *Property) IsRequired(name string) bool {
	if p == nil {
		return false
	}

	return contains(p.Required, name)
}

// Child returns the property describing the named field of an object property,
// or the item property of an array.
func (p *Property) Child(name string) *Property {
	if p == nil {
		return nil
	}

	if child, ok := p.Properties[name]; ok {
		return child
	}

	if p.AdditionalProperties != nil {
		return p.AdditionalProperties
	}

	return p.Items
}

func contains(values []string, name string) bool {
	for _, value := range values {
		if value == name {
			return true
		}
	}

	return false
}

// Bool is a helper for optional schema flags.
func Bool(v bool) *bool {
	return &v
}

// Int is a helper for optional schema bounds.
func Int(v int) *int {
	return &v
}

// Float is a helper for optional schema bounds.
func Float(v float64) *float64 {
	return &v
}
