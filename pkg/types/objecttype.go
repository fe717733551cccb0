package types

import (
	"fmt"
	"time"
)

// Attribute value kinds.
const (
	ValueKindScalar = "SCALAR"
	ValueKindList   = "LIST"
)

// Sharing policy types for ObjectType.DefaultSharing.
const (
	SharingGlobal       = "GLOBAL"
	SharingPerCharacter = "PER_CHARACTER"
)

// IsValidValueKind reports whether k is a recognized value kind.
func IsValidValueKind(k string) bool {
	return k == ValueKindScalar || k == ValueKindList
}

// Rule is one natural-language extraction instruction attached to an
// attribute template.
type Rule struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// AttributeTemplate defines one typed field of an ObjectType. Limits of zero
// mean the template itself imposes no bound.
type AttributeTemplate struct {
	ID               string `json:"id"`
	Key              string `json:"key"`
	Label            string `json:"label,omitempty"`
	ValueKind        string `json:"valueKind"`
	Required         bool   `json:"required"`
	MaxLength        int    `json:"maxLength,omitempty"`
	MaxItems         int    `json:"maxItems,omitempty"`
	MaxItemLength    int    `json:"maxItemLength,omitempty"`
	IncludeAttitude  bool   `json:"includeAttitude"`
	IncludeStoryTime bool   `json:"includeStoryTime"`
	Rules            []Rule `json:"rules,omitempty"`
}

// IsList reports whether the template holds a list of items.
func (a AttributeTemplate) IsList() bool {
	return a.ValueKind == ValueKindList
}

// Sharing is the default visibility policy of an ObjectType's instances.
type Sharing struct {
	Type       string   `json:"type"`
	Characters []string `json:"characters"`
}

// ObjectType is a named entity kind with an ordered set of attribute
// templates. The ID never changes once created, and attribute keys stay
// stable so stored Values are never orphaned.
type ObjectType struct {
	ID             string              `json:"id"`
	Key            string              `json:"key"`
	Label          string              `json:"label,omitempty"`
	Description    string              `json:"description,omitempty"`
	Attributes     []AttributeTemplate `json:"attributes"`
	DefaultSharing Sharing             `json:"defaultSharing"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

// Attribute returns the template with the given key.
func (o *ObjectType) Attribute(key string) (*AttributeTemplate, bool) {
	for i := range o.Attributes {
		if o.Attributes[i].Key == key {
			return &o.Attributes[i], true
		}
	}
	return nil, false
}

// Template returns the template with the given ID.
func (o *ObjectType) Template(id string) (*AttributeTemplate, bool) {
	for i := range o.Attributes {
		if o.Attributes[i].ID == id {
			return &o.Attributes[i], true
		}
	}
	return nil, false
}

// AppendAttributes adds templates at the end of the attribute list. Existing
// keys cannot be redefined; a clash returns ErrDuplicateKey and leaves the
// type unchanged.
func (o *ObjectType) AppendAttributes(attrs ...AttributeTemplate) error {
	seen := make(map[string]bool, len(o.Attributes)+len(attrs))
	for _, a := range o.Attributes {
		seen[a.Key] = true
	}
	for _, a := range attrs {
		if seen[a.Key] {
			return fmt.Errorf("attribute %q: %w", a.Key, ErrDuplicateKey)
		}
		seen[a.Key] = true
	}
	o.Attributes = append(o.Attributes, attrs...)
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// Validate checks the type key, attribute keys and value kinds.
func (o *ObjectType) Validate() error {
	if o.Key == "" {
		return fmt.Errorf("object type key must not be empty: %w", ErrInvalidData)
	}
	seen := make(map[string]bool, len(o.Attributes))
	for _, a := range o.Attributes {
		if a.Key == "" {
			return fmt.Errorf("object type %s: attribute key must not be empty: %w", o.Key, ErrInvalidData)
		}
		if seen[a.Key] {
			return fmt.Errorf("object type %s: attribute %q: %w", o.Key, a.Key, ErrDuplicateKey)
		}
		seen[a.Key] = true
		if !IsValidValueKind(a.ValueKind) {
			return fmt.Errorf("object type %s: attribute %q: unknown value kind %q: %w", o.Key, a.Key, a.ValueKind, ErrInvalidData)
		}
	}
	return nil
}
