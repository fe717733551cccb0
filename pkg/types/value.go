package types

import (
	"strings"
	"unicode/utf8"
)

// Value statuses.
const (
	ValueStatusPending    = "PENDING"
	ValueStatusConfirmed  = "CONFIRMED"
	ValueStatusRejected   = "REJECTED"
	ValueStatusSuperseded = "SUPERSEDED"
)

// validValueStatuses is the set of recognized value statuses.
var validValueStatuses = map[string]bool{
	ValueStatusPending:    true,
	ValueStatusConfirmed:  true,
	ValueStatusRejected:   true,
	ValueStatusSuperseded: true,
}

// IsValidValueStatus reports whether s is a recognized value status.
func IsValidValueStatus(s string) bool {
	return validValueStatuses[s]
}

// Value is the content of one attribute on one Instance. SCALAR values use
// Text; LIST values use Items.
type Value struct {
	ID           string    `json:"id"`
	InstanceID   string    `json:"instanceId"`
	TemplateID   string    `json:"templateId"`
	AttributeKey string    `json:"attributeKey"`
	Kind         string    `json:"kind"`
	Text         string    `json:"text,omitempty"`
	Items        []string  `json:"items,omitempty"`
	Attitude     string    `json:"attitude,omitempty"`
	Status       string    `json:"status"`
	DiffID       string    `json:"diffId,omitempty"`
	Timestamp    Timestamp `json:"timestamp"`
}

// Length returns the rune count of a scalar value or the item count of a list.
func (v *Value) Length() int {
	if v.Kind == ValueKindList {
		return len(v.Items)
	}
	return utf8.RuneCountInString(v.Text)
}

// IsEmpty reports whether the value carries no content.
func (v *Value) IsEmpty() bool {
	if v.Kind == ValueKindList {
		for _, it := range v.Items {
			if strings.TrimSpace(it) != "" {
				return false
			}
		}
		return true
	}
	return strings.TrimSpace(v.Text) == ""
}

// Render returns the value as display text. List items are joined with "; ".
func (v *Value) Render() string {
	if v.Kind == ValueKindList {
		return strings.Join(v.Items, "; ")
	}
	return v.Text
}

// Confirm accepts a pending value.
// Returns ErrInvalidTransition unless the status is PENDING.
func (v *Value) Confirm() error {
	if v.Status != ValueStatusPending {
		return ErrInvalidTransition
	}
	v.Status = ValueStatusConfirmed
	return nil
}

// Reject discards a pending value.
// Returns ErrInvalidTransition unless the status is PENDING.
func (v *Value) Reject() error {
	if v.Status != ValueStatusPending {
		return ErrInvalidTransition
	}
	v.Status = ValueStatusRejected
	return nil
}

// Supersede retires a confirmed value replaced by a newer one.
// Returns ErrInvalidTransition unless the status is CONFIRMED.
func (v *Value) Supersede() error {
	if v.Status != ValueStatusConfirmed {
		return ErrInvalidTransition
	}
	v.Status = ValueStatusSuperseded
	return nil
}
