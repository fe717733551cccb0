package settings

import (
	"context"
	"unicode/utf8"
)

// Attribute classes used to resolve length limits.
const (
	ClassName        = "name"
	ClassDescription = "description"
	ClassList        = "list"
)

// Ellipsis is appended by TruncateAttribute.
const Ellipsis = "..."

// Unlimited is the RemainingChars of an unlimited verdict.
const Unlimited = -1

// LengthVerdict is the outcome of a length check. Validation never fails
// with an error for over-long input; callers decide whether to truncate,
// warn or reject.
type LengthVerdict struct {
	IsValid        bool `json:"isValid"`
	CurrentLength  int  `json:"currentLength"`
	MaxLength      int  `json:"maxLength"`
	IsUnlimited    bool `json:"isUnlimited"`
	IsOverLimit    bool `json:"isOverLimit"`
	RemainingChars int  `json:"remainingChars"`
}

// LimitKey returns the setting holding the limit for an attribute class.
// Unrecognized classes use maxAttributeLength.
func LimitKey(attributeType string) string {
	switch attributeType {
	case ClassName:
		return KeyMaxNameLength
	case ClassDescription:
		return KeyMaxDescriptionLength
	case ClassList:
		return KeyMaxListItems
	default:
		return KeyMaxAttributeLength
	}
}

// ClassLimit is the resolved limit for an attribute class.
type ClassLimit struct {
	Max       int
	Unlimited bool
}

// ClassLimit resolves the limit for an attribute class. A limit of zero is
// unlimited only while allowUnlimitedLength is on.
func (m *Manager) ClassLimit(ctx context.Context, attributeType string) (ClassLimit, error) {
	n, err := m.GetInt(ctx, LimitKey(attributeType))
	if err != nil {
		return ClassLimit{}, err
	}
	allow, err := m.GetBool(ctx, KeyAllowUnlimitedLength)
	if err != nil {
		return ClassLimit{}, err
	}
	return ClassLimit{Max: n, Unlimited: allow && n == 0}, nil
}

// Evaluate builds a verdict for a value of the given length.
func Evaluate(current int, limit ClassLimit) LengthVerdict {
	if limit.Unlimited {
		return LengthVerdict{
			IsValid:        true,
			CurrentLength:  current,
			MaxLength:      limit.Max,
			IsUnlimited:    true,
			RemainingChars: Unlimited,
		}
	}
	over := current > limit.Max
	return LengthVerdict{
		IsValid:        !over,
		CurrentLength:  current,
		MaxLength:      limit.Max,
		IsOverLimit:    over,
		RemainingChars: max(0, limit.Max-current),
	}
}

// ValidateAttributeLength checks value against the limit of its attribute
// class. Length is measured in characters. An error is returned only when
// the settings cannot be read.
func (m *Manager) ValidateAttributeLength(ctx context.Context, attributeType, value string) (LengthVerdict, error) {
	limit, err := m.ClassLimit(ctx, attributeType)
	if err != nil {
		return LengthVerdict{}, err
	}
	return Evaluate(utf8.RuneCountInString(value), limit), nil
}

// Truncate shortens value to at most limit characters, appending the
// ellipsis marker when requested and something was cut.
func Truncate(value string, limit int, ellipsis bool) string {
	if limit < 0 || utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	out := string(runes[:limit])
	if ellipsis {
		out += Ellipsis
	}
	return out
}

// TruncateAttribute truncates value to the limit of its attribute class.
// Unlimited classes return value unchanged. The CLI and HTTP surfaces pass
// ellipsis true unless told otherwise.
func (m *Manager) TruncateAttribute(ctx context.Context, attributeType, value string, ellipsis bool) (string, error) {
	limit, err := m.ClassLimit(ctx, attributeType)
	if err != nil {
		return "", err
	}
	if limit.Unlimited {
		return value, nil
	}
	return Truncate(value, limit.Max, ellipsis), nil
}

// SetUnlimitedLength turns the unlimited override for an attribute class
// on or off. Turning it on stores a zero limit and enables
// allowUnlimitedLength; turning it off restores the class default.
func (m *Manager) SetUnlimitedLength(ctx context.Context, attributeType string, unlimited bool) error {
	key := LimitKey(attributeType)
	if !unlimited {
		return m.Set(ctx, key, defaults[key])
	}
	if err := m.Set(ctx, KeyAllowUnlimitedLength, true); err != nil {
		return err
	}
	return m.Set(ctx, key, 0)
}

// IsUnlimitedAllowed reports whether zero limits mean unlimited.
func (m *Manager) IsUnlimitedAllowed(ctx context.Context) (bool, error) {
	return m.GetBool(ctx, KeyAllowUnlimitedLength)
}
