package settings

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAttributeLength(t *testing.T) {
	tests := []struct {
		name  string
		setup map[string]any
		class string
		value string
		want  LengthVerdict
	}{
		{
			name:  "over limit without unlimited override",
			setup: map[string]any{KeyMaxNameLength: 100, KeyAllowUnlimitedLength: false},
			class: ClassName,
			value: strings.Repeat("x", 150),
			want:  LengthVerdict{IsValid: false, CurrentLength: 150, MaxLength: 100, IsOverLimit: true, RemainingChars: 0},
		},
		{
			name:  "within limit",
			class: ClassDescription,
			value: "short",
			want:  LengthVerdict{IsValid: true, CurrentLength: 5, MaxLength: 300, RemainingChars: 295},
		},
		{
			name:  "zero limit is unlimited when allowed",
			setup: map[string]any{KeyMaxAttributeLength: 0},
			class: "occupation",
			value: strings.Repeat("x", 5000),
			want:  LengthVerdict{IsValid: true, CurrentLength: 5000, IsUnlimited: true, RemainingChars: Unlimited},
		},
		{
			name:  "zero limit without override rejects everything",
			setup: map[string]any{KeyMaxAttributeLength: 0, KeyAllowUnlimitedLength: false},
			class: "occupation",
			value: "x",
			want:  LengthVerdict{IsValid: false, CurrentLength: 1, IsOverLimit: true},
		},
		{
			name:  "length counts characters not bytes",
			setup: map[string]any{KeyMaxNameLength: 3},
			class: ClassName,
			value: "äöü",
			want:  LengthVerdict{IsValid: true, CurrentLength: 3, MaxLength: 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(newMemStore(), nil)
			ctx := context.Background()
			for k, v := range tt.setup {
				require.NoError(t, m.Set(ctx, k, v))
			}
			got, err := m.ValidateAttributeLength(ctx, tt.class, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTruncateAttribute(t *testing.T) {
	m := New(newMemStore(), nil)
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, KeyMaxNameLength, 100))
	require.NoError(t, m.Set(ctx, KeyAllowUnlimitedLength, false))

	long := strings.Repeat("y", 150)
	out, err := m.TruncateAttribute(ctx, ClassName, long, true)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("y", 100)+Ellipsis, out)

	out, err = m.TruncateAttribute(ctx, ClassName, long, false)
	require.NoError(t, err)
	assert.Len(t, out, 100)

	out, err = m.TruncateAttribute(ctx, ClassName, "short", true)
	require.NoError(t, err)
	assert.Equal(t, "short", out)
}

func TestSetUnlimitedLength(t *testing.T) {
	m := New(newMemStore(), nil)
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, KeyAllowUnlimitedLength, false))

	require.NoError(t, m.SetUnlimitedLength(ctx, ClassDescription, true))
	limit, err := m.ClassLimit(ctx, ClassDescription)
	require.NoError(t, err)
	assert.True(t, limit.Unlimited)

	out, err := m.TruncateAttribute(ctx, ClassDescription, strings.Repeat("z", 1000), true)
	require.NoError(t, err)
	assert.Len(t, out, 1000)

	require.NoError(t, m.SetUnlimitedLength(ctx, ClassDescription, false))
	limit, err = m.ClassLimit(ctx, ClassDescription)
	require.NoError(t, err)
	assert.Equal(t, ClassLimit{Max: 300}, limit)
}

func TestLimitKey(t *testing.T) {
	assert.Equal(t, KeyMaxNameLength, LimitKey(ClassName))
	assert.Equal(t, KeyMaxDescriptionLength, LimitKey(ClassDescription))
	assert.Equal(t, KeyMaxListItems, LimitKey(ClassList))
	assert.Equal(t, KeyMaxAttributeLength, LimitKey("anything"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "ab...", Truncate("abcdef", 2, true))
	assert.Equal(t, "abcdef", Truncate("abcdef", 6, true))
	assert.Equal(t, "äö", Truncate("äöü", 2, false))
}
