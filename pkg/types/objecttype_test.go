package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func personType() *ObjectType {
	return &ObjectType{
		ID:  "type-person",
		Key: "person",
		Attributes: []AttributeTemplate{
			{ID: "tpl-name", Key: "name", ValueKind: ValueKindScalar, Required: true, MaxLength: 100},
			{ID: "tpl-rel", Key: "relationships", ValueKind: ValueKindList, MaxItems: 10, MaxItemLength: 100},
		},
	}
}

func TestObjectTypeLookup(t *testing.T) {
	ot := personType()

	attr, ok := ot.Attribute("relationships")
	require.True(t, ok)
	assert.True(t, attr.IsList())

	tpl, ok := ot.Template("tpl-name")
	require.True(t, ok)
	assert.Equal(t, "name", tpl.Key)

	_, ok = ot.Attribute("age")
	assert.False(t, ok)
	_, ok = ot.Template("missing")
	assert.False(t, ok)
}

func TestObjectTypeAppendAttributes(t *testing.T) {
	tests := []struct {
		name      string
		attrs     []AttributeTemplate
		wantErr   error
		wantCount int
	}{
		{
			name:      "appends new keys at the end",
			attrs:     []AttributeTemplate{{Key: "age", ValueKind: ValueKindScalar}},
			wantCount: 3,
		},
		{
			name:      "rejects an existing key",
			attrs:     []AttributeTemplate{{Key: "name", ValueKind: ValueKindScalar}},
			wantErr:   ErrDuplicateKey,
			wantCount: 2,
		},
		{
			name: "rejects duplicates within the appended set",
			attrs: []AttributeTemplate{
				{Key: "age", ValueKind: ValueKindScalar},
				{Key: "age", ValueKind: ValueKindScalar},
			},
			wantErr:   ErrDuplicateKey,
			wantCount: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ot := personType()
			err := ot.AppendAttributes(tt.attrs...)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "name", ot.Attributes[0].Key, "existing order preserved")
			}
			assert.Len(t, ot.Attributes, tt.wantCount)
		})
	}
}

func TestObjectTypeValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(ot *ObjectType)
		wantErr error
	}{
		{name: "valid type", mutate: func(ot *ObjectType) {}},
		{
			name:    "empty key",
			mutate:  func(ot *ObjectType) { ot.Key = "" },
			wantErr: ErrInvalidData,
		},
		{
			name:    "empty attribute key",
			mutate:  func(ot *ObjectType) { ot.Attributes[0].Key = "" },
			wantErr: ErrInvalidData,
		},
		{
			name:    "duplicate attribute key",
			mutate:  func(ot *ObjectType) { ot.Attributes[1].Key = "name" },
			wantErr: ErrDuplicateKey,
		},
		{
			name:    "unknown value kind",
			mutate:  func(ot *ObjectType) { ot.Attributes[0].ValueKind = "MAP" },
			wantErr: ErrInvalidData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ot := personType()
			tt.mutate(ot)
			err := ot.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestScopeMatches(t *testing.T) {
	tests := []struct {
		name        string
		scope       Scope
		characterID string
		want        bool
	}{
		{"global matches any character", GlobalScope(), "alice", true},
		{"global matches empty character", GlobalScope(), "", true},
		{"zero scope is treated as global", Scope{}, "bob", true},
		{"character scope matches listed id", CharacterScope("alice", "bob"), "bob", true},
		{"character scope rejects other id", CharacterScope("alice"), "bob", false},
		{"character scope rejects empty id", CharacterScope("alice"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.scope.Matches(tt.characterID))
		})
	}
}
