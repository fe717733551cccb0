package schema

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/memorykit/internal/settings"
	"github.com/mesh-intelligence/memorykit/internal/sqlite"
	"github.com/mesh-intelligence/memorykit/pkg/types"
)

func newTestRegistry(t *testing.T) (*Registry, *settings.Manager) {
	t.Helper()
	b := sqlite.NewBackend()
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	t.Cleanup(func() { b.Detach() })
	sm := settings.New(b, nil)
	return New(b, sm, nil), sm
}

func TestSeedDefaultSchemaOnce(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	seeded, err := r.SeedDefaultSchema(ctx)
	require.NoError(t, err)
	assert.True(t, seeded)

	seeded, err = r.SeedDefaultSchema(ctx)
	require.NoError(t, err)
	assert.False(t, seeded)

	all, err := r.Types(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	keys := []string{all[0].Key, all[1].Key, all[2].Key}
	assert.Equal(t, []string{TypePerson, TypeLocation, TypeEvent}, keys)
	for _, ot := range all {
		assert.NotEmpty(t, ot.ID)
		assert.Equal(t, types.SharingPerCharacter, ot.DefaultSharing.Type)
		for _, a := range ot.Attributes {
			assert.NotEmpty(t, a.ID, "%s.%s", ot.Key, a.Key)
			require.Len(t, a.Rules, 1)
		}
	}
}

func TestSeedSkipsWhenTypesExist(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Register(ctx, &types.ObjectType{
		Key:        "item",
		Attributes: []types.AttributeTemplate{{Key: "name", ValueKind: types.ValueKindScalar}},
	})
	require.NoError(t, err)

	seeded, err := r.SeedDefaultSchema(ctx)
	require.NoError(t, err)
	assert.False(t, seeded)

	all, err := r.Types(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, types.SharingGlobal, all[0].DefaultSharing.Type)
}

func TestTypeLookup(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	_, err := r.SeedDefaultSchema(ctx)
	require.NoError(t, err)

	person, err := r.Type(ctx, TypePerson)
	require.NoError(t, err)
	assert.Equal(t, "Person", person.Label)

	byID, err := r.TypeByID(ctx, person.ID)
	require.NoError(t, err)
	assert.Equal(t, person.Key, byID.Key)

	_, err = r.Type(ctx, "dragon")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = r.TypeByID(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestAppendAttributes(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	_, err := r.SeedDefaultSchema(ctx)
	require.NoError(t, err)

	before, err := r.Type(ctx, TypePerson)
	require.NoError(t, err)

	after, err := r.AppendAttributes(ctx, TypePerson, types.AttributeTemplate{Key: "age", MaxLength: 10})
	require.NoError(t, err)
	require.Len(t, after.Attributes, len(before.Attributes)+1)
	for i, a := range before.Attributes {
		assert.Equal(t, a.ID, after.Attributes[i].ID)
		assert.Equal(t, a.Key, after.Attributes[i].Key)
	}
	added := after.Attributes[len(after.Attributes)-1]
	assert.NotEmpty(t, added.ID)
	assert.Equal(t, types.ValueKindScalar, added.ValueKind)

	stored, err := r.Type(ctx, TypePerson)
	require.NoError(t, err)
	assert.Equal(t, after.Attributes, stored.Attributes)

	_, err = r.AppendAttributes(ctx, TypePerson, types.AttributeTemplate{Key: "name"})
	assert.ErrorIs(t, err, types.ErrDuplicateKey)

	_, err = r.AppendAttributes(ctx, "dragon", types.AttributeTemplate{Key: "x"})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestClassFor(t *testing.T) {
	tests := []struct {
		tmpl types.AttributeTemplate
		want string
	}{
		{types.AttributeTemplate{Key: "name", ValueKind: types.ValueKindScalar}, settings.ClassName},
		{types.AttributeTemplate{Key: "description", ValueKind: types.ValueKindScalar}, settings.ClassDescription},
		{types.AttributeTemplate{Key: "relationships", ValueKind: types.ValueKindList}, settings.ClassList},
		{types.AttributeTemplate{Key: "title", ValueKind: types.ValueKindScalar}, "title"},
	}
	for _, tt := range tests {
		t.Run(tt.tmpl.Key, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassFor(tt.tmpl))
		})
	}
}

func TestEffectiveLimit(t *testing.T) {
	r, sm := newTestRegistry(t)
	ctx := context.Background()

	// Template limit below the class default wins.
	l, err := r.EffectiveLimit(ctx, types.AttributeTemplate{Key: "type", ValueKind: types.ValueKindScalar, MaxLength: 50})
	require.NoError(t, err)
	assert.Equal(t, settings.ClassLimit{Max: 50}, l)

	// Class default below the template limit wins.
	l, err = r.EffectiveLimit(ctx, types.AttributeTemplate{Key: "description", ValueKind: types.ValueKindScalar, MaxLength: 500})
	require.NoError(t, err)
	assert.Equal(t, settings.ClassLimit{Max: 300}, l)

	l, err = r.EffectiveLimit(ctx, types.AttributeTemplate{Key: "participants", ValueKind: types.ValueKindList, MaxItems: 20})
	require.NoError(t, err)
	assert.Equal(t, settings.ClassLimit{Max: 10}, l)

	require.NoError(t, sm.SetUnlimitedLength(ctx, settings.ClassName, true))
	l, err = r.EffectiveLimit(ctx, types.AttributeTemplate{Key: "name", ValueKind: types.ValueKindScalar, MaxLength: 100})
	require.NoError(t, err)
	assert.True(t, l.Unlimited)
}

func TestValidateValue(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	name := types.AttributeTemplate{Key: "name", ValueKind: types.ValueKindScalar, Required: true, MaxLength: 100}
	rels := types.AttributeTemplate{Key: "relationships", ValueKind: types.ValueKindList, MaxItems: 10, MaxItemLength: 5}

	tests := []struct {
		name     string
		tmpl     types.AttributeTemplate
		value    types.Value
		ok       bool
		problems int
	}{
		{"valid scalar", name, types.Value{Kind: types.ValueKindScalar, Text: "Alice"}, true, 0},
		{"missing required", name, types.Value{Kind: types.ValueKindScalar, Text: "  "}, false, 1},
		{"over limit", name, types.Value{Kind: types.ValueKindScalar, Text: strings.Repeat("a", 150)}, false, 1},
		{"valid list", rels, types.Value{Kind: types.ValueKindList, Items: []string{"bob"}}, true, 0},
		{"long item", rels, types.Value{Kind: types.ValueKindList, Items: []string{"bob", "charlotte"}}, false, 1},
		{"too many items", rels, types.Value{Kind: types.ValueKindList, Items: make([]string, 11)}, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check, err := r.ValidateValue(ctx, tt.tmpl, &tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, check.OK)
			assert.Len(t, check.Problems, tt.problems)
		})
	}

	check, err := r.ValidateValue(ctx, name, &types.Value{Kind: types.ValueKindScalar, Text: strings.Repeat("a", 150)})
	require.NoError(t, err)
	assert.Equal(t, 150, check.Verdict.CurrentLength)
	assert.Equal(t, 100, check.Verdict.MaxLength)
	assert.True(t, check.Verdict.IsOverLimit)
}

func TestFitValue(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	name := types.AttributeTemplate{Key: "name", ValueKind: types.ValueKindScalar, MaxLength: 100}
	v := &types.Value{Kind: types.ValueKindScalar, Text: strings.Repeat("a", 150)}
	changed, err := r.FitValue(ctx, name, v)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, []rune(v.Text), 100)
	assert.True(t, strings.HasSuffix(v.Text, settings.Ellipsis))

	short := &types.Value{Kind: types.ValueKindScalar, Text: "Alice"}
	changed, err = r.FitValue(ctx, name, short)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "Alice", short.Text)

	rels := types.AttributeTemplate{Key: "relationships", ValueKind: types.ValueKindList, MaxItems: 2, MaxItemLength: 6}
	list := &types.Value{Kind: types.ValueKindList, Items: []string{"bob", "charlotte", "dave"}}
	changed, err = r.FitValue(ctx, rels, list)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"bob", "cha..."}, list.Items)
}
