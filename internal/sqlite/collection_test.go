package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/memorykit/pkg/types"
)

func TestValueRoundTripByInstanceIndex(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	ot, in := seedInstance(t, b)
	tmpl, _ := ot.Attribute("name")

	values, err := b.Collection(types.ValuesCollection)
	require.NoError(t, err)
	id, err := values.Add(ctx, &types.Value{
		InstanceID:   in.ID,
		TemplateID:   tmpl.ID,
		AttributeKey: "name",
		Text:         "Alice",
	})
	require.NoError(t, err)

	recs, err := values.QueryByIndex(ctx, types.IndexInstance, in.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	v := recs[0].(*types.Value)
	assert.Equal(t, id, v.ID)
	assert.Equal(t, in.ID, v.InstanceID)
	assert.Equal(t, "name", v.AttributeKey)
	assert.Equal(t, types.ValueStatusPending, v.Status, "status defaults to pending")
	assert.Equal(t, types.ValueKindScalar, v.Kind)
}

func TestAddDuplicateKey(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	ot, in := seedInstance(t, b)

	tests := []struct {
		name   string
		coll   string
		record any
	}{
		{"same primary key", types.InstancesCollection, &types.Instance{ID: in.ID, Key: "person:bob", TypeID: ot.ID}},
		{"same instance key", types.InstancesCollection, &types.Instance{Key: in.Key, TypeID: ot.ID}},
		{"same object type key", types.ObjectTypesCollection, personType()},
		{"same setting key twice", types.SettingsCollection, &types.Setting{Key: "timeMode"}},
	}

	settings, _ := b.Collection(types.SettingsCollection)
	_, err := settings.Add(ctx, &types.Setting{Key: "timeMode"})
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := b.Collection(tt.coll)
			require.NoError(t, err)
			_, err = c.Add(ctx, tt.record)
			assert.ErrorIs(t, err, types.ErrDuplicateKey)
		})
	}
}

func TestReferenceChecks(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	ot, in := seedInstance(t, b)
	tmpl, _ := ot.Attribute("name")

	tests := []struct {
		name   string
		coll   string
		record any
	}{
		{"instance with unknown type", types.InstancesCollection, &types.Instance{Key: "x", TypeID: "missing"}},
		{"value with unknown instance", types.ValuesCollection, &types.Value{InstanceID: "missing", TemplateID: tmpl.ID}},
		{"value with template of another type", types.ValuesCollection, &types.Value{InstanceID: in.ID, TemplateID: "missing"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := b.Collection(tt.coll)
			require.NoError(t, err)
			_, err = c.Add(ctx, tt.record)
			assert.ErrorIs(t, err, types.ErrInvalidReference)
			_, err = c.Update(ctx, tt.record)
			assert.ErrorIs(t, err, types.ErrInvalidReference)
		})
	}
}

func TestAddWrongRecordType(t *testing.T) {
	b := newTestBackend(t)
	c, err := b.Collection(types.ValuesCollection)
	require.NoError(t, err)
	_, err = c.Add(context.Background(), &types.Instance{Key: "x"})
	assert.ErrorIs(t, err, types.ErrInvalidData)
}

func TestUpdateIsUpsert(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	c, err := b.Collection(types.SettingsCollection)
	require.NoError(t, err)

	_, err = c.Update(ctx, &types.Setting{Key: "a", Value: []byte(`1`)})
	require.NoError(t, err)
	_, err = c.Update(ctx, &types.Setting{Key: "b", Value: []byte(`2`)})
	require.NoError(t, err)
	_, err = c.Update(ctx, &types.Setting{Key: "a", Value: []byte(`3`)})
	require.NoError(t, err)

	all, err := c.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	first := all[0].(*types.Setting)
	assert.Equal(t, "a", first.Key, "overwrite keeps storage position")
	assert.JSONEq(t, `3`, string(first.Value))
}

func TestUpdateUniqueKeyConflict(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	ot, in := seedInstance(t, b)

	other := &types.Instance{Key: "person:bob", TypeID: ot.ID}
	_, err := b.AddInstance(ctx, other)
	require.NoError(t, err)

	other.Key = in.Key
	_, err = b.UpdateInstance(ctx, other)
	assert.ErrorIs(t, err, types.ErrDuplicateKey)

	in.Name = "Alice Liddell"
	_, err = b.UpdateInstance(ctx, in)
	assert.NoError(t, err, "updating a record keeps its own unique key")
}

func TestGetAndDelete(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	c, err := b.Collection(types.MetaCollection)
	require.NoError(t, err)

	rec, err := c.Get(ctx, "absent")
	assert.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = c.Get(ctx, "")
	assert.NoError(t, err, "the empty key is a missing key")
	assert.Nil(t, rec)
	assert.NoError(t, c.Delete(ctx, ""))

	_, err = c.Add(ctx, &types.MetaEntry{Key: "k", Value: []byte(`"v"`)})
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx, "k"), "delete is idempotent")

	rec, err = c.Get(ctx, "k")
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestQueryByIndex(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	ot, in := seedInstance(t, b)
	name, _ := ot.Attribute("name")
	rel, _ := ot.Attribute("relationships")

	for _, v := range []*types.Value{
		{InstanceID: in.ID, TemplateID: name.ID, Text: "Alice"},
		{InstanceID: in.ID, TemplateID: rel.ID, Kind: types.ValueKindList, Items: []string{"Bob"}, Status: types.ValueStatusConfirmed},
		{InstanceID: in.ID, TemplateID: name.ID, Text: "Al", Status: types.ValueStatusConfirmed},
	} {
		_, err := b.AddValue(ctx, v)
		require.NoError(t, err)
	}

	tests := []struct {
		name  string
		index string
		value string
		want  int
	}{
		{"by instance", types.IndexInstance, in.ID, 3},
		{"by template", types.IndexTemplate, name.ID, 2},
		{"by status", types.IndexStatus, types.ValueStatusConfirmed, 2},
		{"no match", types.IndexStatus, types.ValueStatusRejected, 0},
	}
	c, _ := b.Collection(types.ValuesCollection)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := c.QueryByIndex(ctx, tt.index, tt.value)
			require.NoError(t, err)
			assert.Len(t, recs, tt.want)
		})
	}

	_, err := c.QueryByIndex(ctx, "createdAt", "x")
	assert.ErrorIs(t, err, types.ErrIndexNotFound)

	confirmed, err := c.QueryByIndex(ctx, types.IndexStatus, types.ValueStatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, rel.ID, confirmed[0].(*types.Value).TemplateID, "results are in storage order")
}
