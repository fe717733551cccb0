package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// newTestBackend attaches a backend to a fresh temp directory.
func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b := NewBackend()
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	t.Cleanup(func() { b.Detach() })
	return b
}

// personType returns a minimal object type with a scalar and a list attribute.
func personType() *types.ObjectType {
	return &types.ObjectType{
		Key:   "person",
		Label: "Person",
		Attributes: []types.AttributeTemplate{
			{Key: "name", ValueKind: types.ValueKindScalar, Required: true, MaxLength: 100},
			{Key: "relationships", ValueKind: types.ValueKindList, MaxItems: 10, MaxItemLength: 100},
		},
		DefaultSharing: types.Sharing{Type: types.SharingPerCharacter, Characters: []string{}},
	}
}

// seedInstance stores personType and one instance of it.
func seedInstance(t *testing.T, b *Backend) (*types.ObjectType, *types.Instance) {
	t.Helper()
	ctx := context.Background()
	ot := personType()
	_, err := b.AddObjectType(ctx, ot)
	require.NoError(t, err)
	in := &types.Instance{Key: "person:alice", TypeID: ot.ID, Name: "Alice", Scope: types.CharacterScope("c1")}
	_, err = b.AddInstance(ctx, in)
	require.NoError(t, err)
	return ot, in
}
