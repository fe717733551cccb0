package review

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/memorykit/internal/schema"
	"github.com/mesh-intelligence/memorykit/internal/settings"
	"github.com/mesh-intelligence/memorykit/internal/sqlite"
	"github.com/mesh-intelligence/memorykit/internal/timestamp"
	"github.com/mesh-intelligence/memorykit/pkg/types"
)

type fixture struct {
	backend  *sqlite.Backend
	settings *settings.Manager
	svc      *Service
	person  *types.ObjectType
	alice   *types.Instance
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	b := sqlite.NewBackend()
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	t.Cleanup(func() { b.Detach() })

	sm := settings.New(b, nil)
	reg := schema.New(b, sm, nil)
	_, err := reg.SeedDefaultSchema(ctx)
	require.NoError(t, err)
	person, err := reg.Type(ctx, schema.TypePerson)
	require.NoError(t, err)

	alice := &types.Instance{Key: "person:alice", TypeID: person.ID, Name: "Alice", Scope: types.CharacterScope("c1")}
	_, err = b.AddInstance(ctx, alice)
	require.NoError(t, err)

	clock := func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	svc := New(b, timestamp.NewManager(sm, timestamp.WithClock(clock)), reg,
		WithFlags(settings.NewFlags(settings.BuildProfileDev)), WithAnalysis(sm))
	return &fixture{backend: b, settings: sm, svc: svc, person: person, alice: alice}
}

func (f *fixture) addDiff(t *testing.T, changes ...types.FieldDelta) *types.Diff {
	t.Helper()
	d := &types.Diff{InstanceID: f.alice.ID, Status: types.DiffStatusPending, Changes: changes}
	_, err := f.backend.AddDiff(context.Background(), d)
	require.NoError(t, err)
	return d
}

func scalar(key, text string) types.FieldDelta {
	return types.FieldDelta{AttributeKey: key, Kind: types.ValueKindScalar, Text: text}
}

func confirmedValues(t *testing.T, f *fixture) map[string]*types.Value {
	t.Helper()
	vals, err := f.backend.GetValuesByInstance(context.Background(), f.alice.ID)
	require.NoError(t, err)
	out := map[string]*types.Value{}
	for _, v := range vals {
		if v.Status == types.ValueStatusConfirmed {
			out[v.AttributeKey] = v
		}
	}
	return out
}

func TestApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.addDiff(t,
		scalar("name", "Alice"),
		types.FieldDelta{AttributeKey: "relationships", Kind: types.ValueKindList, Items: []string{"sister of Bob"}},
		types.FieldDelta{AttributeKey: "description", Kind: types.ValueKindScalar, Text: "Tall", StoryTime: "2024-03-05, 14:30"},
	)

	applied, err := f.svc.Apply(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DiffStatusApplied, applied.Status)
	assert.True(t, applied.ValuesWritten)
	require.NotNil(t, applied.AppliedAt)

	stored, err := f.backend.GetDiff(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, stored.ValuesWritten)

	vals := confirmedValues(t, f)
	require.Len(t, vals, 3)
	name := vals["name"]
	assert.Equal(t, ValueID(d.ID, "name"), name.ID)
	assert.Equal(t, "Alice", name.Text)
	assert.Equal(t, d.ID, name.DiffID)
	tmpl, _ := f.person.Attribute("name")
	assert.Equal(t, tmpl.ID, name.TemplateID)
	assert.Equal(t, []string{"sister of Bob"}, vals["relationships"].Items)

	desc := vals["description"]
	require.NotNil(t, desc.Timestamp.StoryTime)
	assert.True(t, desc.Timestamp.HasValidStoryTime())
	assert.Equal(t, types.TimeModeStory, desc.Timestamp.Mode)
	assert.Nil(t, name.Timestamp.StoryTime)

	_, err = f.svc.Apply(ctx, d.ID)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
}

func TestApplySupersedesEarlierValues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.addDiff(t, scalar("description", "Short"))
	_, err := f.svc.Apply(ctx, first.ID)
	require.NoError(t, err)
	second := f.addDiff(t, scalar("description", "Tall"))
	_, err = f.svc.Apply(ctx, second.ID)
	require.NoError(t, err)

	old, err := f.backend.GetValue(ctx, ValueID(first.ID, "description"))
	require.NoError(t, err)
	assert.Equal(t, types.ValueStatusSuperseded, old.Status)

	vals := confirmedValues(t, f)
	require.Len(t, vals, 1)
	assert.Equal(t, "Tall", vals["description"].Text)
}

func TestApplyErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Apply(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = f.svc.Apply(ctx, "")
	assert.ErrorIs(t, err, types.ErrInvalidID)

	bad := f.addDiff(t, scalar("age", "30"))
	_, err = f.svc.Apply(ctx, bad.ID)
	assert.ErrorIs(t, err, types.ErrInvalidReference)

	rejected := f.addDiff(t, scalar("name", "Alice"))
	_, err = f.svc.Reject(ctx, rejected.ID)
	require.NoError(t, err)
	_, err = f.svc.Apply(ctx, rejected.ID)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
}

func TestApplyMissingInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.addDiff(t, scalar("name", "Alice"))

	coll, err := f.backend.Collection(types.InstancesCollection)
	require.NoError(t, err)
	require.NoError(t, coll.Delete(ctx, f.alice.ID))

	_, err = f.svc.Apply(ctx, d.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	stored, err := f.backend.GetDiff(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DiffStatusPending, stored.Status)
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.addDiff(t, scalar("name", "Alice"))

	got, err := f.svc.Reject(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DiffStatusRejected, got.Status)

	_, err = f.svc.Reject(ctx, d.ID)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
	assert.Empty(t, confirmedValues(t, f))
}

func TestRecover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Interrupted after phase one, with one value already written.
	d := f.addDiff(t, scalar("name", "Alice"), scalar("description", "Tall"))
	require.NoError(t, d.MarkApplied())
	_, err := f.backend.UpdateDiff(ctx, d)
	require.NoError(t, err)
	tmpl, _ := f.person.Attribute("name")
	_, err = f.backend.UpdateValue(ctx, &types.Value{
		ID: ValueID(d.ID, "name"), InstanceID: f.alice.ID, TemplateID: tmpl.ID, AttributeKey: "name",
		Kind: types.ValueKindScalar, Text: "Alice", Status: types.ValueStatusConfirmed, DiffID: d.ID,
	})
	require.NoError(t, err)

	pending := f.addDiff(t, scalar("name", "Other"))

	n, err := f.svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.backend.GetDiff(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, stored.ValuesWritten)

	vals, err := f.backend.GetValuesByInstance(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Len(t, vals, 2)

	untouched, err := f.backend.GetDiff(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DiffStatusPending, untouched.Status)

	n, err = f.svc.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecoverResumesThroughApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.addDiff(t, scalar("name", "Alice"))
	require.NoError(t, d.MarkApplied())
	_, err := f.backend.UpdateDiff(ctx, d)
	require.NoError(t, err)

	got, err := f.svc.Apply(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, got.ValuesWritten)
	assert.Len(t, confirmedValues(t, f), 1)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDiff(t, scalar("name", "Alice"))
	d := f.addDiff(t, scalar("description", "Tall"))
	_, err := f.svc.Reject(ctx, d.ID)
	require.NoError(t, err)

	pending, err := f.svc.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	rejected, err := f.svc.List(ctx, types.DiffStatusRejected)
	require.NoError(t, err)
	assert.Len(t, rejected, 1)
	_, err = f.svc.List(ctx, "DONE")
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestManualValues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.svc.AddValue(ctx, ValueInput{InstanceID: f.alice.ID, AttributeKey: "description", Text: "Quiet"})
	require.NoError(t, err)
	assert.Equal(t, types.ValueStatusPending, v.Status)
	assert.NotEmpty(t, v.ID)
	assert.NotEmpty(t, v.Timestamp.RealTime.Timestamp)

	_, err = f.svc.AddValue(ctx, ValueInput{InstanceID: f.alice.ID, AttributeKey: "description", Text: strings.Repeat("x", 301)})
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = f.svc.AddValue(ctx, ValueInput{InstanceID: f.alice.ID, AttributeKey: "age", Text: "3"})
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = f.svc.AddValue(ctx, ValueInput{InstanceID: "nobody", AttributeKey: "name", Text: "x"})
	assert.ErrorIs(t, err, types.ErrNotFound)

	d := f.addDiff(t, scalar("description", "Loud"))
	_, err = f.svc.Apply(ctx, d.ID)
	require.NoError(t, err)

	confirmed, err := f.svc.ConfirmValue(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ValueStatusConfirmed, confirmed.Status)
	vals := confirmedValues(t, f)
	require.Len(t, vals, 1)
	assert.Equal(t, "Quiet", vals["description"].Text)

	_, err = f.svc.ConfirmValue(ctx, v.ID)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	other, err := f.svc.AddValue(ctx, ValueInput{InstanceID: f.alice.ID, AttributeKey: "relationships", Text: "friend of Carol"})
	require.NoError(t, err)
	assert.Equal(t, []string{"friend of Carol"}, other.Items)
	rejected, err := f.svc.RejectValue(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ValueStatusRejected, rejected.Status)

	_, err = f.svc.RejectValue(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestApplyChecksCurrentLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.addDiff(t, scalar("name", strings.Repeat("n", 40)), scalar("description", "Tall"))

	// The limit drops after extraction proposed the diff.
	require.NoError(t, f.settings.Set(ctx, settings.KeyMaxNameLength, 20))

	_, err := f.svc.Apply(ctx, d.ID)
	require.ErrorIs(t, err, types.ErrValidation)
	assert.Contains(t, err.Error(), "name is 40 long, limit 20")

	stored, err := f.backend.GetDiff(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DiffStatusPending, stored.Status)
	assert.False(t, stored.ValuesWritten)
	assert.Empty(t, confirmedValues(t, f))
}

func TestApplyOverLimitDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.addDiff(t, scalar("name", strings.Repeat("n", 250)))

	_, err := f.svc.Apply(ctx, d.ID)
	require.ErrorIs(t, err, types.ErrValidation)
	assert.Empty(t, confirmedValues(t, f))
}

func TestApplyTruncatesWhenEnabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.settings.Set(ctx, settings.KeyAutoTruncateLongAttributes, true))
	require.NoError(t, f.settings.Set(ctx, settings.KeyMaxNameLength, 20))
	d := f.addDiff(t, scalar("name", strings.Repeat("n", 40)))

	applied, err := f.svc.Apply(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, utf8.RuneCountInString(applied.Changes[0].Text))

	name := confirmedValues(t, f)["name"]
	require.NotNil(t, name)
	assert.Equal(t, 20, utf8.RuneCountInString(name.Text))
	assert.True(t, strings.HasSuffix(name.Text, settings.Ellipsis))

	stored, err := f.backend.GetDiff(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, name.Text, stored.Changes[0].Text)
}

func TestApplyUnlimitedOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.settings.SetUnlimitedLength(ctx, "name", true))
	d := f.addDiff(t, scalar("name", strings.Repeat("n", 250)))

	_, err := f.svc.Apply(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, confirmedValues(t, f)["name"].Text, 250)
}
