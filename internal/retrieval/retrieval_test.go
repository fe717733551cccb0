package retrieval

import (
	"context"
	"encoding/json"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/memorykit/internal/extract"
	"github.com/mesh-intelligence/memorykit/internal/schema"
	"github.com/mesh-intelligence/memorykit/internal/settings"
	"github.com/mesh-intelligence/memorykit/internal/sqlite"
	"github.com/mesh-intelligence/memorykit/internal/timestamp"
	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// fakeExtractor records requests.
type fakeExtractor struct {
	requests []extract.Request
}

func (f *fakeExtractor) Extract(_ context.Context, req extract.Request) (*extract.Result, error) {
	f.requests = append(f.requests, req)
	return &extract.Result{Profile: settings.ProfileFactOnly}, nil
}

type fixture struct {
	backend  *sqlite.Backend
	settings *settings.Manager
	stamps   *timestamp.Manager
	person   *types.ObjectType
	location *types.ObjectType
	svc      *Service
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
	location, err := reg.Type(ctx, schema.TypeLocation)
	require.NoError(t, err)
	return &fixture{
		backend:  b,
		settings: sm,
		stamps:   timestamp.NewManager(sm),
		person:   person,
		location: location,
		svc:      New(&fakeExtractor{}, b, sm, nil),
	}
}

// fact stores an instance with confirmed scalar values.
func (f *fixture) fact(t *testing.T, ot *types.ObjectType, name string, scope types.Scope, realMs int64, story string, attrs map[string]string) *types.Instance {
	t.Helper()
	ctx := context.Background()
	in := &types.Instance{Key: ot.Key + ":" + name, TypeID: ot.ID, Name: name, Scope: scope}
	_, err := f.backend.AddInstance(ctx, in)
	require.NoError(t, err)
	for key, text := range attrs {
		tmpl, ok := ot.Attribute(key)
		require.True(t, ok, key)
		ts, err := f.stamps.Create(ctx, story, time.UnixMilli(realMs))
		require.NoError(t, err)
		_, err = f.backend.AddValue(ctx, &types.Value{
			InstanceID: in.ID, TemplateID: tmpl.ID, AttributeKey: key, Kind: tmpl.ValueKind,
			Text: text, Status: types.ValueStatusConfirmed, Timestamp: ts,
		})
		require.NoError(t, err)
	}
	return in
}

func TestIngest(t *testing.T) {
	f := newFixture(t)
	ext := &fakeExtractor{}
	svc := New(ext, f.backend, f.settings, nil)

	_, err := svc.Ingest(context.Background(), IngestRequest{
		Scope: Scope{CharacterID: "c1"},
		Text:  "Alice smiled.",
		Meta:  &IngestMeta{MessageID: "m-7", TS: 1700000000000},
	})
	require.NoError(t, err)
	require.Len(t, ext.requests, 1)
	req := ext.requests[0]
	assert.Equal(t, types.CharacterScope("c1"), req.Scope)
	assert.Equal(t, "m-7", req.ChatID)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), req.At)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "Alice smiled.", req.Messages[0].Text)
	assert.Equal(t, 0, req.From)
	assert.Equal(t, 1, req.To)

	_, err = svc.Ingest(context.Background(), IngestRequest{Scope: Scope{Global: true}, Text: "Rain."})
	require.NoError(t, err)
	assert.Equal(t, types.GlobalScope(), ext.requests[1].Scope)

	_, err = svc.Ingest(context.Background(), IngestRequest{Text: "  "})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestQueryScoresAndScopes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.fact(t, f.person, "alice", types.CharacterScope("c1"), 1000, "", map[string]string{"name": "Alice", "description": "Red coat"})
	f.fact(t, f.person, "bob", types.CharacterScope("c2"), 1000, "", map[string]string{"name": "Bob", "description": "Red hat"})
	inn := f.fact(t, f.location, "inn", types.GlobalScope(), 1000, "", map[string]string{"name": "Rusty Inn", "description": "Red door"})

	resp, err := f.svc.Query(ctx, QueryRequest{Scope: Scope{CharacterID: "c1"}, Query: "alice red"})
	require.NoError(t, err)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, Source{ID: alice.ID, Score: 1}, resp.Sources[0])
	assert.Equal(t, Source{ID: inn.ID, Score: 0.5}, resp.Sources[1])
	require.Len(t, resp.Hint["person"], 1)
	assert.Equal(t, "Red coat", resp.Hint["person"][0]["description"])
	require.Len(t, resp.Hint["location"], 1)

	b, err := json.Marshal(resp.Hint["person"][0])
	require.NoError(t, err)
	c, err := json.Marshal(resp.Hint["location"][0])
	require.NoError(t, err)
	assert.Equal(t, len(b)+len(c), resp.ApproxChars)

	// Without a character only global instances are visible.
	resp, err = f.svc.Query(ctx, QueryRequest{Query: ""})
	require.NoError(t, err)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, inn.ID, resp.Sources[0].ID)
	assert.Equal(t, 1.0, resp.Sources[0].Score)

	resp, err = f.svc.Query(ctx, QueryRequest{Scope: Scope{CharacterID: "c1"}, Query: "dragon"})
	require.NoError(t, err)
	assert.Empty(t, resp.Sources)
	assert.Zero(t, resp.ApproxChars)
}

func TestQueryOrdersByTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	global := types.GlobalScope()
	older := f.fact(t, f.person, "ann", global, 5000, "2024-01-01", map[string]string{"name": "Ann"})
	newer := f.fact(t, f.person, "cat", global, 1000, "2024-06-01", map[string]string{"name": "Cat"})

	resp, err := f.svc.Query(ctx, QueryRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, newer.ID, resp.Sources[0].ID, "story mode orders by story time")

	require.NoError(t, f.settings.SetTimeMode(ctx, types.TimeModeReal))
	resp, err = f.svc.Query(ctx, QueryRequest{})
	require.NoError(t, err)
	assert.Equal(t, older.ID, resp.Sources[0].ID, "real mode orders by wall clock")
}

func TestQueryLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, n := range []string{"a", "b", "c", "d"} {
		f.fact(t, f.person, n, types.GlobalScope(), 1000, "", map[string]string{"name": n})
	}

	resp, err := f.svc.Query(ctx, QueryRequest{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, resp.Sources, 3)

	one, err := json.Marshal(resp.Hint["person"][0])
	require.NoError(t, err)
	resp, err = f.svc.Query(ctx, QueryRequest{MaxChars: len(one) + 1})
	require.NoError(t, err)
	assert.Len(t, resp.Sources, 1)
	assert.LessOrEqual(t, resp.ApproxChars, len(one)+1)
}

func TestQueryBudgetCountsCharacters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fact(t, f.location, "cafe", types.GlobalScope(), 1000, "", map[string]string{"name": "Café Öl", "description": "Тихое место у моря ☕"})

	resp, err := f.svc.Query(ctx, QueryRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Sources, 1)
	b, err := json.Marshal(resp.Hint["location"][0])
	require.NoError(t, err)
	chars := utf8.RuneCount(b)
	require.Less(t, chars, len(b))
	assert.Equal(t, chars, resp.ApproxChars)

	resp, err = f.svc.Query(ctx, QueryRequest{MaxChars: chars})
	require.NoError(t, err)
	assert.Len(t, resp.Sources, 1, "a hint of exactly maxChars characters fits")
}

func TestQuerySkipsUnconfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := &types.Instance{Key: "person:eve", TypeID: f.person.ID, Name: "Eve", Scope: types.GlobalScope()}
	_, err := f.backend.AddInstance(ctx, in)
	require.NoError(t, err)
	tmpl, _ := f.person.Attribute("name")
	_, err = f.backend.AddValue(ctx, &types.Value{
		InstanceID: in.ID, TemplateID: tmpl.ID, AttributeKey: "name", Kind: types.ValueKindScalar,
		Text: "Eve", Status: types.ValueStatusPending,
	})
	require.NoError(t, err)

	resp, err := f.svc.Query(ctx, QueryRequest{Query: "eve"})
	require.NoError(t, err)
	assert.Empty(t, resp.Sources)
}

func TestScore(t *testing.T) {
	assert.Equal(t, 1.0, Score(nil, "anything"))
	assert.Equal(t, 0.5, Score([]string{"red", "blue"}, "A RED coat"))
	assert.Equal(t, 0.0, Score([]string{"green"}, "A red coat"))
}
