package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/memorykit/internal/extract"
	"github.com/mesh-intelligence/memorykit/internal/gateway"
	"github.com/mesh-intelligence/memorykit/internal/logging"
	"github.com/mesh-intelligence/memorykit/internal/retrieval"
	"github.com/mesh-intelligence/memorykit/pkg/types"
)

type cannedSender struct{ reply string }

func (s cannedSender) Send(context.Context, gateway.SendRequest) (gateway.SendResponse, error) {
	return gateway.SendResponse{Text: s.reply}, nil
}

func openTest(t *testing.T, dir string, host gateway.Host) *App {
	t.Helper()
	a, err := Open(context.Background(), Config{
		DataDir:      dir,
		BuildProfile: "RELEASE",
		Fetcher:      FetcherConfig{MinTokens: 5, CarryoverK: 1, Concurrency: 2},
	}, WithLogger(logging.Nop()), WithHost(host))
	require.NoError(t, err)
	return a
}

func transcriptHost(t *testing.T, reply string) gateway.Host {
	t.Helper()
	h, err := gateway.ParseTranscript([]byte(`{"id":"chat-1","messages":[
		"Alice arrived at the Rusty Inn.",
		{"mes":"She ordered tea and sat by the fire."},
		{"text":"Bob waved from the bar."}]}`), "")
	require.NoError(t, err)
	gateway.WithSender(cannedSender{reply: reply})(h)
	return h
}

func TestPipeline(t *testing.T) {
	reply := `{"objects":[{"type":"person","name":"Alice","attributes":{"description":"Drinks tea by the fire"}}]}`
	a := openTest(t, t.TempDir(), transcriptHost(t, reply))
	t.Cleanup(func() { a.Close() })
	ctx := context.Background()

	all, err := a.Schema.Types(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.False(t, a.Flags.Enabled("CONSOLE_AUDIT"))

	batch, err := a.Batch(ctx, "chat-1", 0, -1)
	require.NoError(t, err)
	assert.False(t, batch.IsEmpty)
	assert.Equal(t, 1, batch.From)
	assert.Equal(t, 3, batch.To)
	require.Len(t, batch.NewMessages, 1)
	require.Len(t, batch.CarryoverMessages, 1)
	assert.Equal(t, "Bob waved from the bar.", batch.CarryoverMessages[0].Text)

	res, err := a.Extractor.Extract(ctx, extract.RequestFromBatch(batch, types.CharacterScope("c1")))
	require.NoError(t, err)
	require.Len(t, res.Diffs, 1)

	_, err = a.Review.Apply(ctx, res.Diffs[0].ID)
	require.NoError(t, err)

	resp, err := a.Retrieval.Query(ctx, retrieval.QueryRequest{Scope: retrieval.Scope{CharacterID: "c1"}, Query: "tea"})
	require.NoError(t, err)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "Drinks tea by the fire", resp.Hint["person"][0]["description"])
}

func TestOpenRecoversInterruptedApply(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	host := transcriptHost(t, `{"objects":[]}`)

	a := openTest(t, dir, host)
	person, err := a.Schema.Type(ctx, "person")
	require.NoError(t, err)
	in := &types.Instance{Key: "person:alice", TypeID: person.ID, Scope: types.GlobalScope()}
	_, err = a.Store.AddInstance(ctx, in)
	require.NoError(t, err)
	d := &types.Diff{InstanceID: in.ID, Changes: []types.FieldDelta{{AttributeKey: "name", Kind: types.ValueKindScalar, Text: "Alice"}}}
	_, err = a.Store.AddDiff(ctx, d)
	require.NoError(t, err)
	require.NoError(t, d.MarkApplied())
	_, err = a.Store.UpdateDiff(ctx, d)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b := openTest(t, dir, host)
	t.Cleanup(func() { b.Close() })
	assert.Equal(t, 1, b.Recovered)

	vals, err := b.Store.GetValuesByInstance(ctx, in.ID)
	require.NoError(t, err)
	require.Len(t, vals, 1)
	assert.Equal(t, types.ValueStatusConfirmed, vals[0].Status)
}

func TestOpenRejectsBadDataDir(t *testing.T) {
	_, err := Open(context.Background(), Config{DataDir: "/dev/null/memorykit"}, WithLogger(logging.Nop()))
	assert.Error(t, err)
}

func TestStartRecovery(t *testing.T) {
	a := openTest(t, t.TempDir(), transcriptHost(t, `{"objects":[]}`))
	t.Cleanup(func() { a.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := a.StartRecovery(ctx, "not a schedule")
	assert.Error(t, err)

	r, err := a.StartRecovery(ctx, "")
	require.NoError(t, err)
	r.Stop()
	r.Stop()
}

func TestStopReleasesWatcher(t *testing.T) {
	a := openTest(t, t.TempDir(), transcriptHost(t, `{"objects":[]}`))
	t.Cleanup(func() { a.Close() })

	r, err := a.StartRecovery(context.Background(), "@every 1h")
	require.NoError(t, err)
	r.Stop()
	select {
	case <-r.watching:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher still waiting on a context that is never cancelled")
	}
}

func TestCancelStopsRecovery(t *testing.T) {
	a := openTest(t, t.TempDir(), transcriptHost(t, `{"objects":[]}`))
	t.Cleanup(func() { a.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	r, err := a.StartRecovery(ctx, "@every 1h")
	require.NoError(t, err)
	cancel()
	select {
	case <-r.watching:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
	r.Stop()
}
