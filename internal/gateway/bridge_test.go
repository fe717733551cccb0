package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// chatOnly is a host with no optional capabilities.
type chatOnly struct{ chat Chat }

func (h chatOnly) Chat(context.Context) (Chat, error) { return h.chat, nil }

// fullHost implements every capability.
type fullHost struct {
	chatOnly
	tokens  int
	tokErr  error
	sent    []SendRequest
	reply   string
	sendErr error
}

func (h *fullHost) CountTokens(context.Context, string) (int, error) { return h.tokens, h.tokErr }

func (h *fullHost) Send(_ context.Context, req SendRequest) (SendResponse, error) {
	h.sent = append(h.sent, req)
	return SendResponse{Text: h.reply}, h.sendErr
}

func (h *fullHost) Characters(context.Context) (Characters, error) {
	return Characters{List: []Character{{ID: "c1", Name: "Ann"}}, CurrentID: "c1"}, nil
}

func (h *fullHost) ExtensionSettings(context.Context) (map[string]any, error) {
	return map[string]any{"enabled": true}, nil
}

func (h *fullHost) Translate(s string) string { return strings.ToUpper(s) }

func TestBridgeNotInitialized(t *testing.T) {
	b := NewBridge(nil)
	ctx := context.Background()

	_, err := b.Chat(ctx)
	assert.ErrorIs(t, err, types.ErrNotInitialized)
	_, err = b.TokenCount(ctx, "x")
	assert.ErrorIs(t, err, types.ErrNotInitialized)
	_, err = b.Send(ctx, SendRequest{})
	assert.ErrorIs(t, err, types.ErrNotInitialized)
	_, err = b.Characters(ctx)
	assert.ErrorIs(t, err, types.ErrNotInitialized)
	_, err = b.Settings(ctx)
	assert.ErrorIs(t, err, types.ErrNotInitialized)
	_, err = b.Utils()
	assert.ErrorIs(t, err, types.ErrNotInitialized)

	assert.ErrorIs(t, b.Init(nil), types.ErrInvalidData)
}

func TestBridgeWithoutCapabilities(t *testing.T) {
	b := NewBridge(nil)
	require.NoError(t, b.Init(chatOnly{chat: Chat{ID: "c", Current: []Message{{Text: "hi"}}}}))
	ctx := context.Background()

	chat, err := b.Chat(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", chat.ID)

	n, err := b.TokenCount(ctx, "abcdefghi")
	require.NoError(t, err)
	assert.Equal(t, 3, n, "ceil(9/4)")

	_, err = b.Send(ctx, SendRequest{Prompt: "x"})
	assert.ErrorIs(t, err, types.ErrUnsupportedCapability)

	chars, err := b.Characters(ctx)
	require.NoError(t, err)
	assert.Empty(t, chars.List)

	s, err := b.Settings(ctx)
	require.NoError(t, err)
	assert.Empty(t, s)

	u, err := b.Utils()
	require.NoError(t, err)
	assert.Equal(t, "same", u.Translate("same"))
	assert.NotEqual(t, u.NewID(), u.NewID())
}

func TestBridgeWithCapabilities(t *testing.T) {
	host := &fullHost{tokens: 7, reply: "ok"}
	b := NewBridge(nil)
	require.NoError(t, b.Init(host))
	ctx := context.Background()

	n, err := b.TokenCount(ctx, "anything")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	resp, err := b.Send(ctx, SendRequest{System: "s", Prompt: "p", Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	require.Len(t, host.sent, 1)
	assert.Equal(t, 0.2, host.sent[0].Temperature)

	chars, err := b.Characters(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c1", chars.CurrentID)

	u, err := b.Utils()
	require.NoError(t, err)
	assert.Equal(t, "HI", u.Translate("hi"))
}

func TestBridgeSurfacesErrors(t *testing.T) {
	boom := errors.New("tokenizer down")
	host := &fullHost{tokErr: boom, sendErr: errors.New("rate limited")}
	b := NewBridge(nil)
	require.NoError(t, b.Init(host))
	ctx := context.Background()

	_, err := b.TokenCount(ctx, "x")
	assert.ErrorIs(t, err, boom)
	_, err = b.Send(ctx, SendRequest{})
	assert.EqualError(t, err, "rate limited")

	host.tokErr = types.ErrUnsupportedCapability
	n, err := b.TokenCount(ctx, "abcd")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "an unsupported tokenizer falls back to the estimate")
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("a"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 1, EstimateTokens("äöüß"), "counts characters, not bytes")
}
