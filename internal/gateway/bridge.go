// Package gateway is the boundary to the host chat application: the active
// chat and its messages, token counting, generation requests, characters
// and extension settings. Hosts implement Host plus any of the optional
// capability interfaces; Bridge exposes a uniform surface over them.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/memorykit/internal/logging"
	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// Chat is the host's currently active chat.
type Chat struct {
	ID      string    `json:"id"`
	Current []Message `json:"current"`
}

// Host is the one capability every host must provide.
type Host interface {
	Chat(ctx context.Context) (Chat, error)
}

// TokenCounter counts tokens in text. Returning ErrUnsupportedCapability
// means the host has no tokenizer.
type TokenCounter interface {
	CountTokens(ctx context.Context, text string) (int, error)
}

// SendRequest is a single generation request.
type SendRequest struct {
	System      string  `json:"system"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
}

// SendResponse carries the generated text.
type SendResponse struct {
	Text string `json:"text"`
}

// Sender performs generation requests.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (SendResponse, error)
}

// Character is a host persona.
type Character struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Characters lists the host personas and the active one.
type Characters struct {
	List      []Character `json:"list"`
	CurrentID string      `json:"currentId"`
}

// CharacterSource lists host personas.
type CharacterSource interface {
	Characters(ctx context.Context) (Characters, error)
}

// SettingsSource exposes the extension's host-side settings.
type SettingsSource interface {
	ExtensionSettings(ctx context.Context) (map[string]any, error)
}

// Translator localizes user-facing strings.
type Translator interface {
	Translate(text string) string
}

// Utils groups helper functions offered to callers.
type Utils struct {
	NewID     func() string
	Translate func(string) string
}

// Bridge wraps a Host. Every method returns ErrNotInitialized until Init
// has been called.
type Bridge struct {
	mu     sync.RWMutex
	host   Host
	logger *logging.Logger
}

// NewBridge creates an uninitialized bridge.
func NewBridge(logger *logging.Logger) *Bridge {
	return &Bridge{logger: logging.OrNop(logger).With("component", "gateway")}
}

// Init binds the bridge to host.
func (b *Bridge) Init(host Host) error {
	if host == nil {
		return fmt.Errorf("gateway host: %w", types.ErrInvalidData)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.host = host
	return nil
}

func (b *Bridge) current() (Host, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.host == nil {
		return nil, fmt.Errorf("gateway: %w", types.ErrNotInitialized)
	}
	return b.host, nil
}

// Chat returns the active chat.
func (b *Bridge) Chat(ctx context.Context) (Chat, error) {
	host, err := b.current()
	if err != nil {
		return Chat{}, err
	}
	chat, err := host.Chat(ctx)
	if err != nil {
		b.logger.Error("reading chat failed", "error", err)
		return Chat{}, err
	}
	return chat, nil
}

// TokenCount counts tokens with the host tokenizer, or estimates
// ceil(characters/4) when the host has none. Tokenizer errors are returned.
func (b *Bridge) TokenCount(ctx context.Context, text string) (int, error) {
	host, err := b.current()
	if err != nil {
		return 0, err
	}
	counter, ok := host.(TokenCounter)
	if !ok {
		return EstimateTokens(text), nil
	}
	n, err := counter.CountTokens(ctx, text)
	if errors.Is(err, types.ErrUnsupportedCapability) {
		return EstimateTokens(text), nil
	}
	if err != nil {
		b.logger.Error("token count failed", "error", err)
		return 0, err
	}
	return n, nil
}

// Send issues a generation request. Hosts without a Sender return
// ErrUnsupportedCapability.
func (b *Bridge) Send(ctx context.Context, req SendRequest) (SendResponse, error) {
	host, err := b.current()
	if err != nil {
		return SendResponse{}, err
	}
	sender, ok := host.(Sender)
	if !ok {
		return SendResponse{}, fmt.Errorf("send: %w", types.ErrUnsupportedCapability)
	}
	resp, err := sender.Send(ctx, req)
	if err != nil {
		b.logger.Error("send failed", "error", err)
		return SendResponse{}, err
	}
	return resp, nil
}

// Characters returns the host personas, or an empty list when the host
// has none.
func (b *Bridge) Characters(ctx context.Context) (Characters, error) {
	host, err := b.current()
	if err != nil {
		return Characters{}, err
	}
	src, ok := host.(CharacterSource)
	if !ok {
		return Characters{List: []Character{}}, nil
	}
	return src.Characters(ctx)
}

// Settings returns the extension settings, or an empty map.
func (b *Bridge) Settings(ctx context.Context) (map[string]any, error) {
	host, err := b.current()
	if err != nil {
		return nil, err
	}
	src, ok := host.(SettingsSource)
	if !ok {
		return map[string]any{}, nil
	}
	return src.ExtensionSettings(ctx)
}

// Utils returns helper functions. Translate is the identity unless the
// host implements Translator.
func (b *Bridge) Utils() (Utils, error) {
	host, err := b.current()
	if err != nil {
		return Utils{}, err
	}
	u := Utils{
		NewID:     newID,
		Translate: func(s string) string { return s },
	}
	if tr, ok := host.(Translator); ok {
		u.Translate = tr.Translate
	}
	return u, nil
}

// EstimateTokens approximates a token count as ceil(characters/4).
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
