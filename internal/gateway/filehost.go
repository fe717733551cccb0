package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// transcript is the object form of a chat file.
type transcript struct {
	ID                 string         `json:"id"`
	Messages           []Message      `json:"messages"`
	Characters         []Character    `json:"characters"`
	CurrentCharacterID string         `json:"currentCharacterId"`
	Settings           map[string]any `json:"settings"`
}

// FileHost serves a chat transcript read from a JSON file. The file is
// either {"id", "messages", ...} or a bare array of messages, in which case
// the chat id is the file name without its extension.
type FileHost struct {
	chat       Chat
	characters Characters
	settings   map[string]any
	counter    TokenCounter
	sender     Sender
}

// FileHostOption configures a FileHost.
type FileHostOption func(*FileHost)

// WithTokenCounter sets the tokenizer used by CountTokens.
func WithTokenCounter(c TokenCounter) FileHostOption {
	return func(h *FileHost) { h.counter = c }
}

// WithSender sets the generation backend used by Send.
func WithSender(s Sender) FileHostOption {
	return func(h *FileHost) { h.sender = s }
}

// NewFileHost serves chat directly. An empty chat is used by callers that
// only need the tokenizer and sender.
func NewFileHost(chat Chat, opts ...FileHostOption) *FileHost {
	if chat.Current == nil {
		chat.Current = []Message{}
	}
	h := &FileHost{
		chat:       chat,
		characters: Characters{List: []Character{}},
		settings:   map[string]any{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// LoadFileHost reads a transcript file.
func LoadFileHost(path string, opts ...FileHostOption) (*FileHost, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}
	h, err := ParseTranscript(data, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ParseTranscript decodes transcript data. defaultID names a bare array.
func ParseTranscript(data []byte, defaultID string) (*FileHost, error) {
	data = bytes.TrimSpace(data)
	var t transcript
	switch {
	case len(data) > 0 && data[0] == '[':
		if err := json.Unmarshal(data, &t.Messages); err != nil {
			return nil, fmt.Errorf("decoding messages: %w", types.ErrInvalidData)
		}
	default:
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("decoding transcript: %w", types.ErrInvalidData)
		}
	}
	if t.ID == "" {
		t.ID = defaultID
	}
	if t.Messages == nil {
		t.Messages = []Message{}
	}
	if t.Characters == nil {
		t.Characters = []Character{}
	}
	if t.Settings == nil {
		t.Settings = map[string]any{}
	}
	return &FileHost{
		chat:       Chat{ID: t.ID, Current: t.Messages},
		characters: Characters{List: t.Characters, CurrentID: t.CurrentCharacterID},
		settings:   t.Settings,
	}, nil
}

// Chat implements Host.
func (h *FileHost) Chat(context.Context) (Chat, error) {
	return h.chat, nil
}

// CountTokens implements TokenCounter. Without a configured tokenizer it
// reports ErrUnsupportedCapability so the bridge estimates instead.
func (h *FileHost) CountTokens(ctx context.Context, text string) (int, error) {
	if h.counter == nil {
		return 0, types.ErrUnsupportedCapability
	}
	return h.counter.CountTokens(ctx, text)
}

// Send implements Sender.
func (h *FileHost) Send(ctx context.Context, req SendRequest) (SendResponse, error) {
	if h.sender == nil {
		return SendResponse{}, fmt.Errorf("send: %w", types.ErrUnsupportedCapability)
	}
	return h.sender.Send(ctx, req)
}

// Characters implements CharacterSource.
func (h *FileHost) Characters(context.Context) (Characters, error) {
	return h.characters, nil
}

// ExtensionSettings implements SettingsSource.
func (h *FileHost) ExtensionSettings(context.Context) (map[string]any, error) {
	return h.settings, nil
}

var (
	_ Host            = (*FileHost)(nil)
	_ TokenCounter    = (*FileHost)(nil)
	_ Sender          = (*FileHost)(nil)
	_ CharacterSource = (*FileHost)(nil)
	_ SettingsSource  = (*FileHost)(nil)
	_ TokenCounter    = (*TiktokenCounter)(nil)
	_ Sender          = (*OpenAISender)(nil)
)
