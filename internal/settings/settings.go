// Package settings manages user-facing runtime settings: attribute length
// limits, truncation, time mode and analysis preferences. Settings are
// persisted in the store's settings collection; a key that was never set
// reads as its default.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/mesh-intelligence/memorykit/internal/logging"
	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// Setting keys.
const (
	KeyMaxAttributeLength   = "maxAttributeLength"
	KeyMaxNameLength        = "maxNameLength"
	KeyMaxDescriptionLength = "maxDescriptionLength"
	KeyMaxListItems         = "maxListItems"
	KeyAllowUnlimitedLength = "allowUnlimitedLength"

	KeyTimeMode        = "timeMode"
	KeyStoryTimeFormat = "storyTimeFormat"
	KeyRealTimeFormat  = "realTimeFormat"

	KeyDefaultAnalysisProfile     = "defaultAnalysisProfile"
	KeyAutoTruncateLongAttributes = "autoTruncateLongAttributes"
	KeyWarnOnLongAttributes       = "warnOnLongAttributes"
	KeyEnableLLMRephrasing        = "enableLLMRephrasing"

	KeyShowCharacterCount = "showCharacterCount"
	KeyShowTimeMode       = "showTimeMode"
	KeyCompactMode        = "compactMode"
)

// ExportVersion is written into every settings export.
const ExportVersion = "1.0.0"

var defaults = map[string]any{
	KeyMaxAttributeLength:   500,
	KeyMaxNameLength:        100,
	KeyMaxDescriptionLength: 300,
	KeyMaxListItems:         10,
	KeyAllowUnlimitedLength: true,

	KeyTimeMode:        types.TimeModeStory,
	KeyStoryTimeFormat: "YYYY-MM-DD, HH:mm",
	KeyRealTimeFormat:  "ISO",

	KeyDefaultAnalysisProfile:     DefaultProfile,
	KeyAutoTruncateLongAttributes: false,
	KeyWarnOnLongAttributes:       true,
	KeyEnableLLMRephrasing:        false,

	KeyShowCharacterCount: true,
	KeyShowTimeMode:       true,
	KeyCompactMode:        false,
}

// Defaults returns a copy of the default settings.
func Defaults() map[string]any {
	return maps.Clone(defaults)
}

// Keys returns every known setting key in sorted order.
func Keys() []string {
	return slices.Sorted(maps.Keys(defaults))
}

// IsKnown reports whether key is a recognized setting.
func IsKnown(key string) bool {
	_, ok := defaults[key]
	return ok
}

// Store is the persistence the manager needs.
type Store interface {
	GetSetting(ctx context.Context, key string) (*types.Setting, error)
	SetSetting(ctx context.Context, key string, value any) error
}

// Manager reads and writes settings through a Store.
type Manager struct {
	store  Store
	logger *logging.Logger
}

// New creates a Manager over store. A nil logger logs nothing.
func New(store Store, logger *logging.Logger) *Manager {
	return &Manager{store: store, logger: logging.OrNop(logger).With("component", "settings")}
}

// Get returns the current value of key, or its default when unset. Stored
// values that no longer decode to the default's type read as the default.
func (m *Manager) Get(ctx context.Context, key string) (any, error) {
	def, ok := defaults[key]
	if !ok {
		return nil, fmt.Errorf("setting %q: %w", key, types.ErrValidation)
	}
	s, err := m.store.GetSetting(ctx, key)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return def, nil
	}
	v, err := decodeAs(def, s.Value)
	if err != nil {
		m.logger.Warn("stored setting unreadable, using default", "key", key, "error", err)
		return def, nil
	}
	return v, nil
}

// GetInt returns an integer setting.
func (m *Manager) GetInt(ctx context.Context, key string) (int, error) {
	v, err := m.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("setting %q is not an integer: %w", key, types.ErrValidation)
	}
	return n, nil
}

// GetBool returns a boolean setting.
func (m *Manager) GetBool(ctx context.Context, key string) (bool, error) {
	v, err := m.Get(ctx, key)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("setting %q is not a boolean: %w", key, types.ErrValidation)
	}
	return b, nil
}

// GetString returns a string setting.
func (m *Manager) GetString(ctx context.Context, key string) (string, error) {
	v, err := m.Get(ctx, key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("setting %q is not a string: %w", key, types.ErrValidation)
	}
	return s, nil
}

// Set validates and stores value under key. Unknown keys, values of the
// wrong type, negative limits and invalid time modes return an error
// wrapping ErrValidation and leave the stored value unchanged.
func (m *Manager) Set(ctx context.Context, key string, value any) error {
	v, err := normalize(key, value)
	if err != nil {
		return err
	}
	if err := m.store.SetSetting(ctx, key, v); err != nil {
		m.logger.Error("storing setting failed", "key", key, "error", err)
		return err
	}
	return nil
}

// GetAll returns every known setting with its current value.
func (m *Manager) GetAll(ctx context.Context) (map[string]any, error) {
	out := make(map[string]any, len(defaults))
	for key := range defaults {
		v, err := m.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

// ResetToDefaults writes every default value.
func (m *Manager) ResetToDefaults(ctx context.Context) error {
	for _, key := range Keys() {
		if err := m.store.SetSetting(ctx, key, defaults[key]); err != nil {
			return err
		}
	}
	m.logger.Info("settings reset to defaults")
	return nil
}

// TimeModeSettings groups the time presentation settings.
type TimeModeSettings struct {
	Mode        string `json:"mode"`
	StoryFormat string `json:"storyFormat"`
	RealFormat  string `json:"realFormat"`
}

// TimeModeSettings returns the current time mode and formats.
func (m *Manager) TimeModeSettings(ctx context.Context) (TimeModeSettings, error) {
	var (
		out TimeModeSettings
		err error
	)
	if out.Mode, err = m.GetString(ctx, KeyTimeMode); err != nil {
		return out, err
	}
	if out.StoryFormat, err = m.GetString(ctx, KeyStoryTimeFormat); err != nil {
		return out, err
	}
	out.RealFormat, err = m.GetString(ctx, KeyRealTimeFormat)
	return out, err
}

// TimeMode returns the current ordering mode.
func (m *Manager) TimeMode(ctx context.Context) (string, error) {
	return m.GetString(ctx, KeyTimeMode)
}

// SetTimeMode stores the ordering mode. An unknown mode returns
// ErrInvalidTimeMode and the stored mode is unchanged.
func (m *Manager) SetTimeMode(ctx context.Context, mode string) error {
	return m.Set(ctx, KeyTimeMode, mode)
}

// AnalysisSettings groups the extraction preferences.
type AnalysisSettings struct {
	DefaultProfile   string `json:"defaultProfile"`
	AutoTruncate     bool   `json:"autoTruncate"`
	WarnOnLong       bool   `json:"warnOnLong"`
	EnableRephrasing bool   `json:"enableRephrasing"`
}

// AnalysisSettings returns the current extraction preferences.
func (m *Manager) AnalysisSettings(ctx context.Context) (AnalysisSettings, error) {
	var (
		out AnalysisSettings
		err error
	)
	if out.DefaultProfile, err = m.GetString(ctx, KeyDefaultAnalysisProfile); err != nil {
		return out, err
	}
	if out.AutoTruncate, err = m.GetBool(ctx, KeyAutoTruncateLongAttributes); err != nil {
		return out, err
	}
	if out.WarnOnLong, err = m.GetBool(ctx, KeyWarnOnLongAttributes); err != nil {
		return out, err
	}
	out.EnableRephrasing, err = m.GetBool(ctx, KeyEnableLLMRephrasing)
	return out, err
}

// Export is the settings backup format.
type Export struct {
	Version    string         `json:"version"`
	ExportedAt string         `json:"exportedAt"`
	Settings   map[string]any `json:"settings"`
}

// Export returns every current setting for backup.
func (m *Manager) Export(ctx context.Context) (Export, error) {
	all, err := m.GetAll(ctx)
	if err != nil {
		return Export{}, err
	}
	return Export{
		Version:    ExportVersion,
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Settings:   all,
	}, nil
}

// Import merges an export produced by Export. The data must contain a
// settings object; only known keys are applied and all of them are
// validated before anything is written. It returns the number of settings
// applied.
func (m *Manager) Import(ctx context.Context, data []byte) (int, error) {
	var exp Export
	if err := json.Unmarshal(data, &exp); err != nil {
		return 0, fmt.Errorf("invalid settings export format: %w", types.ErrValidation)
	}
	if exp.Settings == nil {
		return 0, fmt.Errorf("invalid settings export format: missing settings: %w", types.ErrValidation)
	}

	pending := make(map[string]any)
	for key, value := range exp.Settings {
		if !IsKnown(key) {
			m.logger.Debug("ignoring unknown imported setting", "key", key)
			continue
		}
		v, err := normalize(key, value)
		if err != nil {
			return 0, err
		}
		pending[key] = v
	}
	for _, key := range slices.Sorted(maps.Keys(pending)) {
		if err := m.store.SetSetting(ctx, key, pending[key]); err != nil {
			return 0, err
		}
	}
	m.logger.Info("settings imported", "count", len(pending))
	return len(pending), nil
}

// normalize converts value to the type of the key's default and applies
// per-key rules.
func normalize(key string, value any) (any, error) {
	def, ok := defaults[key]
	if !ok {
		return nil, fmt.Errorf("setting %q: %w", key, types.ErrValidation)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("setting %q: %w", key, types.ErrValidation)
	}
	v, err := decodeAs(def, raw)
	if err != nil {
		return nil, fmt.Errorf("setting %q: expected %T: %w", key, def, types.ErrValidation)
	}

	switch key {
	case KeyTimeMode:
		if !types.IsValidTimeMode(v.(string)) {
			return nil, fmt.Errorf("%q: %w", v, types.ErrInvalidTimeMode)
		}
	case KeyMaxAttributeLength, KeyMaxNameLength, KeyMaxDescriptionLength, KeyMaxListItems:
		if v.(int) < 0 {
			return nil, fmt.Errorf("setting %q must not be negative: %w", key, types.ErrValidation)
		}
	}
	return v, nil
}

// decodeAs unmarshals raw into the dynamic type of def.
func decodeAs(def any, raw json.RawMessage) (any, error) {
	switch def.(type) {
	case int:
		var n int
		err := json.Unmarshal(raw, &n)
		return n, err
	case bool:
		var b bool
		err := json.Unmarshal(raw, &b)
		return b, err
	case string:
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	default:
		var v any
		err := json.Unmarshal(raw, &v)
		return v, err
	}
}

// ParseValue converts command-line text into a value for key. String
// settings take the text as-is; other settings parse it as JSON.
func ParseValue(key, text string) (any, error) {
	def, ok := defaults[key]
	if !ok {
		return nil, fmt.Errorf("setting %q: %w", key, types.ErrValidation)
	}
	if _, isString := def.(string); isString {
		return text, nil
	}
	v, err := decodeAs(def, json.RawMessage(text))
	if err != nil {
		return nil, fmt.Errorf("setting %q: cannot parse %q as %T: %w", key, text, def, types.ErrValidation)
	}
	return v, nil
}
