// Package timestamp attaches dual timestamps (wall clock and in-fiction
// story time) to stored facts and orders them according to the configured
// time mode.
package timestamp

import (
	"cmp"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/mesh-intelligence/memorykit/internal/settings"
	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// Real time formats.
const (
	RealFormatISO    = "ISO"
	RealFormatLocale = "LOCALE"
	RealFormatDate   = "DATE"
	RealFormatTime   = "TIME"
)

// Story time formats.
const (
	StoryFormatDateTime = "YYYY-MM-DD, HH:mm"
	StoryFormatDate     = "YYYY-MM-DD"
	StoryFormatUS       = "MM/DD/YYYY"
)

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// storyPatterns match a whole story time string. Groups are year, month,
// day and optionally hour and minute.
var storyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2}),?\s*(\d{2}):(\d{2})$`),
	regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`),
	regexp.MustCompile(`^(\d{4})/(\d{2})/(\d{2}),?\s*(\d{2}):(\d{2})$`),
	regexp.MustCompile(`^(\d{4})/(\d{2})/(\d{2})$`),
}

// leadingPatterns find a story time at the start of message text.
var leadingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(\d{4}-\d{2}-\d{2},?\s*\d{2}:\d{2})`),
	regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})`),
	regexp.MustCompile(`^(\d{4}/\d{2}/\d{2},?\s*\d{2}:\d{2})`),
	regexp.MustCompile(`^(\d{4}/\d{2}/\d{2})`),
}

// ParseStoryTime parses the supported story time layouts. Text that does
// not match, or whose fields are out of calendar range, is returned with
// IsValid false and Original set.
func ParseStoryTime(raw string) types.ParsedStoryTime {
	for _, re := range storyPatterns {
		m := re.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		p := types.ParsedStoryTime{IsValid: true}
		p.Year, _ = strconv.Atoi(m[1])
		p.Month, _ = strconv.Atoi(m[2])
		p.Day, _ = strconv.Atoi(m[3])
		if len(m) > 5 {
			p.Hour, _ = strconv.Atoi(m[4])
			p.Minute, _ = strconv.Atoi(m[5])
		}
		if !inRange(p) {
			break
		}
		return p
	}
	return types.ParsedStoryTime{Original: raw}
}

func inRange(p types.ParsedStoryTime) bool {
	return p.Month >= 1 && p.Month <= 12 &&
		p.Day >= 1 && p.Day <= 31 &&
		p.Hour >= 0 && p.Hour <= 23 &&
		p.Minute >= 0 && p.Minute <= 59
}

// FormatStoryTime renders a story time in the given format. Unparseable
// input and unknown formats return raw unchanged.
func FormatStoryTime(raw, format string) string {
	p := ParseStoryTime(raw)
	if !p.IsValid {
		return raw
	}
	switch format {
	case StoryFormatDateTime:
		return fmt.Sprintf("%d-%02d-%02d, %02d:%02d", p.Year, p.Month, p.Day, p.Hour, p.Minute)
	case StoryFormatDate:
		return fmt.Sprintf("%d-%02d-%02d", p.Year, p.Month, p.Day)
	case StoryFormatUS:
		return fmt.Sprintf("%02d/%02d/%d", p.Month, p.Day, p.Year)
	default:
		return raw
	}
}

// FormatRealTime renders a wall-clock instant. Unknown formats use ISO.
func FormatRealTime(t time.Time, format string) string {
	switch format {
	case RealFormatLocale:
		return t.Local().Format("2006-01-02 15:04:05")
	case RealFormatDate:
		return t.Local().Format("2006-01-02")
	case RealFormatTime:
		return t.Local().Format("15:04:05")
	default:
		return t.UTC().Format(isoMillis)
	}
}

// ExtractStoryTime returns the story time written at the start of text,
// or "" when there is none.
func ExtractStoryTime(text string) string {
	for _, re := range leadingPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

// Compare orders two timestamps under mode. In story and hybrid modes the
// story times are compared when both are present and valid; in every other
// case the real times are compared. The result is negative, zero or
// positive like cmp.Compare.
func Compare(mode string, a, b types.Timestamp) int {
	if mode != types.TimeModeReal && a.HasValidStoryTime() && b.HasValidStoryTime() {
		return a.StoryTime.Parsed.Time().Compare(b.StoryTime.Parsed.Time())
	}
	return cmp.Compare(a.RealTime.Unix, b.RealTime.Unix)
}

// Primary returns the instant used to order ts under mode.
func Primary(mode string, ts types.Timestamp) time.Time {
	if mode != types.TimeModeReal && ts.HasValidStoryTime() {
		return ts.StoryTime.Parsed.Time()
	}
	return ts.RealTime.Time()
}

// ModeSource supplies the time presentation settings.
type ModeSource interface {
	TimeModeSettings(ctx context.Context) (settings.TimeModeSettings, error)
}

// Manager creates and compares timestamps using the current settings.
type Manager struct {
	settings ModeSource
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager reading modes and formats from src.
func NewManager(src ModeSource, opts ...Option) *Manager {
	m := &Manager{settings: src, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create builds a timestamp at realTime (now when zero) with an optional
// story time.
func (m *Manager) Create(ctx context.Context, storyTime string, realTime time.Time) (types.Timestamp, error) {
	cfg, err := m.settings.TimeModeSettings(ctx)
	if err != nil {
		return types.Timestamp{}, err
	}
	if realTime.IsZero() {
		realTime = m.now()
	}
	created := realTime.UTC().Format(isoMillis)
	return types.Timestamp{
		RealTime:  realStamp(realTime, cfg.RealFormat),
		StoryTime: storyStamp(storyTime, cfg.StoryFormat),
		Mode:      cfg.Mode,
		CreatedAt: created,
		UpdatedAt: created,
	}, nil
}

// CreateFromText builds a timestamp whose story time is extracted from the
// start of text.
func (m *Manager) CreateFromText(ctx context.Context, text string, realTime time.Time) (types.Timestamp, error) {
	return m.Create(ctx, ExtractStoryTime(text), realTime)
}

// Update refreshes the real time of existing and replaces its story time
// when storyTime is not empty. CreatedAt and Mode are kept.
func (m *Manager) Update(ctx context.Context, existing types.Timestamp, storyTime string, realTime time.Time) (types.Timestamp, error) {
	cfg, err := m.settings.TimeModeSettings(ctx)
	if err != nil {
		return types.Timestamp{}, err
	}
	if realTime.IsZero() {
		realTime = m.now()
	}
	out := existing
	out.RealTime = realStamp(realTime, cfg.RealFormat)
	if storyTime != "" {
		out.StoryTime = storyStamp(storyTime, cfg.StoryFormat)
	}
	out.UpdatedAt = realTime.UTC().Format(isoMillis)
	return out, nil
}

// Compare orders two timestamps under the configured mode.
func (m *Manager) Compare(ctx context.Context, a, b types.Timestamp) (int, error) {
	cfg, err := m.settings.TimeModeSettings(ctx)
	if err != nil {
		return 0, err
	}
	return Compare(cfg.Mode, a, b), nil
}

// Mode returns the configured ordering mode.
func (m *Manager) Mode(ctx context.Context) (string, error) {
	cfg, err := m.settings.TimeModeSettings(ctx)
	if err != nil {
		return "", err
	}
	return cfg.Mode, nil
}

func realStamp(t time.Time, format string) types.RealTime {
	return types.RealTime{
		Timestamp: t.UTC().Format(isoMillis),
		Unix:      t.UnixMilli(),
		Formatted: FormatRealTime(t, format),
	}
}

func storyStamp(raw, format string) *types.StoryTime {
	if raw == "" {
		return nil
	}
	return &types.StoryTime{
		Timestamp: raw,
		Parsed:    ParseStoryTime(raw),
		Formatted: FormatStoryTime(raw, format),
	}
}
