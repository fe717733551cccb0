package types

import "time"

// Time ordering modes.
const (
	TimeModeReal   = "real"
	TimeModeStory  = "story"
	TimeModeHybrid = "hybrid"
)

// IsValidTimeMode reports whether mode is one of the TimeMode constants.
func IsValidTimeMode(mode string) bool {
	switch mode {
	case TimeModeReal, TimeModeStory, TimeModeHybrid:
		return true
	}
	return false
}

// RealTime is the wall-clock half of a Timestamp.
type RealTime struct {
	Timestamp string `json:"timestamp"` // RFC 3339 instant in UTC.
	Unix      int64  `json:"unix"`      // Epoch milliseconds.
	Formatted string `json:"formatted"`
}

// Time returns the instant as a time.Time.
func (r RealTime) Time() time.Time {
	return time.UnixMilli(r.Unix).UTC()
}

// ParsedStoryTime holds the calendar fields of an in-fiction time. Original
// is set only when parsing failed.
type ParsedStoryTime struct {
	Year     int    `json:"year,omitempty"`
	Month    int    `json:"month,omitempty"`
	Day      int    `json:"day,omitempty"`
	Hour     int    `json:"hour"`
	Minute   int    `json:"minute"`
	IsValid  bool   `json:"isValid"`
	Original string `json:"original,omitempty"`
}

// Time returns the story time as a UTC instant. Only meaningful when IsValid.
func (p ParsedStoryTime) Time() time.Time {
	return time.Date(p.Year, time.Month(p.Month), p.Day, p.Hour, p.Minute, 0, 0, time.UTC)
}

// StoryTime is the optional in-fiction half of a Timestamp.
type StoryTime struct {
	Timestamp string          `json:"timestamp"` // Raw text as extracted.
	Parsed    ParsedStoryTime `json:"parsed"`
	Formatted string          `json:"formatted"`
}

// Timestamp attaches wall-clock and in-fiction time to a stored fact.
type Timestamp struct {
	RealTime  RealTime   `json:"realTime"`
	StoryTime *StoryTime `json:"storyTime"`
	Mode      string     `json:"mode"`
	CreatedAt string     `json:"createdAt"`
	UpdatedAt string     `json:"updatedAt"`
}

// HasValidStoryTime reports whether the story time is present and parsed.
func (t Timestamp) HasValidStoryTime() bool {
	return t.StoryTime != nil && t.StoryTime.Parsed.IsValid
}
