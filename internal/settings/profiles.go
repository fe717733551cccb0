package settings

import (
	"maps"
	"slices"
)

// Analysis profile names.
const (
	ProfileFactOnly         = "FACT_ONLY"
	ProfileFactPlusAttitude = "FACT_PLUS_ATTITUDE"
	ProfileEventTimeline    = "EVENT_TIMELINE"
	ProfileKnowledgeDef     = "KNOWLEDGE_DEF"
)

// DefaultProfile is used when no profile is configured or the configured
// one is unknown.
const DefaultProfile = ProfileFactOnly

// Profile controls how extraction prompts the model.
type Profile struct {
	Name             string  `json:"name"`
	Description      string  `json:"description"`
	IncludeAttitude  bool    `json:"includeAttitude"`
	IncludeStoryTime bool    `json:"includeStoryTime"`
	Temperature      float64 `json:"temperature"`
	SystemPrompt     string  `json:"systemPrompt"`
}

var profiles = map[string]Profile{
	ProfileFactOnly: {
		Name:         ProfileFactOnly,
		Description:  "Extract only factual information without moods or attitudes",
		Temperature:  0.1,
		SystemPrompt: "Extract only factual information. Do not include emotions, moods, or attitudes.",
	},
	ProfileFactPlusAttitude: {
		Name:            ProfileFactPlusAttitude,
		Description:     "Extract facts plus attitude snapshots for events",
		IncludeAttitude: true,
		Temperature:     0.3,
		SystemPrompt:    "Extract factual information. For events, also capture attitude snapshots.",
	},
	ProfileEventTimeline: {
		Name:             ProfileEventTimeline,
		Description:      "Extract events with timeline information",
		IncludeStoryTime: true,
		Temperature:      0.2,
		SystemPrompt:     "Extract events with timeline information. Include story time when available.",
	},
	ProfileKnowledgeDef: {
		Name:         ProfileKnowledgeDef,
		Description:  "Extract knowledge definitions without emotions",
		Temperature:  0.1,
		SystemPrompt: "Extract knowledge definitions and factual information. Exclude emotions and attitudes.",
	},
}

// LookupProfile returns the named profile, falling back to the default.
func LookupProfile(name string) Profile {
	if p, ok := profiles[name]; ok {
		return p
	}
	return profiles[DefaultProfile]
}

// ProfileNames lists the available profiles in sorted order.
func ProfileNames() []string {
	return slices.Sorted(maps.Keys(profiles))
}
