package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupProfile(t *testing.T) {
	tests := []struct {
		name      string
		want      string
		attitude  bool
		storyTime bool
	}{
		{ProfileFactOnly, ProfileFactOnly, false, false},
		{ProfileFactPlusAttitude, ProfileFactPlusAttitude, true, false},
		{ProfileEventTimeline, ProfileEventTimeline, false, true},
		{ProfileKnowledgeDef, ProfileKnowledgeDef, false, false},
		{"UNKNOWN", ProfileFactOnly, false, false},
		{"", ProfileFactOnly, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := LookupProfile(tt.name)
			assert.Equal(t, tt.want, p.Name)
			assert.Equal(t, tt.attitude, p.IncludeAttitude)
			assert.Equal(t, tt.storyTime, p.IncludeStoryTime)
			assert.NotEmpty(t, p.SystemPrompt)
		})
	}
	assert.Len(t, ProfileNames(), 4)
}

func TestFlags(t *testing.T) {
	dev := NewFlags("dev")
	assert.Equal(t, BuildProfileDev, dev.Profile)
	assert.True(t, dev.Enabled(FlagDebugLogging))
	assert.True(t, dev.Enabled(FlagMemoryExtraction))

	rel := NewFlags(BuildProfileRelease)
	assert.False(t, rel.Enabled(FlagDebugLogging))
	assert.False(t, rel.Enabled(FlagEmbedding))
	assert.True(t, rel.Enabled(FlagTokenCounting))
	assert.False(t, rel.Enabled("NOT_A_FLAG"))
	assert.Len(t, rel.All(), 10)
}

func TestFlagsFromEnv(t *testing.T) {
	t.Setenv(BuildProfileEnv, "release")
	assert.Equal(t, BuildProfileRelease, NewFlags("").Profile)

	t.Setenv(BuildProfileEnv, "")
	assert.Equal(t, BuildProfileDev, NewFlags("").Profile)
}
