package settings

import (
	"os"
	"strings"
)

// Build profiles.
const (
	BuildProfileDev     = "DEV"
	BuildProfileRelease = "RELEASE"
)

// BuildProfileEnv selects the build profile when no config value is set.
const BuildProfileEnv = "MEMORYKIT_BUILD_PROFILE"

// Feature flag names.
const (
	FlagEmbedding             = "EMBEDDING"
	FlagBackgroundQueue       = "BG_QUEUE"
	FlagStrictMerge           = "WORLDINFO_MERGE_STRICT"
	FlagBulkAudit             = "AUDIT_BULK"
	FlagDebugLogging          = "DEBUG_LOGGING"
	FlagConsoleAudit          = "CONSOLE_AUDIT"
	FlagPerformanceMonitoring = "PERFORMANCE_MONITORING"
	FlagMemoryExtraction      = "MEMORY_EXTRACTION"
	FlagTokenCounting         = "TOKEN_COUNTING"
	FlagBasicRetrieval        = "BASIC_RETRIEVAL"
)

var devOnlyFlags = []string{
	FlagEmbedding,
	FlagBackgroundQueue,
	FlagStrictMerge,
	FlagBulkAudit,
	FlagDebugLogging,
	FlagConsoleAudit,
	FlagPerformanceMonitoring,
}

var alwaysOnFlags = []string{
	FlagMemoryExtraction,
	FlagTokenCounting,
	FlagBasicRetrieval,
}

// Flags is the set of features enabled for a build profile.
type Flags struct {
	Profile string
	enabled map[string]bool
}

// NewFlags returns the flags for profile. An empty profile reads
// MEMORYKIT_BUILD_PROFILE and defaults to DEV.
func NewFlags(profile string) Flags {
	if profile == "" {
		profile = os.Getenv(BuildProfileEnv)
	}
	profile = strings.ToUpper(strings.TrimSpace(profile))
	if profile == "" {
		profile = BuildProfileDev
	}

	f := Flags{Profile: profile, enabled: make(map[string]bool)}
	for _, name := range alwaysOnFlags {
		f.enabled[name] = true
	}
	for _, name := range devOnlyFlags {
		f.enabled[name] = profile == BuildProfileDev
	}
	return f
}

// Enabled reports whether the named feature is on. Unknown names are off.
func (f Flags) Enabled(name string) bool {
	return f.enabled[name]
}

// All returns a copy of every flag and its state.
func (f Flags) All() map[string]bool {
	out := make(map[string]bool, len(f.enabled))
	for k, v := range f.enabled {
		out[k] = v
	}
	return out
}
