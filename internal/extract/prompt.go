package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/memorykit/internal/gateway"
	"github.com/mesh-intelligence/memorykit/internal/settings"
	"github.com/mesh-intelligence/memorykit/pkg/types"
)

const outputContract = `Respond with a single JSON object and nothing else:
{"objects":[{"type":"<type key>","name":"<entity name>","attributes":{"<attribute key>":"<text or list of strings>"},"storyTime":"<in-story time if known>","attitude":"<attitude if requested>"}]}
Report each entity once. Omit attributes you have no information for. Return {"objects":[]} when nothing is found.`

// SystemPrompt describes the analysis profile, every object type with its
// attributes, rules and effective limits, and the output contract.
func (e *Extractor) SystemPrompt(ctx context.Context, profile settings.Profile, objectTypes []*types.ObjectType) (string, error) {
	var sb strings.Builder
	sb.WriteString(profile.SystemPrompt)
	sb.WriteString("\n\nObject types:\n")
	for _, ot := range objectTypes {
		fmt.Fprintf(&sb, "\n- %s", ot.Key)
		if ot.Description != "" {
			fmt.Fprintf(&sb, ": %s", ot.Description)
		}
		sb.WriteString("\n")
		for _, a := range ot.Attributes {
			limit, err := e.schema.EffectiveLimit(ctx, a)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&sb, "  - %s (%s", a.Key, strings.ToLower(a.ValueKind))
			if a.Required {
				sb.WriteString(", required")
			}
			switch {
			case limit.Unlimited:
			case a.IsList():
				fmt.Fprintf(&sb, ", at most %d items", limit.Max)
				if a.MaxItemLength > 0 {
					fmt.Fprintf(&sb, " of %d characters", a.MaxItemLength)
				}
			default:
				fmt.Fprintf(&sb, ", at most %d characters", limit.Max)
			}
			sb.WriteString(")")
			for _, r := range a.Rules {
				fmt.Fprintf(&sb, " %s.", strings.TrimSuffix(r.Text, "."))
			}
			sb.WriteString("\n")
		}
	}
	if profile.IncludeStoryTime {
		sb.WriteString("\nSet storyTime as YYYY-MM-DD, HH:mm when the story states when something happened.\n")
	}
	if profile.IncludeAttitude {
		sb.WriteString("\nSet attitude to a short description of how the characters feel about the entity.\n")
	}
	sb.WriteString("\n")
	sb.WriteString(outputContract)
	return sb.String(), nil
}

// UserPrompt lists the carryover messages as context and the new messages
// as the text to analyze.
func UserPrompt(carryover, messages []gateway.Message) string {
	var sb strings.Builder
	if len(carryover) > 0 {
		sb.WriteString("Earlier messages, for context only. Do not extract from them:\n")
		writeMessages(&sb, carryover)
		sb.WriteString("\n")
	}
	sb.WriteString("Messages to analyze:\n")
	writeMessages(&sb, messages)
	return sb.String()
}

func writeMessages(sb *strings.Builder, msgs []gateway.Message) {
	for _, m := range msgs {
		if m.Text == "" {
			continue
		}
		if m.Name != "" {
			fmt.Fprintf(sb, "%s: %s\n", m.Name, m.Text)
		} else {
			sb.WriteString(m.Text)
			sb.WriteString("\n")
		}
	}
}
