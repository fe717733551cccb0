package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// Object is one entity reported by the model.
type Object struct {
	Type       string                     `json:"type"`
	Name       string                     `json:"name"`
	Attributes map[string]json.RawMessage `json:"attributes"`
	StoryTime  string                     `json:"storyTime,omitempty"`
	Attitude   string                     `json:"attitude,omitempty"`
}

type response struct {
	Objects []Object `json:"objects"`
}

// ParseResponse decodes the model output. Thinking blocks and markdown code
// fences around the JSON object are ignored. Output without a JSON object
// returns ErrInvalidData.
func ParseResponse(text string) ([]Object, error) {
	s := text
	if start := strings.Index(s, "<thinking>"); start != -1 {
		if end := strings.Index(s, "</thinking>"); end > start {
			s = s[:start] + s[end+len("</thinking>"):]
		}
	}
	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end < start {
		return nil, fmt.Errorf("model output has no JSON object: %w", types.ErrInvalidData)
	}

	var resp response
	if err := json.Unmarshal([]byte(s[start:end+1]), &resp); err != nil {
		return nil, fmt.Errorf("decoding model output: %w: %w", types.ErrInvalidData, err)
	}
	return resp.Objects, nil
}

// decodeAttribute turns a reported attribute into text or items. Strings,
// numbers and booleans become text; arrays become items with empty entries
// removed. Anything else reports false.
func decodeAttribute(raw json.RawMessage) (text string, items []string, ok bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", nil, false
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), nil, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil, true
	case bool:
		return strconv.FormatBool(x), nil, true
	case []any:
		for _, it := range x {
			t, _, ok := decodeAttribute(mustMarshal(it))
			if ok && t != "" {
				items = append(items, t)
			}
		}
		return "", items, true
	}
	return "", nil, false
}

func mustMarshal(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// NormalizeName lowercases name and collapses runs of whitespace.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// InstanceKey is the key an entity of typeKey named name is stored under.
func InstanceKey(typeKey, name string) string {
	return typeKey + ":" + NormalizeName(name)
}
