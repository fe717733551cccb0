package schema

import "github.com/mesh-intelligence/memorykit/pkg/types"

// SeedVersion is recorded in meta when the built-in types are seeded.
const SeedVersion = 1

// Built-in object type keys.
const (
	TypePerson   = "person"
	TypeLocation = "location"
	TypeEvent    = "event"
)

func scalar(key, label string, maxLength int, required, storyTime bool, rule string) types.AttributeTemplate {
	return types.AttributeTemplate{
		Key:              key,
		Label:            label,
		ValueKind:        types.ValueKindScalar,
		Required:         required,
		MaxLength:        maxLength,
		IncludeStoryTime: storyTime,
		Rules:            []types.Rule{{Text: rule}},
	}
}

func list(key, label string, maxItems, maxItemLength int, rule string) types.AttributeTemplate {
	return types.AttributeTemplate{
		Key:           key,
		Label:         label,
		ValueKind:     types.ValueKindList,
		MaxItems:      maxItems,
		MaxItemLength: maxItemLength,
		Rules:         []types.Rule{{Text: rule}},
	}
}

func perCharacter() types.Sharing {
	return types.Sharing{Type: types.SharingPerCharacter, Characters: []string{}}
}

// DefaultObjectTypes returns fresh copies of the built-in person, location
// and event types. Identifiers are assigned when they are stored.
func DefaultObjectTypes() []*types.ObjectType {
	return []*types.ObjectType{
		{
			Key:         TypePerson,
			Label:       "Person",
			Description: "Individual characters or people",
			Attributes: []types.AttributeTemplate{
				scalar("name", "Name", 100, true, false, "Store the full name as it appears in the story"),
				scalar("description", "Description", 300, false, false, "Store physical appearance and basic characteristics"),
				list("relationships", "Relationships", 10, 100, "Store relationships with other characters"),
			},
			DefaultSharing: perCharacter(),
		},
		{
			Key:         TypeLocation,
			Label:       "Location",
			Description: "Places, buildings, or geographical areas",
			Attributes: []types.AttributeTemplate{
				scalar("name", "Name", 100, true, false, "Store the canonical name of the location"),
				scalar("description", "Description", 300, false, false, "Store physical description and notable features"),
				scalar("type", "Type", 50, false, false, "Store the type of location (city, building, room, etc.)"),
			},
			DefaultSharing: perCharacter(),
		},
		{
			Key:         TypeEvent,
			Label:       "Event",
			Description: "Significant events or occurrences",
			Attributes: []types.AttributeTemplate{
				scalar("title", "Title", 150, true, true, "Store a brief title describing the event"),
				scalar("description", "Description", 500, false, true, "Store what happened in the event"),
				list("participants", "Participants", 10, 100, "Store who was involved in the event"),
				scalar("location", "Location", 100, false, false, "Store where the event took place"),
			},
			DefaultSharing: perCharacter(),
		},
	}
}
