package types

import (
	"encoding/json"
	"time"
)

// Meta entry types.
const (
	MetaTypeGeneral = "general"
	MetaTypeSystem  = "system"
)

// Well-known meta keys written by schema seeding.
const (
	MetaSchemaSeeded  = "schema_seeded"
	MetaSchemaVersion = "schema_version"
	MetaLastSeeded    = "last_seeded"
)

// Setting is one user configuration entry.
type Setting struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// MetaEntry is one store-internal bookkeeping entry.
type MetaEntry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Type      string          `json:"type"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
