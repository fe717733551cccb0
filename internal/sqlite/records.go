package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// collectionSpec maps a collection onto its SQLite table. Every table has a
// primary key column, a list of extracted columns backing the secondary
// indexes, and a data column holding the JSON record.
type collectionSpec struct {
	name    string            // Collection name (e.g. "values").
	table   string            // SQLite table name.
	keyCol  string            // Primary key column.
	columns []string          // Extracted columns, in encodeRecord order.
	indexes map[string]string // Index name -> column.
	unique  []string          // Extracted columns carrying a UNIQUE constraint.
	file    string            // Snapshot file name.
}

// collectionSpecs lists the collections in dependency order: referenced
// collections come before the collections that reference them.
var collectionSpecs = []collectionSpec{
	{
		name:    types.ObjectTypesCollection,
		table:   "object_types",
		keyCol:  "id",
		columns: []string{"type_key"},
		indexes: map[string]string{types.IndexKey: "type_key"},
		unique:  []string{"type_key"},
		file:    "object_types.jsonl",
	},
	{
		name:    types.InstancesCollection,
		table:   "instances",
		keyCol:  "id",
		columns: []string{"instance_key", "type_id", "scope_type"},
		indexes: map[string]string{
			types.IndexKey:   "instance_key",
			types.IndexType:  "type_id",
			types.IndexScope: "scope_type",
		},
		unique: []string{"instance_key"},
		file:   "instances.jsonl",
	},
	{
		name:    types.ValuesCollection,
		table:   "attribute_values",
		keyCol:  "id",
		columns: []string{"instance_id", "template_id", "status"},
		indexes: map[string]string{
			types.IndexInstance: "instance_id",
			types.IndexTemplate: "template_id",
			types.IndexStatus:   "status",
		},
		file: "values.jsonl",
	},
	{
		name:    types.DiffsCollection,
		table:   "diffs",
		keyCol:  "id",
		columns: []string{"instance_id", "status", "created_at", "values_written"},
		indexes: map[string]string{
			types.IndexInstance:  "instance_id",
			types.IndexStatus:    "status",
			types.IndexCreatedAt: "created_at",
		},
		file: "diffs.jsonl",
	},
	{
		name:   types.SettingsCollection,
		table:  "settings",
		keyCol: "setting_key",
		file:   "settings.jsonl",
	},
	{
		name:    types.MetaCollection,
		table:   "meta",
		keyCol:  "meta_key",
		columns: []string{"meta_type"},
		indexes: map[string]string{types.IndexType: "meta_type"},
		file:    "meta.jsonl",
	},
}

// specByName returns the spec for a collection name.
func specByName(name string) (collectionSpec, bool) {
	for _, s := range collectionSpecs {
		if s.name == name {
			return s, true
		}
	}
	return collectionSpec{}, false
}

// encodedRecord is a record ready to be written: its primary key, the
// extracted column values (in spec order) and the JSON document.
type encodedRecord struct {
	key    string
	values []any
	data   []byte
}

// newUUID generates a UUID v7 string.
func newUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// sortableTime is RFC 3339 with fixed-width fractional seconds so indexed
// timestamps sort lexically.
const sortableTime = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime renders a time for an indexed column.
func formatTime(t time.Time) string {
	return t.UTC().Format(sortableTime)
}

// encodeRecord validates a record for the named collection, fills generated
// fields (ID, timestamps, default status), and extracts its index columns.
// The record must be a pointer to the collection's entity struct.
func encodeRecord(collection string, record any) (encodedRecord, error) {
	now := time.Now().UTC()
	var enc encodedRecord

	switch collection {
	case types.ObjectTypesCollection:
		ot, ok := record.(*types.ObjectType)
		if !ok || ot == nil {
			return enc, types.ErrInvalidData
		}
		if err := ot.Validate(); err != nil {
			return enc, err
		}
		if ot.ID == "" {
			ot.ID = newUUID()
		}
		for i := range ot.Attributes {
			if ot.Attributes[i].ID == "" {
				ot.Attributes[i].ID = newUUID()
			}
		}
		if ot.CreatedAt.IsZero() {
			ot.CreatedAt = now
		}
		if ot.UpdatedAt.IsZero() {
			ot.UpdatedAt = ot.CreatedAt
		}
		enc.key = ot.ID
		enc.values = []any{ot.Key}

	case types.InstancesCollection:
		in, ok := record.(*types.Instance)
		if !ok || in == nil {
			return enc, types.ErrInvalidData
		}
		if in.Key == "" || in.TypeID == "" {
			return enc, fmt.Errorf("instance requires key and type: %w", types.ErrInvalidData)
		}
		if in.ID == "" {
			in.ID = newUUID()
		}
		if in.Scope.Type == "" {
			in.Scope.Type = types.ScopeGlobal
		}
		if in.CreatedAt.IsZero() {
			in.CreatedAt = now
		}
		in.UpdatedAt = now
		enc.key = in.ID
		enc.values = []any{in.Key, in.TypeID, in.Scope.Type}

	case types.ValuesCollection:
		v, ok := record.(*types.Value)
		if !ok || v == nil {
			return enc, types.ErrInvalidData
		}
		if v.InstanceID == "" || v.TemplateID == "" {
			return enc, fmt.Errorf("value requires instance and template: %w", types.ErrInvalidData)
		}
		if v.Status == "" {
			v.Status = types.ValueStatusPending
		}
		if !types.IsValidValueStatus(v.Status) {
			return enc, fmt.Errorf("value status %q: %w", v.Status, types.ErrInvalidData)
		}
		if v.Kind == "" {
			v.Kind = types.ValueKindScalar
		}
		if v.ID == "" {
			v.ID = newUUID()
		}
		enc.key = v.ID
		enc.values = []any{v.InstanceID, v.TemplateID, v.Status}

	case types.DiffsCollection:
		d, ok := record.(*types.Diff)
		if !ok || d == nil {
			return enc, types.ErrInvalidData
		}
		if d.InstanceID == "" {
			return enc, fmt.Errorf("diff requires instance: %w", types.ErrInvalidData)
		}
		if d.Status == "" {
			d.Status = types.DiffStatusPending
		}
		if !types.IsValidDiffStatus(d.Status) {
			return enc, fmt.Errorf("diff status %q: %w", d.Status, types.ErrInvalidData)
		}
		if d.ID == "" {
			d.ID = newUUID()
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		written := 0
		if d.ValuesWritten {
			written = 1
		}
		enc.key = d.ID
		enc.values = []any{d.InstanceID, d.Status, formatTime(d.CreatedAt), written}

	case types.SettingsCollection:
		s, ok := record.(*types.Setting)
		if !ok || s == nil {
			return enc, types.ErrInvalidData
		}
		if s.Key == "" {
			return enc, types.ErrInvalidID
		}
		if len(s.Value) == 0 {
			s.Value = json.RawMessage("null")
		}
		s.UpdatedAt = now
		enc.key = s.Key

	case types.MetaCollection:
		m, ok := record.(*types.MetaEntry)
		if !ok || m == nil {
			return enc, types.ErrInvalidData
		}
		if m.Key == "" {
			return enc, types.ErrInvalidID
		}
		if m.Type == "" {
			m.Type = types.MetaTypeGeneral
		}
		if len(m.Value) == 0 {
			m.Value = json.RawMessage("null")
		}
		m.UpdatedAt = now
		enc.key = m.Key
		enc.values = []any{m.Type}

	default:
		return enc, types.ErrCollectionNotFound
	}

	data, err := json.Marshal(record)
	if err != nil {
		return enc, fmt.Errorf("marshaling %s record: %w", collection, err)
	}
	enc.data = data
	return enc, nil
}

// newRecord returns an empty entity pointer for the named collection.
func newRecord(collection string) (any, error) {
	switch collection {
	case types.ObjectTypesCollection:
		return &types.ObjectType{}, nil
	case types.InstancesCollection:
		return &types.Instance{}, nil
	case types.ValuesCollection:
		return &types.Value{}, nil
	case types.DiffsCollection:
		return &types.Diff{}, nil
	case types.SettingsCollection:
		return &types.Setting{}, nil
	case types.MetaCollection:
		return &types.MetaEntry{}, nil
	default:
		return nil, types.ErrCollectionNotFound
	}
}

// decodeRecord unmarshals a stored JSON document for the named collection.
func decodeRecord(collection string, data []byte) (any, error) {
	rec, err := newRecord(collection)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decoding %s record: %w", collection, err)
	}
	return rec, nil
}
