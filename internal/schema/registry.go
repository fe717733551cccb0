// Package schema is the registry of object types and their attribute
// templates. It seeds the built-in types, registers new ones, appends
// attributes without disturbing existing keys and checks values against
// their template's effective limits.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mesh-intelligence/memorykit/internal/logging"
	"github.com/mesh-intelligence/memorykit/internal/settings"
	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// Store is the persistence the registry needs.
type Store interface {
	SeedObjectTypes(ctx context.Context, objectTypes []*types.ObjectType, meta []*types.MetaEntry) (bool, error)
	AddObjectType(ctx context.Context, ot *types.ObjectType) (string, error)
	UpdateObjectType(ctx context.Context, ot *types.ObjectType) (string, error)
	GetObjectType(ctx context.Context, id string) (*types.ObjectType, error)
	GetObjectTypeByKey(ctx context.Context, key string) (*types.ObjectType, error)
	GetAllObjectTypes(ctx context.Context) ([]*types.ObjectType, error)
}

// Limits resolves the configured limit of an attribute class.
type Limits interface {
	ClassLimit(ctx context.Context, attributeType string) (settings.ClassLimit, error)
}

// Registry exposes the object types held in a Store.
type Registry struct {
	store  Store
	limits Limits
	logger *logging.Logger
}

// New creates a Registry.
func New(store Store, limits Limits, logger *logging.Logger) *Registry {
	return &Registry{store: store, limits: limits, logger: logging.OrNop(logger).With("component", "schema")}
}

// SeedDefaultSchema stores the built-in types and the seeding meta entries
// unless any object type already exists. It reports whether it seeded.
func (r *Registry) SeedDefaultSchema(ctx context.Context) (bool, error) {
	now, err := json.Marshal(time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, err
	}
	meta := []*types.MetaEntry{
		{Key: types.MetaSchemaSeeded, Value: json.RawMessage(`true`), Type: types.MetaTypeSystem},
		{Key: types.MetaSchemaVersion, Value: json.RawMessage(fmt.Sprint(SeedVersion)), Type: types.MetaTypeSystem},
		{Key: types.MetaLastSeeded, Value: now, Type: types.MetaTypeSystem},
	}
	seeded, err := r.store.SeedObjectTypes(ctx, DefaultObjectTypes(), meta)
	if err != nil {
		r.logger.Error("seeding default schema failed", "error", err)
		return false, err
	}
	if seeded {
		r.logger.Info("default schema seeded")
	} else {
		r.logger.Debug("schema already seeded")
	}
	return seeded, nil
}

// Types returns every object type in storage order.
func (r *Registry) Types(ctx context.Context) ([]*types.ObjectType, error) {
	return r.store.GetAllObjectTypes(ctx)
}

// Type returns the object type with key, or ErrNotFound.
func (r *Registry) Type(ctx context.Context, key string) (*types.ObjectType, error) {
	ot, err := r.store.GetObjectTypeByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if ot == nil {
		return nil, fmt.Errorf("object type %q: %w", key, types.ErrNotFound)
	}
	return ot, nil
}

// TypeByID returns the object type with id, or ErrNotFound.
func (r *Registry) TypeByID(ctx context.Context, id string) (*types.ObjectType, error) {
	ot, err := r.store.GetObjectType(ctx, id)
	if err != nil {
		return nil, err
	}
	if ot == nil {
		return nil, fmt.Errorf("object type %s: %w", id, types.ErrNotFound)
	}
	return ot, nil
}

// Register stores a new object type. Its key must be unused.
func (r *Registry) Register(ctx context.Context, ot *types.ObjectType) (string, error) {
	if ot.DefaultSharing.Type == "" {
		ot.DefaultSharing = types.Sharing{Type: types.SharingGlobal, Characters: []string{}}
	}
	id, err := r.store.AddObjectType(ctx, ot)
	if err != nil {
		return "", err
	}
	r.logger.Info("object type registered", "key", ot.Key, "id", id)
	return id, nil
}

// AppendAttributes adds templates to the type with typeKey. Existing
// attribute keys and ids never change; a reused key returns
// ErrDuplicateKey and nothing is stored.
func (r *Registry) AppendAttributes(ctx context.Context, typeKey string, attrs ...types.AttributeTemplate) (*types.ObjectType, error) {
	ot, err := r.Type(ctx, typeKey)
	if err != nil {
		return nil, err
	}
	for i := range attrs {
		if attrs[i].ValueKind == "" {
			attrs[i].ValueKind = types.ValueKindScalar
		}
	}
	if err := ot.AppendAttributes(attrs...); err != nil {
		return nil, err
	}
	if _, err := r.store.UpdateObjectType(ctx, ot); err != nil {
		return nil, err
	}
	return ot, nil
}

// ClassFor maps a template to the settings attribute class that bounds it.
func ClassFor(tmpl types.AttributeTemplate) string {
	switch {
	case tmpl.IsList():
		return settings.ClassList
	case tmpl.Key == settings.ClassName:
		return settings.ClassName
	case tmpl.Key == settings.ClassDescription:
		return settings.ClassDescription
	default:
		return tmpl.Key
	}
}

// EffectiveLimit resolves the bound for a template: characters for SCALAR
// templates and items for LIST templates. An unlimited class bypasses the
// template's own limit; otherwise the smaller positive limit wins.
func (r *Registry) EffectiveLimit(ctx context.Context, tmpl types.AttributeTemplate) (settings.ClassLimit, error) {
	limit, err := r.limits.ClassLimit(ctx, ClassFor(tmpl))
	if err != nil {
		return settings.ClassLimit{}, err
	}
	if limit.Unlimited {
		return limit, nil
	}
	own := tmpl.MaxLength
	if tmpl.IsList() {
		own = tmpl.MaxItems
	}
	if own > 0 && own < limit.Max {
		limit.Max = own
	}
	return limit, nil
}

// ValueCheck is the outcome of ValidateValue.
type ValueCheck struct {
	Verdict  settings.LengthVerdict `json:"verdict"`
	Problems []string               `json:"problems,omitempty"`
	OK       bool                   `json:"ok"`
}

// ValidateValue checks v against tmpl: required attributes must not be
// empty, the length must be within the effective limit and list items
// within maxItemLength. Failures are reported in the result, not as an
// error.
func (r *Registry) ValidateValue(ctx context.Context, tmpl types.AttributeTemplate, v *types.Value) (ValueCheck, error) {
	limit, err := r.EffectiveLimit(ctx, tmpl)
	if err != nil {
		return ValueCheck{}, err
	}
	check := ValueCheck{Verdict: settings.Evaluate(v.Length(), limit)}
	if tmpl.Required && v.IsEmpty() {
		check.Problems = append(check.Problems, fmt.Sprintf("%s is required", tmpl.Key))
	}
	if check.Verdict.IsOverLimit {
		check.Problems = append(check.Problems,
			fmt.Sprintf("%s is %d long, limit %d", tmpl.Key, check.Verdict.CurrentLength, check.Verdict.MaxLength))
	}
	if tmpl.IsList() && tmpl.MaxItemLength > 0 && !limit.Unlimited {
		for i, item := range v.Items {
			if n := utf8.RuneCountInString(item); n > tmpl.MaxItemLength {
				check.Problems = append(check.Problems,
					fmt.Sprintf("%s item %d is %d long, limit %d", tmpl.Key, i, n, tmpl.MaxItemLength))
			}
		}
	}
	check.OK = len(check.Problems) == 0
	return check, nil
}

// FitValue shortens v in place so it satisfies the effective limit of tmpl.
// Scalar text is cut with a trailing ellipsis that counts toward the
// limit; lists keep their first items and each item is cut to
// maxItemLength. It reports whether anything changed.
func (r *Registry) FitValue(ctx context.Context, tmpl types.AttributeTemplate, v *types.Value) (bool, error) {
	limit, err := r.EffectiveLimit(ctx, tmpl)
	if err != nil {
		return false, err
	}
	if limit.Unlimited {
		return false, nil
	}
	changed := false
	if tmpl.IsList() {
		if len(v.Items) > limit.Max {
			v.Items = v.Items[:limit.Max]
			changed = true
		}
		if tmpl.MaxItemLength > 0 {
			for i, item := range v.Items {
				if cut := fitText(item, tmpl.MaxItemLength); cut != item {
					v.Items[i] = cut
					changed = true
				}
			}
		}
		return changed, nil
	}
	if cut := fitText(v.Text, limit.Max); cut != v.Text {
		v.Text = cut
		changed = true
	}
	return changed, nil
}

// fitText cuts s to at most limit characters, ending in an ellipsis when
// there is room for one.
func fitText(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	marker := utf8.RuneCountInString(settings.Ellipsis)
	if limit <= marker {
		return settings.Truncate(s, limit, false)
	}
	return settings.Truncate(s, limit-marker, true)
}
