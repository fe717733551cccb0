// Package extract turns a batch of chat messages into pending diffs. The
// model is prompted with the analysis profile and the schema, its JSON
// answer is mapped onto object types, instances are created on first
// mention and every field is checked against its effective limit before it
// is proposed.
package extract

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/mesh-intelligence/memorykit/internal/fetcher"
	"github.com/mesh-intelligence/memorykit/internal/gateway"
	"github.com/mesh-intelligence/memorykit/internal/logging"
	"github.com/mesh-intelligence/memorykit/internal/schema"
	"github.com/mesh-intelligence/memorykit/internal/settings"
	"github.com/mesh-intelligence/memorykit/internal/timestamp"
	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// Sender performs the generation request.
type Sender interface {
	Send(ctx context.Context, req gateway.SendRequest) (gateway.SendResponse, error)
}

// Schema is the part of the schema registry extraction uses.
type Schema interface {
	Types(ctx context.Context) ([]*types.ObjectType, error)
	EffectiveLimit(ctx context.Context, tmpl types.AttributeTemplate) (settings.ClassLimit, error)
	ValidateValue(ctx context.Context, tmpl types.AttributeTemplate, v *types.Value) (schema.ValueCheck, error)
	FitValue(ctx context.Context, tmpl types.AttributeTemplate, v *types.Value) (bool, error)
}

// Store persists instances and diffs.
type Store interface {
	GetInstanceByKey(ctx context.Context, key string) (*types.Instance, error)
	AddInstance(ctx context.Context, in *types.Instance) (string, error)
	UpdateInstance(ctx context.Context, in *types.Instance) (string, error)
	AddDiff(ctx context.Context, d *types.Diff) (string, error)
}

// Analysis supplies the extraction preferences.
type Analysis interface {
	AnalysisSettings(ctx context.Context) (settings.AnalysisSettings, error)
}

// Request is one extraction pass.
type Request struct {
	ChatID   string
	Scope    types.Scope
	Context  []gateway.Message // carryover, shown to the model but not extracted
	Messages []gateway.Message
	From     int
	To       int
	Profile  string    // empty uses the configured default
	At       time.Time // creation time of the diffs; now when zero
}

// RequestFromBatch builds a Request for a fetched batch.
func RequestFromBatch(b *fetcher.Batch, scope types.Scope) Request {
	return Request{
		ChatID:   b.ChatID,
		Scope:    scope,
		Context:  b.CarryoverMessages,
		Messages: b.NewMessages,
		From:     b.From,
		To:       b.To,
	}
}

// Dropped records a reported field or object that was not proposed.
type Dropped struct {
	Type      string `json:"type"`
	Name      string `json:"name,omitempty"`
	Attribute string `json:"attribute,omitempty"`
	Reason    string `json:"reason"`
}

// Result summarizes an extraction pass.
type Result struct {
	Profile          string            `json:"profile"`
	Objects          int               `json:"objects"`
	Diffs            []*types.Diff     `json:"diffs"`
	CreatedInstances []*types.Instance `json:"createdInstances"`
	Dropped          []Dropped         `json:"dropped"`
}

// Extractor runs extraction passes.
type Extractor struct {
	sender   Sender
	schema   Schema
	store    Store
	analysis Analysis
	audit    bool
	logger   *logging.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Extractor) { e.logger = logging.OrNop(l) }
}

// WithFlags enables the audit log line when CONSOLE_AUDIT is on.
func WithFlags(f settings.Flags) Option {
	return func(e *Extractor) { e.audit = f.Enabled(settings.FlagConsoleAudit) }
}

// New creates an Extractor.
func New(sender Sender, sch Schema, store Store, analysis Analysis, opts ...Option) *Extractor {
	e := &Extractor{sender: sender, schema: sch, store: store, analysis: analysis, logger: logging.Nop()}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.With("component", "extract")
	return e
}

// draft collects the changes for one instance within a pass.
type draft struct {
	instance *types.Instance
	changes  []types.FieldDelta
}

func (d *draft) set(delta types.FieldDelta) {
	for i := range d.changes {
		if d.changes[i].AttributeKey == delta.AttributeKey {
			d.changes[i] = delta
			return
		}
	}
	d.changes = append(d.changes, delta)
}

// Extract prompts the model with req and stores one PENDING diff per
// mentioned instance. A request without message text does nothing.
func (e *Extractor) Extract(ctx context.Context, req Request) (*Result, error) {
	text := fetcher.JoinText(req.Messages)
	as, err := e.analysis.AnalysisSettings(ctx)
	if err != nil {
		return nil, err
	}
	name := req.Profile
	if name == "" {
		name = as.DefaultProfile
	}
	profile := settings.LookupProfile(name)
	res := &Result{Profile: profile.Name, Diffs: []*types.Diff{}, CreatedInstances: []*types.Instance{}, Dropped: []Dropped{}}
	if strings.TrimSpace(text) == "" {
		return res, nil
	}

	objectTypes, err := e.schema.Types(ctx)
	if err != nil {
		return nil, err
	}
	system, err := e.SystemPrompt(ctx, profile, objectTypes)
	if err != nil {
		return nil, err
	}
	resp, err := e.sender.Send(ctx, gateway.SendRequest{
		System:      system,
		Prompt:      UserPrompt(req.Context, req.Messages),
		Temperature: profile.Temperature,
	})
	if err != nil {
		e.logger.Error("generation request failed", "chat", req.ChatID, "error", err)
		return nil, err
	}
	objects, err := ParseResponse(resp.Text)
	if err != nil {
		e.logger.Warn("unparseable model output", "chat", req.ChatID, "error", err)
		return nil, err
	}
	res.Objects = len(objects)

	byKey := make(map[string]*types.ObjectType, len(objectTypes))
	for _, ot := range objectTypes {
		byKey[ot.Key] = ot
	}
	drafts := make(map[string]*draft)
	var order []string

	for _, obj := range objects {
		ot := byKey[strings.ToLower(strings.TrimSpace(obj.Type))]
		if ot == nil {
			res.Dropped = append(res.Dropped, Dropped{Type: obj.Type, Name: obj.Name, Reason: "unknown object type"})
			continue
		}
		attrs := maps.Clone(obj.Attributes)
		if attrs == nil {
			attrs = make(map[string]json.RawMessage)
		}
		entity := entityName(obj, attrs)
		if NormalizeName(entity) == "" {
			res.Dropped = append(res.Dropped, Dropped{Type: ot.Key, Reason: "missing name"})
			continue
		}
		for _, k := range nameKeys {
			if _, ok := ot.Attribute(k); ok {
				if _, set := attrs[k]; !set {
					attrs[k] = mustMarshal(strings.TrimSpace(entity))
				}
				break
			}
		}

		key := InstanceKey(ot.Key, entity)
		d := drafts[key]
		if d == nil {
			in, created, err := e.instanceFor(ctx, ot, key, entity, req.Scope)
			if err != nil {
				return nil, err
			}
			if created {
				res.CreatedInstances = append(res.CreatedInstances, in)
			}
			d = &draft{instance: in}
			drafts[key] = d
			order = append(order, key)
		}

		for _, tmpl := range ot.Attributes {
			raw, ok := attrs[tmpl.Key]
			if !ok {
				continue
			}
			delta, reason, err := e.fieldDelta(ctx, tmpl, raw, obj, profile, as, text)
			if err != nil {
				return nil, err
			}
			if reason != "" {
				res.Dropped = append(res.Dropped, Dropped{Type: ot.Key, Name: entity, Attribute: tmpl.Key, Reason: reason})
				continue
			}
			d.set(delta)
		}
		for _, k := range slices.Sorted(maps.Keys(attrs)) {
			if _, ok := ot.Attribute(k); !ok {
				res.Dropped = append(res.Dropped, Dropped{Type: ot.Key, Name: entity, Attribute: k, Reason: "unknown attribute"})
			}
		}
	}

	for _, key := range order {
		d := drafts[key]
		if len(d.changes) == 0 {
			continue
		}
		diff := &types.Diff{
			InstanceID: d.instance.ID,
			ChatID:     req.ChatID,
			Status:     types.DiffStatusPending,
			Changes:    d.changes,
			Profile:    profile.Name,
			BatchFrom:  req.From,
			BatchTo:    req.To,
			CreatedAt:  req.At,
		}
		if _, err := e.store.AddDiff(ctx, diff); err != nil {
			e.logger.Error("storing diff failed", "instance", key, "error", err)
			return nil, err
		}
		res.Diffs = append(res.Diffs, diff)
	}

	if e.audit {
		e.logger.Info("extraction audit",
			"chat", req.ChatID, "profile", profile.Name, "from", req.From, "to", req.To,
			"objects", res.Objects, "diffs", len(res.Diffs), "created", len(res.CreatedInstances), "dropped", len(res.Dropped))
	}
	return res, nil
}

// nameKeys are the attributes that carry an entity's name.
var nameKeys = []string{"name", "title"}

// entityName is the reported name, or the name or title attribute.
func entityName(obj Object, attrs map[string]json.RawMessage) string {
	if strings.TrimSpace(obj.Name) != "" {
		return obj.Name
	}
	for _, k := range nameKeys {
		if raw, ok := attrs[k]; ok {
			if text, _, ok := decodeAttribute(raw); ok && text != "" {
				return text
			}
		}
	}
	return ""
}

// instanceFor returns the instance stored under key, creating it in scope
// on first mention. An existing character-scoped instance is widened to the
// request's characters.
func (e *Extractor) instanceFor(ctx context.Context, ot *types.ObjectType, key, name string, scope types.Scope) (*types.Instance, bool, error) {
	in, err := e.store.GetInstanceByKey(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if in != nil {
		if in.Scope.Type == types.ScopeCharacter && scope.Type == types.ScopeCharacter {
			widened := false
			for _, id := range scope.IDs {
				if !slices.Contains(in.Scope.IDs, id) {
					in.Scope.IDs = append(in.Scope.IDs, id)
					widened = true
				}
			}
			if widened {
				if _, err := e.store.UpdateInstance(ctx, in); err != nil {
					return nil, false, err
				}
			}
		}
		return in, false, nil
	}

	if scope.Type == "" {
		scope = types.GlobalScope()
	}
	in = &types.Instance{Key: key, TypeID: ot.ID, Name: strings.TrimSpace(name), Scope: scope}
	if _, err := e.store.AddInstance(ctx, in); err != nil {
		e.logger.Error("creating instance failed", "key", key, "error", err)
		return nil, false, err
	}
	e.logger.Debug("instance created", "key", key, "id", in.ID)
	return in, true, nil
}

// fieldDelta builds the proposed change for one attribute. A non-empty
// reason means the field is not proposed.
func (e *Extractor) fieldDelta(ctx context.Context, tmpl types.AttributeTemplate, raw json.RawMessage, obj Object, profile settings.Profile, as settings.AnalysisSettings, batchText string) (types.FieldDelta, string, error) {
	text, items, ok := decodeAttribute(raw)
	if !ok {
		return types.FieldDelta{}, "unsupported value", nil
	}
	v := &types.Value{Kind: tmpl.ValueKind}
	if tmpl.IsList() {
		if items == nil && text != "" {
			items = []string{text}
		}
		v.Items = items
	} else {
		if items != nil {
			text = strings.Join(items, "; ")
		}
		v.Text = text
	}
	if v.IsEmpty() {
		return types.FieldDelta{}, "empty value", nil
	}

	check, err := e.schema.ValidateValue(ctx, tmpl, v)
	if err != nil {
		return types.FieldDelta{}, "", err
	}
	truncated := false
	if !check.OK && as.AutoTruncate {
		if truncated, err = e.schema.FitValue(ctx, tmpl, v); err != nil {
			return types.FieldDelta{}, "", err
		}
		if check, err = e.schema.ValidateValue(ctx, tmpl, v); err != nil {
			return types.FieldDelta{}, "", err
		}
	}
	if !check.OK {
		reason := strings.Join(check.Problems, "; ")
		if as.WarnOnLong {
			e.logger.Warn("attribute dropped", "attribute", tmpl.Key, "reason", reason)
		}
		return types.FieldDelta{}, reason, nil
	}

	delta := types.FieldDelta{
		AttributeKey: tmpl.Key,
		TemplateID:   tmpl.ID,
		Kind:         tmpl.ValueKind,
		Text:         v.Text,
		Items:        v.Items,
		Truncated:    truncated,
	}
	if profile.IncludeStoryTime || tmpl.IncludeStoryTime {
		delta.StoryTime = strings.TrimSpace(obj.StoryTime)
		if delta.StoryTime == "" {
			delta.StoryTime = timestamp.ExtractStoryTime(batchText)
		}
	}
	if profile.IncludeAttitude || tmpl.IncludeAttitude {
		delta.Attitude = strings.TrimSpace(obj.Attitude)
	}
	return delta, "", nil
}
