// Package review applies and rejects diffs and reviews manually added
// values.
//
// Applying a diff touches the diff and several values without a shared
// transaction, so it is done in two phases. The diff is first stored as
// APPLIED with valuesWritten false, then each change is upserted as a
// CONFIRMED value under an id derived from the diff and attribute, and
// finally the diff is marked written. Recover finishes any diff left
// between the phases; replaying a change rewrites the same value id, so
// completing an apply twice has no further effect.
package review

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/memorykit/internal/logging"
	"github.com/mesh-intelligence/memorykit/internal/schema"
	"github.com/mesh-intelligence/memorykit/internal/settings"
	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// valueNamespace seeds the deterministic ids of values written by a diff.
var valueNamespace = uuid.MustParse("6f2a4c1e-9b3d-5e8f-a07c-1d2e3f405162")

// ValueID is the id of the value a diff writes for attributeKey.
func ValueID(diffID, attributeKey string) string {
	return uuid.NewSHA1(valueNamespace, []byte(diffID+"|"+attributeKey)).String()
}

// Store is the persistence review needs.
type Store interface {
	GetDiff(ctx context.Context, id string) (*types.Diff, error)
	UpdateDiff(ctx context.Context, d *types.Diff) (string, error)
	GetDiffsByStatus(ctx context.Context, status string) ([]*types.Diff, error)
	GetDiffsNeedingRecovery(ctx context.Context) ([]*types.Diff, error)
	GetInstance(ctx context.Context, id string) (*types.Instance, error)
	GetObjectType(ctx context.Context, id string) (*types.ObjectType, error)
	AddValue(ctx context.Context, v *types.Value) (string, error)
	UpdateValue(ctx context.Context, v *types.Value) (string, error)
	GetValue(ctx context.Context, id string) (*types.Value, error)
	GetValuesByInstance(ctx context.Context, instanceID string) ([]*types.Value, error)
}

// Stamper builds the dual timestamps of written values.
type Stamper interface {
	Create(ctx context.Context, storyTime string, realTime time.Time) (types.Timestamp, error)
	Update(ctx context.Context, existing types.Timestamp, storyTime string, realTime time.Time) (types.Timestamp, error)
}

// Validator checks values against their templates and shortens them to
// fit.
type Validator interface {
	ValidateValue(ctx context.Context, tmpl types.AttributeTemplate, v *types.Value) (schema.ValueCheck, error)
	FitValue(ctx context.Context, tmpl types.AttributeTemplate, v *types.Value) (bool, error)
}

// AnalysisSource supplies the autoTruncateLongAttributes preference.
type AnalysisSource interface {
	AnalysisSettings(ctx context.Context) (settings.AnalysisSettings, error)
}

// Service reviews diffs and values.
type Service struct {
	store     Store
	stamper   Stamper
	validator Validator
	analysis  AnalysisSource
	audit     bool
	logger    *logging.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = logging.OrNop(l) }
}

// WithFlags enables audit logging of every review decision when
// CONSOLE_AUDIT is on.
func WithFlags(f settings.Flags) Option {
	return func(s *Service) { s.audit = f.Enabled(settings.FlagConsoleAudit) }
}

// WithAnalysis lets Apply shorten over-limit changes when
// autoTruncateLongAttributes is on. Without it they are refused.
func WithAnalysis(src AnalysisSource) Option {
	return func(s *Service) { s.analysis = src }
}

// New creates a Service.
func New(store Store, stamper Stamper, validator Validator, opts ...Option) *Service {
	s := &Service{store: store, stamper: stamper, validator: validator, logger: logging.Nop()}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "review")
	return s
}

// List returns the diffs with status, or every pending diff when status is
// empty.
func (s *Service) List(ctx context.Context, status string) ([]*types.Diff, error) {
	if status == "" {
		status = types.DiffStatusPending
	}
	if !types.IsValidDiffStatus(status) {
		return nil, fmt.Errorf("diff status %q: %w", status, types.ErrValidation)
	}
	return s.store.GetDiffsByStatus(ctx, status)
}

func (s *Service) loadDiff(ctx context.Context, id string) (*types.Diff, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	d, err := s.store.GetDiff(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("diff %s: %w", id, types.ErrNotFound)
	}
	return d, nil
}

// target resolves the instance and object type a diff writes to.
func (s *Service) target(ctx context.Context, d *types.Diff) (*types.Instance, *types.ObjectType, error) {
	in, err := s.store.GetInstance(ctx, d.InstanceID)
	if err != nil {
		return nil, nil, err
	}
	if in == nil {
		return nil, nil, fmt.Errorf("diff %s: instance %s: %w", d.ID, d.InstanceID, types.ErrNotFound)
	}
	ot, err := s.store.GetObjectType(ctx, in.TypeID)
	if err != nil {
		return nil, nil, err
	}
	if ot == nil {
		return nil, nil, fmt.Errorf("instance %s: object type %s: %w", in.ID, in.TypeID, types.ErrInvalidReference)
	}
	return in, ot, nil
}

// Apply confirms the changes of a pending diff as values. A diff whose
// earlier apply was interrupted is completed. Any other status returns
// ErrInvalidTransition.
//
// Changes of a pending diff are checked against the limits in force now.
// If any change fails, Apply returns ErrValidation and the diff stays
// PENDING with nothing written.
func (s *Service) Apply(ctx context.Context, id string) (*types.Diff, error) {
	d, err := s.loadDiff(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != types.DiffStatusPending && !d.NeedsRecovery() {
		return nil, fmt.Errorf("apply diff %s in status %s: %w", id, d.Status, types.ErrInvalidTransition)
	}
	in, ot, err := s.target(ctx, d)
	if err != nil {
		return nil, err
	}

	if d.Status == types.DiffStatusPending {
		if err := s.check(ctx, d, ot); err != nil {
			return nil, err
		}
		if err := d.MarkApplied(); err != nil {
			return nil, err
		}
		if _, err := s.store.UpdateDiff(ctx, d); err != nil {
			s.logger.Error("marking diff applied failed", "diff", id, "error", err)
			return nil, err
		}
	}
	if err := s.complete(ctx, d, in, ot); err != nil {
		return nil, err
	}
	if s.audit {
		s.logger.Info("diff applied", "diff", d.ID, "instance", in.Key, "changes", len(d.Changes))
	}
	return d, nil
}

// check validates every change of d against its template. With
// autoTruncateLongAttributes on, over-limit changes are shortened in d
// first so the stored diff carries what will be written.
func (s *Service) check(ctx context.Context, d *types.Diff, ot *types.ObjectType) error {
	truncate := false
	if s.analysis != nil {
		as, err := s.analysis.AnalysisSettings(ctx)
		if err != nil {
			return err
		}
		truncate = as.AutoTruncate
	}

	var problems []string
	for i := range d.Changes {
		c := &d.Changes[i]
		tmpl, ok := ot.Attribute(c.AttributeKey)
		if !ok {
			return fmt.Errorf("diff %s: attribute %q of %s: %w", d.ID, c.AttributeKey, ot.Key, types.ErrInvalidReference)
		}
		v := &types.Value{Kind: tmpl.ValueKind, Text: c.Text, Items: slices.Clone(c.Items)}
		res, err := s.validator.ValidateValue(ctx, *tmpl, v)
		if err != nil {
			return err
		}
		if !res.OK && truncate {
			if _, err := s.validator.FitValue(ctx, *tmpl, v); err != nil {
				return err
			}
			if res, err = s.validator.ValidateValue(ctx, *tmpl, v); err != nil {
				return err
			}
			c.Text, c.Items = v.Text, v.Items
		}
		if !res.OK {
			problems = append(problems, res.Problems...)
		}
	}
	if len(problems) > 0 {
		s.logger.Warn("diff refused", "diff", d.ID, "problems", problems)
		return fmt.Errorf("apply diff %s: %w: %s", d.ID, types.ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// complete writes the values of an APPLIED diff and marks it written.
func (s *Service) complete(ctx context.Context, d *types.Diff, in *types.Instance, ot *types.ObjectType) error {
	appliedAt := time.Now().UTC()
	if d.AppliedAt != nil {
		appliedAt = *d.AppliedAt
	}
	existing, err := s.store.GetValuesByInstance(ctx, in.ID)
	if err != nil {
		return err
	}

	for _, c := range d.Changes {
		tmpl, ok := ot.Attribute(c.AttributeKey)
		if !ok {
			return fmt.Errorf("diff %s: attribute %q of %s: %w", d.ID, c.AttributeKey, ot.Key, types.ErrInvalidReference)
		}
		vid := ValueID(d.ID, c.AttributeKey)
		if err := s.supersede(ctx, existing, tmpl.ID, vid); err != nil {
			return err
		}

		var prior *types.Value
		for _, v := range existing {
			if v.ID == vid {
				prior = v
				break
			}
		}
		var ts types.Timestamp
		if prior != nil {
			ts, err = s.stamper.Update(ctx, prior.Timestamp, c.StoryTime, appliedAt)
		} else {
			ts, err = s.stamper.Create(ctx, c.StoryTime, appliedAt)
		}
		if err != nil {
			return err
		}

		v := &types.Value{
			ID:           vid,
			InstanceID:   in.ID,
			TemplateID:   tmpl.ID,
			AttributeKey: tmpl.Key,
			Kind:         tmpl.ValueKind,
			Text:         c.Text,
			Items:        c.Items,
			Attitude:     c.Attitude,
			Status:       types.ValueStatusConfirmed,
			DiffID:       d.ID,
			Timestamp:    ts,
		}
		if _, err := s.store.UpdateValue(ctx, v); err != nil {
			s.logger.Error("writing value failed", "diff", d.ID, "attribute", c.AttributeKey, "error", err)
			return err
		}
	}

	if err := d.MarkWritten(); err != nil {
		return err
	}
	if _, err := s.store.UpdateDiff(ctx, d); err != nil {
		s.logger.Error("marking diff written failed", "diff", d.ID, "error", err)
		return err
	}
	return nil
}

// supersede retires the confirmed values of templateID other than keep.
func (s *Service) supersede(ctx context.Context, values []*types.Value, templateID, keep string) error {
	for _, v := range values {
		if v.TemplateID != templateID || v.ID == keep || v.Status != types.ValueStatusConfirmed {
			continue
		}
		if err := v.Supersede(); err != nil {
			return err
		}
		if _, err := s.store.UpdateValue(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// Reject discards a pending diff.
func (s *Service) Reject(ctx context.Context, id string) (*types.Diff, error) {
	d, err := s.loadDiff(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := d.Reject(); err != nil {
		return nil, fmt.Errorf("reject diff %s in status %s: %w", id, d.Status, err)
	}
	if _, err := s.store.UpdateDiff(ctx, d); err != nil {
		return nil, err
	}
	if s.audit {
		s.logger.Info("diff rejected", "diff", d.ID, "instance", d.InstanceID)
	}
	return d, nil
}

// Recover completes every diff left APPLIED without its values. It keeps
// going past failures and returns the number completed with the joined
// errors.
func (s *Service) Recover(ctx context.Context) (int, error) {
	stuck, err := s.store.GetDiffsNeedingRecovery(ctx)
	if err != nil {
		return 0, err
	}
	var (
		done int
		errs []error
	)
	for _, d := range stuck {
		in, ot, err := s.target(ctx, d)
		if err == nil {
			err = s.complete(ctx, d, in, ot)
		}
		if err != nil {
			s.logger.Error("diff recovery failed", "diff", d.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		done++
	}
	if done > 0 {
		s.logger.Info("diffs recovered", "count", done)
	}
	return done, errors.Join(errs...)
}

// ValueInput is a manually proposed value.
type ValueInput struct {
	InstanceID   string   `json:"instanceId"`
	AttributeKey string   `json:"attributeKey"`
	Text         string   `json:"text,omitempty"`
	Items        []string `json:"items,omitempty"`
	StoryTime    string   `json:"storyTime,omitempty"`
	Attitude     string   `json:"attitude,omitempty"`
}

// AddValue stores a PENDING value after checking it against its template.
// A value that fails the check returns ErrValidation with the problems.
func (s *Service) AddValue(ctx context.Context, in ValueInput) (*types.Value, error) {
	inst, err := s.store.GetInstance(ctx, in.InstanceID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("instance %s: %w", in.InstanceID, types.ErrNotFound)
	}
	ot, err := s.store.GetObjectType(ctx, inst.TypeID)
	if err != nil {
		return nil, err
	}
	if ot == nil {
		return nil, fmt.Errorf("object type %s: %w", inst.TypeID, types.ErrInvalidReference)
	}
	tmpl, ok := ot.Attribute(in.AttributeKey)
	if !ok {
		return nil, fmt.Errorf("attribute %q of %s: %w", in.AttributeKey, ot.Key, types.ErrNotFound)
	}

	v := &types.Value{
		InstanceID:   inst.ID,
		TemplateID:   tmpl.ID,
		AttributeKey: tmpl.Key,
		Kind:         tmpl.ValueKind,
		Attitude:     in.Attitude,
		Status:       types.ValueStatusPending,
	}
	if tmpl.IsList() {
		v.Items = in.Items
		if v.Items == nil && in.Text != "" {
			v.Items = []string{in.Text}
		}
	} else {
		v.Text = in.Text
	}
	check, err := s.validator.ValidateValue(ctx, *tmpl, v)
	if err != nil {
		return nil, err
	}
	if v.IsEmpty() {
		check.OK = false
		check.Problems = append(check.Problems, fmt.Sprintf("%s is empty", tmpl.Key))
	}
	if !check.OK {
		return nil, fmt.Errorf("%w: %v", types.ErrValidation, check.Problems)
	}
	if v.Timestamp, err = s.stamper.Create(ctx, in.StoryTime, time.Time{}); err != nil {
		return nil, err
	}
	if _, err := s.store.AddValue(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) loadValue(ctx context.Context, id string) (*types.Value, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	v, err := s.store.GetValue(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("value %s: %w", id, types.ErrNotFound)
	}
	return v, nil
}

// ConfirmValue accepts a pending value and supersedes the confirmed value
// it replaces.
func (s *Service) ConfirmValue(ctx context.Context, id string) (*types.Value, error) {
	v, err := s.loadValue(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := v.Confirm(); err != nil {
		return nil, fmt.Errorf("confirm value %s in status %s: %w", id, v.Status, err)
	}
	siblings, err := s.store.GetValuesByInstance(ctx, v.InstanceID)
	if err != nil {
		return nil, err
	}
	if err := s.supersede(ctx, siblings, v.TemplateID, v.ID); err != nil {
		return nil, err
	}
	if _, err := s.store.UpdateValue(ctx, v); err != nil {
		return nil, err
	}
	if s.audit {
		s.logger.Info("value confirmed", "value", v.ID, "attribute", v.AttributeKey)
	}
	return v, nil
}

// RejectValue discards a pending value.
func (s *Service) RejectValue(ctx context.Context, id string) (*types.Value, error) {
	v, err := s.loadValue(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := v.Reject(); err != nil {
		return nil, fmt.Errorf("reject value %s in status %s: %w", id, v.Status, err)
	}
	if _, err := s.store.UpdateValue(ctx, v); err != nil {
		return nil, err
	}
	if s.audit {
		s.logger.Info("value rejected", "value", v.ID, "attribute", v.AttributeKey)
	}
	return v, nil
}
