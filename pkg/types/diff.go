package types

import "time"

// Diff statuses.
const (
	DiffStatusPending  = "PENDING"
	DiffStatusApplied  = "APPLIED"
	DiffStatusRejected = "REJECTED"
)

// IsValidDiffStatus reports whether s is a recognized diff status.
func IsValidDiffStatus(s string) bool {
	switch s {
	case DiffStatusPending, DiffStatusApplied, DiffStatusRejected:
		return true
	}
	return false
}

// FieldDelta is the proposed content of one attribute.
type FieldDelta struct {
	AttributeKey string   `json:"attributeKey"`
	TemplateID   string   `json:"templateId"`
	Kind         string   `json:"kind"`
	Text         string   `json:"text,omitempty"`
	Items        []string `json:"items,omitempty"`
	StoryTime    string   `json:"storyTime,omitempty"`
	Attitude     string   `json:"attitude,omitempty"`
	Truncated    bool     `json:"truncated,omitempty"`
}

// Diff is a reviewable change set for one Instance, produced per extraction
// batch. Applying a diff happens in two phases: the status moves to APPLIED
// with ValuesWritten false, the values are written, and ValuesWritten is set.
// An APPLIED diff with ValuesWritten false is completed by recovery.
type Diff struct {
	ID            string       `json:"id"`
	InstanceID    string       `json:"instanceId"`
	ChatID        string       `json:"chatId,omitempty"`
	Status        string       `json:"status"`
	CreatedAt     time.Time    `json:"createdAt"`
	Changes       []FieldDelta `json:"changes"`
	Profile       string       `json:"profile,omitempty"`
	BatchFrom     int          `json:"batchFrom"`
	BatchTo       int          `json:"batchTo"`
	AppliedAt     *time.Time   `json:"appliedAt,omitempty"`
	ValuesWritten bool         `json:"valuesWritten"`
}

// MarkApplied starts the apply of a pending diff. A diff already APPLIED
// but not yet written is accepted so an interrupted apply can resume.
func (d *Diff) MarkApplied() error {
	switch {
	case d.Status == DiffStatusPending:
		now := time.Now().UTC()
		d.Status = DiffStatusApplied
		d.AppliedAt = &now
		d.ValuesWritten = false
		return nil
	case d.Status == DiffStatusApplied && !d.ValuesWritten:
		return nil
	default:
		return ErrInvalidTransition
	}
}

// MarkWritten completes the apply once all values are stored.
func (d *Diff) MarkWritten() error {
	if d.Status != DiffStatusApplied {
		return ErrInvalidTransition
	}
	d.ValuesWritten = true
	return nil
}

// Reject discards a pending diff.
func (d *Diff) Reject() error {
	if d.Status != DiffStatusPending {
		return ErrInvalidTransition
	}
	d.Status = DiffStatusRejected
	return nil
}

// NeedsRecovery reports whether the diff was applied but its values were
// never confirmed as written.
func (d *Diff) NeedsRecovery() bool {
	return d.Status == DiffStatusApplied && !d.ValuesWritten
}
