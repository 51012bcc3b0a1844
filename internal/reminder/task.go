package reminder

import (
	"time"

	"remindd/internal/trigger"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusScheduled Status = "scheduled"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusScheduled, StatusSent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ScheduledTask is one reminder request and the triggers armed for it.
//
// Invariants kept by Service:
//   - Status == StatusScheduled iff len(TriggerHandles) > 0 (for records it writes at creation)
//   - len(TriggerHandles) <= len(Offsets), no duplicates
//   - TargetAt never changes after insert
type ScheduledTask struct {
	ID               string           `json:"id"`
	OwnerID          string           `json:"owner_id"`
	ContextID        string           `json:"context_id"`
	RecipientName    string           `json:"recipient_name,omitempty"`
	RecipientContact string           `json:"recipient_contact"`
	TaskLabel        string           `json:"task_label,omitempty"`
	TaskDescription  string           `json:"task_description"`
	TargetAt         time.Time        `json:"target_at"`
	Offsets          []OffsetKind     `json:"offsets"`
	TriggerHandles   []trigger.Handle `json:"trigger_handles"`
	Status           Status           `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Clone returns a deep copy so callers can't mutate store-owned slices.
func (t *ScheduledTask) Clone() *ScheduledTask {
	if t == nil {
		return nil
	}
	c := *t
	c.Offsets = append([]OffsetKind(nil), t.Offsets...)
	c.TriggerHandles = append([]trigger.Handle(nil), t.TriggerHandles...)
	return &c
}

// TaskUpdate is the full set of mutable fields. Update writes all of them.
type TaskUpdate struct {
	Handles   []trigger.Handle
	Status    Status
	UpdatedAt time.Time
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	OwnerID   string
	ContextID string
	Status    Status
	Limit     int
}

func (f Filter) Match(t *ScheduledTask) bool {
	if t == nil {
		return false
	}
	if f.OwnerID != "" && t.OwnerID != f.OwnerID {
		return false
	}
	if f.ContextID != "" && t.ContextID != f.ContextID {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	return true
}
