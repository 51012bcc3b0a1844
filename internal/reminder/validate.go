package reminder

import (
	"strings"
	"time"
)

// ReasonPastTarget is the rejection reason for a target that is not strictly in the future.
const ReasonPastTarget = "schedule target in the past"

// MaxTargetYear is the last calendar year a target may fall in.
const MaxTargetYear = 9999

// CreateRequest is the input of Service.Create.
type CreateRequest struct {
	OwnerID          string
	ContextID        string
	RecipientName    string
	RecipientContact string
	TaskLabel        string
	TaskDescription  string
	TargetAt         time.Time
	Offsets          []OffsetKind
}

// Validated is a request that passed Validate, with trimmed fields and normalized offsets.
type Validated struct {
	CreateRequest
}

func Validate(req CreateRequest, now time.Time) (Validated, error) {
	if req.TargetAt.IsZero() {
		return Validated{}, &ValidationError{Field: "target_at", Reason: "required"}
	}
	if !req.TargetAt.After(now) {
		return Validated{}, &ValidationError{Field: "target_at", Reason: ReasonPastTarget}
	}
	if req.TargetAt.UTC().Year() > MaxTargetYear {
		return Validated{}, &ValidationError{Field: "target_at", Reason: "target beyond year 9999"}
	}
	req.RecipientContact = strings.TrimSpace(req.RecipientContact)
	if req.RecipientContact == "" {
		return Validated{}, &ValidationError{Field: "recipient_contact", Reason: "required"}
	}
	req.TaskDescription = strings.TrimSpace(req.TaskDescription)
	if req.TaskDescription == "" {
		return Validated{}, &ValidationError{Field: "task_description", Reason: "required"}
	}
	if len(req.Offsets) == 0 {
		return Validated{}, &ValidationError{Field: "offsets", Reason: "at least one offset is required"}
	}
	for _, k := range req.Offsets {
		if !k.Valid() {
			return Validated{}, &ValidationError{Field: "offsets", Reason: "unknown offset " + k.String()}
		}
	}
	req.Offsets = NormalizeOffsets(req.Offsets)
	req.RecipientName = strings.TrimSpace(req.RecipientName)
	req.TaskLabel = strings.TrimSpace(req.TaskLabel)
	return Validated{CreateRequest: req}, nil
}
