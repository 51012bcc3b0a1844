package eventbus

import "time"

// Event types published by remindd components.
const (
	ReminderCreated   = "reminder.created"
	ReminderOffset    = "reminder.offset"
	ReminderCancelled = "reminder.cancelled"
	ContentFallback   = "content.fallback"
	TriggerFired      = "trigger.fired"
	DeliverySent      = "delivery.sent"
	DeliveryFailed    = "delivery.failed"
)

// Offset outcomes carried by OffsetEvent.Outcome.
const (
	OutcomeArmed    = "armed"
	OutcomeSkipped  = "skipped"
	OutcomeAdopted  = "adopted"
	OutcomeConflict = "conflict"
	OutcomeFailed   = "failed"
)

type ReminderEvent struct {
	TaskID     string
	Status     string
	Registered int
}

type OffsetEvent struct {
	TaskID  string
	Offset  string
	Outcome string
}

type DeliveryEvent struct {
	Trigger  string
	Sink     string
	Attempts int
	Duration time.Duration
	Err      string
}

type ContentEvent struct {
	Provider string
	Reason   string
}
