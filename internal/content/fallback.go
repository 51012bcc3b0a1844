package content

import (
	"fmt"
	"strings"
	"time"
)

const timeLayout = "Mon, 02 Jan 2006 15:04 MST"

// Fallback renders the fixed reminder template. It does no I/O and never fails.
func Fallback(req Request, loc *time.Location) string {
	name := strings.TrimSpace(req.RecipientName)
	if name == "" {
		name = "there"
	}
	task := strings.TrimSpace(req.TaskDescription)
	if task == "" {
		task = "your scheduled task"
	}
	label := strings.TrimSpace(req.OffsetLabel)
	if label == "" {
		label = "Upcoming"
	}
	return fmt.Sprintf("Hi %s, reminder (%s): %s is scheduled for %s.", name, label, task, formatTime(req.TargetAt, loc))
}

// BuildPrompt asks for a short plain-text reminder carrying every request field.
func BuildPrompt(req Request, loc *time.Location) Prompt {
	name := strings.TrimSpace(req.RecipientName)
	if name == "" {
		name = "the recipient"
	}
	return Prompt{
		System: "You write short, warm, actionable reminder messages. " +
			"Reply with the message text only: no markup, no quotes, at most 160 characters.",
		User: fmt.Sprintf(
			"Recipient: %s\nTask: %s\nScheduled time: %s\nReminder: %s\n"+
				"Write one reminder that names the recipient, restates the task, gives the scheduled time and says it is the %q reminder.",
			name, strings.TrimSpace(req.TaskDescription), formatTime(req.TargetAt, loc), req.OffsetLabel, req.OffsetLabel,
		),
	}
}

func formatTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "the scheduled time"
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(timeLayout)
}
