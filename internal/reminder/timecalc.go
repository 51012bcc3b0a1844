package reminder

import "time"

// TriggerTime is the instant an offset's reminder fires: target minus the offset duration.
func TriggerTime(target time.Time, k OffsetKind) time.Time {
	return target.Add(-k.Duration())
}

// IsPast reports whether t is strictly before now.
func IsPast(t, now time.Time) bool {
	return t.Before(now)
}
